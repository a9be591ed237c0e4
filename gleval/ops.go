package gleval

import (
	"github.com/chewxy/math32"
	"github.com/soypat/gsir/ir"
)

// construct applies GLSL constructor rules for primitive p: a single scalar fills
// a vector or the diagonal of a matrix, a single matrix is resized, and anything
// else is flattened component by component.
func construct(p ir.Prim, args []Value) Value {
	v := Value{Prim: p}
	s := p.Scalar()
	n := p.Components()
	if len(args) == 1 && !p.IsScalar() {
		a := args[0]
		switch {
		case a.Len() == 1 && p.IsMatrix():
			c := convert(a.comps[0], a.Prim.Scalar(), s)
			for j := 0; j < n; j++ {
				v.comps[j*n+j] = c
			}
			return v
		case a.Len() == 1:
			c := convert(a.comps[0], a.Prim.Scalar(), s)
			for k := 0; k < n; k++ {
				v.comps[k] = c
			}
			return v
		case p.IsMatrix() && a.Prim.IsMatrix():
			m := a.Prim.Components()
			for col := 0; col < n; col++ {
				for row := 0; row < n; row++ {
					switch {
					case col < m && row < m:
						v.comps[col*n+row] = a.comps[col*m+row]
					case col == row:
						v.comps[col*n+row] = one
					}
				}
			}
			return v
		}
	}
	k := 0
	for _, a := range args {
		for c := 0; c < a.Len() && k < p.Size(); c++ {
			v.comps[k] = convert(a.comps[c], a.Prim.Scalar(), s)
			k++
		}
	}
	return v
}

func swizzle(v Value, code ir.SwizzleCode) Value {
	out := Value{Prim: ir.VectorOf(v.Prim.Scalar(), code.Len())}
	for k := 0; k < code.Len(); k++ {
		out.comps[k] = v.comps[code.Component(k)]
	}
	return out
}

// component returns column k of a matrix or component k of a vector.
func component(v Value, k int) Value {
	if v.Prim.IsMatrix() {
		n := v.Prim.Components()
		col := Value{Prim: v.Prim.Column()}
		copy(col.comps[:n], v.comps[k*n:k*n+n])
		return col
	}
	return scalar(v.Prim.Scalar(), v.comps[k])
}

func setComponent(p *Value, k int, part Value) {
	if p.Prim.IsMatrix() {
		n := p.Prim.Components()
		copy(p.comps[k*n:k*n+n], part.comps[:n])
		return
	}
	p.comps[k] = part.comps[0]
}

// pick returns the component of v paired with component k of the result,
// broadcasting scalars.
func pick(v Value, k int) uint32 {
	if v.Len() == 1 {
		return v.comps[0]
	}
	return v.comps[k]
}

func unary(i ir.Index, op ir.Opcode, a Value) Value {
	out := Value{Prim: a.Prim}
	s := a.Prim.Scalar()
	for k := 0; k < a.Len(); k++ {
		x := a.comps[k]
		switch {
		case op == ir.OpNeg && s == ir.PrimFloat:
			out.comps[k] = math32.Float32bits(-math32.Float32frombits(x))
		case op == ir.OpNeg:
			out.comps[k] = uint32(-int32(x))
		case op == ir.OpNot:
			out.comps[k] = x ^ 1
		case op == ir.OpBitNot:
			out.comps[k] = ^x
		default:
			evalf(i, "unary operator %q", op)
		}
	}
	return out
}

func binary(i ir.Index, op ir.Opcode, a, b Value, res ir.Prim) Value {
	switch {
	case op == ir.OpEq:
		return Bool(a.Equal(b))
	case op == ir.OpNe:
		return Bool(!a.Equal(b))
	case op.IsComparison():
		ok := true
		for k := 0; k < a.Len(); k++ {
			ok = ok && compare(op, a.Prim.Scalar(), a.comps[k], b.comps[k])
		}
		return Bool(ok)
	case op == ir.OpAnd:
		return Bool(a.Bool(0) && b.Bool(0))
	case op == ir.OpOr:
		return Bool(a.Bool(0) || b.Bool(0))
	case op == ir.OpMul && (a.Prim.IsMatrix() && !b.Prim.IsScalar() || b.Prim.IsMatrix() && !a.Prim.IsScalar()):
		return linear(a, b, res)
	}
	out := Value{Prim: res}
	s := res.Scalar()
	for k := 0; k < res.Size(); k++ {
		out.comps[k] = arith(i, op, s, pick(a, k), pick(b, k))
	}
	return out
}

// linear multiplies column major matrices and vectors.
func linear(a, b Value, res ir.Prim) Value {
	out := Value{Prim: res}
	f := func(v Value, k int) float32 { return math32.Float32frombits(v.comps[k]) }
	switch {
	case a.Prim.IsMatrix() && b.Prim.IsMatrix():
		n := a.Prim.Components()
		for col := 0; col < n; col++ {
			for row := 0; row < n; row++ {
				var sum float32
				for k := 0; k < n; k++ {
					sum += f(a, k*n+row) * f(b, col*n+k)
				}
				out.comps[col*n+row] = math32.Float32bits(sum)
			}
		}
	case a.Prim.IsMatrix():
		n := a.Prim.Components()
		for row := 0; row < n; row++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += f(a, k*n+row) * f(b, k)
			}
			out.comps[row] = math32.Float32bits(sum)
		}
	default:
		n := b.Prim.Components()
		for col := 0; col < n; col++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += f(a, k) * f(b, col*n+k)
			}
			out.comps[col] = math32.Float32bits(sum)
		}
	}
	return out
}

func compare(op ir.Opcode, s ir.Prim, x, y uint32) bool {
	var lt, eq bool
	switch s {
	case ir.PrimFloat:
		fx, fy := math32.Float32frombits(x), math32.Float32frombits(y)
		lt, eq = fx < fy, fx == fy
	case ir.PrimInt:
		lt, eq = int32(x) < int32(y), x == y
	default:
		lt, eq = x < y, x == y
	}
	switch op {
	case ir.OpLt:
		return lt
	case ir.OpLe:
		return lt || eq
	case ir.OpGt:
		return !lt && !eq
	}
	return !lt // OpGe.
}

func arith(i ir.Index, op ir.Opcode, s ir.Prim, x, y uint32) uint32 {
	if s == ir.PrimFloat {
		fx, fy := math32.Float32frombits(x), math32.Float32frombits(y)
		var r float32
		switch op {
		case ir.OpAdd:
			r = fx + fy
		case ir.OpSub:
			r = fx - fy
		case ir.OpMul:
			r = fx * fy
		case ir.OpDiv:
			r = fx / fy
		case ir.OpMod:
			r = fx - fy*math32.Floor(fx/fy)
		default:
			evalf(i, "operator %q on float", op)
		}
		return math32.Float32bits(r)
	}
	switch op {
	case ir.OpAdd:
		return x + y
	case ir.OpSub:
		return x - y
	case ir.OpMul:
		return x * y
	case ir.OpBitAnd:
		return x & y
	case ir.OpBitOr:
		return x | y
	case ir.OpBitXor:
		return x ^ y
	case ir.OpShl:
		return x << (y & 31)
	case ir.OpDiv, ir.OpMod:
		if y == 0 {
			evalf(i, "integer division by zero")
		}
	}
	signed := s == ir.PrimInt
	switch {
	case op == ir.OpDiv && signed:
		return uint32(int32(x) / int32(y))
	case op == ir.OpDiv:
		return x / y
	case op == ir.OpMod && signed:
		return uint32(int32(x) % int32(y))
	case op == ir.OpMod:
		return x % y
	case op == ir.OpShr && signed:
		return uint32(int32(x) >> (y & 31))
	case op == ir.OpShr:
		return x >> (y & 31)
	}
	evalf(i, "operator %q on %s", op, s)
	return 0
}

func intrinsic(i ir.Index, fn ir.IntrinsicID, res ir.Prim, args []Value) Value {
	switch fn {
	case ir.IntrinsicDot:
		return Float(dot(args[0], args[1]))
	case ir.IntrinsicLength:
		return Float(math32.Sqrt(dot(args[0], args[0])))
	case ir.IntrinsicDistance:
		d := binary(i, ir.OpSub, args[0], args[1], args[0].Prim)
		return Float(math32.Sqrt(dot(d, d)))
	case ir.IntrinsicNormalize:
		l := Float(math32.Sqrt(dot(args[0], args[0])))
		return binary(i, ir.OpDiv, args[0], l, args[0].Prim)
	case ir.IntrinsicCross:
		a, b := args[0], args[1]
		return Vector(
			a.Float(1)*b.Float(2)-a.Float(2)*b.Float(1),
			a.Float(2)*b.Float(0)-a.Float(0)*b.Float(2),
			a.Float(0)*b.Float(1)-a.Float(1)*b.Float(0),
		)
	}
	out := Value{Prim: res}
	s := res.Scalar()
	var xs [3]uint32
	for k := 0; k < res.Size(); k++ {
		for j, a := range args {
			xs[j] = convert(pick(a, k), a.Prim.Scalar(), s)
		}
		if s == ir.PrimFloat {
			r := floatIntrinsic(i, fn, math32.Float32frombits(xs[0]), math32.Float32frombits(xs[1]), math32.Float32frombits(xs[2]))
			out.comps[k] = math32.Float32bits(r)
		} else {
			out.comps[k] = intIntrinsic(i, fn, s == ir.PrimInt, xs[0], xs[1], xs[2])
		}
	}
	return out
}

func dot(a, b Value) (sum float32) {
	for k := 0; k < a.Len(); k++ {
		sum += a.Float(k) * b.Float(k)
	}
	return sum
}

func floatIntrinsic(i ir.Index, fn ir.IntrinsicID, x, y, z float32) float32 {
	switch fn {
	case ir.IntrinsicSin:
		return math32.Sin(x)
	case ir.IntrinsicCos:
		return math32.Cos(x)
	case ir.IntrinsicTan:
		return math32.Tan(x)
	case ir.IntrinsicAsin:
		return math32.Asin(x)
	case ir.IntrinsicAcos:
		return math32.Acos(x)
	case ir.IntrinsicAtan:
		return math32.Atan(x)
	case ir.IntrinsicExp:
		return math32.Exp(x)
	case ir.IntrinsicLog:
		return math32.Log(x)
	case ir.IntrinsicExp2:
		return math32.Exp2(x)
	case ir.IntrinsicLog2:
		return math32.Log2(x)
	case ir.IntrinsicSqrt:
		return math32.Sqrt(x)
	case ir.IntrinsicInverseSqrt:
		return 1 / math32.Sqrt(x)
	case ir.IntrinsicAbs:
		return math32.Abs(x)
	case ir.IntrinsicSign:
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	case ir.IntrinsicFloor:
		return math32.Floor(x)
	case ir.IntrinsicCeil:
		return math32.Ceil(x)
	case ir.IntrinsicFract:
		return x - math32.Floor(x)
	case ir.IntrinsicPow:
		return math32.Pow(x, y)
	case ir.IntrinsicMin:
		return math32.Min(x, y)
	case ir.IntrinsicMax:
		return math32.Max(x, y)
	case ir.IntrinsicClamp:
		return math32.Min(math32.Max(x, y), z)
	case ir.IntrinsicMix:
		return x*(1-z) + y*z
	}
	evalf(i, "intrinsic %s on float", fn)
	return 0
}

func intIntrinsic(i ir.Index, fn ir.IntrinsicID, signed bool, x, y, z uint32) uint32 {
	less := func(a, b uint32) bool {
		if signed {
			return int32(a) < int32(b)
		}
		return a < b
	}
	switch fn {
	case ir.IntrinsicAbs:
		if signed && int32(x) < 0 {
			return uint32(-int32(x))
		}
		return x
	case ir.IntrinsicSign:
		switch {
		case signed && int32(x) < 0:
			return uint32(0xffffffff) // -1
		case x == 0:
			return 0
		}
		return 1
	case ir.IntrinsicMin:
		if less(y, x) {
			return y
		}
		return x
	case ir.IntrinsicMax:
		if less(x, y) {
			return y
		}
		return x
	case ir.IntrinsicClamp:
		if less(x, y) {
			return y
		} else if less(z, x) {
			return z
		}
		return x
	}
	evalf(i, "intrinsic %s on integers", fn)
	return 0
}
