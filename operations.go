package gsir

import (
	"github.com/soypat/gsir/ir"
)

// Add records x+y. Vector and matrix operands may be mixed with scalars of the same
// component type, which apply to every component.
func (b *Builder) Add(x, y Value) Value { return b.Op(ir.OpAdd, x, y) }
func (b *Builder) Sub(x, y Value) Value { return b.Op(ir.OpSub, x, y) }

// Mul records x*y. Matrix products with vectors and matrices follow linear algebra
// rules, everything else is component-wise.
func (b *Builder) Mul(x, y Value) Value { return b.Op(ir.OpMul, x, y) }
func (b *Builder) Div(x, y Value) Value { return b.Op(ir.OpDiv, x, y) }

// Mod records the remainder x%y. Float operands use GLSL's floored mod.
func (b *Builder) Mod(x, y Value) Value { return b.Op(ir.OpMod, x, y) }
func (b *Builder) Neg(x Value) Value    { return b.Op(ir.OpNeg, x) }

// Comparisons of scalars. Equality also compares vectors and structs as a whole.
func (b *Builder) Lt(x, y Value) Scalar { return b.compare(ir.OpLt, x, y) }
func (b *Builder) Le(x, y Value) Scalar { return b.compare(ir.OpLe, x, y) }
func (b *Builder) Gt(x, y Value) Scalar { return b.compare(ir.OpGt, x, y) }
func (b *Builder) Ge(x, y Value) Scalar { return b.compare(ir.OpGe, x, y) }
func (b *Builder) Eq(x, y Value) Scalar { return b.compare(ir.OpEq, x, y) }
func (b *Builder) Ne(x, y Value) Scalar { return b.compare(ir.OpNe, x, y) }

// Logical operators on bool scalars.
func (b *Builder) And(x, y Value) Scalar { return b.compare(ir.OpAnd, x, y) }
func (b *Builder) Or(x, y Value) Scalar  { return b.compare(ir.OpOr, x, y) }
func (b *Builder) Not(x Value) Scalar    { return b.compare(ir.OpNot, x) }

func (b *Builder) compare(op ir.Opcode, args ...Value) Scalar {
	v := b.Op(op, args...)
	if s, ok := v.(Scalar); ok {
		return s
	}
	return Scalar{v.base()}
}

// Op records operator op applied to args. Operand types are checked as the
// operation is recorded.
func (b *Builder) Op(op ir.Opcode, args ...Value) Value {
	return wrap(b.value(func() ir.Index { return b.e.Op(op, b.indices(args)...) }, args...))
}

// Convert records the conversion of v to primitive type p, as in float(i) or ivec2(v).
func (b *Builder) Convert(p ir.Prim, v Value) Value {
	return wrap(b.value(func() ir.Index {
		from := v.Type()
		if from.IsStruct() || from.Prim.Size() != p.Size() && !from.Prim.IsScalar() {
			b.fatalf(ir.ClassType, "cannot convert %s to %s", from, p)
		}
		return b.e.Construct(b.prim(p), ir.ConstructValue, v.Synthesize())
	}, v))
}

func (b *Builder) Sin(x Value) Value   { return b.Intrinsic(ir.IntrinsicSin, x) }
func (b *Builder) Cos(x Value) Value   { return b.Intrinsic(ir.IntrinsicCos, x) }
func (b *Builder) Tan(x Value) Value   { return b.Intrinsic(ir.IntrinsicTan, x) }
func (b *Builder) Exp(x Value) Value   { return b.Intrinsic(ir.IntrinsicExp, x) }
func (b *Builder) Log(x Value) Value   { return b.Intrinsic(ir.IntrinsicLog, x) }
func (b *Builder) Sqrt(x Value) Value  { return b.Intrinsic(ir.IntrinsicSqrt, x) }
func (b *Builder) Abs(x Value) Value   { return b.Intrinsic(ir.IntrinsicAbs, x) }
func (b *Builder) Floor(x Value) Value { return b.Intrinsic(ir.IntrinsicFloor, x) }
func (b *Builder) Fract(x Value) Value { return b.Intrinsic(ir.IntrinsicFract, x) }
func (b *Builder) Pow(x, y Value) Value {
	return b.Intrinsic(ir.IntrinsicPow, x, y)
}
func (b *Builder) Min(x, y Value) Value { return b.Intrinsic(ir.IntrinsicMin, x, y) }
func (b *Builder) Max(x, y Value) Value { return b.Intrinsic(ir.IntrinsicMax, x, y) }

// Clamp records min(max(x, lo), hi).
func (b *Builder) Clamp(x, lo, hi Value) Value { return b.Intrinsic(ir.IntrinsicClamp, x, lo, hi) }

// Mix records the linear interpolation x*(1-a) + y*a.
func (b *Builder) Mix(x, y, a Value) Value { return b.Intrinsic(ir.IntrinsicMix, x, y, a) }

func (b *Builder) Dot(x, y Vector) Scalar { return Scalar{b.Intrinsic(ir.IntrinsicDot, x, y).base()} }
func (b *Builder) Cross(x, y Vector) Vector {
	return Vector{b.Intrinsic(ir.IntrinsicCross, x, y).base()}
}
func (b *Builder) Length(x Vector) Scalar { return Scalar{b.Intrinsic(ir.IntrinsicLength, x).base()} }
func (b *Builder) Distance(x, y Vector) Scalar {
	return Scalar{b.Intrinsic(ir.IntrinsicDistance, x, y).base()}
}
func (b *Builder) Normalize(x Vector) Vector {
	return Vector{b.Intrinsic(ir.IntrinsicNormalize, x).base()}
}

// Intrinsic records a call to the GLSL built-in function fn. The result type is
// derived from the arguments. Built-in variables are recorded with their own
// methods, such as [Builder.GlobalInvocationID].
func (b *Builder) Intrinsic(fn ir.IntrinsicID, args ...Value) Value {
	return wrap(b.value(func() ir.Index {
		if fn.IsBuiltin() || fn.HasEffect() || fn == ir.IntrinsicTexture || fn == ir.IntrinsicImageLoad {
			b.fatalf(ir.ClassType, "intrinsic %s is not a function of values", fn)
		}
		if len(args) != fn.Arity() {
			b.fatalf(ir.ClassStructural, "intrinsic %s expects %d arguments, got %d", fn, fn.Arity(), len(args))
		}
		return b.e.Intrinsic(fn, b.prim(b.intrinsicResult(fn, args)), b.indices(args)...)
	}, args...))
}

// intrinsicResult returns the result type of fn applied to args.
func (b *Builder) intrinsicResult(fn ir.IntrinsicID, args []Value) ir.Prim {
	var prims [3]ir.Prim
	for i, a := range args {
		t := a.Type()
		if t.IsStruct() || t.Prim.IsMatrix() || t.Prim.IsOpaque() {
			b.fatalf(ir.ClassType, "%s argument %d has type %s", fn, i, t)
		}
		prims[i] = t.Prim
	}
	first := prims[0]
	intOK := fn == ir.IntrinsicAbs || fn == ir.IntrinsicSign || fn == ir.IntrinsicMin ||
		fn == ir.IntrinsicMax || fn == ir.IntrinsicClamp
	if !first.IsFloat() && !(intOK && (first.Scalar() == ir.PrimInt || first.Scalar() == ir.PrimUint)) {
		b.fatalf(ir.ClassType, "%s of %s", fn, first)
	}
	for i, p := range prims[1:len(args)] {
		if p.Scalar() != first.Scalar() || p != first && !p.IsScalar() {
			b.fatalf(ir.ClassType, "%s argument %d has type %s, want %s", fn, i+1, p, first)
		}
	}
	switch fn {
	case ir.IntrinsicDot, ir.IntrinsicLength, ir.IntrinsicDistance:
		return first.Scalar()
	case ir.IntrinsicCross:
		if first != ir.PrimVec3 || prims[1] != ir.PrimVec3 {
			b.fatalf(ir.ClassType, "cross of %s and %s", first, prims[1])
		}
	}
	return first
}
