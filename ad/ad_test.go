package ad_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/gsir/ad"
	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/gleval"
	"github.com/soypat/gsir/ir"
)

// unary records a function of one float parameter.
func unary(body func(e *ir.Emitter, f32, x ir.Index) ir.Index) *ir.Buffer {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, body(e, f32, x))
	return e.Pop()
}

// evalDual differentiates buf and evaluates it at x with a unit seed.
func evalDual(t *testing.T, buf *ir.Buffer, x float32, extra ...gleval.Value) (primal, deriv float32) {
	t.Helper()
	dbuf, err := ad.Differentiate(buf)
	if err != nil {
		t.Fatal(err)
	}
	args := append([]gleval.Value{gleval.Struct(gleval.Float(x), gleval.Float(1))}, extra...)
	v, err := gleval.Call(dbuf, args...)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsStruct() || len(v.Fields) != 2 {
		t.Fatalf("want dual result, got %s", v)
	}
	return v.Field(0).Float(0), v.Field(1).Float(0)
}

func TestDerivatives(t *testing.T) {
	const tol = 1e-4
	for _, test := range []struct {
		name        string
		body        func(e *ir.Emitter, f32, x ir.Index) ir.Index
		x           float32
		want, wantD float32
	}{
		{
			name: "square",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index { return e.Op(ir.OpMul, x, x) },
			x:    3, want: 9, wantD: 6,
		},
		{
			name: "sin",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index { return e.Intrinsic(ir.IntrinsicSin, f32, x) },
			x:    0, want: 0, wantD: 1,
		},
		{
			name: "quotient",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
				return e.Op(ir.OpDiv, e.Intrinsic(ir.IntrinsicExp, f32, x), x)
			},
			x:    2, want: math32.Exp(2) / 2, wantD: math32.Exp(2) / 4,
		},
		{
			name: "constant offset",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
				return e.Op(ir.OpSub, e.Float(10), e.Op(ir.OpMul, e.Float(3), x))
			},
			x:    1, want: 7, wantD: -3,
		},
		{
			name: "sqrt chain",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
				return e.Intrinsic(ir.IntrinsicSqrt, f32, e.Op(ir.OpMul, x, x))
			},
			x:    -2, want: 2, wantD: -1,
		},
		{
			name: "log2",
			body: func(e *ir.Emitter, f32, x ir.Index) ir.Index { return e.Intrinsic(ir.IntrinsicLog2, f32, x) },
			x:    4, want: 2, wantD: 1 / (4 * math.Ln2),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			primal, deriv := evalDual(t, unary(test.body), test.x)
			if math32.Abs(primal-test.want) > tol {
				t.Errorf("primal: want %v, got %v", test.want, primal)
			}
			if math32.Abs(deriv-test.wantD) > tol {
				t.Errorf("derivative: want %v, got %v", test.wantD, deriv)
			}
		})
	}
}

// A variable updated in a loop carries its derivative across iterations.
func TestLoopVariable(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	i32 := e.Prim(ir.PrimInt)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	acc := e.Construct(f32, ir.ConstructRef, e.Float(1))
	i := e.Construct(i32, ir.ConstructRef, e.Int(0))
	e.While(e.Op(ir.OpLt, e.Load(i), e.Int(3)))
	e.Store(acc, e.Op(ir.OpMul, e.Load(acc), x))
	e.Store(i, e.Op(ir.OpAdd, e.Load(i), e.Int(1)))
	e.End()
	e.Return(f32, e.Load(acc))

	primal, deriv := evalDual(t, buf, 2)
	if primal != 8 || deriv != 12 {
		t.Errorf("x³ at 2: want (8, 12), got (%v, %v)", primal, deriv)
	}
}

// Integer parameters are not differentiated and keep their type.
func TestMixedParameters(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	n := e.Qualifier(e.Prim(ir.PrimInt), ir.QualParameter, 1)
	e.Return(f32, e.Op(ir.OpMul, x, e.Construct(f32, ir.ConstructValue, n)))

	primal, deriv := evalDual(t, buf, 2, gleval.Int(3))
	if primal != 6 || deriv != 3 {
		t.Errorf("want (6, 3), got (%v, %v)", primal, deriv)
	}
}

// Results outside the float family are returned unchanged.
func TestNonDifferentiableResult(t *testing.T) {
	positive := ir.NewBuffer(0)
	e := ir.NewEmitter(positive)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(e.Prim(ir.PrimBool), e.Op(ir.OpGt, x, e.Float(0)))

	next := ir.NewBuffer(0)
	e = ir.NewEmitter(next)
	f32 = e.Prim(ir.PrimFloat)
	i32 := e.Prim(ir.PrimInt)
	e.Qualifier(f32, ir.QualParameter, 0)
	n := e.Qualifier(i32, ir.QualParameter, 1)
	e.Return(i32, e.Op(ir.OpAdd, n, e.Int(1)))

	for _, test := range []struct {
		name string
		buf  *ir.Buffer
		args []gleval.Value
		want gleval.Value
	}{
		{name: "bool", buf: positive, args: []gleval.Value{gleval.Float(-2)}, want: gleval.Bool(false)},
		{name: "int", buf: next, args: []gleval.Value{gleval.Float(0), gleval.Int(4)}, want: gleval.Int(5)},
	} {
		dbuf, err := ad.Differentiate(test.buf)
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		args := append([]gleval.Value{gleval.Struct(test.args[0], gleval.Float(1))}, test.args[1:]...)
		got, err := gleval.Call(dbuf, args...)
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
		} else if !got.Equal(test.want) {
			t.Errorf("%s: want %s, got %s", test.name, test.want, got)
		}
	}
}

func TestNoDerivativeRule(t *testing.T) {
	callee := ir.NewCallable("opaque", unary(func(e *ir.Emitter, f32, x ir.Index) ir.Index { return x }))
	defer callee.Unlink()
	for _, test := range []struct {
		name string
		body func(e *ir.Emitter, f32, x ir.Index) ir.Index
	}{
		{name: "floor", body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
			return e.Intrinsic(ir.IntrinsicFloor, f32, x)
		}},
		{name: "call", body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
			return e.Call(callee, f32, x)
		}},
		{name: "store to output", body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
			e.Store(e.Qualifier(f32, ir.QualOutput, 0), e.Op(ir.OpMul, x, x))
			return x
		}},
		{name: "modulo", body: func(e *ir.Emitter, f32, x ir.Index) ir.Index {
			return e.Op(ir.OpMod, x, e.Float(2))
		}},
	} {
		_, err := ad.Differentiate(unary(test.body))
		if !errors.Is(err, ir.ErrType) {
			t.Errorf("%s: want type error, got %v", test.name, err)
		}
	}
}

func TestDifferentiateCallable(t *testing.T) {
	square := ir.NewCallable("square", unary(func(e *ir.Emitter, f32, x ir.Index) ir.Index {
		return e.Op(ir.OpMul, x, x)
	}))
	defer square.Unlink()
	dsquare, err := ad.DifferentiateCallable(square, "dsquare")
	if err != nil {
		t.Fatal(err)
	}
	defer dsquare.Unlink()
	if name, _, ok := ir.Lookup(dsquare.ID); !ok || name != "dsquare" {
		t.Fatalf("derivative not registered: %q %v", name, ok)
	}
	if square.Body.Len() == dsquare.Body.Len() {
		t.Error("derivative body not rewritten")
	}
	src, err := glbuild.GenerateFunction(dsquare, glbuild.DefaultProfile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "dsquare(") {
		t.Errorf("function not named:\n%s", src)
	}
}
