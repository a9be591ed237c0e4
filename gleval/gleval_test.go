package gleval_test

import (
	"errors"
	"testing"

	"github.com/soypat/geometry/ms3"
	"github.com/soypat/gsir/gleval"
	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
)

func mustKernel(t *testing.T, buf *ir.Buffer) *kernel.Kernel {
	t.Helper()
	k, err := kernel.Build(buf)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestCall(t *testing.T) {
	body := ir.NewBuffer(0)
	e := ir.NewEmitter(body)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, e.Op(ir.OpMul, x, x))
	got, err := gleval.Call(body, gleval.Float(3))
	if err != nil {
		t.Fatal(err)
	}
	if got.Prim != ir.PrimFloat || got.Float(0) != 9 {
		t.Errorf("want float(9), got %s", got)
	}
	_, err = gleval.Call(body)
	var evalErr *gleval.EvalError
	if !errors.As(err, &evalErr) {
		t.Errorf("want evaluation error for missing argument, got %v", err)
	}
}

// Float remainder follows GLSL mod: x - y*floor(x/y).
func TestFloatRemainder(t *testing.T) {
	body := ir.NewBuffer(0)
	e := ir.NewEmitter(body)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, e.Op(ir.OpMod, x, e.Float(3)))
	for _, test := range []struct{ x, want float32 }{{5, 2}, {-5, 1}, {6, 0}} {
		got, err := gleval.Call(body, gleval.Float(test.x))
		if err != nil {
			t.Fatal(err)
		}
		if got.Float(0) != test.want {
			t.Errorf("%v mod 3: want %v, got %v", test.x, test.want, got.Float(0))
		}
	}

	body = ir.NewBuffer(0)
	e = ir.NewEmitter(body)
	f32 = e.Prim(ir.PrimFloat)
	x = e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, e.Op(ir.OpBitNot, x))
	if _, err := gleval.Call(body, gleval.Float(1)); !errors.Is(err, ir.ErrType) {
		t.Errorf("want type error for bitwise not of float, got %v", err)
	}
}

func TestCallRegistered(t *testing.T) {
	body := ir.NewBuffer(0)
	e := ir.NewEmitter(body)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, e.Op(ir.OpMul, x, x))
	square := ir.NewCallable("square", e.Pop())
	defer square.Unlink()

	buf := ir.NewBuffer(0)
	e = ir.NewEmitter(buf)
	f32 = e.Prim(ir.PrimFloat)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	in := e.Qualifier(f32, ir.QualInput, 0)
	e.Store(out, e.Op(ir.OpAdd, e.Call(square, f32, in), e.Float(1)))
	k := mustKernel(t, buf)
	m := gleval.Machine{Inputs: map[int]gleval.Value{0: gleval.Float(3)}}
	if err := m.Run(k); err != nil {
		t.Fatal(err)
	}
	if got := m.Outputs[0].Float(0); got != 10 {
		t.Errorf("want 10, got %v", got)
	}
	square.Unlink()
	if err := m.Run(k); !errors.Is(err, ir.ErrLinkage) {
		t.Errorf("want linkage error after unlink, got %v", err)
	}
}

func TestLoop(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	i32 := e.Prim(ir.PrimInt)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	i := e.Construct(i32, ir.ConstructRef, e.Int(0))
	acc := e.Construct(f32, ir.ConstructRef, e.Float(0))
	e.While(e.Op(ir.OpLt, e.Load(i), e.Int(5)))
	e.Store(acc, e.Op(ir.OpAdd, e.Load(acc), e.Construct(f32, ir.ConstructValue, e.Load(i))))
	e.Store(i, e.Op(ir.OpAdd, e.Load(i), e.Int(1)))
	e.End()
	e.Store(out, e.Load(acc))

	var m gleval.Machine
	if err := m.Run(mustKernel(t, buf)); err != nil {
		t.Fatal(err)
	}
	if got := m.Outputs[0].Float(0); got != 10 {
		t.Errorf("want 0+1+2+3+4, got %v", got)
	}
}

func TestLoopLimit(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	e.While(e.Bool(true))
	e.Store(out, e.Float(1))
	e.End()
	m := gleval.Machine{MaxIterations: 100}
	err := m.Run(mustKernel(t, buf))
	var evalErr *gleval.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("want evaluation error, got %v", err)
	}
}

func TestBranchChain(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	in := e.Qualifier(f32, ir.QualInput, 0)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	e.If(e.Op(ir.OpLt, in, e.Float(0)))
	e.Store(out, e.Float(-1))
	e.ElseIf(e.Op(ir.OpGt, in, e.Float(1)))
	e.Store(out, e.Float(2))
	e.Else()
	e.Store(out, e.Float(1))
	e.End()
	k := mustKernel(t, buf)
	for _, test := range []struct{ in, want float32 }{
		{in: -5, want: -1},
		{in: 3, want: 2},
		{in: 0.5, want: 1},
	} {
		m := gleval.Machine{Inputs: map[int]gleval.Value{0: gleval.Float(test.in)}}
		if err := m.Run(k); err != nil {
			t.Fatal(err)
		}
		if got := m.Outputs[0].Float(0); got != test.want {
			t.Errorf("input %v: want %v, got %v", test.in, test.want, got)
		}
	}
}

func TestStructAccessPaths(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	st := e.Types(ir.PrimType(ir.PrimVec3), ir.PrimType(ir.PrimFloat))
	out := e.Qualifier(e.Prim(ir.PrimVec3), ir.QualOutput, 0)
	outOld := e.Qualifier(e.Prim(ir.PrimFloat), ir.QualOutput, 1)
	v := e.Construct(st, ir.ConstructRef)
	e.Store(e.Swizzle(e.LoadField(v, 0), ir.NewSwizzle(1)), e.Float(4))
	e.Store(e.LoadField(v, 1), e.Float(2))
	snapshot := e.Load(v)
	e.Store(e.LoadField(v, 1), e.Float(5))
	e.Store(out, e.Op(ir.OpMul, e.LoadField(v, 0), e.Float(2)))
	e.Store(outOld, e.LoadField(snapshot, 1))

	var m gleval.Machine
	if err := m.Run(mustKernel(t, buf)); err != nil {
		t.Fatal(err)
	}
	if got := m.Outputs[0].Vec3(); got != (ms3.Vec{Y: 8}) {
		t.Errorf("want (0,8,0), got %v", got)
	}
	if got := m.Outputs[1].Float(0); got != 2 {
		t.Errorf("snapshot observed later store: got %v", got)
	}
}

func TestMatrices(t *testing.T) {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	vec2 := e.Prim(ir.PrimVec2)
	vec3 := e.Prim(ir.PrimVec3)
	outMul := e.Qualifier(vec2, ir.QualOutput, 0)
	outCol := e.Qualifier(vec2, ir.QualOutput, 1)
	outUniform := e.Qualifier(vec3, ir.QualOutput, 2)
	m2 := e.Construct(e.Prim(ir.PrimMat2), ir.ConstructValue, e.Float(1), e.Float(2), e.Float(3), e.Float(4))
	ones := e.Construct(vec2, ir.ConstructValue, e.Float(1))
	e.Store(outMul, e.Op(ir.OpMul, m2, ones))
	e.Store(outCol, e.Indexing(m2, e.Int(1)))
	u := e.Qualifier(e.Prim(ir.PrimMat3), ir.QualUniform, 0)
	e.Store(outUniform, e.Op(ir.OpMul, u, e.Qualifier(vec3, ir.QualInput, 0)))

	mat := ms3.ScaleMat3(ms3.IdentityMat3(), 2)
	vec := ms3.Vec{X: 1, Y: -2, Z: 3}
	m := gleval.Machine{
		Uniforms: map[int]gleval.Value{0: gleval.Mat3(mat)},
		Inputs:   map[int]gleval.Value{0: gleval.Vec3(vec)},
	}
	if err := m.Run(mustKernel(t, buf)); err != nil {
		t.Fatal(err)
	}
	// Matrices are constructed column by column.
	if got := m.Outputs[0].Floats(nil); got[0] != 4 || got[1] != 6 {
		t.Errorf("mat2*vec2: want (4,6), got %v", got)
	}
	if got := m.Outputs[1].Floats(nil); got[0] != 3 || got[1] != 4 {
		t.Errorf("column 1: want (3,4), got %v", got)
	}
	if got, want := m.Outputs[2].Vec3(), ms3.MulMatVec(mat, vec); got != want {
		t.Errorf("mat3*vec3: want %v, got %v", want, got)
	}
}

func computeKernel(t *testing.T) *kernel.Kernel {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	uvec3 := e.Prim(ir.PrimUVec3)
	in := e.Qualifier(f32, ir.QualBuffer, gleval.BindingIn)
	out := e.Qualifier(f32, ir.QualBuffer, gleval.BindingOut)
	id := e.Swizzle(e.Intrinsic(ir.IntrinsicGlobalInvocationID, uvec3), ir.NewSwizzle(0))
	x := e.Indexing(in, id)
	e.Store(e.Indexing(out, id), e.Op(ir.OpAdd, e.Op(ir.OpMul, x, e.Float(2)), e.Float(1)))
	return mustKernel(t, buf)
}

func TestCPUCompute(t *testing.T) {
	k := computeKernel(t)
	compacted, _, err := kernel.Compact(k)
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{0, 1, -2, 3.5, 100}
	for _, k := range []*kernel.Kernel{k, compacted} {
		c, err := gleval.NewCPUCompute(k, gleval.ComputeConfig{InvocX: 2})
		if err != nil {
			t.Fatal(err)
		}
		out := make([]float32, len(in))
		if err := c.Evaluate(in, out); err != nil {
			t.Fatal(err)
		}
		for i := range in {
			if want := 2*in[i] + 1; out[i] != want {
				t.Errorf("element %d: want %v, got %v", i, want, out[i])
			}
		}
		if err := c.Evaluate(in, out[:2]); err == nil {
			t.Error("expected length mismatch error")
		}
	}
	if _, err := gleval.NewCPUCompute(k, gleval.ComputeConfig{}); err == nil {
		t.Error("expected error for zero InvocX")
	}
}

func TestValueString(t *testing.T) {
	for _, test := range []struct {
		v    gleval.Value
		want string
	}{
		{v: gleval.Vector(1, 2.5), want: "vec2(1, 2.5)"},
		{v: gleval.Int(-3), want: "int(-3)"},
		{v: gleval.Struct(gleval.Float(1), gleval.Bool(true)), want: "{float(1), bool(true)}"},
	} {
		if got := test.v.String(); got != test.want {
			t.Errorf("want %q, got %q", test.want, got)
		}
	}
}
