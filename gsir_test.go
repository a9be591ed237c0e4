package gsir_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/soypat/geometry/ms3"
	"github.com/soypat/gsir"
	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/gleval"
	"github.com/soypat/gsir/ir"
)

func compile(t *testing.T, b *gsir.Builder, profile glbuild.Profile) *gsir.Program {
	t.Helper()
	prog, err := b.Compile(context.Background(), gsir.CompileOptions{Profile: profile})
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func run(t *testing.T, prog *gsir.Program, inputs map[int]gleval.Value) gleval.Machine {
	t.Helper()
	m := gleval.Machine{Inputs: inputs}
	if err := m.Run(prog.Kernel); err != nil {
		t.Fatalf("%v\n%s", err, prog.Source)
	}
	return m
}

func TestNegate(t *testing.T) {
	b := gsir.NewBuilder()
	in := b.Input(ir.PrimVec3, 0)
	out := b.Output(ir.PrimVec3, 0)
	out.Store(b.Neg(in))
	prog := compile(t, b, glbuild.DefaultProfile())
	for _, want := range []string{
		"layout(location = 0) in vec3 _lin0;",
		"layout(location = 0) out vec3 _lout0;",
		"void main() {\n\tvec3 s0 = -_lin0;\n\t_lout0 = s0;\n}\n",
	} {
		if !strings.Contains(prog.Source, want) {
			t.Errorf("missing %q in:\n%s", want, prog.Source)
		}
	}
	m := run(t, prog, map[int]gleval.Value{0: gleval.Vec3(ms3.Vec{X: 1, Y: -2, Z: 3})})
	if got := m.Outputs[0].Vec3(); got != (ms3.Vec{X: -1, Y: 2, Z: -3}) {
		t.Errorf("want negated input, got %v", got)
	}
}

func TestFunction(t *testing.T) {
	b := gsir.NewBuilder()
	square := b.Function("square", []ir.Prim{ir.PrimFloat}, func(args ...gsir.Value) gsir.Value {
		return b.Mul(args[0], args[0])
	})
	defer square.Release()
	in := b.Input(ir.PrimFloat, 0)
	out := b.Output(ir.PrimFloat, 0)
	out.Store(b.Add(square.Call(in), b.Float(1)))
	prog := compile(t, b, glbuild.DefaultProfile())
	want := "float square(float _arg0) {\n\tfloat s0 = _arg0 * _arg0;\n\treturn s0;\n}\n"
	if !strings.Contains(prog.Source, want) {
		t.Errorf("missing function definition in:\n%s", prog.Source)
	}
	m := run(t, prog, map[int]gleval.Value{0: gleval.Float(3)})
	if got := m.Outputs[0].Float(0); got != 10 {
		t.Errorf("want 10, got %v", got)
	}

	b.NoPanic = true
	square.Call(b.Int(2))
	square.Call(in, in)
	if err := b.Err(); !errors.Is(err, ir.ErrType) {
		t.Errorf("want type errors for bad arguments, got %v", err)
	}
}

func TestFor(t *testing.T) {
	b := gsir.NewBuilder()
	out := b.Output(ir.PrimFloat, 0)
	acc := b.Var(b.Float(0))
	b.For(b.Int(4), func(i gsir.Scalar) {
		acc.Store(b.Add(acc.Load(), b.Convert(ir.PrimFloat, i)))
	})
	out.Store(acc.Load())
	prog := compile(t, b, glbuild.DefaultProfile())
	if !strings.Contains(prog.Source, "while (") {
		t.Errorf("no loop in:\n%s", prog.Source)
	}
	m := run(t, prog, nil)
	if got := m.Outputs[0].Float(0); got != 6 {
		t.Errorf("want 0+1+2+3, got %v", got)
	}
}

func TestCases(t *testing.T) {
	b := gsir.NewBuilder()
	in := b.Input(ir.PrimFloat, 0)
	out := b.Output(ir.PrimFloat, 0)
	b.Cases(func() { out.Store(b.Float(1)) },
		gsir.Case{
			Cond: func() gsir.Value { return b.Lt(in, b.Float(0)) },
			Then: func() { out.Store(b.Float(-1)) },
		},
		gsir.Case{
			Cond: func() gsir.Value { return b.Gt(in, b.Float(1)) },
			Then: func() { out.Store(b.Float(2)) },
		},
	)
	prog := compile(t, b, glbuild.DefaultProfile())
	if !strings.Contains(prog.Source, "} else if (_lin0 > 1.0) {") {
		t.Errorf("else-if condition not at header:\n%s", prog.Source)
	}
	for _, test := range []struct{ in, want float32 }{
		{in: -5, want: -1},
		{in: 3, want: 2},
		{in: 0.5, want: 1},
	} {
		m := run(t, prog, map[int]gleval.Value{0: gleval.Float(test.in)})
		if got := m.Outputs[0].Float(0); got != test.want {
			t.Errorf("input %v: want %v, got %v", test.in, test.want, got)
		}
	}
}

// Built-in variables are reused within a scope and recorded again inside nested
// scopes so that no value escapes the scope it was recorded in.
func TestComputeInvocationID(t *testing.T) {
	b := gsir.NewBuilder()
	src := b.Buffer(ir.PrimFloat, gleval.BindingIn)
	dst := b.Buffer(ir.PrimFloat, gleval.BindingOut)
	id := b.GlobalInvocationID()
	if again := b.GlobalInvocationID(); again.Synthesize() != id.Synthesize() {
		t.Fatal("built-in recorded twice in the same scope")
	}
	x := id.X()
	v := src.At(x).Load()
	dst.At(x).Store(b.Add(b.Mul(v, b.Float(2)), b.Float(1)))
	b.If(b.Lt(x, b.Uint(3)), func() {
		inner := b.GlobalInvocationID()
		if inner.Synthesize() == id.Synthesize() {
			t.Error("built-in reused across scope boundary")
		}
		dst.At(inner.X()).Store(b.Float(-1))
	})
	prog := compile(t, b, glbuild.DefaultComputeProfile())
	if got := strings.Count(prog.Source, "= gl_GlobalInvocationID;"); got != 2 {
		t.Errorf("want built-in read in both scopes, got %d:\n%s", got, prog.Source)
	}

	cpu, err := gleval.NewCPUCompute(prog.Kernel, gleval.ComputeConfig{InvocX: 4})
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{1, 2, 3, 4, 5, 6}
	out := make([]float32, len(in))
	if err := cpu.Evaluate(in, out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		want := 2*in[i] + 1
		if i < 3 {
			want = -1
		}
		if out[i] != want {
			t.Errorf("element %d: want %v, got %v", i, want, out[i])
		}
	}
}

func TestLiterals(t *testing.T) {
	b := gsir.NewBuilder()
	outMul := b.Output(ir.PrimVec3, 0)
	outSwz := b.Output(ir.PrimVec2, 1)
	outDot := b.Output(ir.PrimFloat, 2)
	mat := ms3.ScaleMat3(ms3.IdentityMat3(), 2)
	vec := ms3.Vec{X: 1, Y: -2, Z: 3}
	v := b.Vec3(vec)
	outMul.Store(b.Mul(b.Mat3(mat), v))
	outSwz.Store(v.Swizzle("zy"))
	outDot.Store(b.Dot(v, b.Vec3(ms3.Vec{X: 4, Y: 5, Z: 6})))
	m := run(t, compile(t, b, glbuild.DefaultProfile()), nil)
	if got, want := m.Outputs[0].Vec3(), ms3.MulMatVec(mat, vec); got != want {
		t.Errorf("mat3*vec3: want %v, got %v", want, got)
	}
	if got := m.Outputs[1].Floats(nil); got[0] != 3 || got[1] != -2 {
		t.Errorf("swizzle zy: got %v", got)
	}
	if got := m.Outputs[2].Float(0); got != 4-10+18 {
		t.Errorf("dot: got %v", got)
	}
}

func TestStructVariable(t *testing.T) {
	b := gsir.NewBuilder()
	out := b.Output(ir.PrimVec3, 0)
	s := b.Var(b.Struct(b.Vec3(ms3.Vec{}), b.Float(1)))
	s.Field(0).Swizzle("y").Store(b.Float(4))
	scale := s.Field(1).Load()
	out.Store(b.Mul(s.Load().(gsir.Aggregate).Field(0), scale))
	m := run(t, compile(t, b, glbuild.DefaultProfile()), nil)
	if got := m.Outputs[0].Vec3(); got != (ms3.Vec{Y: 4}) {
		t.Errorf("want (0,4,0), got %v", got)
	}
}

func TestRecordingErrors(t *testing.T) {
	b := gsir.NewBuilder()
	func() {
		defer func() {
			r := recover()
			if err, ok := r.(error); !ok || !errors.Is(err, ir.ErrType) {
				t.Errorf("want type error panic, got %v", r)
			}
		}()
		b.Add(b.Float(1), b.Int(1))
	}()

	b = gsir.NewBuilder()
	b.NoPanic = true
	out := b.Output(ir.PrimFloat, 0)
	bad := b.Add(b.Float(1), b.Int(1))
	out.Store(b.Mul(bad, bad)) // Invalid values propagate silently.
	b.If(b.Float(1), func() { t.Error("region recorded with invalid condition") })
	err := b.Err()
	if !errors.Is(err, ir.ErrType) {
		t.Fatalf("want type error, got %v", err)
	}
	if n := strings.Count(err.Error(), "\n") + 1; n != 2 {
		t.Errorf("want two errors, got %d: %v", n, err)
	}
	if _, err := b.Compile(context.Background(), gsir.CompileOptions{Profile: glbuild.DefaultProfile()}); err == nil {
		t.Error("compiled builder with errors")
	}
}

func TestValueFromAnotherFunction(t *testing.T) {
	b := gsir.NewBuilder()
	b.NoPanic = true
	outer := b.Float(2)
	f := b.Function("leak", []ir.Prim{ir.PrimFloat}, func(args ...gsir.Value) gsir.Value {
		return b.Mul(args[0], outer)
	})
	defer f.Release()
	if err := b.Err(); !errors.Is(err, ir.ErrStructural) {
		t.Errorf("want structural error, got %v", err)
	}
}

func TestDifferentiate(t *testing.T) {
	ctx := context.Background()
	b := gsir.NewBuilder()
	cube := b.Function("cube", []ir.Prim{ir.PrimFloat}, func(args ...gsir.Value) gsir.Value {
		x := args[0]
		return b.Mul(b.Mul(x, x), x)
	})
	defer cube.Release()
	dcube, err := b.Differentiate(ctx, cube, "dcube")
	if err != nil {
		t.Fatal(err)
	}
	defer dcube.Release()

	in := b.Input(ir.PrimFloat, 0)
	out := b.Output(ir.PrimFloat, 0)
	d := dcube.Call(b.Struct(in, b.Float(1))).(gsir.Aggregate)
	out.Store(d.Field(1))
	prog := compile(t, b, glbuild.DefaultProfile())
	if !strings.Contains(prog.Source, " dcube(") {
		t.Errorf("derivative not defined:\n%s", prog.Source)
	}
	m := run(t, prog, map[int]gleval.Value{0: gleval.Float(3)})
	if got := m.Outputs[0].Float(0); got != 27 {
		t.Errorf("d/dx x³ at 3: want 27, got %v", got)
	}

	b.NoPanic = true
	dcube.Call(in)
	if err := b.Err(); !errors.Is(err, ir.ErrType) {
		t.Errorf("want type error calling derivative with a float, got %v", err)
	}
}

func TestCompact(t *testing.T) {
	build := func() *gsir.Builder {
		b := gsir.NewBuilder()
		in := b.Input(ir.PrimFloat, 0)
		out := b.Output(ir.PrimFloat, 0)
		a := b.Mul(b.Sin(in), b.Float(2))
		c := b.Mul(b.Cos(in), b.Float(2))
		out.Store(b.Add(a, c))
		return b
	}
	ctx := context.Background()
	var progs [2]*gsir.Program
	for i, compact := range []bool{false, true} {
		var err error
		progs[i], err = build().Compile(ctx, gsir.CompileOptions{Profile: glbuild.DefaultProfile(), Compact: compact})
		if err != nil {
			t.Fatal(err)
		}
	}
	if progs[1].Kernel.Len() >= progs[0].Kernel.Len() {
		t.Errorf("compaction did not shrink the kernel: %d >= %d", progs[1].Kernel.Len(), progs[0].Kernel.Len())
	}
	if progs[0].Source != progs[1].Source {
		t.Errorf("compaction changed output:\n%s\n----\n%s", progs[0].Source, progs[1].Source)
	}
}

func TestMod(t *testing.T) {
	b := gsir.NewBuilder()
	in := b.Input(ir.PrimFloat, 0)
	out := b.Output(ir.PrimFloat, 0)
	out.Store(b.Mod(in, b.Float(3)))
	prog := compile(t, b, glbuild.DefaultProfile())
	if !strings.Contains(prog.Source, "float s0 = mod(_lin0, 3.0);") {
		t.Errorf("float remainder not generated as mod:\n%s", prog.Source)
	}
	m := run(t, prog, map[int]gleval.Value{0: gleval.Float(-5)})
	if got := m.Outputs[0].Float(0); got != 1 {
		t.Errorf("-5 mod 3: want 1, got %v", got)
	}

	b = gsir.NewBuilder()
	b.NoPanic = true
	in = b.Input(ir.PrimFloat, 0)
	b.Op(ir.OpBitAnd, in, in)
	b.Op(ir.OpShr, in, b.Float(1))
	b.Neg(b.Bool(true))
	if err := b.Err(); !errors.Is(err, ir.ErrType) {
		t.Fatalf("want type errors, got %v", err)
	}
}
