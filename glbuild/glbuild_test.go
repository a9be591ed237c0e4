package glbuild_test

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/irfmt"
	"github.com/soypat/gsir/kernel"
	"gopkg.in/yaml.v3"
)

type goldenCase struct {
	irfmt.Program `yaml:",inline"`
	Stage         string            `yaml:"stage"`
	Version       int               `yaml:"version"`
	ES            bool              `yaml:"es"`
	StructNames   map[string]string `yaml:"struct_names"`
	Expect        []string          `yaml:"expect"`
	ExpectOrder   []string          `yaml:"expect_order"`
	ExpectUnique  []string          `yaml:"expect_unique"`
	ExpectNot     []string          `yaml:"expect_not"`
	ExpectError   string            `yaml:"expect_error"`
	Skip          string            `yaml:"skip,omitempty"`
}

type goldenFile struct {
	Tests []goldenCase `yaml:"tests"`
}

func (tc *goldenCase) profile(t *testing.T) glbuild.Profile {
	profile := glbuild.DefaultProfile()
	if tc.Stage != "" {
		stage, ok := glbuild.ParseStage(tc.Stage)
		if !ok {
			t.Fatalf("unknown stage %q", tc.Stage)
		}
		if stage == glbuild.StageCompute {
			profile = glbuild.DefaultComputeProfile()
		}
		profile.Stage = stage
	}
	if tc.Version != 0 {
		profile.Version = tc.Version
	}
	profile.ES = tc.ES
	profile.StructNames = tc.StructNames
	return profile
}

var errClasses = map[string]error{
	"structural": ir.ErrStructural,
	"type":       ir.ErrType,
	"linkage":    ir.ErrLinkage,
}

func TestGolden(t *testing.T) {
	data, err := os.ReadFile("testdata/golden.yaml")
	if err != nil {
		t.Fatal(err)
	}
	var file goldenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to parse golden.yaml: %v", err)
	}
	if len(file.Tests) == 0 {
		t.Fatal("no golden cases")
	}
	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}
			src, err := generate(&tc.Program, tc.profile(t), false)
			if tc.ExpectError != "" {
				want, ok := errClasses[tc.ExpectError]
				if !ok {
					t.Fatalf("unknown error class %q", tc.ExpectError)
				}
				if !errors.Is(err, want) {
					t.Fatalf("want %s error, got %v\n%s", tc.ExpectError, err, src)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			checkOutput(t, src, &tc)

			// Same text for repeated and compacted generation.
			again, err := generate(&tc.Program, tc.profile(t), false)
			if err != nil {
				t.Fatal(err)
			} else if again != src {
				t.Errorf("generation not deterministic:\n%s\n----\n%s", src, again)
			}
			compacted, err := generate(&tc.Program, tc.profile(t), true)
			if err != nil {
				t.Fatal(err)
			} else if compacted != src {
				t.Errorf("compaction changed output:\n%s\n----\n%s", src, compacted)
			}
		})
	}
}

// generate records p and writes it as a linked program. Programs without functions
// are also generated through [glbuild.Generate] and must match.
func generate(p *irfmt.Program, profile glbuild.Profile, compact bool) (string, error) {
	built, err := p.Build()
	if err != nil {
		return "", err
	}
	defer built.Release()
	k, err := kernel.Build(built.Main)
	if err != nil {
		return "", err
	}
	if compact {
		k, _, err = kernel.Compact(k)
		if err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	programmer := glbuild.NewProgrammer(profile)
	n, err := programmer.WriteProgram(&buf, k)
	if err != nil {
		return buf.String(), err
	} else if n != buf.Len() {
		return "", errors.New("written length mismatch")
	}
	if len(p.Functions) == 0 {
		direct, err := glbuild.Generate(k, profile)
		if err != nil {
			return "", err
		} else if direct != buf.String() {
			return "", errors.New("Generate and WriteProgram disagree:\n" + direct + "\n----\n" + buf.String())
		}
	}
	return buf.String(), nil
}

func checkOutput(t *testing.T, src string, tc *goldenCase) {
	t.Helper()
	for _, exp := range tc.Expect {
		if !strings.Contains(src, exp) {
			t.Errorf("expected %q in output:\n%s", exp, src)
		}
	}
	rest := src
	for _, exp := range tc.ExpectOrder {
		idx := strings.Index(rest, exp)
		if idx < 0 {
			t.Errorf("expected %q in order in output:\n%s", exp, src)
			break
		}
		rest = rest[idx+len(exp):]
	}
	for _, exp := range tc.ExpectUnique {
		if n := strings.Count(src, exp); n != 1 {
			t.Errorf("expected %q once, found %d times:\n%s", exp, n, src)
		}
	}
	for _, exp := range tc.ExpectNot {
		if strings.Contains(src, exp) {
			t.Errorf("did not expect %q in output:\n%s", exp, src)
		}
	}
}

func TestUnregisteredCallee(t *testing.T) {
	body := ir.NewBuffer(0)
	e := ir.NewEmitter(body)
	f32 := e.Prim(ir.PrimFloat)
	x := e.Qualifier(f32, ir.QualParameter, 0)
	e.Return(f32, e.Op(ir.OpNeg, x))
	e.Pop()
	c := ir.NewCallable("flip", body)

	buf := ir.NewBuffer(0)
	e = ir.NewEmitter(buf)
	f32 = e.Prim(ir.PrimFloat)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	e.Store(out, e.Call(c, f32, e.Qualifier(f32, ir.QualInput, 0)))
	k, err := kernel.Build(buf)
	if err != nil {
		t.Fatal(err)
	}
	src, err := glbuild.Generate(k, glbuild.DefaultProfile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "float s0 = flip(_lin0);") {
		t.Errorf("call not rendered by name:\n%s", src)
	}
	fn, err := glbuild.GenerateFunction(c, glbuild.DefaultProfile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(fn, "float flip(float _arg0) {\n") {
		t.Errorf("unexpected function:\n%s", fn)
	}

	c.Unlink()
	_, err = glbuild.Generate(k, glbuild.DefaultProfile())
	if !errors.Is(err, ir.ErrLinkage) {
		t.Fatalf("want linkage error, got %v", err)
	}
	_, err = glbuild.NewDefaultProgrammer().WriteProgram(&bytes.Buffer{}, k)
	if !errors.Is(err, ir.ErrLinkage) {
		t.Fatalf("programmer: want linkage error, got %v", err)
	}
}

// Callables with equal names are written once when their bodies generate the same text.
func TestProgrammerNameDeduplication(t *testing.T) {
	newCallable := func(neg bool) *ir.Callable {
		body := ir.NewBuffer(0)
		e := ir.NewEmitter(body)
		f32 := e.Prim(ir.PrimFloat)
		x := e.Qualifier(f32, ir.QualParameter, 0)
		if neg {
			e.Return(f32, e.Op(ir.OpNeg, x))
		} else {
			e.Return(f32, e.Op(ir.OpAdd, x, x))
		}
		return ir.NewCallable("shape", e.Pop())
	}
	program := func(c1, c2 *ir.Callable) *kernel.Kernel {
		buf := ir.NewBuffer(0)
		e := ir.NewEmitter(buf)
		f32 := e.Prim(ir.PrimFloat)
		out := e.Qualifier(f32, ir.QualOutput, 0)
		in := e.Qualifier(f32, ir.QualInput, 0)
		e.Store(out, e.Op(ir.OpAdd, e.Call(c1, f32, in), e.Call(c2, f32, in)))
		k, err := kernel.Build(buf)
		if err != nil {
			t.Fatal(err)
		}
		return k
	}
	s1, s2, other := newCallable(true), newCallable(true), newCallable(false)
	defer s1.Unlink()
	defer s2.Unlink()
	defer other.Unlink()
	if s1.ID == s2.ID {
		t.Fatal("callables share id")
	}
	const decl = "float shape(float _arg0)"
	programmer := glbuild.NewDefaultProgrammer()
	for _, k := range []*kernel.Kernel{program(s1, s1), program(s1, s2)} {
		var source bytes.Buffer
		n, err := programmer.WriteProgram(&source, k)
		if err != nil {
			t.Fatal(err)
		} else if n != source.Len() {
			t.Fatal("written length mismatch")
		}
		if got := strings.Count(source.String(), decl); got != 1 {
			t.Errorf("want one declaration, got %d:\n%s", got, source.String())
		}
	}
	_, err := programmer.WriteProgram(&bytes.Buffer{}, program(s1, other))
	if err == nil {
		t.Error("expected error for same name with distinct bodies")
	}
}

// Unused instructions never change the generated text.
func TestDeadCodeInvisible(t *testing.T) {
	for seed := int64(0); seed < 30; seed++ {
		clean := randomProgram(rand.New(rand.NewSource(seed)), nil)
		noisy := randomProgram(rand.New(rand.NewSource(seed)), rand.New(rand.NewSource(seed+1000)))
		var srcs [2]string
		for i, buf := range []*ir.Buffer{clean, noisy} {
			k, err := kernel.Build(buf)
			if err != nil {
				t.Fatal(err)
			}
			srcs[i], err = glbuild.Generate(k, glbuild.DefaultProfile())
			if err != nil {
				t.Fatal(err)
			}
		}
		if noisy.Len() <= clean.Len() {
			t.Fatalf("seed %d: no dead code inserted", seed)
		}
		if srcs[0] != srcs[1] {
			t.Errorf("seed %d: dead code changed output:\n%s\n----\n%s", seed, srcs[0], srcs[1])
		}
	}
}

// randomProgram records a straight line program with branches. When noise is not
// nil, unused computations are interleaved without affecting the program rng.
func randomProgram(rng, noise *rand.Rand) *ir.Buffer {
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	out := e.Qualifier(f32, ir.QualOutput, 0)
	in := e.Qualifier(f32, ir.QualInput, 0)
	acc := e.Construct(f32, ir.ConstructRef, in)
	values := []ir.Index{in}
	depth := 0
	for n := 0; n < 40; n++ {
		if noise != nil && noise.Intn(2) == 0 {
			e.Op(ir.OpMul, in, e.Float(float32(noise.Intn(5))))
			e.Qualifier(f32, ir.QualUniform, noise.Intn(3))
		}
		pick := func() ir.Index { return values[rng.Intn(len(values))] }
		switch rng.Intn(6) {
		case 0:
			values = append(values, e.Float(float32(rng.Intn(4))-1))
		case 1:
			values = append(values, e.Op(ir.OpAdd, pick(), pick()))
		case 2:
			values = append(values, e.Intrinsic(ir.IntrinsicSin, f32, pick()))
		case 3:
			e.Store(acc, e.Op(ir.OpMul, e.Load(acc), pick()))
		case 4:
			if depth < 2 {
				e.If(e.Op(ir.OpLt, pick(), e.Float(0)))
				depth++
				values = values[:1] // Values defined in the branch do not escape it.
			}
		case 5:
			if depth > 0 {
				e.End()
				depth--
				values = values[:1]
			}
		}
	}
	for ; depth > 0; depth-- {
		e.End()
	}
	e.Store(out, e.Load(acc))
	return buf
}
