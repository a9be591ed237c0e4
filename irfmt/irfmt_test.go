package irfmt_test

import (
	"strings"
	"testing"

	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/irfmt"
	"github.com/soypat/gsir/kernel"
)

const negateProgram = `
name: negate
program:
  - {id: t, op: type, type: [vec3]}
  - {id: in, op: qualifier, qualifier: input, type: [t], binding: 0}
  - {id: out, op: qualifier, qualifier: output, type: [t], binding: 0}
  - {id: dead, op: "*", args: [in, in]}
  - {id: neg, op: neg, args: [in]}
  - {op: store, args: [out, neg]}
`

func TestLoadBuild(t *testing.T) {
	p, err := irfmt.Load([]byte(negateProgram))
	if err != nil {
		t.Fatal(err)
	}
	built, err := p.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer built.Release()
	// Operands are recorded as list cells ahead of their operation.
	if built.Main.Len() != 9 {
		t.Fatalf("want 9 instructions, got %d", built.Main.Len())
	}
	neg := built.Main.At(built.IDs["neg"])
	if neg.Kind != ir.KindOperation || neg.Opcode() != ir.OpNeg {
		t.Errorf("neg recorded as %s %s", neg.Kind, neg.Opcode())
	}
	if got := built.Main.TypeOf(built.IDs["neg"]); got != ir.PrimType(ir.PrimVec3) {
		t.Errorf("neg has type %v", got)
	}

	k, err := kernel.Build(built.Main)
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	err = irfmt.Fprint(&sb, built.Main, k)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"   0 U   TypeField vec3",
		"   1 U   Qualifier input binding=0 0",
		"   2 U   Qualifier output binding=0 0",
		"   3     List 1",
		"   4     List 1 3",
		"   5     Operation * 4",
		"   6 U   List 1",
		"   7 US  Operation - 6",
		"   8 US  Store 2 7",
	}
	got := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("want %d lines, got %d:\n%s", len(want), len(got), sb.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildFunctions(t *testing.T) {
	const src = `
name: caller
functions:
  - name: square
    program:
      - {id: f, op: type, type: [float]}
      - {id: x, op: qualifier, qualifier: parameter, type: [f], binding: 0}
      - {id: sq, op: "*", args: [x, x]}
      - {op: return, args: [sq]}
program:
  - {id: f, op: type, type: [float]}
  - {id: in, op: qualifier, qualifier: input, type: [f], binding: 0}
  - {id: out, op: qualifier, qualifier: output, type: [f], binding: 0}
  - {id: c, op: call, fn: square, type: [f], args: [in]}
  - {op: store, args: [out, c]}
`
	p, err := irfmt.Load([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	built, err := p.Build()
	if err != nil {
		t.Fatal(err)
	}
	c := built.Callable("square")
	if c == nil {
		t.Fatal("square not built")
	}
	if name, _, ok := ir.Lookup(c.ID); !ok || name != "square" {
		t.Fatalf("square not registered: %q %v", name, ok)
	}
	call := built.Main.At(built.IDs["c"])
	if call.Callee() != c.ID {
		t.Error("call does not reference square")
	}
	built.Release()
	if _, _, ok := ir.Lookup(c.ID); ok {
		t.Error("release left callable registered")
	}
}

func TestBuildErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		src  string
	}{
		{name: "undefined id", src: `program: [{op: neg, args: [x]}]`},
		{name: "unknown op", src: `program: [{id: a, op: float, value: "1"}, {op: frob, args: [a]}]`},
		{name: "arity", src: `program: [{id: a, op: float, value: "1"}, {op: "+", args: [a]}]`},
		{name: "unbalanced", src: `program: [{id: a, op: bool, value: "true"}, {op: if, args: [a]}]`},
		{name: "undefined function", src: `program: [{op: call, fn: nope}]`},
	} {
		p, err := irfmt.Load([]byte(test.src))
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		built, err := p.Build()
		if err == nil {
			built.Release()
			t.Errorf("%s: expected error", test.name)
		}
	}
}
