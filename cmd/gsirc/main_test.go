package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const squareProgram = `
name: square
functions:
  - name: square
    program:
      - {id: f, op: type, type: [float]}
      - {id: x, op: qualifier, qualifier: parameter, type: [f], binding: 0}
      - {id: sq, op: "*", args: [x, x]}
      - {op: return, type: [f], args: [sq]}
program:
  - {id: f, op: type, type: [float]}
  - {id: in, op: qualifier, qualifier: input, type: [f], binding: 0}
  - {id: out, op: qualifier, qualifier: output, type: [f], binding: 0}
  - {id: c, op: call, fn: square, type: [f], args: [in]}
  - {op: store, args: [out, c]}
`

func writeProgram(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "square.yaml")
	if err := os.WriteFile(path, []byte(squareProgram), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	for _, name := range []string{"version", "es", "stage", "local-size", "compact", "verbose"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestGLSL(t *testing.T) {
	path := writeProgram(t)
	got, err := execute(t, "glsl", "--version", "330", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"#version 330\n", "float square(float _arg0) {", "float s0 = square(_lin0);"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output:\n%s", want, got)
		}
	}
	if _, err := execute(t, "glsl", "--stage", "geometry", path); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestDump(t *testing.T) {
	got, err := execute(t, "dump", writeProgram(t))
	if err != nil {
		t.Fatal(err)
	}
	main := strings.Index(got, "# main\n")
	square := strings.Index(got, "# square\n")
	if main < 0 || square < main {
		t.Fatalf("listings missing or out of order:\n%s", got)
	}
	if !strings.Contains(got[main:square], "US  Call") {
		t.Errorf("call not marked used and synthesized:\n%s", got)
	}
}

func TestDiff(t *testing.T) {
	path := writeProgram(t)
	got, err := execute(t, "diff", path, "square")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, " dsquare(") {
		t.Errorf("derivative not generated:\n%s", got)
	}
	got, err = execute(t, "diff", "--name", "grad", "--dump", path, "square")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Qualifier parameter") {
		t.Errorf("derivative listing missing parameter:\n%s", got)
	}
	if _, err := execute(t, "diff", path, "cube"); err == nil {
		t.Error("expected error for unknown function")
	}
}
