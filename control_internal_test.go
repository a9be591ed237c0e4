package gsir

import (
	"errors"
	"testing"

	"github.com/soypat/gsir/ir"
)

func TestFunctionOpenRegion(t *testing.T) {
	b := NewBuilder()
	b.NoPanic = true
	f := b.Function("open", []ir.Prim{ir.PrimFloat}, func(args ...Value) Value {
		b.e.If(b.Bool(true).Synthesize())
		return args[0]
	})
	defer f.Release()
	if !errors.Is(b.Err(), ir.ErrStructural) {
		t.Fatalf("want structural error, got %v", b.Err())
	}
	if len(b.frames) != 1 || b.e.Depth() != 1 {
		t.Fatalf("function frame left active: %d frames, emitter depth %d", len(b.frames), b.e.Depth())
	}
	if err := ir.Validate(f.Callable().Body); err != nil {
		t.Errorf("function body not balanced: %v", err)
	}
	out := b.Output(ir.PrimFloat, 0)
	out.Store(b.Float(1))
	if b.buf() != b.Main() {
		t.Error("recording did not return to the main program")
	}

	b = NewBuilder()
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic without NoPanic")
			}
		}()
		b.Function("open", nil, func(args ...Value) Value {
			b.e.If(b.Bool(true).Synthesize())
			return nil
		})
	}()
}
