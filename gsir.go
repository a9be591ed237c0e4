// Package gsir records shader programs from typed Go values and compiles them to GLSL.
//
// A [Builder] owns an instruction emitter. Every Builder method records instructions
// and returns a [Value] describing the result; the value's kind ([Scalar], [Vector],
// [Matrix] or [Aggregate]) follows the type of the recorded instruction.
package gsir

import (
	"errors"

	"github.com/soypat/gsir/ir"
)

// Builder records shader programs. The zero value is not ready for use, see [NewBuilder].
// Provides error handling strategies with panics or error accumulation during recording.
// A Builder is not safe for concurrent use.
type Builder struct {
	// NoPanic accumulates recording errors, retrievable with Err, instead of panicking.
	// Values produced by a failed recording are invalid and propagate without further errors.
	NoPanic   bool
	accumErrs []error
	e         *ir.Emitter
	frames    []*frame
}

// frame holds the caches of a buffer being recorded.
type frame struct {
	buf   *ir.Buffer
	prims map[ir.Prim]ir.Index
	// builtins caches built-in variables until the next scope boundary.
	builtins map[ir.IntrinsicID]ir.Index
}

// NewBuilder returns a Builder recording into a new main program buffer.
func NewBuilder() *Builder {
	b := &Builder{e: ir.NewEmitter(nil)}
	b.push(ir.NewBuffer(64))
	return b
}

// Err returns the errors accumulated while NoPanic was set.
func (b *Builder) Err() error {
	if len(b.accumErrs) == 0 {
		return nil
	}
	return errors.Join(b.accumErrs...)
}

// Main returns the main program buffer.
func (b *Builder) Main() *ir.Buffer { return b.frames[0].buf }

func (b *Builder) push(buf *ir.Buffer) {
	b.e.Push(buf)
	b.frames = append(b.frames, &frame{buf: buf, prims: make(map[ir.Prim]ir.Index)})
}

func (b *Builder) pop() *ir.Buffer {
	buf := b.e.Pop()
	b.frames = b.frames[:len(b.frames)-1]
	return buf
}

func (b *Builder) top() *frame { return b.frames[len(b.frames)-1] }

func (b *Builder) buf() *ir.Buffer { return b.top().buf }

// catch recovers recording errors when NoPanic is set. It must be deferred directly.
func (b *Builder) catch() {
	if !b.NoPanic {
		return
	}
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(*ir.Error)
	if !ok {
		panic(r)
	}
	b.accumErrs = append(b.accumErrs, err)
}

func (b *Builder) fatalf(class ir.Class, format string, args ...any) {
	ir.Fatalf(class, ir.Null, ir.KindInvalid, format, args...)
}

// value records the instruction produced by fn and resolves its type. An invalid
// operand skips recording and returns an invalid value.
func (b *Builder) value(fn func() ir.Index, operands ...Value) (v value) {
	v = value{b: b, idx: ir.Null, t: ir.Void}
	defer b.catch()
	if !b.check(operands) {
		return v
	}
	idx := fn()
	buf := b.buf()
	return value{b: b, buf: buf, idx: idx, t: buf.TypeOf(idx)}
}

// check reports whether all operands are valid and belong to the active buffer.
func (b *Builder) check(operands []Value) bool {
	for _, o := range operands {
		if o == nil {
			b.fatalf(ir.ClassStructural, "nil value")
		}
		v := o.base()
		if v.idx == ir.Null {
			return false
		}
		if v.b != b {
			b.fatalf(ir.ClassStructural, "value recorded by another builder")
		}
		if v.buf != b.buf() {
			b.fatalf(ir.ClassStructural, "value %d recorded in another function", v.idx)
		}
	}
	return true
}

func (b *Builder) indices(vals []Value) []ir.Index {
	idxs := make([]ir.Index, len(vals))
	for i, v := range vals {
		idxs[i] = v.Synthesize()
	}
	return idxs
}

// prim returns the type chain of p in the active buffer.
func (b *Builder) prim(p ir.Prim) ir.Index {
	f := b.top()
	idx, ok := f.prims[p]
	if !ok {
		idx = b.e.Prim(p)
		f.prims[p] = idx
	}
	return idx
}

// typeIndex returns a type reference for t, which must be a type of the active buffer.
func (b *Builder) typeIndex(t ir.Type) ir.Index {
	if t.IsStruct() {
		return t.Struct
	}
	return b.prim(t.Prim)
}

// importType records in the active buffer the type t of buffer src.
func (b *Builder) importType(src *ir.Buffer, t ir.Type) ir.Index {
	if !t.IsStruct() {
		return b.prim(t.Prim)
	}
	if src == b.buf() {
		return t.Struct
	}
	var fields []ir.Type
	for _, f := range src.Fields(nil, t.Struct) {
		ft := src.FieldType(f)
		if ft.IsStruct() {
			ft = ir.StructType(b.importType(src, ft))
		}
		fields = append(fields, ft)
	}
	return b.e.Types(fields...)
}

// sameType reports whether type ta of buffer a and type tb of buffer b have the same layout.
func sameType(a *ir.Buffer, ta ir.Type, b *ir.Buffer, tb ir.Type) bool {
	if ta.IsStruct() != tb.IsStruct() {
		return false
	}
	if !ta.IsStruct() {
		return ta.Prim == tb.Prim
	}
	fa := a.Fields(nil, ta.Struct)
	fb := b.Fields(nil, tb.Struct)
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if !sameType(a, a.FieldType(fa[i]), b, b.FieldType(fb[i])) {
			return false
		}
	}
	return true
}

// builtin returns the built-in variable fn of primitive type p. The instruction is
// reused until recording crosses a scope boundary, after which it is recorded again
// so the value never escapes the scope it was recorded in.
func (b *Builder) builtin(fn ir.IntrinsicID, p ir.Prim) value {
	f := b.top()
	if idx, ok := f.builtins[fn]; ok {
		return value{b: b, buf: f.buf, idx: idx, t: ir.PrimType(p)}
	}
	v := b.value(func() ir.Index { return b.e.Intrinsic(fn, b.prim(p)) })
	if v.idx == ir.Null {
		return v
	}
	if f.builtins == nil {
		f.builtins = make(map[ir.IntrinsicID]ir.Index)
		b.e.OnScopeExit(func() { f.builtins = nil })
	}
	f.builtins[fn] = v.idx
	return v
}
