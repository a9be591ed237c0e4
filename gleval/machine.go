package gleval

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
	"golang.org/x/exp/slices"
)

const (
	defaultMaxIterations = 1 << 20
	maxCallDepth         = 64
)

// EvalError reports a failure while evaluating the instruction at Index.
type EvalError struct {
	Index ir.Index
	Msg   string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("gleval: at %d: %s", e.Index, e.Msg)
}

func evalf(i ir.Index, format string, args ...any) {
	panic(&EvalError{Index: i, Msg: fmt.Sprintf(format, args...)})
}

func catch(err *error) {
	r := recover()
	switch e := r.(type) {
	case nil:
	case *EvalError:
		*err = e
	case *ir.Error:
		*err = e
	default:
		panic(r)
	}
}

// Machine interprets analyzed kernels. Resources are keyed by binding; reads of
// unset resources yield the zero value of the declared type. A zero Machine is
// ready to use and not safe for concurrent use.
type Machine struct {
	Inputs        map[int]Value
	Outputs       map[int]Value
	PushConstants map[int]Value
	Uniforms      map[int]Value
	Shared        map[int]Value
	// Buffers holds the elements of each storage buffer.
	Buffers map[int][]Value

	GlobalInvocationID [3]uint32
	LocalInvocationID  [3]uint32
	FragCoord          [4]float32
	VertexIndex        int32

	// MaxIterations bounds the loop iterations of a single invocation. Zero means 1<<20.
	MaxIterations int

	main     *program
	programs map[ir.CallableID]*program
	depth    int
}

// program is a kernel with its instruction types resolved on demand.
type program struct {
	k     *kernel.Kernel
	types []ir.Type
	typed []bool
}

func newProgram(k *kernel.Kernel) *program {
	return &program{k: k, types: make([]ir.Type, k.Len()), typed: make([]bool, k.Len())}
}

func (p *program) typeOf(i ir.Index) ir.Type {
	if !p.typed[i] {
		p.types[i] = p.k.Buffer.TypeOf(i)
		p.typed[i] = true
	}
	return p.types[i]
}

// Run executes the entry point k.
func (m *Machine) Run(k *kernel.Kernel) (err error) {
	defer catch(&err)
	if m.main == nil || m.main.k != k {
		m.main = newProgram(k)
	}
	m.depth = 0
	m.newFrame(m.main, nil).run()
	return nil
}

// Call executes the function body k with args bound to its parameters by position
// and returns the value it returns.
func (m *Machine) Call(k *kernel.Kernel, args ...Value) (v Value, err error) {
	defer catch(&err)
	return m.newFrame(newProgram(k), args).run(), nil
}

// Call evaluates the function body buf on a fresh [Machine].
func Call(buf *ir.Buffer, args ...Value) (Value, error) {
	k, err := kernel.Build(buf)
	if err != nil {
		return Value{}, err
	}
	var m Machine
	return m.Call(k, args...)
}

func (m *Machine) maxIterations() int {
	if m.MaxIterations > 0 {
		return m.MaxIterations
	}
	return defaultMaxIterations
}

func (m *Machine) callee(c *ir.Callable) *program {
	if p, ok := m.programs[c.ID]; ok && p.k.Buffer == c.Body {
		return p
	}
	k, err := kernel.Build(c.Body)
	if err != nil {
		panic(err)
	}
	if m.programs == nil {
		m.programs = make(map[ir.CallableID]*program)
	}
	p := newProgram(k)
	m.programs[c.ID] = p
	return p
}

type frame struct {
	m    *Machine
	p    *program
	buf  *ir.Buffer
	args []Value
	// vals holds the last value of each synthesized instruction and the current
	// value of each variable.
	vals []Value
}

func (m *Machine) newFrame(p *program, args []Value) *frame {
	return &frame{m: m, p: p, buf: p.k.Buffer, args: args, vals: make([]Value, p.k.Len())}
}

func (f *frame) run() Value {
	n := ir.Index(f.buf.Len())
	iterations := 0
	for pc := ir.Index(0); pc < n; {
		if !f.p.k.Synthesized.Has(pc) {
			pc++
			continue
		}
		inst := f.buf.At(pc)
		switch inst.Kind {
		case ir.KindStore:
			v := f.eval(inst.StoreSrc()).clone()
			f.assign(inst.Dst(), func(p *Value) { *p = v })
		case ir.KindBranch:
			if inst.Form() == ir.BranchIf {
				pc = f.enter(pc)
			} else {
				// Fell out of the previous alternative.
				pc = f.p.k.ChainEnd(pc) + 1
			}
			continue
		case ir.KindWhile:
			if !f.eval(inst.Cond()).Bool(0) {
				pc = inst.FailsTo() + 1
				continue
			}
			iterations++
			if iterations > f.m.maxIterations() {
				evalf(pc, "loop exceeded %d iterations", f.m.maxIterations())
			}
		case ir.KindEnd:
			if opener := f.p.k.Opener(pc); f.buf.At(opener).Kind == ir.KindWhile {
				pc = opener
				continue
			}
		case ir.KindReturns:
			values := f.buf.ListItems(nil, inst.ArgList())
			switch len(values) {
			case 0:
				return Value{Prim: ir.PrimVoid}
			case 1:
				return f.eval(values[0]).clone()
			}
			evalf(pc, "return of %d values", len(values))
		default:
			f.vals[pc] = f.compute(pc, inst)
		}
		pc++
	}
	return Value{Prim: ir.PrimVoid}
}

// enter evaluates the conditions of the branch chain starting at pc and returns the
// first instruction of the taken alternative, or the instruction after the chain.
func (f *frame) enter(pc ir.Index) ir.Index {
	for {
		inst := f.buf.At(pc)
		if inst.Kind == ir.KindEnd || inst.Form() == ir.BranchElse || f.eval(inst.Cond()).Bool(0) {
			return pc + 1
		}
		pc = inst.FailsTo()
	}
}

// eval returns the value of i at the current point of execution.
func (f *frame) eval(i ir.Index) Value {
	if f.p.k.Synthesized.Has(i) {
		return f.vals[i]
	}
	return f.compute(i, f.buf.At(i))
}

func (f *frame) compute(i ir.Index, inst ir.Instruction) Value {
	switch inst.Kind {
	case ir.KindPrimitive:
		return scalar(inst.Prim(), uint32(inst.Aux))
	case ir.KindQualifier:
		return f.read(i, inst)
	case ir.KindOperation:
		return f.operation(i, inst)
	case ir.KindIntrinsic:
		return f.intrinsic(i, inst)
	case ir.KindConstruct:
		return f.construct(inst)
	case ir.KindCall:
		return f.call(i, inst)
	case ir.KindSwizzle:
		return swizzle(f.eval(inst.Src()), inst.SwizzleCode())
	case ir.KindLoad:
		v := f.eval(inst.Src())
		if offset, ok := inst.Offset(); ok {
			return v.Fields[offset]
		}
		return v
	case ir.KindIndexing:
		src := f.buf.At(inst.Src())
		k := f.index(i, inst)
		if src.Kind == ir.KindQualifier && src.QualifierKind() == ir.QualBuffer {
			return *f.element(i, src, k)
		}
		v := f.eval(inst.Src())
		if k >= v.Prim.Components() {
			evalf(i, "index %d out of range for %s", k, v.Prim)
		}
		return component(v, k)
	}
	evalf(i, "cannot evaluate %s", inst.Kind)
	return Value{}
}

func (f *frame) read(i ir.Index, inst ir.Instruction) Value {
	b := inst.Binding()
	var res map[int]Value
	switch inst.QualifierKind() {
	case ir.QualInput:
		res = f.m.Inputs
	case ir.QualOutput:
		res = f.m.Outputs
	case ir.QualPushConstant:
		res = f.m.PushConstants
	case ir.QualUniform:
		res = f.m.Uniforms
	case ir.QualShared:
		res = f.m.Shared
	case ir.QualParameter:
		if b >= len(f.args) {
			evalf(i, "missing argument %d", b)
		}
		return f.args[b]
	default:
		evalf(i, "%s read is not supported", inst.QualifierKind())
	}
	if v, ok := res[b]; ok {
		return v
	}
	return zero(f.buf, f.p.typeOf(i))
}

// index evaluates the index operand of an Indexing instruction.
func (f *frame) index(i ir.Index, inst ir.Instruction) int {
	idx := f.eval(inst.IndexOperand())
	if idx.Prim == ir.PrimInt && idx.Int(0) < 0 {
		evalf(i, "negative index %d", idx.Int(0))
	}
	return int(idx.Uint(0))
}

func (f *frame) element(i ir.Index, buffer ir.Instruction, k int) *Value {
	elems := f.m.Buffers[buffer.Binding()]
	if k >= len(elems) {
		evalf(i, "index %d out of range for buffer %d of length %d", k, buffer.Binding(), len(elems))
	}
	return &elems[k]
}

// assign applies fn to the storage denoted by the access path dst.
func (f *frame) assign(dst ir.Index, fn func(*Value)) {
	inst := f.buf.At(dst)
	switch inst.Kind {
	case ir.KindConstruct:
		fn(&f.vals[dst])
	case ir.KindQualifier:
		var res *map[int]Value
		switch inst.QualifierKind() {
		case ir.QualOutput:
			res = &f.m.Outputs
		case ir.QualShared:
			res = &f.m.Shared
		default:
			evalf(dst, "store to %s", inst.QualifierKind())
		}
		if *res == nil {
			*res = make(map[int]Value)
		}
		v, ok := (*res)[inst.Binding()]
		if !ok {
			v = zero(f.buf, f.p.typeOf(dst))
		}
		fn(&v)
		(*res)[inst.Binding()] = v
	case ir.KindLoad:
		offset, ok := inst.Offset()
		if !ok {
			f.assign(inst.Src(), fn)
			return
		}
		f.assign(inst.Src(), func(p *Value) {
			p.Fields = slices.Clone(p.Fields) // Loaded copies may share members.
			fn(&p.Fields[offset])
		})
	case ir.KindSwizzle:
		code := inst.SwizzleCode()
		f.assign(inst.Src(), func(p *Value) {
			part := swizzle(*p, code)
			fn(&part)
			for k := 0; k < code.Len(); k++ {
				p.comps[code.Component(k)] = part.comps[k]
			}
		})
	case ir.KindIndexing:
		src := f.buf.At(inst.Src())
		k := f.index(dst, inst)
		if src.Kind == ir.KindQualifier && src.QualifierKind() == ir.QualBuffer {
			fn(f.element(dst, src, k))
			return
		}
		f.assign(inst.Src(), func(p *Value) {
			if k >= p.Prim.Components() {
				evalf(dst, "index %d out of range for %s", k, p.Prim)
			}
			part := component(*p, k)
			fn(&part)
			setComponent(p, k, part)
		})
	default:
		evalf(dst, "store through %s", inst.Kind)
	}
}

func (f *frame) construct(inst ir.Instruction) Value {
	t := f.buf.TypeAt(inst.TypeRef())
	items := f.buf.ListItems(nil, inst.ArgList())
	if len(items) == 0 {
		return zero(f.buf, t)
	}
	args := make([]Value, len(items))
	for k, item := range items {
		args[k] = f.eval(item).clone()
	}
	if t.IsStruct() {
		return Struct(args...)
	}
	return construct(t.Prim, args)
}

func (f *frame) call(i ir.Index, inst ir.Instruction) Value {
	c := ir.MustLookup(inst.Callee(), i)
	callee := f.m.callee(c)
	items := f.buf.ListItems(nil, inst.ArgList())
	args := make([]Value, len(items))
	for k, item := range items {
		args[k] = f.eval(item).clone()
	}
	if f.m.depth >= maxCallDepth {
		evalf(i, "call depth exceeds %d", maxCallDepth)
	}
	f.m.depth++
	defer func() { f.m.depth-- }()
	return f.m.newFrame(callee, args).run()
}

func (f *frame) operation(i ir.Index, inst ir.Instruction) Value {
	var buf [2]ir.Index
	items := f.buf.ListItems(buf[:0], inst.ArgList())
	op := inst.Opcode()
	res := f.p.typeOf(i).Prim // Rejects operators undefined for the operand types.
	a := f.eval(items[0])
	if op.Arity() == 1 {
		return unary(i, op, a)
	}
	switch {
	case op == ir.OpAnd && !a.Bool(0):
		return Bool(false)
	case op == ir.OpOr && a.Bool(0):
		return Bool(true)
	}
	return binary(i, op, a, f.eval(items[1]), res)
}

func (f *frame) intrinsic(i ir.Index, inst ir.Instruction) Value {
	fn := inst.IntrinsicID()
	switch fn {
	case ir.IntrinsicGlobalInvocationID:
		return uvec3(f.m.GlobalInvocationID)
	case ir.IntrinsicLocalInvocationID:
		return uvec3(f.m.LocalInvocationID)
	case ir.IntrinsicFragCoord:
		return Vector(f.m.FragCoord[:]...)
	case ir.IntrinsicVertexIndex:
		return Int(f.m.VertexIndex)
	case ir.IntrinsicTexture, ir.IntrinsicImageLoad, ir.IntrinsicImageStore:
		evalf(i, "%s is not supported by the interpreter", fn)
	}
	var buf [3]ir.Index
	items := f.buf.ListItems(buf[:0], inst.ArgList())
	var args [3]Value
	for k, item := range items {
		args[k] = f.eval(item)
	}
	return intrinsic(i, fn, f.p.typeOf(i).Prim, args[:len(items)])
}

func uvec3(id [3]uint32) Value {
	v := Value{Prim: ir.PrimUVec3}
	copy(v.comps[:], id[:])
	return v
}

var one = math32.Float32bits(1)
