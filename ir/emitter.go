package ir

// Emitter records instructions into a stack of buffers. The top of the stack is the
// active buffer; pushing a buffer redirects recording into it, which is how callee
// bodies and scratch sequences are built. Each buffer carries its own stack of open
// control flow regions whose failsTo references are patched as regions are continued
// or closed.
//
// An Emitter is not safe for concurrent use. Independent compilations use independent emitters.
type Emitter struct {
	frames []frame
	// exits are invoked whenever recording crosses a scope boundary.
	exits []func()
}

type frame struct {
	buf *Buffer
	// open holds the headers of the control flow regions not yet terminated.
	open []Index
}

// NewEmitter returns an emitter recording into buf. A nil buf returns an emitter
// with an empty stack that must be pushed to before recording.
func NewEmitter(buf *Buffer) *Emitter {
	e := &Emitter{}
	if buf != nil {
		e.Push(buf)
	}
	return e
}

// Push makes buf the active buffer.
func (e *Emitter) Push(buf *Buffer) {
	e.frames = append(e.frames, frame{buf: buf})
}

// Pop deactivates the active buffer and returns it. Popping an empty stack or a
// buffer with unterminated control flow regions is a structural error.
func (e *Emitter) Pop() *Buffer {
	if len(e.frames) == 0 {
		Fatalf(ClassStructural, Null, KindInvalid, "emitter pop on empty stack")
	}
	top := e.frames[len(e.frames)-1]
	if len(top.open) > 0 {
		open := top.open[len(top.open)-1]
		Fatalf(ClassStructural, open, top.buf.At(open).Kind, "buffer popped with %d unterminated regions", len(top.open))
	}
	e.runExits()
	e.frames = e.frames[:len(e.frames)-1]
	return top.buf
}

// Depth returns the number of pushed buffers.
func (e *Emitter) Depth() int { return len(e.frames) }

// OpenRegions returns the number of unterminated control flow regions in the active buffer.
func (e *Emitter) OpenRegions() int { return len(e.top().open) }

// Buffer returns the active buffer.
func (e *Emitter) Buffer() *Buffer { return e.top().buf }

func (e *Emitter) top() *frame {
	if len(e.frames) == 0 {
		Fatalf(ClassStructural, Null, KindInvalid, "emitter has no active buffer")
	}
	return &e.frames[len(e.frames)-1]
}

// OnScopeExit registers fn to be called the next time recording enters, continues
// or leaves a control flow region, or the active buffer is popped. Callbacks run once.
// Builders use this to drop cached values that would otherwise escape their scope.
func (e *Emitter) OnScopeExit(fn func()) {
	e.exits = append(e.exits, fn)
}

func (e *Emitter) runExits() {
	exits := e.exits
	e.exits = nil
	for _, fn := range exits {
		fn()
	}
}

// Emit appends a non-control instruction to the active buffer and returns its index.
// Every operand must already exist in the buffer or precede it.
func (e *Emitter) Emit(inst Instruction) Index {
	if inst.Kind.IsControl() {
		Fatalf(ClassStructural, Null, inst.Kind, "control flow must be recorded with EmitStatement")
	}
	return e.emit(inst)
}

func (e *Emitter) emit(inst Instruction) Index {
	if inst.Kind == KindInvalid || inst.Kind >= kindCount {
		Fatalf(ClassStructural, Null, inst.Kind, "invalid instruction kind")
	}
	buf := e.top().buf
	next := buf.End()
	refs, n := inst.Operands()
	for _, ref := range refs[:n] {
		if ref >= next {
			Fatalf(ClassStructural, next, inst.Kind, "forward reference to %d", ref)
		}
	}
	return buf.Append(inst)
}

// EmitStatement appends a statement to the active buffer and follows the control
// flow protocol:
//   - If and While push a new region.
//   - ElseIf and Else patch the open branch's failsTo to themselves and replace it.
//   - End patches the open region's failsTo to itself and pops the region.
func (e *Emitter) EmitStatement(inst Instruction) Index {
	f := e.top()
	switch inst.Kind {
	case KindWhile:
		e.runExits()
		idx := e.emit(inst)
		f.open = append(f.open, idx)
		return idx
	case KindBranch:
		form := inst.Form()
		if form == BranchIf {
			e.runExits()
			idx := e.emit(inst)
			f.open = append(f.open, idx)
			return idx
		}
		if len(f.open) == 0 {
			Fatalf(ClassStructural, f.buf.End(), inst.Kind, "%s without open if", form)
		}
		header := f.open[len(f.open)-1]
		h := f.buf.At(header)
		if h.Kind != KindBranch || h.Form() == BranchElse {
			Fatalf(ClassStructural, f.buf.End(), inst.Kind, "%s continues a region opened at %d that cannot be continued", form, header)
		}
		if (form == BranchElse) != (inst.Cond() == Null) {
			Fatalf(ClassStructural, f.buf.End(), inst.Kind, "%s condition mismatch", form)
		}
		e.runExits()
		idx := e.emit(inst)
		f.buf.setFailsTo(header, idx)
		f.open[len(f.open)-1] = idx
		return idx
	case KindEnd:
		if len(f.open) == 0 {
			Fatalf(ClassStructural, f.buf.End(), inst.Kind, "end without open region")
		}
		e.runExits()
		idx := e.emit(inst)
		f.buf.setFailsTo(f.open[len(f.open)-1], idx)
		f.open = f.open[:len(f.open)-1]
		return idx
	}
	return e.emit(inst)
}

// Types records a type chain with the given fields and returns its head. A single
// primitive field denotes that primitive; anything else is a struct.
func (e *Emitter) Types(fields ...Type) Index {
	if len(fields) == 0 {
		Fatalf(ClassStructural, Null, KindTypeField, "empty type chain")
	}
	next := Null
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if f.IsStruct() {
			next = e.emit(TypeField(PrimNone, f.Struct, next))
		} else {
			next = e.emit(TypeField(f.Prim, Null, next))
		}
	}
	return next
}

// Prim records the type chain of primitive p.
func (e *Emitter) Prim(p Prim) Index { return e.Types(PrimType(p)) }

// List records a list of items and returns its head. The empty list is Null.
func (e *Emitter) List(items ...Index) Index {
	head := Null
	for i := len(items) - 1; i >= 0; i-- {
		head = e.emit(List(items[i], head))
	}
	return head
}

func (e *Emitter) Float(v float32) Index { return e.emit(Float(v)) }
func (e *Emitter) Int(v int32) Index     { return e.emit(Int(v)) }
func (e *Emitter) Uint(v uint32) Index   { return e.emit(Uint(v)) }
func (e *Emitter) Bool(v bool) Index     { return e.emit(Bool(v)) }

// Op records operator op applied to args.
func (e *Emitter) Op(op Opcode, args ...Index) Index {
	if len(args) != op.Arity() {
		Fatalf(ClassStructural, Null, KindOperation, "operator %q expects %d operands, got %d", op, op.Arity(), len(args))
	}
	return e.emit(Operation(op, e.List(args...)))
}

// Intrinsic records a call to built-in fn with result type typ. Built-in variables
// take no arguments.
func (e *Emitter) Intrinsic(fn IntrinsicID, typ Index, args ...Index) Index {
	if len(args) != fn.Arity() {
		Fatalf(ClassStructural, Null, KindIntrinsic, "intrinsic %s expects %d arguments, got %d", fn, fn.Arity(), len(args))
	}
	return e.emit(Intrinsic(fn, e.List(args...), typ))
}

// Construct records a constructor of type typ. In [ConstructRef] mode the result is
// a variable initialized with args.
func (e *Emitter) Construct(typ Index, mode ConstructMode, args ...Index) Index {
	return e.emit(Construct(typ, e.List(args...), mode))
}

// Call records a call to c with result type typ.
func (e *Emitter) Call(c *Callable, typ Index, args ...Index) Index {
	return e.emit(Call(c.ID, e.List(args...), typ))
}

func (e *Emitter) Store(dst, src Index) Index { return e.EmitStatement(Store(dst, src)) }
func (e *Emitter) Load(src Index) Index       { return e.emit(Load(src)) }

// LoadField records a load of the struct member at position offset of src.
func (e *Emitter) LoadField(src Index, offset int) Index { return e.emit(LoadField(src, offset)) }

func (e *Emitter) Swizzle(src Index, code SwizzleCode) Index { return e.emit(Swizzle(src, code)) }
func (e *Emitter) Indexing(src, idx Index) Index             { return e.emit(Indexing(src, idx)) }

// Return records a return of values with type typ. A return with no values has a Null type.
func (e *Emitter) Return(typ Index, values ...Index) Index {
	return e.EmitStatement(Returns(e.List(values...), typ))
}

// Qualifier declares a resource of type typ.
func (e *Emitter) Qualifier(typ Index, kind QualifierKind, binding int) Index {
	return e.emit(Qualifier(typ, kind, binding))
}

// If opens a conditional region.
func (e *Emitter) If(cond Index) Index { return e.EmitStatement(Branch(BranchIf, cond)) }

// ElseIf continues the open conditional with another condition. cond must be
// recorded before calling ElseIf.
func (e *Emitter) ElseIf(cond Index) Index { return e.EmitStatement(Branch(BranchElseIf, cond)) }

// Else continues the open conditional with its final alternative.
func (e *Emitter) Else() Index { return e.EmitStatement(Branch(BranchElse, Null)) }

// While opens a loop region. The condition is re-evaluated before every iteration.
func (e *Emitter) While(cond Index) Index { return e.EmitStatement(While(cond)) }

// End terminates the innermost open region.
func (e *Emitter) End() Index { return e.EmitStatement(End()) }
