package ir

// Buffer is an append-only arena of instructions. Appending is the only mutation
// available outside of this package; the [Emitter] additionally writes failsTo
// references when it closes a control flow region.
type Buffer struct {
	// Base is the index of the first instruction in the buffer. It is zero for
	// ordinary buffers. Scratch buffers use a large Base so that references into the
	// scratch buffer can be told apart from references into another buffer.
	Base  Index
	insts []Instruction
}

// NewBuffer returns an empty buffer with room for capacity instructions.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{insts: make([]Instruction, 0, capacity)}
}

// NewScratch returns an empty buffer whose first instruction has index base.
func NewScratch(base Index) *Buffer {
	return &Buffer{Base: base}
}

// Append adds inst to the end of the buffer and returns its index.
func (b *Buffer) Append(inst Instruction) Index {
	idx := b.End()
	b.insts = append(b.insts, inst)
	return idx
}

// Len returns the number of instructions in the buffer.
func (b *Buffer) Len() int { return len(b.insts) }

// End returns the index the next appended instruction will receive.
func (b *Buffer) End() Index { return b.Base + Index(len(b.insts)) }

// Contains reports whether i addresses an instruction of the buffer.
func (b *Buffer) Contains(i Index) bool { return i >= b.Base && i < b.End() }

// At returns the instruction at i. Reading Null or an index outside of the
// buffer is a structural error.
func (b *Buffer) At(i Index) Instruction {
	if !b.Contains(i) {
		if i.IsNull() {
			Fatalf(ClassStructural, i, KindInvalid, "dereference of null index")
		}
		Fatalf(ClassStructural, i, KindInvalid, "index out of range [%d,%d)", b.Base, b.End())
	}
	return b.insts[i-b.Base]
}

// Instructions returns the backing instructions. The caller must not modify them.
func (b *Buffer) Instructions() []Instruction { return b.insts }

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{Base: b.Base, insts: append([]Instruction(nil), b.insts...)}
}

// setFailsTo writes the failsTo reference of the branch or loop header at i.
func (b *Buffer) setFailsTo(i, target Index) {
	inst := &b.insts[i-b.Base]
	if !inst.HasFailsTo() {
		Fatalf(ClassStructural, i, inst.Kind, "failsTo written on instruction without control flow target")
	}
	inst.Args[1] = target
}

// ListItems appends the items of the list starting at head to dst and returns the result.
// A Null head is the empty list.
func (b *Buffer) ListItems(dst []Index, head Index) []Index {
	for head != Null {
		cell := b.At(head)
		if cell.Kind != KindList {
			Fatalf(ClassStructural, head, cell.Kind, "expected list cell")
		}
		dst = append(dst, cell.Item())
		head = cell.Next()
	}
	return dst
}

// ListLen returns the number of items in the list starting at head.
func (b *Buffer) ListLen(head Index) (n int) {
	for head != Null {
		head = b.At(head).Next()
		n++
	}
	return n
}
