package ir

import "strconv"

// Type is a resolved type. Primitive types have a Null Struct; struct types carry the
// head of their field chain and PrimNone.
type Type struct {
	Prim   Prim
	Struct Index
}

// Void is the type of instructions that produce no value.
var Void = Type{Prim: PrimVoid, Struct: Null}

// PrimType returns the primitive type p.
func PrimType(p Prim) Type { return Type{Prim: p, Struct: Null} }

// StructType returns the struct type whose field chain starts at head.
func StructType(head Index) Type { return Type{Prim: PrimNone, Struct: head} }

func (t Type) IsStruct() bool { return t.Struct != Null }

func (t Type) String() string {
	if t.IsStruct() {
		return "struct@" + strconv.Itoa(int(t.Struct))
	}
	return t.Prim.String()
}

// TypeAt resolves the type chain whose head is at typ. A chain of exactly one
// primitive field is that primitive; any other chain is a struct.
func (b *Buffer) TypeAt(typ Index) Type {
	cell := b.At(typ)
	if cell.Kind != KindTypeField {
		Fatalf(ClassStructural, typ, cell.Kind, "expected type field")
	}
	if cell.Prim() != PrimNone && cell.Next() == Null {
		return PrimType(cell.Prim())
	}
	return StructType(typ)
}

// Fields appends the field cells of the struct chain starting at head to dst.
func (b *Buffer) Fields(dst []Index, head Index) []Index {
	for head != Null {
		cell := b.At(head)
		if cell.Kind != KindTypeField {
			Fatalf(ClassStructural, head, cell.Kind, "expected type field in chain")
		}
		dst = append(dst, head)
		head = cell.Next()
	}
	return dst
}

// FieldType returns the type of the single field cell at field.
func (b *Buffer) FieldType(field Index) Type {
	cell := b.At(field)
	if cell.Prim() != PrimNone {
		return PrimType(cell.Prim())
	}
	if cell.Down() == Null {
		Fatalf(ClassStructural, field, KindTypeField, "nested field without type")
	}
	return b.TypeAt(cell.Down())
}

// Field returns the cell of the field at position offset of struct chain head.
func (b *Buffer) Field(head Index, offset int) Index {
	k := 0
	for head != Null {
		if k == offset {
			return head
		}
		head = b.At(head).Next()
		k++
	}
	Fatalf(ClassType, Null, KindTypeField, "field offset %d out of range for struct with %d fields", offset, k)
	return Null
}

// TypeOf returns the type of the value produced by the instruction at i.
// Statements, lists and type fields produce [Void].
func (b *Buffer) TypeOf(i Index) Type {
	inst := b.At(i)
	switch inst.Kind {
	case KindPrimitive:
		return PrimType(inst.Prim())
	case KindQualifier, KindConstruct, KindIntrinsic, KindCall:
		if inst.TypeRef() == Null {
			return Void
		}
		return b.TypeAt(inst.TypeRef())
	case KindOperation:
		return b.operationType(i, inst)
	case KindSwizzle:
		src := b.TypeOf(inst.Src())
		if !src.Prim.IsVector() && !src.Prim.IsScalar() {
			Fatalf(ClassType, i, inst.Kind, "swizzle of non-vector %s", src)
		}
		code := inst.SwizzleCode()
		if code.Len() == 0 || code.Max() >= src.Prim.Components() {
			Fatalf(ClassType, i, inst.Kind, "swizzle %q out of range for %s", code, src)
		}
		return PrimType(VectorOf(src.Prim.Scalar(), code.Len()))
	case KindLoad:
		src := b.TypeOf(inst.Src())
		offset, isField := inst.Offset()
		if !isField {
			return src
		}
		if !src.IsStruct() {
			Fatalf(ClassType, i, inst.Kind, "member load from non-struct %s", src)
		}
		return b.FieldType(b.Field(src.Struct, offset))
	case KindIndexing:
		srcIdx := inst.Src()
		src := b.At(srcIdx)
		idx := b.TypeOf(inst.IndexOperand())
		if idx.Prim != PrimInt && idx.Prim != PrimUint {
			Fatalf(ClassType, i, inst.Kind, "index must be int or uint, got %s", idx)
		}
		if src.Kind == KindQualifier && src.QualifierKind() == QualBuffer {
			return b.TypeOf(srcIdx)
		}
		t := b.TypeOf(srcIdx)
		switch {
		case t.Prim.IsVector():
			return PrimType(t.Prim.Scalar())
		case t.Prim.IsMatrix():
			return PrimType(t.Prim.Column())
		}
		Fatalf(ClassType, i, inst.Kind, "indexing of non-indexable %s", t)
	}
	return Void
}

func (b *Buffer) operationType(i Index, inst Instruction) Type {
	op := inst.Opcode()
	var args [2]Index
	n := 0
	for head := inst.ArgList(); head != Null; head = b.At(head).Next() {
		if n == 2 {
			n++
			break
		}
		args[n] = b.At(head).Item()
		n++
	}
	if n != op.Arity() {
		Fatalf(ClassStructural, i, inst.Kind, "operator %q expects %d operands, got %d", op, op.Arity(), n)
	}
	a := b.TypeOf(args[0])
	if a.IsStruct() {
		Fatalf(ClassType, i, inst.Kind, "operator %q on struct operand", op)
	}
	if n == 1 {
		s := a.Prim.Scalar()
		switch {
		case op == OpNot && a.Prim != PrimBool:
			Fatalf(ClassType, i, inst.Kind, "logical not of %s", a)
		case op == OpNeg && (s == PrimBool || s == PrimNone):
			Fatalf(ClassType, i, inst.Kind, "negation of %s", a)
		case op == OpBitNot && s != PrimInt && s != PrimUint:
			Fatalf(ClassType, i, inst.Kind, "bitwise not of %s", a)
		}
		return a
	}
	c := b.TypeOf(args[1])
	if c.IsStruct() {
		Fatalf(ClassType, i, inst.Kind, "operator %q on struct operand", op)
	}
	switch {
	case op.IsLogical():
		if a.Prim != PrimBool || c.Prim != PrimBool {
			Fatalf(ClassType, i, inst.Kind, "logical %q of %s and %s", op, a, c)
		}
		return PrimType(PrimBool)
	case op.IsComparison():
		if a != c {
			Fatalf(ClassType, i, inst.Kind, "comparison %q of %s and %s", op, a, c)
		}
		return PrimType(PrimBool)
	}
	res, ok := arithmeticResult(op, a.Prim, c.Prim)
	if !ok {
		Fatalf(ClassType, i, inst.Kind, "operator %q of %s and %s", op, a, c)
	}
	return PrimType(res)
}

func arithmeticResult(op Opcode, a, b Prim) (Prim, bool) {
	if a.Scalar() != b.Scalar() || a.Scalar() == PrimNone || a.Scalar() == PrimBool {
		return PrimNone, false
	}
	isFloat := a.Scalar() == PrimFloat
	switch {
	case op.IsBitwise() && isFloat:
		return PrimNone, false
	case op == OpMod && (a.IsMatrix() || b.IsMatrix()):
		return PrimNone, false
	case op == OpMod && isFloat && a.IsScalar() && !b.IsScalar():
		// Float remainder is generated as mod(x, y), which takes no scalar x with vector y.
		return PrimNone, false
	}
	switch {
	case a == b:
		return a, true
	case a.IsScalar():
		return b, true
	case b.IsScalar():
		return a, true
	case op == OpMul && a.IsMatrix() && b == a.Column():
		return b, true
	case op == OpMul && b.IsMatrix() && a == b.Column():
		return a, true
	}
	return PrimNone, false
}
