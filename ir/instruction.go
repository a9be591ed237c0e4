package ir

import (
	"math"
	"strconv"
)

// Index addresses an [Instruction] inside a [Buffer]. Indices are dense and
// assigned in append order, so an instruction may only reference indices lower than its own.
type Index int32

// Null is the absent index. It is used for empty lists, missing operands and
// unpatched control flow targets.
const Null Index = -1

// IsNull reports whether i is the absent index.
func (i Index) IsNull() bool { return i < 0 }

// Kind is the discriminant of an [Instruction].
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindQualifier declares an externally bound resource: shader input or output,
	// uniform, push constant, storage buffer, image, sampler, shared memory or function parameter.
	KindQualifier
	// KindTypeField is one cell of a type chain. A chain of a single primitive cell
	// is that primitive; anything else is a struct.
	KindTypeField
	// KindPrimitive is a literal bool, int, uint or float.
	KindPrimitive
	KindSwizzle
	KindOperation
	KindIntrinsic
	KindConstruct
	KindCall
	// KindList is a cons cell. Argument lists are built from the last item to the first,
	// so the head of a list has the highest index of its cells.
	KindList
	KindStore
	KindLoad
	KindIndexing
	KindBranch
	KindWhile
	KindReturns
	KindEnd
	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:   "Invalid",
	KindQualifier: "Qualifier",
	KindTypeField: "TypeField",
	KindPrimitive: "Primitive",
	KindSwizzle:   "Swizzle",
	KindOperation: "Operation",
	KindIntrinsic: "Intrinsic",
	KindConstruct: "Construct",
	KindCall:      "Call",
	KindList:      "List",
	KindStore:     "Store",
	KindLoad:      "Load",
	KindIndexing:  "Indexing",
	KindBranch:    "Branch",
	KindWhile:     "While",
	KindReturns:   "Returns",
	KindEnd:       "End",
}

func (k Kind) String() string {
	if k >= kindCount {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// IsStatement reports whether instructions of kind k have an effect on program state
// or control flow. Statements are always reachable and always emitted.
func (k Kind) IsStatement() bool {
	switch k {
	case KindStore, KindBranch, KindWhile, KindReturns, KindEnd:
		return true
	}
	return false
}

// IsControl reports whether k opens, continues or terminates a control flow region.
func (k Kind) IsControl() bool {
	return k == KindBranch || k == KindWhile || k == KindEnd
}

// Instruction is the fixed size record stored in a [Buffer]. The meaning of each
// field depends on Kind:
//
//	Kind       Tag            Args[0]   Args[1]   Args[2]  Aux
//	Qualifier  QualifierKind  type      -         -        binding
//	TypeField  Prim           down      next      -        -
//	Primitive  Prim           -         -         -        literal bits
//	Swizzle    -              source    -         -        SwizzleCode
//	Operation  Opcode         args      -         -        -
//	Intrinsic  IntrinsicID    args      type      -        -
//	Construct  ConstructMode  type      args      -        -
//	Call       -              args      type      -        CallableID
//	List       -              item      next      -        -
//	Store      -              dst       src       -        -
//	Load       LoadForm       source    -         -        field offset
//	Indexing   -              source    index     -        -
//	Branch     BranchForm     cond      failsTo   -        -
//	While      -              cond      failsTo   -        -
//	Returns    -              values    type      -        -
//	End        -              -         -         -        -
//
// failsTo is the only forward reference in the format: it is written once, by the
// [Emitter], when the next branch of the chain or the terminator is recorded.
type Instruction struct {
	Kind Kind
	Tag  uint8
	Args [3]Index
	Aux  uint64
}

// operandSlots holds a bitmask of the Args slots that are backward references.
var operandSlots = [kindCount]uint8{
	KindQualifier: 0b001,
	KindTypeField: 0b011,
	KindSwizzle:   0b001,
	KindOperation: 0b001,
	KindIntrinsic: 0b011,
	KindConstruct: 0b011,
	KindCall:      0b011,
	KindList:      0b011,
	KindStore:     0b011,
	KindLoad:      0b001,
	KindIndexing:  0b011,
	KindBranch:    0b001,
	KindWhile:     0b001,
	KindReturns:   0b011,
}

// Operands returns the backward references of the instruction. Null operands are
// included so that slot positions are preserved; n is the number of valid slots.
// The failsTo forward reference is never part of the operands.
func (inst Instruction) Operands() (refs [3]Index, n int) {
	if inst.Kind >= kindCount {
		return refs, 0
	}
	mask := operandSlots[inst.Kind]
	for slot := 0; slot < 3; slot++ {
		if mask&(1<<slot) != 0 {
			refs[n] = inst.Args[slot]
			n++
		}
	}
	return refs, n
}

// IsOperandSlot reports whether Args[slot] holds a backward reference for the instruction's kind.
func (inst Instruction) IsOperandSlot(slot int) bool {
	return inst.Kind < kindCount && operandSlots[inst.Kind]&(1<<slot) != 0
}

// HasFailsTo reports whether the instruction carries a failsTo forward reference in Args[1].
func (inst Instruction) HasFailsTo() bool {
	return inst.Kind == KindBranch || inst.Kind == KindWhile
}

// Qualifier returns a qualifier instruction declaring a resource of type typ bound at binding.
func Qualifier(typ Index, kind QualifierKind, binding int) Instruction {
	return Instruction{Kind: KindQualifier, Tag: uint8(kind), Args: [3]Index{typ, Null, Null}, Aux: uint64(binding)}
}

// TypeField returns a type chain cell. Primitive cells have a Null down reference,
// nested struct cells use [PrimNone] and point down to the nested chain head.
func TypeField(p Prim, down, next Index) Instruction {
	return Instruction{Kind: KindTypeField, Tag: uint8(p), Args: [3]Index{down, next, Null}}
}

// Literal returns a primitive literal with raw bits. See [Float], [Int], [Uint] and [Bool].
func Literal(p Prim, bits uint64) Instruction {
	return Instruction{Kind: KindPrimitive, Tag: uint8(p), Args: [3]Index{Null, Null, Null}, Aux: bits}
}

func Float(v float32) Instruction { return Literal(PrimFloat, uint64(math.Float32bits(v))) }
func Int(v int32) Instruction     { return Literal(PrimInt, uint64(uint32(v))) }
func Uint(v uint32) Instruction   { return Literal(PrimUint, uint64(v)) }
func Bool(v bool) Instruction {
	var bits uint64
	if v {
		bits = 1
	}
	return Literal(PrimBool, bits)
}

func Swizzle(src Index, code SwizzleCode) Instruction {
	return Instruction{Kind: KindSwizzle, Args: [3]Index{src, Null, Null}, Aux: uint64(code)}
}

func Operation(op Opcode, args Index) Instruction {
	return Instruction{Kind: KindOperation, Tag: uint8(op), Args: [3]Index{args, Null, Null}}
}

func Intrinsic(fn IntrinsicID, args, typ Index) Instruction {
	return Instruction{Kind: KindIntrinsic, Tag: uint8(fn), Args: [3]Index{args, typ, Null}}
}

// Construct returns a constructor of type typ. In [ConstructRef] mode the construct
// denotes a mutable local variable that can be the target of a [Store].
func Construct(typ, args Index, mode ConstructMode) Instruction {
	return Instruction{Kind: KindConstruct, Tag: uint8(mode), Args: [3]Index{typ, args, Null}}
}

func Call(callee CallableID, args, typ Index) Instruction {
	return Instruction{Kind: KindCall, Args: [3]Index{args, typ, Null}, Aux: uint64(callee)}
}

func List(item, next Index) Instruction {
	return Instruction{Kind: KindList, Args: [3]Index{item, next, Null}}
}

func Store(dst, src Index) Instruction {
	return Instruction{Kind: KindStore, Args: [3]Index{dst, src, Null}}
}

func Load(src Index) Instruction {
	return Instruction{Kind: KindLoad, Tag: uint8(LoadValue), Args: [3]Index{src, Null, Null}}
}

// LoadField returns a load of the struct member at position offset of src.
func LoadField(src Index, offset int) Instruction {
	return Instruction{Kind: KindLoad, Tag: uint8(LoadMember), Args: [3]Index{src, Null, Null}, Aux: uint64(offset)}
}

func Indexing(src, idx Index) Instruction {
	return Instruction{Kind: KindIndexing, Args: [3]Index{src, idx, Null}}
}

// Branch returns an unpatched branch. cond must be Null for [BranchElse].
func Branch(form BranchForm, cond Index) Instruction {
	return Instruction{Kind: KindBranch, Tag: uint8(form), Args: [3]Index{cond, Null, Null}}
}

func While(cond Index) Instruction {
	return Instruction{Kind: KindWhile, Args: [3]Index{cond, Null, Null}}
}

func Returns(values, typ Index) Instruction {
	return Instruction{Kind: KindReturns, Args: [3]Index{values, typ, Null}}
}

func End() Instruction {
	return Instruction{Kind: KindEnd, Args: [3]Index{Null, Null, Null}}
}

// Accessors. Calling an accessor on an instruction of the wrong kind returns garbage
// except where documented otherwise.

func (inst Instruction) QualifierKind() QualifierKind { return QualifierKind(inst.Tag) }
func (inst Instruction) Binding() int                 { return int(inst.Aux) }
func (inst Instruction) Prim() Prim                   { return Prim(inst.Tag) }
func (inst Instruction) Down() Index                  { return inst.Args[0] }
func (inst Instruction) Item() Index                  { return inst.Args[0] }
func (inst Instruction) Next() Index                  { return inst.Args[1] }
func (inst Instruction) Opcode() Opcode               { return Opcode(inst.Tag) }
func (inst Instruction) IntrinsicID() IntrinsicID     { return IntrinsicID(inst.Tag) }
func (inst Instruction) Mode() ConstructMode          { return ConstructMode(inst.Tag) }
func (inst Instruction) Callee() CallableID           { return CallableID(inst.Aux) }
func (inst Instruction) Dst() Index                   { return inst.Args[0] }
func (inst Instruction) Src() Index                   { return inst.Args[0] }
func (inst Instruction) Cond() Index                  { return inst.Args[0] }
func (inst Instruction) FailsTo() Index               { return inst.Args[1] }
func (inst Instruction) Form() BranchForm             { return BranchForm(inst.Tag) }
func (inst Instruction) SwizzleCode() SwizzleCode     { return SwizzleCode(inst.Aux) }

// StoreSrc returns the value operand of a Store.
func (inst Instruction) StoreSrc() Index { return inst.Args[1] }

// IndexOperand returns the index operand of an Indexing instruction.
func (inst Instruction) IndexOperand() Index { return inst.Args[1] }

// Offset returns the member offset of a field Load. ok is false for value loads.
func (inst Instruction) Offset() (offset int, ok bool) {
	if inst.Kind != KindLoad || LoadForm(inst.Tag) != LoadMember {
		return 0, false
	}
	return int(inst.Aux), true
}

// ArgList returns the head of the argument list of an Operation, Intrinsic,
// Construct, Call or Returns instruction, or Null for any other kind.
func (inst Instruction) ArgList() Index {
	switch inst.Kind {
	case KindOperation, KindIntrinsic, KindCall, KindReturns:
		return inst.Args[0]
	case KindConstruct:
		return inst.Args[1]
	}
	return Null
}

// TypeRef returns the type chain referenced by a Qualifier, Intrinsic, Construct,
// Call or Returns instruction, or Null for any other kind.
func (inst Instruction) TypeRef() Index {
	switch inst.Kind {
	case KindQualifier, KindConstruct:
		return inst.Args[0]
	case KindIntrinsic, KindCall, KindReturns:
		return inst.Args[1]
	}
	return Null
}

func (inst Instruction) Float32() float32 { return math.Float32frombits(uint32(inst.Aux)) }
func (inst Instruction) Int32() int32     { return int32(uint32(inst.Aux)) }
func (inst Instruction) Uint32() uint32   { return uint32(inst.Aux) }
func (inst Instruction) BoolValue() bool  { return inst.Aux != 0 }

// QualifierKind enumerates the resource classes a [KindQualifier] can declare.
type QualifierKind uint8

const (
	QualInput QualifierKind = iota
	QualOutput
	QualPushConstant
	QualUniform
	// QualBuffer is a runtime sized storage buffer. Its type is the element type.
	QualBuffer
	QualImage
	QualSampler
	QualShared
	// QualParameter is a callable's formal parameter. Its binding is the argument position.
	QualParameter
	qualCount
)

var qualNames = [qualCount]string{
	QualInput:        "input",
	QualOutput:       "output",
	QualPushConstant: "pushconstant",
	QualUniform:      "uniform",
	QualBuffer:       "buffer",
	QualImage:        "image",
	QualSampler:      "sampler",
	QualShared:       "shared",
	QualParameter:    "parameter",
}

func (q QualifierKind) String() string {
	if q >= qualCount {
		return "QualifierKind(" + strconv.Itoa(int(q)) + ")"
	}
	return qualNames[q]
}

// ParseQualifierKind is the inverse of [QualifierKind.String].
func ParseQualifierKind(s string) (QualifierKind, bool) {
	for i, name := range qualNames {
		if name == s {
			return QualifierKind(i), true
		}
	}
	return 0, false
}

// Writable reports whether shader code can store to resources of kind q.
// Values read from writable resources are stateful.
func (q QualifierKind) Writable() bool {
	switch q {
	case QualOutput, QualBuffer, QualImage, QualShared:
		return true
	}
	return false
}

// ConstructMode distinguishes value constructors from variable declarations.
type ConstructMode uint8

const (
	ConstructValue ConstructMode = iota
	ConstructRef
)

// BranchForm is the position of a [KindBranch] in an if/else-if/else chain.
type BranchForm uint8

const (
	BranchIf BranchForm = iota
	BranchElseIf
	BranchElse
)

func (f BranchForm) String() string {
	switch f {
	case BranchIf:
		return "if"
	case BranchElseIf:
		return "elseif"
	case BranchElse:
		return "else"
	}
	return "BranchForm(" + strconv.Itoa(int(f)) + ")"
}

// LoadForm distinguishes whole value loads from struct member loads.
type LoadForm uint8

const (
	LoadValue LoadForm = iota
	LoadMember
)
