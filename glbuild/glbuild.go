// Package glbuild generates GLSL source from analyzed kernels.
package glbuild

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
	"golang.org/x/exp/slices"
)

// Generate returns the GLSL source of the kernel as a shader entry point: version
// header, struct declarations, qualifier declarations and a main function whose
// body holds the synthesized instructions in buffer order. Calls are rendered by the
// callee's registered name; see [Programmer] to link callee definitions alongside.
func Generate(k *kernel.Kernel, profile Profile) (_ string, err error) {
	defer ir.Catch(&err)
	mod := newModule(profile)
	w := mod.newWriter(k)
	body := w.appendMain(nil)
	src := mod.appendProgram(nil, nil, body)
	return string(src), nil
}

// GenerateFunction returns the GLSL definition of callable c preceded by the
// declarations of the structs it uses. Parameters are the callable's Parameter
// qualifiers ordered by binding, which must be contiguous from zero.
func GenerateFunction(c *ir.Callable, profile Profile) (_ string, err error) {
	defer ir.Catch(&err)
	k, err := kernel.Build(c.Body)
	if err != nil {
		return "", err
	}
	mod := newModule(profile)
	fn := mod.newWriter(k).appendFunction(nil, c.Name)
	var b []byte
	b = append(b, mod.structs...)
	b = append(b, fn...)
	return string(b), nil
}

// module holds the declarations shared by every function of a program.
type module struct {
	profile Profile
	// structs holds struct declarations in dependency order.
	structs []byte
	// structNames maps member type signatures to declared struct names.
	structNames map[string]string
	quals       map[qualKey]string
}

type qualKey struct {
	kind    ir.QualifierKind
	binding int
}

func newModule(profile Profile) *module {
	return &module{
		profile:     profile,
		structNames: make(map[string]string),
		quals:       make(map[qualKey]string),
	}
}

// writer renders the body of one kernel.
type writer struct {
	mod    *module
	k      *kernel.Kernel
	buf    *ir.Buffer
	names  []string
	nlocal int
	indent int
	inFunc bool
}

func (m *module) newWriter(k *kernel.Kernel) *writer {
	return &writer{mod: m, k: k, buf: k.Buffer, names: make([]string, k.Len())}
}

// appendProgram assembles a complete shader with the module's declarations,
// the given function definitions and the main function.
func (m *module) appendProgram(b []byte, funcs, main []byte) []byte {
	b = m.profile.AppendHeader(b)
	if len(m.structs) > 0 {
		b = append(b, '\n')
		b = append(b, m.structs...)
	}
	if len(m.quals) > 0 {
		b = append(b, '\n')
		b = m.appendQualifiers(b)
	}
	if len(funcs) > 0 {
		b = append(b, '\n')
		b = append(b, funcs...)
	}
	b = append(b, '\n')
	b = append(b, main...)
	return b
}

// typeName returns the GLSL name of type t declared in buf, declaring struct types
// on first use.
func (m *module) typeName(buf *ir.Buffer, t ir.Type) string {
	if !t.IsStruct() {
		if t.Prim == ir.PrimNone {
			ir.Fatalf(ir.ClassType, ir.Null, ir.KindTypeField, "type without name")
		}
		return t.Prim.String()
	}
	fields := buf.Fields(nil, t.Struct)
	members := make([]string, len(fields))
	for k, f := range fields {
		members[k] = m.typeName(buf, buf.FieldType(f))
	}
	sig := strings.Join(members, ",")
	if name, ok := m.structNames[sig]; ok {
		return name
	}
	name := m.profile.StructNames[sig]
	if name == "" {
		name = "S" + strconv.Itoa(len(m.structNames))
	}
	m.structNames[sig] = name
	b := append(m.structs, "struct "...)
	b = append(b, name...)
	b = append(b, " {\n"...)
	for k, member := range members {
		b = append(b, '\t')
		b = append(b, member...)
		b = append(b, ' ')
		b = appendMemberName(b, k)
		b = append(b, ";\n"...)
	}
	m.structs = append(b, "};\n"...)
	return name
}

func appendMemberName(b []byte, k int) []byte {
	b = append(b, 'f')
	return strconv.AppendInt(b, int64(k), 10)
}

// declare records the use of the qualifier at i of buf.
func (m *module) declare(buf *ir.Buffer, i ir.Index) {
	inst := buf.At(i)
	q := inst.QualifierKind()
	if q == ir.QualParameter {
		return
	}
	if !m.profile.allows(q) {
		ir.Fatalf(ir.ClassStructural, i, inst.Kind, "%s qualifier not available in %s stage", q, m.profile.Stage)
	}
	typ := m.typeName(buf, buf.TypeOf(i))
	key := qualKey{kind: q, binding: inst.Binding()}
	if got, ok := m.quals[key]; ok && got != typ {
		ir.Fatalf(ir.ClassStructural, i, inst.Kind, "%s binding %d declared as %s and %s", q, key.binding, got, typ)
	}
	m.quals[key] = typ
}

func (p Profile) allows(q ir.QualifierKind) bool {
	switch q {
	case ir.QualShared:
		return p.Stage == StageCompute
	case ir.QualInput, ir.QualOutput:
		return p.Stage != StageCompute
	}
	return true
}

// appendQualifiers appends qualifier declarations ordered by kind, then binding.
// Push constants share a single block.
func (m *module) appendQualifiers(b []byte) []byte {
	keys := make([]qualKey, 0, len(m.quals))
	for key := range m.quals {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b qualKey) int {
		if a.kind != b.kind {
			return int(a.kind) - int(b.kind)
		}
		return a.binding - b.binding
	})
	pushOpen := false
	for _, key := range keys {
		typ := m.quals[key]
		if pushOpen && key.kind != ir.QualPushConstant {
			b = append(b, "};\n"...)
			pushOpen = false
		}
		switch key.kind {
		case ir.QualInput, ir.QualOutput:
			b = append(b, "layout(location = "...)
			b = strconv.AppendInt(b, int64(key.binding), 10)
			if key.kind == ir.QualInput {
				b = append(b, ") in "...)
			} else {
				b = append(b, ") out "...)
			}
		case ir.QualPushConstant:
			if !pushOpen {
				b = append(b, "layout(push_constant) uniform PushConstants {\n"...)
				pushOpen = true
			}
			b = append(b, '\t')
		case ir.QualUniform:
			b = append(b, "layout(std140, binding = "...)
			b = strconv.AppendInt(b, int64(key.binding), 10)
			b = append(b, ") uniform Uniform"...)
			b = strconv.AppendInt(b, int64(key.binding), 10)
			b = append(b, " {\n\t"...)
		case ir.QualBuffer:
			b = AppendShaderBufferDecl(b, "Buffer"+strconv.Itoa(key.binding), "", typ, qualifierName(key.kind, key.binding), key.binding)
			continue
		case ir.QualImage:
			b = append(b, "layout(rgba32f, binding = "...)
			b = strconv.AppendInt(b, int64(key.binding), 10)
			b = append(b, ") uniform "...)
		case ir.QualSampler:
			b = append(b, "layout(binding = "...)
			b = strconv.AppendInt(b, int64(key.binding), 10)
			b = append(b, ") uniform "...)
		case ir.QualShared:
			b = append(b, "shared "...)
		}
		b = append(b, typ...)
		b = append(b, ' ')
		b = append(b, qualifierName(key.kind, key.binding)...)
		b = append(b, ";\n"...)
		if key.kind == ir.QualUniform {
			b = append(b, "};\n"...)
		}
	}
	if pushOpen {
		b = append(b, "};\n"...)
	}
	return b
}

// AppendShaderBufferDecl appends a std430 Shader Storage Buffer Object declaration
// of a runtime sized array.
//
//	layout(std430, binding = <binding>) buffer <BlockName> {
//		<typename> <arrayName>[];
//	} <instanceName>;
func AppendShaderBufferDecl(dst []byte, BlockName, instanceName, typename, arrayName string, binding int) []byte {
	dst = append(dst, "layout(std430, binding = "...)
	dst = strconv.AppendInt(dst, int64(binding), 10)
	dst = append(dst, ") buffer"...)
	if len(BlockName) > 0 {
		dst = append(dst, ' ')
		dst = append(dst, BlockName...)
	}
	dst = append(dst, " {\n\t"...)
	dst = append(dst, typename...)
	dst = append(dst, ' ')
	dst = append(dst, arrayName...)
	dst = append(dst, "[];\n}"...)
	if len(instanceName) > 0 {
		dst = append(dst, ' ')
		dst = append(dst, instanceName...)
	}
	dst = append(dst, ";\n"...)
	return dst
}

var qualPrefix = [...]string{
	ir.QualInput:        "_lin",
	ir.QualOutput:       "_lout",
	ir.QualPushConstant: "_pc",
	ir.QualUniform:      "_ubo",
	ir.QualBuffer:       "_buf",
	ir.QualImage:        "_img",
	ir.QualSampler:      "_smp",
	ir.QualShared:       "_shared",
	ir.QualParameter:    "_arg",
}

// QualifierName returns the identifier generated code uses for a qualifier.
func QualifierName(kind ir.QualifierKind, binding int) string { return qualifierName(kind, binding) }

func qualifierName(kind ir.QualifierKind, binding int) string {
	if int(kind) >= len(qualPrefix) {
		return "_q" + strconv.Itoa(binding)
	}
	return qualPrefix[kind] + strconv.Itoa(binding)
}

func (w *writer) appendMain(b []byte) []byte {
	b = append(b, "void main() {\n"...)
	w.indent = 1
	b = w.appendBody(b)
	return append(b, "}\n"...)
}

type param struct {
	binding int
	idx     ir.Index
}

func (w *writer) appendFunction(b []byte, name string) []byte {
	w.inFunc = true
	var params []param
	ret := "void"
	for idx, inst := range w.buf.Instructions() {
		i := ir.Index(idx)
		switch {
		case inst.Kind == ir.KindQualifier && inst.QualifierKind() == ir.QualParameter:
			params = append(params, param{binding: inst.Binding(), idx: i})
		case inst.Kind == ir.KindReturns && w.k.Used.Has(i) && inst.TypeRef() != ir.Null && ret == "void":
			ret = w.mod.typeName(w.buf, w.buf.TypeAt(inst.TypeRef()))
		}
	}
	slices.SortStableFunc(params, func(a, b param) int { return a.binding - b.binding })
	b = append(b, ret...)
	b = append(b, ' ')
	b = append(b, name...)
	b = append(b, '(')
	next := 0
	for _, p := range params {
		if p.binding < next {
			continue // Same parameter declared twice.
		}
		if p.binding != next {
			ir.Fatalf(ir.ClassStructural, p.idx, ir.KindQualifier, "parameter bindings of %q not contiguous: missing %d", name, next)
		}
		if next > 0 {
			b = append(b, ", "...)
		}
		b = append(b, w.mod.typeName(w.buf, w.buf.TypeOf(p.idx))...)
		b = append(b, ' ')
		b = append(b, qualifierName(ir.QualParameter, p.binding)...)
		next++
	}
	b = append(b, ") {\n"...)
	w.indent = 1
	b = w.appendBody(b)
	return append(b, "}\n"...)
}

func (w *writer) appendIndent(b []byte) []byte {
	for i := 0; i < w.indent; i++ {
		b = append(b, '\t')
	}
	return b
}

// appendBody appends the synthesized instructions of the kernel in buffer order.
func (w *writer) appendBody(b []byte) []byte {
	for idx, inst := range w.buf.Instructions() {
		i := ir.Index(idx)
		if !w.k.Used.Has(i) {
			continue
		}
		if inst.Kind == ir.KindQualifier {
			w.mod.declare(w.buf, i)
		}
		if !w.k.Synthesized.Has(i) {
			continue
		}
		switch inst.Kind {
		case ir.KindStore:
			b = w.appendIndent(b)
			b = w.appendLvalue(b, inst.Dst())
			b = append(b, " = "...)
			b = w.appendExpr(b, inst.StoreSrc(), false)
			b = append(b, ";\n"...)
		case ir.KindBranch:
			switch inst.Form() {
			case ir.BranchIf:
				b = w.appendIndent(b)
				b = append(b, "if ("...)
			case ir.BranchElseIf:
				w.indent--
				b = w.appendIndent(b)
				b = append(b, "} else if ("...)
			case ir.BranchElse:
				w.indent--
				b = w.appendIndent(b)
				b = append(b, "} else {\n"...)
				w.indent++
				continue
			}
			b = w.appendExpr(b, inst.Cond(), false)
			b = append(b, ") {\n"...)
			w.indent++
		case ir.KindWhile:
			b = w.appendIndent(b)
			b = append(b, "while ("...)
			b = w.appendExpr(b, inst.Cond(), false)
			b = append(b, ") {\n"...)
			w.indent++
		case ir.KindEnd:
			w.indent--
			b = w.appendIndent(b)
			b = append(b, "}\n"...)
		case ir.KindReturns:
			b = w.appendReturn(b, i, inst)
		default:
			b = w.appendDefinition(b, i, inst)
		}
	}
	return b
}

func (w *writer) appendReturn(b []byte, i ir.Index, inst ir.Instruction) []byte {
	values := w.buf.ListItems(nil, inst.ArgList())
	b = w.appendIndent(b)
	switch {
	case len(values) == 0:
		b = append(b, "return;\n"...)
	case !w.inFunc:
		ir.Fatalf(ir.ClassStructural, i, inst.Kind, "entry point cannot return values")
	case len(values) == 1:
		b = append(b, "return "...)
		b = w.appendExpr(b, values[0], false)
		b = append(b, ";\n"...)
	default:
		if inst.TypeRef() == ir.Null {
			ir.Fatalf(ir.ClassType, i, inst.Kind, "multiple return values without aggregate type")
		}
		b = append(b, "return "...)
		b = append(b, w.mod.typeName(w.buf, w.buf.TypeAt(inst.TypeRef()))...)
		b = w.appendArgs(b, inst.ArgList())
		b = append(b, ";\n"...)
	}
	return b
}

// appendDefinition appends the declaration of a named local holding the value of i.
func (w *writer) appendDefinition(b []byte, i ir.Index, inst ir.Instruction) []byte {
	b = w.appendIndent(b)
	t := w.buf.TypeOf(i)
	if t == ir.Void {
		// Called for effect only.
		b = w.appendRvalue(b, i, inst)
		return append(b, ";\n"...)
	}
	name := "s" + strconv.Itoa(w.nlocal)
	w.nlocal++
	b = append(b, w.mod.typeName(w.buf, t)...)
	b = append(b, ' ')
	b = append(b, name...)
	if inst.Kind == ir.KindConstruct && inst.Mode() == ir.ConstructRef && inst.ArgList() == ir.Null {
		w.names[i] = name
		return append(b, ";\n"...)
	}
	b = append(b, " = "...)
	b = w.appendRvalue(b, i, inst)
	w.names[i] = name // Named after rendering so self references are caught.
	return append(b, ";\n"...)
}

// appendExpr appends the expression denoting the value of i at a use site.
// wrap requests parentheses around inline expressions that could bind looser than
// the surrounding operator.
func (w *writer) appendExpr(b []byte, i ir.Index, wrap bool) []byte {
	inst := w.buf.At(i)
	if w.k.Synthesized.Has(i) {
		name := w.names[i]
		if name == "" {
			ir.Fatalf(ir.ClassStructural, i, inst.Kind, "value used before it is defined")
		}
		return append(b, name...)
	}
	if wrap && needsParens(inst) {
		b = append(b, '(')
		b = w.appendRvalue(b, i, inst)
		return append(b, ')')
	}
	return w.appendRvalue(b, i, inst)
}

func needsParens(inst ir.Instruction) bool {
	switch inst.Kind {
	case ir.KindOperation:
		return true
	case ir.KindPrimitive:
		switch inst.Prim() {
		case ir.PrimFloat:
			return math.Signbit(float64(inst.Float32()))
		case ir.PrimInt:
			return inst.Int32() < 0
		}
	}
	return false
}

// appendRvalue appends the expression computing the value of i.
func (w *writer) appendRvalue(b []byte, i ir.Index, inst ir.Instruction) []byte {
	switch inst.Kind {
	case ir.KindPrimitive:
		return appendLiteral(b, inst)
	case ir.KindQualifier:
		return append(b, qualifierName(inst.QualifierKind(), inst.Binding())...)
	case ir.KindOperation:
		args := w.buf.ListItems(nil, inst.ArgList())
		op := inst.Opcode()
		if len(args) == 1 {
			b = append(b, op.String()...)
			return w.appendExpr(b, args[0], true)
		}
		if op == ir.OpMod && w.buf.TypeOf(i).Prim.Scalar() == ir.PrimFloat {
			b = append(b, "mod("...)
			b = w.appendExpr(b, args[0], false)
			b = append(b, ", "...)
			b = w.appendExpr(b, args[1], false)
			return append(b, ')')
		}
		b = w.appendExpr(b, args[0], true)
		b = append(b, ' ')
		b = append(b, op.String()...)
		b = append(b, ' ')
		return w.appendExpr(b, args[1], true)
	case ir.KindIntrinsic:
		fn := inst.IntrinsicID()
		b = append(b, fn.String()...)
		if fn.IsBuiltin() {
			return b
		}
		return w.appendArgs(b, inst.ArgList())
	case ir.KindConstruct:
		b = append(b, w.mod.typeName(w.buf, w.buf.TypeAt(inst.TypeRef()))...)
		return w.appendArgs(b, inst.ArgList())
	case ir.KindCall:
		c := ir.MustLookup(inst.Callee(), i)
		b = append(b, c.Name...)
		return w.appendArgs(b, inst.ArgList())
	case ir.KindSwizzle:
		b = w.appendExpr(b, inst.Src(), true)
		b = append(b, '.')
		return append(b, inst.SwizzleCode().String()...)
	case ir.KindLoad:
		offset, isField := inst.Offset()
		if !isField {
			return w.appendExpr(b, inst.Src(), false)
		}
		b = w.appendExpr(b, inst.Src(), true)
		b = append(b, '.')
		return appendMemberName(b, offset)
	case ir.KindIndexing:
		b = w.appendExpr(b, inst.Src(), true)
		b = append(b, '[')
		b = w.appendExpr(b, inst.IndexOperand(), false)
		return append(b, ']')
	}
	ir.Fatalf(ir.ClassStructural, i, inst.Kind, "instruction is not an expression")
	return b
}

func (w *writer) appendArgs(b []byte, head ir.Index) []byte {
	b = append(b, '(')
	for k, arg := range w.buf.ListItems(nil, head) {
		if k > 0 {
			b = append(b, ", "...)
		}
		b = w.appendExpr(b, arg, false)
	}
	return append(b, ')')
}

// appendLvalue appends the assignable path denoted by i. Store targets are always
// rendered as paths into a variable or writable qualifier.
func (w *writer) appendLvalue(b []byte, i ir.Index) []byte {
	inst := w.buf.At(i)
	switch inst.Kind {
	case ir.KindQualifier:
		if !inst.QualifierKind().Writable() {
			ir.Fatalf(ir.ClassStructural, i, inst.Kind, "store to read-only %s qualifier", inst.QualifierKind())
		}
		return append(b, qualifierName(inst.QualifierKind(), inst.Binding())...)
	case ir.KindConstruct:
		if inst.Mode() != ir.ConstructRef || w.names[i] == "" {
			break
		}
		return append(b, w.names[i]...)
	case ir.KindLoad:
		b = w.appendLvalue(b, inst.Src())
		if offset, isField := inst.Offset(); isField {
			b = append(b, '.')
			b = appendMemberName(b, offset)
		}
		return b
	case ir.KindSwizzle:
		b = w.appendLvalue(b, inst.Src())
		b = append(b, '.')
		return append(b, inst.SwizzleCode().String()...)
	case ir.KindIndexing:
		b = w.appendLvalue(b, inst.Src())
		b = append(b, '[')
		b = w.appendExpr(b, inst.IndexOperand(), false)
		return append(b, ']')
	}
	ir.Fatalf(ir.ClassStructural, i, inst.Kind, "store destination is not assignable")
	return b
}

func appendLiteral(b []byte, inst ir.Instruction) []byte {
	switch inst.Prim() {
	case ir.PrimFloat:
		return AppendFloat(b, inst.Float32())
	case ir.PrimInt:
		return strconv.AppendInt(b, int64(inst.Int32()), 10)
	case ir.PrimUint:
		b = strconv.AppendUint(b, uint64(inst.Uint32()), 10)
		return append(b, 'u')
	case ir.PrimBool:
		return strconv.AppendBool(b, inst.BoolValue())
	}
	ir.Fatalf(ir.ClassType, ir.Null, inst.Kind, "literal of type %s", inst.Prim())
	return b
}

// AppendFloat appends the shortest GLSL float literal that reads back as v.
// Infinities and NaN are written as constant divisions.
func AppendFloat(b []byte, v float32) []byte {
	switch {
	case math.IsInf(float64(v), 1):
		return append(b, "(1.0/0.0)"...)
	case math.IsInf(float64(v), -1):
		return append(b, "(-1.0/0.0)"...)
	case v != v:
		return append(b, "(0.0/0.0)"...)
	}
	start := len(b)
	b = strconv.AppendFloat(b, float64(v), 'g', -1, 32)
	if bytes.IndexAny(b[start:], ".e") < 0 {
		b = append(b, ".0"...)
	}
	return b
}

// AppendFloats appends the float literals of s separated by sep.
func AppendFloats(b []byte, sep string, s ...float32) []byte {
	for i, v := range s {
		if i > 0 {
			b = append(b, sep...)
		}
		b = AppendFloat(b, v)
	}
	return b
}

func hash(b []byte, in uint64) uint64 {
	x := in
	for len(b) >= 8 {
		x ^= binary.LittleEndian.Uint64(b)
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
		b = b[8:]
	}
	if len(b) > 0 {
		var buf [8]byte
		copy(buf[:], b)
		x ^= binary.LittleEndian.Uint64(buf[:])
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
	}
	return x
}
