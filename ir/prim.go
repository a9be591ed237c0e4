package ir

import (
	"strconv"
	"strings"
)

// Prim enumerates the primitive GLSL types.
type Prim uint8

const (
	// PrimNone marks a type field holding a nested struct.
	PrimNone Prim = iota
	PrimVoid
	PrimBool
	PrimInt
	PrimUint
	PrimFloat
	PrimBVec2
	PrimBVec3
	PrimBVec4
	PrimIVec2
	PrimIVec3
	PrimIVec4
	PrimUVec2
	PrimUVec3
	PrimUVec4
	PrimVec2
	PrimVec3
	PrimVec4
	PrimMat2
	PrimMat3
	PrimMat4
	PrimSampler2D
	PrimImage2D
	primCount
)

var primNames = [primCount]string{
	PrimNone:      "none",
	PrimVoid:      "void",
	PrimBool:      "bool",
	PrimInt:       "int",
	PrimUint:      "uint",
	PrimFloat:     "float",
	PrimBVec2:     "bvec2",
	PrimBVec3:     "bvec3",
	PrimBVec4:     "bvec4",
	PrimIVec2:     "ivec2",
	PrimIVec3:     "ivec3",
	PrimIVec4:     "ivec4",
	PrimUVec2:     "uvec2",
	PrimUVec3:     "uvec3",
	PrimUVec4:     "uvec4",
	PrimVec2:      "vec2",
	PrimVec3:      "vec3",
	PrimVec4:      "vec4",
	PrimMat2:      "mat2",
	PrimMat3:      "mat3",
	PrimMat4:      "mat4",
	PrimSampler2D: "sampler2D",
	PrimImage2D:   "image2D",
}

// String returns the GLSL spelling of the primitive.
func (p Prim) String() string {
	if p >= primCount {
		return "Prim(" + strconv.Itoa(int(p)) + ")"
	}
	return primNames[p]
}

// ParsePrim is the inverse of [Prim.String].
func ParsePrim(s string) (Prim, bool) {
	for i, name := range primNames {
		if name == s {
			return Prim(i), true
		}
	}
	return PrimNone, false
}

func (p Prim) IsScalar() bool { return p >= PrimBool && p <= PrimFloat }
func (p Prim) IsVector() bool { return p >= PrimBVec2 && p <= PrimVec4 }
func (p Prim) IsMatrix() bool { return p >= PrimMat2 && p <= PrimMat4 }
func (p Prim) IsOpaque() bool { return p == PrimSampler2D || p == PrimImage2D }

// Scalar returns the component type of a scalar, vector or matrix. It returns PrimNone for other types.
func (p Prim) Scalar() Prim {
	switch {
	case p.IsScalar():
		return p
	case p >= PrimBVec2 && p <= PrimBVec4:
		return PrimBool
	case p >= PrimIVec2 && p <= PrimIVec4:
		return PrimInt
	case p >= PrimUVec2 && p <= PrimUVec4:
		return PrimUint
	case p >= PrimVec2 && p <= PrimVec4, p.IsMatrix():
		return PrimFloat
	}
	return PrimNone
}

// Components returns the number of components of a scalar (1) or vector (2..4)
// and the number of columns of a square matrix. Other types return 0.
func (p Prim) Components() int {
	switch {
	case p.IsScalar():
		return 1
	case p.IsVector():
		return 2 + int(p-PrimBVec2)%3
	case p.IsMatrix():
		return 2 + int(p-PrimMat2)
	}
	return 0
}

// Size returns the total number of scalar components held by a value of type p.
func (p Prim) Size() int {
	n := p.Components()
	if p.IsMatrix() {
		n *= n
	}
	return n
}

// Column returns the column vector type of a matrix.
func (p Prim) Column() Prim {
	if !p.IsMatrix() {
		return PrimNone
	}
	return VectorOf(PrimFloat, p.Components())
}

// IsFloat reports whether p is built from float components.
func (p Prim) IsFloat() bool { return p.Scalar() == PrimFloat }

// Differentiable reports whether forward mode derivatives are defined for values of type p.
func (p Prim) Differentiable() bool { return p.IsFloat() }

// VectorOf returns the n component vector of the given scalar type. n == 1 returns the scalar.
// It returns PrimNone for invalid combinations.
func VectorOf(scalar Prim, n int) Prim {
	if n == 1 && scalar.IsScalar() {
		return scalar
	}
	if n < 2 || n > 4 {
		return PrimNone
	}
	switch scalar {
	case PrimBool:
		return PrimBVec2 + Prim(n-2)
	case PrimInt:
		return PrimIVec2 + Prim(n-2)
	case PrimUint:
		return PrimUVec2 + Prim(n-2)
	case PrimFloat:
		return PrimVec2 + Prim(n-2)
	}
	return PrimNone
}

// Opcode enumerates built-in operators.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNot
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr
	opCount
)

var opInfo = [opCount]struct {
	sym   string
	arity int
}{
	OpInvalid: {"?", 0},
	OpAdd:     {"+", 2},
	OpSub:     {"-", 2},
	OpMul:     {"*", 2},
	OpDiv:     {"/", 2},
	OpMod:     {"%", 2},
	OpNeg:     {"-", 1},
	OpEq:      {"==", 2},
	OpNe:      {"!=", 2},
	OpLt:      {"<", 2},
	OpLe:      {"<=", 2},
	OpGt:      {">", 2},
	OpGe:      {">=", 2},
	OpAnd:     {"&&", 2},
	OpOr:      {"||", 2},
	OpNot:     {"!", 1},
	OpBitAnd:  {"&", 2},
	OpBitOr:   {"|", 2},
	OpBitXor:  {"^", 2},
	OpBitNot:  {"~", 1},
	OpShl:     {"<<", 2},
	OpShr:     {">>", 2},
}

// String returns the GLSL operator symbol.
func (op Opcode) String() string {
	if op >= opCount {
		return "Opcode(" + strconv.Itoa(int(op)) + ")"
	}
	return opInfo[op].sym
}

// Arity returns the number of operands the operator takes.
func (op Opcode) Arity() int {
	if op >= opCount {
		return 0
	}
	return opInfo[op].arity
}

// ParseOpcode looks up an operator by symbol. Unary operators are spelled "neg",
// "not" and "bitnot" to distinguish them from their binary counterparts.
func ParseOpcode(s string) (Opcode, bool) {
	switch s {
	case "neg":
		return OpNeg, true
	case "not":
		return OpNot, true
	case "bitnot":
		return OpBitNot, true
	}
	for i := OpAdd; i < opCount; i++ {
		if opInfo[i].arity == 2 && opInfo[i].sym == s {
			return i, true
		}
	}
	return OpInvalid, false
}

func (op Opcode) IsComparison() bool { return op >= OpEq && op <= OpGe }
func (op Opcode) IsLogical() bool    { return op == OpAnd || op == OpOr || op == OpNot }

// IsBitwise reports whether op is a bitwise or shift operator, defined on integers only.
func (op Opcode) IsBitwise() bool { return op >= OpBitAnd && op <= OpShr }

// IntrinsicID enumerates GLSL built-in functions and variables.
type IntrinsicID uint8

const (
	IntrinsicInvalid IntrinsicID = iota
	IntrinsicSin
	IntrinsicCos
	IntrinsicTan
	IntrinsicAsin
	IntrinsicAcos
	IntrinsicAtan
	IntrinsicExp
	IntrinsicLog
	IntrinsicExp2
	IntrinsicLog2
	IntrinsicSqrt
	IntrinsicInverseSqrt
	IntrinsicAbs
	IntrinsicSign
	IntrinsicFloor
	IntrinsicCeil
	IntrinsicFract
	IntrinsicPow
	IntrinsicMin
	IntrinsicMax
	IntrinsicClamp
	IntrinsicMix
	IntrinsicDot
	IntrinsicCross
	IntrinsicLength
	IntrinsicDistance
	IntrinsicNormalize
	IntrinsicTexture
	IntrinsicImageLoad
	IntrinsicImageStore
	IntrinsicGlobalInvocationID
	IntrinsicLocalInvocationID
	IntrinsicFragCoord
	IntrinsicVertexIndex
	intrinsicCount
)

var intrinsicInfo = [intrinsicCount]struct {
	name  string
	arity int
	// builtin intrinsics are variables, rendered without a call.
	builtin bool
}{
	IntrinsicInvalid:            {"invalid", 0, false},
	IntrinsicSin:                {"sin", 1, false},
	IntrinsicCos:                {"cos", 1, false},
	IntrinsicTan:                {"tan", 1, false},
	IntrinsicAsin:               {"asin", 1, false},
	IntrinsicAcos:               {"acos", 1, false},
	IntrinsicAtan:               {"atan", 1, false},
	IntrinsicExp:                {"exp", 1, false},
	IntrinsicLog:                {"log", 1, false},
	IntrinsicExp2:               {"exp2", 1, false},
	IntrinsicLog2:               {"log2", 1, false},
	IntrinsicSqrt:               {"sqrt", 1, false},
	IntrinsicInverseSqrt:        {"inversesqrt", 1, false},
	IntrinsicAbs:                {"abs", 1, false},
	IntrinsicSign:               {"sign", 1, false},
	IntrinsicFloor:              {"floor", 1, false},
	IntrinsicCeil:               {"ceil", 1, false},
	IntrinsicFract:              {"fract", 1, false},
	IntrinsicPow:                {"pow", 2, false},
	IntrinsicMin:                {"min", 2, false},
	IntrinsicMax:                {"max", 2, false},
	IntrinsicClamp:              {"clamp", 3, false},
	IntrinsicMix:                {"mix", 3, false},
	IntrinsicDot:                {"dot", 2, false},
	IntrinsicCross:              {"cross", 2, false},
	IntrinsicLength:             {"length", 1, false},
	IntrinsicDistance:           {"distance", 2, false},
	IntrinsicNormalize:          {"normalize", 1, false},
	IntrinsicTexture:            {"texture", 2, false},
	IntrinsicImageLoad:          {"imageLoad", 2, false},
	IntrinsicImageStore:         {"imageStore", 3, false},
	IntrinsicGlobalInvocationID: {"gl_GlobalInvocationID", 0, true},
	IntrinsicLocalInvocationID:  {"gl_LocalInvocationID", 0, true},
	IntrinsicFragCoord:          {"gl_FragCoord", 0, true},
	IntrinsicVertexIndex:        {"gl_VertexIndex", 0, true},
}

// String returns the GLSL name of the intrinsic.
func (fn IntrinsicID) String() string {
	if fn >= intrinsicCount {
		return "IntrinsicID(" + strconv.Itoa(int(fn)) + ")"
	}
	return intrinsicInfo[fn].name
}

func (fn IntrinsicID) Arity() int {
	if fn >= intrinsicCount {
		return 0
	}
	return intrinsicInfo[fn].arity
}

// IsBuiltin reports whether fn is a built-in variable such as gl_GlobalInvocationID.
func (fn IntrinsicID) IsBuiltin() bool { return fn < intrinsicCount && intrinsicInfo[fn].builtin }

// HasEffect reports whether calls to fn write program state.
func (fn IntrinsicID) HasEffect() bool { return fn == IntrinsicImageStore }

// IsStateful reports whether the result of fn depends on mutable state.
func (fn IntrinsicID) IsStateful() bool { return fn == IntrinsicImageLoad }

// LookupIntrinsic finds an intrinsic by its GLSL name.
func LookupIntrinsic(name string) (IntrinsicID, bool) {
	for i := IntrinsicSin; i < intrinsicCount; i++ {
		if intrinsicInfo[i].name == name {
			return i, true
		}
	}
	return IntrinsicInvalid, false
}

// SwizzleCode packs a component selection of one to four components.
// The low 3 bits hold the length and each component takes 2 bits after that.
type SwizzleCode uint16

// NewSwizzle returns the swizzle selecting the given component indices in order.
// It returns 0 for invalid selections.
func NewSwizzle(components ...int) SwizzleCode {
	if len(components) == 0 || len(components) > 4 {
		return 0
	}
	code := SwizzleCode(len(components))
	for i, c := range components {
		if c < 0 || c > 3 {
			return 0
		}
		code |= SwizzleCode(c) << (3 + 2*i)
	}
	return code
}

// ParseSwizzle parses a swizzle written in one of the xyzw, rgba or stpq sets.
func ParseSwizzle(s string) (SwizzleCode, bool) {
	if len(s) == 0 || len(s) > 4 {
		return 0, false
	}
	var comps [4]int
	for _, set := range [...]string{"xyzw", "rgba", "stpq"} {
		ok := true
		for i := 0; i < len(s) && ok; i++ {
			comps[i] = strings.IndexByte(set, s[i])
			ok = comps[i] >= 0
		}
		if ok {
			return NewSwizzle(comps[:len(s)]...), true
		}
	}
	return 0, false
}

func (s SwizzleCode) Len() int { return int(s & 0b111) }

// Component returns the source component selected at position i.
func (s SwizzleCode) Component(i int) int { return int(s>>(3+2*i)) & 0b11 }

// Max returns the highest component index selected.
func (s SwizzleCode) Max() int {
	m := 0
	for i := 0; i < s.Len(); i++ {
		m = max(m, s.Component(i))
	}
	return m
}

func (s SwizzleCode) String() string {
	var buf [4]byte
	n := s.Len()
	for i := 0; i < n; i++ {
		buf[i] = "xyzw"[s.Component(i)]
	}
	return string(buf[:n])
}
