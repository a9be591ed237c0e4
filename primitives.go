package gsir

import (
	"github.com/soypat/geometry/ms2"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/gsir/ir"
)

// Value is a recorded shader value.
type Value interface {
	// Synthesize returns the index of the instruction producing the value.
	Synthesize() ir.Index
	// Type returns the type of the value in the buffer it was recorded in.
	Type() ir.Type
	base() value
}

// value is the common part of every value kind.
type value struct {
	b   *Builder
	buf *ir.Buffer
	idx ir.Index
	t   ir.Type
}

func (v value) Synthesize() ir.Index { return v.idx }
func (v value) Type() ir.Type        { return v.t }
func (v value) base() value          { return v }

// Valid reports whether the value was recorded without errors.
func (v value) Valid() bool { return v.idx != ir.Null }

// Scalar is a bool, int, uint or float value.
type Scalar struct{ value }

// Vector is a vector value of two to four components.
type Vector struct{ value }

// Matrix is a square float matrix value.
type Matrix struct{ value }

// Aggregate is a struct value.
type Aggregate struct{ value }

// wrap returns v as the value kind matching its type. Void values are nil.
func wrap(v value) Value {
	switch {
	case v.idx == ir.Null:
		return Scalar{v}
	case v.t.IsStruct():
		return Aggregate{v}
	case v.t.Prim.IsVector():
		return Vector{v}
	case v.t.Prim.IsMatrix():
		return Matrix{v}
	case v.t.Prim == ir.PrimVoid:
		return nil
	}
	return Scalar{v}
}

// Len returns the number of components of the vector.
func (v Vector) Len() int { return v.t.Prim.Components() }

func (v Vector) X() Scalar { return v.component(0) }
func (v Vector) Y() Scalar { return v.component(1) }
func (v Vector) Z() Scalar { return v.component(2) }
func (v Vector) W() Scalar { return v.component(3) }

func (v Vector) component(i int) Scalar {
	return Scalar{v.b.value(func() ir.Index { return v.b.e.Swizzle(v.idx, ir.NewSwizzle(i)) }, v)}
}

// Swizzle selects components of v by name, such as "xy" or "zyx".
func (v Vector) Swizzle(s string) Value {
	b := v.b
	return wrap(b.value(func() ir.Index {
		code, ok := ir.ParseSwizzle(s)
		if !ok {
			b.fatalf(ir.ClassType, "invalid swizzle %q", s)
		}
		return b.e.Swizzle(v.idx, code)
	}, v))
}

// At returns the component of v at a dynamic index of type int or uint.
func (v Vector) At(i Value) Scalar {
	return Scalar{v.b.value(func() ir.Index { return v.b.e.Indexing(v.idx, i.Synthesize()) }, v, i)}
}

// Col returns column j of the matrix.
func (m Matrix) Col(j int) Vector {
	b := m.b
	return Vector{b.value(func() ir.Index { return b.e.Indexing(m.idx, b.e.Int(int32(j))) }, m)}
}

// Field returns the struct member at position k.
func (a Aggregate) Field(k int) Value {
	return wrap(a.b.value(func() ir.Index { return a.b.e.LoadField(a.idx, k) }, a))
}

// NumField returns the number of members of the struct.
func (a Aggregate) NumField() int {
	if a.idx == ir.Null {
		return 0
	}
	return len(a.buf.Fields(nil, a.t.Struct))
}

func (b *Builder) Float(v float32) Scalar {
	return Scalar{b.value(func() ir.Index { return b.e.Float(v) })}
}

func (b *Builder) Int(v int32) Scalar {
	return Scalar{b.value(func() ir.Index { return b.e.Int(v) })}
}

func (b *Builder) Uint(v uint32) Scalar {
	return Scalar{b.value(func() ir.Index { return b.e.Uint(v) })}
}

func (b *Builder) Bool(v bool) Scalar {
	return Scalar{b.value(func() ir.Index { return b.e.Bool(v) })}
}

// Vec2 records a vec2 literal.
func (b *Builder) Vec2(v ms2.Vec) Vector {
	return b.floats(ir.PrimVec2, v.X, v.Y)
}

// Vec3 records a vec3 literal.
func (b *Builder) Vec3(v ms3.Vec) Vector {
	return b.floats(ir.PrimVec3, v.X, v.Y, v.Z)
}

// Vec4 records a vec4 literal.
func (b *Builder) Vec4(x, y, z, w float32) Vector {
	return b.floats(ir.PrimVec4, x, y, z, w)
}

// Mat3 records a mat3 literal. GLSL matrices are built column by column.
func (b *Builder) Mat3(m ms3.Mat3) Matrix {
	arr := m.Array()
	var cols [9]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cols[j*3+i] = arr[i*3+j]
		}
	}
	return Matrix{b.literal(ir.PrimMat3, cols[:])}
}

func (b *Builder) floats(p ir.Prim, comps ...float32) Vector {
	return Vector{b.literal(p, comps)}
}

func (b *Builder) literal(p ir.Prim, comps []float32) value {
	return b.value(func() ir.Index {
		args := make([]ir.Index, len(comps))
		for i, c := range comps {
			args[i] = b.e.Float(c)
		}
		return b.e.Construct(b.prim(p), ir.ConstructValue, args...)
	})
}

// Construct records a constructor of primitive type p following GLSL constructor
// rules: a single scalar fills every component, a single value of another type is
// converted, and several arguments are concatenated.
func (b *Builder) Construct(p ir.Prim, args ...Value) Value {
	return wrap(b.value(func() ir.Index {
		return b.e.Construct(b.prim(p), ir.ConstructValue, b.indices(args)...)
	}, args...))
}

// Struct records a struct value with the given members. The struct type is
// declared from the member types.
func (b *Builder) Struct(fields ...Value) Aggregate {
	return Aggregate{b.value(func() ir.Index {
		if len(fields) == 0 {
			b.fatalf(ir.ClassType, "struct without members")
		}
		types := make([]ir.Type, len(fields))
		for i, f := range fields {
			types[i] = f.Type()
		}
		if len(fields) == 1 && !types[0].IsStruct() {
			b.fatalf(ir.ClassType, "single member struct of %s is indistinguishable from its member", types[0])
		}
		typ := b.e.Types(types...)
		return b.e.Construct(typ, ir.ConstructValue, b.indices(fields)...)
	}, fields...)}
}

// Var declares a local variable initialized to init.
func (b *Builder) Var(init Value) Place {
	return Place{b.value(func() ir.Index {
		return b.e.Construct(b.typeIndex(init.Type()), ir.ConstructRef, init.Synthesize())
	}, init)}
}

// Input declares a stage input of type p.
func (b *Builder) Input(p ir.Prim, binding int) Value {
	return b.qualifier(p, ir.QualInput, binding)
}

// Uniform declares a uniform of type p.
func (b *Builder) Uniform(p ir.Prim, binding int) Value {
	return b.qualifier(p, ir.QualUniform, binding)
}

// PushConstant declares a push constant of type p.
func (b *Builder) PushConstant(p ir.Prim, binding int) Value {
	return b.qualifier(p, ir.QualPushConstant, binding)
}

func (b *Builder) qualifier(p ir.Prim, kind ir.QualifierKind, binding int) Value {
	return wrap(b.value(func() ir.Index { return b.e.Qualifier(b.prim(p), kind, binding) }))
}

// Output declares a stage output of type p.
func (b *Builder) Output(p ir.Prim, binding int) Place {
	return Place{b.value(func() ir.Index { return b.e.Qualifier(b.prim(p), ir.QualOutput, binding) })}
}

// Shared declares a variable shared by a compute work group.
func (b *Builder) Shared(p ir.Prim, binding int) Place {
	return Place{b.value(func() ir.Index { return b.e.Qualifier(b.prim(p), ir.QualShared, binding) })}
}

// StorageBuffer is a shader storage buffer of elements of a single type.
type StorageBuffer struct{ value }

// Buffer declares a storage buffer with elements of type p.
func (b *Builder) Buffer(p ir.Prim, binding int) StorageBuffer {
	return StorageBuffer{b.value(func() ir.Index { return b.e.Qualifier(b.prim(p), ir.QualBuffer, binding) })}
}

// At returns the element at index i, an int or uint value.
func (s StorageBuffer) At(i Value) Place {
	return Place{s.b.value(func() ir.Index { return s.b.e.Indexing(s.idx, i.Synthesize()) }, s, i)}
}

// Sampler is a combined 2D texture sampler.
type Sampler struct{ value }

// Sampler2D declares a 2D texture sampler.
func (b *Builder) Sampler2D(binding int) Sampler {
	return Sampler{b.value(func() ir.Index { return b.e.Qualifier(b.prim(ir.PrimSampler2D), ir.QualSampler, binding) })}
}

// Texture samples s at uv.
func (s Sampler) Texture(uv Vector) Vector {
	b := s.b
	return Vector{b.value(func() ir.Index {
		return b.e.Intrinsic(ir.IntrinsicTexture, b.prim(ir.PrimVec4), s.idx, uv.idx)
	}, s, uv)}
}

// GlobalInvocationID returns the compute invocation's global id, a uvec3.
func (b *Builder) GlobalInvocationID() Vector {
	return Vector{b.builtin(ir.IntrinsicGlobalInvocationID, ir.PrimUVec3)}
}

// LocalInvocationID returns the compute invocation's id within its work group, a uvec3.
func (b *Builder) LocalInvocationID() Vector {
	return Vector{b.builtin(ir.IntrinsicLocalInvocationID, ir.PrimUVec3)}
}

// FragCoord returns the fragment's window coordinates, a vec4.
func (b *Builder) FragCoord() Vector {
	return Vector{b.builtin(ir.IntrinsicFragCoord, ir.PrimVec4)}
}

// VertexIndex returns the index of the vertex being processed.
func (b *Builder) VertexIndex() Scalar {
	return Scalar{b.builtin(ir.IntrinsicVertexIndex, ir.PrimInt)}
}
