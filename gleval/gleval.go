// Package gleval evaluates analyzed kernels. [Machine] interprets kernels on the
// CPU with GLSL semantics; [CPUCompute] and [GPUCompute] evaluate compute kernels
// over storage buffers on the CPU and on the GPU respectively.
package gleval

import (
	"errors"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms2"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/gsir/ir"
)

var (
	errEmptyBuffers         = errors.New("empty buffers")
	errMismatchBufferLength = errors.New("input and output buffer length mismatch")
)

// Value is a GLSL value: a scalar, vector or matrix of Prim, or a struct when Prim
// is [ir.PrimNone]. Components are stored as raw 32 bit words interpreted by the
// scalar type; matrices are stored column major.
type Value struct {
	Prim   ir.Prim
	comps  [16]uint32
	Fields []Value
}

func Float(v float32) Value { return scalar(ir.PrimFloat, math32.Float32bits(v)) }
func Int(v int32) Value     { return scalar(ir.PrimInt, uint32(v)) }
func Uint(v uint32) Value   { return scalar(ir.PrimUint, v) }
func Bool(v bool) Value {
	if v {
		return scalar(ir.PrimBool, 1)
	}
	return scalar(ir.PrimBool, 0)
}

func scalar(p ir.Prim, bits uint32) Value {
	v := Value{Prim: p}
	v.comps[0] = bits
	return v
}

// Vector returns a float vector with the given components.
func Vector(comps ...float32) Value {
	v := Value{Prim: ir.VectorOf(ir.PrimFloat, len(comps))}
	for k, c := range comps {
		v.comps[k] = math32.Float32bits(c)
	}
	return v
}

func Vec2(v ms2.Vec) Value { return Vector(v.X, v.Y) }
func Vec3(v ms3.Vec) Value { return Vector(v.X, v.Y, v.Z) }

// Mat3 returns the mat3 value of m.
func Mat3(m ms3.Mat3) Value {
	arr := m.Array()
	v := Value{Prim: ir.PrimMat3}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v.comps[j*3+i] = math32.Float32bits(arr[i*3+j]) // Column major.
		}
	}
	return v
}

// Struct returns a struct value with the given member values.
func Struct(fields ...Value) Value {
	return Value{Prim: ir.PrimNone, Fields: fields}
}

// Len returns the number of scalar components of a non-struct value.
func (v Value) Len() int { return v.Prim.Size() }

func (v Value) IsStruct() bool { return v.Prim == ir.PrimNone }

// Float returns component k as a float, converting from the value's scalar type.
func (v Value) Float(k int) float32 {
	return math32.Float32frombits(convert(v.comps[k], v.Prim.Scalar(), ir.PrimFloat))
}

func (v Value) Int(k int) int32 { return int32(convert(v.comps[k], v.Prim.Scalar(), ir.PrimInt)) }

func (v Value) Uint(k int) uint32 { return convert(v.comps[k], v.Prim.Scalar(), ir.PrimUint) }

func (v Value) Bool(k int) bool { return convert(v.comps[k], v.Prim.Scalar(), ir.PrimBool) != 0 }

// Floats appends the components of v converted to float.
func (v Value) Floats(dst []float32) []float32 {
	for k := 0; k < v.Len(); k++ {
		dst = append(dst, v.Float(k))
	}
	return dst
}

func (v Value) Vec2() ms2.Vec { return ms2.Vec{X: v.Float(0), Y: v.Float(1)} }
func (v Value) Vec3() ms3.Vec { return ms3.Vec{X: v.Float(0), Y: v.Float(1), Z: v.Float(2)} }

// Field returns struct member k.
func (v Value) Field(k int) Value { return v.Fields[k] }

func (v Value) String() string {
	if v.IsStruct() {
		b := []byte{'{'}
		for k, f := range v.Fields {
			if k > 0 {
				b = append(b, ", "...)
			}
			b = append(b, f.String()...)
		}
		return string(append(b, '}'))
	}
	b := append([]byte(v.Prim.String()), '(')
	for k := 0; k < v.Len(); k++ {
		if k > 0 {
			b = append(b, ", "...)
		}
		switch v.Prim.Scalar() {
		case ir.PrimFloat:
			b = strconv.AppendFloat(b, float64(v.Float(k)), 'g', -1, 32)
		case ir.PrimInt:
			b = strconv.AppendInt(b, int64(v.Int(k)), 10)
		case ir.PrimUint:
			b = strconv.AppendUint(b, uint64(v.Uint(k)), 10)
		case ir.PrimBool:
			b = strconv.AppendBool(b, v.Bool(k))
		}
	}
	return string(append(b, ')'))
}

// Equal reports whether v and w hold the same type and components.
func (v Value) Equal(w Value) bool {
	if v.Prim != w.Prim || len(v.Fields) != len(w.Fields) {
		return false
	}
	for k := range v.Fields {
		if !v.Fields[k].Equal(w.Fields[k]) {
			return false
		}
	}
	for k := 0; k < v.Len(); k++ {
		if v.Prim.IsFloat() {
			if v.Float(k) != w.Float(k) {
				return false
			}
		} else if v.comps[k] != w.comps[k] {
			return false
		}
	}
	return true
}

// clone returns a copy of v that shares no struct members with v.
func (v Value) clone() Value {
	if v.Fields != nil {
		fields := make([]Value, len(v.Fields))
		for k, f := range v.Fields {
			fields[k] = f.clone()
		}
		v.Fields = fields
	}
	return v
}

// zero returns the zero value of type t declared in buf.
func zero(buf *ir.Buffer, t ir.Type) Value {
	if !t.IsStruct() {
		return Value{Prim: t.Prim}
	}
	fields := buf.Fields(nil, t.Struct)
	v := Value{Prim: ir.PrimNone, Fields: make([]Value, len(fields))}
	for k, f := range fields {
		v.Fields[k] = zero(buf, buf.FieldType(f))
	}
	return v
}

// convert converts one component between scalar types the way GLSL constructors do.
func convert(bits uint32, from, to ir.Prim) uint32 {
	if from == to {
		return bits
	}
	switch to {
	case ir.PrimFloat:
		var f float32
		switch from {
		case ir.PrimInt:
			f = float32(int32(bits))
		case ir.PrimUint:
			f = float32(bits)
		case ir.PrimBool:
			if bits != 0 {
				f = 1
			}
		}
		return math32.Float32bits(f)
	case ir.PrimInt, ir.PrimUint:
		switch from {
		case ir.PrimFloat:
			f := math32.Float32frombits(bits)
			if to == ir.PrimInt {
				return uint32(int32(f))
			}
			return uint32(f)
		case ir.PrimBool:
			if bits != 0 {
				return 1
			}
			return 0
		}
		return bits // int <-> uint reinterprets.
	case ir.PrimBool:
		if from == ir.PrimFloat {
			if math32.Float32frombits(bits) != 0 {
				return 1
			}
			return 0
		}
		if bits != 0 {
			return 1
		}
		return 0
	}
	return bits
}
