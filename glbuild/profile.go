package glbuild

import (
	"strconv"
)

// Stage is the shader stage a kernel is generated for.
type Stage uint8

const (
	StageFragment Stage = iota
	StageVertex
	StageCompute
)

func (s Stage) String() string {
	switch s {
	case StageFragment:
		return "fragment"
	case StageVertex:
		return "vertex"
	case StageCompute:
		return "compute"
	}
	return "Stage(" + strconv.Itoa(int(s)) + ")"
}

// ParseStage is the inverse of [Stage.String].
func ParseStage(s string) (Stage, bool) {
	for st := StageFragment; st <= StageCompute; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Profile configures the dialect and header of generated GLSL.
type Profile struct {
	// Version is the GLSL version number written in the #version directive.
	Version int
	// ES selects GLSL ES: the version directive gets the "es" suffix and default precision
	// qualifiers are declared.
	ES    bool
	Stage Stage
	// LocalSize is the compute work group size. Only used by [StageCompute].
	LocalSize [3]int
	// StructNames maps a struct's member types, comma separated, to the name it is declared with.
	// Structs not found here are named S0, S1, ... in order of first use.
	StructNames map[string]string
}

// DefaultProfile returns a desktop GLSL 4.50 fragment profile.
func DefaultProfile() Profile {
	return Profile{
		Version:   450,
		Stage:     StageFragment,
		LocalSize: [3]int{32, 1, 1},
	}
}

// DefaultComputeProfile returns a desktop GLSL 4.30 compute profile, the lowest
// version with compute shaders and storage buffers.
func DefaultComputeProfile() Profile {
	return Profile{
		Version:   430,
		Stage:     StageCompute,
		LocalSize: [3]int{32, 1, 1},
	}
}

// AppendHeader appends the version directive and the stage specific preamble.
func (p Profile) AppendHeader(b []byte) []byte {
	b = append(b, "#version "...)
	b = strconv.AppendInt(b, int64(p.Version), 10)
	if p.ES {
		b = append(b, " es"...)
	}
	b = append(b, '\n')
	if p.ES {
		b = append(b, "precision highp float;\nprecision highp int;\n"...)
	}
	if p.Stage == StageCompute {
		x, y, z := max(p.LocalSize[0], 1), max(p.LocalSize[1], 1), max(p.LocalSize[2], 1)
		b = append(b, "layout(local_size_x = "...)
		b = strconv.AppendInt(b, int64(x), 10)
		b = append(b, ", local_size_y = "...)
		b = strconv.AppendInt(b, int64(y), 10)
		b = append(b, ", local_size_z = "...)
		b = strconv.AppendInt(b, int64(z), 10)
		b = append(b, ") in;\n"...)
	}
	return b
}
