//go:build !tinygo && cgo

package gleval

import (
	"bytes"
	"errors"

	"github.com/soypat/glgl/v4.6-core/glgl"
	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/kernel"
)

// Init1x1GLFW starts a 1x1 sized GLFW so that user can start working with GPU.
// It returns a termination function that should be called when user is done running loads on GPU.
func Init1x1GLFW() (terminate func(), err error) {
	_, terminate, err = glgl.InitWithCurrentWindow33(glgl.WindowConfig{
		Title:   "compute",
		Version: [2]int{4, 6},
		Width:   1,
		Height:  1,
	})
	return terminate, err
}

// NewGPUCompute generates GLSL for the compute kernel k and compiles it. A GL
// context must be current, see [Init1x1GLFW]. Buffers follow the layout of [CPUCompute].
func NewGPUCompute(k *kernel.Kernel, cfg ComputeConfig) (*GPUCompute, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	} else if err := checkBuffers(k); err != nil {
		return nil, err
	}
	profile := glbuild.DefaultComputeProfile()
	profile.LocalSize = [3]int{cfg.InvocX, 1, 1}
	var source bytes.Buffer
	_, err := glbuild.NewProgrammer(profile).WriteProgram(&source, k)
	if err != nil {
		return nil, err
	}
	src := source.String()
	source.WriteByte(0)
	prog, err := glgl.CompileProgram(glgl.ShaderSource{Compute: source.String()})
	if err != nil {
		return nil, errors.New(src + "\n" + err.Error())
	}
	return &GPUCompute{prog: prog, cfg: cfg, source: src}, nil
}

type GPUCompute struct {
	prog   glgl.Program
	cfg    ComputeConfig
	source string
}

// Source returns the GLSL the program was compiled from.
func (g *GPUCompute) Source() string { return g.source }

func (g *GPUCompute) Evaluate(in, out []float32) error {
	if len(in) == 0 || len(out) == 0 {
		return errEmptyBuffers
	} else if len(in) != len(out) {
		return errMismatchBufferLength
	}
	g.prog.Bind()
	defer g.prog.Unbind()
	return computeEvaluate(in, out, g.cfg.InvocX)
}

// Delete releases the compiled program.
func (g *GPUCompute) Delete() { g.prog.Delete() }
