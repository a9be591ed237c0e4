//go:build tinygo || !cgo

package gleval

import (
	"errors"

	"github.com/soypat/gsir/kernel"
)

var errNoCGO = errors.New("GPU evaluation requires CGo and is not supported on TinyGo")

func Init1x1GLFW() (terminate func(), err error) {
	return nil, errNoCGO
}

// NewGPUCompute compiles a compute kernel for the GPU.
func NewGPUCompute(k *kernel.Kernel, cfg ComputeConfig) (*GPUCompute, error) {
	return nil, errNoCGO
}

type GPUCompute struct{}

func (g *GPUCompute) Source() string { return "" }

func (g *GPUCompute) Evaluate(in, out []float32) error {
	return errNoCGO
}

func (g *GPUCompute) Delete() {}
