package gleval

import (
	"errors"

	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
)

// Storage buffer bindings of compute kernels evaluated by [CPUCompute] and [GPUCompute].
const (
	BindingIn  = 0
	BindingOut = 1
)

// ComputeConfig configures compute kernel evaluation.
type ComputeConfig struct {
	// InvocX is the work group size along x.
	InvocX int
}

func (cfg ComputeConfig) validate() error {
	if cfg.InvocX <= 0 {
		return errors.New("invalid compute InvocX")
	}
	return nil
}

// checkBuffers verifies k declares the float storage buffers read and written by
// the compute evaluators.
func checkBuffers(k *kernel.Kernel) error {
	var found [2]bool
	buf := k.Buffer
	for idx, inst := range buf.Instructions() {
		i := ir.Index(idx)
		if inst.Kind != ir.KindQualifier || inst.QualifierKind() != ir.QualBuffer || !k.Used.Has(i) {
			continue
		}
		b := inst.Binding()
		if b != BindingIn && b != BindingOut {
			return errors.New("compute kernel uses storage buffer outside bindings 0 and 1")
		} else if buf.TypeOf(i) != ir.PrimType(ir.PrimFloat) {
			return errors.New("compute kernel storage buffers must hold floats")
		}
		found[b] = true
	}
	if !found[BindingOut] {
		return errors.New("compute kernel does not write storage buffer 1")
	}
	return nil
}

// CPUCompute evaluates a compute kernel on the CPU with one invocation per output
// element. The kernel reads floats from storage buffer 0 and writes floats to
// storage buffer 1, indexed by gl_GlobalInvocationID.x.
type CPUCompute struct {
	k   *kernel.Kernel
	cfg ComputeConfig
	m   Machine
}

func NewCPUCompute(k *kernel.Kernel, cfg ComputeConfig) (*CPUCompute, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	} else if err := checkBuffers(k); err != nil {
		return nil, err
	}
	return &CPUCompute{k: k, cfg: cfg}, nil
}

// Machine returns the interpreter state used for invocations, so that uniforms
// and push constants can be set before evaluation.
func (c *CPUCompute) Machine() *Machine { return &c.m }

func (c *CPUCompute) Evaluate(in, out []float32) error {
	if len(in) == 0 || len(out) == 0 {
		return errEmptyBuffers
	} else if len(in) != len(out) {
		return errMismatchBufferLength
	}
	inBuf := make([]Value, len(in))
	for k, v := range in {
		inBuf[k] = Float(v)
	}
	outBuf := make([]Value, len(out))
	for k := range outBuf {
		outBuf[k] = Float(0)
	}
	c.m.Buffers = map[int][]Value{BindingIn: inBuf, BindingOut: outBuf}
	defer func() { c.m.Buffers = nil }()
	for x := range out {
		c.m.GlobalInvocationID = [3]uint32{uint32(x), 0, 0}
		c.m.LocalInvocationID = [3]uint32{uint32(x % c.cfg.InvocX), 0, 0}
		if err := c.m.Run(c.k); err != nil {
			return err
		}
	}
	for k := range out {
		out[k] = outBuf[k].Float(0)
	}
	return nil
}
