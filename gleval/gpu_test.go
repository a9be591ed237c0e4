//go:build !tinygo && cgo

package gleval_test

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/gsir/gleval"
	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
)

// GPU work must run on the main thread, so it runs in TestMain before the tests.
func TestMain(m *testing.M) {
	runtime.LockOSThread()
	var exit int
	err := testGPU()
	if err != nil {
		exit = 1
		log.Println(err)
	}
	runtime.UnlockOSThread()
	os.Exit(m.Run() | exit)
}

func testGPU() error {
	term, err := gleval.Init1x1GLFW()
	if err != nil {
		log.Println("skipping GPU tests:", err)
		return nil
	}
	defer term()
	buf := ir.NewBuffer(0)
	e := ir.NewEmitter(buf)
	f32 := e.Prim(ir.PrimFloat)
	in := e.Qualifier(f32, ir.QualBuffer, gleval.BindingIn)
	out := e.Qualifier(f32, ir.QualBuffer, gleval.BindingOut)
	id := e.Swizzle(e.Intrinsic(ir.IntrinsicGlobalInvocationID, e.Prim(ir.PrimUVec3)), ir.NewSwizzle(0))
	x := e.Indexing(in, id)
	e.Store(e.Indexing(out, id), e.Intrinsic(ir.IntrinsicSin, f32, e.Op(ir.OpMul, x, x)))
	k, err := kernel.Build(buf)
	if err != nil {
		return err
	}
	cfg := gleval.ComputeConfig{InvocX: 32}
	gpu, err := gleval.NewGPUCompute(k, cfg)
	if err != nil {
		return err
	}
	defer gpu.Delete()
	cpu, err := gleval.NewCPUCompute(k, cfg)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(1))
	input := make([]float32, 32*32)
	for i := range input {
		input[i] = rng.Float32()*4 - 2
	}
	want := make([]float32, len(input))
	got := make([]float32, len(input))
	if err := cpu.Evaluate(input, want); err != nil {
		return err
	}
	if err := gpu.Evaluate(input, got); err != nil {
		return err
	}
	for i := range want {
		if math32.Abs(want[i]-got[i]) > 1e-4 {
			return fmt.Errorf("element %d: cpu %v, gpu %v\n%s", i, want[i], got[i], gpu.Source())
		}
	}
	return nil
}
