package gsir

import (
	"bytes"
	"context"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"github.com/soypat/gsir/ad"
	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/irfmt"
	"github.com/soypat/gsir/kernel"
)

// CompileOptions configures [Compile].
type CompileOptions struct {
	// Profile selects the GLSL dialect and shader stage.
	Profile glbuild.Profile
	// Compact deduplicates structurally identical instructions of the main
	// program before generating code.
	Compact bool
}

// Program is a compiled shader program.
type Program struct {
	// Kernel is the analyzed main program the source was generated from.
	Kernel *kernel.Kernel
	// Source is the GLSL program with the definitions of every called function.
	Source string
}

// Analyze builds the kernel of buf, compacting it when compact is set.
//
// Verbosity topic "dump_kernel" logs the listing of the analyzed kernel.
func Analyze(ctx context.Context, buf *ir.Buffer, compact bool) (k *kernel.Kernel, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "gsir: analyze", "instructions", buf.Len(), "compact", compact)
	defer tr.Finish("err", &err)

	k, err = kernel.Build(buf)
	if err != nil {
		return nil, errors.Wrap(err, "analyze")
	}
	tr.Printw("analyzed", "used", k.Used.Len(), "synthesized", k.Synthesized.Len())
	if compact {
		before := k.Len()
		k, _, err = kernel.Compact(k)
		if err != nil {
			return nil, errors.Wrap(err, "compact")
		}
		tr.Printw("compacted", "before", before, "after", k.Len())
	}
	if tr.If("dump_kernel") {
		var listing bytes.Buffer
		_ = irfmt.Fprint(&listing, k.Buffer, k)
		tr.Printw("kernel", "listing", listing.String())
	}
	return k, nil
}

// Compile analyzes main and generates a GLSL program holding main's entry point
// and the definitions of the functions it calls, transitively.
//
// Verbosity topic "dump_glsl" logs the generated source.
func Compile(ctx context.Context, main *ir.Buffer, opts CompileOptions) (_ *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "gsir: compile", "version", opts.Profile.Version, "stage", opts.Profile.Stage)
	defer tr.Finish("err", &err)

	k, err := Analyze(ctx, main, opts.Compact)
	if err != nil {
		return nil, err
	}
	var src strings.Builder
	_, err = glbuild.NewProgrammer(opts.Profile).WriteProgram(&src, k)
	if err != nil {
		return nil, errors.Wrap(err, "generate")
	}
	if tr.If("dump_glsl") {
		tr.Printw("glsl", "source", src.String())
	}
	return &Program{Kernel: k, Source: src.String()}, nil
}

// Differentiate registers the forward-mode derivative of c as a new callable named name.
// Every float parameter of c becomes a dual parameter, a struct of its value and
// derivative, and so does a float result.
//
// Verbosity topic "dump_derivative" logs the listing of the derivative's body.
func Differentiate(ctx context.Context, c *ir.Callable, name string) (_ *ir.Callable, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "gsir: differentiate", "func", c.Name, "name", name)
	defer tr.Finish("err", &err)

	d, err := ad.DifferentiateCallable(c, name)
	if err != nil {
		return nil, errors.Wrap(err, "differentiate %v", c.Name)
	}
	tr.Printw("differentiated", "before", c.Body.Len(), "after", d.Body.Len())
	if tr.If("dump_derivative") {
		var listing bytes.Buffer
		_ = irfmt.Fprint(&listing, d.Body, nil)
		tr.Printw("derivative", "listing", listing.String())
	}
	return d, nil
}

// Compile compiles the main program recorded so far. Recording errors accumulated
// while NoPanic was set are returned instead.
func (b *Builder) Compile(ctx context.Context, opts CompileOptions) (*Program, error) {
	if err := b.Err(); err != nil {
		return nil, errors.Wrap(err, "recording")
	}
	if len(b.frames) != 1 || b.e.OpenRegions() != 0 {
		return nil, errors.Wrap(ir.ErrStructural, "compile while recording a function or control flow region")
	}
	return Compile(ctx, b.Main(), opts)
}

// Differentiate registers the derivative of f as a new function named name, see [Differentiate].
// The derivative is called with a dual argument, [Builder.Struct] of the value and its
// derivative, for every float parameter of f.
func (b *Builder) Differentiate(ctx context.Context, f *Function, name string) (*Function, error) {
	d, err := Differentiate(ctx, f.c, name)
	if err != nil {
		return nil, err
	}
	return b.function(d), nil
}
