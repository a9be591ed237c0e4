// Command gsirc compiles YAML instruction programs to GLSL, dumps their analyzed
// listings and differentiates their functions.
//
//	gsirc glsl program.yaml
//	gsirc dump --compact program.yaml
//	gsirc diff program.yaml square
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"github.com/soypat/gsir"
	"github.com/soypat/gsir/glbuild"
	"github.com/soypat/gsir/irfmt"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gsirc:", err)
		return 1
	}
	return 0
}

// flags holds the options shared by all commands.
type flags struct {
	version   int
	es        bool
	stage     string
	localSize int
	compact   bool
	verbosity string
}

func (f *flags) profile() (glbuild.Profile, error) {
	stage, ok := glbuild.ParseStage(f.stage)
	if !ok {
		return glbuild.Profile{}, errors.New("unknown stage %q", f.stage)
	}
	profile := glbuild.DefaultProfile()
	if stage == glbuild.StageCompute {
		profile = glbuild.DefaultComputeProfile()
	}
	if f.version != 0 {
		profile.Version = f.version
	}
	profile.ES = f.es
	profile.Stage = stage
	if f.localSize > 0 {
		profile.LocalSize[0] = f.localSize
	}
	return profile, nil
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var f flags
	rootCmd := &cobra.Command{
		Use:           "gsirc",
		Short:         "gsirc compiles instruction programs to GLSL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if f.verbosity != "" {
				tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(errOut, tlog.LstdFlags))
				tlog.SetVerbosity(f.verbosity)
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&f.version, "version", 0, "GLSL version, defaults to the stage's default profile")
	pf.BoolVar(&f.es, "es", false, "generate GLSL ES")
	pf.StringVar(&f.stage, "stage", "fragment", "shader stage: vertex, fragment or compute")
	pf.IntVar(&f.localSize, "local-size", 0, "compute work group size along x")
	pf.BoolVar(&f.compact, "compact", false, "deduplicate instructions before generating code")
	pf.StringVarP(&f.verbosity, "verbose", "v", "", "tlog verbosity topics, such as dump_kernel,dump_glsl")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "glsl <program.yaml>",
			Short: "Generate the GLSL program",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProgram(cmd, args[0], "glsl", func(ctx context.Context, built *irfmt.Built) error {
					profile, err := f.profile()
					if err != nil {
						return err
					}
					prog, err := gsir.Compile(ctx, built.Main, gsir.CompileOptions{Profile: profile, Compact: f.compact})
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, prog.Source)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "dump <program.yaml>",
			Short: "Print the analyzed instruction listing of the program and its functions",
			Long: `Print the instruction listing of the main program marked with U for used
and S for synthesized instructions, followed by the listing of every function.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProgram(cmd, args[0], "dump", func(ctx context.Context, built *irfmt.Built) error {
					k, err := gsir.Analyze(ctx, built.Main, f.compact)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, "# main")
					if err := irfmt.Fprint(out, k.Buffer, k); err != nil {
						return err
					}
					for _, c := range built.Callables {
						k, err := gsir.Analyze(ctx, c.Body, f.compact)
						if err != nil {
							return errors.Wrap(err, "function %v", c.Name)
						}
						fmt.Fprintf(out, "# %s\n", c.Name)
						if err := irfmt.Fprint(out, k.Buffer, k); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		newDiffCmd(&f, out),
	)
	return rootCmd
}

func newDiffCmd(f *flags, out io.Writer) *cobra.Command {
	var name string
	var dump bool
	cmd := &cobra.Command{
		Use:   "diff <program.yaml> <function>",
		Short: "Differentiate a function of the program and print its GLSL definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProgram(cmd, args[0], "diff", func(ctx context.Context, built *irfmt.Built) error {
				c := built.Callable(args[1])
				if c == nil {
					return errors.New("no function %q in program", args[1])
				}
				dname := name
				if dname == "" {
					dname = "d" + c.Name
				}
				d, err := gsir.Differentiate(ctx, c, dname)
				if err != nil {
					return err
				}
				defer d.Unlink()
				if dump {
					return irfmt.Fprint(out, d.Body, nil)
				}
				profile, err := f.profile()
				if err != nil {
					return err
				}
				src, err := glbuild.GenerateFunction(d, profile)
				if err != nil {
					return errors.Wrap(err, "generate")
				}
				_, err = io.WriteString(out, src)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the derivative, defaults to the function name prefixed with d")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the derivative's instruction listing instead of GLSL")
	return cmd
}

// withProgram loads and records the program at path and calls fn with a traced context.
func withProgram(cmd *cobra.Command, path, name string, fn func(ctx context.Context, built *irfmt.Built) error) (err error) {
	tr := tlog.Start("gsirc: "+name, "path", path)
	defer tr.Finish("err", &err)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tlog.ContextWithSpan(ctx, tr)

	p, err := irfmt.LoadFile(path)
	if err != nil {
		return err
	}
	built, err := p.Build()
	if err != nil {
		return errors.Wrap(err, "record %v", path)
	}
	defer built.Release()
	return fn(ctx, built)
}
