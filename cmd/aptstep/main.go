// Command aptstep runs the step annotation processor over Go packages. It
// injects the pipeline context into every function annotated with
// @annostep.Step, then generates the Steps type and the runtime registration
// for each package.
//
//	aptstep [flags] packages...
//
// Diagnostics are printed to stderr. The command fails if any of them is an
// error, in which case no files are written.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jhump/annostep/internal/log"
	"github.com/jhump/annostep/processor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configFile   string
	outputDir    string
	includeTests bool
	watch        bool

	inject      bool
	dsl         bool
	stepInfo    bool
	debug       bool
	allowLegacy bool
	catalog     string
}

func newRootCommand() *cobra.Command {
	return newCommand(&cliFlags{})
}

func newCommand(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "aptstep [flags] packages...",
		Short:        "Inject pipeline contexts into @annostep.Step functions and generate their Steps DSL",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}
			if err := checkOutputDir(f.outputDir); err != nil {
				return err
			}
			cfg := &processor.Config{
				Patterns:      args,
				IncludeTests:  f.includeTests,
				Options:       opts,
				Processors:    processor.AllRegisteredProcessors(),
				OutputFactory: processor.DefaultOutputFactory(f.outputDir),
				Logger:        log.New(cmd.ErrOrStderr(), opts.DebugMode),
			}
			if f.watch {
				return watch(cmd.Context(), cfg, cmd)
			}
			_, err = runOnce(cmd.Context(), cfg, cmd)
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configFile, "config", "c", "", "YAML file with processor options")
	fl.StringVarP(&f.outputDir, "output-dir", "o", "", "Root directory for output, organized by package path. Defaults to each package's own directory")
	fl.BoolVar(&f.includeTests, "include-tests", false, "Process _test.go files too")
	fl.BoolVarP(&f.watch, "watch", "w", false, "Process again whenever sources change")

	def := processor.DefaultOptions()
	fl.BoolVar(&f.inject, "enable-context-injection", def.EnableContextInjection, "Inject the pipeline context parameter into steps")
	fl.BoolVar(&f.dsl, "enable-dsl-generation", def.EnableDSLGeneration, "Generate the Steps type of each package")
	fl.BoolVar(&f.stepInfo, "emit-stepinfo", def.EmitStepInfo, "Generate runtime step registrations")
	fl.BoolVar(&f.debug, "debug", def.DebugMode, "Log debug output")
	fl.BoolVar(&f.allowLegacy, "allow-legacy-context", def.AllowLegacyContext, "Report hand-declared context parameters as warnings")
	fl.StringVar(&f.catalog, "catalog", "", "Write a YAML catalog of all steps to this file")
	return cmd
}

// options loads the config file, if any, and applies the flags that were set
// on the command line over it.
func (f *cliFlags) options(cmd *cobra.Command) (processor.Options, error) {
	opts := processor.DefaultOptions()
	if f.configFile != "" {
		var err error
		if opts, err = processor.LoadOptionsFile(f.configFile); err != nil {
			return opts, err
		}
	}
	fl := cmd.Flags()
	if fl.Changed("enable-context-injection") {
		opts.EnableContextInjection = f.inject
	}
	if fl.Changed("enable-dsl-generation") {
		opts.EnableDSLGeneration = f.dsl
	}
	if fl.Changed("emit-stepinfo") {
		opts.EmitStepInfo = f.stepInfo
	}
	if fl.Changed("debug") {
		opts.DebugMode = f.debug
	}
	if fl.Changed("allow-legacy-context") {
		opts.AllowLegacyContext = f.allowLegacy
	}
	if fl.Changed("catalog") {
		opts.CatalogPath = f.catalog
	}
	return opts, nil
}

func checkOutputDir(dir string) error {
	if dir == "" {
		return nil
	}
	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return errors.Errorf("specified directory, %s, does not exist", dir)
	} else if err != nil {
		return errors.Wrapf(err, "failed to check specified directory, %s", dir)
	}
	return nil
}

// runOnce runs one session and prints its diagnostics.
func runOnce(ctx context.Context, cfg *processor.Config, cmd *cobra.Command) (*processor.Session, error) {
	s, err := cfg.Execute(ctx)
	if s != nil {
		if perr := s.Diagnostics.Print(cmd.ErrOrStderr()); perr != nil {
			return s, perr
		}
	}
	var diagErr *processor.DiagnosticsError
	if errors.As(err, &diagErr) {
		// already printed
		return s, errors.Errorf("found %d error(s) in steps", len(diagErr.Diagnostics))
	}
	return s, err
}
