package processor

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jhump/annostep/internal/log"
)

// Options control what a session does once steps have been checked.
type Options struct {
	// EnableContextInjection adds a context parameter to steps that have
	// none.
	EnableContextInjection bool `yaml:"enable_context_injection"`
	// EnableDSLGeneration generates a Steps type with one method per step.
	EnableDSLGeneration bool `yaml:"enable_dsl_generation"`
	// DebugMode logs at debug level.
	DebugMode bool `yaml:"debug"`
	// AllowLegacyContext reports a context parameter that the user wrote
	// as a warning instead of an error.
	AllowLegacyContext bool `yaml:"allow_legacy_context"`
	// EmitStepInfo generates an init function that registers the package's
	// steps with the pipeline runtime.
	EmitStepInfo bool `yaml:"emit_step_info"`
	// CatalogPath, if not blank, is where a YAML catalog of all steps is
	// written.
	CatalogPath string `yaml:"catalog"`

	ContextParamName string    `yaml:"context_param_name"`
	StepsTypeName    string    `yaml:"steps_type_name"`
	WellKnown        WellKnown `yaml:"well_known"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		EnableContextInjection: true,
		EnableDSLGeneration:    true,
		EmitStepInfo:           true,
		ContextParamName:       "pctx",
		StepsTypeName:          "Steps",
		WellKnown:              DefaultWellKnown(),
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.ContextParamName == "" {
		o.ContextParamName = def.ContextParamName
	}
	if o.StepsTypeName == "" {
		o.StepsTypeName = def.StepsTypeName
	}
	o.WellKnown = o.WellKnown.withDefaults()
	return o
}

// LoadOptions reads YAML options from r. Keys that are absent keep their
// default values. Empty input yields DefaultOptions.
func LoadOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.NewDecoder(r).Decode(&opts); err != nil && err != io.EOF {
		return Options{}, errors.Wrap(err, "could not decode options")
	}
	return opts.normalize(), nil
}

// LoadOptionsFile reads YAML options from the named file.
func LoadOptionsFile(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, errors.Wrap(err, "could not read options")
	}
	defer func() {
		_ = f.Close()
	}()
	opts, err := LoadOptions(f)
	if err != nil {
		return Options{}, errors.Wrapf(err, "%s", path)
	}
	return opts, nil
}

// ProcessAll invokes all registered Processor instances, after the built-in
// processing, for the given package patterns. If the given outputDir is blank,
// output is written next to each package's sources.
func ProcessAll(ctx context.Context, patterns []string, includeTests bool, outputDir string) (*Session, error) {
	return Process(ctx, patterns, includeTests, outputDir, AllRegisteredProcessors()...)
}

// Process runs a session with default options over the given package
// patterns and invokes the given processors.
func Process(ctx context.Context, patterns []string, includeTests bool, outputDir string, procs ...Processor) (*Session, error) {
	cfg := Config{
		Patterns:      patterns,
		IncludeTests:  includeTests,
		Options:       DefaultOptions(),
		Processors:    procs,
		OutputFactory: DefaultOutputFactory(outputDir),
	}
	return cfg.Execute(ctx)
}

// Config represents the configuration for one session. Callers should
// configure the exported fields and then call the Execute method.
type Config struct {
	// Patterns name the packages to process, as understood by go list.
	Patterns     []string
	IncludeTests bool
	// Dir is the directory in which patterns are resolved. If blank, the
	// current directory is used.
	Dir string

	Options    Options
	Processors []Processor
	// OutputFactory receives rewritten sources and generated files. If nil,
	// nothing is written.
	OutputFactory OutputFactory
	// Logger, if nil, logs text to stderr.
	Logger *slog.Logger

	// Program, if not nil, is used instead of loading Patterns.
	Program *Program
}

// Execute loads the configured packages and runs a session over them. The
// session is returned even when err is not nil, as long as packages could be
// loaded, so that callers can print its diagnostics.
func (cfg *Config) Execute(ctx context.Context) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, cfg.Options.DebugMode)
	}
	prg := cfg.Program
	if prg == nil {
		var warnings []error
		var err error
		prg, warnings, err = LoadProgram(ctx, cfg.Dir, cfg.Patterns, cfg.IncludeTests)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			logger.Warn("package has errors", log.Error(w))
		}
	}
	s := NewSession(prg, cfg.Options, logger)
	return s, s.Run(ctx, cfg.Processors, cfg.OutputFactory)
}
