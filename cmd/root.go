package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/exorcist/internal/config"
	"github.com/zjrosen/exorcist/internal/exorcist"
	"github.com/zjrosen/exorcist/internal/log"
	"github.com/zjrosen/exorcist/internal/paths"
	"github.com/zjrosen/exorcist/internal/sink"
	"github.com/zjrosen/exorcist/internal/tracing"
	"github.com/zjrosen/exorcist/internal/watcher"
)

var version = "dev"

var rootCmd = NewRootCmd()

// invocation carries the state of a single command execution.
type invocation struct {
	v       *viper.Viper
	cfgFile string
	watch   bool
}

// NewRootCmd builds the exorcist command tree. Each call gets its own viper
// instance so commands can be executed repeatedly in tests.
func NewRootCmd() *cobra.Command {
	inv := &invocation{v: viper.New()}

	root := &cobra.Command{
		Use:   "exorcist <mapfile> [output] [input]",
		Short: "Externalize the inline source map of a JavaScript or CSS bundle",
		Long: `Externalizes the source map found inside a stream into an external .map file
or object store key.

Reads the bundle from input (default: stdin), writes the source map to mapfile
and writes the bundle, now referencing the external map, to output
(default: stdout).`,
		Example: `  browserify main.js --debug | exorcist bundle.js.map > bundle.js
  exorcist bundle.js.map bundle.js bundle.tmp.js --base ./src
  exorcist s3://assets/bundle.js.map --url https://cdn.example.com/bundle.js.map < in.js > out.js
  exorcist dist/bundle.js.map dist/bundle.js build/bundle.js --watch`,
		Version:      version,
		Args:         cobra.MaximumNArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inv.run(cmd, args)
		},
	}

	root.PersistentFlags().StringVarP(&inv.cfgFile, "config", "c", "",
		"config file (default: .exorcist.yaml or ~/.config/exorcist/config.yaml)")
	root.PersistentFlags().Bool("debug", false, "write a debug log (see log_file)")

	flags := root.Flags()
	flags.StringP("url", "u", "", "full URL to the map file, set as the sourceMappingURL (default: the map file's base name)")
	flags.StringP("root", "r", "", "root URL for loading relative source paths, set as sourceRoot in the map")
	flags.StringP("base", "b", "", "base path for calculating relative source paths")
	flags.BoolP("error-on-missing", "e", false, "fail instead of passing the input through when it has no map")
	flags.Bool("resolve-external", false, "load maps behind external sourceMappingURL references next to the input")
	flags.BoolVarP(&inv.watch, "watch", "w", false, "rerun whenever the input file changes")

	_ = inv.v.BindPFlag("url", flags.Lookup("url"))
	_ = inv.v.BindPFlag("root", flags.Lookup("root"))
	_ = inv.v.BindPFlag("base", flags.Lookup("base"))
	_ = inv.v.BindPFlag("error_on_missing", flags.Lookup("error-on-missing"))
	_ = inv.v.BindPFlag("resolve_external", flags.Lookup("resolve-external"))
	_ = inv.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newConfigCmd(inv))

	return root
}

// loadConfig reads .env, the config file and the environment, then starts
// debug logging when enabled. The returned cleanup must always be called.
func (inv *invocation) loadConfig() (config.Config, func(), error) {
	noop := func() {}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, noop, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(inv.v, inv.cfgFile)
	if err != nil {
		return config.Config{}, noop, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, noop, fmt.Errorf("invalid configuration: %w", err)
	}

	if !cfg.Debug {
		return cfg, noop, nil
	}

	logPath := os.Getenv(config.EnvPrefix + "_LOG")
	if logPath == "" {
		logPath = cfg.LogFile
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return config.Config{}, noop, fmt.Errorf("initializing logging: %w", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "exorcist starting", "version", version, "config", inv.v.ConfigFileUsed())

	return cfg, cleanup, nil
}

func (inv *invocation) run(cmd *cobra.Command, args []string) error {
	stderr := cmd.ErrOrStderr()

	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Missing map file")
		_, _ = fmt.Fprint(stderr, cmd.UsageString())
		return nil
	}

	cfg, cleanup, err := inv.loadConfig()
	defer cleanup()
	if err != nil {
		return err
	}

	j := job{mapfile: args[0]}
	if len(args) > 1 {
		j.output = args[1]
	}
	if len(args) > 2 {
		j.input = args[2]
	}
	if !sink.IsObjectURL(j.mapfile) {
		if j.mapfile, err = filepath.Abs(j.mapfile); err != nil {
			return fmt.Errorf("resolving map file: %w", err)
		}
	}
	if cfg.Base != "" {
		if cfg.Base, err = filepath.Abs(cfg.Base); err != nil {
			return fmt.Errorf("resolving base: %w", err)
		}
	}
	if inv.watch {
		if j.input == "" {
			return errors.New("--watch requires an input file")
		}
		if j.output == "" {
			return errors.New("--watch requires an output file")
		}
		if paths.SamePath(j.input, j.output) {
			return errors.New("--watch cannot write output over its input")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
		}
	}()

	dest, err := sink.Open(j.mapfile, cfg.ObjectStore.Sink())
	if err != nil {
		return err
	}

	opts := exorcist.Options{
		Destination:    dest,
		URL:            cfg.URL,
		Root:           cfg.Root,
		Base:           cfg.Base,
		ErrorOnMissing: cfg.ErrorOnMissing,
		Tracer:         provider.Tracer(),
	}
	if cfg.ResolveExternal {
		opts.MapDir = "."
		if j.input != "" {
			opts.MapDir = filepath.Dir(j.input)
		}
	}

	t, err := exorcist.New(opts)
	if err != nil {
		return err
	}
	defer t.Close()

	if !inv.watch {
		return j.execute(ctx, t, cmd.InOrStdin(), cmd.OutOrStdout(), stderr)
	}
	return j.watch(ctx, t, cfg.Watch.Debounce, stderr)
}

// job is one mapfile/output/input triple. Empty output and input mean
// stdout and stdin.
type job struct {
	mapfile string
	output  string
	input   string
}

func (j job) execute(ctx context.Context, t *exorcist.Transformer, stdin io.Reader, stdout, stderr io.Writer) error {
	src := stdin
	if j.input != "" {
		f, err := os.Open(j.input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	dst := stdout
	var buf bytes.Buffer
	if j.output != "" {
		dst = &buf
	}

	res, err := t.Run(ctx, dst, src)
	if err != nil {
		return err
	}
	if res.Kind == exorcist.KindMissingMap {
		_, _ = fmt.Fprintln(stderr, res.Message)
	}

	if j.output != "" {
		if err := writeOutput(j.output, buf.Bytes()); err != nil {
			return err
		}
	}
	log.Info(log.CatRewrite, "run complete", "result", res.Kind, "map", j.mapfile)
	return nil
}

func (j job) watch(ctx context.Context, t *exorcist.Transformer, debounce time.Duration, stderr io.Writer) error {
	w, err := watcher.New(watcher.Config{Path: j.input, Debounce: debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}

	report := func() {
		if err := j.execute(ctx, t, nil, nil, stderr); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintln(stderr, err)
		}
	}

	report()
	_, _ = fmt.Fprintf(stderr, "watching %s\n", j.input)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Debug(log.CatWatcher, "input changed", "path", j.input)
			report()
		}
	}
}

// writeOutput replaces path with data via a temp file in the same directory.
func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing output: %w", err)
	}
	if err := temp.Chmod(0644); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing output: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing output: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
