package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// SourceCLI labels executions started from the command line.
const SourceCLI = "cli"

// runOptions are the flags shared by the one-shot commands.
type runOptions struct {
	sensors []string
	faults  []string
	timeout time.Duration
	verbose bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.sensors, "sensor", "s", nil,
		"set a sensor before running, as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&o.faults, "fault", nil, "raise a fault before running (repeatable)")
	cmd.Flags().DurationVarP(&o.timeout, "timeout", "t", 2*time.Minute, "abort the run after this long")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "log at debug level to stderr")
}

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <config-file|config-id>",
		Short: "Run one config against the simulator and print the execution.",
		Long: `Runs a config on a fresh simulated tailgate with an in-memory library.

The argument is either a JSON or YAML file holding one config (or a list,
in which case the first entry runs) or the ID of a config already in the
library, such as one of the seeded defaults.

The execution record is printed as JSON on stdout. The command fails when
the execution did not complete.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runConfig(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.bind(cmd)
	return cmd
}

// oneShot is a core over a private in-memory database.
type oneShot struct {
	*core
	db *database.DB
}

// newOneShot builds a core for a single CLI run and applies the sensor
// and fault flags.
func newOneShot(ctx context.Context, cfg *config.Config, opts runOptions, logOut io.Writer) (*oneShot, error) {
	logCfg := cfg.Logging
	if opts.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	log := logging.NewWithWriter(logCfg, version, logOut)

	db, err := database.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	c, err := buildCore(ctx, coreDeps{Config: cfg, Logger: log, DB: db})
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	s := &oneShot{core: c, db: db}

	if err := s.applyFlags(opts); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *oneShot) applyFlags(opts runOptions) error {
	for _, kv := range opts.sensors {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("sensor %q: want name=value", kv)
		}
		if err := s.store.UpdateSensor(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("sensor %q: %w", kv, err)
		}
	}
	for _, f := range opts.faults {
		kind, err := vehicle.ParseFaultKind(f)
		if err != nil {
			return fmt.Errorf("fault %q: %w", f, err)
		}
		s.store.RaiseFault(kind, "raised from command line")
	}
	return nil
}

func (s *oneShot) close() {
	s.core.close()
	s.db.Close() //nolint:errcheck // in-memory database
}

// runConfig loads or looks up the config, executes it and prints the record.
func runConfig(ctx context.Context, cfg *config.Config, arg string, opts runOptions, out, errOut io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	s, err := newOneShot(ctx, cfg, opts, errOut)
	if err != nil {
		return err
	}
	defer s.close()

	id, err := resolveConfig(ctx, s.library, arg)
	if err != nil {
		return err
	}

	exec, err := s.engine.Execute(ctx, id, automation.Trigger{Type: "manual", Source: SourceCLI})
	if exec == nil {
		return fmt.Errorf("executing %s: %w", id, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(exec); encErr != nil {
		return fmt.Errorf("writing execution: %w", encErr)
	}

	switch exec.Status {
	case automation.StatusCompleted, automation.StatusPartial:
		return nil
	default:
		if err == nil {
			err = errors.New(string(exec.Status))
		}
		return fmt.Errorf("execution %s %s: %w", exec.ID, exec.Status, err)
	}
}

// resolveConfig returns the ID to run. A readable file is imported first,
// replacing any config with the same ID.
func resolveConfig(ctx context.Context, library *automation.Library, arg string) (string, error) {
	data, err := os.ReadFile(arg)
	if errors.Is(err, os.ErrNotExist) {
		if _, getErr := library.Get(ctx, arg); getErr != nil {
			return "", fmt.Errorf("%q is neither a file nor a config ID: %w", arg, getErr)
		}
		return arg, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", arg, err)
	}

	configs, err := automation.ParseConfigs(data)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", arg, err)
	}
	if len(configs) == 0 {
		return "", fmt.Errorf("%s: no configs in file", arg)
	}

	cfg := configs[0]
	err = library.Add(ctx, &cfg)
	if errors.Is(err, automation.ErrConfigExists) {
		err = library.Update(ctx, &cfg)
	}
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", arg, err)
	}
	return cfg.ID, nil
}
