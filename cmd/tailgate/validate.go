package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tailgate-core/internal/automation"
)

// errInvalidConfigs is returned when at least one config failed validation.
var errInvalidConfigs = errors.New("invalid configs")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config library file without running it.",
		Long: `Parses a JSON or YAML config file (one config or a list) and validates
every entry: IDs, names, categories, steps, preconditions, monitors and
post-actions. Each entry is reported; the command fails if any is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return validateConfigs(data, cmd.OutOrStdout())
		},
	}
}

// validateConfigs reports each config in data and returns errInvalidConfigs
// when any of them failed.
func validateConfigs(data []byte, out io.Writer) error {
	entries, err := automation.ParseConfigEntries(data)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no configs in file", errInvalidConfigs)
	}

	failed := 0
	seen := make(map[string]int, len(entries))
	for i := range entries {
		cfg := &entries[i].Config
		label := cfg.ID
		if label == "" {
			label = fmt.Sprintf("#%d (%s)", i, cfg.Name)
		}

		err := entries[i].Err
		if err == nil {
			err = automation.ValidateConfig(cfg)
		}
		if err == nil && cfg.ID != "" {
			if first, dup := seen[cfg.ID]; dup {
				err = fmt.Errorf("%w: duplicate of entry #%d", automation.ErrConfigExists, first)
			}
			seen[cfg.ID] = i
		}

		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", label, err)
			continue
		}
		fmt.Fprintf(out, "ok    %s (%d steps, %d monitors)\n", label, len(cfg.Steps), len(cfg.Monitors))
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidConfigs, failed, len(entries))
	}
	return nil
}
