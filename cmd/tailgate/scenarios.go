package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
)

func newScenariosCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenarios.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listScenarios(cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(newScenarioRunCmd(load))
	return cmd
}

func listScenarios(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTIONS\tLOOP\tDESCRIPTION")
	for _, s := range orchestrator.BuiltinScenarios() {
		loop := "-"
		if s.Loop {
			loop = fmt.Sprintf("x%d", s.MaxLoopCount)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, len(s.Actions), loop, s.Description)
	}
	return tw.Flush()
}

func newScenarioRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		opts         runOptions
		safeMode     bool
		withRecovery bool
	)
	cmd := &cobra.Command{
		Use:   "run <scenario-id>",
		Short: "Run a built-in scenario against the simulator.",
		Long: `Loads a built-in scenario into the orchestrator queue and runs it on a
fresh simulated tailgate. Sequence progress is printed as it happens.

--safe-mode runs each action through the config engine with safety
preconditions. --recover retries a failed run after clearing faults and
resetting the state machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if withRecovery {
				cfg.Recovery.Enabled = true
			}
			return runScenario(cmd.Context(), cfg, args[0], safeMode, withRecovery, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.bind(cmd)
	cmd.Flags().BoolVar(&safeMode, "safe-mode", false, "check safety preconditions before every action")
	cmd.Flags().BoolVar(&withRecovery, "recover", false, "retry a failed run after system recovery")
	return cmd
}

// runScenario runs one built-in scenario and prints its sequence events.
func runScenario(ctx context.Context, cfg *config.Config, id string, safeMode, withRecovery bool, opts runOptions, out, errOut io.Writer) error {
	scenario, err := orchestrator.FindScenario(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	s, err := newOneShot(ctx, cfg, opts, errOut)
	if err != nil {
		return err
	}
	defer s.close()

	defer s.orch.Subscribe(func(ev orchestrator.Event) {
		line := fmt.Sprintf("%-20s %s", ev.Type, ev.Sequence)
		if ev.Kind != "" {
			line += fmt.Sprintf(" #%d %s", ev.Index, ev.Kind)
		}
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		fmt.Fprintln(out, line)
	})()

	if err := s.orch.LoadScenario(scenario); err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}

	seqOpts := scenario.Options()
	seqOpts.SafeMode = safeMode

	run := s.orch.ExecuteSequence
	if withRecovery && s.recovering != nil {
		run = s.recovering.ExecuteSequence
	}
	if err := run(ctx, seqOpts); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	fmt.Fprintf(out, "final state: %s\n", s.machine.Current())
	return nil
}
