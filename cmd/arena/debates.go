package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/export"
)

func newStartCmd() *cobra.Command {
	var category string
	var models []string

	cmd := &cobra.Command{
		Use:   "start <topic>",
		Short: "Start a debate and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			debate, err := a.orch.StartDebate(args[0], category, models)
			if err != nil {
				return err
			}
			fmt.Printf("Debate %s started on: %s\n\n", debate.ID, debate.Topic)

			if err := a.orch.Run(cmd.Context(), debate.ID); err != nil {
				return err
			}

			final, err := a.store.GetDebate(debate.ID)
			if err != nil {
				return err
			}
			printOutcome(final)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "manual", "debate category")
	cmd.Flags().StringSliceVar(&models, "models", nil, "override the configured roster (must match its size)")
	return cmd
}

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List debates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			debates, err := a.store.ListDebates(limit, 0)
			if err != nil {
				return err
			}
			if len(debates) == 0 {
				fmt.Println("No debates yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tWINNER\tSTARTED\tTOPIC")
			for _, d := range debates {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(d.ID), d.Status, d.Winner,
					d.StartedAt.Local().Format("2006-01-02 15:04"),
					truncate(d.Topic, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum debates to show")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <debate-id>",
		Short: "Print a debate transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			debate, turns, votes, err := loadDebate(a, args[0])
			if err != nil {
				return err
			}

			return export.Render(os.Stdout, export.FormatMarkdown, &export.Transcript{
				Debate: debate,
				Turns:  turns,
				Votes:  votes,
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	var formatName, out string

	cmd := &cobra.Command{
		Use:   "export <debate-id>",
		Short: "Export a debate to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			debate, turns, votes, err := loadDebate(a, args[0])
			if err != nil {
				return err
			}

			if out == "" {
				out = fmt.Sprintf("debate-%s.%s", shortID(debate.ID), format.Extension())
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()

			if err := export.Render(f, format, &export.Transcript{
				Debate: debate,
				Turns:  turns,
				Votes:  votes,
			}); err != nil {
				return err
			}
			fmt.Println("Exported to", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&formatName, "format", "markdown", "export format: markdown, json, or pdf")
	cmd.Flags().StringVar(&out, "out", "", "output file (default derived from the debate id)")
	return cmd
}

func newFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Show operator flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			flags, err := a.store.GetFlags()
			if err != nil {
				return err
			}
			fmt.Printf("kill_switch        %v\n", flags.KillSwitch)
			fmt.Printf("paused             %v\n", flags.Paused)
			fmt.Printf("abort              %v\n", flags.Abort)
			fmt.Printf("enable_new_debates %v\n", flags.EnableNewDebates)
			fmt.Printf("enable_voting      %v\n", flags.EnableVoting)
			fmt.Printf("enable_logging     %v\n", flags.EnableLogging)
			fmt.Printf("motion_to_end      %v\n", flags.MotionToEnd)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <true|false>",
		Short: "Set an operator flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			flags, err := a.store.GetFlags()
			if err != nil {
				return err
			}
			switch args[0] {
			case "kill_switch":
				flags.KillSwitch = value
			case "paused":
				flags.Paused = value
			case "abort":
				flags.Abort = value
			case "enable_new_debates":
				flags.EnableNewDebates = value
			case "enable_voting":
				flags.EnableVoting = value
			case "enable_logging":
				flags.EnableLogging = value
			case "motion_to_end":
				flags.MotionToEnd = value
			default:
				return fmt.Errorf("unknown flag %q", args[0])
			}
			if err := a.store.SetFlags(flags); err != nil {
				return err
			}
			fmt.Printf("%s = %v\n", args[0], value)
			return nil
		},
	})

	return cmd
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume stale debates and wait for them to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.orch.RecoverStale(context.Background())
			if err != nil {
				return err
			}
			if summary.Scanned == 0 {
				fmt.Println("No stale debates.")
				return nil
			}
			fmt.Printf("Scanned %d stale debates, resumed %d, skipped %d, failed %d.\n",
				summary.Scanned, len(summary.Resumed), len(summary.Skipped), len(summary.Failed))
			for id, reason := range summary.Failed {
				fmt.Printf("  %s: %s\n", shortID(id), reason)
			}

			a.orch.Wait()
			for _, id := range summary.Resumed {
				debate, err := a.store.GetDebate(id)
				if err != nil || debate == nil {
					continue
				}
				fmt.Printf("%s finished with status %s\n", shortID(id), debate.Status)
			}
			return nil
		},
	}
}

func loadDebate(a *app, id string) (*core.Debate, []*core.Turn, []*core.Vote, error) {
	debate, err := a.store.GetDebate(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if debate == nil {
		return nil, nil, nil, fmt.Errorf("debate %s not found", id)
	}
	turns, err := a.store.GetTurns(id)
	if err != nil {
		return nil, nil, nil, err
	}
	votes, err := a.store.GetVotes(id)
	if err != nil {
		return nil, nil, nil, err
	}
	return debate, turns, votes, nil
}

func printOutcome(d *core.Debate) {
	fmt.Println()
	switch d.Status {
	case core.StatusEnded:
		switch d.Winner {
		case core.WinnerNoVotes:
			fmt.Println("Debate ended with no valid ballots.")
		case core.WinnerTie:
			fmt.Printf("Debate ended in a tie with %d votes each.\n", d.WinningVotes)
		default:
			fmt.Printf("Winner: %s (%d of %d votes)\n", d.Winner, d.WinningVotes, d.TotalVotes)
		}
	case core.StatusAborted:
		fmt.Println("Debate aborted by operator.")
	default:
		fmt.Printf("Debate finished with status %s: %s\n", d.Status, d.Detail)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-3]) + "..."
}
