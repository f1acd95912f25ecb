package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/submission"
)

func newPushCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "push VALUE",
		Short: "Append a value to the first empty row of the column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			row, err := store.Push(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(map[string]any{"value": args[0], "row": row})
			}
			fmt.Fprintf(s.out, "pushed %q to row %d\n", args[0], row)
			return nil
		},
	}
}

func newPopCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Remove and print the first value of the column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			value, ok, err := store.Pop(cmd.Context())
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(map[string]any{"value": value, "found": ok})
			}
			if !ok {
				fmt.Fprintln(s.out, "column is empty")
				return nil
			}
			fmt.Fprintln(s.out, value)
			return nil
		},
	}
}

func newListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the values of the column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			values, err := store.Values(cmd.Context())
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(values)
			}
			for _, v := range values {
				fmt.Fprintln(s.out, v)
			}
			return nil
		},
	}
}

func newDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete VALUE",
		Short: "Remove every occurrence of a value from the column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(map[string]any{"value": args[0], "rows": rows})
			}
			fmt.Fprintf(s.out, "deleted %d row(s)\n", len(rows))
			return nil
		},
	}
}

func newColumnsCmd(s *session) *cobra.Command {
	var add string
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List the header row, optionally adding a column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			if add != "" {
				created, err := store.AddColumn(cmd.Context(), add)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintf(cmd.ErrOrStderr(), "column %q already exists\n", add)
				}
			}
			headers, err := store.Columns(cmd.Context())
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(headers)
			}
			fmt.Fprintln(s.out, strings.Join(headers, "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "Append this header if it is missing")
	return cmd
}

func newSubmitCmd(s *session) *cobra.Command {
	var req submission.Request
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a model for a benchmark run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.submissions(cmd)
			if err != nil {
				return err
			}
			submitted, err := svc.Submit(cmd.Context(), req)
			if err != nil {
				for field, msg := range submission.ValidationErrors(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
				}
				return err
			}
			if s.asJSON {
				return s.printJSON(submitted)
			}
			fmt.Fprintf(s.out, "queued %s at row %d\n", submitted.Job, submitted.Row)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ModelID, "model", "", "Model id or Hugging Face path")
	cmd.Flags().StringVar(&req.BenchmarkName, "benchmark", "", "Benchmark name")
	cmd.Flags().StringVar(&req.PromptCfgName, "prompt-cfg", "", "Prompt config name")
	return cmd
}

func newCancelCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel MODEL",
		Short: "Remove a queued model together with its benchmark and prompt config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.submissions(cmd)
			if err != nil {
				return err
			}
			rows, err := svc.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(map[string]any{"model": args[0], "rows": rows})
			}
			fmt.Fprintf(s.out, "cancelled %d job(s)\n", len(rows))
			return nil
		},
	}
}

func newLeaderboardCmd(s *session) *cobra.Command {
	var benchmark string
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the ranking for a benchmark, or the benchmark list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			board, err := leaderboard.NewBoard(cmd.Context(), table, s.cfg.LeaderboardConfig(), s.log, s.tracer)
			if err != nil {
				return err
			}

			if benchmark == "" {
				names, err := board.Benchmarks(cmd.Context())
				if err != nil {
					return err
				}
				if s.asJSON {
					return s.printJSON(names)
				}
				fmt.Fprintln(s.out, strings.Join(names, "\n"))
				return nil
			}

			entries, err := board.Ranking(cmd.Context(), benchmark)
			if err != nil {
				return err
			}
			if s.asJSON {
				return s.printJSON(entries)
			}
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tMODEL\tSCORE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Rank, e.Model, e.Raw)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&benchmark, "benchmark", "b", "", "Benchmark column to rank by")
	return cmd
}

func newConfigCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.asJSON {
				return s.printJSON(s.cfg)
			}
			enc := yaml.NewEncoder(s.out)
			enc.SetIndent(2)
			if err := enc.Encode(s.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func (s *session) submissions(cmd *cobra.Command) (*submission.Service, error) {
	store, err := s.store(cmd.Context())
	if err != nil {
		return nil, err
	}
	return submission.NewService(store, s.cfg.SubmissionConfig(), nil, nil, s.log, s.tracer)
}
