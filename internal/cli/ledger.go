package cli

import (
	"fmt"

	"contribledger/internal/app"
	"contribledger/internal/ledger"
	"contribledger/internal/util"

	"github.com/spf13/cobra"
)

// inspect reads persisted state directly so it is safe next to a running
// server: nothing is initialized and nothing is written.
func newInspectCmd(o *options) *cobra.Command {
	var allocations bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print persisted ledger statistics without opening the ledger for writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := app.OpenStores(cmd.Context(), o.cfg)
			if err != nil {
				return err
			}
			defer stores.Close()
			st, err := ledger.Inspect(cmd.Context(), stores.Ledger)
			if err != nil {
				return err
			}
			if allocations {
				return printJSON(cmd.OutOrStdout(), st.Allocations)
			}
			return printJSON(cmd.OutOrStdout(), ledger.StatisticsOf(st))
		},
	}
	cmd.Flags().BoolVar(&allocations, "allocations", false, "print the retained allocation history instead")
	return cmd
}

func newEpochsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "epochs [name]",
		Short: "Show epoch balances and thresholds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 1 {
				info, err := a.Ledger.EpochInfo(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			for _, e := range a.Ledger.Epochs() {
				halvings := "-"
				if e.HalvingCount != nil {
					halvings = fmt.Sprintf("%d/%d", *e.HalvingCount, e.HalvingInterval)
				}
				fmt.Fprintf(w, "%s\tthreshold=%d\tbalance=%s\tcommitted=%s\thalvings=%s\n",
					e.Name, e.Threshold, e.Balance, e.Committed, halvings)
			}
			return nil
		},
	}
}

func newStatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.Ledger.Statistics())
		},
	}
}

func newGraphCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Rebuild the overlap graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if out == "" {
				out = a.GraphPath()
			}
			g, err := a.Orchestrator.RefreshGraph(cmd.Context(), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d nodes, %d edges\n", out, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (defaults to the data directory)")
	return cmd
}

func newExportCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-allocations",
		Short: "Write the retained allocation history as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := app.OpenStores(cmd.Context(), o.cfg)
			if err != nil {
				return err
			}
			defer stores.Close()
			st, err := ledger.Inspect(cmd.Context(), stores.Ledger)
			if err != nil {
				return err
			}
			rows := make([]any, 0, len(st.Allocations))
			for _, r := range st.Allocations {
				rows = append(rows, r)
			}
			if err := util.WriteJSONLinesAtomic(out, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d allocations to %s\n", len(rows), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "allocations.jsonl", "output file")
	return cmd
}
