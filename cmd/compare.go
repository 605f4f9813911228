package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/district"
	"github.com/sells-group/vote-match/internal/runlog"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Assign records to district boundaries and flag mismatches",
	Long: "Finds the boundary of each type containing every located record, compares it with the " +
		"district the record registered under, and stores one assignment per record and type.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		boundaryType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		noRollup, _ := cmd.Flags().GetBool("no-rollup")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := district.NewEngine(st, cfg.District, runlog.New(st), appMetrics)
		results, err := engine.Compare(ctx, district.Options{Type: boundaryType, Limit: limit, Rollup: !noRollup})
		if err != nil {
			return eris.Wrap(err, "compare")
		}
		if len(results) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No boundaries loaded.")
			return nil
		}

		formatCompareStats(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	compareCmd.Flags().String("type", "", "boundary type to compare (default: every loaded type)")
	compareCmd.Flags().Int("limit", 0, "max records per type (0 = all)")
	compareCmd.Flags().Bool("no-rollup", false, "skip refreshing the per-record mismatch flag")
	rootCmd.AddCommand(compareCmd)
}

func formatCompareStats(out io.Writer, results map[string]*district.Stats) {
	types := make([]string, 0, len(results))
	for t := range results {
		types = append(types, t)
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tTOTAL\tMATCHED\tMISMATCHED\tNO_BOUNDARY\tNO_REGISTERED\tFAILED\tOVERLAPPING")
	_, _ = fmt.Fprintln(w, "----\t-----\t-------\t----------\t-----------\t-------------\t------\t-----------")
	for _, t := range types {
		s := results[t]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			t, s.Total, s.Matched, s.Mismatched, s.NoBoundary, s.NoRegistered, s.Failed, s.Overlapping)
	}
	_ = w.Flush()
}
