package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/materialize"
	"github.com/sells-group/vote-match/internal/runlog"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy each record's best attempt onto the record",
	Long: "Copies the best usable attempt of every record onto its location columns.\n\n" +
		"Without --force only records that already have a location or have an attempt with coordinates " +
		"are visited, so the \"No results\" and \"No coordinates\" counts are only filled in under --force, " +
		"where every record is visited.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force")
		skipLegacy, _ := cmd.Flags().GetBool("skip-legacy-fields")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := materialize.New(st, runlog.New(st), appMetrics)
		stats, err := m.Sync(ctx, materialize.Options{Limit: limit, Force: force, SkipLegacy: skipLegacy})
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		formatSyncStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	syncCmd.Flags().Int("limit", 0, "max records to process (0 = all)")
	syncCmd.Flags().Bool("force", false, "overwrite locations that are already set")
	syncCmd.Flags().Bool("skip-legacy-fields", false, "do not write the legacy matched address column")
	rootCmd.AddCommand(syncCmd)
}

func formatSyncStats(out io.Writer, s *materialize.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", s.Updated)
	_, _ = fmt.Fprintf(w, "Already set:\t%d\n", s.AlreadySet)
	_, _ = fmt.Fprintf(w, "No results:\t%d\n", s.SkippedNoResults)
	_, _ = fmt.Fprintf(w, "No coordinates:\t%d\n", s.SkippedNoCoords)
	_ = w.Flush()
}
