package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/runlog"
	"github.com/sells-group/vote-match/internal/validation"
	"github.com/sells-group/vote-match/pkg/geocode"
)

var validateCmd = &cobra.Command{
	Use:   "validate-usps",
	Short: "Check unresolved addresses against the USPS Addresses API",
	Long: "Sends the address of every record that has attempts but no usable one to USPS and stores " +
		"the standardized address. Records already checked are skipped unless --retry-failed is set " +
		"and their last check failed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		usps := geocode.NewUSPS(cfg.Geocode.Config)
		if err := usps.CheckCredentials(); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r := validation.New(st, usps,
			validation.WithDefaultState(cfg.Geocode.DefaultState),
			validation.WithRunLog(runlog.New(st)),
			validation.WithMetrics(appMetrics),
		)
		stats, err := r.Run(ctx, validation.Options{Limit: limit, RetryFailed: retryFailed, BatchSize: batchSize})
		if stats != nil {
			formatValidationStats(cmd.OutOrStdout(), stats)
		}
		if err != nil {
			return eris.Wrap(err, "validate-usps")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Int("limit", 0, "max records to check (0 = all)")
	validateCmd.Flags().Bool("retry-failed", false, "check again records whose last validation failed")
	validateCmd.Flags().Int("batch-size", validation.DefaultBatchSize, "results saved per transaction")
	rootCmd.AddCommand(validateCmd)
}

func formatValidationStats(out io.Writer, s *validation.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Validated:\t%d\n", s.Validated)
	_, _ = fmt.Fprintf(w, "  Corrected:\t%d\n", s.Corrected)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Failed)
	_ = w.Flush()
}
