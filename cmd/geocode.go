package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/pipeline"
	"github.com/sells-group/vote-match/internal/runlog"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Look up locations with one provider",
	Long: "Selects the records the provider should see (first pass, cascade, or retry of failed lookups), " +
		"submits them in batches and records one attempt per record.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := geocodeOptions(cmd.Flags(), cfg.Geocode.DefaultProvider)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(st, pipeline.RegistryFactory(cfg.Geocode.Config),
			pipeline.WithConfig(cfg.Pipeline),
			pipeline.WithDefaultState(cfg.Geocode.DefaultState),
			pipeline.WithRunLog(runlog.New(st)),
			pipeline.WithMetrics(appMetrics),
		)
		stats, err := p.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "geocode")
		}

		formatGeocodeStats(cmd.OutOrStdout(), opts.Provider, stats)
		return nil
	},
}

func init() {
	geocodeCmd.Flags().String("provider", "", "provider name (default from geocode.default_provider)")
	geocodeCmd.Flags().Int("batch-size", 0, "records per provider request (0 = provider default)")
	geocodeCmd.Flags().Int("limit", 0, "max records to process (0 = all)")
	geocodeCmd.Flags().Bool("only-unmatched", false,
		"cascade: only records with no usable attempt from any provider (default: on unless the provider is geocode.default_provider)")
	geocodeCmd.Flags().Bool("all", false, "first pass: only records with no attempts at all, even for a cascade provider")
	geocodeCmd.Flags().Bool("retry-failed", false, "in cascade mode, also select records whose best attempt failed")
	geocodeCmd.MarkFlagsMutuallyExclusive("all", "only-unmatched")
	rootCmd.AddCommand(geocodeCmd)
}

// geocodeOptions turns flags into pipeline options. The default provider
// runs a first pass and every other provider cascades, unless --all or an
// explicit --only-unmatched says otherwise.
func geocodeOptions(flags *pflag.FlagSet, defaultProvider string) pipeline.Options {
	provider, _ := flags.GetString("provider")
	batchSize, _ := flags.GetInt("batch-size")
	limit, _ := flags.GetInt("limit")
	retryFailed, _ := flags.GetBool("retry-failed")
	if provider == "" {
		provider = defaultProvider
	}

	onlyUnmatched := cascade.DefaultFilter(provider, defaultProvider).OnlyUnmatched
	switch {
	case flags.Changed("only-unmatched"):
		onlyUnmatched, _ = flags.GetBool("only-unmatched")
	case flags.Changed("all"):
		all, _ := flags.GetBool("all")
		onlyUnmatched = !all && onlyUnmatched
	}

	return pipeline.Options{
		Provider:      provider,
		BatchSize:     batchSize,
		Limit:         limit,
		OnlyUnmatched: onlyUnmatched,
		RetryFailed:   retryFailed,
	}
}

func formatGeocodeStats(out io.Writer, provider string, s *pipeline.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Provider:\t%s\n", provider)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Exact:\t%d\n", s.Exact)
	_, _ = fmt.Fprintf(w, "  Interpolated:\t%d\n", s.Interpolated)
	_, _ = fmt.Fprintf(w, "  Approximate:\t%d\n", s.Approximate)
	_, _ = fmt.Fprintf(w, "  No match:\t%d\n", s.NoMatch)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Malformed:\t%d\n", s.Malformed)
	_, _ = fmt.Fprintf(w, "Batches:\t%d (%d failed)\n", s.Batches, s.FailedBatches)
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Match rate:\t%.1f%%\n", 100*float64(s.Matched())/float64(s.Total))
	}
	_ = w.Flush()
}
