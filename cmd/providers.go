package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/pkg/geocode"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List available geocoding providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := geocode.Describe(cfg.Geocode.Config)
		if err != nil {
			return err
		}
		formatProviders(cmd.OutOrStdout(), infos, cfg.Geocode.DefaultProvider)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func formatProviders(out io.Writer, infos []geocode.Info, def string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMODE\tCREDENTIAL\tMAX_BATCH")
	_, _ = fmt.Fprintln(w, "----\t----\t----------\t---------")
	for _, in := range infos {
		name := in.Name
		if name == def {
			name += " *"
		}
		credential := "no"
		if in.RequiresCredential {
			credential = "yes"
		}
		maxBatch := "-"
		if in.MaxBatchSize > 0 {
			maxBatch = fmt.Sprintf("%d", in.MaxBatchSize)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, in.Mode, credential, maxBatch)
	}
	_ = w.Flush()
}
