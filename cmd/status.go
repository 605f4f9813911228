package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vote-match/internal/store"
)

type statusReport struct {
	Attempts    []store.Count `json:"attempts" yaml:"attempts"`
	Assignments []store.Count `json:"assignments" yaml:"assignments"`
	Validations []store.Count `json:"validations" yaml:"validations"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show attempt, assignment and address validation counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var rep statusReport
		if rep.Attempts, err = st.AttemptCounts(ctx); err != nil {
			return err
		}
		if rep.Assignments, err = st.AssignmentCounts(ctx); err != nil {
			return err
		}
		if rep.Validations, err = st.ValidationCounts(ctx); err != nil {
			return err
		}
		return writeStatus(cmd.OutOrStdout(), rep, format)
	},
}

func init() {
	statusCmd.Flags().String("format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

func writeStatus(out io.Writer, rep statusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "status: encode yaml")
		}
		return enc.Close()
	case "table", "":
		formatCounts(out, "PROVIDER", "QUALITY", rep.Attempts)
		_, _ = fmt.Fprintln(out)
		formatCounts(out, "TYPE", "CLASSIFICATION", rep.Assignments)
		if len(rep.Validations) > 0 {
			_, _ = fmt.Fprintln(out)
			formatCounts(out, "VALIDATOR", "STATUS", rep.Validations)
		}
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func formatCounts(out io.Writer, group, key string, counts []store.Count) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\t%s\tCOUNT\n", group, key)
	var total int64
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", c.Group, c.Key, c.N)
		total += c.N
	}
	_, _ = fmt.Fprintf(w, "\t\t%d\n", total)
	_ = w.Flush()
}
