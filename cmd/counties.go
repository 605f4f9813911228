package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/district"
)

var countiesCmd = &cobra.Command{
	Use:   "counties",
	Short: "Manage county to district links",
}

var countiesLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Record which counties each district covers",
	Long: "With --file, reads a CSV with a County column and comma-separated Congressional, Senate and House " +
		"district columns, and appends the county to each listed boundary. With --spatial, sets each " +
		"district's counties to the loaded county boundaries that overlap it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")
		spatial, _ := cmd.Flags().GetBool("spatial")
		if path == "" && !spatial {
			return eris.New("one of --file or --spatial is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if spatial {
			typ, _ := cmd.Flags().GetString("type")
			stateFIPS, _ := cmd.Flags().GetString("state-fips")
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			stats, err := district.LinkCountiesSpatial(ctx, st, district.SpatialLinkOptions{
				Type: typ, StateFIPS: stateFIPS, Overwrite: overwrite,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Districts: %d, %d updated, %d already linked, %d without county overlap\n",
				stats.Districts, stats.Updated, stats.Skipped, stats.NoOverlap)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck

		stats, err := district.LinkCountiesFromCSV(ctx, st, f)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Counties: %d rows, %d links, %d districts not found\n",
			stats.Rows, stats.Linked, stats.NotFound)
		return nil
	},
}

var countiesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare a county CSV with the loaded county boundaries",
	Long: "Reads the same CSV as \"counties link --file\" and reports every district whose listed counties " +
		"differ from the county boundaries that overlap it. Requires boundaries of type county.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")
		typ, _ := cmd.Flags().GetString("type")
		format, _ := cmd.Flags().GetString("format")

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := district.ValidateCountyLinks(ctx, st, f, typ)
		if err != nil {
			return err
		}
		return writeLinkReport(cmd.OutOrStdout(), report, format)
	},
}

func init() {
	countiesLinkCmd.Flags().String("file", "", "path to the county CSV")
	countiesLinkCmd.Flags().Bool("spatial", false, "link from overlapping county boundaries instead of a CSV")
	countiesLinkCmd.Flags().String("type", "", "with --spatial, one district type (default: every non-county type)")
	countiesLinkCmd.Flags().String("state-fips", "", "with --spatial, only counties whose STATEFP matches")
	countiesLinkCmd.Flags().Bool("overwrite", false, "with --spatial, replace county lists already set")
	countiesLinkCmd.MarkFlagsMutuallyExclusive("file", "spatial")

	countiesValidateCmd.Flags().String("file", "", "path to the county CSV")
	countiesValidateCmd.Flags().String("type", "", "one district type (default: every type the CSV lists)")
	countiesValidateCmd.Flags().String("format", "table", "output format: table or json")
	_ = countiesValidateCmd.MarkFlagRequired("file")

	countiesCmd.AddCommand(countiesLinkCmd, countiesValidateCmd)
	rootCmd.AddCommand(countiesCmd)
}

func writeLinkReport(out io.Writer, r *district.LinkReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "table", "":
		_, _ = fmt.Fprintf(out, "Matches: %d, mismatches: %d, listed but not loaded: %d\n",
			r.Matches, r.Mismatches, r.CSVOnly)
		if len(r.Details) == 0 {
			return nil
		}
		_, _ = fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TYPE\tDISTRICT\tCSV ONLY\tSPATIAL ONLY")
		for _, d := range r.Details {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Type, d.ExternalID,
				orDash(strings.Join(d.CSVOnly, ", ")), orDash(strings.Join(d.SpatialOnly, ", ")))
		}
		return w.Flush()
	default:
		return eris.Errorf("unknown format %q (want table or json)", format)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
