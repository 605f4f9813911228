package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/boundary"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage district boundary sets",
}

var boundariesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a boundary set from GeoJSON or a shapefile",
	Long: "Reads polygons from a .geojson/.json or .shp file and upserts them under --type. " +
		"The district id and name properties are detected unless named explicitly.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := boundary.Options{}
		opts.Type, _ = cmd.Flags().GetString("type")
		opts.IDField, _ = cmd.Flags().GetString("id-field")
		opts.NameField, _ = cmd.Flags().GetString("name-field")
		opts.County, _ = cmd.Flags().GetString("county")
		path, _ := cmd.Flags().GetString("file")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := boundary.Load(ctx, st, path, opts)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s: %d features, %d saved, %d failed, %d duplicate\n",
			opts.Type, res.Total, res.Success, res.Failed, res.Skipped)
		return nil
	},
}

func init() {
	boundariesLoadCmd.Flags().String("type", "", "boundary type, e.g. congressional, state_senate, state_house")
	boundariesLoadCmd.Flags().String("file", "", "path to a .geojson, .json or .shp file")
	boundariesLoadCmd.Flags().String("id-field", "", "property holding the district id (default: detect)")
	boundariesLoadCmd.Flags().String("name-field", "", "property holding the district name (default: detect)")
	boundariesLoadCmd.Flags().String("county", "", "county to record on every loaded boundary")
	_ = boundariesLoadCmd.MarkFlagRequired("type")
	_ = boundariesLoadCmd.MarkFlagRequired("file")

	boundariesCmd.AddCommand(boundariesLoadCmd)
	rootCmd.AddCommand(boundariesCmd)
}
