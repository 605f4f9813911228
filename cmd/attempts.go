package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/store"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Manage recorded lookup attempts",
}

var attemptsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete attempts so the affected records are selected again",
	Long: "Deletes attempts by provider, quality, or both. NO_MATCH attempts are never retried " +
		"automatically; deleting them is how an operator asks for another pass.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := attemptFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteAttempts(ctx, f)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d attempts.\n", n)
		return nil
	},
}

func init() {
	attemptsDeleteCmd.Flags().String("provider", "", "only attempts from this provider")
	attemptsDeleteCmd.Flags().String("quality", "", "only attempts of this quality (exact, interpolated, approximate, no_match, failed)")
	attemptsDeleteCmd.Flags().Bool("all", false, "delete every attempt")

	attemptsCmd.AddCommand(attemptsDeleteCmd)
	rootCmd.AddCommand(attemptsCmd)
}

func attemptFilterFromFlags(cmd *cobra.Command) (store.AttemptFilter, error) {
	var f store.AttemptFilter
	f.Provider, _ = cmd.Flags().GetString("provider")
	f.All, _ = cmd.Flags().GetBool("all")
	if q, _ := cmd.Flags().GetString("quality"); q != "" {
		quality, err := model.ParseQuality(q)
		if err != nil {
			return f, err
		}
		f.Quality = quality
	}
	return f, nil
}
