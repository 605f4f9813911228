package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"geocode", "providers", "sync", "compare", "boundaries", "counties", "attempts", "status", "runs", "migrate", "validate-usps"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vote-match", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGeocodeCommand_Flags(t *testing.T) {
	for _, name := range []string{"provider", "batch-size", "limit", "only-unmatched", "retry-failed"} {
		require.NotNil(t, geocodeCmd.Flags().Lookup(name), "geocode should have --%s", name)
	}
	assert.Equal(t, "0", geocodeCmd.Flags().Lookup("batch-size").DefValue)
}

func TestSyncCommand_Flags(t *testing.T) {
	for _, name := range []string{"limit", "force", "skip-legacy-fields"} {
		require.NotNil(t, syncCmd.Flags().Lookup(name), "sync should have --%s", name)
	}
}

func TestCompareCommand_Flags(t *testing.T) {
	for _, name := range []string{"type", "limit", "no-rollup"} {
		require.NotNil(t, compareCmd.Flags().Lookup(name), "compare should have --%s", name)
	}
}

func TestBoundariesCommand_HasLoad(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range boundariesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["load"])
	require.NotNil(t, boundariesLoadCmd.Flags().Lookup("id-field"))
	require.NotNil(t, boundariesLoadCmd.Flags().Lookup("name-field"))
}

func TestStatusCommand_DefaultFormat(t *testing.T) {
	flag := statusCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
