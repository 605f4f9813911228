package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltinProviders(t *testing.T) {
	assert.Equal(t, []string{"census", "geocodio", "google", "mapbox", "nominatim", "photon"}, Names())
}

func TestRegistry_NewUnknown(t *testing.T) {
	_, err := New("bing", Config{})
	var ue *UnknownProviderError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "bing", ue.Name)
	assert.Contains(t, err.Error(), `unknown provider "bing" (available: census, geocodio, google, mapbox, nominatim, photon)`)
}

func TestRegistry_RegisterKeepsFirst(t *testing.T) {
	Register("census", func(_ Config, _ ...Option) (Provider, error) {
		return nil, errors.New("should not be used")
	})
	p, err := New("census", Config{})
	require.NoError(t, err)
	assert.Equal(t, "census", p.Name())
	assert.Len(t, Names(), 6)
}

func TestDescribe(t *testing.T) {
	infos, err := Describe(DefaultConfig())
	require.NoError(t, err)
	require.Len(t, infos, 6)

	byName := make(map[string]Info)
	for _, i := range infos {
		byName[i.Name] = i
	}
	assert.Equal(t, Info{Name: "census", Mode: "batch", MaxBatchSize: 10000}, byName["census"])
	assert.Equal(t, Info{Name: "mapbox", Mode: "batch", RequiresCredential: true, MaxBatchSize: 1000}, byName["mapbox"])
	assert.Equal(t, Info{Name: "google", Mode: "individual", RequiresCredential: true}, byName["google"])
	assert.Equal(t, Info{Name: "photon", Mode: "individual"}, byName["photon"])
}

func TestRun_EmptyInput(t *testing.T) {
	p, err := New("photon", Config{})
	require.NoError(t, err)
	results, err := p.Geocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
