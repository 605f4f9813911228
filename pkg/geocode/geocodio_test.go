package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vote-match/internal/model"
)

func TestGeocodioBatch(t *testing.T) {
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1.7/geocode", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotQueries))
		_, _ = io.WriteString(w, `{"results":[
			{"query":"a","response":{"results":[{"formatted_address":"1 A St","location":{"lat":33.1,"lng":-84.1},"accuracy":1,"accuracy_type":"rooftop","source":"County"}]}},
			{"query":"b","response":{"results":[{"formatted_address":"2 B St","location":{"lat":33.2,"lng":-84.2},"accuracy":0.8,"accuracy_type":"range_interpolation"}]}},
			{"query":"c","response":{"results":[{"formatted_address":"Atlanta","location":{"lat":33.3,"lng":-84.3},"accuracy":0.4,"accuracy_type":"place"}]}},
			{"query":"d","response":{"results":[]}},
			{"query":"e","response":{"error":"Could not parse address"}}
		]}`)
	}))
	defer srv.Close()

	g := NewGeocodio(Config{Geocodio: GeocodioConfig{APIKey: "k", BaseURL: srv.URL}})
	addrs := []AddressInput{
		{ID: "a", Street: "1 A St", City: "Atlanta", State: "GA", ZipCode: "30303"},
		{ID: "b", Street: "2 B St", City: "Atlanta", State: "GA"},
		{ID: "c", Street: "3 C St", City: "Atlanta"},
		{ID: "d", Street: "4 D St", City: "Atlanta"},
		{ID: "e", Street: "5 E St", City: "Atlanta"},
	}
	results, err := g.Geocode(context.Background(), addrs)
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, "1 A St, Atlanta, GA 30303", gotQueries[0])
	assert.Equal(t, "2 B St, Atlanta, GA", gotQueries[1])

	assert.Equal(t, "a", results[0].RecordID)
	assert.Equal(t, model.QualityExact, results[0].Quality)
	assert.InDelta(t, 1.0, *results[0].Confidence, 0.001)
	assert.Equal(t, model.QualityInterpolated, results[1].Quality)
	assert.InDelta(t, 0.8, *results[1].Confidence, 0.001)
	assert.Equal(t, model.QualityApproximate, results[2].Quality)
	assert.Equal(t, model.QualityNoMatch, results[3].Quality)
	assert.Equal(t, model.QualityFailed, results[4].Quality)
	assert.Equal(t, "Could not parse address", results[4].Error)
}

func TestGeocodio_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	g := NewGeocodio(Config{Geocodio: GeocodioConfig{APIKey: "k", BaseURL: srv.URL}})
	_, err := g.Geocode(context.Background(), []AddressInput{{ID: "a", Street: "1 A St", City: "Atlanta"}})
	var te *TransportError
	require.True(t, errors.As(err, &te))
}

func TestGeocodio_MissingKey(t *testing.T) {
	_, err := NewGeocodio(Config{}).Geocode(context.Background(), []AddressInput{{ID: "a", Street: "1 A St", City: "Atlanta"}})
	var ce *CredentialError
	require.True(t, errors.As(err, &ce))
}

func TestGeocodioQuality(t *testing.T) {
	assert.Equal(t, model.QualityExact, geocodioQuality("point"))
	assert.Equal(t, model.QualityInterpolated, geocodioQuality("nearest_rooftop_match"))
	assert.Equal(t, model.QualityApproximate, geocodioQuality("street_center"))
	assert.Equal(t, model.QualityApproximate, geocodioQuality("county"))
}
