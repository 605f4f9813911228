package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/vote-match/internal/model"
)

func TestFormatQuery(t *testing.T) {
	tests := []struct {
		name string
		addr AddressInput
		want string
	}{
		{"full", AddressInput{Street: "1 Main St", City: "Atlanta", State: "GA", ZipCode: "30303"}, "1 Main St, Atlanta, GA 30303"},
		{"no zip", AddressInput{Street: "1 Main St", City: "Atlanta", State: "GA"}, "1 Main St, Atlanta, GA"},
		{"trimmed", AddressInput{Street: " 1 Main St ", City: " Atlanta ", State: " GA "}, "1 Main St, Atlanta, GA"},
		{"street only", AddressInput{Street: "1 Main St"}, "1 Main St"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatQuery(tt.addr))
		})
	}
}

func TestRequireFields(t *testing.T) {
	err := requireFields(AddressInput{ID: "r1", Street: "  "}, "street", "city")
	var me *MalformedRecordError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "r1", me.RecordID)
	assert.Equal(t, []string{"street", "city"}, me.Missing)
	assert.Equal(t, "geocode: record r1 missing street, city", me.Error())
}

func TestResultAttempt(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := Result{RecordID: "r1", Provider: "census", Quality: model.QualityExact, Lon: model.Float(1), Lat: model.Float(2), Confidence: model.Float(1)}
	a := r.Attempt(at)
	assert.Equal(t, "r1", a.RecordID)
	assert.Equal(t, "census", a.Provider)
	assert.Equal(t, at, a.CreatedAt)
	assert.True(t, a.HasCoordinates())
}

func TestEach_CancelledContextAbortsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	n := NewNominatim(Config{Nominatim: NominatimConfig{BaseURL: srv.URL}}, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Geocode(ctx, []AddressInput{{ID: "1", Street: "1 A St", City: "Atlanta"}})
	var te *TransportError
	require.True(t, errors.As(err, &te))
}

func TestTransportError_Message(t *testing.T) {
	err := &TransportError{Provider: "census", StatusCode: 502, Err: errors.New("bad gateway")}
	assert.Equal(t, "geocode: census: transport error (HTTP 502): bad gateway", err.Error())
	assert.Equal(t, "geocode: census: transport error: x", (&TransportError{Provider: "census", Err: errors.New("x")}).Error())
}
