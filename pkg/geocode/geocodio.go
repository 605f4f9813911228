package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/model"
)

const geocodioMaxBatch = 10000

func init() {
	Register("geocodio", func(cfg Config, opts ...Option) (Provider, error) {
		return NewGeocodio(cfg, opts...), nil
	})
}

// Geocodio geocodes a whole batch in one POST. Results come back in request order.
type Geocodio struct {
	client
	cfg GeocodioConfig
}

// NewGeocodio creates a Geocodio provider.
func NewGeocodio(cfg Config, opts ...Option) *Geocodio {
	def := DefaultConfig().Geocodio
	c := GeocodioConfig{
		APIKey:      cfg.Geocodio.APIKey,
		BaseURL:     strings.TrimRight(orDefault(cfg.Geocodio.BaseURL, def.BaseURL), "/"),
		Version:     orDefault(cfg.Geocodio.Version, def.Version),
		TimeoutSecs: orDefault(cfg.Geocodio.TimeoutSecs, def.TimeoutSecs),
	}
	return &Geocodio{
		client: newClient("geocodio", time.Duration(c.TimeoutSecs)*time.Second, 0, opts...),
		cfg:    c,
	}
}

func (g *Geocodio) Name() string             { return "geocodio" }
func (g *Geocodio) Mode() Mode               { return ModeBatch }
func (g *Geocodio) RequiresCredential() bool { return true }
func (g *Geocodio) MaxBatchSize() int        { return geocodioMaxBatch }

// Validate requires street and city.
func (g *Geocodio) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city")
}

// Geocode runs one batch request.
func (g *Geocodio) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[[]string, []byte](ctx, g, g, addrs)
}

type geocodioBatchResponse struct {
	Results []struct {
		Query    string `json:"query"`
		Response struct {
			Results []geocodioMatch `json:"results"`
			Error   string          `json:"error"`
		} `json:"response"`
	} `json:"results"`
}

type geocodioMatch struct {
	FormattedAddress string `json:"formatted_address"`
	Location         struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy     float64 `json:"accuracy"`
	AccuracyType string  `json:"accuracy_type"`
	Source       string  `json:"source"`
}

// Prepare checks the key and formats one query string per record.
func (g *Geocodio) Prepare(addrs []AddressInput) ([]string, error) {
	if g.cfg.APIKey == "" {
		return nil, &CredentialError{Provider: "geocodio", Reason: "api key not configured"}
	}
	qs := make([]string, len(addrs))
	for i, a := range addrs {
		qs[i] = formatQuery(a)
	}
	return qs, nil
}

// Submit posts the JSON array of queries.
func (g *Geocodio) Submit(ctx context.Context, qs []string) ([]byte, error) {
	body, err := json.Marshal(qs)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: geocodio: marshal request")
	}
	reqURL := g.cfg.BaseURL + "/" + g.cfg.Version + "/geocode?" + url.Values{"api_key": {g.cfg.APIKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: geocodio: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

// Parse pairs results with records by position. A count mismatch fails the batch.
func (g *Geocodio) Parse(out []byte, addrs []AddressInput) ([]Result, error) {
	var resp geocodioBatchResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, eris.Wrap(err, "decode geocodio response")
	}
	if len(resp.Results) != len(addrs) {
		return nil, eris.Errorf("geocodio returned %d results for %d addresses", len(resp.Results), len(addrs))
	}

	results := make([]Result, len(addrs))
	for i, item := range resp.Results {
		res := Result{RecordID: addrs[i].ID, Provider: "geocodio"}
		switch {
		case item.Response.Error != "":
			res.Quality = model.QualityFailed
			res.Error = item.Response.Error
			res.Payload = payload(map[string]any{"query": item.Query})
		case len(item.Response.Results) == 0:
			res.Quality = model.QualityNoMatch
			res.Payload = payload(map[string]any{"query": item.Query})
		default:
			top := item.Response.Results[0]
			res.Quality = geocodioQuality(top.AccuracyType)
			res.Confidence = model.Float(top.Accuracy)
			res.Lon = model.Float(top.Location.Lng)
			res.Lat = model.Float(top.Location.Lat)
			res.MatchedText = top.FormattedAddress
			res.Payload = payload(map[string]any{
				"query":         item.Query,
				"accuracy_type": top.AccuracyType,
				"source":        top.Source,
			})
		}
		results[i] = res
	}
	return results, nil
}

// geocodioQuality maps accuracy_type onto the quality scale.
func geocodioQuality(accuracyType string) model.Quality {
	switch strings.ToLower(accuracyType) {
	case "rooftop", "point":
		return model.QualityExact
	case "range_interpolation", "nearest_rooftop_match":
		return model.QualityInterpolated
	default:
		return model.QualityApproximate
	}
}
