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
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/vote-match/internal/model"
)

const mapboxMaxBatch = 1000

func init() {
	Register("mapbox", func(cfg Config, opts ...Option) (Provider, error) {
		return NewMapbox(cfg, opts...), nil
	})
}

// Mapbox geocodes a batch with the v6 batch endpoint. Each query gets its own
// feature collection, returned in request order.
type Mapbox struct {
	client
	cfg MapboxConfig
}

// NewMapbox creates a Mapbox provider.
func NewMapbox(cfg Config, opts ...Option) *Mapbox {
	def := DefaultConfig().Mapbox
	c := MapboxConfig{
		AccessToken: cfg.Mapbox.AccessToken,
		BaseURL:     strings.TrimRight(orDefault(cfg.Mapbox.BaseURL, def.BaseURL), "/"),
		Country:     orDefault(cfg.Mapbox.Country, def.Country),
		TimeoutSecs: orDefault(cfg.Mapbox.TimeoutSecs, def.TimeoutSecs),
	}
	return &Mapbox{
		client: newClient("mapbox", time.Duration(c.TimeoutSecs)*time.Second, 0, opts...),
		cfg:    c,
	}
}

func (m *Mapbox) Name() string             { return "mapbox" }
func (m *Mapbox) Mode() Mode               { return ModeBatch }
func (m *Mapbox) RequiresCredential() bool { return true }
func (m *Mapbox) MaxBatchSize() int        { return mapboxMaxBatch }

// Validate requires street and city.
func (m *Mapbox) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city")
}

// Geocode runs one batch request.
func (m *Mapbox) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[[]mapboxQuery, []byte](ctx, m, m, addrs)
}

type mapboxQuery struct {
	Q       string   `json:"q"`
	Types   []string `json:"types"`
	Country string   `json:"country,omitempty"`
	Limit   int      `json:"limit"`
}

type mapboxBatchResponse struct {
	Batch []json.RawMessage `json:"batch"`
}

// Prepare checks the token and builds the batch body.
func (m *Mapbox) Prepare(addrs []AddressInput) ([]mapboxQuery, error) {
	if m.cfg.AccessToken == "" {
		return nil, &CredentialError{Provider: "mapbox", Reason: "access token not configured"}
	}
	qs := make([]mapboxQuery, len(addrs))
	for i, a := range addrs {
		qs[i] = mapboxQuery{Q: formatQuery(a), Types: []string{"address"}, Country: m.cfg.Country, Limit: 1}
	}
	return qs, nil
}

// Submit posts the batch.
func (m *Mapbox) Submit(ctx context.Context, qs []mapboxQuery) ([]byte, error) {
	body, err := json.Marshal(qs)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox: marshal request")
	}
	reqURL := m.cfg.BaseURL + "/search/geocode/v6/batch?" + url.Values{"access_token": {m.cfg.AccessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req)
}

// Parse pairs each feature collection with its record by position.
func (m *Mapbox) Parse(out []byte, addrs []AddressInput) ([]Result, error) {
	var resp mapboxBatchResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, eris.Wrap(err, "decode mapbox response")
	}
	if len(resp.Batch) != len(addrs) {
		return nil, eris.Errorf("mapbox returned %d results for %d addresses", len(resp.Batch), len(addrs))
	}

	results := make([]Result, len(addrs))
	for i, raw := range resp.Batch {
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			results[i] = failedResult("mapbox", addrs[i].ID, formatQuery(addrs[i]), eris.Wrap(err, "decode feature collection"))
			continue
		}
		results[i] = mapboxToResult(addrs[i], fc.Features)
	}
	return results, nil
}

func mapboxToResult(addr AddressInput, features []*geojson.Feature) Result {
	res := Result{RecordID: addr.ID, Provider: "mapbox"}
	q := formatQuery(addr)

	var top *geojson.Feature
	if len(features) > 0 {
		top = features[0]
	}
	pt, ok := pointOf(top)
	if !ok {
		res.Quality = model.QualityNoMatch
		res.Payload = payload(map[string]any{"query": q})
		return res
	}

	confidence := ""
	if mc, ok := top.Properties["match_code"].(map[string]any); ok {
		confidence, _ = mc["confidence"].(string)
	}
	quality, conf := mapboxQuality(confidence)
	res.Quality = quality
	res.Confidence = model.Float(conf)
	res.Lon, res.Lat = model.Float(pt.X()), model.Float(pt.Y())
	res.MatchedText = firstString(top.Properties, "full_address", "place_formatted", "name")
	res.Payload = payload(map[string]any{
		"query":            q,
		"mapbox_id":        top.ID,
		"match_confidence": confidence,
		"feature_type":     top.Properties["feature_type"],
	})
	return res
}

// mapboxQuality maps match_code.confidence to quality and confidence.
func mapboxQuality(confidence string) (model.Quality, float64) {
	switch strings.ToLower(confidence) {
	case "exact":
		return model.QualityExact, 1.0
	case "high":
		return model.QualityExact, 0.9
	case "medium":
		return model.QualityInterpolated, 0.7
	default:
		return model.QualityApproximate, 0.5
	}
}

// pointOf returns the feature's point geometry, if it has one.
func pointOf(f *geojson.Feature) (*geom.Point, bool) {
	if f == nil || f.Geometry == nil {
		return nil, false
	}
	pt, ok := f.Geometry.(*geom.Point)
	if !ok || pt.Empty() {
		return nil, false
	}
	return pt, true
}

// firstString returns the first non-empty string property among keys.
func firstString(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := props[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
