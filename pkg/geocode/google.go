package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/model"
)

func init() {
	Register("google", func(cfg Config, opts ...Option) (Provider, error) {
		return NewGoogle(cfg, opts...), nil
	})
}

// Google geocodes one record per request against the Google Geocoding API.
type Google struct {
	client
	cfg GoogleConfig
}

// NewGoogle creates a Google provider.
func NewGoogle(cfg Config, opts ...Option) *Google {
	def := DefaultConfig().Google
	c := GoogleConfig{
		APIKey:      cfg.Google.APIKey,
		BaseURL:     orDefault(cfg.Google.BaseURL, def.BaseURL),
		Region:      orDefault(cfg.Google.Region, def.Region),
		DelayMillis: orDefault(cfg.Google.DelayMillis, def.DelayMillis),
		TimeoutSecs: orDefault(cfg.Google.TimeoutSecs, def.TimeoutSecs),
	}
	return &Google{
		client: newClient("google", time.Duration(c.TimeoutSecs)*time.Second, time.Duration(c.DelayMillis)*time.Millisecond, opts...),
		cfg:    c,
	}
}

func (g *Google) Name() string             { return "google" }
func (g *Google) Mode() Mode               { return ModeIndividual }
func (g *Google) RequiresCredential() bool { return true }
func (g *Google) MaxBatchSize() int        { return 0 }

// Validate requires street and city.
func (g *Google) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city")
}

// Geocode looks up each record in turn.
func (g *Google) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[[]query, []reply](ctx, g, g, addrs)
}

// googleResponse is the JSON response from the Google Geocoding API.
type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string   `json:"formatted_address"`
	PlaceID          string   `json:"place_id"`
	Types            []string `json:"types"`
	PartialMatch     bool     `json:"partial_match"`
}

// Prepare checks the key and formats one query per record.
func (g *Google) Prepare(addrs []AddressInput) ([]query, error) {
	if g.cfg.APIKey == "" {
		return nil, &CredentialError{Provider: "google", Reason: "api key not configured"}
	}
	return oneLineQueries(addrs), nil
}

// Submit sends one request per query.
func (g *Google) Submit(ctx context.Context, qs []query) ([]reply, error) {
	return g.each(ctx, qs, func(ctx context.Context, q query) (*http.Request, error) {
		params := url.Values{
			"address": {q.Query},
			"key":     {g.cfg.APIKey},
			"region":  {g.cfg.Region},
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"?"+params.Encode(), nil)
	})
}

// Parse maps each reply. REQUEST_DENIED fails the whole call as a credential error.
func (g *Google) Parse(replies []reply, _ []AddressInput) ([]Result, error) {
	results := make([]Result, 0, len(replies))
	for _, rp := range replies {
		if rp.Err != nil {
			results = append(results, failedResult("google", rp.ID, rp.Query, rp.Err))
			continue
		}

		var resp googleResponse
		if err := json.Unmarshal(rp.Body, &resp); err != nil {
			results = append(results, failedResult("google", rp.ID, rp.Query, eris.Wrap(err, "decode response")))
			continue
		}
		if resp.Status == "REQUEST_DENIED" {
			return nil, &CredentialError{Provider: "google", Reason: orDefault(resp.ErrorMessage, "request denied")}
		}
		results = append(results, googleToResult(rp, resp))
	}
	return results, nil
}

func googleToResult(rp reply, resp googleResponse) Result {
	res := Result{RecordID: rp.ID, Provider: "google"}
	details := map[string]any{"query": rp.Query, "status": resp.Status}

	switch {
	case resp.Status == "ZERO_RESULTS" || (resp.Status == "OK" && len(resp.Results) == 0):
		res.Quality = model.QualityNoMatch
	case resp.Status == "OK":
		top := resp.Results[0]
		q, conf := googleQuality(top.Geometry.LocationType)
		res.Quality = q
		res.Confidence = model.Float(conf)
		res.Lon = model.Float(top.Geometry.Location.Lng)
		res.Lat = model.Float(top.Geometry.Location.Lat)
		res.MatchedText = top.FormattedAddress
		details["location_type"] = top.Geometry.LocationType
		details["place_id"] = top.PlaceID
		details["types"] = top.Types
		details["partial_match"] = top.PartialMatch
	default:
		res.Quality = model.QualityFailed
		res.Error = strings.TrimSpace("google status " + resp.Status + " " + resp.ErrorMessage)
	}
	res.Payload = payload(details)
	return res
}

// googleQuality maps location_type to quality and confidence.
func googleQuality(locType string) (model.Quality, float64) {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return model.QualityExact, 1.0
	case "RANGE_INTERPOLATED":
		return model.QualityInterpolated, 0.85
	case "GEOMETRIC_CENTER":
		return model.QualityApproximate, 0.6
	default:
		return model.QualityApproximate, 0.5
	}
}

// oneLineQueries formats "street, city, ST zip" for each record.
func oneLineQueries(addrs []AddressInput) []query {
	qs := make([]query, len(addrs))
	for i, a := range addrs {
		qs[i] = query{ID: a.ID, Query: formatQuery(a)}
	}
	return qs
}
