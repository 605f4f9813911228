package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/model"
)

func init() {
	Register("nominatim", func(cfg Config, opts ...Option) (Provider, error) {
		return NewNominatim(cfg, opts...), nil
	})
}

// Nominatim geocodes one record per request against OpenStreetMap's search
// API. The public instance allows one request per second.
type Nominatim struct {
	client
	cfg       NominatimConfig
	userAgent string
}

// NewNominatim creates a Nominatim provider.
func NewNominatim(cfg Config, opts ...Option) *Nominatim {
	def := DefaultConfig().Nominatim
	c := NominatimConfig{
		BaseURL:     strings.TrimRight(orDefault(cfg.Nominatim.BaseURL, def.BaseURL), "/"),
		Email:       cfg.Nominatim.Email,
		DelayMillis: orDefault(cfg.Nominatim.DelayMillis, def.DelayMillis),
		TimeoutSecs: orDefault(cfg.Nominatim.TimeoutSecs, def.TimeoutSecs),
	}
	ua := "VoteMatch/1.0"
	if c.Email != "" {
		ua = "VoteMatch/1.0 (" + c.Email + ")"
	}
	return &Nominatim{
		client:    newClient("nominatim", time.Duration(c.TimeoutSecs)*time.Second, time.Duration(c.DelayMillis)*time.Millisecond, opts...),
		cfg:       c,
		userAgent: ua,
	}
}

func (n *Nominatim) Name() string             { return "nominatim" }
func (n *Nominatim) Mode() Mode               { return ModeIndividual }
func (n *Nominatim) RequiresCredential() bool { return false }
func (n *Nominatim) MaxBatchSize() int        { return 0 }

// Validate requires street and city.
func (n *Nominatim) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city")
}

// Geocode looks up each record in turn.
func (n *Nominatim) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[[]query, []reply](ctx, n, n, addrs)
}

type nominatimPlace struct {
	PlaceID     int64    `json:"place_id"`
	OSMType     string   `json:"osm_type"`
	OSMID       int64    `json:"osm_id"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	Class       string   `json:"class"`
	Type        string   `json:"type"`
	Importance  *float64 `json:"importance"`
}

// Prepare formats one query per record.
func (n *Nominatim) Prepare(addrs []AddressInput) ([]query, error) {
	return oneLineQueries(addrs), nil
}

// Submit sends one search request per query.
func (n *Nominatim) Submit(ctx context.Context, qs []query) ([]reply, error) {
	return n.each(ctx, qs, func(ctx context.Context, q query) (*http.Request, error) {
		params := url.Values{
			"q":              {q.Query},
			"format":         {"json"},
			"limit":          {"1"},
			"countrycodes":   {"us"},
			"addressdetails": {"1"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"/search?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", n.userAgent)
		return req, nil
	})
}

// Parse maps each reply to a Result.
func (n *Nominatim) Parse(replies []reply, _ []AddressInput) ([]Result, error) {
	results := make([]Result, 0, len(replies))
	for _, rp := range replies {
		if rp.Err != nil {
			results = append(results, failedResult("nominatim", rp.ID, rp.Query, rp.Err))
			continue
		}
		var places []nominatimPlace
		if err := json.Unmarshal(rp.Body, &places); err != nil {
			results = append(results, failedResult("nominatim", rp.ID, rp.Query, eris.Wrap(err, "decode response")))
			continue
		}
		results = append(results, nominatimToResult(rp, places))
	}
	return results, nil
}

func nominatimToResult(rp reply, places []nominatimPlace) Result {
	res := Result{RecordID: rp.ID, Provider: "nominatim"}
	if len(places) == 0 {
		res.Quality = model.QualityNoMatch
		res.Payload = payload(map[string]any{"query": rp.Query})
		return res
	}

	top := places[0]
	lat, latErr := strconv.ParseFloat(top.Lat, 64)
	lon, lonErr := strconv.ParseFloat(top.Lon, 64)
	if latErr != nil || lonErr != nil {
		return failedResult("nominatim", rp.ID, rp.Query, eris.Errorf("invalid coordinates %q,%q", top.Lat, top.Lon))
	}

	importance := 0.5
	if top.Importance != nil {
		importance = *top.Importance
	}
	res.Quality = nominatimQuality(importance)
	res.Confidence = model.Float(importance)
	res.Lon, res.Lat = model.Float(lon), model.Float(lat)
	res.MatchedText = top.DisplayName
	res.Payload = payload(map[string]any{
		"query":    rp.Query,
		"place_id": top.PlaceID,
		"osm_type": top.OSMType,
		"osm_id":   top.OSMID,
		"class":    top.Class,
		"type":     top.Type,
	})
	return res
}

// nominatimQuality grades by importance: >=0.8 exact, >=0.5 interpolated.
func nominatimQuality(importance float64) model.Quality {
	switch {
	case importance >= 0.8:
		return model.QualityExact
	case importance >= 0.5:
		return model.QualityInterpolated
	default:
		return model.QualityApproximate
	}
}
