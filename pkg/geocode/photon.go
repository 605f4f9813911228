package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/vote-match/internal/model"
)

func init() {
	Register("photon", func(cfg Config, opts ...Option) (Provider, error) {
		return NewPhoton(cfg, opts...), nil
	})
}

// Photon geocodes one record per request against a Photon instance. Answers
// are GeoJSON feature collections.
type Photon struct {
	client
	cfg PhotonConfig
}

// NewPhoton creates a Photon provider.
func NewPhoton(cfg Config, opts ...Option) *Photon {
	def := DefaultConfig().Photon
	c := PhotonConfig{
		BaseURL:     strings.TrimRight(orDefault(cfg.Photon.BaseURL, def.BaseURL), "/"),
		DelayMillis: orDefault(cfg.Photon.DelayMillis, def.DelayMillis),
		TimeoutSecs: orDefault(cfg.Photon.TimeoutSecs, def.TimeoutSecs),
	}
	return &Photon{
		client: newClient("photon", time.Duration(c.TimeoutSecs)*time.Second, time.Duration(c.DelayMillis)*time.Millisecond, opts...),
		cfg:    c,
	}
}

func (p *Photon) Name() string             { return "photon" }
func (p *Photon) Mode() Mode               { return ModeIndividual }
func (p *Photon) RequiresCredential() bool { return false }
func (p *Photon) MaxBatchSize() int        { return 0 }

// Validate requires street and city.
func (p *Photon) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city")
}

// Geocode looks up each record in turn.
func (p *Photon) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[[]query, []reply](ctx, p, p, addrs)
}

// Prepare formats one query per record.
func (p *Photon) Prepare(addrs []AddressInput) ([]query, error) {
	return oneLineQueries(addrs), nil
}

// Submit sends one search request per query.
func (p *Photon) Submit(ctx context.Context, qs []query) ([]reply, error) {
	return p.each(ctx, qs, func(ctx context.Context, q query) (*http.Request, error) {
		params := url.Values{"q": {q.Query}, "limit": {"1"}}
		return http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api?"+params.Encode(), nil)
	})
}

// Parse maps each reply to a Result.
func (p *Photon) Parse(replies []reply, _ []AddressInput) ([]Result, error) {
	results := make([]Result, 0, len(replies))
	for _, rp := range replies {
		if rp.Err != nil {
			results = append(results, failedResult("photon", rp.ID, rp.Query, rp.Err))
			continue
		}
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(rp.Body, &fc); err != nil {
			results = append(results, failedResult("photon", rp.ID, rp.Query, eris.Wrap(err, "decode feature collection")))
			continue
		}
		results = append(results, photonToResult(rp, fc.Features))
	}
	return results, nil
}

func photonToResult(rp reply, features []*geojson.Feature) Result {
	res := Result{RecordID: rp.ID, Provider: "photon"}
	var top *geojson.Feature
	if len(features) > 0 {
		top = features[0]
	}
	pt, ok := pointOf(top)
	if !ok {
		res.Quality = model.QualityNoMatch
		res.Payload = payload(map[string]any{"query": rp.Query})
		return res
	}

	osmKey := firstString(top.Properties, "osm_key")
	quality, conf := photonQuality(osmKey)
	res.Quality = quality
	res.Confidence = model.Float(conf)
	res.Lon, res.Lat = model.Float(pt.X()), model.Float(pt.Y())
	res.MatchedText = photonMatchedText(top.Properties)
	res.Payload = payload(map[string]any{
		"query":     rp.Query,
		"osm_key":   osmKey,
		"osm_value": top.Properties["osm_value"],
		"osm_id":    top.Properties["osm_id"],
		"osm_type":  top.Properties["osm_type"],
	})
	return res
}

// photonQuality grades by the OSM key of the matched object.
func photonQuality(osmKey string) (model.Quality, float64) {
	switch osmKey {
	case "addr":
		return model.QualityExact, 0.9
	case "highway":
		return model.QualityInterpolated, 0.7
	case "amenity", "shop":
		return model.QualityApproximate, 0.45
	case "landuse":
		return model.QualityApproximate, 0.4
	default: // building, place, anything else
		return model.QualityApproximate, 0.5
	}
}

// photonMatchedText joins the street line, city and state.
func photonMatchedText(props map[string]any) string {
	var parts []string
	street := strings.TrimSpace(firstString(props, "housenumber") + " " + firstString(props, "street"))
	if street == "" {
		street = firstString(props, "name")
	}
	for _, s := range []string{street, firstString(props, "city"), firstString(props, "state")} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
