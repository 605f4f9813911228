package geocode

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/model"
)

const censusMaxBatch = 10000

func init() {
	Register("census", func(cfg Config, opts ...Option) (Provider, error) {
		return NewCensus(cfg, opts...), nil
	})
}

// Census geocodes via the Census Bureau geographies batch endpoint. One
// multipart CSV upload covers up to 10,000 records.
type Census struct {
	client
	cfg          CensusConfig
	defaultState string
}

// NewCensus creates a Census provider.
func NewCensus(cfg Config, opts ...Option) *Census {
	def := DefaultConfig().Census
	c := CensusConfig{
		BaseURL:     strings.TrimRight(orDefault(cfg.Census.BaseURL, def.BaseURL), "/"),
		Benchmark:   orDefault(cfg.Census.Benchmark, def.Benchmark),
		Vintage:     orDefault(cfg.Census.Vintage, def.Vintage),
		TimeoutSecs: orDefault(cfg.Census.TimeoutSecs, def.TimeoutSecs),
	}
	return &Census{
		client:       newClient("census", time.Duration(c.TimeoutSecs)*time.Second, 0, opts...),
		cfg:          c,
		defaultState: orDefault(cfg.DefaultState, DefaultConfig().DefaultState),
	}
}

func (c *Census) Name() string             { return "census" }
func (c *Census) Mode() Mode               { return ModeBatch }
func (c *Census) RequiresCredential() bool { return false }
func (c *Census) MaxBatchSize() int        { return censusMaxBatch }

// Validate requires street, city and zip.
func (c *Census) Validate(addr AddressInput) error {
	return requireFields(addr, "street", "city", "zip")
}

// Geocode runs one batch upload.
func (c *Census) Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	return Run[censusUpload, []byte](ctx, c, c, addrs)
}

// censusUpload is a prepared multipart request body.
type censusUpload struct {
	Body        []byte
	ContentType string
}

// Prepare writes the headerless id,street,city,state,zip CSV into a multipart form.
func (c *Census) Prepare(addrs []AddressInput) (censusUpload, error) {
	var file bytes.Buffer
	w := csv.NewWriter(&file)
	for _, a := range addrs {
		state := orDefault(strings.TrimSpace(a.State), c.defaultState)
		if err := w.Write([]string{a.ID, a.Street, a.City, state, a.ZipCode}); err != nil {
			return censusUpload{}, eris.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return censusUpload{}, eris.Wrap(err, "flush csv")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("benchmark", c.cfg.Benchmark); err != nil {
		return censusUpload{}, eris.Wrap(err, "write benchmark")
	}
	if err := mw.WriteField("vintage", c.cfg.Vintage); err != nil {
		return censusUpload{}, eris.Wrap(err, "write vintage")
	}
	part, err := mw.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return censusUpload{}, eris.Wrap(err, "create form file")
	}
	if _, err := part.Write(file.Bytes()); err != nil {
		return censusUpload{}, eris.Wrap(err, "write form file")
	}
	if err := mw.Close(); err != nil {
		return censusUpload{}, eris.Wrap(err, "close multipart writer")
	}
	return censusUpload{Body: buf.Bytes(), ContentType: mw.FormDataContentType()}, nil
}

// Submit posts the upload and returns the raw CSV response.
func (c *Census) Submit(ctx context.Context, in censusUpload) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/geographies/addressbatch", bytes.NewReader(in.Body))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census: build request")
	}
	req.Header.Set("Content-Type", in.ContentType)
	return c.do(req)
}

// Parse maps each response row to a Result. Rows for unknown ids are ignored;
// records missing from the response are left to the caller.
//
// Row layout: id, input address, match indicator, match type, matched address,
// "lon,lat", tigerline id, side, state fips, county fips, tract, block.
func (c *Census) Parse(out []byte, addrs []AddressInput) ([]Result, error) {
	known := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		known[a.ID] = true
	}

	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var results []Result
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read census csv")
		}
		if len(row) < 3 {
			continue
		}
		id := strings.TrimSpace(row[0])
		if !known[id] {
			continue
		}
		results = append(results, censusResult(id, row))
	}
	return results, nil
}

func censusResult(id string, row []string) Result {
	indicator := strings.TrimSpace(row[2])
	details := map[string]any{
		"match_indicator": indicator,
		"input_address":   strings.TrimSpace(row[1]),
	}
	res := Result{RecordID: id, Provider: "census"}

	switch strings.ToLower(indicator) {
	case "match", "tie":
		var matchType, matched, coords string
		if len(row) > 3 {
			matchType = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			matched = strings.TrimSpace(row[4])
		}
		if len(row) > 5 {
			coords = row[5]
		}
		if len(row) >= 12 {
			details["match_type"] = matchType
			details["tigerline_id"] = row[6]
			details["side"] = row[7]
			details["state_fips"] = row[8]
			details["county_fips"] = row[9]
			details["tract"] = row[10]
			details["block"] = row[11]
		}

		lon, lat, err := parseCensusCoords(coords)
		if err != nil {
			// Matched without usable coordinates: route it on like a miss.
			res.Quality = model.QualityNoMatch
			res.Payload = payload(details)
			return res
		}

		res.Quality = model.QualityInterpolated
		res.Confidence = model.Float(0.85)
		if strings.EqualFold(indicator, "match") && strings.EqualFold(matchType, "exact") {
			res.Quality = model.QualityExact
			res.Confidence = model.Float(1.0)
		}
		res.Lon, res.Lat = model.Float(lon), model.Float(lat)
		res.MatchedText = matched
	case "no_match":
		res.Quality = model.QualityNoMatch
	default:
		res.Quality = model.QualityFailed
		res.Error = "unexpected census match indicator: " + indicator
	}
	res.Payload = payload(details)
	return res
}

// parseCensusCoords parses "lon,lat", optionally wrapped in parentheses.
func parseCensusCoords(coords string) (lon, lat float64, err error) {
	coords = strings.Trim(strings.TrimSpace(coords), "()")
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("geocode: invalid census coords %q", coords)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lat")
	}
	return lon, lat, nil
}
