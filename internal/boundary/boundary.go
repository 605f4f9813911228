// Package boundary imports boundary polygons from GeoJSON and shapefiles.
// Geometry is normalized to EWKB MultiPolygon, SRID 4326.
package boundary

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/model"
)

// idFields and nameFields are tried in order when no field is named.
var (
	idFields   = []string{"district", "district_id", "districtid", "geoid", "sldust", "sldlst", "cd", "id"}
	nameFields = []string{"name", "namelsad", "district_name", "label"}
)

// Options controls one import.
type Options struct {
	Type      string
	IDField   string
	NameField string
	County    string
}

// Result counts what happened to each feature.
type Result struct {
	Total   int `json:"total" yaml:"total"`
	Success int `json:"success" yaml:"success"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Upserter persists boundaries.
type Upserter interface {
	UpsertBoundaries(ctx context.Context, boundaries []model.Boundary) (int64, error)
}

// Load reads path (by extension: .geojson/.json or .shp) and upserts every
// usable feature.
func Load(ctx context.Context, up Upserter, path string, opts Options) (*Result, error) {
	if opts.Type == "" {
		return nil, eris.New("boundary: type is required")
	}

	var (
		bs  []model.Boundary
		res *Result
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		bs, res, err = ReadGeoJSONFile(path, opts)
	case ".shp":
		bs, res, err = ReadShapefile(path, opts)
	default:
		return nil, eris.Errorf("boundary: unsupported file type %q (want .geojson, .json or .shp)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if _, err := up.UpsertBoundaries(ctx, bs); err != nil {
		return res, eris.Wrapf(err, "boundary: save %s", opts.Type)
	}
	res.Success = len(bs)

	zap.L().Info("boundary: load complete",
		zap.String("type", opts.Type),
		zap.String("file", path),
		zap.Int("total", res.Total),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// collector dedupes by external id and tallies outcomes.
type collector struct {
	opts Options
	seen map[string]bool
	out  []model.Boundary
	res  Result
}

func newCollector(opts Options) *collector {
	return &collector{opts: opts, seen: make(map[string]bool)}
}

// add records one feature. ewkbGeom nil or id empty counts as failed; a
// repeated id is skipped.
func (c *collector) add(id, name string, ewkbGeom []byte, meta map[string]any) {
	c.res.Total++
	id = strings.TrimSpace(id)
	if id == "" || ewkbGeom == nil {
		c.res.Failed++
		return
	}
	if c.seen[id] {
		c.res.Skipped++
		return
	}
	c.seen[id] = true
	c.out = append(c.out, model.Boundary{
		Type:       c.opts.Type,
		ExternalID: id,
		Name:       strings.TrimSpace(name),
		County:     c.opts.County,
		Geometry:   ewkbGeom,
		Metadata:   meta,
	})
}

// pick returns the value of the named key, or of the first known key present.
// Keys match case-insensitively.
func pick(get func(key string) (string, bool), named string, fallbacks []string) string {
	if named != "" {
		v, _ := get(strings.ToLower(named))
		return v
	}
	for _, k := range fallbacks {
		if v, ok := get(k); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
