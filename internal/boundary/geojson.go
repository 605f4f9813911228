package boundary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/model"
)

// ReadGeoJSONFile opens and parses a GeoJSON FeatureCollection.
func ReadGeoJSONFile(path string, opts Options) ([]model.Boundary, *Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "boundary: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadGeoJSON(f, opts)
}

// ReadGeoJSON parses a FeatureCollection of Polygon/MultiPolygon features.
// Remaining properties are kept as metadata.
func ReadGeoJSON(r io.Reader, opts Options) ([]model.Boundary, *Result, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, nil, eris.Wrap(err, "boundary: decode geojson")
	}

	c := newCollector(opts)
	for i, f := range fc.Features {
		props := lowerKeys(f.Properties)
		get := func(k string) (string, bool) {
			v, ok := props[k]
			if !ok || v == nil {
				return "", false
			}
			return propString(v), true
		}
		id := pick(get, opts.IDField, idFields)
		if id == "" && f.ID != "" && opts.IDField == "" {
			id = f.ID
		}
		name := pick(get, opts.NameField, nameFields)

		data, err := encodeArea(f.Geometry)
		if err != nil {
			zap.L().Debug("boundary: skipping feature geometry", zap.Int("feature", i), zap.Error(err))
		}
		c.add(id, name, data, f.Properties)
	}
	return c.out, &c.res, nil
}

// encodeArea converts a polygonal geometry to EWKB MultiPolygon with SRID 4326.
func encodeArea(g geom.T) ([]byte, error) {
	var mp *geom.MultiPolygon
	switch t := g.(type) {
	case *geom.MultiPolygon:
		mp = t
	case *geom.Polygon:
		mp = geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "boundary: wrap polygon")
		}
	case nil:
		return nil, eris.New("boundary: feature has no geometry")
	default:
		return nil, eris.Errorf("boundary: unsupported geometry %T", g)
	}
	if mp.Empty() {
		return nil, eris.New("boundary: empty geometry")
	}
	if mp.Layout() != geom.XY {
		flat, err := toXY(mp)
		if err != nil {
			return nil, err
		}
		mp = flat
	}
	data, err := ewkb.Marshal(mp.SetSRID(4326), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode EWKB")
	}
	return data, nil
}

// toXY drops Z/M ordinates.
func toXY(mp *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	out := geom.NewMultiPolygon(geom.XY)
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		coords := p.Coords()
		for _, ring := range coords {
			for j := range ring {
				ring[j] = ring[j][:2]
			}
		}
		np, err := geom.NewPolygon(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: flatten polygon")
		}
		if err := out.Push(np); err != nil {
			return nil, eris.Wrap(err, "boundary: flatten polygon")
		}
	}
	return out, nil
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// propString renders ids that arrive as JSON numbers without a decimal point.
func propString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
