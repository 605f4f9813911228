package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/model"
)

// ReadShapefile reads polygon records from a shapefile and its .dbf.
func ReadShapefile(path string, opts Options) ([]model.Boundary, *Result, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	c := newCollector(opts)
	for reader.Next() {
		n, shape := reader.Shape()

		attrs := make(map[string]string, len(names))
		meta := make(map[string]any, len(names))
		for i, name := range names {
			v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[name] = v
			if v != "" {
				meta[name] = v
			}
		}
		get := func(k string) (string, bool) {
			v, ok := attrs[k]
			return v, ok
		}

		data, err := EncodePolygon(shape)
		if err != nil {
			zap.L().Debug("boundary: skipping shapefile record", zap.Int("record", n), zap.Error(err))
		}
		c.add(pick(get, opts.IDField, idFields), pick(get, opts.NameField, nameFields), data, meta)
	}
	return c.out, &c.res, nil
}

// EncodePolygon converts a shapefile polygon to EWKB MultiPolygon, SRID
// 4326. Clockwise rings start a new polygon; counter-clockwise rings are
// holes of the polygon before them.
func EncodePolygon(shape shp.Shape) ([]byte, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil {
		return nil, eris.Errorf("boundary: shape %T is not a polygon", shape)
	}
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil, eris.New("boundary: empty polygon")
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon
	flush := func() {
		if current != nil {
			if err := mp.Push(current); err != nil {
				zap.L().Debug("boundary: skipping malformed polygon part", zap.Error(err))
			}
		}
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			continue
		}
		pts := p.Points[start:end]

		flat := make([]float64, 0, len(pts)*2)
		for _, pt := range pts {
			flat = append(flat, pt.X, pt.Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(pts) <= 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil, eris.New("boundary: polygon has no usable rings")
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode EWKB")
	}
	return data, nil
}

// signedArea is positive for counter-clockwise rings.
func signedArea(pts []shp.Point) float64 {
	var a float64
	for i := 0; i+1 < len(pts); i++ {
		a += pts[i].X*pts[i+1].Y - pts[i+1].X*pts[i].Y
	}
	return a / 2
}
