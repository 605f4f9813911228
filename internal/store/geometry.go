package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"github.com/twpayne/go-geom/xy/orientation"
)

// area is a decoded boundary polygon set with its bounding box.
type area struct {
	polys  []*geom.Polygon
	bounds *geom.Bounds
}

// decodeArea parses EWKB holding a Polygon or MultiPolygon.
func decodeArea(data []byte) (*area, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode boundary geometry")
	}
	a := &area{bounds: g.Bounds()}
	switch t := g.(type) {
	case *geom.Polygon:
		a.polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			a.polys = append(a.polys, t.Polygon(i))
		}
	default:
		return nil, eris.Errorf("store: boundary geometry is %T, want polygon", g)
	}
	return a, nil
}

// contains reports whether (lon, lat) lies inside any polygon: within the
// outer ring and outside every hole.
func (a *area) contains(lon, lat float64) bool {
	pt := geom.Coord{lon, lat}
	if !a.bounds.OverlapsPoint(geom.XY, pt) {
		return false
	}
	for _, p := range a.polys {
		if p.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(p.Layout(), pt, p.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for i := 1; i < p.NumLinearRings(); i++ {
			if xy.IsPointInRing(p.Layout(), pt, p.LinearRing(i).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// overlaps reports whether a and b share interior area. Only outer rings are
// compared; polygons that touch along an edge or at a vertex do not overlap.
func (a *area) overlaps(b *area) bool {
	if !a.bounds.Overlaps(geom.XY, b.bounds) {
		return false
	}
	for _, pa := range a.polys {
		ra := outerRing(pa)
		for _, pb := range b.polys {
			if !pa.Bounds().Overlaps(geom.XY, pb.Bounds()) {
				continue
			}
			if ringsOverlap(ra, outerRing(pb)) {
				return true
			}
		}
	}
	return false
}

// outerRing flattens a polygon's shell to XY coordinates.
func outerRing(p *geom.Polygon) []float64 {
	if p.NumLinearRings() == 0 {
		return nil
	}
	r := p.LinearRing(0)
	flat := make([]float64, 0, 2*r.NumCoords())
	for i := 0; i < r.NumCoords(); i++ {
		c := r.Coord(i)
		flat = append(flat, c[0], c[1])
	}
	return flat
}

func ringsOverlap(a, b []float64) bool {
	if len(a) < 6 || len(b) < 6 {
		return false
	}
	if anyVertexAt(a, b, location.Interior) || anyVertexAt(b, a, location.Interior) {
		return true
	}
	if edgesCross(a, b) {
		return true
	}
	if anyMidpointInside(a, b) || anyMidpointInside(b, a) {
		return true
	}
	// Coincident shells: every vertex of each lies on the other's boundary.
	return allVerticesAt(a, b, location.Boundary) && allVerticesAt(b, a, location.Boundary)
}

func vertex(ring []float64, i int) geom.Coord { return geom.Coord{ring[2*i], ring[2*i+1]} }

func anyVertexAt(ring, other []float64, loc location.Type) bool {
	for i := 0; i < len(ring)/2; i++ {
		if xy.LocatePointInRing(geom.XY, vertex(ring, i), other) == loc {
			return true
		}
	}
	return false
}

func allVerticesAt(ring, other []float64, loc location.Type) bool {
	for i := 0; i < len(ring)/2; i++ {
		if xy.LocatePointInRing(geom.XY, vertex(ring, i), other) != loc {
			return false
		}
	}
	return true
}

func anyMidpointInside(ring, other []float64) bool {
	for i := 0; i+1 < len(ring)/2; i++ {
		p, q := vertex(ring, i), vertex(ring, i+1)
		mid := geom.Coord{(p[0] + q[0]) / 2, (p[1] + q[1]) / 2}
		if xy.LocatePointInRing(geom.XY, mid, other) == location.Interior {
			return true
		}
	}
	return false
}

// edgesCross reports whether any edge of a properly crosses an edge of b.
func edgesCross(a, b []float64) bool {
	for i := 0; i+1 < len(a)/2; i++ {
		p1, p2 := vertex(a, i), vertex(a, i+1)
		for j := 0; j+1 < len(b)/2; j++ {
			q1, q2 := vertex(b, j), vertex(b, j+1)
			if opposite(xy.OrientationIndex(p1, p2, q1), xy.OrientationIndex(p1, p2, q2)) &&
				opposite(xy.OrientationIndex(q1, q2, p1), xy.OrientationIndex(q1, q2, p2)) {
				return true
			}
		}
	}
	return false
}

func opposite(a, b orientation.Type) bool {
	return (a == orientation.Clockwise && b == orientation.CounterClockwise) ||
		(a == orientation.CounterClockwise && b == orientation.Clockwise)
}
