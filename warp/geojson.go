package warp

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature kinds written to the "kind" property of exported features.
const (
	FeatureMoving       = "moving"
	FeatureFixed        = "fixed"
	FeatureDisplacement = "displacement"
	FeatureWarped       = "warped"
)

func orbPoint(p Point) orb.Point {
	return orb.Point{p[0], p[1]}
}

// LandmarksGeoJSON exports a 2D table as a FeatureCollection: one Point
// feature per set landmark, a LineString from fixed to moving for every
// active row and a Point for each cached preview. The collection carries the
// bounding box of all exported geometry.
func LandmarksGeoJSON(t *Table) (*geojson.FeatureCollection, error) {
	if t.Dim() != 2 {
		return nil, fmt.Errorf("GeoJSON export of a %dD table: %w", t.Dim(), ErrDimensionMismatch)
	}
	rows := t.Rows()
	fc := geojson.NewFeatureCollection()
	var bound orb.Bound
	extend := func(g orb.Geometry) {
		if len(fc.Features) == 0 {
			bound = g.Bound()
			return
		}
		bound = bound.Union(g.Bound())
	}
	add := func(g orb.Geometry, row int, r *Row, kind string) {
		extend(g)
		f := geojson.NewFeature(g)
		f.ID = fmt.Sprintf("%s/%s", r.Name, kind)
		f.Properties["name"] = r.Name
		f.Properties["row"] = row
		f.Properties["kind"] = kind
		f.Properties["active"] = r.Active
		fc.Append(f)
	}

	for i := range rows {
		r := &rows[i]
		if r.Moving.IsSet() {
			add(orbPoint(r.Moving), i, r, FeatureMoving)
		}
		if r.Fixed.IsSet() {
			add(orbPoint(r.Fixed), i, r, FeatureFixed)
		}
		if r.Active {
			ls := orb.LineString{orbPoint(r.Fixed), orbPoint(r.Moving)}
			add(ls, i, r, FeatureDisplacement)
			fc.Features[len(fc.Features)-1].Properties["length"] = planar.Length(ls)
		}
		if r.HasWarped && r.Warped.IsSet() {
			add(orbPoint(r.Warped), i, r, FeatureWarped)
			fc.Features[len(fc.Features)-1].Properties["unreliable"] = r.Unreliable
		}
	}
	if len(fc.Features) > 0 {
		fc.BBox = geojson.NewBBox(bound)
	}
	return fc, nil
}
