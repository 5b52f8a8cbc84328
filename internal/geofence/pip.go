package geofence

// epsilon pads the denominator of the x-intercept computation so an exactly
// horizontal edge never divides by zero.
const epsilon = 1e-15

// Contains reports whether the point (lon, lat) lies inside the boundary.
// A point inside any polygon's outer ring and inside none of that polygon's
// holes is inside the boundary. Points on an edge count as inside.
func (b *Boundary) Contains(lon, lat float64) bool {
	for _, poly := range b.polygons {
		if polygonContains(poly, lon, lat) {
			return true
		}
	}
	return false
}

// polygonContains tests the outer ring first, then rejects the point when it
// falls into any hole ring.
func polygonContains(poly Polygon, x, y float64) bool {
	if len(poly) == 0 {
		return false
	}
	if !ringContains(poly[0], x, y) {
		return false
	}
	for _, hole := range poly[1:] {
		if ringContains(hole, x, y) {
			return false
		}
	}
	return true
}

// ringContains runs a horizontal ray cast: for every edge crossing the query
// latitude, membership toggles when the edge's x-intercept is at or beyond
// the query longitude. The >= tie-break classifies boundary-touching
// intercepts as inside.
func ringContains(ring Ring, x, y float64) bool {
	inside := false
	n := len(ring)
	for i := 0; i < n; i++ {
		p1 := ring[i]
		p2 := ring[(i+1)%n]
		if (p1.Lat > y) != (p2.Lat > y) {
			xIntercept := (p2.Lon-p1.Lon)*(y-p1.Lat)/(p2.Lat-p1.Lat+epsilon) + p1.Lon
			if xIntercept >= x {
				inside = !inside
			}
		}
	}
	return inside
}
