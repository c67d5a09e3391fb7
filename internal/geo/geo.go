package geo

import "github.com/umahmood/haversine"

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// PointBBox returns a box of halfSizeDeg degrees around a point. Worldview
// snapshots take their extent this way rather than as a radius.
func PointBBox(lat, lon, halfSizeDeg float64) BBox {
	return BBox{
		West:  lon - halfSizeDeg,
		South: lat - halfSizeDeg,
		East:  lon + halfSizeDeg,
		North: lat + halfSizeDeg,
	}
}

// KmToMiles converts kilometers to statute miles.
func KmToMiles(km float64) float64 {
	return km * 0.621
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: lat1, Lon: lon1},
		haversine.Coord{Lat: lat2, Lon: lon2},
	)
	return km
}
