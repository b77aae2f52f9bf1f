package tiles

import (
	"math"
	"strconv"
	"strings"
)

// MaxLatitude is the Web Mercator cutoff; tiles do not exist beyond it.
const MaxLatitude = 85.05112878

// Bounds is a lat/lng bounding box in degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Coord addresses one slippy-map tile.
type Coord struct {
	Z, X, Y int
}

func (c Coord) String() string {
	return strconv.Itoa(c.Z) + "/" + strconv.Itoa(c.X) + "/" + strconv.Itoa(c.Y)
}

// LngToX returns the tile column containing lng at zoom z.
func LngToX(lng float64, z int) int {
	n := math.Exp2(float64(z))
	return clampTile(int(math.Floor((lng+180)/360*n)), z)
}

// LatToY returns the tile row containing lat at zoom z.
func LatToY(lat float64, z int) int {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	r := lat * math.Pi / 180
	n := math.Exp2(float64(z))
	y := (1 - math.Log(math.Tan(r)+1/math.Cos(r))/math.Pi) / 2 * n
	return clampTile(int(math.Floor(y)), z)
}

func clampTile(v, z int) int {
	last := (1 << z) - 1
	if v < 0 {
		return 0
	}
	if v > last {
		return last
	}
	return v
}

// TilesForBounds lists every tile covering b at zoom z, row by row.
func TilesForBounds(b Bounds, z int) []Coord {
	minX, maxX := LngToX(b.West, z), LngToX(b.East, z)
	minY, maxY := LatToY(b.North, z), LatToY(b.South, z)
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	out := make([]Coord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out = append(out, Coord{Z: z, X: x, Y: y})
		}
	}
	return out
}

// CountTiles returns how many tiles TilesForBounds would produce over a zoom
// range, without building the lists.
func CountTiles(b Bounds, minZoom, maxZoom int) int {
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		dx := LngToX(b.East, z) - LngToX(b.West, z)
		dy := LatToY(b.South, z) - LatToY(b.North, z)
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		total += (dx + 1) * (dy + 1)
	}
	return total
}

// ResolveURL fills the placeholders of a tile URL template such as
// https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png.
func ResolveURL(template, subdomain string, c Coord) string {
	r := strings.NewReplacer(
		"{s}", subdomain,
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	)
	return r.Replace(template)
}
