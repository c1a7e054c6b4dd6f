package sentry

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"time"

	"github.com/golang/geo/s2"
)

const earthRadiusKm = 6371.0088

// Target is a fixed geographic area of interest.
// Zoom is the half-extent of its bounding box in degrees.
type Target struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom float64 `json:"zoom"`

	// Layers restricts the target to a subset of the plan's layers by name.
	// Empty means every layer.
	Layers []string          `json:"layers,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// String renders the box in WMS 1.1.1 EPSG:4326 axis order.
func (b BBox) String() string {
	return formatCoord(b.MinLon) + "," + formatCoord(b.MinLat) + "," +
		formatCoord(b.MaxLon) + "," + formatCoord(b.MaxLat)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

func (t Target) rect() s2.Rect {
	center := s2.LatLngFromDegrees(t.Lat, t.Lon)
	size := s2.LatLngFromDegrees(2*t.Zoom, 2*t.Zoom)
	return s2.RectFromCenterSize(center, size)
}

// BBox returns center +/- Zoom degrees, with latitude clamped at the poles.
func (t Target) BBox() BBox {
	r := t.rect()
	lo, hi := r.Lo(), r.Hi()
	return BBox{
		MinLon: lo.Lng.Degrees(),
		MinLat: lo.Lat.Degrees(),
		MaxLon: hi.Lng.Degrees(),
		MaxLat: hi.Lat.Degrees(),
	}
}

// CrossesAntimeridian reports whether the bounding box wraps past +/-180
// degrees longitude. Such a box has MinLon > MaxLon, which a single WMS
// EPSG:4326 BBOX cannot express.
func (t Target) CrossesAntimeridian() bool {
	return t.rect().Lng.IsInverted()
}

// AreaKm2 returns the surface area covered by the bounding box.
func (t Target) AreaKm2() float64 {
	return t.rect().Area() * earthRadiusKm * earthRadiusKm
}

// Coordinates formats the target center as "lat, lon".
func (t Target) Coordinates() string {
	return fmt.Sprintf("%s, %s", formatCoord(t.Lat), formatCoord(t.Lon))
}

// Observes reports whether the target is observed in the named layer.
func (t Target) Observes(layer string) bool {
	if len(t.Layers) == 0 {
		return true
	}
	for _, l := range t.Layers {
		if l == layer {
			return true
		}
	}
	return false
}

// Layer is a named data product mapped to a provider layer identifier.
type Layer struct {
	Name        string  `json:"name"`
	ProviderID  string  `json:"providerId"`
	Format      string  `json:"format"`
	Transparent bool    `json:"transparent"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Enhancement float64 `json:"enhancement"`
}

// Snapshot is a decoded raster for a (target, layer, date) triple together
// with the exact bytes the source returned.
type Snapshot struct {
	Key         Key
	Date        time.Time
	ContentType string
	Raw         []byte
	Image       image.Image
}

// Size returns the pixel dimensions of the snapshot.
func (s Snapshot) Size() image.Point {
	if s.Image == nil {
		return image.Point{}
	}
	return s.Image.Bounds().Size()
}

// Plan is everything a run needs to know about what to observe.
type Plan struct {
	Targets []Target
	Layers  []Layer

	// ASCIIWidth is the text grid width; 0 disables rendering.
	ASCIIWidth int

	// Concurrency bounds the number of keys processed at once (default 1).
	Concurrency int
}

// Layer looks up a layer by name.
func (p Plan) Layer(name string) (Layer, bool) {
	for _, l := range p.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// Keys lists every (target, layer) key the plan observes, in plan order.
func (p Plan) Keys() []Key {
	var keys []Key
	for _, j := range p.jobs() {
		if j.err == nil {
			keys = append(keys, j.key)
		}
	}
	return keys
}

type job struct {
	target Target
	layer  Layer
	key    Key
	err    error
}

func (p Plan) jobs() []job {
	var jobs []job
	for _, t := range p.Targets {
		for _, l := range p.Layers {
			if !t.Observes(l.Name) {
				continue
			}
			k, err := NewKey(t.ID, l.Name)
			jobs = append(jobs, job{target: t, layer: l, key: k, err: err})
		}
	}
	return jobs
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
