package view

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Axis spans used to size a pan step at zoom 1.
const (
	lonSpan = 180.0
	latSpan = 90.0
)

// wrapModulus is the fold applied to both axes after a pan.
const wrapModulus = 90.0

// State is the mutable map view. The zero value is not usable; call New.
type State struct {
	Layer     Layer
	Zoom      int
	Center    orb.Point
	HasCenter bool
	Markers   []orb.Point
	Limits    Limits
	Size      Size
}

// New returns a view at DefaultZoom on the map layer with no center and no
// markers. Zero limits or size fall back to the defaults.
func New(limits Limits, size Size) *State {
	if limits.MinZoom == 0 && limits.MaxZoom == 0 {
		limits = DefaultLimits
	}
	if size.Width == 0 || size.Height == 0 {
		size = DefaultSize
	}
	zoom := DefaultZoom
	if !limits.Contains(zoom) {
		zoom = limits.MinZoom
	}
	return &State{
		Layer:  LayerMap,
		Zoom:   zoom,
		Limits: limits,
		Size:   size,
	}
}

// ChangeZoom moves one level in the direction of delta if the result stays
// within the limits. Out-of-range requests are silently ignored.
func (s *State) ChangeZoom(delta int) bool {
	z := s.Zoom + sign(delta)
	if delta == 0 || !s.Limits.Contains(z) {
		return false
	}
	s.Zoom = z
	return true
}

// PanBy moves the center one step in the direction of dx and dy. The step
// halves with every zoom level. Both axes are folded with Wrap afterwards.
func (s *State) PanBy(dx, dy int) {
	scale := math.Pow(2, float64(s.Zoom-1))
	lon := s.Center.Lon() + float64(sign(dx))*lonSpan/scale
	lat := s.Center.Lat() + float64(sign(dy))*latSpan/scale
	s.Center = orb.Point{Wrap(lon), Wrap(lat)}
}

// Wrap folds v into (-90, 90) keeping its sign: the floored remainder of
// |v| is not taken, so -10 becomes -80 and 179 becomes 89.
func Wrap(v float64) float64 {
	if v < 0 {
		return -math.Abs(floorMod(v, wrapModulus))
	}
	return floorMod(v, wrapModulus)
}

// floorMod is a remainder that takes the sign of m.
func floorMod(v, m float64) float64 {
	r := math.Mod(v, m)
	if r < 0 {
		r += m
	}
	return r
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// SetCenter moves the view without wrapping.
func (s *State) SetCenter(p orb.Point) {
	s.Center = p
	s.HasCenter = true
}

func (s *State) SetLayer(l Layer) {
	s.Layer = l
}

func (s *State) AddMarker(p orb.Point) {
	s.Markers = append(s.Markers, p)
}

func (s *State) ClearMarkers() {
	s.Markers = nil
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	if s.Markers != nil {
		c.Markers = make([]orb.Point, len(s.Markers))
		copy(c.Markers, s.Markers)
	}
	return &c
}

// Query builds the static map request parameters. pt is omitted when
// there are no markers.
func (s *State) Query() url.Values {
	q := url.Values{}
	q.Set("l", string(s.Layer))
	q.Set("ll", FormatPoint(s.Center))
	q.Set("z", strconv.Itoa(s.Zoom))
	q.Set("size", strconv.Itoa(s.Size.Width)+","+strconv.Itoa(s.Size.Height))
	if len(s.Markers) > 0 {
		q.Set("pt", FormatMarkers(s.Markers))
	}
	return q
}

// FormatPoint renders p as "lon,lat" in shortest form.
func FormatPoint(p orb.Point) string {
	return formatFloat(p.Lon()) + "," + formatFloat(p.Lat())
}

// FormatMarkers joins markers as "lon,lat~lon,lat".
func FormatMarkers(points []orb.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = FormatPoint(p)
	}
	return strings.Join(parts, "~")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Snapshot copies the state into a response value.
func (s *State) Snapshot() Snapshot {
	markers := make([]Marker, len(s.Markers))
	for i, p := range s.Markers {
		markers[i] = Marker{Lon: p.Lon(), Lat: p.Lat()}
	}
	return Snapshot{
		Layer:     s.Layer,
		Zoom:      s.Zoom,
		Lon:       s.Center.Lon(),
		Lat:       s.Center.Lat(),
		HasCenter: s.HasCenter,
		Markers:   markers,
		Limits:    s.Limits,
	}
}
