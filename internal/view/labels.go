package view

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Button labels shown by the viewer for each layer.
const (
	LabelMap       = "Карта"
	LabelSatellite = "Спутник"
	LabelHybrid    = "Гибрид"
)

var labelLayers = map[string]Layer{
	LabelMap:       LayerMap,
	LabelSatellite: LayerSatellite,
	LabelHybrid:    LayerHybrid,
}

// LayerForLabel maps a button label, or a raw layer code, to its layer.
// Anything else yields (current, false): the layer is left as it was.
func LayerForLabel(label string, current Layer) (Layer, bool) {
	label = strings.TrimSpace(label)
	if l, ok := labelLayers[label]; ok {
		return l, true
	}
	if l, err := ParseLayer(label); err == nil {
		return l, true
	}
	return current, false
}

// Label returns the button label for l.
func (l Layer) Label() string {
	for label, layer := range labelLayers {
		if layer == l {
			return label
		}
	}
	return string(l)
}

// ParsePoint parses "lon<sep>lat". A blank sep splits on whitespace.
func ParsePoint(s, sep string) (orb.Point, error) {
	var parts []string
	if strings.TrimSpace(sep) == "" {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, sep)
	}
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("point %q: want 2 coordinates, got %d", s, len(parts))
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q: longitude: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q: latitude: %w", s, err)
	}
	return orb.Point{lon, lat}, nil
}

// FromQuery rebuilds a State from static map request parameters, the
// inverse of Query. Limits are left at the defaults.
func FromQuery(q url.Values) (*State, error) {
	layer, err := ParseLayer(q.Get("l"))
	if err != nil {
		return nil, err
	}
	center, err := ParsePoint(q.Get("ll"), ",")
	if err != nil {
		return nil, err
	}
	zoom, err := strconv.Atoi(q.Get("z"))
	if err != nil {
		return nil, fmt.Errorf("zoom: %w", err)
	}

	size := DefaultSize
	if raw := q.Get("size"); raw != "" {
		w, h, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("size %q: want w,h", raw)
		}
		if size.Width, err = strconv.Atoi(w); err != nil {
			return nil, fmt.Errorf("size width: %w", err)
		}
		if size.Height, err = strconv.Atoi(h); err != nil {
			return nil, fmt.Errorf("size height: %w", err)
		}
	}

	s := New(DefaultLimits, size)
	s.Layer = layer
	s.Zoom = zoom
	s.SetCenter(center)
	if raw := q.Get("pt"); raw != "" {
		for _, part := range strings.Split(raw, "~") {
			p, err := ParsePoint(part, ",")
			if err != nil {
				return nil, fmt.Errorf("marker: %w", err)
			}
			s.AddMarker(p)
		}
	}
	return s, nil
}
