// Package service owns the map view and turns user actions into freshly
// rendered map frames.
package service

import (
	"context"
	"net/url"

	"github.com/paulmach/orb"

	"github.com/pusheen1024/mapview/internal/geocoder"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/view"
)

// MapRenderer fetches and decodes one map image. *staticmap.Client
// implements it.
type MapRenderer interface {
	Render(ctx context.Context, params url.Values) (png []byte, format string, err error)
}

// Geocoder resolves place names. *geocoder.Client implements it.
type Geocoder interface {
	LookupPlace(ctx context.Context, place string) (geocoder.Place, error)
}

// HistoryRecorder stores successful name searches. *history.Store
// implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Config holds the view defaults.
type Config struct {
	Limits        view.Limits
	Size          view.Size
	DefaultCenter orb.Point
	// Zoom overrides the starting zoom when it lies within Limits.
	Zoom int
	// Layer overrides the starting layer when set.
	Layer view.Layer
	// StageFile, when set, is overwritten with every rendered PNG.
	StageFile string
}

// Frame is a rendered map image and the view it was rendered from.
type Frame struct {
	PNG       []byte        `json:"-"`
	Format    string        `json:"format" doc:"Format the map server answered with" example:"png"`
	State     view.Snapshot `json:"state" doc:"View the image was rendered from"`
	Revision  uint64        `json:"revision" doc:"Monotonic frame counter" example:"3"`
	PlaceName string        `json:"placeName,omitempty" doc:"Geocoder name for name searches"`
}

// Action names used in events, logs and metrics.
const (
	ActionSearch  = "search"
	ActionRefresh = "refresh"
	ActionName    = "name_search"
	ActionLayer   = "layer"
	ActionZoom    = "zoom"
	ActionPan     = "pan"
	ActionMarkers = "markers"
)
