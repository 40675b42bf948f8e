package service

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/paulmach/orb"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/telemetry"
	"github.com/pusheen1024/mapview/internal/view"
)

// MapService holds one view and its last rendered frame.
//
// Every operation works on a copy of the view and commits it only once a
// new image has been fetched and decoded, so a failed call leaves both the
// view and the last frame untouched. Operations are serialized.
type MapService struct {
	cfg     Config
	maps    MapRenderer
	geo     Geocoder
	history HistoryRecorder
	bus     *EventBus
	log     *logger.Logger

	mu       sync.Mutex
	state    *view.State
	last     *Frame
	revision uint64
}

// Deps are the collaborators of a MapService. History, Bus and Log are
// optional.
type Deps struct {
	Maps     MapRenderer
	Geocoder Geocoder
	History  HistoryRecorder
	Bus      *EventBus
	Log      *logger.Logger
}

// NewMapService creates a service with a fresh view.
func NewMapService(cfg Config, deps Deps) *MapService {
	if deps.Bus == nil {
		deps.Bus = NewEventBus()
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	state := view.New(cfg.Limits, cfg.Size)
	if cfg.Zoom != 0 && state.Limits.Contains(cfg.Zoom) {
		state.Zoom = cfg.Zoom
	}
	if cfg.Layer != "" {
		state.SetLayer(cfg.Layer)
	}
	return &MapService{
		cfg:     cfg,
		maps:    deps.Maps,
		geo:     deps.Geocoder,
		history: deps.History,
		bus:     deps.Bus,
		log:     deps.Log,
		state:   state,
	}
}

// Bus returns the event bus frames are announced on.
func (s *MapService) Bus() *EventBus {
	return s.bus
}

// State returns a snapshot of the current view.
func (s *MapService) State() view.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Markers returns a copy of the current markers.
func (s *MapService) Markers() []orb.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().Markers
}

// LastFrame returns the most recent frame, or ErrNoImage.
func (s *MapService) LastFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Frame{}, apperr.ErrNoImage
	}
	return *s.last, nil
}

// SearchByCoords renders the map. With newSearch the center moves to
// (lon, lat); otherwise the coordinates are ignored and the current center
// is re-rendered.
func (s *MapService) SearchByCoords(ctx context.Context, lon, lat float64, newSearch bool) (Frame, error) {
	action := ActionRefresh
	if newSearch {
		action = ActionSearch
	}
	return s.apply(ctx, action, func(st *view.State) {
		if newSearch {
			st.SetCenter(orb.Point{lon, lat})
		}
	})
}

// Refresh re-renders the current view.
func (s *MapService) Refresh(ctx context.Context) (Frame, error) {
	return s.SearchByCoords(ctx, 0, 0, false)
}

// SearchByName geocodes place and, on success, replaces the markers with
// the found point and centers on it. Lookup failures change nothing.
func (s *MapService) SearchByName(ctx context.Context, place string) (Frame, error) {
	found, err := s.geo.LookupPlace(ctx, place)
	if err != nil {
		s.fail(ctx, ActionName, err)
		return Frame{}, err
	}

	frame, err := s.apply(ctx, ActionName, func(st *view.State) {
		st.ClearMarkers()
		st.AddMarker(found.Point)
		st.SetCenter(found.Point)
	})
	if err != nil {
		return Frame{}, err
	}
	frame.PlaceName = found.Name

	if s.history != nil {
		entry := history.Entry{
			Query: place,
			Name:  found.Name,
			Lon:   found.Point.Lon(),
			Lat:   found.Point.Lat(),
		}
		if err := s.history.Record(ctx, entry); err != nil {
			s.log.WithContext(ctx).Warn("history_record_failed", slog.String("error", err.Error()))
		}
	}
	return frame, nil
}

// ChangeMapType switches the layer by button label or layer code. An
// unknown label keeps the current layer and still re-renders.
func (s *MapService) ChangeMapType(ctx context.Context, label string) (Frame, error) {
	return s.apply(ctx, ActionLayer, func(st *view.State) {
		layer, ok := view.LayerForLabel(label, st.Layer)
		if !ok {
			s.log.WithContext(ctx).Debug("unknown_layer_label", slog.String("label", label))
		}
		st.SetLayer(layer)
	})
}

// ChangeZoom zooms by delta within the limits and re-renders.
func (s *MapService) ChangeZoom(ctx context.Context, delta int) (Frame, error) {
	return s.apply(ctx, ActionZoom, func(st *view.State) {
		st.ChangeZoom(delta)
	})
}

// Pan moves the center one step and re-renders.
func (s *MapService) Pan(ctx context.Context, dx, dy int) (Frame, error) {
	return s.apply(ctx, ActionPan, func(st *view.State) {
		st.PanBy(dx, dy)
	})
}

// ClearMarkers drops all markers and re-renders.
func (s *MapService) ClearMarkers(ctx context.Context) (Frame, error) {
	return s.apply(ctx, ActionMarkers, func(st *view.State) {
		st.ClearMarkers()
	})
}

func (s *MapService) apply(ctx context.Context, action string, mutate func(*view.State)) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if !next.HasCenter {
		next.SetCenter(s.cfg.DefaultCenter)
	}
	mutate(next)

	png, format, err := s.maps.Render(ctx, next.Query())
	if err != nil {
		s.fail(ctx, action, err)
		return Frame{}, err
	}

	s.state = next
	s.revision++
	frame := Frame{
		PNG:      png,
		Format:   format,
		State:    next.Snapshot(),
		Revision: s.revision,
	}
	s.last = &frame
	telemetry.FramesRendered.Inc()

	if s.cfg.StageFile != "" {
		if err := os.WriteFile(s.cfg.StageFile, png, 0644); err != nil {
			s.log.WithContext(ctx).Warn("stage_write_failed",
				slog.String("path", s.cfg.StageFile),
				slog.String("error", err.Error()),
			)
		}
	}

	s.log.WithContext(ctx).Info("frame_rendered",
		slog.String("action", action),
		slog.Uint64("revision", frame.Revision),
		slog.String("layer", string(next.Layer)),
		slog.Int("zoom", next.Zoom),
		slog.String("center", view.FormatPoint(next.Center)),
		slog.Int("markers", len(next.Markers)),
	)
	s.bus.Publish(Event{Resource: "view", Action: action, Revision: frame.Revision})
	return frame, nil
}

func (s *MapService) fail(ctx context.Context, action string, err error) {
	kind := apperr.KindOf(err)
	telemetry.OperationErrors.WithLabelValues(action, kind.String()).Inc()
	s.log.WithContext(ctx).Warn("operation_failed",
		slog.String("action", action),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	)
}
