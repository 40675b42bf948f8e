// Package viewer contains Datastar SSE handlers for the map viewer page.
package viewer

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pusheen1024/mapview/internal/api"
	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/humastar"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/service"
	"github.com/pusheen1024/mapview/internal/templates"
	"github.com/pusheen1024/mapview/internal/view"
)

// historyLimit is how many recent searches the page lists.
const historyLimit = 10

// Handler drives the viewer page: every action renders a frame and pushes
// the new view back as signals.
type Handler struct {
	humastar.Handler
	maps    *service.MapService
	history *history.Store
	log     *logger.Logger
}

// NewHandler creates a viewer handler. store and log may be nil.
func NewHandler(maps *service.MapService, store *history.Store, renderer *templates.Renderer, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		maps:    maps,
		history: store,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(a huma.API) {
	huma.Post(a, "/api/v1/viewer/refresh", h.Refresh, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/search/coords", h.SearchCoords, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/search/name", h.SearchName, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/layer", h.Layer, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/zoom", h.Zoom, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/pan", h.Pan, huma.OperationTags("viewer"))
	huma.Post(a, "/api/v1/viewer/markers/clear", h.ClearMarkers, huma.OperationTags("viewer"))
	huma.Get(a, "/api/v1/viewer/events", h.Events, huma.OperationTags("viewer"))
}

func (h *Handler) Refresh(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.Refresh(ctx)
	}), nil
}

func (h *Handler) SearchCoords(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	lon, okLon := signals.FloatOK("lon")
	lat, okLat := signals.FloatOK("lat")
	if !okLon || !okLat || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return h.Stream(func(sse humastar.SSE) {
			sse.Error(apperr.StatusMessage(apperr.ErrValidation))
		}), nil
	}
	// An absent newSearch signal is a new search.
	newSearch := !signals.Has("newSearch") || signals.Bool("newSearch")
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.SearchByCoords(ctx, lon, lat, newSearch)
	}), nil
}

func (h *Handler) SearchName(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	place := signals.String("place")
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.SearchByName(ctx, place)
	}), nil
}

func (h *Handler) Layer(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	label := signals.String("label")
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.ChangeMapType(ctx, label)
	}), nil
}

func (h *Handler) Zoom(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	delta := signals.Int("delta")
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.ChangeZoom(ctx, delta)
	}), nil
}

func (h *Handler) Pan(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	dx, dy := signals.Int("dx"), signals.Int("dy")
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.Pan(ctx, dx, dy)
	}), nil
}

func (h *Handler) ClearMarkers(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.run(ctx, func() (service.Frame, error) {
		return h.maps.ClearMarkers(ctx)
	}), nil
}

// Events streams the view to the page whenever any client commits a frame.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			bus := h.maps.Bus()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			sse := humastar.NewSSE(humaCtx)
			if frame, err := h.maps.LastFrame(); err == nil {
				h.sendFrame(ctx, sse, frame)
			} else {
				sse.Signals(stateSignals(h.maps.State()))
			}

			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-ch:
					frame, err := h.maps.LastFrame()
					if err != nil {
						continue
					}
					h.sendFrame(ctx, sse, frame)
					sse.DispatchCustomEvent("view-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"revision": ev.Revision,
					})
				}
			}
		},
	}, nil
}

// run executes op inside the stream and reports either the new frame or
// the status line for the failure.
func (h *Handler) run(ctx context.Context, op func() (service.Frame, error)) *huma.StreamResponse {
	return h.Stream(func(sse humastar.SSE) {
		frame, err := op()
		if err != nil {
			sse.Error(apperr.StatusMessage(err))
			return
		}
		h.sendFrame(ctx, sse, frame)
	})
}

func (h *Handler) sendFrame(ctx context.Context, sse humastar.SSE, frame service.Frame) {
	signals := stateSignals(frame.State)
	signals["status"] = ""
	signals["imageSrc"] = api.ImageURL(frame.Revision)
	sse.Signals(signals)

	if h.Renderer == nil {
		return
	}
	sse.Patch(h.renderMarkers(frame.State.Markers), "#marker-list")
	if h.history != nil {
		sse.Patch(h.renderHistory(ctx), "#history-list")
	}
}

func stateSignals(s view.Snapshot) map[string]any {
	signals := map[string]any{
		"zoom":  s.Zoom,
		"layer": string(s.Layer),
		"label": s.Layer.Label(),
	}
	if s.HasCenter {
		signals["lon"] = s.Lon
		signals["lat"] = s.Lat
	}
	return signals
}

func (h *Handler) renderMarkers(markers []view.Marker) string {
	items := make([]any, len(markers))
	for i, m := range markers {
		items[i] = m
	}
	return h.RenderList("marker-item", items, "No markers", "Search for a place to drop one")
}

func (h *Handler) renderHistory(ctx context.Context) string {
	entries, err := h.history.Recent(ctx, historyLimit)
	if err != nil {
		h.log.WithContext(ctx).Warn("history_read_failed", slog.String("error", err.Error()))
		return ""
	}
	items := make([]any, len(entries))
	for i, e := range entries {
		items[i] = e
	}
	return h.RenderList("history-item", items, "No searches yet", "Searched places show up here")
}
