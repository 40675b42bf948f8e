// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/service"
	"github.com/pusheen1024/mapview/internal/view"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Map     *service.MapService
	History *history.Store // nil when the database is unavailable
}

// Types

type FrameBody struct {
	service.Frame
	ImageURL string `json:"imageUrl" doc:"URL of the rendered PNG" example:"/api/v1/view/image?rev=3"`
}

type FrameOutput struct {
	Body FrameBody
}

type CoordsSearchInput struct {
	Body struct {
		Lon       float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Longitude in degrees" example:"37.6176"`
		Lat       float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude in degrees" example:"55.7558"`
		NewSearch *bool   `json:"newSearch,omitempty" doc:"Move the center to lon/lat (default); false re-renders the current center"`
	}
}

type NameSearchInput struct {
	Body struct {
		Place string `json:"place" minLength:"1" maxLength:"200" doc:"Free-text place name" example:"Москва, Красная площадь"`
	}
}

type LayerInput struct {
	Body struct {
		Label string `json:"label" minLength:"1" doc:"Button label (Карта, Спутник, Гибрид) or layer code (map, sat, sat,skl)" example:"Спутник"`
	}
}

type ZoomInput struct {
	Body struct {
		Delta int `json:"delta" enum:"-1,1" doc:"Zoom step" example:"1"`
	}
}

type PanInput struct {
	Body struct {
		DX int `json:"dx,omitempty" minimum:"-1" maximum:"1" doc:"East (+1) or west (-1)" example:"1"`
		DY int `json:"dy,omitempty" minimum:"-1" maximum:"1" doc:"North (+1) or south (-1)" example:"0"`
	}
}

type ImageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Revision     string `header:"X-Map-Revision"`
	Body         []byte
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type HistoryInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum entries to return"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type InfoBody struct {
	Name     string      `json:"name" doc:"Service name"`
	Version  string      `json:"version" doc:"Service version"`
	History  bool        `json:"history" doc:"Whether search history is recorded"`
	Layers   []string    `json:"layers" doc:"Supported layer codes"`
	Limits   view.Limits `json:"limits" doc:"Zoom limits"`
	Features []string    `json:"features" doc:"Available features"`
}

// APIHandler holds all REST API handlers.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route.
func RegisterRoutes(api huma.API, svc *Services) {
	h := NewAPIHandler(svc)
	h.RegisterHealth(api)
	h.RegisterView(api)
	h.RegisterHistory(api)
}

// RegisterHealth registers health and info routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

// RegisterView registers view state and rendering routes.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/search/coords", h.SearchCoords, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/search/name", h.SearchName, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view/layer", h.PutLayer, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/zoom", h.Zoom, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/pan", h.Pan, huma.OperationTags("view"))
	huma.Delete(api, "/api/v1/view/markers", h.ClearMarkers, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/image", h.GetImage, huma.OperationTags("view"), func(o *huma.Operation) {
		o.Responses = map[string]*huma.Response{
			"200": {
				Description: "Last rendered map as PNG",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		}
	})
	huma.Get(api, "/api/v1/view/markers.geojson", h.GetMarkersGeoJSON, huma.OperationTags("view"))
}

// RegisterHistory registers search history routes.
func (h *APIHandler) RegisterHistory(api huma.API) {
	huma.Get(api, "/api/v1/history", h.GetHistory, huma.OperationTags("history"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	layers := make([]string, len(view.Layers))
	for i, l := range view.Layers {
		layers[i] = string(l)
	}
	features := []string{"static-map", "geocoder", "markers-geojson", "viewer"}
	if h.svc.History != nil {
		features = append(features, "history")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "mapview",
		Version:  Version,
		History:  h.svc.History != nil,
		Layers:   layers,
		Limits:   h.svc.Map.State().Limits,
		Features: features,
	}}, nil
}

func (h *APIHandler) GetView(ctx context.Context, input *struct{}) (*struct{ Body view.Snapshot }, error) {
	return &struct{ Body view.Snapshot }{Body: h.svc.Map.State()}, nil
}

func (h *APIHandler) SearchCoords(ctx context.Context, input *CoordsSearchInput) (*FrameOutput, error) {
	newSearch := input.Body.NewSearch == nil || *input.Body.NewSearch
	return frameResult(h.svc.Map.SearchByCoords(ctx, input.Body.Lon, input.Body.Lat, newSearch))
}

func (h *APIHandler) SearchName(ctx context.Context, input *NameSearchInput) (*FrameOutput, error) {
	return frameResult(h.svc.Map.SearchByName(ctx, input.Body.Place))
}

func (h *APIHandler) PutLayer(ctx context.Context, input *LayerInput) (*FrameOutput, error) {
	return frameResult(h.svc.Map.ChangeMapType(ctx, input.Body.Label))
}

func (h *APIHandler) Zoom(ctx context.Context, input *ZoomInput) (*FrameOutput, error) {
	return frameResult(h.svc.Map.ChangeZoom(ctx, input.Body.Delta))
}

func (h *APIHandler) Pan(ctx context.Context, input *PanInput) (*FrameOutput, error) {
	return frameResult(h.svc.Map.Pan(ctx, input.Body.DX, input.Body.DY))
}

func (h *APIHandler) ClearMarkers(ctx context.Context, input *struct{}) (*FrameOutput, error) {
	return frameResult(h.svc.Map.ClearMarkers(ctx))
}

func (h *APIHandler) GetImage(ctx context.Context, input *struct{}) (*ImageOutput, error) {
	frame, err := h.svc.Map.LastFrame()
	if err != nil {
		return nil, toHumaError(err)
	}
	return &ImageOutput{
		ContentType:  "image/png",
		CacheControl: "no-cache",
		Revision:     strconv.FormatUint(frame.Revision, 10),
		Body:         frame.PNG,
	}, nil
}

func (h *APIHandler) GetMarkersGeoJSON(ctx context.Context, input *struct{}) (*GeoJSONOutput, error) {
	data, err := MarkersGeoJSON(h.svc.Map.Markers())
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to encode markers", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) GetHistory(ctx context.Context, input *HistoryInput) (*struct{ Body []history.Entry }, error) {
	if h.svc.History == nil {
		return nil, huma.Error503ServiceUnavailable("History not available")
	}
	entries, err := h.svc.History.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read history", err)
	}
	return &struct{ Body []history.Entry }{Body: entries}, nil
}

// MarkersGeoJSON encodes markers as a FeatureCollection of points, each
// carrying its position in the marker list.
func MarkersGeoJSON(markers []orb.Point) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for i, p := range markers {
		f := geojson.NewFeature(p)
		f.Properties["index"] = i
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// ImageURL is the cache-busting URL of a frame's PNG.
func ImageURL(revision uint64) string {
	return fmt.Sprintf("/api/v1/view/image?rev=%d", revision)
}

func frameResult(frame service.Frame, err error) (*FrameOutput, error) {
	if err != nil {
		return nil, toHumaError(err)
	}
	return &FrameOutput{Body: FrameBody{Frame: frame, ImageURL: ImageURL(frame.Revision)}}, nil
}

// toHumaError maps service errors to HTTP errors whose detail is the
// user-facing status message.
func toHumaError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return huma.NewError(e.HTTPStatus(), apperr.StatusMessage(err), err)
	}
	return huma.Error500InternalServerError(apperr.StatusMessage(err), err)
}
