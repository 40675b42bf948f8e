// Package geocoder resolves free-text place names to coordinates through a
// forward geocoding web service.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/telemetry"
	"github.com/pusheen1024/mapview/internal/view"
)

// DefaultURL is the public geocoder endpoint.
const DefaultURL = "http://geocode-maps.yandex.ru/1.x/"

// Client looks up places.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger

	// inflight shares one request between concurrent lookups of a name.
	inflight singleflight.Group
}

// New creates a geocoder client.
func New(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// Lookup returns the point of the first match for place.
func (c *Client) Lookup(ctx context.Context, place string) (orb.Point, error) {
	p, err := c.LookupPlace(ctx, place)
	if err != nil {
		return orb.Point{}, err
	}
	return p.Point, nil
}

// LookupPlace returns the first match for place. A blank name, an empty
// result, a missing field or a malformed position are all ErrPlaceNotFound.
// Only transport failures are ErrUpstream.
func (c *Client) LookupPlace(ctx context.Context, place string) (Place, error) {
	const op = "geocoder.Lookup"

	place = strings.TrimSpace(place)
	if place == "" {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "empty place name", nil)
	}

	// The shared request outlives any single caller; the client timeout
	// bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(place, func() (any, error) {
		return c.lookup(shared, place)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Place{}, res.Err
		}
		return res.Val.(Place), nil
	case <-ctx.Done():
		return Place{}, apperr.Wrap(apperr.KindUpstream, op, "lookup abandoned", ctx.Err())
	}
}

func (c *Client) lookup(ctx context.Context, place string) (Place, error) {
	const op = "geocoder.Lookup"

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("geocode", place)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Place{}, apperr.Wrap(apperr.KindUpstream, op, "build request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues("geocoder", telemetry.OutcomeError).Inc()
		c.log.Upstream(ctx, "geocoder", 0, err)
		return Place{}, apperr.Wrap(apperr.KindUpstream, op, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	telemetry.UpstreamRequests.WithLabelValues("geocoder", telemetry.OutcomeOK).Inc()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("status %d", resp.StatusCode)
		c.log.Upstream(ctx, "geocoder", resp.StatusCode, err)
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "geocoder rejected request", err)
	}
	c.log.Upstream(ctx, "geocoder", resp.StatusCode, nil)

	return parse(resp.Body)
}

func parse(r io.Reader) (Place, error) {
	const op = "geocoder.parse"

	var payload response
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "malformed response", err)
	}
	if payload.Response == nil || payload.Response.GeoObjectCollection == nil {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "missing GeoObjectCollection", nil)
	}
	members := payload.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "no results", nil)
	}
	obj := members[0].GeoObject
	if obj == nil || obj.Point == nil {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "missing Point", nil)
	}

	pt, err := view.ParsePoint(obj.Point.Pos, " ")
	if err != nil {
		return Place{}, apperr.Wrap(apperr.KindPlaceNotFound, op, "malformed position", err)
	}

	name := obj.MetaDataProperty.GeocoderMetaData.Text
	if name == "" {
		name = obj.Name
	}
	return Place{Name: name, Point: pt}, nil
}
