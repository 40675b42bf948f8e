// Package staticmap fetches rendered map images from a static maps server
// and decodes them.
package staticmap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/telemetry"
)

// DefaultURL is the public static maps endpoint.
const DefaultURL = "http://static-maps.yandex.ru/1.x/"

// maxBody caps the image body read from the server.
const maxBody = 16 << 20

// Client fetches map images.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter // nil means unlimited
	log     *logger.Logger
}

// New creates a client for baseURL. A zero timeout leaves the request
// bounded only by the caller's context.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
// A non-positive rate removes the cap.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// Fetch performs one GET with params and returns the raw body. The status
// code is not checked: a non-image body fails later in Decode.
func (c *Client) Fetch(ctx context.Context, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			telemetry.UpstreamRequests.WithLabelValues("staticmap", telemetry.OutcomeError).Inc()
			return nil, apperr.Wrap(apperr.KindUpstream, "staticmap.Fetch", "rate limited", err)
		}
	}

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "staticmap.Fetch", "build request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues("staticmap", telemetry.OutcomeError).Inc()
		c.log.Upstream(ctx, "staticmap", 0, err)
		return nil, apperr.Wrap(apperr.KindUpstream, "staticmap.Fetch", "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues("staticmap", telemetry.OutcomeError).Inc()
		c.log.Upstream(ctx, "staticmap", resp.StatusCode, err)
		return nil, apperr.Wrap(apperr.KindUpstream, "staticmap.Fetch", "read body", err)
	}

	telemetry.UpstreamRequests.WithLabelValues("staticmap", telemetry.OutcomeOK).Inc()
	c.log.Upstream(ctx, "staticmap", resp.StatusCode, nil)
	return body, nil
}

// Decode interprets body as an image. Any failure is ErrImageDecode.
func Decode(body []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindImageDecode, "staticmap.Decode", "map response is not an image", err)
	}
	return img, format, nil
}

// EncodePNG re-encodes img so every frame is served in one format.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Render fetches, decodes and re-encodes in one step.
func (c *Client) Render(ctx context.Context, params url.Values) (pngBytes []byte, format string, err error) {
	body, err := c.Fetch(ctx, params)
	if err != nil {
		return nil, "", err
	}
	img, format, err := Decode(body)
	if err != nil {
		return nil, "", err
	}
	pngBytes, err = EncodePNG(img)
	if err != nil {
		return nil, "", err
	}
	return pngBytes, format, nil
}
