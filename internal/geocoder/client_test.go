package geocoder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pusheen1024/mapview/internal/apperr"
)

const moscow = `{"response":{"GeoObjectCollection":{"featureMember":[
  {"GeoObject":{"name":"Moscow",
    "metaDataProperty":{"GeocoderMetaData":{"text":"Russia, Moscow"}},
    "Point":{"pos":"37.6 55.7"}}}]}}}`

func server(t *testing.T, status int, body string, seen *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.URL.Query()
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupPlace(t *testing.T) {
	var seen url.Values
	srv := server(t, http.StatusOK, moscow, &seen)

	place, err := New(srv.URL, "key-1", time.Second, nil).LookupPlace(context.Background(), "Москва")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{37.6, 55.7}, place.Point)
	assert.Equal(t, "Russia, Moscow", place.Name)

	assert.Equal(t, "key-1", seen.Get("apikey"))
	assert.Equal(t, "Москва", seen.Get("geocode"))
	assert.Equal(t, "json", seen.Get("format"))
}

func TestLookupNotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"empty featureMember", http.StatusOK, `{"response":{"GeoObjectCollection":{"featureMember":[]}}}`},
		{"missing response", http.StatusOK, `{"statusCode":401}`},
		{"missing point", http.StatusOK, `{"response":{"GeoObjectCollection":{"featureMember":[{"GeoObject":{"name":"x"}}]}}}`},
		{"bad pos", http.StatusOK, `{"response":{"GeoObjectCollection":{"featureMember":[{"GeoObject":{"Point":{"pos":"north"}}}]}}}`},
		{"not json", http.StatusOK, `<html>`},
		{"forbidden", http.StatusForbidden, `{"error":"Invalid key"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server(t, tt.status, tt.body, nil)
			_, err := New(srv.URL, "", time.Second, nil).Lookup(context.Background(), "nowhere")
			assert.ErrorIs(t, err, apperr.ErrPlaceNotFound)
		})
	}
}

func TestLookupBlankNameSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second, nil).Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, apperr.ErrPlaceNotFound)
	assert.False(t, called)
}

func TestLookupTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, "", time.Second, nil).Lookup(context.Background(), "Moscow")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestParseFallsBackToName(t *testing.T) {
	body := strings.Replace(moscow, `"text":"Russia, Moscow"`, `"text":""`, 1)
	place, err := parse(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "Moscow", place.Name)
}

func TestConcurrentLookupsShareRequest(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan struct{}, 8)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		<-release
		w.Write([]byte(moscow))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second, nil)
	var wg sync.WaitGroup
	results := make([]Place, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.LookupPlace(context.Background(), "Москва")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	<-arrived
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, p := range results {
		assert.Equal(t, orb.Point{37.6, 55.7}, p.Point)
	}
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	arrived := make(chan struct{}, 8)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		w.Write([]byte(moscow))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.LookupPlace(ctx, "Москва")
		first <- err
	}()
	<-arrived

	second := make(chan Place, 1)
	secondErr := make(chan error, 1)
	go func() {
		p, err := c.LookupPlace(context.Background(), "Москва")
		second <- p
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-first
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, orb.Point{37.6, 55.7}, (<-second).Point)
}
