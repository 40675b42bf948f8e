package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/geocoder"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/staticmap"
	"github.com/pusheen1024/mapview/internal/view"
)

// fakeRenderer records every request and fails while err is set.
type fakeRenderer struct {
	mu     sync.Mutex
	params []url.Values
	err    error
}

func (f *fakeRenderer) Render(ctx context.Context, params url.Values) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("png"), "png", nil
}

func (f *fakeRenderer) lastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

type fakeGeocoder struct {
	place geocoder.Place
	err   error
}

func (f *fakeGeocoder) LookupPlace(ctx context.Context, place string) (geocoder.Place, error) {
	return f.place, f.err
}

type fakeHistory struct {
	entries []history.Entry
}

func (f *fakeHistory) Record(ctx context.Context, e history.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func newTestService(r MapRenderer, g Geocoder) *MapService {
	return NewMapService(Config{
		Limits:        view.DefaultLimits,
		Size:          view.DefaultSize,
		DefaultCenter: orb.Point{30, 60},
	}, Deps{Maps: r, Geocoder: g})
}

func TestSearchByCoordsNewSearch(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})

	frame, err := s.SearchByCoords(context.Background(), 37.6, 55.7, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Revision)
	assert.Equal(t, "37.6,55.7", r.lastQuery().Get("ll"))
	assert.Equal(t, 37.6, frame.State.Lon)
	assert.True(t, frame.State.HasCenter)
}

func TestSearchByCoordsReuseIgnoresArguments(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ctx := context.Background()

	_, err := s.SearchByCoords(ctx, 37.6, 55.7, true)
	require.NoError(t, err)
	_, err = s.SearchByCoords(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, "37.6,55.7", r.lastQuery().Get("ll"))
}

func TestFirstRefreshUsesDefaultCenter(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "30,60", r.lastQuery().Get("ll"))
}

func TestSearchByName(t *testing.T) {
	r := &fakeRenderer{}
	g := &fakeGeocoder{place: geocoder.Place{Name: "Moscow", Point: orb.Point{37.6, 55.7}}}
	h := &fakeHistory{}
	s := NewMapService(Config{Limits: view.DefaultLimits}, Deps{Maps: r, Geocoder: g, History: h})
	ctx := context.Background()

	_, err := s.SearchByName(ctx, "first")
	require.NoError(t, err)
	g.place = geocoder.Place{Name: "Moscow", Point: orb.Point{37.6, 55.7}}
	frame, err := s.SearchByName(ctx, "Москва")
	require.NoError(t, err)

	assert.Equal(t, "Moscow", frame.PlaceName)
	assert.Equal(t, []view.Marker{{Lon: 37.6, Lat: 55.7}}, frame.State.Markers)
	assert.Equal(t, 37.6, frame.State.Lon)
	assert.Equal(t, 55.7, frame.State.Lat)

	q := r.lastQuery()
	assert.Equal(t, "37.6,55.7", q.Get("ll"))
	assert.Equal(t, "37.6,55.7", q.Get("pt"))

	require.Len(t, h.entries, 2)
	assert.Equal(t, "Москва", h.entries[1].Query)
}

func TestSearchByNameNotFoundLeavesStateUnchanged(t *testing.T) {
	r := &fakeRenderer{}
	g := &fakeGeocoder{place: geocoder.Place{Point: orb.Point{10, 20}}}
	s := newTestService(r, g)
	ctx := context.Background()

	_, err := s.SearchByName(ctx, "somewhere")
	require.NoError(t, err)
	before := s.State()
	calls := len(r.params)

	g.err = apperr.Wrap(apperr.KindPlaceNotFound, "test", "no results", nil)
	_, err = s.SearchByName(ctx, "nowhere")
	require.ErrorIs(t, err, apperr.ErrPlaceNotFound)
	assert.Equal(t, "Object not found!", apperr.StatusMessage(err))

	assert.Equal(t, before, s.State())
	assert.Len(t, r.params, calls, "no image fetch on lookup failure")
}

func TestDecodeFailureKeepsPreviousFrame(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ctx := context.Background()

	first, err := s.SearchByCoords(ctx, 37.6, 55.7, true)
	require.NoError(t, err)

	r.err = apperr.Wrap(apperr.KindImageDecode, "test", "not an image", nil)
	_, err = s.Pan(ctx, 1, 0)
	require.ErrorIs(t, err, apperr.ErrImageDecode)
	_, err = s.ChangeZoom(ctx, 1)
	require.ErrorIs(t, err, apperr.ErrImageDecode)

	last, err := s.LastFrame()
	require.NoError(t, err)
	assert.Equal(t, first.Revision, last.Revision)
	assert.Equal(t, first.State, s.State())
}

func TestChangeMapType(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ctx := context.Background()

	frame, err := s.ChangeMapType(ctx, "Спутник")
	require.NoError(t, err)
	assert.Equal(t, view.LayerSatellite, frame.State.Layer)
	assert.Equal(t, "sat", r.lastQuery().Get("l"))

	frame, err = s.ChangeMapType(ctx, "Topographic")
	require.NoError(t, err)
	assert.Equal(t, view.LayerSatellite, frame.State.Layer, "unknown label keeps layer")
	assert.Equal(t, "sat", r.lastQuery().Get("l"))

	frame, err = s.ChangeMapType(ctx, "Гибрид")
	require.NoError(t, err)
	assert.Equal(t, "sat,skl", r.lastQuery().Get("l"))
	assert.Equal(t, view.LayerHybrid, frame.State.Layer)
}

func TestChangeZoomClamps(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.ChangeZoom(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, view.DefaultLimits.MaxZoom, s.State().Zoom)
	assert.Equal(t, "17", r.lastQuery().Get("z"))
}

func TestPanUsesZoomStep(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ctx := context.Background()

	_, err := s.SearchByCoords(ctx, 10, 20, true)
	require.NoError(t, err)
	for s.State().Zoom > 3 {
		_, err = s.ChangeZoom(ctx, -1)
		require.NoError(t, err)
	}
	frame, err := s.Pan(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 55.0, frame.State.Lon)
	assert.Equal(t, "55,20", r.lastQuery().Get("ll"))
}

func TestClearMarkers(t *testing.T) {
	r := &fakeRenderer{}
	g := &fakeGeocoder{place: geocoder.Place{Point: orb.Point{37.6, 55.7}}}
	s := newTestService(r, g)
	ctx := context.Background()

	_, err := s.SearchByName(ctx, "Moscow")
	require.NoError(t, err)
	frame, err := s.ClearMarkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, frame.State.Markers)
	assert.False(t, r.lastQuery().Has("pt"))
	assert.Equal(t, "37.6,55.7", r.lastQuery().Get("ll"), "center survives clearing")
}

func TestLastFrameBeforeRender(t *testing.T) {
	s := newTestService(&fakeRenderer{}, &fakeGeocoder{})
	_, err := s.LastFrame()
	assert.ErrorIs(t, err, apperr.ErrNoImage)
}

func TestEventsPublishedOnCommit(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestService(r, &fakeGeocoder{})
	ch := s.Bus().Subscribe()
	defer s.Bus().Unsubscribe(ch)

	_, err := s.ChangeZoom(context.Background(), -1)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, ActionZoom, ev.Action)
		assert.Equal(t, uint64(1), ev.Revision)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	r.err = apperr.ErrUpstream
	_, err = s.ChangeZoom(context.Background(), -1)
	require.Error(t, err)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestStageFileWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.png")
	s := NewMapService(Config{StageFile: path}, Deps{Maps: &fakeRenderer{}, Geocoder: &fakeGeocoder{}})

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

// The full path through the real clients against mock upstreams: the
// request parameters the map server sees rebuild the same view.
func TestRoundTripThroughMockServers(t *testing.T) {
	var seen url.Values
	var imgBuf bytes.Buffer
	require.NoError(t, png.Encode(&imgBuf, image.NewGray(image.Rect(0, 0, 2, 2))))

	maps := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query()
		w.Write(imgBuf.Bytes())
	}))
	defer maps.Close()
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"GeoObjectCollection":{"featureMember":[{"GeoObject":{"Point":{"pos":"37.6 55.7"}}}]}}}`))
	}))
	defer geo.Close()

	s := NewMapService(Config{Limits: view.DefaultLimits, Size: view.Size{Width: 450, Height: 300}}, Deps{
		Maps:     staticmap.New(maps.URL, time.Second, nil),
		Geocoder: geocoder.New(geo.URL, "key", time.Second, nil),
	})
	ctx := context.Background()

	_, err := s.SearchByName(ctx, "Moscow")
	require.NoError(t, err)
	_, err = s.ChangeMapType(ctx, "Спутник")
	require.NoError(t, err)
	frame, err := s.ChangeZoom(ctx, 1)
	require.NoError(t, err)

	rebuilt, err := view.FromQuery(seen)
	require.NoError(t, err)
	got := rebuilt.Snapshot()
	want := frame.State
	assert.Equal(t, want.Layer, got.Layer)
	assert.Equal(t, want.Zoom, got.Zoom)
	assert.Equal(t, want.Lon, got.Lon)
	assert.Equal(t, want.Lat, got.Lat)
	assert.Equal(t, want.Markers, got.Markers)
	assert.Equal(t, view.Size{Width: 450, Height: 300}, rebuilt.Size)

	_, format, err := image.Decode(bytes.NewReader(frame.PNG))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestNonImageBodyIsDecodeFailure(t *testing.T) {
	maps := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`<error>bad request</error>`))
	}))
	defer maps.Close()

	s := NewMapService(Config{}, Deps{Maps: staticmap.New(maps.URL, time.Second, nil), Geocoder: &fakeGeocoder{}})
	_, err := s.SearchByCoords(context.Background(), 1, 2, true)
	require.ErrorIs(t, err, apperr.ErrImageDecode)
	assert.Equal(t, "Map API error!", apperr.StatusMessage(err))
	assert.False(t, s.State().HasCenter)
}

func TestConfiguredStartingZoom(t *testing.T) {
	s := NewMapService(Config{Zoom: 5}, Deps{Maps: &fakeRenderer{}, Geocoder: &fakeGeocoder{}})
	assert.Equal(t, 5, s.State().Zoom)

	s = NewMapService(Config{Zoom: 40}, Deps{Maps: &fakeRenderer{}, Geocoder: &fakeGeocoder{}})
	assert.Equal(t, view.DefaultZoom, s.State().Zoom)
}
