package view

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestLayerForLabel(t *testing.T) {
	tests := []struct {
		label   string
		current Layer
		want    Layer
		ok      bool
	}{
		{"Карта", LayerHybrid, LayerMap, true},
		{"Спутник", LayerMap, LayerSatellite, true},
		{"Гибрид", LayerMap, LayerHybrid, true},
		{" Спутник ", LayerMap, LayerSatellite, true},
		{"sat,skl", LayerMap, LayerHybrid, true},
		{"Terrain", LayerSatellite, LayerSatellite, false},
		{"", LayerHybrid, LayerHybrid, false},
	}

	for _, tt := range tests {
		got, ok := LayerForLabel(tt.label, tt.current)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LayerForLabel(%q, %q)=(%q, %v), want (%q, %v)",
				tt.label, tt.current, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLayerLabelRoundTrip(t *testing.T) {
	for _, l := range Layers {
		got, ok := LayerForLabel(l.Label(), LayerMap)
		if !ok || got != l {
			t.Errorf("label %q maps to %q, want %q", l.Label(), got, l)
		}
	}
}

func TestParsePoint(t *testing.T) {
	tests := []struct {
		in      string
		sep     string
		want    orb.Point
		wantErr bool
	}{
		{"37.6 55.7", " ", orb.Point{37.6, 55.7}, false},
		{"37.6  55.7", "", orb.Point{37.6, 55.7}, false},
		{"10,20", ",", orb.Point{10, 20}, false},
		{"10", ",", orb.Point{}, true},
		{"a b", " ", orb.Point{}, true},
		{"1 2 3", " ", orb.Point{}, true},
	}

	for _, tt := range tests {
		got, err := ParsePoint(tt.in, tt.sep)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePoint(%q) err=%v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePoint(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromQueryRoundTrip(t *testing.T) {
	s := New(DefaultLimits, Size{Width: 450, Height: 450})
	s.SetLayer(LayerHybrid)
	s.ChangeZoom(2)
	s.SetCenter(orb.Point{37.6, 55.7})
	s.AddMarker(orb.Point{37.6, 55.7})
	s.AddMarker(orb.Point{-0.5, 51.25})

	got, err := FromQuery(s.Query())
	if err != nil {
		t.Fatal(err)
	}
	if got.Layer != s.Layer || got.Zoom != s.Zoom || got.Center != s.Center || got.Size != s.Size {
		t.Fatalf("got %+v, want %+v", got.Snapshot(), s.Snapshot())
	}
	if len(got.Markers) != 2 || got.Markers[1] != (orb.Point{-0.5, 51.25}) {
		t.Fatalf("markers=%v", got.Markers)
	}
}

func TestFromQueryRejectsBadLayer(t *testing.T) {
	q := New(DefaultLimits, DefaultSize).Query()
	q.Set("l", "terrain")
	if _, err := FromQuery(q); err == nil {
		t.Fatal("expected error for unknown layer")
	}
}
