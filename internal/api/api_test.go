package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/geometry"
	"area-link/internal/linkage"
	"area-link/internal/spatial"
)

func square(t *testing.T, id, name string, lat, lng, half float64) *geometry.Polygon {
	t.Helper()
	p, err := geometry.NewPolygon(id, name, []geometry.Vertex{
		{Lat: lat - half, Lng: lng - half}, {Lat: lat - half, Lng: lng + half},
		{Lat: lat + half, Lng: lng + half}, {Lat: lat + half, Lng: lng - half},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func point(t *testing.T, id string, lat, lng float64) *geometry.Point {
	t.Helper()
	p, err := geometry.NewPoint(id, lat, lng, nil, "survey")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testService(t *testing.T) *spatial.Service {
	return spatial.NewService(spatial.Snapshot{
		Polygons: []*geometry.Polygon{
			square(t, "bb", "Business Bay", 25.185, 55.27, 0.005),
			square(t, "far", "Far Away", 25.5, 55.6, 0.005),
		},
		Points: []*geometry.Point{point(t, "e1", 25.186, 55.271), point(t, "e2", 25.5, 55.6)},
		Links:  []linkage.AreaLink{{AreaID: 1, PolygonID: "bb", PolygonName: "Business Bay", Confidence: 1, MatchType: linkage.MatchExact}},
	}, spatial.Options{})
}

type fakeLocator map[string][2]float64

func (f fakeLocator) Locate(ip string) (float64, float64, error) {
	if c, ok := f[ip]; ok {
		return c[0], c[1], nil
	}
	return 0, 0, errors.New("miss")
}

type fakeStats struct{}

func (fakeStats) LoadMarketStatistics(_ context.Context, id int64) (*aggregate.MarketStatistics, error) {
	if id == 1 {
		return &aggregate.MarketStatistics{AreaID: 1, Count: 2, AvgPrice: 1.5e6}, nil
	}
	if id == 500 {
		return nil, errors.New("db down")
	}
	return nil, nil
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestRoutes(t *testing.T) {
	srv := NewServer(testService(t), Options{
		Stats:   fakeStats{},
		Locator: fakeLocator{"203.0.113.7": {25.185, 55.27}},
	})
	h := srv.Routes()

	cases := []struct {
		name   string
		target string
		hdr    map[string]string
		code   int
		check  func(t *testing.T, b map[string]any)
	}{
		{"health", "/healthz", nil, 200, func(t *testing.T, b map[string]any) {
			if b["status"] != "ok" || b["index"].(map[string]any)["polygons"].(float64) != 2 {
				t.Errorf("body = %v", b)
			}
		}},
		{"areas near", "/areas/near?lat=25.185&lng=55.27&radius_km=5", nil, 200, func(t *testing.T, b map[string]any) {
			res := b["results"].([]any)
			if b["count"].(float64) != 1 || res[0].(map[string]any)["id"] != "bb" {
				t.Errorf("body = %v", b)
			}
		}},
		{"areas near wide", "/areas/near?lat=25.185&lng=55.27&radius_km=100", nil, 200, func(t *testing.T, b map[string]any) {
			if b["count"].(float64) != 2 {
				t.Errorf("body = %v", b)
			}
		}},
		{"bad lat", "/areas/near?lat=abc&lng=55&radius_km=5", nil, 400, nil},
		{"missing radius", "/areas/near?lat=25&lng=55", nil, 400, nil},
		{"out of range", "/areas/near?lat=95&lng=55&radius_km=5", nil, 400, nil},
		{"negative radius", "/points/near?lat=25&lng=55&radius_km=-1", nil, 400, nil},
		{"points near", "/points/near?lat=25.185&lng=55.27&radius_km=1", nil, 200, func(t *testing.T, b map[string]any) {
			res := b["results"].([]any)
			if len(res) != 1 || res[0].(map[string]any)["id"] != "e1" {
				t.Errorf("body = %v", b)
			}
		}},
		{"near me", "/areas/near-me?radius_km=2", map[string]string{"x-forwarded-for": "203.0.113.7, 10.0.0.1"}, 200, func(t *testing.T, b map[string]any) {
			if b["ip"] != "203.0.113.7" || b["count"].(float64) != 1 {
				t.Errorf("body = %v", b)
			}
		}},
		{"near me unknown ip", "/areas/near-me?ip=198.51.100.1", nil, 404, nil},
		{"link", "/areas/1/link", nil, 200, func(t *testing.T, b map[string]any) {
			if b["polygon_id"] != "bb" || b["match_type"] != "exact" || b["fallback"] != false {
				t.Errorf("body = %v", b)
			}
		}},
		{"link missing", "/areas/2/link", nil, 404, nil},
		{"link fallback", "/areas/2/link?lat=25.19&lng=55.27", nil, 200, func(t *testing.T, b map[string]any) {
			if b["match_type"] != "coordinate" || b["fallback"] != true || b["confidence"].(float64) != 0.6 {
				t.Errorf("body = %v", b)
			}
		}},
		{"link fallback too far", "/areas/2/link?lat=26.5&lng=55.27&radius_km=10", nil, 404, nil},
		{"link bad id", "/areas/x/link", nil, 400, nil},
		{"stats", "/areas/1/stats", nil, 200, func(t *testing.T, b map[string]any) {
			if b["count"].(float64) != 2 {
				t.Errorf("body = %v", b)
			}
		}},
		{"stats missing", "/areas/9/stats", nil, 404, nil},
		{"stats error", "/areas/500/stats", nil, 500, nil},
		{"containing", "/polygons/containing?lat=25.185&lng=55.27", nil, 200, func(t *testing.T, b map[string]any) {
			if b["count"].(float64) != 1 {
				t.Errorf("body = %v", b)
			}
		}},
		{"containing none", "/polygons/containing?lat=0&lng=0", nil, 200, func(t *testing.T, b map[string]any) {
			if b["count"].(float64) != 0 {
				t.Errorf("body = %v", b)
			}
		}},
		{"polygon", "/polygons/bb", nil, 200, func(t *testing.T, b map[string]any) {
			if b["name"] != "Business Bay" || len(b["vertices"].([]any)) != 4 {
				t.Errorf("body = %v", b)
			}
		}},
		{"polygon unknown", "/polygons/nope", nil, 404, nil},
		{"polygon points", "/polygons/bb/points", nil, 200, func(t *testing.T, b map[string]any) {
			if b["count"].(float64) != 1 {
				t.Errorf("body = %v", b)
			}
		}},
		{"polygon points unknown", "/polygons/nope/points", nil, 404, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, body := do(t, h, http.MethodGet, c.target, c.hdr)
			if code != c.code {
				t.Fatalf("code = %d, want %d (%v)", code, c.code, body)
			}
			if c.code >= 400 && body["error"] == nil {
				t.Errorf("error body missing: %v", body)
			}
			if c.check != nil {
				c.check(t, body)
			}
		})
	}
}

func TestSwapAndNotReady(t *testing.T) {
	srv := NewServer(nil, Options{})
	h := srv.Routes()
	if code, body := do(t, h, http.MethodGet, "/healthz", nil); code != 503 || body["status"] != "loading" {
		t.Errorf("health before load = %d %v", code, body)
	}
	if code, _ := do(t, h, http.MethodGet, "/areas/near?lat=25&lng=55&radius_km=1", nil); code != 503 {
		t.Errorf("query before load = %d", code)
	}
	if code, _ := do(t, h, http.MethodGet, "/areas/1/stats", nil); code != 503 {
		t.Errorf("stats without store = %d", code)
	}
	srv.Swap(testService(t))
	if code, _ := do(t, h, http.MethodGet, "/areas/near?lat=25.185&lng=55.27&radius_km=1", nil); code != 200 {
		t.Errorf("after swap = %d", code)
	}
	if code, _ := do(t, h, http.MethodGet, "/areas/near-me", nil); code != 503 {
		t.Errorf("near-me without locator = %d", code)
	}
}

func TestAdminRefresh(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	srv := NewServer(testService(t), Options{
		AdminToken: "secret",
		Refresh: func(context.Context) error {
			runs.Add(1)
			done <- struct{}{}
			return nil
		},
	})
	h := srv.Routes()
	if code, _ := do(t, h, http.MethodPost, "/admin/refresh", nil); code != 401 {
		t.Errorf("no token = %d", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/admin/refresh", map[string]string{"x-admin-token": "secret"}); code != 202 {
		t.Errorf("with token = %d", code)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not run")
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d", runs.Load())
	}
	off := NewServer(testService(t), Options{}).Routes()
	if code, _ := do(t, off, http.MethodPost, "/admin/refresh", nil); code != 404 {
		t.Errorf("disabled = %d", code)
	}
}

func TestGetClientIP(t *testing.T) {
	cases := []struct {
		target string
		hdr    map[string]string
		remote string
		want   string
	}{
		{"/?ip=1.2.3.4", map[string]string{"x-real-ip": "5.6.7.8"}, "9.9.9.9:1", "1.2.3.4"},
		{"/", map[string]string{"x-forwarded-for": " 5.6.7.8 , 10.0.0.1"}, "9.9.9.9:1", "5.6.7.8"},
		{"/", map[string]string{"forwarded": `for="[2001:db8::1]";proto=https`}, "9.9.9.9:1", "2001:db8::1"},
		{"/", nil, "[2001:db8::2]:443", "2001:db8::2"},
		{"/", nil, "9.9.9.9:1", "9.9.9.9"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.target, nil)
		req.RemoteAddr = c.remote
		for k, v := range c.hdr {
			req.Header.Set(k, v)
		}
		if got := getClientIP(req); got != c.want {
			t.Errorf("getClientIP(%v) = %q, want %q", c.hdr, got, c.want)
		}
	}
}

func TestNearKey(t *testing.T) {
	a := nearKey("areas", "0a1b", 25.185, 55.27, 5)
	if !strings.HasPrefix(a, "near:areas:") || !strings.HasSuffix(a, ":5") {
		t.Errorf("key = %q", a)
	}
	if a == nearKey("areas", "0a1c", 25.185, 55.27, 5) {
		t.Error("snapshot fingerprint must be part of the key")
	}
	if a == nearKey("areas", "0a1b", 25.18501, 55.27, 5) {
		t.Error("exact coordinates must be part of the key")
	}
	if a == nearKey("points", "0a1b", 25.185, 55.27, 5) {
		t.Error("kind must be part of the key")
	}
}

// 两个进程各自从零启动：内容相同的快照得到相同键，内容不同的快照得到不同键
func TestNearKey_StableAcrossServers(t *testing.T) {
	keyOf := func(svc *spatial.Service) string {
		srv := NewServer(nil, Options{})
		srv.Swap(svc)
		return nearKey("areas", srv.Service().Fingerprint(), 25, 55, 5)
	}
	base := keyOf(testService(t))
	if again := keyOf(testService(t)); again != base {
		t.Errorf("same snapshot, different keys: %q vs %q", base, again)
	}
	other := spatial.NewService(spatial.Snapshot{
		Polygons: []*geometry.Polygon{square(t, "bb", "Business Bay", 25.185, 55.27, 0.006)},
		BuiltAt:  time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC),
	}, spatial.Options{})
	if keyOf(other) == base {
		t.Error("different snapshots must not share cache keys")
	}
}

func TestRunRefresh_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32
	srv := NewServer(testService(t), Options{
		AdminToken: "secret",
		Refresh: func(context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
	})
	h := srv.Routes()
	errc := make(chan error, 1)
	go func() { errc <- srv.RunRefresh(context.Background()) }()
	<-started
	if err := srv.RunRefresh(context.Background()); !errors.Is(err, ErrRefreshRunning) {
		t.Errorf("second run err = %v", err)
	}
	if code, _ := do(t, h, http.MethodPost, "/admin/refresh", map[string]string{"x-admin-token": "secret"}); code != 409 {
		t.Errorf("admin during scheduled run = %d", code)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if err := srv.RunRefresh(context.Background()); err != nil {
		t.Errorf("run after finish = %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d", runs.Load())
	}
	if err := NewServer(nil, Options{}).RunRefresh(context.Background()); !errors.Is(err, ErrRefreshDisabled) {
		t.Errorf("unconfigured err = %v", err)
	}
}

func TestSwapInitial(t *testing.T) {
	srv := NewServer(nil, Options{})
	fresh := testService(t)
	srv.Swap(fresh)
	if srv.SwapInitial(testService(t)) || srv.Service() != fresh {
		t.Error("warm-start snapshot must not replace a refreshed one")
	}
	empty := NewServer(nil, Options{})
	if !empty.SwapInitial(fresh) || empty.Service() != fresh {
		t.Error("warm-start snapshot must install into an empty server")
	}
}
