// 包 api：空间查询 HTTP 接口（半径、附近、包含、关联、市场统计），查询服务可热替换
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/geometry"
	"area-link/internal/logger"
	"area-link/internal/metrics"
	"area-link/internal/spatial"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// DefaultNearMeRadiusKm：near-me 未给半径时使用
const DefaultNearMeRadiusKm = 5.0

var (
	ErrRefreshRunning  = errors.New("refresh already running")
	ErrRefreshDisabled = errors.New("refresh not configured")
)

// Locator：IP → 坐标
type Locator interface {
	Locate(ip string) (lat, lng float64, err error)
}

// StatsReader：市场统计读取
type StatsReader interface {
	LoadMarketStatistics(ctx context.Context, areaID int64) (*aggregate.MarketStatistics, error)
}

// Options：可选依赖，零值关闭对应能力
type Options struct {
	Stats      StatsReader
	Locator    Locator
	Redis      *redis.Client
	CacheTTL   time.Duration
	Refresh    func(ctx context.Context) error
	AdminToken string
}

// Server：持有当前查询服务指针；刷新完成后通过 Swap 整体替换，进行中的请求继续使用旧快照
type Server struct {
	svc        atomic.Pointer[spatial.Service]
	opts       Options
	cache      nearCache
	refreshing atomic.Bool
}

func NewServer(svc *spatial.Service, opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	s := &Server{opts: opts, cache: nearCache{rdb: opts.Redis, ttl: opts.CacheTTL}}
	s.Swap(svc)
	return s
}

// SwapInitial：仅在尚未加载任何快照时安装，用于启动时加载已持久化数据，避免覆盖更新的刷新结果
func (s *Server) SwapInitial(svc *spatial.Service) bool {
	if svc == nil || !s.svc.CompareAndSwap(nil, svc) {
		return false
	}
	st := svc.Stats()
	logger.L().Info("service_swapped", "fingerprint", st.Fingerprint, "polygons", st.Polygons, "points", st.Points, "links", st.Links, "initial", true)
	return true
}

// Swap：替换查询服务；半径缓存键随快照指纹变化，无需主动清理
func (s *Server) Swap(svc *spatial.Service) {
	s.svc.Store(svc)
	if svc != nil {
		st := svc.Stats()
		logger.L().Info("service_swapped", "fingerprint", st.Fingerprint, "polygons", st.Polygons, "points", st.Points, "links", st.Links)
	}
}

func (s *Server) Service() *spatial.Service { return s.svc.Load() }

// Routes：构建并返回 API 路由，便于在主入口挂载到 API_BASE 前缀
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.AccessMiddleware(logger.L(), observeRoute))
	r.Get("/healthz", s.health)
	r.Group(func(r chi.Router) {
		r.Use(s.requireService)
		r.Get("/areas/near", s.areasNear)
		r.Get("/areas/near-me", s.areasNearMe)
		r.Get("/areas/{id}/link", s.areaLink)
		r.Get("/areas/{id}/stats", s.areaStats)
		r.Get("/points/near", s.pointsNear)
		r.Get("/polygons/containing", s.polygonsContaining)
		r.Get("/polygons/{id}", s.polygon)
		r.Get("/polygons/{id}/points", s.polygonPoints)
	})
	r.Post("/admin/refresh", s.adminRefresh)
	return r
}

func observeRoute(r *http.Request, status int, _ time.Duration) {
	route := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (s *Server) requireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Service() == nil {
			writeError(w, http.StatusServiceUnavailable, "index not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	svc := s.Service()
	if svc == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "loading"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Index: svc.Stats()})
}

func (s *Server) areasNear(w http.ResponseWriter, r *http.Request) {
	lat, lng, radius, err := parseNear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveNear(w, r, "areas", lat, lng, radius)
}

func (s *Server) pointsNear(w http.ResponseWriter, r *http.Request) {
	lat, lng, radius, err := parseNear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveNear(w, r, "points", lat, lng, radius)
}

// serveNear：先查 Redis，未命中时计算并回写
func (s *Server) serveNear(w http.ResponseWriter, r *http.Request, kind string, lat, lng, radius float64) {
	ctx := r.Context()
	svc := s.Service()
	key := nearKey(kind, svc.Fingerprint(), lat, lng, radius)
	if b, ok := s.cache.get(ctx, key); ok {
		writeRaw(w, http.StatusOK, b)
		return
	}
	start := time.Now()
	var body any
	if kind == "areas" {
		hits, err := svc.AreasNear(lat, lng, radius)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		res := areaResults(hits)
		body = listResponse[polygonSummary]{Count: len(res), Results: res}
	} else {
		hits, err := svc.PointsNear(lat, lng, radius)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		res := pointResults(hits)
		body = listResponse[pointSummary]{Count: len(res), Results: res}
	}
	metrics.QueryDurationMs.WithLabelValues(kind + "_near").Observe(float64(time.Since(start).Microseconds()) / 1000)
	b, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode")
		return
	}
	s.cache.set(ctx, key, b)
	writeRaw(w, http.StatusOK, b)
}

func (s *Server) areasNearMe(w http.ResponseWriter, r *http.Request) {
	if s.opts.Locator == nil {
		writeError(w, http.StatusServiceUnavailable, "ip location disabled")
		return
	}
	radius := DefaultNearMeRadiusKm
	if v := r.URL.Query().Get("radius_km"); v != "" {
		f, err := parseFloat(v)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, "bad radius_km")
			return
		}
		radius = f
	}
	ip := getClientIP(r)
	lat, lng, err := s.opts.Locator.Locate(ip)
	if err != nil {
		logger.L().Debug("near_me_locate_miss", "ip", ip, "err", err)
		writeError(w, http.StatusNotFound, "ip not located")
		return
	}
	hits, err := s.Service().AreasNear(lat, lng, radius)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	res := areaResults(hits)
	writeJSON(w, http.StatusOK, nearMeResponse{IP: ip, Lat: lat, Lng: lng, Count: len(res), Results: res})
}

// areaLink：名称关联优先；给出 lat/lng 时允许坐标兜底
func (s *Server) areaLink(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad area id")
		return
	}
	svc := s.Service()
	if l, ok := svc.BestLinkForArea(id); ok {
		writeJSON(w, http.StatusOK, linkResponse{AreaLink: l})
		return
	}
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		writeError(w, http.StatusNotFound, "no link for area")
		return
	}
	lat, lng, err := parseLatLng(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var radius float64
	if v := q.Get("radius_km"); v != "" {
		if radius, err = parseFloat(v); err != nil {
			writeError(w, http.StatusBadRequest, "bad radius_km")
			return
		}
	}
	l, ok := svc.ResolveArea(id, lat, lng, radius)
	if !ok {
		writeError(w, http.StatusNotFound, "no link for area")
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{AreaLink: l, Fallback: true})
}

func (s *Server) areaStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "statistics store disabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad area id")
		return
	}
	ms, err := s.opts.Stats.LoadMarketStatistics(r.Context(), id)
	if err != nil {
		logger.L().Error("stats_load_error", "area_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "statistics unavailable")
		return
	}
	if ms == nil {
		writeError(w, http.StatusNotFound, "no statistics for area")
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) polygonsContaining(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := parseLatLng(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	polys, err := s.Service().PolygonsContaining(lat, lng)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	metrics.QueryDurationMs.WithLabelValues("containing").Observe(float64(time.Since(start).Microseconds()) / 1000)
	res := make([]polygonSummary, len(polys))
	for i, p := range polys {
		res[i] = summarize(p)
	}
	writeJSON(w, http.StatusOK, listResponse[polygonSummary]{Count: len(res), Results: res})
}

func (s *Server) polygon(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Service().Polygon(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown polygon")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) polygonPoints(w http.ResponseWriter, r *http.Request) {
	pts, ok := s.Service().PointsInPolygon(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown polygon")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*geometry.Point]{Count: len(pts), Results: pts})
}

// adminRefresh：触发一次后台刷新；与定时、启动刷新共用同一个单飞标志
func (s *Server) adminRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Refresh == nil || s.opts.AdminToken == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("x-admin-token")), []byte(s.opts.AdminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "refresh already running")
		return
	}
	go func() {
		if err := s.runHeld(context.Background()); err != nil {
			logger.L().Error("admin_refresh_error", "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// 文档注释：执行一次刷新（定时任务、启动补跑与管理端共用）
// 约束：同一时间只允许一个刷新，已有刷新在跑时立即返回 ErrRefreshRunning，
// 保证快照按刷新完成顺序替换，不会被更早开始的刷新覆盖。
func (s *Server) RunRefresh(ctx context.Context) error {
	if s.opts.Refresh == nil {
		return ErrRefreshDisabled
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshRunning
	}
	return s.runHeld(ctx)
}

// runHeld：调用方已持有 refreshing 标志
func (s *Server) runHeld(ctx context.Context) error {
	defer s.refreshing.Store(false)
	return s.opts.Refresh(ctx)
}

func parseLatLng(r *http.Request) (lat, lng float64, err error) {
	q := r.URL.Query()
	if lat, err = parseFloat(q.Get("lat")); err != nil {
		return 0, 0, errors.New("bad lat")
	}
	if lng, err = parseFloat(q.Get("lng")); err != nil {
		return 0, 0, errors.New("bad lng")
	}
	return lat, lng, nil
}

// parseNear：lat/lng/radius_km 均为必填
func parseNear(r *http.Request) (lat, lng, radius float64, err error) {
	if lat, lng, err = parseLatLng(r); err != nil {
		return 0, 0, 0, err
	}
	v := r.URL.Query().Get("radius_km")
	if v == "" {
		return 0, 0, 0, errors.New("missing radius_km")
	}
	if radius, err = parseFloat(v); err != nil {
		return 0, 0, 0, errors.New("bad radius_km")
	}
	return lat, lng, radius, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}

func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, geometry.ErrInvalidGeometry) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "query failed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
