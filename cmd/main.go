// 程序入口：仅负责读取配置、初始化依赖并启动服务；接口注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/api"
	"area-link/internal/containment"
	"area-link/internal/ingest"
	"area-link/internal/iploc"
	"area-link/internal/linkage"
	"area-link/internal/logger"
	"area-link/internal/metrics"
	"area-link/internal/middleware"
	"area-link/internal/migrate"
	"area-link/internal/spatial"
	"area-link/internal/store"
	"area-link/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := utils.Getenv("API_BASE", "/api")
	shapesDir := utils.Getenv("SHAPES_DIR", filepath.Join("data", "shapes"))
	l.Debug("config", "api_base", apiBase, "shapes_dir", shapesDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		l.Error("db_ping_error", "err", err)
		os.Exit(1)
	}
	l.Info("db_ping_ok")
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	rc := utils.OpenRedisFromEnv()
	if rc != nil {
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Warn("redis_ping_error", "err", err)
			rc = nil
		} else {
			l.Info("redis_ping_ok")
			defer rc.Close()
		}
	}

	spOpts := spatial.Options{
		CacheSize:        utils.EnvInt("CONTAINING_CACHE_SIZE", 4096),
		FallbackRadiusKm: utils.EnvFloat("FALLBACK_RADIUS_KM", 50),
	}
	deps := ingest.Deps{
		Repo:      st,
		ShapesDir: shapesDir,
		Link:      linkage.Options{Workers: utils.EnvInt("LINK_WORKERS", 0)},
		Containment: containment.Options{
			BatchSize: utils.EnvInt("CONTAINMENT_BATCH_SIZE", containment.DefaultBatchSize),
			Workers:   utils.EnvInt("CONTAINMENT_WORKERS", 1),
		},
		Aggregate: aggregate.Options{IncludeUnlinked: utils.EnvBool("AGGREGATE_INCLUDE_UNLINKED", false)},
	}

	opts := api.Options{
		Stats:      st,
		Redis:      rc,
		CacheTTL:   time.Duration(utils.EnvInt("NEAR_CACHE_TTL_S", 600)) * time.Second,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}
	if geo, err := iploc.Open(os.Getenv("GEOIP_DB_PATH")); err != nil {
		l.Error("geoip_open_error", "err", err)
	} else if geo != nil {
		opts.Locator = geo
		defer geo.Close()
	}
	var srv *api.Server
	refresh := func(ctx context.Context) error {
		res, err := ingest.Refresh(ctx, deps)
		if err != nil {
			return err
		}
		srv.Swap(spatial.NewService(res.Snapshot, spOpts))
		return nil
	}
	// 管理端、定时与启动刷新统一经 srv.RunRefresh，同一时间只跑一个
	opts.Refresh = refresh
	srv = api.NewServer(nil, opts)

	// 先用已持久化的关联提供查询（若刷新已先完成则不覆盖）；库中没有关联时在后台执行首次完整刷新
	go func() {
		snap, err := ingest.LoadSnapshot(ctx, st, shapesDir)
		if err != nil {
			l.Error("snapshot_load_error", "err", err)
		} else {
			srv.SwapInitial(spatial.NewService(snap, spOpts))
		}
		if err != nil || len(snap.Links) == 0 {
			if err := srv.RunRefresh(ctx); err != nil {
				l.Error("initial_refresh_error", "err", err)
			}
		}
	}()
	if utils.EnvBool("REFRESH_ENABLED", true) {
		ingest.StartWeekly(ctx, ingest.DubaiLocation(), ingest.RefreshHourFromEnv(), srv.RunRefresh)
	}

	r := chi.NewRouter()
	r.Handle(apiBase+"/metrics", metrics.Handler())
	r.Mount(apiBase, srv.Routes())
	handler := middleware.Wrap(r)

	addr := utils.Getenv("ADDR", ":8080")
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shut, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shut)
	}()

	tlsCfg := utils.TLSFromEnv()
	if tlsCfg.Enabled {
		if err := utils.EnsureSelfSignedCert(tlsCfg.CertPath, tlsCfg.KeyPath, "area-link.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		if tlsCfg.Redirect {
			go func() {
				l.Info("http_redirect_listening", "addr", tlsCfg.RedirectAddr, "to", "https"+addr)
				_ = http.ListenAndServe(tlsCfg.RedirectAddr, logger.AccessMiddleware(l)(utils.RedirectHandler(addr)))
			}()
		}
		l.Info("listening_tls", "addr", addr, "cert", tlsCfg.CertPath)
		if err := s.ListenAndServeTLS(tlsCfg.CertPath, tlsCfg.KeyPath); err != nil && err != http.ErrServerClosed {
			l.Error("server_error", "err", err)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
	}
}
