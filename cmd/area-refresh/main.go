// 刷新工具：单次执行 形状加载 → 关联 → 包含关系 → 汇总 → 持久化，供 cron 或手工补跑使用
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"area-link/internal/aggregate"
	"area-link/internal/containment"
	"area-link/internal/ingest"
	"area-link/internal/linkage"
	"area-link/internal/logger"
	"area-link/internal/migrate"
	"area-link/internal/store"
	"area-link/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	res, err := ingest.Refresh(ctx, ingest.Deps{
		Repo:      store.AttachDB(db),
		ShapesDir: utils.Getenv("SHAPES_DIR", filepath.Join("data", "shapes")),
		Link:      linkage.Options{Workers: utils.EnvInt("LINK_WORKERS", 0), ForceBlocking: utils.EnvBool("LINK_FORCE_BLOCKING", false)},
		Containment: containment.Options{
			BatchSize: utils.EnvInt("CONTAINMENT_BATCH_SIZE", containment.DefaultBatchSize),
			Workers:   utils.EnvInt("CONTAINMENT_WORKERS", 1),
		},
		Aggregate: aggregate.Options{IncludeUnlinked: utils.EnvBool("AGGREGATE_INCLUDE_UNLINKED", false)},
	})
	if err != nil {
		l.Error("refresh_error", "err", err)
		os.Exit(1)
	}
	l.Info("refresh_summary",
		"run_id", res.RunID,
		"shapes_skipped", res.Shapes.Skipped,
		"links", res.Links.Links,
		"linked_areas", res.Links.LinkedAreas,
		"unmatched_areas", res.Links.UnmatchedAreas,
		"avg_confidence", res.Links.AvgConfidence,
		"entrance_assignments", res.Containment.EntranceAssignments,
		"stats_areas", res.Aggregate.Areas,
		"tx_skipped", res.Aggregate.Skipped,
	)
}
