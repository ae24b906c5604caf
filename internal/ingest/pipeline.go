// 包 ingest：离线刷新通道（加载形状 → 关联 → 包含关系 → 汇总 → 持久化）、CSV 导入与每周调度
package ingest

import (
	"context"
	"fmt"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/containment"
	"area-link/internal/linkage"
	"area-link/internal/logger"
	"area-link/internal/metrics"
	"area-link/internal/shapes"
	"area-link/internal/spatial"

	"github.com/google/uuid"
)

// Source：刷新所需的输入数据
type Source interface {
	LoadAreas(ctx context.Context) ([]linkage.AdministrativeArea, error)
	LoadTransactions(ctx context.Context) ([]aggregate.Transaction, error)
	LoadLinks(ctx context.Context) ([]linkage.AreaLink, error)
}

// Sink：刷新结果的整体替换写入
type Sink interface {
	ReplaceAreaLinks(ctx context.Context, runID string, links []linkage.AreaLink) (int, error)
	ReplaceContainment(ctx context.Context, rel containment.Relation) error
	ReplaceMarketStatistics(ctx context.Context, runID string, stats []aggregate.MarketStatistics) error
}

// Repository：*store.Store 满足该接口
type Repository interface {
	Source
	Sink
}

// Deps：一次刷新的依赖与参数
type Deps struct {
	Repo        Repository
	ShapesDir   string
	Link        linkage.Options
	Containment containment.Options
	Aggregate   aggregate.Options
	Now         func() time.Time
}

// Result：一次刷新的产物；Snapshot 供查询服务热替换
type Result struct {
	RunID       string
	Snapshot    spatial.Snapshot
	Relation    containment.Relation
	Shapes      shapes.LoadReport
	Links       linkage.Summary
	Containment containment.Stats
	Aggregate   aggregate.Summary
	Persisted   int
}

// 文档注释：执行一次完整刷新
// 背景：每个阶段都是整体重算，任一阶段失败则整次刷新失败，数据库中保留上一次的完整结果；
// 跳过的坏记录只计数不报错。
// 约束：持久化前再次检查 ctx；Repo 为 nil 时只做内存计算（无行政区与交易）。
func Refresh(ctx context.Context, deps Deps) (Result, error) {
	l := logger.L()
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	start := time.Now()
	res := Result{RunID: uuid.NewString()}
	fail := func(stage string, err error) (Result, error) {
		metrics.RefreshFailTotal.Inc()
		l.Error("refresh_failed", "run_id", res.RunID, "stage", stage, "err", err)
		return res, fmt.Errorf("refresh %s: %w", stage, err)
	}
	l.Info("refresh_begin", "run_id", res.RunID, "shapes_dir", deps.ShapesDir)

	ds, err := shapes.Load(deps.ShapesDir)
	if err != nil {
		return fail("shapes", err)
	}
	res.Shapes = ds.Report
	metrics.SkippedRecords.WithLabelValues("shapes").Add(float64(ds.Report.Skipped))

	var areas []linkage.AdministrativeArea
	var txs []aggregate.Transaction
	if deps.Repo != nil {
		if areas, err = deps.Repo.LoadAreas(ctx); err != nil {
			return fail("load_areas", err)
		}
		if txs, err = deps.Repo.LoadTransactions(ctx); err != nil {
			return fail("load_transactions", err)
		}
	}

	polys := ds.Polygons()
	links, lsum, err := linkage.LinkAreasContext(ctx, areas, polys, deps.Link)
	if err != nil {
		return fail("link", err)
	}
	res.Links = lsum
	recordLinkMetrics(links, lsum)
	l.Info("link_run_done", "run_id", res.RunID, "areas", lsum.Areas, "polygons", lsum.Polygons, "links", lsum.Links,
		"linked_areas", lsum.LinkedAreas, "unmatched_areas", lsum.UnmatchedAreas, "unmatched_polygons", lsum.UnmatchedPolygons,
		"avg_confidence", lsum.AvgConfidence, "comparisons", lsum.Comparisons, "blocked", lsum.Blocked)

	copts := deps.Containment
	userProgress := copts.Progress
	copts.Progress = func(processed, total int) {
		metrics.ContainmentProcessed.Set(float64(processed))
		l.Info("containment_progress", "run_id", res.RunID, "processed", processed, "total", total)
		if userProgress != nil {
			userProgress(processed, total)
		}
	}
	rel, cst, err := containment.BuildContext(ctx, ds.Communities, ds.Sectors, ds.Entrances, copts)
	if err != nil {
		return fail("containment", err)
	}
	res.Relation, res.Containment = rel, cst
	metrics.SkippedRecords.WithLabelValues("containment").Add(float64(cst.SkippedCommunities + cst.SkippedSectors + cst.SkippedEntrances))
	l.Info("containment_done", "run_id", res.RunID, "communities", cst.Communities, "sectors", cst.Sectors,
		"entrances", cst.Entrances, "entrance_assignments", cst.EntranceAssignments, "sector_assignments", cst.SectorAssignments,
		"batches", cst.Batches)

	aopts := deps.Aggregate
	aopts.RunID = res.RunID
	if aopts.Now == nil {
		aopts.Now = now
	}
	stats, asum := aggregate.Aggregate(links, txs, aopts)
	res.Aggregate = asum
	metrics.SkippedRecords.WithLabelValues("aggregate").Add(float64(asum.Skipped))
	l.Info("aggregate_done", "run_id", res.RunID, "transactions", asum.Transactions, "skipped", asum.Skipped, "areas", asum.Areas)

	if deps.Repo != nil {
		if err := ctx.Err(); err != nil {
			return fail("persist", err)
		}
		n, err := deps.Repo.ReplaceAreaLinks(ctx, res.RunID, links)
		if err != nil {
			return fail("persist_links", err)
		}
		res.Persisted = n
		if err := deps.Repo.ReplaceContainment(ctx, rel); err != nil {
			return fail("persist_containment", err)
		}
		if err := deps.Repo.ReplaceMarketStatistics(ctx, res.RunID, stats); err != nil {
			return fail("persist_stats", err)
		}
	}

	res.Snapshot = spatial.Snapshot{Polygons: polys, Points: ds.Points(), Links: links, BuiltAt: now().UTC()}
	elapsed := time.Since(start)
	metrics.RefreshDurationMs.Observe(float64(elapsed.Milliseconds()))
	l.Info("refresh_end", "run_id", res.RunID, "persisted_links", res.Persisted, "elapsed_ms", elapsed.Milliseconds())
	return res, nil
}

// LoadSnapshot：进程启动时用已持久化的关联与当前形状构建快照，不重新计算
func LoadSnapshot(ctx context.Context, src Source, shapesDir string) (spatial.Snapshot, error) {
	ds, err := shapes.Load(shapesDir)
	if err != nil {
		return spatial.Snapshot{}, err
	}
	var links []linkage.AreaLink
	if src != nil {
		if links, err = src.LoadLinks(ctx); err != nil {
			return spatial.Snapshot{}, err
		}
	}
	logger.L().Info("snapshot_loaded", "polygons", len(ds.Polygons()), "points", len(ds.Points()), "links", len(links))
	return spatial.Snapshot{Polygons: ds.Polygons(), Points: ds.Points(), Links: links, BuiltAt: time.Now().UTC()}, nil
}

func recordLinkMetrics(links []linkage.AreaLink, sum linkage.Summary) {
	metrics.LinkRunsTotal.Inc()
	counts := map[linkage.MatchType]int{}
	for _, l := range links {
		counts[l.MatchType]++
	}
	for _, mt := range []linkage.MatchType{linkage.MatchExact, linkage.MatchFuzzy, linkage.MatchPartial, linkage.MatchCoordinate} {
		metrics.LinksTotal.WithLabelValues(string(mt)).Set(float64(counts[mt]))
	}
	metrics.UnmatchedAreas.Set(float64(sum.UnmatchedAreas))
	metrics.AvgConfidence.Set(sum.AvgConfidence)
}
