package containment

import (
	"context"
	"sort"

	"area-link/internal/geometry"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize：入口分批大小，峰值内存与批大小成正比而非入口总数
const DefaultBatchSize = 5000

// Options：构建参数，零值使用默认值
type Options struct {
	BatchSize int
	Workers   int
	Progress  ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Build：无取消语义的构建，见 BuildContext
func Build(communities []Community, sectors []Sector, entrances []Entrance, opts Options) (Relation, Stats) {
	rel, st, _ := BuildContext(context.Background(), communities, sectors, entrances, opts)
	return rel, st
}

// 文档注释：构建社区↔分区、社区↔入口关系
// 社区↔分区：包围盒相交即记为关联，属粗粒度近似，不做精确多边形求交。
// 社区↔入口：逐社区对入口做射线法判定（先过包围盒），入口按 BatchSize 分批处理，每批结束回调一次进度。
// 约束：Workers>1 时每个 worker 持有按社区 ID 分组的私有结果，全部批次结束后一次性合并；
// 唯一的取消检查点在批次之间，取消时返回 ctx.Err() 与已完成部分的统计。相同输入在任意批大小与并发度下结果一致。
func BuildContext(ctx context.Context, communities []Community, sectors []Sector, entrances []Entrance, opts Options) (Relation, Stats, error) {
	opts = opts.withDefaults()
	var st Stats

	comms := make([]*geometry.Polygon, 0, len(communities))
	for _, c := range communities {
		if c.Polygon == nil || c.Polygon.ID() == "" {
			st.SkippedCommunities++
			continue
		}
		comms = append(comms, c.Polygon)
	}
	st.Communities = len(comms)

	rel := newRelation()
	secs := make([]*geometry.Polygon, 0, len(sectors))
	for _, s := range sectors {
		if s.Polygon == nil || s.Polygon.ID() == "" {
			st.SkippedSectors++
			continue
		}
		secs = append(secs, s.Polygon)
	}
	st.Sectors = len(secs)
	for _, c := range comms {
		for _, s := range secs {
			if geometry.BoundingBoxesOverlap(c.BBox(), s.BBox()) {
				rel.CommunitySectors[c.ID()] = append(rel.CommunitySectors[c.ID()], s.ID())
			}
		}
	}

	pts := make([]*geometry.Point, 0, len(entrances))
	for _, e := range entrances {
		if e.Point == nil || e.Point.ID() == "" {
			st.SkippedEntrances++
			continue
		}
		pts = append(pts, e.Point)
	}
	st.Entrances = len(pts)

	partials := make([]map[string][]string, opts.Workers)
	for i := range partials {
		partials[i] = make(map[string][]string)
	}
	total := len(pts)
	for start := 0; start < total; start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			finalize(&rel, partials, &st)
			return rel, st, err
		}
		end := start + opts.BatchSize
		if end > total {
			end = total
		}
		assignBatch(comms, pts[start:end], partials)
		st.Batches++
		if opts.Progress != nil {
			opts.Progress(end, total)
		}
	}
	finalize(&rel, partials, &st)
	return rel, st, nil
}

// assignBatch：批内入口按 worker 切分，worker i 只写 partials[i]
func assignBatch(comms []*geometry.Polygon, batch []*geometry.Point, partials []map[string][]string) {
	workers := len(partials)
	if workers == 1 || len(batch) < workers {
		assignChunk(comms, batch, partials[0])
		return
	}
	size := (len(batch) + workers - 1) / workers
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * size
		if lo >= len(batch) {
			break
		}
		hi := lo + size
		if hi > len(batch) {
			hi = len(batch)
		}
		chunk := batch[lo:hi]
		out := partials[w]
		g.Go(func() error {
			assignChunk(comms, chunk, out)
			return nil
		})
	}
	_ = g.Wait()
}

func assignChunk(comms []*geometry.Polygon, chunk []*geometry.Point, out map[string][]string) {
	for _, c := range comms {
		for _, p := range chunk {
			if c.ContainsPoint(p.Lat(), p.Lng()) {
				out[c.ID()] = append(out[c.ID()], p.ID())
			}
		}
	}
}

// finalize：合并各 worker 的私有结果（仅追加），排序去重
func finalize(rel *Relation, partials []map[string][]string, st *Stats) {
	for _, part := range partials {
		for cid, ids := range part {
			rel.CommunityEntrances[cid] = append(rel.CommunityEntrances[cid], ids...)
		}
	}
	st.EntranceAssignments = sortDedup(rel.CommunityEntrances)
	st.SectorAssignments = sortDedup(rel.CommunitySectors)
}

func sortDedup(m map[string][]string) int {
	n := 0
	for k, ids := range m {
		sort.Strings(ids)
		out := ids[:0]
		for i, id := range ids {
			if i > 0 && id == ids[i-1] {
				continue
			}
			out = append(out, id)
		}
		m[k] = out
		n += len(out)
	}
	return n
}
