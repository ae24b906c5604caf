package linkage

import (
	"context"
	"runtime"
	"sort"

	"area-link/internal/geometry"
	"area-link/internal/logger"

	"golang.org/x/sync/errgroup"
)

// DefaultBlockingThreshold：区域数×多边形数超过该值时必须启用分块预过滤
const DefaultBlockingThreshold = 1_000_000

// Options：关联运行参数，零值使用默认值
type Options struct {
	Workers           int
	BlockingThreshold int64
	MinConfidence     float64
	// ForceBlocking：无论规模大小都启用预过滤（测试与调优用）
	ForceBlocking bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BlockingThreshold <= 0 {
		o.BlockingThreshold = DefaultBlockingThreshold
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = MinConfidence
	}
	return o
}

type polyKey struct {
	poly *geometry.Polygon
	key  nameKey
}

// 文档注释：计算行政区与多边形之间的关联
// 对每个 (区域, 多边形) 对执行 exact → fuzzy → partial 级联，低于阈值的不输出。
// 约束：外层按区域切分到各 worker，每个 worker 只写自己的结果槽位，合并时无需加锁；
// 输出顺序固定为 AreaID 升序、置信度降序、匹配类型优先级降序、PolygonID 升序，相同输入两次运行结果逐项一致。
// 规模超过 BlockingThreshold 时启用预过滤：候选多边形须与区域名称首字符相同或共享任一词，
// 该过滤保留全部 exact 与词重叠匹配，可能丢失首字符与词均不同的 fuzzy/子串匹配。
func LinkAreas(areas []AdministrativeArea, polygons []*geometry.Polygon, opts Options) ([]AreaLink, Summary) {
	opts = opts.withDefaults()
	sum := Summary{Areas: len(areas)}

	polys := make([]polyKey, 0, len(polygons))
	for _, p := range polygons {
		if p == nil {
			continue
		}
		sum.Polygons++
		k := newNameKey(p.Name())
		if k.empty() {
			continue
		}
		polys = append(polys, polyKey{poly: p, key: k})
	}

	pairs := int64(len(areas)) * int64(len(polys))
	var idx *blockIndex
	if opts.ForceBlocking || pairs > opts.BlockingThreshold {
		idx = newBlockIndex(polys)
		sum.Blocked = true
		logger.L().Debug("link_blocking_enabled", "pairs", pairs, "threshold", opts.BlockingThreshold)
	}

	parts := partition(len(areas), opts.Workers)
	results := make([][]AreaLink, len(parts))
	comparisons := make([]int64, len(parts))
	var g errgroup.Group
	for pi, rg := range parts {
		pi, rg := pi, rg
		g.Go(func() error {
			var local []AreaLink
			var cmp int64
			for _, a := range areas[rg[0]:rg[1]] {
				links, n := linkOne(a, polys, idx, opts.MinConfidence)
				local = append(local, links...)
				cmp += n
			}
			results[pi] = local
			comparisons[pi] = cmp
			return nil
		})
	}
	_ = g.Wait()

	var out []AreaLink
	for i := range results {
		out = append(out, results[i]...)
		sum.Comparisons += comparisons[i]
	}
	SortLinks(out)

	linkedAreas := make(map[int64]struct{})
	linkedPolys := make(map[string]struct{})
	var confSum float64
	for _, l := range out {
		linkedAreas[l.AreaID] = struct{}{}
		linkedPolys[l.PolygonID] = struct{}{}
		confSum += l.Confidence
	}
	sum.Links = len(out)
	sum.LinkedAreas = len(linkedAreas)
	sum.UnmatchedAreas = countUnmatchedAreas(areas, linkedAreas)
	sum.UnmatchedPolygons = sum.Polygons - countLinkedPolys(polys, linkedPolys)
	if len(out) > 0 {
		sum.AvgConfidence = confSum / float64(len(out))
	}
	return out, sum
}

// LinkAreasContext：与 LinkAreas 相同，但在开始前检查上下文；引擎内部不可中断
func LinkAreasContext(ctx context.Context, areas []AdministrativeArea, polygons []*geometry.Polygon, opts Options) ([]AreaLink, Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, Summary{}, err
	}
	links, sum := LinkAreas(areas, polygons, opts)
	return links, sum, nil
}

// linkOne：单个区域对候选多边形执行级联；同一 PolygonID 仅保留最优结果
func linkOne(a AdministrativeArea, polys []polyKey, idx *blockIndex, minConf float64) ([]AreaLink, int64) {
	ak := newNameKey(a.NameEn)
	if ak.empty() {
		return nil, 0
	}
	cands := polys
	if idx != nil {
		cands = idx.candidates(ak, polys)
	}
	best := make(map[string]AreaLink)
	var n int64
	for _, pk := range cands {
		n++
		m, ok := evaluate(ak, pk.key, minConf)
		if !ok {
			continue
		}
		l := AreaLink{
			AreaID:      a.ID,
			PolygonID:   pk.poly.ID(),
			PolygonName: pk.poly.Name(),
			Confidence:  m.Confidence,
			MatchType:   m.Type,
		}
		if prev, ok := best[l.PolygonID]; ok && !better(l, prev) {
			continue
		}
		best[l.PolygonID] = l
	}
	out := make([]AreaLink, 0, len(best))
	for _, l := range best {
		out = append(out, l)
	}
	return out, n
}

// partition：将 [0,n) 切成至多 workers 段连续区间
func partition(n, workers int) [][2]int {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

func countUnmatchedAreas(areas []AdministrativeArea, linked map[int64]struct{}) int {
	seen := make(map[int64]struct{}, len(areas))
	n := 0
	for _, a := range areas {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		if _, ok := linked[a.ID]; !ok {
			n++
		}
	}
	return n
}

func countLinkedPolys(polys []polyKey, linked map[string]struct{}) int {
	n := 0
	for _, p := range polys {
		if _, ok := linked[p.poly.ID()]; ok {
			n++
		}
	}
	return n
}

// SortLinks：AreaID 升序，组内按 better 排序
func SortLinks(links []AreaLink) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].AreaID != links[j].AreaID {
			return links[i].AreaID < links[j].AreaID
		}
		return better(links[i], links[j])
	})
}
