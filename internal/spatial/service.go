package spatial

import (
	"fmt"
	"math"
	"sort"

	"area-link/internal/geometry"
	"area-link/internal/linkage"
	"area-link/internal/metrics"

	"github.com/mmcloughlin/geohash"
)

// containingPrecision：包含查询缓存键的 geohash 精度（约 5m 单元）
const containingPrecision = 9

// 文档注释：空间查询服务（网格候选 → 距离过滤 → 排序；包围盒 → PIP；KD-Tree 最近邻兜底）
// 背景：统一调度多索引以实现半径、包含与关联查询；快照只读，查询无副作用，可并发调用。
// 约束：任何索引路径返回的结果集与排序必须与线性扫描一致。
type Service struct {
	snap     Snapshot
	opts     Options
	polyGrid *grid
	ptGrid   *grid
	kd       *kdNode
	best     map[int64]linkage.AreaLink
	byID     map[string]int
	cache    *lru
	fprint   string
}

// NewService：基于快照构建索引，nil 元素被忽略
func NewService(snap Snapshot, opts Options) *Service {
	opts = opts.withDefaults()
	s := &Snapshot{BuiltAt: snap.BuiltAt, Links: snap.Links}
	for _, p := range snap.Polygons {
		if p != nil {
			s.Polygons = append(s.Polygons, p)
		}
	}
	for _, p := range snap.Points {
		if p != nil {
			s.Points = append(s.Points, p)
		}
	}
	svc := &Service{
		snap:  *s,
		opts:  opts,
		best:  linkage.BestLinks(linkage.Persistable(s.Links)),
		byID:  make(map[string]int, len(s.Polygons)),
		cache: newLRU(opts.CacheSize),
		fprint: fingerprint(s),
	}
	items := make([]kdItem, 0, len(s.Polygons))
	for i, p := range s.Polygons {
		if _, dup := svc.byID[p.ID()]; !dup {
			svc.byID[p.ID()] = i
		}
		c := p.Centroid()
		items = append(items, kdItem{idx: i, v: unitVector(c.Lat, c.Lng)})
	}
	svc.kd = buildKD(items, 0)
	svc.polyGrid = newGrid(len(s.Polygons), func(i int) (float64, float64) {
		c := s.Polygons[i].Centroid()
		return c.Lat, c.Lng
	})
	svc.ptGrid = newGrid(len(s.Points), func(i int) (float64, float64) {
		return s.Points[i].Lat(), s.Points[i].Lng()
	})
	return svc
}

func validQuery(lat, lng, radiusKm float64) error {
	if !geometry.ValidCoordinate(lat, lng) {
		return fmt.Errorf("query point (%v, %v): %w", lat, lng, geometry.ErrInvalidGeometry)
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return fmt.Errorf("radius %v: %w", radiusKm, geometry.ErrInvalidGeometry)
	}
	return nil
}

// AreasNear：质心距离不超过半径的多边形，按距离升序、ID 升序
func (s *Service) AreasNear(lat, lng, radiusKm float64) ([]PolygonHit, error) {
	if err := validQuery(lat, lng, radiusKm); err != nil {
		return nil, err
	}
	cand, ok := s.polyGrid.candidates(lat, lng, radiusKm)
	if !ok {
		return s.scanAreasNear(lat, lng, radiusKm), nil
	}
	return s.areaHits(lat, lng, radiusKm, cand), nil
}

// scanAreasNear：线性扫描基线
func (s *Service) scanAreasNear(lat, lng, radiusKm float64) []PolygonHit {
	all := make([]int, len(s.snap.Polygons))
	for i := range all {
		all[i] = i
	}
	return s.areaHits(lat, lng, radiusKm, all)
}

func (s *Service) areaHits(lat, lng, radiusKm float64, cand []int) []PolygonHit {
	type hit struct {
		i int
		d float64
	}
	hits := make([]hit, 0, len(cand))
	for _, i := range cand {
		c := s.snap.Polygons[i].Centroid()
		if d := geometry.HaversineKm(lat, lng, c.Lat, c.Lng); d <= radiusKm {
			hits = append(hits, hit{i, d})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].d != hits[b].d {
			return hits[a].d < hits[b].d
		}
		ia, ib := s.snap.Polygons[hits[a].i].ID(), s.snap.Polygons[hits[b].i].ID()
		if ia != ib {
			return ia < ib
		}
		return hits[a].i < hits[b].i
	})
	out := make([]PolygonHit, len(hits))
	for k, h := range hits {
		out[k] = PolygonHit{Polygon: s.snap.Polygons[h.i], DistanceKm: h.d}
	}
	return out
}

// PointsNear：距离不超过半径的点，按距离升序、ID 升序
func (s *Service) PointsNear(lat, lng, radiusKm float64) ([]PointHit, error) {
	if err := validQuery(lat, lng, radiusKm); err != nil {
		return nil, err
	}
	cand, ok := s.ptGrid.candidates(lat, lng, radiusKm)
	if !ok {
		return s.scanPointsNear(lat, lng, radiusKm), nil
	}
	return s.pointHits(lat, lng, radiusKm, cand), nil
}

func (s *Service) scanPointsNear(lat, lng, radiusKm float64) []PointHit {
	all := make([]int, len(s.snap.Points))
	for i := range all {
		all[i] = i
	}
	return s.pointHits(lat, lng, radiusKm, all)
}

func (s *Service) pointHits(lat, lng, radiusKm float64, cand []int) []PointHit {
	type hit struct {
		i int
		d float64
	}
	hits := make([]hit, 0, len(cand))
	for _, i := range cand {
		p := s.snap.Points[i]
		if d := geometry.HaversineKm(lat, lng, p.Lat(), p.Lng()); d <= radiusKm {
			hits = append(hits, hit{i, d})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].d != hits[b].d {
			return hits[a].d < hits[b].d
		}
		ia, ib := s.snap.Points[hits[a].i].ID(), s.snap.Points[hits[b].i].ID()
		if ia != ib {
			return ia < ib
		}
		return hits[a].i < hits[b].i
	})
	out := make([]PointHit, len(hits))
	for k, h := range hits {
		out[k] = PointHit{Point: s.snap.Points[h.i], DistanceKm: h.d}
	}
	return out
}

// BestLinkForArea：按置信度 → 匹配类型优先级 → PolygonID 选出的唯一关联
func (s *Service) BestLinkForArea(areaID int64) (linkage.AreaLink, bool) {
	l, ok := s.best[areaID]
	return l, ok
}

// 文档注释：解析行政区对应的多边形
// 背景：名称关联优先；没有名称关联时以给定坐标找最近质心兜底，限制最大半径避免误归属。
// 返回：兜底结果 MatchType=coordinate，半径一半以内置信度 0.6，之外 0.5；radiusKm<=0 使用默认半径。
func (s *Service) ResolveArea(areaID int64, lat, lng, radiusKm float64) (linkage.AreaLink, bool) {
	if l, ok := s.best[areaID]; ok {
		return l, true
	}
	if s.kd == nil || !geometry.ValidCoordinate(lat, lng) || math.IsNaN(radiusKm) {
		return linkage.AreaLink{}, false
	}
	if radiusKm <= 0 {
		radiusKm = s.opts.FallbackRadiusKm
	}
	i := nearestCentroid(s.kd, s.snap.Polygons, lat, lng)
	if i < 0 {
		return linkage.AreaLink{}, false
	}
	p := s.snap.Polygons[i]
	c := p.Centroid()
	d := geometry.HaversineKm(lat, lng, c.Lat, c.Lng)
	if d > radiusKm {
		return linkage.AreaLink{}, false
	}
	conf := 0.6
	if d > radiusKm/2 {
		conf = 0.5
	}
	return linkage.AreaLink{
		AreaID:      areaID,
		PolygonID:   p.ID(),
		PolygonName: p.Name(),
		Confidence:  conf,
		MatchType:   linkage.MatchCoordinate,
	}, true
}

// PolygonsContaining：包含给定点的多边形，面积升序（最细粒度在前）、ID 升序
func (s *Service) PolygonsContaining(lat, lng float64) ([]*geometry.Polygon, error) {
	if !geometry.ValidCoordinate(lat, lng) {
		return nil, fmt.Errorf("query point (%v, %v): %w", lat, lng, geometry.ErrInvalidGeometry)
	}
	key := geohash.EncodeWithPrecision(lat, lng, containingPrecision)
	cand, ok := s.cache.get(key)
	if ok {
		metrics.CacheHits.WithLabelValues("containing").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("containing").Inc()
		box := geohash.BoundingBox(key)
		cell := geometry.BBox{MinLat: box.MinLat, MaxLat: box.MaxLat, MinLng: box.MinLng, MaxLng: box.MaxLng}
		// 边界坐标（如经度 180）可能被编码到回绕的单元，此时不缓存，直接用点本身过滤
		cacheable := cell.Contains(lat, lng)
		if !cacheable {
			cell = geometry.BBox{MinLat: lat, MaxLat: lat, MinLng: lng, MaxLng: lng}
		}
		for i, p := range s.snap.Polygons {
			if p.BBox().Overlaps(cell) {
				cand = append(cand, i)
			}
		}
		if cacheable {
			s.cache.set(key, cand)
		}
	}
	var out []*geometry.Polygon
	for _, i := range cand {
		if p := s.snap.Polygons[i]; p.ContainsPoint(lat, lng) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].AreaKm2() != out[b].AreaKm2() {
			return out[a].AreaKm2() < out[b].AreaKm2()
		}
		return out[a].ID() < out[b].ID()
	})
	return out, nil
}

// PointsInPolygon：落在多边形内的点（ID 升序）；未知多边形返回 ok=false
func (s *Service) PointsInPolygon(polygonID string) ([]*geometry.Point, bool) {
	i, ok := s.byID[polygonID]
	if !ok {
		return nil, false
	}
	poly := s.snap.Polygons[i]
	out := make([]*geometry.Point, 0)
	for _, p := range s.snap.Points {
		if poly.ContainsPoint(p.Lat(), p.Lng()) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out, true
}

// Polygon：按 ID 查找多边形
func (s *Service) Polygon(id string) (*geometry.Polygon, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.snap.Polygons[i], true
}

func (s *Service) Stats() Stats {
	return Stats{
		Polygons:    len(s.snap.Polygons),
		Points:      len(s.snap.Points),
		Links:       len(s.snap.Links),
		LinkedAreas: len(s.best),
		BuiltAt:     s.snap.BuiltAt,
		Fingerprint: s.fprint,
	}
}

// Fingerprint：快照内容指纹（16 位十六进制），跨进程稳定，用作共享缓存键的一部分
func (s *Service) Fingerprint() string { return s.fprint }
