package spatial

import (
	"math"

	"area-link/internal/geometry"

	"github.com/mmcloughlin/geohash"
)

// 文档注释：geohash 网格索引（多精度）
// 背景：半径查询只需检查查询点所在单元及 8 邻域；按半径选择单元边长不小于半径的最细精度。
// 约束：单元宽度按候选区域内最高纬度计算并留出余量；纬度超过 80° 或半径大于最粗单元时不使用网格，
// 调用方退回线性扫描。网格只负责缩小候选，距离与排序仍由同一段代码计算，结果与扫描一致。
type grid struct {
	cells map[uint]map[string][]int
}

var gridPrecisions = []uint{2, 3, 4, 5, 6, 7}

const (
	kmPerDeg   = geometry.EarthRadiusKm * math.Pi / 180
	gridMargin = 1.25
	gridMaxLat = 80.0
)

func newGrid(n int, coord func(i int) (lat, lng float64)) *grid {
	g := &grid{cells: make(map[uint]map[string][]int, len(gridPrecisions))}
	for _, p := range gridPrecisions {
		g.cells[p] = make(map[string][]int)
	}
	for i := 0; i < n; i++ {
		lat, lng := coord(i)
		for _, p := range gridPrecisions {
			h := geohash.EncodeWithPrecision(lat, lng, p)
			g.cells[p][h] = append(g.cells[p][h], i)
		}
	}
	return g
}

// cellSizeDeg：geohash 单元的纬度高与经度宽（度）
func cellSizeDeg(p uint) (float64, float64) {
	bits := 5 * p
	latBits := bits / 2
	lngBits := bits - latBits
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lngBits))
}

func choosePrecision(lat, radiusKm float64) (uint, bool) {
	maxLat := math.Abs(lat) + radiusKm*gridMargin/kmPerDeg
	if maxLat > gridMaxLat {
		return 0, false
	}
	need := radiusKm * gridMargin
	cosLat := math.Cos(maxLat * math.Pi / 180)
	for i := len(gridPrecisions) - 1; i >= 0; i-- {
		p := gridPrecisions[i]
		h, w := cellSizeDeg(p)
		if h*kmPerDeg >= need && w*kmPerDeg*cosLat >= need {
			return p, true
		}
	}
	return 0, false
}

// candidates：返回 3x3 邻域内的下标；ok=false 表示需要退回线性扫描
func (g *grid) candidates(lat, lng, radiusKm float64) ([]int, bool) {
	p, ok := choosePrecision(lat, radiusKm)
	if !ok {
		return nil, false
	}
	center := geohash.EncodeWithPrecision(lat, lng, p)
	box := geohash.BoundingBox(center)
	if w := box.MaxLng - box.MinLng; box.MinLng-w < -180 || box.MaxLng+w > 180 {
		// 邻域跨越日期变更线
		return nil, false
	}
	seen := map[string]struct{}{center: {}}
	out := append([]int(nil), g.cells[p][center]...)
	for _, h := range geohash.Neighbors(center) {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, g.cells[p][h]...)
	}
	return out, true
}
