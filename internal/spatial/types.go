// 包 spatial：基于只读快照的半径查询、包含查询与最优关联查询
package spatial

import (
	"time"

	"area-link/internal/geometry"
	"area-link/internal/linkage"
)

// 加载结果快照：只读引用，供查询期共享；重载时整体替换
type Snapshot struct {
	Polygons []*geometry.Polygon
	Points   []*geometry.Point
	Links    []linkage.AreaLink
	BuiltAt  time.Time
}

// PolygonHit：半径查询命中的多边形及其质心距离
type PolygonHit struct {
	Polygon    *geometry.Polygon `json:"polygon"`
	DistanceKm float64           `json:"distance_km"`
}

// PointHit：半径查询命中的点
type PointHit struct {
	Point      *geometry.Point `json:"point"`
	DistanceKm float64         `json:"distance_km"`
}

// Stats：快照规模
type Stats struct {
	Polygons    int       `json:"polygons"`
	Points      int       `json:"points"`
	Links       int       `json:"links"`
	LinkedAreas int       `json:"linked_areas"`
	BuiltAt     time.Time `json:"built_at"`
	Fingerprint string    `json:"fingerprint"`
}

// Options：CacheSize 为包含查询候选缓存容量；FallbackRadiusKm 为坐标兜底的默认最大半径
type Options struct {
	CacheSize        int
	FallbackRadiusKm float64
}

const (
	defaultCacheSize      = 4096
	defaultFallbackRadius = 50.0
)

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}
	if o.FallbackRadiusKm <= 0 {
		o.FallbackRadiusKm = defaultFallbackRadius
	}
	return o
}
