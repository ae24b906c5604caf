package geometry

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKm：球面距离使用的地球半径
	EarthRadiusKm = 6371.0
	// degToKm：赤道处 1 度对应的千米数（经验值）
	degToKm = 111.32
	// DegSqToKm2：度²→km² 的固定换算系数（111.32² ≈ 12392）
	DegSqToKm2 = degToKm * degToKm
)

// 文档注释：多边形面积与周长
// 周长：相邻顶点 Haversine 距离之和，末点回连首点。
// 面积：在 (lat, lng) 平面上做鞋带公式累加，再乘固定系数 111.32²。
// 约束：面积为平面近似，仅适用于跨度数百公里以内的区域；系数不随纬度修正，远离赤道时偏大，不是大地测量精确值。
// 异常：去重后少于 3 个顶点或坐标非法时返回 ErrInvalidGeometry，不返回 (0, 0)。
func PolygonMetrics(vertices []Vertex) (areaKm2, perimeterKm float64, err error) {
	ring, err := normalizeRing(vertices)
	if err != nil {
		return 0, 0, err
	}
	areaKm2, perimeterKm = metricsOf(ring)
	return areaKm2, perimeterKm, nil
}

func metricsOf(ring []Vertex) (float64, float64) {
	n := len(ring)
	var perim float64
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		perim += HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return math.Abs(signedArea(ring)) * DegSqToKm2, perim
}

// 鞋带公式（度²，带符号），x 取经度，y 取纬度；以首点为原点累加以减小抵消误差
func signedArea(ring []Vertex) float64 {
	n := len(ring)
	o := ring[0]
	var s float64
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		s += (a.Lng-o.Lng)*(b.Lat-o.Lat) - (b.Lng-o.Lng)*(a.Lat-o.Lat)
	}
	return s / 2
}

// BoundingBox：顶点集合的包围盒；空输入返回零值
func BoundingBox(vertices []Vertex) BBox {
	if len(vertices) == 0 {
		return BBox{}
	}
	b := BBox{MinLat: 90, MaxLat: -90, MinLng: 180, MaxLng: -180}
	for _, v := range vertices {
		if v.Lat < b.MinLat {
			b.MinLat = v.Lat
		}
		if v.Lat > b.MaxLat {
			b.MaxLat = v.Lat
		}
		if v.Lng < b.MinLng {
			b.MinLng = v.Lng
		}
		if v.Lng > b.MaxLng {
			b.MaxLng = v.Lng
		}
	}
	return b
}

// BoundingBoxesOverlap：关系构建的粗筛；不做精确多边形求交
func BoundingBoxesOverlap(a, b BBox) bool { return a.Overlaps(b) }

// Centroid：面积加权质心；退化（零面积）时取顶点均值
func Centroid(vertices []Vertex) (Vertex, error) {
	ring, err := normalizeRing(vertices)
	if err != nil {
		return Vertex{}, err
	}
	return centroidOf(ring), nil
}

func centroidOf(ring []Vertex) Vertex {
	n := len(ring)
	a := signedArea(ring)
	if math.Abs(a) < 1e-15 {
		var sLat, sLng float64
		for _, v := range ring {
			sLat += v.Lat
			sLng += v.Lng
		}
		return Vertex{Lat: sLat / float64(n), Lng: sLng / float64(n)}
	}
	o := ring[0]
	var cx, cy float64
	for i := 0; i < n; i++ {
		px, py := ring[i].Lng-o.Lng, ring[i].Lat-o.Lat
		qx, qy := ring[(i+1)%n].Lng-o.Lng, ring[(i+1)%n].Lat-o.Lat
		cross := px*qy - qx*py
		cx += (px + qx) * cross
		cy += (py + qy) * cross
	}
	return Vertex{Lat: o.Lat + cy/(6*a), Lng: o.Lng + cx/(6*a)}
}

// HaversineKm：球面大圆距离（千米），地球半径 6371
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// normalizeRing：校验坐标，去掉与首点重合的闭合点，并要求至少 3 个互异顶点
func normalizeRing(vertices []Vertex) ([]Vertex, error) {
	for i, v := range vertices {
		if !ValidCoordinate(v.Lat, v.Lng) {
			return nil, fmt.Errorf("vertex %d (%v, %v): %w", i, v.Lat, v.Lng, ErrInvalidGeometry)
		}
	}
	ring := vertices
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	distinct := make(map[Vertex]struct{}, len(ring))
	for _, v := range ring {
		distinct[v] = struct{}{}
		if len(distinct) >= 3 {
			break
		}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("need at least 3 distinct vertices, got %d: %w", len(distinct), ErrInvalidGeometry)
	}
	out := make([]Vertex, len(ring))
	copy(out, ring)
	return out, nil
}
