package geometry

// 文档注释：点入多边形判定（Even-Odd 射线法）
// 背景：射线沿纬度正方向发出，在 (lat, lng) 平面上统计与边的交点个数。
// 约束：边采用半开判定，仅当一个端点经度严格大于测试经度、另一个端点经度不大于测试经度时计入，射线穿过顶点时不会重复计数；
// 两端点经度相同的边直接跳过，避免除零。边界上的点归属不作保证。
func PointInPolygon(lat, lng float64, vertices []Vertex) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi := vertices[i]
		vj := vertices[j]
		if vi.Lng == vj.Lng {
			continue
		}
		if (vi.Lng > lng) == (vj.Lng > lng) {
			continue
		}
		latX := vi.Lat + (lng-vi.Lng)*(vj.Lat-vi.Lat)/(vj.Lng-vi.Lng)
		if lat < latX {
			inside = !inside
		}
	}
	return inside
}
