package api

import (
	"area-link/internal/geometry"
	"area-link/internal/linkage"
	"area-link/internal/spatial"
)

// 文档注释：查询返回结构（对外）
// 背景：列表接口只返回多边形摘要，不带顶点，控制响应体积；完整几何通过 /polygons/{id} 获取。
// 约束：字段稳定；新增字段需评估兼容性与前端依赖。
type polygonSummary struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	AreaKm2    float64         `json:"area_km2"`
	Centroid   geometry.Vertex `json:"centroid"`
	DistanceKm *float64        `json:"distance_km,omitempty"`
}

type pointSummary struct {
	ID         string  `json:"id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km"`
}

type listResponse[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

type nearMeResponse struct {
	IP      string           `json:"ip"`
	Lat     float64          `json:"lat"`
	Lng     float64          `json:"lng"`
	Count   int              `json:"count"`
	Results []polygonSummary `json:"results"`
}

type linkResponse struct {
	linkage.AreaLink
	Fallback bool `json:"fallback"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Index  spatial.Stats `json:"index"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func summarize(p *geometry.Polygon) polygonSummary {
	return polygonSummary{ID: p.ID(), Name: p.Name(), AreaKm2: p.AreaKm2(), Centroid: p.Centroid()}
}

func areaResults(hits []spatial.PolygonHit) []polygonSummary {
	out := make([]polygonSummary, len(hits))
	for i, h := range hits {
		out[i] = summarize(h.Polygon)
		d := h.DistanceKm
		out[i].DistanceKm = &d
	}
	return out
}

func pointResults(hits []spatial.PointHit) []pointSummary {
	out := make([]pointSummary, len(hits))
	for i, h := range hits {
		out[i] = pointSummary{ID: h.Point.ID(), Lat: h.Point.Lat(), Lng: h.Point.Lng(), DistanceKm: h.DistanceKm}
	}
	return out
}
