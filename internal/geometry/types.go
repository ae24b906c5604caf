// 包 geometry：多边形与点的几何计算（面积、周长、质心、包围盒、点入多边形、球面距离）
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry：顶点不足或坐标非法
// 约束：仅使单次计算失败；批处理调用方据此跳过记录并计数，不中断整批。
var ErrInvalidGeometry = errors.New("invalid geometry")

// 经纬度顶点（WGS84）
type Vertex struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BBox：包围盒，闭区间
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Overlaps：O(1) 包围盒相交判定，边界接触视为相交
func (b BBox) Overlaps(o BBox) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat && b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}

// Contains：点是否落在包围盒内（含边界）
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// 文档注释：地理多边形（只读）
// 背景：派生属性在构造时一次性计算，之后不可修改；数据重载时整体替换而非原地编辑。
// 约束：仅能通过 NewPolygon 构造；Vertices 返回副本，调用方修改不影响内部状态。
type Polygon struct {
	id        string
	name      string
	source    string
	vertices  []Vertex
	area      float64
	perimeter float64
	centroid  Vertex
	bbox      BBox
}

// NewPolygon：校验顶点并计算全部派生属性
func NewPolygon(id, name string, vertices []Vertex) (*Polygon, error) {
	ring, err := normalizeRing(vertices)
	if err != nil {
		return nil, fmt.Errorf("polygon %q: %w", id, err)
	}
	area, perim := metricsOf(ring)
	return &Polygon{
		id:        id,
		name:      name,
		vertices:  ring,
		area:      area,
		perimeter: perim,
		centroid:  centroidOf(ring),
		bbox:      BoundingBox(ring),
	}, nil
}

// WithSource：返回带来源标识的新多边形，原对象不变
func (p *Polygon) WithSource(source string) *Polygon {
	cp := *p
	cp.source = source
	return &cp
}

// WithID：返回换了标识的副本，派生属性不重算
func (p *Polygon) WithID(id string) *Polygon {
	cp := *p
	cp.id = id
	return &cp
}

func (p *Polygon) ID() string { return p.id }
func (p *Polygon) Name() string { return p.name }
func (p *Polygon) Source() string { return p.source }
func (p *Polygon) AreaKm2() float64 { return p.area }
func (p *Polygon) PerimeterKm() float64 { return p.perimeter }
func (p *Polygon) Centroid() Vertex { return p.centroid }
func (p *Polygon) BBox() BBox { return p.bbox }
func (p *Polygon) Len() int { return len(p.vertices) }

func (p *Polygon) Vertices() []Vertex {
	out := make([]Vertex, len(p.vertices))
	copy(out, p.vertices)
	return out
}

// ContainsPoint：包围盒预过滤后执行射线法
func (p *Polygon) ContainsPoint(lat, lng float64) bool {
	if !p.bbox.Contains(lat, lng) {
		return false
	}
	return PointInPolygon(lat, lng, p.vertices)
}

type polygonJSON struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Source      string   `json:"source,omitempty"`
	AreaKm2     float64  `json:"area_km2"`
	PerimeterKm float64  `json:"perimeter_km"`
	Centroid    Vertex   `json:"centroid"`
	BBox        BBox     `json:"bounding_box"`
	Vertices    []Vertex `json:"vertices,omitempty"`
}

func (p *Polygon) MarshalJSON() ([]byte, error) {
	return json.Marshal(polygonJSON{
		ID: p.id, Name: p.name, Source: p.source,
		AreaKm2: p.area, PerimeterKm: p.perimeter,
		Centroid: p.centroid, BBox: p.bbox, Vertices: p.vertices,
	})
}

// 地理点（只读），Alt 可为空
type Point struct {
	id     string
	lat    float64
	lng    float64
	alt    *float64
	source string
}

// NewPoint：校验坐标后构造点
func NewPoint(id string, lat, lng float64, alt *float64, source string) (*Point, error) {
	if !ValidCoordinate(lat, lng) {
		return nil, fmt.Errorf("point %q (%v, %v): %w", id, lat, lng, ErrInvalidGeometry)
	}
	var a *float64
	if alt != nil {
		v := *alt
		a = &v
	}
	return &Point{id: id, lat: lat, lng: lng, alt: a, source: source}, nil
}

func (p *Point) ID() string { return p.id }
func (p *Point) Lat() float64 { return p.lat }
func (p *Point) Lng() float64 { return p.lng }
func (p *Point) Source() string { return p.source }

func (p *Point) Alt() (float64, bool) {
	if p.alt == nil {
		return 0, false
	}
	return *p.alt, true
}

type pointJSON struct {
	ID     string   `json:"id"`
	Lat    float64  `json:"lat"`
	Lng    float64  `json:"lng"`
	Alt    *float64 `json:"alt,omitempty"`
	Source string   `json:"source,omitempty"`
}

func (p *Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{ID: p.id, Lat: p.lat, Lng: p.lng, Alt: p.alt, Source: p.source})
}

// ValidCoordinate：有限值且落在经纬度合法范围内
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
