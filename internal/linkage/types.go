// 包 linkage：行政区名称与地理多边形之间的记录关联（精确 → 模糊 → 部分匹配级联）
package linkage

// 文档注释：行政区（交易数据中的自由文本区域）
// 约束：一个行政区可对应零个或多个多边形；拼写/音译可能不一致。
type AdministrativeArea struct {
	ID               int64  `json:"id"`
	NameEn           string `json:"name_en"`
	NameAr           string `json:"name_ar"`
	MunicipalityCode string `json:"municipality_code"`
}

// MatchType：匹配类型（带优先级的枚举）
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchFuzzy      MatchType = "fuzzy"
	MatchPartial    MatchType = "partial"
	MatchCoordinate MatchType = "coordinate"
)

// Priority：同置信度下的排序优先级，exact > fuzzy > partial > coordinate
func (m MatchType) Priority() int {
	switch m {
	case MatchExact:
		return 4
	case MatchFuzzy:
		return 3
	case MatchPartial:
		return 2
	case MatchCoordinate:
		return 1
	}
	return 0
}

func (m MatchType) Valid() bool { return m.Priority() > 0 }

// MinConfidence：低于该值的关联不输出也不持久化
const MinConfidence = 0.3

// 文档注释：行政区与多边形的关联
// 约束：Confidence ∈ [0,1]；以 (AreaID, PolygonID) 为键整体重算，不做局部修补。
type AreaLink struct {
	AreaID      int64     `json:"area_id"`
	PolygonID   string    `json:"polygon_id"`
	PolygonName string    `json:"polygon_name"`
	Confidence  float64   `json:"confidence"`
	MatchType   MatchType `json:"match_type"`
}

// Summary：一次关联运行的统计，未匹配不是错误
type Summary struct {
	Areas             int     `json:"areas"`
	Polygons          int     `json:"polygons"`
	Links             int     `json:"links"`
	LinkedAreas       int     `json:"linked_areas"`
	UnmatchedAreas    int     `json:"unmatched_areas"`
	UnmatchedPolygons int     `json:"unmatched_polygons"`
	AvgConfidence     float64 `json:"avg_confidence"`
	Comparisons       int64   `json:"comparisons"`
	Blocked           bool    `json:"blocked"`
}
