// 包 containment：社区/分区/入口之间的包含与重叠关系构建
package containment

import (
	"sort"
	"time"

	"area-link/internal/geometry"
)

// 社区：用于包含分析的命名多边形
type Community struct {
	Polygon *geometry.Polygon
}

// 分区：带编号与来源信息的多边形
type Sector struct {
	Polygon   *geometry.Polygon
	Number    int
	CreatedBy string
	CreatedAt time.Time
}

// 入口：归属社区名称与区域编码标记的点，是包含分配的基本单位
type Entrance struct {
	Point         *geometry.Point
	CommunityName string
	ZoneCode      string
}

// 文档注释：派生的包含关系
// 约束：完全由当前多边形/点集合决定，不可手工编辑；成员 ID 升序，无成员的社区不出现。
type Relation struct {
	CommunityEntrances map[string][]string `json:"community_entrances"`
	CommunitySectors   map[string][]string `json:"community_sectors"`
}

func newRelation() Relation {
	return Relation{CommunityEntrances: make(map[string][]string), CommunitySectors: make(map[string][]string)}
}

// Equal：逐项比较两个关系
func (r Relation) Equal(o Relation) bool {
	return equalMembers(r.CommunityEntrances, o.CommunityEntrances) && equalMembers(r.CommunitySectors, o.CommunitySectors)
}

func equalMembers(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}

// Communities：有成员的社区 ID（升序）
func (r Relation) Communities() []string {
	seen := make(map[string]struct{})
	for k := range r.CommunityEntrances {
		seen[k] = struct{}{}
	}
	for k := range r.CommunitySectors {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats：一次构建的计数，跳过的记录不影响其余结果
type Stats struct {
	Communities         int `json:"communities"`
	Sectors             int `json:"sectors"`
	Entrances           int `json:"entrances"`
	Batches             int `json:"batches"`
	EntranceAssignments int `json:"entrance_assignments"`
	SectorAssignments   int `json:"sector_assignments"`
	SkippedCommunities  int `json:"skipped_communities"`
	SkippedSectors      int `json:"skipped_sectors"`
	SkippedEntrances    int `json:"skipped_entrances"`
}

// ProgressFunc：进度回调（已处理入口数 / 入口总数），由调用方决定如何记录或上报
type ProgressFunc func(processed, total int)
