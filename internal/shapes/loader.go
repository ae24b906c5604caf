// 包 shapes：从 GeoJSON 数据目录加载社区、分区与入口快照
package shapes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"area-link/internal/containment"
	"area-link/internal/geometry"
	"area-link/internal/logger"
)

const (
	CommunitiesFile = "communities.geojson"
	SectorsFile     = "sectors.geojson"
	EntrancesFile   = "entrances.geojson"
)

// 要素类别，文件名约定之外的 *.geojson 通过 properties.kind 指定
const (
	KindCommunity = "community"
	KindSector    = "sector"
	KindEntrance  = "entrance"
)

var errUnknownKind = errors.New("unknown feature kind")

// LoadReport：加载统计，非法几何被跳过并按原因计数；Qualified 为社区与分区冲突后加类别前缀的 id 数
type LoadReport struct {
	Files     []string       `json:"files"`
	Features  int            `json:"features"`
	Skipped   int            `json:"skipped"`
	Qualified int            `json:"qualified"`
	Reasons   map[string]int `json:"reasons"`
}

func (r *LoadReport) skip(reason string) {
	r.Skipped++
	if r.Reasons == nil {
		r.Reasons = make(map[string]int)
	}
	r.Reasons[reason]++
}

// Dataset：一次加载的完整快照，重载时整体替换
type Dataset struct {
	Communities []containment.Community
	Sectors     []containment.Sector
	Entrances   []containment.Entrance
	Report      LoadReport
}

// Polygons：社区与分区多边形（用于关联与空间查询）
func (d Dataset) Polygons() []*geometry.Polygon {
	out := make([]*geometry.Polygon, 0, len(d.Communities)+len(d.Sectors))
	for _, c := range d.Communities {
		out = append(out, c.Polygon)
	}
	for _, s := range d.Sectors {
		out = append(out, s.Polygon)
	}
	return out
}

// Points：入口点
func (d Dataset) Points() []*geometry.Point {
	out := make([]*geometry.Point, 0, len(d.Entrances))
	for _, e := range d.Entrances {
		out = append(out, e.Point)
	}
	return out
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         any            `json:"id"`
	Geometry   *rawGeometry   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// 文档注释：从数据目录加载快照
// 背景：测绘数据以 GeoJSON FeatureCollection 交付，文件先经内嵌 JSON Schema 校验再解码。
// 约束：约定文件名 communities/sectors/entrances.geojson；其他 *.geojson 按要素的 kind 属性归类；
// 缺失文件仅记录告警；整文件结构非法返回错误；单个要素几何非法则跳过并计数。坐标顺序为 [lng, lat]。
func Load(dir string) (Dataset, error) {
	var ds Dataset
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ds, fmt.Errorf("read shapes dir: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(strings.ToLower(ent.Name()), ".geojson") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	for _, want := range []string{CommunitiesFile, SectorsFile, EntrancesFile} {
		if !contains(names, want) {
			logger.L().Warn("shapes_file_missing", "dir", dir, "file", want)
		}
	}
	for _, name := range names {
		fc, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return ds, fmt.Errorf("%s: %w", name, err)
		}
		ds.Report.Files = append(ds.Report.Files, name)
		defKind := kindForFile(name)
		for i, f := range fc.Features {
			ds.Report.Features++
			kind := defKind
			if k := strings.ToLower(propStr(f.Properties, "kind")); k != "" {
				kind = k
			}
			if err := ds.add(kind, featureID(f, name, i), f); err != nil {
				reason := "invalid_geometry"
				if errors.Is(err, errUnknownKind) {
					reason = "unknown_kind"
				}
				ds.Report.skip(reason)
				logger.L().Debug("shapes_feature_skipped", "file", name, "index", i, "err", err)
			}
		}
	}
	ds.resolveIDs()
	logger.L().Info("shapes_loaded", "dir", dir,
		"communities", len(ds.Communities), "sectors", len(ds.Sectors), "entrances", len(ds.Entrances),
		"skipped", ds.Report.Skipped)
	return ds, nil
}

// 文档注释：快照内标识去重
// 背景：社区与分区文件各自编号，同一个 id 可能同时出现在两类多边形上，下游关联与查询均以多边形 id 为键。
// 约束：跨类冲突时两侧都改为 "<kind>:<id>"（只取决于冲突是否存在，与文件顺序无关）；
// 同类内重复的多边形或入口保留首个，其余按 duplicate_id 跳过计数。
func (ds *Dataset) resolveIDs() {
	seen := make(map[string]struct{}, len(ds.Communities))
	comms := ds.Communities[:0]
	for _, c := range ds.Communities {
		if _, dup := seen[c.Polygon.ID()]; dup {
			ds.Report.skip("duplicate_id")
			continue
		}
		seen[c.Polygon.ID()] = struct{}{}
		comms = append(comms, c)
	}
	ds.Communities = comms

	secSeen := make(map[string]struct{}, len(ds.Sectors))
	secs := ds.Sectors[:0]
	clash := make(map[string]struct{})
	for _, s := range ds.Sectors {
		id := s.Polygon.ID()
		if _, dup := secSeen[id]; dup {
			ds.Report.skip("duplicate_id")
			continue
		}
		secSeen[id] = struct{}{}
		if _, ok := seen[id]; ok {
			clash[id] = struct{}{}
		}
		secs = append(secs, s)
	}
	ds.Sectors = secs
	if len(clash) > 0 {
		for i, c := range ds.Communities {
			if _, ok := clash[c.Polygon.ID()]; ok {
				ds.Communities[i].Polygon = c.Polygon.WithID(KindCommunity + ":" + c.Polygon.ID())
			}
		}
		for i, s := range ds.Sectors {
			if _, ok := clash[s.Polygon.ID()]; ok {
				ds.Sectors[i].Polygon = s.Polygon.WithID(KindSector + ":" + s.Polygon.ID())
			}
		}
		ds.Report.Qualified = len(clash)
		logger.L().Warn("shapes_id_clash", "ids", len(clash))
	}

	entSeen := make(map[string]struct{}, len(ds.Entrances))
	ents := ds.Entrances[:0]
	for _, e := range ds.Entrances {
		if _, dup := entSeen[e.Point.ID()]; dup {
			ds.Report.skip("duplicate_id")
			continue
		}
		entSeen[e.Point.ID()] = struct{}{}
		ents = append(ents, e)
	}
	ds.Entrances = ents
}

func readFile(path string) (featureCollection, error) {
	var fc featureCollection
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fc, fmt.Errorf("decode: %w", err)
	}
	if err := validate(doc); err != nil {
		return fc, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("decode: %w", err)
	}
	return fc, nil
}

func kindForFile(name string) string {
	switch strings.ToLower(name) {
	case CommunitiesFile:
		return KindCommunity
	case SectorsFile:
		return KindSector
	case EntrancesFile:
		return KindEntrance
	}
	return ""
}

func (ds *Dataset) add(kind, id string, f feature) error {
	if f.Geometry == nil {
		return fmt.Errorf("feature %s: no geometry: %w", id, geometry.ErrInvalidGeometry)
	}
	name := firstProp(f.Properties, "name", "name_en", "community_name", "NAME_EN")
	switch kind {
	case KindCommunity, KindSector:
		polys, err := polygonsOf(id, name, f.Geometry)
		if err != nil {
			return err
		}
		for _, p := range polys {
			if kind == KindCommunity {
				ds.Communities = append(ds.Communities, containment.Community{Polygon: p})
				continue
			}
			s := containment.Sector{Polygon: p, CreatedBy: propStr(f.Properties, "created_by")}
			if n, ok := propInt(f.Properties, "sector_number", "number"); ok {
				s.Number = n
			}
			if ts := propStr(f.Properties, "created_at"); ts != "" {
				if t, err := time.Parse(time.RFC3339, ts); err == nil {
					s.CreatedAt = t
				}
			}
			ds.Sectors = append(ds.Sectors, s)
		}
		return nil
	case KindEntrance:
		p, err := pointOf(id, f.Geometry)
		if err != nil {
			return err
		}
		ds.Entrances = append(ds.Entrances, containment.Entrance{
			Point:         p,
			CommunityName: firstProp(f.Properties, "community_name", "community"),
			ZoneCode:      firstProp(f.Properties, "zone_code", "zone"),
		})
		return nil
	}
	return errUnknownKind
}

// polygonsOf：Polygon 取外环；MultiPolygon 每个部分的外环各成一个多边形，ID 追加 /n
func polygonsOf(id, name string, g *rawGeometry) ([]*geometry.Polygon, error) {
	var parts [][][][]float64
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("feature %s: %v: %w", id, err, geometry.ErrInvalidGeometry)
		}
		parts = [][][][]float64{rings}
	case "MultiPolygon":
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, fmt.Errorf("feature %s: %v: %w", id, err, geometry.ErrInvalidGeometry)
		}
	default:
		return nil, fmt.Errorf("feature %s: %s is not a polygon: %w", id, g.Type, geometry.ErrInvalidGeometry)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("feature %s: empty multipolygon: %w", id, geometry.ErrInvalidGeometry)
	}
	var out []*geometry.Polygon
	for n, rings := range parts {
		if len(rings) == 0 {
			return nil, fmt.Errorf("feature %s: empty polygon: %w", id, geometry.ErrInvalidGeometry)
		}
		pid := id
		if len(parts) > 1 {
			pid = id + "/" + strconv.Itoa(n+1)
		}
		vs := make([]geometry.Vertex, 0, len(rings[0]))
		for _, pos := range rings[0] {
			if len(pos) < 2 {
				return nil, fmt.Errorf("feature %s: short position: %w", id, geometry.ErrInvalidGeometry)
			}
			vs = append(vs, geometry.Vertex{Lat: pos[1], Lng: pos[0]})
		}
		p, err := geometry.NewPolygon(pid, name, vs)
		if err != nil {
			return nil, err
		}
		out = append(out, p.WithSource("survey"))
	}
	return out, nil
}

func pointOf(id string, g *rawGeometry) (*geometry.Point, error) {
	if g.Type != "Point" {
		return nil, fmt.Errorf("feature %s: %s is not a point: %w", id, g.Type, geometry.ErrInvalidGeometry)
	}
	var pos []float64
	if err := json.Unmarshal(g.Coordinates, &pos); err != nil || len(pos) < 2 {
		return nil, fmt.Errorf("feature %s: bad position: %w", id, geometry.ErrInvalidGeometry)
	}
	var alt *float64
	if len(pos) > 2 {
		a := pos[2]
		alt = &a
	}
	return geometry.NewPoint(id, pos[1], pos[0], alt, "survey")
}

// featureID：优先 feature.id，其次 properties.id，都没有时用 文件名#序号
func featureID(f feature, file string, i int) string {
	if s := anyStr(f.ID); s != "" {
		return s
	}
	if s := propStr(f.Properties, "id"); s != "" {
		return s
	}
	return strings.TrimSuffix(file, filepath.Ext(file)) + "#" + strconv.Itoa(i)
}

func anyStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func propStr(m map[string]any, k string) string {
	if m == nil {
		return ""
	}
	return anyStr(m[k])
}

func firstProp(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(propStr(m, k)); s != "" {
			return s
		}
	}
	return ""
}

func propInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch x := m[k].(type) {
		case float64:
			return int(x), true
		case string:
			if n, err := strconv.Atoi(x); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
