package linkage

// better：a 是否优于 b，置信度高者优先，相同则按匹配类型优先级，再按 PolygonID 升序保证确定性
func better(a, b AreaLink) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if pa, pb := a.MatchType.Priority(), b.MatchType.Priority(); pa != pb {
		return pa > pb
	}
	return a.PolygonID < b.PolygonID
}

// BestLink：在一组关联中选出“唯一”匹配
func BestLink(links []AreaLink) (AreaLink, bool) {
	if len(links) == 0 {
		return AreaLink{}, false
	}
	best := links[0]
	for _, l := range links[1:] {
		if better(l, best) {
			best = l
		}
	}
	return best, true
}

// BestLinks：按 AreaID 汇总每个区域的最优关联
func BestLinks(links []AreaLink) map[int64]AreaLink {
	out := make(map[int64]AreaLink)
	for _, l := range links {
		if prev, ok := out[l.AreaID]; ok && !better(l, prev) {
			continue
		}
		out[l.AreaID] = l
	}
	return out
}

// Persistable：过滤掉低于阈值或类型非法的关联
func Persistable(links []AreaLink) []AreaLink {
	out := make([]AreaLink, 0, len(links))
	for _, l := range links {
		if l.Confidence < MinConfidence || l.Confidence > 1 || !l.MatchType.Valid() {
			continue
		}
		out = append(out, l)
	}
	return out
}
