package linkage

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"area-link/internal/geometry"
)

func mustPolygon(t *testing.T, id, name string) *geometry.Polygon {
	t.Helper()
	p, err := geometry.NewPolygon(id, name, []geometry.Vertex{
		{Lat: 25, Lng: 55}, {Lat: 25, Lng: 55.01}, {Lat: 25.01, Lng: 55.01}, {Lat: 25.01, Lng: 55},
	})
	if err != nil {
		t.Fatalf("NewPolygon(%s): %v", id, err)
	}
	return p
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Business   Bay ": "business bay",
		"BUSINESS BAY":      "business bay",
		"Ｊｕｍｅｉｒａｈ":           "jumeirah",
		"":                  "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCascade_ExactNeverFallsThrough(t *testing.T) {
	m, ok := MatchNames("Business Bay", "  business bay")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Type != MatchExact || m.Confidence != 1.0 {
		t.Errorf("got %+v, want exact/1.0", m)
	}
}

func TestCascade_Fuzzy(t *testing.T) {
	m, ok := MatchNames("Jumeirah Village Circle", "Jumeira Village Circle")
	if !ok || m.Type != MatchFuzzy {
		t.Fatalf("got %+v ok=%v, want fuzzy", m, ok)
	}
	want := 1 - 1.0/23.0
	if math.Abs(m.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", m.Confidence, want)
	}
}

func TestCascade_PartialSubstring(t *testing.T) {
	m, ok := MatchNames("Marina", "Dubai Marina Towers")
	if !ok || m.Type != MatchPartial || m.Confidence != 0.7 {
		t.Errorf("got %+v ok=%v, want partial/0.7", m, ok)
	}
}

func TestCascade_PartialTokens(t *testing.T) {
	// 共享 "hills"：1 / max(2, 3)
	m, ok := MatchNames("Emirates Hills", "Dubai Hills Estate")
	if !ok || m.Type != MatchPartial {
		t.Fatalf("got %+v ok=%v, want partial", m, ok)
	}
	if math.Abs(m.Confidence-1.0/3.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1/3", m.Confidence)
	}
}

func TestCascade_BelowThresholdYieldsNoLink(t *testing.T) {
	// 共享 1 个词，最大词数 4 → 0.25 < 0.3
	if m, ok := MatchNames("Al Barsha", "Al Quoz Industrial Area"); ok {
		t.Errorf("expected no link, got %+v", m)
	}
	if m, ok := MatchNames("Deira", "Palm Jumeirah"); ok {
		t.Errorf("expected no link, got %+v", m)
	}
	if _, ok := MatchNames("", "Deira"); ok {
		t.Error("empty name must never match")
	}
}

func TestStrategiesIndependently(t *testing.T) {
	if _, ok := ExactMatch("Deira", "Deira City"); ok {
		t.Error("exact must not match different names")
	}
	if _, ok := FuzzyMatch("Deira", "Deira"); !ok {
		t.Error("identical names have ratio 1.0 and are fuzzy matches on their own")
	}
	if _, ok := PartialMatch("Deira", "Deira City"); !ok {
		t.Error("substring must be partial")
	}
	if s := Similarity("abc", "abd"); math.Abs(s-2.0/3.0) > 1e-9 {
		t.Errorf("similarity = %v", s)
	}
}

func TestMatchTypePriority(t *testing.T) {
	order := []MatchType{MatchExact, MatchFuzzy, MatchPartial, MatchCoordinate}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Errorf("%s should outrank %s", order[i-1], order[i])
		}
	}
	if MatchType("other").Valid() {
		t.Error("unknown match type must be invalid")
	}
}

func TestBestLink_TieBreak(t *testing.T) {
	links := []AreaLink{
		{AreaID: 1, PolygonID: "c", Confidence: 0.7, MatchType: MatchPartial},
		{AreaID: 1, PolygonID: "b", Confidence: 0.7, MatchType: MatchCoordinate},
		{AreaID: 1, PolygonID: "a", Confidence: 0.7, MatchType: MatchFuzzy},
		{AreaID: 1, PolygonID: "d", Confidence: 0.5, MatchType: MatchExact},
	}
	best, ok := BestLink(links)
	if !ok || best.PolygonID != "a" {
		t.Errorf("best = %+v, want polygon a (fuzzy wins tie)", best)
	}
	if _, ok := BestLink(nil); ok {
		t.Error("empty input has no best link")
	}
	m := BestLinks(append(links, AreaLink{AreaID: 2, PolygonID: "z", Confidence: 0.4, MatchType: MatchPartial}))
	if len(m) != 2 || m[1].PolygonID != "a" || m[2].PolygonID != "z" {
		t.Errorf("BestLinks = %+v", m)
	}
}

func TestPersistable(t *testing.T) {
	in := []AreaLink{
		{AreaID: 1, PolygonID: "a", Confidence: 0.29, MatchType: MatchPartial},
		{AreaID: 1, PolygonID: "b", Confidence: 0.3, MatchType: MatchPartial},
		{AreaID: 1, PolygonID: "c", Confidence: 0.9, MatchType: ""},
	}
	out := Persistable(in)
	if len(out) != 1 || out[0].PolygonID != "b" {
		t.Errorf("Persistable = %+v", out)
	}
}

func TestLinkAreas_EndToEndScenario(t *testing.T) {
	areas := []AdministrativeArea{{ID: 1, NameEn: "Business Bay"}}
	polys := []*geometry.Polygon{mustPolygon(t, "bb", "Business Bay")}
	links, sum := LinkAreas(areas, polys, Options{})
	if len(links) != 1 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].MatchType != MatchExact || links[0].Confidence != 1.0 || links[0].PolygonID != "bb" {
		t.Errorf("link = %+v", links[0])
	}
	if sum.LinkedAreas != 1 || sum.UnmatchedAreas != 0 || sum.UnmatchedPolygons != 0 || sum.AvgConfidence != 1.0 {
		t.Errorf("summary = %+v", sum)
	}
}

func fixture(t *testing.T) ([]AdministrativeArea, []*geometry.Polygon) {
	areas := []AdministrativeArea{
		{ID: 3, NameEn: "Dubai Marina"},
		{ID: 1, NameEn: "Business Bay"},
		{ID: 2, NameEn: "Jumeira Village Circle"},
		{ID: 4, NameEn: "Al Barsha"},
		{ID: 5, NameEn: ""},
		{ID: 6, NameEn: "Nowhere Land"},
	}
	polys := []*geometry.Polygon{
		mustPolygon(t, "p1", "Business Bay"),
		mustPolygon(t, "p2", "Jumeirah Village Circle"),
		mustPolygon(t, "p3", "Marina"),
		mustPolygon(t, "p4", "Al Barsha South"),
		mustPolygon(t, "p5", "Al Barsha First"),
		mustPolygon(t, "p6", "Palm Jumeirah"),
	}
	return areas, polys
}

func TestLinkAreas_Idempotent(t *testing.T) {
	areas, polys := fixture(t)
	a, s1 := LinkAreas(areas, polys, Options{Workers: 4})
	b, s2 := LinkAreas(areas, polys, Options{Workers: 1})
	if !reflect.DeepEqual(a, b) || s1 != s2 {
		t.Fatalf("runs differ:\n%+v\n%+v", a, b)
	}
	for i := 1; i < len(a); i++ {
		if a[i-1].AreaID > a[i].AreaID {
			t.Fatalf("links not sorted by area: %+v", a)
		}
	}
	if s1.UnmatchedAreas != 2 {
		t.Errorf("unmatched areas = %d, want 2 (empty name and Nowhere Land)", s1.UnmatchedAreas)
	}
	if s1.UnmatchedPolygons != 1 {
		t.Errorf("unmatched polygons = %d, want 1 (Palm Jumeirah)", s1.UnmatchedPolygons)
	}
	for _, l := range a {
		if l.Confidence < MinConfidence || l.Confidence > 1 {
			t.Errorf("confidence out of range: %+v", l)
		}
	}
}

func TestLinkAreas_AreaWithSeveralPolygons(t *testing.T) {
	areas, polys := fixture(t)
	links, _ := LinkAreas(areas, polys, Options{})
	var barsha []AreaLink
	for _, l := range links {
		if l.AreaID == 4 {
			barsha = append(barsha, l)
		}
	}
	if len(barsha) != 2 {
		t.Fatalf("Al Barsha links = %+v", barsha)
	}
	// 两者都是子串匹配，0.7 相同，按 PolygonID 排序
	if barsha[0].PolygonID != "p4" || barsha[1].PolygonID != "p5" {
		t.Errorf("tie order = %+v", barsha)
	}
}

func TestLinkAreas_BlockingKeepsExactAndTokenMatches(t *testing.T) {
	areas, polys := fixture(t)
	full, _ := LinkAreas(areas, polys, Options{})
	blocked, sum := LinkAreas(areas, polys, Options{ForceBlocking: true})
	if !sum.Blocked {
		t.Fatal("blocking should be reported")
	}
	if !reflect.DeepEqual(full, blocked) {
		t.Errorf("blocking changed results on fixture:\nfull:    %+v\nblocked: %+v", full, blocked)
	}
	if sum.Comparisons >= int64(len(areas)*len(polys)) {
		t.Errorf("blocking did not reduce comparisons: %d", sum.Comparisons)
	}
}

func TestLinkAreas_BlockingAutoEnabledAboveThreshold(t *testing.T) {
	var areas []AdministrativeArea
	for i := 0; i < 20; i++ {
		areas = append(areas, AdministrativeArea{ID: int64(i), NameEn: fmt.Sprintf("Area %d", i)})
	}
	polys := []*geometry.Polygon{mustPolygon(t, "x", "Area 7")}
	_, sum := LinkAreas(areas, polys, Options{BlockingThreshold: 10})
	if !sum.Blocked {
		t.Error("20 pairs over threshold 10 should enable blocking")
	}
	_, sum = LinkAreas(areas, polys, Options{BlockingThreshold: 100})
	if sum.Blocked {
		t.Error("20 pairs under threshold 100 should not block")
	}
}

func TestPartition(t *testing.T) {
	got := partition(10, 3)
	want := [][2]int{{0, 4}, {4, 8}, {8, 10}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("partition = %v, want %v", got, want)
	}
	if partition(0, 4) != nil {
		t.Error("empty input should have no partitions")
	}
	if got := partition(2, 8); len(got) != 2 {
		t.Errorf("partition(2, 8) = %v", got)
	}
}
