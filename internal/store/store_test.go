package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/containment"
	"area-link/internal/linkage"
	"area-link/internal/migrate"
)

func TestValuesInsert(t *testing.T) {
	q, args := valuesInsert("INSERT INTO t(a,b) VALUES ", [][]any{{1, "x"}, {2, "y"}}, " ON CONFLICT DO NOTHING")
	want := "INSERT INTO t(a,b) VALUES ($1,$2),($3,$4) ON CONFLICT DO NOTHING"
	if q != want {
		t.Errorf("q = %q", q)
	}
	if len(args) != 4 || args[2] != 2 || args[3] != "y" {
		t.Errorf("args = %v", args)
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string][]string{"b": {"1"}, "a": {"2"}, "c": nil})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("keys = %v", got)
	}
}

// openTestDB：仅在设置 PG_TEST_DSN 时运行数据库集成测试
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	for _, tbl := range []string{"admin_areas", "transactions", "area_links", "containment_entrances", "containment_sectors", "market_statistics"} {
		if _, err := db.ExecContext(ctx, "TRUNCATE "+tbl); err != nil {
			t.Fatal(err)
		}
	}
	s := AttachDB(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReplaceAreaLinks_Integration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	first := []linkage.AreaLink{
		{AreaID: 1, PolygonID: "bb", PolygonName: "Business Bay", Confidence: 1, MatchType: linkage.MatchExact},
		{AreaID: 2, PolygonID: "old", PolygonName: "Old", Confidence: 0.8, MatchType: linkage.MatchFuzzy},
		{AreaID: 3, PolygonID: "weak", PolygonName: "Weak", Confidence: 0.2, MatchType: linkage.MatchPartial},
	}
	n, err := s.ReplaceAreaLinks(ctx, "run-1", first)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	second := []linkage.AreaLink{
		{AreaID: 1, PolygonID: "bb", PolygonName: "Business Bay", Confidence: 0.9, MatchType: linkage.MatchFuzzy},
	}
	if _, err := s.ReplaceAreaLinks(ctx, "run-2", second); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadLinks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Confidence != 0.9 || got[0].MatchType != linkage.MatchFuzzy {
		t.Errorf("links = %+v", got)
	}
}

func TestReplaceContainmentAndStats_Integration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	rel := containment.Relation{
		CommunityEntrances: map[string][]string{"bb": {"e1", "e2"}},
		CommunitySectors:   map[string][]string{"bb": {"s7"}},
	}
	if err := s.ReplaceContainment(ctx, rel); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceContainment(ctx, rel); err != nil {
		t.Fatalf("replace must be repeatable: %v", err)
	}
	var c int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(1) FROM containment_entrances").Scan(&c); err != nil || c != 2 {
		t.Errorf("entrances = %d err=%v", c, err)
	}

	per := 10000.0
	stats := []aggregate.MarketStatistics{{
		AreaID: 1, PolygonID: "bb", LinkConfidence: 1, MatchType: linkage.MatchExact,
		Count: 2, SumPrice: 3e6, AvgPrice: 1.5e6, MedianPrice: 1.5e6, MinPrice: 1e6, MaxPrice: 2e6,
		AvgPricePerUnitArea: &per, PricedAreaCount: 2, PropertyTypes: map[string]int{"villa": 2},
		RunID: "run-1", ComputedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	stats = append(stats, aggregate.MarketStatistics{AreaID: 2, PolygonID: "marina", Count: 1, SumPrice: 9e5, AvgPrice: 9e5,
		MedianPrice: 9e5, MinPrice: 9e5, MaxPrice: 9e5, PropertyTypes: map[string]int{}, ComputedAt: stats[0].ComputedAt})
	if err := s.ReplaceMarketStatistics(ctx, "run-1", stats); err != nil {
		t.Fatal(err)
	}
	ms, err := s.LoadMarketStatistics(ctx, 1)
	if err != nil || ms == nil {
		t.Fatalf("ms=%v err=%v", ms, err)
	}
	if ms.AvgPrice != 1.5e6 || ms.AvgPricePerUnitArea == nil || *ms.AvgPricePerUnitArea != per || ms.PropertyTypes["villa"] != 2 {
		t.Errorf("stats = %+v", ms)
	}
	if ms, err := s.LoadMarketStatistics(ctx, 99); ms != nil || err != nil {
		t.Errorf("missing area: %v %v", ms, err)
	}

	// 下一次刷新中区域 2 已无有效交易：旧统计必须消失
	if err := s.ReplaceMarketStatistics(ctx, "run-2", stats[:1]); err != nil {
		t.Fatal(err)
	}
	if ms, err := s.LoadMarketStatistics(ctx, 2); ms != nil || err != nil {
		t.Errorf("stale stats survived: %+v %v", ms, err)
	}
	if ms, err := s.LoadMarketStatistics(ctx, 1); err != nil || ms == nil || ms.RunID != "run-2" {
		t.Errorf("current stats = %+v %v", ms, err)
	}
}

func TestUpsertAndLoad_Integration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	if err := s.UpsertAreas(ctx, []linkage.AdministrativeArea{{ID: 1, NameEn: "Business Bay", NameAr: "الخليج التجاري"}}); err != nil {
		t.Fatal(err)
	}
	txs := []aggregate.Transaction{
		{ID: "t1", AreaID: 1, Price: 1e6, UnitArea: 100, PropertyType: "villa", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "t2", AreaID: 1, Price: 2e6, PropertyType: "unit"},
	}
	if err := s.UpsertTransactions(ctx, txs); err != nil {
		t.Fatal(err)
	}
	areas, err := s.LoadAreas(ctx)
	if err != nil || len(areas) != 1 || areas[0].NameEn != "Business Bay" {
		t.Errorf("areas = %+v err=%v", areas, err)
	}
	got, err := s.LoadTransactions(ctx)
	if err != nil || len(got) != 2 || got[0].Date.Month() != time.March || !got[1].Date.IsZero() {
		t.Errorf("txs = %+v err=%v", got, err)
	}
}
