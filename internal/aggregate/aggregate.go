// 包 aggregate：按行政区汇总交易，产出市场统计
package aggregate

import (
	"math"
	"sort"
	"time"

	"area-link/internal/linkage"

	"github.com/google/uuid"
)

// Transaction：交易记录，至少携带区域标识、价格与单位面积
type Transaction struct {
	ID           string    `json:"id"`
	AreaID       int64     `json:"area_id"`
	Price        float64   `json:"price"`
	UnitArea     float64   `json:"unit_area"`
	PropertyType string    `json:"property_type"`
	Date         time.Time `json:"date"`
}

// 文档注释：单个行政区的市场统计
// 约束：每次运行整体替换，不做原地累加；AvgPricePerUnitArea 在没有面积>0 的记录时为 nil（省略而非 0）。
type MarketStatistics struct {
	AreaID              int64             `json:"area_id"`
	PolygonID           string            `json:"polygon_id,omitempty"`
	LinkConfidence      float64           `json:"link_confidence"`
	MatchType           linkage.MatchType `json:"match_type,omitempty"`
	Count               int               `json:"count"`
	SumPrice            float64           `json:"sum_price"`
	AvgPrice            float64           `json:"avg_price"`
	MedianPrice         float64           `json:"median_price"`
	MinPrice            float64           `json:"min_price"`
	MaxPrice            float64           `json:"max_price"`
	AvgPricePerUnitArea *float64          `json:"avg_price_per_unit_area,omitempty"`
	PricedAreaCount     int               `json:"priced_area_count"`
	PropertyTypes       map[string]int    `json:"property_types"`
	RunID               string            `json:"run_id"`
	ComputedAt          time.Time         `json:"computed_at"`
}

// Options：IncludeUnlinked 为真时没有关联的区域也输出；Now/RunID 便于测试注入
type Options struct {
	IncludeUnlinked bool
	Now             func() time.Time
	RunID           string
}

// Summary：一次汇总的计数
type Summary struct {
	Transactions int    `json:"transactions"`
	Skipped      int    `json:"skipped"`
	Areas        int    `json:"areas"`
	RunID        string `json:"run_id"`
}

const unknownType = "unknown"

type bucket struct {
	prices   []float64
	perUnit  float64
	perUnitN int
	types    map[string]int
}

// 文档注释：按 AreaID 分组汇总交易
// 背景：价格非有限或不为正的交易视为坏记录，跳过并计数；没有有效交易的区域不输出（不产生零值行）。
// 约束：结果按 AreaID 升序；同一次运行共用一个 RunID 与 ComputedAt。
func Aggregate(links []linkage.AreaLink, txs []Transaction, opts Options) ([]MarketStatistics, Summary) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	best := linkage.BestLinks(linkage.Persistable(links))

	sum := Summary{RunID: runID}
	buckets := make(map[int64]*bucket)
	for _, tx := range txs {
		sum.Transactions++
		if math.IsNaN(tx.Price) || math.IsInf(tx.Price, 0) || tx.Price <= 0 {
			sum.Skipped++
			continue
		}
		if _, ok := best[tx.AreaID]; !ok && !opts.IncludeUnlinked {
			continue
		}
		b := buckets[tx.AreaID]
		if b == nil {
			b = &bucket{types: make(map[string]int)}
			buckets[tx.AreaID] = b
		}
		b.prices = append(b.prices, tx.Price)
		if tx.UnitArea > 0 && !math.IsInf(tx.UnitArea, 0) {
			b.perUnit += tx.Price / tx.UnitArea
			b.perUnitN++
		}
		pt := tx.PropertyType
		if pt == "" {
			pt = unknownType
		}
		b.types[pt]++
	}

	ids := make([]int64, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	at := now().UTC()
	out := make([]MarketStatistics, 0, len(ids))
	for _, id := range ids {
		ms := summarize(buckets[id])
		ms.AreaID = id
		ms.RunID = runID
		ms.ComputedAt = at
		if l, ok := best[id]; ok {
			ms.PolygonID = l.PolygonID
			ms.LinkConfidence = l.Confidence
			ms.MatchType = l.MatchType
		}
		out = append(out, ms)
	}
	sum.Areas = len(out)
	return out, sum
}

func summarize(b *bucket) MarketStatistics {
	prices := b.prices
	sort.Float64s(prices)
	ms := MarketStatistics{
		Count:           len(prices),
		MinPrice:        prices[0],
		MaxPrice:        prices[len(prices)-1],
		MedianPrice:     median(prices),
		PricedAreaCount: b.perUnitN,
		PropertyTypes:   b.types,
	}
	for _, p := range prices {
		ms.SumPrice += p
	}
	ms.AvgPrice = ms.SumPrice / float64(ms.Count)
	if b.perUnitN > 0 {
		v := b.perUnit / float64(b.perUnitN)
		ms.AvgPricePerUnitArea = &v
	}
	return ms
}

// median：输入已排序且非空
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
