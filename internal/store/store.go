// 包 store: 提供与 PostgreSQL 的数据访问层，包含行政区/交易读取与关联、包含关系、市场统计的整体替换写入
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/containment"
	"area-link/internal/linkage"
	"area-link/internal/logger"

	_ "github.com/lib/pq"
)

// BatchSize：多行写入每批行数
const BatchSize = 1000

// Store: 数据库访问入口，持有连接池并提供读写接口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// LoadAreas: 读取全部行政区（按 ID 升序）
func (s *Store) LoadAreas(ctx context.Context) ([]linkage.AdministrativeArea, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name_en, name_ar, municipality_code FROM admin_areas ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}
	defer rows.Close()
	var out []linkage.AdministrativeArea
	for rows.Next() {
		var a linkage.AdministrativeArea
		if err := rows.Scan(&a.ID, &a.NameEn, &a.NameAr, &a.MunicipalityCode); err != nil {
			return nil, fmt.Errorf("load areas: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadTransactions: 读取全部交易；价格/面积为空时按 0 处理，由汇总阶段跳过或排除
func (s *Store) LoadTransactions(ctx context.Context) ([]aggregate.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, area_id, price, unit_area, property_type, tx_date FROM transactions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()
	var out []aggregate.Transaction
	for rows.Next() {
		var t aggregate.Transaction
		var price, area sql.NullFloat64
		var date sql.NullTime
		if err := rows.Scan(&t.ID, &t.AreaID, &price, &area, &t.PropertyType, &date); err != nil {
			return nil, fmt.Errorf("load transactions: %w", err)
		}
		t.Price, t.UnitArea = price.Float64, area.Float64
		if date.Valid {
			t.Date = date.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadLinks: 读取已持久化的关联，顺序与关联引擎输出一致
func (s *Store) LoadLinks(ctx context.Context) ([]linkage.AreaLink, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT area_id, polygon_id, polygon_name, confidence, match_type FROM area_links ORDER BY area_id, polygon_id")
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()
	var out []linkage.AreaLink
	for rows.Next() {
		var l linkage.AreaLink
		var mt string
		if err := rows.Scan(&l.AreaID, &l.PolygonID, &l.PolygonName, &l.Confidence, &mt); err != nil {
			return nil, fmt.Errorf("load links: %w", err)
		}
		l.MatchType = linkage.MatchType(mt)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	linkage.SortLinks(out)
	return out, nil
}

// LoadMarketStatistics: 读取单个行政区最近一次刷新的市场统计；不存在（含本次刷新已无有效交易）时返回 nil, nil
func (s *Store) LoadMarketStatistics(ctx context.Context, areaID int64) (*aggregate.MarketStatistics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT area_id, polygon_id, link_confidence, match_type, tx_count, sum_price, avg_price,
        median_price, min_price, max_price, avg_price_per_unit_area, priced_area_count, property_types, run_id, computed_at
        FROM market_statistics WHERE area_id=$1`, areaID)
	var ms aggregate.MarketStatistics
	var mt string
	var perUnit sql.NullFloat64
	var types []byte
	err := row.Scan(&ms.AreaID, &ms.PolygonID, &ms.LinkConfidence, &mt, &ms.Count, &ms.SumPrice, &ms.AvgPrice,
		&ms.MedianPrice, &ms.MinPrice, &ms.MaxPrice, &perUnit, &ms.PricedAreaCount, &types, &ms.RunID, &ms.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		logger.L().Debug("db_stats_miss", "area_id", areaID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load market statistics: %w", err)
	}
	ms.MatchType = linkage.MatchType(mt)
	if perUnit.Valid {
		v := perUnit.Float64
		ms.AvgPricePerUnitArea = &v
	}
	if err := json.Unmarshal(types, &ms.PropertyTypes); err != nil {
		return nil, fmt.Errorf("decode property types: %w", err)
	}
	return &ms, nil
}

// 文档注释：整体替换行政区关联
// 背景：每次关联运行都是完整重算；以 (area_id, polygon_id) 为键分批 upsert 并打上 runID，
// 最后删除本次未触及的旧关联，整个过程在一个事务内完成，读者不会看到半新半旧的结果。
// 约束：仅写入置信度 >= 0.3 且类型合法的关联（在存储边界再次校验）。
func (s *Store) ReplaceAreaLinks(ctx context.Context, runID string, links []linkage.AreaLink) (int, error) {
	links = linkage.Persistable(links)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	written := 0
	for start := 0; start < len(links); start += BatchSize {
		end := min(start+BatchSize, len(links))
		rows := make([][]any, 0, end-start)
		for _, l := range links[start:end] {
			rows = append(rows, []any{l.AreaID, l.PolygonID, l.PolygonName, l.Confidence, string(l.MatchType), runID})
		}
		q, args := valuesInsert("INSERT INTO area_links(area_id, polygon_id, polygon_name, confidence, match_type, run_id) VALUES ", rows,
			" ON CONFLICT (area_id, polygon_id) DO UPDATE SET polygon_name=EXCLUDED.polygon_name, confidence=EXCLUDED.confidence, match_type=EXCLUDED.match_type, run_id=EXCLUDED.run_id, updated_at=now()")
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return written, fmt.Errorf("upsert links: %w", err)
		}
		written = end
		logger.L().Info("links_upsert_progress", "count", written, "total", len(links))
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM area_links WHERE run_id <> $1", runID)
	if err != nil {
		return written, fmt.Errorf("delete stale links: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return written, err
	}
	stale, _ := res.RowsAffected()
	logger.L().Info("links_replaced", "run_id", runID, "written", written, "stale_deleted", stale)
	return written, nil
}

// ReplaceContainment: 删除旧关系并写入新关系（单事务）
func (s *Store) ReplaceContainment(ctx context.Context, rel containment.Relation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM containment_entrances"); err != nil {
		return fmt.Errorf("clear containment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM containment_sectors"); err != nil {
		return fmt.Errorf("clear containment: %w", err)
	}
	if err := insertPairs(ctx, tx, "containment_entrances(community_id, entrance_id)", rel.CommunityEntrances); err != nil {
		return err
	}
	if err := insertPairs(ctx, tx, "containment_sectors(community_id, sector_id)", rel.CommunitySectors); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPairs(ctx context.Context, tx *sql.Tx, table string, m map[string][]string) error {
	var rows [][]any
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		q, args := valuesInsert("INSERT INTO "+table+" VALUES ", rows, "")
		rows = rows[:0]
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	}
	for _, c := range sortedKeys(m) {
		for _, id := range m[c] {
			rows = append(rows, []any{c, id})
			if len(rows) == BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// ReplaceMarketStatistics: 以 area_id 为键整体替换统计，并删除非本次运行写入的行
// 约束：本次没有有效交易（或不再有关联）的行政区不保留旧统计，查询返回 nil 而不是过期数据；
// 所有行的 run_id 统一写为 runID。
func (s *Store) ReplaceMarketStatistics(ctx context.Context, runID string, stats []aggregate.MarketStatistics) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for start := 0; start < len(stats); start += BatchSize {
		end := min(start+BatchSize, len(stats))
		rows := make([][]any, 0, end-start)
		for _, ms := range stats[start:end] {
			types, err := json.Marshal(ms.PropertyTypes)
			if err != nil {
				return err
			}
			var perUnit any
			if ms.AvgPricePerUnitArea != nil {
				perUnit = *ms.AvgPricePerUnitArea
			}
			rows = append(rows, []any{ms.AreaID, ms.PolygonID, ms.LinkConfidence, string(ms.MatchType), ms.Count, ms.SumPrice,
				ms.AvgPrice, ms.MedianPrice, ms.MinPrice, ms.MaxPrice, perUnit, ms.PricedAreaCount, string(types), runID, ms.ComputedAt})
		}
		q, args := valuesInsert(`INSERT INTO market_statistics(area_id, polygon_id, link_confidence, match_type, tx_count, sum_price, avg_price,
            median_price, min_price, max_price, avg_price_per_unit_area, priced_area_count, property_types, run_id, computed_at) VALUES `, rows,
			` ON CONFLICT (area_id) DO UPDATE SET polygon_id=EXCLUDED.polygon_id, link_confidence=EXCLUDED.link_confidence,
            match_type=EXCLUDED.match_type, tx_count=EXCLUDED.tx_count, sum_price=EXCLUDED.sum_price, avg_price=EXCLUDED.avg_price,
            median_price=EXCLUDED.median_price, min_price=EXCLUDED.min_price, max_price=EXCLUDED.max_price,
            avg_price_per_unit_area=EXCLUDED.avg_price_per_unit_area, priced_area_count=EXCLUDED.priced_area_count,
            property_types=EXCLUDED.property_types, run_id=EXCLUDED.run_id, computed_at=EXCLUDED.computed_at`)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert market statistics: %w", err)
		}
		logger.L().Info("stats_upsert_progress", "count", end, "total", len(stats))
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM market_statistics WHERE run_id <> $1", runID)
	if err != nil {
		return fmt.Errorf("delete stale market statistics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	stale, _ := res.RowsAffected()
	logger.L().Info("stats_replaced", "run_id", runID, "written", len(stats), "stale_deleted", stale)
	return nil
}

// UpsertAreas: 导入行政区（按 id upsert）
func (s *Store) UpsertAreas(ctx context.Context, areas []linkage.AdministrativeArea) error {
	rows := make([][]any, 0, len(areas))
	for _, a := range areas {
		rows = append(rows, []any{a.ID, a.NameEn, a.NameAr, a.MunicipalityCode})
	}
	return s.execBatches(ctx, "INSERT INTO admin_areas(id, name_en, name_ar, municipality_code) VALUES ", rows,
		" ON CONFLICT (id) DO UPDATE SET name_en=EXCLUDED.name_en, name_ar=EXCLUDED.name_ar, municipality_code=EXCLUDED.municipality_code")
}

// UpsertTransactions: 导入交易（按 id upsert）
func (s *Store) UpsertTransactions(ctx context.Context, txs []aggregate.Transaction) error {
	rows := make([][]any, 0, len(txs))
	for _, t := range txs {
		var date any
		if !t.Date.IsZero() {
			date = t.Date.Format(time.DateOnly)
		}
		rows = append(rows, []any{t.ID, t.AreaID, t.Price, t.UnitArea, t.PropertyType, date})
	}
	return s.execBatches(ctx, "INSERT INTO transactions(id, area_id, price, unit_area, property_type, tx_date) VALUES ", rows,
		" ON CONFLICT (id) DO UPDATE SET area_id=EXCLUDED.area_id, price=EXCLUDED.price, unit_area=EXCLUDED.unit_area, property_type=EXCLUDED.property_type, tx_date=EXCLUDED.tx_date")
}

// execBatches：每批单独提交，降低锁持有与 WAL 压力
func (s *Store) execBatches(ctx context.Context, prefix string, rows [][]any, suffix string) error {
	for start := 0; start < len(rows); start += BatchSize {
		end := min(start+BatchSize, len(rows))
		q, args := valuesInsert(prefix, rows[start:end], suffix)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("batch at %d: %w", start, err)
		}
		logger.L().Info("import_progress", "count", end, "total", len(rows))
	}
	return nil
}

// valuesInsert：拼接多行 VALUES 占位符（$1,$2,...），rows 每行列数相同
func valuesInsert(prefix string, rows [][]any, suffix string) (string, []any) {
	var b strings.Builder
	b.WriteString(prefix)
	args := make([]any, 0, len(rows)*len(rows[0]))
	for i, r := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, v := range r {
			if j > 0 {
				b.WriteByte(',')
			}
			args = append(args, v)
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}
	b.WriteString(suffix)
	return b.String(), args
}

func sortedKeys(m map[string][]string) []string {
	rel := containment.Relation{CommunityEntrances: m}
	return rel.Communities()
}
