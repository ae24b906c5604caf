package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"area-link/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续导入、关联与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；关联表在库层面再次约束置信度下限与匹配类型
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admin_areas (
            id BIGINT PRIMARY KEY,
            name_en TEXT NOT NULL DEFAULT '',
            name_ar TEXT NOT NULL DEFAULT '',
            municipality_code TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id TEXT PRIMARY KEY,
            area_id BIGINT NOT NULL,
            price DOUBLE PRECISION,
            unit_area DOUBLE PRECISION,
            property_type TEXT NOT NULL DEFAULT '',
            tx_date DATE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_area ON transactions(area_id)`,
		`CREATE TABLE IF NOT EXISTS area_links (
            area_id BIGINT NOT NULL,
            polygon_id TEXT NOT NULL,
            polygon_name TEXT NOT NULL DEFAULT '',
            confidence DOUBLE PRECISION NOT NULL CHECK (confidence >= 0.3 AND confidence <= 1),
            match_type TEXT NOT NULL CHECK (match_type IN ('exact','fuzzy','partial','coordinate')),
            run_id TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (area_id, polygon_id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_area_links_run ON area_links(run_id)`,
		`CREATE TABLE IF NOT EXISTS containment_entrances (
            community_id TEXT NOT NULL,
            entrance_id TEXT NOT NULL,
            PRIMARY KEY (community_id, entrance_id)
        )`,
		`CREATE TABLE IF NOT EXISTS containment_sectors (
            community_id TEXT NOT NULL,
            sector_id TEXT NOT NULL,
            PRIMARY KEY (community_id, sector_id)
        )`,
		`CREATE TABLE IF NOT EXISTS market_statistics (
            area_id BIGINT PRIMARY KEY,
            polygon_id TEXT NOT NULL DEFAULT '',
            link_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
            match_type TEXT NOT NULL DEFAULT '',
            tx_count INT NOT NULL,
            sum_price DOUBLE PRECISION NOT NULL,
            avg_price DOUBLE PRECISION NOT NULL,
            median_price DOUBLE PRECISION NOT NULL,
            min_price DOUBLE PRECISION NOT NULL,
            max_price DOUBLE PRECISION NOT NULL,
            avg_price_per_unit_area DOUBLE PRECISION,
            priced_area_count INT NOT NULL DEFAULT 0,
            property_types JSONB NOT NULL DEFAULT '{}',
            run_id TEXT NOT NULL,
            computed_at TIMESTAMPTZ NOT NULL
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
