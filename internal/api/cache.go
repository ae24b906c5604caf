package api

import (
	"context"
	"strconv"
	"time"

	"area-link/internal/logger"
	"area-link/internal/metrics"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"
)

const nearKeyPrecision = 7

// nearCache：半径查询响应缓存（Redis），rdb 为 nil 时全部未命中且不写入
type nearCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// 文档注释：缓存键 near:<kind>:<geohash7>:<快照指纹>:<lat>,<lng>:<radius>
// 背景：geohash7 前缀便于按单元排查与清理；快照指纹由内容计算，重启与多副本之间一致，
// 持有不同快照的进程不会互相读到对方的结果；精确坐标参与键，命中结果与直接计算完全一致。
func nearKey(kind, snapshot string, lat, lng, radiusKm float64) string {
	return "near:" + kind + ":" + geohash.EncodeWithPrecision(lat, lng, nearKeyPrecision) + ":" +
		snapshot + ":" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64) + ":" +
		strconv.FormatFloat(radiusKm, 'f', -1, 64)
}

func (c nearCache) get(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.L().Debug("near_cache_get_error", "err", err)
		}
		metrics.CacheMisses.WithLabelValues("near").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("near").Inc()
	return b, true
}

func (c nearCache) set(ctx context.Context, key string, b []byte) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		logger.L().Debug("near_cache_set_error", "err", err)
	}
}
