// 包 iploc：基于 GeoLite2-City 的 IP 定位，用于"附近区域"查询的调用方坐标解析
package iploc

import (
	"errors"
	"net"

	"area-link/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

var ErrNoLocation = errors.New("no location for ip")

// Reader：GeoLite2-City 数据库读取器，并发安全
type Reader struct {
	db *geoip2.Reader
}

// Open：打开 mmdb 文件；path 为空时返回 nil, nil（调用方据此关闭 near-me）
func Open(path string) (*Reader, error) {
	if path == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("geoip_opened", "path", path, "type", db.Metadata().DatabaseType)
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Locate：解析 IP 的经纬度；未知或无坐标（0,0 且无精度半径）时返回 ErrNoLocation
func (r *Reader) Locate(ip string) (lat, lng float64, err error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return 0, 0, ErrNoLocation
	}
	rec, err := r.db.City(addr)
	if err != nil {
		return 0, 0, err
	}
	loc := rec.Location
	if loc.Latitude == 0 && loc.Longitude == 0 && loc.AccuracyRadius == 0 {
		logger.L().Debug("geoip_miss", "ip", ip)
		return 0, 0, ErrNoLocation
	}
	return loc.Latitude, loc.Longitude, nil
}
