// 包 utils：PostgreSQL 与 Redis 连接工具，统一环境变量读取
package utils

import (
	"database/sql"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(envInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(envInt("PG_MAX_IDLE_CONNS", 10))
	return db, nil
}

func BuildPostgresDSNFromEnv() string {
	host := Getenv("PG_HOST", "localhost")
	port := Getenv("PG_PORT", "5432")
	user := Getenv("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := Getenv("PG_DB", "arealink")
	ssl := Getenv("PG_SSLMODE", "disable")
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func OpenPostgresFromEnv() (*sql.DB, error) {
	return OpenPostgres(BuildPostgresDSNFromEnv())
}

// Getenv：读取环境变量，未设置或为空时返回默认值
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvInt：读取整数环境变量，解析失败或非正数时回退默认值
func EnvInt(key string, def int) int {
	if n := envInt(key, def); n > 0 {
		return n
	}
	return def
}

// EnvFloat：读取浮点环境变量，解析失败或非正数时回退默认值
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

// EnvBool：1/true/yes 视为真，未设置时返回默认值
func EnvBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "":
		return def
	case "1", "true", "TRUE", "yes", "on":
		return true
	}
	return false
}
