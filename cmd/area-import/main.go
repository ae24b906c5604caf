// 数据导入工具：从本地文件或 http(s) 地址读取行政区与交易 CSV，批量写入 PostgreSQL
package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"area-link/internal/ingest"
	"area-link/internal/logger"
	"area-link/internal/migrate"
	"area-link/internal/store"
	"area-link/internal/utils"

	"github.com/joho/godotenv"
)

// 读取 AREAS_SRC / TRANSACTIONS_SRC（任一可为空），按批 UPSERT；任一步失败以非零码退出
func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	ctx := context.Background()

	areasSrc := os.Getenv("AREAS_SRC")
	txSrc := os.Getenv("TRANSACTIONS_SRC")
	if areasSrc == "" && txSrc == "" {
		l.Error("import_no_source", "hint", "set AREAS_SRC and/or TRANSACTIONS_SRC")
		os.Exit(2)
	}

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	jobs := []struct {
		kind, src string
		fn        func(context.Context, io.Reader, ingest.Writer) (ingest.ImportReport, error)
	}{
		{"areas", areasSrc, ingest.ImportAreas},
		{"transactions", txSrc, ingest.ImportTransactions},
	}
	for _, j := range jobs {
		if j.src == "" {
			continue
		}
		rep, err := importFrom(ctx, j.src, st, j.fn)
		if err != nil {
			l.Error("import_error", "kind", j.kind, "src", j.src, "err", err)
			os.Exit(1)
		}
		l.Info("import_done", "kind", j.kind, "rows", rep.Rows, "imported", rep.Imported, "skipped", rep.Skipped)
	}
}

func importFrom(ctx context.Context, src string, w ingest.Writer, fn func(context.Context, io.Reader, ingest.Writer) (ingest.ImportReport, error)) (ingest.ImportReport, error) {
	rc, err := ingest.OpenSource(ctx, src)
	if err != nil {
		return ingest.ImportReport{}, err
	}
	defer rc.Close()
	return fn(ctx, rc, w)
}
