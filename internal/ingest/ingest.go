package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"area-link/internal/aggregate"
	"area-link/internal/linkage"
	"area-link/internal/logger"
	"area-link/internal/metrics"
)

// ImportBatchSize：导入每批提交行数
const ImportBatchSize = 5000

// Writer：导入目标，*store.Store 满足该接口
type Writer interface {
	UpsertAreas(ctx context.Context, areas []linkage.AdministrativeArea) error
	UpsertTransactions(ctx context.Context, txs []aggregate.Transaction) error
}

// ImportReport：导入计数，坏行跳过不中断
type ImportReport struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// OpenSource：打开本地文件或 http(s) 地址
// 异常：非 200 状态直接返回错误，不做重试（交由调用方处理）
func OpenSource(ctx context.Context, src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(src)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: bad status %d", src, resp.StatusCode)
	}
	return resp.Body, nil
}

// csvRows：按表头名读取 CSV，列名大小写不敏感；必需列缺失时报错
type csvRows struct {
	r   *csv.Reader
	col map[string]int
}

func newCSVRows(r io.Reader, required ...string) (*csvRows, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, h := range head {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, k := range required {
		if _, ok := col[k]; !ok {
			return nil, fmt.Errorf("missing column %q", k)
		}
	}
	return &csvRows{r: cr, col: col}, nil
}

func (c *csvRows) next() ([]string, error) { return c.r.Read() }

func (c *csvRows) get(rec []string, k string) string {
	i, ok := c.col[k]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

var errBadRow = errors.New("bad row")

// 文档注释：导入行政区 CSV（id,name_en,name_ar,municipality_code）
// 背景：按 ImportBatchSize 分批 upsert，降低锁持有与 WAL 压力；id 非法的行跳过并计数。
func ImportAreas(ctx context.Context, r io.Reader, w Writer) (ImportReport, error) {
	rows, err := newCSVRows(r, "id", "name_en")
	if err != nil {
		return ImportReport{}, err
	}
	var rep ImportReport
	batch := make([]linkage.AdministrativeArea, 0, ImportBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.UpsertAreas(ctx, batch); err != nil {
			return err
		}
		rep.Imported += len(batch)
		logger.L().Info("ingest_progress", "kind", "areas", "count", rep.Imported)
		batch = batch[:0]
		return nil
	}
	for {
		rec, err := rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rep, err
		}
		rep.Rows++
		id, err := strconv.ParseInt(rows.get(rec, "id"), 10, 64)
		if err != nil {
			rep.Skipped++
			continue
		}
		batch = append(batch, linkage.AdministrativeArea{
			ID:               id,
			NameEn:           rows.get(rec, "name_en"),
			NameAr:           rows.get(rec, "name_ar"),
			MunicipalityCode: rows.get(rec, "municipality_code"),
		})
		if len(batch) == ImportBatchSize {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if err := flush(); err != nil {
		return rep, err
	}
	metrics.SkippedRecords.WithLabelValues("import").Add(float64(rep.Skipped))
	logger.L().Info("ingest_done", "kind", "areas", "rows", rep.Rows, "imported", rep.Imported, "skipped", rep.Skipped)
	return rep, nil
}

// 文档注释：导入交易 CSV（id,area_id,price,unit_area,property_type,date）
// 约束：价格为空或非数字的行跳过；面积为空按 0（汇总时不参与单价）；日期支持 YYYY-MM-DD 与 RFC3339。
func ImportTransactions(ctx context.Context, r io.Reader, w Writer) (ImportReport, error) {
	rows, err := newCSVRows(r, "id", "area_id", "price")
	if err != nil {
		return ImportReport{}, err
	}
	var rep ImportReport
	batch := make([]aggregate.Transaction, 0, ImportBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.UpsertTransactions(ctx, batch); err != nil {
			return err
		}
		rep.Imported += len(batch)
		logger.L().Info("ingest_progress", "kind", "transactions", "count", rep.Imported)
		batch = batch[:0]
		return nil
	}
	for {
		rec, err := rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rep, err
		}
		rep.Rows++
		t, err := parseTransaction(rows, rec)
		if err != nil {
			rep.Skipped++
			logger.L().Debug("ingest_row_skipped", "row", rep.Rows, "err", err)
			continue
		}
		batch = append(batch, t)
		if len(batch) == ImportBatchSize {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if err := flush(); err != nil {
		return rep, err
	}
	metrics.SkippedRecords.WithLabelValues("import").Add(float64(rep.Skipped))
	logger.L().Info("ingest_done", "kind", "transactions", "rows", rep.Rows, "imported", rep.Imported, "skipped", rep.Skipped)
	return rep, nil
}

func parseTransaction(rows *csvRows, rec []string) (aggregate.Transaction, error) {
	t := aggregate.Transaction{ID: rows.get(rec, "id"), PropertyType: rows.get(rec, "property_type")}
	if t.ID == "" {
		return t, fmt.Errorf("%w: empty id", errBadRow)
	}
	var err error
	if t.AreaID, err = strconv.ParseInt(rows.get(rec, "area_id"), 10, 64); err != nil {
		return t, fmt.Errorf("%w: area_id", errBadRow)
	}
	if t.Price, err = strconv.ParseFloat(rows.get(rec, "price"), 64); err != nil || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return t, fmt.Errorf("%w: price", errBadRow)
	}
	if v := rows.get(rec, "unit_area"); v != "" {
		if t.UnitArea, err = strconv.ParseFloat(v, 64); err != nil {
			t.UnitArea = 0
		}
	}
	if v := rows.get(rec, "date"); v != "" {
		if d, err := time.Parse(time.DateOnly, v); err == nil {
			t.Date = d
		} else if d, err := time.Parse(time.RFC3339, v); err == nil {
			t.Date = d
		}
	}
	return t, nil
}
