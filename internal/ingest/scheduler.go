package ingest

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"area-link/internal/logger"
)

// DefaultRefreshHour：默认刷新整点（迪拜时间周一 03:00）
const DefaultRefreshHour = 3

// nextMondayAt：计算 now 之后最近一个周一指定小时的时间点
// 约束：基于传入时区 loc 与整点 hour；仅前推至未来时间
func nextMondayAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() == time.Monday {
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
			if t.After(now) {
				return t
			}
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
}

// DubaiLocation：Asia/Dubai 时区，系统缺少时区数据时退回固定 UTC+4
func DubaiLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Dubai")
	if err != nil {
		return time.FixedZone("GST", 4*3600)
	}
	return loc
}

// RefreshHourFromEnv：REFRESH_HOUR 覆盖刷新整点，0（午夜）合法；未设置、非整数或超出 0-23 时回退默认值
func RefreshHourFromEnv() int {
	v := strings.TrimSpace(os.Getenv("REFRESH_HOUR"))
	if v == "" {
		return DefaultRefreshHour
	}
	h, err := strconv.Atoi(v)
	if err != nil || h < 0 || h > 23 {
		logger.L().Warn("refresh_hour_invalid", "value", v, "default", DefaultRefreshHour)
		return DefaultRefreshHour
	}
	return h
}

// StartWeekly：每周一 hour 点在后台协程执行 fn
// 背景：离线数据按周更新；错误由日志记录，任务继续调度
// 约束：ctx 取消后协程退出，不中断正在执行的 fn 之外的任何状态
func StartWeekly(ctx context.Context, loc *time.Location, hour int, fn func(context.Context) error) {
	l := logger.L()
	next := nextMondayAt(time.Now(), loc, hour)
	l.Info("refresh_scheduled", "next", next)
	go func() {
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			l.Info("refresh_start", "scheduled", next)
			if err := fn(ctx); err != nil {
				l.Error("refresh_error", "err", err)
			} else {
				l.Info("refresh_done")
			}
			next = nextMondayAt(time.Now(), loc, hour)
		}
	}()
}
