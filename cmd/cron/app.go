package main

import (
	"context"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
)

// CronApp Cron 应用结构
type CronApp struct {
	ledger *biz.LedgerUseCase
	stats  *biz.StatsUseCase
}

func (a *CronApp) syncStalePending(ctx context.Context, logHelper *log.Helper) {
	logHelper.Info("[CRON] Starting stale pending sync...")
	n, err := a.ledger.SyncStalePending(ctx)
	if err != nil {
		logHelper.Errorf("[CRON] Error syncing stale pending transactions: %v", err)
		return
	}
	logHelper.Infof("[CRON] Finished stale pending sync: settled=%d", n)
}

// reportSettlement 输出前一自然日的日结汇总
func (a *CronApp) reportSettlement(ctx context.Context, logHelper *log.Helper, now time.Time) {
	stats, err := a.stats.GetDailyStats(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		logHelper.Errorf("[CRON] Error building settlement report: %v", err)
		return
	}
	for _, m := range stats.Methods {
		logHelper.Infof("[CRON] Settlement %s method=%s settled=%d pending=%d failed=%d collected=%s refunded=%s net=%s",
			stats.From.Format("2006-01-02"), m.Method, m.SettledCount, m.PendingCount, m.FailedCount,
			money.Format(m.Collected), money.Format(m.Refunded), money.Format(m.Net()))
	}
	logHelper.Infof("[CRON] Settlement %s total collected=%s refunded=%s net=%s",
		stats.From.Format("2006-01-02"), money.Format(stats.Collected), money.Format(stats.Refunded), money.Format(stats.Net()))
}
