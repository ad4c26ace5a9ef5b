package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-ledger/internal/conf"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

const (
	// defaultReconcileSchedule 每 5 分钟补查一次悬挂的网关流水
	defaultReconcileSchedule = "0 */5 * * * *"
	// settlementSchedule 每日 00:10 输出前一日日结
	settlementSchedule = "0 10 0 * * *"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/pos-ledger-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "pos-ledger-cron",
	)
	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	schedule := defaultReconcileSchedule
	if bc.Ledger != nil && bc.Ledger.ReconcileSchedule != "" {
		schedule = bc.Ledger.ReconcileSchedule
	}

	// 支持秒级调度
	cronScheduler := cron.New(cron.WithSeconds())

	// 悬挂流水对账：捕获超时等结果未知的刷卡流水向网关补查
	_, err = cronScheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		app.syncStalePending(ctx, logHelper)
	})
	if err != nil {
		logHelper.Errorf("Failed to add stale pending sync job: %v", err)
	}

	_, err = cronScheduler.AddFunc(settlementSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		app.reportSettlement(ctx, logHelper, time.Now())
	})
	if err != nil {
		logHelper.Errorf("Failed to add settlement report job: %v", err)
	}

	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Stale pending sync: %s", schedule)
	logHelper.Infof("  - Settlement report: %s", settlementSchedule)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
