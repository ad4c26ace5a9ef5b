package biz

import (
	"strings"
	"time"

	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"
)

// LedgerConfig 账本业务配置
type LedgerConfig struct {
	Currency          string
	GatewayTimeout    time.Duration // 同步网关调用超时
	StalePendingAfter time.Duration // pending 流水超过该时长由定时任务主动查询网关
	ReconcileBatch    int           // 每轮对账处理的流水数
	MaxUnitRetries    int           // 乐观锁冲突重试次数
}

// NewLedgerConfig 从配置创建 LedgerConfig
func NewLedgerConfig(c *conf.Bootstrap) *LedgerConfig {
	config := &LedgerConfig{
		Currency:          constants.DefaultCurrency,
		GatewayTimeout:    10 * time.Second, // 默认值
		StalePendingAfter: 15 * time.Minute,
		ReconcileBatch:    100,
		MaxUnitRetries:    3,
	}
	if c == nil {
		return config
	}
	if c.Gateway != nil && c.Gateway.Timeout.AsDuration() > 0 {
		config.GatewayTimeout = c.Gateway.Timeout.AsDuration()
	}
	if c.Ledger != nil {
		// 从配置读取，未配置则使用默认值
		if c.Ledger.Currency != "" {
			config.Currency = strings.ToLower(c.Ledger.Currency)
		}
		if d := c.Ledger.StalePendingAfter.AsDuration(); d > 0 {
			config.StalePendingAfter = d
		}
		if c.Ledger.ReconcileBatchSize > 0 {
			config.ReconcileBatch = int(c.Ledger.ReconcileBatchSize)
		}
	}
	return config
}
