package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics 支付账本指标
type LedgerMetrics struct {
	// 支付尝试相关指标
	AttemptTotal *prometheus.CounterVec // 支付尝试总数（按支付方式、初始状态）

	// 网关事件相关指标
	EventTotal             *prometheus.CounterVec   // 网关事件总数（按类型、处理结果）
	EventDuration          *prometheus.HistogramVec // 事件处理耗时
	EventRejectedTotal     *prometheus.CounterVec   // 被拒收的事件（按原因：signature/payload）
	ReconciliationGapTotal *prometheus.CounterVec   // 对账缺口（按事件类型）

	// 退款相关指标
	RefundTotal  *prometheus.CounterVec // 退款请求总数（按结果）
	RefundAmount *prometheus.CounterVec // 退款金额（按支付方式）

	// 网关调用相关指标
	GatewayCallDuration *prometheus.HistogramVec // 网关调用耗时（按操作）
	GatewayCallTotal    *prometheus.CounterVec   // 网关调用总数（按操作、结果）

	// 支付状态相关指标
	PaymentStatusTotal   *prometheus.CounterVec // 支付状态变更（按目标状态）
	OptimisticRetryTotal prometheus.Counter     // 乐观锁冲突重试次数

	// 对账任务相关指标
	StaleSyncTotal *prometheus.CounterVec // 过期 pending 流水主动同步（按结果）

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewLedgerMetrics 创建账本指标
func NewLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		AttemptTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payment_attempt_total",
				Help: "Total number of recorded payment attempts",
			},
			[]string{"method", "status"},
		),

		EventTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_gateway_event_total",
				Help: "Total number of gateway events processed",
			},
			[]string{"type", "result"}, // result: applied/noop/created/gap/error/duplicate
		),
		EventDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_gateway_event_duration_seconds",
				Help:    "Duration of gateway event handling",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		EventRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_gateway_event_rejected_total",
				Help: "Total number of gateway events rejected before handling",
			},
			[]string{"reason"},
		),
		ReconciliationGapTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_gap_total",
				Help: "Events that referenced untracked transactions and were dropped",
			},
			[]string{"type"},
		),

		RefundTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_refund_total",
				Help: "Total number of refund requests",
			},
			[]string{"result"},
		),
		RefundAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_refund_amount_total",
				Help: "Total amount refunded",
			},
			[]string{"method"},
		),

		GatewayCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_gateway_call_duration_seconds",
				Help:    "Duration of synchronous payment gateway calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		GatewayCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_gateway_call_total",
				Help: "Total number of synchronous payment gateway calls",
			},
			[]string{"operation", "result"}, // result: success/failed/timeout
		),

		PaymentStatusTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payment_status_change_total",
				Help: "Total number of payment status transitions",
			},
			[]string{"status"},
		),
		OptimisticRetryTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_optimistic_retry_total",
				Help: "Number of units retried after a payment version conflict",
			},
		),

		StaleSyncTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_stale_sync_total",
				Help: "Pending transactions re-checked against the gateway",
			},
			[]string{"result"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *LedgerMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewLedgerMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *LedgerMetrics {
	InitMetrics()
	return defaultMetrics
}
