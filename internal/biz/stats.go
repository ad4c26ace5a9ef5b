package biz

import (
	"context"
	"sort"
	"time"

	ledgerErrors "pos-ledger/internal/errors"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// MethodStats 单一支付方式的结算统计
type MethodStats struct {
	Method       PaymentMethod
	SettledCount int             // completed + refunded 笔数
	PendingCount int             // 仍待网关确认的笔数
	FailedCount  int             // 失败笔数
	Collected    decimal.Decimal // 已收款（含后续被退款的流水）
	Refunded     decimal.Decimal // 已退款
}

// Net 实收
func (s *MethodStats) Net() decimal.Decimal {
	return s.Collected.Sub(s.Refunded)
}

// SettlementStats 日结统计
type SettlementStats struct {
	From      time.Time
	To        time.Time
	Methods   []*MethodStats
	Collected decimal.Decimal
	Refunded  decimal.Decimal
}

// Net 实收合计
func (s *SettlementStats) Net() decimal.Decimal {
	return s.Collected.Sub(s.Refunded)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TransactionFilter 流水查询条件，空字段不过滤
type TransactionFilter struct {
	Status   TransactionStatus
	Method   PaymentMethod
	Page     int
	PageSize int
}

// StatsRepo 统计数据层接口（定义在 biz 层）
type StatsRepo interface {
	// GetMethodStats 统计 [from, to) 内创建的流水，按支付方式分组
	GetMethodStats(ctx context.Context, from, to time.Time) ([]*MethodStats, error)
	// ListTransactions 分页查询流水，按时间倒序
	ListTransactions(ctx context.Context, filter *TransactionFilter) ([]*PaymentTransaction, int64, error)
}

// StatsUseCase 日结统计
type StatsUseCase struct {
	repo StatsRepo
	log  *log.Helper
}

// NewStatsUseCase 创建统计 UseCase
func NewStatsUseCase(repo StatsRepo, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// GetDailyStats 获取 day 所在自然日（按 day 的时区）的结算统计
func (uc *StatsUseCase) GetDailyStats(ctx context.Context, day time.Time) (*SettlementStats, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return uc.GetStats(ctx, from, from.AddDate(0, 0, 1))
}

// GetStats 获取 [from, to) 的结算统计
func (uc *StatsUseCase) GetStats(ctx context.Context, from, to time.Time) (*SettlementStats, error) {
	methods, err := uc.repo.GetMethodStats(ctx, from, to)
	if err != nil {
		return nil, err
	}

	stats := &SettlementStats{
		From:      from,
		To:        to,
		Methods:   methods,
		Collected: decimal.Zero,
		Refunded:  decimal.Zero,
	}
	for _, m := range methods {
		// 数据库聚合可能返回浮点结果，统一回到分
		m.Collected = money.Round(m.Collected)
		m.Refunded = money.Round(m.Refunded)
		stats.Collected = stats.Collected.Add(m.Collected)
		stats.Refunded = stats.Refunded.Add(m.Refunded)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].Method < methods[j].Method })
	return stats, nil
}

// ListTransactions 分页查询流水（对账排查用，例如列出所有 pending 的刷卡流水）
func (uc *StatsUseCase) ListTransactions(ctx context.Context, filter *TransactionFilter) ([]*PaymentTransaction, int64, error) {
	switch filter.Status {
	case "", TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded:
	default:
		return nil, 0, ledgerErrors.InvalidArgument("unknown transaction status %q", filter.Status)
	}
	if filter.Method != "" && !filter.Method.IsLegMethod() {
		return nil, 0, ledgerErrors.InvalidArgument("unknown payment method %q", filter.Method)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	return uc.repo.ListTransactions(ctx, filter)
}
