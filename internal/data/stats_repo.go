package data

import (
	"context"
	"fmt"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/data/model"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// statsRepo 结算统计数据访问
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建统计 repo（返回 biz.StatsRepo 接口）
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetMethodStats 按支付方式汇总 [from, to) 内的流水
func (r *statsRepo) GetMethodStats(ctx context.Context, from, to time.Time) ([]*biz.MethodStats, error) {
	settled := fmt.Sprintf("status IN ('%s', '%s')", biz.TransactionStatusCompleted, biz.TransactionStatusRefunded)

	var rows []struct {
		PaymentMethod string
		SettledCount  int
		PendingCount  int
		FailedCount   int
		Collected     decimal.Decimal
		Refunded      decimal.Decimal
	}
	if err := r.data.DB(ctx).Model(&model.PaymentTransaction{}).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Select(
			"payment_method",
			fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END) as settled_count", settled),
			fmt.Sprintf("SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END) as pending_count", biz.TransactionStatusPending),
			fmt.Sprintf("SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END) as failed_count", biz.TransactionStatusFailed),
			fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN amount ELSE 0 END), 0) as collected", settled),
			"COALESCE(SUM(refunded_amount), 0) as refunded",
		).
		Group("payment_method").
		Scan(&rows).Error; err != nil {
		return nil, ledgerErrors.Database(err, "aggregate transaction stats: %v", err)
	}

	stats := make([]*biz.MethodStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, &biz.MethodStats{
			Method:       biz.PaymentMethod(row.PaymentMethod),
			SettledCount: row.SettledCount,
			PendingCount: row.PendingCount,
			FailedCount:  row.FailedCount,
			Collected:    row.Collected,
			Refunded:     row.Refunded,
		})
	}
	return stats, nil
}

// ListTransactions 分页查询流水
func (r *statsRepo) ListTransactions(ctx context.Context, filter *biz.TransactionFilter) ([]*biz.PaymentTransaction, int64, error) {
	db := r.data.DB(ctx).Model(&model.PaymentTransaction{})
	if filter.Status != "" {
		db = db.Where("status = ?", string(filter.Status))
	}
	if filter.Method != "" {
		db = db.Where("payment_method = ?", string(filter.Method))
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, ledgerErrors.Database(err, "count transactions: %v", err)
	}

	var models []*model.PaymentTransaction
	offset := (filter.Page - 1) * filter.PageSize
	if err := db.Order("timestamp DESC").Offset(offset).Limit(filter.PageSize).Find(&models).Error; err != nil {
		return nil, 0, ledgerErrors.Database(err, "list transactions: %v", err)
	}
	return toTransactionBizList(models), total, nil
}
