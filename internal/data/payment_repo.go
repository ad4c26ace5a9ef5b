package data

import (
	"context"
	"errors"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/data/model"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentRepo 创建支付账本 repo
func NewPaymentRepo(data *Data, logger log.Logger) biz.PaymentRepo {
	return &paymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ========== 支付 ==========

// CreatePayment 创建支付记录，order_id 唯一索引冲突时返回错误由调用方重新读取
func (r *paymentRepo) CreatePayment(ctx context.Context, p *biz.Payment) error {
	m := toPaymentModel(p)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		return ledgerErrors.Database(err, "create payment for order %s: %v", p.OrderID, err)
	}
	p.CreatedAt = m.CreatedAt
	p.UpdatedAt = m.UpdatedAt
	return nil
}

// GetPayment 获取支付记录
func (r *paymentRepo) GetPayment(ctx context.Context, paymentID string) (*biz.Payment, error) {
	return r.firstPayment(r.data.DB(ctx), "payment_id = ?", paymentID)
}

// GetPaymentByOrderID 按订单获取支付记录
func (r *paymentRepo) GetPaymentByOrderID(ctx context.Context, orderID string) (*biz.Payment, error) {
	return r.firstPayment(r.data.DB(ctx), "order_id = ?", orderID)
}

// LockPayment 事务内加行锁读取支付记录（SELECT ... FOR UPDATE）
func (r *paymentRepo) LockPayment(ctx context.Context, paymentID string) (*biz.Payment, error) {
	return r.firstPayment(r.data.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "payment_id = ?", paymentID)
}

func (r *paymentRepo) firstPayment(db *gorm.DB, query string, args ...interface{}) (*biz.Payment, error) {
	var m model.Payment
	if err := db.Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, ledgerErrors.Database(err, "query payment: %v", err)
	}
	return toPaymentBiz(&m), nil
}

// UpdatePayment 按版本号更新支付记录
func (r *paymentRepo) UpdatePayment(ctx context.Context, p *biz.Payment) error {
	res := r.data.DB(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"amount":           p.Amount,
			"status":           string(p.Status),
			"payment_method":   string(p.Method),
			"is_split_payment": p.IsSplitPayment,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return ledgerErrors.Database(res.Error, "update payment %s: %v", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ledgerErrors.ErrConcurrentUpdate
	}
	p.Version++
	return nil
}

// ========== 流水 ==========

// CreateTransaction 创建流水
func (r *paymentRepo) CreateTransaction(ctx context.Context, t *biz.PaymentTransaction) error {
	m := toTransactionModel(t)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		return ledgerErrors.Database(err, "create transaction for payment %s: %v", t.PaymentID, err)
	}
	t.UpdatedAt = m.UpdatedAt
	return nil
}

// UpdateTransaction 更新流水状态、网关引用与 metadata
func (r *paymentRepo) UpdateTransaction(ctx context.Context, t *biz.PaymentTransaction) error {
	res := r.data.DB(ctx).Model(&model.PaymentTransaction{}).
		Where("payment_transaction_id = ?", t.ID).
		Updates(map[string]interface{}{
			"status":          string(t.Status),
			"refunded_amount": t.RefundedAmount,
			"transaction_id":  nullableString(t.TransactionID),
			"intent_id":       nullableString(t.IntentID),
			"metadata":        datatypes.JSONMap(t.Metadata),
		})
	if res.Error != nil {
		return ledgerErrors.Database(res.Error, "update transaction %s: %v", t.ID, res.Error)
	}
	return nil
}

// GetTransaction 按流水 id 获取
func (r *paymentRepo) GetTransaction(ctx context.Context, id string) (*biz.PaymentTransaction, error) {
	return r.firstTransaction(r.data.DB(ctx), "payment_transaction_id = ?", id)
}

// FindTransactionByRef 按网关引用查找流水：先匹配 transaction_id，再匹配回填前的 intent id
func (r *paymentRepo) FindTransactionByRef(ctx context.Context, ref string) (*biz.PaymentTransaction, error) {
	if ref == "" {
		return nil, nil
	}
	t, err := r.firstTransaction(r.data.DB(ctx), "transaction_id = ?", ref)
	if err != nil || t != nil {
		return t, err
	}
	return r.firstTransaction(r.data.DB(ctx).Order("timestamp ASC"), "intent_id = ?", ref)
}

func (r *paymentRepo) firstTransaction(db *gorm.DB, query string, args ...interface{}) (*biz.PaymentTransaction, error) {
	var m model.PaymentTransaction
	if err := db.Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, ledgerErrors.Database(err, "query transaction: %v", err)
	}
	return toTransactionBiz(&m), nil
}

// ListTransactions 按时间顺序列出支付下的全部流水
func (r *paymentRepo) ListTransactions(ctx context.Context, paymentID string) ([]*biz.PaymentTransaction, error) {
	var models []*model.PaymentTransaction
	if err := r.data.DB(ctx).
		Where("payment_id = ?", paymentID).
		Order("timestamp ASC, payment_transaction_id ASC").
		Find(&models).Error; err != nil {
		return nil, ledgerErrors.Database(err, "list transactions of payment %s: %v", paymentID, err)
	}
	return toTransactionBizList(models), nil
}

// ListStalePendingTransactions 列出 before 之前创建、仍为 pending 的流水
func (r *paymentRepo) ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]*biz.PaymentTransaction, error) {
	var models []*model.PaymentTransaction
	if err := r.data.DB(ctx).
		Where("status = ? AND timestamp < ?", string(biz.TransactionStatusPending), before).
		Order("timestamp ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, ledgerErrors.Database(err, "list stale pending transactions: %v", err)
	}
	return toTransactionBizList(models), nil
}

// ========== 转换 ==========

func toPaymentModel(p *biz.Payment) *model.Payment {
	return &model.Payment{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Status:         string(p.Status),
		PaymentMethod:  string(p.Method),
		IsSplitPayment: p.IsSplitPayment,
		Version:        p.Version,
	}
}

func toPaymentBiz(m *model.Payment) *biz.Payment {
	return &biz.Payment{
		ID:             m.PaymentID,
		OrderID:        m.OrderID,
		Amount:         m.Amount,
		Status:         biz.PaymentStatus(m.Status),
		Method:         biz.PaymentMethod(m.PaymentMethod),
		IsSplitPayment: m.IsSplitPayment,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toTransactionModel(t *biz.PaymentTransaction) *model.PaymentTransaction {
	var metadata datatypes.JSONMap
	if len(t.Metadata) > 0 {
		metadata = datatypes.JSONMap(t.Metadata)
	}
	return &model.PaymentTransaction{
		PaymentTransactionID: t.ID,
		PaymentID:            t.PaymentID,
		PaymentMethod:        string(t.Method),
		Amount:               t.Amount,
		RefundedAmount:       t.RefundedAmount,
		Status:               string(t.Status),
		TransactionID:        nullableString(t.TransactionID),
		IntentID:             nullableString(t.IntentID),
		Metadata:             metadata,
		Timestamp:            t.Timestamp,
	}
}

func toTransactionBiz(m *model.PaymentTransaction) *biz.PaymentTransaction {
	t := &biz.PaymentTransaction{
		ID:             m.PaymentTransactionID,
		PaymentID:      m.PaymentID,
		Method:         biz.PaymentMethod(m.PaymentMethod),
		Amount:         m.Amount,
		RefundedAmount: m.RefundedAmount,
		Status:         biz.TransactionStatus(m.Status),
		Timestamp:      m.Timestamp,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.TransactionID != nil {
		t.TransactionID = *m.TransactionID
	}
	if m.IntentID != nil {
		t.IntentID = *m.IntentID
	}
	if len(m.Metadata) > 0 {
		t.Metadata = map[string]interface{}(m.Metadata)
	}
	return t
}

func toTransactionBizList(models []*model.PaymentTransaction) []*biz.PaymentTransaction {
	list := make([]*biz.PaymentTransaction, 0, len(models))
	for _, m := range models {
		list = append(list, toTransactionBiz(m))
	}
	return list
}

// nullableString 空串存为 NULL，避免唯一索引冲突
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
