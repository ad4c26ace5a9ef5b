package service

import (
	"context"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/shopspring/decimal"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewLedgerService, NewStatsService)

// LedgerService 收银终端与网关回调使用的账本接口
type LedgerService struct {
	ledger    *biz.LedgerUseCase
	reconcile *biz.ReconcileUseCase
	log       *log.Helper
}

// NewLedgerService 创建 LedgerService
func NewLedgerService(ledger *biz.LedgerUseCase, reconcile *biz.ReconcileUseCase, logger log.Logger) *LedgerService {
	return &LedgerService{
		ledger:    ledger,
		reconcile: reconcile,
		log:       log.NewHelper(logger),
	}
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type RecordAttemptRequest struct {
	OrderID     string                 `json:"order_id"`
	Method      string                 `json:"method"`
	Amount      decimal.Decimal        `json:"amount"`
	ExternalRef string                 `json:"external_ref"`
	Split       bool                   `json:"split"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type CreateIntentRequest struct {
	OrderID string `json:"order_id"`
	// Amount 为空时收取订单未覆盖的金额
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type CaptureRequest struct {
	IntentID string `json:"intent_id"`
}

type RefundRequest struct {
	OrderID       string          `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

type SyncRequest struct {
	TransactionID string `json:"transaction_id"`
}

type TransactionReply struct {
	ID             string                 `json:"id"`
	PaymentID      string                 `json:"payment_id"`
	Method         string                 `json:"method"`
	Amount         string                 `json:"amount"`
	RefundedAmount string                 `json:"refunded_amount"`
	Status         string                 `json:"status"`
	TransactionID  string                 `json:"transaction_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

type PaymentReply struct {
	ID             string              `json:"id"`
	OrderID        string              `json:"order_id"`
	Amount         string              `json:"amount"`
	Status         string              `json:"status"`
	Method         string              `json:"method,omitempty"`
	IsSplitPayment bool                `json:"is_split_payment"`
	Transactions   []*TransactionReply `json:"transactions"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type IntentReply struct {
	IntentID     string            `json:"intent_id"`
	ClientSecret string            `json:"client_secret"`
	Payment      *PaymentReply     `json:"payment"`
	Transaction  *TransactionReply `json:"transaction"`
}

type WebhookReply struct {
	Received bool `json:"received"`
}

// OpenPayment 获取或创建订单的支付记录
func (s *LedgerService) OpenPayment(ctx context.Context, req *OrderRequest) (*PaymentReply, error) {
	p, err := s.ledger.OpenPayment(ctx, req.OrderID)
	if err != nil {
		s.log.Errorf("OpenPayment failed: %v", err)
		return nil, err
	}
	return toPaymentReply(p), nil
}

// GetPayment 查询支付记录与全部流水
func (s *LedgerService) GetPayment(ctx context.Context, req *OrderRequest) (*PaymentReply, error) {
	p, err := s.ledger.GetPayment(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return toPaymentReply(p), nil
}

// RecordAttempt 记录一笔收款
func (s *LedgerService) RecordAttempt(ctx context.Context, req *RecordAttemptRequest) (*TransactionReply, error) {
	p, err := s.ledger.OpenPayment(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.RecordAttempt(ctx, p, &biz.Attempt{
		Method:      biz.PaymentMethod(req.Method),
		Amount:      req.Amount,
		ExternalRef: req.ExternalRef,
		Split:       req.Split,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.log.Errorf("RecordAttempt failed: %v", err)
		return nil, err
	}
	return toTransactionReply(txn), nil
}

// CreatePaymentIntent 发起刷卡
func (s *LedgerService) CreatePaymentIntent(ctx context.Context, req *CreateIntentRequest) (*IntentReply, error) {
	res, err := s.ledger.CreatePaymentIntent(ctx, req.OrderID, req.Amount)
	if err != nil {
		s.log.Errorf("CreatePaymentIntent failed: %v", err)
		return nil, err
	}
	return &IntentReply{
		IntentID:     res.IntentID,
		ClientSecret: res.ClientSecret,
		Payment:      toPaymentReply(res.Payment),
		Transaction:  toTransactionReply(res.Transaction),
	}, nil
}

// CapturePayment 确认扣款
func (s *LedgerService) CapturePayment(ctx context.Context, req *CaptureRequest) (*TransactionReply, error) {
	txn, err := s.ledger.CapturePayment(ctx, req.IntentID)
	if err != nil {
		s.log.Errorf("CapturePayment failed: %v", err)
		return nil, err
	}
	return toTransactionReply(txn), nil
}

// RequestRefund 退款
func (s *LedgerService) RequestRefund(ctx context.Context, req *RefundRequest) (*TransactionReply, error) {
	p, err := s.ledger.GetPayment(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.RequestRefund(ctx, p, &biz.RefundRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		s.log.Errorf("RequestRefund failed: %v", err)
		return nil, err
	}
	return toTransactionReply(txn), nil
}

// SyncTransaction 主动向网关查询流水状态
func (s *LedgerService) SyncTransaction(ctx context.Context, req *SyncRequest) (*TransactionReply, error) {
	txn, err := s.ledger.SyncTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	return toTransactionReply(txn), nil
}

// HandleWebhook 网关事件回调，验签或解析失败时返回错误让网关重试
func (s *LedgerService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookReply, error) {
	if err := s.reconcile.Ingest(ctx, payload, signature); err != nil {
		return nil, err
	}
	return &WebhookReply{Received: true}, nil
}

func toPaymentReply(p *biz.Payment) *PaymentReply {
	if p == nil {
		return nil
	}
	reply := &PaymentReply{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Amount:         money.Format(p.Amount),
		Status:         string(p.Status),
		Method:         string(p.Method),
		IsSplitPayment: p.IsSplitPayment,
		Transactions:   make([]*TransactionReply, 0, len(p.Transactions)),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	for _, t := range p.Transactions {
		reply.Transactions = append(reply.Transactions, toTransactionReply(t))
	}
	return reply
}

func toTransactionReply(t *biz.PaymentTransaction) *TransactionReply {
	if t == nil {
		return nil
	}
	return &TransactionReply{
		ID:             t.ID,
		PaymentID:      t.PaymentID,
		Method:         string(t.Method),
		Amount:         money.Format(t.Amount),
		RefundedAmount: money.Format(t.RefundedAmount),
		Status:         string(t.Status),
		TransactionID:  t.TransactionID,
		Metadata:       t.Metadata,
		Timestamp:      t.Timestamp,
	}
}
