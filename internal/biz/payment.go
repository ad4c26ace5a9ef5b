package biz

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus 支付（订单维度）状态，始终由流水状态聚合得出
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

// TransactionStatus 单笔资金流水状态，唯一由业务逻辑直接设置的状态
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// CanTransitionTo 流水状态机：
//
//	pending   -> completed | failed | refunded
//	failed    -> completed（网关对同一 intent 重试后扣款成功）
//	completed -> refunded
//	refunded  终态
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted || next == TransactionStatusFailed || next == TransactionStatusRefunded
	case TransactionStatusFailed:
		return next == TransactionStatusCompleted
	case TransactionStatusCompleted:
		return next == TransactionStatusRefunded
	default:
		return false
	}
}

// OrderPaymentStatus 订单上的支付状态（外部协作方字段）
type OrderPaymentStatus string

const (
	OrderPaymentPending           OrderPaymentStatus = "pending"
	OrderPaymentPaid              OrderPaymentStatus = "paid"
	OrderPaymentFailed            OrderPaymentStatus = "failed"
	OrderPaymentPartiallyRefunded OrderPaymentStatus = "partially_refunded"
	OrderPaymentRefunded          OrderPaymentStatus = "refunded"
)

// PaymentMethod 支付方式
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCredit PaymentMethod = "credit"
	PaymentMethodSplit  PaymentMethod = "split"
	PaymentMethodOther  PaymentMethod = "other"
)

// IsLegMethod 是否为单笔流水可用的支付方式（split 只用于 Payment）
func (m PaymentMethod) IsLegMethod() bool {
	return m == PaymentMethodCash || m == PaymentMethodCredit || m == PaymentMethodOther
}

// Order 订单（外部协作方，只读总价、写支付状态）
type Order struct {
	ID            string
	TotalPrice    decimal.Decimal
	PaymentStatus OrderPaymentStatus
}

// Payment 订单的支付聚合记录，与订单 1:1
type Payment struct {
	ID             string
	OrderID        string
	Amount         decimal.Decimal
	Status         PaymentStatus
	Method         PaymentMethod
	IsSplitPayment bool
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Transactions 按时间顺序排列，仅查询时填充
	Transactions []*PaymentTransaction
}

// PaymentTransaction 单笔资金流水（一次刷卡、一次现金收款，退款为其状态迁移）
type PaymentTransaction struct {
	ID             string
	PaymentID      string
	Method         PaymentMethod
	Amount         decimal.Decimal
	RefundedAmount decimal.Decimal
	Status         TransactionStatus
	// TransactionID 网关引用（charge id 或 payment intent id），事件匹配的幂等键
	TransactionID string
	// IntentID 网关 intent id；charge id 回填到 TransactionID 后仍可按 intent 匹配
	IntentID  string
	Metadata  map[string]interface{}
	Timestamp time.Time
	UpdatedAt time.Time
}

// MergeMetadata 追加 metadata，只增不删
func (t *PaymentTransaction) MergeMetadata(kv map[string]interface{}) {
	if len(kv) == 0 {
		return
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]interface{}, len(kv))
	}
	for k, v := range kv {
		if v == nil || v == "" {
			continue
		}
		t.Metadata[k] = v
	}
}

// IsLive 是否为仍占用金额的流水（未失败）
func (t *PaymentTransaction) IsLive() bool {
	return t.Status != TransactionStatusFailed
}

// PaymentStatusChanged 支付状态变更消息，提交后发布
type PaymentStatusChanged struct {
	PaymentID   string             `json:"payment_id"`
	OrderID     string             `json:"order_id"`
	From        PaymentStatus      `json:"from"`
	To          PaymentStatus      `json:"to"`
	OrderStatus OrderPaymentStatus `json:"order_status,omitempty"`
	IsSplit     bool               `json:"is_split"`
	Amount      string             `json:"amount"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// Transaction 数据库事务接口，fn 内所有 repo 调用共享同一事务
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentRepo 支付账本数据层接口（定义在 biz 层）
// 查询类方法在记录不存在时返回 nil, nil
type PaymentRepo interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// LockPayment 在事务内对支付行加行锁并返回最新数据
	LockPayment(ctx context.Context, paymentID string) (*Payment, error)
	// UpdatePayment 按 Version 做乐观锁更新，冲突时返回 ErrConcurrentUpdate，成功后 Version 自增
	UpdatePayment(ctx context.Context, p *Payment) error

	CreateTransaction(ctx context.Context, t *PaymentTransaction) error
	UpdateTransaction(ctx context.Context, t *PaymentTransaction) error
	GetTransaction(ctx context.Context, id string) (*PaymentTransaction, error)
	FindTransactionByRef(ctx context.Context, ref string) (*PaymentTransaction, error)
	ListTransactions(ctx context.Context, paymentID string) ([]*PaymentTransaction, error)
	ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]*PaymentTransaction, error)
}

// OrderRepo 订单协作方接口
type OrderRepo interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	SetPaymentStatus(ctx context.Context, orderID string, status OrderPaymentStatus) error
}

// Locker 订单级分布式锁
type Locker interface {
	// Lock 获取锁，返回释放函数
	Lock(ctx context.Context, key string) (func(), error)
}

// LedgerCache 支付状态缓存与已处理事件去重，失败不影响主流程
type LedgerCache interface {
	SetPaymentStatus(ctx context.Context, orderID string, status PaymentStatus)
	GetPaymentStatus(ctx context.Context, orderID string) (PaymentStatus, bool)
	MarkEventProcessed(ctx context.Context, eventID string)
	IsEventProcessed(ctx context.Context, eventID string) bool
}

// StatusPublisher 支付状态变更消息发布
type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, msg *PaymentStatusChanged) error
}
