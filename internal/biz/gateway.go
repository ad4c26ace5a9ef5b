package biz

import (
	"context"
	"time"
)

// PaymentGateway 外部支付网关客户端，sandbox 与 live 两种实现在启动时按配置选定
//
// 返回的错误约定：
//   - 网关明确拒绝：errors.Gateway，调用方可据此记录失败流水
//   - 超时、连接失败、5xx：errors.GatewayUnknown，结果未知，流水保持 pending
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error)
	CaptureIntent(ctx context.Context, intentID string) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateRefund(ctx context.Context, req *CreateRefundRequest) (*Refund, error)
}

// CreateIntentRequest 创建支付意图
type CreateIntentRequest struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
	// IdempotencyKey 同一 key 的重复请求返回同一个 intent
	IdempotencyKey string
}

// Intent 网关支付意图
type Intent struct {
	ID            string
	ClientSecret  string
	Status        string // constants.IntentStatus*
	AmountCents   int64
	Currency      string
	ChargeID      string
	Card          *Card
	FailureReason string
	Metadata      map[string]string
}

// Card 卡信息，仅用于审计
type Card struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// CreateRefundRequest 创建退款
type CreateRefundRequest struct {
	// Ref charge id 或 intent id
	Ref            string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

// Refund 网关退款结果
type Refund struct {
	ID          string
	Status      string // constants.RefundStatus*
	AmountCents int64
	ChargeID    string
	Reason      string
	Created     time.Time
}

// GatewayEvent 网关推送的事件（已验签、已解析）
type GatewayEvent struct {
	ID                string
	Type              string // constants.EventType*
	IntentID          string
	ChargeID          string
	AmountCents       int64
	Currency          string
	Metadata          map[string]string
	Card              *Card
	FailureReason     string
	RefundID          string
	RefundAmountCents int64
	RefundReason      string
	Created           time.Time
}

// Refs 事件中可用于匹配流水的引用，按 intent id、charge id 的顺序
func (e *GatewayEvent) Refs() []string {
	refs := make([]string, 0, 2)
	if e.IntentID != "" {
		refs = append(refs, e.IntentID)
	}
	if e.ChargeID != "" && e.ChargeID != e.IntentID {
		refs = append(refs, e.ChargeID)
	}
	return refs
}
