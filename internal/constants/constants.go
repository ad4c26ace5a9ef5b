package constants

// Redis Key 前缀常量
const (
	// RedisKeyPaymentStatus 支付状态缓存 key 前缀（按订单）
	RedisKeyPaymentStatus = "ledger:payment:status:"
	// RedisKeyOrderLock 订单级分布式锁 key 前缀
	RedisKeyOrderLock = "ledger:lock:order:"
	// RedisKeyIntentLock 订单级建单锁 key 前缀，串行化同一订单的支付意图创建
	RedisKeyIntentLock = "ledger:lock:intent:"
	// RedisKeyProcessedEvent 已处理网关事件 key 前缀
	RedisKeyProcessedEvent = "ledger:event:"
)

// 网关事件类型
const (
	// EventTypeSuccess 支付成功
	EventTypeSuccess = "success"
	// EventTypeFailure 支付失败
	EventTypeFailure = "failure"
	// EventTypeRefund 退款完成
	EventTypeRefund = "refund"
)

// 网关 intent 状态
const (
	IntentStatusRequiresPayment = "requires_payment_method"
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusProcessing      = "processing"
	IntentStatusSucceeded       = "succeeded"
	IntentStatusFailed          = "failed"
	IntentStatusCanceled        = "canceled"
)

// 退款状态
const (
	RefundStatusSucceeded = "succeeded"
	RefundStatusPending   = "pending"
	RefundStatusFailed    = "failed"
)

// 网关模式
const (
	GatewayModeSandbox = "sandbox"
	GatewayModeLive    = "live"
)

// 流水 metadata 字段
const (
	MetaOrderID         = "order_id"
	MetaPaymentID       = "payment_id"
	MetaPaymentIntentID = "payment_intent_id"
	MetaChargeID        = "charge_id"
	MetaCardBrand       = "card_brand"
	MetaCardLast4       = "card_last4"
	MetaFailureReason   = "failure_reason"
	MetaRefundID        = "refund_id"
	MetaRefundAmount    = "refund_amount"
	MetaRefundReason    = "refund_reason"
	MetaRefundedAt      = "refunded_at"
	MetaRecoveredFrom   = "recovered_from_event"
	MetaSource          = "source"
)

// 事件处理结果（用于指标）
const (
	EventResultApplied = "applied"
	EventResultNoop    = "noop"
	EventResultCreated = "created"
	EventResultGap     = "gap"
	EventResultError   = "error"
	EventResultDup     = "duplicate"
	EventResultIgnored = "ignored"
)

// 通用结果（用于指标）
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
	// ResultUnchanged 主动查询后状态仍未确定
	ResultUnchanged = "unchanged"
)

// 网关操作名（用于指标）
const (
	GatewayOpCreateIntent   = "create_intent"
	GatewayOpCaptureIntent  = "capture_intent"
	GatewayOpRetrieveIntent = "retrieve_intent"
	GatewayOpCreateRefund   = "create_refund"
)

// 网关请求头
const (
	// HeaderSignature webhook 签名头，格式 t=<unix>,v1=<hex>
	HeaderSignature = "Ledger-Signature"
	// HeaderIdempotencyKey 网关幂等键
	HeaderIdempotencyKey = "Idempotency-Key"
)

// DefaultCurrency 默认币种
const DefaultCurrency = "usd"
