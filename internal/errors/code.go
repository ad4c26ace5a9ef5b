package errors

import (
	"fmt"
	"strconv"

	kratosErrors "github.com/go-kratos/kratos/v2/errors"
)

// Ledger Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Ledger 固定为 21
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   01: 金额模块
//   02: 支付/流水模块
//   03: 退款模块
//   04: 网关模块
//   05: 对账模块
//   06: 数据访问
//
// 对外返回 kratos errors.Error（HTTP 状态码 + reason），业务码放在 metadata["code"]。

// Reason 常量，调用方使用 errors.Is 或 kratos errors.Reason 判断
const (
	ReasonInvalidAmount            = "INVALID_AMOUNT"
	ReasonNotFound                 = "NOT_FOUND"
	ReasonInvalidState             = "INVALID_STATE"
	ReasonAmountExceedsTransaction = "AMOUNT_EXCEEDS_TRANSACTION"
	ReasonGatewayError             = "GATEWAY_ERROR"
	ReasonReconciliationGap        = "RECONCILIATION_GAP"
	ReasonInvalidEvent             = "INVALID_EVENT"
	ReasonInvalidSignature         = "INVALID_SIGNATURE"
	ReasonConcurrentUpdate         = "CONCURRENT_UPDATE"
	ReasonLockFailed               = "LOCK_FAILED"
	ReasonDatabaseError            = "DATABASE_ERROR"
	ReasonInvalidArgument          = "INVALID_ARGUMENT"
)

// 金额模块错误码 (210100-210199)
const (
	// ErrCodeInvalidAmount 金额非法（格式错误或为负数）
	ErrCodeInvalidAmount = 210101
)

// 支付/流水模块错误码 (210200-210299)
const (
	// ErrCodeOrderNotFound 订单不存在
	ErrCodeOrderNotFound = 210201
	// ErrCodePaymentNotFound 支付记录不存在
	ErrCodePaymentNotFound = 210202
	// ErrCodeTransactionNotFound 支付流水不存在
	ErrCodeTransactionNotFound = 210203
	// ErrCodeInvalidState 当前流水状态不允许该操作
	ErrCodeInvalidState = 210204
	// ErrCodeInvalidMethod 不支持的支付方式
	ErrCodeInvalidMethod = 210205
)

// 退款模块错误码 (210300-210399)
const (
	// ErrCodeAmountExceedsTransaction 退款金额超过原流水金额
	ErrCodeAmountExceedsTransaction = 210301
)

// 网关模块错误码 (210400-210499)
const (
	// ErrCodeGatewayRejected 网关拒绝请求
	ErrCodeGatewayRejected = 210401
	// ErrCodeGatewayTimeout 网关调用超时
	ErrCodeGatewayTimeout = 210402
	// ErrCodeGatewayUnavailable 网关未配置或不可用
	ErrCodeGatewayUnavailable = 210403
)

// 对账模块错误码 (210500-210599)
const (
	// ErrCodeReconciliationGap 事件引用了未跟踪的流水且无法补建
	ErrCodeReconciliationGap = 210501
	// ErrCodeInvalidSignature 事件签名校验失败
	ErrCodeInvalidSignature = 210502
	// ErrCodeInvalidEventPayload 事件内容无法解析
	ErrCodeInvalidEventPayload = 210503
)

// 数据访问错误码 (210600-210699)
const (
	// ErrCodeConcurrentUpdate 乐观锁冲突
	ErrCodeConcurrentUpdate = 210601
	// ErrCodeLockFailed 获取分布式锁失败
	ErrCodeLockFailed = 210602
	// ErrCodeDatabaseError 数据库错误
	ErrCodeDatabaseError = 210603
)

func newError(httpCode int, code int, reason, message string) *kratosErrors.Error {
	return kratosErrors.New(httpCode, reason, message).
		WithMetadata(map[string]string{"code": strconv.Itoa(code)})
}

// 哨兵错误，可直接用于 errors.Is 比较（kratos Error 按 code + reason 判等）
var (
	ErrInvalidAmount            = newError(400, ErrCodeInvalidAmount, ReasonInvalidAmount, "invalid amount")
	ErrNotFound                 = newError(404, ErrCodeTransactionNotFound, ReasonNotFound, "not found")
	ErrInvalidState             = newError(409, ErrCodeInvalidState, ReasonInvalidState, "invalid state")
	ErrAmountExceedsTransaction = newError(422, ErrCodeAmountExceedsTransaction, ReasonAmountExceedsTransaction, "refund amount exceeds transaction amount")
	ErrGateway                  = newError(502, ErrCodeGatewayRejected, ReasonGatewayError, "payment gateway error")
	ErrReconciliationGap        = newError(422, ErrCodeReconciliationGap, ReasonReconciliationGap, "reconciliation gap")
	ErrInvalidEvent             = newError(400, ErrCodeInvalidEventPayload, ReasonInvalidEvent, "invalid gateway event")
	ErrInvalidSignature         = newError(401, ErrCodeInvalidSignature, ReasonInvalidSignature, "invalid event signature")
	ErrConcurrentUpdate         = newError(409, ErrCodeConcurrentUpdate, ReasonConcurrentUpdate, "concurrent update")
	ErrLockFailed               = newError(503, ErrCodeLockFailed, ReasonLockFailed, "acquire lock failed")
	ErrDatabase                 = newError(500, ErrCodeDatabaseError, ReasonDatabaseError, "database error")
	ErrInvalidArgument          = newError(400, ErrCodeInvalidMethod, ReasonInvalidArgument, "invalid argument")
)

// InvalidArgument 参数非法（支付方式、订单号等）
func InvalidArgument(format string, args ...interface{}) error {
	return withMessage(ErrInvalidArgument, format, args...)
}

// InvalidAmount 金额非法
func InvalidAmount(format string, args ...interface{}) error {
	return withMessage(ErrInvalidAmount, format, args...)
}

// NotFound 资源不存在，code 区分订单/支付/流水
func NotFound(code int, format string, args ...interface{}) error {
	return newError(404, code, ReasonNotFound, fmt.Sprintf(format, args...))
}

// InvalidState 状态不允许
func InvalidState(format string, args ...interface{}) error {
	return withMessage(ErrInvalidState, format, args...)
}

// AmountExceedsTransaction 退款金额超限
func AmountExceedsTransaction(format string, args ...interface{}) error {
	return withMessage(ErrAmountExceedsTransaction, format, args...)
}

// Gateway 包装网关错误，保留原始错误作为 cause
func Gateway(cause error, format string, args ...interface{}) error {
	e := kratosErrors.Clone(ErrGateway)
	e.Message = fmt.Sprintf(format, args...)
	return e.WithCause(cause)
}

// GatewayUnknown 网关超时或传输失败，调用结果未知，流水保持 pending 等待后续事件或主动查询
func GatewayUnknown(cause error, format string, args ...interface{}) error {
	e := kratosErrors.Clone(ErrGateway)
	e.Message = fmt.Sprintf(format, args...)
	e.Metadata = map[string]string{"code": strconv.Itoa(ErrCodeGatewayTimeout), "unknown_outcome": "true"}
	return e.WithCause(cause)
}

// ReconciliationGap 对账缺口
func ReconciliationGap(format string, args ...interface{}) error {
	return withMessage(ErrReconciliationGap, format, args...)
}

// InvalidEvent 事件内容无法解析
func InvalidEvent(cause error, format string, args ...interface{}) error {
	e := kratosErrors.Clone(ErrInvalidEvent)
	e.Message = fmt.Sprintf(format, args...)
	return e.WithCause(cause)
}

// InvalidSignature 事件签名校验失败
func InvalidSignature(format string, args ...interface{}) error {
	return withMessage(ErrInvalidSignature, format, args...)
}

// Database 包装数据库错误
func Database(cause error, format string, args ...interface{}) error {
	e := kratosErrors.Clone(ErrDatabase)
	e.Message = fmt.Sprintf(format, args...)
	return e.WithCause(cause)
}

// IsUnknownOutcome 网关错误是否为结果未知（超时、连接失败、5xx）
func IsUnknownOutcome(err error) bool {
	if err == nil {
		return false
	}
	e := kratosErrors.FromError(err)
	return e != nil && e.Metadata["unknown_outcome"] == "true"
}

func withMessage(base *kratosErrors.Error, format string, args ...interface{}) error {
	e := kratosErrors.Clone(base)
	e.Message = fmt.Sprintf(format, args...)
	return e
}
