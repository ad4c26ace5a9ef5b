package data

import (
	"context"
	"strings"
	"sync"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// sandbox 扣款结果
const (
	SandboxOutcomeDecline = "decline"
	SandboxOutcomeTimeout = "timeout"
)

// SandboxGateway 内存实现的支付网关，用于开发环境与测试
//
// 创建的 intent 处于 requires_capture，capture 默认成功并生成 charge；
// 同一幂等键的请求返回同一结果。
type SandboxGateway struct {
	mu       sync.Mutex
	intents  map[string]*biz.Intent
	refunds  map[string]*biz.Refund // 幂等键 -> 退款
	byKey    map[string]string      // 幂等键 -> intent id
	failures map[string]error       // 操作名 -> 下一次调用返回的错误
	outcomes map[string]string      // intent id -> 扣款结果
	log      *log.Helper
}

// NewSandboxGateway 创建 sandbox 网关
func NewSandboxGateway(logger log.Logger) *SandboxGateway {
	return &SandboxGateway{
		intents:  make(map[string]*biz.Intent),
		refunds:  make(map[string]*biz.Refund),
		byKey:    make(map[string]string),
		failures: make(map[string]error),
		outcomes: make(map[string]string),
		log:      log.NewHelper(logger),
	}
}

// FailNext 让下一次 op 调用返回 err（op 取 constants.GatewayOp*）
func (g *SandboxGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// SetCaptureOutcome 指定 intent 的扣款结果：decline 拒绝，timeout 结果未知（之后查询时成功）
func (g *SandboxGateway) SetCaptureOutcome(intentID, outcome string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[intentID] = outcome
}

// RefundCount 已创建的退款数（同一幂等键只计一次）
func (g *SandboxGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

// IntentCount 已创建的 intent 数
func (g *SandboxGateway) IntentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

// Intent 返回 intent 的副本
func (g *SandboxGateway) Intent(id string) (*biz.Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok {
		return nil, false
	}
	cp := *in
	return &cp, true
}

func (g *SandboxGateway) takeFailure(op string) error {
	err, ok := g.failures[op]
	if !ok {
		return nil
	}
	delete(g.failures, op)
	return err
}

// CreateIntent 创建支付意图
func (g *SandboxGateway) CreateIntent(ctx context.Context, req *biz.CreateIntentRequest) (*biz.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledgerErrors.GatewayUnknown(err, "create intent: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(constants.GatewayOpCreateIntent); err != nil {
		return nil, err
	}
	if req.AmountCents <= 0 {
		return nil, ledgerErrors.Gateway(nil, "amount must be a positive number of cents")
	}
	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		cp := *g.intents[id]
		return &cp, nil
	}

	id := "pi_sandbox_" + compactID()
	intent := &biz.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + compactID()[:12],
		Status:       constants.IntentStatusRequiresCapture,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Metadata:     copyStringMap(req.Metadata),
	}
	g.intents[id] = intent
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = id
	}
	g.log.Debugf("sandbox intent %s created: %d %s", id, req.AmountCents, req.Currency)
	cp := *intent
	return &cp, nil
}

// CaptureIntent 扣款，默认成功
func (g *SandboxGateway) CaptureIntent(ctx context.Context, intentID string) (*biz.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledgerErrors.GatewayUnknown(err, "capture intent %s: %v", intentID, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(constants.GatewayOpCaptureIntent); err != nil {
		return nil, err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, ledgerErrors.Gateway(nil, "no such payment intent: %s", intentID)
	}

	switch intent.Status {
	case constants.IntentStatusSucceeded:
		cp := *intent
		return &cp, nil
	case constants.IntentStatusFailed, constants.IntentStatusCanceled:
		return nil, ledgerErrors.Gateway(nil, "payment intent %s is %s", intentID, intent.Status)
	}

	switch g.outcomes[intentID] {
	case SandboxOutcomeDecline:
		intent.Status = constants.IntentStatusFailed
		intent.FailureReason = "card_declined"
		return nil, ledgerErrors.Gateway(nil, "card declined")
	case SandboxOutcomeTimeout:
		intent.Status = constants.IntentStatusProcessing
		return nil, ledgerErrors.GatewayUnknown(context.DeadlineExceeded, "capture intent %s timed out", intentID)
	}

	intent.Status = constants.IntentStatusSucceeded
	intent.ChargeID = "ch_sandbox_" + compactID()
	intent.Card = &biz.Card{Brand: "visa", Last4: "4242"}
	cp := *intent
	return &cp, nil
}

// RetrieveIntent 查询支付意图；处于 processing 的 intent 在查询时完成扣款
func (g *SandboxGateway) RetrieveIntent(ctx context.Context, intentID string) (*biz.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledgerErrors.GatewayUnknown(err, "retrieve intent %s: %v", intentID, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(constants.GatewayOpRetrieveIntent); err != nil {
		return nil, err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, ledgerErrors.Gateway(nil, "no such payment intent: %s", intentID)
	}
	if intent.Status == constants.IntentStatusProcessing {
		intent.Status = constants.IntentStatusSucceeded
		intent.ChargeID = "ch_sandbox_" + compactID()
		intent.Card = &biz.Card{Brand: "visa", Last4: "4242"}
	}
	cp := *intent
	return &cp, nil
}

// CreateRefund 退款，同一幂等键只退一次
func (g *SandboxGateway) CreateRefund(ctx context.Context, req *biz.CreateRefundRequest) (*biz.Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledgerErrors.GatewayUnknown(err, "create refund: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(constants.GatewayOpCreateRefund); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if refund, ok := g.refunds[req.IdempotencyKey]; ok {
			cp := *refund
			return &cp, nil
		}
	}
	if req.AmountCents <= 0 {
		return nil, ledgerErrors.Gateway(nil, "refund amount must be positive")
	}
	if req.Ref == "" {
		return nil, ledgerErrors.Gateway(nil, "refund requires a charge or intent reference")
	}

	refund := &biz.Refund{
		ID:          "re_sandbox_" + compactID(),
		Status:      constants.RefundStatusSucceeded,
		AmountCents: req.AmountCents,
		ChargeID:    req.Ref,
		Reason:      req.Reason,
		Created:     time.Now(),
	}
	key := req.IdempotencyKey
	if key == "" {
		key = refund.ID
	}
	g.refunds[key] = refund
	cp := *refund
	return &cp, nil
}

func compactID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
