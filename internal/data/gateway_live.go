package data

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"

	kratosErrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewPaymentGateway 按配置选择网关实现（启动时选定一次）
func NewPaymentGateway(c *conf.Bootstrap, logger log.Logger) (biz.PaymentGateway, error) {
	mode := constants.GatewayModeSandbox
	if c.Gateway != nil && c.Gateway.Mode != "" {
		mode = c.Gateway.Mode
	}
	switch mode {
	case constants.GatewayModeSandbox:
		log.NewHelper(logger).Warn("payment gateway running in sandbox mode")
		return NewSandboxGateway(logger), nil
	case constants.GatewayModeLive:
		return NewLiveGateway(c.Gateway, logger)
	default:
		return nil, fmt.Errorf("unsupported gateway mode: %s", mode)
	}
}

// liveGateway 真实网关 REST 客户端（kratos HTTP client）
type liveGateway struct {
	client *http.Client
	log    *log.Helper
}

type idempotencyKey struct{}

// NewLiveGateway 创建真实网关客户端
func NewLiveGateway(c *conf.Gateway, logger log.Logger) (biz.PaymentGateway, error) {
	if c == nil || c.Endpoint == "" {
		return nil, ledgerErrors.GatewayUnknown(nil, "gateway endpoint is not configured")
	}
	timeout := c.Timeout.AsDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := http.NewClient(
		context.Background(),
		http.WithEndpoint(c.Endpoint),
		http.WithTimeout(timeout),
		http.WithMiddleware(
			recovery.Recovery(),
			authMiddleware(c.ApiKey),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial payment gateway: %w", err)
	}
	return &liveGateway{
		client: client,
		log:    log.NewHelper(logger),
	}, nil
}

// authMiddleware 注入鉴权与幂等键请求头
func authMiddleware(apiKey string) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if tr, ok := transport.FromClientContext(ctx); ok {
				tr.RequestHeader().Set("Authorization", "Bearer "+apiKey)
				if key, ok := ctx.Value(idempotencyKey{}).(string); ok && key != "" {
					tr.RequestHeader().Set(constants.HeaderIdempotencyKey, key)
				}
			}
			return handler(ctx, req)
		}
	}
}

type intentRequest struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CaptureMethod string            `json:"capture_method"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type intentReply struct {
	ID               string            `json:"id"`
	ClientSecret     string            `json:"client_secret"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	LatestCharge     string            `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	Card             *biz.Card         `json:"card,omitempty"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error,omitempty"`
}

func (r *intentReply) toBiz() *biz.Intent {
	intent := &biz.Intent{
		ID:           r.ID,
		ClientSecret: r.ClientSecret,
		Status:       r.Status,
		AmountCents:  r.Amount,
		Currency:     r.Currency,
		ChargeID:     r.LatestCharge,
		Card:         r.Card,
		Metadata:     r.Metadata,
	}
	if r.LastPaymentError != nil {
		intent.FailureReason = r.LastPaymentError.Code
		if intent.FailureReason == "" {
			intent.FailureReason = r.LastPaymentError.Message
		}
	}
	return intent
}

type refundRequest struct {
	Charge string `json:"charge"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type refundReply struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Charge  string `json:"charge"`
	Reason  string `json:"reason"`
	Created int64  `json:"created"`
}

// CreateIntent 创建 manual capture 的支付意图
func (g *liveGateway) CreateIntent(ctx context.Context, req *biz.CreateIntentRequest) (*biz.Intent, error) {
	ctx = context.WithValue(ctx, idempotencyKey{}, req.IdempotencyKey)
	var reply intentReply
	err := g.client.Invoke(ctx, nethttp.MethodPost, "/v1/payment_intents", &intentRequest{
		Amount:        req.AmountCents,
		Currency:      req.Currency,
		CaptureMethod: "manual",
		Metadata:      req.Metadata,
	}, &reply)
	if err != nil {
		return nil, classifyGatewayError(constants.GatewayOpCreateIntent, err)
	}
	return reply.toBiz(), nil
}

// CaptureIntent 扣款
func (g *liveGateway) CaptureIntent(ctx context.Context, intentID string) (*biz.Intent, error) {
	var reply intentReply
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/capture"
	if err := g.client.Invoke(ctx, nethttp.MethodPost, path, struct{}{}, &reply); err != nil {
		return nil, classifyGatewayError(constants.GatewayOpCaptureIntent, err)
	}
	return reply.toBiz(), nil
}

// RetrieveIntent 查询支付意图
func (g *liveGateway) RetrieveIntent(ctx context.Context, intentID string) (*biz.Intent, error) {
	var reply intentReply
	path := "/v1/payment_intents/" + url.PathEscape(intentID)
	if err := g.client.Invoke(ctx, nethttp.MethodGet, path, nil, &reply); err != nil {
		return nil, classifyGatewayError(constants.GatewayOpRetrieveIntent, err)
	}
	return reply.toBiz(), nil
}

// CreateRefund 退款，幂等键保证重放不会重复退款
func (g *liveGateway) CreateRefund(ctx context.Context, req *biz.CreateRefundRequest) (*biz.Refund, error) {
	ctx = context.WithValue(ctx, idempotencyKey{}, req.IdempotencyKey)
	var reply refundReply
	err := g.client.Invoke(ctx, nethttp.MethodPost, "/v1/refunds", &refundRequest{
		Charge: req.Ref,
		Amount: req.AmountCents,
		Reason: req.Reason,
	}, &reply)
	if err != nil {
		return nil, classifyGatewayError(constants.GatewayOpCreateRefund, err)
	}
	refund := &biz.Refund{
		ID:          reply.ID,
		Status:      reply.Status,
		AmountCents: reply.Amount,
		ChargeID:    reply.Charge,
		Reason:      reply.Reason,
	}
	if reply.Created > 0 {
		refund.Created = time.Unix(reply.Created, 0)
	}
	if strings.EqualFold(refund.Status, constants.RefundStatusFailed) {
		return nil, ledgerErrors.Gateway(nil, "refund %s failed at gateway", refund.ID)
	}
	return refund, nil
}

// classifyGatewayError 4xx 视为网关明确拒绝；超时、连接失败与 5xx 视为结果未知
func classifyGatewayError(op string, err error) error {
	var se *kratosErrors.Error
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return ledgerErrors.Gateway(err, "gateway %s rejected: %s", op, se.Message)
	}
	return ledgerErrors.GatewayUnknown(err, "gateway %s failed: %v", op, err)
}
