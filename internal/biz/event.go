package biz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
)

// 网关事件类型别名，兼容 stripe 风格的事件名
var eventTypeAliases = map[string]string{
	constants.EventTypeSuccess:      constants.EventTypeSuccess,
	"payment_intent.succeeded":      constants.EventTypeSuccess,
	"charge.succeeded":              constants.EventTypeSuccess,
	constants.EventTypeFailure:      constants.EventTypeFailure,
	"payment_intent.payment_failed": constants.EventTypeFailure,
	"charge.failed":                 constants.EventTypeFailure,
	constants.EventTypeRefund:       constants.EventTypeRefund,
	"charge.refunded":               constants.EventTypeRefund,
}

// eventEnvelope 网关事件的线上格式
type eventEnvelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    eventData `json:"data"`
}

type eventData struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	ChargeID        string            `json:"charge_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	Card            *Card             `json:"card,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Refund          *eventRefund      `json:"refund,omitempty"`
}

type eventRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// DecodeEvent 解析网关事件，格式错误或缺少匹配所需的引用时返回 InvalidEvent。
// 未知事件类型不校验引用，保留原始类型名。
func DecodeEvent(payload []byte) (*GatewayEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ledgerErrors.InvalidEvent(err, "decode event: %v", err)
	}
	if env.ID == "" {
		return nil, ledgerErrors.InvalidEvent(nil, "event id is empty")
	}
	eventType, ok := eventTypeAliases[env.Type]
	if !ok {
		// 未订阅的事件类型原样返回，由 Handle 确认接收后忽略
		return &GatewayEvent{ID: env.ID, Type: env.Type}, nil
	}

	evt := &GatewayEvent{
		ID:            env.ID,
		Type:          eventType,
		IntentID:      env.Data.PaymentIntentID,
		ChargeID:      env.Data.ChargeID,
		AmountCents:   env.Data.Amount,
		Currency:      env.Data.Currency,
		Metadata:      env.Data.Metadata,
		Card:          env.Data.Card,
		FailureReason: env.Data.FailureReason,
	}
	if env.Created > 0 {
		evt.Created = time.Unix(env.Created, 0)
	}
	if env.Data.Refund != nil {
		evt.RefundID = env.Data.Refund.ID
		evt.RefundAmountCents = env.Data.Refund.Amount
		evt.RefundReason = env.Data.Refund.Reason
	}
	if evt.AmountCents < 0 || evt.RefundAmountCents < 0 {
		return nil, ledgerErrors.InvalidEvent(nil, "event %s carries a negative amount", evt.ID)
	}

	switch eventType {
	case constants.EventTypeRefund:
		// 退款只针对已扣款的 charge
		if evt.ChargeID == "" {
			return nil, ledgerErrors.InvalidEvent(nil, "refund event %s has no charge id", evt.ID)
		}
	default:
		if evt.IntentID == "" && evt.ChargeID == "" {
			return nil, ledgerErrors.InvalidEvent(nil, "event %s has no payment reference", evt.ID)
		}
	}
	return evt, nil
}

// EncodeEvent 生成事件的线上格式，sandbox 网关与测试使用
func EncodeEvent(evt *GatewayEvent) ([]byte, error) {
	env := eventEnvelope{
		ID:   evt.ID,
		Type: evt.Type,
		Data: eventData{
			PaymentIntentID: evt.IntentID,
			ChargeID:        evt.ChargeID,
			Amount:          evt.AmountCents,
			Currency:        evt.Currency,
			Metadata:        evt.Metadata,
			Card:            evt.Card,
			FailureReason:   evt.FailureReason,
		},
	}
	if !evt.Created.IsZero() {
		env.Created = evt.Created.Unix()
	}
	if evt.RefundID != "" || evt.RefundAmountCents > 0 {
		env.Data.Refund = &eventRefund{ID: evt.RefundID, Amount: evt.RefundAmountCents, Reason: evt.RefundReason}
	}
	return json.Marshal(env)
}

// EventVerifier 校验网关事件签名
// 签名头格式：t=<unix 秒>,v1=<hex(hmac_sha256(secret, "<t>.<payload>"))>
type EventVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewEventVerifier 创建签名校验器，tolerance<=0 时不校验时间戳
func NewEventVerifier(secret string, tolerance time.Duration) *EventVerifier {
	return &EventVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify 校验签名，失败返回 InvalidSignature
func (v *EventVerifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return ledgerErrors.InvalidSignature("webhook secret is not configured")
	}
	if header == "" {
		return ledgerErrors.InvalidSignature("missing %s header", constants.HeaderSignature)
	}

	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ledgerErrors.InvalidSignature("invalid signature timestamp %q", kv[1])
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ledgerErrors.InvalidSignature("malformed signature header")
	}

	if v.tolerance > 0 {
		skew := v.now().Sub(time.Unix(timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return ledgerErrors.InvalidSignature("signature timestamp outside tolerance (%s)", skew)
		}
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, sig := range signatures {
		given, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(given, expected) {
			return nil
		}
	}
	return ledgerErrors.InvalidSignature("signature mismatch")
}

// SignPayload 生成签名头，sandbox 网关与测试使用
func SignPayload(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature([]byte(secret), ts, payload)))
}

func computeSignature(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
