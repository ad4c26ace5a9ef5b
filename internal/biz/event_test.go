package biz

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
)

func TestDecodeEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {
			"payment_intent_id": "pi_1",
			"charge_id": "ch_1",
			"amount": 1250,
			"currency": "usd",
			"metadata": {"order_id": "o-1"},
			"card": {"brand": "visa", "last4": "4242"}
		}
	}`)

	evt, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if evt.Type != constants.EventTypeSuccess {
		t.Errorf("Type = %s, want %s", evt.Type, constants.EventTypeSuccess)
	}
	if evt.IntentID != "pi_1" || evt.ChargeID != "ch_1" || evt.AmountCents != 1250 {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Metadata[constants.MetaOrderID] != "o-1" {
		t.Errorf("order_id = %q, want o-1", evt.Metadata[constants.MetaOrderID])
	}
	if evt.Card == nil || evt.Card.Last4 != "4242" {
		t.Errorf("card = %+v, want last4 4242", evt.Card)
	}
	if !evt.Created.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Created = %v", evt.Created)
	}
	if refs := evt.Refs(); len(refs) != 2 || refs[0] != "pi_1" || refs[1] != "ch_1" {
		t.Errorf("Refs() = %v, want [pi_1 ch_1]", refs)
	}
}

func TestDecodeEventRefund(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"id":"evt_2","type":"charge.refunded","data":{"charge_id":"ch_1","amount":1000,"refund":{"id":"re_1","amount":400,"reason":"requested_by_customer"}}}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if evt.Type != constants.EventTypeRefund || evt.RefundID != "re_1" || evt.RefundAmountCents != 400 {
		t.Errorf("unexpected refund event: %+v", evt)
	}
}

func TestDecodeEventInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{`},
		{name: "missing id", payload: `{"type":"success","data":{"payment_intent_id":"pi_1"}}`},
		{name: "no reference", payload: `{"id":"e","type":"success","data":{"amount":100}}`},
		{name: "refund without charge", payload: `{"id":"e","type":"refund","data":{"payment_intent_id":"pi_1"}}`},
		{name: "negative amount", payload: `{"id":"e","type":"success","data":{"charge_id":"ch_1","amount":-1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.payload))
			if !errors.Is(err, ledgerErrors.ErrInvalidEvent) {
				t.Errorf("DecodeEvent() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	// 未订阅的类型不要求引用字段
	evt, err := DecodeEvent([]byte(`{"id":"evt_d","type":"dispute.created","data":{}}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if evt.ID != "evt_d" || evt.Type != "dispute.created" {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := &GatewayEvent{
		ID:                "evt_3",
		Type:              constants.EventTypeRefund,
		ChargeID:          "ch_9",
		AmountCents:       900,
		RefundID:          "re_9",
		RefundAmountCents: 300,
		RefundReason:      "duplicate",
	}
	payload, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent() error: %v", err)
	}
	out, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if out.ChargeID != in.ChargeID || out.RefundAmountCents != in.RefundAmountCents || out.RefundReason != in.RefundReason {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestEventVerifier(t *testing.T) {
	const secret = "whsec_test"
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)

	v := NewEventVerifier(secret, 5*time.Minute)
	v.now = func() time.Time { return now }

	tests := []struct {
		name    string
		header  string
		payload []byte
		wantErr bool
	}{
		{name: "valid", header: SignPayload(secret, payload, now), payload: payload},
		{name: "valid within tolerance", header: SignPayload(secret, payload, now.Add(-4*time.Minute)), payload: payload},
		{name: "multiple signatures", header: SignPayload(secret, payload, now) + ",v1=deadbeef", payload: payload},
		{name: "empty header", header: "", payload: payload, wantErr: true},
		{name: "wrong secret", header: SignPayload("other", payload, now), payload: payload, wantErr: true},
		{name: "tampered payload", header: SignPayload(secret, payload, now), payload: []byte(`{"id":"evt_2"}`), wantErr: true},
		{name: "expired", header: SignPayload(secret, payload, now.Add(-10*time.Minute)), payload: payload, wantErr: true},
		{name: "malformed", header: "v1=abc", payload: payload, wantErr: true},
		{name: "bad timestamp", header: "t=abc,v1=00", payload: payload, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.payload, tt.header)
			if tt.wantErr {
				if !errors.Is(err, ledgerErrors.ErrInvalidSignature) {
					t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Verify() error: %v", err)
			}
		})
	}
}

func TestEventVerifierWithoutSecret(t *testing.T) {
	payload := []byte(`{}`)
	v := NewEventVerifier("", 0)
	err := v.Verify(payload, SignPayload("", payload, time.Now()))
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Verify() error = %v, want secret not configured", err)
	}
}
