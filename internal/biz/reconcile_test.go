package biz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
)

// deliver 以网关签名投递事件
func (h *harness) deliver(evt *biz.GatewayEvent) error {
	h.t.Helper()
	payload, err := biz.EncodeEvent(evt)
	if err != nil {
		h.t.Fatalf("EncodeEvent() error: %v", err)
	}
	return h.reconcile.Ingest(context.Background(), payload, biz.SignPayload(testSecret, payload, time.Now()))
}

func snapshot(p *biz.Payment) (biz.PaymentStatus, []biz.TransactionStatus) {
	statuses := make([]biz.TransactionStatus, 0, len(p.Transactions))
	for _, t := range p.Transactions {
		statuses = append(statuses, t.Status)
	}
	return p.Status, statuses
}

func sameStatuses(a, b []biz.TransactionStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_x","type":"success","data":{"payment_intent_id":"pi_x"}}`)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong secret", header: biz.SignPayload("other", payload, time.Now())},
		{name: "stale", header: biz.SignPayload(testSecret, payload, time.Now().Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.reconcile.Ingest(context.Background(), payload, tt.header)
			if !errors.Is(err, ledgerErrors.ErrInvalidSignature) {
				t.Errorf("Ingest() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_y","type":"success","data":{}}`)
	err := h.reconcile.Ingest(context.Background(), payload, biz.SignPayload(testSecret, payload, time.Now()))
	if !errors.Is(err, ledgerErrors.ErrInvalidEvent) {
		t.Errorf("Ingest() error = %v, want ErrInvalidEvent", err)
	}
}

func TestIngestAcknowledgesUnhandledEventType(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-dsp", "5.00")
	txn := h.capturedCredit("o-dsp", "")
	wantStatus, wantLegs := snapshot(h.payment("o-dsp"))

	evt := &biz.GatewayEvent{ID: "evt_dispute", Type: "charge.dispute.created", ChargeID: txn.TransactionID}
	if err := h.deliver(evt); err != nil {
		t.Fatalf("Ingest() error = %v, want nil", err)
	}
	result, err := h.reconcile.Handle(context.Background(), evt)
	if err != nil || result != constants.EventResultIgnored {
		t.Errorf("Handle() = %s, %v, want ignored", result, err)
	}

	gotStatus, gotLegs := snapshot(h.payment("o-dsp"))
	if gotStatus != wantStatus || !sameStatuses(gotLegs, wantLegs) {
		t.Errorf("after unhandled event: %s %v, want %s %v", gotStatus, gotLegs, wantStatus, wantLegs)
	}
	if got := h.orderStatus("o-dsp"); got != biz.OrderPaymentPaid {
		t.Errorf("order status = %s, want paid", got)
	}
}

func TestEventReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-p2", "10.00")
	p := h.open("o-p2")
	h.record(p, &biz.Attempt{Method: biz.PaymentMethodCredit, Amount: dec("6.00"), ExternalRef: "pi_ok"})
	h.record(p, &biz.Attempt{Method: biz.PaymentMethodCredit, Amount: dec("4.00"), ExternalRef: "pi_bad"})

	events := []*biz.GatewayEvent{
		{ID: "evt_s", Type: constants.EventTypeSuccess, IntentID: "pi_ok", ChargeID: "ch_ok", AmountCents: 600},
		{ID: "evt_f", Type: constants.EventTypeFailure, IntentID: "pi_bad", AmountCents: 400, FailureReason: "insufficient_funds"},
		{ID: "evt_r", Type: constants.EventTypeRefund, ChargeID: "ch_ok", AmountCents: 600, RefundID: "re_1", RefundAmountCents: 600},
	}
	for _, evt := range events {
		if err := h.deliver(evt); err != nil {
			t.Fatalf("deliver(%s) error: %v", evt.ID, err)
		}
		wantStatus, wantLegs := snapshot(h.payment("o-p2"))
		wantOrder := h.orderStatus("o-p2")

		if err := h.deliver(evt); err != nil {
			t.Fatalf("redeliver(%s) error: %v", evt.ID, err)
		}
		result, err := h.reconcile.Handle(context.Background(), evt)
		if err != nil || result != constants.EventResultNoop {
			t.Errorf("Handle(%s) replay = %s, %v, want noop", evt.ID, result, err)
		}

		gotStatus, gotLegs := snapshot(h.payment("o-p2"))
		if gotStatus != wantStatus || !sameStatuses(gotLegs, wantLegs) {
			t.Errorf("after replay of %s: %s %v, want %s %v", evt.ID, gotStatus, gotLegs, wantStatus, wantLegs)
		}
		if got := h.orderStatus("o-p2"); got != wantOrder {
			t.Errorf("order status after replay of %s = %s, want %s", evt.ID, got, wantOrder)
		}
	}

	got := h.payment("o-p2")
	if got.Transactions[0].Status != biz.TransactionStatusRefunded || got.Transactions[1].Status != biz.TransactionStatusFailed {
		t.Errorf("final legs = %v", got.Transactions)
	}
	if got.Status != biz.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", got.Status)
	}
	if reason := got.Transactions[1].Metadata[constants.MetaFailureReason]; reason != "insufficient_funds" {
		t.Errorf("failure_reason = %v, want insufficient_funds", reason)
	}
}

func TestCompletedTransactionNeverMovesBackward(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-p4", "7.00")
	txn := h.capturedCredit("o-p4", "")
	ctx := context.Background()

	result, err := h.reconcile.Handle(ctx, &biz.GatewayEvent{
		ID:            "evt_late_fail",
		Type:          constants.EventTypeFailure,
		IntentID:      txn.IntentID,
		FailureReason: "card_declined",
	})
	if err != nil || result != constants.EventResultNoop {
		t.Fatalf("Handle(failure) = %s, %v, want noop", result, err)
	}
	if _, err := h.ledger.SyncTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("SyncTransaction() error: %v", err)
	}
	got := h.payment("o-p4")
	if got.Transactions[0].Status != biz.TransactionStatusCompleted || got.Status != biz.PaymentStatusCompleted {
		t.Errorf("completed leg moved to %s (payment %s)", got.Transactions[0].Status, got.Status)
	}

	// completed 只能到 refunded，refunded 之后不再变化
	if _, err := h.reconcile.Handle(ctx, &biz.GatewayEvent{
		ID: "evt_refund", Type: constants.EventTypeRefund, ChargeID: txn.TransactionID, AmountCents: 700,
	}); err != nil {
		t.Fatalf("Handle(refund) error: %v", err)
	}
	for _, evt := range []*biz.GatewayEvent{
		{ID: "evt_s2", Type: constants.EventTypeSuccess, ChargeID: txn.TransactionID},
		{ID: "evt_f2", Type: constants.EventTypeFailure, ChargeID: txn.TransactionID},
	} {
		result, err := h.reconcile.Handle(ctx, evt)
		if err != nil || result != constants.EventResultNoop {
			t.Errorf("Handle(%s) on refunded leg = %s, %v, want noop", evt.Type, result, err)
		}
	}
	if leg := h.payment("o-p4").Transactions[0]; leg.Status != biz.TransactionStatusRefunded {
		t.Errorf("leg status = %s, want refunded", leg.Status)
	}
	if s := h.orderStatus("o-p4"); s != biz.OrderPaymentRefunded {
		t.Errorf("order payment_status = %s, want refunded", s)
	}
}

func TestFailedLegRecoveredBySuccessEvent(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-retry", "3.00")
	p := h.open("o-retry")
	h.record(p, &biz.Attempt{Method: biz.PaymentMethodCredit, Amount: dec("3.00"), ExternalRef: "pi_retry"})
	ctx := context.Background()

	if _, err := h.reconcile.Handle(ctx, &biz.GatewayEvent{ID: "e1", Type: constants.EventTypeFailure, IntentID: "pi_retry"}); err != nil {
		t.Fatalf("Handle(failure) error: %v", err)
	}
	if got := h.payment("o-retry"); got.Status != biz.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", got.Status)
	}
	result, err := h.reconcile.Handle(ctx, &biz.GatewayEvent{ID: "e2", Type: constants.EventTypeSuccess, IntentID: "pi_retry", ChargeID: "ch_retry"})
	if err != nil || result != constants.EventResultApplied {
		t.Fatalf("Handle(success) = %s, %v", result, err)
	}
	if got := h.payment("o-retry"); got.Status != biz.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want completed", got.Status)
	}
	if s := h.orderStatus("o-retry"); s != biz.OrderPaymentPaid {
		t.Errorf("order payment_status = %s, want paid", s)
	}
}

func TestRefundEventPartialAmount(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-re", "10.00")
	txn := h.capturedCredit("o-re", "")

	result, err := h.reconcile.Handle(context.Background(), &biz.GatewayEvent{
		ID:                "evt_re",
		Type:              constants.EventTypeRefund,
		ChargeID:          txn.TransactionID,
		AmountCents:       1000,
		RefundID:          "re_part",
		RefundAmountCents: 250,
		RefundReason:      "requested_by_customer",
	})
	if err != nil || result != constants.EventResultApplied {
		t.Fatalf("Handle(refund) = %s, %v", result, err)
	}
	leg := h.payment("o-re").Transactions[0]
	if leg.Status != biz.TransactionStatusRefunded || !leg.RefundedAmount.Equal(dec("2.50")) {
		t.Errorf("leg = %s refunded %s, want refunded 2.50", leg.Status, leg.RefundedAmount)
	}
	if leg.Metadata[constants.MetaRefundID] != "re_part" {
		t.Errorf("refund_id = %v, want re_part", leg.Metadata[constants.MetaRefundID])
	}
}

func TestReconciliationGaps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		evt  *biz.GatewayEvent
	}{
		{
			name: "refund for untracked charge",
			evt:  &biz.GatewayEvent{ID: "g1", Type: constants.EventTypeRefund, ChargeID: "ch_unknown", AmountCents: 100},
		},
		{
			name: "success without order id",
			evt:  &biz.GatewayEvent{ID: "g2", Type: constants.EventTypeSuccess, IntentID: "pi_orphan", AmountCents: 100},
		},
		{
			name: "failure for unknown order",
			evt: &biz.GatewayEvent{ID: "g3", Type: constants.EventTypeFailure, IntentID: "pi_lost", AmountCents: 100,
				Metadata: map[string]string{constants.MetaOrderID: "missing"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.reconcile.Handle(ctx, tt.evt)
			if err != nil || result != constants.EventResultGap {
				t.Errorf("Handle() = %s, %v, want gap", result, err)
			}
			// 缺口事件对网关仍是成功接收
			if err := h.deliver(tt.evt); err != nil {
				t.Errorf("deliver() error = %v, want nil", err)
			}
		})
	}
	if _, err := h.ledger.GetPayment(ctx, "missing"); !errors.Is(err, ledgerErrors.ErrNotFound) {
		t.Errorf("gap created a payment for unknown order: %v", err)
	}
}

func TestFailureEventBeforeLocalTransaction(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("o-ff", "5.00")

	if err := h.deliver(&biz.GatewayEvent{
		ID:            "evt_ff",
		Type:          constants.EventTypeFailure,
		IntentID:      "pi_ff",
		AmountCents:   500,
		FailureReason: "expired_card",
		Metadata:      map[string]string{constants.MetaOrderID: "o-ff"},
	}); err != nil {
		t.Fatalf("deliver() error: %v", err)
	}
	got := h.payment("o-ff")
	if len(got.Transactions) != 1 || got.Transactions[0].Status != biz.TransactionStatusFailed {
		t.Fatalf("transactions = %+v, want one failed leg", got.Transactions)
	}
	if got.Status != biz.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", got.Status)
	}
	if s := h.orderStatus("o-ff"); s != biz.OrderPaymentFailed {
		t.Errorf("order payment_status = %s, want failed", s)
	}
}
