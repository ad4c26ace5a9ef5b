package data

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

func TestNewPaymentGatewayMode(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)

	gw, err := NewPaymentGateway(&conf.Bootstrap{}, logger)
	if err != nil {
		t.Fatalf("NewPaymentGateway(default) error: %v", err)
	}
	if _, ok := gw.(*SandboxGateway); !ok {
		t.Errorf("default gateway = %T, want *SandboxGateway", gw)
	}

	if _, err := NewPaymentGateway(&conf.Bootstrap{Gateway: &conf.Gateway{Mode: "paper"}}, logger); err == nil {
		t.Errorf("NewPaymentGateway(paper) succeeded, want error")
	}
	if _, err := NewPaymentGateway(&conf.Bootstrap{Gateway: &conf.Gateway{Mode: constants.GatewayModeLive}}, logger); err == nil {
		t.Errorf("NewPaymentGateway(live without endpoint) succeeded, want error")
	}
}

func TestSandboxGatewayIdempotency(t *testing.T) {
	gw := NewSandboxGateway(log.NewStdLogger(io.Discard))
	ctx := context.Background()

	req := &biz.CreateIntentRequest{AmountCents: 500, Currency: "usd", IdempotencyKey: "k1"}
	a, err := gw.CreateIntent(ctx, req)
	if err != nil {
		t.Fatalf("CreateIntent() error: %v", err)
	}
	b, err := gw.CreateIntent(ctx, req)
	if err != nil {
		t.Fatalf("CreateIntent() replay error: %v", err)
	}
	if a.ID != b.ID || a.Status != constants.IntentStatusRequiresCapture {
		t.Errorf("CreateIntent() replay = %s (%s), want %s", b.ID, b.Status, a.ID)
	}

	captured, err := gw.CaptureIntent(ctx, a.ID)
	if err != nil {
		t.Fatalf("CaptureIntent() error: %v", err)
	}
	if captured.Status != constants.IntentStatusSucceeded || captured.ChargeID == "" {
		t.Errorf("CaptureIntent() = %+v", captured)
	}

	refundReq := &biz.CreateRefundRequest{Ref: captured.ChargeID, AmountCents: 500, IdempotencyKey: "refund_1"}
	r1, err := gw.CreateRefund(ctx, refundReq)
	if err != nil {
		t.Fatalf("CreateRefund() error: %v", err)
	}
	r2, err := gw.CreateRefund(ctx, refundReq)
	if err != nil {
		t.Fatalf("CreateRefund() replay error: %v", err)
	}
	if r1.ID != r2.ID || gw.RefundCount() != 1 {
		t.Errorf("refund replay created %d refunds (%s, %s)", gw.RefundCount(), r1.ID, r2.ID)
	}
}

func TestSandboxGatewayFailNext(t *testing.T) {
	gw := NewSandboxGateway(log.NewStdLogger(io.Discard))
	ctx := context.Background()
	injected := ledgerErrors.GatewayUnknown(nil, "connection reset")

	gw.FailNext(constants.GatewayOpCreateIntent, injected)
	if _, err := gw.CreateIntent(ctx, &biz.CreateIntentRequest{AmountCents: 100}); !ledgerErrors.IsUnknownOutcome(err) {
		t.Errorf("CreateIntent() error = %v, want injected unknown outcome", err)
	}
	if _, err := gw.CreateIntent(ctx, &biz.CreateIntentRequest{AmountCents: 100}); err != nil {
		t.Errorf("CreateIntent() after injected failure error: %v", err)
	}
}

// fakeGatewayServer 模拟网关 REST 接口
type fakeGatewayServer struct {
	mu       sync.Mutex
	headers  []http.Header
	status   int
	response interface{}
	delay    time.Duration
}

func (s *fakeGatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	status, response, delay := s.status, s.response, s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *fakeGatewayServer) set(status int, response interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.response = status, response
}

func (s *fakeGatewayServer) lastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[len(s.headers)-1]
}

func newLiveTestGateway(t *testing.T, timeout time.Duration) (biz.PaymentGateway, *fakeGatewayServer, *httptest.Server) {
	t.Helper()
	fake := &fakeGatewayServer{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gw, err := NewLiveGateway(&conf.Gateway{
		Mode:     constants.GatewayModeLive,
		Endpoint: srv.URL,
		ApiKey:   "sk_test_123",
		Timeout:  conf.NewDuration(timeout),
	}, log.NewStdLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewLiveGateway() error: %v", err)
	}
	return gw, fake, srv
}

func TestLiveGatewayCreateIntent(t *testing.T) {
	gw, fake, _ := newLiveTestGateway(t, time.Second)
	fake.set(http.StatusOK, map[string]interface{}{
		"id":            "pi_live",
		"client_secret": "pi_live_secret",
		"status":        "requires_capture",
		"amount":        1250,
		"currency":      "usd",
	})

	intent, err := gw.CreateIntent(context.Background(), &biz.CreateIntentRequest{
		AmountCents:    1250,
		Currency:       "usd",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateIntent() error: %v", err)
	}
	if intent.ID != "pi_live" || intent.ClientSecret != "pi_live_secret" || intent.AmountCents != 1250 {
		t.Errorf("CreateIntent() = %+v", intent)
	}

	h := fake.lastHeader()
	if got := h.Get("Authorization"); got != "Bearer sk_test_123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get(constants.HeaderIdempotencyKey); got != "idem-1" {
		t.Errorf("Idempotency-Key = %q, want idem-1", got)
	}
}

func TestLiveGatewayCapture(t *testing.T) {
	gw, fake, _ := newLiveTestGateway(t, time.Second)
	fake.set(http.StatusOK, map[string]interface{}{
		"id":            "pi_live",
		"status":        "succeeded",
		"latest_charge": "ch_live",
		"card":          map[string]string{"brand": "mastercard", "last4": "4444"},
	})

	intent, err := gw.CaptureIntent(context.Background(), "pi_live")
	if err != nil {
		t.Fatalf("CaptureIntent() error: %v", err)
	}
	if intent.ChargeID != "ch_live" || intent.Card == nil || intent.Card.Last4 != "4444" {
		t.Errorf("CaptureIntent() = %+v", intent)
	}
	if got := fake.lastHeader().Get(constants.HeaderIdempotencyKey); got != "" {
		t.Errorf("capture sent Idempotency-Key %q", got)
	}
}

func TestLiveGatewayErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantUnknown bool
	}{
		{name: "card declined", status: http.StatusPaymentRequired},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "server error", status: http.StatusInternalServerError, wantUnknown: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantUnknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, fake, _ := newLiveTestGateway(t, time.Second)
			fake.set(tt.status, map[string]interface{}{"error": map[string]string{"code": "x", "message": "boom"}})

			_, err := gw.CaptureIntent(context.Background(), "pi_x")
			if !errors.Is(err, ledgerErrors.ErrGateway) {
				t.Fatalf("CaptureIntent() error = %v, want ErrGateway", err)
			}
			if got := ledgerErrors.IsUnknownOutcome(err); got != tt.wantUnknown {
				t.Errorf("IsUnknownOutcome() = %v, want %v", got, tt.wantUnknown)
			}
		})
	}
}

func TestLiveGatewayTimeoutIsUnknownOutcome(t *testing.T) {
	gw, fake, _ := newLiveTestGateway(t, 50*time.Millisecond)
	fake.mu.Lock()
	fake.delay = 300 * time.Millisecond
	fake.mu.Unlock()

	_, err := gw.RetrieveIntent(context.Background(), "pi_slow")
	if !ledgerErrors.IsUnknownOutcome(err) {
		t.Errorf("RetrieveIntent() error = %v, want unknown outcome", err)
	}
}

func TestLiveGatewayConnectionRefused(t *testing.T) {
	gw, _, srv := newLiveTestGateway(t, time.Second)
	srv.Close()

	_, err := gw.CreateRefund(context.Background(), &biz.CreateRefundRequest{Ref: "ch_1", AmountCents: 100, IdempotencyKey: "refund_1"})
	if !ledgerErrors.IsUnknownOutcome(err) {
		t.Errorf("CreateRefund() error = %v, want unknown outcome", err)
	}
}

func TestLiveGatewayRefundFailedStatus(t *testing.T) {
	gw, fake, _ := newLiveTestGateway(t, time.Second)
	fake.set(http.StatusOK, map[string]interface{}{"id": "re_1", "status": "failed", "charge": "ch_1", "amount": 100})

	_, err := gw.CreateRefund(context.Background(), &biz.CreateRefundRequest{Ref: "ch_1", AmountCents: 100, IdempotencyKey: "refund_t1"})
	if !errors.Is(err, ledgerErrors.ErrGateway) || ledgerErrors.IsUnknownOutcome(err) {
		t.Errorf("CreateRefund() error = %v, want definite gateway error", err)
	}
	if got := fake.lastHeader().Get(constants.HeaderIdempotencyKey); !strings.HasPrefix(got, "refund_") {
		t.Errorf("Idempotency-Key = %q", got)
	}
}
