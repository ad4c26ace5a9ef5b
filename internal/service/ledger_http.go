package service

import (
	"context"
	"io"

	"pos-ledger/internal/constants"

	_ "github.com/go-kratos/kratos/v2/encoding/json"
	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationLedgerOpenPayment         = "/ledger.v1.Ledger/OpenPayment"
	OperationLedgerGetPayment          = "/ledger.v1.Ledger/GetPayment"
	OperationLedgerRecordAttempt       = "/ledger.v1.Ledger/RecordAttempt"
	OperationLedgerCreatePaymentIntent = "/ledger.v1.Ledger/CreatePaymentIntent"
	OperationLedgerCapturePayment      = "/ledger.v1.Ledger/CapturePayment"
	OperationLedgerRequestRefund       = "/ledger.v1.Ledger/RequestRefund"
	OperationLedgerSyncTransaction     = "/ledger.v1.Ledger/SyncTransaction"
	OperationLedgerGatewayWebhook      = "/ledger.v1.Ledger/GatewayWebhook"
)

// maxWebhookBody 网关事件体上限
const maxWebhookBody = 1 << 20

// RegisterLedgerHTTPServer 注册账本 HTTP 路由
func RegisterLedgerHTTPServer(s *http.Server, srv *LedgerService) {
	r := s.Route("/")
	r.POST("/v1/orders/{order_id}/payment", _Ledger_OpenPayment0_HTTP_Handler(srv))
	r.GET("/v1/orders/{order_id}/payment", _Ledger_GetPayment0_HTTP_Handler(srv))
	r.POST("/v1/orders/{order_id}/payment/attempts", _Ledger_RecordAttempt0_HTTP_Handler(srv))
	r.POST("/v1/orders/{order_id}/payment/intents", _Ledger_CreatePaymentIntent0_HTTP_Handler(srv))
	r.POST("/v1/payment/intents/{intent_id}/capture", _Ledger_CapturePayment0_HTTP_Handler(srv))
	r.POST("/v1/orders/{order_id}/payment/refunds", _Ledger_RequestRefund0_HTTP_Handler(srv))
	r.POST("/v1/payment/transactions/{transaction_id}/sync", _Ledger_SyncTransaction0_HTTP_Handler(srv))
	r.POST("/webhooks/gateway", _Ledger_GatewayWebhook0_HTTP_Handler(srv))
}

func _Ledger_OpenPayment0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := OrderRequest{OrderID: ctx.Vars().Get("order_id")}
		http.SetOperation(ctx, OperationLedgerOpenPayment)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.OpenPayment(ctx, req.(*OrderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_GetPayment0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := OrderRequest{OrderID: ctx.Vars().Get("order_id")}
		http.SetOperation(ctx, OperationLedgerGetPayment)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetPayment(ctx, req.(*OrderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_RecordAttempt0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RecordAttemptRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.OrderID = ctx.Vars().Get("order_id")
		http.SetOperation(ctx, OperationLedgerRecordAttempt)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RecordAttempt(ctx, req.(*RecordAttemptRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_CreatePaymentIntent0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in CreateIntentRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.OrderID = ctx.Vars().Get("order_id")
		http.SetOperation(ctx, OperationLedgerCreatePaymentIntent)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CreatePaymentIntent(ctx, req.(*CreateIntentRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_CapturePayment0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := CaptureRequest{IntentID: ctx.Vars().Get("intent_id")}
		http.SetOperation(ctx, OperationLedgerCapturePayment)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CapturePayment(ctx, req.(*CaptureRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_RequestRefund0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RefundRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.OrderID = ctx.Vars().Get("order_id")
		http.SetOperation(ctx, OperationLedgerRequestRefund)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RequestRefund(ctx, req.(*RefundRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Ledger_SyncTransaction0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := SyncRequest{TransactionID: ctx.Vars().Get("transaction_id")}
		http.SetOperation(ctx, OperationLedgerSyncTransaction)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.SyncTransaction(ctx, req.(*SyncRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// webhook 需要原始请求体验签，不经过 Bind
func _Ledger_GatewayWebhook0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
		if err != nil {
			return errors.BadRequest("BODY", err.Error())
		}
		signature := ctx.Request().Header.Get(constants.HeaderSignature)
		http.SetOperation(ctx, OperationLedgerGatewayWebhook)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.HandleWebhook(ctx, req.([]byte), signature)
		})
		out, err := h(ctx, payload)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
