package biz

import (
	"context"
	"errors"
	"time"

	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
	"pos-ledger/internal/metrics"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ReconcileUseCase 网关事件对账：验签、解析、去重，再按事件类型落账
//
// 每个处理器都可重入，重复投递同一事件得到相同的最终状态。
// 验签或解析失败返回错误让网关重试；验签通过后的处理失败只记录日志并确认接收。
type ReconcileUseCase struct {
	ledger   *LedgerUseCase
	verifier *EventVerifier
	cache    LedgerCache
	log      *log.Helper
	metrics  *metrics.LedgerMetrics
}

// NewEventVerifierFromConf 从网关配置创建签名校验器
func NewEventVerifierFromConf(c *conf.Bootstrap) *EventVerifier {
	if c == nil || c.Gateway == nil {
		return NewEventVerifier("", 0)
	}
	tolerance := c.Gateway.SignatureTolerance.AsDuration()
	if tolerance == 0 {
		tolerance = 5 * time.Minute
	}
	return NewEventVerifier(c.Gateway.WebhookSecret, tolerance)
}

// NewReconcileUseCase 创建对账 UseCase
func NewReconcileUseCase(ledger *LedgerUseCase, verifier *EventVerifier, cache LedgerCache, logger log.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{
		ledger:   ledger,
		verifier: verifier,
		cache:    cache,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// Ingest 接收一条网关事件。
// 返回 InvalidSignature / InvalidEvent 时调用方应拒收（网关会重试），其余情况均视为已接收。
func (uc *ReconcileUseCase) Ingest(ctx context.Context, payload []byte, signature string) error {
	if err := uc.verifier.Verify(payload, signature); err != nil {
		uc.reject("signature", err)
		return err
	}
	evt, err := DecodeEvent(payload)
	if err != nil {
		uc.reject("payload", err)
		return err
	}

	if uc.cache.IsEventProcessed(ctx, evt.ID) {
		uc.log.Debugf("event %s (%s) already processed, skip", evt.ID, evt.Type)
		uc.observe(evt.Type, constants.EventResultDup, time.Now())
		return nil
	}

	result, err := uc.Handle(ctx, evt)
	if err != nil {
		// 本系统内部故障不交给网关重试，记录后由运维跟进
		uc.log.Errorf("handle event %s (%s) failed, acknowledged without applying: %v", evt.ID, evt.Type, err)
		return nil
	}
	if result != constants.EventResultGap {
		uc.cache.MarkEventProcessed(ctx, evt.ID)
	}
	return nil
}

func (uc *ReconcileUseCase) reject(reason string, err error) {
	uc.log.Warnf("gateway event rejected (%s): %v", reason, err)
	if uc.metrics != nil {
		uc.metrics.EventRejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (uc *ReconcileUseCase) observe(eventType, result string, start time.Time) {
	if uc.metrics == nil {
		return
	}
	if _, ok := eventTypeAliases[eventType]; !ok {
		// 网关类型名不受控，避免标签基数膨胀
		eventType = "other"
	}
	uc.metrics.EventTotal.WithLabelValues(eventType, result).Inc()
	uc.metrics.EventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}

// Handle 按类型分发已验签的事件，返回处理结果（applied/noop/created/gap/ignored）
func (uc *ReconcileUseCase) Handle(ctx context.Context, evt *GatewayEvent) (result string, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			result = constants.EventResultError
		}
		uc.observe(evt.Type, result, start)
	}()

	switch evt.Type {
	case constants.EventTypeSuccess:
		return uc.HandleSuccess(ctx, evt)
	case constants.EventTypeFailure:
		return uc.HandleFailure(ctx, evt)
	case constants.EventTypeRefund:
		return uc.HandleRefund(ctx, evt)
	default:
		uc.log.Debugf("event %s has unhandled type %q, acknowledged", evt.ID, evt.Type)
		return constants.EventResultIgnored, nil
	}
}

// HandleSuccess 支付成功事件：按 intent id、charge id 依次匹配流水并置为 completed；
// 流水不存在时按事件 metadata 中的订单号补建一条 completed 流水。
func (uc *ReconcileUseCase) HandleSuccess(ctx context.Context, evt *GatewayEvent) (string, error) {
	return uc.settle(ctx, evt, TransactionStatusCompleted, func(t *PaymentTransaction) bool {
		return completeTransaction(t, evt.IntentID, evt.ChargeID, evt.Card)
	})
}

// HandleFailure 支付失败事件，与成功事件对称，失败原因写入 metadata
func (uc *ReconcileUseCase) HandleFailure(ctx context.Context, evt *GatewayEvent) (string, error) {
	return uc.settle(ctx, evt, TransactionStatusFailed, func(t *PaymentTransaction) bool {
		return failTransaction(t, evt.FailureReason)
	})
}

// HandleRefund 退款事件，只按 charge id 匹配；匹配不到视为对账缺口，不补建
func (uc *ReconcileUseCase) HandleRefund(ctx context.Context, evt *GatewayEvent) (string, error) {
	txn, err := uc.ledger.repo.FindTransactionByRef(ctx, evt.ChargeID)
	if err != nil {
		return "", err
	}
	if txn == nil {
		gap := ledgerErrors.ReconciliationGap("refund event %s references untracked charge %s", evt.ID, evt.ChargeID)
		uc.recordGap(evt, gap)
		return constants.EventResultGap, nil
	}

	amount := money.FromCents(evt.RefundAmountCents)
	if evt.RefundAmountCents == 0 {
		amount = money.FromCents(evt.AmountCents)
	}
	_, changed, err := uc.ledger.mutateTransaction(ctx, txn, func(t *PaymentTransaction) bool {
		return refundTransaction(t, evt.RefundID, amount, evt.RefundReason)
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return constants.EventResultNoop, nil
	}
	return constants.EventResultApplied, nil
}

// settle 成功/失败事件的公共流程
func (uc *ReconcileUseCase) settle(ctx context.Context, evt *GatewayEvent, target TransactionStatus, mutate func(t *PaymentTransaction) bool) (string, error) {
	txn, err := uc.match(ctx, evt)
	if err != nil {
		return "", err
	}
	if txn != nil {
		_, changed, err := uc.ledger.mutateTransaction(ctx, txn, mutate)
		if err != nil {
			return "", err
		}
		if !changed {
			return constants.EventResultNoop, nil
		}
		return constants.EventResultApplied, nil
	}
	return uc.recreate(ctx, evt, target, mutate)
}

// match 依次按 intent id、charge id 查找流水
func (uc *ReconcileUseCase) match(ctx context.Context, evt *GatewayEvent) (*PaymentTransaction, error) {
	for _, ref := range evt.Refs() {
		txn, err := uc.ledger.repo.FindTransactionByRef(ctx, ref)
		if err != nil {
			return nil, err
		}
		if txn != nil {
			return txn, nil
		}
	}
	return nil, nil
}

// recreate 事件先于本地流水到达：从事件 metadata 取订单号，补建流水。
// 订单无法定位时记录日志并丢弃，不向网关报错。
func (uc *ReconcileUseCase) recreate(ctx context.Context, evt *GatewayEvent, target TransactionStatus, mutate func(t *PaymentTransaction) bool) (string, error) {
	l := uc.ledger
	orderID := evt.Metadata[constants.MetaOrderID]
	if orderID == "" {
		uc.recordGap(evt, ledgerErrors.ReconciliationGap("%s event %s has no local transaction and no order id", evt.Type, evt.ID))
		return constants.EventResultGap, nil
	}
	payment, err := l.OpenPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledgerErrors.ErrNotFound) {
			uc.recordGap(evt, ledgerErrors.ReconciliationGap("%s event %s references unknown order %s", evt.Type, evt.ID, orderID))
			return constants.EventResultGap, nil
		}
		return "", err
	}

	result := constants.EventResultCreated
	err = l.runUnit(ctx, orderID, func(ctx context.Context, u *unit) error {
		p, err := l.lockPayment(ctx, u, payment.ID)
		if err != nil {
			return err
		}

		// 加锁后再查一次，可能已被并发的同步请求或重复事件写入
		existing, err := uc.match(ctx, evt)
		if err != nil {
			return err
		}
		if existing != nil {
			result = constants.EventResultNoop
			if !mutate(existing) {
				return nil
			}
			result = constants.EventResultApplied
			if err := l.repo.UpdateTransaction(ctx, existing); err != nil {
				return err
			}
			return l.recompute(ctx, u, p)
		}

		siblings, err := l.repo.ListTransactions(ctx, p.ID)
		if err != nil {
			return err
		}
		l.applySplit(p, siblings, PaymentMethodCredit, false)

		ref := evt.ChargeID
		if ref == "" {
			ref = evt.IntentID
		}
		txn := &PaymentTransaction{
			ID:             uuid.New().String(),
			PaymentID:      p.ID,
			Method:         PaymentMethodCredit,
			Amount:         money.FromCents(evt.AmountCents),
			RefundedAmount: money.Zero,
			Status:         TransactionStatusPending,
			TransactionID:  ref,
			IntentID:       evt.IntentID,
			Timestamp:      time.Now(),
		}
		txn.MergeMetadata(map[string]interface{}{
			constants.MetaOrderID:       orderID,
			constants.MetaRecoveredFrom: evt.ID,
			constants.MetaSource:        "event",
		})
		mutate(txn)
		if txn.Status != target {
			txn.Status = target
		}
		if err := l.repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		return l.recompute(ctx, u, p)
	})
	if err != nil {
		return "", err
	}
	if result == constants.EventResultCreated {
		uc.log.Warnf("%s event %s arrived before its transaction, recreated under order=%s", evt.Type, evt.ID, orderID)
	}
	return result, nil
}

func (uc *ReconcileUseCase) recordGap(evt *GatewayEvent, gap error) {
	uc.log.Warnf("reconciliation gap: %v", gap)
	if uc.metrics != nil {
		uc.metrics.ReconciliationGapTotal.WithLabelValues(evt.Type).Inc()
	}
}
