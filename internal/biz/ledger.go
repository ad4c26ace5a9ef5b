package biz

import (
	"context"
	"errors"
	"time"

	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
	"pos-ledger/internal/metrics"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Attempt 一笔支付尝试（一个支付腿）
type Attempt struct {
	Method PaymentMethod
	Amount decimal.Decimal
	// ExternalRef 网关引用（同步拿到的 intent id / charge id），可为空
	ExternalRef string
	// IntentID 网关 intent id，charge id 回填后仍可用于匹配
	IntentID string
	// Split 调用方明确标记为拆分支付的一条腿
	Split    bool
	Metadata map[string]interface{}
}

// RefundRequest 退款请求
type RefundRequest struct {
	// TransactionID 流水 id 或网关引用
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
}

// IntentResult 创建支付意图的结果
type IntentResult struct {
	Payment      *Payment
	Transaction  *PaymentTransaction
	IntentID     string
	ClientSecret string
}

// LedgerUseCase 支付账本业务逻辑
// 所有改动流水的操作都在 runUnit 中执行：订单级分布式锁 + 数据库事务 + 支付行锁，
// 并在同一事务内重新聚合支付状态、同步订单状态。
type LedgerUseCase struct {
	repo      PaymentRepo
	orders    OrderRepo
	tx        Transaction
	locker    Locker
	cache     LedgerCache
	publisher StatusPublisher
	gateway   PaymentGateway
	conf      *LedgerConfig
	log       *log.Helper
	metrics   *metrics.LedgerMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(
	repo PaymentRepo,
	orders OrderRepo,
	tx Transaction,
	locker Locker,
	cache LedgerCache,
	publisher StatusPublisher,
	gateway PaymentGateway,
	conf *LedgerConfig,
	logger log.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		repo:      repo,
		orders:    orders,
		tx:        tx,
		locker:    locker,
		cache:     cache,
		publisher: publisher,
		gateway:   gateway,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// unit 一次原子操作内的支付状态变化，提交后用于缓存、消息和指标
type unit struct {
	payment     *Payment
	from        PaymentStatus
	orderStatus OrderPaymentStatus
	orderSynced bool
}

// runUnit 在订单锁与数据库事务中执行 fn，乐观锁冲突时整体重试
func (uc *LedgerUseCase) runUnit(ctx context.Context, orderID string, fn func(ctx context.Context, u *unit) error) error {
	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyOrderLock+orderID)
	if err != nil {
		return err
	}
	defer unlock()

	var u *unit
	for attempt := 0; ; attempt++ {
		u = &unit{}
		err = uc.tx.InTx(ctx, func(ctx context.Context) error {
			return fn(ctx, u)
		})
		if err == nil {
			break
		}
		if errors.Is(err, ledgerErrors.ErrConcurrentUpdate) && attempt < uc.conf.MaxUnitRetries {
			if uc.metrics != nil {
				uc.metrics.OptimisticRetryTotal.Inc()
			}
			uc.log.Warnf("payment version conflict for order=%s, retry %d", orderID, attempt+1)
			continue
		}
		return err
	}

	uc.afterCommit(u)
	return nil
}

// lockPayment 事务内锁定支付行
func (uc *LedgerUseCase) lockPayment(ctx context.Context, u *unit, paymentID string) (*Payment, error) {
	p, err := uc.repo.LockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ledgerErrors.NotFound(ledgerErrors.ErrCodePaymentNotFound, "payment %s not found", paymentID)
	}
	u.from = p.Status
	return p, nil
}

// recompute 重新聚合支付状态并同步订单，每次改动流水后都必须调用
func (uc *LedgerUseCase) recompute(ctx context.Context, u *unit, p *Payment) error {
	txns, err := uc.repo.ListTransactions(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Status = AggregateTransactions(txns)
	if err := uc.repo.UpdatePayment(ctx, p); err != nil {
		return err
	}
	p.Transactions = txns
	u.payment = p

	order, err := uc.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		uc.log.Warnf("order %s not found while syncing payment %s status", p.OrderID, p.ID)
		return nil
	}
	next, changed := OrderStatusFor(p.Status, order.PaymentStatus)
	if !changed {
		return nil
	}
	if err := uc.orders.SetPaymentStatus(ctx, p.OrderID, next); err != nil {
		return err
	}
	u.orderStatus = next
	u.orderSynced = true
	return nil
}

// afterCommit 提交后的副作用：缓存状态、发布变更消息，失败只记录日志
func (uc *LedgerUseCase) afterCommit(u *unit) {
	if u == nil || u.payment == nil {
		return
	}
	p := u.payment

	// 使用独立的 context，避免请求结束后取消
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	uc.cache.SetPaymentStatus(ctx, p.OrderID, p.Status)

	if u.from == p.Status && !u.orderSynced {
		return
	}
	if u.from != p.Status {
		uc.log.Infof("payment %s (order=%s) status %s -> %s", p.ID, p.OrderID, u.from, p.Status)
		if uc.metrics != nil {
			uc.metrics.PaymentStatusTotal.WithLabelValues(string(p.Status)).Inc()
		}
	}
	msg := &PaymentStatusChanged{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		From:        u.from,
		To:          p.Status,
		OrderStatus: u.orderStatus,
		IsSplit:     p.IsSplitPayment,
		Amount:      money.Format(p.Amount),
		OccurredAt:  time.Now(),
	}
	if err := uc.publisher.PublishStatusChanged(ctx, msg); err != nil {
		uc.log.Errorf("publish status change for payment %s failed: %v", p.ID, err)
	}
}

// callGateway 带超时的同步网关调用，并记录耗时与结果
func (uc *LedgerUseCase) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, uc.conf.GatewayTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if uc.metrics != nil {
		result := constants.ResultSuccess
		if err != nil {
			result = constants.ResultFailed
			if ledgerErrors.IsUnknownOutcome(err) {
				result = constants.ResultTimeout
			}
		}
		uc.metrics.GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		uc.metrics.GatewayCallTotal.WithLabelValues(op, result).Inc()
	}
	if err != nil {
		uc.log.Errorf("gateway %s failed: %v", op, err)
	}
	return err
}

// OpenPayment 获取或创建订单的支付记录（并发调用收敛到同一行）
func (uc *LedgerUseCase) OpenPayment(ctx context.Context, orderID string) (*Payment, error) {
	if orderID == "" {
		return nil, ledgerErrors.InvalidArgument("order id is required")
	}
	p, err := uc.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	order, err := uc.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ledgerErrors.NotFound(ledgerErrors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	p = &Payment{
		ID:      uuid.New().String(),
		OrderID: orderID,
		Amount:  money.Round(order.TotalPrice),
		Status:  PaymentStatusPending,
	}
	if err := uc.repo.CreatePayment(ctx, p); err != nil {
		// 创建失败可能是并发创建触发唯一索引冲突，重新获取
		existing, getErr := uc.repo.GetPaymentByOrderID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	uc.log.Infof("payment %s opened for order=%s amount=%s", p.ID, orderID, money.Format(p.Amount))
	return p, nil
}

// GetPayment 查询订单的支付记录及其按时间排序的流水
func (uc *LedgerUseCase) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	p, err := uc.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ledgerErrors.NotFound(ledgerErrors.ErrCodePaymentNotFound, "payment for order %s not found", orderID)
	}
	txns, err := uc.repo.ListTransactions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Transactions = txns
	return p, nil
}

// GetPaymentStatus 查询支付状态，优先读缓存
func (uc *LedgerUseCase) GetPaymentStatus(ctx context.Context, orderID string) (PaymentStatus, error) {
	if status, ok := uc.cache.GetPaymentStatus(ctx, orderID); ok {
		return status, nil
	}
	p, err := uc.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", ledgerErrors.NotFound(ledgerErrors.ErrCodePaymentNotFound, "payment for order %s not found", orderID)
	}
	uc.cache.SetPaymentStatus(ctx, orderID, p.Status)
	return p.Status, nil
}

// RecordAttempt 记录一笔支付尝试：现金直接 completed，其余方式 pending 等待网关确认
func (uc *LedgerUseCase) RecordAttempt(ctx context.Context, payment *Payment, attempt *Attempt) (*PaymentTransaction, error) {
	if payment == nil || attempt == nil {
		return nil, ledgerErrors.InvalidArgument("payment and attempt are required")
	}
	if !attempt.Method.IsLegMethod() {
		return nil, ledgerErrors.InvalidArgument("unsupported payment method %q", attempt.Method)
	}
	// 先规整到分再校验，不足 1 分的金额不落账
	rounded := *attempt
	rounded.Amount = money.Round(attempt.Amount)
	if err := money.RequirePositive(rounded.Amount); err != nil {
		return nil, err
	}

	status := TransactionStatusPending
	if attempt.Method == PaymentMethodCash {
		status = TransactionStatusCompleted
	}
	txn, err := uc.recordLeg(ctx, payment, &rounded, status)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.AttemptTotal.WithLabelValues(string(attempt.Method), string(txn.Status)).Inc()
	}
	return txn, nil
}

// recordLeg 在一个原子单元内新增流水并重新聚合；已记录过的网关引用直接返回原流水
func (uc *LedgerUseCase) recordLeg(ctx context.Context, payment *Payment, attempt *Attempt, status TransactionStatus) (*PaymentTransaction, error) {
	var result *PaymentTransaction
	err := uc.runUnit(ctx, payment.OrderID, func(ctx context.Context, u *unit) error {
		p, err := uc.lockPayment(ctx, u, payment.ID)
		if err != nil {
			return err
		}

		if attempt.ExternalRef != "" {
			existing, err := uc.repo.FindTransactionByRef(ctx, attempt.ExternalRef)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.PaymentID != p.ID {
					return ledgerErrors.InvalidState("gateway reference %s belongs to another payment", attempt.ExternalRef)
				}
				result = existing
				return nil
			}
		}

		siblings, err := uc.repo.ListTransactions(ctx, p.ID)
		if err != nil {
			return err
		}
		uc.applySplit(p, siblings, attempt.Method, attempt.Split)

		txn := &PaymentTransaction{
			ID:             uuid.New().String(),
			PaymentID:      p.ID,
			Method:         attempt.Method,
			Amount:         money.Round(attempt.Amount),
			RefundedAmount: money.Zero,
			Status:         status,
			TransactionID:  attempt.ExternalRef,
			IntentID:       attempt.IntentID,
			Timestamp:      time.Now(),
		}
		txn.MergeMetadata(attempt.Metadata)
		if err := uc.repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		result = txn
		return uc.recompute(ctx, u, p)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applySplit 已有未失败的支付腿，或调用方明确标记时，父支付标记为拆分支付
func (uc *LedgerUseCase) applySplit(p *Payment, siblings []*PaymentTransaction, method PaymentMethod, split bool) {
	if !split {
		for _, s := range siblings {
			if s.IsLive() {
				split = true
				break
			}
		}
	}
	switch {
	case split:
		p.IsSplitPayment = true
		p.Method = PaymentMethodSplit
	case !p.IsSplitPayment:
		p.Method = method
	}
}

// CreatePaymentIntent 向网关创建支付意图并记录一笔 pending 的刷卡流水。
// amount 为空时取订单未覆盖的金额。网关明确拒绝时记录失败流水并返回 GatewayError。
//
// 同一订单的建单在 intent 锁内串行执行，计算剩余金额到落下 pending 流水之间
// 不会有第二笔建单插入。intent 锁与订单锁 key 不同，内部的原子单元照常加订单锁。
func (uc *LedgerUseCase) CreatePaymentIntent(ctx context.Context, orderID string, amount *decimal.Decimal) (*IntentResult, error) {
	p, err := uc.OpenPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyIntentLock+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var charge decimal.Decimal
	if amount != nil {
		charge = money.Round(*amount)
	} else {
		txns, err := uc.repo.ListTransactions(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		covered := money.Zero
		for _, t := range txns {
			if t.IsLive() {
				covered = covered.Add(t.Amount)
			}
		}
		charge = p.Amount.Sub(covered)
		if !charge.IsPositive() {
			return nil, ledgerErrors.InvalidState("order %s is already fully covered", orderID)
		}
	}
	if err := money.RequirePositive(charge); err != nil {
		return nil, err
	}

	var intent *Intent
	err = uc.callGateway(ctx, constants.GatewayOpCreateIntent, func(ctx context.Context) error {
		var callErr error
		intent, callErr = uc.gateway.CreateIntent(ctx, &CreateIntentRequest{
			AmountCents: money.ToCents(charge),
			Currency:    uc.conf.Currency,
			Metadata: map[string]string{
				constants.MetaOrderID:   orderID,
				constants.MetaPaymentID: p.ID,
			},
			IdempotencyKey: uuid.New().String(),
		})
		return callErr
	})
	if err != nil {
		if !ledgerErrors.IsUnknownOutcome(err) {
			// 网关明确拒绝：记录失败流水
			failed := &Attempt{
				Method:   PaymentMethodCredit,
				Amount:   charge,
				Metadata: map[string]interface{}{constants.MetaFailureReason: err.Error()},
			}
			if _, recErr := uc.recordLeg(ctx, p, failed, TransactionStatusFailed); recErr != nil {
				uc.log.Errorf("record failed intent for order=%s: %v", orderID, recErr)
			}
		}
		return nil, err
	}

	txn, err := uc.RecordAttempt(ctx, p, &Attempt{
		Method:      PaymentMethodCredit,
		Amount:      charge,
		ExternalRef: intent.ID,
		IntentID:    intent.ID,
		Metadata: map[string]interface{}{
			constants.MetaPaymentIntentID: intent.ID,
			constants.MetaSource:          "intent",
		},
	})
	if err != nil {
		return nil, err
	}
	return &IntentResult{
		Payment:      p,
		Transaction:  txn,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// CapturePayment 终端确认扣款。超时或连接失败时流水保持 pending，由事件或 SyncTransaction 补齐。
func (uc *LedgerUseCase) CapturePayment(ctx context.Context, intentID string) (*PaymentTransaction, error) {
	txn, err := uc.repo.FindTransactionByRef(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ledgerErrors.NotFound(ledgerErrors.ErrCodeTransactionNotFound, "transaction for intent %s not found", intentID)
	}
	switch txn.Status {
	case TransactionStatusCompleted:
		return txn, nil
	case TransactionStatusRefunded:
		return nil, ledgerErrors.InvalidState("transaction %s is already refunded", txn.ID)
	}

	var intent *Intent
	err = uc.callGateway(ctx, constants.GatewayOpCaptureIntent, func(ctx context.Context) error {
		var callErr error
		intent, callErr = uc.gateway.CaptureIntent(ctx, intentID)
		return callErr
	})
	if err != nil {
		if ledgerErrors.IsUnknownOutcome(err) {
			return nil, err
		}
		// 网关拒绝扣款（如卡被拒），流水置为失败
		if _, applyErr := uc.applyIntent(ctx, txn, &Intent{
			ID:            intentID,
			Status:        constants.IntentStatusFailed,
			FailureReason: err.Error(),
		}); applyErr != nil {
			uc.log.Errorf("mark transaction %s failed after capture error: %v", txn.ID, applyErr)
		}
		return nil, err
	}
	return uc.applyIntent(ctx, txn, intent)
}

// SyncTransaction 向网关查询 pending 流水的最新状态，按与事件相同的规则迁移
func (uc *LedgerUseCase) SyncTransaction(ctx context.Context, transactionID string) (*PaymentTransaction, error) {
	txn, err := uc.findTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != TransactionStatusPending {
		return txn, nil
	}
	intentID := txn.IntentID
	if intentID == "" {
		intentID = txn.TransactionID
	}
	if intentID == "" {
		return nil, ledgerErrors.InvalidState("transaction %s has no gateway reference to sync", txn.ID)
	}

	var intent *Intent
	err = uc.callGateway(ctx, constants.GatewayOpRetrieveIntent, func(ctx context.Context) error {
		var callErr error
		intent, callErr = uc.gateway.RetrieveIntent(ctx, intentID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return uc.applyIntent(ctx, txn, intent)
}

// SyncStalePending 定时任务：主动查询超时未确认的刷卡流水，返回状态已确定的数量
func (uc *LedgerUseCase) SyncStalePending(ctx context.Context) (int, error) {
	before := time.Now().Add(-uc.conf.StalePendingAfter)
	txns, err := uc.repo.ListStalePendingTransactions(ctx, before, uc.conf.ReconcileBatch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, t := range txns {
		if t.Method != PaymentMethodCredit || (t.IntentID == "" && t.TransactionID == "") {
			continue
		}
		updated, err := uc.SyncTransaction(ctx, t.ID)
		result := constants.ResultSuccess
		switch {
		case err != nil:
			result = constants.ResultFailed
			uc.log.Warnf("sync stale transaction %s failed: %v", t.ID, err)
		case updated.Status == TransactionStatusPending:
			result = constants.ResultUnchanged
		default:
			settled++
		}
		if uc.metrics != nil {
			uc.metrics.StaleSyncTotal.WithLabelValues(result).Inc()
		}
	}
	if len(txns) > 0 {
		uc.log.Infof("stale pending sync: checked=%d settled=%d", len(txns), settled)
	}
	return settled, nil
}

// applyIntent 将网关 intent 状态落到流水上，与事件处理使用相同的迁移规则
func (uc *LedgerUseCase) applyIntent(ctx context.Context, txn *PaymentTransaction, intent *Intent) (*PaymentTransaction, error) {
	current, _, err := uc.mutateTransaction(ctx, txn, func(t *PaymentTransaction) bool {
		switch intent.Status {
		case constants.IntentStatusSucceeded:
			return completeTransaction(t, intent.ID, intent.ChargeID, intent.Card)
		case constants.IntentStatusFailed, constants.IntentStatusCanceled:
			return failTransaction(t, intent.FailureReason)
		default:
			return false
		}
	})
	return current, err
}

// mutateTransaction 在原子单元内重新读取流水、迁移状态并聚合，返回最新流水与是否有变更
func (uc *LedgerUseCase) mutateTransaction(ctx context.Context, txn *PaymentTransaction, mutate func(t *PaymentTransaction) bool) (*PaymentTransaction, bool, error) {
	payment, err := uc.repo.GetPayment(ctx, txn.PaymentID)
	if err != nil {
		return nil, false, err
	}
	if payment == nil {
		return nil, false, ledgerErrors.NotFound(ledgerErrors.ErrCodePaymentNotFound, "payment %s not found", txn.PaymentID)
	}

	var (
		current *PaymentTransaction
		changed bool
	)
	err = uc.runUnit(ctx, payment.OrderID, func(ctx context.Context, u *unit) error {
		changed = false
		p, err := uc.lockPayment(ctx, u, payment.ID)
		if err != nil {
			return err
		}
		if current, err = uc.repo.GetTransaction(ctx, txn.ID); err != nil {
			return err
		}
		if current == nil {
			return ledgerErrors.NotFound(ledgerErrors.ErrCodeTransactionNotFound, "transaction %s not found", txn.ID)
		}
		if !mutate(current) {
			return nil
		}
		changed = true
		if err := uc.repo.UpdateTransaction(ctx, current); err != nil {
			return err
		}
		return uc.recompute(ctx, u, p)
	})
	if err != nil {
		return nil, false, err
	}
	return current, changed, nil
}

// RequestRefund 对一笔已完成的流水退款。刷卡流水先调用网关退款（幂等键由流水 id 派生），
// 现金直接标记；随后更新流水并重新聚合，整体在一个原子单元中完成。
func (uc *LedgerUseCase) RequestRefund(ctx context.Context, payment *Payment, req *RefundRequest) (*PaymentTransaction, error) {
	if payment == nil || req == nil {
		return nil, ledgerErrors.InvalidArgument("payment and refund request are required")
	}

	var result *PaymentTransaction
	err := uc.runUnit(ctx, payment.OrderID, func(ctx context.Context, u *unit) error {
		p, err := uc.lockPayment(ctx, u, payment.ID)
		if err != nil {
			return err
		}
		txn, err := uc.findTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if txn.PaymentID != p.ID {
			return ledgerErrors.NotFound(ledgerErrors.ErrCodeTransactionNotFound,
				"transaction %s not found under payment %s", req.TransactionID, p.ID)
		}
		if txn.Status != TransactionStatusCompleted {
			return ledgerErrors.InvalidState("cannot refund transaction %s in status %s", txn.ID, txn.Status)
		}
		amount := money.Round(req.Amount)
		if !amount.IsPositive() {
			return ledgerErrors.InvalidAmount("refund amount %s must be at least one cent", req.Amount.String())
		}
		if amount.GreaterThan(txn.Amount) {
			return ledgerErrors.AmountExceedsTransaction("refund amount %s exceeds transaction amount %s",
				money.Format(amount), money.Format(txn.Amount))
		}

		meta := map[string]interface{}{
			constants.MetaRefundAmount: money.Format(amount),
			constants.MetaRefundReason: req.Reason,
			constants.MetaRefundedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if txn.Method == PaymentMethodCredit {
			if txn.TransactionID == "" {
				return ledgerErrors.InvalidState("credit transaction %s has no gateway reference", txn.ID)
			}
			var refund *Refund
			err := uc.callGateway(ctx, constants.GatewayOpCreateRefund, func(ctx context.Context) error {
				var callErr error
				refund, callErr = uc.gateway.CreateRefund(ctx, &CreateRefundRequest{
					Ref:            txn.TransactionID,
					AmountCents:    money.ToCents(amount),
					Reason:         req.Reason,
					IdempotencyKey: "refund_" + txn.ID,
				})
				return callErr
			})
			if err != nil {
				return err
			}
			meta[constants.MetaRefundID] = refund.ID
		}

		txn.Status = TransactionStatusRefunded
		txn.RefundedAmount = amount
		txn.MergeMetadata(meta)
		if err := uc.repo.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		result = txn
		return uc.recompute(ctx, u, p)
	})
	if uc.metrics != nil {
		res := constants.ResultSuccess
		if err != nil {
			res = constants.ResultFailed
		}
		uc.metrics.RefundTotal.WithLabelValues(res).Inc()
		if err == nil {
			uc.metrics.RefundAmount.WithLabelValues(string(result.Method)).Add(result.RefundedAmount.InexactFloat64())
		}
	}
	if err != nil {
		return nil, err
	}
	uc.log.Infof("refunded %s on transaction %s (order=%s)", money.Format(result.RefundedAmount), result.ID, payment.OrderID)
	return result, nil
}

// findTransaction 按流水 id 查找，找不到时按网关引用查找
func (uc *LedgerUseCase) findTransaction(ctx context.Context, id string) (*PaymentTransaction, error) {
	if id == "" {
		return nil, ledgerErrors.InvalidArgument("transaction id is required")
	}
	txn, err := uc.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		if txn, err = uc.repo.FindTransactionByRef(ctx, id); err != nil {
			return nil, err
		}
	}
	if txn == nil {
		return nil, ledgerErrors.NotFound(ledgerErrors.ErrCodeTransactionNotFound, "transaction %s not found", id)
	}
	return txn, nil
}

// completeTransaction 流水置为 completed：回填 charge id，保留 intent id，附加卡信息。
// 已 completed 或状态机不允许时返回 false。
func completeTransaction(t *PaymentTransaction, intentID, chargeID string, card *Card) bool {
	if t.Status == TransactionStatusCompleted || !t.Status.CanTransitionTo(TransactionStatusCompleted) {
		return false
	}
	t.Status = TransactionStatusCompleted

	meta := map[string]interface{}{}
	if intentID != "" && t.IntentID == "" {
		t.IntentID = intentID
	}
	if t.IntentID != "" {
		meta[constants.MetaPaymentIntentID] = t.IntentID
	}
	if chargeID != "" && t.TransactionID != chargeID {
		t.TransactionID = chargeID
	}
	if chargeID != "" {
		meta[constants.MetaChargeID] = chargeID
	}
	if card != nil {
		meta[constants.MetaCardBrand] = card.Brand
		meta[constants.MetaCardLast4] = card.Last4
	}
	t.MergeMetadata(meta)
	return true
}

// failTransaction 流水置为 failed 并记录失败原因
func failTransaction(t *PaymentTransaction, reason string) bool {
	if t.Status == TransactionStatusFailed || !t.Status.CanTransitionTo(TransactionStatusFailed) {
		return false
	}
	t.Status = TransactionStatusFailed
	t.MergeMetadata(map[string]interface{}{constants.MetaFailureReason: reason})
	return true
}

// refundTransaction 流水置为 refunded，退款金额不超过原金额
func refundTransaction(t *PaymentTransaction, refundID string, amount decimal.Decimal, reason string) bool {
	if t.Status == TransactionStatusRefunded || !t.Status.CanTransitionTo(TransactionStatusRefunded) {
		return false
	}
	if !amount.IsPositive() || amount.GreaterThan(t.Amount) {
		amount = t.Amount
	}
	t.Status = TransactionStatusRefunded
	t.RefundedAmount = amount
	t.MergeMetadata(map[string]interface{}{
		constants.MetaRefundID:     refundID,
		constants.MetaRefundAmount: money.Format(amount),
		constants.MetaRefundReason: reason,
		constants.MetaRefundedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	return true
}
