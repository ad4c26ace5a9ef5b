package biz

// Aggregate 由流水状态集合推导支付状态，按以下优先级匹配，先命中者生效：
//  1. 无流水 -> pending
//  2. 全部 refunded -> refunded
//  3. 至少一笔 refunded 且至少一笔 completed -> partially_refunded
//  4. 全部 completed -> completed
//  5. 存在 failed -> failed
//  6. 其余（含 pending） -> pending
//
// 纯函数，结果只取决于各状态的计数，与流水顺序无关。
func Aggregate(statuses []TransactionStatus) PaymentStatus {
	if len(statuses) == 0 {
		return PaymentStatusPending
	}

	var refunded, completed, failed int
	for _, s := range statuses {
		switch s {
		case TransactionStatusRefunded:
			refunded++
		case TransactionStatusCompleted:
			completed++
		case TransactionStatusFailed:
			failed++
		}
	}

	total := len(statuses)
	switch {
	case refunded == total:
		return PaymentStatusRefunded
	case refunded > 0 && completed > 0:
		return PaymentStatusPartiallyRefunded
	case completed == total:
		return PaymentStatusCompleted
	case failed > 0:
		return PaymentStatusFailed
	default:
		return PaymentStatusPending
	}
}

// AggregateTransactions 对流水列表做聚合
func AggregateTransactions(txns []*PaymentTransaction) PaymentStatus {
	statuses := make([]TransactionStatus, 0, len(txns))
	for _, t := range txns {
		statuses = append(statuses, t.Status)
	}
	return Aggregate(statuses)
}

// OrderStatusFor 计算支付状态同步到订单时的目标状态，changed=false 表示不写订单。
// pending 不会覆盖订单已有状态，避免迟到的 pending 把已结清订单降级。
func OrderStatusFor(status PaymentStatus, current OrderPaymentStatus) (OrderPaymentStatus, bool) {
	var next OrderPaymentStatus
	switch status {
	case PaymentStatusCompleted:
		next = OrderPaymentPaid
	case PaymentStatusFailed:
		next = OrderPaymentFailed
	case PaymentStatusRefunded:
		next = OrderPaymentRefunded
	case PaymentStatusPartiallyRefunded:
		next = OrderPaymentPartiallyRefunded
	default:
		return current, false
	}
	if next == current {
		return current, false
	}
	return next, true
}
