package data

import (
	"context"
	"errors"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/data/model"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// orderRepo 订单协作方：只读总价，回写支付状态
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单 repo
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetOrder 获取订单
func (r *orderRepo) GetOrder(ctx context.Context, orderID string) (*biz.Order, error) {
	var m model.Order
	if err := r.data.DB(ctx).Where("order_id = ?", orderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, ledgerErrors.Database(err, "query order %s: %v", orderID, err)
	}
	return &biz.Order{
		ID:            m.OrderID,
		TotalPrice:    m.TotalPrice,
		PaymentStatus: biz.OrderPaymentStatus(m.PaymentStatus),
	}, nil
}

// SetPaymentStatus 回写订单支付状态
func (r *orderRepo) SetPaymentStatus(ctx context.Context, orderID string, status biz.OrderPaymentStatus) error {
	if err := r.data.DB(ctx).Model(&model.Order{}).
		Where("order_id = ?", orderID).
		Update("payment_status", string(status)).Error; err != nil {
		return ledgerErrors.Database(err, "update order %s payment status: %v", orderID, err)
	}
	r.log.Infof("order %s payment_status -> %s", orderID, status)
	return nil
}
