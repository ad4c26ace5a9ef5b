package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment 支付表（与订单 1:1）
type Payment struct {
	PaymentID      string          `gorm:"primaryKey;type:varchar(36)"`
	OrderID        string          `gorm:"type:varchar(64);not null;uniqueIndex:uk_order_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status         string          `gorm:"type:varchar(32);not null;index"` // pending/completed/failed/partially_refunded/refunded
	PaymentMethod  string          `gorm:"type:varchar(16);not null"`       // cash/credit/split/other
	IsSplitPayment bool            `gorm:"not null"`
	Version        int             `gorm:"not null"` // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payment"
}
