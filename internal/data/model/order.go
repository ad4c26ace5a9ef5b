package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单表。订单由订单服务维护，账本只读取总价并回写 payment_status；
// 单店 sqlite 部署时由本服务建表。
type Order struct {
	OrderID       string          `gorm:"primaryKey;type:varchar(64)"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PaymentStatus string          `gorm:"type:varchar(32);not null;default:'pending'"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
