package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentTransaction 支付流水表
type PaymentTransaction struct {
	PaymentTransactionID string          `gorm:"primaryKey;type:varchar(36)"`
	PaymentID            string          `gorm:"type:varchar(36);not null;index:idx_payment_timestamp,priority:1"`
	PaymentMethod        string          `gorm:"type:varchar(16);not null"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	RefundedAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status               string          `gorm:"type:varchar(16);not null;index:idx_status_timestamp,priority:1"`
	// TransactionID 网关引用（charge id / intent id），唯一；未知时为 NULL
	TransactionID *string           `gorm:"type:varchar(128);uniqueIndex:uk_transaction_id"`
	IntentID      *string           `gorm:"type:varchar(128);index"`
	Metadata      datatypes.JSONMap `gorm:"type:json"`
	Timestamp     time.Time         `gorm:"not null;index:idx_payment_timestamp,priority:2;index:idx_status_timestamp,priority:2"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (PaymentTransaction) TableName() string {
	return "payment_transaction"
}
