package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Direction string

const (
	DirectionCollection Direction = "COLLECTION"
	DirectionPayout     Direction = "PAYOUT"
)

func (d Direction) Valid() bool {
	return d == DirectionCollection || d == DirectionPayout
}

var (
	ErrOrderNotFound  = errors.New("order_not_found")
	ErrAmountMismatch = errors.New("amount_mismatch")
)

// Order is the unit of work. Created in StatusPending at acceptance, mutated
// only through state-machine-guarded conditional updates, never deleted.
type Order struct {
	ID snowflake.ID `json:"id" gorm:"primaryKey"`
	// OrderNo is the engine-generated order number exchanged with providers.
	OrderNo         string       `json:"order_no" gorm:"type:text;not null;uniqueIndex"`
	MerchantID      snowflake.ID `json:"merchant_id" gorm:"not null;index:ux_orders_merchant_order_no,unique,priority:1"`
	MerchantOrderNo string       `json:"merchant_order_no" gorm:"type:text;not null;index:ux_orders_merchant_order_no,unique,priority:2"`

	Direction Direction `json:"direction" gorm:"type:text;not null"`
	Amount    int64     `json:"amount" gorm:"not null"`
	Fee       int64     `json:"fee" gorm:"not null;default:0"`
	Currency  string    `json:"currency" gorm:"type:text;not null"`
	Status    Status    `json:"status" gorm:"type:text;not null"`

	ProviderConfigID snowflake.ID `json:"provider_config_id" gorm:"not null;index"`
	Provider         string       `json:"provider" gorm:"type:text;not null"`
	ProviderRef      string       `json:"provider_ref" gorm:"type:text"`
	UTR              string       `json:"utr" gorm:"column:utr;type:text"`

	NotifyURL string `json:"notify_url" gorm:"type:text"`
	PayURL    string `json:"pay_url" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }
