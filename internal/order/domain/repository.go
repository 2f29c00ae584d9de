package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TransitionUpdate carries provider-supplied fields applied together with a
// status change. Empty strings leave the stored value untouched.
type TransitionUpdate struct {
	ProviderRef string
	UTR         string
	PayURL      string
}

type Repository interface {
	// Insert creates the order. Returns false without error when an order
	// with the same (merchant_id, merchant_order_no) already exists.
	Insert(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	FindByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*Order, error)
	FindByMerchantOrderNo(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, merchantOrderNo string) (*Order, error)
	// Transition atomically moves the order from expected current status to
	// next. Returns false when the precondition no longer holds, which the
	// caller treats as already handled.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, update TransitionUpdate) (bool, error)
	// SetUTR records a bank reference on a non-terminal order.
	SetUTR(ctx context.Context, db *gorm.DB, id snowflake.ID, utr string) (bool, error)
}
