package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	// StatusPending means delivery is still owed; NextAttemptAt says when.
	StatusPending Status = "pending"
	// StatusDelivered means the merchant endpoint acknowledged with a 2xx.
	StatusDelivered Status = "delivered"
	// StatusFailed means every attempt was spent without an acknowledgement.
	StatusFailed Status = "failed"
)

// Notification is one owed merchant webhook for one order state change. The
// payload is frozen at enqueue time so redelivery always sends what the
// merchant was promised, not the order's current row.
type Notification struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID    snowflake.ID `json:"order_id" gorm:"not null;index"`
	MerchantID snowflake.ID `json:"merchant_id" gorm:"not null;index"`
	OrderNo    string       `json:"order_no" gorm:"type:text;not null"`

	URL     string         `json:"url" gorm:"type:text;not null"`
	Payload datatypes.JSON `json:"payload" gorm:"not null"`

	Status        Status    `json:"status" gorm:"type:text;not null;default:pending;index:ix_notifications_due,priority:1"`
	Attempts      int       `json:"attempts" gorm:"not null;default:0"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"not null;index:ix_notifications_due,priority:2"`
	LastError     string    `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, notification *Notification) error
	// FindDue returns pending notifications whose NextAttemptAt has passed.
	FindDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]Notification, error)
	// Claim bumps the attempt counter and pushes NextAttemptAt, conditional
	// on the observed attempt count. False means another dispatcher won.
	Claim(ctx context.Context, conn *gorm.DB, id snowflake.ID, observedAttempts int, nextAttemptAt, now time.Time) (bool, error)
	MarkDelivered(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error
	// RecordFailure stores the delivery error; exhausted moves the row to
	// StatusFailed so the dispatcher stops picking it up.
	RecordFailure(ctx context.Context, conn *gorm.DB, id snowflake.ID, lastError string, exhausted bool, now time.Time) error
}
