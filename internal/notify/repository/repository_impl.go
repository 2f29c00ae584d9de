package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/notify/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, notification *domain.Notification) error {
	return conn.WithContext(ctx).Create(notification).Error
}

func (r *repo) FindDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Notification, error) {
	var items []domain.Notification
	err := conn.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.StatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim is conditional on the attempt count the caller observed, so two
// dispatchers reading the same due row cannot both send it.
func (r *repo) Claim(ctx context.Context, conn *gorm.DB, id snowflake.ID, observedAttempts int, nextAttemptAt, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE notifications
		 SET attempts = attempts + 1, next_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND attempts = ?`,
		nextAttemptAt,
		now,
		id,
		domain.StatusPending,
		observedAttempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkDelivered(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE notifications
		 SET status = ?, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusDelivered,
		now,
		id,
		domain.StatusPending,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, conn *gorm.DB, id snowflake.ID, lastError string, exhausted bool, now time.Time) error {
	status := domain.StatusPending
	if exhausted {
		status = domain.StatusFailed
	}
	return conn.WithContext(ctx).Exec(
		`UPDATE notifications
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		lastError,
		now,
		id,
		domain.StatusPending,
	).Error
}
