package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, order *domain.Order) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, order_no, merchant_id, merchant_order_no, direction, amount, fee,
			currency, status, provider_config_id, provider, provider_ref, utr,
			notify_url, pay_url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id, merchant_order_no) DO NOTHING`,
		order.ID,
		order.OrderNo,
		order.MerchantID,
		order.MerchantOrderNo,
		order.Direction,
		order.Amount,
		order.Fee,
		order.Currency,
		order.Status,
		order.ProviderConfigID,
		order.Provider,
		order.ProviderRef,
		order.UTR,
		order.NotifyURL,
		order.PayURL,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByOrderNo(ctx context.Context, conn *gorm.DB, orderNo string) (*domain.Order, error) {
	var item domain.Order
	err := conn.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByMerchantOrderNo(ctx context.Context, conn *gorm.DB, merchantID snowflake.ID, merchantOrderNo string) (*domain.Order, error) {
	var item domain.Order
	err := conn.WithContext(ctx).
		Where("merchant_id = ? AND merchant_order_no = ?", merchantID, merchantOrderNo).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Transition is the single linearization point for an order: one conditional
// update keyed on (id, expected status). Concurrent writers race here and
// exactly one wins.
func (r *repo) Transition(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.Status, update domain.TransitionUpdate) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?,
		     provider_ref = CASE WHEN ? = '' THEN provider_ref ELSE ? END,
		     utr = CASE WHEN ? = '' THEN utr ELSE ? END,
		     pay_url = CASE WHEN ? = '' THEN pay_url ELSE ? END,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		update.ProviderRef, update.ProviderRef,
		update.UTR, update.UTR,
		update.PayURL, update.PayURL,
		time.Now().UTC(),
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetUTR(ctx context.Context, conn *gorm.DB, id snowflake.ID, utr string) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE orders
		 SET utr = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		utr,
		time.Now().UTC(),
		id,
		domain.StatusPending,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
