package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/merchant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindMerchant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Merchant, error) {
	var item domain.Merchant
	err := db.WithContext(ctx).
		Where("id = ?", id).
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

func (r *repo) FindConfigByChannel(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, channel string) (*domain.ProviderConfig, error) {
	var item domain.ProviderConfig
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND channel = ?", merchantID, strings.TrimSpace(channel)).
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

func (r *repo) FindConfigByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ProviderConfig, error) {
	var item domain.ProviderConfig
	err := db.WithContext(ctx).
		Where("id = ?", id).
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

func (r *repo) ListActiveConfigs(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, currency string) ([]domain.ProviderConfig, error) {
	var items []domain.ProviderConfig
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND currency = ? AND is_active = ?", merchantID, strings.ToUpper(strings.TrimSpace(currency)), true).
		Order("priority DESC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActiveConfigsByProvider(ctx context.Context, db *gorm.DB, provider string) ([]domain.ProviderConfig, error) {
	var items []domain.ProviderConfig
	err := db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", strings.ToLower(strings.TrimSpace(provider)), true).
		Order("priority DESC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
