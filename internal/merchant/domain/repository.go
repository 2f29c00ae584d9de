package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrMerchantNotFound = errors.New("merchant_not_found")
	ErrMerchantInactive = errors.New("merchant_inactive")
	ErrConfigNotFound   = errors.New("provider_config_not_found")
	ErrConfigInactive   = errors.New("provider_config_inactive")
)

type Repository interface {
	FindMerchant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Merchant, error)
	FindConfigByChannel(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, channel string) (*ProviderConfig, error)
	FindConfigByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProviderConfig, error)
	// ListActiveConfigs returns the merchant's active configs for a
	// currency ordered by descending routing priority.
	ListActiveConfigs(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, currency string) ([]ProviderConfig, error)
	// ListActiveConfigsByProvider returns every active config bound to a
	// provider, across merchants. Used to resolve inbound callbacks.
	ListActiveConfigsByProvider(ctx context.Context, db *gorm.DB, provider string) ([]ProviderConfig, error)
}
