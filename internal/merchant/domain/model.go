package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Merchant struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Code         string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	NotifySecret string       `json:"-" gorm:"type:text;not null"`
	IsActive     bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Merchant) TableName() string { return "merchants" }

type ChannelKind string

const (
	// KindNative is a direct bank-channel provider.
	KindNative ChannelKind = "native"
	// KindWakeup triggers a secondary aggregator/app flow instead of a
	// direct bank API call.
	KindWakeup ChannelKind = "wakeup"
)

type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// ProviderConfig is one merchant's binding to one payment channel. It is
// read-only to order processing; mutation happens through the external
// management surface only.
type ProviderConfig struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	MerchantID  snowflake.ID `json:"merchant_id" gorm:"not null;index:ux_provider_configs_merchant_channel,unique,priority:1"`
	Channel     string       `json:"channel" gorm:"type:text;not null;index:ux_provider_configs_merchant_channel,unique,priority:2"`
	Provider    string       `json:"provider" gorm:"type:text;not null;index"`
	Kind        ChannelKind  `json:"kind" gorm:"type:text;not null"`
	Environment Environment  `json:"environment" gorm:"type:text;not null;default:sandbox"`

	AccountNo  string `json:"account_no" gorm:"type:text;not null"`
	Secret     string `json:"-" gorm:"type:text;not null"`
	SubChannel string `json:"sub_channel" gorm:"type:text"`
	Endpoint   string `json:"endpoint" gorm:"type:text;not null"`
	Currency   string `json:"currency" gorm:"type:text;not null"`

	CollectionEnabled      bool  `json:"collection_enabled" gorm:"not null;default:false"`
	CollectionMinAmount    int64 `json:"collection_min_amount" gorm:"not null;default:0"`
	CollectionMaxAmount    int64 `json:"collection_max_amount" gorm:"not null;default:0"`
	CollectionDailyLimit   int64 `json:"collection_daily_limit" gorm:"not null;default:0"`
	CollectionMonthlyLimit int64 `json:"collection_monthly_limit" gorm:"not null;default:0"`
	CollectionFeeBps       int64 `json:"collection_fee_bps" gorm:"not null;default:0"`
	CollectionFeeFixed     int64 `json:"collection_fee_fixed" gorm:"not null;default:0"`

	PayoutEnabled      bool  `json:"payout_enabled" gorm:"not null;default:false"`
	PayoutMinAmount    int64 `json:"payout_min_amount" gorm:"not null;default:0"`
	PayoutMaxAmount    int64 `json:"payout_max_amount" gorm:"not null;default:0"`
	PayoutDailyLimit   int64 `json:"payout_daily_limit" gorm:"not null;default:0"`
	PayoutMonthlyLimit int64 `json:"payout_monthly_limit" gorm:"not null;default:0"`
	PayoutFeeBps       int64 `json:"payout_fee_bps" gorm:"not null;default:0"`
	PayoutFeeFixed     int64 `json:"payout_fee_fixed" gorm:"not null;default:0"`

	Priority  int    `json:"priority" gorm:"not null;default:0"`
	NotifyURL string `json:"notify_url" gorm:"type:text"`
	ReturnURL string `json:"return_url" gorm:"type:text"`
	IsActive  bool   `json:"is_active" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// Limits are the per-direction amount constraints of a config. Zero means
// unbounded for max/daily/monthly and no floor for min.
type Limits struct {
	MinAmount    int64
	MaxAmount    int64
	DailyLimit   int64
	MonthlyLimit int64
}

func (c *ProviderConfig) SupportsDirection(direction string) bool {
	switch direction {
	case "COLLECTION":
		return c.CollectionEnabled
	case "PAYOUT":
		return c.PayoutEnabled
	default:
		return false
	}
}

func (c *ProviderConfig) LimitsFor(direction string) Limits {
	if direction == "PAYOUT" {
		return Limits{
			MinAmount:    c.PayoutMinAmount,
			MaxAmount:    c.PayoutMaxAmount,
			DailyLimit:   c.PayoutDailyLimit,
			MonthlyLimit: c.PayoutMonthlyLimit,
		}
	}
	return Limits{
		MinAmount:    c.CollectionMinAmount,
		MaxAmount:    c.CollectionMaxAmount,
		DailyLimit:   c.CollectionDailyLimit,
		MonthlyLimit: c.CollectionMonthlyLimit,
	}
}

// FeeFor computes the fee in minor units for an amount in the given
// direction: percentage in basis points plus a fixed component.
func (c *ProviderConfig) FeeFor(direction string, amount int64) int64 {
	if direction == "PAYOUT" {
		return amount*c.PayoutFeeBps/10000 + c.PayoutFeeFixed
	}
	return amount*c.CollectionFeeBps/10000 + c.CollectionFeeFixed
}
