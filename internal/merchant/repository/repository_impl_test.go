package repository

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/merchant/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, conn.AutoMigrate(&domain.Merchant{}, &domain.ProviderConfig{}))
	return conn
}

func seedConfig(t *testing.T, conn *gorm.DB, node *snowflake.Node, merchantID snowflake.ID, channel, provider string, priority int, active bool) *domain.ProviderConfig {
	t.Helper()
	cfg := &domain.ProviderConfig{
		ID:                node.Generate(),
		MerchantID:        merchantID,
		Channel:           channel,
		Provider:          provider,
		Kind:              domain.KindNative,
		AccountNo:         "A-" + channel,
		Secret:            "secret",
		Endpoint:          "https://" + provider + ".example.com",
		Currency:          "INR",
		CollectionEnabled: true,
		Priority:          priority,
		IsActive:          active,
	}
	assert.NoError(t, conn.Create(cfg).Error)
	return cfg
}

func TestFindMerchant(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	node, err := snowflake.NewNode(6)
	assert.NoError(t, err)
	repo := Provide()

	merchant := &domain.Merchant{ID: node.Generate(), Code: "acme", Name: "Acme", NotifySecret: "s", IsActive: true}
	assert.NoError(t, conn.Create(merchant).Error)

	got, err := repo.FindMerchant(ctx, conn, merchant.ID)
	assert.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, "acme", got.Code)

	missing, err := repo.FindMerchant(ctx, conn, node.Generate())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindConfigByChannel(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	node, err := snowflake.NewNode(6)
	assert.NoError(t, err)
	repo := Provide()

	merchantID := node.Generate()
	seedConfig(t, conn, node, merchantID, "star-inr", "starpay", 10, true)

	got, err := repo.FindConfigByChannel(ctx, conn, merchantID, "star-inr")
	assert.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, "starpay", got.Provider)

	missing, err := repo.FindConfigByChannel(ctx, conn, merchantID, "orbit-inr")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListActiveConfigsOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	node, err := snowflake.NewNode(6)
	assert.NoError(t, err)
	repo := Provide()

	merchantID := node.Generate()
	seedConfig(t, conn, node, merchantID, "star-inr", "starpay", 10, true)
	seedConfig(t, conn, node, merchantID, "orbit-inr", "orbitpay", 50, true)
	seedConfig(t, conn, node, merchantID, "wake-inr", "wakepe", 99, false)

	configs, err := repo.ListActiveConfigs(ctx, conn, merchantID, "INR")
	assert.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, "orbitpay", configs[0].Provider)
	assert.Equal(t, "starpay", configs[1].Provider)
}

func TestListActiveConfigsByProviderSkipsInactive(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	node, err := snowflake.NewNode(6)
	assert.NoError(t, err)
	repo := Provide()

	first := node.Generate()
	second := node.Generate()
	seedConfig(t, conn, node, first, "star-inr", "starpay", 10, true)
	seedConfig(t, conn, node, second, "star-inr", "starpay", 20, true)
	seedConfig(t, conn, node, node.Generate(), "star-inr", "starpay", 30, false)

	configs, err := repo.ListActiveConfigsByProvider(ctx, conn, "starpay")
	assert.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, second, configs[0].MerchantID)
}
