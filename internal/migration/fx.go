package migration

import (
	"github.com/smallbiznis/paybridge/internal/config"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	notifydomain "github.com/smallbiznis/paybridge/internal/notify/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned migrations target postgres; other dialects are for
			// local development and tests.
			return conn.AutoMigrate(
				&merchantdomain.Merchant{},
				&merchantdomain.ProviderConfig{},
				&orderdomain.Order{},
				&notifydomain.Notification{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
