package provider

import (
	"context"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	"github.com/smallbiznis/paybridge/internal/provider/adapters"
	"github.com/smallbiznis/paybridge/internal/provider/adapters/orbitpay"
	"github.com/smallbiznis/paybridge/internal/provider/adapters/starpay"
	"github.com/smallbiznis/paybridge/internal/provider/adapters/wakepe"
	"github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("provider",
	fx.Provide(transport.New),
	fx.Provide(func(http *transport.Client, log *zap.Logger) *adapters.Registry {
		return adapters.NewRegistry(http, log,
			starpay.NewFactory(),
			orbitpay.NewFactory(),
			wakepe.NewFactory(),
		)
	}),
	fx.Invoke(validateActiveConfigs),
)

// validateActiveConfigs makes an unknown provider or a kind mismatch in any
// active config a startup error instead of a runtime surprise.
func validateActiveConfigs(conn *gorm.DB, registry *adapters.Registry, log *zap.Logger) error {
	var configs []merchantdomain.ProviderConfig
	err := conn.WithContext(context.Background()).
		Where("is_active = ?", true).
		Find(&configs).Error
	if err != nil {
		return err
	}

	for i := range configs {
		cfg := &configs[i]
		if !registry.ProviderExists(cfg.Provider) {
			log.Error("active config references unknown provider",
				zap.String("channel", cfg.Channel),
				zap.String("provider", cfg.Provider),
			)
			return domain.ErrProviderNotFound
		}
		if kind, _ := registry.KindOf(cfg.Provider); kind != cfg.Kind {
			log.Error("active config kind does not match provider",
				zap.String("channel", cfg.Channel),
				zap.String("provider", cfg.Provider),
				zap.String("config_kind", string(cfg.Kind)),
				zap.String("provider_kind", string(kind)),
			)
			return domain.ErrKindMismatch
		}
	}
	return nil
}
