package callback

import (
	"context"
	"errors"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	"github.com/smallbiznis/paybridge/internal/observability"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/provider/adapters"
	"github.com/smallbiznis/paybridge/internal/reconcile"
	"github.com/smallbiznis/paybridge/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnverifiedCallback = errors.New("unverified_callback")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	MerchantRepo merchantdomain.Repository
	Registry     *adapters.Registry
	Reconciler   *reconcile.Service
	Metrics      *observability.Metrics `optional:"true"`
}

// Router dispatches one raw provider callback to the config whose secret
// verifies it. A payload no active config can verify never reaches order
// state.
type Router struct {
	db           *gorm.DB
	log          *zap.Logger
	merchantRepo merchantdomain.Repository
	registry     *adapters.Registry
	reconciler   *reconcile.Service
	metrics      *observability.Metrics
}

func NewRouter(p Params) *Router {
	return &Router{
		db:           p.DB,
		log:          p.Log.Named("callback.router"),
		merchantRepo: p.MerchantRepo,
		registry:     p.Registry,
		reconciler:   p.Reconciler,
		metrics:      p.Metrics,
	}
}

// Handle verifies and applies one callback for a provider. Every active
// config bound to the provider is a verification candidate; the first one
// whose secret matches wins.
func (r *Router) Handle(ctx context.Context, provider string, raw []byte) error {
	if !r.registry.ProviderExists(provider) {
		r.metrics.RecordCallbackRejected(provider, "unknown_provider")
		return ErrUnverifiedCallback
	}

	configs, err := r.merchantRepo.ListActiveConfigsByProvider(ctx, r.db, provider)
	if err != nil {
		return err
	}

	for i := range configs {
		cfg := &configs[i]
		adapter, err := r.registry.ForConfig(cfg)
		if err != nil {
			r.log.Error("adapter build failed for callback candidate",
				zap.String("provider", provider),
				zap.String("channel", cfg.Channel),
				zap.Error(err),
			)
			continue
		}

		event, err := adapter.ParseCallback(raw)
		if err != nil {
			if errors.Is(err, signature.ErrSignatureMismatch) {
				continue
			}
			r.metrics.RecordCallbackRejected(provider, "invalid_payload")
			r.log.Warn("callback payload unparseable",
				zap.String("provider", provider),
				zap.Error(err),
			)
			return ErrUnverifiedCallback
		}

		if err := r.reconciler.ApplyCallback(ctx, event); err != nil {
			switch {
			case errors.Is(err, orderdomain.ErrOrderNotFound):
				// Another config's merchant may own the order; keep trying.
				continue
			case errors.Is(err, orderdomain.ErrAmountMismatch):
				r.metrics.RecordCallbackRejected(provider, "amount_mismatch")
				return err
			default:
				return err
			}
		}

		r.metrics.RecordCallbackAccepted(provider)
		return nil
	}

	r.metrics.RecordCallbackRejected(provider, "signature_mismatch")
	r.log.Warn("callback verified by no active config", zap.String("provider", provider))
	return ErrUnverifiedCallback
}
