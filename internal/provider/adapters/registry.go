package adapters

import (
	"strings"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	"github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"go.uber.org/zap"
)

type Registry struct {
	factories map[string]domain.Factory
	http      *transport.Client
	log       *zap.Logger
}

func NewRegistry(http *transport.Client, log *zap.Logger, factories ...domain.Factory) *Registry {
	registry := &Registry{
		factories: map[string]domain.Factory{},
		http:      http,
		log:       log.Named("provider.registry"),
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) KindOf(provider string) (merchantdomain.ChannelKind, bool) {
	if r == nil {
		return "", false
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", false
	}
	return factory.Kind(), true
}

// ForConfig builds the adapter bound to one provider config. The config's
// channel kind must match the factory's; a mismatch is a wiring error, not a
// runtime condition.
func (r *Registry) ForConfig(cfg *merchantdomain.ProviderConfig) (domain.Adapter, error) {
	if r == nil || cfg == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	if factory.Kind() != cfg.Kind {
		return nil, domain.ErrKindMismatch
	}
	return factory.NewAdapter(domain.AdapterConfig{
		AccountNo:  cfg.AccountNo,
		Secret:     cfg.Secret,
		SubChannel: cfg.SubChannel,
		Endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		NotifyURL:  cfg.NotifyURL,
		ReturnURL:  cfg.ReturnURL,
		HTTP:       r.http,
		Log:        r.log.Named(provider),
	})
}
