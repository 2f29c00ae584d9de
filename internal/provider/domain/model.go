package domain

import (
	"context"
	"errors"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"go.uber.org/zap"
)

var (
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
	ErrKindMismatch         = errors.New("provider_kind_mismatch")
	ErrUnsupportedOperation = errors.New("unsupported_operation")
	ErrInvalidPayload       = errors.New("invalid_payload")
	// ErrBusinessRejected is a provider-returned business error. Never
	// retried; maps to a terminal FAILED order.
	ErrBusinessRejected = errors.New("provider_rejected")
)

type CollectionRequest struct {
	OrderNo   string
	Amount    int64
	Currency  string
	ReturnURL string
	Extra     map[string]string
}

type PayoutRequest struct {
	OrderNo     string
	Amount      int64
	Currency    string
	BankCode    string
	AccountName string
	AccountNo   string
	IFSC        string
}

type Result struct {
	Status      orderdomain.Status
	ProviderRef string
	PayURL      string
	UTR         string
	Message     string
}

type BalanceResult struct {
	Available int64
	Frozen    int64
	Currency  string
}

// CallbackEvent is a verified, canonicalized provider callback. OrderNo is
// the engine-side order number the provider echoes back.
type CallbackEvent struct {
	OrderNo     string
	ProviderRef string
	Amount      int64
	Status      orderdomain.Status
	UTR         string
	Raw         []byte
}

// AdapterConfig is the resolved per-channel credential set handed to a
// factory.
type AdapterConfig struct {
	AccountNo  string
	Secret     string
	SubChannel string
	Endpoint   string
	NotifyURL  string
	ReturnURL  string
	HTTP       *transport.Client
	Log        *zap.Logger
}

// Adapter translates canonical operations into one provider's contract.
// Operations a provider does not support return ErrUnsupportedOperation.
type Adapter interface {
	Provider() string
	CreateCollection(ctx context.Context, req CollectionRequest) (*Result, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Result, error)
	QueryOrder(ctx context.Context, orderNo string) (*Result, error)
	QueryBalance(ctx context.Context) (*BalanceResult, error)
	SubmitUTR(ctx context.Context, orderNo, utr string) (*Result, error)
	QueryUTR(ctx context.Context, orderNo string) (*Result, error)
	// ParseCallback verifies the inbound signature before returning the
	// typed event. Unverifiable payloads must never reach order state.
	ParseCallback(raw []byte) (*CallbackEvent, error)
}

type Factory interface {
	Provider() string
	Kind() merchantdomain.ChannelKind
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// StatusMap is an explicit provider-code to canonical-status table. Unknown
// codes resolve to PROCESSING with a logged warning instead of failing.
type StatusMap map[string]orderdomain.Status

func (m StatusMap) Resolve(code string, log *zap.Logger) orderdomain.Status {
	if status, ok := m[code]; ok {
		return status
	}
	if log != nil {
		log.Warn("unmapped provider status code", zap.String("code", code))
	}
	return orderdomain.StatusProcessing
}
