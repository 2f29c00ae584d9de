package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/clock"
	"github.com/smallbiznis/paybridge/internal/limit"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	notifyservice "github.com/smallbiznis/paybridge/internal/notify/service"
	"github.com/smallbiznis/paybridge/internal/observability"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidSubmit       = errors.New("invalid_submit_request")
	ErrDirectionNotEnabled = errors.New("direction_not_enabled")
	ErrNoRouteAvailable    = errors.New("no_route_available")
	ErrCurrencyMismatch    = errors.New("currency_mismatch")
	ErrUTRNotApplicable    = errors.New("utr_not_applicable")
)

// SubmitRequest is one merchant order submission. Channel pins a specific
// provider config; empty means priority routing across the merchant's active
// configs.
type SubmitRequest struct {
	MerchantID      snowflake.ID
	MerchantOrderNo string
	Direction       orderdomain.Direction
	Amount          int64
	Currency        string
	Channel         string
	NotifyURL       string
	ReturnURL       string

	BankCode    string
	AccountName string
	AccountNo   string
	IFSC        string
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	OrderRepo    orderdomain.Repository
	MerchantRepo merchantdomain.Repository
	Guard        *limit.Guard
	Registry     *adapters.Registry
	Notifier     *notifyservice.Service
	Metrics      *observability.Metrics `optional:"true"`
}

// Service owns the order lifecycle: submission, provider dispatch, callback
// application, and on-demand reconciliation against the provider. Every
// state change funnels through one conditional update so duplicated and
// racing signals collapse to a single winner.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	orderRepo    orderdomain.Repository
	merchantRepo merchantdomain.Repository
	guard        *limit.Guard
	registry     *adapters.Registry
	notifier     *notifyservice.Service
	metrics      *observability.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconcile.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		orderRepo:    p.OrderRepo,
		merchantRepo: p.MerchantRepo,
		guard:        p.Guard,
		registry:     p.Registry,
		notifier:     p.Notifier,
		metrics:      p.Metrics,
	}
}

// Submit accepts an order, reserves usage, creates the PENDING row and
// dispatches it to the selected provider. Resubmitting a merchant order
// number returns the existing order untouched.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*orderdomain.Order, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	merchant, err := s.merchantRepo.FindMerchant(ctx, s.db, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, merchantdomain.ErrMerchantNotFound
	}
	if !merchant.IsActive {
		return nil, merchantdomain.ErrMerchantInactive
	}

	if existing, err := s.orderRepo.FindByMerchantOrderNo(ctx, s.db, req.MerchantID, req.MerchantOrderNo); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	cfg, err := s.selectConfig(ctx, req)
	if err != nil {
		s.metrics.RecordOrderDenied(err.Error())
		return nil, err
	}

	key := limit.ReservationKey{
		MerchantID: req.MerchantID,
		ConfigID:   cfg.ID,
		Direction:  req.Direction,
	}
	if err := s.guard.Check(ctx, key, req.Amount, cfg.LimitsFor(string(req.Direction))); err != nil {
		s.metrics.RecordOrderDenied(err.Error())
		return nil, err
	}

	id := s.genID.Generate()
	now := s.clock.Now()
	order := &orderdomain.Order{
		ID:               id,
		OrderNo:          "PB" + id.String(),
		MerchantID:       req.MerchantID,
		MerchantOrderNo:  req.MerchantOrderNo,
		Direction:        req.Direction,
		Amount:           req.Amount,
		Fee:              cfg.FeeFor(string(req.Direction), req.Amount),
		Currency:         req.Currency,
		Status:           orderdomain.StatusPending,
		ProviderConfigID: cfg.ID,
		Provider:         cfg.Provider,
		NotifyURL:        req.NotifyURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	inserted, err := s.orderRepo.Insert(ctx, s.db, order)
	if err != nil {
		s.releaseQuietly(ctx, key, req.Amount)
		return nil, err
	}
	if !inserted {
		// Lost the duplicate race after reserving: give the amount back and
		// surface the winner's row.
		s.releaseQuietly(ctx, key, req.Amount)
		return s.orderRepo.FindByMerchantOrderNo(ctx, s.db, req.MerchantID, req.MerchantOrderNo)
	}

	s.metrics.RecordOrderSubmitted(cfg.Provider, string(req.Direction))

	adapter, err := s.registry.ForConfig(cfg)
	if err != nil {
		s.log.Error("adapter build failed",
			zap.String("order_no", order.OrderNo),
			zap.String("provider", cfg.Provider),
			zap.Error(err),
		)
		s.failBeforeProvider(ctx, order, key)
		return s.reload(ctx, order)
	}

	result, callErr := s.dispatch(ctx, adapter, req, order)
	if callErr != nil {
		if provablyNotAccepted(callErr) {
			s.log.Warn("provider did not accept order",
				zap.String("order_no", order.OrderNo),
				zap.String("provider", cfg.Provider),
				zap.Error(callErr),
			)
			s.failBeforeProvider(ctx, order, key)
			return s.reload(ctx, order)
		}
		// Outcome unknown: the order stays PENDING and reconciliation picks
		// it up through callbacks or queries.
		s.log.Warn("provider call interrupted, order left pending",
			zap.String("order_no", order.OrderNo),
			zap.String("provider", cfg.Provider),
			zap.Error(callErr),
		)
		return order, nil
	}

	if _, err := s.apply(ctx, order, result.Status, orderdomain.TransitionUpdate{
		ProviderRef: result.ProviderRef,
		UTR:         result.UTR,
		PayURL:      result.PayURL,
	}); err != nil {
		return nil, err
	}
	return s.reload(ctx, order)
}

// ApplyCallback folds one verified provider callback into order state.
// Duplicates, stale signals and already-terminal orders acknowledge without
// effect.
func (s *Service) ApplyCallback(ctx context.Context, event *providerdomain.CallbackEvent) error {
	order, err := s.orderRepo.FindByOrderNo(ctx, s.db, event.OrderNo)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}
	if event.Amount > 0 && event.Amount != order.Amount {
		s.log.Error("callback amount does not match order",
			zap.String("order_no", order.OrderNo),
			zap.Int64("order_amount", order.Amount),
			zap.Int64("callback_amount", event.Amount),
		)
		return orderdomain.ErrAmountMismatch
	}

	_, err = s.apply(ctx, order, event.Status, orderdomain.TransitionUpdate{
		ProviderRef: event.ProviderRef,
		UTR:         event.UTR,
	})
	return err
}

// Query returns the order, refreshing non-terminal state from the provider
// first. Provider failures during refresh degrade to the stored state.
func (s *Service) Query(ctx context.Context, merchantID snowflake.ID, merchantOrderNo string) (*orderdomain.Order, error) {
	order, err := s.orderRepo.FindByMerchantOrderNo(ctx, s.db, merchantID, merchantOrderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return order, nil
	}

	adapter, err := s.adapterForOrder(ctx, order)
	if err != nil {
		return order, nil
	}
	result, err := adapter.QueryOrder(ctx, order.OrderNo)
	if err != nil {
		s.log.Warn("order refresh failed",
			zap.String("order_no", order.OrderNo),
			zap.Error(err),
		)
		return order, nil
	}

	if _, err := s.apply(ctx, order, result.Status, orderdomain.TransitionUpdate{
		ProviderRef: result.ProviderRef,
		UTR:         result.UTR,
		PayURL:      result.PayURL,
	}); err != nil {
		return nil, err
	}
	return s.reload(ctx, order)
}

// SubmitUTR records a bank reference on an open collection order and forwards
// it to providers that accept one.
func (s *Service) SubmitUTR(ctx context.Context, merchantID snowflake.ID, merchantOrderNo, utr string) (*orderdomain.Order, error) {
	utr = strings.TrimSpace(utr)
	if utr == "" {
		return nil, ErrInvalidSubmit
	}
	order, err := s.orderRepo.FindByMerchantOrderNo(ctx, s.db, merchantID, merchantOrderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.Direction != orderdomain.DirectionCollection || order.Status.Terminal() {
		return nil, ErrUTRNotApplicable
	}

	if _, err := s.orderRepo.SetUTR(ctx, s.db, order.ID, utr); err != nil {
		return nil, err
	}

	adapter, err := s.adapterForOrder(ctx, order)
	if err != nil {
		return s.reload(ctx, order)
	}
	result, err := adapter.SubmitUTR(ctx, order.OrderNo, utr)
	if err != nil {
		if !errors.Is(err, providerdomain.ErrUnsupportedOperation) {
			s.log.Warn("utr forward failed",
				zap.String("order_no", order.OrderNo),
				zap.Error(err),
			)
		}
		return s.reload(ctx, order)
	}

	order.UTR = utr
	if _, err := s.apply(ctx, order, result.Status, orderdomain.TransitionUpdate{
		ProviderRef: result.ProviderRef,
	}); err != nil {
		return nil, err
	}
	return s.reload(ctx, order)
}

// Balance reads the provider-side balance for one merchant channel.
func (s *Service) Balance(ctx context.Context, merchantID snowflake.ID, channel string) (*providerdomain.BalanceResult, error) {
	cfg, err := s.merchantRepo.FindConfigByChannel(ctx, s.db, merchantID, channel)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, merchantdomain.ErrConfigNotFound
	}
	if !cfg.IsActive {
		return nil, merchantdomain.ErrConfigInactive
	}
	adapter, err := s.registry.ForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return adapter.QueryBalance(ctx)
}

// apply moves the order toward target through the conditional transition.
// False means the signal was stale, duplicated or lost a race; callers
// acknowledge either way. A committed move into a non-SUCCESS terminal state
// returns the reserved usage, and every committed terminal move owes the
// merchant exactly one webhook.
func (s *Service) apply(ctx context.Context, order *orderdomain.Order, target orderdomain.Status, update orderdomain.TransitionUpdate) (bool, error) {
	if !target.Valid() || order.Status.Terminal() {
		return false, nil
	}
	if target == order.Status {
		if update != (orderdomain.TransitionUpdate{}) {
			if _, err := s.orderRepo.Transition(ctx, s.db, order.ID, order.Status, order.Status, update); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if !orderdomain.CanTransition(order.Status, target) {
		s.log.Info("ignoring stale status signal",
			zap.String("order_no", order.OrderNo),
			zap.String("from", string(order.Status)),
			zap.String("to", string(target)),
		)
		return false, nil
	}

	committed, err := s.orderRepo.Transition(ctx, s.db, order.ID, order.Status, target, update)
	if err != nil {
		return false, err
	}
	if !committed {
		return false, nil
	}
	order.Status = target
	if update.ProviderRef != "" {
		order.ProviderRef = update.ProviderRef
	}
	if update.UTR != "" {
		order.UTR = update.UTR
	}
	if update.PayURL != "" {
		order.PayURL = update.PayURL
	}

	if target.Terminal() && target != orderdomain.StatusSuccess {
		key := limit.ReservationKey{
			MerchantID: order.MerchantID,
			ConfigID:   order.ProviderConfigID,
			Direction:  order.Direction,
		}
		s.releaseQuietly(ctx, key, order.Amount)
	}
	if target.Terminal() {
		if err := s.enqueueNotification(ctx, order); err != nil {
			s.log.Error("webhook enqueue failed",
				zap.String("order_no", order.OrderNo),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

func (s *Service) dispatch(ctx context.Context, adapter providerdomain.Adapter, req SubmitRequest, order *orderdomain.Order) (*providerdomain.Result, error) {
	if req.Direction == orderdomain.DirectionPayout {
		return adapter.CreatePayout(ctx, providerdomain.PayoutRequest{
			OrderNo:     order.OrderNo,
			Amount:      order.Amount,
			Currency:    order.Currency,
			BankCode:    req.BankCode,
			AccountName: req.AccountName,
			AccountNo:   req.AccountNo,
			IFSC:        req.IFSC,
		})
	}
	return adapter.CreateCollection(ctx, providerdomain.CollectionRequest{
		OrderNo:   order.OrderNo,
		Amount:    order.Amount,
		Currency:  order.Currency,
		ReturnURL: req.ReturnURL,
	})
}

func (s *Service) selectConfig(ctx context.Context, req SubmitRequest) (*merchantdomain.ProviderConfig, error) {
	if req.Channel != "" {
		cfg, err := s.merchantRepo.FindConfigByChannel(ctx, s.db, req.MerchantID, req.Channel)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, merchantdomain.ErrConfigNotFound
		}
		if !cfg.IsActive {
			return nil, merchantdomain.ErrConfigInactive
		}
		if !strings.EqualFold(cfg.Currency, req.Currency) {
			return nil, ErrCurrencyMismatch
		}
		if !cfg.SupportsDirection(string(req.Direction)) {
			return nil, ErrDirectionNotEnabled
		}
		return cfg, nil
	}

	configs, err := s.merchantRepo.ListActiveConfigs(ctx, s.db, req.MerchantID, req.Currency)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].SupportsDirection(string(req.Direction)) {
			return &configs[i], nil
		}
	}
	return nil, ErrNoRouteAvailable
}

// failBeforeProvider marks an order FAILED when the provider provably never
// accepted it, returning the reserved usage.
func (s *Service) failBeforeProvider(ctx context.Context, order *orderdomain.Order, key limit.ReservationKey) {
	committed, err := s.orderRepo.Transition(ctx, s.db, order.ID, orderdomain.StatusPending, orderdomain.StatusFailed, orderdomain.TransitionUpdate{})
	if err != nil {
		s.log.Error("failed marking order failed",
			zap.String("order_no", order.OrderNo),
			zap.Error(err),
		)
		return
	}
	if !committed {
		return
	}
	order.Status = orderdomain.StatusFailed
	s.releaseQuietly(ctx, key, order.Amount)
	if err := s.enqueueNotification(ctx, order); err != nil {
		s.log.Error("webhook enqueue failed",
			zap.String("order_no", order.OrderNo),
			zap.Error(err),
		)
	}
}

func (s *Service) enqueueNotification(ctx context.Context, order *orderdomain.Order) error {
	if order.NotifyURL == "" {
		return nil
	}
	merchant, err := s.merchantRepo.FindMerchant(ctx, s.db, order.MerchantID)
	if err != nil {
		return err
	}
	if merchant == nil {
		return merchantdomain.ErrMerchantNotFound
	}
	return s.notifier.Enqueue(ctx, order, merchant)
}

func (s *Service) adapterForOrder(ctx context.Context, order *orderdomain.Order) (providerdomain.Adapter, error) {
	cfg, err := s.merchantRepo.FindConfigByID(ctx, s.db, order.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, merchantdomain.ErrConfigNotFound
	}
	return s.registry.ForConfig(cfg)
}

func (s *Service) reload(ctx context.Context, order *orderdomain.Order) (*orderdomain.Order, error) {
	fresh, err := s.orderRepo.FindByOrderNo(ctx, s.db, order.OrderNo)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return order, nil
	}
	return fresh, nil
}

func (s *Service) releaseQuietly(ctx context.Context, key limit.ReservationKey, amount int64) {
	if err := s.guard.Release(ctx, key, amount); err != nil {
		s.log.Error("usage release failed after order settled", zap.Error(err))
	}
}

// provablyNotAccepted separates failures that guarantee the provider never
// registered the order from ones that leave the outcome unknown.
func provablyNotAccepted(err error) bool {
	return errors.Is(err, transport.ErrUnreachable) ||
		errors.Is(err, providerdomain.ErrBusinessRejected) ||
		errors.Is(err, providerdomain.ErrUnsupportedOperation) ||
		errors.Is(err, providerdomain.ErrInvalidConfig)
}

func validateSubmit(req SubmitRequest) error {
	if req.MerchantID == 0 {
		return ErrInvalidSubmit
	}
	if strings.TrimSpace(req.MerchantOrderNo) == "" {
		return ErrInvalidSubmit
	}
	if !req.Direction.Valid() {
		return ErrInvalidSubmit
	}
	if req.Amount <= 0 {
		return ErrInvalidSubmit
	}
	if strings.TrimSpace(req.Currency) == "" {
		return ErrInvalidSubmit
	}
	if req.Direction == orderdomain.DirectionPayout && strings.TrimSpace(req.AccountNo) == "" {
		return ErrInvalidSubmit
	}
	return nil
}
