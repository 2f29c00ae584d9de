package limit

import (
	"context"

	"github.com/smallbiznis/paybridge/internal/clock"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	"go.uber.org/zap"
)

// Guard gates every submission against the config's amount range and its
// daily/monthly usage ceilings. A passing Check has already reserved the
// amount; Release reverses that when the order fails before provider
// acceptance.
type Guard struct {
	store UsageStore
	clock clock.Clock
	log   *zap.Logger
}

func NewGuard(store UsageStore, clk clock.Clock, log *zap.Logger) *Guard {
	return &Guard{
		store: store,
		clock: clk,
		log:   log.Named("limit.guard"),
	}
}

// Check validates amount against the config limits and atomically reserves
// it. Amounts landing exactly on a ceiling are allowed.
func (g *Guard) Check(ctx context.Context, key ReservationKey, amount int64, limits merchantdomain.Limits) error {
	if amount <= 0 {
		return ErrAmountOutOfRange
	}
	if limits.MinAmount > 0 && amount < limits.MinAmount {
		return ErrAmountOutOfRange
	}
	if limits.MaxAmount > 0 && amount > limits.MaxAmount {
		return ErrAmountOutOfRange
	}

	now := g.clock.Now()
	window, err := g.store.Reserve(ctx, key.dayKey(now), key.monthKey(now), amount, limits.DailyLimit, limits.MonthlyLimit)
	if err != nil {
		return err
	}
	switch window {
	case "":
		return nil
	case "daily":
		return ErrDailyLimitExceeded
	case "monthly":
		return ErrMonthlyLimitExceeded
	default:
		g.log.Warn("unexpected reservation window", zap.String("window", window))
		return ErrDailyLimitExceeded
	}
}

func (g *Guard) Release(ctx context.Context, key ReservationKey, amount int64) error {
	if amount <= 0 {
		return nil
	}
	now := g.clock.Now()
	if err := g.store.Release(ctx, key.dayKey(now), key.monthKey(now), amount); err != nil {
		g.log.Error("usage release failed",
			zap.String("merchant_id", key.MerchantID.String()),
			zap.String("config_id", key.ConfigID.String()),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return err
	}
	return nil
}
