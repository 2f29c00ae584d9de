package limit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paybridge/internal/config"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
)

var (
	ErrAmountOutOfRange     = errors.New("amount_out_of_range")
	ErrDailyLimitExceeded   = errors.New("daily_limit_exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly_limit_exceeded")
)

// ReservationKey identifies one usage bucket pair: per day and per month for
// a (merchant, provider config, direction) triple.
type ReservationKey struct {
	MerchantID snowflake.ID
	ConfigID   snowflake.ID
	Direction  orderdomain.Direction
}

const (
	keyUsageDay   = "usage:%s:%s:%s:d:%s"
	keyUsageMonth = "usage:%s:%s:%s:m:%s"

	// Buckets outlive their calendar window slightly so late releases still
	// find the key; rollover is simply a new key.
	dayKeyTTL   = 48 * time.Hour
	monthKeyTTL = 35 * 24 * time.Hour
)

func (k ReservationKey) dayKey(now time.Time) string {
	return fmt.Sprintf(keyUsageDay, k.MerchantID, k.ConfigID, k.Direction, now.UTC().Format("20060102"))
}

func (k ReservationKey) monthKey(now time.Time) string {
	return fmt.Sprintf(keyUsageMonth, k.MerchantID, k.ConfigID, k.Direction, now.UTC().Format("200601"))
}

// UsageStore reserves and releases usage amounts. Reserve must be atomic
// with respect to concurrent callers of the same keys: check and increment
// happen in one storage-side step, never as a read-then-write pair.
type UsageStore interface {
	// Reserve adds amount to both buckets if neither would exceed its
	// ceiling (0 = unbounded). Returns which window rejected, or "".
	Reserve(ctx context.Context, dayKey, monthKey string, amount, dailyLimit, monthlyLimit int64) (string, error)
	Release(ctx context.Context, dayKey, monthKey string, amount int64) error
}

const reserveScript = `
local amount = tonumber(ARGV[1])
local dayLimit = tonumber(ARGV[2])
local monthLimit = tonumber(ARGV[3])

local day = tonumber(redis.call("GET", KEYS[1]) or "0")
local month = tonumber(redis.call("GET", KEYS[2]) or "0")

if dayLimit > 0 and day + amount > dayLimit then
  return "daily"
end
if monthLimit > 0 and month + amount > monthLimit then
  return "monthly"
end

redis.call("INCRBY", KEYS[1], amount)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[4]))
redis.call("INCRBY", KEYS[2], amount)
redis.call("PEXPIRE", KEYS[2], tonumber(ARGV[5]))
return "ok"
`

const releaseScript = `
for i = 1, 2 do
  local cur = tonumber(redis.call("GET", KEYS[i]) or "0")
  local next = cur - tonumber(ARGV[1])
  if next < 0 then
    next = 0
  end
  redis.call("SET", KEYS[i], next, "KEEPTTL")
end
return "ok"
`

type redisUsageStore struct {
	client  *redis.Client
	reserve *redis.Script
	release *redis.Script
}

func NewRedisUsageStore(cfg config.Config) (UsageStore, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("usage store redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &redisUsageStore{
		client:  client,
		reserve: redis.NewScript(reserveScript),
		release: redis.NewScript(releaseScript),
	}, nil
}

func (s *redisUsageStore) Reserve(ctx context.Context, dayKey, monthKey string, amount, dailyLimit, monthlyLimit int64) (string, error) {
	res, err := s.reserve.Run(
		ctx,
		s.client,
		[]string{dayKey, monthKey},
		amount,
		dailyLimit,
		monthlyLimit,
		int64(dayKeyTTL/time.Millisecond),
		int64(monthKeyTTL/time.Millisecond),
	).Text()
	if err != nil {
		return "", err
	}
	if res == "ok" {
		return "", nil
	}
	return res, nil
}

func (s *redisUsageStore) Release(ctx context.Context, dayKey, monthKey string, amount int64) error {
	return s.release.Run(ctx, s.client, []string{dayKey, monthKey}, amount).Err()
}
