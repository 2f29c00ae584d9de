package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/clock"
	"github.com/smallbiznis/paybridge/internal/config"
	"github.com/smallbiznis/paybridge/internal/limit"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	merchantrepo "github.com/smallbiznis/paybridge/internal/merchant/repository"
	notifydomain "github.com/smallbiznis/paybridge/internal/notify/domain"
	notifyrepo "github.com/smallbiznis/paybridge/internal/notify/repository"
	notifyservice "github.com/smallbiznis/paybridge/internal/notify/service"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	orderrepo "github.com/smallbiznis/paybridge/internal/order/repository"
	"github.com/smallbiznis/paybridge/internal/provider/adapters"
	"github.com/smallbiznis/paybridge/internal/provider/adapters/starpay"
	providerdomain "github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// memStore mirrors the atomic check-then-increment contract of the redis
// usage store under a mutex.
type memStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemStore() *memStore {
	return &memStore{counts: map[string]int64{}}
}

func (s *memStore) Reserve(_ context.Context, dayKey, monthKey string, amount, dailyLimit, monthlyLimit int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dailyLimit > 0 && s.counts[dayKey]+amount > dailyLimit {
		return "daily", nil
	}
	if monthlyLimit > 0 && s.counts[monthKey]+amount > monthlyLimit {
		return "monthly", nil
	}
	s.counts[dayKey] += amount
	s.counts[monthKey] += amount
	return "", nil
}

func (s *memStore) Release(_ context.Context, dayKey, monthKey string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{dayKey, monthKey} {
		next := s.counts[key] - amount
		if next < 0 {
			next = 0
		}
		s.counts[key] = next
	}
	return nil
}

func (s *memStore) dailyUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for key, value := range s.counts {
		if strings.Contains(key, ":d:") {
			total += value
		}
	}
	return total
}

type env struct {
	conn  *gorm.DB
	svc   *Service
	store *memStore
	node  *snowflake.Node
	fake  *clock.FakeClock

	merchant *merchantdomain.Merchant
	cfg      *merchantdomain.ProviderConfig
}

func newEnv(t *testing.T, endpoint string) *env {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = conn.AutoMigrate(
		&merchantdomain.Merchant{},
		&merchantdomain.ProviderConfig{},
		&orderdomain.Order{},
		&notifydomain.Notification{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	store := newMemStore()
	log := zap.NewNop()

	httpClient := transport.New(config.Config{ProviderTimeoutSeconds: 2}, log)
	registry := adapters.NewRegistry(httpClient, log, starpay.NewFactory())

	notifier := notifyservice.NewService(notifyservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  notifyrepo.Provide(),
	})

	svc := NewService(Params{
		DB:           conn,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		OrderRepo:    orderrepo.Provide(),
		MerchantRepo: merchantrepo.Provide(),
		Guard:        limit.NewGuard(store, fake, log),
		Registry:     registry,
		Notifier:     notifier,
	})

	e := &env{conn: conn, svc: svc, store: store, node: node, fake: fake}
	e.seed(t, endpoint)
	return e
}

func (e *env) seed(t *testing.T, endpoint string) {
	t.Helper()
	now := e.fake.Now()
	e.merchant = &merchantdomain.Merchant{
		ID:           e.node.Generate(),
		Code:         "acme",
		Name:         "Acme Traders",
		NotifySecret: "acme-secret",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.conn.Create(e.merchant).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}

	e.cfg = &merchantdomain.ProviderConfig{
		ID:          e.node.Generate(),
		MerchantID:  e.merchant.ID,
		Channel:     "star-inr",
		Provider:    "starpay",
		Kind:        merchantdomain.KindNative,
		Environment: merchantdomain.EnvSandbox,
		AccountNo:   "M1001",
		Secret:      "s3cret",
		Endpoint:    endpoint,
		Currency:    "INR",

		CollectionEnabled:      true,
		CollectionMinAmount:    1000,
		CollectionMaxAmount:    100000,
		CollectionDailyLimit:   50000,
		CollectionMonthlyLimit: 500000,
		CollectionFeeBps:       180,

		Priority:  10,
		NotifyURL: "https://pay.example.com/callbacks/starpay",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.conn.Create(e.cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func submitReq(e *env, merchantOrderNo string, amount int64) SubmitRequest {
	return SubmitRequest{
		MerchantID:      e.merchant.ID,
		MerchantOrderNo: merchantOrderNo,
		Direction:       orderdomain.DirectionCollection,
		Amount:          amount,
		Currency:        "INR",
		Channel:         "star-inr",
		NotifyURL:       "https://shop.example.com/webhook",
	}
}

func pendingProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": "0000",
			"data": map[string]string{
				"order_no": "SP-1",
				"pay_url":  "https://star.example.com/pay/SP-1",
				"status":   "0",
			},
		})
	}))
}

func notificationCount(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&notifydomain.Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return count
}

func TestSubmitReservesAndDispatches(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	if order.ProviderRef != "SP-1" || order.PayURL == "" {
		t.Fatalf("provider fields not applied: %+v", order)
	}
	if order.Fee != 25000*180/10000 {
		t.Fatalf("fee = %d", order.Fee)
	}
	if used := e.store.dailyUsed(); used != 25000 {
		t.Fatalf("daily usage = %d, want 25000", used)
	}
}

func TestSubmitDeniedAtDailyCeilingLeavesNoTrace(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	if _, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 45000)); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := e.svc.Submit(context.Background(), submitReq(e, "M-2", 10000))
	if !errors.Is(err, limit.ErrDailyLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLimitExceeded", err)
	}
	if used := e.store.dailyUsed(); used != 45000 {
		t.Fatalf("daily usage = %d, want unchanged 45000", used)
	}

	var count int64
	if err := e.conn.Model(&orderdomain.Order{}).Where("merchant_order_no = ?", "M-2").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("denied submit left an order row")
	}

	// Exactly at the ceiling still fits.
	if _, err := e.svc.Submit(context.Background(), submitReq(e, "M-3", 5000)); err != nil {
		t.Fatalf("at-ceiling submit: %v", err)
	}
}

func TestSubmitIsIdempotentPerMerchantOrderNo(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	first, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.OrderNo != first.OrderNo {
		t.Fatalf("resubmit created a new order: %s vs %s", second.OrderNo, first.OrderNo)
	}
	if used := e.store.dailyUsed(); used != 25000 {
		t.Fatalf("daily usage = %d, want single reservation", used)
	}
}

func TestSubmitUnreachableProviderFailsAndReleases(t *testing.T) {
	// Nothing listens here: connection refused, the order provably never
	// reached the provider.
	e := newEnv(t, "http://127.0.0.1:1")

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != orderdomain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", order.Status)
	}
	if used := e.store.dailyUsed(); used != 0 {
		t.Fatalf("daily usage = %d, want released to 0", used)
	}
	if got := notificationCount(t, e.conn); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
}

func TestSubmitInterruptedLeavesPendingAndReserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, want PENDING while outcome unknown", order.Status)
	}
	if used := e.store.dailyUsed(); used != 25000 {
		t.Fatalf("daily usage = %d, want reservation held", used)
	}
	if got := notificationCount(t, e.conn); got != 0 {
		t.Fatalf("notifications = %d, want none yet", got)
	}
}

func TestSubmitBusinessRejectionFailsAndReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "1005", "msg": "risk declined"})
	}))
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != orderdomain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", order.Status)
	}
	if used := e.store.dailyUsed(); used != 0 {
		t.Fatalf("daily usage = %d, want released", used)
	}
}

func TestCallbackRaceCommitsExactlyOnce(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := &providerdomain.CallbackEvent{
		OrderNo:     order.OrderNo,
		ProviderRef: "SP-1",
		Amount:      25000,
		Status:      orderdomain.StatusSuccess,
		UTR:         "UTR42",
	}
	if err := e.svc.ApplyCallback(context.Background(), event); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// Redelivered and conflicting signals after the commit are acknowledged
	// without effect.
	if err := e.svc.ApplyCallback(context.Background(), event); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	stale := &providerdomain.CallbackEvent{
		OrderNo: order.OrderNo,
		Amount:  25000,
		Status:  orderdomain.StatusFailed,
	}
	if err := e.svc.ApplyCallback(context.Background(), stale); err != nil {
		t.Fatalf("stale callback: %v", err)
	}

	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.Status)
	}
	if got.UTR != "UTR42" {
		t.Fatalf("utr = %q", got.UTR)
	}
	if count := notificationCount(t, e.conn); count != 1 {
		t.Fatalf("notifications = %d, want exactly 1", count)
	}
	if used := e.store.dailyUsed(); used != 25000 {
		t.Fatalf("daily usage = %d, success must keep the reservation", used)
	}
}

func TestCallbackFailureReleasesUsage(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := &providerdomain.CallbackEvent{
		OrderNo: order.OrderNo,
		Amount:  25000,
		Status:  orderdomain.StatusFailed,
	}
	if err := e.svc.ApplyCallback(context.Background(), event); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if used := e.store.dailyUsed(); used != 0 {
		t.Fatalf("daily usage = %d, want released", used)
	}
}

func TestCallbackAmountMismatchRejected(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	order, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := &providerdomain.CallbackEvent{
		OrderNo: order.OrderNo,
		Amount:  24999,
		Status:  orderdomain.StatusSuccess,
	}
	if err := e.svc.ApplyCallback(context.Background(), event); !errors.Is(err, orderdomain.ErrAmountMismatch) {
		t.Fatalf("err = %v, want ErrAmountMismatch", err)
	}

	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, mismatched callback must not move the order", got.Status)
	}
}

func TestCallbackForUnknownOrder(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	event := &providerdomain.CallbackEvent{OrderNo: "PB0", Status: orderdomain.StatusSuccess}
	if err := e.svc.ApplyCallback(context.Background(), event); !errors.Is(err, orderdomain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestQueryRefreshesNonTerminalFromProvider(t *testing.T) {
	status := "0"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": "0000",
			"data": map[string]string{"order_no": "SP-1", "status": status, "utr": "UTR7"},
		})
	}))
	defer server.Close()
	e := newEnv(t, server.URL)

	if _, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	status = "2"
	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS after refresh", got.Status)
	}
	if got.UTR != "UTR7" {
		t.Fatalf("utr = %q", got.UTR)
	}
	if count := notificationCount(t, e.conn); count != 1 {
		t.Fatalf("notifications = %d, want 1 after reconciled terminal", count)
	}
}

func TestSubmitUnknownChannel(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	req := submitReq(e, "M-1", 25000)
	req.Channel = "nope"
	if _, err := e.svc.Submit(context.Background(), req); !errors.Is(err, merchantdomain.ErrConfigNotFound) {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestSubmitPayoutNotEnabledOnChannel(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	req := submitReq(e, "M-1", 25000)
	req.Direction = orderdomain.DirectionPayout
	req.AccountNo = "50100012345678"
	if _, err := e.svc.Submit(context.Background(), req); !errors.Is(err, ErrDirectionNotEnabled) {
		t.Fatalf("err = %v, want ErrDirectionNotEnabled", err)
	}
}

func TestSubmitAmountBelowMinimum(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	if _, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 500)); !errors.Is(err, limit.ErrAmountOutOfRange) {
		t.Fatalf("err = %v, want ErrAmountOutOfRange", err)
	}
}

func TestSubmitUTRForwardsAndRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/utr/submit") {
			json.NewEncoder(w).Encode(map[string]any{
				"code": "0000",
				"data": map[string]string{"order_no": "SP-1", "status": "1"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": "0000",
			"data": map[string]string{"order_no": "SP-1", "status": "0"},
		})
	}))
	defer server.Close()
	e := newEnv(t, server.URL)

	if _, err := e.svc.Submit(context.Background(), submitReq(e, "M-1", 25000)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := e.svc.SubmitUTR(context.Background(), e.merchant.ID, "M-1", "UTR314159")
	if err != nil {
		t.Fatalf("submit utr: %v", err)
	}
	if got.UTR != "UTR314159" {
		t.Fatalf("utr = %q", got.UTR)
	}
	if got.Status != orderdomain.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", got.Status)
	}
}

func TestBalanceThroughChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": "0000",
			"data": map[string]string{"available": "900000", "frozen": "1000", "currency": "INR"},
		})
	}))
	defer server.Close()
	e := newEnv(t, server.URL)

	balance, err := e.svc.Balance(context.Background(), e.merchant.ID, "star-inr")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Available != 900000 || balance.Frozen != 1000 {
		t.Fatalf("balance = %+v", balance)
	}
}
