package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/clock"
	"github.com/smallbiznis/paybridge/internal/config"
	"github.com/smallbiznis/paybridge/internal/limit"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	merchantrepo "github.com/smallbiznis/paybridge/internal/merchant/repository"
	notifyrepo "github.com/smallbiznis/paybridge/internal/notify/repository"
	notifyservice "github.com/smallbiznis/paybridge/internal/notify/service"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	orderrepo "github.com/smallbiznis/paybridge/internal/order/repository"
	"github.com/smallbiznis/paybridge/internal/provider/adapters"
	"github.com/smallbiznis/paybridge/internal/provider/adapters/starpay"
	"github.com/smallbiznis/paybridge/internal/provider/transport"
	"github.com/smallbiznis/paybridge/internal/reconcile"
	"github.com/smallbiznis/paybridge/internal/signature"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type memStore struct {
	mu     sync.Mutex
	counts map[string]int64
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
		if s.counts[key] -= amount; s.counts[key] < 0 {
			s.counts[key] = 0
		}
	}
	return nil
}

type env struct {
	conn   *gorm.DB
	router *Router
	svc    *reconcile.Service
	node   *snowflake.Node

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
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
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

	svc := reconcile.NewService(reconcile.Params{
		DB:           conn,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		OrderRepo:    orderrepo.Provide(),
		MerchantRepo: merchantrepo.Provide(),
		Guard:        limit.NewGuard(&memStore{counts: map[string]int64{}}, fake, log),
		Registry:     registry,
		Notifier:     notifier,
	})

	router := NewRouter(Params{
		DB:           conn,
		Log:          log,
		MerchantRepo: merchantrepo.Provide(),
		Registry:     registry,
		Reconciler:   svc,
	})

	e := &env{conn: conn, router: router, svc: svc, node: node}
	e.merchant = &merchantdomain.Merchant{
		ID:       node.Generate(),
		Code:     "acme",
		Name:     "Acme Traders",
		IsActive: true,
	}
	if err := conn.Create(e.merchant).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	e.cfg = &merchantdomain.ProviderConfig{
		ID:                   node.Generate(),
		MerchantID:           e.merchant.ID,
		Channel:              "star-inr",
		Provider:             "starpay",
		Kind:                 merchantdomain.KindNative,
		AccountNo:            "M1001",
		Secret:               "s3cret",
		Endpoint:             endpoint,
		Currency:             "INR",
		CollectionEnabled:    true,
		CollectionDailyLimit: 0,
		IsActive:             true,
	}
	if err := conn.Create(e.cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return e
}

func (e *env) submitOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := e.svc.Submit(context.Background(), reconcile.SubmitRequest{
		MerchantID:      e.merchant.ID,
		MerchantOrderNo: "M-1",
		Direction:       orderdomain.DirectionCollection,
		Amount:          25000,
		Currency:        "INR",
		Channel:         "star-inr",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return order
}

func signedCallback(t *testing.T, secret, orderNo, status string, amount int64) []byte {
	t.Helper()
	params := map[string]string{
		"mch_order_no": orderNo,
		"order_no":     "SP-1",
		"amount":       strconv.FormatInt(amount, 10),
		"status":       status,
	}
	sign, err := signature.Sign(params, secret, starpay.Scheme)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	params["sign"] = sign
	raw, _ := json.Marshal(params)
	return raw
}

func pendingProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": "0000",
			"data": map[string]string{"order_no": "SP-1", "status": "0"},
		})
	}))
}

func TestHandleAppliesVerifiedCallback(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)
	order := e.submitOrder(t)

	raw := signedCallback(t, "s3cret", order.OrderNo, "2", 25000)
	if err := e.router.Handle(context.Background(), "starpay", raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.Status)
	}
}

func TestHandleRejectsTamperedCallback(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)
	order := e.submitOrder(t)

	raw := signedCallback(t, "wrong-secret", order.OrderNo, "2", 25000)
	if err := e.router.Handle(context.Background(), "starpay", raw); !errors.Is(err, ErrUnverifiedCallback) {
		t.Fatalf("err = %v, want ErrUnverifiedCallback", err)
	}

	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, unverified callback must not move the order", got.Status)
	}
}

func TestHandleTriesEveryCandidateConfig(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	// A second merchant on the same provider with a different secret comes
	// first in the candidate list.
	other := &merchantdomain.Merchant{ID: e.node.Generate(), Code: "other", Name: "Other", IsActive: true}
	if err := e.conn.Create(other).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	otherCfg := &merchantdomain.ProviderConfig{
		ID:                e.node.Generate(),
		MerchantID:        other.ID,
		Channel:           "star-inr",
		Provider:          "starpay",
		Kind:              merchantdomain.KindNative,
		AccountNo:         "M2002",
		Secret:            "other-secret",
		Endpoint:          server.URL,
		Currency:          "INR",
		CollectionEnabled: true,
		Priority:          99,
		IsActive:          true,
	}
	if err := e.conn.Create(otherCfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	order := e.submitOrder(t)
	raw := signedCallback(t, "s3cret", order.OrderNo, "2", 25000)
	if err := e.router.Handle(context.Background(), "starpay", raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := e.svc.Query(context.Background(), e.merchant.ID, "M-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != orderdomain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.Status)
	}
}

func TestHandleUnknownProvider(t *testing.T) {
	server := pendingProvider(t)
	defer server.Close()
	e := newEnv(t, server.URL)

	if err := e.router.Handle(context.Background(), "nopay", []byte("{}")); !errors.Is(err, ErrUnverifiedCallback) {
		t.Fatalf("err = %v, want ErrUnverifiedCallback", err)
	}
}
