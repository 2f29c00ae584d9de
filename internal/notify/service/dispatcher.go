package service

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/smallbiznis/paybridge/internal/clock"
	"github.com/smallbiznis/paybridge/internal/config"
	notifydomain "github.com/smallbiznis/paybridge/internal/notify/domain"
	"github.com/smallbiznis/paybridge/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	retryBase = 30 * time.Second
	retryCap  = time.Hour
)

// Sender posts one payload to a merchant endpoint. Swapped for a fake in
// tests.
type Sender interface {
	Send(ctx context.Context, url string, payload []byte) error
}

type httpSender struct {
	client *http.Client
}

func (s *httpSender) Send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &deliveryError{status: resp.StatusCode}
	}
	return nil
}

type deliveryError struct {
	status int
}

func (e *deliveryError) Error() string {
	return "merchant endpoint returned http " + http.StatusText(e.status)
}

type DispatcherParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Repo    notifydomain.Repository
	Metrics *observability.Metrics `optional:"true"`
}

// Dispatcher drains due notifications and redelivers with exponential
// backoff until acknowledged or exhausted.
type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        notifydomain.Repository
	metrics     *observability.Metrics
	sender      Sender
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	interval := time.Duration(p.Config.NotifyIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := time.Duration(p.Config.NotifyTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := p.Config.NotifyMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	batchSize := p.Config.NotifyBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("notify.dispatcher"),
		clock:       p.Clock,
		repo:        p.Repo,
		metrics:     p.Metrics,
		sender:      &httpSender{client: &http.Client{Timeout: timeout}},
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Warn("notification dispatch run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) RunOnce(ctx context.Context) error {
	now := d.clock.Now()
	rows, err := d.repo.FindDue(ctx, d.db, now, d.batchSize)
	if err != nil {
		return err
	}

	for i := range rows {
		row := &rows[i]
		if err := d.deliver(ctx, row); err != nil {
			d.log.Warn("notification delivery attempt failed",
				zap.String("order_no", row.OrderNo),
				zap.Int("attempt", row.Attempts+1),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, row *notifydomain.Notification) error {
	now := d.clock.Now()
	next := now.Add(backoff(row.Attempts))

	claimed, err := d.repo.Claim(ctx, d.db, row.ID, row.Attempts, next, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	sendErr := d.sender.Send(ctx, row.URL, row.Payload)
	if sendErr == nil {
		d.metrics.RecordNotificationDelivered()
		return d.repo.MarkDelivered(ctx, d.db, row.ID, d.clock.Now())
	}

	exhausted := row.Attempts+1 >= d.maxAttempts
	if exhausted {
		d.metrics.RecordNotificationFailed()
		d.log.Error("notification exhausted",
			zap.String("order_no", row.OrderNo),
			zap.String("url", row.URL),
			zap.Int("attempts", row.Attempts+1),
			zap.Error(sendErr),
		)
	}
	if err := d.repo.RecordFailure(ctx, d.db, row.ID, sendErr.Error(), exhausted, d.clock.Now()); err != nil {
		return err
	}
	return sendErr
}

func backoff(attempts int) time.Duration {
	delay := retryBase
	for i := 0; i < attempts && delay < retryCap; i++ {
		delay *= 2
	}
	if delay > retryCap {
		delay = retryCap
	}
	return delay
}
