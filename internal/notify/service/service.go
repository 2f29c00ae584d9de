package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/clock"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	notifydomain "github.com/smallbiznis/paybridge/internal/notify/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// webhookScheme signs merchant-bound webhooks the same way inbound provider
// traffic is signed, so merchants verify with one shared routine.
var webhookScheme = signature.Scheme{
	Digest:    signature.DigestSHA256,
	Placement: signature.SecretTrailingPair,
	SecretKey: "key",
	Case:      signature.CaseLower,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  notifydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  notifydomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notify.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Enqueue records one owed webhook for an order state change. Orders without
// a notify URL owe nothing. The payload is signed with the merchant's secret
// at enqueue time and never re-signed.
func (s *Service) Enqueue(ctx context.Context, order *orderdomain.Order, merchant *merchantdomain.Merchant) error {
	if order.NotifyURL == "" {
		return nil
	}

	now := s.clock.Now()
	params := map[string]string{
		"order_no":          order.OrderNo,
		"merchant_order_no": order.MerchantOrderNo,
		"direction":         string(order.Direction),
		"amount":            strconv.FormatInt(order.Amount, 10),
		"fee":               strconv.FormatInt(order.Fee, 10),
		"currency":          order.Currency,
		"status":            string(order.Status),
		"provider_ref":      order.ProviderRef,
		"utr":               order.UTR,
		"timestamp":         strconv.FormatInt(now.Unix(), 10),
	}
	sign, err := signature.Sign(params, merchant.NotifySecret, webhookScheme)
	if err != nil {
		return err
	}
	params["sign"] = sign

	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}

	notification := &notifydomain.Notification{
		ID:            s.genID.Generate(),
		OrderID:       order.ID,
		MerchantID:    order.MerchantID,
		OrderNo:       order.OrderNo,
		URL:           order.NotifyURL,
		Payload:       datatypes.JSON(payload),
		Status:        notifydomain.StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, notification); err != nil {
		return err
	}

	s.log.Info("webhook enqueued",
		zap.String("order_no", order.OrderNo),
		zap.String("status", string(order.Status)),
	)
	return nil
}
