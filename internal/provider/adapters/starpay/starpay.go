package starpay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/signature"
	"go.uber.org/zap"
)

// Scheme is starpay's signing contract: MD5 over the sorted pair string with
// the secret appended as a trailing "&key=..." pair, lowercase hex.
var Scheme = signature.Scheme{
	Digest:    signature.DigestMD5,
	Placement: signature.SecretTrailingPair,
	SecretKey: "key",
	Case:      signature.CaseLower,
}

const codeOK = "0000"

var statusMap = domain.StatusMap{
	"0": orderdomain.StatusPending,
	"1": orderdomain.StatusProcessing,
	"2": orderdomain.StatusSuccess,
	"3": orderdomain.StatusFailed,
	"4": orderdomain.StatusCancelled,
	"5": orderdomain.StatusExpired,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "starpay"
}

func (f *Factory) Kind() merchantdomain.ChannelKind {
	return merchantdomain.KindNative
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.AccountNo) == "" || strings.TrimSpace(cfg.Secret) == "" || strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{cfg: cfg, log: cfg.Log}, nil
}

type Adapter struct {
	cfg domain.AdapterConfig
	log *zap.Logger
}

func (a *Adapter) Provider() string { return "starpay" }

type response struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type orderData struct {
	OrderNo   string `json:"order_no"`
	PayURL    string `json:"pay_url"`
	Status    string `json:"status"`
	UTR       string `json:"utr"`
	UTRStatus string `json:"utr_status"`
}

type balanceData struct {
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
	Currency  string `json:"currency"`
}

func (a *Adapter) CreateCollection(ctx context.Context, req domain.CollectionRequest) (*domain.Result, error) {
	params := a.baseParams()
	params["mch_order_no"] = req.OrderNo
	params["amount"] = strconv.FormatInt(req.Amount, 10)
	params["currency"] = req.Currency
	params["notify_url"] = a.cfg.NotifyURL
	params["return_url"] = firstNonEmpty(req.ReturnURL, a.cfg.ReturnURL)
	return a.orderCall(ctx, "/api/v1/collection/create", params)
}

func (a *Adapter) CreatePayout(ctx context.Context, req domain.PayoutRequest) (*domain.Result, error) {
	params := a.baseParams()
	params["mch_order_no"] = req.OrderNo
	params["amount"] = strconv.FormatInt(req.Amount, 10)
	params["currency"] = req.Currency
	params["notify_url"] = a.cfg.NotifyURL
	params["bank_code"] = req.BankCode
	params["acc_name"] = req.AccountName
	params["acc_no"] = req.AccountNo
	params["ifsc"] = req.IFSC
	return a.orderCall(ctx, "/api/v1/payout/create", params)
}

func (a *Adapter) QueryOrder(ctx context.Context, orderNo string) (*domain.Result, error) {
	params := a.baseParams()
	params["mch_order_no"] = orderNo
	return a.orderCall(ctx, "/api/v1/order/query", params)
}

func (a *Adapter) QueryBalance(ctx context.Context) (*domain.BalanceResult, error) {
	params := a.baseParams()
	data, err := a.call(ctx, "/api/v1/balance/query", params)
	if err != nil {
		return nil, err
	}
	var balance balanceData
	if err := json.Unmarshal(data, &balance); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	available, _ := strconv.ParseInt(balance.Available, 10, 64)
	frozen, _ := strconv.ParseInt(balance.Frozen, 10, 64)
	return &domain.BalanceResult{
		Available: available,
		Frozen:    frozen,
		Currency:  balance.Currency,
	}, nil
}

func (a *Adapter) SubmitUTR(ctx context.Context, orderNo, utr string) (*domain.Result, error) {
	params := a.baseParams()
	params["mch_order_no"] = orderNo
	params["utr"] = utr
	return a.orderCall(ctx, "/api/v1/utr/submit", params)
}

func (a *Adapter) QueryUTR(ctx context.Context, orderNo string) (*domain.Result, error) {
	params := a.baseParams()
	params["mch_order_no"] = orderNo
	return a.orderCall(ctx, "/api/v1/utr/query", params)
}

func (a *Adapter) ParseCallback(raw []byte) (*domain.CallbackEvent, error) {
	params, err := domain.FlattenJSON(raw)
	if err != nil {
		return nil, err
	}
	candidate := params["sign"]
	if candidate == "" {
		return nil, signature.ErrSignatureMismatch
	}
	if err := signature.Verify(params, a.cfg.Secret, Scheme, candidate); err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseInt(params["amount"], 10, 64)
	return &domain.CallbackEvent{
		OrderNo:     params["mch_order_no"],
		ProviderRef: params["order_no"],
		Amount:      amount,
		Status:      statusMap.Resolve(params["status"], a.log),
		UTR:         params["utr"],
		Raw:         raw,
	}, nil
}

func (a *Adapter) baseParams() map[string]string {
	params := map[string]string{
		"mch_id":    a.cfg.AccountNo,
		"timestamp": strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
	if a.cfg.SubChannel != "" {
		params["sub_channel"] = a.cfg.SubChannel
	}
	return params
}

func (a *Adapter) orderCall(ctx context.Context, path string, params map[string]string) (*domain.Result, error) {
	data, err := a.call(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var order orderData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &order); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}
	return &domain.Result{
		Status:      statusMap.Resolve(order.Status, a.log),
		ProviderRef: order.OrderNo,
		PayURL:      order.PayURL,
		UTR:         order.UTR,
	}, nil
}

func (a *Adapter) call(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	sign, err := signature.Sign(params, a.cfg.Secret, Scheme)
	if err != nil {
		return nil, err
	}
	params["sign"] = sign

	raw, err := a.cfg.HTTP.PostJSON(ctx, a.cfg.Endpoint+path, params)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrBusinessRejected, resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

var _ domain.Adapter = (*Adapter)(nil)
