package wakepe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/signature"
	"go.uber.org/zap"
)

// Scheme is wakepe's signing contract: SHA-256 over the sorted pair string
// with a trailing "&secret=..." pair, lowercase hex.
var Scheme = signature.Scheme{
	Digest:    signature.DigestSHA256,
	Placement: signature.SecretTrailingPair,
	SecretKey: "secret",
	Case:      signature.CaseLower,
}

var statusMap = domain.StatusMap{
	"CREATED": orderdomain.StatusPending,
	"WAKEUP":  orderdomain.StatusProcessing,
	"PAID":    orderdomain.StatusSuccess,
	"FAIL":    orderdomain.StatusFailed,
	"TIMEOUT": orderdomain.StatusExpired,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "wakepe"
}

func (f *Factory) Kind() merchantdomain.ChannelKind {
	return merchantdomain.KindWakeup
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.AccountNo) == "" || strings.TrimSpace(cfg.Secret) == "" || strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{cfg: cfg, log: cfg.Log}, nil
}

// Adapter speaks wakepe's form-encoded aggregator API. The channel only
// wakes a secondary app flow, so payouts and balance are not offered.
type Adapter struct {
	cfg domain.AdapterConfig
	log *zap.Logger
}

func (a *Adapter) Provider() string { return "wakepe" }

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TradeNo string `json:"tradeNo"`
	WakeURL string `json:"wakeUrl"`
	Status  string `json:"status"`
}

func (a *Adapter) CreateCollection(ctx context.Context, req domain.CollectionRequest) (*domain.Result, error) {
	params := a.baseParams()
	params["mchOrderNo"] = req.OrderNo
	params["amount"] = strconv.FormatInt(req.Amount, 10)
	params["currency"] = req.Currency
	params["notifyUrl"] = a.cfg.NotifyURL
	return a.orderCall(ctx, "/gateway/collect", params)
}

func (a *Adapter) CreatePayout(ctx context.Context, req domain.PayoutRequest) (*domain.Result, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) QueryOrder(ctx context.Context, orderNo string) (*domain.Result, error) {
	params := a.baseParams()
	params["mchOrderNo"] = orderNo
	return a.orderCall(ctx, "/gateway/query", params)
}

func (a *Adapter) QueryBalance(ctx context.Context) (*domain.BalanceResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) SubmitUTR(ctx context.Context, orderNo, utr string) (*domain.Result, error) {
	params := a.baseParams()
	params["mchOrderNo"] = orderNo
	params["utr"] = utr
	return a.orderCall(ctx, "/gateway/utr", params)
}

func (a *Adapter) QueryUTR(ctx context.Context, orderNo string) (*domain.Result, error) {
	return nil, domain.ErrUnsupportedOperation
}

// ParseCallback verifies wakepe's form-encoded callback body.
func (a *Adapter) ParseCallback(raw []byte) (*domain.CallbackEvent, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
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
		OrderNo:     params["mchOrderNo"],
		ProviderRef: params["tradeNo"],
		Amount:      amount,
		Status:      statusMap.Resolve(params["status"], a.log),
		UTR:         params["utr"],
		Raw:         raw,
	}, nil
}

func (a *Adapter) baseParams() map[string]string {
	return map[string]string{
		"mchNo":     a.cfg.AccountNo,
		"timestamp": strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
}

func (a *Adapter) orderCall(ctx context.Context, path string, params map[string]string) (*domain.Result, error) {
	sign, err := signature.Sign(params, a.cfg.Secret, Scheme)
	if err != nil {
		return nil, err
	}
	params["sign"] = sign

	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}

	raw, err := a.cfg.HTTP.PostForm(ctx, a.cfg.Endpoint+path, form)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: %d %s", domain.ErrBusinessRejected, resp.Code, resp.Message)
	}

	return &domain.Result{
		Status:      statusMap.Resolve(resp.Status, a.log),
		ProviderRef: resp.TradeNo,
		PayURL:      resp.WakeURL,
		Message:     resp.Message,
	}, nil
}

var _ domain.Adapter = (*Adapter)(nil)
