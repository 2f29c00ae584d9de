package orbitpay

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

// Scheme is orbitpay's signing contract: SHA-256 over the sorted pair string
// with the secret concatenated directly, uppercase hex.
var Scheme = signature.Scheme{
	Digest:    signature.DigestSHA256,
	Placement: signature.SecretConcat,
	Case:      signature.CaseUpper,
}

var statusMap = domain.StatusMap{
	"INIT":       orderdomain.StatusPending,
	"PENDING":    orderdomain.StatusProcessing,
	"PROCESSING": orderdomain.StatusProcessing,
	"SUCCESS":    orderdomain.StatusSuccess,
	"FAILED":     orderdomain.StatusFailed,
	"REJECTED":   orderdomain.StatusFailed,
	"CANCELLED":  orderdomain.StatusCancelled,
	"EXPIRED":    orderdomain.StatusExpired,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "orbitpay"
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

func (a *Adapter) Provider() string { return "orbitpay" }

type response struct {
	ResultCode string `json:"resultCode"`
	Message    string `json:"message"`
	TxnID      string `json:"txnId"`
	OrderNo    string `json:"orderId"`
	Status     string `json:"orderStatus"`
	PayURL     string `json:"payUrl"`
	Available  string `json:"availableBalance"`
	Frozen     string `json:"frozenBalance"`
	Currency   string `json:"currency"`
}

func (a *Adapter) CreateCollection(ctx context.Context, req domain.CollectionRequest) (*domain.Result, error) {
	params := a.baseParams()
	params["orderId"] = req.OrderNo
	params["amount"] = strconv.FormatInt(req.Amount, 10)
	params["currency"] = req.Currency
	params["notifyUrl"] = a.cfg.NotifyURL
	return a.orderCall(ctx, "/openapi/pay/create", params)
}

func (a *Adapter) CreatePayout(ctx context.Context, req domain.PayoutRequest) (*domain.Result, error) {
	params := a.baseParams()
	params["orderId"] = req.OrderNo
	params["amount"] = strconv.FormatInt(req.Amount, 10)
	params["currency"] = req.Currency
	params["notifyUrl"] = a.cfg.NotifyURL
	params["bankCode"] = req.BankCode
	params["accountName"] = req.AccountName
	params["accountNumber"] = req.AccountNo
	params["ifsc"] = req.IFSC
	return a.orderCall(ctx, "/openapi/payout/create", params)
}

func (a *Adapter) QueryOrder(ctx context.Context, orderNo string) (*domain.Result, error) {
	params := a.baseParams()
	params["orderId"] = orderNo
	return a.orderCall(ctx, "/openapi/order/status", params)
}

func (a *Adapter) QueryBalance(ctx context.Context) (*domain.BalanceResult, error) {
	resp, err := a.call(ctx, "/openapi/balance", a.baseParams())
	if err != nil {
		return nil, err
	}
	available, _ := strconv.ParseInt(resp.Available, 10, 64)
	frozen, _ := strconv.ParseInt(resp.Frozen, 10, 64)
	return &domain.BalanceResult{
		Available: available,
		Frozen:    frozen,
		Currency:  resp.Currency,
	}, nil
}

func (a *Adapter) SubmitUTR(ctx context.Context, orderNo, utr string) (*domain.Result, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) QueryUTR(ctx context.Context, orderNo string) (*domain.Result, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) ParseCallback(raw []byte) (*domain.CallbackEvent, error) {
	params, err := domain.FlattenJSON(raw)
	if err != nil {
		return nil, err
	}
	candidate := params["signature"]
	if candidate == "" {
		return nil, signature.ErrSignatureMismatch
	}
	if err := signature.Verify(params, a.cfg.Secret, Scheme, candidate); err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseInt(params["amount"], 10, 64)
	return &domain.CallbackEvent{
		OrderNo:     params["orderId"],
		ProviderRef: params["txnId"],
		Amount:      amount,
		Status:      statusMap.Resolve(params["status"], a.log),
		Raw:         raw,
	}, nil
}

func (a *Adapter) baseParams() map[string]string {
	return map[string]string{
		"merchantId": a.cfg.AccountNo,
		"timestamp":  strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
	}
}

func (a *Adapter) orderCall(ctx context.Context, path string, params map[string]string) (*domain.Result, error) {
	resp, err := a.call(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return &domain.Result{
		Status:      statusMap.Resolve(resp.Status, a.log),
		ProviderRef: resp.TxnID,
		PayURL:      resp.PayURL,
		Message:     resp.Message,
	}, nil
}

func (a *Adapter) call(ctx context.Context, path string, params map[string]string) (*response, error) {
	sign, err := signature.Sign(params, a.cfg.Secret, Scheme)
	if err != nil {
		return nil, err
	}
	params["signature"] = sign

	raw, err := a.cfg.HTTP.PostJSON(ctx, a.cfg.Endpoint+path, params)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if resp.ResultCode != "OK" {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrBusinessRejected, resp.ResultCode, resp.Message)
	}
	return &resp, nil
}

var _ domain.Adapter = (*Adapter)(nil)
