package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"UsdnLedger/internal/core"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second
	defaultHTTPTimeout     = 5 * time.Second
)

// priceResponse is the body returned by the price service.
type priceResponse struct {
	Price     string `json:"price"`     // human decimal, e.g. "2012.55"
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// HTTPOracle asks a REST price service for prices:
//
//	GET /v1/price?mode=latest&at=<unix>      (initiations)
//	GET /v1/price?mode=after&at=<unix>       (validations)
//
// When oracle data is attached to a call it is forwarded as the X-Oracle-Data
// header so the service can verify it.
type HTTPOracle struct {
	http *resty.Client
}

var _ core.Oracle = (*HTTPOracle)(nil)

func NewHTTPOracle(baseURL string) *HTTPOracle {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultHTTPTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
	return &HTTPOracle{http: client}
}

// newHTTPOracleWithClient is used by tests to inject a transport.
func newHTTPOracleWithClient(client *resty.Client) *HTTPOracle {
	return &HTTPOracle{http: client}
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func (o *HTTPOracle) GetPrice(ctx context.Context, kind types.ActionKind, target time.Time, data []byte) (core.PriceInfo, error) {
	mode := "latest"
	if kind.IsValidation() {
		mode = "after"
	}

	req := o.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("mode", mode).
		SetQueryParam("at", strconv.FormatInt(target.Unix(), 10)).
		SetQueryParam("action", kind.String())
	if len(data) > 0 {
		req = req.SetHeader("X-Oracle-Data", fmt.Sprintf("%x", data))
	}

	resp, err := req.Get("/v1/price")
	if err != nil {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "request: %v", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusPaymentRequired:
		return core.PriceInfo{}, errorsmod.Wrap(types.ErrOracleFeeInsufficient, string(resp.Body()))
	case http.StatusNotFound:
		if kind.IsValidation() {
			return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOraclePriceTooOld, "no price after %d", target.Unix())
		}
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "no price before %d", target.Unix())
	default:
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var body priceResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "decode: %v", err)
	}
	return parsePriceResponse(body)
}

func parsePriceResponse(body priceResponse) (core.PriceInfo, error) {
	d, err := decimal.NewFromString(body.Price)
	if err != nil {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "price %q: %v", body.Price, err)
	}
	price := fpmath.FromDecimal(d, fpmath.PriceDecimals)
	if !price.IsPositive() {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "non-positive price %q", body.Price)
	}
	return core.PriceInfo{Price: price, Timestamp: time.Unix(body.Timestamp, 0).UTC()}, nil
}
