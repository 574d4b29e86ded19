package avatax

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smallbiznis/salestax/internal/config"
	obstracing "github.com/smallbiznis/salestax/internal/observability/tracing"
	"github.com/smallbiznis/salestax/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pathGetTax    = "/1.0/tax/get"
	pathPostTax   = "/1.0/tax/post"
	pathCancelTax = "/1.0/tax/cancel"

	headerCorrelationID = correlation.Header
	maxErrorBody        = 64 << 10
)

type Client struct {
	settings   *config.AvataxConfigHolder
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient builds a client that reads endpoint, credentials and timeout from
// the holder on every call, so reloaded settings apply immediately.
func NewClient(settings *config.AvataxConfigHolder, log *zap.Logger) *Client {
	return NewClientWithHTTP(settings, log, obstracing.WrapHTTPClient(&http.Client{}))
}

func NewClientWithHTTP(settings *config.AvataxConfigHolder, log *zap.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		settings:   settings,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		log:        log.Named("avatax.client"),
	}
}

func (c *Client) QuoteTax(ctx context.Context, req *GetTaxRequest) (*GetTaxResult, error) {
	var out GetTaxResult
	if err := c.do(ctx, "gettax", pathGetTax, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CommitTax(ctx context.Context, req *PostTaxRequest) (*PostTaxResult, error) {
	var out PostTaxResult
	if err := c.do(ctx, "posttax", pathPostTax, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelTax(ctx context.Context, req *CancelTaxRequest) (*CancelTaxResult, error) {
	var out cancelEnvelope
	if err := c.do(ctx, "canceltax", pathCancelTax, req, &out); err != nil {
		return nil, err
	}
	return &out.CancelTaxResult, nil
}

type result interface {
	status() (string, []Message)
}

func (r *GetTaxResult) status() (string, []Message)  { return r.ResultCode, r.Messages }
func (r *PostTaxResult) status() (string, []Message) { return r.ResultCode, r.Messages }

type cancelEnvelope struct {
	CancelTaxResult CancelTaxResult `json:"CancelTaxResult"`
}

func (r *cancelEnvelope) status() (string, []Message) {
	return r.CancelTaxResult.ResultCode, r.CancelTaxResult.Messages
}

func (c *Client) do(ctx context.Context, op string, path string, in any, out result) error {
	caller := ctx
	settings := c.settings.Get()
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	if err := c.wait(ctx, settings); err != nil {
		if cerr := canceledError(caller, op); cerr != nil {
			return cerr
		}
		return transportError(op, err)
	}
	ctx, correlationID := correlation.EnsureCorrelationID(ctx)

	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Kind: KindGeneric, Op: op, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindGeneric, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerCorrelationID, correlationID)
	if settings.Username != "" || settings.Password != "" {
		req.SetBasicAuth(settings.Username, settings.Password)
	}

	log := c.log.With(zap.String("op", op), zap.String("correlation_id", correlationID))
	log.Debug("avatax request", zap.ByteString("body", body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceledError(caller, op); cerr != nil {
			return cerr
		}
		log.Warn("avatax request failed", zap.Error(err))
		return classifyDoError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn("avatax request rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return statusError(op, resp.StatusCode, raw)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if cerr := canceledError(caller, op); cerr != nil {
			return cerr
		}
		return classifyDoError(op, err)
	}
	log.Debug("avatax response", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindGeneric, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if code, messages := out.status(); strings.EqualFold(code, ResultCodeError) {
		msg := summary(messages)
		if msg == "" {
			msg = "provider returned ResultCode Error"
		}
		return &Error{Kind: KindAPI, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

// wait applies the current throttle settings and blocks until a call may proceed.
func (c *Client) wait(ctx context.Context, settings config.AvataxConfig) error {
	limit := rate.Inf
	if settings.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(settings.MaxRequestsPerSecond)
	}
	burst := settings.Burst
	if burst <= 0 {
		burst = 1
	}
	if c.limiter.Limit() != limit {
		c.limiter.SetLimit(limit)
	}
	if c.limiter.Burst() != burst {
		c.limiter.SetBurst(burst)
	}
	return c.limiter.Wait(ctx)
}

func statusError(op string, statusCode int, raw []byte) *Error {
	var body struct {
		ResultCode string    `json:"ResultCode"`
		Messages   []Message `json:"Messages"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		msg = summary(body.Messages)
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %d", statusCode)
	}

	kind := KindAPI
	if statusCode >= http.StatusInternalServerError {
		kind = KindGeneric
	}
	return &Error{Kind: kind, Op: op, StatusCode: statusCode, Message: msg}
}
