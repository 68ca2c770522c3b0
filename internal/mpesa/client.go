// Package mpesa implements the Daraja gateway client: request building
// and validation for every operation, guarded execution through the rate
// limiter, retry policy and circuit breaker, and token management.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	"github.com/cassiomorais/daraja/pkg/ratelimit"
	"github.com/cassiomorais/daraja/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Config holds the gateway credentials and URLs. Read-only after the
// client is constructed.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
	Environment    Environment

	CallbackURL string
	TimeoutURL  string
	ResultURL   string

	InitiatorName      string
	SecurityCredential string

	// RequestTimeout bounds each individual HTTP attempt, not the whole
	// retry sequence. Defaults to 30s.
	RequestTimeout time.Duration

	// BaseURLOverride replaces the environment's host when set.
	BaseURLOverride string
}

// BaseURL returns the gateway host for this configuration.
func (c Config) BaseURL() string {
	if c.BaseURLOverride != "" {
		return c.BaseURLOverride
	}
	return c.Environment.BaseURL()
}

// Client issues Daraja API calls. It owns one long-lived HTTP client
// reused across calls; Close releases its idle connections. Safe for
// concurrent use.
type Client struct {
	cfg     Config
	httpc   *http.Client
	tokens  TokenSource
	limiter ratelimit.Limiter
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
	metrics *observability.Metrics

	ownedLimiter *ratelimit.Local
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. Its timeout becomes the
// per-attempt deadline.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithTokenSource replaces the default cached OAuth token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRateLimiter guards calls with the given limiter. The client does
// not stop it on Close.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLocalRateLimit guards calls with a client-owned in-process limiter,
// stopped on Close.
func WithLocalRateLimit(cfg ratelimit.Config) Option {
	return func(c *Client) {
		c.ownedLimiter = ratelimit.NewLocal(cfg)
		c.limiter = c.ownedLimiter
	}
}

// WithRetryPolicy replaces the default backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithCircuitBreaker wraps every attempt in a circuit breaker. An open
// breaker fails calls immediately and stops the retry loop.
func WithCircuitBreaker() Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "daraja",
			MaxRequests: 10,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if c.metrics != nil {
					c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records request, retry and rejection metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a gateway client for the given configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		policy: retry.DefaultPolicy(),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if c.tokens == nil {
		c.tokens = NewAuth(cfg, c.httpc, c.logger, WithAuthMetrics(c.metrics))
	}
	return c
}

// Close releases the client's idle connections and stops a limiter the
// client owns. The client must not be used afterwards.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
	if c.ownedLimiter != nil {
		c.ownedLimiter.Stop()
	}
}

// --- Operations ---

// STKPush prompts the customer's phone to authorize a payment.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	if req.Amount < 1 {
		return nil, domainErrors.NewValidation("amount must be at least 1")
	}
	if req.AccountReference == "" || len(req.AccountReference) > 13 {
		return nil, domainErrors.NewValidation("account reference must be 1-13 characters")
	}
	if req.TransactionDesc == "" {
		return nil, domainErrors.NewValidation("transaction description required")
	}
	phone, err := FormatPhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	auth := c.stkAuth()
	timestamp := auth.Timestamp()
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.cfg.CallbackURL
	}

	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          auth.Password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(math.Floor(req.Amount)),
		"PartyA":            phone,
		"PartyB":            c.cfg.Shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       callbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.TransactionDesc,
	}

	var resp STKPushResponse
	if err := c.do(ctx, "stk_push", "/mpesa/stkpush/v1/processrequest", payload, "stk:"+phone, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// STKQuery looks up the current state of an STK push.
func (c *Client) STKQuery(ctx context.Context, req STKQueryRequest) (*STKQueryResponse, error) {
	if req.CheckoutRequestID == "" {
		return nil, domainErrors.NewValidation("checkout request ID required")
	}

	auth := c.stkAuth()
	timestamp := auth.Timestamp()
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          auth.Password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": req.CheckoutRequestID,
	}

	var resp STKQueryResponse
	if err := c.do(ctx, "stk_query", "/mpesa/stkpushquery/v1/query", payload, "query:"+req.CheckoutRequestID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterC2BURL registers the validation and confirmation webhook URLs.
func (c *Client) RegisterC2BURL(ctx context.Context, req C2BRegisterRequest) (*C2BRegisterResponse, error) {
	if req.ConfirmationURL == "" || req.ValidationURL == "" {
		return nil, domainErrors.NewValidation("both confirmation and validation URLs required")
	}
	shortCode := req.ShortCode
	if shortCode == "" {
		shortCode = c.cfg.Shortcode
	}
	responseType := req.ResponseType
	if responseType == "" {
		responseType = "Completed"
	}

	payload := map[string]any{
		"ShortCode":       shortCode,
		"ResponseType":    responseType,
		"ConfirmationURL": req.ConfirmationURL,
		"ValidationURL":   req.ValidationURL,
	}

	var resp C2BRegisterResponse
	if err := c.do(ctx, "c2b_register", "/mpesa/c2b/v1/registerurl", payload, "c2b:register", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// B2C pays out to a customer phone number.
func (c *Client) B2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	if req.Amount < 10 {
		return nil, domainErrors.NewValidation("B2C amount must be at least 10")
	}
	if req.Remarks == "" || len(req.Remarks) > 100 {
		return nil, domainErrors.NewValidation("remarks must be 1-100 characters")
	}
	phone, err := FormatPhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCredential,
		"CommandID":          string(req.CommandID),
		"Amount":             int64(math.Floor(req.Amount)),
		"PartyA":             c.cfg.Shortcode,
		"PartyB":             phone,
		"Remarks":            req.Remarks,
		"QueueTimeOutURL":    orDefault(req.TimeoutURL, c.cfg.TimeoutURL),
		"ResultURL":          orDefault(req.ResultURL, c.cfg.ResultURL),
		"Occasion":           req.Occasion,
	}

	var resp B2CResponse
	if err := c.do(ctx, "b2c", "/mpesa/b2c/v1/paymentrequest", payload, "b2c:"+phone, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// B2B transfers funds to another business shortcode.
func (c *Client) B2B(ctx context.Context, req B2BRequest) (*B2BResponse, error) {
	if req.Amount < 1 {
		return nil, domainErrors.NewValidation("amount must be at least 1")
	}
	if req.Remarks == "" || len(req.Remarks) > 100 {
		return nil, domainErrors.NewValidation("remarks must be 1-100 characters")
	}
	if req.AccountReference == "" || len(req.AccountReference) > 13 {
		return nil, domainErrors.NewValidation("account reference must be 1-13 characters")
	}

	payload := map[string]any{
		"Initiator":              c.cfg.InitiatorName,
		"SecurityCredential":     c.cfg.SecurityCredential,
		"CommandID":              string(req.CommandID),
		"Amount":                 int64(math.Floor(req.Amount)),
		"PartyA":                 c.cfg.Shortcode,
		"PartyB":                 req.PartyB,
		"SenderIdentifierType":   req.SenderIdentifierType,
		"ReceiverIdentifierType": req.ReceiverIdentifierType,
		"Remarks":                req.Remarks,
		"AccountReference":       req.AccountReference,
		"QueueTimeOutURL":        orDefault(req.TimeoutURL, c.cfg.TimeoutURL),
		"ResultURL":              orDefault(req.ResultURL, c.cfg.ResultURL),
	}

	var resp B2BResponse
	if err := c.do(ctx, "b2b", "/mpesa/b2b/v1/paymentrequest", payload, "b2b:"+req.PartyB, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AccountBalance queries the shortcode's ledger balances.
func (c *Client) AccountBalance(ctx context.Context, req AccountBalanceRequest) (*AccountBalanceResponse, error) {
	payload := map[string]any{
		"Initiator":          c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCredential,
		"CommandID":          "AccountBalance",
		"PartyA":             orDefault(req.PartyA, c.cfg.Shortcode),
		"IdentifierType":     orDefault(req.IdentifierType, "4"),
		"Remarks":            orDefault(req.Remarks, "Account balance query"),
		"QueueTimeOutURL":    orDefault(req.TimeoutURL, c.cfg.TimeoutURL),
		"ResultURL":          orDefault(req.ResultURL, c.cfg.ResultURL),
	}

	var resp AccountBalanceResponse
	if err := c.do(ctx, "balance", "/mpesa/accountbalance/v1/query", payload, "balance", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransactionStatus queries a transaction by its M-Pesa transaction ID.
func (c *Client) TransactionStatus(ctx context.Context, req TransactionStatusRequest) (*TransactionStatusResponse, error) {
	if req.TransactionID == "" {
		return nil, domainErrors.NewValidation("transaction ID required")
	}

	payload := map[string]any{
		"Initiator":          c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCredential,
		"CommandID":          "TransactionStatusQuery",
		"TransactionID":      req.TransactionID,
		"PartyA":             orDefault(req.PartyA, c.cfg.Shortcode),
		"IdentifierType":     orDefault(req.IdentifierType, "4"),
		"Remarks":            orDefault(req.Remarks, "Transaction status query"),
		"Occasion":           req.Occasion,
		"QueueTimeOutURL":    orDefault(req.TimeoutURL, c.cfg.TimeoutURL),
		"ResultURL":          orDefault(req.ResultURL, c.cfg.ResultURL),
	}

	var resp TransactionStatusResponse
	if err := c.do(ctx, "status", "/mpesa/transactionstatus/v1/query", payload, "status:"+req.TransactionID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reversal reverses a completed transaction.
func (c *Client) Reversal(ctx context.Context, req ReversalRequest) (*ReversalResponse, error) {
	if req.TransactionID == "" {
		return nil, domainErrors.NewValidation("transaction ID required")
	}
	if req.Amount < 1 {
		return nil, domainErrors.NewValidation("amount must be at least 1")
	}

	payload := map[string]any{
		"Initiator":              c.cfg.InitiatorName,
		"SecurityCredential":     c.cfg.SecurityCredential,
		"CommandID":              "TransactionReversal",
		"TransactionID":          req.TransactionID,
		"Amount":                 int64(math.Floor(req.Amount)),
		"ReceiverParty":          orDefault(req.ReceiverParty, c.cfg.Shortcode),
		"ReceiverIdentifierType": orDefault(req.ReceiverIdentifierType, "11"),
		"Remarks":                orDefault(req.Remarks, "Transaction reversal"),
		"Occasion":               req.Occasion,
		"QueueTimeOutURL":        orDefault(req.TimeoutURL, c.cfg.TimeoutURL),
		"ResultURL":              orDefault(req.ResultURL, c.cfg.ResultURL),
	}

	var resp ReversalResponse
	if err := c.do(ctx, "reversal", "/mpesa/reversal/v1/request", payload, "reversal:"+req.TransactionID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DynamicQR generates a scannable payment QR code.
func (c *Client) DynamicQR(ctx context.Context, req DynamicQRRequest) (*DynamicQRResponse, error) {
	if req.MerchantName == "" || len(req.MerchantName) > 26 {
		return nil, domainErrors.NewValidation("merchant name must be 1-26 characters")
	}
	if req.RefNo == "" || len(req.RefNo) > 12 {
		return nil, domainErrors.NewValidation("reference number must be 1-12 characters")
	}
	if req.Amount < 1 {
		return nil, domainErrors.NewValidation("amount must be at least 1")
	}

	payload := map[string]any{
		"MerchantName": req.MerchantName,
		"RefNo":        req.RefNo,
		"Amount":       int64(math.Floor(req.Amount)),
		"TrxCode":      string(req.TrxCode),
		"CPI":          req.CreditPartyIdentifier,
		"Size":         orDefault(req.Size, "300"),
	}

	var resp DynamicQRResponse
	if err := c.do(ctx, "qr", "/mpesa/qrcode/v1/generate", payload, "qr:"+req.RefNo, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Guarded execution ---

// do runs one gateway call: rate limiter first (a rejection here is a
// policy stop, short-circuiting before any network I/O and never
// retried), then the network attempt under the retry policy, with the
// circuit breaker wrapping each attempt when enabled. Worst-case wall
// clock is (MaxRetries+1) x (RequestTimeout + MaxDelay).
func (c *Client) do(ctx context.Context, operation, path string, payload any, limitKey string, out any) error {
	if c.limiter != nil && limitKey != "" {
		if err := c.limiter.Check(ctx, limitKey); err != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				if c.metrics != nil {
					c.metrics.RateLimitRejections.WithLabelValues("client").Inc()
				}
				c.logger.Warn().Str("operation", operation).Str("key", limitKey).
					Dur("retry_after", limitErr.Wait).Msg("rate limit exceeded")
				e := domainErrors.NewRateLimit("rate limit exceeded for "+limitKey, limitErr.Wait)
				e.Details = limitErr
				return e
			}
			return err
		}
	}

	policy := c.policy
	policy.OnRetry = func(err error, attempt int) {
		if c.metrics != nil {
			c.metrics.GatewayRetriesTotal.WithLabelValues(operation).Inc()
		}
		c.logger.Warn().Err(err).Str("operation", operation).Int("attempt", attempt).
			Msg("retrying gateway call")
		if c.policy.OnRetry != nil {
			c.policy.OnRetry(err, attempt)
		}
	}

	start := time.Now()
	err := retry.Do(ctx, policy, func() error {
		body, err := c.attempt(ctx, path, payload)
		if err != nil {
			return err
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
		}
		return nil
	})

	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.GatewayRequestsTotal.WithLabelValues(operation, status).Inc()
		c.metrics.GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	return err
}

// attempt runs one HTTP exchange, through the breaker when enabled. An
// open breaker maps to a non-retryable network error so the retry loop
// stops instead of hammering a tripped breaker.
func (c *Client) attempt(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.breaker == nil {
		return c.exchange(ctx, path, payload)
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.exchange(ctx, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domainErrors.NewNetwork("gateway circuit breaker open", false, err)
	}
	return body, err
}

// exchange performs the POST and maps failures into the error taxonomy.
func (c *Client) exchange(ctx context.Context, path string, payload any) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL()+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, domainErrors.NewTimeout("request timed out for " + path)
		}
		return nil, domainErrors.NewNetwork("network error on "+path, true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domainErrors.NewNetwork("read response from "+path, true, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := map[string]any{}
		json.Unmarshal(body, &errBody)
		return nil, domainErrors.ParseAPIError(resp.StatusCode, errBody)
	}
	return body, nil
}

// stkAuth returns the Auth used for password/timestamp generation. A
// custom TokenSource still gets correct STK passwords from the config.
func (c *Client) stkAuth() *Auth {
	if a, ok := c.tokens.(*Auth); ok {
		return a
	}
	return NewAuth(c.cfg, c.httpc, c.logger)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
