package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	"github.com/cassiomorais/daraja/pkg/retry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// tokenLifetime is how long a fetched token is reused. The gateway issues
// tokens valid for an hour; refreshing at 50 minutes leaves headroom.
const tokenLifetime = 50 * time.Minute

// TokenSource supplies bearer tokens for gateway calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Auth fetches and caches OAuth tokens for the Daraja API. Concurrent
// refreshes of an expired token collapse into one request. Safe for
// concurrent use.
type Auth struct {
	cfg     Config
	httpc   *http.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
	sf      singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// AuthOption configures an Auth.
type AuthOption func(*Auth)

// WithAuthMetrics records token refresh outcomes.
func WithAuthMetrics(m *observability.Metrics) AuthOption {
	return func(a *Auth) { a.metrics = m }
}

// NewAuth returns a token source for the given credentials. httpc may be
// nil, in which case a client with a 30s timeout is used.
func NewAuth(cfg Config, httpc *http.Client, logger zerolog.Logger, opts ...AuthOption) *Auth {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	a := &Auth{cfg: cfg, httpc: httpc, logger: logger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AccessToken returns a cached token, fetching a fresh one when the cache
// is empty or past its refresh point.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token != "" && time.Now().Before(a.expiry) {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	v, err, _ := a.sf.Do("token", func() (any, error) {
		return a.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Auth) fetch(ctx context.Context) (string, error) {
	policy := retry.DefaultPolicy()
	policy.OnRetry = func(err error, attempt int) {
		a.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying token fetch")
	}

	token, err := retry.DoWithResult(ctx, policy, func() (string, error) {
		token, err := a.requestToken(ctx)
		if err != nil {
			return "", err
		}

		a.mu.Lock()
		a.token = token
		a.expiry = time.Now().Add(tokenLifetime)
		a.mu.Unlock()
		return token, nil
	})
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		a.metrics.TokenRefreshes.WithLabelValues(status).Inc()
	}
	return token, err
}

func (a *Auth) requestToken(ctx context.Context) (string, error) {
	url := a.cfg.BaseURL() + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ConsumerKey, a.cfg.ConsumerSecret)

	resp, err := a.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return "", domainErrors.NewTimeout("request timed out while getting access token")
		}
		return "", domainErrors.NewNetwork("failed to get access token", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domainErrors.NewNetwork("read token response", true, err)
	}

	if resp.StatusCode >= 400 {
		errBody := map[string]any{}
		json.Unmarshal(body, &errBody)
		return "", domainErrors.ParseAPIError(resp.StatusCode, errBody)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", domainErrors.NewNetwork("decode token response", true, err)
	}
	if tr.AccessToken == "" {
		e := domainErrors.NewAuth("no access token in response")
		e.Err = domainErrors.ErrTokenMissing
		return "", e
	}
	return tr.AccessToken, nil
}

// Password returns the base64 STK push password for the given timestamp:
// base64(shortcode + passkey + timestamp).
func (a *Auth) Password(timestamp string) string {
	raw := a.cfg.Shortcode + a.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Timestamp returns the local time in the gateway's YYYYMMDDHHMMSS form.
func (a *Auth) Timestamp() string {
	return time.Now().Format("20060102150405")
}
