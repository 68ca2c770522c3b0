package mpesa_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_FetchesAndCachesToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/oauth/v1/generate", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "token-1",
			"expires_in":   "3599",
		})
	}))
	defer srv.Close()

	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		token, err := auth.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", token)
	}
	assert.Equal(t, int32(1), hits.Load(), "cached token must be reused")
}

func TestAuth_ConcurrentRefreshCollapses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "token-1"})
	}))
	defer srv.Close()

	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := auth.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "token-1", token)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestAuth_MissingTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"expires_in": "3599"})
	}))
	defer srv.Close()

	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop())

	_, err := auth.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrTokenMissing)
	var gwErr *domainErrors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, domainErrors.KindAuth, gwErr.Kind)
}

func TestAuth_InvalidCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "401.002.01",
			"errorMessage": "Invalid Authentication passed",
		})
	}))
	defer srv.Close()

	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop())

	_, err := auth.AccessToken(context.Background())
	require.Error(t, err)
	var gwErr *domainErrors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, domainErrors.KindAuth, gwErr.Kind)
	assert.Equal(t, int32(1), hits.Load(), "auth failures are not retried")
}

func TestAuth_RefreshMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "token-1"})
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop(), mpesa.WithAuthMetrics(metrics))

	_, err := auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, refreshCount(t, reg, "success"))
	assert.Equal(t, 0.0, refreshCount(t, reg, "failure"))
}

func TestAuth_RefreshMetricsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	auth := mpesa.NewAuth(testConfig(srv.URL), nil, zerolog.Nop(), mpesa.WithAuthMetrics(metrics))

	_, err := auth.AccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0.0, refreshCount(t, reg, "success"))
	assert.Equal(t, 1.0, refreshCount(t, reg, "failure"))
}

// refreshCount reads the token refresh counter for one status label.
func refreshCount(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_token_refreshes_total" {
			continue
		}
		for _, m := range mf.Metric {
			for _, l := range m.Label {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.Counter.GetValue()
				}
			}
		}
	}
	return 0
}

func TestAuth_Password(t *testing.T) {
	auth := mpesa.NewAuth(mpesa.Config{Shortcode: "174379", Passkey: "pk"}, nil, zerolog.Nop())

	got := auth.Password("20260115103045")
	want := base64.StdEncoding.EncodeToString([]byte("174379pk20260115103045"))
	assert.Equal(t, want, got)
}

func TestAuth_TimestampFormat(t *testing.T) {
	auth := mpesa.NewAuth(mpesa.Config{}, nil, zerolog.Nop())

	ts := auth.Timestamp()
	assert.Len(t, ts, 14)
	assert.Regexp(t, `^\d{14}$`, ts)
}
