package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/daraja/internal/bootstrap"
	"github.com/cassiomorais/daraja/internal/callback"
	"github.com/cassiomorais/daraja/internal/controller"
	infraRedis "github.com/cassiomorais/daraja/internal/infrastructure/redis"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/cassiomorais/daraja/internal/repository/postgres"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/cassiomorais/daraja/pkg/ratelimit"
	"github.com/cassiomorais/daraja/pkg/retry"
)

// apiRateLimitPerMinute caps inbound API requests per client IP. The
// gateway-facing limiter is configured separately.
const apiRateLimitPerMinute = 100

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "daraja-api", "daraja")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Gateway client ---
	gatewayCfg, err := gatewayConfig(app)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Invalid gateway configuration")
	}

	clientOpts := []mpesa.Option{
		mpesa.WithLogger(app.Logger),
		mpesa.WithMetrics(app.Metrics),
		mpesa.WithCircuitBreaker(),
		mpesa.WithRetryPolicy(retry.Policy{
			MaxRetries:           app.Config.Retry.MaxRetries,
			InitialDelay:         app.Config.Retry.InitialDelay,
			MaxDelay:             app.Config.Retry.MaxDelay,
			Multiplier:           app.Config.Retry.Multiplier,
			RetryableStatusCodes: retry.DefaultPolicy().RetryableStatusCodes,
		}),
	}
	if app.Config.RateLimit.Enabled {
		limiterCfg := ratelimit.Config{
			MaxRequests: app.Config.RateLimit.MaxRequests,
			Window:      app.Config.RateLimit.Window,
			KeyPrefix:   app.Config.RateLimit.KeyPrefix,
		}
		if app.Config.RateLimit.UseRedis {
			// Replicas share one request budget through Redis.
			clientOpts = append(clientOpts, mpesa.WithRateLimiter(
				ratelimit.NewStore(infraRedis.NewCounter(app.Redis), limiterCfg),
			))
		} else {
			clientOpts = append(clientOpts, mpesa.WithLocalRateLimit(limiterCfg))
		}
	}

	gatewayClient := mpesa.NewClient(gatewayCfg, clientOpts...)
	defer gatewayClient.Close()

	// --- Repositories and services ---
	transactionRepo := postgres.NewTransactionRepository(app.Pool)
	streamProducer := infraRedis.NewStreamProducer(app.Redis)
	dedupeStore := infraRedis.NewDedupeStore(app.Redis, app.Config.Callback.DedupeTTL)

	txManager := postgres.NewTxManager(app.Pool)

	gatewayService := service.NewGatewayService(gatewayClient, transactionRepo)
	callbackService := service.NewCallbackService(transactionRepo, txManager, streamProducer, dedupeStore, app.Logger)

	handlerOpts := []callback.Option{callback.WithMetrics(app.Metrics)}
	if !app.Config.Callback.ValidateIP {
		handlerOpts = append(handlerOpts, callback.WithoutIPValidation())
	}
	if len(app.Config.Callback.AllowedIPs) > 0 {
		handlerOpts = append(handlerOpts, callback.WithAllowedIPs(app.Config.Callback.AllowedIPs))
	}
	callbackHandler, err := callbackService.Handler(handlerOpts...)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build callback handler")
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		GatewayService:  gatewayService,
		CallbackHandler: callbackHandler,
		Metrics:         app.Metrics,
		CORSConfig:      app.Config.Server.CORS,
		JWTSecret:       app.Config.Auth.JWTSecret,
		RateLimitPerMin: apiRateLimitPerMinute,
		Logger:          app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}

// gatewayConfig maps the loaded configuration onto the gateway client,
// deriving the security credential from the initiator password and
// certificate when it is not provided directly.
func gatewayConfig(app *bootstrap.App) (mpesa.Config, error) {
	mCfg := app.Config.Mpesa

	credential := mCfg.SecurityCredential
	if credential == "" && mCfg.InitiatorPassword != "" && mCfg.CertificatePath != "" {
		var err error
		credential, err = mpesa.SecurityCredentialFromFile(mCfg.InitiatorPassword, mCfg.CertificatePath)
		if err != nil {
			return mpesa.Config{}, fmt.Errorf("derive security credential: %w", err)
		}
	}

	return mpesa.Config{
		ConsumerKey:        mCfg.ConsumerKey,
		ConsumerSecret:     mCfg.ConsumerSecret,
		Passkey:            mCfg.Passkey,
		Shortcode:          mCfg.Shortcode,
		Environment:        mpesa.Environment(mCfg.Environment),
		CallbackURL:        mCfg.CallbackURL,
		TimeoutURL:         mCfg.TimeoutURL,
		ResultURL:          mCfg.ResultURL,
		InitiatorName:      mCfg.InitiatorName,
		SecurityCredential: credential,
		RequestTimeout:     mCfg.RequestTimeout,
	}, nil
}
