package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/adminapi"
	"github.com/example/messaging-gateway/internal/backend"
	"github.com/example/messaging-gateway/internal/config"
	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/janitor"
	"github.com/example/messaging-gateway/internal/logger"
	"github.com/example/messaging-gateway/internal/platformwebhook"
	"github.com/example/messaging-gateway/internal/poller"
	"github.com/example/messaging-gateway/internal/provider"
	"github.com/example/messaging-gateway/internal/provider/official"
	"github.com/example/messaging-gateway/internal/provider/qrsocket"
	"github.com/example/messaging-gateway/internal/queue"
	"github.com/example/messaging-gateway/internal/sendrouter"
	"github.com/example/messaging-gateway/internal/session"
	"github.com/example/messaging-gateway/internal/webhookfwd"
)

// shutdownTimeout is the hard bound spec §5 places on graceful shutdown;
// past this the process exits regardless.
const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "gateway").Logger()

	q := queue.New(cfg.Queue.FilePath, log.With().Str("component", "queue").Logger())
	q.Load()
	go q.Run(ctx)

	fwd := webhookfwd.New(cfg.Webhook.URL, nil, q, log.With().Str("component", "webhookfwd").Logger())

	sup := session.NewSupervisor(session.Dependencies{
		Factory:        providerFactory(cfg, log),
		Priority:       func() []string { return provider.Priority(cfg.Providers) },
		InboundHandler: fwd,
		DrainScheduler: fwd,
		AuthRoot:       cfg.App.AuthRoot,
		Logger:         log.With().Str("component", "session").Logger(),
	})

	router := sendrouter.New(sup, sendrouter.FallbackConfig{
		Enabled:      cfg.Fallback.Enabled,
		MaxRetries:   cfg.Fallback.MaxRetries,
		RetryDelayMs: cfg.Fallback.RetryDelayMs,
		Triggers: errclass.Triggers{
			Timeout:       cfg.Fallback.Triggers.Timeout,
			RateLimit:     cfg.Fallback.Triggers.RateLimit,
			TemplateError: cfg.Fallback.Triggers.TemplateError,
			ServerError:   cfg.Fallback.Triggers.ServerError,
		},
	}, log.With().Str("component", "sendrouter").Logger())

	backendClient := backend.New(cfg.Backend.URL, cfg.Backend.Key, nil)
	outboundPoller := poller.New(backendClient, router, poller.Config{
		Interval: time.Duration(cfg.Polling.IntervalMs) * time.Millisecond,
	}, log.With().Str("component", "poller").Logger())
	sup.SetPoller(outboundPoller)

	j := janitor.New(sup,
		time.Duration(cfg.Janitor.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Janitor.InitializingTimeoutMinutes)*time.Minute,
		log.With().Str("component", "janitor").Logger())
	go j.Run(ctx)

	sup.ReconnectExistingSessions(ctx)

	api := adminapi.New(sup, router, fwd)
	adminRouter := adminapi.NewRouter(api, log.With().Str("component", "adminapi").Logger())

	mux := http.NewServeMux()
	mux.Handle("/", adminRouter)
	if cfg.Providers.P1Enabled {
		mux.Handle("/webhooks/p1", platformwebhook.New(cfg.Providers.P1VerifyToken, sup, log.With().Str("component", "platformwebhook").Logger()))
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.App.Port).Msg("gateway: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("gateway: shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			log.Error().Err(err).Msg("gateway: server terminated unexpectedly")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = srv.Shutdown(shutdownCtx)
		q.PersistSync()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("gateway: shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway: shutdown timed out, exiting regardless")
		exitCode = 1
	}

	os.Exit(exitCode)
}

// providerFactory adapts config into a session.Factory, constructing the
// concrete P1/P2 provider for the requested providerID.
func providerFactory(cfg *config.Config, log zerolog.Logger) session.Factory {
	return func(tenantID, providerID string, sink provider.EventSink) (provider.Provider, error) {
		providerLogger := log.With().Str("component", "provider").Str("provider_id", providerID).Str("tenant_id", tenantID).Logger()
		switch providerID {
		case config.ProviderOfficial:
			return official.New(providerID, official.Config{
				Credentials: cfg.Providers.P1Credentials,
				BaseURL:     cfg.Providers.P1BaseURL,
			}, sink, providerLogger)
		case config.ProviderQRSocket:
			return qrsocket.New(providerID, qrsocket.Config{
				SocketURL: cfg.Providers.P2SocketURL,
			}, sink, providerLogger)
		default:
			return nil, errclass.Wrap(errclass.Other, errUnknownProvider(providerID))
		}
	}
}

func fail(stage string, err error) {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	l.Fatal().Err(err).Str("stage", stage).Msg("gateway init failed")
}

type unknownProviderError string

func (e unknownProviderError) Error() string { return "gateway: unknown provider id " + string(e) }

func errUnknownProvider(id string) error { return unknownProviderError(id) }
