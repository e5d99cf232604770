// streamer runs the full pipeline: stream connection, order books, order
// cache, optional Postgres order journal, optional Redis snapshot publisher,
// and the HTTP health/snapshot/metrics server.
//
// Usage: go run ./cmd/streamer --config configs/streamer.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/t2o2/betfair-go/internal/auth"
	"github.com/t2o2/betfair-go/internal/config"
	"github.com/t2o2/betfair-go/internal/database"
	"github.com/t2o2/betfair-go/internal/exchange"
	"github.com/t2o2/betfair-go/internal/httpapi"
	"github.com/t2o2/betfair-go/internal/journal"
	"github.com/t2o2/betfair-go/internal/metrics"
	"github.com/t2o2/betfair-go/internal/publisher"
	"github.com/t2o2/betfair-go/internal/ratelimit"
	"github.com/t2o2/betfair-go/internal/retry"
	"github.com/t2o2/betfair-go/internal/stream"
	"github.com/t2o2/betfair-go/internal/subscription"
	"github.com/t2o2/betfair-go/internal/version"
)

const (
	keepAliveInterval = 15 * time.Minute
	eventPollInterval = 250 * time.Millisecond
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("streamer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("streamer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	session, err := openSession(ctx, cfg.Credentials, logger)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	core := exchange.NewCore(session, exchange.Options{
		Limits: exchangeLimits(cfg.RateLimits),
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Reconnect: retry.Config{
			BaseDelay: cfg.Reconnect.BaseDelay,
			MaxDelay:  cfg.Reconnect.MaxDelay,
		},
		Stream:          streamConfig(cfg.Stream),
		DefaultDepth:    cfg.Stream.Depth,
		BettingURL:      cfg.API.BettingURL,
		AccountURL:      cfg.API.AccountURL,
		HTTPClient:      &http.Client{Timeout: cfg.API.Timeout},
		BookChunkSize:   cfg.API.BookChunkSize,
		BookConcurrency: cfg.API.BookConcurrency,
		Metrics:         m,
		Logger:          logger,
	})
	client := core.Streaming()

	for _, mc := range cfg.Stream.Markets {
		err := client.Subscribe(subscription.MarketSubscription{
			MarketID:  mc.ID,
			Depth:     mc.Depth,
			RunnerIDs: mc.Runners,
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", mc.ID, err)
		}
	}
	if cfg.Stream.Orders {
		if err := client.SubscribeOrders(subscription.OrderSubscription{Enabled: true}); err != nil {
			return fmt.Errorf("subscribe orders: %w", err)
		}
	}

	var writer *journal.Writer
	if cfg.Journal.Enabled {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, m, logger.With("component", "journal"))
		if err := writer.Start(ctx); err != nil {
			return err
		}
		logger.Info("order journal enabled", "host", cfg.Database.Host, "database", cfg.Database.Name)
	}

	var pub *publisher.Publisher
	if cfg.Redis.Enabled {
		sink, err := publisher.NewRedisSink(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger)
		if err != nil {
			return err
		}
		defer sink.Close()

		pub = publisher.New(publisher.Config{
			Interval:    cfg.Redis.Interval,
			Concurrency: cfg.Redis.Concurrency,
			Refresh:     cfg.Redis.TTL / 2,
		}, core.Engine, sink, m, logger.With("component", "publisher"))
		if err := pub.Start(ctx); err != nil {
			return err
		}
		logger.Info("snapshot publisher enabled", "prefix", cfg.Redis.KeyPrefix, "ttl", cfg.Redis.TTL)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Status:      client,
			Books:       core.Engine,
			Orders:      core.Orders,
			Metrics:     metrics.Handler(reg),
			MetricsPath: cfg.HTTP.MetricsPath,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Start(gctx)
	})

	g.Go(func() error {
		consumeEvents(gctx, client, session, cfg.Credentials, writer, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("http server listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		keepSessionAlive(gctx, session, cfg.Credentials.KeepAliveURL, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Stop(shutdownCtx); err != nil {
			logger.Warn("stream stop", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		if pub != nil {
			if err := pub.Stop(shutdownCtx); err != nil {
				logger.Warn("publisher stop", "error", err)
			}
		}
		if writer != nil {
			if err := writer.Stop(shutdownCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// openSession uses the configured session token or performs certificate
// login.
func openSession(ctx context.Context, creds config.CredentialsConfig, logger *slog.Logger) (*auth.Session, error) {
	if !creds.NeedsLogin() {
		return auth.NewSession(creds.AppKey, creds.SessionToken), nil
	}

	token, err := login(ctx, creds)
	if err != nil {
		return nil, err
	}
	logger.Info("certificate login succeeded", "username", creds.Username)
	return auth.NewSession(creds.AppKey, token), nil
}

func login(ctx context.Context, creds config.CredentialsConfig) (string, error) {
	resp, err := auth.CertLogin(ctx, auth.LoginConfig{
		URL:      creds.LoginURL,
		AppKey:   creds.AppKey,
		Username: creds.Username,
		Password: creds.Password,
		CertFile: creds.CertFile,
		KeyFile:  creds.KeyFile,
	})
	if err != nil {
		return "", fmt.Errorf("certificate login: %w", err)
	}
	return resp.SessionToken, nil
}

// eventSource is the part of the streaming client consumeEvents reads.
type eventSource interface {
	NextEventWithin(d time.Duration) (stream.Event, bool)
}

// consumeEvents drains the event queue until ctx is done and the queue is
// idle. Order changes go to the journal; an authentication failure triggers
// a fresh login when login credentials are configured.
func consumeEvents(ctx context.Context, events eventSource, session *auth.Session, creds config.CredentialsConfig, writer *journal.Writer, logger *slog.Logger) {
	for {
		ev, ok := events.NextEventWithin(eventPollInterval)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		switch ev.Kind {
		case stream.EventStateChanged:
			logger.Info("stream state", "from", ev.Previous, "to", ev.State)
		case stream.EventOrderChanged:
			if writer != nil && ev.Order != nil {
				writer.Record(*ev.Order)
			}
		case stream.EventSubscriptionFailed:
			logger.Warn("subscription rejected", "markets", ev.MarketIDs, "error", ev.Err)
		case stream.EventAuthFailed:
			logger.Warn("stream authentication failed", "error", ev.Err)
			if creds.Username == "" || creds.CertFile == "" {
				continue
			}
			token, err := login(ctx, creds)
			if err != nil {
				logger.Error("re-login failed", "error", err)
				continue
			}
			session.SetToken(token)
		}
	}
}

func keepSessionAlive(ctx context.Context, session *auth.Session, endpoint string, logger *slog.Logger) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := auth.KeepAlive(ctx, nil, endpoint, session); err != nil {
				logger.Warn("session keep-alive failed", "error", err)
			}
		}
	}
}

func exchangeLimits(c config.RateLimitConfig) ratelimit.Limits {
	return ratelimit.Limits{
		Navigation:  c.Navigation,
		Data:        c.Data,
		Transaction: c.Transaction,
	}
}

func streamConfig(c config.StreamConfig) stream.Config {
	sc := stream.DefaultConfig()
	sc.Endpoint = c.Endpoint
	sc.ConnectTimeout = c.ConnectTimeout
	sc.AuthTimeout = c.AuthTimeout
	sc.SubscribeTimeout = c.SubscribeTimeout
	sc.HeartbeatInterval = c.HeartbeatInterval
	sc.HeartbeatMultiplier = c.HeartbeatMultiplier
	sc.ConflateInterval = c.ConflateInterval
	sc.MaxAuthAttempts = c.MaxAuthAttempts
	sc.MalformedThreshold = c.MalformedThreshold
	sc.EventQueueLimit = c.EventQueueLimit
	return sc
}
