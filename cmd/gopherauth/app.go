package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gopherauth/internal/db"
	"github.com/nkiryanov/gopherauth/internal/handlers"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/repository/redisstore"
	"github.com/nkiryanov/gopherauth/internal/service/account"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/auth/sessions"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokencodec"
	"github.com/nkiryanov/gopherauth/internal/service/notify"
	"github.com/nkiryanov/gopherauth/internal/service/otp"
	"github.com/nkiryanov/gopherauth/internal/service/password"
	"github.com/nkiryanov/gopherauth/internal/service/sweeper"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	sweeper *sweeper.Sweeper

	// Called in reverse order on stop
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	storage := postgres.NewStorage(pool)
	checks := []handlers.HealthCheck{{Name: "postgres", Check: pool.Ping}}

	// One-time codes live either in postgres or in redis
	var codeRepo repository.OneTimeCodeRepo
	switch c.OTPStore {
	case StoreRedis:
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url. Err: %w", err)
		}
		client := redis.NewClient(opts)
		app.closers = append(app.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
		}

		codeRepo = redisstore.NewOneTimeCodeRepo(client, redisstore.Config{Retention: c.CodeRetention})
		checks = append(checks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	default:
		codeRepo = storage.Code()
	}

	hasher, err := password.New(password.Params{
		Time:        c.HashTime,
		Memory:      c.HashMemory,
		Parallelism: c.HashParallelism,
		SaltLength:  password.DefaultParams.SaltLength,
		KeyLength:   password.DefaultParams.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating password hasher. Err: %w", err)
	}

	accounts, err := account.NewService(
		account.Config{RehashLegacy: c.RehashLegacy, Timeout: c.StoreTimeout},
		hasher,
		storage.Account(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating account service. Err: %w", err)
	}

	codes, err := otp.NewManager(otp.Config{Length: c.OTPLength, TTL: c.OTPTTL, Timeout: c.StoreTimeout}, codeRepo)
	if err != nil {
		return nil, fmt.Errorf("error while creating otp manager. Err: %w", err)
	}

	codec, err := tokencodec.New(tokencodec.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	refreshStore := sessions.New(storage.Refresh(), c.StoreTimeout)

	sender, err := newSender(c, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating email sender. Err: %w", err)
	}
	notifier, err := notify.New(notify.Config{
		FrontendURL: c.FrontendURL,
		CodeTTL:     c.OTPTTL,
		AppName:     c.MailFromName,
	}, sender, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating notifier. Err: %w", err)
	}

	m := metrics.New()

	authService, err := auth.NewService(
		auth.Config{StoreTimeout: c.StoreTimeout, NotifyTimeout: c.NotifyTimeout},
		auth.Deps{
			Storage:  storage,
			Accounts: accounts,
			Codes:    codes,
			Codec:    codec,
			Sessions: refreshStore,
			Notifier: notifier,
			Metrics:  m,
			Logger:   logger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.sweeper = sweeper.New(c.SweepInterval, logger, m.ObservePurged)
	app.sweeper.Register("refresh_tokens", refreshStore)

	app.Handler = handlers.NewRouter(authService, checks, m, logger)

	return app, nil
}

func newSender(c *Config, l logger.Logger) (notify.Sender, error) {
	switch c.EmailTransport {
	case TransportBrevo:
		return notify.NewBrevoSender(notify.BrevoConfig{
			APIKey:    c.BrevoAPIKey,
			URL:       c.BrevoAPIURL,
			FromEmail: c.MailFrom,
			FromName:  c.MailFromName,
		}, nil)
	case TransportSMTP:
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:      c.SMTPHost,
			Port:      c.SMTPPort,
			Username:  c.SMTPUsername,
			Password:  c.SMTPPassword,
			FromEmail: c.MailFrom,
			FromName:  c.MailFromName,
		})
	case TransportLog:
		l.Warn("email delivery disabled, messages are only logged")
		return notify.NewLogSender(l), nil
	default:
		return nil, fmt.Errorf("unknown email transport %q", c.EmailTransport)
	}
}

// Run starts http server and sweeper, stops them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperDone := s.sweeper.Run(srvCtx)
	idleConnsClosed := make(chan struct{})

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed, forcing close", "error", err.Error())
			if err := httpServer.Close(); err != nil {
				s.logger.Error("HTTP server close failed", "error", err.Error())
			}
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperDone

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Failures are logged only, nobody awaits them on stop
func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("error while releasing resource", "error", err.Error())
		}
	}
	s.closers = nil
}
