package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esic/internal/api"
	"esic/internal/config"
	"esic/internal/db"
	"esic/internal/jobs"
	"esic/internal/mail"
	"esic/internal/protocol"
	"esic/internal/pubsub"
	"esic/internal/schema"
	"esic/internal/service"
	"esic/internal/storage"
	"esic/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = runMigrations(ctx, cfg.Database.URL, os.Args[2:])
	case "token":
		err = issueToken(cfg, os.Args[2:])
	default:
		log.Fatalf("Unknown command: %s (use 'serve', 'migrate' or 'token')", cmd)
	}
	if err != nil {
		logger.Fatal("Command failed", zap.String("command", cmd), zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.ZapLevel())
	return zcfg.Build()
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	bus := pubsub.New(rdb, logger)

	// Background e-mail delivery
	var mailer mail.Mailer = mail.NewLogMailer(logger)
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		logger.Warn("SMTP_HOST not set, e-mails will only be logged")
	}
	jobServer, jobClient := jobs.NewJobServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Jobs.Concurrency, mailer, logger)
	if err := jobServer.Start(); err != nil {
		return err
	}
	defer jobServer.Stop()

	// WebSocket hub
	hub := ws.NewHub(logger)
	hub.SetStreamsProvider(bus.GetStreams())
	go hub.Run(ctx)
	bus.SetWSHub(hub)

	loc, err := cfg.Calendar.Location()
	if err != nil {
		return err
	}
	requestSvc := service.NewRequestService(
		pool.Queries,
		protocol.NewRedisAllocator(rdb, loc),
		service.NewAsynqNotifier(jobClient),
		bus,
		logger,
	)
	requestSvc.SetTxRunner(pool.Tx)
	requestSvc.SetLocation(loc)
	hub.SetCommandHandler(ws.NewCommandHandler(requestSvc, logger))

	schemas, err := schema.NewCompilerWithCache(64)
	if err != nil {
		return err
	}
	if err := schemas.PrepareAll(ctx); err != nil {
		return err
	}

	store, err := storage.NewLocalStorage(cfg.Storage.BaseDir, cfg.Storage.BaseURL, cfg.Storage.Secret)
	if err != nil {
		return err
	}
	policy := storage.NewFilePolicy(
		float64(cfg.Storage.MaxFileMB),
		float64(cfg.Storage.MaxTotalMB),
		cfg.Storage.MimeTypeList(),
		cfg.Storage.ExtensionList(),
	)

	limiter := api.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(cfg.Server.RequestTimeout)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/v1", api.Routes(api.Dependencies{
		Service: requestSvc,
		Hub:     hub,
		Schemas: schemas,
		Storage: store,
		Policy:  policy,
		JWT:     newJWTConfig(cfg),
		Limiter: limiter,
		Log:     logger,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
