package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/api"
	"github.com/jmerrifield20/docchaser/internal/config"
	"github.com/jmerrifield20/docchaser/internal/db"
	"github.com/jmerrifield20/docchaser/internal/events"
	"github.com/jmerrifield20/docchaser/internal/health"
	"github.com/jmerrifield20/docchaser/internal/messaging"
	"github.com/jmerrifield20/docchaser/internal/notify"
	"github.com/jmerrifield20/docchaser/internal/reminders"
	"github.com/jmerrifield20/docchaser/internal/requests"
	"github.com/jmerrifield20/docchaser/internal/storage"
	"github.com/jmerrifield20/docchaser/internal/webhooks"
)

const jsonBodyLimit = 1 << 20

func main() {
	cfg, err := config.Load(os.Getenv("DOCCHASER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "docchaser: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// ── Request store ────────────────────────────────────────────────────────
	var (
		pool  *pgxpool.Pool
		store requests.Store
	)
	switch cfg.Database.Driver {
	case "postgres":
		var err error
		pool, err = db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = requests.NewPostgresRepository(pool)
		logger.Info("connected to postgres")
	default:
		store = requests.NewMemoryStore()
		logger.Warn("using in-memory request store; data is lost on restart")
	}

	// ── Message gateway ──────────────────────────────────────────────────────
	smsProvider, emailProvider := buildProviders(cfg, logger)
	gateway := messaging.NewGateway(smsProvider, emailProvider, cfg.Messaging.SMSMaxLength, logger)
	gateway.SetMetricsRecorder(func(ch messaging.Channel, r messaging.Result) {
		api.RecordMessage(string(ch), r.Outcome())
	})
	logger.Info("message gateway ready",
		zap.String("sms_provider", smsProvider.Name()),
		zap.String("email_provider", emailProvider.Name()),
	)

	// ── Lifecycle events ─────────────────────────────────────────────────────
	var deliveryLog webhooks.DeliveryLog = webhooks.NewMemoryLog(500)
	if pool != nil {
		deliveryLog = webhooks.NewRepository(pool)
	}

	var publishers events.Multi
	var hooks *webhooks.Service
	if len(cfg.Webhooks.URLs) > 0 {
		hooks = webhooks.NewService(cfg.Webhooks.URLs, cfg.Webhooks.Secret, logger)
		hooks.SetDeliveryLog(deliveryLog)
		hooks.SetMetricsRecorder(api.RecordWebhookDelivery)
		publishers = append(publishers, hooks)
		logger.Info("webhooks enabled", zap.Int("endpoints", len(cfg.Webhooks.URLs)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kp.Close() //nolint:errcheck
		publishers = append(publishers, kp)
		logger.Info("kafka events enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	// ── Blob storage ─────────────────────────────────────────────────────────
	var blobs storage.BlobStore
	var localDir string
	switch cfg.Storage.Driver {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage.S3Region, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix, cfg.Storage.PublicURL)
		if err != nil {
			return fmt.Errorf("s3 storage: %w", err)
		}
		blobs = s3Store
		logger.Info("document storage: s3", zap.String("bucket", cfg.Storage.S3Bucket))
	default:
		local := storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicURL)
		blobs = local
		localDir = local.Dir()
		logger.Info("document storage: local", zap.String("dir", localDir))
	}

	// ── Wire up layers ───────────────────────────────────────────────────────
	dispatcher := notify.NewDispatcher(gateway, cfg.Broker, cfg.App.TrackerURL(), logger)
	if !cfg.Broker.HasChannel() {
		logger.Warn("no broker phone or email configured; completion and expiry notices are disabled")
	}

	svc := requests.NewService(store, cfg.App.BaseURL, logger)
	svc.SetBlobStore(blobs)
	svc.SetNotifier(dispatcher, cfg.App.NotifyOnCreate)
	svc.SetPublisher(publishers)

	scheduler := reminders.New(store, gateway, reminders.Config{
		Interval:    cfg.Reminders.Interval,
		Concurrency: cfg.Reminders.Concurrency,
		BaseURL:     cfg.App.BaseURL,
		Broker:      cfg.Broker,
	}, logger)
	scheduler.SetPublisher(publishers)
	scheduler.SetMetricsRecord(recordSweep)
	if pool != nil {
		scheduler.SetLocker(reminders.NewPostgresLocker(pool, cfg.Reminders.LockKey))
	}

	requestHandler := requests.NewHandler(svc, cfg.Server.MaxUploadBytes, logger)
	notifyHandler := notify.NewHandler(dispatcher, cfg.Reminders.Secret, logger)
	reminderHandler := reminders.NewHandler(scheduler, cfg.Reminders.Secret, logger)
	webhookHandler := webhooks.NewHandler(deliveryLog, logger)

	checker := health.New(health.Config{
		CheckInterval: cfg.Health.Interval,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	if pool != nil {
		checker.Add("database", health.PingProbe(pool))
	}
	if p, ok := blobs.(health.Pinger); ok {
		checker.Add("storage", health.PingProbe(p))
	}
	checker.SetEventDispatch(publishers.Publish)
	checker.SetMetricsRecord(api.RecordDependencyProbe)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(api.SecurityHeaders())

	stopLimiter := make(chan struct{})
	defer close(stopLimiter)
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(api.RateLimiter(rps, rps*2, stopLimiter))
	}
	if n := cfg.Server.UploadsPerMinute; n > 0 {
		requestHandler.SetUploadLimiter(api.UploadRateLimiter(n, cfg.Server.UploadBurst, stopLimiter))
	}

	router.Use(api.RequestLogger(logger))
	router.Use(api.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", api.MetricsHandler())
	health.NewHandler(checker).Register(&router.RouterGroup)
	if localDir != "" {
		router.Static("/files", localDir)
	}

	root := router.Group("", api.LimitBody(jsonBodyLimit))
	reminderHandler.Register(root)
	notifyHandler.Register(root)

	v1 := router.Group("/api/v1")
	requestHandler.Register(v1)
	webhookHandler.Register(v1.Group("", api.RequireBearer(cfg.Reminders.Secret)))

	// ── Background loops ─────────────────────────────────────────────────────
	bgQuit := make(chan os.Signal)
	var bg sync.WaitGroup
	bg.Go(func() { checker.Start(bgQuit) })
	if cfg.Reminders.Interval > 0 {
		bg.Go(func() { scheduler.Start(bgQuit) })
		logger.Info("reminder sweep scheduled", zap.Duration("interval", cfg.Reminders.Interval))
	} else {
		logger.Info("reminder sweep runs on demand via GET /reminders/run")
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("docchaser HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down docchaser...")
	close(bgQuit)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	// Sweeps still write to the store, so they finish before the pool closes.
	bg.Wait()
	scheduler.Wait()
	if hooks != nil {
		hooks.Wait()
	}

	logger.Info("docchaser stopped")
	return nil
}

// buildProviders selects the SMS and email adapters. Both channels share one
// ClickSend client when it serves both.
func buildProviders(cfg *config.Config, logger *zap.Logger) (sms, email messaging.Provider) {
	var clickSend *messaging.ClickSend
	clickSendProvider := func() messaging.Provider {
		if clickSend == nil {
			clickSend = messaging.NewClickSend(cfg.ClickSend, logger)
		}
		return clickSend
	}

	switch cfg.Messaging.SMSProvider {
	case "clicksend":
		sms = clickSendProvider()
	default:
		sms = messaging.NewNoopProvider(logger)
	}

	switch cfg.Messaging.EmailProvider {
	case "clicksend":
		email = clickSendProvider()
	case "smtp":
		email = messaging.NewSMTPProvider(cfg.SMTP)
	default:
		email = messaging.NewNoopProvider(logger)
	}
	return sms, email
}

func recordSweep(res reminders.SweepResult, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case res.Skipped:
		result = "skipped"
	}
	api.RecordSweep(result, elapsed, res.RemindersSent, res.Expired, len(res.Errors))
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
