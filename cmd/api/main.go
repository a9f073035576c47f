package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/reminder-dispatch/internal/config"
	"github.com/kursadbilgin/reminder-dispatch/internal/handler"
	"github.com/kursadbilgin/reminder-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/reminder-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/reminder-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/reminder-dispatch/internal/observability"
	"github.com/kursadbilgin/reminder-dispatch/internal/provider"
	"github.com/kursadbilgin/reminder-dispatch/internal/queue"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/reminder-dispatch/internal/recipient"
	"github.com/kursadbilgin/reminder-dispatch/internal/repository"
	"github.com/kursadbilgin/reminder-dispatch/internal/service"
	"github.com/kursadbilgin/reminder-dispatch/internal/template"
	"github.com/kursadbilgin/reminder-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	templates, err := newTemplateStore(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("template store initialization failed", zap.Error(err))
	}

	mailTransport, err := newMailTransport(ctx, cfg)
	if err != nil {
		logger.Fatal("mail transport initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	limiter := ratelimit.New(cfg.MaxPerHour, cfg.MaxPerDay)
	metrics.RegisterRateLimitGauges(limiter)
	validator := recipient.NewValidator(cfg.DisposableDomainList())

	dispatcher, err := service.NewDispatcher(validator, mailTransport, limiter, cfg.InterMessageDelay(), logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics, cfg.MailTransport)
	dispatcher.SetCurrencySymbol(cfg.CurrencySymbol)

	var (
		publisher queue.Publisher
		consumer  queue.Consumer
	)
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer mq.Close()

		publisher = queue.NewRabbitMQPublisher(mq)
		consumer = queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)
	}

	dispatchService, err := service.NewDispatchService(
		limiter,
		templates,
		dispatcher,
		validator,
		repository.NewGormBatchRepo(db),
		publisher,
		cfg.MaxBatchSize,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	dispatchService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "reminder-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterDispatchRoutes(app, dispatchService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + strconv.Itoa(cfg.APIPort)
		logger.Info("reminder-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("transport", cfg.MailTransport),
			zap.Bool("async", publisher != nil),
		)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if consumer != nil {
		worker, err := service.NewJobWorker(consumer, dispatchService, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("job worker initialization failed", zap.Error(err))
		}
		g.Go(func() error {
			err := worker.Start(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reminder-dispatch stopped with error", zap.Error(err))
	}
}

func newTemplateStore(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (template.Store, error) {
	store, err := template.NewDirStore(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}

	if rdb == nil || cfg.TemplateCacheTTL() <= 0 {
		return store, nil
	}
	return template.NewCachedStore(store, rdb, cfg.TemplateCacheTTL(), logger)
}

func newMailTransport(ctx context.Context, cfg *config.Config) (provider.Transport, error) {
	sender := provider.Sender{Address: cfg.MailFrom, Name: cfg.MailFromName}

	switch cfg.MailTransport {
	case config.TransportSMTP:
		return provider.NewSMTPTransport(provider.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			ImplicitTLS: cfg.SMTPImplicitTLS,
			Timeout:     cfg.SMTPTimeout(),
		}, sender)
	case config.TransportHTTP:
		return provider.NewHTTPTransport(cfg.MailAPIURL, cfg.MailAPIKey, sender)
	case config.TransportSES:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return provider.NewSESTransport(awsCfg, sender, cfg.SESConfigurationSet)
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.MailTransport)
	}
}
