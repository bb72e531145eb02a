package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-payment-service/config"
	"order-payment-service/internal/api"
	"order-payment-service/internal/broker"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/realtime"
	"order-payment-service/internal/redisclient"
	"order-payment-service/internal/service"
	"order-payment-service/internal/store"
	"order-payment-service/internal/store/memstore"
	"order-payment-service/internal/util"
	"order-payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// repository is what both store backends provide
type repository interface {
	service.OrderRepository
	notify.Repository
	worker.OutboxStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order payment service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	var repo repository
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(); err != nil {
				logger.Fatal("Failed to run migrations", zap.Error(err))
			}
		}
		repo = db
		logger.Info("Database connected")
	} else {
		repo = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	checks := map[string]api.Pinger{"database": repo}

	var (
		cache  service.StockCache
		locker service.Locker
		rc     *redisclient.Client
	)
	if cfg.Redis.Addr != "" {
		rc, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rc.Close()
		cache, locker = rc, rc
		checks["redis"] = rc
		logger.Info("Redis connected")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	registry := realtime.NewRegistry()
	var pusher realtime.Publisher = registry
	if rc != nil {
		relay := realtime.NewRedisRelay(rc.GetClient(), cfg.Redis.RelayChannel, registry)
		pusher = relay
		go func() {
			if err := relay.Run(workerCtx); err != nil {
				logger.Error("Realtime relay stopped", zap.Error(err))
			}
		}()
	}

	var (
		writer broker.MessageWriter
		source broker.MessageSource
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		writer = producer
		source = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		bus := broker.NewLocalBus(1024)
		writer, source = bus, bus
		logger.Warn("KAFKA_BROKERS not set, using in-process event bus")
	}
	outboxRelay := worker.NewOutboxRelay(repo, writer, cfg.Business.OutboxInterval, cfg.Business.OutboxBatch)

	var gw service.PaymentGateway
	if cfg.Wallet.Enabled() {
		gw = gateway.NewWalletClient(gateway.Config{
			PartnerCode: cfg.Wallet.PartnerCode,
			AccessKey:   cfg.Wallet.AccessKey,
			SecretKey:   cfg.Wallet.SecretKey,
			Endpoint:    cfg.Wallet.Endpoint,
			RedirectURL: cfg.Wallet.RedirectURL,
			IPNURL:      cfg.Wallet.IPNURL,
			RequestType: cfg.Wallet.RequestType,
			Timeout:     cfg.Wallet.Timeout,
			SessionTTL:  cfg.Business.PaymentTTL,
		})
	} else {
		logger.Warn("Wallet credentials not set, only cash on delivery is offered")
	}

	shippingFee, err := cfg.Business.ShippingFeeDecimal()
	if err != nil {
		logger.Fatal("Invalid business config", zap.Error(err))
	}

	inventoryClient := service.NewInventoryClient(repo, cache)
	paymentService := service.NewPaymentService(repo, gw)
	orderService := service.NewOrderService(repo, inventoryClient, paymentService, outboxRelay, locker, service.OrderOptions{
		ShippingFee:        shippingFee,
		IdempotencyLockTTL: cfg.Business.IdempotencyLockTTL,
	})
	reconciler := service.NewReconciler(orderService, repo, gw)
	notifier := notify.NewNotifier(repo, pusher)

	if cfg.Redis.SyncInventory {
		if err := inventoryClient.SyncInventoryToCache(workerCtx); err != nil {
			logger.Error("Failed to sync inventory to Redis", zap.Error(err))
		}
	}

	notificationWorker := worker.NewNotificationWorker(source, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	go func() {
		if err := outboxRelay.Start(workerCtx); err != nil {
			logger.Error("Outbox relay error", zap.Error(err))
		}
	}()

	expiryWorker := worker.NewExpiryWorker(reconciler, cfg.Business.ExpirySweep, cfg.Business.ExpiryBatch)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Orders:          orderService,
		Payments:        paymentService,
		Reconciler:      reconciler,
		Notifier:        notifier,
		Realtime:        realtime.NewServer(registry, cfg.Server.AllowedOrigins),
		Checks:          checks,
		JWTKey:          []byte(cfg.Auth.JWTSecret),
		CallbackTimeout: cfg.Business.CallbackTimeout,
	})
	if err := handler.SetupRoutes(router); err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
