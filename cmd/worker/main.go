package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/logging"
	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/ariefcatur/go-marketplace/internal/review"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	st := &postgres.Store{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for OrderExpired
	prod := kafkax.NewProducer(cfg.Brokers(), 1024, log.Named("kafka"))
	prod.Start()
	events := &kafkax.EventPublisher{Out: prod, Service: cfg.ServiceName + "-worker"}

	// Pending order expiry
	exp := &marketplace.Expirer{
		Orders:  st,
		Cache:   redisx.NewStatusCache(rdb),
		Events:  events,
		TTL:     cfg.PendingOrderTTL,
		Log:     log.Named("expiry"),
		Observe: metrics.RecordExpired,
	}
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		log.Info("pending order sweep started",
			zap.Duration("ttl", cfg.PendingOrderTTL), zap.Duration("interval", cfg.SweepInterval))
		exp.Run(ctx, cfg.SweepInterval)
	}()

	// Shortfall review consumer
	svc := &review.Service{
		Store:       st,
		Redis:       rdb,
		ServiceName: "shortfall-review",
		Log:         log.Named("review"),
	}
	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.ReviewGroup, marketplace.TopicStockShortfall, cfg.ReviewWorkers, log.Named("consumer"))
	consDone := make(chan struct{})
	go func() {
		defer close(consDone)
		log.Info("shortfall consumer started",
			zap.String("group", cfg.ReviewGroup),
			zap.String("topic", marketplace.TopicStockShortfall),
			zap.Int("workers", cfg.ReviewWorkers))
		if err := cons.Start(ctx, svc.HandleShortfall); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down worker")
	cancel()
	<-consDone
	<-sweepDone
	prod.Close()
	prod.WaitClosed()
}
