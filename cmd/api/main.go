package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/config"
	"github.com/ariefcatur/go-marketplace/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/logging"
	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/memstore"
	"github.com/ariefcatur/go-marketplace/internal/mercadopago"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
)

type store interface {
	marketplace.SellerRepo
	marketplace.ProductRepo
	marketplace.CartRepo
	marketplace.OrderRepo
}

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

	// Store
	var st store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, state is lost on restart")
		st = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		st = &postgres.Store{DB: db}
	}

	// Redis (optional)
	var (
		cache    marketplace.StatusCache
		statusRd httpx.StatusReader
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		sc := redisx.NewStatusCache(rdb)
		cache, statusRd = sc, sc
	}

	// Kafka producer (optional)
	var events marketplace.EventSink
	var prod *kafkax.Producer
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		prod = kafkax.NewProducer(brokers, 1024, log.Named("kafka"))
		prod.Start()
		events = &kafkax.EventPublisher{Out: prod, Service: cfg.ServiceName}
	}

	// Gateway
	gw, err := mercadopago.New(mercadopago.Options{
		BaseURL:         cfg.MPBaseURL,
		AccessToken:     cfg.MPAccessToken,
		AppID:           cfg.MPAppID,
		NotificationURL: cfg.MPNotificationURL,
		BackURLs: mercadopago.BackURLs{
			Success: cfg.MPBackURLSuccess,
			Failure: cfg.MPBackURLFailure,
			Pending: cfg.MPBackURLPending,
		},
		Timeout: cfg.MPTimeout,
	}, log.Named("mercadopago"))
	if err != nil {
		log.Fatal("payment gateway", zap.Error(err))
	}

	fee, _ := cfg.Fee() // validated by config.Load

	// Handlers
	api := &httpx.API{
		Cart: &httpx.CartHandler{
			Cart: &marketplace.CartService{Products: st, Carts: st},
			Log:  log.Named("cart"),
		},
		Checkout: &httpx.CheckoutHandler{
			Checkout: &marketplace.Checkout{
				Sellers:  st,
				Carts:    st,
				Orders:   st,
				Gateway:  gw,
				Events:   events,
				FeeRate:  fee,
				Currency: cfg.Currency,
				Log:      log.Named("checkout"),
			},
			Log: log.Named("checkout"),
		},
		Webhook: &httpx.WebhookHandler{
			Reconciler: &marketplace.Reconciler{
				Gateway: gw,
				Orders:  st,
				Cache:   cache,
				Events:  events,
				Log:     log.Named("reconcile"),
			},
			Log: log.Named("webhook"),
		},
		Orders:    &httpx.OrdersHandler{Orders: st, Cache: statusRd, Log: log.Named("orders")},
		JWTSecret: []byte(cfg.JWTSecret),
	}
	router := httpx.NewRouter(log.Named("http"))
	api.Mount(router)

	// The in-memory store has no worker process, so the sweep runs here.
	if cfg.StoreDriver == "memory" {
		exp := &marketplace.Expirer{
			Orders:  st,
			Cache:   cache,
			Events:  events,
			TTL:     cfg.PendingOrderTTL,
			Log:     log.Named("expiry"),
			Observe: metrics.RecordExpired,
		}
		go exp.Run(ctx, cfg.SweepInterval)
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	// longer than the router timeout so in-flight handlers finish before the
	// producer closes
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	if prod != nil {
		prod.Close()      // stop accepting, flush inbox
		prod.WaitClosed() // writer closed
	}
}
