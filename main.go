package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canteenhub/aggregates"
	"canteenhub/config"
	"canteenhub/db"
	"canteenhub/memstore"
	"canteenhub/metrics"
	"canteenhub/middleware"
	"canteenhub/mq"
	"canteenhub/notify"
	"canteenhub/orders"
	"canteenhub/ratelim"
	"canteenhub/rdx"
	"canteenhub/receipt"
	"canteenhub/reviews"
	"canteenhub/routes"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// store is everything the services need from persistence; memstore.Store and
// db.Store both satisfy it.
type store interface {
	orders.Store
	orders.Catalog
	orders.Sequencer
	reviews.Store
	reviews.Catalog
	aggregates.Store
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store, func(), error) {
	if cfg.Store == "memory" {
		s := memstore.New()
		if cfg.SeedFile != "" {
			f, err := os.Open(cfg.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := s.LoadCatalog(f); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("Using in-memory store")
		return s, func() {}, nil
	}

	colls, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	if err := colls.EnsureIndexes(ctx); err != nil {
		colls.Close(context.Background())
		return nil, nil, err
	}
	s := db.NewStore(colls)
	if cfg.SeedFile != "" {
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			colls.Close(context.Background())
			return nil, nil, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		if err := s.LoadCatalog(ctx, f); err != nil {
			colls.Close(context.Background())
			return nil, nil, err
		}
	}
	logger.Infof("Connected to MongoDB database %s", cfg.MongoDB)
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := colls.Close(ctx); err != nil {
			logger.Warnf("Closing MongoDB: %v", err)
		}
	}
	return s, closeFn, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Configuration error: %v", err)
	}
	logger := cfg.NewLogger()
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewDefault()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Store error: %v", err)
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Sequencer == "redis" || cfg.Relay == "redis" {
		redisClient, err = rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatalf("Redis error: %v", err)
		}
		defer redisClient.Close()
	}

	var seq orders.Sequencer = st
	if cfg.Sequencer == "redis" {
		seq = rdx.NewSequencer(redisClient)
	}

	var relay mq.Relay
	switch cfg.Relay {
	case "redis":
		relay = mq.NewRedisRelay(redisClient, cfg.RedisChannel, logger)
	case "kafka":
		relay = mq.NewKafkaRelay(cfg.KafkaBrokers, cfg.KafkaTopic, uuid.NewString(), logger)
	}

	verifier := middleware.NewVerifier(cfg.JWTSecret)

	hub := notify.NewHub(cfg.HubQueue, logger, m)
	go hub.Run()
	notifier := notify.NewNotifier(hub, relay, cfg.RelayQueue, logger, m)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		notifier.RunRelay(ctx)
	}()

	updater := aggregates.NewUpdater(st, aggregates.Config{
		Workers:    cfg.AggregateWorkers,
		QueueSize:  cfg.AggregateQueue,
		MaxRetries: cfg.AggregateMaxRetries,
		HalfLife:   cfg.PopularityHalfLife,
	}, logger, m)
	updater.Start()

	dispatcher := mq.NewDispatcher(cfg.DispatchQueue, logger, m, notifier, updater)
	go dispatcher.Run(ctx)

	manager := orders.NewManager(st, st, seq, dispatcher, logger, m)
	reviewService := reviews.NewService(st, st, st, dispatcher, cfg.ReviewAutoApprove, logger)

	apiLimit := ratelim.NewRateLimiter(cfg.APIRatePerMinute)
	orderLimit := ratelim.NewRateLimiter(cfg.OrderRatePerMinute)
	sweepStop := make(chan struct{})
	go apiLimit.RunSweeper(time.Minute, sweepStop)
	go orderLimit.RunSweeper(time.Minute, sweepStop)

	router := httprouter.New()
	routes.RoutesWrapper(router, routes.Deps{
		Auth:       verifier,
		APILimit:   apiLimit,
		OrderLimit: orderLimit,
		Orders:     orders.NewHandlers(manager),
		Receipts:   receipt.NewHandlers(manager, receipt.NewSigner(cfg.PickupSecret)),
		Reviews:    reviews.NewHandlers(reviewService),
		Updater:    updater,
		WS:         notify.NewServer(hub, verifier, st, cfg.ClientBuffer, logger),
		Metrics:    m.Handler(),
	})

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	handler := middleware.Logging(logger, m, middleware.SecurityHeaders(corsHandler))

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("ListenAndServe error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received; shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}

	// reverse start order: producers are gone, so drain the dispatcher into the
	// updater and hub before stopping them
	close(sweepStop)
	dispatcher.Stop()
	updater.Stop()
	cancel()
	<-relayDone
	hub.Stop()
	if relay != nil {
		if err := relay.Close(); err != nil {
			logger.Warnf("Closing relay: %v", err)
		}
	}
	logger.Info("Server stopped cleanly")
}
