package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/venrates/bcv-rates-service/internal/application/service"
	"github.com/venrates/bcv-rates-service/internal/config"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/api"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/cache"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/db"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/handler"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/middleware"
)

// Schedules run in the source's civil timezone. The board rate publishes
// once per business day; the near-midnight retries cover the race between
// our first attempt and the source's own rollover.
const (
	fullRefreshSchedule   = "1 0 * * 1-5"
	fullRetrySchedule     = "15,45 0 * * 1-5"
	fullLateRetrySchedule = "30 1 * * 1-5"
	partialSchedule       = "@every 15m"
	purgeSchedule         = "0 3 * * *"
	keepaliveSchedule     = "@every 10m"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	log := logger.NewJSONLogger(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	logger.SetDefaultLogger(log)

	log.Info("Starting BCV rates service", map[string]interface{}{
		"port":      cfg.Port,
		"retention": cfg.HistoryRetention,
	})

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal("Failed to load timezone", map[string]interface{}{
			"timezone": cfg.Timezone,
			"error":    err.Error(),
		})
	}

	// Setup BadgerDB
	dbPath := filepath.Join(".", cfg.DataDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		log.Fatal("Failed to create database directory", map[string]interface{}{"error": err.Error()})
	}

	badgerOpts := badger.DefaultOptions(dbPath)
	badgerOpts.Logger = nil // Disable Badger's default logger

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		log.Fatal("Failed to open database", map[string]interface{}{"error": err.Error()})
	}

	defer func() {
		if err := badgerDB.Close(); err != nil {
			log.Error("Error closing BadgerDB", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Repositories, clients, services
	rateRepo := db.NewBadgerRateRepository(badgerDB, cfg.HistoryRetention)
	bcvClient := api.NewBCVClient(cfg.BCVURL, location, cfg.FetchTimeout, log)
	p2pClient := api.NewBinanceP2PClient(cfg.P2PURL, cfg.FetchTimeout, log)
	snapshotCache := cache.NewSnapshotCache()

	rateService := service.NewRateService(
		rateRepo,
		bcvClient,
		p2pClient,
		snapshotCache,
		location,
		cfg.FixedReferenceRate,
		cfg.HistoryRetention,
		log,
	)

	// Populate real rates before serving the first request.
	rateService.RunFullRefresh(context.Background())

	// Scheduled jobs
	scheduler := cron.New(cron.WithLocation(location))
	schedule(scheduler, log, "full refresh", fullRefreshSchedule, func() {
		rateService.RunFullRefresh(context.Background())
	})
	schedule(scheduler, log, "full refresh retry", fullRetrySchedule, func() {
		rateService.RunFullRefresh(context.Background())
	})
	schedule(scheduler, log, "full refresh late retry", fullLateRetrySchedule, func() {
		rateService.RunFullRefresh(context.Background())
	})
	schedule(scheduler, log, "partial refresh", partialSchedule, func() {
		rateService.RunPartialRefresh(context.Background())
	})
	schedule(scheduler, log, "history purge", purgeSchedule, func() {
		rateService.RunHistoryPurge(context.Background())
	})

	if pinger := api.NewKeepalivePinger(cfg.KeepaliveURL, log); pinger != nil {
		schedule(scheduler, log, "keepalive ping", keepaliveSchedule, func() {
			pinger.Ping(context.Background())
		})
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Setup router
	router := mux.NewRouter()
	rateHandler := handler.NewRateHandler(rateService, log)
	rateHandler.RegisterRoutes(router)

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))

	// The API is consumed from browser frontends on other origins.
	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	addr := ":" + cfg.Port
	log.Info("Server listening", map[string]interface{}{"addr": addr})
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		log.Fatal("Server stopped", map[string]interface{}{"error": err.Error()})
	}
}

func schedule(scheduler *cron.Cron, log logger.Logger, name, spec string, job func()) {
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		log.Fatal("Failed to schedule job", map[string]interface{}{
			"job":      name,
			"schedule": spec,
			"error":    err.Error(),
		})
	}

	log.Info("Job scheduled", map[string]interface{}{
		"job":      name,
		"schedule": spec,
	})
}
