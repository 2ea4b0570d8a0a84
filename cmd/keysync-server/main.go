package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/zenvinnovations/keysync/internal/config"
	"github.com/zenvinnovations/keysync/internal/db"
	"github.com/zenvinnovations/keysync/internal/httpapi"
	"github.com/zenvinnovations/keysync/internal/keysync/service"
	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/store/memory"
	redisstore "github.com/zenvinnovations/keysync/internal/keysync/store/redis"
	sqlitestore "github.com/zenvinnovations/keysync/internal/keysync/store/sqlite"
	"github.com/zenvinnovations/keysync/internal/keysync/transport"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "keysync-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Access ledger
	dbConn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	writer := db.NewWorker(dbConn)
	defer writer.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, dbConn, db.SeedDevOptions{Facilities: cfg.Facilities}); err != nil {
			logger.Printf("seed dev data: %v", err)
		}
	}

	ledger := sqlitestore.NewLedgerStore(dbConn, writer)

	// Device health store
	healthTTL := time.Duration(cfg.HealthTTLHours) * time.Hour
	var healthStore store.HealthStore
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		healthStore = redisstore.NewHealthStore(client, healthTTL)
		logger.Printf("device health store: redis at %s", cfg.RedisAddr)
	} else {
		healthStore = memory.NewHealthStore(healthTTL)
		logger.Printf("device health store: in-memory")
	}
	healthSvc := service.NewHealthService(healthStore)

	// Sync transport
	tr := transport.New(transport.Config{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.SubjectPrefix,
		AckToken:      cfg.AckToken,
	}, logger)
	if err := tr.Connect(); err != nil {
		logger.Fatalf("broker: %v", err)
	}
	defer tr.Close()

	// Services
	dirty := service.NewDirtyTracker(ledger)
	ledgerSvc := service.NewLedgerService(ledger, dirty, tr, healthSvc, cfg.Facilities, logger)

	if err := tr.Start(ctx, ledgerSvc); err != nil {
		logger.Fatalf("transport start: %v", err)
	}

	resyncer := service.NewResyncer(ledgerSvc,
		time.Duration(cfg.ResyncIntervalMinutes)*time.Minute, logger)
	resyncer.Start(ctx)
	defer resyncer.Stop()

	// HTTP inspection surface
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		LedgerService: ledgerSvc,
		HealthService: healthSvc,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
