package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/config"
	"github.com/cuptrace/cuptrace/internal/repository/mongodb"
	"github.com/cuptrace/cuptrace/internal/repository/sheets"
	"github.com/cuptrace/cuptrace/internal/scheduler"
	"github.com/cuptrace/cuptrace/internal/server/handlers"
	"github.com/cuptrace/cuptrace/internal/server/router"
	reportingsvc "github.com/cuptrace/cuptrace/internal/service/reporting"
	stagesvc "github.com/cuptrace/cuptrace/internal/service/stage"
	ussdsvc "github.com/cuptrace/cuptrace/internal/service/ussd"
	"github.com/cuptrace/cuptrace/pkg/clients/notary"
	"github.com/cuptrace/cuptrace/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New())
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	store, err := mongodb.NewStore(context.Background(), cfg.MongoDB.URI, cfg.MongoDB.DBName)
	if err != nil {
		baseLogger.Fatal("failed to init mongodb store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}()

	var sheetExporter sheets.Exporter
	if cfg.Sheets.CredentialsPath != "" {
		exporter, err := sheets.NewGoogleSheetExporter(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets exporter", zap.Error(err))
		}
		sheetExporter = exporter
		baseLogger.Info("sheet export enabled")
	} else {
		baseLogger.Warn("sheets credentials missing, report export disabled")
	}

	var notaryClient notary.Client
	if cfg.Notary.BaseURL != "" {
		notaryClient = notary.NewClient(cfg.Notary)
		baseLogger.Info("notarization gateway enabled")
	} else {
		baseLogger.Warn("notary base url missing, stage changes will not be notarized")
	}

	engine := stagesvc.NewService(store, store, store, notaryClient, cfg.Notary.Timeout, baseLogger.Named("svc.stage"))

	sessions := ussdsvc.NewSessionManager(cfg.USSD.SessionTTL)
	menuSvc := ussdsvc.NewService(engine, sessions, baseLogger.Named("svc.ussd"))
	reportingSvc := reportingsvc.NewService(store, store, sheetExporter, baseLogger.Named("svc.reporting"))

	batchHandler := handlers.NewBatchHandler(engine, baseLogger.Named("handlers.batch"))
	ussdHandler := handlers.NewUSSDHandler(menuSvc, baseLogger.Named("handlers.ussd"))
	ginEngine := router.New(batchHandler, ussdHandler, baseLogger.Named("router"))

	sched := scheduler.NewScheduler(cfg.Reporting, reportingSvc, sessions, baseLogger.Named("scheduler"))
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      ginEngine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
