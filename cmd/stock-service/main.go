package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pharmflow/pharmflow-backend/internal/stock/consumers"
	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/handler"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/config"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

const serviceName = "stock-service"

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, serviceName, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	stockEvents := events.NewStockEventPublisher(publisher, log)

	// Repositories
	inventoryRepo := repository.NewInventoryRepository(db, cfg.Stock.MovementHistoryCap)
	batchRepo := repository.NewBatchRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	productCacheRepo := repository.NewProductCacheRepository(db)

	// Services
	ledgerService := service.NewLedgerService(db, inventoryRepo, batchRepo, productCacheRepo, stockEvents, log)
	requestService := service.NewRequestService(db, requestRepo, stockEvents, log)
	transferService := service.NewTransferService(db, transferRepo, requestRepo, inventoryRepo, batchRepo, stockEvents, log)

	// Consumers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	productConsumer, err := consumers.NewProductConsumer(rmq, productCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create product consumer")
	}
	if err := productConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start product consumer")
	}

	// Handlers
	warehouseHandler := handler.NewWarehouseHandler(ledgerService, log)
	requestHandler := handler.NewRequestHandler(requestService, log)
	transferHandler := handler.NewTransferHandler(transferService, log)
	reportHandler := handler.NewReportHandler(ledgerService, log)

	// Router
	r := chi.NewRouter()
	r.Use(httputil.RequestID)
	r.Use(httputil.ActorMiddleware)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Email", "X-User-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		health := map[string]interface{}{
			"service":  serviceName,
			"database": db.Health(req.Context()),
			"rabbitmq": rmq.Health(),
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		warehouseHandler.RegisterRoutes(r)
		requestHandler.RegisterRoutes(r)
		transferHandler.RegisterRoutes(r)
		reportHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.Server.Environment).
			Msg("stock service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("stock service stopped")
}
