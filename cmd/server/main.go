package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketmesh/internal/config"
	"marketmesh/internal/database"
	"marketmesh/internal/handlers"
	"marketmesh/internal/kafka"
	"marketmesh/internal/logger"
	"marketmesh/internal/redis"
	"marketmesh/internal/services"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	mux      *http.ServeMux
	server   *http.Server
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting marketmesh server...")

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	promoService := services.NewPromoService(db, log, producer, &cfg.Promo)
	orderService := services.NewOrderService(db, log)
	attemptLimiter := services.NewAttemptLimiter(redisClient, log, &cfg.RateLimit)

	promoHandler := handlers.NewPromoHandler(promoService, log)
	orderHandler := handlers.NewOrderHandler(orderService, producer, redisClient, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck)
	rateLimitHandler := handlers.NewRateLimitHandler(attemptLimiter, log)

	kafka.RegisterAuditHandlers(consumer, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	mux := setupRoutes(promoHandler, orderHandler, healthHandler, rateLimitHandler, attemptLimiter, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		mux:      mux,
		server:   server,
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(promoHandler *handlers.PromoHandler, orderHandler *handlers.OrderHandler, healthHandler *handlers.HealthHandler, rateLimitHandler *handlers.RateLimitHandler, limiter handlers.AttemptLimiter, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(healthHandler.Liveness))

	// Promo codes endpoints
	mux.HandleFunc("/api/promos", corsMiddleware(handlePromosRoute(promoHandler)))
	mux.HandleFunc("/api/promos/", corsMiddleware(handlePromoRoute(promoHandler, limiter, log)))

	// Order endpoints
	mux.HandleFunc("/api/orders", corsMiddleware(handleOrdersRoute(orderHandler)))
	mux.HandleFunc("/api/orders/", corsMiddleware(orderHandler.GetOrder))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", corsMiddleware(rateLimitHandler.Status))

	return mux
}

// handlePromosRoute обрабатывает коллекцию промокодов
func handlePromosRoute(handler *handlers.PromoHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListPromoCodes(w, r)
		case http.MethodPost:
			handler.CreatePromoCode(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handlePromoRoute разводит витринные действия и админские операции над одним кодом.
// Коды хранятся в верхнем регистре, поэтому не пересекаются с именами действий.
func handlePromoRoute(handler *handlers.PromoHandler, limiter handlers.AttemptLimiter, log *logger.Logger) http.HandlerFunc {
	validate := handlers.AttemptLimitMiddleware(limiter, services.AttemptScopeValidate, log, handler.ValidatePromoCode)
	redeem := handlers.AttemptLimitMiddleware(limiter, services.AttemptScopeRedeem, log, handler.RedeemPromoCode)

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/promos/active":
			handler.ListActivePromoCodes(w, r)
			return
		case "/api/promos/validate":
			validate(w, r)
			return
		case "/api/promos/redeem":
			redeem(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			handler.GetPromoCode(w, r)
		case http.MethodPut:
			handler.UpdatePromoCode(w, r)
		case http.MethodDelete:
			handler.DeactivatePromoCode(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleOrdersRoute обрабатывает маршруты для коллекции заказов
func handleOrdersRoute(handler *handlers.OrderHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.GetOrders(w, r)
		case http.MethodPost:
			handler.CreateOrder(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
