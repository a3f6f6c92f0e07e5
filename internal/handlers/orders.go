package handlers

import (
	"net/http"
	"strings"

	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/redis"
)

const orderPathPrefix = "/api/orders/"

// OrderHandler представляет обработчик заказов
type OrderHandler struct {
	orderService OrderService
	producer     EventProducer
	redisClient  RedisClient
	log          *logger.Logger
}

// NewOrderHandler создает новый обработчик заказов.
// producer и redisClient могут быть nil: события и кеш тогда пропускаются.
func NewOrderHandler(orderService OrderService, producer EventProducer, redisClient RedisClient, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		producer:     producer,
		redisClient:  redisClient,
		log:          log,
	}
}

// CreateOrder сохраняет снимок корзины как заказ. Промокод здесь не погашается.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreateOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create order")
		return
	}

	// Публикация события в Kafka
	if h.producer != nil {
		if err := h.producer.PublishOrderPlaced(order); err != nil {
			// заказ уже создан, клиенту ошибку не отдаём
			h.log.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order placed event")
		}
	}

	if h.redisClient != nil {
		cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, order.ID.String())
		if err := h.redisClient.Set(r.Context(), cacheKey, order, defaultCacheTTL); err != nil {
			h.log.WithError(err).Error("Failed to cache order")
		}
		if err := h.redisClient.DeleteByPrefix(r.Context(), redis.UserOrdersPrefix(order.UserID)); err != nil {
			h.log.WithError(err).WithField("user_id", order.UserID).Error("Failed to invalidate user orders cache")
		}
	}

	h.log.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.Total,
	}).Info("Order created successfully")

	writeJSONResponse(w, http.StatusCreated, order)
}

// GetOrder получает заказ по ID
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	orderID, err := extractUUIDFromPath(r.URL.Path, orderPathPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	// Заказы неизменяемы, поэтому кеш не нужно инвалидировать
	cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, orderID.String())
	if h.redisClient != nil {
		var cached models.Order
		if err := h.redisClient.Get(r.Context(), cacheKey, &cached); err == nil {
			h.log.WithField("order_id", orderID).Debug("Order retrieved from cache")
			writeJSONResponse(w, http.StatusOK, &cached)
			return
		}
	}

	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order")
		return
	}

	if h.redisClient != nil {
		if err := h.redisClient.Set(r.Context(), cacheKey, order, defaultCacheTTL); err != nil {
			h.log.WithError(err).Error("Failed to cache order")
		}
	}

	writeJSONResponse(w, http.StatusOK, order)
}

// GetOrders возвращает заказы пользователя, новые первыми
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	limit, offset := parsePagination(r)

	var cacheKey string
	if h.redisClient != nil && userID != "" {
		cacheKey = redis.UserOrdersKey(userID, limit, offset)
		var cached []*models.Order
		if err := h.redisClient.Get(r.Context(), cacheKey, &cached); err == nil {
			writeJSONResponse(w, http.StatusOK, cached)
			return
		}
	}

	orders, err := h.orderService.GetOrders(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get orders")
		return
	}

	if cacheKey != "" {
		if err := h.redisClient.Set(r.Context(), cacheKey, orders, defaultCacheTTL); err != nil {
			h.log.WithError(err).Error("Failed to cache user orders")
		}
	}

	writeJSONResponse(w, http.StatusOK, orders)
}
