package handlers

import (
	"context"
	"time"

	"marketmesh/internal/models"

	"github.com/google/uuid"
)

// ----- Promo -----

type PromoService interface {
	CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error)
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	UpdatePromoCode(ctx context.Context, code string, req *models.UpdatePromoCodeRequest) (*models.PromoCode, error)
	DeactivatePromoCode(ctx context.Context, code string) error
	ListPromoCodes(ctx context.Context, limit, offset int) ([]*models.PromoCode, error)
	ListActivePromoCodes(ctx context.Context) ([]*models.PromoCode, error)
	ValidatePromoCode(ctx context.Context, code string) (*models.PromoValidation, error)
	RedeemPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
}

// ----- Orders -----

type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error)
}

type EventProducer interface {
	PublishOrderPlaced(order *models.Order) error
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
