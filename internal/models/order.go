package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus представляет статус заказа
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
)

// Order представляет неизменяемый снимок корзины на момент оформления
type Order struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	UserID    string        `json:"userId" db:"user_id"`
	Items     []OrderItem   `json:"items"`
	Subtotal  float64       `json:"subtotal" db:"subtotal"`
	Shipping  float64       `json:"shipping" db:"shipping"`
	Taxes     float64       `json:"taxes" db:"taxes"`
	Discount  float64       `json:"discount" db:"discount"`
	PromoCode *AppliedPromo `json:"promoCode,omitempty"`
	Total     float64       `json:"total" db:"total"`
	Status    OrderStatus   `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
}

// OrderItem представляет позицию заказа
type OrderItem struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OrderID    uuid.UUID `json:"orderId" db:"order_id"`
	ProductID  string    `json:"productId" db:"product_id"`
	Title      string    `json:"title" db:"title"`
	SKU        string    `json:"sku" db:"sku"`
	Quantity   int       `json:"quantity" db:"quantity"`
	UnitPrice  float64   `json:"unitPrice" db:"unit_price"`
	TotalPrice float64   `json:"totalPrice" db:"total_price"`
}

// CreateOrderRequest представляет запрос на создание заказа.
// Суммы пересчитываются на сервере из позиций и снимка промокода.
type CreateOrderRequest struct {
	UserID    string                   `json:"userId"`
	Items     []CreateOrderItemRequest `json:"items"`
	PromoCode *AppliedPromo            `json:"promoCode,omitempty"`
	Shipping  float64                  `json:"shipping,omitempty"`
	Taxes     float64                  `json:"taxes,omitempty"`
}

// CreateOrderItemRequest представляет позицию в запросе на создание заказа
type CreateOrderItemRequest struct {
	ProductID string  `json:"productId"`
	Title     string  `json:"title"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}
