package models

import (
	"time"

	"marketmesh/internal/apperror"
)

// PromoCode представляет промокод в реестре.
// UsageLimit == nil означает безлимитный промокод.
type PromoCode struct {
	Code            string    `json:"code" db:"code"`
	DiscountPercent float64   `json:"discountPercent" db:"discount_percent"`
	Description     string    `json:"description" db:"description"`
	ExpiresAt       time.Time `json:"expiresAt" db:"expires_at"`
	IsActive        bool      `json:"isActive" db:"is_active"`
	UsageLimit      *int      `json:"usageLimit" db:"usage_limit"`
	UsageCount      int       `json:"usageCount" db:"usage_count"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// CreatePromoCodeRequest описывает запрос на создание промокода.
type CreatePromoCodeRequest struct {
	Code            string     `json:"code"`
	DiscountPercent float64    `json:"discountPercent"`
	Description     string     `json:"description"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	UsageLimit      *int       `json:"usageLimit,omitempty"`
	IsActive        *bool      `json:"isActive,omitempty"` // по умолчанию true
}

// UpdatePromoCodeRequest описывает административное обновление промокода.
type UpdatePromoCodeRequest struct {
	DiscountPercent float64    `json:"discountPercent"`
	Description     string     `json:"description"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	UsageLimit      *int       `json:"usageLimit,omitempty"`
	IsActive        bool       `json:"isActive"`
}

// PromoCodeRequest представляет тело запросов validate/redeem.
type PromoCodeRequest struct {
	Code string `json:"code"`
}

// PromoValidation представляет результат проверки промокода.
type PromoValidation struct {
	Valid           bool          `json:"valid"`
	Code            string        `json:"code"`
	DiscountPercent float64       `json:"discountPercent,omitempty"`
	Description     string        `json:"description,omitempty"`
	Reason          apperror.Code `json:"reason,omitempty"`
	Message         string        `json:"message,omitempty"`
}

// PromoRedemption представляет результат погашения промокода.
type PromoRedemption struct {
	Success         bool          `json:"success"`
	Code            string        `json:"code"`
	DiscountPercent float64       `json:"discountPercent,omitempty"`
	UsageCount      int           `json:"usageCount,omitempty"`
	Reason          apperror.Code `json:"reason,omitempty"`
	Message         string        `json:"message,omitempty"`
}

// AppliedPromo хранит снимок применённого промокода, а не ссылку на запись реестра.
type AppliedPromo struct {
	Code            string  `json:"code"`
	DiscountPercent float64 `json:"discountPercent"`
}
