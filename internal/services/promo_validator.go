package services

import (
	"strings"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/models"
)

// NormalizePromoCode приводит код к каноническому виду: без пробелов по краям, в верхнем регистре.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckPromoCode решает, можно ли использовать промокод в момент now.
// Истечение проверяется первым: просроченный код всегда Expired, независимо от флага и лимита.
func CheckPromoCode(promo *models.PromoCode, now time.Time) error {
	if promo == nil {
		return errPromoNotFound(nil)
	}
	if now.After(promo.ExpiresAt) {
		return apperror.WithCode(apperror.KindConflict, apperror.CodeExpired, "promo code expired", nil)
	}
	if !promo.IsActive {
		return apperror.WithCode(apperror.KindConflict, apperror.CodeInactive, "promo code is inactive", nil)
	}
	if promo.UsageLimit != nil && promo.UsageCount >= *promo.UsageLimit {
		return apperror.WithCode(apperror.KindConflict, apperror.CodeUsageExceeded, "promo code usage limit reached", nil)
	}
	return nil
}

// EvaluatePromoCode строит ответ проверки по снимку записи (nil, если запись не найдена).
func EvaluatePromoCode(code string, promo *models.PromoCode, now time.Time) *models.PromoValidation {
	normalized := NormalizePromoCode(code)
	if err := CheckPromoCode(promo, now); err != nil {
		return &models.PromoValidation{
			Valid:   false,
			Code:    normalized,
			Reason:  apperror.CodeOf(err),
			Message: err.Error(),
		}
	}
	return &models.PromoValidation{
		Valid:           true,
		Code:            promo.Code,
		DiscountPercent: promo.DiscountPercent,
		Description:     promo.Description,
	}
}

func errPromoNotFound(err error) error {
	return apperror.WithCode(apperror.KindNotFound, apperror.CodeNotFound, "promo code not found", err)
}

func errPromoNoLongerValid(reason error) error {
	msg := "promo code is no longer valid"
	if reason != nil {
		msg += ": " + reason.Error()
	}
	return apperror.WithCode(apperror.KindConflict, apperror.CodeNoLongerValid, msg, reason)
}

func errInvalidInput(msg string) error {
	return apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, msg, nil)
}
