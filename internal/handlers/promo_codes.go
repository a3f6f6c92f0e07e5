package handlers

import (
	"net/http"

	"marketmesh/internal/apperror"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/services"
)

const promoPathPrefix = "/api/promos/"

// PromoHandler обрабатывает реестр промокодов: витринные проверку и погашение, админские CRUD.
type PromoHandler struct {
	promoService PromoService
	log          *logger.Logger
}

// NewPromoHandler создаёт новый обработчик промокодов.
func NewPromoHandler(promoService PromoService, log *logger.Logger) *PromoHandler {
	return &PromoHandler{
		promoService: promoService,
		log:          log,
	}
}

// ListActivePromoCodes возвращает промокоды, действительные прямо сейчас.
func (h *PromoHandler) ListActivePromoCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	promos, err := h.promoService.ListActivePromoCodes(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list active promo codes")
		return
	}

	writeJSONResponse(w, http.StatusOK, promos)
}

// ValidatePromoCode проверяет промокод. На недействительный код отвечает 200 с valid=false и причиной.
func (h *PromoHandler) ValidatePromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.PromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.promoService.ValidatePromoCode(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// RedeemPromoCode погашает промокод: 200 при успехе, 404/409 с причиной иначе.
func (h *PromoHandler) RedeemPromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.PromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	promo, err := h.promoService.RedeemPromoCode(r.Context(), req.Code)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusNotFound || status == http.StatusConflict {
			writeJSONResponse(w, status, &models.PromoRedemption{
				Success: false,
				Code:    services.NormalizePromoCode(req.Code),
				Reason:  apperror.CodeOf(err),
				Message: err.Error(),
			})
			return
		}
		writeServiceError(w, h.log, err, "Failed to redeem promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, &models.PromoRedemption{
		Success:         true,
		Code:            promo.Code,
		DiscountPercent: promo.DiscountPercent,
		UsageCount:      promo.UsageCount,
	})
}

// CreatePromoCode создаёт промокод.
func (h *PromoHandler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreatePromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	promo, err := h.promoService.CreatePromoCode(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create promo code")
		return
	}

	writeJSONResponse(w, http.StatusCreated, promo)
}

// ListPromoCodes возвращает все промокоды (включая выключенные и просроченные).
func (h *PromoHandler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := parsePagination(r)
	promos, err := h.promoService.ListPromoCodes(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list promo codes")
		return
	}

	writeJSONResponse(w, http.StatusOK, promos)
}

// GetPromoCode возвращает промокод по коду.
func (h *PromoHandler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	code, err := extractSegment(r.URL.Path, promoPathPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	promo, err := h.promoService.GetPromoCode(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, promo)
}

// UpdatePromoCode обновляет промокод.
func (h *PromoHandler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	code, err := extractSegment(r.URL.Path, promoPathPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.UpdatePromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	promo, err := h.promoService.UpdatePromoCode(r.Context(), code, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, promo)
}

// DeactivatePromoCode выключает промокод (запись сохраняется).
func (h *PromoHandler) DeactivatePromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	code, err := extractSegment(r.URL.Path, promoPathPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.promoService.DeactivatePromoCode(r.Context(), code); err != nil {
		writeServiceError(w, h.log, err, "Failed to deactivate promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Promo code deactivated"})
}
