package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"marketmesh/internal/logger"
	"marketmesh/internal/services"
)

// AttemptLimiter описывает контракт лимитера попыток для middleware.
type AttemptLimiter interface {
	Allow(ctx context.Context, scope, client string) (services.AttemptDecision, error)
	Enabled() bool
	Limit() int64
}

// AttemptStatusProvider расширяет интерфейс для эндпоинта статуса.
type AttemptStatusProvider interface {
	AttemptLimiter
	Usage(ctx context.Context, scope, client string) (services.AttemptDecision, error)
	Window() time.Duration
}

// RateLimitHandler отдаёт состояние лимита попыток для клиента.
type RateLimitHandler struct {
	limiter AttemptStatusProvider
	log     *logger.Logger
}

// NewRateLimitHandler создает новый RateLimitHandler.
func NewRateLimitHandler(limiter AttemptStatusProvider, log *logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		limiter: limiter,
		log:     log,
	}
}

// Status возвращает текущие значения лимита для клиента. Область задаётся ?scope=validate|redeem.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.limiter == nil || !h.limiter.Enabled() {
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
		})
		return
	}

	scope := r.URL.Query().Get("scope")
	switch scope {
	case "":
		scope = services.AttemptScopeValidate
	case services.AttemptScopeValidate, services.AttemptScopeRedeem:
	default:
		writeErrorResponse(w, http.StatusBadRequest, "Unknown scope")
		return
	}

	client := services.ExtractClientIP(r)
	usage, err := h.limiter.Usage(r.Context(), scope, client)
	if err != nil {
		h.log.WithError(err).Error("Failed to fetch attempt usage")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to fetch rate limit usage")
		return
	}

	resp := map[string]interface{}{
		"enabled":        true,
		"scope":          scope,
		"limit":          h.limiter.Limit(),
		"window_seconds": int64(h.limiter.Window().Seconds()),
		"used":           usage.Used,
		"remaining":      usage.Remaining,
		"key":            client,
	}
	if !usage.ResetAt.IsZero() {
		resp["reset_at"] = usage.ResetAt.Format(time.RFC3339)
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// AttemptLimitMiddleware ограничивает попытки клиента в области scope.
// При сбое хранилища счётчиков запрос пропускается.
func AttemptLimitMiddleware(limiter AttemptLimiter, scope string, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil || !limiter.Enabled() {
			next(w, r)
			return
		}

		client := services.ExtractClientIP(r)
		decision, err := limiter.Allow(r.Context(), scope, client)
		if err != nil {
			log.WithError(err).WithField("scope", scope).Warn("Attempt limiter unavailable, request allowed")
			next(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.Limit(), 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.ResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed {
			log.WithField("client", client).WithField("scope", scope).Info("Promo attempt limit exceeded")
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many promo code attempts")
			return
		}

		next(w, r)
	}
}
