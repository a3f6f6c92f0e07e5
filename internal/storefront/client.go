package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
)

// APIClient ходит в HTTP API сервиса: реестр промокодов и заказы.
// Реализует PromoRegistry и OrderSubmitter.
type APIClient struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewAPIClient создаёт клиент с ограниченным таймаутом запросов.
func NewAPIClient(cfg *config.StorefrontConfig, log *logger.Logger) *APIClient {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// apiError описывает тело ответа с ошибкой. Реестр кладёт причину в code, погашение в reason.
type apiError struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ValidatePromoCode проверяет промокод. Недействительный код не считается ошибкой.
func (c *APIClient) ValidatePromoCode(ctx context.Context, code string) (*models.PromoValidation, error) {
	var result models.PromoValidation
	if err := c.do(ctx, http.MethodPost, "/promos/validate", models.PromoCodeRequest{Code: code}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RedeemPromoCode погашает промокод. Отказ реестра возвращается ошибкой с причиной.
func (c *APIClient) RedeemPromoCode(ctx context.Context, code string) (*models.PromoRedemption, error) {
	var result models.PromoRedemption
	if err := c.do(ctx, http.MethodPost, "/promos/redeem", models.PromoCodeRequest{Code: code}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListActivePromoCodes возвращает действующие промокоды.
func (c *APIClient) ListActivePromoCodes(ctx context.Context) ([]*models.PromoCode, error) {
	var promos []*models.PromoCode
	if err := c.do(ctx, http.MethodGet, "/promos/active", nil, &promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// CreatePromoCode создаёт промокод через админский эндпоинт.
func (c *APIClient) CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error) {
	var promo models.PromoCode
	if err := c.do(ctx, http.MethodPost, "/promos", req, &promo); err != nil {
		return nil, err
	}
	return &promo, nil
}

// CreateOrder сохраняет заказ.
func (c *APIClient) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Storefront API request failed")
		return apperror.WithCode(apperror.KindUnavailable, apperror.CodeNetworkFailure, "storefront api is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body apiError
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
	}
	code := apperror.Code(body.Reason)
	if code == "" {
		code = apperror.Code(body.Code)
	}

	var kind apperror.Kind
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = apperror.KindNotFound
	case resp.StatusCode == http.StatusConflict:
		kind = apperror.KindConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = apperror.KindUnavailable
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = apperror.KindUnavailable
	default:
		kind = apperror.KindValidation
	}

	return apperror.WithCode(kind, code, fmt.Sprintf("api returned status %d: %s", resp.StatusCode, body.Message), nil)
}
