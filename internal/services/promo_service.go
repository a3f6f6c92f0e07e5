package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/config"
	"marketmesh/internal/database"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/pricing"

	"github.com/lib/pq"
)

const promoColumns = `code, discount_percent, description, expires_at, is_active, usage_limit, usage_count, created_at, updated_at`

// PromoEventPublisher публикует события жизненного цикла промокодов.
type PromoEventPublisher interface {
	PublishPromoEvent(eventType models.EventType, promo *models.PromoCode) error
}

// PromoService представляет реестр промокодов: хранение, проверку и атомарное погашение.
type PromoService struct {
	db     *database.DB
	log    *logger.Logger
	events PromoEventPublisher
	cfg    config.PromoConfig
	now    func() time.Time
}

// NewPromoService создаёт сервис промокодов. events может быть nil.
func NewPromoService(db *database.DB, log *logger.Logger, events PromoEventPublisher, cfg *config.PromoConfig) *PromoService {
	s := &PromoService{
		db:     db,
		log:    log,
		events: events,
		now:    time.Now,
		cfg:    config.PromoConfig{MaxCodeLength: 64, DefaultListLimit: 50, MaxListLimit: 200},
	}
	if cfg != nil {
		if cfg.MaxCodeLength > 0 {
			s.cfg.MaxCodeLength = cfg.MaxCodeLength
		}
		if cfg.DefaultListLimit > 0 {
			s.cfg.DefaultListLimit = cfg.DefaultListLimit
		}
		if cfg.MaxListLimit > 0 {
			s.cfg.MaxListLimit = cfg.MaxListLimit
		}
	}
	return s
}

// CreatePromoCode создаёт новый промокод. Код нормализуется до записи.
func (s *PromoService) CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error) {
	if req == nil {
		return nil, errInvalidInput("request body is required")
	}

	code := NormalizePromoCode(req.Code)
	if err := s.validateCode(code); err != nil {
		return nil, err
	}
	if err := validatePromoFields(req.DiscountPercent, req.Description, req.ExpiresAt, req.UsageLimit); err != nil {
		return nil, err
	}

	now := s.now()
	promo := &models.PromoCode{
		Code:            code,
		DiscountPercent: req.DiscountPercent,
		Description:     strings.TrimSpace(req.Description),
		ExpiresAt:       *req.ExpiresAt,
		IsActive:        true,
		UsageLimit:      req.UsageLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsActive != nil {
		promo.IsActive = *req.IsActive
	}

	query := `
		INSERT INTO promo_codes (code, discount_percent, description, expires_at, is_active, usage_limit, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query, promo.Code, promo.DiscountPercent, promo.Description, promo.ExpiresAt,
		promo.IsActive, promo.UsageLimit, promo.CreatedAt, promo.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.WithCode(apperror.KindConflict, apperror.CodeDuplicateCode, "promo code already exists", err)
		}
		return nil, fmt.Errorf("failed to create promo code: %w", err)
	}

	s.log.WithField("promo_code", promo.Code).Info("Promo code created")
	s.publish(models.EventTypePromoCreated, promo)
	return promo, nil
}

// UpdatePromoCode обновляет параметры промокода (в том числе повторно включает его).
// Счётчик использований не меняется.
func (s *PromoService) UpdatePromoCode(ctx context.Context, code string, req *models.UpdatePromoCodeRequest) (*models.PromoCode, error) {
	if req == nil {
		return nil, errInvalidInput("request body is required")
	}
	normalized := NormalizePromoCode(code)
	if normalized == "" {
		return nil, errInvalidInput("code is required")
	}
	if err := validatePromoFields(req.DiscountPercent, req.Description, req.ExpiresAt, req.UsageLimit); err != nil {
		return nil, err
	}

	query := `
		UPDATE promo_codes
		SET discount_percent = $1, description = $2, expires_at = $3, usage_limit = $4, is_active = $5, updated_at = $6
		WHERE code = $7
	`

	result, err := s.db.ExecContext(ctx, query, req.DiscountPercent, strings.TrimSpace(req.Description), *req.ExpiresAt,
		req.UsageLimit, req.IsActive, s.now(), normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to update promo code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, errPromoNotFound(nil)
	}

	promo, err := s.GetPromoCode(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.log.WithField("promo_code", promo.Code).Info("Promo code updated")
	s.publish(models.EventTypePromoUpdated, promo)
	return promo, nil
}

// DeactivatePromoCode выключает промокод. Записи не удаляются: история погашений остаётся.
func (s *PromoService) DeactivatePromoCode(ctx context.Context, code string) error {
	normalized := NormalizePromoCode(code)
	if normalized == "" {
		return errInvalidInput("code is required")
	}

	result, err := s.db.ExecContext(ctx, "UPDATE promo_codes SET is_active = FALSE, updated_at = $1 WHERE code = $2", s.now(), normalized)
	if err != nil {
		return fmt.Errorf("failed to deactivate promo code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errPromoNotFound(nil)
	}

	s.log.WithField("promo_code", normalized).Info("Promo code deactivated")
	s.publish(models.EventTypePromoDeactivated, &models.PromoCode{Code: normalized})
	return nil
}

// GetPromoCode возвращает промокод по коду (поиск по нормализованному значению).
func (s *PromoService) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	normalized := NormalizePromoCode(code)
	if normalized == "" {
		return nil, errPromoNotFound(nil)
	}

	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	promo, err := scanPromo(s.db.QueryRowContext(ctx, query, normalized))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errPromoNotFound(err)
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return promo, nil
}

// ListPromoCodes возвращает все промокоды, новые первыми.
func (s *PromoService) ListPromoCodes(ctx context.Context, limit, offset int) ([]*models.PromoCode, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultListLimit
	}
	if limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}
	defer rows.Close()

	return collectPromos(rows)
}

// ListActivePromoCodes возвращает промокоды, действительные прямо сейчас, новые первыми.
func (s *PromoService) ListActivePromoCodes(ctx context.Context) ([]*models.PromoCode, error) {
	query := `
		SELECT ` + promoColumns + `
		FROM promo_codes
		WHERE is_active AND expires_at >= $1 AND (usage_limit IS NULL OR usage_count < usage_limit)
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list active promo codes: %w", err)
	}
	defer rows.Close()

	return collectPromos(rows)
}

// ValidatePromoCode проверяет промокод без изменения состояния.
// Недействительный код возвращается как результат с Valid=false, а не ошибка; ошибка возвращается только
// для пустого кода и сбоев хранилища.
func (s *PromoService) ValidatePromoCode(ctx context.Context, code string) (*models.PromoValidation, error) {
	normalized := NormalizePromoCode(code)
	if normalized == "" {
		return nil, errInvalidInput("code is required")
	}

	promo, err := s.GetPromoCode(ctx, normalized)
	if err != nil {
		if !apperror.Is(err, apperror.KindNotFound) {
			return nil, err
		}
		promo = nil
	}

	return EvaluatePromoCode(normalized, promo, s.now()), nil
}

// RedeemPromoCode атомарно увеличивает счётчик использований, если код всё ещё действителен.
// Проверка и инкремент выполняются одним UPDATE, поэтому лимит не превышается при гонках.
func (s *PromoService) RedeemPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	normalized := NormalizePromoCode(code)
	if normalized == "" {
		return nil, errInvalidInput("code is required")
	}

	now := s.now()
	query := `
		UPDATE promo_codes
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE code = $1
		  AND is_active
		  AND expires_at >= $2
		  AND (usage_limit IS NULL OR usage_count < usage_limit)
		RETURNING ` + promoColumns

	promo, err := scanPromo(s.db.QueryRowContext(ctx, query, normalized, now))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to redeem promo code: %w", err)
		}
		return nil, s.explainRedeemMiss(ctx, normalized, now)
	}

	s.log.WithFields(map[string]interface{}{
		"promo_code":  promo.Code,
		"usage_count": promo.UsageCount,
	}).Info("Promo code redeemed")
	s.publish(models.EventTypePromoRedeemed, promo)
	return promo, nil
}

// explainRedeemMiss выясняет, почему погашение не обновило ни одной строки.
func (s *PromoService) explainRedeemMiss(ctx context.Context, code string, now time.Time) error {
	current, err := s.GetPromoCode(ctx, code)
	if err != nil {
		return err
	}
	return errPromoNoLongerValid(CheckPromoCode(current, now))
}

func (s *PromoService) validateCode(code string) error {
	if code == "" {
		return errInvalidInput("code is required")
	}
	if len(code) > s.cfg.MaxCodeLength {
		return errInvalidInput(fmt.Sprintf("code must be at most %d characters", s.cfg.MaxCodeLength))
	}
	return nil
}

func (s *PromoService) publish(eventType models.EventType, promo *models.PromoCode) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPromoEvent(eventType, promo); err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{
			"promo_code": promo.Code,
			"event_type": eventType,
		}).Warn("Failed to publish promo event")
	}
}

func validatePromoFields(percent float64, description string, expiresAt *time.Time, usageLimit *int) error {
	if !pricing.ValidPercent(percent) {
		return errInvalidInput("discountPercent must be between 0 and 100")
	}
	if strings.TrimSpace(description) == "" {
		return errInvalidInput("description is required")
	}
	if expiresAt == nil || expiresAt.IsZero() {
		return errInvalidInput("expiresAt is required")
	}
	if usageLimit != nil && *usageLimit <= 0 {
		return errInvalidInput("usageLimit must be positive")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromo(row rowScanner) (*models.PromoCode, error) {
	promo := &models.PromoCode{}
	var usageLimit sql.NullInt64
	if err := row.Scan(
		&promo.Code, &promo.DiscountPercent, &promo.Description, &promo.ExpiresAt, &promo.IsActive,
		&usageLimit, &promo.UsageCount, &promo.CreatedAt, &promo.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		promo.UsageLimit = &limit
	}
	return promo, nil
}

func collectPromos(rows *sql.Rows) ([]*models.PromoCode, error) {
	promos := make([]*models.PromoCode, 0)
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promo code: %w", err)
		}
		promos = append(promos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promo codes: %w", err)
	}
	return promos, nil
}
