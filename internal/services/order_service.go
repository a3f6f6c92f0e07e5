package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/database"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderService хранит снимки оформленных корзин.
// Промокод здесь не гасится, погашение идёт отдельной фазой после сохранения заказа.
type OrderService struct {
	db  *database.DB
	log *logger.Logger
	now func() time.Time
}

// NewOrderService создает новый экземпляр сервиса заказов
func NewOrderService(db *database.DB, log *logger.Logger) *OrderService {
	return &OrderService{
		db:  db,
		log: log,
		now: time.Now,
	}
}

// CreateOrder сохраняет заказ. Суммы пересчитываются из позиций и снимка промокода,
// присланные клиентом итоги не принимаются.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	orderID := uuid.New()
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: strings.TrimSpace(item.ProductID),
			Title:     strings.TrimSpace(item.Title),
			SKU:       strings.TrimSpace(item.SKU),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	var promo *models.AppliedPromo
	if req.PromoCode != nil {
		promo = &models.AppliedPromo{
			Code:            NormalizePromoCode(req.PromoCode.Code),
			DiscountPercent: req.PromoCode.DiscountPercent,
		}
	}

	totals := pricing.OrderTotals(items, promo)
	order := &models.Order{
		ID:        orderID,
		UserID:    strings.TrimSpace(req.UserID),
		Items:     items,
		Subtotal:  totals.Subtotal,
		Shipping:  req.Shipping,
		Taxes:     req.Taxes,
		Discount:  totals.Discount,
		PromoCode: promo,
		Total:     grandTotal(totals.Total, req.Shipping, req.Taxes),
		Status:    models.OrderStatusPending,
		CreatedAt: s.now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var promoCode *string
	var promoPercent *float64
	if promo != nil {
		promoCode = &promo.Code
		promoPercent = &promo.DiscountPercent
	}

	query := `
		INSERT INTO orders (id, user_id, subtotal, shipping, taxes, discount, promo_code, promo_percent, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := tx.ExecContext(ctx, query, order.ID, order.UserID, order.Subtotal, order.Shipping, order.Taxes,
		order.Discount, promoCode, promoPercent, order.Total, order.Status, order.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, title, sku, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery, item.ID, item.OrderID, item.ProductID, item.Title, item.SKU,
			item.Quantity, item.UnitPrice, item.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	fields := map[string]interface{}{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.Total,
	}
	if promo != nil {
		fields["promo_code"] = promo.Code
	}
	s.log.WithFields(fields).Info("Order created successfully")

	return order, nil
}

// GetOrder получает заказ по ID
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("order not found", err)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := s.getOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrders получает список заказов (новые первыми), опционально по пользователю.
// Позиции в списке не подгружаются.
func (s *OrderService) GetOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if userID = strings.TrimSpace(userID); userID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, userID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

func (s *OrderService) getOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	itemsQuery := `
		SELECT id, order_id, product_id, title, sku, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := s.db.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Title, &item.SKU,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}

	return items, nil
}

const orderColumns = `id, user_id, subtotal, shipping, taxes, discount, promo_code, promo_percent, total, status, created_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		promoCode    sql.NullString
		promoPercent sql.NullFloat64
	)
	if err := row.Scan(&order.ID, &order.UserID, &order.Subtotal, &order.Shipping, &order.Taxes, &order.Discount,
		&promoCode, &promoPercent, &order.Total, &order.Status, &order.CreatedAt); err != nil {
		return nil, err
	}
	if promoCode.Valid {
		order.PromoCode = &models.AppliedPromo{Code: promoCode.String, DiscountPercent: promoPercent.Float64}
	}
	return order, nil
}

func validateCreateOrder(req *models.CreateOrderRequest) error {
	if req == nil {
		return errInvalidInput("request body is required")
	}
	if len(req.Items) == 0 {
		return errInvalidInput("at least one item is required")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return errInvalidInput(fmt.Sprintf("items[%d].productId is required", i))
		}
		if strings.TrimSpace(item.Title) == "" {
			return errInvalidInput(fmt.Sprintf("items[%d].title is required", i))
		}
		if item.Quantity <= 0 {
			return errInvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if item.UnitPrice < 0 {
			return errInvalidInput(fmt.Sprintf("items[%d].unitPrice must be non-negative", i))
		}
	}
	if req.PromoCode != nil {
		if NormalizePromoCode(req.PromoCode.Code) == "" {
			return errInvalidInput("promoCode.code is required")
		}
		if !pricing.ValidPercent(req.PromoCode.DiscountPercent) {
			return errInvalidInput("promoCode.discountPercent must be between 0 and 100")
		}
	}
	if req.Shipping < 0 || req.Taxes < 0 {
		return errInvalidInput("shipping and taxes must be non-negative")
	}
	return nil
}

func grandTotal(afterDiscount, shipping, taxes float64) float64 {
	return decimal.NewFromFloat(afterDiscount).
		Add(decimal.NewFromFloat(shipping)).
		Add(decimal.NewFromFloat(taxes)).
		InexactFloat64()
}
