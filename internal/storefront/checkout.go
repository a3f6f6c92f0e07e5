// Package storefront содержит клиентскую сторону витрины: корзину с применённым промокодом
// и оформление заказа против API реестра промокодов и заказов.
package storefront

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/pricing"
)

// PromoRegistry описывает удалённый реестр промокодов.
type PromoRegistry interface {
	ValidatePromoCode(ctx context.Context, code string) (*models.PromoValidation, error)
	RedeemPromoCode(ctx context.Context, code string) (*models.PromoRedemption, error)
}

// OrderSubmitter сохраняет снимок корзины как заказ.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
}

// CheckoutResult описывает итог оформления. RedeemErr заполнен, если заказ создан, а погашение промокода не удалось.
type CheckoutResult struct {
	Order       *models.Order
	Redemption  *models.PromoRedemption
	RedeemErr   error
	CompletedAt time.Time
}

// Checkout представляет корзину одной сессии покупателя. Методы безопасны для конкурентного вызова.
type Checkout struct {
	mu      sync.Mutex
	lines   map[string]*models.CartLine
	order   []string
	applied *models.AppliedPromo

	registry PromoRegistry
	orders   OrderSubmitter
	log      *logger.Logger
	now      func() time.Time
}

// NewCheckout создаёт пустую корзину. now == nil означает time.Now.
func NewCheckout(registry PromoRegistry, orders OrderSubmitter, log *logger.Logger, now func() time.Time) *Checkout {
	if now == nil {
		now = time.Now
	}
	return &Checkout{
		lines:    make(map[string]*models.CartLine),
		registry: registry,
		orders:   orders,
		log:      log,
		now:      now,
	}
}

// AddItem добавляет quantity единиц товара; повторное добавление увеличивает количество и обновляет снимок товара.
func (c *Checkout) AddItem(product models.Product, quantity int) error {
	if strings.TrimSpace(product.ID) == "" {
		return apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, "product id is required", nil)
	}
	if product.Price < 0 {
		return apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, "product price cannot be negative", nil)
	}
	if quantity <= 0 {
		return apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, "quantity must be positive", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if line, ok := c.lines[product.ID]; ok {
		line.Product = product
		line.Quantity += quantity
		return nil
	}
	c.lines[product.ID] = &models.CartLine{Product: product, Quantity: quantity}
	c.order = append(c.order, product.ID)
	return nil
}

// Increment увеличивает количество на единицу.
func (c *Checkout) Increment(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[productID]
	if !ok {
		return errLineNotFound(productID)
	}
	line.Quantity++
	return nil
}

// Decrement уменьшает количество на единицу; позиция с нулевым количеством удаляется.
func (c *Checkout) Decrement(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[productID]
	if !ok {
		return errLineNotFound(productID)
	}
	c.setQuantityLocked(productID, line.Quantity-1)
	return nil
}

// SetQuantity задаёт количество; quantity <= 0 удаляет позицию.
func (c *Checkout) SetQuantity(productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[productID]; !ok {
		return errLineNotFound(productID)
	}
	c.setQuantityLocked(productID, quantity)
	return nil
}

// RemoveItem удаляет позицию. Возвращает false, если её не было.
func (c *Checkout) RemoveItem(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[productID]; !ok {
		return false
	}
	c.removeLocked(productID)
	return true
}

func (c *Checkout) setQuantityLocked(productID string, quantity int) {
	if quantity <= 0 {
		c.removeLocked(productID)
		return
	}
	c.lines[productID].Quantity = quantity
}

func (c *Checkout) removeLocked(productID string) {
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Items возвращает копию позиций в порядке добавления.
func (c *Checkout) Items() []models.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemsLocked()
}

func (c *Checkout) itemsLocked() []models.CartLine {
	items := make([]models.CartLine, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, *c.lines[id])
	}
	return items
}

// Count возвращает сумму количеств по всем позициям.
func (c *Checkout) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return count
}

// Totals пересчитывает подытог, скидку и итог из текущих позиций и промокода.
func (c *Checkout) Totals() models.CartTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pricing.CartTotals(c.itemsLocked(), c.applied)
}

// AppliedPromo возвращает копию применённого промокода или nil.
func (c *Checkout) AppliedPromo() *models.AppliedPromo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyPromo(c.applied)
}

// ApplyPromo проверяет код в реестре и при успехе заменяет применённый промокод.
// При отказе, ошибке транспорта или отмене ctx состояние корзины не меняется.
func (c *Checkout) ApplyPromo(ctx context.Context, code string) (*models.AppliedPromo, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, "promo code is required", nil)
	}

	result, err := c.registry.ValidatePromoCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, rejection(result)
	}

	promo := &models.AppliedPromo{Code: result.Code, DiscountPercent: result.DiscountPercent}

	c.mu.Lock()
	c.applied = promo
	c.mu.Unlock()

	c.log.WithField("code", promo.Code).WithField("discount_percent", promo.DiscountPercent).Debug("Promo code applied")
	return copyPromo(promo), nil
}

// RemovePromo снимает применённый промокод.
func (c *Checkout) RemovePromo() {
	c.mu.Lock()
	c.applied = nil
	c.mu.Unlock()
}

// Clear очищает позиции и промокод.
func (c *Checkout) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Checkout) clearLocked() {
	c.lines = make(map[string]*models.CartLine)
	c.order = nil
	c.applied = nil
}

// Checkout оформляет заказ в два шага: сохраняет снимок корзины, затем best-effort погашает промокод.
// Ошибка погашения логируется и попадает в RedeemErr, заказ при этом не откатывается.
// Ошибка создания заказа оставляет корзину нетронутой.
func (c *Checkout) Checkout(ctx context.Context, userID string) (*CheckoutResult, error) {
	c.mu.Lock()
	items := c.itemsLocked()
	promo := copyPromo(c.applied)
	c.mu.Unlock()

	if len(items) == 0 {
		return nil, apperror.WithCode(apperror.KindValidation, apperror.CodeInvalidInput, "cart is empty", nil)
	}

	req := &models.CreateOrderRequest{
		UserID:    userID,
		Items:     make([]models.CreateOrderItemRequest, 0, len(items)),
		PromoCode: promo,
	}
	for _, line := range items {
		req.Items = append(req.Items, models.CreateOrderItemRequest{
			ProductID: line.Product.ID,
			Title:     line.Product.Title,
			SKU:       line.Product.SKU,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
		})
	}

	order, err := c.orders.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{Order: order}
	if promo != nil {
		redemption, err := c.registry.RedeemPromoCode(ctx, promo.Code)
		if err != nil {
			c.log.WithError(err).WithFields(map[string]interface{}{
				"code":     promo.Code,
				"order_id": order.ID,
				"reason":   apperror.CodeOf(err),
			}).Warn("Promo redemption failed after order was placed")
			result.RedeemErr = err
		}
		result.Redemption = redemption
	}

	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()

	result.CompletedAt = c.now()
	c.log.WithField("order_id", order.ID).WithField("total", order.Total).Info("Checkout completed")
	return result, nil
}

func copyPromo(p *models.AppliedPromo) *models.AppliedPromo {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func errLineNotFound(productID string) error {
	return apperror.WithCode(apperror.KindNotFound, apperror.CodeNotFound, "product "+productID+" is not in the cart", nil)
}

// rejection превращает отрицательный результат проверки в типизированную ошибку с причиной.
func rejection(v *models.PromoValidation) error {
	kind := apperror.KindValidation
	if v.Reason == apperror.CodeNotFound {
		kind = apperror.KindNotFound
	}
	msg := v.Message
	if msg == "" {
		msg = "promo code " + v.Code + " is not valid: " + string(v.Reason)
	}
	return apperror.WithCode(kind, v.Reason, msg, nil)
}
