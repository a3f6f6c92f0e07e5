package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/config"
	"marketmesh/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var promoRowColumns = []string{"code", "discount_percent", "description", "expires_at", "is_active", "usage_limit", "usage_count", "created_at", "updated_at"}

type recordingPromoPublisher struct {
	events []models.EventType
	codes  []string
	err    error
}

func (p *recordingPromoPublisher) PublishPromoEvent(eventType models.EventType, promo *models.PromoCode) error {
	p.events = append(p.events, eventType)
	p.codes = append(p.codes, promo.Code)
	return p.err
}

func newTestPromoService(t *testing.T, now time.Time) (*PromoService, sqlmock.Sqlmock, *recordingPromoPublisher) {
	t.Helper()
	db, mock := newMockDB(t)
	t.Cleanup(func() { _ = db.Close() })

	events := &recordingPromoPublisher{}
	service := NewPromoService(db, newTestLogger(), events, &config.PromoConfig{MaxCodeLength: 16})
	service.now = func() time.Time { return now }
	return service, mock, events
}

func TestPromoService_CreatePromoCode(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, events := newTestPromoService(t, now)

	expires := now.Add(72 * time.Hour)
	limit := 50

	mock.ExpectExec("INSERT INTO promo_codes").
		WithArgs("SAVE10", 10.0, "10% off", expires, true, limit, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	promo, err := service.CreatePromoCode(context.Background(), &models.CreatePromoCodeRequest{
		Code:            "  save10 ",
		DiscountPercent: 10,
		Description:     " 10% off ",
		ExpiresAt:       &expires,
		UsageLimit:      &limit,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if promo.Code != "SAVE10" || !promo.IsActive || promo.UsageCount != 0 || promo.Description != "10% off" {
		t.Fatalf("unexpected promo: %+v", promo)
	}
	if len(events.events) != 1 || events.events[0] != models.EventTypePromoCreated {
		t.Fatalf("expected promo.created event, got %v", events.events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_CreatePromoCode_Duplicate(t *testing.T) {
	now := time.Now()
	service, mock, events := newTestPromoService(t, now)
	expires := now.Add(time.Hour)

	mock.ExpectExec("INSERT INTO promo_codes").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := service.CreatePromoCode(context.Background(), &models.CreatePromoCodeRequest{
		Code:            "save10",
		DiscountPercent: 10,
		Description:     "dup",
		ExpiresAt:       &expires,
	})
	if !apperror.Is(err, apperror.KindConflict) || !apperror.HasCode(err, apperror.CodeDuplicateCode) {
		t.Fatalf("expected duplicate_code conflict, got %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestPromoService_CreatePromoCode_InvalidPayload(t *testing.T) {
	service, _, _ := newTestPromoService(t, time.Now())
	expires := time.Now().Add(time.Hour)
	zero := 0

	cases := map[string]*models.CreatePromoCodeRequest{
		"nil request":      nil,
		"blank code":       {Code: "   ", DiscountPercent: 5, Description: "d", ExpiresAt: &expires},
		"code too long":    {Code: "ABCDEFGHIJKLMNOPQ", DiscountPercent: 5, Description: "d", ExpiresAt: &expires},
		"percent above":    {Code: "X", DiscountPercent: 150, Description: "d", ExpiresAt: &expires},
		"percent negative": {Code: "X", DiscountPercent: -1, Description: "d", ExpiresAt: &expires},
		"blank desc":       {Code: "X", DiscountPercent: 5, Description: " ", ExpiresAt: &expires},
		"missing expiry":   {Code: "X", DiscountPercent: 5, Description: "d"},
		"zero limit":       {Code: "X", DiscountPercent: 5, Description: "d", ExpiresAt: &expires, UsageLimit: &zero},
	}

	for name, req := range cases {
		_, err := service.CreatePromoCode(context.Background(), req)
		if !apperror.Is(err, apperror.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestPromoService_GetPromoCode_Normalizes(t *testing.T) {
	now := time.Now()
	service, mock, _ := newTestPromoService(t, now)

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("WELCOME5").
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("WELCOME5", 5.0, "Welcome", now.Add(time.Hour), true, nil, 3, now, now))

	promo, err := service.GetPromoCode(context.Background(), " welcome5")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if promo.UsageLimit != nil || promo.UsageCount != 3 {
		t.Fatalf("unexpected promo: %+v", promo)
	}
}

func TestPromoService_GetPromoCode_NotFound(t *testing.T) {
	service, mock, _ := newTestPromoService(t, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("MISS").
		WillReturnError(sql.ErrNoRows)

	_, err := service.GetPromoCode(context.Background(), "miss")
	if !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestPromoService_ValidatePromoCode(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, _ := newTestPromoService(t, now)

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("FLASH15").
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("FLASH15", 15.0, "Flash", now.Add(time.Hour), true, 25, 24, now, now))

	res, err := service.ValidatePromoCode(context.Background(), "flash15")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !res.Valid || res.DiscountPercent != 15 || res.Description != "Flash" {
		t.Fatalf("expected valid result, got %+v", res)
	}

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("FLASH15").
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("FLASH15", 15.0, "Flash", now.Add(time.Hour), true, 25, 25, now, now))

	res, err = service.ValidatePromoCode(context.Background(), "FLASH15")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if res.Valid || res.Reason != apperror.CodeUsageExceeded {
		t.Fatalf("expected usage_exceeded, got %+v", res)
	}

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("GHOST").
		WillReturnError(sql.ErrNoRows)

	res, err = service.ValidatePromoCode(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if res.Valid || res.Reason != apperror.CodeNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_ValidatePromoCode_Errors(t *testing.T) {
	service, mock, _ := newTestPromoService(t, time.Now())

	if _, err := service.ValidatePromoCode(context.Background(), "  "); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for blank code, got %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WillReturnError(errors.New("connection reset"))

	if _, err := service.ValidatePromoCode(context.Background(), "X"); err == nil || apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestPromoService_RedeemPromoCode(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, events := newTestPromoService(t, now)

	mock.ExpectQuery(`UPDATE promo_codes SET usage_count = usage_count \+ 1(.+)WHERE code = \$1 AND is_active AND expires_at >= \$2 AND \(usage_limit IS NULL OR usage_count < usage_limit\) RETURNING`).
		WithArgs("SAVE10", now).
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("SAVE10", 10.0, "Save", now.Add(time.Hour), true, 50, 7, now, now))

	promo, err := service.RedeemPromoCode(context.Background(), " save10 ")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if promo.UsageCount != 7 || promo.UsageLimit == nil || *promo.UsageLimit != 50 {
		t.Fatalf("unexpected promo: %+v", promo)
	}
	if len(events.events) != 1 || events.events[0] != models.EventTypePromoRedeemed {
		t.Fatalf("expected promo.redeemed event, got %v", events.events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_RedeemPromoCode_NoLongerValid(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, events := newTestPromoService(t, now)

	mock.ExpectQuery("UPDATE promo_codes SET usage_count").
		WithArgs("FLASH15", now).
		WillReturnRows(sqlmock.NewRows(promoRowColumns))
	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("FLASH15").
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("FLASH15", 15.0, "Flash", now.Add(time.Hour), true, 25, 25, now, now))

	_, err := service.RedeemPromoCode(context.Background(), "FLASH15")
	if !apperror.HasCode(err, apperror.CodeNoLongerValid) {
		t.Fatalf("expected no_longer_valid, got %v", err)
	}
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("no event expected for failed redemption")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_RedeemPromoCode_NotFound(t *testing.T) {
	now := time.Now()
	service, mock, _ := newTestPromoService(t, now)

	mock.ExpectQuery("UPDATE promo_codes SET usage_count").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := service.RedeemPromoCode(context.Background(), "nope")
	if !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestPromoService_RedeemPromoCode_StorageError(t *testing.T) {
	service, mock, _ := newTestPromoService(t, time.Now())

	mock.ExpectQuery("UPDATE promo_codes SET usage_count").
		WillReturnError(errors.New("deadlock"))

	_, err := service.RedeemPromoCode(context.Background(), "X")
	if err == nil || apperror.CodeOf(err) != "" {
		t.Fatalf("expected plain storage error, got %v", err)
	}
}

func TestPromoService_UpdateDeactivateAndList(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, events := newTestPromoService(t, now)
	expires := now.Add(24 * time.Hour)

	mock.ExpectExec("UPDATE promo_codes SET discount_percent").
		WithArgs(20.0, "Bigger", expires, nil, true, now, "SAVE10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM promo_codes WHERE code").
		WithArgs("SAVE10").
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("SAVE10", 20.0, "Bigger", expires, true, nil, 4, now, now))

	updated, err := service.UpdatePromoCode(context.Background(), "save10", &models.UpdatePromoCodeRequest{
		DiscountPercent: 20,
		Description:     "Bigger",
		ExpiresAt:       &expires,
		IsActive:        true,
	})
	if err != nil || updated.DiscountPercent != 20 || updated.UsageCount != 4 {
		t.Fatalf("update failed: %v %+v", err, updated)
	}

	mock.ExpectExec("UPDATE promo_codes SET is_active = FALSE").
		WithArgs(now, "SAVE10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := service.DeactivatePromoCode(context.Background(), "save10"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM promo_codes ORDER BY created_at DESC").
		WithArgs(16, 0).
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("B", 10.0, "b", expires, true, nil, 0, now, now).
			AddRow("A", 5.0, "a", expires, false, 3, 3, now.Add(-time.Hour), now))
	service.cfg.MaxListLimit = 16
	list, err := service.ListPromoCodes(context.Background(), 500, -3)
	if err != nil || len(list) != 2 {
		t.Fatalf("list failed: %v len=%d", err, len(list))
	}

	want := []models.EventType{models.EventTypePromoUpdated, models.EventTypePromoDeactivated}
	if len(events.events) != len(want) || events.events[0] != want[0] || events.events[1] != want[1] {
		t.Fatalf("unexpected events: %v", events.events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_UpdateAndDeactivate_NotFound(t *testing.T) {
	service, mock, _ := newTestPromoService(t, time.Now())
	expires := time.Now().Add(time.Hour)

	mock.ExpectExec("UPDATE promo_codes SET discount_percent").
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := service.UpdatePromoCode(context.Background(), "MISS", &models.UpdatePromoCodeRequest{
		DiscountPercent: 10, Description: "x", ExpiresAt: &expires, IsActive: true,
	})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectExec("UPDATE promo_codes SET is_active = FALSE").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected error")))
	if err := service.DeactivatePromoCode(context.Background(), "X"); err == nil {
		t.Fatalf("expected rows affected error")
	}

	mock.ExpectExec("UPDATE promo_codes SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := service.DeactivatePromoCode(context.Background(), "MISS"); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromoService_ListActivePromoCodes(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	service, mock, _ := newTestPromoService(t, now)

	mock.ExpectQuery(`WHERE is_active AND expires_at >= \$1 AND \(usage_limit IS NULL OR usage_count < usage_limit\)\s+ORDER BY created_at DESC`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(promoRowColumns).
			AddRow("FLASH15", 15.0, "f", now.Add(time.Hour), true, 25, 0, now, now).
			AddRow("SAVE10", 10.0, "s", now.Add(2*time.Hour), true, 50, 1, now.Add(-time.Hour), now))

	list, err := service.ListActivePromoCodes(context.Background())
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(list) != 2 || list[0].Code != "FLASH15" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoService_PublishFailureIsLogged(t *testing.T) {
	now := time.Now()
	service, mock, events := newTestPromoService(t, now)
	events.err = errors.New("broker down")
	expires := now.Add(time.Hour)

	mock.ExpectExec("INSERT INTO promo_codes").WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := service.CreatePromoCode(context.Background(), &models.CreatePromoCodeRequest{
		Code: "OK", DiscountPercent: 1, Description: "d", ExpiresAt: &expires,
	}); err != nil {
		t.Fatalf("publish failure must not fail create: %v", err)
	}
}
