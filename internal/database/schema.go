package database

import (
	"context"
	"fmt"
)

// Нормализованная уникальность кода обеспечивается первичным ключом и CHECK на уровне хранилища.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS promo_codes (
		code             TEXT PRIMARY KEY CHECK (code <> '' AND code = upper(btrim(code))),
		discount_percent NUMERIC(5,2) NOT NULL CHECK (discount_percent >= 0 AND discount_percent <= 100),
		description      TEXT NOT NULL CHECK (description <> ''),
		expires_at       TIMESTAMPTZ NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		usage_limit      INTEGER CHECK (usage_limit IS NULL OR usage_limit > 0),
		usage_count      INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_promo_codes_created_at ON promo_codes (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             UUID PRIMARY KEY,
		user_id        TEXT NOT NULL DEFAULT '',
		subtotal       NUMERIC(12,2) NOT NULL,
		shipping       NUMERIC(12,2) NOT NULL DEFAULT 0,
		taxes          NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount       NUMERIC(12,2) NOT NULL DEFAULT 0,
		promo_code     TEXT,
		promo_percent  NUMERIC(5,2),
		total          NUMERIC(12,2) NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id          UUID PRIMARY KEY,
		order_id    UUID NOT NULL REFERENCES orders(id),
		product_id  TEXT NOT NULL,
		title       TEXT NOT NULL,
		sku         TEXT NOT NULL DEFAULT '',
		quantity    INTEGER NOT NULL CHECK (quantity > 0),
		unit_price  NUMERIC(12,2) NOT NULL,
		total_price NUMERIC(12,2) NOT NULL
	)`,
}

// Migrate создает таблицы, если их нет
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	if db.log != nil {
		db.log.WithField("statements", len(schemaStatements)).Info("Database schema is up to date")
	}
	return nil
}
