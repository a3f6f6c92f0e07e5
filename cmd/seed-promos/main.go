package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/config"
	"marketmesh/internal/database"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/services"
)

// promoSeed описывает демо-промокод относительно момента запуска.
type promoSeed struct {
	Code            string
	DiscountPercent float64
	Description     string
	ValidFor        time.Duration
	UsageLimit      int
}

var demoPromos = []promoSeed{
	{Code: "WELCOME5", DiscountPercent: 5, Description: "5% off your first order", ValidFor: 7 * 24 * time.Hour, UsageLimit: 100},
	{Code: "SAVE10", DiscountPercent: 10, Description: "10% off everything", ValidFor: 3 * 24 * time.Hour, UsageLimit: 50},
	{Code: "FLASH15", DiscountPercent: 15, Description: "Flash sale: 15% off", ValidFor: 24 * time.Hour, UsageLimit: 25},
}

type promoCreator interface {
	CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error)
}

func main() {
	cfg := config.Load()
	log := logger.New(&cfg.Logger)

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.WithError(err).Error("Migration failed")
		os.Exit(1)
	}

	promoService := services.NewPromoService(db, log, nil, &cfg.Promo)
	created, skipped, err := seedPromos(ctx, promoService, demoPromos, time.Now(), log)
	if err != nil {
		log.WithError(err).Error("Seeding failed")
		os.Exit(1)
	}

	log.WithField("created", created).WithField("skipped", skipped).Info("Promo codes seeded")
}

// seedPromos создаёт промокоды; уже существующие коды пропускаются.
func seedPromos(ctx context.Context, creator promoCreator, seeds []promoSeed, now time.Time, log *logger.Logger) (created, skipped int, err error) {
	for _, seed := range seeds {
		expiresAt := now.Add(seed.ValidFor)
		limit := seed.UsageLimit

		_, err := creator.CreatePromoCode(ctx, &models.CreatePromoCodeRequest{
			Code:            seed.Code,
			DiscountPercent: seed.DiscountPercent,
			Description:     seed.Description,
			ExpiresAt:       &expiresAt,
			UsageLimit:      &limit,
		})
		switch {
		case err == nil:
			created++
		case apperror.HasCode(err, apperror.CodeDuplicateCode):
			log.WithField("promo_code", seed.Code).Info("Promo code already exists, skipping")
			skipped++
		default:
			return created, skipped, fmt.Errorf("seed %s: %w", seed.Code, err)
		}
	}
	return created, skipped, nil
}
