package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"marketmesh/internal/apperror"
	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"
	"marketmesh/internal/storefront"
)

// demoCatalog содержит товары, доступные из командной строки по SKU.
var demoCatalog = map[string]models.Product{
	"MUG-1":   {ID: "prod-mug", Title: "Ceramic mug", SKU: "MUG-1", Price: 12.50},
	"LAMP-1":  {ID: "prod-lamp", Title: "Desk lamp", SKU: "LAMP-1", Price: 49.90},
	"BAG-1":   {ID: "prod-bag", Title: "Canvas tote", SKU: "BAG-1", Price: 19.99},
	"PEN-SET": {ID: "prod-pens", Title: "Gel pen set", SKU: "PEN-SET", Price: 7.35},
}

type options struct {
	userID     string
	items      string
	promo      string
	listPromos bool
	dryRun     bool
}

// shopperAPI описывает методы API, нужные CLI.
type shopperAPI interface {
	storefront.PromoRegistry
	storefront.OrderSubmitter
	ListActivePromoCodes(ctx context.Context) ([]*models.PromoCode, error)
}

func main() {
	var opts options
	flag.StringVar(&opts.userID, "user", "demo-user", "user id for the order")
	flag.StringVar(&opts.items, "items", "MUG-1=2,LAMP-1=1", "comma separated SKU=quantity pairs")
	flag.StringVar(&opts.promo, "promo", "", "promo code to apply")
	flag.BoolVar(&opts.listPromos, "list-promos", false, "print active promo codes and exit")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "print totals without placing the order")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(&cfg.Logger)
	client := storefront.NewAPIClient(&cfg.Storefront, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, opts, client, log); err != nil {
		fmt.Fprintf(os.Stderr, "shopper: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options, api shopperAPI, log *logger.Logger) error {
	if opts.listPromos {
		promos, err := api.ListActivePromoCodes(ctx)
		if err != nil {
			return err
		}
		for _, p := range promos {
			fmt.Fprintf(out, "%-10s %5.1f%%  %s (expires %s)\n", p.Code, p.DiscountPercent, p.Description, p.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	}

	cart := storefront.NewCheckout(api, api, log, nil)
	if err := fillCart(cart, opts.items); err != nil {
		return err
	}

	if opts.promo != "" {
		applied, err := cart.ApplyPromo(ctx, opts.promo)
		if err != nil {
			reason := apperror.CodeOf(err)
			if reason == "" {
				return err
			}
			fmt.Fprintf(out, "promo %s rejected: %s (%v)\n", strings.ToUpper(strings.TrimSpace(opts.promo)), reason, err)
		} else {
			fmt.Fprintf(out, "promo %s applied: %.0f%% off\n", applied.Code, applied.DiscountPercent)
		}
	}

	printCart(out, cart)
	if opts.dryRun {
		return nil
	}

	result, err := cart.Checkout(ctx, opts.userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "order %s placed, total %.2f\n", result.Order.ID, result.Order.Total)
	if result.RedeemErr != nil {
		fmt.Fprintf(out, "warning: promo was not redeemed: %v\n", result.RedeemErr)
	}
	return nil
}

// fillCart разбирает пары SKU=количество.
func fillCart(cart *storefront.Checkout, spec string) error {
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sku, qtyStr, found := strings.Cut(pair, "=")
		qty := 1
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(qtyStr))
			if err != nil {
				return fmt.Errorf("invalid quantity in %q", pair)
			}
			qty = n
		}
		product, ok := demoCatalog[strings.ToUpper(strings.TrimSpace(sku))]
		if !ok {
			return fmt.Errorf("unknown sku %q", sku)
		}
		if err := cart.AddItem(product, qty); err != nil {
			return err
		}
	}
	return nil
}

func printCart(out io.Writer, cart *storefront.Checkout) {
	for _, line := range cart.Items() {
		fmt.Fprintf(out, "%-8s %-14s x%-3d %8.2f\n", line.Product.SKU, line.Product.Title, line.Quantity, line.Product.Price*float64(line.Quantity))
	}
	totals := cart.Totals()
	fmt.Fprintf(out, "subtotal %.2f  discount %.2f  total %.2f\n", totals.Subtotal, totals.Discount, totals.Total)
}
