package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"saas-billing/internal/config"
	pg "saas-billing/internal/infra/db/postgres"
	"saas-billing/internal/infra/logging"
	"saas-billing/internal/usecase"
)

// seed upserts the Free/Pro/Enterprise catalog with the configured Stripe ids
// and prints the result.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPlanRepo(pool), logger)
	refs := make(map[string]usecase.PlanExternalRefs, len(cfg.Plans))
	for id, r := range cfg.Plans {
		refs[id] = usecase.PlanExternalRefs{ProductID: r.ProductID, PriceID: r.PriceID}
	}
	plans, err := planUC.SeedDefaults(ctx, refs)
	if err != nil {
		log.Fatalf("seed plans: %v", err)
	}
	for _, p := range plans {
		price := p.ExternalPriceID
		if price == "" {
			price = "-"
		}
		fmt.Printf("  - %-10s %-12s %6d %s/%s  invoices=%d users=%d  stripe_price=%s\n",
			p.ID, p.Name, p.Price.Amount, p.Price.Currency, p.Interval,
			p.Features.MaxInvoices, p.Features.MaxUsers, price)
	}
	fmt.Println("Seeding complete.")
}
