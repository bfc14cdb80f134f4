// Package main provides demo-data seeding for MerchPulse.
//
// It populates one tenant with a spread of customers and orders wide
// enough to light up every RFM segment and churn band, then recomputes
// the per-customer aggregates. Safe to re-run: everything is keyed by
// deterministic external ids.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/infrastructure"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// demoTenantID is fixed so repeated runs target the same tenant.
var demoTenantID = uuid.MustParse("00000000-0000-0000-0000-00000000d3a0")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	customerCount := flag.Int("customers", 200, "number of demo customers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	customers := repository.NewCustomerRepository(db.Pool)
	orders := repository.NewOrderRepository(db.Pool)

	logger.Info("Seeding demo data",
		zap.String("tenant_id", demoTenantID.String()),
		zap.Int("customers", *customerCount),
	)

	rng := rand.New(rand.NewSource(42))
	now := time.Now().UTC()
	seededOrders := 0

	for i := 0; i < *customerCount; i++ {
		externalID := fmt.Sprintf("demo-customer-%04d", i)
		firstSeen := now.AddDate(0, 0, -rng.Intn(720)-30)

		customer := &domain.Customer{
			ID:              uuid.New(),
			TenantID:        demoTenantID,
			ExternalID:      externalID,
			Email:           fmt.Sprintf("customer%04d@example.com", i),
			FirstName:       fmt.Sprintf("Demo%04d", i),
			LastName:        "Customer",
			SourceCreatedAt: firstSeen,
			SourceUpdatedAt: now,
		}
		if _, err := customers.Upsert(ctx, customer); err != nil {
			return fmt.Errorf("seed customer %s: %w", externalID, err)
		}

		// Order history shape drives the segment spread: a few heavy
		// repeat buyers, a long tail of one-time and lapsed customers.
		orderCount := rng.Intn(8)
		if i%10 == 0 {
			orderCount += 8
		}
		historyDays := int(now.Sub(firstSeen).Hours()/24) + 1
		for j := 0; j < orderCount; j++ {
			placedAt := firstSeen.AddDate(0, 0, rng.Intn(historyDays))
			order := &domain.Order{
				ID:                 uuid.New(),
				TenantID:           demoTenantID,
				ExternalID:         fmt.Sprintf("%s-order-%02d", externalID, j),
				CustomerID:         &customer.ID,
				CustomerExternalID: externalID,
				TotalPrice:         decimal.NewFromInt(int64(rng.Intn(380) + 20)),
				FinancialStatus:    domain.FinancialPaid,
				OrderDate:          placedAt,
				SourceUpdatedAt:    placedAt,
			}
			if _, err := orders.Upsert(ctx, order); err != nil {
				return fmt.Errorf("seed order %s: %w", order.ExternalID, err)
			}
			seededOrders++
		}
	}

	touched, err := customers.RecomputeOrderStats(ctx, demoTenantID)
	if err != nil {
		return fmt.Errorf("recompute order stats: %w", err)
	}

	logger.Info("Demo data seeded",
		zap.Int("customers", *customerCount),
		zap.Int("orders", seededOrders),
		zap.Int64("customers_with_stats", touched),
	)
	return nil
}
