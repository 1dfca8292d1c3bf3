// Package app wires configuration, store and services for the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"library-circulation-backend/internal/config"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
	"library-circulation-backend/internal/repository/memory"
	"library-circulation-backend/internal/repository/postgres"
	"library-circulation-backend/internal/service"
)

// Services is every engine service built over one store.
type Services struct {
	Catalog      service.CatalogService
	Availability service.AvailabilityService
	Loans        service.LoanService
	Sanctions    service.SanctionService
	Inventory    service.InventoryService
	Patrons      service.PatronService
	Notifier     service.NotificationService
	Clock        service.Clock
}

// OpenStore connects to the configured store. For postgres it pings the
// database and applies the schema when migrate is enabled.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	store := postgres.NewStore(db)
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		logger.Info("Database schema applied")
	}
	return store, nil
}

// NewServices builds the services over store.
func NewServices(store repository.Store, cfg *config.Config) *Services {
	clock := service.SystemClock
	notifier := service.NewEmailService(cfg.Email.SendGridAPIKey, cfg.Email.FromEmail, cfg.Email.FromName)
	sanctions := service.NewSanctionService(store, clock, notifier)
	return &Services{
		Catalog:      service.NewCatalogService(store),
		Availability: service.NewAvailabilityService(store, clock),
		Loans:        service.NewLoanService(store, clock, sanctions, notifier),
		Sanctions:    sanctions,
		Inventory:    service.NewInventoryService(store, clock),
		Patrons:      service.NewPatronService(store, clock, sanctions),
		Notifier:     notifier,
		Clock:        clock,
	}
}
