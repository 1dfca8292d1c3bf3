package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/config"
	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository/memory"
	"library-circulation-backend/internal/service"
)

func TestOpenStore_Memory(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DriverMemory}}
	store, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &memory.Store{}, store)
}

func TestNewServices_SharesStore(t *testing.T) {
	store := memory.NewStore()
	svc := NewServices(store, &config.Config{})
	ctx := context.Background()

	c, err := svc.Inventory.RegisterCopy(ctx, domain.StaffActor(1), service.CopyRegistration{
		Name: "Emma", Author: "Jane Austen", CategoryID: 1,
	})
	require.NoError(t, err)

	stock, err := svc.Catalog.StockOf(ctx, c.TitleID)
	require.NoError(t, err)
	assert.Equal(t, domain.Stock{Total: 1, Available: 1}, stock)
	assert.Equal(t, service.SystemClock, svc.Clock)
}
