package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func writeSeed(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeed_JSON(t *testing.T) {
	path := writeSeed(t, "catalog.json", `{
		"vendors": [{"id": "vendor-b", "preferred_operator": "ORANGE", "orange_phone": "690000002"}],
		"products": [{"id": "p-b", "vendor_id": "vendor-b", "stock": 2, "base_price_minor": 20000, "sale_price_minor": 22000}]
	}`)

	seed, err := loadSeed(path)
	require.NoError(t, err)

	store := memory.NewStore()
	seed.apply(store)

	vendor, err := memory.NewVendorRepository(store).Get(context.Background(), "vendor-b")
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorOrange, vendor.PreferredOperator)

	product, err := memory.NewProductRepository(store).Get(context.Background(), "p-b")
	require.NoError(t, err)
	assert.Equal(t, int64(22000), product.SalePriceMinor)
}

func TestLoadSeed_UnknownVendor(t *testing.T) {
	path := writeSeed(t, "catalog.yaml", `
vendors:
  - id: vendor-a
products:
  - id: p-x
    vendor_id: ghost
`)

	_, err := loadSeed(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vendor")
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := loadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
