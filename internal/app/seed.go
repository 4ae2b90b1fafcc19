package app

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

// catalogSeed — продавцы и товары для in-memory хранилища (демо и локальный запуск).
type catalogSeed struct {
	Vendors  []seedVendor  `mapstructure:"vendors"`
	Products []seedProduct `mapstructure:"products"`
}

type seedVendor struct {
	ID                string `mapstructure:"id"`
	Name              string `mapstructure:"name"`
	Email             string `mapstructure:"email"`
	PreferredOperator string `mapstructure:"preferred_operator"`
	MTNPhone          string `mapstructure:"mtn_phone"`
	OrangePhone       string `mapstructure:"orange_phone"`
}

type seedProduct struct {
	ID             string `mapstructure:"id"`
	VendorID       string `mapstructure:"vendor_id"`
	Name           string `mapstructure:"name"`
	Stock          int    `mapstructure:"stock"`
	BasePriceMinor int64  `mapstructure:"base_price_minor"`
	SalePriceMinor int64  `mapstructure:"sale_price_minor"`
}

// loadSeed читает файл каталога (yaml или json по расширению).
func loadSeed(path string) (catalogSeed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return catalogSeed{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed catalogSeed
	if err := v.Unmarshal(&seed); err != nil {
		return catalogSeed{}, fmt.Errorf("decode seed file: %w", err)
	}
	return seed, seed.validate()
}

func (s catalogSeed) validate() error {
	vendors := make(map[string]struct{}, len(s.Vendors))
	for _, v := range s.Vendors {
		if v.ID == "" {
			return errors.New("seed vendor without id")
		}
		vendors[v.ID] = struct{}{}
	}
	for _, p := range s.Products {
		if p.ID == "" {
			return errors.New("seed product without id")
		}
		if _, ok := vendors[p.VendorID]; !ok {
			return fmt.Errorf("seed product %s references unknown vendor %q", p.ID, p.VendorID)
		}
	}
	return nil
}

func (s catalogSeed) apply(store *memory.Store) {
	for _, v := range s.Vendors {
		store.PutVendor(domain.Vendor{
			ID:                v.ID,
			Name:              v.Name,
			Email:             v.Email,
			PreferredOperator: domain.Operator(v.PreferredOperator),
			MTNPhone:          v.MTNPhone,
			OrangePhone:       v.OrangePhone,
		})
	}
	for _, p := range s.Products {
		store.PutProduct(domain.Product{
			ID:             p.ID,
			VendorID:       p.VendorID,
			Name:           p.Name,
			Stock:          p.Stock,
			BasePriceMinor: p.BasePriceMinor,
			SalePriceMinor: p.SalePriceMinor,
		})
	}
}
