// ABOUTME: Product catalog for purchasable generation packs
// ABOUTME: Immutable, config-sourced; the engine only reads it

package catalog

import (
	"errors"

	"github.com/densematrix/imageforge/internal/config"
)

// ErrUnknownProduct is returned when a SKU is not in the catalog
var ErrUnknownProduct = errors.New("unknown product")

// Product is one purchasable generation pack.
type Product struct {
	SKU             string
	Name            string
	PriceCents      int
	Generations     int
	DiscountPercent int
	StripePriceID   string
}

// Catalog holds the immutable set of purchasable products.
type Catalog struct {
	products []Product
	bySKU    map[string]Product
}

// New builds a catalog from configured products. Order is preserved for
// listing; lookups go through the SKU index.
func New(products []config.ProductConfig) *Catalog {
	c := &Catalog{
		products: make([]Product, 0, len(products)),
		bySKU:    make(map[string]Product, len(products)),
	}
	for _, p := range products {
		product := Product{
			SKU:             p.SKU,
			Name:            p.Name,
			PriceCents:      p.PriceCents,
			Generations:     p.Generations,
			DiscountPercent: p.DiscountPercent,
			StripePriceID:   p.StripePriceID,
		}
		c.products = append(c.products, product)
		c.bySKU[p.SKU] = product
	}
	return c
}

// List returns all products in configuration order.
func (c *Catalog) List() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Get looks up a product by SKU.
// Returns ErrUnknownProduct if the SKU is not in the catalog.
func (c *Catalog) Get(sku string) (Product, error) {
	p, ok := c.bySKU[sku]
	if !ok {
		return Product{}, ErrUnknownProduct
	}
	return p, nil
}
