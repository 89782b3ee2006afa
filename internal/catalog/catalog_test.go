// ABOUTME: Tests for the product catalog
// ABOUTME: Covers lookups, ordering and the default product set

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/densematrix/imageforge/internal/config"
)

func TestCatalog_Get(t *testing.T) {
	cat := New(config.DefaultProducts())

	product, err := cat.Get("starter_10")
	require.NoError(t, err)
	assert.Equal(t, "Starter Pack", product.Name)
	assert.Equal(t, 299, product.PriceCents)
	assert.Equal(t, 10, product.Generations)
}

func TestCatalog_Get_Unknown(t *testing.T) {
	cat := New(config.DefaultProducts())

	_, err := cat.Get("mega_9000")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestCatalog_List_PreservesOrder(t *testing.T) {
	cat := New([]config.ProductConfig{
		{SKU: "b", Name: "B", PriceCents: 200, Generations: 2},
		{SKU: "a", Name: "A", PriceCents: 100, Generations: 1},
	})

	products := cat.List()
	require.Len(t, products, 2)
	assert.Equal(t, "b", products[0].SKU)
	assert.Equal(t, "a", products[1].SKU)
}

func TestCatalog_List_ReturnsCopy(t *testing.T) {
	cat := New(config.DefaultProducts())

	list := cat.List()
	list[0].PriceCents = 1

	fresh, err := cat.Get(list[0].SKU)
	require.NoError(t, err)
	assert.NotEqual(t, 1, fresh.PriceCents)
}
