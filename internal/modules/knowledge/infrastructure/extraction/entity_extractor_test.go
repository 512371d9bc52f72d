package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProductsArray(t *testing.T) {
	products, ok := ParseProducts(`[{"sku":"A1","title":"red shoes","price":10,"brand":"X"}]`)
	require.True(t, ok)
	require.Len(t, products, 1)
	assert.Equal(t, "A1", products[0].SKU)
	assert.Equal(t, "red shoes", products[0].Title)
	assert.Equal(t, 10.0, products[0].Price)
}

func TestParseProductsWrapped(t *testing.T) {
	products, ok := ParseProducts(`{"products":[{"sku":"B2","title":"boots"},{"title":"socks"}]}`)
	require.True(t, ok)
	assert.Len(t, products, 2)
}

func TestParseProductsRejectsNonCatalog(t *testing.T) {
	cases := []string{
		"",
		"plain text about shoes",
		`{"foo": "bar"}`,
		`[{"price": 10}]`,
		`[]`,
		`[not json`,
	}
	for _, c := range cases {
		_, ok := ParseProducts(c)
		assert.False(t, ok, "input %q", c)
	}
}

func TestFromProductTriples(t *testing.T) {
	e := NewEntityExtractor()
	triples := e.FromProduct(ProductDoc{
		SKU: "A1", Title: "red running shoes",
		Brand: "X", Category: "footwear", Tags: []string{"running", " ", "red"},
	})
	require.Len(t, triples, 4)

	assert.Equal(t, "red running shoes", triples[0].Head)
	assert.Equal(t, RelationHasBrand, triples[0].Relation)
	assert.Equal(t, "X", triples[0].Tail)
	assert.Equal(t, 1.0, triples[0].Weight)

	assert.Equal(t, RelationInCategory, triples[1].Relation)
	assert.Equal(t, "footwear", triples[1].Tail)

	assert.Equal(t, RelationHasTag, triples[2].Relation)
	assert.Equal(t, RelationHasTag, triples[3].Relation)
}

func TestFromProductFallsBackToSKU(t *testing.T) {
	e := NewEntityExtractor()
	triples := e.FromProduct(ProductDoc{SKU: "A1", Brand: "X"})
	require.Len(t, triples, 1)
	assert.Equal(t, "A1", triples[0].Head)
}

func TestFromTextTripleLines(t *testing.T) {
	e := NewEntityExtractor()
	triples := e.FromText("red shoes|HAS_TAG|running|0.7\nred shoes|IN_CATEGORY|footwear")
	require.Len(t, triples, 2)
	assert.Equal(t, "red shoes", triples[0].Head)
	assert.Equal(t, "HAS_TAG", triples[0].Relation)
	assert.Equal(t, "running", triples[0].Tail)
	assert.Equal(t, 0.7, triples[0].Weight)
	assert.Equal(t, 1.0, triples[1].Weight)
}

func TestFromTextAttributeMentions(t *testing.T) {
	e := NewEntityExtractor()
	triples := e.FromText("Alpine trail boots, made by brand: Summit for category: footwear enthusiasts.")
	require.Len(t, triples, 2)
	assert.Equal(t, "Alpine trail boots", triples[0].Head)
	assert.Equal(t, RelationHasBrand, triples[0].Relation)
	assert.Equal(t, "Summit", triples[0].Tail)
	assert.Equal(t, RelationInCategory, triples[1].Relation)
}

func TestFromTextIgnoresProse(t *testing.T) {
	e := NewEntityExtractor()
	assert.Empty(t, e.FromText("These shoes are comfortable and affordable."))
}
