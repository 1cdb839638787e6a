package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
)

func TestCatalogVersions_FoldsChildren(t *testing.T) {
	versions, err := CatalogVersions(widgetBatch())
	require.NoError(t, err)
	require.Len(t, versions, 2)

	want := model.NewProduct("X", "Widget")
	require.NoError(t, want.AddProvidedProduct(model.NewProduct("Y", "Gadget")))

	assert.Equal(t, CatalogVersion{Type: model.TypeProduct, ID: "X", Version: want.Version()}, versions[0])
	assert.Equal(t, model.NewProduct("Y", "Gadget").Version(), versions[1].Version)
}

func TestCatalogVersions_OrderIndependent(t *testing.T) {
	reordered := &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "Y", Name: "Gadget"},
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
	}}

	a, err := CatalogVersions(widgetBatch())
	require.NoError(t, err)
	b, err := CatalogVersions(reordered)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCatalogVersions_ContentsFirst(t *testing.T) {
	batch := &catalog.Batch{
		Products: []catalog.ProductInfo{{ID: "OS", Name: "Base", Content: []catalog.ProductContentRef{{ContentID: "C1"}}}},
		Contents: []catalog.ContentInfo{{ID: "C1", Name: "Base OS"}},
	}

	versions, err := CatalogVersions(batch)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, model.TypeContent, versions[0].Type)
	assert.Equal(t, model.TypeProduct, versions[1].Type)
}

func TestCatalogVersions_ReferenceOutsideBatch(t *testing.T) {
	batch := &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
	}}

	_, err := CatalogVersions(batch)
	assert.True(t, model.IsNotFoundError(err))
}

func TestCatalogVersions_Cycle(t *testing.T) {
	batch := &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
		{ID: "Y", Name: "Gadget", ProvidedProductIDs: []string{"X"}},
	}}

	_, err := CatalogVersions(batch)
	assert.True(t, model.IsCycleError(err))
}
