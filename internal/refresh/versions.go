package refresh

import (
	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
)

// CatalogVersion is the content-addressed version an imported entity would
// be stored under.
type CatalogVersion struct {
	Type    model.EntityType `json:"type"`
	ID      string           `json:"id"`
	Version uint64           `json:"version"`
}

// CatalogVersions computes the version of every entity in a self-contained
// batch, contents first, each ordered by ID. Children must be part of the
// batch; a reference outside it is a not-found error.
func CatalogVersions(batch *catalog.Batch) ([]CatalogVersion, error) {
	if batch == nil {
		batch = &catalog.Batch{}
	}
	if err := catalog.Validate(batch); err != nil {
		return nil, err
	}

	contents := NewContentMapper(nil)
	products := NewProductMapper(nil, contents)
	for _, ci := range batch.Contents {
		if err := contents.AddImportedEntity(ci); err != nil {
			return nil, err
		}
	}
	for _, pi := range batch.Products {
		if err := products.AddImportedEntity(pi); err != nil {
			return nil, err
		}
	}

	out := make([]CatalogVersion, 0, len(batch.Contents)+len(batch.Products))
	for _, id := range contents.EntityIDs() {
		c := contents.ImportedContent(id)
		out = append(out, CatalogVersion{Type: model.TypeContent, ID: id, Version: c.Version()})
	}
	for _, id := range products.EntityIDs() {
		p, err := products.ImportedProduct(id)
		if err != nil {
			return nil, err
		}
		out = append(out, CatalogVersion{Type: model.TypeProduct, ID: id, Version: p.Version()})
	}
	return out, nil
}
