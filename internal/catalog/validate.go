package catalog

import (
	"errors"
	"strconv"
	"strings"

	"github.com/roach88/refresher/internal/model"
)

// Validate checks every imported entity and returns all problems joined, or
// nil. It runs before any node is built: a failing batch is rejected whole.
//
// Checks:
//   - id and name are present and not blank
//   - ids are unique per entity type
//   - a product does not name itself as derived or provided product
//   - derived, provided and content references are not blank
//
// References to IDs outside the batch are not checked here; they may resolve
// to entities the owner already has.
func Validate(b *Batch) error {
	var errs []error

	seenContent := make(map[string]bool, len(b.Contents))
	for i, c := range b.Contents {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			errs = append(errs, indexed(model.NewValidationError(model.TypeContent, "", "id", "content id is required"), i))
			continue
		}
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, model.NewValidationError(model.TypeContent, c.ID, "name", "content name is required"))
		}
		if seenContent[c.ID] {
			errs = append(errs, model.NewValidationError(model.TypeContent, c.ID, "id", "duplicate content id"))
		}
		seenContent[c.ID] = true
	}

	seenProduct := make(map[string]bool, len(b.Products))
	for i, p := range b.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			errs = append(errs, indexed(model.NewValidationError(model.TypeProduct, "", "id", "product id is required"), i))
			continue
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "name", "product name is required"))
		}
		if seenProduct[p.ID] {
			errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "id", "duplicate product id"))
		}
		seenProduct[p.ID] = true

		if p.DerivedProductID == p.ID {
			errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "derived_product_id",
				"product cannot be its own derived product"))
		}
		if p.DerivedProductID != "" && strings.TrimSpace(p.DerivedProductID) == "" {
			errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "derived_product_id",
				"derived product id is blank"))
		}
		for _, child := range p.ProvidedProductIDs {
			if child == p.ID {
				errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "provided_product_ids",
					"product cannot provide itself"))
			}
			if strings.TrimSpace(child) == "" {
				errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "provided_product_ids",
					"provided product id is blank"))
			}
		}
		for _, ref := range p.Content {
			if strings.TrimSpace(ref.ContentID) == "" {
				errs = append(errs, model.NewValidationError(model.TypeProduct, p.ID, "content",
					"content reference has no content_id"))
			}
		}
	}

	return errors.Join(errs...)
}

func indexed(e *model.Error, i int) *model.Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details["index"] = strconv.Itoa(i)
	return e
}
