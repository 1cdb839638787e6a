package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/model"
)

func TestValidate_Valid(t *testing.T) {
	b := &Batch{
		Products: []ProductInfo{
			{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}, Content: []ProductContentRef{{ContentID: "c1"}}},
			{ID: "Y", Name: "Gadget"},
		},
		Contents: []ContentInfo{{ID: "c1", Name: "Base"}},
	}

	assert.NoError(t, Validate(b))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	b := &Batch{
		Products: []ProductInfo{
			{ID: "", Name: "Nameless id"},
			{ID: "X", Name: "  "},
			{ID: "Y", Name: "Gadget", DerivedProductID: "Y"},
			{ID: "Z", Name: "Gizmo", ProvidedProductIDs: []string{"Z", ""}},
			{ID: "Y", Name: "Again"},
			{ID: "W", Name: "W", Content: []ProductContentRef{{ContentID: ""}}},
		},
		Contents: []ContentInfo{
			{ID: "c1", Name: ""},
			{ID: " ", Name: "Blank"},
		},
	}

	err := Validate(b)
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))

	var fields []string
	for _, e := range unwrapAll(err) {
		var me *model.Error
		require.True(t, errors.As(e, &me))
		fields = append(fields, string(me.EntityType)+":"+me.EntityID+":"+me.Details["field"])
	}

	assert.ElementsMatch(t, []string{
		"content:c1:name",
		"content::id",
		"product::id",
		"product:X:name",
		"product:Y:derived_product_id",
		"product:Z:provided_product_ids",
		"product:Z:provided_product_ids",
		"product:Y:id",
		"product:W:content",
	}, fields)
}

func TestValidate_BlankDerivedProductID(t *testing.T) {
	err := Validate(&Batch{Products: []ProductInfo{{ID: "X", Name: "Widget", DerivedProductID: "  "}}})

	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
	var me *model.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "X", me.EntityID)
	assert.Equal(t, "derived_product_id", me.Details["field"])

	assert.NoError(t, Validate(&Batch{Products: []ProductInfo{{ID: "X", Name: "Widget"}}}),
		"an unset derived product is fine")
}

func TestValidate_SameIDAcrossTypesAllowed(t *testing.T) {
	b := &Batch{
		Products: []ProductInfo{{ID: "42", Name: "Product"}},
		Contents: []ContentInfo{{ID: "42", Name: "Content"}},
	}

	assert.NoError(t, Validate(b))
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
