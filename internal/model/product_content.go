package model

// ProductContent joins a product to a content with an enabled flag.
type ProductContent struct {
	Content *Content
	Enabled bool
}

// Version folds the content's version and the enabled flag.
func (pc ProductContent) Version() uint64 {
	b := NewHashBuilder(DomainProductContent)
	if pc.Content != nil {
		b.String(pc.Content.ID()).Uint64(pc.Content.Version())
	} else {
		b.String("").Uint64(0)
	}
	return b.Bool(pc.Enabled).Build()
}

// Branding is a product display name override for a given product ID.
type Branding struct {
	ProductID string `json:"product_id" yaml:"product_id"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
}

// Version folds every branding field.
func (b Branding) Version() uint64 {
	return NewHashBuilder(DomainBranding).
		String(b.ProductID).
		String(b.Name).
		String(b.Type).
		Build()
}
