// Package catalog holds the imported (upstream) representation of products
// and contents, and loads it from YAML, JSON or CUE files.
//
// A Batch is the full upstream view for one owner: entities the owner has
// that are absent from the batch are removed by refresh.
package catalog

import (
	"github.com/roach88/refresher/internal/model"
)

// Batch is one refresh's imported products and contents.
type Batch struct {
	Products []ProductInfo `json:"products,omitempty" yaml:"products,omitempty"`
	Contents []ContentInfo `json:"contents,omitempty" yaml:"contents,omitempty"`
}

// ProductInfo is an imported product. Children are referenced by business ID.
type ProductInfo struct {
	ID                  string              `json:"id" yaml:"id"`
	Name                string              `json:"name" yaml:"name"`
	Multiplier          *int64              `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Attributes          map[string]string   `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Content             []ProductContentRef `json:"content,omitempty" yaml:"content,omitempty"`
	DependentProductIDs []string            `json:"dependent_product_ids,omitempty" yaml:"dependent_product_ids,omitempty"`
	Branding            []model.Branding    `json:"branding,omitempty" yaml:"branding,omitempty"`
	DerivedProductID    string              `json:"derived_product_id,omitempty" yaml:"derived_product_id,omitempty"`
	ProvidedProductIDs  []string            `json:"provided_product_ids,omitempty" yaml:"provided_product_ids,omitempty"`
}

// ProductContentRef links an imported product to a content by ID.
type ProductContentRef struct {
	ContentID string `json:"content_id" yaml:"content_id"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled returns the enabled flag. Unset means enabled.
func (r ProductContentRef) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ContentInfo is an imported content.
type ContentInfo struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Type               string   `json:"type,omitempty" yaml:"type,omitempty"`
	Label              string   `json:"label,omitempty" yaml:"label,omitempty"`
	Vendor             string   `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	ContentURL         string   `json:"content_url,omitempty" yaml:"content_url,omitempty"`
	RequiredTags       string   `json:"required_tags,omitempty" yaml:"required_tags,omitempty"`
	ReleaseVersion     string   `json:"release_version,omitempty" yaml:"release_version,omitempty"`
	GPGURL             string   `json:"gpg_url,omitempty" yaml:"gpg_url,omitempty"`
	Arches             string   `json:"arches,omitempty" yaml:"arches,omitempty"`
	MetadataExpire     *int64   `json:"metadata_expire,omitempty" yaml:"metadata_expire,omitempty"`
	ModifiedProductIDs []string `json:"modified_product_ids,omitempty" yaml:"modified_product_ids,omitempty"`
}

// ToContent builds an unpersisted content from the imported fields.
func (ci ContentInfo) ToContent() *model.Content {
	c := model.NewContent(ci.ID, ci.Name)
	c.SetType(ci.Type)
	c.SetLabel(ci.Label)
	c.SetVendor(ci.Vendor)
	c.SetContentURL(ci.ContentURL)
	c.SetRequiredTags(ci.RequiredTags)
	c.SetReleaseVersion(ci.ReleaseVersion)
	c.SetGPGURL(ci.GPGURL)
	c.SetArches(ci.Arches)
	c.SetMetadataExpire(ci.MetadataExpire)
	c.SetModifiedProductIDs(ci.ModifiedProductIDs)
	return c
}

// ToProduct builds an unpersisted product carrying the imported scalar
// fields. Derived, provided and content children are left for the caller
// to attach once they are resolved.
func (pi ProductInfo) ToProduct() *model.Product {
	p := model.NewProduct(pi.ID, pi.Name)
	p.SetMultiplier(pi.Multiplier)
	p.SetAttributes(pi.Attributes)
	p.SetDependentProductIDs(pi.DependentProductIDs)
	p.SetBranding(pi.Branding)
	return p
}

// ChildProductIDs returns the derived then provided product IDs.
func (pi ProductInfo) ChildProductIDs() []string {
	out := make([]string, 0, len(pi.ProvidedProductIDs)+1)
	if pi.DerivedProductID != "" {
		out = append(out, pi.DerivedProductID)
	}
	return append(out, pi.ProvidedProductIDs...)
}

// ProductIndex returns the batch's products keyed by ID. Later duplicates win;
// Validate rejects duplicates.
func (b *Batch) ProductIndex() map[string]ProductInfo {
	out := make(map[string]ProductInfo, len(b.Products))
	for _, p := range b.Products {
		out[p.ID] = p
	}
	return out
}

// ContentIndex returns the batch's contents keyed by ID.
func (b *Batch) ContentIndex() map[string]ContentInfo {
	out := make(map[string]ContentInfo, len(b.Contents))
	for _, c := range b.Contents {
		out[c.ID] = c
	}
	return out
}
