package model

import (
	"fmt"
	"sort"
	"time"
)

// Product is a versioned product definition.
//
// A product references at most one derived product, any number of provided
// products keyed by business ID, and any number of contents. The reference
// graph through derived and provided edges is kept acyclic by the setters.
//
// Children are folded into Version() by their own versions, read at call
// time. A child attached to a persisted product must not be mutated; fork it.
type Product struct {
	uuid string
	id   string
	name string

	multiplier          *int64
	attributes          map[string]string
	dependentProductIDs map[string]struct{}
	branding            map[Branding]struct{}
	productContent      map[string]ProductContent

	derived  *Product
	provided map[string]*Product

	locked  bool
	created time.Time
	updated time.Time

	// ownVersion covers the scalar fields only; child versions are folded in
	// by Version() so that a child re-versioning is never masked.
	ownVersion      uint64
	ownVersionValid bool
}

// NewProduct creates an unpersisted product with the given business ID and name.
func NewProduct(id, name string) *Product {
	return &Product{
		id:                  id,
		name:                name,
		attributes:          make(map[string]string),
		dependentProductIDs: make(map[string]struct{}),
		branding:            make(map[Branding]struct{}),
		productContent:      make(map[string]ProductContent),
		provided:            make(map[string]*Product),
	}
}

func (p *Product) EntityType() EntityType { return TypeProduct }

func (p *Product) UUID() string       { return p.uuid }
func (p *Product) ID() string         { return p.id }
func (p *Product) Name() string       { return p.name }
func (p *Product) Locked() bool       { return p.locked }
func (p *Product) Created() time.Time { return p.created }
func (p *Product) Updated() time.Time { return p.updated }

func (p *Product) SetUUID(uuid string)    { p.uuid = uuid }
func (p *Product) SetLocked(locked bool)  { p.locked = locked }
func (p *Product) SetCreated(t time.Time) { p.created = t }
func (p *Product) SetUpdated(t time.Time) { p.updated = t }

func (p *Product) SetID(id string)     { p.id = id; p.invalidate() }
func (p *Product) SetName(name string) { p.name = name; p.invalidate() }

// Multiplier returns the multiplier, or nil if unset.
func (p *Product) Multiplier() *int64 {
	if p.multiplier == nil {
		return nil
	}
	v := *p.multiplier
	return &v
}

// SetMultiplier sets the multiplier; nil clears it.
func (p *Product) SetMultiplier(m *int64) {
	if m == nil {
		p.multiplier = nil
	} else {
		v := *m
		p.multiplier = &v
	}
	p.invalidate()
}

// Attributes returns a copy of the attribute map.
func (p *Product) Attributes() map[string]string {
	out := make(map[string]string, len(p.attributes))
	for k, v := range p.attributes {
		out[k] = v
	}
	return out
}

// Attribute returns a single attribute value.
func (p *Product) Attribute(key string) (string, bool) {
	v, ok := p.attributes[key]
	return v, ok
}

// SetAttributes replaces the attribute map.
func (p *Product) SetAttributes(attrs map[string]string) {
	p.attributes = make(map[string]string, len(attrs))
	for k, v := range attrs {
		p.attributes[k] = v
	}
	p.invalidate()
}

// SetAttribute sets one attribute.
func (p *Product) SetAttribute(key, value string) {
	if cur, ok := p.attributes[key]; ok && cur == value {
		return
	}
	if p.attributes == nil {
		p.attributes = make(map[string]string)
	}
	p.attributes[key] = value
	p.invalidate()
}

// RemoveAttribute deletes one attribute and reports whether it was present.
func (p *Product) RemoveAttribute(key string) bool {
	if _, ok := p.attributes[key]; !ok {
		return false
	}
	delete(p.attributes, key)
	p.invalidate()
	return true
}

// DependentProductIDs returns the dependent product IDs in sorted order.
func (p *Product) DependentProductIDs() []string {
	ids := make([]string, 0, len(p.dependentProductIDs))
	for id := range p.dependentProductIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetDependentProductIDs replaces the dependent product ID set. Empty IDs are dropped.
func (p *Product) SetDependentProductIDs(ids []string) {
	p.dependentProductIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			p.dependentProductIDs[id] = struct{}{}
		}
	}
	p.invalidate()
}

// Branding returns the branding entries sorted by product ID, name, type.
func (p *Product) Branding() []Branding {
	out := make([]Branding, 0, len(p.branding))
	for b := range p.branding {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// SetBranding replaces the branding set. Duplicates collapse.
func (p *Product) SetBranding(branding []Branding) {
	p.branding = make(map[Branding]struct{}, len(branding))
	for _, b := range branding {
		p.branding[b] = struct{}{}
	}
	p.invalidate()
}

// ProductContent returns the product content entries sorted by content ID.
func (p *Product) ProductContent() []ProductContent {
	ids := make([]string, 0, len(p.productContent))
	for id := range p.productContent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ProductContent, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.productContent[id])
	}
	return out
}

// AddContent attaches content, replacing any entry with the same content ID.
func (p *Product) AddContent(c *Content, enabled bool) {
	if c == nil {
		return
	}
	if p.productContent == nil {
		p.productContent = make(map[string]ProductContent)
	}
	p.productContent[c.ID()] = ProductContent{Content: c, Enabled: enabled}
}

// RemoveContent detaches the content with the given ID.
func (p *Product) RemoveContent(contentID string) bool {
	if _, ok := p.productContent[contentID]; !ok {
		return false
	}
	delete(p.productContent, contentID)
	return true
}

// SetProductContent replaces all product content. Entries with a nil content are skipped.
func (p *Product) SetProductContent(pcs []ProductContent) {
	p.productContent = make(map[string]ProductContent, len(pcs))
	for _, pc := range pcs {
		if pc.Content != nil {
			p.productContent[pc.Content.ID()] = pc
		}
	}
}

// DerivedProduct returns the derived product, or nil.
func (p *Product) DerivedProduct() *Product {
	return p.derived
}

// SetDerivedProduct attaches (or, with nil, clears) the derived product.
// Returns a cycle error and leaves p unmodified if the edge would close a cycle.
func (p *Product) SetDerivedProduct(derived *Product) error {
	if derived != nil {
		if chain, cycle := WouldCycle(p, derived); cycle {
			return NewCycleError(TypeProduct, p.id, chain)
		}
	}
	p.derived = derived
	return nil
}

// ProvidedProducts returns the provided products sorted by business ID.
func (p *Product) ProvidedProducts() []*Product {
	ids := make([]string, 0, len(p.provided))
	for id := range p.provided {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.provided[id])
	}
	return out
}

// AddProvidedProduct attaches a provided product, replacing any with the same ID.
// Returns a cycle error and leaves p unmodified if the edge would close a cycle.
func (p *Product) AddProvidedProduct(provided *Product) error {
	if provided == nil {
		return nil
	}
	if chain, cycle := WouldCycle(p, provided); cycle {
		return NewCycleError(TypeProduct, p.id, chain)
	}
	if p.provided == nil {
		p.provided = make(map[string]*Product)
	}
	p.provided[provided.ID()] = provided
	return nil
}

// RemoveProvidedProduct detaches the provided product with the given ID.
func (p *Product) RemoveProvidedProduct(id string) bool {
	if _, ok := p.provided[id]; !ok {
		return false
	}
	delete(p.provided, id)
	return true
}

// SetProvidedProducts replaces the provided products. Every edge is checked
// first; on a cycle nothing is replaced.
func (p *Product) SetProvidedProducts(products []*Product) error {
	next := make(map[string]*Product, len(products))
	for _, pp := range products {
		if pp == nil {
			continue
		}
		if chain, cycle := WouldCycle(p, pp); cycle {
			return NewCycleError(TypeProduct, p.id, chain)
		}
		next[pp.ID()] = pp
	}
	p.provided = next
	return nil
}

func (p *Product) invalidate() {
	p.ownVersionValid = false
}

// Version returns the content-addressed version of this product, covering
// its scalar fields and the versions of every child. Each product reachable
// from p is hashed once per call, however many parents share it.
func (p *Product) Version() uint64 {
	return p.versionWith(make(map[*Product]uint64))
}

func (p *Product) versionWith(memo map[*Product]uint64) uint64 {
	if v, ok := memo[p]; ok {
		return v
	}
	if !p.ownVersionValid {
		p.ownVersion = NewHashBuilder(DomainProduct).
			String(p.id).
			String(p.name).
			OptionalInt64(p.multiplier).
			StringMap(p.attributes).
			Label("dependent_product_ids").
			Strings(p.DependentProductIDs()).
			Build()
		p.ownVersionValid = true
	}

	b := NewHashBuilder(DomainProduct).Uint64(p.ownVersion)

	b.Label("derived")
	if p.derived != nil {
		b.Bool(true).Uint64(p.derived.versionWith(memo))
	} else {
		b.Bool(false)
	}

	provided := make([]uint64, 0, len(p.provided))
	for _, pp := range p.provided {
		provided = append(provided, pp.versionWith(memo))
	}
	b.Label("provided").Uint64s(provided)

	content := make([]uint64, 0, len(p.productContent))
	for _, pc := range p.productContent {
		content = append(content, pc.Version())
	}
	b.Label("product_content").Uint64s(content)

	branding := make([]uint64, 0, len(p.branding))
	for br := range p.branding {
		branding = append(branding, br.Version())
	}
	b.Label("branding").Uint64s(branding)

	v := b.Build()
	memo[p] = v
	return v
}

// Fork returns an unpersisted copy with no UUID. Children are shared, not copied.
func (p *Product) Fork() *Product {
	cp := p.Clone()
	cp.uuid = ""
	cp.created = time.Time{}
	cp.updated = time.Time{}
	cp.locked = false
	return cp
}

// Clone returns a copy of p with its own collections. Children are shared.
func (p *Product) Clone() *Product {
	cp := *p
	cp.multiplier = p.Multiplier()
	cp.attributes = p.Attributes()
	cp.dependentProductIDs = make(map[string]struct{}, len(p.dependentProductIDs))
	for id := range p.dependentProductIDs {
		cp.dependentProductIDs[id] = struct{}{}
	}
	cp.branding = make(map[Branding]struct{}, len(p.branding))
	for b := range p.branding {
		cp.branding[b] = struct{}{}
	}
	cp.productContent = make(map[string]ProductContent, len(p.productContent))
	for id, pc := range p.productContent {
		cp.productContent[id] = pc
	}
	cp.provided = make(map[string]*Product, len(p.provided))
	for id, pp := range p.provided {
		cp.provided[id] = pp
	}
	return &cp
}

// children returns derived then provided products, in ID order.
func (p *Product) children() []*Product {
	out := make([]*Product, 0, len(p.provided)+1)
	if p.derived != nil {
		out = append(out, p.derived)
	}
	return append(out, p.ProvidedProducts()...)
}

func (p *Product) String() string {
	return fmt.Sprintf("Product [uuid: %s, id: %s, name: %s, version: %d]",
		p.uuid, p.id, p.name, p.Version())
}
