package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
)

// ProductLookup finds product rows by business ID and version across owners.
type ProductLookup interface {
	GetProductsByVersion(ctx context.Context, productID string, version uint64) ([]*model.Product, error)
}

// ContentLookup finds content rows by business ID and version across owners.
type ContentLookup interface {
	GetContentsByVersion(ctx context.Context, contentID string, version uint64) ([]*model.Content, error)
}

// entityMapper holds one owner's existing entities and one batch's imported
// representations, keyed by business ID. It is safe for concurrent use.
type entityMapper[E model.Entity, I any] struct {
	typ  model.EntityType
	idOf func(*I) string

	mu       sync.RWMutex
	existing map[string]E
	imported map[string]*I
	dirty    map[string]bool
}

func newEntityMapper[E model.Entity, I any](typ model.EntityType, idOf func(*I) string) *entityMapper[E, I] {
	return &entityMapper[E, I]{
		typ:      typ,
		idOf:     idOf,
		existing: make(map[string]E),
		imported: make(map[string]*I),
		dirty:    make(map[string]bool),
	}
}

// AddExistingEntity records an entity the owner currently has. A second
// entity with the same ID but a different UUID marks the ID dirty; the
// later entity replaces the earlier one.
func (m *entityMapper[E, I]) AddExistingEntity(e E) error {
	id := e.ID()
	if id == "" {
		return fmt.Errorf("add existing %s: entity has no id", m.typ)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.existing[id]; ok && prev.UUID() != e.UUID() {
		m.dirty[id] = true
	}
	m.existing[id] = e
	return nil
}

// AddImportedEntity records an imported representation. Duplicates replace
// earlier entries and never mark the mapper dirty.
func (m *entityMapper[E, I]) AddImportedEntity(info I) error {
	id := m.idOf(&info)
	if id == "" {
		return fmt.Errorf("add imported %s: entity has no id", m.typ)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported[id] = &info
	return nil
}

// HasEntity reports whether id is existing, imported, or both.
func (m *entityMapper[E, I]) HasEntity(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.existing[id]
	if !ok {
		_, ok = m.imported[id]
	}
	return ok
}

// GetExistingEntity returns the owner's current entity for id.
func (m *entityMapper[E, I]) GetExistingEntity(id string) (E, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.existing[id]
	return e, ok
}

// GetImportedEntity returns the imported representation for id, or nil.
func (m *entityMapper[E, I]) GetImportedEntity(id string) *I {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imported[id]
}

// EntityIDs returns every known ID, existing or imported, sorted.
func (m *entityMapper[E, I]) EntityIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(m.existing)+len(m.imported))
	for id := range m.existing {
		seen[id] = struct{}{}
	}
	for id := range m.imported {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsDirty reports whether any existing ID was added with two different UUIDs.
func (m *entityMapper[E, I]) IsDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty) > 0
}

// IsDirtyID reports whether the given existing ID was added with two different UUIDs.
func (m *entityMapper[E, I]) IsDirtyID(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty[id]
}

// ContainsOnlyExistingEntityIDs reports whether every existing ID is in ids.
func (m *entityMapper[E, I]) ContainsOnlyExistingEntityIDs(ids []string) bool {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id := range m.existing {
		if _, ok := allowed[id]; !ok {
			return false
		}
	}
	return true
}

// ClearExistingEntities drops existing entities and dirty flags.
func (m *entityMapper[E, I]) ClearExistingEntities() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existing = make(map[string]E)
	m.dirty = make(map[string]bool)
}

// Clear drops everything.
func (m *entityMapper[E, I]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existing = make(map[string]E)
	m.imported = make(map[string]*I)
	m.dirty = make(map[string]bool)
}

// ContentMapper maps content IDs for one owner and one refresh.
type ContentMapper struct {
	*entityMapper[*model.Content, catalog.ContentInfo]
	lookup ContentLookup

	memoMu sync.Mutex
	memo   map[string]*model.Content
}

// NewContentMapper returns an empty content mapper backed by lookup.
func NewContentMapper(lookup ContentLookup) *ContentMapper {
	return &ContentMapper{
		entityMapper: newEntityMapper[*model.Content](model.TypeContent,
			func(ci *catalog.ContentInfo) string { return ci.ID }),
		lookup: lookup,
		memo:   make(map[string]*model.Content),
	}
}

// ImportedContent returns the unpersisted content the import for id
// describes, or nil if id is not imported. The same instance is returned on
// every call.
func (m *ContentMapper) ImportedContent(id string) *model.Content {
	info := m.GetImportedEntity(id)
	if info == nil {
		return nil
	}

	m.memoMu.Lock()
	defer m.memoMu.Unlock()
	if c, ok := m.memo[id]; ok {
		return c
	}
	c := info.ToContent()
	c.Version() // fill the cache before the instance is shared
	m.memo[id] = c
	return c
}

// ResolveContent returns the content a product edge to id resolves to: the
// import if present, otherwise the owner's existing content.
func (m *ContentMapper) ResolveContent(id string) (*model.Content, error) {
	if c := m.ImportedContent(id); c != nil {
		return c, nil
	}
	if c, ok := m.GetExistingEntity(id); ok {
		return c, nil
	}
	return nil, model.NewNotFoundError(model.TypeContent, id)
}

// GetCandidateEntities returns every stored content, under any owner, whose
// version equals the version the import for id hashes to. IDs that are not
// imported have no candidates.
func (m *ContentMapper) GetCandidateEntities(ctx context.Context, id string) ([]*model.Content, error) {
	if !m.HasEntity(id) {
		return nil, model.NewNotFoundError(model.TypeContent, id)
	}
	imported := m.ImportedContent(id)
	if imported == nil {
		return nil, nil
	}
	candidates, err := m.lookup.GetContentsByVersion(ctx, id, imported.Version())
	if err != nil {
		return nil, fmt.Errorf("content candidates for %s: %w", id, err)
	}
	return candidates, nil
}

// Clear drops everything, including computed imports.
func (m *ContentMapper) Clear() {
	m.entityMapper.Clear()
	m.memoMu.Lock()
	m.memo = make(map[string]*model.Content)
	m.memoMu.Unlock()
}

// ProductMapper maps product IDs for one owner and one refresh.
type ProductMapper struct {
	*entityMapper[*model.Product, catalog.ProductInfo]
	lookup   ProductLookup
	contents *ContentMapper

	memoMu sync.Mutex
	memo   map[string]*model.Product
}

// NewProductMapper returns an empty product mapper. Product content is
// resolved through contents.
func NewProductMapper(lookup ProductLookup, contents *ContentMapper) *ProductMapper {
	return &ProductMapper{
		entityMapper: newEntityMapper[*model.Product](model.TypeProduct,
			func(pi *catalog.ProductInfo) string { return pi.ID }),
		lookup:   lookup,
		contents: contents,
		memo:     make(map[string]*model.Product),
	}
}

// ImportedProduct returns the unpersisted product the import for id
// describes, with its children attached, or nil if id is not imported.
//
// Imported children resolve to their own imported products; other children
// resolve to the owner's existing entities. The result therefore carries
// the version the product will have once its children are settled.
func (m *ProductMapper) ImportedProduct(id string) (*model.Product, error) {
	if m.GetImportedEntity(id) == nil {
		return nil, nil
	}

	m.memoMu.Lock()
	defer m.memoMu.Unlock()
	return m.importedProduct(id, nil)
}

// importedProduct builds the import for id. chain holds the IDs currently
// being built; memoMu must be held.
func (m *ProductMapper) importedProduct(id string, chain []string) (*model.Product, error) {
	if p, ok := m.memo[id]; ok {
		return p, nil
	}
	for i, ancestor := range chain {
		if ancestor == id {
			cycle := append(append([]string{}, chain[i:]...), id)
			return nil, model.NewCycleError(model.TypeProduct, chain[i], cycle)
		}
	}

	info := m.GetImportedEntity(id)
	p := info.ToProduct()
	chain = append(chain, id)

	if info.DerivedProductID != "" {
		child, err := m.resolveChild(info.DerivedProductID, chain)
		if err != nil {
			return nil, err
		}
		if err := p.SetDerivedProduct(child); err != nil {
			return nil, err
		}
	}
	for _, childID := range info.ProvidedProductIDs {
		child, err := m.resolveChild(childID, chain)
		if err != nil {
			return nil, err
		}
		if err := p.AddProvidedProduct(child); err != nil {
			return nil, err
		}
	}
	for _, ref := range info.Content {
		c, err := m.contents.ResolveContent(ref.ContentID)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		p.AddContent(c, ref.IsEnabled())
	}

	p.Version() // fill the cache before the instance is shared
	m.memo[id] = p
	return p, nil
}

func (m *ProductMapper) resolveChild(id string, chain []string) (*model.Product, error) {
	if m.GetImportedEntity(id) != nil {
		return m.importedProduct(id, chain)
	}
	if p, ok := m.GetExistingEntity(id); ok {
		return p, nil
	}
	return nil, fmt.Errorf("product %s: %w", chain[len(chain)-1], model.NewNotFoundError(model.TypeProduct, id))
}

// GetCandidateEntities returns every stored product, under any owner, whose
// version equals the version the import for id hashes to.
func (m *ProductMapper) GetCandidateEntities(ctx context.Context, id string) ([]*model.Product, error) {
	if !m.HasEntity(id) {
		return nil, model.NewNotFoundError(model.TypeProduct, id)
	}
	imported, err := m.ImportedProduct(id)
	if err != nil {
		return nil, err
	}
	if imported == nil {
		return nil, nil
	}
	candidates, err := m.lookup.GetProductsByVersion(ctx, id, imported.Version())
	if err != nil {
		return nil, fmt.Errorf("product candidates for %s: %w", id, err)
	}
	return candidates, nil
}

// Clear drops everything, including computed imports.
func (m *ProductMapper) Clear() {
	m.entityMapper.Clear()
	m.memoMu.Lock()
	m.memo = make(map[string]*model.Product)
	m.memoMu.Unlock()
}
