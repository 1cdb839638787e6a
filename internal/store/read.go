package store

import (
	"context"
	"fmt"

	"github.com/roach88/refresher/internal/model"
)

// ListOwnerProducts returns the products currently associated with the owner,
// ordered by business ID. Children are loaded with them; a row reached from
// several parents is one shared instance.
func (s *Store) ListOwnerProducts(ctx context.Context, owner string) ([]*model.Product, error) {
	uuids, err := queryStrings(ctx, s.db, `
		SELECT product_uuid FROM owner_products
		WHERE owner_key = ?
		ORDER BY product_id COLLATE BINARY ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list owner products: %w", err)
	}

	l := newLoader(s.db)
	out := make([]*model.Product, 0, len(uuids))
	for _, uuid := range uuids {
		p, err := l.product(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("list owner products: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ListOwnerContents returns the contents currently associated with the owner,
// ordered by business ID.
func (s *Store) ListOwnerContents(ctx context.Context, owner string) ([]*model.Content, error) {
	uuids, err := queryStrings(ctx, s.db, `
		SELECT content_uuid FROM owner_contents
		WHERE owner_key = ?
		ORDER BY content_id COLLATE BINARY ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list owner contents: %w", err)
	}

	l := newLoader(s.db)
	out := make([]*model.Content, 0, len(uuids))
	for _, uuid := range uuids {
		c, err := l.content(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("list owner contents: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// GetOwnerProduct returns the owner's active product for a business ID, or
// nil if the owner has none.
func (s *Store) GetOwnerProduct(ctx context.Context, owner, productID string) (*model.Product, error) {
	uuids, err := queryStrings(ctx, s.db, `
		SELECT product_uuid FROM owner_products
		WHERE owner_key = ? AND product_id = ?
	`, owner, productID)
	if err != nil {
		return nil, fmt.Errorf("get owner product: %w", err)
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	p, err := newLoader(s.db).product(ctx, uuids[0])
	if err != nil {
		return nil, fmt.Errorf("get owner product: %w", err)
	}
	return p, nil
}

// GetProductsByVersion returns every product row with the given business ID
// and version, across all owners. Lookup is by the (product_id,
// entity_version) index.
func (s *Store) GetProductsByVersion(ctx context.Context, productID string, version uint64) ([]*model.Product, error) {
	uuids, err := queryStrings(ctx, s.db, `
		SELECT uuid FROM products
		WHERE product_id = ? AND entity_version = ?
		ORDER BY uuid
	`, productID, toDBVersion(version))
	if err != nil {
		return nil, fmt.Errorf("get products by version: %w", err)
	}

	l := newLoader(s.db)
	out := make([]*model.Product, 0, len(uuids))
	for _, uuid := range uuids {
		p, err := l.product(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("get products by version: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetContentsByVersion returns every content row with the given business ID
// and version, across all owners.
func (s *Store) GetContentsByVersion(ctx context.Context, contentID string, version uint64) ([]*model.Content, error) {
	uuids, err := queryStrings(ctx, s.db, `
		SELECT uuid FROM contents
		WHERE content_id = ? AND entity_version = ?
		ORDER BY uuid
	`, contentID, toDBVersion(version))
	if err != nil {
		return nil, fmt.Errorf("get contents by version: %w", err)
	}

	l := newLoader(s.db)
	out := make([]*model.Content, 0, len(uuids))
	for _, uuid := range uuids {
		c, err := l.content(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("get contents by version: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// IsExclusiveToOwner reports whether the row may be mutated in place on the
// owner's behalf: it is associated with no other owner and no product row
// links to it as a child.
func (s *Store) IsExclusiveToOwner(ctx context.Context, owner string, typ model.EntityType, uuid string) (bool, error) {
	exclusive, err := isExclusive(ctx, s.db, owner, typ, uuid)
	if err != nil {
		return false, fmt.Errorf("check exclusive: %w", err)
	}
	return exclusive, nil
}

func isExclusive(ctx context.Context, q querier, owner string, typ model.EntityType, uuid string) (bool, error) {
	var query string
	switch typ {
	case model.TypeProduct:
		query = `
			SELECT
				(SELECT COUNT(*) FROM owner_products WHERE product_uuid = ?1 AND owner_key != ?2) +
				(SELECT COUNT(*) FROM products WHERE derived_product_uuid = ?1) +
				(SELECT COUNT(*) FROM product_provided_products WHERE provided_product_uuid = ?1)
		`
	case model.TypeContent:
		query = `
			SELECT
				(SELECT COUNT(*) FROM owner_contents WHERE content_uuid = ?1 AND owner_key != ?2) +
				(SELECT COUNT(*) FROM product_contents WHERE content_uuid = ?1)
		`
	default:
		return false, fmt.Errorf("unknown entity type %q", typ)
	}

	var refs int
	if err := q.QueryRowContext(ctx, query, uuid, owner).Scan(&refs); err != nil {
		return false, err
	}
	return refs == 0, nil
}

// Orphan is an entity row no owner, product or pool references.
type Orphan struct {
	Type    model.EntityType `json:"type"`
	UUID    string           `json:"uuid"`
	ID      string           `json:"id"`
	Version uint64           `json:"version"`
}

// ListOrphans returns unreferenced rows for an external cleanup job.
// Products come first, then contents, each ordered by business ID and UUID.
func (s *Store) ListOrphans(ctx context.Context) ([]Orphan, error) {
	queries := []struct {
		typ   model.EntityType
		query string
	}{
		{model.TypeProduct, `
			SELECT p.uuid, p.product_id, p.entity_version FROM products p
			WHERE NOT EXISTS (SELECT 1 FROM owner_products o WHERE o.product_uuid = p.uuid)
			  AND NOT EXISTS (SELECT 1 FROM products d WHERE d.derived_product_uuid = p.uuid)
			  AND NOT EXISTS (SELECT 1 FROM product_provided_products pp WHERE pp.provided_product_uuid = p.uuid)
			  AND NOT EXISTS (SELECT 1 FROM pools pl WHERE pl.product_uuid = p.uuid)
			ORDER BY p.product_id COLLATE BINARY ASC, p.uuid ASC
		`},
		{model.TypeContent, `
			SELECT c.uuid, c.content_id, c.entity_version FROM contents c
			WHERE NOT EXISTS (SELECT 1 FROM owner_contents o WHERE o.content_uuid = c.uuid)
			  AND NOT EXISTS (SELECT 1 FROM product_contents pc WHERE pc.content_uuid = c.uuid)
			ORDER BY c.content_id COLLATE BINARY ASC, c.uuid ASC
		`},
	}

	orphans := []Orphan{}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query)
		if err != nil {
			return nil, fmt.Errorf("list orphans: %w", err)
		}
		for rows.Next() {
			var (
				o       = Orphan{Type: q.typ}
				version int64
			)
			if err := rows.Scan(&o.UUID, &o.ID, &version); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan orphan: %w", err)
			}
			o.Version = fromDBVersion(version)
			orphans = append(orphans, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate orphans: %w", err)
		}
	}
	return orphans, nil
}
