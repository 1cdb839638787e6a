package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/refresher/internal/model"
)

// Pool is an owner's consumable subscription pool over one product row.
type Pool struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	ProductID   string `json:"product_id"`
	ProductUUID string `json:"product_uuid"`
}

// ErrPoolExists is returned by CreatePool for a duplicate pool ID.
var ErrPoolExists = errors.New("pool already exists")

// CreatePool creates a pool over the owner's active product for productID.
func (s *Store) CreatePool(ctx context.Context, owner, poolID, productID string) (Pool, error) {
	var productUUID string
	err := s.db.QueryRowContext(ctx, `
		SELECT product_uuid FROM owner_products
		WHERE owner_key = ? AND product_id = ?
	`, owner, productID).Scan(&productUUID)
	if err != nil {
		if isNoRows(err) {
			return Pool{}, fmt.Errorf("create pool: %w", model.NewNotFoundError(model.TypeProduct, productID))
		}
		return Pool{}, fmt.Errorf("create pool: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pools (pool_id, owner_key, product_uuid, created)
		VALUES (?, ?, ?, ?)
	`, poolID, owner, productUUID, formatTime(s.now()))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return Pool{}, fmt.Errorf("create pool %s: %w", poolID, ErrPoolExists)
		}
		return Pool{}, fmt.Errorf("create pool: %w", err)
	}

	return Pool{ID: poolID, Owner: owner, ProductID: productID, ProductUUID: productUUID}, nil
}

// DeletePool removes a pool. Deleting an unknown pool is not an error.
func (s *Store) DeletePool(ctx context.Context, poolID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE pool_id = ?`, poolID)
	if err != nil {
		return false, fmt.Errorf("delete pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pool: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPools returns the owner's pools ordered by pool ID.
func (s *Store) ListPools(ctx context.Context, owner string) ([]Pool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pl.pool_id, pl.owner_key, p.product_id, pl.product_uuid
		FROM pools pl
		JOIN products p ON p.uuid = pl.product_uuid
		WHERE pl.owner_key = ?
		ORDER BY pl.pool_id COLLATE BINARY ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	pools := []Pool{}
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.ID, &p.Owner, &p.ProductID, &p.ProductUUID); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

// ReferencingPools returns the IDs of the owner's pools that reference the
// row, directly or through the derived/provided products of the pool's
// product. Content is referenced through any such product's content.
// An empty result means the row may be removed from the owner.
func (s *Store) ReferencingPools(ctx context.Context, owner string, typ model.EntityType, uuid string) ([]string, error) {
	ids, err := referencingPools(ctx, s.db, owner, typ, uuid)
	if err != nil {
		return nil, fmt.Errorf("referencing pools: %w", err)
	}
	return ids, nil
}

// IsReferencedByActivePool reports whether any of the owner's pools reference the row.
func (s *Store) IsReferencedByActivePool(ctx context.Context, owner string, typ model.EntityType, uuid string) (bool, error) {
	ids, err := s.ReferencingPools(ctx, owner, typ, uuid)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

const reachableFromPools = `
	WITH RECURSIVE reach(pool_id, product_uuid) AS (
		SELECT pool_id, product_uuid FROM pools WHERE owner_key = ?
		UNION
		SELECT r.pool_id, p.derived_product_uuid
		FROM reach r JOIN products p ON p.uuid = r.product_uuid
		WHERE p.derived_product_uuid IS NOT NULL
		UNION
		SELECT r.pool_id, pp.provided_product_uuid
		FROM reach r JOIN product_provided_products pp ON pp.product_uuid = r.product_uuid
	)
`

func referencingPools(ctx context.Context, q querier, owner string, typ model.EntityType, uuid string) ([]string, error) {
	var query string
	switch typ {
	case model.TypeProduct:
		query = reachableFromPools + `
			SELECT DISTINCT pool_id FROM reach
			WHERE product_uuid = ?
			ORDER BY pool_id
		`
	case model.TypeContent:
		query = reachableFromPools + `
			SELECT DISTINCT r.pool_id FROM reach r
			JOIN product_contents pc ON pc.product_uuid = r.product_uuid
			WHERE pc.content_uuid = ?
			ORDER BY r.pool_id
		`
	default:
		return nil, fmt.Errorf("unknown entity type %q", typ)
	}
	return queryStrings(ctx, q, query, owner, uuid)
}
