package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/refresher/internal/model"
)

// ChangeKind is the settled action for one entity of a refresh.
type ChangeKind string

const (
	// ChangeReuse keeps the owner's current row. No writes.
	ChangeReuse ChangeKind = "reuse"

	// ChangeAdopt repoints the owner to an existing row of another version.
	ChangeAdopt ChangeKind = "adopt"

	// ChangeCreate inserts a new row (get-or-create by version) and points the owner at it.
	ChangeCreate ChangeKind = "create"

	// ChangeMutate rewrites the owner's exclusive row in place with a new version.
	ChangeMutate ChangeKind = "mutate"

	// ChangeRemove drops the owner's association. The row itself is kept.
	ChangeRemove ChangeKind = "remove"
)

// Change is one entity-level operation. Exactly one of Product and Content is set.
//
// For create the entity carries no UUID; ApplyChangeSet assigns one (or the
// UUID of an equal row that already exists). For mutate the entity carries the
// UUID of the row to rewrite. Adopt, reuse and remove carry the row's UUID.
type Change struct {
	Kind         ChangeKind
	Type         model.EntityType
	ID           string
	Product      *model.Product
	Content      *model.Content
	PreviousUUID string
	Forked       bool
}

// Entity returns the change's product or content.
func (c Change) Entity() model.Entity {
	if c.Product != nil {
		return c.Product
	}
	if c.Content != nil {
		return c.Content
	}
	return nil
}

// ChangeSet is every change of one refresh, children before parents.
type ChangeSet struct {
	Owner   string
	Changes []Change
}

// AppliedChange records what ApplyChangeSet actually did for one change.
// It can differ from the planned kind when a concurrent writer got there first:
// a create collapses onto the existing equal row, and a mutate whose row
// stopped being exclusive is forked instead.
type AppliedChange struct {
	Kind         ChangeKind       `json:"kind"`
	Type         model.EntityType `json:"type"`
	ID           string           `json:"id"`
	UUID         string           `json:"uuid"`
	PreviousUUID string           `json:"previous_uuid,omitempty"`
	Version      uint64           `json:"version"`
	Forked       bool             `json:"forked,omitempty"`
	Collapsed    bool             `json:"collapsed,omitempty"`
}

// ApplyChangeSet commits a change set in one transaction. Either every
// entity write and association swap is committed or none is.
//
// Removals are re-checked against the owner's pools inside the transaction;
// a referenced row aborts the whole set with a conflict error.
func (s *Store) ApplyChangeSet(ctx context.Context, cs ChangeSet) ([]AppliedChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("apply change set: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	applied := make([]AppliedChange, 0, len(cs.Changes))
	for i, ch := range cs.Changes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("apply change set: %w", err)
		}
		if ch.Entity() == nil {
			return nil, fmt.Errorf("apply change set: change %d (%s %s) has no entity", i, ch.Type, ch.ID)
		}

		var (
			out AppliedChange
			err error
		)
		switch ch.Kind {
		case ChangeReuse:
			out = appliedFrom(ch, ch.Entity().UUID())
		case ChangeAdopt:
			out, err = s.applyAdopt(ctx, tx, cs.Owner, ch)
		case ChangeCreate:
			out, err = s.applyCreate(ctx, tx, cs.Owner, ch, now)
		case ChangeMutate:
			out, err = s.applyMutate(ctx, tx, cs.Owner, ch, now)
		case ChangeRemove:
			out, err = s.applyRemove(ctx, tx, cs.Owner, ch)
		default:
			err = fmt.Errorf("unknown change kind %q", ch.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("apply change set: %s %s %s: %w", ch.Kind, ch.Type, ch.ID, err)
		}
		applied = append(applied, out)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("apply change set: commit: %w", err)
	}
	return applied, nil
}

func appliedFrom(ch Change, uuid string) AppliedChange {
	return AppliedChange{
		Kind:         ch.Kind,
		Type:         ch.Type,
		ID:           ch.ID,
		UUID:         uuid,
		PreviousUUID: ch.PreviousUUID,
		Version:      ch.Entity().Version(),
		Forked:       ch.Forked,
	}
}

func (s *Store) applyAdopt(ctx context.Context, tx *sql.Tx, owner string, ch Change) (AppliedChange, error) {
	uuid := ch.Entity().UUID()
	if uuid == "" {
		return AppliedChange{}, fmt.Errorf("adopted entity has no uuid")
	}
	if err := reassociate(ctx, tx, owner, ch.Type, ch.ID, ch.PreviousUUID, uuid); err != nil {
		return AppliedChange{}, err
	}
	return appliedFrom(ch, uuid), nil
}

func (s *Store) applyCreate(ctx context.Context, tx *sql.Tx, owner string, ch Change, now time.Time) (AppliedChange, error) {
	uuid, inserted, err := s.getOrCreate(ctx, tx, ch, now)
	if err != nil {
		return AppliedChange{}, err
	}
	if err := reassociate(ctx, tx, owner, ch.Type, ch.ID, ch.PreviousUUID, uuid); err != nil {
		return AppliedChange{}, err
	}
	out := appliedFrom(ch, uuid)
	out.Collapsed = !inserted
	return out, nil
}

func (s *Store) applyMutate(ctx context.Context, tx *sql.Tx, owner string, ch Change, now time.Time) (AppliedChange, error) {
	entity := ch.Entity()
	rowUUID := entity.UUID()
	if rowUUID == "" {
		return AppliedChange{}, fmt.Errorf("mutated entity has no uuid")
	}

	// An equal row may have appeared since planning: adopt it.
	existing, err := uuidByVersion(ctx, tx, ch.Type, ch.ID, entity.Version())
	if err != nil {
		return AppliedChange{}, err
	}
	if existing != "" && existing != rowUUID {
		setUUID(ch, existing)
		if err := reassociate(ctx, tx, owner, ch.Type, ch.ID, rowUUID, existing); err != nil {
			return AppliedChange{}, err
		}
		out := appliedFrom(ch, existing)
		out.Kind = ChangeAdopt
		out.PreviousUUID = rowUUID
		out.Collapsed = true
		return out, nil
	}

	// Someone else may have started sharing the row: fork instead.
	exclusive, err := isExclusive(ctx, tx, owner, ch.Type, rowUUID)
	if err != nil {
		return AppliedChange{}, err
	}
	if !exclusive {
		setUUID(ch, "")
		fork := ch
		fork.Kind = ChangeCreate
		fork.Forked = true
		fork.PreviousUUID = rowUUID
		return s.applyCreate(ctx, tx, owner, fork, now)
	}

	switch ch.Type {
	case model.TypeProduct:
		err = updateProduct(ctx, tx, ch.Product, now)
	case model.TypeContent:
		err = updateContent(ctx, tx, ch.Content, now)
	}
	if err != nil {
		return AppliedChange{}, err
	}
	out := appliedFrom(ch, rowUUID)
	out.PreviousUUID = rowUUID
	return out, nil
}

func (s *Store) applyRemove(ctx context.Context, tx *sql.Tx, owner string, ch Change) (AppliedChange, error) {
	uuid := ch.Entity().UUID()
	pools, err := referencingPools(ctx, tx, owner, ch.Type, uuid)
	if err != nil {
		return AppliedChange{}, err
	}
	if len(pools) > 0 {
		return AppliedChange{}, model.NewConflictError(ch.Type, ch.ID, owner, pools)
	}
	if err := disassociate(ctx, tx, owner, ch.Type, ch.ID, uuid); err != nil {
		return AppliedChange{}, err
	}
	out := appliedFrom(ch, uuid)
	out.PreviousUUID = uuid
	return out, nil
}

func setUUID(ch Change, uuid string) {
	if ch.Product != nil {
		ch.Product.SetUUID(uuid)
	}
	if ch.Content != nil {
		ch.Content.SetUUID(uuid)
	}
}

// getOrCreate inserts the entity unless a row with the same (id, version)
// exists, and assigns the winning UUID to the entity. Racing creators
// collapse onto a single row.
func (s *Store) getOrCreate(ctx context.Context, tx *sql.Tx, ch Change, now time.Time) (string, bool, error) {
	newUUID := s.ids.Generate()

	var (
		res sql.Result
		err error
	)
	switch ch.Type {
	case model.TypeProduct:
		res, err = insertProduct(ctx, tx, newUUID, ch.Product, now)
	case model.TypeContent:
		res, err = insertContent(ctx, tx, newUUID, ch.Content, now)
	default:
		return "", false, fmt.Errorf("unknown entity type %q", ch.Type)
	}
	if err != nil {
		return "", false, fmt.Errorf("insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		existing, err := uuidByVersion(ctx, tx, ch.Type, ch.ID, ch.Entity().Version())
		if err != nil {
			return "", false, err
		}
		if existing == "" {
			return "", false, fmt.Errorf("insert conflicted but no row has version %d", ch.Entity().Version())
		}
		setUUID(ch, existing)
		return existing, false, nil
	}

	setUUID(ch, newUUID)
	switch ch.Type {
	case model.TypeProduct:
		ch.Product.SetCreated(now)
		ch.Product.SetUpdated(now)
		if err := writeProductLinks(ctx, tx, ch.Product); err != nil {
			return "", false, err
		}
	case model.TypeContent:
		ch.Content.SetCreated(now)
		ch.Content.SetUpdated(now)
	}
	return newUUID, true, nil
}

func uuidByVersion(ctx context.Context, q querier, typ model.EntityType, id string, version uint64) (string, error) {
	var query string
	switch typ {
	case model.TypeProduct:
		query = `SELECT uuid FROM products WHERE product_id = ? AND entity_version = ?`
	case model.TypeContent:
		query = `SELECT uuid FROM contents WHERE content_id = ? AND entity_version = ?`
	default:
		return "", fmt.Errorf("unknown entity type %q", typ)
	}

	var uuid string
	err := q.QueryRowContext(ctx, query, id, toDBVersion(version)).Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select by version: %w", err)
	}
	return uuid, nil
}

func insertContent(ctx context.Context, tx *sql.Tx, uuid string, c *model.Content, now time.Time) (sql.Result, error) {
	modified, err := marshalStrings(c.ModifiedProductIDs())
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, `
		INSERT INTO contents
		(uuid, content_id, entity_version, type, label, name, vendor, content_url,
		 required_tags, release_version, gpg_url, arches, metadata_expire,
		 modified_product_ids, locked, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, entity_version) DO NOTHING
	`,
		uuid, c.ID(), toDBVersion(c.Version()), c.Type(), c.Label(), c.Name(), c.Vendor(), c.ContentURL(),
		c.RequiredTags(), c.ReleaseVersion(), c.GPGURL(), c.Arches(), nullInt64(c.MetadataExpire()),
		modified, c.Locked(), formatTime(now), formatTime(now),
	)
}

func updateContent(ctx context.Context, tx *sql.Tx, c *model.Content, now time.Time) error {
	modified, err := marshalStrings(c.ModifiedProductIDs())
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE contents SET
			entity_version = ?, type = ?, label = ?, name = ?, vendor = ?, content_url = ?,
			required_tags = ?, release_version = ?, gpg_url = ?, arches = ?, metadata_expire = ?,
			modified_product_ids = ?, locked = ?, updated = ?
		WHERE uuid = ?
	`,
		toDBVersion(c.Version()), c.Type(), c.Label(), c.Name(), c.Vendor(), c.ContentURL(),
		c.RequiredTags(), c.ReleaseVersion(), c.GPGURL(), c.Arches(), nullInt64(c.MetadataExpire()),
		modified, c.Locked(), formatTime(now), c.UUID(),
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	c.SetUpdated(now)
	return nil
}

type productColumnValues struct {
	attributes string
	dependent  string
	branding   string
	derived    sql.NullString
}

func productValues(p *model.Product) (productColumnValues, error) {
	var v productColumnValues
	var err error
	if v.attributes, err = marshalAttributes(p.Attributes()); err != nil {
		return v, err
	}
	if v.dependent, err = marshalStrings(p.DependentProductIDs()); err != nil {
		return v, err
	}
	if v.branding, err = marshalBranding(p.Branding()); err != nil {
		return v, err
	}
	if d := p.DerivedProduct(); d != nil {
		if d.UUID() == "" {
			return v, fmt.Errorf("derived product %s is not persisted", d.ID())
		}
		v.derived = sql.NullString{String: d.UUID(), Valid: true}
	}
	return v, nil
}

func insertProduct(ctx context.Context, tx *sql.Tx, uuid string, p *model.Product, now time.Time) (sql.Result, error) {
	v, err := productValues(p)
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, `
		INSERT INTO products
		(uuid, product_id, entity_version, name, multiplier, attributes,
		 dependent_product_ids, branding, derived_product_uuid, locked, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id, entity_version) DO NOTHING
	`,
		uuid, p.ID(), toDBVersion(p.Version()), p.Name(), nullInt64(p.Multiplier()), v.attributes,
		v.dependent, v.branding, v.derived, p.Locked(), formatTime(now), formatTime(now),
	)
}

func updateProduct(ctx context.Context, tx *sql.Tx, p *model.Product, now time.Time) error {
	v, err := productValues(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products SET
			entity_version = ?, name = ?, multiplier = ?, attributes = ?,
			dependent_product_ids = ?, branding = ?, derived_product_uuid = ?, locked = ?, updated = ?
		WHERE uuid = ?
	`,
		toDBVersion(p.Version()), p.Name(), nullInt64(p.Multiplier()), v.attributes,
		v.dependent, v.branding, v.derived, p.Locked(), formatTime(now), p.UUID(),
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM product_provided_products WHERE product_uuid = ?`,
		`DELETE FROM product_contents WHERE product_uuid = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, p.UUID()); err != nil {
			return fmt.Errorf("update product links: %w", err)
		}
	}
	if err := writeProductLinks(ctx, tx, p); err != nil {
		return err
	}
	p.SetUpdated(now)
	return nil
}

func writeProductLinks(ctx context.Context, tx *sql.Tx, p *model.Product) error {
	for _, child := range p.ProvidedProducts() {
		if child.UUID() == "" {
			return fmt.Errorf("provided product %s is not persisted", child.ID())
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_provided_products (product_uuid, provided_product_uuid)
			VALUES (?, ?)
		`, p.UUID(), child.UUID()); err != nil {
			return fmt.Errorf("link provided product %s: %w", child.ID(), err)
		}
	}
	for _, pc := range p.ProductContent() {
		if pc.Content.UUID() == "" {
			return fmt.Errorf("content %s is not persisted", pc.Content.ID())
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_contents (product_uuid, content_uuid, enabled)
			VALUES (?, ?, ?)
		`, p.UUID(), pc.Content.UUID(), pc.Enabled); err != nil {
			return fmt.Errorf("link content %s: %w", pc.Content.ID(), err)
		}
	}
	return nil
}

func associate(ctx context.Context, tx *sql.Tx, owner string, typ model.EntityType, id, uuid string) error {
	var query string
	switch typ {
	case model.TypeProduct:
		query = `
			INSERT INTO owner_products (owner_key, product_id, product_uuid) VALUES (?, ?, ?)
			ON CONFLICT(owner_key, product_id) DO UPDATE SET product_uuid = excluded.product_uuid
		`
	case model.TypeContent:
		query = `
			INSERT INTO owner_contents (owner_key, content_id, content_uuid) VALUES (?, ?, ?)
			ON CONFLICT(owner_key, content_id) DO UPDATE SET content_uuid = excluded.content_uuid
		`
	default:
		return fmt.Errorf("unknown entity type %q", typ)
	}
	if _, err := tx.ExecContext(ctx, query, owner, id, uuid); err != nil {
		return fmt.Errorf("associate: %w", err)
	}
	return nil
}

// reassociate points the owner at uuid. When a product association moves
// off previous, the owner's pools over previous move with it so the pool
// keeps guarding the row the owner actually uses.
func reassociate(ctx context.Context, tx *sql.Tx, owner string, typ model.EntityType, id, previous, uuid string) error {
	if err := associate(ctx, tx, owner, typ, id, uuid); err != nil {
		return err
	}
	if typ != model.TypeProduct || previous == "" || previous == uuid {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pools SET product_uuid = ? WHERE owner_key = ? AND product_uuid = ?
	`, uuid, owner, previous); err != nil {
		return fmt.Errorf("repoint pools: %w", err)
	}
	return nil
}

func disassociate(ctx context.Context, tx *sql.Tx, owner string, typ model.EntityType, id, uuid string) error {
	var query string
	switch typ {
	case model.TypeProduct:
		query = `DELETE FROM owner_products WHERE owner_key = ? AND product_id = ? AND product_uuid = ?`
	case model.TypeContent:
		query = `DELETE FROM owner_contents WHERE owner_key = ? AND content_id = ? AND content_uuid = ?`
	default:
		return fmt.Errorf("unknown entity type %q", typ)
	}
	if _, err := tx.ExecContext(ctx, query, owner, id, uuid); err != nil {
		return fmt.Errorf("disassociate: %w", err)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
