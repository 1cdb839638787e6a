package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/refresher/internal/model"
)

// loader materializes rows into model objects, memoized by UUID so that a
// row reached through several parents is loaded into one shared instance.
//
// Result sets are always drained before recursing: the pool holds a single
// connection and an open *sql.Rows would block the nested query.
type loader struct {
	q        querier
	products map[string]*model.Product
	contents map[string]*model.Content
	loading  map[string]struct{}
}

func newLoader(q querier) *loader {
	return &loader{
		q:        q,
		products: make(map[string]*model.Product),
		contents: make(map[string]*model.Content),
		loading:  make(map[string]struct{}),
	}
}

const contentColumns = `uuid, content_id, type, label, name, vendor, content_url,
	required_tags, release_version, gpg_url, arches, metadata_expire,
	modified_product_ids, locked, created, updated`

func (l *loader) content(ctx context.Context, uuid string) (*model.Content, error) {
	if c, ok := l.contents[uuid]; ok {
		return c, nil
	}

	var (
		id, typ, label, name, vendor, url, tags, release, gpg, arches string
		expire                                                        sql.NullInt64
		modified, created, updated                                    string
		locked                                                        bool
		rowUUID                                                       string
	)
	err := l.q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE uuid = ?`, uuid).Scan(
		&rowUUID, &id, &typ, &label, &name, &vendor, &url,
		&tags, &release, &gpg, &arches, &expire,
		&modified, &locked, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load content %s: %w", uuid, model.NewNotFoundError(model.TypeContent, uuid))
	}
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", uuid, err)
	}

	c := model.NewContent(id, name)
	c.SetUUID(rowUUID)
	c.SetType(typ)
	c.SetLabel(label)
	c.SetVendor(vendor)
	c.SetContentURL(url)
	c.SetRequiredTags(tags)
	c.SetReleaseVersion(release)
	c.SetGPGURL(gpg)
	c.SetArches(arches)
	if expire.Valid {
		v := expire.Int64
		c.SetMetadataExpire(&v)
	}
	ids, err := unmarshalStrings(modified)
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", uuid, err)
	}
	c.SetModifiedProductIDs(ids)
	c.SetLocked(locked)
	if err := setTimes(c, created, updated); err != nil {
		return nil, fmt.Errorf("load content %s: %w", uuid, err)
	}

	l.contents[uuid] = c
	return c, nil
}

const productColumns = `uuid, product_id, name, multiplier, attributes,
	dependent_product_ids, branding, derived_product_uuid, locked, created, updated`

type productLinks struct {
	derived  string
	provided []string
	contents []contentLink
}

type contentLink struct {
	uuid    string
	enabled bool
}

func (l *loader) product(ctx context.Context, uuid string) (*model.Product, error) {
	if p, ok := l.products[uuid]; ok {
		return p, nil
	}
	if _, ok := l.loading[uuid]; ok {
		return nil, fmt.Errorf("load product %s: %w", uuid,
			model.NewCycleError(model.TypeProduct, uuid, []string{uuid, uuid}))
	}
	l.loading[uuid] = struct{}{}
	defer delete(l.loading, uuid)

	var (
		rowUUID, id, name, attrs, dependent, branding, created, updated string
		multiplier                                                      sql.NullInt64
		derived                                                         sql.NullString
		locked                                                          bool
	)
	err := l.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE uuid = ?`, uuid).Scan(
		&rowUUID, &id, &name, &multiplier, &attrs,
		&dependent, &branding, &derived, &locked, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load product %s: %w", uuid, model.NewNotFoundError(model.TypeProduct, uuid))
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", uuid, err)
	}

	p := model.NewProduct(id, name)
	p.SetUUID(rowUUID)
	if multiplier.Valid {
		v := multiplier.Int64
		p.SetMultiplier(&v)
	}
	attrMap, err := unmarshalAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", uuid, err)
	}
	p.SetAttributes(attrMap)
	depIDs, err := unmarshalStrings(dependent)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", uuid, err)
	}
	p.SetDependentProductIDs(depIDs)
	brands, err := unmarshalBranding(branding)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", uuid, err)
	}
	p.SetBranding(brands)
	p.SetLocked(locked)
	if err := setTimes(p, created, updated); err != nil {
		return nil, fmt.Errorf("load product %s: %w", uuid, err)
	}

	links, err := l.productLinks(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if derived.Valid {
		links.derived = derived.String
	}

	if links.derived != "" {
		d, err := l.product(ctx, links.derived)
		if err != nil {
			return nil, err
		}
		if err := p.SetDerivedProduct(d); err != nil {
			return nil, fmt.Errorf("load product %s: %w", uuid, err)
		}
	}
	for _, childUUID := range links.provided {
		child, err := l.product(ctx, childUUID)
		if err != nil {
			return nil, err
		}
		if err := p.AddProvidedProduct(child); err != nil {
			return nil, fmt.Errorf("load product %s: %w", uuid, err)
		}
	}
	for _, link := range links.contents {
		c, err := l.content(ctx, link.uuid)
		if err != nil {
			return nil, err
		}
		p.AddContent(c, link.enabled)
	}

	l.products[uuid] = p
	return p, nil
}

func (l *loader) productLinks(ctx context.Context, uuid string) (productLinks, error) {
	var links productLinks

	provided, err := queryStrings(ctx, l.q, `
		SELECT provided_product_uuid FROM product_provided_products
		WHERE product_uuid = ?
		ORDER BY provided_product_uuid
	`, uuid)
	if err != nil {
		return links, fmt.Errorf("load provided products of %s: %w", uuid, err)
	}
	links.provided = provided

	rows, err := l.q.QueryContext(ctx, `
		SELECT content_uuid, enabled FROM product_contents
		WHERE product_uuid = ?
		ORDER BY content_uuid
	`, uuid)
	if err != nil {
		return links, fmt.Errorf("load contents of %s: %w", uuid, err)
	}
	defer rows.Close()
	for rows.Next() {
		var link contentLink
		if err := rows.Scan(&link.uuid, &link.enabled); err != nil {
			return links, fmt.Errorf("scan content link: %w", err)
		}
		links.contents = append(links.contents, link)
	}
	if err := rows.Err(); err != nil {
		return links, fmt.Errorf("iterate content links: %w", err)
	}
	return links, nil
}

// queryStrings drains a single-column result set.
func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type timestamped interface {
	SetCreated(time.Time)
	SetUpdated(time.Time)
}

func setTimes(e timestamped, created, updated string) error {
	c, err := parseTime(created)
	if err != nil {
		return err
	}
	u, err := parseTime(updated)
	if err != nil {
		return err
	}
	e.SetCreated(c)
	e.SetUpdated(u)
	return nil
}
