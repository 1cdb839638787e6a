package model

import (
	"fmt"
	"sort"
	"time"
)

// Content is a versioned content set (repository) definition.
//
// Instances are mutable until persisted. Once a row is shared between
// owners it is never modified in place; refresh forks a copy instead.
type Content struct {
	uuid string
	id   string

	contentType    string
	label          string
	name           string
	vendor         string
	contentURL     string
	requiredTags   string
	releaseVersion string
	gpgURL         string
	arches         string
	metadataExpire *int64

	modifiedProductIDs map[string]struct{}

	locked  bool
	created time.Time
	updated time.Time

	version      uint64
	versionValid bool
}

// NewContent creates an unpersisted content with the given business ID and name.
func NewContent(id, name string) *Content {
	return &Content{
		id:                 id,
		name:               name,
		modifiedProductIDs: make(map[string]struct{}),
	}
}

func (c *Content) EntityType() EntityType { return TypeContent }

func (c *Content) UUID() string           { return c.uuid }
func (c *Content) ID() string             { return c.id }
func (c *Content) Type() string           { return c.contentType }
func (c *Content) Label() string          { return c.label }
func (c *Content) Name() string           { return c.name }
func (c *Content) Vendor() string         { return c.vendor }
func (c *Content) ContentURL() string     { return c.contentURL }
func (c *Content) RequiredTags() string   { return c.requiredTags }
func (c *Content) ReleaseVersion() string { return c.releaseVersion }
func (c *Content) GPGURL() string         { return c.gpgURL }
func (c *Content) Arches() string         { return c.arches }
func (c *Content) Locked() bool           { return c.locked }
func (c *Content) Created() time.Time     { return c.created }
func (c *Content) Updated() time.Time     { return c.updated }

// MetadataExpire returns the metadata expiration in seconds, or nil if unset.
func (c *Content) MetadataExpire() *int64 {
	if c.metadataExpire == nil {
		return nil
	}
	v := *c.metadataExpire
	return &v
}

// ModifiedProductIDs returns the modified product IDs in sorted order.
func (c *Content) ModifiedProductIDs() []string {
	ids := make([]string, 0, len(c.modifiedProductIDs))
	for id := range c.modifiedProductIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bookkeeping setters. None of these affect Version().

func (c *Content) SetUUID(uuid string)    { c.uuid = uuid }
func (c *Content) SetLocked(locked bool)  { c.locked = locked }
func (c *Content) SetCreated(t time.Time) { c.created = t }
func (c *Content) SetUpdated(t time.Time) { c.updated = t }

// Semantic setters. Each one clears the cached version.

func (c *Content) SetID(id string)             { c.id = id; c.invalidate() }
func (c *Content) SetType(t string)            { c.contentType = t; c.invalidate() }
func (c *Content) SetLabel(label string)       { c.label = label; c.invalidate() }
func (c *Content) SetName(name string)         { c.name = name; c.invalidate() }
func (c *Content) SetVendor(vendor string)     { c.vendor = vendor; c.invalidate() }
func (c *Content) SetContentURL(url string)    { c.contentURL = url; c.invalidate() }
func (c *Content) SetRequiredTags(tags string) { c.requiredTags = tags; c.invalidate() }
func (c *Content) SetReleaseVersion(rv string) { c.releaseVersion = rv; c.invalidate() }
func (c *Content) SetGPGURL(url string)        { c.gpgURL = url; c.invalidate() }
func (c *Content) SetArches(arches string)     { c.arches = arches; c.invalidate() }

// SetMetadataExpire sets the metadata expiration; nil clears it.
func (c *Content) SetMetadataExpire(seconds *int64) {
	if seconds == nil {
		c.metadataExpire = nil
	} else {
		v := *seconds
		c.metadataExpire = &v
	}
	c.invalidate()
}

// SetModifiedProductIDs replaces the modified product ID set. Empty IDs are dropped.
func (c *Content) SetModifiedProductIDs(ids []string) {
	c.modifiedProductIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			c.modifiedProductIDs[id] = struct{}{}
		}
	}
	c.invalidate()
}

// AddModifiedProductID adds a single modified product ID.
func (c *Content) AddModifiedProductID(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := c.modifiedProductIDs[id]; ok {
		return false
	}
	if c.modifiedProductIDs == nil {
		c.modifiedProductIDs = make(map[string]struct{})
	}
	c.modifiedProductIDs[id] = struct{}{}
	c.invalidate()
	return true
}

func (c *Content) invalidate() {
	c.versionValid = false
}

// Version returns the content-addressed version of this content.
// The value is cached until the next semantic mutation.
func (c *Content) Version() uint64 {
	if !c.versionValid {
		c.version = NewHashBuilder(DomainContent).
			String(c.id).
			String(c.contentType).
			String(c.label).
			String(c.name).
			String(c.vendor).
			String(c.contentURL).
			String(c.requiredTags).
			String(c.releaseVersion).
			String(c.gpgURL).
			OptionalInt64(c.metadataExpire).
			String(c.arches).
			Label("modified_product_ids").
			Strings(c.ModifiedProductIDs()).
			Build()
		c.versionValid = true
	}
	return c.version
}

// Fork returns an unpersisted copy carrying every semantic field but no UUID.
func (c *Content) Fork() *Content {
	cp := c.Clone()
	cp.uuid = ""
	cp.created = time.Time{}
	cp.updated = time.Time{}
	cp.locked = false
	return cp
}

// Clone returns a deep copy, UUID and bookkeeping included.
func (c *Content) Clone() *Content {
	cp := *c
	cp.metadataExpire = c.MetadataExpire()
	cp.modifiedProductIDs = make(map[string]struct{}, len(c.modifiedProductIDs))
	for id := range c.modifiedProductIDs {
		cp.modifiedProductIDs[id] = struct{}{}
	}
	return &cp
}

func (c *Content) String() string {
	return fmt.Sprintf("Content [uuid: %s, id: %s, name: %s, label: %s, version: %d]",
		c.uuid, c.id, c.name, c.label, c.Version())
}
