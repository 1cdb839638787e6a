package model

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes seed the hash per entity type so that a Product and a
// Content with coincidentally equal fields never share a version.
// The suffix allows a future algorithm migration.
const (
	DomainProduct        = "refresher/product/v1"
	DomainContent        = "refresher/content/v1"
	DomainProductContent = "refresher/product_content/v1"
	DomainBranding       = "refresher/branding/v1"
)

// HashBuilder folds values into a 64-bit version hash.
//
// Usage:
//
//	v := NewHashBuilder(DomainContent).
//	    String(c.ID()).
//	    String(c.Name()).
//	    Strings(c.ModifiedProductIDs()).
//	    Build()
//
// Order of calls matters. Collections are sorted before folding so the
// result never depends on map iteration or storage order. Strings are NFC
// normalized and length-prefixed.
type HashBuilder struct {
	d   *xxhash.Digest
	buf [8]byte
}

// NewHashBuilder creates a builder seeded with the given domain.
func NewHashBuilder(domain string) *HashBuilder {
	b := &HashBuilder{d: xxhash.New()}
	return b.String(domain)
}

// String adds a string value.
func (b *HashBuilder) String(s string) *HashBuilder {
	s = norm.NFC.String(s)
	b.Int(len(s))
	_, _ = b.d.WriteString(s)
	return b
}

// Label adds a section marker between collections.
func (b *HashBuilder) Label(name string) *HashBuilder {
	return b.String(name)
}

// Strings adds a set of strings in sorted order.
func (b *HashBuilder) Strings(ss []string) *HashBuilder {
	sorted := make([]string, len(ss))
	for i, s := range ss {
		sorted[i] = norm.NFC.String(s)
	}
	sort.Strings(sorted)

	b.Int(len(sorted))
	for _, s := range sorted {
		b.String(s)
	}
	return b
}

// StringMap adds a map with keys in sorted order.
func (b *HashBuilder) StringMap(m map[string]string) *HashBuilder {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.Int(len(keys))
	for _, k := range keys {
		b.String(k)
		b.String(m[k])
	}
	return b
}

// Int adds an int.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds a uint64.
func (b *HashBuilder) Uint64(v uint64) *HashBuilder {
	binary.LittleEndian.PutUint64(b.buf[:], v)
	_, _ = b.d.Write(b.buf[:])
	return b
}

// Uint64s adds a collection of element hashes in sorted order.
func (b *HashBuilder) Uint64s(vs []uint64) *HashBuilder {
	sorted := make([]uint64, len(vs))
	copy(sorted, vs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	b.Int(len(sorted))
	for _, v := range sorted {
		b.Uint64(v)
	}
	return b
}

// Bool adds a boolean.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		_, _ = b.d.Write([]byte{1})
	} else {
		_, _ = b.d.Write([]byte{0})
	}
	return b
}

// OptionalInt64 adds an int64 pointer (nil-safe).
func (b *HashBuilder) OptionalInt64(v *int64) *HashBuilder {
	if v == nil {
		return b.Bool(false)
	}
	return b.Bool(true).Uint64(uint64(*v))
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.d.Sum64()
}
