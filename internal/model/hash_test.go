package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashBuilder_Deterministic(t *testing.T) {
	h1 := NewHashBuilder(DomainContent).String("a").Int(3).Build()
	h2 := NewHashBuilder(DomainContent).String("a").Int(3).Build()

	assert.Equal(t, h1, h2, "same inputs must produce same hash")
}

func TestHashBuilder_DomainSeparation(t *testing.T) {
	h1 := NewHashBuilder(DomainContent).String("x").Build()
	h2 := NewHashBuilder(DomainProduct).String("x").Build()

	assert.NotEqual(t, h1, h2, "different domains must not collide")
}

func TestHashBuilder_LengthPrefix(t *testing.T) {
	// Without length prefixing "ab"+"c" and "a"+"bc" would collide.
	h1 := NewHashBuilder(DomainContent).String("ab").String("c").Build()
	h2 := NewHashBuilder(DomainContent).String("a").String("bc").Build()

	assert.NotEqual(t, h1, h2)
}

func TestHashBuilder_StringsOrderIndependent(t *testing.T) {
	h1 := NewHashBuilder(DomainContent).Strings([]string{"x", "y", "z"}).Build()
	h2 := NewHashBuilder(DomainContent).Strings([]string{"z", "x", "y"}).Build()

	assert.Equal(t, h1, h2)
}

func TestHashBuilder_StringsDoesNotSortCaller(t *testing.T) {
	in := []string{"b", "a"}
	NewHashBuilder(DomainContent).Strings(in)

	assert.Equal(t, []string{"b", "a"}, in)
}

func TestHashBuilder_Uint64sOrderIndependent(t *testing.T) {
	h1 := NewHashBuilder(DomainProduct).Uint64s([]uint64{3, 1, 2}).Build()
	h2 := NewHashBuilder(DomainProduct).Uint64s([]uint64{1, 2, 3}).Build()

	assert.Equal(t, h1, h2)
}

func TestHashBuilder_StringMapOrderIndependent(t *testing.T) {
	m1 := map[string]string{"arch": "x86_64", "type": "SVC", "version": "1"}
	m2 := map[string]string{"version": "1", "arch": "x86_64", "type": "SVC"}

	h1 := NewHashBuilder(DomainProduct).StringMap(m1).Build()
	h2 := NewHashBuilder(DomainProduct).StringMap(m2).Build()

	assert.Equal(t, h1, h2)
}

func TestHashBuilder_NFCNormalization(t *testing.T) {
	// "é" precomposed vs. "e" + combining acute accent
	h1 := NewHashBuilder(DomainContent).String("caf\u00e9").Build()
	h2 := NewHashBuilder(DomainContent).String("cafe\u0301").Build()

	assert.Equal(t, h1, h2, "canonically equivalent strings must hash equal")
}

func TestHashBuilder_OptionalInt64(t *testing.T) {
	zero := int64(0)

	unset := NewHashBuilder(DomainProduct).OptionalInt64(nil).Build()
	set := NewHashBuilder(DomainProduct).OptionalInt64(&zero).Build()

	assert.NotEqual(t, unset, set, "nil and zero must be distinguishable")
}
