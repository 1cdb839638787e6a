package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator returns predictable object identities for tests:
// "<prefix>-0001", "<prefix>-0002", ...
//
// This enables golden report comparison: the same scenario run against a
// fresh store assigns the same UUIDs in the same order.
//
// Thread-safety: SequentialIDGenerator is safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDGenerator creates a generator. An empty prefix defaults to "uuid".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "uuid"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next identity.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%04d", g.prefix, g.next)
}

// Reset restarts the sequence. The next call to Generate returns "<prefix>-0001".
func (g *SequentialIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
}
