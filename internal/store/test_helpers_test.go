package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir with sequential UUIDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithIDGenerator(testutil.NewSequentialIDGenerator("uuid")),
		WithNow(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustApply applies a change set and fails the test on error.
func mustApply(t *testing.T, s *Store, owner string, changes ...Change) []AppliedChange {
	t.Helper()
	applied, err := s.ApplyChangeSet(context.Background(), ChangeSet{Owner: owner, Changes: changes})
	if err != nil {
		t.Fatalf("ApplyChangeSet() failed: %v", err)
	}
	return applied
}

func createContent(c *model.Content) Change {
	return Change{Kind: ChangeCreate, Type: model.TypeContent, ID: c.ID(), Content: c}
}

func createProduct(p *model.Product) Change {
	return Change{Kind: ChangeCreate, Type: model.TypeProduct, ID: p.ID(), Product: p}
}

// seedWidget creates product X (providing Y, with content c1) for the owner.
func seedWidget(t *testing.T, s *Store, owner string) (x, y *model.Product, c1 *model.Content) {
	t.Helper()
	c1 = model.NewContent("c1", "Base")
	c1.SetLabel("base")
	y = model.NewProduct("Y", "Gadget")
	x = model.NewProduct("X", "Widget")
	x.AddContent(c1, true)
	if err := x.AddProvidedProduct(y); err != nil {
		t.Fatalf("AddProvidedProduct() failed: %v", err)
	}
	mustApply(t, s, owner, createContent(c1), createProduct(y), createProduct(x))
	return x, y, c1
}
