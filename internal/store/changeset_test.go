package store

import (
	"context"
	"testing"

	"github.com/roach88/refresher/internal/model"
)

func TestApplyChangeSet_CreateAssignsUUIDs(t *testing.T) {
	s := createTestStore(t)
	x, y, c1 := seedWidget(t, s, "owner-a")

	if c1.UUID() != "uuid-0001" || y.UUID() != "uuid-0002" || x.UUID() != "uuid-0003" {
		t.Fatalf("uuids = %s, %s, %s; want children first", c1.UUID(), y.UUID(), x.UUID())
	}
	if !x.Created().Equal(testNow) {
		t.Errorf("created = %v, want %v", x.Created(), testNow)
	}

	products, err := s.ListOwnerProducts(context.Background(), "owner-a")
	if err != nil {
		t.Fatalf("ListOwnerProducts() failed: %v", err)
	}
	if len(products) != 2 || products[0].ID() != "X" || products[1].ID() != "Y" {
		t.Fatalf("products = %v, want [X Y]", products)
	}

	loadedX := products[0]
	if loadedX.Version() != x.Version() {
		t.Errorf("loaded version %d != written version %d", loadedX.Version(), x.Version())
	}
	provided := loadedX.ProvidedProducts()
	if len(provided) != 1 || provided[0] != products[1] {
		t.Error("provided Y must be the same instance as the listed Y")
	}
	pcs := loadedX.ProductContent()
	if len(pcs) != 1 || pcs[0].Content.UUID() != "uuid-0001" || !pcs[0].Enabled {
		t.Errorf("product content = %+v", pcs)
	}
}

func TestApplyChangeSet_GetOrCreateCollapses(t *testing.T) {
	s := createTestStore(t)
	x, _, _ := seedWidget(t, s, "owner-a")

	// owner-b authors the same definitions independently.
	c1 := model.NewContent("c1", "Base")
	c1.SetLabel("base")
	y := model.NewProduct("Y", "Gadget")
	xb := model.NewProduct("X", "Widget")
	xb.AddContent(c1, true)
	if err := xb.AddProvidedProduct(y); err != nil {
		t.Fatal(err)
	}

	applied := mustApply(t, s, "owner-b", createContent(c1), createProduct(y), createProduct(xb))

	for _, a := range applied {
		if !a.Collapsed {
			t.Errorf("%s %s: expected collapse onto existing row", a.Type, a.ID)
		}
	}
	if xb.UUID() != x.UUID() {
		t.Errorf("owner-b X uuid = %s, want shared %s", xb.UUID(), x.UUID())
	}

	var rows int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM products").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("products rows = %d, want 2", rows)
	}
}

func TestApplyChangeSet_Adopt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v1 := model.NewContent("c9", "Nine")
	v2 := model.NewContent("c9", "Nine v2")
	mustApply(t, s, "owner-a", createContent(v1))
	mustApply(t, s, "owner-b", createContent(v2))

	applied := mustApply(t, s, "owner-a", Change{
		Kind: ChangeAdopt, Type: model.TypeContent, ID: "c9", Content: v2, PreviousUUID: v1.UUID(),
	})
	if applied[0].UUID != v2.UUID() {
		t.Errorf("adopted uuid = %s, want %s", applied[0].UUID, v2.UUID())
	}

	contents, err := s.ListOwnerContents(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 || contents[0].UUID() != v2.UUID() {
		t.Errorf("owner-a contents = %v, want [%s]", contents, v2.UUID())
	}
}

func TestApplyChangeSet_MutateExclusiveInPlace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := model.NewContent("c9", "Nine")
	mustApply(t, s, "owner-a", createContent(c))
	oldVersion := c.Version()

	next := c.Clone()
	next.SetName("Nine v2")
	applied := mustApply(t, s, "owner-a", Change{
		Kind: ChangeMutate, Type: model.TypeContent, ID: "c9", Content: next, PreviousUUID: c.UUID(),
	})

	if applied[0].Kind != ChangeMutate || applied[0].UUID != c.UUID() {
		t.Fatalf("applied = %+v, want in-place mutate of %s", applied[0], c.UUID())
	}
	old, err := s.GetContentsByVersion(ctx, "c9", oldVersion)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Error("old version must no longer exist after in-place mutate")
	}
	cur, err := s.GetContentsByVersion(ctx, "c9", next.Version())
	if err != nil {
		t.Fatal(err)
	}
	if len(cur) != 1 || cur[0].Name() != "Nine v2" {
		t.Errorf("current = %v", cur)
	}
}

func TestApplyChangeSet_MutateSharedRowForks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := model.NewContent("c9", "Nine")
	mustApply(t, s, "owner-a", createContent(c))
	mustApply(t, s, "owner-b", Change{Kind: ChangeAdopt, Type: model.TypeContent, ID: "c9", Content: c})

	next := c.Clone()
	next.SetName("Nine v2")
	applied := mustApply(t, s, "owner-a", Change{
		Kind: ChangeMutate, Type: model.TypeContent, ID: "c9", Content: next, PreviousUUID: c.UUID(),
	})

	if applied[0].Kind != ChangeCreate || !applied[0].Forked {
		t.Fatalf("applied = %+v, want forked create", applied[0])
	}
	if next.UUID() == c.UUID() {
		t.Fatal("fork must get a new uuid")
	}

	b, err := s.ListOwnerContents(ctx, "owner-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 1 || b[0].UUID() != c.UUID() || b[0].Name() != "Nine" {
		t.Errorf("owner-b must keep the original row, got %v", b)
	}
}

func TestApplyChangeSet_MutateCollapsesOntoEqualRow(t *testing.T) {
	s := createTestStore(t)

	c := model.NewContent("c9", "Nine")
	mustApply(t, s, "owner-a", createContent(c))
	other := model.NewContent("c9", "Nine v2")
	mustApply(t, s, "owner-b", createContent(other))

	next := c.Clone()
	next.SetName("Nine v2")
	applied := mustApply(t, s, "owner-a", Change{
		Kind: ChangeMutate, Type: model.TypeContent, ID: "c9", Content: next, PreviousUUID: c.UUID(),
	})

	if applied[0].Kind != ChangeAdopt || applied[0].UUID != other.UUID() || !applied[0].Collapsed {
		t.Errorf("applied = %+v, want collapse onto %s", applied[0], other.UUID())
	}
}

func TestApplyChangeSet_MutateProductReplacesLinks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, _, c1 := seedWidget(t, s, "owner-a")

	next := x.Clone()
	next.RemoveProvidedProduct("Y")
	next.AddContent(c1, false)
	mustApply(t, s, "owner-a", Change{
		Kind: ChangeMutate, Type: model.TypeProduct, ID: "X", Product: next, PreviousUUID: x.UUID(),
	})

	got, err := s.GetOwnerProduct(ctx, "owner-a", "X")
	if err != nil {
		t.Fatal(err)
	}
	if got.UUID() != x.UUID() {
		t.Fatalf("uuid = %s, want %s", got.UUID(), x.UUID())
	}
	if len(got.ProvidedProducts()) != 0 {
		t.Error("provided link must be removed")
	}
	if pcs := got.ProductContent(); len(pcs) != 1 || pcs[0].Enabled {
		t.Errorf("product content = %+v, want c1 disabled", pcs)
	}
	if got.Version() != next.Version() {
		t.Error("stored version must match the rewritten product")
	}
}

func TestApplyChangeSet_RemoveGuardedByPool(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, y, c1 := seedWidget(t, s, "owner-a")

	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "X"); err != nil {
		t.Fatalf("CreatePool() failed: %v", err)
	}

	for _, ch := range []Change{
		{Kind: ChangeRemove, Type: model.TypeProduct, ID: "X", Product: x},
		{Kind: ChangeRemove, Type: model.TypeProduct, ID: "Y", Product: y},
		{Kind: ChangeRemove, Type: model.TypeContent, ID: "c1", Content: c1},
	} {
		_, err := s.ApplyChangeSet(ctx, ChangeSet{Owner: "owner-a", Changes: []Change{ch}})
		if !model.IsConflictError(err) {
			t.Errorf("remove %s: err = %v, want conflict", ch.ID, err)
		}
	}

	products, err := s.ListOwnerProducts(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 {
		t.Errorf("associations must remain, got %d products", len(products))
	}
}

func TestApplyChangeSet_RollsBackOnFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, _, _ := seedWidget(t, s, "owner-a")
	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "X"); err != nil {
		t.Fatal(err)
	}

	fresh := model.NewContent("c2", "Extra")
	_, err := s.ApplyChangeSet(ctx, ChangeSet{Owner: "owner-a", Changes: []Change{
		createContent(fresh),
		{Kind: ChangeRemove, Type: model.TypeProduct, ID: "X", Product: x},
	}})
	if err == nil {
		t.Fatal("expected conflict")
	}

	contents, err := s.ListOwnerContents(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range contents {
		if c.ID() == "c2" {
			t.Error("create must be rolled back with the failed removal")
		}
	}
}

func TestApplyChangeSet_RemoveDisassociatesOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := model.NewContent("c9", "Nine")
	mustApply(t, s, "owner-a", createContent(c))
	mustApply(t, s, "owner-a", Change{Kind: ChangeRemove, Type: model.TypeContent, ID: "c9", Content: c})

	contents, err := s.ListOwnerContents(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 0 {
		t.Errorf("contents = %v, want none", contents)
	}
	rows, err := s.GetContentsByVersion(ctx, "c9", c.Version())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Error("removed row must survive for other referents and cleanup")
	}
}

func TestApplyChangeSet_UnpersistedChildFails(t *testing.T) {
	s := createTestStore(t)

	x := model.NewProduct("X", "Widget")
	if err := x.AddProvidedProduct(model.NewProduct("Y", "Gadget")); err != nil {
		t.Fatal(err)
	}
	_, err := s.ApplyChangeSet(context.Background(), ChangeSet{Owner: "owner-a", Changes: []Change{createProduct(x)}})
	if err == nil {
		t.Fatal("expected error for child without uuid")
	}
}

func TestApplyChangeSet_CanceledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ApplyChangeSet(ctx, ChangeSet{Owner: "owner-a", Changes: []Change{
		createContent(model.NewContent("c1", "Base")),
	}})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}
