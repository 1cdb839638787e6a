package refresh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/store"
)

func TestRefresh_CreatesChildBeforeParent(t *testing.T) {
	s := newTestStore(t)
	sink := &captureSink{}
	r := newTestRefresher(s, sink)

	report := mustRefresh(t, r, "acme", widgetBatch())

	assert.Equal(t, []string{"create product Y", "create product X"}, changeKinds(report.Changes))
	assert.Equal(t, Counts{Created: 2}, report.Counts)
	assert.Equal(t, map[string]string{
		"product:X": "uuid-0002",
		"product:Y": "uuid-0001",
	}, ownerView(t, s, "acme"))

	x, err := s.GetOwnerProduct(context.Background(), "acme", "X")
	require.NoError(t, err)
	require.Len(t, x.ProvidedProducts(), 1)
	y := x.ProvidedProducts()[0]
	assert.Equal(t, "uuid-0001", y.UUID(), "X links Y's final identity")
	assert.True(t, x.Locked())

	// X's stored version folds in the version of the Y row it links.
	want := model.NewProduct("X", "Widget")
	require.NoError(t, want.AddProvidedProduct(model.NewProduct("Y", "Gadget")))
	assert.Equal(t, want.Version(), x.Version())
	assert.Equal(t, want.Version(), report.Changes[1].Version)

	for _, n := range report.Nodes {
		assert.Equal(t, StateApplied, n.State())
		assert.Equal(t, StateCreate, n.Action())
	}

	status := sink.last()
	assert.True(t, status.Success)
	assert.Equal(t, "refresh-0001", status.RefreshID)
	assert.Equal(t, 2, status.Counts.Created)
}

func TestRefresh_SecondRunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())
	before := ownerView(t, s, "acme")

	report := mustRefresh(t, r, "acme", widgetBatch())

	assert.Equal(t, Counts{Reused: 2}, report.Counts)
	assert.Zero(t, report.Counts.Writes())
	for _, n := range report.Nodes {
		assert.Equal(t, StateReuse, n.Action())
	}
	assert.Equal(t, before, ownerView(t, s, "acme"))

	orphans, err := s.ListOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRefresh_DeduplicatesAcrossOwners(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())

	// Independently authored, same semantics, different order.
	other := &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "Y", Name: "Gadget"},
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
	}}
	report := mustRefresh(t, r, "globex", other)

	assert.Equal(t, Counts{Adopted: 2}, report.Counts)
	assert.Equal(t, ownerView(t, s, "acme"), ownerView(t, s, "globex"))
}

func TestRefresh_ForksSharedRow(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())
	mustRefresh(t, r, "globex", widgetBatch())
	globexBefore := ownerView(t, s, "globex")

	changed := widgetBatch()
	changed.Products[0].Name = "Widget 2"
	report := mustRefresh(t, r, "acme", changed)

	assert.Equal(t, Counts{Reused: 1, Created: 1, Forked: 1}, report.Counts)
	acme := ownerView(t, s, "acme")
	assert.NotEqual(t, globexBefore["product:X"], acme["product:X"])
	assert.Equal(t, globexBefore["product:Y"], acme["product:Y"])
	assert.Equal(t, globexBefore, ownerView(t, s, "globex"))

	x, err := s.GetOwnerProduct(context.Background(), "globex", "X")
	require.NoError(t, err)
	assert.Equal(t, "Widget", x.Name(), "shared row is untouched")
}

func TestRefresh_MutatesExclusiveRowInPlace(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())
	before := ownerView(t, s, "acme")

	changed := widgetBatch()
	changed.Products[0].Name = "Widget 2"
	report := mustRefresh(t, r, "acme", changed)

	assert.Equal(t, Counts{Reused: 1, Mutated: 1}, report.Counts)
	assert.Equal(t, before, ownerView(t, s, "acme"))

	x, err := s.GetOwnerProduct(context.Background(), "acme", "X")
	require.NoError(t, err)
	assert.Equal(t, "Widget 2", x.Name())
	assert.Equal(t, report.Changes[1].Version, x.Version())
}

func TestRefresh_ChangedChildForksAndParentMutates(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())
	before := ownerView(t, s, "acme")

	changed := widgetBatch()
	changed.Products[1].Name = "Gadget 2"
	report := mustRefresh(t, r, "acme", changed)

	// Y is linked by X's row, so it cannot be rewritten in place.
	assert.Equal(t, []string{"create product Y", "mutate product X"}, changeKinds(report.Changes))
	assert.True(t, report.Changes[0].Forked)

	after := ownerView(t, s, "acme")
	assert.Equal(t, before["product:X"], after["product:X"])
	assert.NotEqual(t, before["product:Y"], after["product:Y"])

	x, err := s.GetOwnerProduct(context.Background(), "acme", "X")
	require.NoError(t, err)
	assert.Equal(t, after["product:Y"], x.ProvidedProducts()[0].UUID())
	assert.Equal(t, "Gadget 2", x.ProvidedProducts()[0].Name())
}

func TestRefresh_AdoptsOtherOwnersVersion(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget"}}})
	mustRefresh(t, r, "globex", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget 2"}}})

	report := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget 2"}}})

	assert.Equal(t, Counts{Adopted: 1}, report.Counts)
	assert.Equal(t, ownerView(t, s, "globex"), ownerView(t, s, "acme"))

	orphans, err := s.ListOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1, "acme's old row is left for cleanup")
	assert.Equal(t, "uuid-0001", orphans[0].UUID)
}

func TestRefresh_ContentChangeForksContent(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	batch := func(label string) *catalog.Batch {
		return &catalog.Batch{
			Products: []catalog.ProductInfo{{ID: "X", Name: "Widget", Content: []catalog.ProductContentRef{{ContentID: "c1"}}}},
			Contents: []catalog.ContentInfo{{ID: "c1", Name: "Base", Label: label}},
		}
	}
	first := mustRefresh(t, r, "acme", batch("base"))
	assert.Equal(t, []string{"create content c1", "create product X"}, changeKinds(first.Changes))
	before := ownerView(t, s, "acme")

	report := mustRefresh(t, r, "acme", batch("base-2"))

	assert.Equal(t, []string{"create content c1", "mutate product X"}, changeKinds(report.Changes))
	after := ownerView(t, s, "acme")
	assert.NotEqual(t, before["content:c1"], after["content:c1"])
	assert.Equal(t, before["product:X"], after["product:X"])

	x, err := s.GetOwnerProduct(context.Background(), "acme", "X")
	require.NoError(t, err)
	pcs := x.ProductContent()
	require.Len(t, pcs, 1)
	assert.Equal(t, "base-2", pcs[0].Content.Label())
	assert.True(t, pcs[0].Enabled)
}

func TestRefresh_KeepsChildThatIsNotImported(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())

	// Y is still referenced by X, so it stays although the batch omits it.
	report := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
	}})

	assert.Equal(t, Counts{Reused: 2}, report.Counts)
	assert.Len(t, ownerView(t, s, "acme"), 2)
}

func TestRefresh_RemovesUnreferencedEntities(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())

	report := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "Y", Name: "Gadget"}}})

	assert.Equal(t, Counts{Reused: 1, Removed: 1}, report.Counts)
	assert.Equal(t, map[string]string{"product:Y": "uuid-0001"}, ownerView(t, s, "acme"))
}

func TestRefresh_PoolBlocksRemoval(t *testing.T) {
	s := newTestStore(t)
	sink := &captureSink{}
	r := newTestRefresher(s, sink)
	mustRefresh(t, r, "acme", widgetBatch())
	_, err := s.CreatePool(context.Background(), "acme", "pool-1", "X")
	require.NoError(t, err)
	before := ownerView(t, s, "acme")

	_, err = r.Refresh(context.Background(), "acme", &catalog.Batch{}, DefaultOptions())

	require.Error(t, err)
	assert.True(t, model.IsConflictError(err))
	assert.Equal(t, before, ownerView(t, s, "acme"), "nothing is removed")

	status := sink.last()
	assert.False(t, status.Success)
	assert.Equal(t, model.ErrCodeConflict, status.ErrorCode)
}

func TestRefresh_PoolConflictReportedWhenAllowed(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())
	_, err := s.CreatePool(context.Background(), "acme", "pool-1", "X")
	require.NoError(t, err)
	before := ownerView(t, s, "acme")

	report, err := r.Refresh(context.Background(), "acme", &catalog.Batch{}, Options{})

	require.NoError(t, err)
	// Y is reached through the pool's product, so both are refused.
	require.Len(t, report.Conflicts, 2)
	assert.Equal(t, "Y", report.Conflicts[0].ID)
	assert.Equal(t, "X", report.Conflicts[1].ID)
	assert.Equal(t, []string{"pool-1"}, report.Conflicts[1].Pools)
	assert.Zero(t, report.Counts.Removed)
	assert.Equal(t, before, ownerView(t, s, "acme"))
}

func TestRefresh_PoolFollowsForkedProduct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	widget := func(name string) *catalog.Batch {
		return &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: name}}}
	}
	mustRefresh(t, r, "acme", widget("Widget"))
	mustRefresh(t, r, "globex", widget("Widget"))
	_, err := s.CreatePool(ctx, "acme", "pool-1", "X")
	require.NoError(t, err)

	report := mustRefresh(t, r, "acme", widget("Widget 2"))
	require.Len(t, report.Changes, 1)
	require.True(t, report.Changes[0].Forked)

	pools, err := s.ListPools(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, ownerView(t, s, "acme")["product:X"], pools[0].ProductUUID)

	globexPools, err := s.ListPools(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, globexPools)

	_, err = r.Refresh(ctx, "acme", &catalog.Batch{}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, model.IsConflictError(err))
	assert.Contains(t, ownerView(t, s, "acme"), "product:X")
}

func TestRefresh_PoolFollowsAdoptedProduct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget"}}})
	mustRefresh(t, r, "globex", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget 2"}}})
	_, err := s.CreatePool(ctx, "acme", "pool-1", "X")
	require.NoError(t, err)

	report := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{{ID: "X", Name: "Widget 2"}}})
	require.Equal(t, Counts{Adopted: 1}, report.Counts)

	pools, err := s.ListPools(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, ownerView(t, s, "globex")["product:X"], pools[0].ProductUUID)

	_, err = r.Refresh(ctx, "acme", &catalog.Batch{}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, model.IsConflictError(err))
}

func TestRefresh_RelinksKeptParentOfChangedChild(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "W", Name: "Suite", ProvidedProductIDs: []string{"X"}},
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
		{ID: "Y", Name: "Gadget"},
	}})
	before := ownerView(t, s, "acme")

	// X is no longer sent upstream but stays under W; its child Y changes.
	report := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "W", Name: "Suite", ProvidedProductIDs: []string{"X"}},
		{ID: "Y", Name: "Gadget 2"},
	}})

	assert.Equal(t, []string{"create product Y", "create product X", "mutate product W"}, changeKinds(report.Changes))
	after := ownerView(t, s, "acme")
	assert.NotEqual(t, before["product:X"], after["product:X"])
	assert.Equal(t, before["product:W"], after["product:W"])

	x, err := s.GetOwnerProduct(ctx, "acme", "X")
	require.NoError(t, err)
	assert.Equal(t, "Widget", x.Name())
	require.Len(t, x.ProvidedProducts(), 1)
	assert.Equal(t, after["product:Y"], x.ProvidedProducts()[0].UUID())
	assert.Equal(t, "Gadget 2", x.ProvidedProducts()[0].Name())

	w, err := s.GetOwnerProduct(ctx, "acme", "W")
	require.NoError(t, err)
	require.Len(t, w.ProvidedProducts(), 1)
	assert.Equal(t, after["product:X"], w.ProvidedProducts()[0].UUID())

	// Nothing changed upstream: the kept parent is reused as is.
	again := mustRefresh(t, r, "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "W", Name: "Suite", ProvidedProductIDs: []string{"X"}},
		{ID: "Y", Name: "Gadget 2"},
	}})
	assert.Equal(t, Counts{Reused: 3}, again.Counts)
}

func TestRefresh_ValidationRejectsBatch(t *testing.T) {
	s := newTestStore(t)
	sink := &captureSink{}
	r := newTestRefresher(s, sink)

	_, err := r.Refresh(context.Background(), "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget"},
		{ID: "Y", Name: " "},
	}}, DefaultOptions())

	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
	assert.Empty(t, ownerView(t, s, "acme"))
	assert.Equal(t, model.ErrCodeValidation, sink.last().ErrorCode)
}

func TestRefresh_CycleAbortsWholeBatch(t *testing.T) {
	s := newTestStore(t)
	sink := &captureSink{}
	r := newTestRefresher(s, sink)

	_, err := r.Refresh(context.Background(), "acme", &catalog.Batch{
		Products: []catalog.ProductInfo{
			{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
			{ID: "Y", Name: "Gadget", DerivedProductID: "X"},
			{ID: "Z", Name: "Unrelated"},
		},
	}, DefaultOptions())

	require.Error(t, err)
	assert.True(t, model.IsCycleError(err))
	assert.Equal(t, []string{"X", "Y", "X"}, sink.last().Chain)
	assert.Empty(t, ownerView(t, s, "acme"), "no partial commit")
}

func TestRefresh_CycleThroughExistingGraph(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())

	// Y now derives X, while the stored X still provides Y.
	_, err := r.Refresh(context.Background(), "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "Y", Name: "Gadget", DerivedProductID: "X"},
	}}, DefaultOptions())

	require.Error(t, err)
	assert.True(t, model.IsCycleError(err))
}

func TestRefresh_UnknownReference(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)

	_, err := r.Refresh(context.Background(), "acme", &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"ghost"}},
	}}, DefaultOptions())

	require.Error(t, err)
	assert.True(t, model.IsNotFoundError(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestRefresh_DryRunWritesNothing(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)

	report, err := r.Refresh(context.Background(), "acme", widgetBatch(), Options{DryRun: true, FailOnConflict: true})

	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, Counts{Created: 2}, report.Counts)
	assert.Empty(t, ownerView(t, s, "acme"))
	for _, n := range report.Nodes {
		assert.Equal(t, StateCreate, n.State(), "dry-run nodes are not applied")
	}
}

func TestRefresh_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Refresh(ctx, "acme", widgetBatch(), DefaultOptions())

	require.Error(t, err)
	assert.Empty(t, ownerView(t, s, "acme"))
}

func TestRefresh_NilBatchRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	r := newTestRefresher(s, nil)
	mustRefresh(t, r, "acme", widgetBatch())

	report := mustRefresh(t, r, "acme", nil)

	assert.Equal(t, Counts{Removed: 2}, report.Counts)
	assert.Empty(t, ownerView(t, s, "acme"))
}

// ensure *store.Store satisfies the interface the refresher needs.
var _ EntityStore = (*store.Store)(nil)
