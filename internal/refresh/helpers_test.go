package refresh

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/store"
	"github.com/roach88/refresher/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithIDGenerator(testutil.NewSequentialIDGenerator("uuid")),
		store.WithNow(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// captureSink records published statuses.
type captureSink struct {
	mu       sync.Mutex
	statuses []Status
}

func (c *captureSink) Publish(_ context.Context, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	return nil
}

func (c *captureSink) last() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[len(c.statuses)-1]
}

func newTestRefresher(s EntityStore, sink StatusSink) *Refresher {
	refreshIDs := testutil.NewSequentialIDGenerator("refresh")
	opts := []Option{
		WithLogger(logging.Discard()),
		WithRefreshIDs(refreshIDs.Generate),
		WithClock(func() time.Time { return testNow }),
	}
	if sink != nil {
		opts = append(opts, WithStatusSink(sink))
	}
	return New(s, opts...)
}

// widgetBatch is X ("Widget", providing Y) and Y ("Gadget").
func widgetBatch() *catalog.Batch {
	return &catalog.Batch{Products: []catalog.ProductInfo{
		{ID: "X", Name: "Widget", ProvidedProductIDs: []string{"Y"}},
		{ID: "Y", Name: "Gadget"},
	}}
}

func mustRefresh(t *testing.T, r *Refresher, owner string, batch *catalog.Batch) *Report {
	t.Helper()
	report, err := r.Refresh(context.Background(), owner, batch, DefaultOptions())
	require.NoError(t, err)
	return report
}

// ownerView maps "type:id" to the UUID the owner is associated with.
func ownerView(t *testing.T, s *store.Store, owner string) map[string]string {
	t.Helper()
	ctx := context.Background()
	view := make(map[string]string)

	products, err := s.ListOwnerProducts(ctx, owner)
	require.NoError(t, err)
	for _, p := range products {
		view[fmt.Sprintf("%s:%s", model.TypeProduct, p.ID())] = p.UUID()
	}
	contents, err := s.ListOwnerContents(ctx, owner)
	require.NoError(t, err)
	for _, c := range contents {
		view[fmt.Sprintf("%s:%s", model.TypeContent, c.ID())] = c.UUID()
	}
	return view
}

func changeKinds(changes []store.AppliedChange) []string {
	out := make([]string, 0, len(changes))
	for _, ch := range changes {
		out = append(out, fmt.Sprintf("%s %s %s", ch.Kind, ch.Type, ch.ID))
	}
	return out
}
