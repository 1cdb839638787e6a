package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
	"github.com/roach88/refresher/internal/store"
	"github.com/roach88/refresher/internal/testutil"
)

// Harness runs scenarios against a store with deterministic identities and
// timestamps, so the same scenario always produces the same report.
type Harness struct {
	store     *store.Store
	refresher *refresh.Refresher
}

// Run executes a scenario in a fresh in-memory store.
//
// Expectation and assertion failures are recorded in the result. An error
// is returned only when the scenario cannot be executed at all.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequentialIDGenerator("uuid")),
		store.WithNow(clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		refresher: refresh.New(st,
			refresh.WithLogger(logging.Discard()),
			refresh.WithRefreshIDs(testutil.NewSequentialIDGenerator("refresh").Generate),
			refresh.WithClock(clock.Now),
		),
	}

	result := NewResult()
	owners := make(map[string]bool)
	for i, step := range scenario.Steps {
		sr, err := h.runStep(ctx, i, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if sr.Owner != "" {
			owners[sr.Owner] = true
		}
		result.Steps = append(result.Steps, sr)
	}

	if err := h.snapshot(ctx, owners, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) (StepResult, error) {
	sr := StepResult{Index: i + 1}
	switch {
	case step.Refresh != nil:
		sr.Kind = "refresh"
		sr.Owner = step.Refresh.Owner
		sr.DryRun = step.Refresh.DryRun
		if err := h.runRefresh(ctx, step.Refresh, &sr); err != nil {
			return sr, err
		}
		for _, msg := range checkExpect(sr, step.Expect) {
			result.AddError(fmt.Sprintf("step %d: %s", sr.Index, msg))
		}
	case step.AddPool != nil:
		sr.Kind = "add_pool"
		sr.Owner = step.AddPool.Owner
		sr.Pool = step.AddPool.ID
		if _, err := h.store.CreatePool(ctx, step.AddPool.Owner, step.AddPool.ID, step.AddPool.Product); err != nil {
			return sr, err
		}
	default:
		sr.Kind = "remove_pool"
		sr.Pool = step.RemovePool
		if _, err := h.store.DeletePool(ctx, step.RemovePool); err != nil {
			return sr, err
		}
	}
	return sr, nil
}

// runRefresh records refresh failures in sr. Only catalog loading errors
// abort the scenario.
func (h *Harness) runRefresh(ctx context.Context, step *RefreshStep, sr *StepResult) error {
	batch := step.Catalog
	if step.CatalogFile != "" {
		var err error
		batch, err = catalog.LoadFile(step.CatalogFile)
		if err != nil && !model.IsValidationError(err) {
			return err
		}
		if err != nil {
			sr.ErrorCode = model.CodeOf(err)
			return nil
		}
	}

	opts := refresh.DefaultOptions()
	opts.DryRun = step.DryRun
	opts.FailOnConflict = !step.AllowConflicts

	report, err := h.refresher.Refresh(ctx, step.Owner, batch, opts)
	if err != nil {
		code := model.CodeOf(err)
		if code == "" {
			return err
		}
		sr.ErrorCode = code
		var me *model.Error
		if errors.As(err, &me) {
			sr.Chain = me.Chain
		}
		return nil
	}

	sr.Changes = report.Changes
	sr.Counts = report.Counts
	sr.Conflicts = report.Conflicts
	return nil
}

func checkExpect(sr StepResult, expect *Expect) []string {
	var errs []string
	if expect == nil {
		if sr.ErrorCode != "" {
			errs = append(errs, fmt.Sprintf("refresh %s failed with %s", sr.Owner, sr.ErrorCode))
		}
		return errs
	}

	if expect.Error != sr.ErrorCode {
		errs = append(errs, fmt.Sprintf("expected error %q, got %q", expect.Error, sr.ErrorCode))
	}
	if expect.Chain != nil && fmt.Sprint(expect.Chain) != fmt.Sprint(sr.Chain) {
		errs = append(errs, fmt.Sprintf("expected chain %v, got %v", expect.Chain, sr.Chain))
	}
	if expect.Counts != nil && *expect.Counts != sr.Counts {
		errs = append(errs, fmt.Sprintf("expected counts %+v, got %+v", *expect.Counts, sr.Counts))
	}
	if expect.Conflicts != nil && *expect.Conflicts != len(sr.Conflicts) {
		errs = append(errs, fmt.Sprintf("expected %d conflicts, got %d", *expect.Conflicts, len(sr.Conflicts)))
	}
	return errs
}

// snapshot reads the final owner views and orphans into result.
func (h *Harness) snapshot(ctx context.Context, owners map[string]bool, result *Result) error {
	for owner := range owners {
		products, err := h.store.ListOwnerProducts(ctx, owner)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", owner, err)
		}
		contents, err := h.store.ListOwnerContents(ctx, owner)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", owner, err)
		}

		view := make([]OwnerEntity, 0, len(products)+len(contents))
		for _, p := range products {
			view = append(view, OwnerEntity{Type: model.TypeProduct, ID: p.ID(), UUID: p.UUID(), Name: p.Name()})
		}
		for _, c := range contents {
			view = append(view, OwnerEntity{Type: model.TypeContent, ID: c.ID(), UUID: c.UUID(), Name: c.Name()})
		}
		sort.SliceStable(view, func(i, j int) bool {
			if view[i].Type != view[j].Type {
				return view[i].Type == model.TypeProduct
			}
			return view[i].ID < view[j].ID
		})
		result.Owners[owner] = view
	}

	orphans, err := h.store.ListOrphans(ctx)
	if err != nil {
		return fmt.Errorf("snapshot orphans: %w", err)
	}
	result.Orphans = orphans
	return nil
}
