package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/store"
)

// EntityStore is the persistence a refresh needs. *store.Store implements it.
type EntityStore interface {
	ProductLookup
	ContentLookup
	ShareChecker

	ListOwnerProducts(ctx context.Context, owner string) ([]*model.Product, error)
	ListOwnerContents(ctx context.Context, owner string) ([]*model.Content, error)
	ApplyChangeSet(ctx context.Context, cs store.ChangeSet) ([]store.AppliedChange, error)
}

// StatusSink receives the outcome of every refresh attempt.
type StatusSink interface {
	Publish(ctx context.Context, status Status) error
}

// Status is the job-status record for one refresh attempt.
type Status struct {
	RefreshID string          `json:"refresh_id"`
	Owner     string          `json:"owner"`
	Success   bool            `json:"success"`
	DryRun    bool            `json:"dry_run,omitempty"`
	Counts    Counts          `json:"counts"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
	ErrorCode model.ErrorCode `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Chain     []string        `json:"chain,omitempty"`
	Started   time.Time       `json:"started"`
	Finished  time.Time       `json:"finished"`
}

// Counts tallies settled actions.
type Counts struct {
	Reused  int `json:"reused" yaml:"reused"`
	Adopted int `json:"adopted" yaml:"adopted"`
	Created int `json:"created" yaml:"created"`
	Mutated int `json:"mutated" yaml:"mutated"`
	Removed int `json:"removed" yaml:"removed"`
	Forked  int `json:"forked" yaml:"forked"`
}

// Writes returns the number of actions that change the store.
func (c Counts) Writes() int {
	return c.Adopted + c.Created + c.Mutated + c.Removed
}

func (c *Counts) add(kind store.ChangeKind, forked bool) {
	switch kind {
	case store.ChangeReuse:
		c.Reused++
	case store.ChangeAdopt:
		c.Adopted++
	case store.ChangeCreate:
		c.Created++
	case store.ChangeMutate:
		c.Mutated++
	case store.ChangeRemove:
		c.Removed++
	}
	if forked {
		c.Forked++
	}
}

// Options controls one refresh.
type Options struct {
	// DryRun resolves the batch without writing anything.
	DryRun bool

	// FailOnConflict aborts the refresh when a removal is refused by a pool.
	// When false the refusal is reported and the owner keeps the entity.
	FailOnConflict bool
}

// DefaultOptions aborts on conflicts and writes.
func DefaultOptions() Options {
	return Options{FailOnConflict: true}
}

// Report describes a finished refresh.
type Report struct {
	RefreshID string                `json:"refresh_id"`
	Owner     string                `json:"owner"`
	DryRun    bool                  `json:"dry_run,omitempty"`
	Counts    Counts                `json:"counts"`
	Changes   []store.AppliedChange `json:"changes"`
	Conflicts []Conflict            `json:"conflicts,omitempty"`
	Nodes     []*EntityNode         `json:"-"`
}

// Refresher runs refreshes against one store.
type Refresher struct {
	store  EntityStore
	sink   StatusSink
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithStatusSink sets the job-status sink.
func WithStatusSink(sink StatusSink) Option {
	return func(r *Refresher) { r.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) { r.logger = logger }
}

// WithRefreshIDs sets the refresh ID generator.
func WithRefreshIDs(newID func() string) Option {
	return func(r *Refresher) { r.newID = newID }
}

// WithClock sets the clock used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// New creates a Refresher.
func New(s EntityStore, opts ...Option) *Refresher {
	r := &Refresher{
		store:  s,
		logger: logging.Component("refresh"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh reconciles the owner's products and contents with batch. The
// batch is the owner's complete upstream view: entities the owner has that
// the batch does not mention, directly or as a child, are removed.
//
// Validation, cycle, not-found and (with FailOnConflict) conflict errors
// abort the refresh before anything is written. The status sink is told
// about every attempt.
func (r *Refresher) Refresh(ctx context.Context, owner string, batch *catalog.Batch, opts Options) (*Report, error) {
	refreshID := r.newID()
	ctx = logging.ContextWithRefreshID(logging.ContextWithOwner(ctx, owner), refreshID)
	logger := logging.FromContext(ctx, r.logger)
	started := r.now()

	report, err := r.refresh(ctx, logger, owner, batch, opts)

	status := Status{
		RefreshID: refreshID,
		Owner:     owner,
		DryRun:    opts.DryRun,
		Started:   started,
		Finished:  r.now(),
	}
	if err != nil {
		status.ErrorCode = model.CodeOf(err)
		status.Error = err.Error()
		if me := asModelError(err); me != nil {
			status.Chain = me.Chain
		}
		logger.Error("refresh failed", "error", err)
	} else {
		report.RefreshID = refreshID
		status.Success = true
		status.Counts = report.Counts
		status.Conflicts = report.Conflicts
		logger.Info("refresh finished",
			"dry_run", opts.DryRun,
			"reused", report.Counts.Reused,
			"adopted", report.Counts.Adopted,
			"created", report.Counts.Created,
			"mutated", report.Counts.Mutated,
			"removed", report.Counts.Removed,
			"conflicts", len(report.Conflicts),
		)
	}
	r.publish(ctx, logger, status)

	if err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Refresher) refresh(ctx context.Context, logger *slog.Logger, owner string, batch *catalog.Batch, opts Options) (*Report, error) {
	if batch == nil {
		batch = &catalog.Batch{}
	}
	if err := catalog.Validate(batch); err != nil {
		return nil, err
	}

	contents := NewContentMapper(r.store)
	products := NewProductMapper(r.store, contents)
	if err := r.loadExisting(ctx, owner, products, contents); err != nil {
		return nil, err
	}
	if products.IsDirty() || contents.IsDirty() {
		logger.Warn("owner has more than one active row for an id; the last one read wins")
	}
	for _, ci := range batch.Contents {
		if err := contents.AddImportedEntity(ci); err != nil {
			return nil, err
		}
	}
	for _, pi := range batch.Products {
		if err := products.AddImportedEntity(pi); err != nil {
			return nil, err
		}
	}

	factory := NewNodeFactory(owner, NewContentNodeBuilder(contents), NewProductNodeBuilder(products))
	if err := buildAll(ctx, factory, products.EntityIDs(), contents.EntityIDs()); err != nil {
		return nil, err
	}

	resolver := NewResolver(owner, r.store, opts.FailOnConflict, logger)
	plan, err := resolver.Resolve(ctx, factory.Nodes())
	if err != nil {
		return nil, err
	}

	report := &Report{
		Owner:     owner,
		DryRun:    opts.DryRun,
		Conflicts: plan.Conflicts,
		Nodes:     plan.Nodes,
	}

	var applied []store.AppliedChange
	switch {
	case opts.DryRun:
		applied = plannedChanges(plan.ChangeSet)
	case plan.HasWrites():
		applied, err = r.store.ApplyChangeSet(ctx, plan.ChangeSet)
		if err != nil {
			return nil, fmt.Errorf("refresh %s: %w", owner, err)
		}
	default:
		applied = plannedChanges(plan.ChangeSet)
	}

	if !opts.DryRun {
		for _, n := range plan.Nodes {
			if err := n.transition(StateApplied); err != nil {
				return nil, err
			}
		}
	}

	report.Changes = applied
	for _, ch := range applied {
		report.Counts.add(ch.Kind, ch.Forked)
	}
	return report, nil
}

func (r *Refresher) loadExisting(ctx context.Context, owner string, products *ProductMapper, contents *ContentMapper) error {
	existingContents, err := r.store.ListOwnerContents(ctx, owner)
	if err != nil {
		return fmt.Errorf("load existing contents: %w", err)
	}
	for _, c := range existingContents {
		c.Version() // fill caches before nodes are built concurrently
		if err := contents.AddExistingEntity(c); err != nil {
			return err
		}
	}

	existingProducts, err := r.store.ListOwnerProducts(ctx, owner)
	if err != nil {
		return fmt.Errorf("load existing products: %w", err)
	}
	warmed := make(map[*model.Product]bool)
	for _, p := range existingProducts {
		warmProduct(p, warmed)
		if err := products.AddExistingEntity(p); err != nil {
			return err
		}
	}
	return nil
}

// warmProduct fills the cached versions of p and everything below it,
// visiting each shared product once.
func warmProduct(p *model.Product, warmed map[*model.Product]bool) {
	if warmed[p] {
		return
	}
	warmed[p] = true
	for _, pc := range p.ProductContent() {
		pc.Content.Version()
	}
	if d := p.DerivedProduct(); d != nil {
		warmProduct(d, warmed)
	}
	for _, pp := range p.ProvidedProducts() {
		warmProduct(pp, warmed)
	}
	p.Version()
}

// buildAll builds the content and product batches concurrently.
func buildAll(ctx context.Context, factory *NodeFactory, productIDs, contentIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, id := range contentIDs {
			if _, err := factory.BuildNode(gctx, model.TypeContent, id); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, id := range productIDs {
			if _, err := factory.BuildNode(gctx, model.TypeProduct, id); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func plannedChanges(cs store.ChangeSet) []store.AppliedChange {
	out := make([]store.AppliedChange, 0, len(cs.Changes))
	for _, ch := range cs.Changes {
		out = append(out, store.AppliedChange{
			Kind:         ch.Kind,
			Type:         ch.Type,
			ID:           ch.ID,
			UUID:         ch.Entity().UUID(),
			PreviousUUID: ch.PreviousUUID,
			Version:      ch.Entity().Version(),
			Forked:       ch.Forked,
		})
	}
	return out
}

func (r *Refresher) publish(ctx context.Context, logger *slog.Logger, status Status) {
	if r.sink == nil {
		return
	}
	// The refresh outcome stands even if the context was canceled.
	if err := r.sink.Publish(context.WithoutCancel(ctx), status); err != nil {
		logger.Warn("job status not published", "error", err)
	}
}

func asModelError(err error) *model.Error {
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	return nil
}
