package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/store"
)

// ShareChecker answers the two questions the resolver asks the store about
// an owner's current row.
type ShareChecker interface {
	// IsExclusiveToOwner reports whether the row may be mutated in place.
	IsExclusiveToOwner(ctx context.Context, owner string, typ model.EntityType, uuid string) (bool, error)

	// ReferencingPools returns the owner's pools that still use the row.
	ReferencingPools(ctx context.Context, owner string, typ model.EntityType, uuid string) ([]string, error)
}

// Conflict is a removal refused because pools still reference the row.
type Conflict struct {
	Type  model.EntityType `json:"type" yaml:"type"`
	ID    string           `json:"id" yaml:"id"`
	UUID  string           `json:"uuid" yaml:"uuid"`
	Pools []string         `json:"pools" yaml:"pools"`
}

// Plan is the outcome of resolving one refresh's node graph.
type Plan struct {
	// Nodes in the order they were settled, children before parents.
	Nodes []*EntityNode

	// ChangeSet holds one change per node, in Nodes order.
	ChangeSet store.ChangeSet

	// Conflicts lists refused removals when conflicts do not abort.
	Conflicts []Conflict
}

// HasWrites reports whether applying the plan would change the store.
func (p *Plan) HasWrites() bool {
	for _, ch := range p.ChangeSet.Changes {
		if ch.Kind != store.ChangeReuse {
			return true
		}
	}
	return false
}

// Resolver settles a node graph bottom-up and emits the change set.
type Resolver struct {
	owner          string
	checker        ShareChecker
	failOnConflict bool
	logger         *slog.Logger
}

// NewResolver creates a resolver for one owner. With failOnConflict a pool
// conflict aborts resolution; otherwise it is recorded and the owner keeps
// the row.
func NewResolver(owner string, checker ShareChecker, failOnConflict bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{owner: owner, checker: checker, failOnConflict: failOnConflict, logger: logger}
}

// Resolve settles every node reachable from roots, children first.
func (r *Resolver) Resolve(ctx context.Context, roots []*EntityNode) (*Plan, error) {
	alive := markAlive(roots)

	order, err := postOrder(roots)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Nodes:     make([]*EntityNode, 0, len(order)),
		ChangeSet: store.ChangeSet{Owner: r.owner, Changes: make([]store.Change, 0, len(order))},
	}
	for _, node := range order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		if err := r.settle(ctx, node, alive[node], plan); err != nil {
			return nil, err
		}
		plan.Nodes = append(plan.Nodes, node)

		r.logger.Debug("node settled",
			"type", node.typ,
			"id", node.id,
			"action", node.state,
			"forked", node.forked,
		)
	}
	return plan, nil
}

// markAlive returns every node reachable from an imported node.
func markAlive(roots []*EntityNode) map[*EntityNode]bool {
	alive := make(map[*EntityNode]bool)
	var stack []*EntityNode
	for _, n := range roots {
		if n.imported != nil && !alive[n] {
			alive[n] = true
			stack = append(stack, n)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.children {
			if !alive[c] {
				alive[c] = true
				stack = append(stack, c)
			}
		}
	}
	return alive
}

// postOrder lists every node reachable from roots with each node after all
// of its children. A node revisited while still open is a cycle.
func postOrder(roots []*EntityNode) ([]*EntityNode, error) {
	type frame struct {
		node *EntityNode
		next int
	}

	const (
		open = 1
		done = 2
	)
	mark := make(map[*EntityNode]int)
	var order []*EntityNode

	for _, root := range roots {
		if mark[root] != 0 {
			continue
		}
		mark[root] = open
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.node.children) {
				child := top.node.children[top.next]
				top.next++
				switch mark[child] {
				case open:
					chain := make([]string, 0, len(stack)+1)
					start := 0
					for i, f := range stack {
						if f.node == child {
							start = i
						}
					}
					for _, f := range stack[start:] {
						chain = append(chain, f.node.id)
					}
					chain = append(chain, child.id)
					return nil, model.NewCycleError(child.typ, child.id, chain)
				case 0:
					mark[child] = open
					stack = append(stack, frame{node: child})
				}
				continue
			}
			mark[top.node] = done
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

func (r *Resolver) settle(ctx context.Context, n *EntityNode, alive bool, plan *Plan) error {
	if n.state != StateEvaluated {
		return fmt.Errorf("%s %s: cannot settle node in state %s", n.typ, n.id, n.state)
	}

	source := n.imported
	if source == nil {
		if n.existing == nil {
			return model.NewNotFoundError(n.typ, n.id)
		}
		if !alive {
			return r.settleRemoval(ctx, n, plan)
		}
		if !childrenChanged(n) {
			return r.record(n, StateReuse, n.existing, plan)
		}
		// Kept upstream-less, but a child moved to another row or version:
		// the owner's row must be re-linked like an import would be.
		source = n.existing
	}

	final, err := r.finalEntity(n, source)
	if err != nil {
		return err
	}
	version := final.Version()

	if n.existing != nil && n.existing.Version() == version {
		return r.record(n, StateReuse, n.existing, plan)
	}
	for _, c := range n.candidates {
		if c.Version() == version && (n.existing == nil || c.UUID() != n.existing.UUID()) {
			return r.record(n, StateAdopt, c, plan)
		}
	}
	if n.existing == nil {
		return r.record(n, StateCreate, final, plan)
	}

	exclusive, err := r.checker.IsExclusiveToOwner(ctx, r.owner, n.typ, n.existing.UUID())
	if err != nil {
		return fmt.Errorf("%s %s: %w", n.typ, n.id, err)
	}
	if exclusive {
		setIdentity(final, n.existing)
		return r.record(n, StateMutate, final, plan)
	}
	n.forked = true
	return r.record(n, StateCreate, final, plan)
}

func (r *Resolver) settleRemoval(ctx context.Context, n *EntityNode, plan *Plan) error {
	pools, err := r.checker.ReferencingPools(ctx, r.owner, n.typ, n.existing.UUID())
	if err != nil {
		return fmt.Errorf("%s %s: %w", n.typ, n.id, err)
	}
	if len(pools) == 0 {
		return r.record(n, StateRemove, n.existing, plan)
	}

	conflict := model.NewConflictError(n.typ, n.id, r.owner, pools)
	if r.failOnConflict {
		return conflict
	}
	r.logger.Warn("removal refused, entity kept",
		"type", n.typ,
		"id", n.id,
		"pools", pools,
	)
	plan.Conflicts = append(plan.Conflicts, Conflict{Type: n.typ, ID: n.id, UUID: n.existing.UUID(), Pools: pools})
	return r.record(n, StateReuse, n.existing, plan)
}

// finalEntity builds the entity a node settles to: the source's fields with
// every child replaced by that child's settled entity. The source is the
// import, or the existing row when only its children changed.
func (r *Resolver) finalEntity(n *EntityNode, source model.Entity) (model.Entity, error) {
	switch src := source.(type) {
	case *model.Content:
		c := src.Fork()
		c.SetLocked(true)
		return c, nil
	case *model.Product:
		locked := true
		if n.imported == nil {
			locked = src.Locked()
		}
		return r.finalProduct(n, src, locked)
	default:
		return nil, fmt.Errorf("%s %s: unsupported entity %T", n.typ, n.id, source)
	}
}

func (r *Resolver) finalProduct(n *EntityNode, source *model.Product, locked bool) (*model.Product, error) {
	p := source.Fork()
	p.SetLocked(locked)

	if d := source.DerivedProduct(); d != nil {
		child, err := settledProduct(n, d.ID())
		if err != nil {
			return nil, err
		}
		if err := p.SetDerivedProduct(child); err != nil {
			return nil, err
		}
	}

	provided := make([]*model.Product, 0, len(source.ProvidedProducts()))
	for _, pp := range source.ProvidedProducts() {
		child, err := settledProduct(n, pp.ID())
		if err != nil {
			return nil, err
		}
		provided = append(provided, child)
	}
	if err := p.SetProvidedProducts(provided); err != nil {
		return nil, err
	}

	pcs := make([]model.ProductContent, 0, len(source.ProductContent()))
	for _, pc := range source.ProductContent() {
		child := n.Child(model.TypeContent, pc.Content.ID())
		if child == nil || !child.state.IsSettled() {
			return nil, fmt.Errorf("product %s: content %s is not settled", n.id, pc.Content.ID())
		}
		c, ok := child.settled.(*model.Content)
		if !ok {
			return nil, fmt.Errorf("product %s: content %s settled to %T", n.id, pc.Content.ID(), child.settled)
		}
		pcs = append(pcs, model.ProductContent{Content: c, Enabled: pc.Enabled})
	}
	p.SetProductContent(pcs)
	return p, nil
}

// childrenChanged reports whether any child settled to a different row or
// a new version of its row.
func childrenChanged(n *EntityNode) bool {
	for _, c := range n.children {
		switch c.state {
		case StateAdopt, StateCreate, StateMutate:
			return true
		}
	}
	return false
}

func settledProduct(n *EntityNode, id string) (*model.Product, error) {
	child := n.Child(model.TypeProduct, id)
	if child == nil || !child.state.IsSettled() {
		return nil, fmt.Errorf("product %s: child product %s is not settled", n.id, id)
	}
	if child.state == StateRemove {
		return nil, fmt.Errorf("product %s: child product %s was removed", n.id, id)
	}
	p, ok := child.settled.(*model.Product)
	if !ok {
		return nil, fmt.Errorf("product %s: child product %s settled to %T", n.id, id, child.settled)
	}
	return p, nil
}

// setIdentity gives a mutated entity the row identity of the one it replaces.
func setIdentity(final, existing model.Entity) {
	switch f := final.(type) {
	case *model.Product:
		if e, ok := existing.(*model.Product); ok {
			f.SetUUID(e.UUID())
			f.SetCreated(e.Created())
		}
	case *model.Content:
		if e, ok := existing.(*model.Content); ok {
			f.SetUUID(e.UUID())
			f.SetCreated(e.Created())
		}
	}
}

// record settles the node and appends its change to the plan.
func (r *Resolver) record(n *EntityNode, action NodeState, entity model.Entity, plan *Plan) error {
	if err := n.settle(action, entity); err != nil {
		return err
	}

	ch := store.Change{
		Kind:   changeKind(action),
		Type:   n.typ,
		ID:     n.id,
		Forked: n.forked,
	}
	if n.existing != nil {
		ch.PreviousUUID = n.existing.UUID()
	}
	switch e := entity.(type) {
	case *model.Product:
		ch.Product = e
	case *model.Content:
		ch.Content = e
	}
	plan.ChangeSet.Changes = append(plan.ChangeSet.Changes, ch)
	return nil
}

func changeKind(s NodeState) store.ChangeKind {
	switch s {
	case StateAdopt:
		return store.ChangeAdopt
	case StateCreate:
		return store.ChangeCreate
	case StateMutate:
		return store.ChangeMutate
	case StateRemove:
		return store.ChangeRemove
	default:
		return store.ChangeReuse
	}
}
