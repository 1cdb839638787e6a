package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/refresher/internal/model"
)

// NodeBuilder builds the node for one ID of one entity type. Builders
// resolve child IDs through the factory they are handed.
type NodeBuilder interface {
	EntityType() model.EntityType
	BuildNode(ctx context.Context, factory *NodeFactory, owner, id string) (*EntityNode, error)
}

type nodeKey struct {
	typ model.EntityType
	id  string
}

// nodeEntry is a memoized build. done is closed once node or err is set.
type nodeEntry struct {
	key  nodeKey
	done chan struct{}
	node *EntityNode
	err  error

	// waitsFor is the entry this build is blocked on, if any. It lets a
	// waiter detect that two concurrent builds are waiting on each other.
	waitsFor *nodeEntry
}

type buildPathKey struct{}

// buildPath returns the keys being built by the calling goroutine, outermost first.
func buildPath(ctx context.Context) []nodeKey {
	path, _ := ctx.Value(buildPathKey{}).([]nodeKey)
	return path
}

func withBuildPath(ctx context.Context, path []nodeKey, key nodeKey) context.Context {
	next := make([]nodeKey, len(path), len(path)+1)
	copy(next, path)
	return context.WithValue(ctx, buildPathKey{}, append(next, key))
}

// NodeFactory builds each (type, id) node exactly once for one refresh and
// hands out the same node to every caller. It is safe for concurrent use:
// a caller asking for a node another goroutine is building waits for it.
type NodeFactory struct {
	owner    string
	builders map[model.EntityType]NodeBuilder

	mu      sync.Mutex
	entries map[nodeKey]*nodeEntry
}

// NewNodeFactory creates a factory for one owner's refresh.
func NewNodeFactory(owner string, builders ...NodeBuilder) *NodeFactory {
	f := &NodeFactory{
		owner:    owner,
		builders: make(map[model.EntityType]NodeBuilder, len(builders)),
		entries:  make(map[nodeKey]*nodeEntry),
	}
	for _, b := range builders {
		f.builders[b.EntityType()] = b
	}
	return f
}

// BuildNode returns the node for (typ, id), building it on first use.
//
// A build that reaches a key already on its own build path, or that would
// wait on a build which is itself waiting on this one, fails with a cycle
// error naming the ID chain.
func (f *NodeFactory) BuildNode(ctx context.Context, typ model.EntityType, id string) (*EntityNode, error) {
	builder, ok := f.builders[typ]
	if !ok {
		return nil, fmt.Errorf("no node builder for entity type %q", typ)
	}

	key := nodeKey{typ: typ, id: id}
	path := buildPath(ctx)
	for i, k := range path {
		if k == key {
			return nil, model.NewCycleError(typ, path[i].id, chainOf(path[i:], key))
		}
	}

	f.mu.Lock()
	entry, found := f.entries[key]
	if !found {
		entry = &nodeEntry{key: key, done: make(chan struct{})}
		f.entries[key] = entry
		f.mu.Unlock()
		return f.build(ctx, builder, entry, path)
	}

	select {
	case <-entry.done:
		f.mu.Unlock()
		return entry.node, entry.err
	default:
	}

	// In flight elsewhere. Refuse to wait if that build is waiting on us.
	if chain, cycle := f.waitCycle(entry, path); cycle {
		f.mu.Unlock()
		return nil, model.NewCycleError(typ, chain[0], chain)
	}
	for _, k := range path {
		f.entries[k].waitsFor = entry
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		for _, k := range path {
			f.entries[k].waitsFor = nil
		}
		f.mu.Unlock()
	}()

	select {
	case <-entry.done:
		return entry.node, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *NodeFactory) build(ctx context.Context, builder NodeBuilder, entry *nodeEntry, path []nodeKey) (*EntityNode, error) {
	defer close(entry.done)

	node, err := builder.BuildNode(withBuildPath(ctx, path, entry.key), f, f.owner, entry.key.id)
	if err == nil {
		err = node.transition(StateEvaluated)
	}
	if err != nil {
		entry.err = err
		return nil, err
	}
	entry.node = node
	return node, nil
}

// waitCycle follows the chain of blocked builds from target. If it reaches
// a key on path, waiting would deadlock. f.mu must be held.
func (f *NodeFactory) waitCycle(target *nodeEntry, path []nodeKey) ([]string, bool) {
	onPath := make(map[nodeKey]int, len(path))
	for i, k := range path {
		onPath[k] = i
	}

	var walked []nodeKey
	seen := make(map[*nodeEntry]bool)
	for e := target; e != nil && !seen[e]; e = e.waitsFor {
		seen[e] = true
		if i, ok := onPath[e.key]; ok {
			return chainOf(append(append([]nodeKey{}, path[i:]...), walked...), e.key), true
		}
		walked = append(walked, e.key)
	}
	return nil, false
}

// Node returns a node that has already been built, or nil.
func (f *NodeFactory) Node(typ model.EntityType, id string) *EntityNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[nodeKey{typ: typ, id: id}]
	if !ok {
		return nil
	}
	select {
	case <-entry.done:
		return entry.node
	default:
		return nil
	}
}

// Nodes returns every successfully built node, ordered by type then ID.
func (f *NodeFactory) Nodes() []*EntityNode {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*EntityNode, 0, len(f.entries))
	for _, entry := range f.entries {
		select {
		case <-entry.done:
			if entry.node != nil {
				out = append(out, entry.node)
			}
		default:
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ < out[j].typ
		}
		return out[i].id < out[j].id
	})
	return out
}

func chainOf(keys []nodeKey, last nodeKey) []string {
	chain := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		chain = append(chain, k.id)
	}
	return append(chain, last.id)
}
