package refresh

import (
	"fmt"
	"slices"

	"github.com/roach88/refresher/internal/model"
)

// NodeState is the resolution state of an EntityNode.
type NodeState string

const (
	StateUnresolved NodeState = "UNRESOLVED"
	StateEvaluated  NodeState = "EVALUATED"
	StateReuse      NodeState = "REUSE"
	StateAdopt      NodeState = "ADOPT"
	StateCreate     NodeState = "CREATE"
	StateMutate     NodeState = "MUTATE"
	StateRemove     NodeState = "REMOVE"
	StateApplied    NodeState = "APPLIED"
)

var nodeTransitions = map[NodeState][]NodeState{
	StateUnresolved: {StateEvaluated},
	StateEvaluated:  {StateReuse, StateAdopt, StateCreate, StateMutate, StateRemove},
	StateReuse:      {StateApplied},
	StateAdopt:      {StateApplied},
	StateCreate:     {StateApplied},
	StateMutate:     {StateApplied},
	StateRemove:     {StateApplied},
}

// IsSettled reports whether s is one of the resolved action states.
func (s NodeState) IsSettled() bool {
	switch s {
	case StateReuse, StateAdopt, StateCreate, StateMutate, StateRemove:
		return true
	}
	return false
}

// EntityNode is the per-ID reconciliation unit of one refresh. It is built
// once by a NodeBuilder, settled once by the Resolver and then discarded.
type EntityNode struct {
	typ   model.EntityType
	id    string
	owner string

	existing   model.Entity
	imported   model.Entity
	candidates []model.Entity
	children   []*EntityNode

	state   NodeState
	applied NodeState
	settled model.Entity
	forked  bool
}

// NewEntityNode creates an unresolved node.
func NewEntityNode(typ model.EntityType, owner, id string) *EntityNode {
	return &EntityNode{typ: typ, id: id, owner: owner, state: StateUnresolved}
}

func (n *EntityNode) EntityType() model.EntityType { return n.typ }
func (n *EntityNode) ID() string                   { return n.id }
func (n *EntityNode) Owner() string                { return n.owner }
func (n *EntityNode) State() NodeState             { return n.state }

// Existing returns the owner's current entity, or nil.
func (n *EntityNode) Existing() model.Entity { return n.existing }

// Imported returns the unpersisted entity built from the import, or nil when
// the entity was deleted upstream.
func (n *EntityNode) Imported() model.Entity { return n.imported }

// Candidates returns stored entities whose version equals the import's.
func (n *EntityNode) Candidates() []model.Entity { return n.candidates }

// Children returns the child nodes in build order.
func (n *EntityNode) Children() []*EntityNode { return n.children }

// Settled returns the entity the owner is associated with after resolution.
// For a removal it is the row being dropped.
func (n *EntityNode) Settled() model.Entity { return n.settled }

// Action returns the settled action, which survives the move to APPLIED.
func (n *EntityNode) Action() NodeState {
	if n.state == StateApplied {
		return n.applied
	}
	return n.state
}

// Forked reports whether a create copied a shared row instead of mutating it.
func (n *EntityNode) Forked() bool { return n.forked }

func (n *EntityNode) SetExisting(e model.Entity) *EntityNode {
	n.existing = e
	return n
}

func (n *EntityNode) SetImported(e model.Entity) *EntityNode {
	n.imported = e
	return n
}

func (n *EntityNode) SetCandidates(c []model.Entity) *EntityNode {
	n.candidates = c
	return n
}

// AddChild links a child node once. Adding the same node again is a no-op.
func (n *EntityNode) AddChild(child *EntityNode) {
	if child == nil || slices.Contains(n.children, child) {
		return
	}
	n.children = append(n.children, child)
}

// Child returns the child node with the given type and ID.
func (n *EntityNode) Child(typ model.EntityType, id string) *EntityNode {
	for _, c := range n.children {
		if c.typ == typ && c.id == id {
			return c
		}
	}
	return nil
}

// transition moves the node to the next state. Illegal transitions are errors.
func (n *EntityNode) transition(to NodeState) error {
	if !slices.Contains(nodeTransitions[n.state], to) {
		return fmt.Errorf("%s %s: illegal node transition %s -> %s", n.typ, n.id, n.state, to)
	}
	if to == StateApplied {
		n.applied = n.state
	}
	n.state = to
	return nil
}

// settle records the resolved action and the resulting entity.
func (n *EntityNode) settle(action NodeState, entity model.Entity) error {
	if !action.IsSettled() {
		return fmt.Errorf("%s %s: %s is not a settled state", n.typ, n.id, action)
	}
	if err := n.transition(action); err != nil {
		return err
	}
	n.settled = entity
	return nil
}

func (n *EntityNode) String() string {
	return fmt.Sprintf("%s %s [%s]", n.typ, n.id, n.state)
}
