package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/model"
)

func TestEntityNode_LegalLifecycle(t *testing.T) {
	for _, action := range []NodeState{StateReuse, StateAdopt, StateCreate, StateMutate, StateRemove} {
		t.Run(string(action), func(t *testing.T) {
			n := NewEntityNode(model.TypeProduct, "acme", "X")
			assert.Equal(t, StateUnresolved, n.State())

			require.NoError(t, n.transition(StateEvaluated))
			require.NoError(t, n.settle(action, model.NewProduct("X", "Widget")))
			assert.Equal(t, action, n.Action())

			require.NoError(t, n.transition(StateApplied))
			assert.Equal(t, StateApplied, n.State())
			assert.Equal(t, action, n.Action(), "action survives APPLIED")
		})
	}
}

func TestEntityNode_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []NodeState
		next NodeState
	}{
		{"settle before evaluate", nil, StateCreate},
		{"apply before settle", []NodeState{StateEvaluated}, StateApplied},
		{"evaluate twice", []NodeState{StateEvaluated}, StateEvaluated},
		{"second action", []NodeState{StateEvaluated, StateReuse}, StateCreate},
		{"apply twice", []NodeState{StateEvaluated, StateRemove, StateApplied}, StateApplied},
		{"back to unresolved", []NodeState{StateEvaluated}, StateUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewEntityNode(model.TypeContent, "acme", "c1")
			for _, s := range tt.path {
				require.NoError(t, n.transition(s))
			}
			before := n.State()

			err := n.transition(tt.next)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "illegal node transition")
			assert.Equal(t, before, n.State())
		})
	}
}

func TestEntityNode_SettleRejectsNonAction(t *testing.T) {
	n := NewEntityNode(model.TypeContent, "acme", "c1")
	require.NoError(t, n.transition(StateEvaluated))

	assert.Error(t, n.settle(StateApplied, nil))
	assert.Equal(t, StateEvaluated, n.State())
}

func TestEntityNode_AddChildOnce(t *testing.T) {
	parent := NewEntityNode(model.TypeProduct, "acme", "X")
	child := NewEntityNode(model.TypeProduct, "acme", "Y")
	content := NewEntityNode(model.TypeContent, "acme", "Y")

	parent.AddChild(child)
	parent.AddChild(child)
	parent.AddChild(content)
	parent.AddChild(nil)

	assert.Len(t, parent.Children(), 2)
	assert.Same(t, child, parent.Child(model.TypeProduct, "Y"))
	assert.Same(t, content, parent.Child(model.TypeContent, "Y"))
	assert.Nil(t, parent.Child(model.TypeProduct, "Z"))
}
