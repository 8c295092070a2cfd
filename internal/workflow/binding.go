package workflow

import (
	"sort"

	"cflux/backend/pkg/models"
)

// Binding maps graph node ids to their catalog steps.
type Binding map[string]*models.WorkflowStep

// StepID returns the bound step's id for a node, or "" when unbound.
func (b Binding) StepID(nodeID string) string {
	if st, ok := b[nodeID]; ok {
		return st.ID
	}
	return ""
}

// NodeID performs the reverse lookup: the graph node a step is bound to.
func (b Binding) NodeID(stepID string) (string, bool) {
	for nodeID, st := range b {
		if st.ID == stepID {
			return nodeID, true
		}
	}
	return "", false
}

// BindingStrategy produces the node-to-step mapping for one definition.
// It is an interface so the positional fallback below can later be replaced
// by a strict correlation-id requirement without touching the resolver.
type BindingStrategy interface {
	Bind(g Graph, steps []*models.WorkflowStep) Binding
}

// CorrelationBinding is the default strategy. Steps saved through the graph
// editor carry the originating node id in their config and are mapped
// directly. Catalogs authored against the step API carry no correlation at
// all; for those the strategy falls back to zipping the non-start/end nodes,
// in their given order, 1:1 with the steps in ascending order. The fallback
// is best-effort and order-dependent by nature.
type CorrelationBinding struct{}

func (CorrelationBinding) Bind(g Graph, steps []*models.WorkflowStep) Binding {
	b := Binding{}

	correlated := false
	for _, st := range steps {
		if nodeID := ParseStepConfig(st.Config).NodeID; nodeID != "" {
			b[nodeID] = st
			correlated = true
		}
	}
	if correlated {
		return b
	}

	ordered := make([]*models.WorkflowStep, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	nodes := g.StepNodes()
	for i := 0; i < len(nodes) && i < len(ordered); i++ {
		b[nodes[i].ID] = ordered[i]
	}
	return b
}
