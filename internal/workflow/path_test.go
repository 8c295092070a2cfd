package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cflux/backend/pkg/models"
)

func bindSample(t *testing.T) (Graph, Binding) {
	t.Helper()
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)

	steps := []*models.WorkflowStep{
		step("st-cond", 1, models.StepTypeValueCondition, `{"nodeId":"cond_1"}`),
		step("st-a1", 2, models.StepTypeApproval, `{"nodeId":"appr_1"}`),
		step("st-a2", 3, models.StepTypeApproval, `{"nodeId":"appr_2"}`),
	}
	return g, CorrelationBinding{}.Bind(g, steps)
}

func TestResolveActivePathTrueBranch(t *testing.T) {
	g, b := bindSample(t)

	path := ResolveActivePath(g, b, map[string]bool{"cond_1": true}, ResolveOptions{})
	assert.True(t, path.Active("st-cond"))
	assert.True(t, path.Active("st-a1"))
	assert.False(t, path.Active("st-a2"))
	assert.Equal(t, "st-a1", path.FirstApprovalStepID)
}

func TestResolveActivePathFalseBranch(t *testing.T) {
	g, b := bindSample(t)

	path := ResolveActivePath(g, b, map[string]bool{"cond_1": false}, ResolveOptions{})
	assert.True(t, path.Active("st-cond"))
	assert.False(t, path.Active("st-a1"))
	assert.True(t, path.Active("st-a2"))
	assert.Equal(t, "st-a2", path.FirstApprovalStepID)
}

func TestResolveActivePathUnevaluatedCondition(t *testing.T) {
	g, b := bindSample(t)

	// No evaluation result: only the hop past start activates.
	path := ResolveActivePath(g, b, nil, ResolveOptions{})
	assert.True(t, path.Active("st-cond"))
	assert.False(t, path.Active("st-a1"))
	assert.False(t, path.Active("st-a2"))
	assert.Equal(t, "", path.FirstApprovalStepID)
}

func TestResolveActivePathNoStartNode(t *testing.T) {
	g := Graph{Nodes: []Node{{ID: "a", Type: NodeApproval}}}
	path := ResolveActivePath(g, Binding{}, nil, ResolveOptions{})
	assert.Empty(t, path.ActiveStepIDs)
}

// Two chained approvals behind the condition: the historical traversal stops
// one hop past the condition, so the second approval stays inactive.
const chainedDefinition = `{
  "nodes": [
    {"id": "start_node", "type": "start", "data": {}},
    {"id": "cond_1", "type": "valueCondition", "data": {"config": {"field": "totalAmount", "operator": "greater", "value": 100}}},
    {"id": "appr_1", "type": "approval", "data": {"config": {}}},
    {"id": "appr_2", "type": "approval", "data": {"config": {}}}
  ],
  "edges": [
    {"source": "start_node", "target": "cond_1"},
    {"source": "cond_1", "target": "appr_1", "sourceHandle": "true"},
    {"source": "appr_1", "target": "appr_2"}
  ]
}`

func TestResolveActivePathShallowTraversalDepth(t *testing.T) {
	g, err := ParseDefinition(chainedDefinition)
	assert.NoError(t, err)

	steps := []*models.WorkflowStep{
		step("st-cond", 1, models.StepTypeValueCondition, `{"nodeId":"cond_1"}`),
		step("st-a1", 2, models.StepTypeApproval, `{"nodeId":"appr_1"}`),
		step("st-a2", 3, models.StepTypeApproval, `{"nodeId":"appr_2"}`),
	}
	b := CorrelationBinding{}.Bind(g, steps)

	path := ResolveActivePath(g, b, map[string]bool{"cond_1": true}, ResolveOptions{})
	assert.True(t, path.Active("st-a1"))
	assert.False(t, path.Active("st-a2"), "shallow traversal must not reach past one hop")
}

func TestResolveActivePathFullTraversal(t *testing.T) {
	g, err := ParseDefinition(chainedDefinition)
	assert.NoError(t, err)

	steps := []*models.WorkflowStep{
		step("st-cond", 1, models.StepTypeValueCondition, `{"nodeId":"cond_1"}`),
		step("st-a1", 2, models.StepTypeApproval, `{"nodeId":"appr_1"}`),
		step("st-a2", 3, models.StepTypeApproval, `{"nodeId":"appr_2"}`),
	}
	b := CorrelationBinding{}.Bind(g, steps)

	path := ResolveActivePath(g, b, map[string]bool{"cond_1": true}, ResolveOptions{FullTraversal: true})
	assert.True(t, path.Active("st-a1"))
	assert.True(t, path.Active("st-a2"))
	assert.Equal(t, "st-a1", path.FirstApprovalStepID)

	// The false branch was not taken; with no match nothing past the
	// condition activates.
	path = ResolveActivePath(g, b, map[string]bool{"cond_1": false}, ResolveOptions{FullTraversal: true})
	assert.False(t, path.Active("st-a1"))
	assert.False(t, path.Active("st-a2"))
}
