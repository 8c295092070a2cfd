package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cflux/backend/pkg/models"
)

const sampleDefinition = `{
  "nodes": [
    {"id": "start_node", "type": "start", "data": {"label": "Start"}},
    {"id": "cond_1", "type": "valueCondition", "data": {"config": {"name": "Big invoice?", "field": "totalAmount", "operator": "greater", "value": 1000}}},
    {"id": "appr_1", "type": "approval", "data": {"config": {"name": "CFO", "approverUserIds": ["u-cfo"]}}},
    {"id": "appr_2", "type": "approval", "data": {"config": {"name": "Teamlead", "approverUserIds": ["u-lead"]}}},
    {"id": "end_node", "type": "end", "data": {"label": "Ende"}}
  ],
  "edges": [
    {"id": "e1", "source": "start_node", "target": "cond_1"},
    {"id": "e2", "source": "cond_1", "target": "appr_1", "sourceHandle": "true"},
    {"id": "e3", "source": "cond_1", "target": "appr_2", "sourceHandle": "false"}
  ]
}`

func TestParseDefinition(t *testing.T) {
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)
	assert.Len(t, g.Nodes, 5)
	assert.Len(t, g.Edges, 3)

	start, ok := g.StartNode()
	assert.True(t, ok)
	assert.Equal(t, "start_node", start.ID)

	cond, ok := g.NodeByID("cond_1")
	assert.True(t, ok)
	assert.Equal(t, NodeValueCondition, cond.Type)
	assert.Equal(t, "totalAmount", cond.Data.Config.Field)
	assert.Equal(t, float64(1000), cond.Data.Config.Value)

	steps := g.StepNodes()
	assert.Len(t, steps, 3)
	assert.Equal(t, "cond_1", steps[0].ID)

	out := g.OutgoingEdges("cond_1")
	assert.Len(t, out, 2)
	assert.Equal(t, "true", out[0].SourceHandle)
}

func TestParseDefinitionMalformed(t *testing.T) {
	g, err := ParseDefinition("{nodes: broken")
	assert.Error(t, err)
	assert.Empty(t, g.Nodes)

	_, ok := g.StartNode()
	assert.False(t, ok)
}

func TestParseDefinitionEmpty(t *testing.T) {
	g, err := ParseDefinition("")
	assert.NoError(t, err)
	assert.Empty(t, g.Nodes)
}

func TestParseStepConfig(t *testing.T) {
	cfg := ParseStepConfig(`{"nodeId":"appr_1","name":"CFO","approverUserIds":["u-1","u-2"],"requireAllApprovers":true}`)
	assert.Equal(t, "appr_1", cfg.NodeID)
	assert.Equal(t, []string{"u-1", "u-2"}, cfg.ApproverUserIDs)
	assert.True(t, cfg.RequireAllApprovers)

	assert.Equal(t, StepConfig{}, ParseStepConfig(""))
	assert.Equal(t, StepConfig{}, ParseStepConfig("not json"))
}

func TestNodeTypeStepType(t *testing.T) {
	assert.Equal(t, models.StepTypeApproval, NodeApproval.StepType(StepConfig{}))
	assert.Equal(t, models.StepTypeValueCondition, NodeValueCondition.StepType(StepConfig{}))
	assert.Equal(t, models.StepTypeLogicOr, NodeLogic.StepType(StepConfig{LogicType: "OR"}))
	assert.Equal(t, models.StepTypeLogicAnd, NodeLogic.StepType(StepConfig{LogicType: "AND"}))
	assert.Equal(t, models.StepTypeDelay, NodeDelay.StepType(StepConfig{}))
}
