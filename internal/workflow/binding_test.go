package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cflux/backend/pkg/models"
)

func step(id string, order int, typ models.WorkflowStepType, config string) *models.WorkflowStep {
	return &models.WorkflowStep{ID: id, Order: order, Type: typ, Config: config}
}

func TestCorrelationBindingByNodeID(t *testing.T) {
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)

	steps := []*models.WorkflowStep{
		step("st-cond", 1, models.StepTypeValueCondition, `{"nodeId":"cond_1"}`),
		step("st-a1", 2, models.StepTypeApproval, `{"nodeId":"appr_1"}`),
		step("st-a2", 3, models.StepTypeApproval, `{"nodeId":"appr_2"}`),
	}

	b := CorrelationBinding{}.Bind(g, steps)
	assert.Equal(t, "st-cond", b.StepID("cond_1"))
	assert.Equal(t, "st-a1", b.StepID("appr_1"))
	assert.Equal(t, "st-a2", b.StepID("appr_2"))
	assert.Equal(t, "", b.StepID("start_node"))

	nodeID, ok := b.NodeID("st-a2")
	assert.True(t, ok)
	assert.Equal(t, "appr_2", nodeID)
}

func TestCorrelationBindingPositionalFallback(t *testing.T) {
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)

	// Hand-authored catalog: no nodeId anywhere, deliberately unsorted.
	steps := []*models.WorkflowStep{
		step("st-a2", 3, models.StepTypeApproval, ""),
		step("st-cond", 1, models.StepTypeValueCondition, "{}"),
		step("st-a1", 2, models.StepTypeApproval, ""),
	}

	b := CorrelationBinding{}.Bind(g, steps)
	assert.Equal(t, "st-cond", b.StepID("cond_1"))
	assert.Equal(t, "st-a1", b.StepID("appr_1"))
	assert.Equal(t, "st-a2", b.StepID("appr_2"))
}

func TestCorrelationBindingPartialCorrelationWins(t *testing.T) {
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)

	// One correlated step disables the positional fallback entirely.
	steps := []*models.WorkflowStep{
		step("st-a1", 1, models.StepTypeApproval, `{"nodeId":"appr_1"}`),
		step("st-a2", 2, models.StepTypeApproval, ""),
	}

	b := CorrelationBinding{}.Bind(g, steps)
	assert.Equal(t, "st-a1", b.StepID("appr_1"))
	assert.Equal(t, "", b.StepID("appr_2"))
}

func TestCorrelationBindingMoreNodesThanSteps(t *testing.T) {
	g, err := ParseDefinition(sampleDefinition)
	assert.NoError(t, err)

	steps := []*models.WorkflowStep{step("st-cond", 1, models.StepTypeValueCondition, "")}
	b := CorrelationBinding{}.Bind(g, steps)
	assert.Len(t, b, 1)
	assert.Equal(t, "st-cond", b.StepID("cond_1"))
}
