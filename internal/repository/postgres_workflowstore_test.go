package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cflux/backend/pkg/models"
)

func newTestStore(t *testing.T) (*PostgresWorkflowStore, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../scripts/schema.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return NewPostgresWorkflowStore(pool), pool
}

func testWorkflow(name string) *models.Workflow {
	return &models.Workflow{
		ID:         uuid.New().String(),
		Name:       name,
		Definition: `{"nodes":[],"edges":[]}`,
		IsActive:   true,
		Steps: []*models.WorkflowStep{
			{
				ID:              uuid.New().String(),
				Name:            "Approval",
				Type:            models.StepTypeApproval,
				Order:           1,
				ApproverUserIDs: `["u-1"]`,
				Config:          `{"nodeId":"appr_1"}`,
			},
			{
				ID:              uuid.New().String(),
				Name:            "Mail",
				Type:            models.StepTypeEmail,
				Order:           2,
				ApproverUserIDs: "[]",
				Config:          `{"nodeId":"mail_1","recipients":["a@b.ch"]}`,
			},
		},
	}
}

func testInstance(wf *models.Workflow) *models.WorkflowInstance {
	inst := &models.WorkflowInstance{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		EntityType: models.EntityTypeInvoice,
		EntityID:   uuid.New().String(),
		Status:     models.InstanceInProgress,
		StartedAt:  time.Now(),
	}
	for _, st := range wf.Steps {
		inst.Steps = append(inst.Steps, &models.WorkflowInstanceStep{
			ID:     uuid.New().String(),
			StepID: st.ID,
			Status: models.StepPending,
		})
	}
	return inst
}

func TestPostgresWorkflowStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	store, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("create and get workflow with steps", func(t *testing.T) {
		wf := testWorkflow("Invoice approval")
		require.NoError(t, store.CreateWorkflow(ctx, wf))

		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "Approval", got.Steps[0].Name)
		assert.Equal(t, 1, got.Steps[0].Order)
	})

	t.Run("get missing workflow", func(t *testing.T) {
		_, err := store.GetWorkflow(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update step in place", func(t *testing.T) {
		wf := testWorkflow("Editable")
		require.NoError(t, store.CreateWorkflow(ctx, wf))

		st := wf.Steps[0]
		st.Name = "Approval v2"
		st.ApproverUserIDs = `["u-1","u-2"]`
		require.NoError(t, store.UpdateStep(ctx, st))

		got, err := store.GetStep(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, "Approval v2", got.Name)
		assert.Equal(t, []string{"u-1", "u-2"}, got.Approvers())
	})

	t.Run("delete workflow blocked by template link", func(t *testing.T) {
		wf := testWorkflow("Linked")
		require.NoError(t, store.CreateWorkflow(ctx, wf))
		templateID := uuid.New().String()
		require.NoError(t, store.LinkTemplate(ctx, &models.WorkflowTemplateLink{
			ID:         uuid.New().String(),
			WorkflowID: wf.ID,
			TemplateID: templateID,
			Order:      1,
			IsActive:   true,
		}))

		assert.ErrorIs(t, store.DeleteWorkflow(ctx, wf.ID), ErrWorkflowInUse)

		links, err := store.ListTemplateLinks(ctx, templateID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, wf.ID, links[0].WorkflowID)

		require.NoError(t, store.UnlinkTemplate(ctx, templateID, wf.ID))
		assert.NoError(t, store.DeleteWorkflow(ctx, wf.ID))
	})

	t.Run("instance lifecycle", func(t *testing.T) {
		wf := testWorkflow("Runner")
		require.NoError(t, store.CreateWorkflow(ctx, wf))

		inst := testInstance(wf)
		require.NoError(t, store.CreateInstance(ctx, inst))

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceInProgress, got.Status)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, models.StepTypeApproval, got.Steps[0].Step.Type)

		referenced, err := store.ReferencedStepIDs(ctx, wf.ID)
		require.NoError(t, err)
		assert.Len(t, referenced, 2)

		stepID := wf.Steps[0].ID
		require.NoError(t, store.SetInstanceCurrentStep(ctx, inst.ID, &stepID))

		now := time.Now()
		require.NoError(t, store.SetInstanceStatus(ctx, inst.ID, models.InstanceCompleted, &now))
		got, err = store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("guarded status transition", func(t *testing.T) {
		wf := testWorkflow("Guarded")
		require.NoError(t, store.CreateWorkflow(ctx, wf))
		inst := testInstance(wf)
		require.NoError(t, store.CreateInstance(ctx, inst))

		approver := "u-1"
		now := time.Now()
		comment := "ok"
		change := StepStatusChange{
			From:         models.StepPending,
			To:           models.StepApproved,
			ApprovedByID: &approver,
			ApprovedAt:   &now,
			Comment:      &comment,
		}
		require.NoError(t, store.ChangeInstanceStepStatus(ctx, inst.Steps[0].ID, change))

		// Second transition from PENDING loses.
		assert.ErrorIs(t, store.ChangeInstanceStepStatus(ctx, inst.Steps[0].ID, change), ErrConflict)

		assert.ErrorIs(t, store.ChangeInstanceStepStatus(ctx, uuid.New().String(), change), ErrNotFound)

		got, err := store.GetInstanceStep(ctx, inst.Steps[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepApproved, got.Status)
		assert.Equal(t, "u-1", *got.ApprovedByID)
		assert.Equal(t, "ok", *got.Comment)
	})

	t.Run("pending approvals for user", func(t *testing.T) {
		wf := testWorkflow("Inbox")
		require.NoError(t, store.CreateWorkflow(ctx, wf))
		inst := testInstance(wf)
		require.NoError(t, store.CreateInstance(ctx, inst))

		approvals, err := store.ListPendingApprovals(ctx, "u-1")
		require.NoError(t, err)
		assert.NotEmpty(t, approvals)
		for _, a := range approvals {
			assert.Equal(t, models.StepPending, a.InstanceStep.Status)
		}

		approvals, err = store.ListPendingApprovals(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, approvals)
	})

	t.Run("delete instances for pair", func(t *testing.T) {
		wf := testWorkflow("Replay")
		require.NoError(t, store.CreateWorkflow(ctx, wf))
		inst := testInstance(wf)
		require.NoError(t, store.CreateInstance(ctx, inst))

		require.NoError(t, store.DeleteInstancesForPair(ctx, wf.ID, inst.EntityType, inst.EntityID))

		instances, err := store.ListInstancesForEntity(ctx, inst.EntityType, inst.EntityID)
		require.NoError(t, err)
		assert.Empty(t, instances)

		_, err = store.GetInstanceStep(ctx, inst.Steps[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
