package repository

import (
	"context"
	"errors"
	"time"

	"cflux/backend/pkg/models"
)

var (
	// ErrNotFound signals a missing row. Callers map it to a 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a compare-and-swap status update that lost the
	// race: the row was no longer in the expected status.
	ErrConflict = errors.New("status conflict")
	// ErrWorkflowInUse rejects deleting a workflow still referenced by
	// template links.
	ErrWorkflowInUse = errors.New("workflow is referenced by template links")
)

// StepStatusChange describes a guarded instance-step transition.
type StepStatusChange struct {
	From         models.InstanceStepStatus
	To           models.InstanceStepStatus
	ApprovedByID *string
	ApprovedAt   *time.Time
	Comment      *string
}

// WorkflowStore is the persistence boundary of the engine.
type WorkflowStore interface {
	// Definitions
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Step catalog
	CreateStep(ctx context.Context, st *models.WorkflowStep) error
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
	UpdateStep(ctx context.Context, st *models.WorkflowStep) error
	DeleteStep(ctx context.Context, id string) error
	// ReferencedStepIDs returns the ids of the workflow's steps that any
	// instance-step points at; those must never be deleted and recreated.
	ReferencedStepIDs(ctx context.Context, workflowID string) (map[string]bool, error)

	// Template links
	LinkTemplate(ctx context.Context, link *models.WorkflowTemplateLink) error
	UnlinkTemplate(ctx context.Context, templateID, workflowID string) error
	ListTemplateLinks(ctx context.Context, templateID string) ([]*models.WorkflowTemplateLink, error)

	// Instances
	// CreateInstance persists the instance together with all of its
	// instance-steps in one transaction.
	CreateInstance(ctx context.Context, inst *models.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	ListInstancesForEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowInstance, error)
	DeleteInstancesForPair(ctx context.Context, workflowID, entityType, entityID string) error
	SetInstanceStatus(ctx context.Context, instanceID string, status models.InstanceStatus, completedAt *time.Time) error
	SetInstanceCurrentStep(ctx context.Context, instanceID string, stepID *string) error

	// Instance steps
	GetInstanceStep(ctx context.Context, id string) (*models.WorkflowInstanceStep, error)
	// ChangeInstanceStepStatus applies the transition only while the row is
	// still in change.From, returning ErrConflict otherwise.
	ChangeInstanceStepStatus(ctx context.Context, id string, change StepStatusChange) error
	// ListPendingApprovals returns PENDING instance-steps whose approver set
	// may contain userID, oldest instance first. The match is a coarse
	// substring filter; the service re-checks exact membership.
	ListPendingApprovals(ctx context.Context, userID string) ([]*models.PendingApproval, error)
}
