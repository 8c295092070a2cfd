package models

import (
	"encoding/json"
	"time"
)

// WorkflowStepType enumerates the executable step kinds of a workflow definition.
type WorkflowStepType string

const (
	StepTypeApproval       WorkflowStepType = "APPROVAL"
	StepTypeEmail          WorkflowStepType = "EMAIL"
	StepTypeNotification   WorkflowStepType = "NOTIFICATION"
	StepTypeCondition      WorkflowStepType = "CONDITION"
	StepTypeDateCondition  WorkflowStepType = "DATE_CONDITION"
	StepTypeValueCondition WorkflowStepType = "VALUE_CONDITION"
	StepTypeDelay          WorkflowStepType = "DELAY"
	StepTypeLogicAnd       WorkflowStepType = "LOGIC_AND"
	StepTypeLogicOr        WorkflowStepType = "LOGIC_OR"
)

// IsCondition reports whether the step type is evaluated rather than waited on.
func (t WorkflowStepType) IsCondition() bool {
	switch t {
	case StepTypeCondition, StepTypeDateCondition, StepTypeValueCondition,
		StepTypeLogicAnd, StepTypeLogicOr:
		return true
	}
	return false
}

// InstanceStatus is the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceCompleted  InstanceStatus = "COMPLETED"
	InstanceRejected   InstanceStatus = "REJECTED"
)

// InstanceStepStatus is the per-instance status of a single step.
type InstanceStepStatus string

const (
	StepPending   InstanceStepStatus = "PENDING"
	StepSkipped   InstanceStepStatus = "SKIPPED"
	StepCompleted InstanceStepStatus = "COMPLETED"
	StepApproved  InstanceStepStatus = "APPROVED"
	StepRejected  InstanceStepStatus = "REJECTED"
)

// Terminal reports whether no further human or automatic action applies.
func (s InstanceStepStatus) Terminal() bool {
	return s != StepPending
}

// Workflow is an administrator-authored approval/automation definition. The
// Definition field holds the serialized node/edge graph exactly as the editor
// produced it; Steps is the flattened, ordered catalog derived from that graph.
type Workflow struct {
	ID          string                  `json:"id" db:"id"`
	Name        string                  `json:"name" db:"name"`
	Description *string                 `json:"description,omitempty" db:"description"`
	Definition  string                  `json:"definition" db:"definition"` // JSONB
	IsActive    bool                    `json:"is_active" db:"is_active"`
	Steps       []*WorkflowStep         `json:"steps,omitempty"`
	Links       []*WorkflowTemplateLink `json:"template_links,omitempty"`
	CreatedAt   time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at" db:"updated_at"`
}

// WorkflowStep is one executable unit of a workflow definition. Order is
// unique within a definition and doubles as the fallback correlation key when
// the config carries no node id.
type WorkflowStep struct {
	ID                  string           `json:"id" db:"id"`
	WorkflowID          string           `json:"workflow_id" db:"workflow_id"`
	Name                string           `json:"name" db:"name"`
	Type                WorkflowStepType `json:"type" db:"type"`
	Order               int              `json:"order" db:"step_order"`
	ApproverUserIDs     string           `json:"approver_user_ids" db:"approver_user_ids"` // JSON array
	RequireAllApprovers bool             `json:"require_all_approvers" db:"require_all_approvers"`
	Config              string           `json:"config" db:"config"` // JSONB
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

// Approvers returns the decoded approver user id set. A missing or malformed
// list yields an empty slice, matching the lenient handling everywhere else.
func (s *WorkflowStep) Approvers() []string {
	if s.ApproverUserIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.ApproverUserIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// HasApprover reports whether userID is in the step's approver set.
func (s *WorkflowStep) HasApprover(userID string) bool {
	for _, id := range s.Approvers() {
		if id == userID {
			return true
		}
	}
	return false
}

// WorkflowTemplateLink attaches a workflow to a document template at an
// ordinal position. External collaborators consult these links to decide
// which workflows to auto-start when a document reaches its trigger state.
type WorkflowTemplateLink struct {
	ID         string    `json:"id" db:"id"`
	WorkflowID string    `json:"workflow_id" db:"workflow_id"`
	TemplateID string    `json:"template_id" db:"template_id"`
	Order      int       `json:"order" db:"link_order"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// WorkflowInstance is one execution of a workflow against one entity.
type WorkflowInstance struct {
	ID            string                  `json:"id" db:"id"`
	WorkflowID    string                  `json:"workflow_id" db:"workflow_id"`
	EntityType    string                  `json:"entity_type" db:"entity_type"`
	EntityID      string                  `json:"entity_id" db:"entity_id"`
	Status        InstanceStatus          `json:"status" db:"status"`
	CurrentStepID *string                 `json:"current_step_id,omitempty" db:"current_step_id"`
	StartedAt     time.Time               `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty" db:"completed_at"`
	Steps         []*WorkflowInstanceStep `json:"steps,omitempty"`
	Workflow      *Workflow               `json:"workflow,omitempty"`
}

// WorkflowInstanceStep carries the per-instance state of one catalog step.
type WorkflowInstanceStep struct {
	ID           string             `json:"id" db:"id"`
	InstanceID   string             `json:"instance_id" db:"instance_id"`
	StepID       string             `json:"step_id" db:"step_id"`
	Status       InstanceStepStatus `json:"status" db:"status"`
	ApprovedByID *string            `json:"approved_by_id,omitempty" db:"approved_by_id"`
	ApprovedAt   *time.Time         `json:"approved_at,omitempty" db:"approved_at"`
	Comment      *string            `json:"comment,omitempty" db:"comment"`
	Step         *WorkflowStep      `json:"step,omitempty"`
}

// PendingApproval is one entry in a user's approval inbox: a PENDING
// instance-step joined with enough context to render it.
type PendingApproval struct {
	InstanceStep *WorkflowInstanceStep `json:"instance_step"`
	Step         *WorkflowStep         `json:"step"`
	Instance     *WorkflowInstance     `json:"instance"`
	WorkflowName string                `json:"workflow_name"`
}

// ApprovalState is the aggregate approval answer for one entity.
type ApprovalState struct {
	CanApprove   bool `json:"canApprove"`
	AllCompleted bool `json:"allCompleted"`
	AnyRejected  bool `json:"anyRejected"`
}
