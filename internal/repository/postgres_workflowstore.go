package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cflux/backend/pkg/models"
)

// PostgresWorkflowStore is the PostgreSQL implementation of WorkflowStore.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const workflowColumns = "id, name, description, definition, is_active, created_at, updated_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Definition, &wf.IsActive, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// CreateWorkflow inserts the definition together with its step catalog.
func (s *PostgresWorkflowStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO workflows (id, name, description, definition, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.Name, wf.Description, wf.Definition, wf.IsActive, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, st := range wf.Steps {
		st.WorkflowID = wf.ID
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetWorkflow loads a definition with its ordered steps and template links.
func (s *PostgresWorkflowStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := scanWorkflow(s.db.QueryRow(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id))
	if err != nil {
		return nil, err
	}

	wf.Steps, err = s.stepsForWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, workflow_id, template_id, link_order, is_active, created_at
		 FROM workflow_template_links WHERE workflow_id = $1 ORDER BY link_order`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l models.WorkflowTemplateLink
		if err := rows.Scan(&l.ID, &l.WorkflowID, &l.TemplateID, &l.Order, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, err
		}
		wf.Links = append(wf.Links, &l)
	}
	return wf, rows.Err()
}

// ListWorkflows returns every definition with its steps, newest first.
func (s *PostgresWorkflowStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+workflowColumns+" FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		if wf.Steps, err = s.stepsForWorkflow(ctx, wf.ID); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// UpdateWorkflow updates the definition fields, not the step catalog.
func (s *PostgresWorkflowStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET name = $1, description = $2, definition = $3, is_active = $4, updated_at = $5
		 WHERE id = $6`,
		wf.Name, wf.Description, wf.Definition, wf.IsActive, time.Now(), wf.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflow removes a definition unless a template link still needs it.
func (s *PostgresWorkflowStore) DeleteWorkflow(ctx context.Context, id string) error {
	var links int
	if err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM workflow_template_links WHERE workflow_id = $1", id).Scan(&links); err != nil {
		return err
	}
	if links > 0 {
		return ErrWorkflowInUse
	}

	tag, err := s.db.Exec(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const stepColumns = "id, workflow_id, name, type, step_order, approver_user_ids, require_all_approvers, config, created_at, updated_at"

func scanStep(row pgx.Row) (*models.WorkflowStep, error) {
	var st models.WorkflowStep
	err := row.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.Type, &st.Order,
		&st.ApproverUserIDs, &st.RequireAllApprovers, &st.Config, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresWorkflowStore) stepsForWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order", workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func insertStep(ctx context.Context, tx pgx.Tx, st *models.WorkflowStep) error {
	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	_, err := tx.Exec(ctx,
		`INSERT INTO workflow_steps (id, workflow_id, name, type, step_order, approver_user_ids, require_all_approvers, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		st.ID, st.WorkflowID, st.Name, st.Type, st.Order, st.ApproverUserIDs,
		st.RequireAllApprovers, st.Config, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

// CreateStep inserts a single catalog step.
func (s *PostgresWorkflowStore) CreateStep(ctx context.Context, st *models.WorkflowStep) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := insertStep(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetStep loads one catalog step.
func (s *PostgresWorkflowStore) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	return scanStep(s.db.QueryRow(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE id = $1", id))
}

// UpdateStep rewrites a catalog step in place, preserving its identity.
func (s *PostgresWorkflowStore) UpdateStep(ctx context.Context, st *models.WorkflowStep) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_steps
		 SET name = $1, type = $2, step_order = $3, approver_user_ids = $4, require_all_approvers = $5, config = $6, updated_at = $7
		 WHERE id = $8`,
		st.Name, st.Type, st.Order, st.ApproverUserIDs, st.RequireAllApprovers, st.Config, time.Now(), st.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStep removes a catalog step.
func (s *PostgresWorkflowStore) DeleteStep(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM workflow_steps WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReferencedStepIDs returns the step ids of a workflow that instance history
// points at.
func (s *PostgresWorkflowStore) ReferencedStepIDs(ctx context.Context, workflowID string) (map[string]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT wis.step_id
		 FROM workflow_instance_steps wis
		 JOIN workflow_steps ws ON ws.id = wis.step_id
		 WHERE ws.workflow_id = $1`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	referenced := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		referenced[id] = true
	}
	return referenced, rows.Err()
}

// LinkTemplate attaches a workflow to a template.
func (s *PostgresWorkflowStore) LinkTemplate(ctx context.Context, link *models.WorkflowTemplateLink) error {
	link.CreatedAt = time.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_template_links (id, workflow_id, template_id, link_order, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.WorkflowID, link.TemplateID, link.Order, link.IsActive, link.CreatedAt)
	return err
}

// UnlinkTemplate removes the link between a template and a workflow.
func (s *PostgresWorkflowStore) UnlinkTemplate(ctx context.Context, templateID, workflowID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM workflow_template_links WHERE template_id = $1 AND workflow_id = $2",
		templateID, workflowID)
	return err
}

// ListTemplateLinks returns a template's links in ordinal order.
func (s *PostgresWorkflowStore) ListTemplateLinks(ctx context.Context, templateID string) ([]*models.WorkflowTemplateLink, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, workflow_id, template_id, link_order, is_active, created_at
		 FROM workflow_template_links WHERE template_id = $1 ORDER BY link_order`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.WorkflowTemplateLink
	for rows.Next() {
		var l models.WorkflowTemplateLink
		if err := rows.Scan(&l.ID, &l.WorkflowID, &l.TemplateID, &l.Order, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

// CreateInstance persists an instance and all its instance-steps atomically,
// so automatic steps executed afterwards always find their status row.
func (s *PostgresWorkflowStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO workflow_instances (id, workflow_id, entity_type, entity_id, status, current_step_id, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.WorkflowID, inst.EntityType, inst.EntityID, inst.Status,
		inst.CurrentStepID, inst.StartedAt, inst.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}

	for _, ist := range inst.Steps {
		ist.InstanceID = inst.ID
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_instance_steps (id, instance_id, step_id, status, approved_by_id, approved_at, comment)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ist.ID, ist.InstanceID, ist.StepID, ist.Status, ist.ApprovedByID, ist.ApprovedAt, ist.Comment)
		if err != nil {
			return fmt.Errorf("insert instance step: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const instanceColumns = "id, workflow_id, entity_type, entity_id, status, current_step_id, started_at, completed_at"

func scanInstance(row pgx.Row) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.EntityType, &inst.EntityID,
		&inst.Status, &inst.CurrentStepID, &inst.StartedAt, &inst.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetInstance loads an instance with its instance-steps (step embedded).
func (s *PostgresWorkflowStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := scanInstance(s.db.QueryRow(ctx,
		"SELECT "+instanceColumns+" FROM workflow_instances WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	if inst.Steps, err = s.instanceSteps(ctx, id); err != nil {
		return nil, err
	}
	return inst, nil
}

// ListInstancesForEntity returns every instance run against one entity.
func (s *PostgresWorkflowStore) ListInstancesForEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowInstance, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+instanceColumns+" FROM workflow_instances WHERE entity_type = $1 AND entity_id = $2 ORDER BY started_at",
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, inst := range instances {
		if inst.Steps, err = s.instanceSteps(ctx, inst.ID); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

// DeleteInstancesForPair purges all instances (and their steps, via cascade)
// for one (workflow, entity) pair. Used by the destructive test-replay path.
func (s *PostgresWorkflowStore) DeleteInstancesForPair(ctx context.Context, workflowID, entityType, entityID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM workflow_instances WHERE workflow_id = $1 AND entity_type = $2 AND entity_id = $3",
		workflowID, entityType, entityID)
	return err
}

// SetInstanceStatus updates the lifecycle status and completion timestamp.
func (s *PostgresWorkflowStore) SetInstanceStatus(ctx context.Context, instanceID string, status models.InstanceStatus, completedAt *time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_instances SET status = $1, completed_at = $2 WHERE id = $3",
		status, completedAt, instanceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInstanceCurrentStep moves the current-step pointer.
func (s *PostgresWorkflowStore) SetInstanceCurrentStep(ctx context.Context, instanceID string, stepID *string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_instances SET current_step_id = $1 WHERE id = $2", stepID, instanceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresWorkflowStore) instanceSteps(ctx context.Context, instanceID string) ([]*models.WorkflowInstanceStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT wis.id, wis.instance_id, wis.step_id, wis.status, wis.approved_by_id, wis.approved_at, wis.comment,
		        ws.id, ws.workflow_id, ws.name, ws.type, ws.step_order, ws.approver_user_ids, ws.require_all_approvers, ws.config, ws.created_at, ws.updated_at
		 FROM workflow_instance_steps wis
		 JOIN workflow_steps ws ON ws.id = wis.step_id
		 WHERE wis.instance_id = $1
		 ORDER BY ws.step_order`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowInstanceStep
	for rows.Next() {
		var ist models.WorkflowInstanceStep
		var st models.WorkflowStep
		err := rows.Scan(&ist.ID, &ist.InstanceID, &ist.StepID, &ist.Status, &ist.ApprovedByID, &ist.ApprovedAt, &ist.Comment,
			&st.ID, &st.WorkflowID, &st.Name, &st.Type, &st.Order, &st.ApproverUserIDs, &st.RequireAllApprovers, &st.Config, &st.CreatedAt, &st.UpdatedAt)
		if err != nil {
			return nil, err
		}
		ist.Step = &st
		steps = append(steps, &ist)
	}
	return steps, rows.Err()
}

// GetInstanceStep loads one instance-step with its catalog step embedded.
func (s *PostgresWorkflowStore) GetInstanceStep(ctx context.Context, id string) (*models.WorkflowInstanceStep, error) {
	row := s.db.QueryRow(ctx,
		`SELECT wis.id, wis.instance_id, wis.step_id, wis.status, wis.approved_by_id, wis.approved_at, wis.comment,
		        ws.id, ws.workflow_id, ws.name, ws.type, ws.step_order, ws.approver_user_ids, ws.require_all_approvers, ws.config, ws.created_at, ws.updated_at
		 FROM workflow_instance_steps wis
		 JOIN workflow_steps ws ON ws.id = wis.step_id
		 WHERE wis.id = $1`, id)

	var ist models.WorkflowInstanceStep
	var st models.WorkflowStep
	err := row.Scan(&ist.ID, &ist.InstanceID, &ist.StepID, &ist.Status, &ist.ApprovedByID, &ist.ApprovedAt, &ist.Comment,
		&st.ID, &st.WorkflowID, &st.Name, &st.Type, &st.Order, &st.ApproverUserIDs, &st.RequireAllApprovers, &st.Config, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ist.Step = &st
	return &ist, nil
}

// ChangeInstanceStepStatus performs the guarded transition. The WHERE clause
// carries the expected status so two concurrent approvals cannot both win.
func (s *PostgresWorkflowStore) ChangeInstanceStepStatus(ctx context.Context, id string, change StepStatusChange) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_instance_steps
		 SET status = $1, approved_by_id = $2, approved_at = $3, comment = $4
		 WHERE id = $5 AND status = $6`,
		change.To, change.ApprovedByID, change.ApprovedAt, change.Comment, id, change.From)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflow_instance_steps WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// ListPendingApprovals joins PENDING instance-steps with their step,
// instance and workflow. The LIKE filter narrows by approver id; exact set
// membership is re-checked by the service because the column stores a JSON
// array.
func (s *PostgresWorkflowStore) ListPendingApprovals(ctx context.Context, userID string) ([]*models.PendingApproval, error) {
	rows, err := s.db.Query(ctx,
		`SELECT wis.id, wis.instance_id, wis.step_id, wis.status, wis.approved_by_id, wis.approved_at, wis.comment,
		        ws.id, ws.workflow_id, ws.name, ws.type, ws.step_order, ws.approver_user_ids, ws.require_all_approvers, ws.config, ws.created_at, ws.updated_at,
		        wi.id, wi.workflow_id, wi.entity_type, wi.entity_id, wi.status, wi.current_step_id, wi.started_at, wi.completed_at,
		        w.name
		 FROM workflow_instance_steps wis
		 JOIN workflow_steps ws ON ws.id = wis.step_id
		 JOIN workflow_instances wi ON wi.id = wis.instance_id
		 JOIN workflows w ON w.id = wi.workflow_id
		 WHERE wis.status = 'PENDING' AND ws.approver_user_ids LIKE '%' || $1 || '%'
		 ORDER BY wi.started_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*models.PendingApproval
	for rows.Next() {
		var ist models.WorkflowInstanceStep
		var st models.WorkflowStep
		var inst models.WorkflowInstance
		var workflowName string
		err := rows.Scan(&ist.ID, &ist.InstanceID, &ist.StepID, &ist.Status, &ist.ApprovedByID, &ist.ApprovedAt, &ist.Comment,
			&st.ID, &st.WorkflowID, &st.Name, &st.Type, &st.Order, &st.ApproverUserIDs, &st.RequireAllApprovers, &st.Config, &st.CreatedAt, &st.UpdatedAt,
			&inst.ID, &inst.WorkflowID, &inst.EntityType, &inst.EntityID, &inst.Status, &inst.CurrentStepID, &inst.StartedAt, &inst.CompletedAt,
			&workflowName)
		if err != nil {
			return nil, err
		}
		ist.Step = &st
		approvals = append(approvals, &models.PendingApproval{
			InstanceStep: &ist,
			Step:         &st,
			Instance:     &inst,
			WorkflowName: workflowName,
		})
	}
	return approvals, rows.Err()
}
