package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"cflux/backend/internal/logging"
	"cflux/backend/internal/repository"
	"cflux/backend/internal/workflow"
	"cflux/backend/pkg/models"
)

// Engine drives the workflow lifecycle: starting instances, executing
// automatic steps, and consuming approve/reject actions. All graph logic is
// delegated to the workflow package; the engine owns persistence and side
// effects.
type Engine struct {
	store      repository.WorkflowStore
	entities   EntitySource
	dispatcher *Dispatcher
	binder     workflow.BindingStrategy
	logger     *logging.Logger
	now        func() time.Time

	fullTraversal bool

	started   metric.Int64Counter
	completed metric.Int64Counter
	rejected  metric.Int64Counter
}

// EngineOptions tunes engine behavior.
type EngineOptions struct {
	// FullTraversal switches the active-path resolver to walk the whole
	// reachable subgraph. See workflow.ResolveOptions.
	FullTraversal bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(store repository.WorkflowStore, entities EntitySource, dispatcher *Dispatcher, logger *logging.Logger, opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	meter := otel.Meter("cflux/backend/services")
	started, _ := meter.Int64Counter("workflow.instances.started",
		metric.WithDescription("Workflow instances created"))
	completed, _ := meter.Int64Counter("workflow.instances.completed",
		metric.WithDescription("Workflow instances that reached COMPLETED"))
	rejected, _ := meter.Int64Counter("workflow.instances.rejected",
		metric.WithDescription("Workflow instances that reached REJECTED"))

	return &Engine{
		store:         store,
		entities:      entities,
		dispatcher:    dispatcher,
		binder:        workflow.CorrelationBinding{},
		logger:        logger,
		now:           now,
		fullTraversal: opts.FullTraversal,
		started:       started,
		completed:     completed,
		rejected:      rejected,
	}
}

// WorkflowInput is the authoring payload for creating or replacing a
// workflow definition. When Steps is nil the catalog is derived from the
// graph definition.
type WorkflowInput struct {
	Name        string
	Description *string
	Definition  string
	IsActive    bool
	Steps       []workflow.StepSpec
}

// CreateWorkflow persists a new definition together with its step catalog.
func (e *Engine) CreateWorkflow(ctx context.Context, in WorkflowInput) (*models.Workflow, error) {
	specs, err := e.resolveSpecs(in)
	if err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: in.Description,
		Definition:  in.Definition,
		IsActive:    in.IsActive,
	}
	for _, spec := range specs {
		wf.Steps = append(wf.Steps, stepFromSpec(wf.ID, spec))
	}

	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return e.store.GetWorkflow(ctx, wf.ID)
}

// UpdateWorkflow replaces the definition fields and reconciles the step
// catalog against the new graph (or the explicitly provided steps).
func (e *Engine) UpdateWorkflow(ctx context.Context, id string, in WorkflowInput) (*models.Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	wf.Name = in.Name
	wf.Description = in.Description
	wf.Definition = in.Definition
	wf.IsActive = in.IsActive
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	specs, err := e.resolveSpecs(in)
	if err != nil {
		return nil, err
	}
	if specs != nil {
		if err := e.reconcileSteps(ctx, wf, specs); err != nil {
			return nil, err
		}
	}
	return e.store.GetWorkflow(ctx, id)
}

func (e *Engine) resolveSpecs(in WorkflowInput) ([]workflow.StepSpec, error) {
	if in.Steps != nil {
		return in.Steps, nil
	}
	if in.Definition == "" {
		return nil, nil
	}
	g, err := workflow.ParseDefinition(in.Definition)
	if err != nil {
		return nil, err
	}
	return workflow.StepSpecsFromGraph(g)
}

func (e *Engine) reconcileSteps(ctx context.Context, wf *models.Workflow, specs []workflow.StepSpec) error {
	referenced, err := e.store.ReferencedStepIDs(ctx, wf.ID)
	if err != nil {
		return err
	}
	for _, op := range workflow.Reconcile(wf.Steps, specs, referenced) {
		switch op.Kind {
		case workflow.OpDelete:
			err = e.store.DeleteStep(ctx, op.StepID)
		case workflow.OpInsert:
			err = e.store.CreateStep(ctx, stepFromSpec(wf.ID, *op.Spec))
		case workflow.OpUpdate:
			st := stepFromSpec(wf.ID, *op.Spec)
			st.ID = op.StepID
			err = e.store.UpdateStep(ctx, st)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func stepFromSpec(workflowID string, spec workflow.StepSpec) *models.WorkflowStep {
	approvers := spec.ApproverUserIDs
	if approvers == "" {
		approvers = "[]"
	}
	config := spec.Config
	if config == "" {
		config = "{}"
	}
	return &models.WorkflowStep{
		ID:                  uuid.New().String(),
		WorkflowID:          workflowID,
		Name:                spec.Name,
		Type:                spec.Type,
		Order:               spec.Order,
		ApproverUserIDs:     approvers,
		RequireAllApprovers: spec.RequireAllApprovers,
		Config:              config,
	}
}

// GetWorkflow loads one definition.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return e.store.GetWorkflow(ctx, id)
}

// ListWorkflows returns all definitions.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return e.store.ListWorkflows(ctx)
}

// DeleteWorkflow removes a definition unless template links still use it.
func (e *Engine) DeleteWorkflow(ctx context.Context, id string) error {
	return e.store.DeleteWorkflow(ctx, id)
}

// CreateStep adds one step to a workflow's catalog.
func (e *Engine) CreateStep(ctx context.Context, workflowID string, spec workflow.StepSpec) (*models.WorkflowStep, error) {
	st := stepFromSpec(workflowID, spec)
	if err := e.store.CreateStep(ctx, st); err != nil {
		return nil, err
	}
	return e.store.GetStep(ctx, st.ID)
}

// UpdateStep rewrites one catalog step in place.
func (e *Engine) UpdateStep(ctx context.Context, id string, spec workflow.StepSpec) (*models.WorkflowStep, error) {
	existing, err := e.store.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	st := stepFromSpec(existing.WorkflowID, spec)
	st.ID = existing.ID
	if err := e.store.UpdateStep(ctx, st); err != nil {
		return nil, err
	}
	return e.store.GetStep(ctx, id)
}

// DeleteStep removes one catalog step.
func (e *Engine) DeleteStep(ctx context.Context, id string) error {
	return e.store.DeleteStep(ctx, id)
}

// LinkTemplate attaches a workflow to a document template.
func (e *Engine) LinkTemplate(ctx context.Context, templateID, workflowID string, order int) (*models.WorkflowTemplateLink, error) {
	link := &models.WorkflowTemplateLink{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		TemplateID: templateID,
		Order:      order,
		IsActive:   true,
	}
	if err := e.store.LinkTemplate(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// UnlinkTemplate detaches a workflow from a template.
func (e *Engine) UnlinkTemplate(ctx context.Context, templateID, workflowID string) error {
	return e.store.UnlinkTemplate(ctx, templateID, workflowID)
}

// TemplateWorkflows lists a template's workflow links.
func (e *Engine) TemplateWorkflows(ctx context.Context, templateID string) ([]*models.WorkflowTemplateLink, error) {
	return e.store.ListTemplateLinks(ctx, templateID)
}

// CreateInstance starts a workflow against one entity. The entity snapshot
// is loaded first, every condition node is evaluated against it, the active
// path is resolved, the instance and all of its instance-steps are persisted
// atomically, and finally every live automatic step is executed.
func (e *Engine) CreateInstance(ctx context.Context, workflowID, entityType, entityID string) (*models.WorkflowInstance, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	snap, err := e.entities.Snapshot(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	g, err := workflow.ParseDefinition(wf.Definition)
	if err != nil {
		e.logger.Warn("workflow %s has a malformed definition: %v", wf.ID, err)
	}

	bind := e.binder.Bind(g, wf.Steps)
	condResults := e.evaluateConditions(g, bind, snap)
	path := workflow.ResolveActivePath(g, bind, condResults, workflow.ResolveOptions{FullTraversal: e.fullTraversal})
	expandThroughAutomaticSteps(g, bind, &path)

	now := e.now()
	inst := &models.WorkflowInstance{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     models.InstanceInProgress,
		StartedAt:  now,
	}
	if path.FirstApprovalStepID != "" {
		stepID := path.FirstApprovalStepID
		inst.CurrentStepID = &stepID
	}

	for _, st := range wf.Steps {
		// Conditions are evaluated, never waited on; delay steps have no
		// scheduler and resolve to SKIPPED immediately.
		status := models.StepSkipped
		if path.Active(st.ID) && !st.Type.IsCondition() && st.Type != models.StepTypeDelay {
			status = models.StepPending
		}
		inst.Steps = append(inst.Steps, &models.WorkflowInstanceStep{
			ID:         uuid.New().String(),
			InstanceID: inst.ID,
			StepID:     st.ID,
			Status:     status,
			Step:       st,
		})
	}

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	e.started.Add(ctx, 1)

	// Automatic steps run only after the instance is persisted, so their
	// status rows exist when the transition lands.
	for _, ist := range inst.Steps {
		if ist.Status == models.StepPending && automaticStep(ist.Step.Type) {
			e.executeAutomaticStep(ctx, ist, snap)
		}
	}

	return e.store.GetInstance(ctx, inst.ID)
}

// evaluateConditions evaluates every condition node of the graph against the
// snapshot. Evaluation reads the bound catalog step's configuration, falling
// back to the node's own config for unbound nodes: catalog-authored workflows
// carry field/operator/value on the step only, the graph node is bare.
// Evaluation failures degrade to false with a log line; a false result
// activates the false branch downstream. Logic nodes fold the results of
// their direct condition inputs.
func (e *Engine) evaluateConditions(g workflow.Graph, b workflow.Binding, snap *models.EntitySnapshot) map[string]bool {
	results := map[string]bool{}

	for _, n := range g.Nodes {
		switch n.Type {
		case workflow.NodeValueCondition, workflow.NodeCondition:
			ok, err := workflow.EvaluateValueCondition(conditionConfig(n, b), snap)
			if err != nil {
				e.logger.Warn("condition node %s evaluated false: %v", n.ID, err)
			}
			results[n.ID] = ok
		case workflow.NodeDateCondition:
			ok, err := workflow.EvaluateDateCondition(conditionConfig(n, b), snap, e.now())
			if err != nil {
				e.logger.Warn("date condition node %s evaluated false: %v", n.ID, err)
			}
			results[n.ID] = ok
		}
	}

	for _, n := range g.Nodes {
		if n.Type != workflow.NodeLogic {
			continue
		}
		var inputs []bool
		for _, edge := range g.Edges {
			if edge.Target != n.ID {
				continue
			}
			if r, evaluated := results[edge.Source]; evaluated {
				inputs = append(inputs, r)
			}
		}
		if len(inputs) == 0 {
			continue
		}
		if conditionConfig(n, b).LogicType == "OR" {
			folded := false
			for _, v := range inputs {
				folded = folded || v
			}
			results[n.ID] = folded
		} else {
			folded := true
			for _, v := range inputs {
				folded = folded && v
			}
			results[n.ID] = folded
		}
	}

	return results
}

// conditionConfig resolves the configuration a condition node is evaluated
// with: the bound step's when the node maps to a catalog step, the node's own
// otherwise.
func conditionConfig(n workflow.Node, b workflow.Binding) workflow.StepConfig {
	if st, ok := b[n.ID]; ok {
		return workflow.ParseStepConfig(st.Config)
	}
	return n.Data.Config
}

// expandThroughAutomaticSteps widens the active path past email and
// notification nodes: an approval wired directly behind an automatic step is
// live on the same trigger, because the automatic step executes inline.
func expandThroughAutomaticSteps(g workflow.Graph, b workflow.Binding, path *workflow.ActivePath) {
	var queue []string
	for _, n := range g.Nodes {
		if st, ok := b[n.ID]; ok && path.Active(st.ID) && automaticStep(st.Type) {
			queue = append(queue, n.ID)
		}
	}

	visited := map[string]bool{}
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true

		for _, edge := range g.OutgoingEdges(nodeID) {
			st, ok := b[edge.Target]
			if !ok || st.Type.IsCondition() {
				continue
			}
			path.ActiveStepIDs[st.ID] = true
			if path.FirstApprovalStepID == "" && st.Type == models.StepTypeApproval {
				path.FirstApprovalStepID = st.ID
			}
			if automaticStep(st.Type) {
				queue = append(queue, edge.Target)
			}
		}
	}
}

func automaticStep(t models.WorkflowStepType) bool {
	return t == models.StepTypeEmail || t == models.StepTypeNotification
}

// executeAutomaticStep delivers an email or notification step and finalizes
// its status row: COMPLETED on success, SKIPPED on delivery failure. Failure
// is non-fatal to the surrounding operation.
func (e *Engine) executeAutomaticStep(ctx context.Context, ist *models.WorkflowInstanceStep, snap *models.EntitySnapshot) {
	cfg := workflow.ParseStepConfig(ist.Step.Config)

	var err error
	switch ist.Step.Type {
	case models.StepTypeEmail:
		err = e.dispatcher.SendEmail(ctx, workflowEmailConfig{
			Recipients: cfg.Recipients,
			Subject:    cfg.Subject,
			Body:       cfg.Body,
		}, snap)
	case models.StepTypeNotification:
		err = e.dispatcher.SendNotification(ctx, workflowNotificationConfig{
			Recipients: cfg.Recipients,
			Message:    cfg.Message,
		}, snap)
	}

	to := models.StepCompleted
	if err != nil {
		to = models.StepSkipped
	}
	change := repository.StepStatusChange{From: ist.Status, To: to}
	if cerr := e.store.ChangeInstanceStepStatus(ctx, ist.ID, change); cerr != nil {
		e.logger.Warn("could not finalize automatic step %s: %v", ist.ID, cerr)
		return
	}
	ist.Status = to
}

// GetInstance loads one instance with its steps.
func (e *Engine) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return e.store.GetInstance(ctx, id)
}

// ListInstancesForEntity returns every instance run against one entity.
func (e *Engine) ListInstancesForEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowInstance, error) {
	return e.store.ListInstancesForEntity(ctx, entityType, entityID)
}

// Approve records an approval on one instance-step. The transition is
// guarded: a step that already left PENDING yields repository.ErrConflict.
// When every instance-step is terminal the instance completes; otherwise the
// current-step pointer advances along the graph.
func (e *Engine) Approve(ctx context.Context, instanceStepID, userID string, comment *string) (*models.WorkflowInstance, error) {
	ist, err := e.store.GetInstanceStep(ctx, instanceStepID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	change := repository.StepStatusChange{
		From:         models.StepPending,
		To:           models.StepApproved,
		ApprovedByID: &userID,
		ApprovedAt:   &now,
		Comment:      comment,
	}
	if err := e.store.ChangeInstanceStepStatus(ctx, instanceStepID, change); err != nil {
		return nil, err
	}

	inst, err := e.store.GetInstance(ctx, ist.InstanceID)
	if err != nil {
		return nil, err
	}

	allDone := true
	for _, s := range inst.Steps {
		switch s.Status {
		case models.StepApproved, models.StepSkipped, models.StepCompleted:
		default:
			allDone = false
		}
	}

	if allDone {
		completedAt := now
		if err := e.store.SetInstanceStatus(ctx, inst.ID, models.InstanceCompleted, &completedAt); err != nil {
			return nil, err
		}
		e.completed.Add(ctx, 1)
		return e.store.GetInstance(ctx, inst.ID)
	}

	if err := e.advance(ctx, inst, ist.StepID); err != nil {
		return nil, err
	}
	return e.store.GetInstance(ctx, inst.ID)
}

// advance moves the current-step pointer past the just-approved step. Email
// steps wired directly behind it execute synchronously and the walk
// continues past them; the first PENDING approval found becomes the new
// current step. When nothing advance-worthy is found the pointer stays put
// and the instance remains IN_PROGRESS.
func (e *Engine) advance(ctx context.Context, inst *models.WorkflowInstance, fromStepID string) error {
	wf, err := e.store.GetWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		return err
	}
	g, err := workflow.ParseDefinition(wf.Definition)
	if err != nil {
		e.logger.Warn("workflow %s has a malformed definition: %v", wf.ID, err)
		return nil
	}
	b := e.binder.Bind(g, wf.Steps)
	nodeID, ok := b.NodeID(fromStepID)
	if !ok {
		return nil
	}

	byStepID := map[string]*models.WorkflowInstanceStep{}
	for _, s := range inst.Steps {
		byStepID[s.StepID] = s
	}

	var snap *models.EntitySnapshot
	queue := g.OutgoingEdges(nodeID)
	visited := map[string]bool{nodeID: true}
	for len(queue) > 0 {
		edge := queue[0]
		queue = queue[1:]
		if visited[edge.Target] {
			continue
		}
		visited[edge.Target] = true

		st, ok := b[edge.Target]
		if !ok {
			continue
		}
		ist := byStepID[st.ID]
		if ist == nil {
			continue
		}

		switch st.Type {
		case models.StepTypeEmail:
			if snap == nil {
				snap = e.snapshotLenient(ctx, inst.EntityType, inst.EntityID)
			}
			e.executeAutomaticStep(ctx, ist, snap)
			queue = append(queue, g.OutgoingEdges(edge.Target)...)
		case models.StepTypeApproval:
			if ist.Status == models.StepPending {
				stepID := st.ID
				return e.store.SetInstanceCurrentStep(ctx, inst.ID, &stepID)
			}
		}
	}
	return nil
}

// snapshotLenient reloads the entity snapshot for rendering during advance.
// A lookup failure degrades to the minimal {id} view; the email step then
// renders empty placeholders instead of blocking the approval.
func (e *Engine) snapshotLenient(ctx context.Context, entityType, entityID string) *models.EntitySnapshot {
	snap, err := e.entities.Snapshot(ctx, entityType, entityID)
	if err != nil {
		e.logger.Warn("entity snapshot for %s %s unavailable: %v", entityType, entityID, err)
		return &models.EntitySnapshot{ID: entityID, Type: entityType}
	}
	return snap
}

// Reject records a rejection on one instance-step and terminally rejects the
// whole instance. Rejection is not partial: sibling PENDING steps stay as
// they are, the instance status alone ends the run.
func (e *Engine) Reject(ctx context.Context, instanceStepID, userID string, comment *string) (*models.WorkflowInstance, error) {
	ist, err := e.store.GetInstanceStep(ctx, instanceStepID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	change := repository.StepStatusChange{
		From:         models.StepPending,
		To:           models.StepRejected,
		ApprovedByID: &userID,
		ApprovedAt:   &now,
		Comment:      comment,
	}
	if err := e.store.ChangeInstanceStepStatus(ctx, instanceStepID, change); err != nil {
		return nil, err
	}

	completedAt := now
	if err := e.store.SetInstanceStatus(ctx, ist.InstanceID, models.InstanceRejected, &completedAt); err != nil {
		return nil, err
	}
	e.rejected.Add(ctx, 1)
	return e.store.GetInstance(ctx, ist.InstanceID)
}

// CheckApproval aggregates the approval answer for one entity: approvable
// when every instance completed and none was rejected. An entity with no
// instances at all is approvable.
func (e *Engine) CheckApproval(ctx context.Context, entityType, entityID string) (*models.ApprovalState, error) {
	instances, err := e.store.ListInstancesForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	state := &models.ApprovalState{AllCompleted: true}
	for _, inst := range instances {
		if inst.Status != models.InstanceCompleted {
			state.AllCompleted = false
		}
		if inst.Status == models.InstanceRejected {
			state.AnyRejected = true
		}
	}
	state.CanApprove = state.AllCompleted && !state.AnyRejected
	return state, nil
}

// PendingApprovals returns the approval inbox for one user. The store's
// substring filter over the JSON approver column is coarse; membership is
// re-checked here against the decoded set.
func (e *Engine) PendingApprovals(ctx context.Context, userID string) ([]*models.PendingApproval, error) {
	coarse, err := e.store.ListPendingApprovals(ctx, userID)
	if err != nil {
		return nil, err
	}
	approvals := make([]*models.PendingApproval, 0, len(coarse))
	for _, a := range coarse {
		if a.Step.HasApprover(userID) {
			approvals = append(approvals, a)
		}
	}
	return approvals, nil
}

// TestRun replays a workflow against one entity: prior instances for the
// (workflow, entity) pair are purged, the step catalog is regenerated from
// the graph, and a fresh instance is started.
func (e *Engine) TestRun(ctx context.Context, workflowID, entityType, entityID string) (*models.WorkflowInstance, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := e.store.DeleteInstancesForPair(ctx, workflowID, entityType, entityID); err != nil {
		return nil, err
	}

	if wf.Definition != "" {
		g, err := workflow.ParseDefinition(wf.Definition)
		if err != nil {
			return nil, err
		}
		specs, err := workflow.StepSpecsFromGraph(g)
		if err != nil {
			return nil, err
		}
		if err := e.reconcileSteps(ctx, wf, specs); err != nil {
			return nil, err
		}
	}

	return e.CreateInstance(ctx, workflowID, entityType, entityID)
}
