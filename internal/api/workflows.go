package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cflux/backend/internal/auth"
	"cflux/backend/internal/services"
	"cflux/backend/internal/workflow"
	"cflux/backend/pkg/models"
)

// RegisterRoutes mounts the workflow API onto the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("", s.CreateWorkflow)
	g.GET("", s.ListWorkflows)

	// My approvals must be registered before /:id.
	g.GET("/my-approvals", s.MyApprovals)

	g.GET("/:id", s.GetWorkflow)
	g.PUT("/:id", s.UpdateWorkflow)
	g.DELETE("/:id", s.DeleteWorkflow)

	g.POST("/:workflowId/steps", s.CreateStep)
	g.PUT("/steps/:id", s.UpdateStep)
	g.DELETE("/steps/:id", s.DeleteStep)

	g.POST("/template-links", s.LinkTemplate)
	g.DELETE("/template-links/:templateId/:workflowId", s.UnlinkTemplate)
	g.GET("/templates/:templateId", s.TemplateWorkflows)

	g.POST("/:id/instances", s.StartInstance)
	g.POST("/:id/test-run", s.TestRun)
	g.GET("/entities/:entityType/:entityId/instances", s.EntityInstances)
	g.GET("/entities/:entityType/:entityId/check-approval", s.CheckApproval)
	g.POST("/instances/steps/:instanceStepId/approve", s.ApproveStep)
	g.POST("/instances/steps/:instanceStepId/reject", s.RejectStep)
}

type stepRequest struct {
	Name                string                  `json:"name"`
	Type                models.WorkflowStepType `json:"type"`
	Order               int                     `json:"order"`
	ApproverUserIDs     string                  `json:"approverUserIds"`
	RequireAllApprovers bool                    `json:"requireAllApprovers"`
	Config              string                  `json:"config"`
}

func (r stepRequest) spec() workflow.StepSpec {
	return workflow.StepSpec{
		Name:                r.Name,
		Type:                r.Type,
		Order:               r.Order,
		ApproverUserIDs:     r.ApproverUserIDs,
		RequireAllApprovers: r.RequireAllApprovers,
		Config:              r.Config,
	}
}

type workflowRequest struct {
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	Definition  string        `json:"definition"`
	IsActive    *bool         `json:"isActive"`
	Steps       []stepRequest `json:"steps"`
}

func (r workflowRequest) input() services.WorkflowInput {
	in := services.WorkflowInput{
		Name:        r.Name,
		Description: r.Description,
		Definition:  r.Definition,
		IsActive:    true,
	}
	if r.IsActive != nil {
		in.IsActive = *r.IsActive
	}
	if r.Steps != nil {
		in.Steps = make([]workflow.StepSpec, 0, len(r.Steps))
		for _, st := range r.Steps {
			in.Steps = append(in.Steps, st.spec())
		}
	}
	return in
}

// CreateWorkflow creates a workflow definition with its step catalog
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "name is required")
	}

	wf, err := s.Engine.CreateWorkflow(c.Request().Context(), req.input())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListWorkflows returns all workflow definitions
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Engine.ListWorkflows(c.Request().Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns one workflow definition
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Engine.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow replaces a workflow definition and reconciles its steps
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	wf, err := s.Engine.UpdateWorkflow(c.Request().Context(), c.Param("id"), req.input())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow removes a workflow definition
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Engine.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return serviceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateStep adds a step to a workflow's catalog
// (POST /api/v1/workflows/:workflowId/steps)
func (s *Server) CreateStep(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	st, err := s.Engine.CreateStep(c.Request().Context(), c.Param("workflowId"), req.spec())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, st)
}

// UpdateStep rewrites one catalog step in place
// (PUT /api/v1/workflows/steps/:id)
func (s *Server) UpdateStep(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	st, err := s.Engine.UpdateStep(c.Request().Context(), c.Param("id"), req.spec())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// DeleteStep removes one catalog step
// (DELETE /api/v1/workflows/steps/:id)
func (s *Server) DeleteStep(c echo.Context) error {
	if err := s.Engine.DeleteStep(c.Request().Context(), c.Param("id")); err != nil {
		return serviceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type templateLinkRequest struct {
	TemplateID string `json:"templateId"`
	WorkflowID string `json:"workflowId"`
	Order      int    `json:"order"`
}

// LinkTemplate attaches a workflow to a document template
// (POST /api/v1/workflows/template-links)
func (s *Server) LinkTemplate(c echo.Context) error {
	var req templateLinkRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.TemplateID == "" || req.WorkflowID == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "templateId and workflowId are required")
	}

	link, err := s.Engine.LinkTemplate(c.Request().Context(), req.TemplateID, req.WorkflowID, req.Order)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, link)
}

// UnlinkTemplate detaches a workflow from a template
// (DELETE /api/v1/workflows/template-links/:templateId/:workflowId)
func (s *Server) UnlinkTemplate(c echo.Context) error {
	err := s.Engine.UnlinkTemplate(c.Request().Context(), c.Param("templateId"), c.Param("workflowId"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TemplateWorkflows lists a template's workflow links
// (GET /api/v1/workflows/templates/:templateId)
func (s *Server) TemplateWorkflows(c echo.Context) error {
	links, err := s.Engine.TemplateWorkflows(c.Request().Context(), c.Param("templateId"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, links)
}

type entityRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// StartInstance runs a workflow against an entity
// (POST /api/v1/workflows/:id/instances)
func (s *Server) StartInstance(c echo.Context) error {
	var req entityRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.EntityType == "" || req.EntityID == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "entityType and entityId are required")
	}

	inst, err := s.Engine.CreateInstance(c.Request().Context(), c.Param("id"), req.EntityType, req.EntityID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// TestRun destructively replays a workflow against an entity
// (POST /api/v1/workflows/:id/test-run)
func (s *Server) TestRun(c echo.Context) error {
	var req entityRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.EntityType == "" || req.EntityID == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "entityType and entityId are required")
	}

	inst, err := s.Engine.TestRun(c.Request().Context(), c.Param("id"), req.EntityType, req.EntityID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// EntityInstances lists every instance run against one entity
// (GET /api/v1/workflows/entities/:entityType/:entityId/instances)
func (s *Server) EntityInstances(c echo.Context) error {
	instances, err := s.Engine.ListInstancesForEntity(c.Request().Context(), c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, instances)
}

// CheckApproval returns the aggregate approval state for one entity
// (GET /api/v1/workflows/entities/:entityType/:entityId/check-approval)
func (s *Server) CheckApproval(c echo.Context) error {
	state, err := s.Engine.CheckApproval(c.Request().Context(), c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

type decisionRequest struct {
	UserID  string  `json:"userId"`
	Comment *string `json:"comment"`
}

// userID prefers the authenticated identity over the request body.
func (s *Server) userID(c echo.Context, req decisionRequest) string {
	if id, ok := auth.UserID(c.Request().Context()); ok {
		return id
	}
	return req.UserID
}

// ApproveStep records an approval on one instance-step
// (POST /api/v1/workflows/instances/steps/:instanceStepId/approve)
func (s *Server) ApproveStep(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	userID := s.userID(c, req)
	if userID == "" {
		return problem(c, http.StatusUnauthorized, "Unauthorized", "no user identity")
	}

	inst, err := s.Engine.Approve(c.Request().Context(), c.Param("instanceStepId"), userID, req.Comment)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// RejectStep records a rejection on one instance-step
// (POST /api/v1/workflows/instances/steps/:instanceStepId/reject)
func (s *Server) RejectStep(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	userID := s.userID(c, req)
	if userID == "" {
		return problem(c, http.StatusUnauthorized, "Unauthorized", "no user identity")
	}

	inst, err := s.Engine.Reject(c.Request().Context(), c.Param("instanceStepId"), userID, req.Comment)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// MyApprovals returns the authenticated user's approval inbox
// (GET /api/v1/workflows/my-approvals)
func (s *Server) MyApprovals(c echo.Context) error {
	userID, ok := auth.UserID(c.Request().Context())
	if !ok {
		return problem(c, http.StatusUnauthorized, "Unauthorized", "no user identity")
	}

	approvals, err := s.Engine.PendingApprovals(c.Request().Context(), userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, approvals)
}
