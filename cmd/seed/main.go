package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"cflux/backend/internal/config"
	"cflux/backend/internal/logging"
	"cflux/backend/internal/repository"
	"cflux/backend/internal/services"
)

const invoiceApprovalDefinition = `{
  "nodes": [
    {"id": "start_node", "type": "start", "data": {"label": "Start"}},
    {"id": "cond_amount", "type": "valueCondition", "data": {"label": "Amount over 1000", "config": {"field": "totalAmount", "operator": "greater", "value": 1000}}},
    {"id": "appr_cfo", "type": "approval", "data": {"label": "CFO approval", "config": {"name": "CFO approval", "approverUserIds": ["cfo@localhost"]}}},
    {"id": "appr_lead", "type": "approval", "data": {"label": "Team lead approval", "config": {"name": "Team lead approval", "approverUserIds": ["lead@localhost"]}}},
    {"id": "end_node", "type": "end", "data": {"label": "End"}}
  ],
  "edges": [
    {"id": "e1", "source": "start_node", "target": "cond_amount"},
    {"id": "e2", "source": "cond_amount", "target": "appr_cfo", "sourceHandle": "true"},
    {"id": "e3", "source": "cond_amount", "target": "appr_lead", "sourceHandle": "false"},
    {"id": "e4", "source": "appr_cfo", "target": "end_node"},
    {"id": "e5", "source": "appr_lead", "target": "end_node"}
  ]
}`

const travelExpenseDefinition = `{
  "nodes": [
    {"id": "start_node", "type": "start", "data": {"label": "Start"}},
    {"id": "mail_acct", "type": "email", "data": {"label": "Notify accounting", "config": {"name": "Notify accounting", "recipients": ["accounting@localhost"], "subject": "Travel expense {{id}}", "body": "A travel expense over {{totalAmount}} CHF was submitted."}}},
    {"id": "appr_mgr", "type": "approval", "data": {"label": "Manager approval", "config": {"name": "Manager approval", "approverUserIds": ["manager@localhost"]}}},
    {"id": "end_node", "type": "end", "data": {"label": "End"}}
  ],
  "edges": [
    {"id": "e1", "source": "start_node", "target": "mail_acct"},
    {"id": "e2", "source": "mail_acct", "target": "appr_mgr"},
    {"id": "e3", "source": "appr_mgr", "target": "end_node"}
  ]
}`

func strPtr(s string) *string { return &s }

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresWorkflowStore(pool)

	// The seed engine needs no entity service, mailer or messenger; the step
	// catalogs are derived from the graph definitions, nothing is executed.
	engine := services.NewEngine(
		store,
		services.NewEntityRegistry(),
		services.NewDispatcher(nil, nil, logger, 0),
		logger,
		services.EngineOptions{},
	)

	// Check for existing workflows to prevent duplicates
	existingWorkflows, err := engine.ListWorkflows(ctx)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}

	existingMap := make(map[string]bool)
	for _, w := range existingWorkflows {
		existingMap[w.Name] = true
	}

	// Create seed workflows; steps are derived from the graph
	workflows := []services.WorkflowInput{
		{
			Name:        "Invoice approval",
			Description: strPtr("Routes invoices over 1000 CHF to the CFO, everything else to the team lead."),
			Definition:  invoiceApprovalDefinition,
			IsActive:    true,
		},
		{
			Name:        "Travel expense approval",
			Description: strPtr("Notifies accounting by mail and asks the manager to approve."),
			Definition:  travelExpenseDefinition,
			IsActive:    true,
		},
	}

	for _, in := range workflows {
		if existingMap[in.Name] {
			logger.Info("Skipping existing workflow: %s", in.Name)
			continue
		}

		wf, err := engine.CreateWorkflow(ctx, in)
		if err != nil {
			log.Printf("Failed to create workflow %s: %v", in.Name, err)
			continue
		}
		logger.Info("Seeded workflow: name=%s id=%s steps=%d", wf.Name, wf.ID, len(wf.Steps))
	}
	logger.Info("Seeding complete!")
}
