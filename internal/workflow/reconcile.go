package workflow

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"cflux/backend/pkg/models"
)

// StepSpec is the desired state of one catalog step, independent of any
// persisted identity. Specs come either from an admin edit request or from
// flattening a live graph definition.
type StepSpec struct {
	Name                string
	Type                models.WorkflowStepType
	Order               int
	ApproverUserIDs     string // JSON array
	RequireAllApprovers bool
	Config              string // JSON
}

// StepOpKind tags a reconciliation operation.
type StepOpKind string

const (
	OpInsert StepOpKind = "insert"
	OpUpdate StepOpKind = "update"
	OpDelete StepOpKind = "delete"
)

// StepOp is one concrete mutation the store has to apply.
type StepOp struct {
	Kind   StepOpKind
	StepID string   // update / delete target
	Spec   *StepSpec // insert / update payload
}

// Reconcile diffs the persisted catalog against the desired specs.
//
// When no existing step is referenced by instance history the whole catalog
// is replaced: delete everything, insert everything. Once any step has
// instance-steps pointing at it, replacement would orphan that history, so
// steps are instead updated in place, matched by order; only orders that
// vanished are deleted and only new orders inserted.
func Reconcile(old []*models.WorkflowStep, specs []StepSpec, referenced map[string]bool) []StepOp {
	anyReferenced := false
	for _, st := range old {
		if referenced[st.ID] {
			anyReferenced = true
			break
		}
	}

	ordered := make([]StepSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var ops []StepOp

	if !anyReferenced {
		for _, st := range old {
			ops = append(ops, StepOp{Kind: OpDelete, StepID: st.ID})
		}
		for i := range ordered {
			ops = append(ops, StepOp{Kind: OpInsert, Spec: &ordered[i]})
		}
		return ops
	}

	byOrder := make(map[int]*models.WorkflowStep, len(old))
	for _, st := range old {
		byOrder[st.Order] = st
	}

	seen := map[int]bool{}
	for i := range ordered {
		spec := &ordered[i]
		seen[spec.Order] = true
		if st, ok := byOrder[spec.Order]; ok {
			ops = append(ops, StepOp{Kind: OpUpdate, StepID: st.ID, Spec: spec})
		} else {
			ops = append(ops, StepOp{Kind: OpInsert, Spec: spec})
		}
	}
	for _, st := range old {
		if seen[st.Order] {
			continue
		}
		// A referenced step whose order vanished stays behind untouched:
		// deleting it would orphan the instance history pointing at it.
		if referenced[st.ID] {
			continue
		}
		ops = append(ops, StepOp{Kind: OpDelete, StepID: st.ID})
	}
	return ops
}

// StepSpecsFromGraph flattens a graph into the catalog specs it implies,
// stamping each config with its originating node id so the binder can map
// them back without the positional fallback. Node order in the definition
// determines step order, matching how the editor numbers steps.
func StepSpecsFromGraph(g Graph) ([]StepSpec, error) {
	var specs []StepSpec
	for i, n := range g.StepNodes() {
		cfg := n.Data.Config
		cfg.NodeID = n.ID

		encoded, err := cfg.Encode()
		if err != nil {
			return nil, fmt.Errorf("flatten node %s: %w", n.ID, err)
		}

		approverIDs := cfg.ApproverUserIDs
		if approverIDs == nil {
			approverIDs = []string{}
		}
		approvers, err := json.Marshal(approverIDs)
		if err != nil {
			return nil, fmt.Errorf("flatten node %s: %w", n.ID, err)
		}

		name := cfg.Name
		if name == "" {
			name = n.Data.Label
		}

		specs = append(specs, StepSpec{
			Name:                name,
			Type:                n.Type.StepType(cfg),
			Order:               i + 1,
			ApproverUserIDs:     string(approvers),
			RequireAllApprovers: cfg.RequireAllApprovers,
			Config:              encoded,
		})
	}
	return specs, nil
}
