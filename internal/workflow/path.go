package workflow

import "cflux/backend/pkg/models"

// ActivePath is the result of resolving a graph against one instance's
// evaluated conditions: which catalog steps are live, and which approval
// step the instance should initially point at. Automatic steps never become
// the current pointer.
type ActivePath struct {
	ActiveStepIDs       map[string]bool
	FirstApprovalStepID string
}

// Active reports whether the given step is on the active path.
func (p ActivePath) Active(stepID string) bool {
	return p.ActiveStepIDs[stepID]
}

// ResolveOptions tunes the traversal.
type ResolveOptions struct {
	// FullTraversal walks the whole reachable subgraph instead of the
	// historical one-hop behavior. Off by default: the shipped engine only
	// looks one hop past start and one hop past each evaluated condition,
	// and authored workflows depend on that.
	// TODO(workflow): enable once deep-graph workflows are confirmed as a
	// supported authoring pattern.
	FullTraversal bool
}

// ResolveActivePath computes the active step set for a graph given the
// node-to-step binding and the pre-evaluated condition results
// (condition node id -> branch taken).
//
// The default traversal deliberately mirrors the original engine: every
// target one hop past the start node is activated, and for every evaluated
// condition node the edges whose sourceHandle matches the result are
// followed one hop. It is not a reachability algorithm.
func ResolveActivePath(g Graph, b Binding, condResults map[string]bool, opts ResolveOptions) ActivePath {
	path := ActivePath{ActiveStepIDs: map[string]bool{}}

	start, ok := g.StartNode()
	if !ok {
		return path
	}

	if opts.FullTraversal {
		resolveFull(g, b, condResults, start, &path)
		return path
	}

	for _, e := range g.OutgoingEdges(start.ID) {
		markActive(b, e.Target, &path)
	}

	// Condition nodes are visited in definition order so the first-approval
	// pick stays deterministic.
	for _, n := range g.Nodes {
		result, evaluated := condResults[n.ID]
		if !evaluated {
			continue
		}
		want := "false"
		if result {
			want = "true"
		}
		for _, e := range g.OutgoingEdges(n.ID) {
			if e.SourceHandle == want {
				markActive(b, e.Target, &path)
			}
		}
	}

	return path
}

func markActive(b Binding, nodeID string, path *ActivePath) {
	st, ok := b[nodeID]
	if !ok {
		return
	}
	path.ActiveStepIDs[st.ID] = true
	if path.FirstApprovalStepID == "" && st.Type == models.StepTypeApproval {
		path.FirstApprovalStepID = st.ID
	}
}

// resolveFull is the flagged breadth-first variant. Evaluated condition
// nodes contribute only their matching branch; unevaluated condition nodes
// contribute nothing, matching the fail-closed stance of the evaluator.
func resolveFull(g Graph, b Binding, condResults map[string]bool, start Node, path *ActivePath) {
	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		node, ok := g.NodeByID(nodeID)
		if !ok {
			continue
		}

		for _, e := range g.OutgoingEdges(nodeID) {
			if node.Type.IsCondition() {
				result, evaluated := condResults[nodeID]
				if !evaluated {
					continue
				}
				want := "false"
				if result {
					want = "true"
				}
				if e.SourceHandle != want {
					continue
				}
			}
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			markActive(b, e.Target, path)
			queue = append(queue, e.Target)
		}
	}
}
