// Package workflow implements the execution core of the approval engine:
// the authored node/edge graph, the node-to-step binding, condition
// evaluation, active-path resolution and catalog reconciliation. Everything
// in this package is pure; persistence and side effects live in the service
// layer on top of it.
package workflow

import (
	"fmt"

	json "github.com/goccy/go-json"

	"cflux/backend/pkg/models"
)

// NodeType tags a vertex of the authored workflow graph. The values match
// what the graph editor emits.
type NodeType string

const (
	NodeStart          NodeType = "start"
	NodeEnd            NodeType = "end"
	NodeApproval       NodeType = "approval"
	NodeEmail          NodeType = "email"
	NodeNotification   NodeType = "notification"
	NodeCondition      NodeType = "condition"
	NodeDateCondition  NodeType = "dateCondition"
	NodeValueCondition NodeType = "valueCondition"
	NodeDelay          NodeType = "delay"
	NodeLogic          NodeType = "logic"
)

// IsCondition reports whether the node carries an evaluated branch decision.
func (t NodeType) IsCondition() bool {
	switch t {
	case NodeCondition, NodeDateCondition, NodeValueCondition, NodeLogic:
		return true
	}
	return false
}

// StepType returns the catalog step type a node of this kind flattens to.
func (t NodeType) StepType(cfg StepConfig) models.WorkflowStepType {
	switch t {
	case NodeApproval:
		return models.StepTypeApproval
	case NodeEmail:
		return models.StepTypeEmail
	case NodeNotification:
		return models.StepTypeNotification
	case NodeDateCondition:
		return models.StepTypeDateCondition
	case NodeValueCondition:
		return models.StepTypeValueCondition
	case NodeCondition:
		return models.StepTypeCondition
	case NodeDelay:
		return models.StepTypeDelay
	case NodeLogic:
		if cfg.LogicType == "OR" {
			return models.StepTypeLogicOr
		}
		return models.StepTypeLogicAnd
	}
	return models.StepTypeApproval
}

// StepConfig is the free-form per-node configuration embedded in the graph
// and copied verbatim into the step catalog. Only the fields relevant to the
// step's type are populated; everything else stays zero.
type StepConfig struct {
	// NodeID correlates a catalog step back to its originating graph node.
	// The editor stamps it on save; hand-authored catalogs may lack it.
	NodeID string `json:"nodeId,omitempty"`
	Name   string `json:"name,omitempty"`

	// approval
	ApproverUserIDs     []string `json:"approverUserIds,omitempty"`
	RequireAllApprovers bool     `json:"requireAllApprovers,omitempty"`

	// email / notification
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	Message    string   `json:"message,omitempty"`

	// value condition
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	// date condition
	CompareType  string `json:"compareType,omitempty"` // relative | absolute
	RelativeDays int    `json:"relativeDays,omitempty"`
	AbsoluteDate string `json:"absoluteDate,omitempty"`

	// delay
	DelayType  string `json:"delayType,omitempty"`
	DelayValue int    `json:"delayValue,omitempty"`

	// logic
	LogicType string `json:"logicType,omitempty"` // AND | OR
}

// ParseStepConfig decodes a step's stored configuration. Malformed or empty
// config degrades to the zero value; the engine treats the absence of a field
// the same as a bad one.
func ParseStepConfig(raw string) StepConfig {
	var cfg StepConfig
	if raw == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return StepConfig{}
	}
	return cfg
}

// Encode serializes the config back to its stored JSON form.
func (c StepConfig) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode step config: %w", err)
	}
	return string(b), nil
}

// Node is one vertex of the authored graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData wraps the editor payload of a node.
type NodeData struct {
	Label  string     `json:"label,omitempty"`
	Config StepConfig `json:"config"`
}

// Edge is a directed connection between two nodes. SourceHandle labels the
// branch taken out of a condition node ("true" / "false").
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Graph is the parsed in-memory form of a workflow definition.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ParseDefinition parses a serialized definition. A malformed definition
// returns an empty graph together with the parse error so callers can log it;
// the engine then resolves no active steps instead of failing the operation.
func ParseDefinition(definition string) (Graph, error) {
	if definition == "" {
		return Graph{}, nil
	}
	var g Graph
	if err := json.Unmarshal([]byte(definition), &g); err != nil {
		return Graph{}, fmt.Errorf("parse workflow definition: %w", err)
	}
	return g, nil
}

// StartNode returns the unique start node, if present.
func (g Graph) StartNode() (Node, bool) {
	for _, n := range g.Nodes {
		if n.Type == NodeStart {
			return n, true
		}
	}
	return Node{}, false
}

// NodeByID looks a node up by id.
func (g Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns the edges leaving the given node, in definition order.
func (g Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// StepNodes returns every node that flattens to a catalog step, i.e. all
// nodes except start and end, in their given order. This order is load-
// bearing: it is the positional fallback used when no correlation ids exist.
func (g Graph) StepNodes() []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Type == NodeStart || n.Type == NodeEnd {
			continue
		}
		out = append(out, n)
	}
	return out
}
