package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// FlowDefinition is an operator-authored conversation graph.
// It is immutable once an execution context has started against it.
type FlowDefinition struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Connections []Connection   `json:"connections"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// Connection is a directed edge between two nodes.
type Connection struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// UnmarshalJSON also accepts the editor envelope, where nodes and connections
// are nested under "flow".
func (f *FlowDefinition) UnmarshalJSON(b []byte) error {
	type plain FlowDefinition
	var aux struct {
		plain
		Flow *struct {
			Nodes       []Node       `json:"nodes"`
			Connections []Connection `json:"connections"`
		} `json:"flow"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*f = FlowDefinition(aux.plain)
	if aux.Flow != nil {
		if len(f.Nodes) == 0 {
			f.Nodes = aux.Flow.Nodes
		}
		if len(f.Connections) == 0 {
			f.Connections = aux.Flow.Connections
		}
	}
	return nil
}

// Node returns the node with the given id.
func (f *FlowDefinition) Node(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the connections leaving the given node, in declaration order.
func (f *FlowDefinition) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range f.Connections {
		if c.Source == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// EntryCandidates returns the ids of nodes without incoming connections.
func (f *FlowDefinition) EntryCandidates() []string {
	incoming := make(map[string]bool, len(f.Connections))
	for _, c := range f.Connections {
		incoming[c.Target] = true
	}
	var ids []string
	for _, n := range f.Nodes {
		if !incoming[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Entry returns the unique entry node id.
func (f *FlowDefinition) Entry() (string, error) {
	ids := f.EntryCandidates()
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
		return "", &GraphIntegrityError{FlowID: f.ID, Reason: "no entry node (every node has an incoming connection)"}
	default:
		return "", &GraphIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("multiple entry nodes %v", ids)}
	}
}

// Clone returns a deep copy of the definition.
func (f *FlowDefinition) Clone() *FlowDefinition {
	if f == nil {
		return nil
	}
	next := *f
	if f.Nodes != nil {
		next.Nodes = make([]Node, len(f.Nodes))
		for i, n := range f.Nodes {
			next.Nodes[i] = n.clone()
		}
	}
	if f.Connections != nil {
		next.Connections = make([]Connection, len(f.Connections))
		copy(next.Connections, f.Connections)
	}
	next.Variables = cloneMap(f.Variables)
	return &next
}

// SnapshotID identifies this exact version of the definition.
func (f *FlowDefinition) SnapshotID() string {
	raw, err := json.Marshal(f)
	if err != nil {
		return f.ID
	}
	sum := sha256.Sum256(raw)
	return f.ID + "@" + hex.EncodeToString(sum[:])[:12]
}
