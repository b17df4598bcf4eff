package runtime

import (
	"fmt"

	"github.com/listiago/atendechat/pkg/domain"
)

// resolveEdge picks the outgoing connection of node for the branch tag.
// With an empty tag exactly one untagged connection must exist.
func resolveEdge(flow *domain.FlowDefinition, node *domain.Node, tag string) (string, error) {
	var matches []domain.Connection
	for _, c := range flow.Outgoing(node.ID) {
		if c.SourceHandle == tag {
			matches = append(matches, c)
		}
	}

	switch {
	case len(matches) == 0 && tag == "":
		return "", &domain.GraphIntegrityError{FlowID: flow.ID, NodeID: node.ID, Reason: "no outgoing connection"}
	case len(matches) == 0:
		return "", &domain.GraphIntegrityError{FlowID: flow.ID, NodeID: node.ID, Reason: fmt.Sprintf("no connection tagged %q", tag)}
	case len(matches) > 1 && tag == "":
		return "", &domain.GraphIntegrityError{FlowID: flow.ID, NodeID: node.ID, Reason: fmt.Sprintf("%d untagged outgoing connections", len(matches))}
	}

	// First match wins for duplicated tags; the validator reports them.
	target := matches[0].Target
	if _, ok := flow.Node(target); !ok {
		return "", &domain.GraphIntegrityError{
			FlowID: flow.ID,
			NodeID: node.ID,
			Reason: fmt.Sprintf("connection %s targets unknown node %q", matches[0].ID, target),
		}
	}
	return target, nil
}
