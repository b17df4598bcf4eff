package graph

import (
	"fmt"
	"strings"

	"github.com/listiago/atendechat/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromContext highlights the path an execution took.
func OverlayFromContext(ec *domain.ExecutionContext) *GraphOverlay {
	if ec == nil {
		return nil
	}
	return &GraphOverlay{VisitedNodes: ec.History, CurrentNode: ec.CurrentNodeID}
}

// GenerateMermaid produces a Mermaid flowchart for a flow definition.
// Node shapes follow their kind:
// - Entry: ((Circle))
// - Integration: [[Subroutine]]
// - Question: [/Parallelogram/]
// - Interval: {{Hexagon}}
// - Terminal: ([Stadium])
// - Default: [Rectangle]
func GenerateMermaid(flow *domain.FlowDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	entries := make(map[string]bool)
	for _, id := range flow.EntryCandidates() {
		entries[id] = true
	}

	for _, node := range flow.Nodes {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch {
		case entries[node.ID]:
			opener, closer = "((", "))"
		case node.Kind == domain.NodeIntegration:
			opener, closer = "[[", "]]"
		case node.Kind == domain.NodeQuestion:
			opener, closer = "[/", "/]"
		case node.Kind == domain.NodeInterval:
			opener, closer = "{{", "}}"
		case node.Kind == domain.NodeTerminal:
			opener, closer = "([", "])"
		}

		label := node.ID
		if wait, ok := waitLabel(node); ok {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", node.ID, wait)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(label), closer))
	}

	for _, c := range flow.Connections {
		arrow := "-->"
		if tag := c.SourceHandle; tag != "" && tag != domain.HandleSuccess {
			arrow = fmt.Sprintf("-- \"%s\" -->", escapeLabel(tag))
			if tag == domain.HandleTimeout {
				arrow = fmt.Sprintf("-. \"%s\" .->", escapeLabel(tag))
			}
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(c.Source), arrow, sanitizeMermaidID(c.Target)))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on light fills in either theme
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		}
	}

	return sb.String()
}

func waitLabel(node domain.Node) (string, bool) {
	switch {
	case node.Kind == domain.NodeInterval && node.Interval != nil:
		return fmt.Sprintf("%d %s", node.Interval.Value, node.Interval.Unit), true
	case node.Kind == domain.NodeQuestion && node.Question != nil && node.Question.Timeout.Value > 0:
		return fmt.Sprintf("%d %s", node.Question.Timeout.Value, node.Question.Timeout.Unit), true
	}
	return "", false
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	// "end" is a Mermaid keyword
	if strings.EqualFold(s, "end") {
		s += "_"
	}
	return s
}
