package domain

// IntegrationCall is a request to an external collaborator from a NodeIntegration.
type IntegrationCall struct {
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	ContextID string         `json:"contextId"`
	NodeID    string         `json:"nodeId"`
}

// IntegrationResult is the collaborator's answer.
// Code selects the outgoing branch.
type IntegrationResult struct {
	Code   string `json:"code"`
	Output any    `json:"output,omitempty"`
}
