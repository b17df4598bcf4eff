package dsl

import "github.com/listiago/atendechat/pkg/domain"

type edge struct {
	tag    string
	target string
}

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	edges   []edge
	builder *Builder
}

// Message makes the node send a text template (soft step).
func (n *NodeBuilder) Message(text string) *NodeBuilder {
	n.node.Kind = domain.NodeMessage
	n.node.Message = &domain.MessageData{Text: text}
	return n
}

// Question makes the node ask and wait for a reply stored under answerKey,
// giving up after value units (hard step).
func (n *NodeBuilder) Question(prompt, answerKey string, value int, unit domain.DurationUnit) *NodeBuilder {
	n.node.Kind = domain.NodeQuestion
	n.node.Question = &domain.QuestionData{
		Message:   prompt,
		AnswerKey: answerKey,
		Timeout:   domain.WaitDuration{Value: value, Unit: unit},
	}
	return n
}

// Wait makes the node pause for value units (hard step).
func (n *NodeBuilder) Wait(value int, unit domain.DurationUnit) *NodeBuilder {
	n.node.Kind = domain.NodeInterval
	n.node.Interval = &domain.IntervalData{Value: value, Unit: unit}
	return n
}

// Media makes the node send the file at path.
func (n *NodeBuilder) Media(path, caption string) *NodeBuilder {
	n.node.Kind = domain.NodeMediaSend
	n.node.Media = &domain.MediaData{Path: path, Caption: caption}
	return n
}

// Voice marks the media as a recorded voice message.
func (n *NodeBuilder) Voice() *NodeBuilder {
	if n.node.Media != nil {
		n.node.Media.Record = true
	}
	return n
}

// Call makes the node invoke the named integration.
func (n *NodeBuilder) Call(name string, args map[string]any) *NodeBuilder {
	n.node.Kind = domain.NodeIntegration
	n.node.Integration = &domain.IntegrationData{Name: name, Args: args}
	return n
}

// Map routes an integration result code to a branch tag.
func (n *NodeBuilder) Map(code, tag string) *NodeBuilder {
	if d := n.node.Integration; d != nil {
		if d.Branches == nil {
			d.Branches = make(map[string]string)
		}
		d.Branches[code] = tag
	}
	return n
}

// When routes to tag when the expression holds, before the code table is consulted.
func (n *NodeBuilder) When(expr, tag string) *NodeBuilder {
	if d := n.node.Integration; d != nil {
		d.Rules = append(d.Rules, domain.BranchRule{When: expr, Tag: tag})
	}
	return n
}

// SaveTo stores the integration output under the given variable.
func (n *NodeBuilder) SaveTo(variable string) *NodeBuilder {
	if d := n.node.Integration; d != nil {
		d.SaveTo = variable
	}
	return n
}

// Terminal makes the node complete the execution.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.node.Kind = domain.NodeTerminal
	return n
}

// Go adds an untagged connection to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	return n.On("", target)
}

// On adds a connection taken when the node leaves through tag.
func (n *NodeBuilder) On(tag, target string) *NodeBuilder {
	n.edges = append(n.edges, edge{tag: tag, target: target})
	return n
}

// Add starts the next node, so definitions can be chained.
func (n *NodeBuilder) Add(id string) *NodeBuilder {
	return n.builder.Add(id)
}
