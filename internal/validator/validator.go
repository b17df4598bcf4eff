// Package validator checks flow definitions before they are activated.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/listiago/atendechat/internal/runtime"
	"github.com/listiago/atendechat/pkg/domain"
)

// Validator checks the structural preconditions the interpreter relies on.
type Validator struct {
	limits map[domain.DurationUnit]int
}

// Option configures a Validator.
type Option func(*Validator)

// WithIntervalLimits overrides the per-unit cap of interval waits.
func WithIntervalLimits(limits map[domain.DurationUnit]int) Option {
	return func(v *Validator) {
		v.limits = limits
	}
}

// New creates a validator with the default interval limits.
func New(opts ...Option) *Validator {
	v := &Validator{limits: domain.DefaultIntervalLimits}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks flow with the default settings.
func Validate(flow *domain.FlowDefinition) error {
	return New().Validate(flow)
}

// Validate returns every problem found, joined, or nil.
// Each problem is a *domain.GraphIntegrityError.
func (v *Validator) Validate(flow *domain.FlowDefinition) error {
	c := &checker{flow: flow, limits: v.limits}
	c.checkNodes()
	c.checkConnections()
	if len(c.errs) == 0 {
		c.checkEntryAndReachability()
		c.checkBranches()
		c.checkSuspendingCycles()
	}
	return errors.Join(c.errs...)
}

type checker struct {
	flow   *domain.FlowDefinition
	limits map[domain.DurationUnit]int
	errs   []error
}

func (c *checker) report(nodeID, format string, args ...any) {
	c.errs = append(c.errs, &domain.GraphIntegrityError{
		FlowID: c.flow.ID,
		NodeID: nodeID,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (c *checker) checkNodes() {
	if len(c.flow.Nodes) == 0 {
		c.report("", "flow has no nodes")
		return
	}
	seen := make(map[string]bool, len(c.flow.Nodes))
	for i := range c.flow.Nodes {
		n := &c.flow.Nodes[i]
		if n.ID == "" {
			c.report("", "node at index %d has no id", i)
			continue
		}
		if seen[n.ID] {
			c.report(n.ID, "duplicate node id")
		}
		seen[n.ID] = true

		if !n.Kind.Valid() {
			c.report(n.ID, "unknown node kind %q", n.Kind)
			continue
		}
		c.checkPayload(n)
	}
}

func (c *checker) checkPayload(n *domain.Node) {
	switch n.Kind {
	case domain.NodeMessage:
		if n.Message == nil || strings.TrimSpace(n.Message.Text) == "" {
			c.report(n.ID, "message node has no text")
		}
	case domain.NodeInterval:
		if n.Interval == nil {
			c.report(n.ID, "interval node has no duration")
			return
		}
		c.checkInterval(n.ID, n.Interval.Wait())
	case domain.NodeQuestion:
		if n.Question == nil {
			c.report(n.ID, "question node has no data")
			return
		}
		if _, err := n.Question.Timeout.Duration(); err != nil {
			c.report(n.ID, "invalid question timeout: %v", err)
		}
	case domain.NodeMediaSend:
		if n.Media == nil || n.Media.Path == "" {
			c.report(n.ID, "media node has no path")
		}
	case domain.NodeIntegration:
		if n.Integration == nil || n.Integration.Name == "" {
			c.report(n.ID, "integration node has no name")
			return
		}
		for _, r := range n.Integration.Rules {
			if r.Tag == "" {
				c.report(n.ID, "branch rule %q has no tag", r.When)
			}
			if err := runtime.CompileRule(r.When); err != nil {
				c.report(n.ID, "%v", err)
			}
		}
	}
}

func (c *checker) checkInterval(nodeID string, w domain.WaitDuration) {
	if _, ok := w.Unit.Base(); !ok {
		c.report(nodeID, "unknown interval unit %q", w.Unit)
		return
	}
	if w.Value <= 0 {
		c.report(nodeID, "interval must be positive, got %s", w)
		return
	}
	if limit, ok := c.limits[w.Unit]; ok && w.Value > limit {
		c.report(nodeID, "interval %s exceeds the limit of %d %s", w, limit, w.Unit)
	}
}

func (c *checker) checkConnections() {
	for _, conn := range c.flow.Connections {
		if _, ok := c.flow.Node(conn.Source); !ok {
			c.report(conn.Source, "connection %s has unknown source %q", conn.ID, conn.Source)
		}
		if _, ok := c.flow.Node(conn.Target); !ok {
			c.report(conn.Source, "connection %s has unknown target %q", conn.ID, conn.Target)
		}
	}
}

func (c *checker) checkEntryAndReachability() {
	entry, err := c.flow.Entry()
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}

	visited := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, conn := range c.flow.Outgoing(current) {
			if !visited[conn.Target] {
				visited[conn.Target] = true
				queue = append(queue, conn.Target)
			}
		}
	}
	for _, n := range c.flow.Nodes {
		if !visited[n.ID] {
			c.report(n.ID, "node is unreachable from entry %q", entry)
		}
	}
}

func (c *checker) checkBranches() {
	for i := range c.flow.Nodes {
		n := &c.flow.Nodes[i]
		out := c.flow.Outgoing(n.ID)
		tags := make(map[string]int, len(out))
		for _, conn := range out {
			tags[conn.SourceHandle]++
		}

		switch n.Kind {
		case domain.NodeTerminal:
			if len(out) > 0 {
				c.report(n.ID, "terminal node has %d outgoing connections", len(out))
			}
		case domain.NodeQuestion:
			if len(out) != 2 || tags[domain.HandleSuccess] != 1 || tags[domain.HandleTimeout] != 1 {
				c.report(n.ID, "question node needs exactly one %q and one %q connection, got %v",
					domain.HandleSuccess, domain.HandleTimeout, handleList(out))
			}
		case domain.NodeIntegration:
			if len(out) == 0 {
				c.report(n.ID, "integration node has no outgoing connection")
			}
			for tag, count := range tags {
				if tag == "" {
					c.report(n.ID, "integration connections must be tagged with a result branch")
				} else if count > 1 {
					c.report(n.ID, "branch %q has %d connections", tag, count)
				}
			}
			if n.Integration != nil {
				for _, tag := range n.Integration.DeclaredTags() {
					if tags[tag] == 0 {
						c.report(n.ID, "declared branch %q has no connection", tag)
					}
				}
			}
		default:
			if len(out) != 1 || tags[""] != 1 {
				c.report(n.ID, "%s node needs exactly one untagged outgoing connection, got %v", n.Kind, handleList(out))
			}
		}
	}
}

// checkSuspendingCycles rejects cycles made only of synchronous nodes:
// the interpreter would loop on them without ever parking.
func (c *checker) checkSuspendingCycles() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(c.flow.Nodes))
	suspends := func(id string) bool {
		n, ok := c.flow.Node(id)
		return ok && n.Kind.Suspends()
	}

	var stack []string
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)
		for _, conn := range c.flow.Outgoing(id) {
			if suspends(conn.Target) {
				continue
			}
			switch state[conn.Target] {
			case onStack:
				start := 0
				for i, s := range stack {
					if s == conn.Target {
						start = i
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), conn.Target)
				c.report(conn.Target, "cycle without a suspending node: %s", strings.Join(cycle, " -> "))
				return true
			case unvisited:
				if visit(conn.Target) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, n := range c.flow.Nodes {
		if n.Kind.Suspends() || state[n.ID] != unvisited {
			continue
		}
		if visit(n.ID) {
			return
		}
	}
}

func handleList(conns []domain.Connection) []string {
	handles := make([]string, 0, len(conns))
	for _, conn := range conns {
		h := conn.SourceHandle
		if h == "" {
			h = "(untagged)"
		}
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}
