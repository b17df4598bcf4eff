package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeKind selects which behavior a graph node exhibits when executed.
type NodeKind string

const (
	// NodeMessage renders a text template and sends it (soft step).
	NodeMessage NodeKind = "message"
	// NodeInterval parks the context until a timer fires (hard step).
	NodeInterval NodeKind = "interval"
	// NodeQuestion sends a prompt and parks until a reply or a timeout (hard step).
	NodeQuestion NodeKind = "question"
	// NodeMediaSend resolves a media asset and sends it (soft step).
	NodeMediaSend NodeKind = "media"
	// NodeIntegration calls an external collaborator and branches on its result code.
	NodeIntegration NodeKind = "integration"
	// NodeTerminal completes the execution.
	NodeTerminal NodeKind = "terminal"
)

// Branch tags used on connections.
const (
	HandleSuccess = "success"
	HandleTimeout = "timeout"
	HandleError   = "error"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeMessage, NodeInterval, NodeQuestion, NodeMediaSend, NodeIntegration, NodeTerminal:
		return true
	}
	return false
}

// Suspends reports whether executing a node of this kind parks the context.
func (k NodeKind) Suspends() bool {
	return k == NodeInterval || k == NodeQuestion
}

// Node is a vertex of the flow graph.
// Exactly one payload pointer is set, matching Kind (none for NodeTerminal).
type Node struct {
	ID   string
	Kind NodeKind

	Message     *MessageData
	Interval    *IntervalData
	Question    *QuestionData
	Media       *MediaData
	Integration *IntegrationData

	// Position keeps the editor coordinates so a definition survives a round trip.
	Position *Position
}

func (n Node) clone() Node {
	if n.Message != nil {
		m := *n.Message
		n.Message = &m
	}
	if n.Interval != nil {
		iv := *n.Interval
		n.Interval = &iv
	}
	if n.Question != nil {
		q := *n.Question
		n.Question = &q
	}
	if n.Media != nil {
		md := *n.Media
		n.Media = &md
	}
	if n.Integration != nil {
		in := *n.Integration
		in.Args = cloneMap(in.Args)
		if in.Branches != nil {
			in.Branches = make(map[string]string, len(n.Integration.Branches))
			for k, v := range n.Integration.Branches {
				in.Branches[k] = v
			}
		}
		if in.Rules != nil {
			in.Rules = make([]BranchRule, len(n.Integration.Rules))
			copy(in.Rules, n.Integration.Rules)
		}
		n.Integration = &in
	}
	if n.Position != nil {
		p := *n.Position
		n.Position = &p
	}
	return n
}

// cloneMap copies m, descending into nested maps and slices.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Position is the editor placement of a node.
type Position struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
}

// MessageData is the payload of a NodeMessage.
type MessageData struct {
	Text string `json:"message" mapstructure:"message"`
}

// IntervalData is the payload of a NodeInterval.
type IntervalData struct {
	Value int          `json:"value" mapstructure:"value"`
	Unit  DurationUnit `json:"unit" mapstructure:"unit"`
}

// Wait returns the configured pause.
func (d IntervalData) Wait() WaitDuration {
	return WaitDuration{Value: d.Value, Unit: d.Unit}
}

// QuestionData is the payload of a NodeQuestion.
type QuestionData struct {
	Message   string       `json:"message" mapstructure:"message"`
	AnswerKey string       `json:"answerKey" mapstructure:"answerKey"`
	Timeout   WaitDuration `json:"timeout" mapstructure:"timeout"`
}

// MediaData is the payload of a NodeMediaSend.
type MediaData struct {
	Path    string `json:"path" mapstructure:"path"`
	Name    string `json:"name,omitempty" mapstructure:"name"`
	Caption string `json:"caption,omitempty" mapstructure:"caption"`
	// Record marks the asset as a recorded voice message.
	Record bool `json:"record,omitempty" mapstructure:"record"`
}

// IntegrationData is the payload of a NodeIntegration.
type IntegrationData struct {
	Name      string            `json:"name" mapstructure:"name"`
	Args      map[string]any    `json:"args,omitempty" mapstructure:"args"`
	TimeoutMs int               `json:"timeoutMs,omitempty" mapstructure:"timeoutMs"`
	Branches  map[string]string `json:"branches,omitempty" mapstructure:"branches"`
	Rules     []BranchRule      `json:"rules,omitempty" mapstructure:"rules"`
	SaveTo    string            `json:"saveTo,omitempty" mapstructure:"saveTo"`
}

// BranchRule maps an integration result to a branch tag when its expression holds.
// The expression sees `code`, `output` and `vars`.
type BranchRule struct {
	When string `json:"when" mapstructure:"when"`
	Tag  string `json:"tag" mapstructure:"tag"`
}

// Timeout returns the node-level deadline for the call, or zero when unset.
func (d *IntegrationData) Timeout() time.Duration {
	if d == nil || d.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// DeclaredTags returns every branch tag the node can produce through its mapping.
func (d *IntegrationData) DeclaredTags() []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	for _, r := range d.Rules {
		add(r.Tag)
	}
	for _, tag := range d.Branches {
		add(tag)
	}
	return tags
}

// DurationUnit is the unit of a WaitDuration.
type DurationUnit string

const (
	UnitSeconds DurationUnit = "seconds"
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// Base returns the length of one unit.
func (u DurationUnit) Base() (time.Duration, bool) {
	switch u {
	case UnitSeconds:
		return time.Second, true
	case UnitMinutes:
		return time.Minute, true
	case UnitHours:
		return time.Hour, true
	case UnitDays:
		return 24 * time.Hour, true
	}
	return 0, false
}

// DefaultIntervalLimits caps a wait per unit at authoring time.
var DefaultIntervalLimits = map[DurationUnit]int{
	UnitSeconds: 86400,
	UnitMinutes: 1440,
	UnitHours:   24,
	UnitDays:    30,
}

// WaitDuration is a duration expressed as value and unit.
type WaitDuration struct {
	Value int          `json:"value" mapstructure:"value"`
	Unit  DurationUnit `json:"unit" mapstructure:"unit"`
}

// Duration converts the wait into a time.Duration.
func (w WaitDuration) Duration() (time.Duration, error) {
	base, ok := w.Unit.Base()
	if !ok {
		return 0, fmt.Errorf("unknown duration unit %q", w.Unit)
	}
	if w.Value < 0 {
		return 0, fmt.Errorf("negative duration %d %s", w.Value, w.Unit)
	}
	return time.Duration(w.Value) * base, nil
}

// IsZero reports whether the wait was left unset.
func (w WaitDuration) IsZero() bool {
	return w.Value == 0 && w.Unit == ""
}

func (w WaitDuration) String() string {
	return fmt.Sprintf("%d %s", w.Value, w.Unit)
}

// ParseLegacyWait decodes the editor's "value:unit" encoding.
// A bare number is read as seconds.
func ParseLegacyWait(raw string) (WaitDuration, error) {
	raw = strings.TrimSpace(raw)
	value, unit, found := strings.Cut(raw, ":")
	if !found {
		unit = string(UnitSeconds)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return WaitDuration{}, fmt.Errorf("invalid wait value %q: %w", raw, err)
	}
	w := WaitDuration{Value: n, Unit: DurationUnit(strings.TrimSpace(unit))}
	if _, ok := w.Unit.Base(); !ok {
		return WaitDuration{}, fmt.Errorf("unknown duration unit %q", w.Unit)
	}
	return w, nil
}

// DefaultQuestionTimeout applies when a question node omits its timeout.
var DefaultQuestionTimeout = WaitDuration{Value: 1, Unit: UnitDays}
