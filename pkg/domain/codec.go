package domain

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// nodeWire is the persisted shape of a Node: kind-specific fields live under "data".
type nodeWire struct {
	ID       string    `json:"id"`
	Type     NodeKind  `json:"type"`
	Data     any       `json:"data,omitempty"`
	Position *Position `json:"position,omitempty"`
}

type nodeWireIn struct {
	ID       string         `json:"id"`
	Type     NodeKind       `json:"type"`
	Data     map[string]any `json:"data"`
	Position *Position      `json:"position"`
}

// MarshalJSON encodes the node with its payload under "data".
func (n Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{ID: n.ID, Type: n.Kind, Position: n.Position}
	switch n.Kind {
	case NodeMessage:
		if n.Message != nil {
			w.Data = n.Message
		}
	case NodeInterval:
		if n.Interval != nil {
			w.Data = n.Interval
		}
	case NodeQuestion:
		if n.Question != nil {
			w.Data = n.Question
		}
	case NodeMediaSend:
		if n.Media != nil {
			w.Data = n.Media
		}
	case NodeIntegration:
		if n.Integration != nil {
			w.Data = n.Integration
		}
	case NodeTerminal:
	default:
		return nil, fmt.Errorf("node %s: unknown node type %q", n.ID, n.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a node, accepting both the canonical payloads and the
// legacy editor shapes ("sec" intervals, "typebotIntegration" questions).
func (n *Node) UnmarshalJSON(b []byte) error {
	var w nodeWireIn
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	*n = Node{ID: w.ID, Kind: w.Type, Position: w.Position}

	switch w.Type {
	case NodeMessage:
		var d MessageData
		if err := decodePayload(w.Data, &d); err != nil {
			return fmt.Errorf("node %s: %w", w.ID, err)
		}
		n.Message = &d

	case NodeInterval:
		var d IntervalData
		if sec, ok := w.Data["sec"]; ok {
			wait, err := ParseLegacyWait(fmt.Sprint(sec))
			if err != nil {
				return fmt.Errorf("node %s: %w", w.ID, err)
			}
			d = IntervalData{Value: wait.Value, Unit: wait.Unit}
		} else if err := decodePayload(w.Data, &d); err != nil {
			return fmt.Errorf("node %s: %w", w.ID, err)
		}
		n.Interval = &d

	case NodeQuestion:
		data := w.Data
		if legacy, ok := data["typebotIntegration"].(map[string]any); ok {
			data = legacy
		}
		var d QuestionData
		if err := decodePayload(data, &d); err != nil {
			return fmt.Errorf("node %s: %w", w.ID, err)
		}
		if d.Timeout.IsZero() {
			d.Timeout = DefaultQuestionTimeout
		}
		n.Question = &d

	case NodeMediaSend:
		var d MediaData
		if err := decodePayload(w.Data, &d); err != nil {
			return fmt.Errorf("node %s: %w", w.ID, err)
		}
		n.Media = &d

	case NodeIntegration:
		var d IntegrationData
		if err := decodePayload(w.Data, &d); err != nil {
			return fmt.Errorf("node %s: %w", w.ID, err)
		}
		n.Integration = &d

	case NodeTerminal:

	default:
		return fmt.Errorf("node %s: unknown node type %q", w.ID, w.Type)
	}
	return nil
}

func decodePayload(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("invalid node data: %w", err)
	}
	return nil
}
