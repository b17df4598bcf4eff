package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowDefinition_RoundTrip(t *testing.T) {
	flow := domain.FlowDefinition{
		ID:       "f1",
		TenantID: "t1",
		Name:     "Onboarding",
		Active:   true,
		Nodes: []domain.Node{
			{ID: "q", Kind: domain.NodeQuestion, Question: &domain.QuestionData{
				Message:   "Your name?",
				AnswerKey: "name",
				Timeout:   domain.WaitDuration{Value: 2, Unit: domain.UnitHours},
			}, Position: &domain.Position{X: 10, Y: 20}},
			{ID: "m", Kind: domain.NodeMessage, Message: &domain.MessageData{Text: "Hi {{name}}"}},
			{ID: "w", Kind: domain.NodeInterval, Interval: &domain.IntervalData{Value: 5, Unit: domain.UnitMinutes}},
			{ID: "a", Kind: domain.NodeMediaSend, Media: &domain.MediaData{Path: "/srv/a.mp3", Caption: "listen", Record: true}},
			{ID: "i", Kind: domain.NodeIntegration, Integration: &domain.IntegrationData{
				Name:      "crm",
				Args:      map[string]any{"stage": "lead"},
				TimeoutMs: 500,
				Branches:  map[string]string{"200": "success"},
				Rules:     []domain.BranchRule{{When: `code == "404"`, Tag: "missing"}},
				SaveTo:    "crm",
			}},
			{ID: "end", Kind: domain.NodeTerminal},
		},
		Connections: []domain.Connection{
			{ID: "c1", Source: "q", SourceHandle: domain.HandleSuccess, Target: "m"},
			{ID: "c2", Source: "q", SourceHandle: domain.HandleTimeout, Target: "end"},
			{ID: "c3", Source: "m", Target: "w", TargetHandle: "in"},
		},
		Variables: map[string]any{"greeting": "hello"},
	}

	raw, err := json.Marshal(flow)
	require.NoError(t, err)

	var decoded domain.FlowDefinition
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, flow, decoded)
	assert.Equal(t, flow.SnapshotID(), decoded.SnapshotID())
}

func TestNode_UnmarshalLegacyShapes(t *testing.T) {
	t.Run("Interval With Unit", func(t *testing.T) {
		var n domain.Node
		require.NoError(t, json.Unmarshal([]byte(`{"id":"w","type":"interval","data":{"sec":"5:minutes"}}`), &n))
		require.NotNil(t, n.Interval)
		assert.Equal(t, domain.WaitDuration{Value: 5, Unit: domain.UnitMinutes}, n.Interval.Wait())
	})

	t.Run("Interval Bare Seconds", func(t *testing.T) {
		var n domain.Node
		require.NoError(t, json.Unmarshal([]byte(`{"id":"w","type":"interval","data":{"sec":30}}`), &n))
		assert.Equal(t, domain.WaitDuration{Value: 30, Unit: domain.UnitSeconds}, n.Interval.Wait())
	})

	t.Run("Interval Unknown Unit", func(t *testing.T) {
		var n domain.Node
		err := json.Unmarshal([]byte(`{"id":"w","type":"interval","data":{"sec":"5:weeks"}}`), &n)
		assert.Error(t, err)
	})

	t.Run("Question Envelope And Default Timeout", func(t *testing.T) {
		var n domain.Node
		raw := `{"id":"q","type":"question","data":{"typebotIntegration":{"message":"Name?","answerKey":"name"}}}`
		require.NoError(t, json.Unmarshal([]byte(raw), &n))
		require.NotNil(t, n.Question)
		assert.Equal(t, "Name?", n.Question.Message)
		assert.Equal(t, "name", n.Question.AnswerKey)
		assert.Equal(t, domain.DefaultQuestionTimeout, n.Question.Timeout)
	})

	t.Run("Weakly Typed Fields", func(t *testing.T) {
		var n domain.Node
		require.NoError(t, json.Unmarshal([]byte(`{"id":"i","type":"integration","data":{"name":"crm","timeoutMs":"250"}}`), &n))
		assert.Equal(t, 250, n.Integration.TimeoutMs)
	})

	t.Run("Unknown Type", func(t *testing.T) {
		var n domain.Node
		err := json.Unmarshal([]byte(`{"id":"x","type":"carousel"}`), &n)
		assert.ErrorContains(t, err, "unknown node type")
	})
}

func TestFlowDefinition_Envelope(t *testing.T) {
	raw := `{"id":"f1","name":"x","flow":{"nodes":[{"id":"a","type":"terminal"}],"connections":[]}}`
	var flow domain.FlowDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &flow))
	require.Len(t, flow.Nodes, 1)
	assert.Equal(t, domain.NodeTerminal, flow.Nodes[0].Kind)
}

func TestParseLegacyWait(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.WaitDuration
		wantErr bool
	}{
		{in: "10:seconds", want: domain.WaitDuration{Value: 10, Unit: domain.UnitSeconds}},
		{in: " 3:days ", want: domain.WaitDuration{Value: 3, Unit: domain.UnitDays}},
		{in: "45", want: domain.WaitDuration{Value: 45, Unit: domain.UnitSeconds}},
		{in: "x:minutes", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := domain.ParseLegacyWait(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
