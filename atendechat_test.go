package atendechat_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat"
	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/media/ffmpeg"
	"github.com/listiago/atendechat/pkg/scheduler"
)

const lrm = "\u200e"

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTranscoder writes a placeholder output and records the requested profiles.
type fakeTranscoder struct {
	dir      string
	mu       sync.Mutex
	profiles []domain.TranscodeProfile
}

func (f *fakeTranscoder) Transcode(ctx context.Context, source string, profile domain.TranscodeProfile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := filepath.Join(f.dir, fmt.Sprintf("out-%d%s", len(f.profiles), profile.Params().Extension))
	f.profiles = append(f.profiles, profile)
	return out, os.WriteFile(out, []byte("audio"), 0o644)
}

type fixture struct {
	clock     *clock
	transport *memory.Transport
	tickets   *memory.Tickets
	store     *memory.Store
	timers    *memory.TimerStore
	engine    *atendechat.Engine
}

func newFixture(t *testing.T, opts ...atendechat.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &clock{now: epoch},
		transport: memory.NewTransport(),
		tickets:   memory.NewTickets(),
		store:     memory.NewStore(),
		timers:    memory.NewTimerStore(),
	}
	base := []atendechat.Option{
		atendechat.WithTransport(f.transport),
		atendechat.WithTicketUpdater(f.tickets),
		atendechat.WithContextStore(f.store),
		atendechat.WithTimerStore(f.timers),
		atendechat.WithClock(f.clock.Now),
		atendechat.WithWorkers(2),
	}
	eng, err := atendechat.New(append(base, opts...)...)
	require.NoError(t, err)
	f.engine = eng
	return f
}

// fire advances the clock and delivers every timer that came due.
func (f *fixture) fire(t *testing.T, d time.Duration) int {
	t.Helper()
	f.clock.Advance(d)
	n, err := f.engine.Scheduler().FireDue(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) get(t *testing.T, id string) *domain.ExecutionContext {
	t.Helper()
	ec, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return ec
}

func trigger(id string) domain.Trigger {
	return domain.Trigger{
		ContextID: id,
		Recipient: domain.Recipient{Number: "5511999990000"},
		TicketID:  "42",
	}
}

func node(id string, kind domain.NodeKind) domain.Node {
	return domain.Node{ID: id, Kind: kind}
}

func message(id, text string) domain.Node {
	n := node(id, domain.NodeMessage)
	n.Message = &domain.MessageData{Text: text}
	return n
}

func edge(source, handle, target string) domain.Connection {
	return domain.Connection{ID: source + "-" + target, Source: source, SourceHandle: handle, Target: target}
}

func flow(nodes []domain.Node, conns ...domain.Connection) *domain.FlowDefinition {
	return &domain.FlowDefinition{ID: "welcome", TenantID: "acme", Name: "Welcome", Active: true, Nodes: nodes, Connections: conns}
}

func intervalFlow() *domain.FlowDefinition {
	wait := node("wait", domain.NodeInterval)
	wait.Interval = &domain.IntervalData{Value: 5, Unit: domain.UnitMinutes}
	return flow(
		[]domain.Node{message("hi", "Hi"), wait, node("end", domain.NodeTerminal)},
		edge("hi", "", "wait"), edge("wait", "", "end"),
	)
}

func questionFlow() *domain.FlowDefinition {
	ask := node("ask", domain.NodeQuestion)
	ask.Question = &domain.QuestionData{
		Message:   "What is your name?",
		AnswerKey: "name",
		Timeout:   domain.WaitDuration{Value: 1, Unit: domain.UnitDays},
	}
	return flow(
		[]domain.Node{ask, message("greet", "Hi {{name}}"), message("bye", "Bye"), node("end", domain.NodeTerminal)},
		edge("ask", domain.HandleSuccess, "greet"),
		edge("ask", domain.HandleTimeout, "bye"),
		edge("greet", "", "end"),
		edge("bye", "", "end"),
	)
}

func mediaFlow(path string) *domain.FlowDefinition {
	send := node("send", domain.NodeMediaSend)
	send.Media = &domain.MediaData{Path: path}
	return flow([]domain.Node{send, node("end", domain.NodeTerminal)}, edge("send", "", "end"))
}

func TestScenarioA_MessageIntervalTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ec, err := f.engine.StartFlow(ctx, intervalFlow(), trigger("a"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingInterval, ec.Status)
	assert.Equal(t, []string{lrm + "Hi"}, f.transport.Texts())
	assert.Equal(t, lrm+"Hi", f.tickets.LastMessage("42"))

	pending, err := f.engine.Scheduler().Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, epoch.Add(5*time.Minute), pending[0].Deadline)

	stored := f.get(t, "a")
	assert.Equal(t, domain.StatusWaitingInterval, stored.Status, "the parked context is persisted")

	assert.Equal(t, 0, f.fire(t, 4*time.Minute), "not due yet")
	assert.Equal(t, 1, f.fire(t, time.Minute))

	done := f.get(t, "a")
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, []string{"hi", "wait", "end"}, done.History)

	live, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, live, "a", "completed contexts are archived")
}

func TestScenarioB_Question(t *testing.T) {
	t.Run("Reply", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		ec, err := f.engine.StartFlow(ctx, questionFlow(), trigger("b"))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitingForResponse, ec.Status)

		done, err := f.engine.Reply(ctx, "b", "Ana")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, done.Status)
		assert.Equal(t, "Ana", done.Variables["name"])
		assert.Equal(t, []string{lrm + "What is your name?", lrm + "Hi Ana"}, f.transport.Texts())

		pending, err := f.engine.Scheduler().Pending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending, "a reply cancels the timeout")
		assert.Equal(t, 0, f.fire(t, 48*time.Hour))
	})

	t.Run("Timeout", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.StartFlow(context.Background(), questionFlow(), trigger("b"))
		require.NoError(t, err)

		assert.Equal(t, 1, f.fire(t, 24*time.Hour))
		done := f.get(t, "b")
		assert.Equal(t, domain.StatusCompleted, done.Status)
		assert.NotContains(t, done.Variables, "name")
		assert.Equal(t, []string{lrm + "What is your name?", lrm + "Bye"}, f.transport.Texts())
	})
}

func TestScenarioC_AudioProfiles(t *testing.T) {
	dir := t.TempDir()
	transcoder := &fakeTranscoder{dir: t.TempDir()}
	f := newFixture(t, atendechat.WithTranscoder(transcoder))

	tests := []struct {
		file    string
		profile domain.TranscodeProfile
		ptt     bool
		mime    string
	}{
		{"greeting.webm", domain.ProfileVoiceNote, true, domain.VoiceNoteMimeType},
		{"jingle.mp3", domain.ProfileFileAudio, false, "audio/mpeg"},
	}
	for i, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte("source"), 0o644))

			done, err := f.engine.StartFlow(context.Background(), mediaFlow(path), trigger(tt.file))
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, done.Status)

			sent := f.transport.Sent()
			require.Len(t, sent, i+1)
			msg := sent[i]
			assert.Equal(t, "5511999990000@s.whatsapp.net", msg.JID)
			assert.Equal(t, domain.PayloadAudio, msg.Payload.Kind)
			assert.Equal(t, tt.profile, msg.Payload.Profile)
			assert.Equal(t, tt.ptt, msg.Payload.PTT)
			assert.Equal(t, tt.mime, msg.Payload.MimeType)

			assert.FileExists(t, path, "flow sends keep their source")
		})
	}
	assert.Equal(t, []domain.TranscodeProfile{domain.ProfileVoiceNote, domain.ProfileFileAudio}, transcoder.profiles)
}

func TestScenarioD_MissingAudioSource(t *testing.T) {
	f := newFixture(t, atendechat.WithTranscoder(ffmpeg.New(
		ffmpeg.WithBinary(filepath.Join(t.TempDir(), "never-spawned")),
		ffmpeg.WithOutputDir(t.TempDir()),
	)))

	failed, err := f.engine.StartFlow(context.Background(), mediaFlow(filepath.Join(t.TempDir(), "missing.mp3")), trigger("d"))
	require.Error(t, err)
	assert.True(t, domain.IsTranscodeFailure(err))
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Empty(t, f.transport.Sent())

	stored := f.get(t, "d")
	assert.Equal(t, domain.StatusFailed, stored.Status, "the failure is persisted")
	assert.NotEmpty(t, stored.FailureReason)
}

func TestEngine_StaleTimerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ec, err := f.engine.StartFlow(ctx, intervalFlow(), trigger("s"))
	require.NoError(t, err)
	timerID := ec.PendingWait.TimerID

	assert.Equal(t, 1, f.fire(t, 5*time.Minute))
	first := f.get(t, "s")
	require.Equal(t, domain.StatusCompleted, first.Status)

	again, err := f.engine.Resume(ctx, "s", domain.TimerFired(timerID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, first.History, again.History)
	assert.Equal(t, []string{lrm + "Hi"}, f.transport.Texts(), "nothing is sent twice")
}

func TestEngine_ReplyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.StartFlow(ctx, intervalFlow(), trigger("r"))
	require.NoError(t, err)

	_, err = f.engine.Reply(ctx, "r", "hello?")
	var rejected *domain.EventRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, domain.StatusWaitingInterval, rejected.Status)
	assert.ErrorIs(t, err, domain.ErrEventRejected)
	assert.Equal(t, domain.StatusWaitingInterval, f.get(t, "r").Status)

	_, err = f.engine.Reply(ctx, "unknown", "hi")
	assert.ErrorIs(t, err, domain.ErrContextNotFound)
}

func TestEngine_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.StartFlow(ctx, questionFlow(), trigger("c"))
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(ctx, "c", "ticket closed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, cancelled.Status)
	assert.Equal(t, "execution cancelled: ticket closed", cancelled.FailureReason)
	assert.Nil(t, cancelled.PendingWait)

	pending, err := f.engine.Scheduler().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := f.engine.Cancel(ctx, "c", "twice")
	require.NoError(t, err)
	assert.Equal(t, "execution cancelled: ticket closed", again.FailureReason)

	_, err = f.engine.Reply(ctx, "c", "Ana")
	assert.ErrorIs(t, err, domain.ErrEventRejected)
}

func TestEngine_Start(t *testing.T) {
	t.Run("From Loader", func(t *testing.T) {
		f := newFixture(t, atendechat.WithLoader(memory.NewLoader(intervalFlow())))
		ec, err := f.engine.Start(context.Background(), "acme", "welcome", domain.Trigger{
			Recipient: domain.Recipient{Number: "120363000000000000", IsGroup: true},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ec.ID, "a context id is generated")
		assert.Equal(t, "acme", ec.TenantID)
		assert.Equal(t, "120363000000000000@g.us", f.transport.Sent()[0].JID)
	})

	t.Run("Unknown Flow", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Start(context.Background(), "acme", "nope", domain.Trigger{})
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	t.Run("Inactive Flow", func(t *testing.T) {
		f := newFixture(t)
		fl := intervalFlow()
		fl.Active = false
		_, err := f.engine.StartFlow(context.Background(), fl, trigger("x"))
		assert.ErrorIs(t, err, domain.ErrFlowInactive)
		assert.Empty(t, f.transport.Sent())
	})

	t.Run("Invalid Flow", func(t *testing.T) {
		f := newFixture(t)
		fl := questionFlow()
		fl.Connections = fl.Connections[1:] // drop the success branch
		_, err := f.engine.StartFlow(context.Background(), fl, trigger("x"))
		assert.True(t, domain.IsGraphIntegrity(err))
		assert.Error(t, f.engine.Validate(fl))
	})

	t.Run("Validated Per Snapshot", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		valid := questionFlow()
		_, err := f.engine.StartFlow(ctx, valid, trigger("v1"))
		require.NoError(t, err)
		_, err = f.engine.StartFlow(ctx, valid, trigger("v2"))
		require.NoError(t, err)

		edited := valid.Clone()
		edited.Connections = edited.Connections[1:]
		_, err = f.engine.StartFlow(ctx, edited, trigger("v3"))
		assert.True(t, domain.IsGraphIntegrity(err), "an edited flow is a new snapshot")
		_, err = f.engine.StartFlow(ctx, edited, trigger("v4"))
		assert.True(t, domain.IsGraphIntegrity(err), "rejected snapshots are not remembered")
	})

	t.Run("Duplicate Id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.StartFlow(context.Background(), intervalFlow(), trigger("dup"))
		require.NoError(t, err)
		_, err = f.engine.StartFlow(context.Background(), intervalFlow(), trigger("dup"))
		assert.ErrorIs(t, err, domain.ErrContextExists)
		assert.Len(t, f.transport.Texts(), 1)
	})
}

func TestEngine_ChangeObserver(t *testing.T) {
	var mu sync.Mutex
	var diffs []*domain.ContextDiff
	f := newFixture(t, atendechat.WithChangeObserver(func(ctx context.Context, d *domain.ContextDiff) {
		mu.Lock()
		defer mu.Unlock()
		diffs = append(diffs, d)
	}))
	ctx := context.Background()

	_, err := f.engine.StartFlow(ctx, questionFlow(), trigger("o"))
	require.NoError(t, err)
	_, err = f.engine.Reply(ctx, "o", "Bia")
	require.NoError(t, err)
	_, err = f.engine.Reply(ctx, "o", "late")
	require.Error(t, err)

	require.Len(t, diffs, 2, "rejected events change nothing")
	require.NotNil(t, diffs[0].Status)
	assert.Equal(t, domain.StatusWaitingForResponse, *diffs[0].Status)
	assert.Equal(t, "Bia", diffs[1].Variables["name"])
	assert.Equal(t, []string{"greet", "end"}, diffs[1].Executed)
}

func TestEngine_SendMedia(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "receipt.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))

	handle, err := f.engine.SendMedia(context.Background(), domain.Recipient{Number: "5511999990000"}, "42", domain.MediaAsset{
		Path:    path,
		Caption: "Your receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, "5511999990000@s.whatsapp.net", handle.RemoteJID)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.PayloadImage, sent[0].Payload.Kind)
	assert.Equal(t, "receipt", sent[0].Payload.FileName)
	assert.Equal(t, "Your receipt", f.tickets.LastMessage("42"))
	assert.NoFileExists(t, path, "direct sends remove their source")
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := atendechat.New()
	assert.Error(t, err)
}

func TestEngine_Run(t *testing.T) {
	f := newFixture(t, atendechat.WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.engine.StartFlow(ctx, intervalFlow(), trigger("run"))
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- f.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.get(t, "run").Status == domain.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

// flakyStore fails the next failLoads loads, as a dropped store connection would.
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	failLoads int
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoads = n
}

func (s *flakyStore) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	s.mu.Lock()
	fail := s.failLoads > 0
	if fail {
		s.failLoads--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("transient: connection reset")
	}
	return s.Store.Load(ctx, contextID)
}

func TestEngine_TimerDeliveryRetried(t *testing.T) {
	t.Run("Store Outage", func(t *testing.T) {
		store := &flakyStore{Store: memory.NewStore()}
		f := newFixture(t, atendechat.WithContextStore(store))
		ctx := context.Background()

		ec, err := f.engine.StartFlow(ctx, intervalFlow(), trigger("flaky"))
		require.NoError(t, err)
		timerID := ec.PendingWait.TimerID

		store.failNext(1)
		assert.Equal(t, 1, f.fire(t, 5*time.Minute))
		assert.Equal(t, domain.StatusWaitingInterval, f.get(t, "flaky").Status)

		pending, err := f.engine.Scheduler().Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1, "the wake-up survives the failed delivery")
		assert.Equal(t, timerID, pending[0].ID)

		assert.Equal(t, 1, f.fire(t, scheduler.DefaultRetryDelay))
		assert.Equal(t, domain.StatusCompleted, f.get(t, "flaky").Status)
		assert.Equal(t, []string{lrm + "Hi"}, f.transport.Texts())
	})

	t.Run("Failed Step Consumes Timer", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.engine.StartFlow(ctx, questionFlow(), trigger("sf"))
		require.NoError(t, err)

		f.transport.FailWith = errors.New("socket closed")
		assert.Equal(t, 1, f.fire(t, 24*time.Hour))
		assert.Equal(t, domain.StatusFailed, f.get(t, "sf").Status)

		pending, err := f.engine.Scheduler().Pending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

// cancellingTransport stops the caller's scan in the middle of a send.
type cancellingTransport struct {
	*memory.Transport
	cancel context.CancelFunc
}

func (t *cancellingTransport) SendMessage(ctx context.Context, jid string, payload domain.MessagePayload) (domain.MessageHandle, error) {
	if t.cancel != nil {
		t.cancel()
	}
	if err := ctx.Err(); err != nil {
		return domain.MessageHandle{}, err
	}
	return t.Transport.SendMessage(ctx, jid, payload)
}

func TestEngine_ShutdownDuringTimerDelivery(t *testing.T) {
	tr := &cancellingTransport{Transport: memory.NewTransport()}
	f := newFixture(t, atendechat.WithTransport(tr))

	_, err := f.engine.StartFlow(context.Background(), questionFlow(), trigger("sd"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.cancel = cancel

	f.clock.Advance(24 * time.Hour)
	n, err := f.engine.Scheduler().FireDue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)

	done := f.get(t, "sd")
	assert.Equal(t, domain.StatusCompleted, done.Status, "shutdown lets the step finish")
	assert.Empty(t, done.FailureReason)
	assert.Equal(t, []string{lrm + "What is your name?", lrm + "Bye"}, tr.Texts())
}
