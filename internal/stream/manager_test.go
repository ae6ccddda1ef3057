package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// fakeTransport records every Open and exposes the callbacks so tests can
// drive frames and errors by hand.
type fakeTransport struct {
	mu    sync.Mutex
	opens []fakeOpen
}

type fakeOpen struct {
	url    string
	cb     Callbacks
	handle *fakeHandle
}

type fakeHandle struct {
	closed bool
}

func (h *fakeHandle) Close() { h.closed = true }

func (t *fakeTransport) Open(url string, cb Callbacks) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := &fakeHandle{}
	t.opens = append(t.opens, fakeOpen{url: url, cb: cb, handle: h})
	return h, nil
}

func (t *fakeTransport) last() fakeOpen {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[len(t.opens)-1]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opens)
}

// recordingSink collects events and phase changes.
type recordingSink struct {
	mu     sync.Mutex
	events []*model.Event
	phases []model.ConnectionPhase
	errs   []string
}

func (s *recordingSink) OnEvent(ev *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) OnPhaseChange(phase model.ConnectionPhase, lastError string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
	s.errs = append(s.errs, lastError)
}

func (s *recordingSink) kinds() []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]model.EventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (s *recordingSink) lastErr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return ""
	}
	return s.errs[len(s.errs)-1]
}

// timerSeam captures scheduled retries instead of running them.
type timerSeam struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (ts *timerSeam) afterFunc(d time.Duration, f func()) *time.Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delays = append(ts.delays, d)
	ts.fns = append(ts.fns, f)
	return time.NewTimer(time.Hour)
}

func (ts *timerSeam) fireLast() {
	ts.mu.Lock()
	f := ts.fns[len(ts.fns)-1]
	ts.mu.Unlock()
	f()
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *recordingSink, *timerSeam) {
	t.Helper()
	transport := &fakeTransport{}
	sink := &recordingSink{}
	seam := &timerSeam{}

	m := NewManager(ManagerOptions{
		Transport: transport,
		StreamURL: func(taskID string) string { return "http://backend/api/v1/tasks/" + taskID + "/stream" },
		Sink:      sink,
		Logger:    logger.NewNop(),
	})
	m.afterFunc = seam.afterFunc
	return m, transport, sink, seam
}

func TestManagerConnect(t *testing.T) {
	t.Run("Should open the stream URL for the task", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)

		m.Connect("101")

		require.Equal(t, 1, transport.count())
		assert.Equal(t, "http://backend/api/v1/tasks/101/stream", transport.last().url)
		phase, _, _ := m.State()
		assert.Equal(t, model.PhaseConnecting, phase)
	})

	t.Run("Should report connected only after the connected frame", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)
		m.Connect("101")

		transport.last().cb.OnFrame("connected", []byte(`{"task_id":"101"}`))

		phase, lastErr, attempt := m.State()
		assert.Equal(t, model.PhaseConnected, phase)
		assert.Empty(t, lastErr)
		assert.Zero(t, attempt)
	})

	t.Run("Should close the previous connection when switching tasks", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)
		m.Connect("101")
		first := transport.last()

		m.Connect("202")

		assert.True(t, first.handle.closed)
		assert.Equal(t, "202", m.TaskID())
	})

	t.Run("Should drop frames from a stale connection", func(t *testing.T) {
		m, transport, sink, _ := newTestManager(t)
		m.Connect("101")
		stale := transport.last()
		m.Connect("202")

		stale.cb.OnFrame("message", []byte(`{"event_id":"old","content":{"text":"late"}}`))

		assert.Empty(t, sink.kinds())
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("Should back off 1s 2s 4s 8s 16s across attempts", func(t *testing.T) {
		m, transport, _, seam := newTestManager(t)
		m.Connect("101")

		for i := 0; i < 5; i++ {
			transport.last().cb.OnError(errors.New("connection reset"))
			seam.fireLast()
		}

		assert.Equal(t, []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
		}, seam.delays)
		assert.Equal(t, 6, transport.count())
	})

	t.Run("Should surface the retry delay in the error message", func(t *testing.T) {
		m, transport, sink, _ := newTestManager(t)
		m.Connect("101")

		transport.last().cb.OnError(errors.New("connection reset"))

		assert.Equal(t, "Connection lost. Reconnecting in 1s...", sink.lastErr())
	})

	t.Run("Should stop with a terminal error after the ceiling", func(t *testing.T) {
		m, transport, sink, seam := newTestManager(t)
		m.Connect("101")

		for i := 0; i < 5; i++ {
			transport.last().cb.OnError(errors.New("connection reset"))
			seam.fireLast()
		}
		transport.last().cb.OnError(errors.New("connection reset"))

		assert.Equal(t, "Connection failed. Please reconnect manually.", sink.lastErr())
		assert.Len(t, seam.delays, 5)
		_, _, attempt := m.State()
		assert.Equal(t, 5, attempt)
	})

	t.Run("Should reset the attempt counter only on a connected frame", func(t *testing.T) {
		m, transport, _, seam := newTestManager(t)
		m.Connect("101")

		transport.last().cb.OnError(errors.New("reset"))
		seam.fireLast()
		transport.last().cb.OnError(errors.New("reset"))
		seam.fireLast()
		_, _, attempt := m.State()
		require.Equal(t, 2, attempt)

		transport.last().cb.OnFrame("connected", []byte(`{"task_id":"101"}`))
		_, _, attempt = m.State()
		assert.Zero(t, attempt)

		// Backoff starts over after recovery.
		transport.last().cb.OnError(errors.New("reset"))
		assert.Equal(t, 1*time.Second, seam.delays[len(seam.delays)-1])
	})

	t.Run("Should cancel a pending retry on explicit disconnect", func(t *testing.T) {
		m, transport, _, seam := newTestManager(t)
		m.Connect("101")
		transport.last().cb.OnError(errors.New("reset"))
		opens := transport.count()

		m.Disconnect()
		seam.fireLast()

		assert.Equal(t, opens, transport.count())
	})

	t.Run("Should leave the attempt counter untouched on explicit disconnect", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)
		m.Connect("101")
		transport.last().cb.OnError(errors.New("reset"))
		_, _, attempt := m.State()
		require.Equal(t, 1, attempt)

		m.Disconnect()

		_, _, attempt = m.State()
		assert.Equal(t, 1, attempt)
	})
}

func TestManagerFrames(t *testing.T) {
	t.Run("Should deliver decoded events to the sink in order", func(t *testing.T) {
		m, transport, sink, _ := newTestManager(t)
		m.Connect("101")
		cb := transport.last().cb

		cb.OnFrame("connected", []byte(`{"task_id":"101"}`))
		cb.OnFrame("thought", []byte(`{"event_id":"e1","content":{"text":"thinking"}}`))
		cb.OnFrame("message", []byte(`{"event_id":"e2","content":{"text":"done"}}`))

		assert.Equal(t, []model.EventKind{
			model.KindConnected, model.KindThought, model.KindMessage,
		}, sink.kinds())
	})

	t.Run("Should drop malformed frames and keep the stream alive", func(t *testing.T) {
		m, transport, sink, _ := newTestManager(t)
		m.Connect("101")
		cb := transport.last().cb

		cb.OnFrame("connected", []byte(`{"task_id":"101"}`))
		cb.OnFrame("tool_call", []byte(`{"event_id":"bad","content":{}}`))
		cb.OnFrame("message", []byte(`{"event_id":"e2","content":{"text":"still here"}}`))

		assert.Equal(t, []model.EventKind{
			model.KindConnected, model.KindMessage,
		}, sink.kinds())
		phase, _, _ := m.State()
		assert.Equal(t, model.PhaseConnected, phase)
	})

	t.Run("Should tear down without reconnect on a close frame", func(t *testing.T) {
		m, transport, _, seam := newTestManager(t)
		m.Connect("101")
		open := transport.last()
		open.cb.OnFrame("connected", []byte(`{"task_id":"101"}`))

		open.cb.OnFrame("close", []byte(`{"task_id":"101","reason":"task archived"}`))

		assert.True(t, open.handle.closed)
		assert.Empty(t, seam.delays)
		phase, _, _ := m.State()
		assert.Equal(t, model.PhaseDisconnected, phase)
	})

	t.Run("Should disconnect when the task reaches archived", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)
		m.Connect("101")
		open := transport.last()
		open.cb.OnFrame("connected", []byte(`{"task_id":"101"}`))

		open.cb.OnFrame("status_change", []byte(`{"event_id":"e1","content":{"status":"archived"}}`))

		assert.True(t, open.handle.closed)
		phase, _, _ := m.State()
		assert.Equal(t, model.PhaseDisconnected, phase)
	})

	t.Run("Should stay connected when the task reaches awaiting_review", func(t *testing.T) {
		m, transport, _, _ := newTestManager(t)
		m.Connect("101")
		open := transport.last()
		open.cb.OnFrame("connected", []byte(`{"task_id":"101"}`))

		open.cb.OnFrame("status_change", []byte(`{"event_id":"e1","content":{"status":"awaiting_review"}}`))

		assert.False(t, open.handle.closed)
		phase, _, _ := m.State()
		assert.Equal(t, model.PhaseConnected, phase)
	})
}
