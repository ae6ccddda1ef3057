package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/metrics"
)

// DefaultMaxReconnects is the reconnection attempt ceiling after transport
// errors. Past the ceiling the only recovery is an explicit Connect call.
const DefaultMaxReconnects = 5

// Sink receives decoded events and connection phase changes from a
// Manager. Invocations are serialized under the manager's lock; a Sink
// must not call back into the manager.
type Sink interface {
	OnEvent(ev *model.Event)
	OnPhaseChange(phase model.ConnectionPhase, lastError string, attempt int)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Transport Transport
	// StreamURL builds the stream endpoint for a task.
	StreamURL func(taskID string) string
	Sink      Sink
	Logger    *logger.Logger
	// MaxReconnects overrides DefaultMaxReconnects when positive.
	MaxReconnects int
}

// Manager owns the lifecycle of one server-push connection per active
// task: connect, listen, detect drops, reconnect with exponential backoff,
// and proactive teardown on terminal statuses. At most one connection is
// live at a time.
type Manager struct {
	mu sync.Mutex

	transport     Transport
	streamURL     func(taskID string) string
	sink          Sink
	log           *logger.Logger
	maxReconnects int

	taskID string
	handle Handle

	// epoch increments on every connect/disconnect so deliveries from a
	// torn-down connection are discarded instead of being applied to the
	// next task's state.
	epoch uint64

	phase    model.ConnectionPhase
	lastErr  string
	attempt  int
	backoff  *backoff.ExponentialBackOff
	retryTmr *time.Timer

	// afterFunc is a test seam; defaults to time.AfterFunc.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewManager creates a connection manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	maxReconnects := opts.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = DefaultMaxReconnects
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Manager{
		transport:     opts.Transport,
		streamURL:     opts.StreamURL,
		sink:          opts.Sink,
		log:           opts.Logger,
		maxReconnects: maxReconnects,
		phase:         model.PhaseDisconnected,
		backoff:       bo,
		afterFunc:     time.AfterFunc,
	}
}

// Connect opens the stream for taskID. Any existing connection, for this
// or another task, is closed first. Connect returns immediately; frames
// arrive asynchronously through the Sink.
func (m *Manager) Connect(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopRetryLocked()
	m.closeHandleLocked()

	m.taskID = taskID
	m.epoch++
	ep := m.epoch
	m.phase = model.PhaseConnecting
	m.lastErr = ""
	m.notifyPhaseLocked()

	m.log.Info("connecting to task stream", "task_id", taskID, "attempt", m.attempt)

	h, err := m.transport.Open(m.streamURL(taskID), Callbacks{
		OnFrame: func(name string, data []byte) { m.onFrame(ep, name, data) },
		OnError: func(err error) { m.onTransportError(ep, err) },
	})
	if err != nil {
		m.transportErrorLocked(fmt.Errorf("failed to open stream: %w", err))
		return
	}
	m.handle = h
}

// Disconnect closes the active connection and cancels any pending retry.
// Idempotent. Explicit disconnect is not a failure: the attempt counter is
// left untouched and no reconnect is scheduled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// State returns the current connection phase, last error and reconnect
// attempt count.
func (m *Manager) State() (model.ConnectionPhase, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase, m.lastErr, m.attempt
}

// TaskID returns the task the manager is attached to, if any.
func (m *Manager) TaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskID
}

func (m *Manager) disconnectLocked() {
	m.stopRetryLocked()
	m.closeHandleLocked()
	m.taskID = ""
	m.epoch++
	if m.phase != model.PhaseDisconnected {
		m.phase = model.PhaseDisconnected
		m.notifyPhaseLocked()
	}
}

func (m *Manager) closeHandleLocked() {
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retryTmr != nil {
		m.retryTmr.Stop()
		m.retryTmr = nil
	}
}

func (m *Manager) onFrame(epoch uint64, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		m.log.Debug("dropping frame from stale connection", "frame", name)
		return
	}

	ev, err := DecodeFrame(name, data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownFrame) {
			reason = "unknown"
		}
		metrics.RecordDecodeFailure(name, reason)
		m.log.Warn("dropping undecodable frame", "frame", name, "error", err)
		return
	}
	metrics.RecordFrame(name)

	switch ev.Kind {
	case model.KindConnected:
		m.phase = model.PhaseConnected
		m.attempt = 0
		m.lastErr = ""
		m.backoff.Reset()
		m.notifyPhaseLocked()
		m.deliverLocked(ev)

	case model.KindHeartbeat:
		m.deliverLocked(ev)

	case model.KindClose:
		// Graceful server-side teardown: no reconnect.
		m.log.Info("stream closed by server", "task_id", m.taskID, "reason", ev.CloseReason)
		m.deliverLocked(ev)
		m.disconnectLocked()

	case model.KindStatusChange:
		m.deliverLocked(ev)
		if ev.StatusChange.Status.ClosesStream() {
			m.log.Info("terminal status observed, closing stream",
				"task_id", m.taskID, "status", ev.StatusChange.Status)
			m.disconnectLocked()
		}

	default:
		m.deliverLocked(ev)
	}
}

func (m *Manager) onTransportError(epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return
	}
	m.transportErrorLocked(err)
}

func (m *Manager) transportErrorLocked(err error) {
	m.closeHandleLocked()
	m.phase = model.PhaseDisconnected

	if m.taskID == "" {
		m.notifyPhaseLocked()
		return
	}

	if m.attempt >= m.maxReconnects {
		m.lastErr = "Connection failed. Please reconnect manually."
		m.log.Error("reconnect attempts exhausted", "task_id", m.taskID, "error", err)
		m.notifyPhaseLocked()
		return
	}

	delay := m.backoff.NextBackOff()
	m.attempt++
	m.lastErr = fmt.Sprintf("Connection lost. Reconnecting in %ds...", int(delay/time.Second))
	metrics.StreamReconnects.Inc()
	m.log.Warn("stream dropped, scheduling reconnect",
		"task_id", m.taskID, "attempt", m.attempt, "delay", delay, "error", err)
	m.notifyPhaseLocked()

	epoch := m.epoch
	taskID := m.taskID
	m.retryTmr = m.afterFunc(delay, func() {
		m.retry(epoch, taskID)
	})
}

func (m *Manager) retry(epoch uint64, taskID string) {
	m.mu.Lock()
	if epoch != m.epoch || m.taskID != taskID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Connect(taskID)
}

func (m *Manager) deliverLocked(ev *model.Event) {
	if m.sink != nil {
		m.sink.OnEvent(ev)
	}
}

func (m *Manager) notifyPhaseLocked() {
	if m.sink != nil {
		m.sink.OnPhaseChange(m.phase, m.lastErr, m.attempt)
	}
}
