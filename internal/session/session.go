package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/internal/stream"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// localIDPrefix namespaces optimistic entry IDs away from server-assigned
// event IDs so the two id spaces can never collide.
const localIDPrefix = "local-"

// Snapshot is a single coherent read of session state. All fields are
// consistent as of the same processed event; Timeline and Tokens are
// copies the caller may retain.
type Snapshot struct {
	TaskID           string
	Phase            model.ConnectionPhase
	Connected        bool
	Connecting       bool
	LastError        string
	ReconnectAttempt int
	Timeline         []model.TimelineEntry
	Tokens           *model.TokenLedger
	Status           model.TaskStatus
}

// Options configures a Session.
type Options struct {
	Transport stream.Transport
	// StreamURL builds the stream endpoint for a task.
	StreamURL func(taskID string) string
	// History fetches durable events on task selection. Optional; without
	// it Select starts from an empty timeline.
	History HistoryAPI
	Logger  *logger.Logger
	// MaxReconnects overrides the reconnect ceiling when positive.
	MaxReconnects int
}

// Session owns all state for one task selection: the connection manager,
// the ordered timeline, the token ledger and the lifecycle status. State
// is created fresh per selection and discarded in full by Clear; nothing
// carries across tasks.
type Session struct {
	mu sync.Mutex

	log     *logger.Logger
	manager *stream.Manager
	history HistoryAPI

	taskID   string
	phase    model.ConnectionPhase
	lastErr  string
	attempt  int
	timeline []model.TimelineEntry
	seen     map[string]struct{}
	tokens   *model.TokenLedger
	status   model.TaskStatus

	updates chan struct{}
}

// New creates a session.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}

	s := &Session{
		log:     opts.Logger,
		history: opts.History,
		phase:   model.PhaseDisconnected,
		seen:    make(map[string]struct{}),
		updates: make(chan struct{}, 1),
	}

	s.manager = stream.NewManager(stream.ManagerOptions{
		Transport:     opts.Transport,
		StreamURL:     opts.StreamURL,
		Sink:          s,
		Logger:        opts.Logger,
		MaxReconnects: opts.MaxReconnects,
	})

	return s
}

// Select switches the session to a task: it tears down any previous
// connection, discards all prior state, seeds the timeline from history,
// adopts the task's current status, and attaches the live stream when the
// task is still producing events.
func (s *Session) Select(ctx context.Context, task *model.Task) {
	s.Disconnect()
	s.Clear()

	s.mu.Lock()
	s.taskID = task.ID
	s.status = task.Status
	s.mu.Unlock()

	if s.history != nil {
		entries := LoadHistory(ctx, s.history, task.ID, s.log)
		s.SeedHistory(entries)
	}

	switch task.Status {
	case model.StatusRunning, model.StatusPending:
		s.Connect(task.ID)
	default:
		s.notify()
	}
}

// Connect attaches the live stream for taskID. Non-blocking; state changes
// arrive through the snapshot.
func (s *Session) Connect(taskID string) {
	s.mu.Lock()
	s.taskID = taskID
	s.mu.Unlock()

	s.manager.Connect(taskID)
}

// Disconnect tears down the live stream. Idempotent; it cancels any
// pending reconnect.
func (s *Session) Disconnect() {
	s.manager.Disconnect()
}

// Clear resets all per-task state: timeline, token ledger, status, error.
// The connection is not touched; callers disconnect first when switching
// tasks.
func (s *Session) Clear() {
	s.mu.Lock()
	s.taskID = ""
	s.timeline = nil
	s.seen = make(map[string]struct{})
	s.tokens = nil
	s.status = ""
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
}

// AddUserMessage appends a locally composed user message immediately,
// before the backend has echoed it back. The entry is never retracted,
// even if task creation later fails; failures surface through the error
// channel instead. Returns the generated local entry id.
func (s *Session) AddUserMessage(text string) string {
	entry := model.TimelineEntry{
		ID:         localIDPrefix + uuid.NewString(),
		Kind:       model.EntryUser,
		Text:       text,
		OccurredAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.seen[entry.ID] = struct{}{}
	s.timeline = append(s.timeline, entry)
	s.mu.Unlock()
	s.notify()

	return entry.ID
}

// SeedHistory appends previously stored entries, registering their ids so
// a live stream redelivering the same event id is dropped rather than
// duplicated.
func (s *Session) SeedHistory(entries []model.TimelineEntry) {
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	for _, entry := range entries {
		if _, dup := s.seen[entry.ID]; dup {
			continue
		}
		s.seen[entry.ID] = struct{}{}
		// History entries carry a prefixed id; register the raw record id
		// too so a live stream redelivering the same event is dropped.
		if raw := strings.TrimPrefix(entry.ID, "history-"); raw != entry.ID {
			s.seen[raw] = struct{}{}
		}
		s.timeline = append(s.timeline, entry)
	}
	s.mu.Unlock()
	s.notify()
}

// SetStatus records the status learned from a plain REST fetch, used
// before any stream is attached.
func (s *Session) SetStatus(status model.TaskStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a consistent copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline := make([]model.TimelineEntry, len(s.timeline))
	copy(timeline, s.timeline)

	var tokens *model.TokenLedger
	if s.tokens != nil {
		t := *s.tokens
		tokens = &t
	}

	return Snapshot{
		TaskID:           s.taskID,
		Phase:            s.phase,
		Connected:        s.phase == model.PhaseConnected,
		Connecting:       s.phase == model.PhaseConnecting,
		LastError:        s.lastErr,
		ReconnectAttempt: s.attempt,
		Timeline:         timeline,
		Tokens:           tokens,
		Status:           s.status,
	}
}

// Updates returns a channel that receives a coalesced signal whenever the
// snapshot changes.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// OnEvent folds one decoded stream event into session state. It implements
// stream.Sink; the manager has already handled connection-level effects.
func (s *Session) OnEvent(ev *model.Event) {
	s.mu.Lock()

	switch ev.Kind {
	case model.KindConnected, model.KindHeartbeat:
		// Connection-state only; OnPhaseChange carries the effect.
		s.mu.Unlock()
		return

	case model.KindClose:
		if ev.CloseReason != "" {
			s.lastErr = ev.CloseReason
		}
		s.mu.Unlock()
		s.notify()
		return

	case model.KindTokenUpdate:
		// The backend sends cumulative values; replace, never sum.
		t := model.TokenLedger(*ev.TokenUpdate)
		s.tokens = &t
		s.mu.Unlock()
		s.notify()
		return

	case model.KindStatusChange:
		s.status = ev.StatusChange.Status
	case model.KindError:
		s.lastErr = ev.Error.Message
	}

	if entry, ok := EntryFromEvent(ev); ok {
		s.appendLocked(entry)
	}

	s.mu.Unlock()
	s.notify()
}

// OnPhaseChange mirrors the connection manager's phase into the snapshot.
// It implements stream.Sink.
func (s *Session) OnPhaseChange(phase model.ConnectionPhase, lastError string, attempt int) {
	s.mu.Lock()
	s.phase = phase
	s.attempt = attempt
	if lastError != "" {
		s.lastErr = lastError
	} else if phase == model.PhaseConnected {
		s.lastErr = ""
	}
	s.mu.Unlock()
	s.notify()
}

// appendLocked appends one entry unless its id was already seen (history
// seed vs live redelivery).
func (s *Session) appendLocked(entry model.TimelineEntry) {
	if entry.ID != "" {
		if _, dup := s.seen[entry.ID]; dup {
			s.log.Debug("dropping duplicate timeline entry", "id", entry.ID)
			return
		}
		s.seen[entry.ID] = struct{}{}
	}
	s.timeline = append(s.timeline, entry)
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
