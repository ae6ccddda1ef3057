package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// Callbacks receive transport events. OnFrame delivers one named frame with
// its raw JSON body; OnError reports a transport-level failure (dial error,
// bad status, dropped connection). Neither fires after Handle.Close returns.
type Callbacks struct {
	OnFrame func(name string, data []byte)
	OnError func(err error)
}

// Handle is an open stream connection.
type Handle interface {
	// Close tears the connection down. Idempotent. A callback already in
	// flight may complete after Close returns; consumers that swap
	// connections must discard stale deliveries themselves.
	Close()
}

// Transport opens server-push connections. Open never blocks: frames and
// errors are delivered asynchronously through the callbacks.
type Transport interface {
	Open(url string, cb Callbacks) (Handle, error)
}

// SSETransport reads text/event-stream responses over HTTP.
type SSETransport struct {
	// Client is the HTTP client used for stream requests. Streaming
	// requests must not carry a client-level timeout.
	Client *http.Client

	// Header is attached to every stream request (Authorization etc).
	Header http.Header

	Logger *logger.Logger
}

// NewSSETransport creates an SSE transport with sane defaults.
func NewSSETransport(log *logger.Logger) *SSETransport {
	return &SSETransport{
		Client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: streamHeaderTimeout,
			},
		},
		Logger: log,
	}
}

// Open starts a streaming request to url and reads frames until the
// connection drops or the handle is closed.
func (t *SSETransport) Open(url string, cb Callbacks) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &sseHandle{cancel: cancel}

	go t.run(ctx, url, h, cb)

	return h, nil
}

func (t *SSETransport) run(ctx context.Context, url string, h *sseHandle, cb Callbacks) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		h.deliverError(cb, fmt.Errorf("failed to create stream request: %w", err))
		return
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := t.Client
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		h.deliverError(cb, fmt.Errorf("failed to establish stream connection: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.deliverError(cb, fmt.Errorf("stream connection failed with status %d", resp.StatusCode))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		eventName string
		eventData strings.Builder
	)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Blank line dispatches the accumulated frame.
			if eventData.Len() > 0 {
				name := eventName
				if name == "" {
					name = "message"
				}
				h.deliverFrame(cb, name, []byte(eventData.String()))
			}
			eventName = ""
			eventData.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive line.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventData.Len() > 0 {
				eventData.WriteByte('\n')
			}
			eventData.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "retry:"):
			// Server retry hints are ignored; reconnection policy is the
			// connection manager's.
		default:
			if t.Logger != nil {
				t.Logger.Debug("ignoring unrecognized stream line", "line", line)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		h.deliverError(cb, fmt.Errorf("stream read failed: %w", err))
		return
	}

	// Clean EOF: the server ended the stream without a transport error.
	h.deliverError(cb, fmt.Errorf("stream closed by server"))
}

// sseHandle suppresses callback delivery after Close. Close may be called
// from inside a callback (the manager disconnects on terminal statuses), so
// the flag is atomic rather than a lock held across callback invocations.
// A delivery already past the check may still land after Close; the
// connection manager's epoch guard discards such stragglers.
type sseHandle struct {
	closed atomic.Bool
	cancel context.CancelFunc
}

func (h *sseHandle) Close() {
	h.closed.Store(true)
	h.cancel()
}

func (h *sseHandle) deliverFrame(cb Callbacks, name string, data []byte) {
	if h.closed.Load() || cb.OnFrame == nil {
		return
	}
	cb.OnFrame(name, data)
}

func (h *sseHandle) deliverError(cb Callbacks, err error) {
	if h.closed.Load() || cb.OnError == nil {
		return
	}
	cb.OnError(err)
}

// streamHeaderTimeout bounds how long Open waits for response headers; the
// body read itself is unbounded.
const streamHeaderTimeout = 30 * time.Second
