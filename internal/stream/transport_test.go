package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-labs/operator-console/pkg/logger"
)

type collectedFrame struct {
	name string
	data string
}

// collector gathers transport callbacks behind a mutex and signals
// completion through done.
type collector struct {
	mu     sync.Mutex
	frames []collectedFrame
	errs   []error
	done   chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnFrame: func(name string, data []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.frames = append(c.frames, collectedFrame{name: name, data: string(data)})
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
			close(c.done)
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport to finish")
	}
}

func TestSSETransport(t *testing.T) {
	t.Run("Should parse named events and report EOF as an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, ": keep-alive comment\n")
			fmt.Fprint(w, "event: thought\n")
			fmt.Fprint(w, "data: {\"event_id\":\"e1\",\"content\":{\"text\":\"hi\"}}\n")
			fmt.Fprint(w, "\n")
			fmt.Fprint(w, "retry: 3000\n")
			fmt.Fprint(w, "event: heartbeat\n")
			fmt.Fprint(w, "data: {}\n")
			fmt.Fprint(w, "\n")
		}))
		defer server.Close()

		transport := NewSSETransport(logger.NewNop())
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)
		defer h.Close()

		c.wait(t)

		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.frames, 2)
		assert.Equal(t, "thought", c.frames[0].name)
		assert.JSONEq(t, `{"event_id":"e1","content":{"text":"hi"}}`, c.frames[0].data)
		assert.Equal(t, "heartbeat", c.frames[1].name)
		require.Len(t, c.errs, 1)
		assert.Contains(t, c.errs[0].Error(), "stream closed by server")
	})

	t.Run("Should join multi-line data with newlines", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: message\n")
			fmt.Fprint(w, "data: line one\n")
			fmt.Fprint(w, "data: line two\n")
			fmt.Fprint(w, "\n")
		}))
		defer server.Close()

		transport := NewSSETransport(logger.NewNop())
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)
		defer h.Close()

		c.wait(t)

		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.frames, 1)
		assert.Equal(t, "line one\nline two", c.frames[0].data)
	})

	t.Run("Should default a nameless event to message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"x\":1}\n\n")
		}))
		defer server.Close()

		transport := NewSSETransport(logger.NewNop())
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)
		defer h.Close()

		c.wait(t)

		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.frames, 1)
		assert.Equal(t, "message", c.frames[0].name)
	})

	t.Run("Should attach configured headers to the request", func(t *testing.T) {
		var gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "text/event-stream")
		}))
		defer server.Close()

		transport := NewSSETransport(logger.NewNop())
		transport.Header = http.Header{"Authorization": []string{"Bearer token-123"}}
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)
		defer h.Close()

		c.wait(t)
		assert.Equal(t, "Bearer token-123", gotAuth)
	})

	t.Run("Should report a non-200 response as an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		transport := NewSSETransport(logger.NewNop())
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)
		defer h.Close()

		c.wait(t)

		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.errs, 1)
		assert.Contains(t, c.errs[0].Error(), "status 401")
	})

	t.Run("Should suppress callbacks after Close", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-release
		}))
		defer server.Close()
		defer close(release)

		transport := NewSSETransport(logger.NewNop())
		c := newCollector()
		h, err := transport.Open(server.URL, c.callbacks())
		require.NoError(t, err)

		// Give the request time to establish, then close the handle. The
		// cancelled request must not surface an error callback.
		time.Sleep(100 * time.Millisecond)
		h.Close()
		time.Sleep(100 * time.Millisecond)

		c.mu.Lock()
		defer c.mu.Unlock()
		assert.Empty(t, c.errs)
		assert.Empty(t, c.frames)
	})
}
