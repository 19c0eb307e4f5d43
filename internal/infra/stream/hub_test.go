package stream

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
	"github.com/ahrav/pii-sentinel/pkg/common/timeutil"
)

type fakeConn struct {
	mu       sync.Mutex
	written  []any
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func newClient(requestID string, conn Conn) *ClientConnection {
	reg := Registration{ID: requestID, Kind: scanning.ScanKindImageClassify}
	return NewClientConnection(reg, conn, timeutil.Default{}, testLogger())
}

func TestHubRegisterLastWriteWins(t *testing.T) {
	h := NewHub(testLogger())

	first := &fakeConn{}
	second := &fakeConn{}
	h.Register(newClient("req-1", first))
	h.Register(newClient("req-1", second))

	ok := h.Send("req-1", scanning.DoneFrame("req-1", scanning.ScanKindImageClassify))
	require.True(t, ok)
	require.Empty(t, first.written)
	require.Len(t, second.written, 1)
}

func TestHubSendWithoutRegistration(t *testing.T) {
	h := NewHub(testLogger())

	ok := h.Send("req-1", scanning.DoneFrame("req-1", scanning.ScanKindImageClassify))
	require.False(t, ok)
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	h := NewHub(testLogger())
	h.Register(newClient("req-1", &fakeConn{}))

	h.Unregister("req-1")
	h.Unregister("req-1")
	h.Unregister("never-registered")

	_, ok := h.Lookup("req-1")
	require.False(t, ok)
}

func TestHubDropOnlyRemovesOwnRegistration(t *testing.T) {
	h := NewHub(testLogger())

	stale := newClient("req-1", &fakeConn{})
	h.Register(stale)

	replacement := newClient("req-1", &fakeConn{})
	h.Register(replacement)

	// The stale connection closing must not displace its replacement.
	h.Drop(stale)

	current, ok := h.Lookup("req-1")
	require.True(t, ok)
	require.Same(t, replacement, current)

	h.Drop(replacement)
	_, ok = h.Lookup("req-1")
	require.False(t, ok)
}

func TestHubSendDropsFailedConnection(t *testing.T) {
	h := NewHub(testLogger())
	h.Register(newClient("req-1", &fakeConn{writeErr: errors.New("broken pipe")}))

	ok := h.Send("req-1", scanning.DoneFrame("req-1", scanning.ScanKindImageClassify))
	require.False(t, ok)

	_, ok = h.Lookup("req-1")
	require.False(t, ok)
}
