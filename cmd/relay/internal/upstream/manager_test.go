package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/protocol"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/upstream"
)

// fakeConn is an in-memory transport. Inbound frames are fed through a
// channel; writes are recorded; Close unblocks the reader.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-f.inbound:
		return 1, payload, nil
	case <-f.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) Writes() []protocol.ControlMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ControlMessage, 0, len(f.writes))
	for _, w := range f.writes {
		var msg protocol.ControlMessage
		json.Unmarshal(w, &msg)
		out = append(out, msg)
	}
	return out
}

// fakeDialer hands out fakeConns in sequence and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fails int // number of leading dial attempts that error
	dials int
}

func (d *fakeDialer) dial(ctx context.Context) (upstream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.fails {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func newManager(d *fakeDialer) *upstream.Manager {
	return upstream.NewManager(d.dial, "test-credential", 20*time.Millisecond, zap.NewNop())
}

func TestManager_ConnectAndAuthenticate(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	writes := d.conn(0).Writes()
	if len(writes) != 1 || writes[0].Action != "auth" || writes[0].Params != "test-credential" {
		t.Errorf("Expected a single auth message with our credential, got %+v", writes)
	}
}

func TestManager_EnsureConnectedIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	m.EnsureConnected()
	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")
	m.EnsureConnected()

	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("Expected exactly one dial, got %d", d.dialCount())
	}
}

func TestManager_FramesFlowAndMalformedDropped(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	conn := d.conn(0)
	conn.inbound <- []byte(`not json at all`)
	conn.inbound <- []byte(`[{"ev":"T","sym":"AAPL","p":150.5}]`)

	select {
	case frame := <-m.Frames():
		if string(frame) != `[{"ev":"T","sym":"AAPL","p":150.5}]` {
			t.Errorf("Unexpected frame: %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("Valid frame never arrived")
	}

	select {
	case frame := <-m.Frames():
		t.Errorf("Malformed frame should have been dropped, got %s", frame)
	case <-time.After(50 * time.Millisecond):
	}

	if m.State() != upstream.StateStreaming {
		t.Error("Malformed frame must not affect connection state")
	}
}

func TestManager_ReconnectAfterClose(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	// Abnormal close: exactly one new attempt after the fixed delay, with a
	// fresh auth message.
	d.conn(0).Close()
	waitFor(t, func() bool { return d.dialCount() == 2 }, "one reconnect dial")
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "re-established stream")

	time.Sleep(60 * time.Millisecond)
	if d.dialCount() != 2 {
		t.Errorf("Overlapping reconnects: %d dials", d.dialCount())
	}

	writes := d.conn(1).Writes()
	if len(writes) == 0 || writes[0].Action != "auth" {
		t.Errorf("Reconnect must re-authenticate, writes: %+v", writes)
	}
}

func TestManager_DialFailureRetries(t *testing.T) {
	d := &fakeDialer{fails: 2}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "eventual stream")

	if d.dialCount() != 3 {
		t.Errorf("Expected 2 failed dials then success, got %d", d.dialCount())
	}
}

func TestManager_SendGatedOnStreaming(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	if m.Send([]byte(`{"action":"subscribe","params":"T.AAPL"}`)) {
		t.Error("Send before connecting must drop the message")
	}

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	if !m.Send([]byte(`{"action":"subscribe","params":"T.AAPL"}`)) {
		t.Error("Send while streaming should succeed")
	}

	writes := d.conn(0).Writes()
	last := writes[len(writes)-1]
	if last.Action != "subscribe" || last.Params != "T.AAPL" {
		t.Errorf("Subscribe not forwarded, writes: %+v", writes)
	}
}

func TestManager_SubscriptionReplayOnReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	m.Send([]byte(`{"action":"subscribe","params":"T.AAPL,AM.MSFT"}`))
	m.Send([]byte(`{"action":"subscribe","params":"T.TSLA"}`))
	m.Send([]byte(`{"action":"unsubscribe","params":"T.TSLA"}`))

	d.conn(0).Close()
	waitFor(t, func() bool {
		c := d.conn(1)
		return c != nil && len(c.Writes()) >= 2
	}, "auth plus replay on second connection")

	writes := d.conn(1).Writes()
	if writes[0].Action != "auth" {
		t.Fatalf("First message after reconnect must be auth, got %+v", writes[0])
	}
	if writes[1].Action != "subscribe" || writes[1].Params != "AM.MSFT,T.AAPL" {
		t.Errorf("Expected replay of live channels, got %+v", writes[1])
	}
}

func TestManager_DialCarriesNoAmbientDeadline(t *testing.T) {
	var sawDeadline atomic.Bool
	dial := func(ctx context.Context) (upstream.Conn, error) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		return newFakeConn(), nil
	}
	m := upstream.NewManager(dial, "test-credential", 20*time.Millisecond, zap.NewNop())
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	// The handshake timeout configured on the dialer is the only bound; an
	// outer deadline would silently override it.
	if sawDeadline.Load() {
		t.Error("Dial context must not carry a deadline of its own")
	}
}

// contentionConn counts overlapping WriteMessage calls without serializing
// them itself, so any overlap it observes was allowed by the caller.
type contentionConn struct {
	*fakeConn
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *contentionConn) WriteMessage(messageType int, data []byte) error {
	n := c.inFlight.Add(1)
	for {
		max := c.maxSeen.Load()
		if n <= max || c.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.inFlight.Add(-1)
	return c.fakeConn.WriteMessage(messageType, data)
}

func TestManager_ConcurrentSendsAreSerialized(t *testing.T) {
	conn := &contentionConn{fakeConn: newFakeConn()}
	dial := func(ctx context.Context) (upstream.Conn, error) { return conn, nil }
	m := upstream.NewManager(dial, "test-credential", 20*time.Millisecond, zap.NewNop())
	defer m.Shutdown()

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	// Every subscriber forwards control messages from its own goroutine, so
	// the transport must only ever see one write at a time.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				m.Send([]byte(`{"action":"subscribe","params":"T.AAPL"}`))
			}
		}()
	}
	wg.Wait()

	if max := conn.maxSeen.Load(); max > 1 {
		t.Errorf("Transport saw %d overlapping writes, want at most 1", max)
	}
}

func TestManager_ShutdownIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d)

	m.EnsureConnected()
	waitFor(t, func() bool { return m.State() == upstream.StateStreaming }, "streaming state")

	m.Shutdown()
	time.Sleep(60 * time.Millisecond)

	if d.dialCount() != 1 {
		t.Errorf("Shutdown must not trigger reconnects, got %d dials", d.dialCount())
	}
	if m.State() != upstream.StateClosed {
		t.Errorf("State after shutdown = %s", m.State())
	}
}
