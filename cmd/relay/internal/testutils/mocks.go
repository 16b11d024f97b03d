package testutils

import (
	"errors"
	"sync"
)

// MockSubscriber simulates a connected downstream client.
type MockSubscriber struct {
	IDVal   string
	Mu      sync.Mutex
	Frames  [][]byte
	Closed  bool
	Failing bool // when true, Send returns an error
}

func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{IDVal: id}
}

func (m *MockSubscriber) ID() string { return m.IDVal }

func (m *MockSubscriber) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Failing || m.Closed {
		return errors.New("send failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.Frames = append(m.Frames, cp)
	return nil
}

func (m *MockSubscriber) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockSubscriber) Received() [][]byte {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([][]byte, len(m.Frames))
	copy(out, m.Frames)
	return out
}

// MockLink simulates the upstream connection manager.
type MockLink struct {
	Mu           sync.Mutex
	Streaming    bool
	EnsureCalls  int
	SentUpstream [][]byte
}

func (m *MockLink) EnsureConnected() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.EnsureCalls++
}

func (m *MockLink) Send(raw []byte) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if !m.Streaming {
		return false
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.SentUpstream = append(m.SentUpstream, cp)
	return true
}

func (m *MockLink) Sent() [][]byte {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([][]byte, len(m.SentUpstream))
	copy(out, m.SentUpstream)
	return out
}

// MockMirror records frames published to the firehose.
type MockMirror struct {
	Mu     sync.Mutex
	Frames [][]byte
}

func (m *MockMirror) Publish(raw []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.Frames = append(m.Frames, cp)
}
