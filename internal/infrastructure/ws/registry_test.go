package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []any
	closed    bool
	closeCode int
	sendErr   error
}

func (f *fakeTransport) Send(payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeTransport) frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func TestSendToUser(t *testing.T) {
	reg := NewRegistry(nil, nil)
	alice, bob := &fakeTransport{}, &fakeTransport{}
	reg.Connect("alice", alice)
	reg.Connect("bob", bob)

	ok, err := reg.SendToUser("hello", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.SendToUser("hello", "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []any{"hello"}, alice.frames())
	assert.Empty(t, bob.frames())
}

func TestSendToUserReportsTransportError(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Connect("alice", &fakeTransport{sendErr: ErrSendBufferFull})

	ok, err := reg.SendToUser("x", "alice")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSendBufferFull)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Connect("alice", &fakeTransport{})

	reg.Disconnect("alice")
	reg.Disconnect("alice")
	reg.Disconnect("nobody")

	assert.Equal(t, 0, reg.Len())
	ok, err := reg.SendToUser("x", "alice")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectReplacesWithoutClosing(t *testing.T) {
	reg := NewRegistry(nil, nil)
	first, second := &fakeTransport{}, &fakeTransport{}

	reg.Connect("alice", first)
	reg.Connect("alice", second)

	assert.Equal(t, 1, reg.Len())
	assert.False(t, first.closed)

	_, err := reg.SendToUser("x", "alice")
	require.NoError(t, err)
	assert.Empty(t, first.frames())
	assert.Len(t, second.frames(), 1)

	assert.False(t, reg.DisconnectIf("alice", first))
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.DisconnectIf("alice", second))
	assert.Equal(t, 0, reg.Len())
}

func TestBroadcastCountsAccepted(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Connect("a", &fakeTransport{})
	reg.Connect("b", &fakeTransport{})
	reg.Connect("c", &fakeTransport{sendErr: errors.New("gone")})

	assert.Equal(t, 2, reg.Broadcast("notice"))
}

func TestCloseAll(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, b := &fakeTransport{}, &fakeTransport{}
	reg.Connect("a", a)
	reg.Connect("b", b)

	reg.CloseAll(1001, "shutdown")

	assert.True(t, a.closed)
	assert.Equal(t, 1001, b.closeCode)
}

func TestRegistryTracksGauge(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := NewRegistry(nil, m)

	reg.Connect("a", &fakeTransport{})
	reg.Connect("b", &fakeTransport{})
	reg.Disconnect("a")

	families, err := promReg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "courier_ws_connections" {
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("gauge not exported")
}
