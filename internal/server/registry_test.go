package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/javelin/internal/directory"
)

func TestRegistryRejectsDuplicateIdentity(t *testing.T) {
	h := newTestHub(t, Config{})
	first := newConnection(h, directory.NewPeer("A", ""), "one")
	second := newConnection(h, directory.NewPeer("A", ""), "two")

	require.True(t, h.registry.TryRegister(first))
	assert.False(t, h.registry.TryRegister(second))
	assert.Same(t, first, h.registry.Lookup("A"))
}

func TestRegistryRemoveIgnoresStaleConnection(t *testing.T) {
	h := newTestHub(t, Config{})
	old := newConnection(h, directory.NewPeer("A", ""), "old")
	require.True(t, h.registry.TryRegister(old))
	require.True(t, h.registry.Remove(old))

	current := newConnection(h, directory.NewPeer("A", ""), "new")
	require.True(t, h.registry.TryRegister(current))

	assert.False(t, h.registry.Remove(old))
	assert.Same(t, current, h.registry.Lookup("A"))
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	h := newTestHub(t, Config{})

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.registry.TryRegister(newConnection(h, directory.NewPeer("A", ""), "race")) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, 1, h.registry.Len())
}

func TestRegistrySubscribers(t *testing.T) {
	h := newTestHub(t, Config{})
	a := addPeer(t, h, "A", "x")
	b := addPeer(t, h, "B", "x", "y")
	addPeer(t, h, "C", "y")

	subs := h.registry.Subscribers("x", a)
	require.Len(t, subs, 1)
	assert.Same(t, b, subs[0])

	assert.Len(t, h.registry.Subscribers("y", nil), 2)
	assert.Empty(t, h.registry.Subscribers("z", nil))
	assert.Len(t, h.registry.Snapshot(), 3)
}

func TestConnectionCloseReleasesIdentity(t *testing.T) {
	h := newTestHub(t, Config{})
	c := addPeer(t, h, "A", "x")
	assert.Equal(t, "awaiting_handshake", c.State().String())

	c.close(closeRefuse, "binary frames are not accepted")
	c.close(closeShutdown, "ignored")

	assert.Equal(t, "closed", c.State().String())
	assert.Equal(t, closeRefuse, c.closeCode)
	assert.False(t, h.registry.IsConnected("A"))
	assert.ErrorIs(t, c.enqueue([]byte("late")), errConnectionClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
