package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "channel closed")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestHub_BroadcastReachesSessionSubscribersOnly(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := hub.Subscribe("s1")
	b := hub.Subscribe("s1")
	other := hub.Subscribe("s2")
	defer hub.Unsubscribe("s2", other)

	hub.Broadcast("s1", []byte("hello"))

	assert.Equal(t, []byte("hello"), recv(t, a))
	assert.Equal(t, []byte("hello"), recv(t, b))

	select {
	case data := <-other:
		t.Fatalf("s2 subscriber received %q", data)
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unsubscribe("s1", a)
	hub.Unsubscribe("s1", b)
}

func TestHub_BroadcastOrderPreserved(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	ch := hub.Subscribe("s1")
	defer hub.Unsubscribe("s1", ch)

	for i := range 10 {
		hub.Broadcast("s1", fmt.Appendf(nil, "frame-%d", i))
	}
	for i := range 10 {
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(recv(t, ch)))
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	ch := hub.Subscribe("s1")
	hub.Unsubscribe("s1", ch)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// A second unsubscribe for the same channel must be a no-op.
	hub.Unsubscribe("s1", ch)
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := hub.Subscribe("s1")
	// Fill the subscriber buffer without draining, then push one more.
	for i := 0; i < cap(slow)+1; i++ {
		hub.Broadcast("s1", []byte("x"))
	}

	// The hub closes the channel once it cannot deliver; drain until close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber was not dropped")
		}
	}
}
