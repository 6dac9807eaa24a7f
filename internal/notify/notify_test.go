package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripledger/internal/auth"
)

func TestHub_FiltersByGroup(t *testing.T) {
	hub := NewHub()
	g1, cancel1 := hub.Subscribe("g1")
	defer cancel1()
	all, cancelAll := hub.Subscribe("")
	defer cancelAll()

	hub.Publish("g2")
	hub.Publish("g1")

	ev := <-g1
	assert.Equal(t, "g1", ev.GroupID)
	assert.Equal(t, EventGroupChanged, ev.Type)
	assert.Empty(t, g1)

	assert.Equal(t, "g2", (<-all).GroupID)
	assert.Equal(t, "g1", (<-all).GroupID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("g1")
	assert.Equal(t, 1, hub.Subscribers())
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("g1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("g1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Subscribe(ctx, http.DefaultClient, server.URL, "g1", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish("other")
	hub.Publish("g1")

	select {
	case ev := <-events:
		assert.Equal(t, "g1", ev.GroupID)
		assert.NotZero(t, ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribe_RequiresToken(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	hub := NewHub()
	server := httptest.NewServer(Handler(hub, jwtManager))
	defer server.Close()

	_, err := Subscribe(context.Background(), http.DefaultClient, server.URL, "g1", "bad")
	assert.Error(t, err)

	token, err := jwtManager.Generate("alice", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = Subscribe(ctx, http.DefaultClient, server.URL, "g1", token)
	assert.NoError(t, err)
}
