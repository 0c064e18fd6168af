package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datavox/datavox/events"
)

func echoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, op, data); err != nil {
				return
			}
		}
	}))
	return srv, "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestSendWhenNotConnected(t *testing.T) {
	tr := New(NewBus(), Config{URL: "ws://unused"})
	require.ErrorIs(t, tr.Send("response.create", nil), ErrNotConnected)
}

func TestConnectTwice(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := New(NewBus(), Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close(context.Background())

	require.ErrorIs(t, tr.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSendStampsAndMirrorsFrames(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	bus := NewBus()
	outbound := make(chan Message, 1)
	bus.On("client.response.create", func(msg Message) { outbound <- msg })
	wildcard := make(chan Message, 1)
	bus.On("client.*", func(msg Message) { wildcard <- msg })

	tr := New(bus, Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close(context.Background())

	require.NoError(t, tr.Send("response.create", map[string]any{"extra": "x"}))

	select {
	case msg := <-outbound:
		assert.Equal(t, "response.create", msg.Type)
		var frame map[string]any
		require.NoError(t, sonic.Unmarshal(msg.Data, &frame))
		assert.Equal(t, "response.create", frame["type"])
		assert.NotEmpty(t, frame["event_id"])
		assert.Equal(t, "x", frame["extra"])
	case <-time.After(2 * time.Second):
		t.Fatal("client topic never fired")
	}

	select {
	case msg := <-wildcard:
		assert.Equal(t, "response.create", msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("client wildcard never fired")
	}
}

func TestSendTypedEventOverwritesBaseFields(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	bus := NewBus()
	outbound := make(chan Message, 1)
	bus.On("client.session.update", func(msg Message) { outbound <- msg })

	tr := New(bus, Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close(context.Background())

	// typed events marshal an empty embedded base; Send restamps it
	require.NoError(t, tr.Send("session.update", events.SessionUpdateEvent{
		Session: events.SessionConfig{Voice: "alloy"},
	}))

	select {
	case msg := <-outbound:
		var frame map[string]any
		require.NoError(t, sonic.Unmarshal(msg.Data, &frame))
		assert.Equal(t, "session.update", frame["type"])
		assert.NotEmpty(t, frame["event_id"])
		session := frame["session"].(map[string]any)
		assert.Equal(t, "alloy", session["voice"])
	case <-time.After(2 * time.Second):
		t.Fatal("client topic never fired")
	}
}

func TestReceivePublishesServerTopics(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	bus := NewBus()
	typed := make(chan Message, 1)
	bus.On("server.session.created", func(msg Message) { typed <- msg })
	wildcard := make(chan Message, 1)
	bus.On("server.*", func(msg Message) { wildcard <- msg })

	tr := New(bus, Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close(context.Background())

	// the echo server reflects our frame back as a server event
	require.NoError(t, tr.Send("session.created", map[string]any{"session": map[string]any{"id": "s1"}}))

	select {
	case msg := <-typed:
		assert.Equal(t, "session.created", msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("server topic never fired")
	}
	select {
	case <-wildcard:
	case <-time.After(2 * time.Second):
		t.Fatal("server wildcard never fired")
	}
}

func TestConnectContextCancelKeepsSession(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	bus := NewBus()
	echoed := make(chan Message, 1)
	bus.On("server.response.create", func(msg Message) { echoed <- msg })

	tr := New(bus, Config{URL: url})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close(context.Background())

	// callers hand Connect a deadline for the handshake; its expiry must
	// not end the session
	cancel()
	time.Sleep(50 * time.Millisecond)

	require.True(t, tr.Connected())
	require.NoError(t, tr.Send("response.create", nil))
	select {
	case <-echoed:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never round-tripped after connect context cancel")
	}
}

func TestSendRejectsNonObjectPayload(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := New(NewBus(), Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close(context.Background())

	require.Error(t, tr.Send("response.create", []string{"not", "an", "object"}))
}

func TestCloseClearsConnection(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := New(NewBus(), Config{URL: url})
	require.NoError(t, tr.Connect(context.Background()))
	require.True(t, tr.Connected())

	require.NoError(t, tr.Close(context.Background()))
	assert.False(t, tr.Connected())
	require.ErrorIs(t, tr.Send("response.create", nil), ErrNotConnected)

	// a second close is a no-op
	require.NoError(t, tr.Close(context.Background()))
}
