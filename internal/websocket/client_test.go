package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request and echoes data frames back.
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
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	return srv, url
}

func TestConnectAndEcho(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	received := make(chan []byte, 1)
	client, err := Connect(context.Background(), ClientConfig{
		URL: url,
		OnText: func(data []byte) error {
			received <- data
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close(context.Background())

	client.WriteText([]byte(`{"type":"ping"}`))

	select {
	case data := <-received:
		require.JSONEq(t, `{"type":"ping"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}
}

func TestDialContextCancelLeavesConnectionOpen(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	client, err := Connect(ctx, ClientConfig{
		URL: url,
		OnText: func(data []byte) error {
			received <- data
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close(context.Background())

	// the dial context is handshake-scoped; cancelling it after Connect
	// must not tear down the connection
	cancel()
	time.Sleep(50 * time.Millisecond)

	select {
	case <-client.Done():
		t.Fatal("connection died after dial context cancel")
	default:
	}

	client.WriteText([]byte(`{"type":"still-alive"}`))
	select {
	case data := <-received:
		require.JSONEq(t, `{"type":"still-alive"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived after dial context cancel")
	}
}

func TestConnectFailsOnBadAddress(t *testing.T) {
	_, err := Connect(context.Background(), ClientConfig{
		URL:         "ws://127.0.0.1:1",
		DialTimeout: time.Second,
	})
	require.Error(t, err)
}

func TestCloseSignalsDone(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	client, err := Connect(context.Background(), ClientConfig{URL: url})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Close(ctx))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Close")
	}

	// writes after close must not block
	done := make(chan struct{})
	go func() {
		client.WriteText([]byte("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WriteText blocked after close")
	}
}

func TestServerDisconnectSignalsDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	client, err := Connect(context.Background(), ClientConfig{
		URL: "ws://" + strings.TrimPrefix(srv.URL, "http://"),
	})
	require.NoError(t, err)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after server disconnect")
	}
}
