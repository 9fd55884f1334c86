package server

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const frameTimeout = time.Second

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
	})
	return hub
}

// newTestClient builds a client without a network connection; frames are
// read straight from its send channel.
func newTestClient(hub *Hub, handler EventHandler) *Client {
	return NewClient(nil, hub, handler, "test", *NewConfig())
}

func recvFrame(t *testing.T, client *Client) Envelope {
	t.Helper()
	select {
	case raw, ok := <-client.GetSendChan():
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(frameTimeout):
		t.Fatalf("no frame for client %s", client.ID())
		return Envelope{}
	}
}

func requireNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw, ok := <-client.GetSendChan():
		if ok {
			t.Fatalf("unexpected frame for client %s: %s", client.ID(), raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
