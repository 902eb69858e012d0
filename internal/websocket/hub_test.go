package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/domain"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, snapshot SnapshotFunc, origins ...string) (*Hub, string) {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), snapshot, origins)
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func scores(t *testing.T, msg received) []domain.LeaderboardEntry {
	t.Helper()
	require.Equal(t, MessageTypeLeaderboardUpdate, msg.Type)
	var update LeaderboardUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	return update.Scores
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	page := []domain.LeaderboardEntry{{Name: "ada", Score: 10, Date: "2024-01-01T00:00:00.000Z"}}
	hub, url := newTestHub(t, func(context.Context) ([]domain.LeaderboardEntry, error) { return page, nil })

	conn := dial(t, url, nil)
	assert.Equal(t, page, scores(t, read(t, conn)))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	next := []domain.LeaderboardEntry{{Name: "bob", Score: 20, Date: "2024-01-02T00:00:00.000Z"}}
	hub.BroadcastLeaderboard(next)
	assert.Equal(t, next, scores(t, read(t, conn)))
}

func TestHub_SnapshotFailure(t *testing.T) {
	_, url := newTestHub(t, func(context.Context) ([]domain.LeaderboardEntry, error) {
		return nil, errors.New("store down")
	})

	conn := dial(t, url, nil)
	assert.Equal(t, MessageTypeError, read(t, conn).Type)
}

func TestClient_Ping(t *testing.T) {
	_, url := newTestHub(t, nil)
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MessageTypePing}))
	assert.Equal(t, MessageTypePong, read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageTypeError, read(t, conn).Type)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, url := newTestHub(t, nil)
	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_OriginCheck(t *testing.T) {
	_, url := newTestHub(t, nil, "https://game.example")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, url, http.Header{"Origin": {"https://game.example"}})
}
