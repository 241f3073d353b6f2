package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtcli/internal/license"
)

func newTestHub(t *testing.T) (*StatusHub, string) {
	t.Helper()
	hub := NewStatusHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) license.ValidationStatus {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var status license.ValidationStatus
	require.NoError(t, json.Unmarshal(payload, &status))
	return status
}

func TestHubBroadcastsTransitions(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.NotifyStatus(license.ValidationStatus{Status: license.StatusValid, IsValid: true, HasLicense: true})

	status := readStatus(t, conn)
	assert.Equal(t, license.StatusValid, status.Status)
	assert.True(t, status.IsValid)
	assert.True(t, status.HasLicense)
}

func TestHubSendsLastSnapshotOnConnect(t *testing.T) {
	hub, url := newTestHub(t)
	hub.NotifyStatus(license.ValidationStatus{Status: license.StatusNone})

	conn := dial(t, url)
	status := readStatus(t, conn)
	assert.Equal(t, license.StatusNone, status.Status)
}

func TestHubMultipleClients(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, url)
	second := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	hub.NotifyStatus(license.ValidationStatus{Status: license.StatusInvalid})
	assert.Equal(t, license.StatusInvalid, readStatus(t, first).Status)
	assert.Equal(t, license.StatusInvalid, readStatus(t, second).Status)
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewStatusHub([]string{"http://localhost:8090"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}
}
