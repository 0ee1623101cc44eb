package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/models"
)

func TestPushDispatcher_FallsBackToHTTP(t *testing.T) {
	var got map[string]map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushDispatcher(srv.URL, "k3y", NewWSRegistry(), nil)
	err := p.Notify(context.Background(), "u1", models.Notification{Type: models.NotifyArrived, RideID: "r1", Message: "arrived"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer k3y", auth)
	assert.Equal(t, "u1", got["message"]["token"])
}

func TestPushDispatcher_NoBackend(t *testing.T) {
	p := NewPushDispatcher("", "", NewWSRegistry(), nil)
	err := p.Notify(context.Background(), "u1", models.Notification{Type: models.NotifyArrived})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestNewNotifier_LogsWithoutBackend(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	n := NewNotifier("", "", nil, logger)
	require.IsType(t, &LogNotifier{}, n)
	err := n.Notify(context.Background(), "p1", models.Notification{Type: models.NotifyDropoff, RideID: "r1", Message: "You have reached your drop-off point"})
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "p1", rec["user_id"])
	assert.Equal(t, "r1", rec["ride_id"])
	assert.Equal(t, string(models.NotifyDropoff), rec["type"])

	assert.IsType(t, &PushDispatcher{}, NewNotifier("", "", NewWSRegistry(), logger))
	assert.IsType(t, &PushDispatcher{}, NewNotifier("http://push.local", "", nil, logger))
}

func TestHTTPPusher_ReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPPusher(srv.URL, "").Notify(context.Background(), "u1", models.Notification{})
	assert.Error(t, err)
}

func TestWSRegistry_DeliversToConnectedUser(t *testing.T) {
	reg := NewWSRegistry()
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add("driver-1", conn)
		close(connected)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never registered session")
	}

	n := models.Notification{Type: models.NotifyJoinRequest, RideID: "r1", Message: "join?", DetourKm: 1.5}
	require.NoError(t, reg.Notify(context.Background(), "driver-1", n))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Notification
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, n, got)

	assert.ErrorIs(t, reg.Notify(context.Background(), "nobody", n), ErrNoSession)
}
