package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)

	router := gin.New()
	router.GET("/stream", hub.HandleConnection)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(NewEvent(EventSiteAdded, map[string]string{"id": "site_1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventSiteAdded, got.Type)
	assert.NotZero(t, got.Timestamp)
}

func TestBroadcastFansOut(t *testing.T) {
	hub, srv := newTestHub(t)
	a := dial(t, srv)
	b := dial(t, srv)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(NewEvent(EventFilterSwapped, nil))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, EventFilterSwapped, got.Type)
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastAfterCloseIsSafe(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	hub.Broadcast(NewEvent(EventSessionUpdated, nil))
	assert.Zero(t, hub.ClientCount())
}
