package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var secret = []byte("test-secret")

func signed(t *testing.T, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u1",
		"name": "Ana Lopez",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func newServer(t *testing.T) (*Hub, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zaptest.NewLogger(t))
	done := make(chan struct{})
	go hub.Run(done)
	t.Cleanup(func() { close(done) })

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, secret) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func TestServeWs_Rejections(t *testing.T) {
	_, srv := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "garbage"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, signed(t, "guest")), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub, srv := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signed(t, "approver")), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(EventRequestUpdated, map[string]string{"id": "42", "status": "IN_PROGRESS"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventRequestUpdated, ev.Event)
	assert.Equal(t, "42", ev.Data["id"])
}

func TestHub_ShutdownReleasesClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zaptest.NewLogger(t))
	done := make(chan struct{})
	go hub.Run(done)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, secret) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signed(t, "requester")), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	close(done)
	select {
	case <-hub.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.ClientCount())

	// The server side closes the socket once Send is closed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Leaving and joining after shutdown return instead of blocking.
	left := make(chan bool, 1)
	go func() {
		hub.leave(&Client{Hub: hub})
		left <- hub.join(&Client{Hub: hub})
	}()
	select {
	case joined := <-left:
		assert.False(t, joined)
	case <-time.After(2 * time.Second):
		t.Fatal("leave or join blocked after shutdown")
	}
}

func TestHub_PublishOnNilHub(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Publish(EventRequestCreated, nil) })
}
