package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robfromnewground/modelcontextprotocol/internal/config"
	"github.com/robfromnewground/modelcontextprotocol/internal/dispatch"
	"github.com/robfromnewground/modelcontextprotocol/internal/hub"
	"github.com/robfromnewground/modelcontextprotocol/internal/protocol"
	"github.com/robfromnewground/modelcontextprotocol/internal/tools"
	"github.com/robfromnewground/modelcontextprotocol/internal/upstream"
)

func testConfig() *config.Config {
	return &config.Config{
		PingInterval:   30 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxMessageSize: 65536,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`)
	}))
	t.Cleanup(api.Close)

	h := hub.NewHub()
	client := upstream.NewClient(api.URL, "k", 5*time.Second)
	d := dispatch.NewDispatcher(h, tools.NewRegistry(), client)
	wsServer := NewServer(testConfig(), h, d)

	e := echo.New()
	e.GET("/ws", wsServer.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, h
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketHandshake(t *testing.T) {
	ts, h := newTestServer(t)
	conn := dial(t, ts)

	var hello protocol.EndpointEvent
	require.NoError(t, conn.ReadJSON(&hello))
	assert.NotEmpty(t, hello.SessionID)
	assert.Contains(t, hello.Endpoint, hello.SessionID)

	if _, ok := h.Get(hello.SessionID); !ok {
		t.Fatalf("session %s not registered", hello.SessionID)
	}
}

func TestWebSocketToolsList(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	var hello protocol.EndpointEvent
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))

	var resp protocol.Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result protocol.ListToolsResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Tools, 3)
}

func TestWebSocketSessionRemovedOnDisconnect(t *testing.T) {
	ts, h := newTestServer(t)
	conn := dial(t, ts)

	var hello protocol.EndpointEvent
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, 1, h.SessionCount())

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
