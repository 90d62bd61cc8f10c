package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// startFakeGateway runs a websocket server that accepts the connect
// handshake and then answers with handle.
func startFakeGateway(t *testing.T, handle func(req *RequestFrame) *ResponseFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var req RequestFrame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			var resp *ResponseFrame
			if req.Method == MethodConnect {
				resp = &ResponseFrame{Type: FrameTypeResponse, ID: req.ID, OK: true}
			} else {
				resp = handle(&req)
				resp.Type = FrameTypeResponse
				resp.ID = req.ID
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientCallRoundTrip(t *testing.T) {
	server := startFakeGateway(t, func(req *RequestFrame) *ResponseFrame {
		assert.Equal(t, MethodAgentsList, req.Method)
		payload, _ := json.Marshal(map[string]interface{}{
			"agents": []map[string]string{{"id": "scout"}},
		})
		return &ResponseFrame{OK: true, Payload: payload}
	})

	client := NewClient(Config{URL: server.URL}, logger.Default())
	defer client.Close()

	var out struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
	}
	err := client.Call(context.Background(), MethodAgentsList, nil, &out)
	require.NoError(t, err)
	require.Len(t, out.Agents, 1)
	assert.Equal(t, "scout", out.Agents[0].ID)
}

func TestClientCallMethodError(t *testing.T) {
	server := startFakeGateway(t, func(req *RequestFrame) *ResponseFrame {
		return &ResponseFrame{OK: false, Error: &ErrorShape{Code: "not_found", Message: "no such session"}}
	})

	client := NewClient(Config{URL: server.URL}, logger.Default())
	defer client.Close()

	err := client.Call(context.Background(), MethodSessionsGet, map[string]string{"key": "missing"}, nil)
	require.Error(t, err)

	var methodErr *MethodError
	require.ErrorAs(t, err, &methodErr)
	assert.Equal(t, "not_found", methodErr.Code)
	assert.Equal(t, "no such session", methodErr.Message)
}

func TestClientDialFailureIsTransport(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1"}, logger.Default())
	defer client.Close()

	err := client.Call(context.Background(), MethodHealth, nil, nil)
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.True(t, IsTransient(err))
}

func TestNormalizeWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://gw.local:18789":    "ws://gw.local:18789/ws",
		"https://gw.example.com":   "wss://gw.example.com/ws",
		"ws://gw.local/custom":     "ws://gw.local/custom",
		"gw.local:18789":           "ws://gw.local:18789/ws",
	}
	for in, want := range cases {
		got, err := normalizeWebsocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := normalizeWebsocketURL("")
	assert.Error(t, err)
}
