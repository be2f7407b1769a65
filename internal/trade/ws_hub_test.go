package trade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_BroadcastFiltersByContract(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dialHub(t, srv, "")
	one := dialHub(t, srv, "?contract_id=c1")
	require.Eventually(t, func() bool { return hub.clientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(WSMessage{Type: "bet_placed", ContractID: "c2"})
	hub.Broadcast(WSMessage{Type: "bet_placed", ContractID: "c1", Probabilities: map[string]float64{"YES": 0.6}})

	var msg WSMessage
	all.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "c2", msg.ContractID)
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "c1", msg.ContractID)

	one.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, one.ReadJSON(&msg))
	assert.Equal(t, "c1", msg.ContractID)
	assert.Equal(t, 0.6, msg.Probabilities["YES"])
}

func TestWSHub_ClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewWSHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, hub.clientCount())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after shutdown must not block.
	hub.Broadcast(WSMessage{Type: "bet_placed", ContractID: "c1"})
}
