package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return New(Config{Host: host, Port: port, User: "u", Pass: "p", Retries: 2, Delay: 10 * time.Millisecond})
}

func TestBroadcastSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`"deadbeef"`)})
	})
	txid, err := c.Broadcast(context.Background(), "aabb")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", txid)
}

func TestBroadcastLogicErrorIsTerminal(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(rpcResponse{Error: &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: -26, Message: "txn-mempool-conflict"}})
	})
	_, err := c.Broadcast(context.Background(), "aabb")
	require.Error(t, err)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "txn-mempool-conflict", rpcErr.Detail)
	require.Equal(t, 1, calls, "logic errors must not be retried")
}

func TestBroadcastRetriesConnectionErrors(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: 1, Retries: 2, Delay: 5 * time.Millisecond})
	_, err := c.Broadcast(context.Background(), "aabb")
	require.Error(t, err)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
}

func TestBroadcastUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Broadcast(context.Background(), "aabb")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}

func TestBroadcastRequestShape(t *testing.T) {
	var gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`"txid"`)})
	})
	_, err := c.Broadcast(context.Background(), "aabb")
	require.NoError(t, err)
	require.Equal(t, "sendrawtransaction", gotMethod)
}
