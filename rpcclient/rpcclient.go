// Package rpcclient implements the RPC adapter interface: a single
// synchronous "broadcast this hex" operation backed by Bitcoin Core's
// JSON-RPC sendrawtransaction call. Connection-level failures are
// retried; JSON-RPC logic errors are terminal.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Broadcaster is the narrow contract the server engine depends on.
type Broadcaster interface {
	// Broadcast submits raw transaction hex and returns its txid, or a
	// *RpcError describing why Bitcoin Core rejected it.
	Broadcast(ctx context.Context, hex string) (txid string, err error)
}

// RpcError carries the concise, human-readable detail Bitcoin Core (or the
// transport underneath it) reported, verbatim, for inclusion in a
// terminal NACK's <detail> field.
type RpcError struct {
	Detail string
}

func (e *RpcError) Error() string { return e.Detail }

// Config holds the connection parameters loaded by the config package.
type Config struct {
	Host string
	Port int
	User string
	Pass string

	Retries int           // total attempts when connection errors occur, default 3
	Delay   time.Duration // delay between retries, default 5s
}

// Client is a Bitcoin Core JSON-RPC client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	url        string
}

// New constructs a Client from cfg, filling in defaults for Retries/Delay.
func New(cfg Config) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        fmt.Sprintf("http://%s:%d/", cfg.Host, cfg.Port),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID string `json:"id"`
}

// Broadcast submits raw transaction hex via sendrawtransaction, retrying
// on connection-level failures for at most cfg.Retries attempts in total
// before giving up.
// A JSON-RPC logic error (Bitcoin Core rejected the transaction) is
// terminal and is not retried.
func (c *Client) Broadcast(ctx context.Context, hex string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		txid, err := c.call(ctx, "sendrawtransaction", hex, 0.0)
		if err == nil {
			return txid, nil
		}
		if _, isLogic := err.(*RpcError); isLogic {
			return "", err
		}
		lastErr = err
		if attempt < c.cfg.Retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.Delay):
			}
		}
	}
	return "", &RpcError{Detail: fmt.Sprintf("connection error after %d attempts: %v", c.cfg.Retries, lastErr)}
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return "", fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rpcclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.Pass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// connection-level failure: caller retries.
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", &RpcError{Detail: "unauthorized: check RPC credentials"}
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", &RpcError{Detail: fmt.Sprintf("invalid RPC response: %v", err)}
	}
	if rr.Error != nil {
		return "", &RpcError{Detail: rr.Error.Message}
	}

	var txid string
	if err := json.Unmarshal(rr.Result, &txid); err != nil {
		return "", &RpcError{Detail: fmt.Sprintf("unexpected result shape: %v", err)}
	}
	return txid, nil
}
