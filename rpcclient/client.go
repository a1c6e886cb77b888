// Package rpcclient is a minimal Bitcoin Core JSON-RPC client covering
// what the CLI needs: current block height, a fee estimate (both reported
// by the chain-info command), and broadcast of a finalized transaction
// coming out of the binder. Wallet
// key management and chain sync are left to the node.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Bitcoin Core JSON-RPC client.
type Client struct {
	rpcURL      string
	rpcUser     string
	rpcPassword string
	httpClient  *http.Client
}

// request is a Bitcoin JSON-RPC request.
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// response is a Bitcoin JSON-RPC response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bitcoind rpc error %d: %s", e.Code, e.Message)
}

// New returns a Client talking to rpcURL with HTTP basic auth.
func New(rpcURL, rpcUser, rpcPassword string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpcclient: rpc url is required")
	}
	return &Client{
		rpcURL:      rpcURL,
		rpcUser:     rpcUser,
		rpcPassword: rpcPassword,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// BlockHeight returns the current chain tip height, as reported by the
// CLI's chain-info command.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, fmt.Errorf("rpcclient: get block count: %w", err)
	}
	return height, nil
}

// EstimateFeeRate returns a conservative sats/vbyte estimate for
// confirmation within confTarget blocks, as reported by the CLI's
// chain-info command. The compiler's MinFeerateSatsVByte check does not
// use it; it checks only feerates the template itself sets.
func (c *Client) EstimateFeeRate(ctx context.Context, confTarget int) (int64, error) {
	var result struct {
		FeeRate float64 `json:"feerate"`
		Errors  []string
	}
	if err := c.call(ctx, "estimatesmartfee", []interface{}{confTarget}, &result); err != nil {
		return 0, fmt.Errorf("rpcclient: estimate smart fee: %w", err)
	}
	if len(result.Errors) > 0 || result.FeeRate <= 0 {
		return 1, nil // fall back to the network floor rate
	}
	// feerate comes back in BTC/kvB; convert to sats/vbyte.
	satsPerVByte := int64(result.FeeRate * 1e8 / 1000)
	if satsPerVByte < 1 {
		satsPerVByte = 1
	}
	return satsPerVByte, nil
}

// Broadcast submits a raw, hex-encoded finalized transaction and returns
// its txid.
func (c *Client) Broadcast(ctx context.Context, txHex string) (string, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{txHex}, &txid); err != nil {
		return "", fmt.Errorf("rpcclient: broadcast: %w", err)
	}
	return txid, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := request{JSONRPC: "1.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.rpcUser, c.rpcPassword)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
