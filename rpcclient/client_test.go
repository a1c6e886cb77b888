package rpcclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/rpcclient"
)

// fakeNode is a minimal stand-in for bitcoind's JSON-RPC endpoint, enough
// to exercise Client's three operations without a live node.
func fakeNode(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
			ID     int           `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		if !ok {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "1.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "1.0", "id": req.ID, "result": result,
		})
	}))
}

func TestClientBlockHeight(t *testing.T) {
	srv := fakeNode(t, map[string]interface{}{"getblockcount": 800_000})
	defer srv.Close()

	c, err := rpcclient.New(srv.URL, "user", "pass")
	require.NoError(t, err)

	height, err := c.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(800_000), height)
}

func TestClientEstimateFeeRateFallsBackOnError(t *testing.T) {
	srv := fakeNode(t, map[string]interface{}{
		"estimatesmartfee": map[string]interface{}{"errors": []string{"insufficient data"}},
	})
	defer srv.Close()

	c, err := rpcclient.New(srv.URL, "", "")
	require.NoError(t, err)

	rate, err := c.EstimateFeeRate(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rate, "expected the network-floor fallback rate")
}

func TestClientBroadcast(t *testing.T) {
	const txid = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	srv := fakeNode(t, map[string]interface{}{"sendrawtransaction": txid})
	defer srv.Close()

	c, err := rpcclient.New(srv.URL, "", "")
	require.NoError(t, err)

	got, err := c.Broadcast(context.Background(), "0200000000")
	require.NoError(t, err)
	assert.Equal(t, txid, got)
}

func TestNewRejectsEmptyURL(t *testing.T) {
	_, err := rpcclient.New("", "", "")
	assert.Error(t, err)
}
