package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/api"
)

func TestHealthEndpoint(t *testing.T) {
	srv := api.NewServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestInfoEndpointListsKnownContracts(t *testing.T) {
	srv := api.NewServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		KnownContracts []string `json:"known_contracts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.KnownContracts, "pay_to_pubkey")
}

func TestCompileEndpointCompilesPayToPublicKey(t *testing.T) {
	srv := api.NewServer()
	reqBody, err := json.Marshal(map[string]interface{}{
		"contract": "pay_to_pubkey",
		"funds":    100_000,
		"network":  "regtest",
		"params":   json.RawMessage(`{"key":"0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/compile", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, string(body["result"]), "address")
}

func TestCompileEndpointRejectsUnknownContract(t *testing.T) {
	srv := api.NewServer()
	reqBody, err := json.Marshal(map[string]interface{}{"contract": "does-not-exist", "network": "regtest"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/compile", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
