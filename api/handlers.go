package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/sapio-lang/sapio/binder"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
	"github.com/sapio-lang/sapio/emulator"
	"github.com/sapio-lang/sapio/modules"
)

type bindRequest struct {
	Outpoint string          `json:"outpoint"` // "txid:vout"
	Object   json.RawMessage `json:"object"`
}

func knownContractNames() []string {
	return modules.List()
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	var req modules.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcErrBody(err))
		return
	}
	log.Printf("sapio api: compile %s: contract=%q network=%q funds=%d", reqID, req.Contract, req.Network, req.Funds)

	net, err := modules.NetworkParams(req.Network)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpcErrBody(err))
		return
	}

	c, err := modules.Create(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpcErrBody(err))
		return
	}

	ctx := contract.NewContext(btcutil.Amount(req.Funds), net, emulator.Identity{})
	if req.Effects != nil {
		ctx = ctx.WithEffects(effects.NewMapDB(req.Effects))
	}
	obj, err := c.Compile(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcErrBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]interface{}{"Ok": obj}})
}

func (s *Server) runBind(req bindRequest) (*binder.Program, error) {
	var obj compiled.Object
	// Bind requests carry the object as the opaque JSON echo of whatever
	// /v1/compile returned moments earlier; compiled.Object's UnmarshalJSON
	// reconstructs it (including nested output contracts) well enough for
	// Bind to walk the whole tree again.
	if err := json.Unmarshal(req.Object, &obj); err != nil {
		return nil, fmt.Errorf("bind: decode compiled object: %w", err)
	}

	parts := splitOutpoint(req.Outpoint)
	if parts == nil {
		return nil, fmt.Errorf("bind: outpoint must be txid:vout")
	}
	txid, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, fmt.Errorf("bind: invalid txid: %w", err)
	}
	var vout uint32
	if _, err := fmt.Sscanf(parts[1], "%d", &vout); err != nil {
		return nil, fmt.Errorf("bind: invalid vout: %w", err)
	}
	seed := wire.OutPoint{Hash: *txid, Index: vout}

	idx := s.txIndex
	if idx == nil {
		idx = binder.NewMapTxIndex()
	}
	return binder.Bind(&obj, seed, nil, idx, emulator.Identity{})
}

func splitOutpoint(s string) []string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcErrBody(err))
		return
	}
	log.Printf("sapio api: bind %s: outpoint=%q", reqID, req.Outpoint)
	program, err := s.runBind(req)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcErrBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]interface{}{"Ok": program}})
}

// rpcErrBody wraps err in the { "result": { "Err": ... } } envelope every
// failing API response uses.
func rpcErrBody(err error) map[string]interface{} {
	return map[string]interface{}{"result": map[string]interface{}{"Err": err.Error()}}
}
