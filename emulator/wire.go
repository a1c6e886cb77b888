package emulator

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/sapio-lang/sapio/clause"
)

// maxWireMessageSize bounds a single request/response frame.
const maxWireMessageSize = 1024 * 1024

// wireRequest is one RPC call over the HD emulator's connection: exactly
// one of Hash or PSBT is set, selecting GetSignerFor or Sign.
type wireRequest struct {
	Hash *[32]byte `json:"hash,omitempty"`
	PSBT string    `json:"psbt,omitempty"`
}

type wireResponse struct {
	PubKey string `json:"pub_key,omitempty"`
	PSBT   string `json:"psbt,omitempty"`
	Error  string `json:"error,omitempty"`
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("emulator: read length: %w", err)
	}
	if length > maxWireMessageSize {
		return nil, fmt.Errorf("emulator: message too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("emulator: read message: %w", err)
	}
	return data, nil
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > maxWireMessageSize {
		return fmt.Errorf("emulator: message too large: %d bytes", len(data))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("emulator: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("emulator: write message: %w", err)
	}
	return nil
}

// HDEmulatorClient speaks the length-prefixed JSON protocol to a remote
// HDEmulatorServer over conn, implementing contract.Emulator without
// holding any private key material itself. One request is in flight on
// the connection at a time.
type HDEmulatorClient struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewHDEmulatorClient wraps an already-dialed connection to an emulator
// server.
func NewHDEmulatorClient(conn net.Conn) *HDEmulatorClient {
	return &HDEmulatorClient{conn: conn}
}

func (c *HDEmulatorClient) roundTrip(req wireRequest) (wireResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return wireResponse{}, fmt.Errorf("emulator: marshal request: %w", err)
	}
	if err := writeLengthPrefixed(c.conn, body); err != nil {
		return wireResponse{}, err
	}
	respBody, err := readLengthPrefixed(c.conn)
	if err != nil {
		return wireResponse{}, err
	}
	var resp wireResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return wireResponse{}, fmt.Errorf("emulator: unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return wireResponse{}, fmt.Errorf("emulator: server error: %s", resp.Error)
	}
	return resp, nil
}

func (c *HDEmulatorClient) GetSignerFor(hash [32]byte) (clause.Clause, error) {
	resp, err := c.roundTrip(wireRequest{Hash: &hash})
	if err != nil {
		return clause.Clause{}, err
	}
	pubBytes, err := hexDecode(resp.PubKey)
	if err != nil {
		return clause.Clause{}, fmt.Errorf("emulator: decode pubkey: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return clause.Clause{}, fmt.Errorf("emulator: parse pubkey: %w", err)
	}
	return clause.Key(pub), nil
}

func (c *HDEmulatorClient) Sign(p *psbt.Packet) error {
	b64, err := p.B64Encode()
	if err != nil {
		return fmt.Errorf("emulator: encode psbt: %w", err)
	}
	resp, err := c.roundTrip(wireRequest{PSBT: b64})
	if err != nil {
		return err
	}
	signed, err := psbt.NewFromRawBytes(newB64Reader(resp.PSBT), true)
	if err != nil {
		return fmt.Errorf("emulator: decode signed psbt: %w", err)
	}
	*p = *signed
	return nil
}

// HDEmulatorServer answers requests from an HDEmulatorClient by delegating
// to a local HDEmulator holding the actual master key.
type HDEmulatorServer struct {
	emu *HDEmulator
}

// NewHDEmulatorServer wraps an HDEmulator (with its private master key) to
// serve requests over one or more connections.
func NewHDEmulatorServer(emu *HDEmulator) *HDEmulatorServer {
	return &HDEmulatorServer{emu: emu}
}

// Serve handles requests on conn until it is closed or a framing error
// occurs, one request at a time.
func (s *HDEmulatorServer) Serve(conn net.Conn) error {
	for {
		body, err := readLengthPrefixed(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		respBody, fatal := s.handle(body)
		if err := writeLengthPrefixed(conn, respBody); err != nil {
			return err
		}
		if fatal != nil {
			return fatal
		}
	}
}

func (s *HDEmulatorServer) handle(body []byte) ([]byte, error) {
	var req wireRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return marshalErrorResponse(err), nil
	}

	var resp wireResponse
	switch {
	case req.Hash != nil:
		c, err := s.emu.GetSignerFor(*req.Hash)
		if err != nil {
			return marshalErrorResponse(err), nil
		}
		key := c.Key()
		if key == nil {
			return marshalErrorResponse(fmt.Errorf("emulator: derived clause carries no key")), nil
		}
		resp.PubKey = hexEncode(key.SerializeCompressed())
	case req.PSBT != "":
		packet, err := psbt.NewFromRawBytes(newB64Reader(req.PSBT), true)
		if err != nil {
			return marshalErrorResponse(err), nil
		}
		if err := s.emu.Sign(packet); err != nil {
			return marshalErrorResponse(err), nil
		}
		b64, err := packet.B64Encode()
		if err != nil {
			return marshalErrorResponse(err), nil
		}
		resp.PSBT = b64
	default:
		return marshalErrorResponse(fmt.Errorf("emulator: empty request")), nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return marshalErrorResponse(err), nil
	}
	return out, nil
}

func marshalErrorResponse(err error) []byte {
	out, _ := json.Marshal(wireResponse{Error: err.Error()})
	return out
}
