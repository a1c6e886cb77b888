package emulator

import (
	"encoding/hex"
	"io"
	"strings"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// newB64Reader hands a base64-encoded PSBT string to psbt.NewFromRawBytes,
// which itself expects a raw reader over base64 text when its b64 flag is
// set.
func newB64Reader(s string) io.Reader { return strings.NewReader(s) }
