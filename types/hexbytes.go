package types

import (
	"encoding/hex"
	"fmt"

	"github.com/choices-project/pollcore/util"
)

// HexBytes is a []byte which encodes as hexadecimal in JSON and text form.
// An optional "0x" prefix is accepted when decoding.
type HexBytes []byte

// String returns the hex string representation without the "0x" prefix.
func (hb HexBytes) String() string {
	return hex.EncodeToString(hb)
}

// SetString decodes a hex string, with or without the "0x" prefix, into hb.
func (hb *HexBytes) SetString(s string) error {
	b, err := hex.DecodeString(util.TrimHex(s))
	if err != nil {
		return err
	}
	*hb = b
	return nil
}

// MarshalJSON encodes hb as a quoted hex string.
func (hb HexBytes) MarshalJSON() ([]byte, error) {
	enc := make([]byte, hex.EncodedLen(len(hb))+2)
	enc[0] = '"'
	hex.Encode(enc[1:], hb)
	enc[len(enc)-1] = '"'
	return enc, nil
}

// UnmarshalJSON decodes a quoted hex string, with or without the "0x"
// prefix, into hb.
func (hb *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON string: %q", data)
	}
	return hb.SetString(string(data[1 : len(data)-1]))
}
