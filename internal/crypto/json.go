package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders a Digest as a hex string, matching how the rest of the
// chain surfaces hashes (§3: "256-bit... hex-encoded where surfaced").
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

func (d *Digest) UnmarshalJSON(b []byte) error {
	return unmarshalFixedHex(b, d[:])
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Hex())
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	return unmarshalFixedHex(b, s[:])
}

func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Hex())
}

func (p *PublicKey) UnmarshalJSON(b []byte) error {
	return unmarshalFixedHex(b, p[:])
}

func unmarshalFixedHex(b []byte, dst []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("crypto: invalid hex: %w", err)
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("crypto: expected %d bytes, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}
