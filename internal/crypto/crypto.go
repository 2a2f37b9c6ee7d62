// Package crypto implements the pluggable cryptographic collaborator: object
// hashing, Ed25519 signing, address derivation, and Merkle roots. It is the
// chain-wide constant signature scheme — never a per-block choice.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/sha3"

	"chaincore/internal/canon"
)

// Digest is a 32-byte SHA3-256 hash.
type Digest [32]byte

// Hex renders the digest as lowercase hex.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// String satisfies fmt.Stringer for log/error formatting.
func (d Digest) String() string { return d.Hex() }

// IsZero reports whether d is the all-zero digest (used for prev_hash at
// genesis).
func (d Digest) IsZero() bool { return d == Digest{} }

// DigestFromHex parses a lowercase-hex-encoded digest, as found in block
// hash query parameters and the hash:<hex> storage key.
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, err
	}
	if len(b) != len(Digest{}) {
		return Digest{}, errors.New("digest must be 32 bytes")
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Hash returns the SHA3-256 digest of b. All hashing in this module funnels
// through this function so the hash family stays a single constant.
func Hash(b []byte) Digest {
	return Digest(sha3.Sum256(b))
}

// HashObject hashes the canonical encoding of v. Every hash over a
// structured value — transactions, blocks, snapshots — goes through here so
// no component ever hashes a value built by any other route.
func HashObject(v canon.Value) (Digest, error) {
	b, err := canon.Bytes(v)
	if err != nil {
		return Digest{}, err
	}
	return Hash(b), nil
}

// Signature is a fixed 64-byte Ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// Hex renders the signature as lowercase hex.
func (s Signature) Hex() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether s is unset.
func (s Signature) IsZero() bool { return s == Signature{} }

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

// Hex renders the public key as lowercase hex.
func (p PublicKey) Hex() string { return hex.EncodeToString(p[:]) }

// Bytes returns the raw key bytes.
func (p PublicKey) Bytes() []byte { return p[:] }

// PrivateKey is a 64-byte Ed25519 private key (seed || public key, per the
// stdlib convention).
type PrivateKey [ed25519.PrivateKeySize]byte

// Keypair bundles a private/public pair generated or derived together.
type Keypair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeypair produces a fresh random keypair.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return fromStdlib(priv, pub), nil
}

// KeypairFromSeed deterministically derives a keypair from a 32-byte seed.
// Same seed always yields the same keypair; useful for tests and for
// validator key provisioning from a fixed genesis seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, errors.New("crypto: seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return fromStdlib(priv, pub), nil
}

// KeypairFromPrivate reconstructs a Keypair from a raw 64-byte private key.
func KeypairFromPrivate(raw []byte) (Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return Keypair{}, errors.New("crypto: private key must be 64 bytes")
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return fromStdlib(priv, pub), nil
}

func fromStdlib(priv ed25519.PrivateKey, pub ed25519.PublicKey) Keypair {
	var kp Keypair
	copy(kp.Private[:], priv)
	copy(kp.Public[:], pub)
	return kp
}

// Sign signs raw bytes with priv. Ed25519 signing is deterministic: the same
// key and message always produce the same signature.
func Sign(priv PrivateKey, msg []byte) Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
	var out Signature
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid signature of msg under pub.
// Signature failure is non-exceptional: it returns false, never an error.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// SignObject signs the canonical encoding of v.
func SignObject(priv PrivateKey, v canon.Value) (Signature, error) {
	b, err := canon.Bytes(v)
	if err != nil {
		return Signature{}, err
	}
	return Sign(priv, b), nil
}

// VerifyObject verifies a signature over the canonical encoding of v.
func VerifyObject(pub PublicKey, v canon.Value, sig Signature) (bool, error) {
	b, err := canon.Bytes(v)
	if err != nil {
		return false, err
	}
	return Verify(pub, b, sig), nil
}

// addressLen is the fixed hex length of a derived address (40 hex chars).
const addressLen = 40

// AddressFromPubkey derives the 40-hex-character address from a public key:
// the last 40 hex characters of hash(pubkey).
func AddressFromPubkey(pub PublicKey) string {
	h := Hash(pub[:])
	full := h.Hex()
	return full[len(full)-addressLen:]
}

// ValidAddress reports whether s has the exact length and hex alphabet of a
// derived address.
func ValidAddress(s string) bool {
	if len(s) != addressLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// MerkleRoot computes the Merkle root of an ordered leaf sequence per the
// doubling/padding rule: empty -> hash("EMPTY_BLOCK"); single leaf -> that
// leaf; otherwise iteratively combine adjacent pairs, duplicating the last
// leaf at any level with an odd count. Concatenation is over the hex string
// representation of each child, not raw bytes, preserving bit-identical
// compatibility with the reference form this was migrated from.
func MerkleRoot(leaves []Digest) Digest {
	if len(leaves) == 0 {
		return Hash([]byte("EMPTY_BLOCK"))
	}
	level := make([]Digest, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Digest, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			concat := level[i].Hex() + level[i+1].Hex()
			next = append(next, Hash([]byte(concat)))
		}
		level = next
	}
	return level[0]
}
