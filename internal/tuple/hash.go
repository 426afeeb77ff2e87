package tuple

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainChannel  = "f1r3fly/channel/v1"
	DomainChannels = "f1r3fly/channels/v1"
	DomainProduce  = "f1r3fly/produce/v1"
	DomainConsume  = "f1r3fly/consume/v1"
	DomainRoot     = "f1r3fly/root/v1"
)

// HashSize is the digest length in bytes (Blake2b-256).
const HashSize = 32

// Hash is a Blake2b-256 digest. It is comparable and usable as a map key.
// The zero Hash is not a valid digest of anything and marks "unset".
type Hash [HashSize]byte

// ZeroHash is the unset hash value.
var ZeroHash Hash

// Hex returns the lowercase hex encoding of the digest.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Compare returns -1, 0, or 1 ordering digests lexicographically over their
// bytes. This is the total order used by the lock manager.
func (h Hash) Compare(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

// IsZero reports whether the hash is the unset value.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash decodes a lowercase hex digest produced by Hex.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash, fmt.Errorf("parse hash: %w", err)
	}
	if len(raw) != HashSize {
		return ZeroHash, fmt.Errorf("parse hash: expected %d bytes, got %d", HashSize, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// Sum computes Blake2b-256 with domain separation.
// Format: BLAKE2b-256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func Sum(domain string, data []byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key cannot fail
		panic(err)
	}
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashValue canonically marshals v and hashes it under the given domain.
func hashValue(domain string, v Value) (Hash, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return ZeroHash, fmt.Errorf("hash %s: %w", domain, err)
	}
	return Sum(domain, canonical), nil
}

// ChannelHash computes the stable hash of a channel: Blake2b-256 over its
// canonical byte encoding. Deterministic, independent of in-memory ordering.
// Used for lock keys and for content addressing of channels in storage.
func ChannelHash(c Value) (Hash, error) {
	return hashValue(DomainChannel, c)
}

// ChannelsHash computes the stable hash of an ordered channel tuple.
// Used to key waiting continuations and join entries.
func ChannelsHash(cs []Value) (Hash, error) {
	return hashValue(DomainChannels, Array(cs))
}
