// Package oid implements MediaGit's content identifier: a 256-bit SHA-256
// digest with a lowercase hex display form, used as the only object
// identifier across the object store, refs, and pack wire format.
package oid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// HexSize is the length of the display (hex) form.
const HexSize = Size * 2

// OID is an immutable 256-bit content hash. The zero value is not a valid
// OID (use IsZero to test for it); callers that need an "undefined" OID
// should use the Zero value explicitly.
type OID [Size]byte

// Zero is the all-zero OID, used as a sentinel for "no parent" / "no root".
var Zero OID

// Hash computes the canonical OID of b. This is the canonical constructor:
// every object's OID equals Hash(canonical_serialized_form).
func Hash(b []byte) OID {
	return OID(sha256.Sum256(b))
}

// HashReader computes the OID of everything read from r, streaming, without
// holding the whole input in memory — used for files larger than RAM.
func HashReader(r io.Reader) (OID, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Zero, err
	}
	var out OID
	copy(out[:], h.Sum(nil))
	return out, nil
}

// NewHasher returns a streaming hasher whose Sum produces an OID.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Hasher incrementally accumulates bytes toward an OID.
type Hasher struct {
	h interface {
		io.Writer
		Sum(b []byte) []byte
	}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Sum returns the OID of everything written so far.
func (h *Hasher) Sum() OID {
	var out OID
	copy(out[:], h.h.Sum(nil))
	return out
}

// String renders the 64-char lowercase hex display form.
func (o OID) String() string {
	return hex.EncodeToString(o[:])
}

// IsZero reports whether o is the all-zero sentinel.
func (o OID) IsZero() bool {
	return o == Zero
}

// Compare orders two OIDs by byte value; used for deterministic tree/pack
// index ordering.
func (o OID) Compare(other OID) int {
	for i := range o {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports o < other in byte order.
func (o OID) Less(other OID) bool { return o.Compare(other) < 0 }

// Parse decodes a 64-char hex string into an OID.
func Parse(s string) (OID, error) {
	if len(s) != HexSize {
		return Zero, fmt.Errorf("oid: invalid length %d, want %d", len(s), HexSize)
	}
	var out OID
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("oid: invalid hex: %w", err)
	}
	return out, nil
}

// MustParse is Parse but panics on error; intended for tests and constants.
func MustParse(s string) OID {
	o, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return o
}

// MarshalText implements encoding.TextMarshaler so OIDs serialize as their
// hex form in JSON/TOML contexts.
func (o OID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
