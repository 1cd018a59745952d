// Package fingerprint computes content digests used for change detection.
//
// A fingerprint is the SHA-256 of the raw bytes. No normalization is applied,
// so whitespace-only edits produce a new fingerprint and trigger
// re-processing.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Size is the digest length in bytes
const Size = sha256.Size

// Fingerprint is a content digest
type Fingerprint [Size]byte

// Of returns the fingerprint of content
func Of(content []byte) Fingerprint {
	return sha256.Sum256(content)
}

// OfString returns the fingerprint of s
func OfString(s string) Fingerprint {
	return sha256.Sum256([]byte(s))
}

// HasChanged reports whether content differs from the content that produced
// stored. A zero stored fingerprint always counts as changed.
func HasChanged(stored Fingerprint, content []byte) bool {
	if stored.IsZero() {
		return true
	}
	return Of(content) != stored
}

// IsZero reports whether f is the zero value
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// String returns the hex encoding of f
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, used in logs
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// FromBytes converts a stored digest back into a Fingerprint.
// A nil or empty slice yields the zero fingerprint.
func FromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) == 0 {
		return f, nil
	}
	if len(b) != Size {
		return f, errors.New("fingerprint: invalid digest length")
	}
	copy(f[:], b)
	return f, nil
}

// Parse decodes a hex fingerprint
func Parse(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, err
	}
	return FromBytes(b)
}
