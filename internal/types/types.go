// Package types defines small value types shared across progsvm packages.
//
// Fingerprints identify a program image by content so that save games and
// the image store can refer to the exact progs a snapshot was taken against.
package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// FingerprintSize is the size of an image fingerprint in bytes.
const FingerprintSize = 32

var (
	// ErrInvalidFingerprint is returned when a fingerprint has invalid length.
	ErrInvalidFingerprint = errors.New("invalid fingerprint: must be 32 bytes")
)

// Fingerprint is the blake3 digest of a raw program image.
type Fingerprint [FingerprintSize]byte

// ComputeFingerprint hashes raw image bytes.
func ComputeFingerprint(data []byte) Fingerprint {
	return Fingerprint(blake3.Sum256(data))
}

// FingerprintFromBase58 parses a base58-encoded fingerprint.
func FingerprintFromBase58(s string) (Fingerprint, error) {
	var f Fingerprint
	data, err := base58.Decode(s)
	if err != nil {
		return f, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != FingerprintSize {
		return f, ErrInvalidFingerprint
	}
	copy(f[:], data)
	return f, nil
}

// FingerprintFromBytes creates a Fingerprint from a byte slice.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != FingerprintSize {
		return f, ErrInvalidFingerprint
	}
	copy(f[:], b)
	return f, nil
}

// String returns the base58-encoded representation.
func (f Fingerprint) String() string {
	return base58.Encode(f[:])
}

// Short returns the first eight characters of the base58 form.
func (f Fingerprint) Short() string {
	s := f.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Bytes returns the fingerprint as a byte slice.
func (f Fingerprint) Bytes() []byte {
	return f[:]
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := FingerprintFromBase58(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Vec3 is a three-component single precision vector, the layout of a
// vector-typed cell group.
type Vec3 [3]float32

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Scale returns v * s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float32 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

// Length returns the euclidean length of v.
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}
