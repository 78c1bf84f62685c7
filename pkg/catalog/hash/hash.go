// Package hash computes the content digests used to deduplicate and verify
// product sources.
package hash

import (
	"encoding/hex"
	"errors"
	"fmt"
	gohash "hash"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// Algorithm names the digest function recorded alongside sources.
const Algorithm = "sha256"

// Size is the length in bytes of a raw digest.
const Size = sha256.Size

// ErrInvalidDigest is returned for malformed digest strings.
var ErrInvalidDigest = errors.New("invalid digest")

// Digest is the lower-case hex form of a content digest.
type Digest string

// Validate checks that d has the fixed digest length and alphabet.
func (d Digest) Validate() error {
	if len(d) != hex.EncodedLen(Size) {
		return fmt.Errorf("%w: length %d", ErrInvalidDigest, len(d))
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidDigest, c)
		}
	}
	return nil
}

// Shard splits d into a directory prefix of n characters and the remainder.
func (d Digest) Shard(n int) (string, string) {
	if n <= 0 || n >= len(d) {
		return "", string(d)
	}
	return string(d[:n]), string(d[n:])
}

func (d Digest) String() string { return string(d) }

// Hasher is a streaming digest writer that also counts bytes.
type Hasher struct {
	h gohash.Hash
	n int64
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 {
	return h.n
}

// Reader digests r to EOF in constant memory.
func Reader(r io.Reader) (Digest, int64, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", h.n, err
	}
	return h.Sum(), h.n, nil
}

// Bytes digests an in-memory buffer.
func Bytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}
