// Package fingerprint derives stable content identities for uploaded audio.
// Two byte-identical uploads always produce the same fingerprint, which is
// what the result cache keys on.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Size is the length in hex characters of a computed fingerprint.
const Size = sha256.Size * 2

// Digest accumulates content bytes and produces a fingerprint. It implements
// io.Writer so intake can tee the upload stream through it while spooling to
// disk, with no second read of the payload.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write feeds content bytes into the digest.
func (d *Digest) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.n += int64(n)
	return n, err
}

// BytesWritten reports how many content bytes the digest has consumed.
func (d *Digest) BytesWritten() int64 {
	return d.n
}

// Sum finalizes the digest into its hex form.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// FromReader consumes a reader to completion and returns its fingerprint and
// byte count.
func FromReader(r io.Reader) (string, int64, error) {
	d := New()
	if _, err := io.Copy(d, r); err != nil {
		return "", 0, fmt.Errorf("hash content: %w", err)
	}
	return d.Sum(), d.BytesWritten(), nil
}

// FromFile computes the fingerprint of a file on disk.
func FromFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return FromReader(f)
}

// Valid reports whether a string has the shape of a fingerprint.
func Valid(value string) bool {
	if len(value) != Size {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
