// Package fingerprint decides whether a fresh dump is identical to the
// previous day's compressed artifact.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"mysql-backup-sync/internal/compression"
)

// Algorithm names a digest function
type Algorithm string

const (
	AlgorithmBlake2b Algorithm = "blake2b"
	AlgorithmXXHash  Algorithm = "xxhash"
	AlgorithmSHA256  Algorithm = "sha256"
	AlgorithmNone    Algorithm = "none"
)

// DefaultAlgorithm is used when the configuration leaves the algorithm empty
const DefaultAlgorithm = AlgorithmBlake2b

// ErrUnavailable means no usable digest function is configured
var ErrUnavailable = errors.New("fingerprint capability unavailable")

var factories = map[Algorithm]func() hash.Hash{
	AlgorithmBlake2b: func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	AlgorithmXXHash: func() hash.Hash { return xxhash.New() },
	AlgorithmSHA256: sha256.New,
}

// Detector compares artifacts by digest
type Detector struct {
	algorithm Algorithm
	newHash   func() hash.Hash
}

// New returns a detector for the named algorithm. An empty name selects the
// default; "none" or an unknown name returns ErrUnavailable.
func New(name string) (*Detector, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if alg == "" {
		alg = DefaultAlgorithm
	}
	factory, ok := factories[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnavailable, name)
	}
	return &Detector{algorithm: alg, newHash: factory}, nil
}

// Algorithm returns the digest in use
func (d *Detector) Algorithm() Algorithm {
	return d.algorithm
}

// Digest hashes everything read from r
func (d *Detector) Digest(r io.Reader) ([]byte, error) {
	h := d.newHash()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// IsUnchanged reports whether the uncompressed candidate has the same content
// as the gzip artifact at previous. Both files are streamed. A missing
// previous artifact counts as changed.
func (d *Detector) IsUnchanged(candidate, previous string) (bool, error) {
	prev, err := compression.OpenReader(previous)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open previous artifact: %w", err)
	}
	defer prev.Close()

	prevSum, err := d.Digest(prev)
	if err != nil {
		return false, fmt.Errorf("failed to hash previous artifact %s: %w", previous, err)
	}

	f, err := os.Open(candidate)
	if err != nil {
		return false, fmt.Errorf("failed to open candidate artifact: %w", err)
	}
	defer f.Close()

	sum, err := d.Digest(f)
	if err != nil {
		return false, fmt.Errorf("failed to hash candidate artifact %s: %w", candidate, err)
	}

	return bytes.Equal(sum, prevSum), nil
}

// Supported lists the known algorithms
func Supported() []Algorithm {
	return []Algorithm{AlgorithmBlake2b, AlgorithmXXHash, AlgorithmSHA256}
}
