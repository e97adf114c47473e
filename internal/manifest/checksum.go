package manifest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"lukechampine.com/blake3"
)

// Checksum is an expected archive digest.
type Checksum struct {
	Algorithm string
	Digest    []byte
}

var digestSizes = map[string]int{
	"md5":    md5.Size,
	"sha1":   sha1.Size,
	"sha256": sha256.Size,
	"sha512": sha512.Size,
	"blake3": 32,
}

// ParseChecksum parses "algo:hex" or a bare hex digest. The algorithm of a
// bare digest is inferred from its length: md5, sha256 or sha512.
func ParseChecksum(s string) (Checksum, error) {
	s = strings.TrimSpace(s)
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		digest = s
		switch len(s) {
		case 2 * md5.Size:
			algo = "md5"
		case 2 * sha256.Size:
			algo = "sha256"
		case 2 * sha512.Size:
			algo = "sha512"
		default:
			return Checksum{}, fmt.Errorf("checksum %q: cannot infer algorithm from %d hex digits", s, len(s))
		}
	}
	algo = strings.ToLower(algo)
	size, known := digestSizes[algo]
	if !known {
		return Checksum{}, fmt.Errorf("checksum %q: unsupported algorithm %q", s, algo)
	}
	sum, err := hex.DecodeString(digest)
	if err != nil {
		return Checksum{}, fmt.Errorf("checksum %q: %w", s, err)
	}
	if len(sum) != size {
		return Checksum{}, fmt.Errorf("checksum %q: %s digest must be %d bytes, got %d", s, algo, size, len(sum))
	}
	return Checksum{Algorithm: algo, Digest: sum}, nil
}

// New returns a hash computing the digest of c's algorithm.
func (c Checksum) New() hash.Hash {
	switch c.Algorithm {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha512":
		return sha512.New()
	case "blake3":
		return blake3.New(32, nil)
	}
	return sha256.New()
}

// Matches reports whether sum is the expected digest.
func (c Checksum) Matches(sum []byte) bool {
	return len(c.Digest) > 0 && bytes.Equal(c.Digest, sum)
}

func (c Checksum) Equal(o Checksum) bool {
	return c.Algorithm == o.Algorithm && bytes.Equal(c.Digest, o.Digest)
}

// Hex returns the lower case hex digest.
func (c Checksum) Hex() string {
	return hex.EncodeToString(c.Digest)
}

// Short returns the first 12 hex digits, used to name cached downloads.
func (c Checksum) Short() string {
	h := c.Hex()
	if len(h) > 12 {
		h = h[:12]
	}
	return h
}

func (c Checksum) String() string {
	if c.Algorithm == "" {
		return ""
	}
	return c.Algorithm + ":" + c.Hex()
}
