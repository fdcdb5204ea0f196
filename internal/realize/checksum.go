package realize

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // G505: SHA-1 is the ONNX external-data convention, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/llmengine/llm-engine/internal/loaderr"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// checksumAlgo names a digest and computes it.
type checksumAlgo struct {
	name string
	size int // digest length in bytes
	new  func() hash.Hash
}

var checksumAlgos = map[string]checksumAlgo{
	"sha256": {"sha256", sha256.Size, sha256.New},
	"sha1":   {"sha1", sha1.Size, sha1.New},
	"crc32c": {"crc32c", crc32.Size, func() hash.Hash { return crc32.New(castagnoli) }},
	"xxh64":  {"xxh64", 8, func() hash.Hash { return xxhash.New() }},
}

// parseChecksum splits "algo:hex" into its algorithm and digest. A bare
// 40-digit hex string is a SHA-1 digest.
func parseChecksum(sum string) (checksumAlgo, []byte, error) {
	name, digest, found := strings.Cut(strings.TrimSpace(sum), ":")
	if !found {
		name, digest = "sha1", name
	}
	algo, ok := checksumAlgos[strings.ToLower(name)]
	if !ok {
		return checksumAlgo{}, nil, loaderr.New(loaderr.ErrChecksum, "unknown checksum algorithm %q", name)
	}
	want, err := hex.DecodeString(digest)
	if err != nil || len(want) != algo.size {
		return checksumAlgo{}, nil, loaderr.New(loaderr.ErrChecksum, "malformed %s digest %q", algo.name, digest)
	}
	return algo, want, nil
}

// verifyChecksum checks data against the checksum string sum.
func verifyChecksum(sum string, data []byte) error {
	algo, want, err := parseChecksum(sum)
	if err != nil {
		return err
	}
	got := digest(algo, data)
	if !bytes.Equal(got, want) {
		return loaderr.New(loaderr.ErrChecksum, "%s mismatch: got %x, want %x", algo.name, got, want)
	}
	return nil
}

// digest returns the big-endian digest of data, the form checksums are
// written in.
func digest(algo checksumAlgo, data []byte) []byte {
	h := algo.new()
	_, _ = h.Write(data) // hash.Hash writes never fail
	return h.Sum(nil)
}
