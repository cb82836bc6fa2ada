package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// chunkSize bounds memory usage while hashing arbitrarily large inputs.
const chunkSize = 64 * 1024

// HexLength is the length of a hex-encoded SHA-256 digest.
const HexLength = 64

// SumReader computes the SHA-256 digest of everything readable from r and
// returns the hex-encoded digest together with the number of bytes hashed.
//
// The stream is rewound to its start before hashing and again afterwards, so
// callers can hand the same reader to the blob store: digesting is a peek,
// not a consuming read.
func SumReader(r io.ReadSeeker) (string, int64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind stream before hashing: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, chunkSize)

	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read stream while hashing: %w", err)
		}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind stream after hashing: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// SumBytes computes the hex-encoded SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
