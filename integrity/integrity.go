package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Checksum is the lowercase hex encoded SHA-256 digest of a file's contents.
// An empty Checksum means "no integrity expectation".
type Checksum string

// Empty returns true if no checksum was provided.
func (c Checksum) Empty() bool {
	return len(c) == 0
}

// Validate checks that the checksum is a well-formed lowercase hex SHA-256 digest.
func (c Checksum) Validate() error {
	if len(c) != hex.EncodedLen(sha256.Size) {
		return fmt.Errorf("checksum %q: expected %d hex characters, got %d", string(c), hex.EncodedLen(sha256.Size), len(c))
	}
	if string(c) != strings.ToLower(string(c)) {
		return fmt.Errorf("checksum %q: must be lowercase hex", string(c))
	}
	if _, err := hex.DecodeString(string(c)); err != nil {
		return fmt.Errorf("checksum %q: %w", string(c), err)
	}
	return nil
}

// Equals compares two checksums.
// Checksums are normalized to lowercase before comparison,
// so digests copy-pasted in uppercase still match.
func (c Checksum) Equals(other Checksum) bool {
	if c.Empty() || other.Empty() {
		// for safety, a missing checksum is never equal to anything
		return false
	}
	return strings.EqualFold(string(c), string(other))
}

// ChecksumData computes the checksum of an in-memory byte slice.
func ChecksumData(data []byte) Checksum {
	sum := sha256.Sum256(data)
	return Checksum(hex.EncodeToString(sum[:]))
}

// ChecksumReader consumes the reader and returns the checksum and size of its contents.
// The read is chunked and checks for context cancellation between chunks,
// so large files can be abandoned cooperatively.
func ChecksumReader(ctx context.Context, r io.Reader) (Checksum, int64, error) {
	hasher := sha256.New()
	buf := make([]byte, checksumChunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, err
		}
	}
	return Checksum(hex.EncodeToString(hasher.Sum(nil))), total, nil
}

// ChecksumFile computes the checksum of the file at path.
func ChecksumFile(ctx context.Context, path string) (Checksum, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	sum, _, err := ChecksumReader(ctx, file)
	return sum, err
}

// Hasher is an io.Writer that computes a checksum of everything written to it.
// It is meant to be combined with io.MultiWriter so a download stream is
// hashed while it is written to disk.
type Hasher struct {
	inner hash.Hash
	size  int64
}

func NewHasher() *Hasher {
	return &Hasher{inner: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.inner.Write(p)
	h.size += int64(n)
	return n, err
}

// Sum returns the checksum of all bytes written so far.
func (h *Hasher) Sum() Checksum {
	return Checksum(hex.EncodeToString(h.inner.Sum(nil)))
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 {
	return h.size
}

// Mismatch is the error returned when on-disk or downloaded contents
// do not hash to the expected checksum.
type Mismatch struct {
	Path     string
	Expected Checksum
	Actual   Checksum
}

func (e *Mismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// checksumChunkSize is the read granularity for hashing files.
// Cancellation is only observed between chunks.
const checksumChunkSize = 1 << 20
