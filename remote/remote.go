// Package remote acquires files over HTTP with integrity verification.
// Downloads stream into a .part sibling while the SHA-256 is computed, then
// rename atomically into place; a checksum mismatch deletes the partial file.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juspay/airborne/integrity"
	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/network"
	"github.com/juspay/airborne/store"
)

// FileUtil downloads remote files to local paths.
type FileUtil struct {
	client *network.Client
}

func NewFileUtil(client *network.Client) *FileUtil {
	return &FileUtil{client: client}
}

// DownloadTo streams url into localPath. When expected is non-empty the
// download fails with *integrity.Mismatch unless the content hashes to it.
// The rename from the .part staging file is atomic within the directory.
func (f *FileUtil) DownloadTo(ctx context.Context, url, localPath string, expected integrity.Checksum) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", localPath, err)
	}

	body, contentLength, err := f.client.Stream(ctx, url, nil, 0)
	if err != nil {
		return err
	}
	defer body.Close()

	partPath := localPath + ".part"
	part, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("creating staging file %s: %w", partPath, err)
	}
	removePart := true
	defer func() {
		part.Close()
		if removePart {
			os.Remove(partPath)
		}
	}()

	hasher := integrity.NewHasher()
	n, err := copyChunked(ctx, io.MultiWriter(part, hasher), body)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	if contentLength >= 0 && n != contentLength {
		return fmt.Errorf("downloading %s: expected %d bytes, got %d", url, contentLength, n)
	}
	if err := part.Close(); err != nil {
		return fmt.Errorf("closing staging file %s: %w", partPath, err)
	}

	if !expected.Empty() && !expected.Equals(hasher.Sum()) {
		return &integrity.Mismatch{Path: localPath, Expected: expected, Actual: hasher.Sum()}
	}

	if err := os.Rename(partPath, localPath); err != nil {
		return fmt.Errorf("finalizing %s: %w", localPath, err)
	}
	removePart = false
	logging.Debugf("downloaded %s (%d bytes) to %s", url, n, localPath)
	return nil
}

// ExistsAt probes url with a HEAD request; any 2xx response counts.
func (f *FileUtil) ExistsAt(ctx context.Context, url string) bool {
	ok, err := f.client.Head(ctx, url)
	if err != nil {
		logging.Debugf("HEAD %s: %v", url, err)
		return false
	}
	return ok
}

// DownloadWithCheck succeeds immediately when localPath already holds content
// matching expected (or any content when no checksum was provided);
// otherwise it downloads.
func (f *FileUtil) DownloadWithCheck(ctx context.Context, url, localPath string, expected integrity.Checksum) error {
	if onDiskMatches(ctx, localPath, expected) {
		return nil
	}
	return f.DownloadTo(ctx, url, localPath, expected)
}

func onDiskMatches(ctx context.Context, localPath string, expected integrity.Checksum) bool {
	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if expected.Empty() {
		return true
	}
	actual, err := integrity.ChecksumFile(ctx, localPath)
	if err != nil {
		return false
	}
	return expected.Equals(actual)
}

// IsTransient reports whether a download error is worth one more attempt.
// Path escapes and context cancellation are final; everything else
// (transport failures, 5xx, mismatched or truncated content) may be a
// one-off network condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var escape *store.PathEscapeError
	if errors.As(err, &escape) {
		return false
	}
	var httpErr *network.Error
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == 429
	}
	return true
}

func copyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
