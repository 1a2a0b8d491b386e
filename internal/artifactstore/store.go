// Package artifactstore persists image variant payloads under
// addressable keys and returns retrieval handles. A filesystem driver
// backs production use, an in-memory driver backs tests.
package artifactstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
)

// Driver identifies a concrete artifact storage backend.
type Driver string

const (
	// DriverFilesystem is the local filesystem implementation (default).
	DriverFilesystem Driver = "fs"
	// DriverMemory is the in-memory implementation used in tests.
	DriverMemory Driver = "memory"
)

// Variant names the image resolutions the pipeline persists.
type Variant string

const (
	// VariantOriginal is the uploaded image as received.
	VariantOriginal Variant = "original"
	// VariantModel is the model-input resolution (224x224).
	VariantModel Variant = "model"
	// VariantThumbnail is the small UI preview (100x100).
	VariantThumbnail Variant = "thumb"
)

// ErrNotFound is returned when a key has no stored artifact.
var ErrNotFound = errors.NewStd("artifact not found")

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small flat key-value user metadata
}

// Info describes a stored artifact and doubles as its retrieval handle.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the byte-payload abstraction the image pipeline writes
// through. Implementations are write-once per key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// digestPrefixLen is how many hex characters of the content hash go
// into a key. 48 bits plus the nanosecond timestamp keeps concurrent
// uploads of identical bytes collision-free.
const digestPrefixLen = 12

// KeyFor derives the collision-resistant storage key for one variant of
// an upload: <sha256[:12]>_<unix-nano>_<variant>.<ext>. All variants of
// the same upload share the digest and timestamp prefix.
func KeyFor(digest []byte, at time.Time, variant Variant, ext string) string {
	hexDigest := hex.EncodeToString(digest)
	if len(hexDigest) > digestPrefixLen {
		hexDigest = hexDigest[:digestPrefixLen]
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("%s_%d_%s.%s", hexDigest, at.UnixNano(), variant, ext)
}

var keyPattern = regexp.MustCompile(`^([0-9a-f]{12})_(\d+)_(original|model|thumb)\.([0-9a-z]+)$`)

// ParseKey splits a storage key into its derived parts. It rejects
// anything that does not match the KeyFor format, which also rules out
// path traversal in keys received from external callers.
func ParseKey(key string) (digest string, at time.Time, variant Variant, ext string, err error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", time.Time{}, "", "", errors.Newf("malformed artifact key %q", key).
			Component("artifactstore").
			Category(errors.CategoryValidation).
			Build()
	}

	nanos, parseErr := strconv.ParseInt(m[2], 10, 64)
	if parseErr != nil {
		return "", time.Time{}, "", "", errors.New(parseErr).
			Component("artifactstore").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}

	return m[1], time.Unix(0, nanos), Variant(m[3]), m[4], nil
}

// ValidKey reports whether key matches the KeyFor format.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// getLoggerSafe returns a service logger, falling back to the default
// logger when logging is not yet initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}
