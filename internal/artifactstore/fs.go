package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// writeRetryDelay is the pause before the single retry round when
// artifacts.retrywrites is enabled.
const writeRetryDelay = 250 * time.Millisecond

// FSStore implements Store on the local filesystem. Keys map to files
// under the root; a sidecar (<key>.meta) carries content type, ETag and
// user metadata. Writes stream through a temp file and move into place
// atomically, so readers never observe partial artifacts.
type FSStore struct {
	root        string
	retryWrites bool
	metrics     *metrics.ArtifactStoreMetrics
	logger      *slog.Logger
}

// NewFSStore returns a filesystem-backed artifact store rooted at root,
// creating the directory if needed.
func NewFSStore(root string, retryWrites bool) (*FSStore, error) {
	if root == "" {
		root = "artifacts/"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.New(err).
			Component("artifactstore").
			Category(errors.CategoryFileIO).
			Context("operation", "create_artifact_root").
			Context("root", root).
			Build()
	}
	return &FSStore{
		root:        root,
		retryWrites: retryWrites,
		logger:      getLoggerSafe("artifactstore"),
	}, nil
}

// SetMetrics sets the metrics instance for artifact store operations
func (s *FSStore) SetMetrics(m *metrics.ArtifactStoreMetrics) {
	s.metrics = m
}

// Driver returns the storage backend identifier.
func (s *FSStore) Driver() Driver { return DriverFilesystem }

// Root returns the artifact root directory.
func (s *FSStore) Root() string { return s.root }

// sanitizeKey rejects keys that could escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.Newf("empty artifact key").
			Component("artifactstore").
			Category(errors.CategoryValidation).
			Build()
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", errors.Newf("invalid artifact key %q", key).
			Component("artifactstore").
			Category(errors.CategoryValidation).
			Build()
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(clean, "..") {
		return "", errors.Newf("invalid artifact key %q", key).
			Component("artifactstore").
			Category(errors.CategoryValidation).
			Build()
	}
	return clean, nil
}

func (s *FSStore) pathFor(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, k)
	metaPath = dataPath + ".meta"
	return dataPath, metaPath, nil
}

// metaFile is the JSON sidecar layout.
type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Put streams r into a new artifact under key. Writing an existing key
// fails: artifacts are immutable and keys are collision-resistant by
// construction, so a duplicate means a caller bug.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	start := time.Now()

	info, err := s.put(key, r, opts)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			s.metrics.RecordOperationError("put", categorizeStoreError(err))
		} else {
			s.metrics.AddBytesWritten(float64(info.Size))
		}
		s.metrics.RecordOperation("put", status)
		s.metrics.RecordOperationDuration("put", time.Since(start).Seconds())
	}

	return info, err
}

func (s *FSStore) put(key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}

	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, errors.Newf("artifact %s already exists", key).
			Component("artifactstore").
			Category(errors.CategoryArtifactStore).
			Context("key", key).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, s.wrapIOError(err, "create_artifact_dir", key)
	}

	size, etag, err := s.writeFile(dataPath, r)
	if err != nil && s.retryWrites {
		// A retry needs the payload back; only seekable readers qualify.
		if seeker, ok := r.(io.Seeker); ok {
			if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr == nil {
				s.logger.Warn("artifact write failed, retrying once",
					"key", key,
					"error", err)
				if s.metrics != nil {
					s.metrics.RecordWriteRetry()
				}
				time.Sleep(writeRetryDelay)
				size, etag, err = s.writeFile(dataPath, r)
			}
		}
	}
	if err != nil {
		return Info{}, s.wrapIOError(err, "artifact_put", key)
	}

	now := time.Now().UTC()
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		ETag:        etag,
		Size:        size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := writeMeta(metaPath, &mf); err != nil {
		return Info{}, s.wrapIOError(err, "artifact_put_meta", key)
	}

	s.logger.Debug("artifact stored",
		"key", key,
		"size_bytes", size,
		"content_type", opts.ContentType)

	return s.infoFrom(key, &mf), nil
}

// writeFile streams r into a temp file next to dataPath, computing the
// sha256 on the way, then moves it into place.
func (s *FSStore) writeFile(dataPath string, r io.Reader) (size int64, etag string, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return 0, "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return 0, "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, "", err
	}
	if err := tmp.Close(); err != nil {
		return 0, "", err
	}

	if err := os.Rename(tmpName, dataPath); err != nil {
		return 0, "", err
	}

	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns artifact metadata and a reader over its content.
func (s *FSStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}

	file, err := os.Open(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, nil, s.notFound(key)
		}
		return Info{}, nil, s.wrapIOError(err, "artifact_get", key)
	}

	mf, err := readMeta(metaPath)
	if err != nil {
		_ = file.Close()
		if os.IsNotExist(err) {
			return Info{}, nil, s.notFound(key)
		}
		return Info{}, nil, s.wrapIOError(err, "artifact_get_meta", key)
	}

	if s.metrics != nil {
		s.metrics.RecordOperation("get", "success")
	}

	return s.infoFrom(key, mf), file, nil
}

// Head returns artifact metadata without opening the payload.
func (s *FSStore) Head(ctx context.Context, key string) (Info, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}

	mf, err := readMeta(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, s.notFound(key)
		}
		return Info{}, s.wrapIOError(err, "artifact_head", key)
	}

	return s.infoFrom(key, mf), nil
}

// Delete removes an artifact, reporting whether it existed.
func (s *FSStore) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(dataPath); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, s.wrapIOError(err, "artifact_delete", key)
	}
	_ = os.Remove(metaPath)

	if s.metrics != nil {
		s.metrics.RecordOperation("delete", "success")
	}

	return true, nil
}

// List returns artifacts whose keys match prefix, sorted by key.
func (s *FSStore) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}

		mf, err := readMeta(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, s.infoFrom(key, mf))
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapIOError(err, "artifact_list", prefix)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *FSStore) infoFrom(key string, mf *metaFile) Info {
	return Info{
		Key:          key,
		Size:         mf.Size,
		ContentType:  mf.ContentType,
		ETag:         mf.ETag,
		Metadata:     cloneMetadata(mf.Metadata),
		LastModified: mf.UpdatedAt,
		URL:          HandleURL(key),
	}
}

func (s *FSStore) notFound(key string) error {
	return errors.New(ErrNotFound).
		Component("artifactstore").
		Category(errors.CategoryNotFound).
		Context("key", key).
		Build()
}

func (s *FSStore) wrapIOError(err error, operation, key string) error {
	return errors.New(err).
		Component("artifactstore").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("key", key).
		Build()
}

// categorizeStoreError maps store errors to metric label values
func categorizeStoreError(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.IsCategory(err, errors.CategoryValidation):
		return "invalid_key"
	case errors.IsCategory(err, errors.CategoryArtifactStore):
		return "duplicate_key"
	default:
		return "io_error"
	}
}

// HandleURL returns the site-relative retrieval URL for a stored key.
func HandleURL(key string) string {
	return "/media/" + key
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeMeta(path string, mf *metaFile) error {
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readMeta(path string) (*metaFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}
