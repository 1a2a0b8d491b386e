package backup

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

const (
	defaultFTPPort      = 21
	defaultSFTPPort     = 22
	defaultRemotePath   = "backups"
	defaultStoreTimeout = 30 * time.Second

	dirPermissions  = 0o700
	filePermissions = 0o600

	remoteTempPrefix = "tmp-"
)

// Target accepts finished backup archives. Implementations keep the
// archive file name chosen by the manager.
type Target interface {
	Name() string
	Store(ctx context.Context, archivePath string) error
}

// StoredBackup describes one archive held by a target.
type StoredBackup struct {
	Name      string
	Timestamp time.Time
	Size      int64
}

// prunable is implemented by targets whose backups the manager may
// enumerate and delete during retention pruning.
type prunable interface {
	List(ctx context.Context) ([]StoredBackup, error)
	Delete(ctx context.Context, name string) error
}

// NewTarget builds a target from one configuration entry.
func NewTarget(tc *conf.BackupTarget) (Target, error) {
	switch strings.ToLower(tc.Type) {
	case "local":
		return newLocalTarget(tc.Settings)
	case "ftp":
		return newFTPTarget(tc.Settings)
	case "sftp":
		return newSFTPTarget(tc.Settings)
	default:
		return nil, errors.Newf("unknown backup target type: %s", tc.Type).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// isArchiveName reports whether name looks like an archive produced by
// this manager and is free of path traversal.
func isArchiveName(name string) bool {
	if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveExt) {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

func targetConfigError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("backup").
		Category(errors.CategoryConfiguration).
		Build()
}

func targetStoreError(err error, target, operation string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryBackup).
		Context("target", target).
		Context("operation", operation).
		Build()
}

// stringSetting reads an optional string from a target settings map.
func stringSetting(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intSetting reads an optional integer from a target settings map.
// YAML decoding may surface numbers as int, int64 or float64.
func intSetting(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// durationSetting reads an optional duration string such as "45s".
func durationSetting(settings map[string]any, key string, fallback time.Duration) time.Duration {
	v, ok := settings[key].(string)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LocalTarget stores archives in a directory on the local filesystem.
// It is the only target the manager prunes.
type LocalTarget struct {
	path   string
	debug  bool
	logger *slog.Logger
}

func newLocalTarget(settings map[string]any) (*LocalTarget, error) {
	rawPath := stringSetting(settings, "path", "")
	if rawPath == "" {
		return nil, targetConfigError("local target: path is required")
	}

	absPath, err := filepath.Abs(filepath.Clean(os.ExpandEnv(rawPath)))
	if err != nil {
		return nil, targetConfigError("local target: invalid path %q: %v", rawPath, err)
	}
	if err := os.MkdirAll(absPath, dirPermissions); err != nil {
		return nil, targetConfigError("local target: cannot create %q: %v", absPath, err)
	}

	return &LocalTarget{
		path:   absPath,
		debug:  boolSetting(settings, "debug"),
		logger: getLoggerSafe("backup"),
	}, nil
}

func boolSetting(settings map[string]any, key string) bool {
	v, ok := settings[key].(bool)
	return ok && v
}

func (t *LocalTarget) Name() string { return "local" }

// Store copies the archive into the target directory. The copy lands
// under a temporary name and becomes visible only after a rename, so a
// crashed run never leaves a half-written archive behind.
func (t *LocalTarget) Store(ctx context.Context, archivePath string) error {
	if err := ctx.Err(); err != nil {
		return targetStoreError(err, t.Name(), "store")
	}

	src, err := os.Open(archivePath)
	if err != nil {
		return targetStoreError(err, t.Name(), "open_source")
	}
	defer src.Close()

	finalPath := filepath.Join(t.path, filepath.Base(archivePath))
	tmp, err := os.CreateTemp(t.path, remoteTempPrefix+"*")
	if err != nil {
		return targetStoreError(err, t.Name(), "create_temp")
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		return targetStoreError(err, t.Name(), "chmod_temp")
	}
	if _, err := io.Copy(tmp, src); err != nil {
		return targetStoreError(err, t.Name(), "copy")
	}
	if err := tmp.Sync(); err != nil {
		return targetStoreError(err, t.Name(), "sync")
	}
	if err := tmp.Close(); err != nil {
		return targetStoreError(err, t.Name(), "close_temp")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return targetStoreError(err, t.Name(), "rename")
	}
	committed = true

	if t.debug {
		t.logger.Debug("archive stored", "target", t.Name(), "path", finalPath)
	}
	return nil
}

// List enumerates the archives in the target directory. File names
// that do not match the archive naming scheme are ignored.
func (t *LocalTarget) List(ctx context.Context) ([]StoredBackup, error) {
	if err := ctx.Err(); err != nil {
		return nil, targetStoreError(err, t.Name(), "list")
	}

	entries, err := os.ReadDir(t.path)
	if err != nil {
		return nil, targetStoreError(err, t.Name(), "read_dir")
	}

	var backups []StoredBackup
	for _, entry := range entries {
		if entry.IsDir() || !isArchiveName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, StoredBackup{
			Name:      entry.Name(),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}
	return backups, nil
}

// Delete removes one archive by name. Names that do not match the
// archive naming scheme are rejected before touching the filesystem.
func (t *LocalTarget) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return targetStoreError(err, t.Name(), "delete")
	}
	if !isArchiveName(name) {
		return errors.Newf("refusing to delete %q: not a backup archive name", name).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := os.Remove(filepath.Join(t.path, name)); err != nil {
		return targetStoreError(err, t.Name(), "remove")
	}
	return nil
}

// FTPTarget uploads archives to an FTP server. It is upload-only;
// retention on the remote side is the server operator's concern.
type FTPTarget struct {
	host     string
	port     int
	username string
	password string
	basePath string
	timeout  time.Duration
	debug    bool
	logger   *slog.Logger
}

func newFTPTarget(settings map[string]any) (*FTPTarget, error) {
	host := stringSetting(settings, "host", "")
	if host == "" {
		return nil, targetConfigError("ftp target: host is required")
	}

	return &FTPTarget{
		host:     host,
		port:     intSetting(settings, "port", defaultFTPPort),
		username: stringSetting(settings, "username", ""),
		password: stringSetting(settings, "password", ""),
		basePath: strings.Trim(stringSetting(settings, "path", defaultRemotePath), "/"),
		timeout:  durationSetting(settings, "timeout", defaultStoreTimeout),
		debug:    boolSetting(settings, "debug"),
		logger:   getLoggerSafe("backup"),
	}, nil
}

func (t *FTPTarget) Name() string { return "ftp" }

func (t *FTPTarget) Store(ctx context.Context, archivePath string) error {
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithTimeout(t.timeout),
		ftp.DialWithContext(ctx))
	if err != nil {
		return targetStoreError(err, t.Name(), "connect")
	}
	defer func() {
		if quitErr := conn.Quit(); quitErr != nil && t.debug {
			t.logger.Debug("ftp quit failed", "error", quitErr)
		}
	}()

	if t.username != "" {
		if err := conn.Login(t.username, t.password); err != nil {
			return targetStoreError(err, t.Name(), "login")
		}
	}

	t.ensureRemoteDir(conn)

	file, err := os.Open(archivePath)
	if err != nil {
		return targetStoreError(err, t.Name(), "open_source")
	}
	defer file.Close()

	name := filepath.Base(archivePath)
	tempPath := path.Join(t.basePath, remoteTempPrefix+name)
	finalPath := path.Join(t.basePath, name)

	if err := conn.Stor(tempPath, file); err != nil {
		_ = conn.Delete(tempPath)
		return targetStoreError(err, t.Name(), "upload")
	}
	if err := conn.Rename(tempPath, finalPath); err != nil {
		_ = conn.Delete(tempPath)
		return targetStoreError(err, t.Name(), "rename")
	}

	if t.debug {
		t.logger.Debug("archive stored", "target", t.Name(),
			"host", t.host, "path", finalPath)
	}
	return nil
}

// ensureRemoteDir creates the base path one component at a time.
// MakeDir fails on components that already exist; a real permission
// problem resurfaces when the upload itself fails.
func (t *FTPTarget) ensureRemoteDir(conn *ftp.ServerConn) {
	if t.basePath == "" {
		return
	}
	var prefix string
	for _, part := range strings.Split(t.basePath, "/") {
		prefix = path.Join(prefix, part)
		_ = conn.MakeDir(prefix)
	}
}

// SFTPTarget uploads archives over SSH. Like the FTP target it is
// upload-only.
type SFTPTarget struct {
	host     string
	port     int
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
	debug    bool
	logger   *slog.Logger
}

func newSFTPTarget(settings map[string]any) (*SFTPTarget, error) {
	host := stringSetting(settings, "host", "")
	if host == "" {
		return nil, targetConfigError("sftp target: host is required")
	}
	username := stringSetting(settings, "username", "")
	if username == "" {
		return nil, targetConfigError("sftp target: username is required")
	}

	t := &SFTPTarget{
		host:     host,
		port:     intSetting(settings, "port", defaultSFTPPort),
		username: username,
		password: stringSetting(settings, "password", ""),
		keyFile:  stringSetting(settings, "keyfile", ""),
		basePath: strings.Trim(stringSetting(settings, "path", defaultRemotePath), "/"),
		timeout:  durationSetting(settings, "timeout", defaultStoreTimeout),
		debug:    boolSetting(settings, "debug"),
		logger:   getLoggerSafe("backup"),
	}
	if t.password == "" && t.keyFile == "" {
		return nil, targetConfigError("sftp target: password or keyfile is required")
	}
	return t, nil
}

func (t *SFTPTarget) Name() string { return "sftp" }

// sftpSession bundles the SFTP client with its underlying SSH
// connection so both are torn down together.
type sftpSession struct {
	client *sftp.Client
	conn   *ssh.Client
}

func (s *sftpSession) Close() {
	_ = s.client.Close()
	_ = s.conn.Close()
}

func (t *SFTPTarget) authMethods() ([]ssh.AuthMethod, error) {
	if t.keyFile != "" {
		key, err := os.ReadFile(t.keyFile)
		if err != nil {
			return nil, targetStoreError(err, t.Name(), "read_key_file")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, targetStoreError(err, t.Name(), "parse_private_key")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(t.password)}, nil
}

// connect dials in a goroutine so a stalled TCP handshake cannot
// outlive the caller's context.
func (t *SFTPTarget) connect(ctx context.Context) (*sftpSession, error) {
	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User: t.username,
		Auth: auth,
		// Host keys are not pinned; the transport trusts credentials
		// alone. Pair this target with a dedicated backup account.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106
		Timeout:         t.timeout,
	}

	type connResult struct {
		session *sftpSession
		err     error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, targetStoreError(err, t.Name(), "ssh_dial")}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{nil, targetStoreError(err, t.Name(), "sftp_session")}
			return
		}
		resultChan <- connResult{&sftpSession{client: client, conn: sshConn}, nil}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-resultChan; result.session != nil {
				result.session.Close()
			}
		}()
		return nil, targetStoreError(ctx.Err(), t.Name(), "connect")
	case result := <-resultChan:
		return result.session, result.err
	}
}

func (t *SFTPTarget) Store(ctx context.Context, archivePath string) error {
	session, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.client.MkdirAll(t.basePath); err != nil {
		return targetStoreError(err, t.Name(), "make_dir")
	}

	src, err := os.Open(archivePath)
	if err != nil {
		return targetStoreError(err, t.Name(), "open_source")
	}
	defer src.Close()

	name := filepath.Base(archivePath)
	tempPath := path.Join(t.basePath, remoteTempPrefix+name)
	finalPath := path.Join(t.basePath, name)

	dst, err := session.client.Create(tempPath)
	if err != nil {
		return targetStoreError(err, t.Name(), "create_remote")
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = session.client.Remove(tempPath)
		return targetStoreError(err, t.Name(), "upload")
	}
	if err := dst.Close(); err != nil {
		_ = session.client.Remove(tempPath)
		return targetStoreError(err, t.Name(), "close_remote")
	}
	if err := session.client.Rename(tempPath, finalPath); err != nil {
		_ = session.client.Remove(tempPath)
		return targetStoreError(err, t.Name(), "rename")
	}

	if t.debug {
		t.logger.Debug("archive stored", "target", t.Name(),
			"host", t.host, "path", finalPath)
	}
	return nil
}
