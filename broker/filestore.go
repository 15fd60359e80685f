package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore implements SessionStore using one JSON file per client under a
// shared base directory, for brokers that need sessions to survive a
// process restart.
//
// File organization:
//
//	baseDir/
//	  clientID.json
//
// All operations are synchronous; for high-throughput brokers a batching
// implementation of SessionStore can be substituted instead.
type FileStore struct {
	mu          sync.Mutex
	dir         string
	permissions os.FileMode
	logger      *slog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFilePermissions sets the file permissions for stored session files.
// Default is 0644.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(f *FileStore) { f.permissions = perm }
}

// WithFileStoreLogger overrides the FileStore's logger, used to report
// best-effort Save/Delete failures that SessionStore's interface has no way
// to return directly.
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(f *FileStore) { f.logger = logger }
}

// NewFileStore creates a file-based session store rooted at baseDir,
// creating the directory if it does not already exist.
func NewFileStore(baseDir string, opts ...FileStoreOption) (*FileStore, error) {
	f := &FileStore{
		dir:         baseDir,
		permissions: 0644,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(f.dir, f.permissions|0111); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}

	return f, nil
}

func (f *FileStore) pathFor(clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("clientID cannot be empty")
	}
	if strings.Contains(clientID, "..") || strings.Contains(clientID, string(filepath.Separator)) {
		return "", fmt.Errorf("clientID contains invalid characters")
	}
	return filepath.Join(f.dir, clientID+".json"), nil
}

// Load implements SessionStore.
func (f *FileStore) Load(clientID string) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.pathFor(clientID)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false
	}
	return &sess, true
}

// Save implements SessionStore. Failures are logged rather than returned,
// since SessionStore.Save is best-effort by contract.
func (f *FileStore) Save(sess *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.pathFor(sess.ClientID)
	if err != nil {
		f.logger.Warn("save session", "client_id", sess.ClientID, "error", err)
		return
	}

	data, err := json.Marshal(sess)
	if err != nil {
		f.logger.Warn("marshal session", "client_id", sess.ClientID, "error", err)
		return
	}

	if err := os.WriteFile(path, data, f.permissions); err != nil {
		f.logger.Warn("write session file", "client_id", sess.ClientID, "error", err)
	}
}

// Delete implements SessionStore.
func (f *FileStore) Delete(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.pathFor(clientID)
	if err != nil {
		f.logger.Warn("delete session", "client_id", clientID, "error", err)
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("delete session file", "client_id", clientID, "error", err)
	}
}

var _ SessionStore = (*FileStore)(nil)
