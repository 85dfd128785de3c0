package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/wire"
)

//go:generate mockgen -typed -package=history -destination=./mocks.go -source=./store.go

// Store persists the whole history as a single snapshot.
type Store interface {
	// Load returns the persisted records in log order. A missing snapshot is an empty history.
	Load() ([]*types.UpdateRecord, error)
	// Save replaces the persisted snapshot with records.
	Save(records []*types.UpdateRecord) error
}

const dirPerm = 0o700

// FileStore keeps the snapshot in one file that is fully rewritten on every save.
// The new content is written to a temporary file in the same directory and renamed
// over the previous snapshot, so readers never observe a partial file.
type FileStore struct {
	fs   afero.Fs
	path string
}

// StoreOpt configures a FileStore.
type StoreOpt func(*FileStore)

// WithFilesystem overrides the filesystem, the OS filesystem by default.
func WithFilesystem(fs afero.Fs) StoreOpt {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// NewFileStore returns a store persisting to path.
func NewFileStore(path string, opts ...StoreOpt) *FileStore {
	s := &FileStore{
		fs:   afero.NewOsFs(),
		path: path,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the snapshot file.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load() ([]*types.UpdateRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", s.path, err)
	}
	records, err := wire.DecodeHistory(data)
	if err != nil {
		return nil, fmt.Errorf("decode history %s: %w", s.path, err)
	}
	return records, nil
}

// Save implements Store.
func (s *FileStore) Save(records []*types.UpdateRecord) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create history dir %v: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path))
	if err != nil {
		return fmt.Errorf("%w: create tmp file", err)
	}
	defer func() {
		// no-op after a successful rename
		_ = s.fs.Remove(tmp.Name())
	}()
	w := bufio.NewWriterSize(tmp, 64<<10)
	if _, err := wire.EncodeHistoryTo(w, records); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush tmp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync tmp file", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close tmp file", err)
	}
	if err := s.fs.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: rename tmp file %v to %v", err, tmp.Name(), s.path)
	}
	return nil
}
