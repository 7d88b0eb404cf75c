// Package storage resolves transfer filenames under a local folder and hands
// out sequential byte sources and sinks for them.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const DefaultFolder = "client_files"

var (
	ErrNotReadable = errors.New("file is absent or not readable")
	ErrNotWritable = errors.New("file exists and is not writable")
	ErrOutsideRoot = errors.New("path escapes the storage folder")
	ErrLocked      = errors.New("file is locked by another transfer")
)

// Source is read sequentially by a write transfer.
type Source interface {
	io.ReadCloser
	Size() int64
}

// Sink is appended to sequentially by a read transfer.
type Sink interface {
	io.WriteCloser
	Path() string
}

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultFolder
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve storage folder %q", root)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Resolve maps a transfer filename to a path inside the storage folder.
func (s *Store) Resolve(name string) (string, error) {
	path := filepath.Clean(filepath.Join(s.root, name))
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrOutsideRoot, "%q", name)
	}
	if path == s.root {
		return "", errors.Wrapf(ErrOutsideRoot, "%q names the folder itself", name)
	}
	return path, nil
}

func (s *Store) Exists(name string) (bool, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CanRead(name string) bool {
	path, err := s.Resolve(name)
	if err != nil {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return canAccess(path, accessRead)
}

// CanWrite reports whether name may be created or overwritten.
func (s *Store) CanWrite(name string) bool {
	path, err := s.Resolve(name)
	if err != nil {
		return false
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil || fi.IsDir() {
		return false
	}
	return canAccess(path, accessWrite)
}

func (s *Store) Open(name string) (Source, error) {
	if !s.CanRead(name) {
		return nil, errors.Wrapf(ErrNotReadable, "%q", name)
	}
	path, _ := s.Resolve(name)

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %q", name)
	}
	fi, err := file.Stat()
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "cannot stat %q", name), file.Close())
	}

	return &source{File: file, size: fi.Size()}, nil
}

// Create truncates or creates name and locks it against concurrent writers.
func (s *Store) Create(name string) (Sink, error) {
	if !s.CanWrite(name) {
		return nil, errors.Wrapf(ErrNotWritable, "%q", name)
	}
	path, _ := s.Resolve(name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create folder for %q", name)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot lock %q", name)
	}
	if !locked {
		return nil, errors.Wrapf(ErrLocked, "%q", name)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "cannot create %q", name), releaseLock(lock))
	}

	return &sink{File: file, lock: lock}, nil
}

func (s *Store) Remove(name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot remove %q", name)
	}
	return nil
}

type source struct {
	*os.File
	size int64
}

func (src *source) Size() int64 {
	return src.size
}

type sink struct {
	*os.File
	lock *flock.Flock
}

func (snk *sink) Path() string {
	return snk.File.Name()
}

func (snk *sink) Close() error {
	return multierr.Append(snk.File.Close(), releaseLock(snk.lock))
}

func releaseLock(lock *flock.Flock) error {
	err := lock.Unlock()
	if rmErr := os.Remove(lock.Path()); rmErr != nil && !os.IsNotExist(rmErr) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
