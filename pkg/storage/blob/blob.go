// Package blob keeps transient capture data on disk until it is released.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"eupho-cam/pkg/storage/consts"
	"eupho-cam/pkg/storage/util"
)

var ErrNotFound = errors.New("blob not found")

type Store struct {
	dir string

	lock  sync.Mutex
	sizes map[string]int64
}

// New opens dir and drops blobs left over from a previous run.
func New(dir string) (*Store, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := util.MkdirAll(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir, sizes: map[string]int64{}}, nil
}

func (s *Store) Put(data []byte) (string, error) {
	id := uuid.NewString()
	if err := os.WriteFile(s.path(id), data, consts.DefaultFilePerm); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	s.lock.Lock()
	s.sizes[id] = int64(len(data))
	s.lock.Unlock()

	return id, nil
}

func (s *Store) Open(id string) (io.ReadSeekCloser, int64, error) {
	s.lock.Lock()
	size, ok := s.sizes[id]
	s.lock.Unlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, 0, err
	}
	return f, size, nil
}

// Release deletes the blob. Unknown ids are ignored.
func (s *Store) Release(id string) error {
	s.lock.Lock()
	_, ok := s.sizes[id]
	delete(s.sizes, id)
	s.lock.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sizes)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id)
}

// Close drops every blob.
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sizes = map[string]int64{}
	return os.RemoveAll(s.dir)
}
