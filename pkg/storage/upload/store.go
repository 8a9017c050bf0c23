package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"eupho-cam/pkg/storage/consts"
	"eupho-cam/pkg/storage/util"
)

// Store keeps user supplied overlay images.
type Store struct {
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path can not be empty")
	}
	if err := util.MkdirAll(path); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// SaveUpload copies src into a new file and returns its path.
func (s *Store) SaveUpload(src io.Reader) (string, error) {
	dst := s.GetPath(uuid.NewString() + consts.DefaultImageExt)

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, consts.DefaultFilePerm)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err = io.Copy(out, src); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func (s *Store) GetPath(fileName string) string {
	return filepath.Join(s.path, fileName)
}
