// Package export writes finished captures as downloadable files.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"eupho-cam/pkg/storage/consts"
	"eupho-cam/pkg/storage/util"
	"eupho-cam/pkg/types"
)

var ErrNoSpace = errors.New("not enough free disk space")

type Dir struct {
	root    string
	minFree uint64
	free    func(path string) (uint64, error)
}

func New(root string, minFree uint64) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("root can not be empty")
	}
	if err := util.MkdirAll(root); err != nil {
		return nil, err
	}
	return &Dir{root: root, minFree: minFree, free: util.FreeBytes}, nil
}

func (d *Dir) Path() string {
	return d.root
}

// FileName is EuphoCam-<unix ms>.<ext>.
func FileName(at time.Time, ext string) string {
	return fmt.Sprintf("%s-%d.%s", consts.ExportPrefix, at.UnixMilli(), strings.TrimPrefix(ext, "."))
}

// Save writes src under the export name for at and returns the file name.
func (d *Dir) Save(at time.Time, ext string, src io.Reader) (string, error) {
	if d.minFree > 0 {
		free, err := d.free(d.root)
		if err != nil {
			return "", err
		}
		if free < d.minFree {
			return "", fmt.Errorf("%w: %s left", ErrNoSpace, humanize.Bytes(free))
		}
	}

	name := FileName(at, ext)
	out, err := os.OpenFile(filepath.Join(d.root, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, consts.DefaultFilePerm)
	for i := 1; errors.Is(err, os.ErrExist); i++ {
		name = fmt.Sprintf("%s-%d-%d.%s", consts.ExportPrefix, at.UnixMilli(), i, strings.TrimPrefix(ext, "."))
		out, err = os.OpenFile(filepath.Join(d.root, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, consts.DefaultFilePerm)
	}
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err = io.Copy(out, src); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}

	return name, nil
}

// List returns the exported files, newest first.
func (d *Dir) List() ([]types.File, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var res []types.File
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), consts.ExportPrefix+"-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.Bytes(uint64(info.Size())),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModTime.After(res[j].ModTime)
	})

	return res, nil
}

func (d *Dir) Open(name string) (*os.File, error) {
	p, err := util.Join(d.root, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (d *Dir) Remove(name string) error {
	p, err := util.Join(d.root, name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
