// Package prefs persists small user preferences as a JSON object.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"eupho-cam/pkg/storage/consts"
	"eupho-cam/pkg/types"
)

const keyPhotoFormat = "photoFormat"

type Prefs struct {
	path string

	lock   sync.Mutex
	values map[string]string
}

// Load reads path, starting empty when it does not exist yet.
func Load(path string) (*Prefs, error) {
	p := &Prefs{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs err: %w", err)
	}
	if err = json.Unmarshal(data, &p.values); err != nil {
		return nil, fmt.Errorf("unmarshal prefs err: %w", err)
	}

	return p, nil
}

func (p *Prefs) Get(key string) (string, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *Prefs) Set(key, value string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.values[key] = value
	return p.dump()
}

func (p *Prefs) dump() error {
	data, err := json.Marshal(p.values)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err = os.WriteFile(tmp, data, consts.DefaultFilePerm); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// PhotoFormat returns the stored format, png when unset or unknown.
func (p *Prefs) PhotoFormat() types.PhotoFormat {
	v, _ := p.Get(keyPhotoFormat)
	f, err := types.ParsePhotoFormat(v)
	if err != nil {
		return types.PhotoPNG
	}
	return f
}

func (p *Prefs) SetPhotoFormat(f types.PhotoFormat) error {
	if _, err := types.ParsePhotoFormat(string(f)); err != nil {
		return err
	}
	return p.Set(keyPhotoFormat, string(f))
}
