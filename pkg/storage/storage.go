package storage

import (
	"fmt"
	"path/filepath"

	"eupho-cam/pkg/storage/blob"
	"eupho-cam/pkg/storage/consts"
	"eupho-cam/pkg/storage/export"
	"eupho-cam/pkg/storage/prefs"
	"eupho-cam/pkg/storage/upload"
	"eupho-cam/pkg/storage/util"
)

// Storage is the on-disk layout under one root directory:
//
//	prefs.json
//	exports/  saved captures
//	uploads/  user overlays
//	blobs/    transient video data
type Storage struct {
	root string

	Prefs   *prefs.Prefs
	Exports *export.Dir
	Uploads *upload.Store
	Blobs   *blob.Store
}

func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storagePath can not be empty")
	}
	if err := util.MkdirAll(root); err != nil {
		return nil, err
	}
	s := &Storage{root: root}
	var err error
	if s.Prefs, err = prefs.Load(filepath.Join(root, consts.DefaultPrefsFile)); err != nil {
		return nil, err
	}
	if s.Exports, err = export.New(filepath.Join(root, consts.DefaultExportsDir), consts.MinFreeBytes); err != nil {
		return nil, err
	}
	if s.Uploads, err = upload.New(filepath.Join(root, consts.DefaultUploadsDir)); err != nil {
		return nil, err
	}
	if s.Blobs, err = blob.New(filepath.Join(root, consts.DefaultBlobsDir)); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) Close() error {
	return s.Blobs.Close()
}
