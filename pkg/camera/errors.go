package camera

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"eupho-cam/pkg/types"
)

var ErrNoDevice = errors.New("no camera configured for this facing mode")

// Classify maps an acquisition failure onto the user facing error kinds.
func Classify(err error) *types.Error {
	if err == nil {
		return nil
	}
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return types.NewError(types.KindPermissionDenied, err)
	case errors.Is(err, ErrNoDevice),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO):
		return types.NewError(types.KindDeviceNotFound, err)
	}

	// go4vl formats some errno values into plain strings
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "permission denied"), strings.Contains(s, "operation not permitted"):
		return types.NewError(types.KindPermissionDenied, err)
	case strings.Contains(s, "no such file"), strings.Contains(s, "no such device"):
		return types.NewError(types.KindDeviceNotFound, err)
	}

	return types.NewError(types.KindGeneric, err)
}
