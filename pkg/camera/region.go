package camera

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"
)

// UVC 1.5 region of interest controls (V4L2_CID_USER_UVC_BASE + 1, + 2).
const (
	CtrlRegionOfInterestRect v4l2.CtrlID = 0x00981ae1
	CtrlRegionOfInterestAuto v4l2.CtrlID = 0x00981ae2
)

// region of interest auto bitmask
const roiAutoFocus v4l2.CtrlValue = 1 << 3

// focusRegionDivisor sets the focus region to 1/8 of the frame on each axis.
const focusRegionDivisor = 8

// focusRegion centres a rectangle on p, scaled to the frame and kept inside it.
func focusRegion(p Point, s TrackSettings) v4l2.Rect {
	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		return v4l2.Rect{}
	}
	rw := max(w/focusRegionDivisor, 1)
	rh := max(h/focusRegionDivisor, 1)
	cx := int(math.Round(clampUnit(p.X) * float64(w)))
	cy := int(math.Round(clampUnit(p.Y) * float64(h)))
	left := min(max(cx-rw/2, 0), w-rw)
	top := min(max(cy-rh/2, 0), h-rh)

	return v4l2.Rect{Left: int32(left), Top: int32(top), Width: uint32(rw), Height: uint32(rh)}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

func hasRegionControl(fd uintptr) bool {
	_, err := v4l2.QueryExtControlInfo(fd, CtrlRegionOfInterestRect)
	return err == nil
}

// v4l2_ext_controls
type extControls struct {
	which    uint32
	count    uint32
	errorIdx uint32
	request  int32
	reserved uint32
	controls uintptr
}

// v4l2_ext_control is packed: id, size, reserved2, then an 8 byte union.
type extControl [20]byte

// setRectControl writes a V4L2_CTRL_TYPE_RECT control through VIDIOC_S_EXT_CTRLS.
func setRectControl(fd uintptr, id v4l2.CtrlID, r v4l2.Rect) error {
	rect := new(v4l2.Rect)
	*rect = r
	ctrl := new(extControl)
	binary.LittleEndian.PutUint32(ctrl[0:], uint32(id))
	binary.LittleEndian.PutUint32(ctrl[4:], uint32(unsafe.Sizeof(*rect)))
	binary.LittleEndian.PutUint64(ctrl[12:], uint64(uintptr(unsafe.Pointer(rect))))

	var pinner runtime.Pinner
	pinner.Pin(rect)
	pinner.Pin(ctrl)
	defer pinner.Unpin()

	ctrls := extControls{count: 1, controls: uintptr(unsafe.Pointer(ctrl))}
	req := iowr('V', 72, unsafe.Sizeof(ctrls))
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&ctrls))); errno != 0 {
		return fmt.Errorf("set rect ctrl(%d): %w", id, errno)
	}

	return nil
}

func iowr(typ, nr, size uintptr) uintptr {
	return 3<<30 | size<<16 | typ<<8 | nr
}
