// Package vihw provides access to the video-input DMA engine and CSI
// receiver registers, either through the UIO character devices exported by
// the kernel or through an in-process simulation used for testing.
package vihw

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Space selects one of the register address spaces of the capture path.
type Space int

// The address spaces. VI is the DMA-engine global space, VICSI the per-port
// image registers, PP/CIL/TPG the per-port receiver spaces, and CSI the
// per-brick (port pair) common space.
const (
	SpaceVI Space = iota
	SpaceVICSI
	SpacePP
	SpaceCIL
	SpaceTPG
	SpaceCSI
)

func (s Space) String() string {
	switch s {
	case SpaceVI:
		return "vi"
	case SpaceVICSI:
		return "vi-csi"
	case SpacePP:
		return "pp"
	case SpaceCIL:
		return "cil"
	case SpaceTPG:
		return "tpg"
	case SpaceCSI:
		return "csi"
	}
	return "unknown"
}

// Device is the register access interface shared by the real UIO-backed
// hardware and the simulator. Register accesses do not fail individually;
// a UIODevice records the first I/O problem for retrieval with Err.
type Device interface {
	Read(sp Space, index int, addr uint32) uint32
	Write(sp Space, index int, addr uint32, val uint32)
}

// Syncpointer wraps the hardware completion counters ("syncpoints"). One
// counter exists per physical port; id is the counter identity allocated at
// channel init.
type Syncpointer interface {
	// IncrMax requests incrs future increments of the counter and returns
	// the threshold value that signals their completion.
	IncrMax(id int, incrs uint32) uint32
	// WaitTimeout blocks until the counter reaches thresh or the timeout
	// elapses, returning the completion time. A timeout returns
	// ErrSyncptTimeout; it is never retried internally.
	WaitTimeout(id int, thresh uint32, timeout time.Duration) (time.Time, error)
	// SetMinEqMax forces the counter to its last requested maximum so no
	// stale waiter can block on a threshold that will never be reached.
	SetMinEqMax(id int)
}

// Per-space layout of the flat UIO register window.
var spaceLayout = map[Space]struct {
	base   int64
	stride int64
}{
	SpaceVI:    {0x0000, 0},
	SpaceVICSI: {0x0100, 0x100},
	SpacePP:    {0x0800, 0x100},
	SpaceCIL:   {0x0c00, 0x100},
	SpaceTPG:   {0x1000, 0x100},
	SpaceCSI:   {0x1400, 0x100},
}

// UIODevice accesses registers through the vi-uio character device. All
// accesses are 32-bit; the device file presents the VI and CSI register
// blocks as one flat window.
type UIODevice struct {
	file    *os.File
	devnum  int
	lastErr error
}

// EnumerateDevices returns the device numbers for which /dev/vi-uio%d
// exists and is a device file.
func EnumerateDevices() (devices []int, err error) {
	const maxDevices = 8
	for id := 0; id < maxDevices; id++ {
		info, err := os.Stat(fmt.Sprintf("/dev/vi-uio%d", id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return devices, err
		}
		if (info.Mode() & os.ModeDevice) == 0 {
			continue
		}
		devices = append(devices, id)
	}
	return devices, nil
}

// OpenUIODevice opens /dev/vi-uio%d for register access.
func OpenUIODevice(devnum int) (*UIODevice, error) {
	fname := fmt.Sprintf("/dev/vi-uio%d", devnum)
	file, err := os.OpenFile(fname, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &UIODevice{file: file, devnum: devnum}, nil
}

// Close releases the underlying device file.
func (dev *UIODevice) Close() error {
	if dev.file == nil {
		return nil
	}
	err := dev.file.Close()
	dev.file = nil
	return err
}

func (dev *UIODevice) String() string {
	return fmt.Sprintf("vi-uio%d (err: %v)", dev.devnum, dev.lastErr)
}

// Err returns the first register access problem seen, if any.
func (dev *UIODevice) Err() error {
	return dev.lastErr
}

func (dev *UIODevice) offset(sp Space, index int, addr uint32) int64 {
	layout := spaceLayout[sp]
	return layout.base + int64(index)*layout.stride + int64(addr)
}

// Read returns a 32-bit register in the given space.
func (dev *UIODevice) Read(sp Space, index int, addr uint32) uint32 {
	result := make([]byte, 4)
	n, err := dev.file.ReadAt(result, dev.offset(sp, index, addr))
	if n < 4 || err != nil {
		if dev.lastErr == nil {
			dev.lastErr = fmt.Errorf("could not read %v[%d] offset 0x%x: %v", sp, index, addr, err)
		}
		return 0
	}
	return binary.LittleEndian.Uint32(result)
}

// Write stores a 32-bit register in the given space.
func (dev *UIODevice) Write(sp Space, index int, addr uint32, val uint32) {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	n, err := dev.file.WriteAt(bytes, dev.offset(sp, index, addr))
	if n < 4 || err != nil {
		if dev.lastErr == nil {
			dev.lastErr = fmt.Errorf("could not write %v[%d] offset 0x%x value 0x%x: %v", sp, index, addr, val, err)
		}
	}
}
