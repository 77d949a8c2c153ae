package vihw

import (
	"errors"
	"sync"
	"time"
)

// ErrSyncptTimeout reports that a completion counter did not reach its
// threshold within the wait bound. It signals a capture-path problem, not a
// counter problem, and is handled by the channel error recovery.
var ErrSyncptTimeout = errors.New("syncpt wait timed out")

// Offsets of the syncpoint counter shadow registers in the UIO window.
const (
	regSyncptValueBase int64 = 0x1800
	regSyncptMaxBase   int64 = 0x1900
)

// UIOSyncpoints reads completion counters through the same UIO window as
// the registers. Waits poll the counter shadow register; the kernel driver
// updates it from the hardware interrupt.
type UIOSyncpoints struct {
	dev  *UIODevice
	mu   sync.Mutex
	maxs map[int]uint32
}

// NewUIOSyncpoints wraps dev's syncpoint counter window.
func NewUIOSyncpoints(dev *UIODevice) *UIOSyncpoints {
	return &UIOSyncpoints{dev: dev, maxs: make(map[int]uint32)}
}

func (sp *UIOSyncpoints) value(id int) uint32 {
	result := make([]byte, 4)
	offset := regSyncptValueBase + int64(id)*4
	if n, err := sp.dev.file.ReadAt(result, offset); n < 4 || err != nil {
		return 0
	}
	return uint32(result[0]) | uint32(result[1])<<8 | uint32(result[2])<<16 | uint32(result[3])<<24
}

// IncrMax requests incrs future increments of counter id and returns the
// completion threshold.
func (sp *UIOSyncpoints) IncrMax(id int, incrs uint32) uint32 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.maxs[id] += incrs
	return sp.maxs[id]
}

// WaitTimeout polls counter id until it reaches thresh or timeout elapses.
func (sp *UIOSyncpoints) WaitTimeout(id int, thresh uint32, timeout time.Duration) (time.Time, error) {
	deadline := time.Now().Add(timeout)
	for {
		if v := sp.value(id); int32(v-thresh) >= 0 {
			return time.Now(), nil
		}
		if time.Now().After(deadline) {
			return time.Time{}, ErrSyncptTimeout
		}
		time.Sleep(200 * time.Microsecond)
	}
}

// SetMinEqMax forces counter id to its last requested maximum.
func (sp *UIOSyncpoints) SetMinEqMax(id int) {
	sp.mu.Lock()
	max := sp.maxs[id]
	sp.mu.Unlock()
	bytes := []byte{byte(max), byte(max >> 8), byte(max >> 16), byte(max >> 24)}
	sp.dev.file.WriteAt(bytes, regSyncptValueBase+int64(id)*4)
}
