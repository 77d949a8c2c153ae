package vihw

import (
	"sync"
	"time"
)

// RegWrite is one entry of the SimDevice ordered write log.
type RegWrite struct {
	Space Space
	Index int
	Addr  uint32
	Value uint32
}

type regKey struct {
	space Space
	index int
	addr  uint32
}

// Status registers with write-1-to-clear semantics.
var w1cRegisters = map[regKey]bool{}

func init() {
	for _, k := range []regKey{
		{SpaceVI, 0, RegVIIncrSyncptError},
		{SpaceVICSI, -1, RegErrorStatus},
		{SpacePP, -1, RegPPStatus},
		{SpaceCIL, -1, RegCILStatus},
		{SpaceCIL, -1, RegCILXStatus},
	} {
		w1cRegisters[k] = true
	}
}

// SimDevice is a drop in replacement for the UIO-backed hardware
// (implements Device and Syncpointer) that requires no hardware, for
// testing. It keeps all registers in maps, records every register write in
// order so tests can check sequencing, and models the syncpt increment
// FIFO: arming queues an entry, and a frame event consumes one queued entry
// per condition. With autoFire enabled, writing the single-shot register
// fires the port's frame-start and memory-write-ack events immediately, as
// a test pattern generator would with zero frame latency.
type SimDevice struct {
	mu       sync.Mutex
	regs     map[regKey]uint32
	writes   []RegWrite
	values   map[int]uint32
	maxs     map[int]uint32
	armed    map[uint32][]int // condition code -> queued syncpt ids
	changed  chan struct{}
	autoFire bool
	// fire events only for the first failAfter frames per port; <0 fires forever
	failAfter int
	fired     map[int]int
}

// NewSimDevice returns a simulated device. With autoFire, each single-shot
// trigger immediately completes the armed conditions for that port.
func NewSimDevice(autoFire bool) *SimDevice {
	return &SimDevice{
		regs:      make(map[regKey]uint32),
		values:    make(map[int]uint32),
		maxs:      make(map[int]uint32),
		armed:     make(map[uint32][]int),
		changed:   make(chan struct{}),
		autoFire:  autoFire,
		failAfter: -1,
		fired:     make(map[int]int),
	}
}

// Read returns the current value of a register.
func (d *SimDevice) Read(sp Space, index int, addr uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[regKey{sp, index, addr}]
}

// Write stores a register, logs the write, and reacts to the registers with
// side effects (syncpt arming and single-shot trigger).
func (d *SimDevice) Write(sp Space, index int, addr uint32, val uint32) {
	d.mu.Lock()
	d.writes = append(d.writes, RegWrite{sp, index, addr, val})

	key := regKey{sp, index, addr}
	wkey := key
	if sp != SpaceVI {
		wkey.index = -1
	}
	if w1cRegisters[wkey] {
		d.regs[key] &^= val
	} else {
		d.regs[key] = val
	}

	if sp == SpaceVI && addr == RegVIIncrSyncpt {
		cond := val >> SyncptCondShift
		id := int(val & 0xff)
		d.armed[cond] = append(d.armed[cond], id)
	}

	fire := sp == SpaceVICSI && addr == RegSingleShot &&
		val == SingleShotCapture && d.autoFire
	d.mu.Unlock()

	if fire {
		d.FireFrame(index)
	}
}

// FireFrame simulates one hardware frame on a port: the frame-start event
// followed by the memory-write acknowledge. Each event consumes at most one
// queued syncpt increment for its condition.
func (d *SimDevice) FireFrame(port int) {
	d.mu.Lock()
	if d.failAfter >= 0 && d.fired[port] >= d.failAfter {
		d.mu.Unlock()
		return
	}
	d.fired[port]++
	d.fireLocked(FrameStartCond(port))
	d.fireLocked(MWAckCond(port))
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()
}

// FireEvent fires a single condition, for tests that need to drive the
// frame-start and write-ack events separately.
func (d *SimDevice) FireEvent(cond uint32) {
	d.mu.Lock()
	d.fireLocked(cond)
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()
}

func (d *SimDevice) fireLocked(cond uint32) {
	queue := d.armed[cond]
	if len(queue) == 0 {
		// event with nothing armed is lost, like real hardware
		return
	}
	id := queue[0]
	d.armed[cond] = queue[1:]
	d.values[id]++
}

// FailAfter stops firing events on every port after n frames, to provoke a
// completion timeout. Negative n fires forever.
func (d *SimDevice) FailAfter(n int) {
	d.mu.Lock()
	d.failAfter = n
	d.mu.Unlock()
}

// InjectCSIError sets error status bits on a port, observed by the next
// error status read and cleared by its write-back.
func (d *SimDevice) InjectCSIError(port int, bits uint32) {
	d.mu.Lock()
	d.regs[regKey{SpaceVICSI, port, RegErrorStatus}] |= bits
	d.mu.Unlock()
}

// InjectSyncptError sets bits in the VI syncpt error register, as the
// hardware does when an armed condition is consumed into an error state.
func (d *SimDevice) InjectSyncptError(mask uint32) {
	d.mu.Lock()
	d.regs[regKey{SpaceVI, 0, RegVIIncrSyncptError}] |= mask
	d.mu.Unlock()
}

// Writes returns a copy of the ordered register write log.
func (d *SimDevice) Writes() []RegWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RegWrite, len(d.writes))
	copy(out, d.writes)
	return out
}

// ClearWrites discards the write log.
func (d *SimDevice) ClearWrites() {
	d.mu.Lock()
	d.writes = nil
	d.mu.Unlock()
}

// PendingArms returns how many increment requests are queued for a
// condition, so tests can check the FIFO drain bookkeeping.
func (d *SimDevice) PendingArms(cond uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.armed[cond])
}

// IncrMax requests incrs future increments of counter id and returns the
// completion threshold.
func (d *SimDevice) IncrMax(id int, incrs uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxs[id] += incrs
	return d.maxs[id]
}

// WaitTimeout blocks until counter id reaches thresh or timeout elapses.
func (d *SimDevice) WaitTimeout(id int, thresh uint32, timeout time.Duration) (time.Time, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		value := d.values[id]
		ch := d.changed
		d.mu.Unlock()
		if int32(value-thresh) >= 0 {
			return time.Now(), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Time{}, ErrSyncptTimeout
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			// one final check; the event may have landed at the wire
			d.mu.Lock()
			value = d.values[id]
			d.mu.Unlock()
			if int32(value-thresh) >= 0 {
				return time.Now(), nil
			}
			return time.Time{}, ErrSyncptTimeout
		}
	}
}

// SetMinEqMax forces counter id to its last requested maximum. Queued
// increment requests are left in place; the channel compensates for them
// through its FIFO backlog bookkeeping.
func (d *SimDevice) SetMinEqMax(id int) {
	d.mu.Lock()
	d.values[id] = d.maxs[id]
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()
}

// Value returns the current counter value, for tests.
func (d *SimDevice) Value(id int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[id]
}
