package vihw

import (
	"errors"
	"testing"
	"time"
)

func TestSimWriteOneToClear(t *testing.T) {
	d := NewSimDevice(false)

	d.InjectCSIError(0, 0x4001)
	if got := d.Read(SpaceVICSI, 0, RegErrorStatus); got != 0x4001 {
		t.Fatalf("injected error status reads %#x, want 0x4001", got)
	}

	// writing the value back clears exactly those bits
	d.Write(SpaceVICSI, 0, RegErrorStatus, 0x4000)
	if got := d.Read(SpaceVICSI, 0, RegErrorStatus); got != 0x0001 {
		t.Errorf("error status after partial clear is %#x, want 0x0001", got)
	}
	d.Write(SpaceVICSI, 0, RegErrorStatus, 0xFFFFFFFF)
	if got := d.Read(SpaceVICSI, 0, RegErrorStatus); got != 0 {
		t.Errorf("error status after full clear is %#x, want 0", got)
	}

	// ordinary registers keep the written value
	d.Write(SpaceVICSI, 0, RegImageDT, 43)
	if got := d.Read(SpaceVICSI, 0, RegImageDT); got != 43 {
		t.Errorf("image DT reads %d, want 43", got)
	}
}

func TestSimSyncptFIFO(t *testing.T) {
	d := NewSimDevice(false)
	const id = 3
	cond := FrameStartCond(0)

	thresh := d.IncrMax(id, 1)
	d.Write(SpaceVI, 0, RegVIIncrSyncpt, SyncptArm(cond, id))
	if got := d.PendingArms(cond); got != 1 {
		t.Fatalf("%d arms pending, want 1", got)
	}

	// an event with nothing armed for its condition is lost
	d.FireEvent(MWAckCond(0))
	if got := d.Value(id); got != 0 {
		t.Errorf("counter moved to %d on an unarmed condition", got)
	}

	d.FireEvent(cond)
	if got := d.Value(id); got != thresh {
		t.Errorf("counter is %d after the event, want %d", got, thresh)
	}
	if got := d.PendingArms(cond); got != 0 {
		t.Errorf("%d arms pending after the event, want 0", got)
	}

	// a second event is lost too: one queued arm, one increment
	d.FireEvent(cond)
	if got := d.Value(id); got != thresh {
		t.Errorf("counter is %d after a spurious event, want %d", got, thresh)
	}
}

func TestSimSetMinEqMaxKeepsArms(t *testing.T) {
	d := NewSimDevice(false)
	const id = 1
	cond := FrameStartCond(0)

	d.IncrMax(id, 1)
	d.Write(SpaceVI, 0, RegVIIncrSyncpt, SyncptArm(cond, id))
	d.SetMinEqMax(id)

	if got := d.Value(id); got != 1 {
		t.Errorf("counter is %d after SetMinEqMax, want 1", got)
	}
	// the queued increment survives: hardware's FIFO does not forget it
	if got := d.PendingArms(cond); got != 1 {
		t.Errorf("%d arms pending after SetMinEqMax, want 1", got)
	}
}

func TestSimWaitTimeout(t *testing.T) {
	d := NewSimDevice(false)
	const id = 0

	thresh := d.IncrMax(id, 1)
	if _, err := d.WaitTimeout(id, thresh, 10*time.Millisecond); !errors.Is(err, ErrSyncptTimeout) {
		t.Errorf("wait on an unfired counter returned %v, want %v", err, ErrSyncptTimeout)
	}

	cond := FrameStartCond(1)
	d.Write(SpaceVI, 0, RegVIIncrSyncpt, SyncptArm(cond, id))
	go func() {
		time.Sleep(2 * time.Millisecond)
		d.FireEvent(cond)
	}()
	if _, err := d.WaitTimeout(id, thresh, time.Second); err != nil {
		t.Errorf("wait failed after the event fired: %v", err)
	}
}

func TestSimAutoFire(t *testing.T) {
	d := NewSimDevice(true)
	const id = 2

	thresh := d.IncrMax(id, 1)
	d.Write(SpaceVI, 0, RegVIIncrSyncpt, SyncptArm(FrameStartCond(0), id))
	d.Write(SpaceVICSI, 0, RegSingleShot, SingleShotCapture)
	if got := d.Value(id); got != thresh {
		t.Errorf("counter is %d after single shot, want %d", got, thresh)
	}

	// FailAfter stops the port from producing frames
	d.FailAfter(1)
	thresh = d.IncrMax(id, 1)
	d.Write(SpaceVI, 0, RegVIIncrSyncpt, SyncptArm(FrameStartCond(0), id))
	d.Write(SpaceVICSI, 0, RegSingleShot, SingleShotCapture)
	if _, err := d.WaitTimeout(id, thresh, 10*time.Millisecond); !errors.Is(err, ErrSyncptTimeout) {
		t.Errorf("wait after FailAfter returned %v, want %v", err, ErrSyncptTimeout)
	}
}

func TestSimWriteLog(t *testing.T) {
	d := NewSimDevice(false)
	d.Write(SpaceVI, 0, RegVICGCtrl, CGCtrlDisable)
	d.Write(SpacePP, 1, RegPPCommand, PPDisable)

	w := d.Writes()
	if len(w) != 2 {
		t.Fatalf("write log holds %d entries, want 2", len(w))
	}
	if w[0].Space != SpaceVI || w[0].Addr != RegVICGCtrl {
		t.Errorf("first write logged as %v", w[0])
	}
	if w[1].Space != SpacePP || w[1].Index != 1 {
		t.Errorf("second write logged as %v", w[1])
	}

	d.ClearWrites()
	if len(d.Writes()) != 0 {
		t.Errorf("write log not empty after clear")
	}
}
