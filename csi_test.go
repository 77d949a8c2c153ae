package vicap

import (
	"testing"

	"github.com/visys/vicap/internal/vihw"
)

// stubDevice is a plain register store with none of the simulator's
// write-1-to-clear behavior, so tests can preload status registers.
type stubDevice struct {
	regs   map[regAddr]uint32
	writes []vihw.RegWrite
}

type regAddr struct {
	sp    vihw.Space
	index int
	addr  uint32
}

func newStubDevice() *stubDevice {
	return &stubDevice{regs: make(map[regAddr]uint32)}
}

func (d *stubDevice) Read(sp vihw.Space, index int, addr uint32) uint32 {
	return d.regs[regAddr{sp, index, addr}]
}

func (d *stubDevice) Write(sp vihw.Space, index int, addr uint32, val uint32) {
	d.regs[regAddr{sp, index, addr}] = val
	d.writes = append(d.writes, vihw.RegWrite{Space: sp, Index: index, Addr: addr, Value: val})
}

func TestCSIStartStreamingTwoLane(t *testing.T) {
	dev := newStubDevice()
	csi := newCSI(dev, NopCalibrator{}, false, 1)

	// odd port of brick 0 enables only the B-side PHY, preserving the
	// brick's other enable bit
	dev.Write(vihw.SpaceCSI, 0, vihw.RegCSIPhyCilCommand, vihw.CSIAPhyCilEnable)
	dev.writes = nil
	csi.StartStreaming(1)

	got := dev.Read(vihw.SpaceCSI, 0, vihw.RegCSIPhyCilCommand)
	if got != vihw.CSIAPhyCilEnable|vihw.CSIBPhyCilEnable {
		t.Errorf("PHY command = %#x, want both enables preserved", got)
	}

	// the pixel parser enable must be the last parser command
	var lastPP uint32
	for _, w := range dev.writes {
		if w.Space == vihw.SpacePP && w.Addr == vihw.RegPPCommand {
			lastPP = w.Value
		}
	}
	if lastPP&vihw.PPEnable == 0 {
		t.Errorf("final parser command %#x does not enable the parser", lastPP)
	}
}

func TestCSIStartStreamingFourLane(t *testing.T) {
	dev := newStubDevice()
	csi := newCSI(dev, NopCalibrator{}, false, 1)
	csi.SetPortLanes(2, 4)

	csi.StartStreaming(2)

	// 4-lane mode gangs both ports of brick 1 behind port A's clock
	if got := dev.Read(vihw.SpaceCIL, 2, vihw.RegCILPadConfig0); got != vihw.BrickClockA4X {
		t.Errorf("port A pad config = %#x, want %#x", got, vihw.BrickClockA4X)
	}
	if got := dev.Read(vihw.SpaceCSI, 1, vihw.RegCSIPhyCilCommand); got != vihw.CSIAPhyCilEnable|vihw.CSIBPhyCilEnable {
		t.Errorf("PHY command = %#x, want both bricks' PHYs enabled", got)
	}
	if got := dev.Read(vihw.SpacePP, 2, vihw.RegPPInputStreamControl) & 0x7; got != 3 {
		t.Errorf("input stream lane field = %d, want 3 for 4 lanes", got)
	}
}

func TestCSIErrorTriage(t *testing.T) {
	dev := newStubDevice()
	csi := newCSI(dev, NopCalibrator{}, false, 1)

	// one uncorrectable bit per register plus correctable noise that must
	// be ignored
	dev.Write(vihw.SpacePP, 0, vihw.RegPPStatus, vihw.PPStatusHeaderError|0x1)
	dev.Write(vihw.SpaceCIL, 0, vihw.RegCILStatus, vihw.CILStatusEscapeError|0x100)
	dev.Write(vihw.SpaceCIL, 0, vihw.RegCILXStatus, 0)

	got := csi.Error(0)
	want := vihw.PPStatusHeaderError | vihw.CILStatusEscapeError
	if got != want {
		t.Errorf("error triage = %#x, want %#x", got, want)
	}

	// every status register is written back in full to acknowledge it
	acked := 0
	for _, w := range dev.writes[3:] {
		switch {
		case w.Space == vihw.SpacePP && w.Addr == vihw.RegPPStatus && w.Value == vihw.PPStatusHeaderError|0x1:
			acked++
		case w.Space == vihw.SpaceCIL && w.Addr == vihw.RegCILStatus && w.Value == vihw.CILStatusEscapeError|0x100:
			acked++
		}
	}
	if acked != 2 {
		t.Errorf("%d status registers acknowledged, want 2", acked)
	}

	// a clean port reports nothing
	if got := csi.Error(1); got != 0 {
		t.Errorf("clean port reports %#x", got)
	}
}

func TestCSIErrorRecoverSequence(t *testing.T) {
	dev := newStubDevice()
	csi := newCSI(dev, NopCalibrator{}, false, 1)

	csi.ErrorRecover(0)

	find := func(match func(vihw.RegWrite) bool) int {
		for i, w := range dev.writes {
			if match(w) {
				return i
			}
		}
		return -1
	}
	iMask := find(func(w vihw.RegWrite) bool {
		return w.Space == vihw.SpaceTPG && w.Addr == vihw.RegTPGCtrl && w.Value == vihw.PGEnable
	})
	iHold := find(func(w vihw.RegWrite) bool {
		return w.Space == vihw.SpaceCIL && w.Addr == vihw.RegCILSensorReset && w.Value == 1
	})
	iRelease := find(func(w vihw.RegWrite) bool {
		return w.Space == vihw.SpaceCIL && w.Addr == vihw.RegCILSensorReset && w.Value == 0
	})
	iUnmask := find(func(w vihw.RegWrite) bool {
		return w.Space == vihw.SpaceTPG && w.Addr == vihw.RegTPGCtrl && w.Value == vihw.PGDisable
	})
	if iMask < 0 || iHold < 0 || iRelease < 0 || iUnmask < 0 {
		t.Fatalf("missing recovery writes: mask=%d hold=%d release=%d unmask=%d",
			iMask, iHold, iRelease, iUnmask)
	}
	if !(iMask < iHold && iHold < iRelease && iRelease < iUnmask) {
		t.Errorf("recovery writes out of order: mask=%d hold=%d release=%d unmask=%d",
			iMask, iHold, iRelease, iUnmask)
	}
}

func TestPadControl(t *testing.T) {
	csi := newCSI(newStubDevice(), NopCalibrator{}, false, 1)

	csi.PadControl([]int{0, 1}, true)
	if !csi.PadPowered(0) || !csi.PadPowered(1) || csi.PadPowered(2) {
		t.Errorf("pad state wrong after power up")
	}
	csi.PadControl([]int{0}, false)
	if csi.PadPowered(0) || !csi.PadPowered(1) {
		t.Errorf("pad state wrong after selective power down")
	}
	// out-of-range ports are ignored
	csi.PadControl([]int{-1, maxCSIPorts}, true)
	if csi.PadPowered(-1) || csi.PadPowered(maxCSIPorts) {
		t.Errorf("out-of-range port reported powered")
	}
}
