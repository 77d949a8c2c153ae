package vicap

import (
	"time"

	"github.com/visys/vicap/internal/vihw"
)

// maxCSIPorts is the number of serial receiver ports: three bricks of two
// ports each. A brick's 4-lane interface serves one camera on 4 lanes or
// two cameras on 2 lanes each.
const maxCSIPorts = 6

// Calibrator runs the analog pad calibration for the receiver bricks.
// Calibration touches receiver-wide registers, so callers serialize it.
type Calibrator interface {
	BiasPadEnable()
	BiasPadDisable()
	Calibrate(ports []int, lanes int) error
}

// NopCalibrator satisfies Calibrator without touching hardware. Used with
// the test pattern generator and in tests.
type NopCalibrator struct{}

func (NopCalibrator) BiasPadEnable()  {}
func (NopCalibrator) BiasPadDisable() {}

func (NopCalibrator) Calibrate([]int, int) error { return nil }

// CSI drives the serial receiver front end: per-port pixel parser, PHY
// lane blocks and test pattern generator.
type CSI struct {
	dev vihw.Device
	cal Calibrator

	pgMode    bool
	pgPattern int // 1-based test pattern select

	lanes    [maxCSIPorts]int
	padPower [maxCSIPorts]bool
}

func newCSI(dev vihw.Device, cal Calibrator, pgMode bool, pgPattern int) *CSI {
	c := &CSI{dev: dev, cal: cal, pgMode: pgMode, pgPattern: pgPattern}
	for i := range c.lanes {
		c.lanes[i] = 2
	}
	return c
}

// SetPortLanes records how many PHY lanes the port's camera uses.
func (c *CSI) SetPortLanes(port, lanes int) {
	if port >= 0 && port < maxCSIPorts {
		c.lanes[port] = lanes
	}
}

// PadControl powers the receiver pads for the given ports up or down.
func (c *CSI) PadControl(ports []int, enable bool) {
	for _, p := range ports {
		if p >= 0 && p < maxCSIPorts {
			c.padPower[p] = enable
		}
	}
}

// PadPowered reports whether the port's pads are powered.
func (c *CSI) PadPowered(port int) bool {
	if port < 0 || port >= maxCSIPorts {
		return false
	}
	return c.padPower[port]
}

// TPGStart programs the port's test pattern generator and starts it.
func (c *CSI) TPGStart(port int) {
	dev := c.dev
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGCtrl,
		uint32(c.pgPattern-1)<<vihw.PGModeOffset|vihw.PGEnable)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGPhase, 0x0)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGRedFreq,
		0x10<<vihw.PGVertInitFreqOffset|0x10<<vihw.PGHorInitFreqOffset)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGRedFreqRate, 0x0)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGGreenFreq,
		0x10<<vihw.PGVertInitFreqOffset|0x10<<vihw.PGHorInitFreqOffset)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGGreenFreqRate, 0x0)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGBlueFreq,
		0x10<<vihw.PGVertInitFreqOffset|0x10<<vihw.PGHorInitFreqOffset)
	dev.Write(vihw.SpaceTPG, port, vihw.RegTPGBlueFreqRate, 0x0)
}

// StartStreaming brings up the port's PHY and pixel parser. The parser is
// reset, configured and enabled last so no partial state can parse data.
func (c *CSI) StartStreaming(port int) {
	dev := c.dev
	brick := port >> 1

	dev.Write(vihw.SpaceCSI, brick, vihw.RegCSIClkenOverride, 0x0)

	// clean up status
	dev.Write(vihw.SpacePP, port, vihw.RegPPStatus, 0xFFFFFFFF)
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILStatus, 0xFFFFFFFF)
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILXStatus, 0xFFFFFFFF)

	dev.Write(vihw.SpaceCIL, port, vihw.RegCILInterruptMask, 0x0)

	// CIL PHY setup
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILPadConfig0, 0x0)
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILPHYControl, 0xA)

	if c.lanes[port] == 4 {
		// 4-lane mode gangs both ports of the brick behind port A's clock
		portA := brick << 1
		portB := portA + 1
		dev.Write(vihw.SpaceCIL, portA, vihw.RegCILPadConfig0, vihw.BrickClockA4X)
		dev.Write(vihw.SpaceCIL, portB, vihw.RegCILPadConfig0, 0x0)
		dev.Write(vihw.SpaceCIL, portB, vihw.RegCILInterruptMask, 0x0)
		dev.Write(vihw.SpaceCIL, portA, vihw.RegCILPHYControl, 0xA)
		dev.Write(vihw.SpaceCIL, portB, vihw.RegCILPHYControl, 0xA)
		dev.Write(vihw.SpaceCSI, brick, vihw.RegCSIPhyCilCommand,
			vihw.CSIAPhyCilEnable|vihw.CSIBPhyCilEnable)
	} else {
		val := dev.Read(vihw.SpaceCSI, brick, vihw.RegCSIPhyCilCommand)
		portA := brick << 1
		dev.Write(vihw.SpaceCIL, portA, vihw.RegCILPadConfig0, 0x0)
		if port&1 == 0 {
			val |= vihw.CSIAPhyCilEnable
		} else {
			val |= vihw.CSIBPhyCilEnable
		}
		dev.Write(vihw.SpaceCSI, brick, vihw.RegCSIPhyCilCommand, val)
	}

	// pixel parser setup
	dev.Write(vihw.SpacePP, port, vihw.RegPPCommand,
		0xF<<vihw.PPStartMarkerFrameMaxOffset|vihw.PPSingleShotEnable|vihw.PPReset)
	dev.Write(vihw.SpacePP, port, vihw.RegPPInterruptMask, 0x0)
	dev.Write(vihw.SpacePP, port, vihw.RegPPControl0,
		vihw.PPPacketHeaderSent|
			vihw.PPDataIdentifierEnable|
			vihw.PPWordCountSelectHeader|
			vihw.PPCRCCheckEnable|vihw.PPWCCheck|
			vihw.PPOutputFormatStore|vihw.PPPadLineNopad|
			vihw.PPHeaderECDisable|vihw.PPPadFrameNopad|
			uint32(port&1))
	dev.Write(vihw.SpacePP, port, vihw.RegPPControl1,
		0x1<<vihw.PPTopFieldFrameOffset|0x1<<vihw.PPTopFieldFrameMaskOffset)
	dev.Write(vihw.SpacePP, port, vihw.RegPPGap, 0x14<<vihw.PPFrameMinGapOffset)
	dev.Write(vihw.SpacePP, port, vihw.RegPPExpectedFrame, 0x0)
	dev.Write(vihw.SpacePP, port, vihw.RegPPInputStreamControl,
		0x3f<<vihw.SkipPacketThresholdOffset|uint32(c.lanes[port]-1))

	dev.Write(vihw.SpacePP, port, vihw.RegPPCommand,
		0xF<<vihw.PPStartMarkerFrameMaxOffset|vihw.PPSingleShotEnable|vihw.PPEnable)
}

// StopStreaming disables the port's pixel parser, and its pattern
// generator when that is the source.
func (c *CSI) StopStreaming(port int) {
	if c.pgMode {
		c.dev.Write(vihw.SpaceTPG, port, vihw.RegTPGCtrl, vihw.PGDisable)
	}
	c.dev.Write(vihw.SpacePP, port, vihw.RegPPCommand,
		0xF<<vihw.PPStartMarkerFrameMaxOffset|vihw.PPDisable)
}

// Error reads and clears the port's receiver status registers, returning
// only the uncorrectable error bits. Correctable errors are left to
// hardware and ignored here.
func (c *CSI) Error(port int) uint32 {
	dev := c.dev
	var errVal uint32

	val := dev.Read(vihw.SpacePP, port, vihw.RegPPStatus)
	errVal |= val & vihw.PPStatusHeaderError
	dev.Write(vihw.SpacePP, port, vihw.RegPPStatus, val)

	val = dev.Read(vihw.SpaceCIL, port, vihw.RegCILStatus)
	errVal |= val & vihw.CILStatusEscapeError
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILStatus, val)

	val = dev.Read(vihw.SpaceCIL, port, vihw.RegCILXStatus)
	errVal |= val & vihw.CILXStatusLaneErrors
	dev.Write(vihw.SpaceCIL, port, vihw.RegCILXStatus, val)

	return errVal
}

// Status logs the port's raw receiver status for debugging. It does not
// clear anything.
func (c *CSI) Status(port int) {
	dev := c.dev
	ProblemLogger.Printf("csi port %d: pixel parser status %#010x", port,
		dev.Read(vihw.SpacePP, port, vihw.RegPPStatus))
	ProblemLogger.Printf("csi port %d: cil status %#010x", port,
		dev.Read(vihw.SpaceCIL, port, vihw.RegCILStatus))
	ProblemLogger.Printf("csi port %d: cilx status %#010x", port,
		dev.Read(vihw.SpaceCIL, port, vihw.RegCILXStatus))
}

// ErrorRecover resets the port's serial front end: sensor reset and status
// reset are held while the receive FIFO drains, with the pattern generator
// masking the input so no real traffic lands mid-reset.
func (c *CSI) ErrorRecover(port int) {
	dev := c.dev
	brick := port >> 1

	ports := []int{port}
	if c.lanes[port] == 4 {
		portA := brick << 1
		ports = []int{portA, portA + 1}
	}

	for _, p := range ports {
		dev.Write(vihw.SpaceTPG, p, vihw.RegTPGCtrl, vihw.PGEnable)
		dev.Write(vihw.SpaceCIL, p, vihw.RegCILSensorReset, 0x1)
	}
	dev.Write(vihw.SpaceCSI, brick, vihw.RegCSISWStatusReset, 0x1)

	// hold reset for a few clock cycles to drain the Rx FIFO
	time.Sleep(10 * time.Microsecond)

	for _, p := range ports {
		dev.Write(vihw.SpaceCIL, p, vihw.RegCILSensorReset, 0x0)
	}
	dev.Write(vihw.SpaceCSI, brick, vihw.RegCSISWStatusReset, 0x0)
	for _, p := range ports {
		dev.Write(vihw.SpaceTPG, p, vihw.RegTPGCtrl, vihw.PGDisable)
	}
}
