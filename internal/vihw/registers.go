package vihw

// Register offsets for the three address spaces the capture path touches.
// Offsets are relative to each space's base; per-port spaces are indexed by
// the logical port number, the CSI common space by the brick (port pair).

// VI configuration space (DMA-engine global).
const (
	RegVIIncrSyncpt      uint32 = 0x000
	RegVIIncrSyncptCntrl uint32 = 0x004
	RegVIIncrSyncptError uint32 = 0x008
	RegVICGCtrl          uint32 = 0x0b8
)

// Per-port VI CSI image registers.
const (
	RegSWReset           uint32 = 0x000
	RegSingleShot        uint32 = 0x004
	RegImageDef          uint32 = 0x00c
	RegImageDT           uint32 = 0x018
	RegImageSizeWC       uint32 = 0x01c
	RegImageSize         uint32 = 0x020
	RegSurface0OffsetMSB uint32 = 0x024
	RegSurface0OffsetLSB uint32 = 0x028
	RegSurface0Stride    uint32 = 0x02c
	RegErrorStatus       uint32 = 0x084
)

// Per-port CSI pixel parser registers.
const (
	RegPPCommand            uint32 = 0x000
	RegPPControl0           uint32 = 0x004
	RegPPControl1           uint32 = 0x008
	RegPPGap                uint32 = 0x00c
	RegPPExpectedFrame      uint32 = 0x014
	RegPPStatus             uint32 = 0x01c
	RegPPInterruptMask      uint32 = 0x020
	RegPPInputStreamControl uint32 = 0x024
)

// Per-port CIL (PHY) registers.
const (
	RegCILPadConfig0    uint32 = 0x000
	RegCILInterruptMask uint32 = 0x008
	RegCILStatus        uint32 = 0x00c
	RegCILXStatus       uint32 = 0x010
	RegCILSensorReset   uint32 = 0x014
	RegCILPHYControl    uint32 = 0x018
)

// Per-port test pattern generator registers.
const (
	RegTPGCtrl          uint32 = 0x000
	RegTPGPhase         uint32 = 0x004
	RegTPGRedFreq       uint32 = 0x008
	RegTPGRedFreqRate   uint32 = 0x00c
	RegTPGGreenFreq     uint32 = 0x010
	RegTPGGreenFreqRate uint32 = 0x014
	RegTPGBlueFreq      uint32 = 0x018
	RegTPGBlueFreqRate  uint32 = 0x01c
)

// Per-brick CSI common registers.
const (
	RegCSIClkenOverride  uint32 = 0x000
	RegCSIPhyCilCommand  uint32 = 0x004
	RegCSISWStatusReset  uint32 = 0x008
)

// Bit fields.
const (
	SingleShotCapture uint32 = 0x1

	ImageDefDestMem            uint32 = 1 << 28
	ImageDefFormatOffset              = 16
	ImageDefBypassPxlTransform        = 24

	ImageSizeHeightOffset = 16

	CGCtrlEnable  uint32 = 1
	CGCtrlDisable uint32 = 0

	// Arms the host syncpt FIFO so software can observe overflow instead
	// of blocking the host interface.
	IncrSyncptNoStall uint32 = 0x100

	PGEnable      uint32 = 0x1
	PGDisable     uint32 = 0x0
	PGModeOffset  = 2
	PGVertInitFreqOffset = 16
	PGHorInitFreqOffset  = 0

	CSIAPhyCilEnable uint32 = 1 << 0
	CSIBPhyCilEnable uint32 = 1 << 8
	BrickClockA4X    uint32 = 0x10000

	PPEnable           uint32 = 0x1
	PPDisable          uint32 = 0x2
	PPReset            uint32 = 1 << 3
	PPSingleShotEnable uint32 = 1 << 2
	PPStartMarkerFrameMaxOffset = 12

	PPPacketHeaderSent      uint32 = 1 << 4
	PPDataIdentifierEnable  uint32 = 1 << 5
	PPWordCountSelectHeader uint32 = 1 << 6
	PPCRCCheckEnable        uint32 = 1 << 7
	PPWCCheck               uint32 = 1 << 8
	PPOutputFormatStore     uint32 = 3 << 16
	PPPadLineNopad          uint32 = 2 << 24
	PPPadFrameNopad         uint32 = 2 << 26
	PPHeaderECDisable       uint32 = 1 << 27

	PPTopFieldFrameOffset     = 0
	PPTopFieldFrameMaskOffset = 4

	PPFrameMinGapOffset = 4

	SkipPacketThresholdOffset = 8

	// Uncorrectable pixel parser and PHY error bits checked after each
	// frame. Correctable errors are left to hardware.
	PPStatusHeaderError  uint32 = 0x4000
	CILStatusEscapeError uint32 = 0x02
	CILXStatusLaneErrors uint32 = 0x00020020
)

// SyncptCondShift positions an event condition code in the VI syncpt
// increment register; the low byte carries the syncpt id.
const SyncptCondShift = 8

// FrameStartCond returns the syncpt condition code for a frame-start event
// on the given port.
func FrameStartCond(port int) uint32 {
	return uint32(4 + port)
}

// MWAckCond returns the syncpt condition code for a memory-write-ack event
// on the given port.
func MWAckCond(port int) uint32 {
	return uint32(12 + port)
}

// FrameStartMask returns the bit for the port's frame-start error in the
// VI syncpt error register.
func FrameStartMask(port int) uint32 {
	return 1 << FrameStartCond(port)
}

// SyncptArm encodes a condition code and syncpt id for the VI syncpt
// increment register.
func SyncptArm(cond uint32, id int) uint32 {
	return cond<<SyncptCondShift | uint32(id)&0xff
}
