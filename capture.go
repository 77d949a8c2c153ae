package vicap

import (
	"errors"
	"time"

	"github.com/visys/vicap/internal/vihw"
)

// ecInit primes the channel for error recovery before streaming starts.
// The syncpt increment FIFO blocks the host interface when it fills, so
// no-stall mode is required for software to run the recovery protocol.
func (c *Channel) ecInit() {
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	c.vi.dev.Write(vihw.SpaceVI, 0, vihw.RegVIIncrSyncptCntrl, vihw.IncrSyncptNoStall)
}

// captureSetup programs the static per-port capture registers: pixel
// transform, data type and frame geometry. Surface address and stride are
// per-frame and left to captureFrame.
func (c *Channel) captureSetup() {
	width := c.format.Width
	height := c.format.Height
	if c.validPorts > 1 {
		width = c.gangWidth
		height = c.gangHeight
	}
	wordCount := c.fmtinfo.WordCount(width)

	bypassPxlTransform := uint32(1)
	if c.vi.pgMode || c.fmtinfo.Kind == VFYUV422 || c.fmtinfo.Kind == VFRGB888 {
		bypassPxlTransform = 0
	}

	dev := c.vi.dev
	for i := 0; i < c.validPorts; i++ {
		port := c.ports[i]
		dev.Write(vihw.SpaceVICSI, port, vihw.RegErrorStatus, 0xFFFFFFFF)
		dev.Write(vihw.SpaceVICSI, port, vihw.RegImageDef,
			bypassPxlTransform<<vihw.ImageDefBypassPxlTransform|
				c.fmtinfo.ImgFormat<<vihw.ImageDefFormatOffset)
		dev.Write(vihw.SpaceVICSI, port, vihw.RegImageDT, c.fmtinfo.ImgDataType)
		dev.Write(vihw.SpaceVICSI, port, vihw.RegImageSizeWC, wordCount)
		dev.Write(vihw.SpaceVICSI, port, vihw.RegImageSize,
			height<<vihw.ImageSizeHeightOffset|width)
	}
}

// enableStream powers the receiver pads, starts the upstream source and
// runs calibration, in that order, once the capture registers are set up.
func (c *Channel) enableStream() error {
	c.vi.csi.PadControl(c.ports[:c.validPorts], true)
	if c.vi.pgMode {
		for i := 0; i < c.validPorts; i++ {
			c.vi.csi.TPGStart(c.ports[i])
		}
		c.isStreaming.Store(true)
	} else {
		if err := c.setStreaming(true); err != nil {
			return err
		}
	}
	// calibrate against the live stream
	c.vi.csi.cal.BiasPadEnable()
	if !c.vi.pgMode {
		c.vi.mipicalMu.Lock()
		err := c.vi.csi.cal.Calibrate(c.ports[:c.validPorts], c.numLanes)
		c.vi.mipicalMu.Unlock()
		if err != nil {
			ProblemLogger.Printf("channel %q: pad calibration: %v", c.name, err)
		}
	}
	return nil
}

// errorStatus reads and clears the per-port error registers and folds in
// the receiver-level error bits. A nonzero result means the last frame
// carried a malformed stream.
func (c *Channel) errorStatus() uint32 {
	var errVal uint32
	for i := 0; i < c.validPorts; i++ {
		val := c.vi.dev.Read(vihw.SpaceVICSI, c.ports[i], vihw.RegErrorStatus)
		c.vi.dev.Write(vihw.SpaceVICSI, c.ports[i], vihw.RegErrorStatus, val)
		errVal |= val
		errVal |= c.vi.csi.Error(c.ports[i])
	}
	if errVal != 0 {
		ProblemLogger.Printf("channel %q: error status %#x frame %d", c.name, errVal, c.ring.sequence)
	}
	return errVal
}

// captureError logs the faulted hardware state for postmortem before
// recovery wipes it.
func (c *Channel) captureError() {
	for i := 0; i < c.validPorts; i++ {
		val := c.vi.dev.Read(vihw.SpaceVICSI, c.ports[i], vihw.RegErrorStatus)
		ProblemLogger.Printf("channel %q: port %d error status %#010x", c.name, c.ports[i], val)
		c.vi.csi.Status(c.ports[i])
	}
}

// clearSingleShot resets the per-port shadow logic, dropping a still-armed
// single-shot latch.
func (c *Channel) clearSingleShot(port int) {
	c.vi.dev.Write(vihw.SpaceVICSI, port, vihw.RegSWReset, 0xF)
	c.vi.dev.Write(vihw.SpaceVICSI, port, vihw.RegSWReset, 0x0)
}

// viCSIRecover resynchronizes hardware and software state after a capture
// fault. The order is load bearing: pads off, continuous clock, receiver
// reset, error acknowledge, clock gating restored, reprogram, restart.
func (c *Channel) viCSIRecover() {
	dev := c.vi.dev
	errorVal := dev.Read(vihw.SpaceVI, 0, vihw.RegVIIncrSyncptError)

	// drop pad power to start recovery
	c.vi.csi.PadControl(c.ports[:c.validPorts], false)
	// run the engine on a continuous clock while its state is rebuilt
	dev.Write(vihw.SpaceVI, 0, vihw.RegVICGCtrl, vihw.CGCtrlDisable)

	for i := 0; i < c.validPorts; i++ {
		c.vi.csi.ErrorRecover(c.ports[i])
		dev.Write(vihw.SpaceVICSI, c.ports[i], vihw.RegImageDef, 0)
		c.clearSingleShot(c.ports[i])
	}

	// a frame-start error means an armed completion was consumed into
	// the error state; mark the full FIFO depth as backlog so re-arming
	// does not double count
	for i := 0; i < c.validPorts; i++ {
		if errorVal&vihw.FrameStartMask(c.ports[i]) != 0 {
			c.syncptFifo[i] = syncptFIFODepth
		}
	}
	dev.Write(vihw.SpaceVI, 0, vihw.RegVIIncrSyncptError, errorVal)

	dev.Write(vihw.SpaceVI, 0, vihw.RegVICGCtrl, vihw.CGCtrlEnable)

	c.captureSetup()
	for i := 0; i < c.validPorts; i++ {
		c.vi.csi.StopStreaming(c.ports[i])
		c.vi.csi.StartStreaming(c.ports[i])
		// stale waiters must never see an unreachable threshold
		c.vi.sp.SetMinEqMax(c.syncpt[i])
	}
}

// ecRecover is the full recovery entry point: record the faulted state,
// then rebuild it. Synchronous, no retry; a repeat fault re-enters from
// the top.
func (c *Channel) ecRecover() {
	c.captureError()
	c.viCSIRecover()
	c.vi.publishRecovery(c.name, c.captureState)
	c.vi.recordRecovery(c.name, c.captureState)
}

// captureFrame runs one frame through the hardware: program the DMA
// surface, arm the frame-start completion, trigger single shot on every
// port, then wait. The buffer is always retired through the ring,
// whatever the outcome.
func (c *Channel) captureFrame(buf *Buffer) error {
	dev := c.vi.dev
	var thresh [csiBlocks]uint32
	var ts time.Time
	state := BufferDone

	for i := 0; i < c.validPorts; i++ {
		addr := buf.Addr + c.bufferOffset[i]
		port := c.ports[i]
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0OffsetMSB, uint32(addr>>32))
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0OffsetLSB, uint32(addr))
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0Stride, c.gangBytesPerLine)

		thresh[i] = c.vi.sp.IncrMax(c.syncpt[i], 1)
		// do not re-arm while the completion FIFO holds entries from
		// before recovery
		if c.syncptFifo[i] == 0 {
			dev.Write(vihw.SpaceVI, 0, vihw.RegVIIncrSyncpt,
				vihw.SyncptArm(vihw.FrameStartCond(port), c.syncpt[i]))
		} else {
			c.syncptFifo[i]--
		}
	}

	// enable the input stream once the capture registers are configured
	if !c.ring.seenStart {
		if err := c.enableStream(); err != nil {
			c.captureState = CaptureError
			c.ring.frame(buf, time.Now(), BufferError, c.captureState)
			c.captureState = CaptureIdle
			return err
		}
		// this bit controls the memory write; set it only after every
		// other register is in place
		for i := 0; i < c.validPorts; i++ {
			val := dev.Read(vihw.SpaceVICSI, c.ports[i], vihw.RegImageDef)
			dev.Write(vihw.SpaceVICSI, c.ports[i], vihw.RegImageDef, val|vihw.ImageDefDestMem)
		}
	}

	// all ports must be ready before the first trigger to bound skew
	for i := 0; i < c.validPorts; i++ {
		dev.Write(vihw.SpaceVICSI, c.ports[i], vihw.RegSingleShot, vihw.SingleShotCapture)
	}

	c.captureState = CaptureGood
	for i := 0; i < c.validPorts; i++ {
		fired, err := c.vi.sp.WaitTimeout(c.syncpt[i], thresh[i], c.timeout)
		if err != nil {
			if !errors.Is(err, vihw.ErrSyncptTimeout) {
				ProblemLogger.Printf("channel %q: frame start wait port %d: %v", c.name, c.ports[i], err)
			} else {
				ProblemLogger.Printf("channel %q: frame start timeout on port %d", c.name, c.ports[i])
			}
			state = BufferError
			c.captureState = CaptureTimeout
			c.ecRecover()
			break
		}
		ts = fired
	}

	if c.captureState == CaptureGood && !c.vi.pgMode {
		// flag error frames but keep capturing
		if c.errorStatus() != 0 {
			state = BufferError
			c.captureState = CaptureError
			if c.recoverOnLinkErr {
				c.ecRecover()
			}
		}
	}

	c.ring.frame(buf, ts, state, c.captureState)
	if c.captureState != CaptureGood {
		c.captureState = CaptureIdle
	}
	return nil
}

// captureDone captures one final frame keyed on the memory-write-ack
// completion instead of frame start, so the last buffer handed back is
// guaranteed fully written. Called at stream stop.
func (c *Channel) captureDone() {
	buf := c.dequeueBuffer()
	if buf == nil {
		return
	}

	dev := c.vi.dev
	var thresh [csiBlocks]uint32
	var ts time.Time
	state := BufferDone

	for i := 0; i < c.validPorts; i++ {
		addr := buf.Addr + c.bufferOffset[i]
		port := c.ports[i]
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0OffsetMSB, uint32(addr>>32))
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0OffsetLSB, uint32(addr))
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSurface0Stride, c.gangBytesPerLine)

		thresh[i] = c.vi.sp.IncrMax(c.syncpt[i], 1)
		dev.Write(vihw.SpaceVI, 0, vihw.RegVIIncrSyncpt,
			vihw.SyncptArm(vihw.MWAckCond(port), c.syncpt[i]))
		dev.Write(vihw.SpaceVICSI, port, vihw.RegSingleShot, vihw.SingleShotCapture)
	}

	for i := 0; i < c.validPorts; i++ {
		fired, err := c.vi.sp.WaitTimeout(c.syncpt[i], thresh[i], c.timeout)
		if err != nil {
			ProblemLogger.Printf("channel %q: memory write ack timeout on port %d", c.name, c.ports[i])
			state = BufferError
			c.captureState = CaptureTimeout
			c.ecRecover()
			break
		}
		ts = fired
	}

	// capture is finished
	c.captureState = CaptureIdle

	c.ring.frame(buf, ts, state, c.captureState)
}
