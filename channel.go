package vicap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/visys/vicap/internal/vihw"
)

// csiBlocks is the number of physical receiver ports a channel can gang.
const csiBlocks = 2

// syncptFIFODepth is the depth of the hardware completion FIFO: the number
// of armed completions that can be outstanding per port. After a recovery
// consumes armed conditions into an error state, this many frames must
// skip re-arming to avoid double-counting.
const syncptFIFODepth = 2

// CaptureState classifies the channel's most recent capture outcome.
type CaptureState int

// Capture states. Timeout and Error force an error-recovery cycle and a
// ring flush before the channel returns to Idle.
const (
	CaptureIdle CaptureState = iota
	CaptureGood
	CaptureTimeout
	CaptureError
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureGood:
		return "good"
	case CaptureTimeout:
		return "timeout"
	case CaptureError:
		return "error"
	}
	return "invalid"
}

// ChannelConfig carries everything needed to create a capture channel.
type ChannelConfig struct {
	Name   string
	Ports  []int // physical receiver ports, 1 or csiBlocks entries
	Lanes  int
	Format string
	Width  uint32
	Height uint32

	// Timeout bounds each completion wait. Zero selects the default that
	// lets the receiver drop error frames and still deliver good ones.
	Timeout time.Duration

	// RecoverOnLinkError runs the full recovery protocol when the
	// receiver reports a malformed stream, instead of only flagging the
	// frame. Off by default.
	RecoverOnLinkError bool

	// SetStream starts or stops the upstream sensor. Nil when the test
	// pattern generator is the source.
	SetStream func(on bool) error

	// OnBufferDone receives every retired buffer exactly once.
	OnBufferDone func(*Buffer)

	// OnFormatChange fires whenever the active format or gang geometry
	// changes, so buffer size tables can be recomputed.
	OnFormatChange func()
}

// Channel is one logical video pipe from a set of receiver ports into host
// memory. A streaming channel owns exactly one capture worker goroutine.
type Channel struct {
	vi   *VI
	name string

	ports      []int
	totalPorts int
	validPorts int
	numLanes   int

	syncpt     [csiBlocks]int
	syncptFifo [csiBlocks]uint32

	fmtinfo *VideoFormat
	format  Format

	gangMode         GangMode
	gangWidth        uint32
	gangHeight       uint32
	gangBytesPerLine uint32
	gangSizeImage    uint32
	bufferOffset     [csiBlocks]uint64

	timeout          time.Duration
	recoverOnLinkErr bool

	captureState CaptureState
	streaming    atomic.Bool
	isStreaming  atomic.Bool // upstream source state

	// queueMu guards the pending list and ring admission from both the
	// submission path and the worker. Never held across a wait.
	queueMu sync.Mutex
	pending []*Buffer
	wake    chan struct{}

	ring frameRing

	stopWorkerMu sync.Mutex
	stopReq      chan struct{}
	workerDone   chan struct{}

	requestedHz   uint64
	requestedKBps int64

	setStream      func(on bool) error
	onFormatChange func()
	bufferDone     func(*Buffer)

	session *sessionStats
}

// defaultTimeout bounds each completion wait. It is long enough for the
// receiver to capture good frames while dropping error frames.
const defaultTimeout = 200 * time.Millisecond

// NewChannel creates a capture channel on the VI engine. Configuration
// problems are rejected here and never reach the capture path.
func (vi *VI) NewChannel(cfg ChannelConfig) (*Channel, error) {
	if len(cfg.Ports) < 1 || len(cfg.Ports) > csiBlocks {
		return nil, fmt.Errorf("channel needs 1..%d ports, got %d", csiBlocks, len(cfg.Ports))
	}
	switch cfg.Lanes {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("unsupported lane count %d", cfg.Lanes)
	}
	fmtinfo, err := FormatByName(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.OnBufferDone == nil {
		return nil, fmt.Errorf("channel %q has no buffer completion sink", cfg.Name)
	}

	c := &Channel{
		vi:               vi,
		name:             cfg.Name,
		ports:            append([]int(nil), cfg.Ports...),
		totalPorts:       len(cfg.Ports),
		validPorts:       1,
		numLanes:         cfg.Lanes,
		fmtinfo:          fmtinfo,
		timeout:          cfg.Timeout,
		recoverOnLinkErr: cfg.RecoverOnLinkError,
		wake:             make(chan struct{}, 1),
		setStream:        cfg.SetStream,
		onFormatChange:   cfg.OnFormatChange,
		bufferDone:       cfg.OnBufferDone,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	for i := range c.ports {
		c.syncpt[i] = vi.allocSyncpt()
	}
	c.ring.release = c.retire
	c.applyFormat(cfg.Width, cfg.Height)

	vi.channels = append(vi.channels, c)
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Streaming reports whether the channel is currently streaming.
func (c *Channel) Streaming() bool { return c.streaming.Load() }

// ActiveFormat returns the current frame geometry.
func (c *Channel) ActiveFormat() Format { return c.format }

// GangGeometry returns the gang mode, the per-port geometry and the
// per-port buffer byte offsets for the active format.
func (c *Channel) GangGeometry() (GangMode, uint32, uint32, []uint64) {
	offsets := make([]uint64, c.totalPorts)
	copy(offsets, c.bufferOffset[:c.totalPorts])
	return c.gangMode, c.gangWidth, c.gangHeight, offsets
}

// ValidPorts returns how many ports participate in the active format.
func (c *Channel) ValidPorts() int { return c.validPorts }

// SetFormat changes the active pixel format and geometry. Rejected while
// the channel is streaming.
func (c *Channel) SetFormat(name string, width, height uint32) error {
	if c.streaming.Load() {
		return fmt.Errorf("channel %q: cannot change format while streaming", c.name)
	}
	fmtinfo, err := FormatByName(name)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}
	c.fmtinfo = fmtinfo
	c.applyFormat(width, height)
	return nil
}

func (c *Channel) applyFormat(width, height uint32) {
	c.format.Width = width
	c.format.Height = height
	c.format.BytesPerLine = width * uint32(c.fmtinfo.BytesPerPixel)
	c.format.SizeImage = c.format.BytesPerLine * height
	if c.totalPorts > 1 {
		c.updateGangMode()
	} else {
		c.updateGangModeParams()
	}
	if c.onFormatChange != nil {
		c.onFormatChange()
	}
}

// updateGangMode activates gang capture when the frame exceeds what one
// port can carry. Only resolutions above 1080p require ganging.
func (c *Channel) updateGangMode() {
	if c.format.Width > 1920 && c.format.Height > 1080 {
		c.gangMode = GangLeftRight
		c.validPorts = c.totalPorts
	} else {
		c.gangMode = GangNone
		c.validPorts = 1
	}
	c.updateGangModeParams()
}

func (c *Channel) updateGangModeParams() {
	c.gangWidth = gangModeWidth(c.gangMode, c.format.Width)
	c.gangHeight = gangModeHeight(c.gangMode, c.format.Height)
	c.gangBytesPerLine = c.gangWidth * uint32(c.fmtinfo.BytesPerPixel)
	c.gangSizeImage = c.gangBytesPerLine * c.format.Height
	c.gangBufferOffsets()
}

func (c *Channel) gangBufferOffsets() {
	var offset uint64
	for i := 0; i < c.totalPorts; i++ {
		switch c.gangMode {
		case GangNone, GangLeftRight, GangRightLeft:
			offset = uint64(c.gangBytesPerLine)
		case GangTopBottom, GangBottomTop:
			offset = uint64(c.gangSizeImage)
		default:
			offset = 0
		}
		offset = (offset + surfaceAlignment - 1) &^ (surfaceAlignment - 1)
		c.bufferOffset[i] = uint64(i) * offset
	}
}

// EnqueueBuffer submits a buffer for capture. Safe to call from any
// goroutine; the capture worker is woken if it is waiting for work.
func (c *Channel) EnqueueBuffer(buf *Buffer) {
	c.queueMu.Lock()
	c.pending = append(c.pending, buf)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dequeueBuffer pops the oldest pending buffer and registers it in the
// ring, or returns nil if nothing is pending.
func (c *Channel) dequeueBuffer() *Buffer {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	buf := c.pending[0]
	c.pending = c.pending[1:]
	c.ring.add(buf)
	return buf
}

// queuedBufDone returns every pending (never captured) buffer to the owner
// with the given state.
func (c *Channel) queuedBufDone(state BufferState) {
	c.queueMu.Lock()
	pending := c.pending
	c.pending = nil
	c.queueMu.Unlock()

	for _, buf := range pending {
		buf.State = state
		c.bufferDone(buf)
	}
}

// retire hands one buffer back to the owner with its terminal state and
// feeds the session bookkeeping.
func (c *Channel) retire(buf *Buffer) {
	if c.session != nil {
		c.session.record(buf)
	}
	c.vi.publishFrame(c.name, buf)
	c.bufferDone(buf)
}

// updateClkNBW folds this channel's memory bandwidth and clock needs into
// the engine-wide aggregate. Uses a fixed frame rate until the sensor
// reports one.
func (c *Channel) updateClkNBW(on bool) {
	sign := int64(-1)
	if on {
		sign = 1
	}
	c.requestedKBps = sign * int64(c.format.Width) * int64(c.format.Height) * frameRate * bppMem / 1000
	if on {
		c.requestedHz = uint64(c.format.Width) * uint64(c.format.Height) * frameRate
	} else {
		c.requestedHz = 0
	}

	c.vi.bwMu.Lock()
	c.vi.aggregatedKBps += c.requestedKBps
	c.vi.updateClk()
	c.vi.bwMu.Unlock()
}

// StartStreaming configures the receiver path, initializes the ring and
// starts the capture worker. On failure nothing is left partially running.
func (c *Channel) StartStreaming() error {
	if !c.streaming.CompareAndSwap(false, true) {
		return fmt.Errorf("channel %q is already streaming", c.name)
	}

	c.ecInit()
	c.captureState = CaptureIdle

	for i := 0; i < c.validPorts; i++ {
		c.vi.csi.StartStreaming(c.ports[i])
		// ensure completion counter state is clean
		c.vi.sp.SetMinEqMax(c.syncpt[i])
	}

	// program the DMA engine after TPG, sensor and receiver are streaming
	c.captureSetup()

	c.ring.sequence = 0
	c.ring.reset()
	for i := range c.syncptFifo {
		c.syncptFifo[i] = 0
	}

	c.updateClkNBW(true)
	c.session = newSessionStats(c.name)

	if c.vi.verbose {
		ProblemLogger.Println(spew.Sdump(c.format, c.gangMode, c.bufferOffset))
	}

	c.stopWorkerMu.Lock()
	c.stopReq = make(chan struct{})
	c.workerDone = make(chan struct{})
	go c.captureWorker(c.stopReq, c.workerDone)
	c.stopWorkerMu.Unlock()

	c.vi.publishState(c.name, "streaming")
	return nil
}

// StopStreaming stops the worker, completes the last in-flight buffer,
// drains the ring and quiesces the receiver path. Calling it on a stopped
// channel is a no-op.
func (c *Channel) StopStreaming() error {
	if !c.streaming.CompareAndSwap(true, false) {
		return nil
	}

	c.stopWorker()

	// wait for the last frame's memory-write acknowledge before the
	// final buffer goes back to its owner
	if c.isStreaming.Load() && c.captureState == CaptureGood {
		c.captureDone()
	}

	c.ring.free(c.ring.occupied(), c.captureState)
	c.queuedBufDone(BufferError)

	dev := c.vi.dev
	dev.Write(vihw.SpaceVI, 0, vihw.RegVICGCtrl, vihw.CGCtrlDisable)
	for i := 0; i < c.validPorts; i++ {
		c.vi.csi.StopStreaming(c.ports[i])
		// always clear the single-shot latch if still armed at close
		if dev.Read(vihw.SpaceVICSI, c.ports[i], vihw.RegSingleShot) != 0 {
			c.clearSingleShot(c.ports[i])
		}
	}
	dev.Write(vihw.SpaceVI, 0, vihw.RegVICGCtrl, vihw.CGCtrlEnable)
	c.vi.csi.PadControl(c.ports[:c.validPorts], false)

	if !c.vi.pgMode {
		if err := c.setStreaming(false); err != nil {
			ProblemLogger.Printf("channel %q: sensor stream off: %v", c.name, err)
		}
	} else {
		c.isStreaming.Store(false)
	}

	c.updateClkNBW(false)
	c.vi.csi.cal.BiasPadDisable()

	if c.session != nil {
		c.vi.recordSession(c.session.finish())
		c.session = nil
	}
	c.vi.publishState(c.name, "stopped")
	return nil
}

// setStreaming forwards the streaming state to the upstream sensor,
// skipping the call when the state is already current.
func (c *Channel) setStreaming(on bool) error {
	if c.isStreaming.Load() == on {
		return nil
	}
	if c.setStream != nil {
		if err := c.setStream(on); err != nil {
			return err
		}
	}
	c.isStreaming.Store(on)
	return nil
}

// stopWorker signals the capture worker to stop and waits for it.
func (c *Channel) stopWorker() {
	c.stopWorkerMu.Lock()
	defer c.stopWorkerMu.Unlock()
	if c.stopReq == nil {
		return
	}
	close(c.stopReq)
	<-c.workerDone
	c.stopReq = nil
	c.workerDone = nil
}
