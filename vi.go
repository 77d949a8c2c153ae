package vicap

import (
	"sync"

	"github.com/visys/vicap/internal/vihw"
)

// Memory bandwidth model: fixed frame rate and KB per pixel written until
// the sensor reports an actual rate.
const (
	frameRate = 30
	bppMem    = 2
)

// VIConfig carries engine-wide options.
type VIConfig struct {
	// PGMode selects the test pattern generator as the frame source for
	// every channel.
	PGMode bool
	// TPGPattern is the 1-based pattern select used in PGMode.
	TPGPattern int
	// Calibrator runs pad calibration; nil gets a no-op.
	Calibrator Calibrator
	Verbose    bool
}

// Recorder persists streaming sessions and recovery events. Implemented by
// the database layer; nil disables recording.
type Recorder interface {
	RecordSession(SessionRecord) error
	RecordRecovery(RecoveryRecord) error
}

// RecoveryRecord describes one error-recovery event.
type RecoveryRecord struct {
	Channel string
	State   string
}

// VI is the video-input engine: the DMA block all capture channels share.
// It owns the register device, the completion counters, the receiver front
// end and the engine-wide clock and bandwidth budget.
type VI struct {
	dev vihw.Device
	sp  vihw.Syncpointer
	csi *CSI

	pgMode  bool
	verbose bool

	// bwMu guards the aggregated bandwidth request and the engine clock.
	bwMu           sync.Mutex
	aggregatedKBps int64
	clockHz        uint64

	// mipicalMu serializes pad calibration, which touches receiver-wide
	// registers across channels.
	mipicalMu sync.Mutex

	nextSyncpt int
	channels   []*Channel

	publisher *Publisher
	recorder  Recorder
}

// NewVI creates the engine over a register device and completion counters.
func NewVI(dev vihw.Device, sp vihw.Syncpointer, cfg VIConfig) *VI {
	cal := cfg.Calibrator
	if cal == nil {
		cal = NopCalibrator{}
	}
	pattern := cfg.TPGPattern
	if pattern < 1 {
		pattern = 1
	}
	return &VI{
		dev:     dev,
		sp:      sp,
		csi:     newCSI(dev, cal, cfg.PGMode, pattern),
		pgMode:  cfg.PGMode,
		verbose: cfg.Verbose,
	}
}

// CSI exposes the receiver front end.
func (vi *VI) CSI() *CSI { return vi.csi }

// SetPublisher attaches a status publisher. Call before streaming starts.
func (vi *VI) SetPublisher(p *Publisher) { vi.publisher = p }

// SetRecorder attaches a session recorder. Call before streaming starts.
func (vi *VI) SetRecorder(r Recorder) { vi.recorder = r }

// allocSyncpt hands out the next free completion counter id.
func (vi *VI) allocSyncpt() int {
	id := vi.nextSyncpt
	vi.nextSyncpt++
	return id
}

// updateClk sets the engine clock to the highest per-channel request.
// Caller holds bwMu.
func (vi *VI) updateClk() {
	var maxHz uint64
	for _, c := range vi.channels {
		if c.requestedHz > maxHz {
			maxHz = c.requestedHz
		}
	}
	vi.clockHz = maxHz
}

// ClockHz returns the current engine clock request.
func (vi *VI) ClockHz() uint64 {
	vi.bwMu.Lock()
	defer vi.bwMu.Unlock()
	return vi.clockHz
}

// AggregatedKBps returns the engine-wide memory bandwidth request.
func (vi *VI) AggregatedKBps() int64 {
	vi.bwMu.Lock()
	defer vi.bwMu.Unlock()
	return vi.aggregatedKBps
}

// Close stops every streaming channel and the publisher.
func (vi *VI) Close() error {
	for _, c := range vi.channels {
		if err := c.StopStreaming(); err != nil {
			ProblemLogger.Printf("channel %q: stop: %v", c.name, err)
		}
	}
	if vi.publisher != nil {
		vi.publisher.Close()
	}
	return nil
}

func (vi *VI) publishFrame(channel string, buf *Buffer) {
	if vi.publisher != nil {
		vi.publisher.QueueFrame(channel, buf)
	}
}

func (vi *VI) publishState(channel, state string) {
	if vi.publisher != nil {
		vi.publisher.QueueState(channel, state)
	}
}

func (vi *VI) publishRecovery(channel string, cs CaptureState) {
	if vi.publisher != nil {
		vi.publisher.QueueRecovery(channel, cs.String())
	}
}

func (vi *VI) recordSession(rec SessionRecord) {
	if vi.recorder == nil {
		return
	}
	if err := vi.recorder.RecordSession(rec); err != nil {
		ProblemLogger.Printf("record session for %q: %v", rec.Channel, err)
	}
}

func (vi *VI) recordRecovery(channel string, cs CaptureState) {
	if vi.recorder == nil {
		return
	}
	rec := RecoveryRecord{Channel: channel, State: cs.String()}
	if err := vi.recorder.RecordRecovery(rec); err != nil {
		ProblemLogger.Printf("record recovery for %q: %v", channel, err)
	}
}
