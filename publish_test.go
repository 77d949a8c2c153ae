package vicap

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
)

func TestFrameUpdate(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	buf := &Buffer{Sequence: 41, State: BufferDone, Timestamp: ts}

	u := frameUpdate("cam0", buf)
	if u.tag != "FRAME" {
		t.Errorf("tag = %q, want FRAME", u.tag)
	}
	var msg frameMessage
	if err := json.Unmarshal(u.message, &msg); err != nil {
		t.Fatalf("message does not decode: %v", err)
	}
	if msg.Channel != "cam0" || msg.Sequence != 41 {
		t.Errorf("decoded %q/%d, want cam0/41", msg.Channel, msg.Sequence)
	}
	if msg.State != BufferDone.String() {
		t.Errorf("state = %q, want %q", msg.State, BufferDone.String())
	}
	if !msg.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, ts)
	}
}

func TestStateAndRecoveryUpdates(t *testing.T) {
	u := stateUpdate("cam0", "streaming")
	if u.tag != "STATE" {
		t.Errorf("tag = %q, want STATE", u.tag)
	}
	var sm stateMessage
	if err := json.Unmarshal(u.message, &sm); err != nil {
		t.Fatalf("state message does not decode: %v", err)
	}
	if sm.Channel != "cam0" || sm.State != "streaming" {
		t.Errorf("decoded %q/%q, want cam0/streaming", sm.Channel, sm.State)
	}

	before := time.Now()
	u = recoveryUpdate("cam0", CaptureTimeout.String())
	if u.tag != "RECOVERY" {
		t.Errorf("tag = %q, want RECOVERY", u.tag)
	}
	var rm recoveryMessage
	if err := json.Unmarshal(u.message, &rm); err != nil {
		t.Fatalf("recovery message does not decode: %v", err)
	}
	if rm.State != CaptureTimeout.String() {
		t.Errorf("state = %q, want %q", rm.State, CaptureTimeout.String())
	}
	if rm.Time.Before(before.Truncate(time.Second)) {
		t.Errorf("recovery time %v predates the event", rm.Time)
	}
}

func TestPublisherRoutesFramesPort(t *testing.T) {
	const statusPort, framesPort = 57631, 57632
	p := NewPublisher(statusPort, framesPort)
	defer p.Close()

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		t.Fatalf("SUB socket: %v", err)
	}
	defer sub.Close()
	sub.SetSubscribe("")
	if err := sub.Connect(fmt.Sprintf("tcp://localhost:%d", framesPort)); err != nil {
		t.Fatalf("connecting to the frames port: %v", err)
	}
	sub.SetRcvtimeo(100 * time.Millisecond)

	// subscriptions join asynchronously: keep publishing until one lands
	deadline := time.Now().Add(5 * time.Second)
	var parts []string
	for {
		p.QueueState("cam0", "streaming")
		p.QueueFrame("cam0", &Buffer{Sequence: 7, State: BufferDone})
		parts, err = sub.RecvMessage(0)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no message on the frames port: %v", err)
		}
	}
	// state updates go to the status port, so only FRAME can arrive here
	if parts[0] != "FRAME" {
		t.Fatalf("frames port delivered tag %q, want FRAME", parts[0])
	}
	var msg frameMessage
	if err := json.Unmarshal([]byte(parts[1]), &msg); err != nil {
		t.Fatalf("frame message does not decode: %v", err)
	}
	if msg.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", msg.Sequence)
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	// no socket: queueing must never block the capture path, even with
	// nothing draining the channel
	p := &Publisher{messages: make(chan ClientUpdate, 2)}
	for i := 0; i < 10; i++ {
		p.QueueState("cam0", "streaming")
	}
	if len(p.messages) != 2 {
		t.Errorf("%d messages queued, want capacity 2", len(p.messages))
	}
}
