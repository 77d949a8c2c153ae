package vicap

// Contains the Publisher, which publishes JSON-encoded messages with
// retired-frame metadata and channel state changes on ZMQ PUB sockets.

import (
	"encoding/json"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one tagged message to one of the publisher's
// sockets. FRAME updates go to the frames port, everything else to the
// status port.
type ClientUpdate struct {
	tag     string
	message []byte
}

type frameMessage struct {
	Channel   string    `json:"channel"`
	Sequence  uint32    `json:"sequence"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

type stateMessage struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}

type recoveryMessage struct {
	Channel string    `json:"channel"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
}

// Publisher fans capture status out to ZMQ subscribers. Updates are
// dropped rather than ever blocking the capture path on a slow subscriber.
type Publisher struct {
	messages chan ClientUpdate
	abort    chan struct{}
	done     chan struct{}
}

// NewPublisher starts a publisher bound to two TCP ports: state and
// recovery updates on statusPort, per-frame metadata on framesPort. The
// frame stream runs at the capture rate, so it gets its own socket and
// subscribers to slow status updates never see it.
func NewPublisher(statusPort, framesPort int) *Publisher {
	p := &Publisher{
		messages: make(chan ClientUpdate, 256),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run(statusPort, framesPort)
	return p
}

func (p *Publisher) run(statusPort, framesPort int) {
	defer close(p.done)

	statusSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return
	}
	defer statusSocket.Close()
	if err = statusSocket.Bind(fmt.Sprintf("tcp://*:%d", statusPort)); err != nil {
		return
	}

	frameSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return
	}
	defer frameSocket.Close()
	if err = frameSocket.Bind(fmt.Sprintf("tcp://*:%d", framesPort)); err != nil {
		return
	}

	for {
		select {
		case <-p.abort:
			return
		case update := <-p.messages:
			sock := statusSocket
			if update.tag == "FRAME" {
				sock = frameSocket
			}
			sock.SendMessage(update.tag, update.message)
		}
	}
}

// Close shuts the publisher down and waits for its goroutine.
func (p *Publisher) Close() {
	close(p.abort)
	<-p.done
}

func (p *Publisher) queue(u ClientUpdate) {
	select {
	case p.messages <- u:
	default:
	}
}

// QueueFrame publishes metadata for one retired buffer.
func (p *Publisher) QueueFrame(channel string, buf *Buffer) {
	p.queue(frameUpdate(channel, buf))
}

// QueueState publishes a channel state change.
func (p *Publisher) QueueState(channel, state string) {
	p.queue(stateUpdate(channel, state))
}

// QueueRecovery publishes an error-recovery event.
func (p *Publisher) QueueRecovery(channel, state string) {
	p.queue(recoveryUpdate(channel, state))
}

func frameUpdate(channel string, buf *Buffer) ClientUpdate {
	msg, _ := json.Marshal(frameMessage{
		Channel:   channel,
		Sequence:  buf.Sequence,
		State:     buf.State.String(),
		Timestamp: buf.Timestamp,
	})
	return ClientUpdate{tag: "FRAME", message: msg}
}

func stateUpdate(channel, state string) ClientUpdate {
	msg, _ := json.Marshal(stateMessage{Channel: channel, State: state})
	return ClientUpdate{tag: "STATE", message: msg}
}

func recoveryUpdate(channel, state string) ClientUpdate {
	msg, _ := json.Marshal(recoveryMessage{
		Channel: channel,
		State:   state,
		Time:    time.Now(),
	})
	return ClientUpdate{tag: "RECOVERY", message: msg}
}
