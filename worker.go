package vicap

// captureWorker is the channel's single capture goroutine. It sleeps until
// work is queued or a stop is requested, then runs one frame at a time
// through the capture state machine.
//
// If stream bringup fails the worker stops dequeuing: buffers stay queued
// until StopStreaming returns them with an error state.
func (c *Channel) captureWorker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var failed bool
	for {
		select {
		case <-stop:
			return
		case <-c.wake:
		}

		if failed {
			continue
		}

		for {
			select {
			case <-stop:
				return
			default:
			}

			buf := c.dequeueBuffer()
			if buf == nil {
				break
			}
			if err := c.captureFrame(buf); err != nil {
				ProblemLogger.Printf("channel %q: capture halted: %v", c.name, err)
				failed = true
				break
			}
		}
	}
}
