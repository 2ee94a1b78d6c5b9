package broker

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/mqttmount/mqttmount/mqttproto"
)

// readChunk is the size of each socket read; the parse buffer grows to
// accumulate a frame that spans multiple chunks (spec.md §4.B's
// fragmentation tolerance).
const readChunk = 4096

// pollIdleTimeout bounds how long a poll with no pending queue deadline or
// keepalive deadline waits, so the worker periodically re-checks running.
const pollIdleTimeout = 5 * time.Second

// runWorker is the single cooperative loop described in spec.md §4.D.3: it
// multiplexes draining the outbound queue, the keepalive clock, and
// reading inbound PUBLISH frames, entirely on one goroutine so that
// on_publish is invoked exactly once per frame with no concurrent tree
// access from this client.
func (c *Client) runWorker() {
	defer close(c.done)

	var parseBuf []byte
	cursor := 0

readLoop:
	for {
		if !c.running.Load() {
			_, _ = c.conn.Write(mqttproto.EncodeDisconnect())
			return
		}

		now := c.clock.Now()

		c.mu.Lock()
		due := c.queue.drainDue(now)
		nextDeadline, hasNext := c.queue.nextDeadline()
		lastActivity := c.lastActivity
		c.mu.Unlock()

		failed := false
		for _, m := range due {
			frame, err := mqttproto.EncodePublish(m.topic, m.payload)
			if err != nil {
				// Already validated at enqueue time; treat as a dropped
				// message rather than a fatal error.
				continue
			}
			if err := c.writeFrame(frame); err != nil {
				failed = true
				break
			}
			c.bumpPublished()
		}
		if failed {
			c.fail()
			return
		}

		pingDeadline := lastActivity.Add(c.keepalive - guard)
		if !pingDeadline.After(now) {
			if err := c.writeFrame(mqttproto.EncodePing()); err != nil {
				c.fail()
				return
			}
			c.bumpPing()
			now = c.clock.Now()
			c.mu.Lock()
			c.lastActivity = now
			c.mu.Unlock()
			pingDeadline = now.Add(c.keepalive - guard)
		}

		timeout := pollIdleTimeout
		if d := pingDeadline.Sub(now); d < timeout {
			timeout = d
		}
		if hasNext {
			if d := nextDeadline.Sub(now); d < timeout {
				timeout = d
			}
		}
		if timeout < 0 {
			timeout = 0
		}

		readable, wakeReadable, err := c.pollOnce(timeout)
		if err != nil {
			c.fail()
			return
		}
		if wakeReadable {
			c.wake.drain()
		}
		if !readable {
			continue
		}

		chunk := make([]byte, readChunk)
		n, err := unix.Read(c.conn.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			c.fail()
			return
		}
		if n == 0 {
			// Zero-byte read: peer closed the connection, fatal per
			// spec.md §4.D.3.
			c.fail()
			return
		}

		parseBuf = append(parseBuf, chunk[:n]...)
		cursor = 0
		for {
			result, next := mqttproto.ParseMessage(parseBuf, cursor)
			switch result.Outcome {
			case mqttproto.Success:
				c.bumpReceived()
				c.onPublish(result.Topic, result.Payload)
				cursor = next
			case mqttproto.Skipped:
				cursor = next
			case mqttproto.ReadMore:
				parseBuf = append([]byte(nil), parseBuf[cursor:]...)
				cursor = 0
				continue readLoop
			case mqttproto.Error:
				c.fail()
				return
			}
		}
	}
}

// pollOnce waits up to timeout for the socket or the self-wake pipe to
// become readable.
func (c *Client) pollOnce(timeout time.Duration) (socketReadable, wakeReadable bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(c.conn.fd), Events: unix.POLLIN},
		{Fd: int32(c.wake.readFD), Events: unix.POLLIN},
	}

	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	for {
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, false, err
		}
		_ = n
		return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			fds[1].Revents&unix.POLLIN != 0,
			nil
	}
}

// writeFrame writes a fully-formed frame to the socket, retrying past
// EAGAIN by waiting for writability.
func (c *Client) writeFrame(frame []byte) error {
	total := 0
	for total < len(frame) {
		n, err := unix.Write(c.conn.fd, frame[total:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				fds := []unix.PollFd{{Fd: int32(c.conn.fd), Events: unix.POLLOUT}}
				if _, perr := unix.Poll(fds, int(pollIdleTimeout/time.Millisecond)); perr != nil {
					return perr
				}
				continue
			}
			return err
		}
		total += n
		now := c.clock.Now()
		c.mu.Lock()
		c.lastActivity = now
		c.mu.Unlock()
	}
	return nil
}

// fail marks the client as no longer running. Per spec.md §4.D.3 a failed
// write or a fatal read is terminal: pending and future Publish calls
// report ErrNotRunning.
func (c *Client) fail() {
	c.running.Store(false)
	c.state.Store(int32(StateStopped))
}
