// Package broker implements the MQTT broker client described in spec.md
// §4.D: a raw TCP connection, an outbound queue of holdback-delayed
// publishes, keepalive scheduling, and a single background worker that
// multiplexes socket I/O with the outbound queue via a self-pipe, grounded
// on the teacher's (jacobsa/fuse) pattern of a single cooperative loop
// owning a kernel device plus an x/sys/unix self-pipe for wakeups.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/mqttmount/mqttmount/mqttproto"
)

// State is the broker client's lifecycle stage, reifying spec.md §4.D's
// prose state machine (`Init -> Connecting -> Connected/Subscribed ->
// Running -> Draining -> Stopped`) as a typed value. There is no in-band
// reconnection: Stopped is terminal.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Publish once the worker has exited, per
// spec.md §4.D.2.
var ErrNotRunning = errors.New("broker: client is not running")

// guard is the keepalive safety margin from spec.md §4.D: a PING is
// scheduled strictly before the broker's grace window expires.
const guard = 100 * time.Millisecond

// OnPublish is invoked on the worker goroutine exactly once per received
// PUBLISH frame. topic and payload are only valid for the duration of the
// call; implementations that need to retain them must copy.
type OnPublish func(topic string, payload []byte)

// Stats is a snapshot of the client's lifetime counters.
type Stats struct {
	Published uint64
	Received  uint64
	PingsSent uint64
}

// Client owns a broker TCP connection and its background worker. The zero
// value is not usable; construct with Create.
type Client struct {
	clock     timeutil.Clock
	keepalive time.Duration
	holdback  time.Duration
	onPublish OnPublish

	conn *fdConn
	wake *selfWake

	mu           sync.Mutex
	queue        outboundQueue
	lastActivity time.Time

	running atomic.Bool
	state   atomic.Int32
	done    chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// Create opens a TCP connection to host:port, performs the CONNECT/CONNACK
// and SUBSCRIBE/SUBACK handshake synchronously, and — on success — starts
// the background worker. Any handshake failure closes the socket and
// returns an error with no partial state left behind, per spec.md §4.D.1.
func Create(ctx context.Context, clock timeutil.Clock, host string, port uint16, keepalive, holdback time.Duration, onPublish OnPublish) (c *Client, err error) {
	c = &Client{
		clock:     clock,
		keepalive: keepalive,
		holdback:  holdback,
		onPublish: onPublish,
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateInit))

	conn, err := dialTCP(host, port)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	defer func() {
		if err != nil {
			conn.close()
		}
	}()
	c.state.Store(int32(StateConnecting))

	keepaliveSeconds := uint16(keepalive / time.Second)
	if _, err = conn.Write(mqttproto.EncodeConnect(keepaliveSeconds)); err != nil {
		return nil, fmt.Errorf("broker: send CONNECT: %w", err)
	}

	packetType, body, err := mqttproto.ReadFixedFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("broker: read CONNACK: %w", err)
	}
	if packetType&0xf0 != 0x20 {
		return nil, fmt.Errorf("broker: expected CONNACK, got packet type 0x%02x", packetType)
	}
	if err = mqttproto.DecodeConnack(body); err != nil {
		return nil, err
	}
	c.state.Store(int32(StateConnected))

	if _, err = conn.Write(mqttproto.EncodeSubscribe()); err != nil {
		return nil, fmt.Errorf("broker: send SUBSCRIBE: %w", err)
	}

	packetType, body, err = mqttproto.ReadFixedFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("broker: read SUBACK: %w", err)
	}
	if packetType&0xf0 != 0x90 {
		return nil, fmt.Errorf("broker: expected SUBACK, got packet type 0x%02x", packetType)
	}
	if err = mqttproto.DecodeSuback(body); err != nil {
		return nil, err
	}
	c.state.Store(int32(StateSubscribed))

	wake, err := newSelfWake()
	if err != nil {
		return nil, err
	}
	c.wake = wake
	defer func() {
		if err != nil {
			wake.close()
		}
	}()

	if err = conn.setNonblock(true); err != nil {
		return nil, fmt.Errorf("broker: set nonblocking: %w", err)
	}

	c.lastActivity = clock.Now()
	c.running.Store(true)
	c.state.Store(int32(StateRunning))

	go c.runWorker()

	return c, nil
}

// State reports the client's current lifecycle stage.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the client's lifetime counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Publish validates and enqueues a message for delivery after holdback has
// elapsed, per spec.md §4.D.2. It returns ErrNotRunning once the worker has
// exited.
func (c *Client) Publish(topic string, payload []byte) error {
	if len(topic) > mqttproto.MaxTopicLength {
		return fmt.Errorf("broker: %w", mqttproto.ErrTopicTooLong)
	}
	if 2+len(topic)+len(payload) > mqttproto.MaxRemainingLength {
		return fmt.Errorf("broker: %w", mqttproto.ErrRemainingLengthTooLarge)
	}
	if !c.running.Load() {
		return ErrNotRunning
	}

	msg := outboundMsg{
		sendAt:  c.clock.Now().Add(c.holdback),
		topic:   topic,
		payload: append([]byte(nil), payload...),
	}

	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.queue.enqueue(msg)
	c.mu.Unlock()

	c.wake.signal()
	return nil
}

// Cancel removes queued (not yet drained to the socket) publishes to
// topic, per spec.md §4.D's cancel semantics. It returns the number of
// messages removed; publishes already written to the socket cannot be
// recalled.
func (c *Client) Cancel(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.cancel(topic)
}

// Destroy sends DISCONNECT best-effort, stops the worker, and releases the
// socket and self-wake descriptors. It blocks until the worker has exited.
func (c *Client) Destroy(ctx context.Context) error {
	if c.running.CompareAndSwap(true, false) {
		c.state.Store(int32(StateDraining))
		c.wake.signal()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.conn.close()
	c.wake.close()
	c.state.Store(int32(StateStopped))
	return nil
}

func (c *Client) bumpPublished() {
	c.statsMu.Lock()
	c.stats.Published++
	c.statsMu.Unlock()
}

func (c *Client) bumpReceived() {
	c.statsMu.Lock()
	c.stats.Received++
	c.statsMu.Unlock()
}

func (c *Client) bumpPing() {
	c.statsMu.Lock()
	c.stats.PingsSent++
	c.statsMu.Unlock()
}
