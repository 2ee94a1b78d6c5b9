// Package mqttmount wires a topictree.Tree, a broker.Client, and an
// fsadapter.Server together into the running mount described in
// spec.md §1: a kernel device presenting a live view of an MQTT broker's
// topic namespace.
package mqttmount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"golang.org/x/sync/errgroup"

	"github.com/mqttmount/mqttmount/broker"
	"github.com/mqttmount/mqttmount/fsadapter"
	"github.com/mqttmount/mqttmount/internal/tracelog"
	"github.com/mqttmount/mqttmount/topictree"
)

// publishSink forwards broker PUBLISH frames to a Filesystem that does
// not exist yet at the point the broker.Client must be constructed:
// broker.Create starts the client's worker goroutine, which can invoke
// the callback, before it returns, and the Filesystem in turn needs the
// already-constructed *broker.Client to publish WRITEs. The sink breaks
// that cycle with a mutex-guarded forwarding pointer set once both sides
// exist (see Context.Run). Frames that arrive before then are stored
// straight into the tree; no handle can be open yet, so there is nothing
// to wake.
type publishSink struct {
	mu   sync.Mutex
	fs   *Filesystem
	tree *topictree.Tree
}

func (s *publishSink) set(fs *Filesystem) {
	s.mu.Lock()
	s.fs = fs
	s.mu.Unlock()
}

func (s *publishSink) onPublish(topic string, payload []byte) {
	s.mu.Lock()
	fs := s.fs
	s.mu.Unlock()
	if fs != nil {
		fs.OnBrokerPublish(topic, payload)
		return
	}
	_, _ = s.tree.InsertPath(topic, payload)
}

// Context owns the whole running mount: the in-memory topic tree, the
// broker connection, and the kernel device server, per spec.md §1's
// top-level component list. The zero value needs its exported fields
// populated before Run is called: Host, Port, Keepalive, Holdback and
// Device are used as given, while a nil Logger falls back to
// slog.Default() and a nil Clock to timeutil.RealClock().
type Context struct {
	Host      string
	Port      uint16
	Keepalive time.Duration
	Holdback  time.Duration

	Device fsadapter.Device
	Logger *slog.Logger
	Clock  timeutil.Clock

	// Debug enables wire-level request/response tracing to stderr
	// (spec.md §6), the narrow low-level tracer internal/tracelog
	// provides separately from Logger's operational logging.
	Debug bool

	tree   *topictree.Tree
	client *broker.Client
	fs     *Filesystem
	server *fsadapter.Server
}

// Run connects to the broker, wires the filesystem adapter, and serves
// the kernel device until ctx is canceled or either the broker
// connection or the device loop fails. It blocks until both have
// stopped, and treats ctx's own cancellation as a clean shutdown rather
// than an error.
func (c *Context) Run(ctx context.Context) error {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c.tree = topictree.New(clock)

	sink := &publishSink{tree: c.tree}
	client, err := broker.Create(ctx, clock, c.Host, c.Port, c.Keepalive, c.Holdback, sink.onPublish)
	if err != nil {
		return fmt.Errorf("mqttmount: connect to broker: %w", err)
	}
	c.client = client

	c.fs = NewFilesystem(c.tree, client)
	sink.set(c.fs)

	c.server = fsadapter.NewServer(c.Device, c.fs, logger)
	c.server.SetTracer(tracelog.New(c.Debug))
	c.fs.SetNotifier(c.server.NotifyPollWakeup)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.server.Serve(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		return c.client.Destroy(context.Background())
	})

	err = group.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("mqttmount stopped", "error", err, "stats", c.client.Stats())
	return err
}

// Tree returns the running context's topic tree, for tests and
// diagnostics.
func (c *Context) Tree() *topictree.Tree { return c.tree }

// Broker returns the running context's broker client, for tests and
// diagnostics.
func (c *Context) Broker() *broker.Client { return c.client }
