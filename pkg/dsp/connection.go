package dsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"symnet/pkg/protocol"
	"symnet/pkg/transport"
)

// DefaultPort is the device's control port.
const DefaultPort = 48631

// Defaults applied by New for zero-valued options.
const (
	DefaultDialTimeout    = 5 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultRetryLimit     = 3
)

// Options configures a Connection. Zero values select defaults.
type Options struct {
	// Port is the device control port (DefaultPort when 0).
	Port int

	// Transport selects TCP or UDP (TCP when unset).
	Transport transport.Kind

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// CommandTimeout bounds each command attempt.
	CommandTimeout time.Duration

	// RetryLimit is the number of attempts for retried commands (reads
	// and subscription maintenance). Mutating commands are issued once.
	RetryLimit int

	// Logger for connection and engine events. Defaults to the global
	// zap logger.
	Logger *zap.Logger

	// Registerer for the connection's Prometheus counters. Nil keeps the
	// counters unregistered.
	Registerer prometheus.Registerer
}

// Callback receives a parameter number and its new value.
type Callback func(rcn, value int)

// Connection is a reconnect-transparent client for one DSP. It connects
// lazily on the first command, preserves queued work across connection loss,
// and owns the parameter subscription table.
type Connection struct {
	host string
	opts Options

	log     *zap.Logger
	metrics *metrics

	// mu guards engine and pending, and serializes connection
	// establishment so concurrent callers collapse onto one connect.
	mu      chanMutex
	engine  *protocol.Engine
	pending []protocol.Entry

	// versionMu is held across the whole version fetch so concurrent first
	// callers collapse onto one query. Code holding mu never takes it.
	versionMu sync.Mutex
	version   []string

	subs subscriptionTable
}

// chanMutex is a channel-based mutex so lock acquisition can be abandoned
// when the caller's context ends while another caller is mid-connect.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

// New creates a Connection to host. No I/O happens until the first command
// or an explicit Connect.
func New(host string, opts Options) *Connection {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	c := &Connection{
		host:    host,
		opts:    opts,
		log:     log.With(zap.String("dsp", transport.Address(host, opts.Port))),
		metrics: newMetrics(opts.Registerer, transport.Address(host, opts.Port)),
		mu:      make(chanMutex, 1),
	}
	c.subs.init()
	return c
}

// Host returns the configured device host.
func (c *Connection) Host() string { return c.host }

// Connect establishes the connection eagerly.
func (c *Connection) Connect(ctx context.Context) error {
	_, err := c.getConnection(ctx)
	return err
}

// Disconnect tears down the live connection, if any. Queued work is kept
// for redelivery on the next connect.
func (c *Connection) Disconnect(ctx context.Context) error {
	if err := c.mu.lock(ctx); err != nil {
		return err
	}
	eng := c.engine
	c.mu.unlock()
	if eng == nil {
		return nil
	}

	c.log.Debug("user initiated disconnect")
	_ = eng.Close()
	select {
	case <-eng.Closed():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.connLost(eng)
	return nil
}

// getConnection returns the live engine, establishing one when absent. Work
// captured from a lost connection is re-enqueued, in order, ahead of new
// traffic on the fresh engine.
func (c *Connection) getConnection(ctx context.Context) (*protocol.Engine, error) {
	if err := c.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.unlock()

	if c.engine != nil {
		return c.engine, nil
	}

	addr := transport.Address(c.host, c.opts.Port)
	c.log.Debug("connecting", zap.Stringer("transport", c.opts.Transport))

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, err := transport.Dial(dctx, c.opts.Transport, addr)
	if err != nil {
		return nil, err
	}

	eng := protocol.NewEngine(conn, c.publish, c.log)
	c.metrics.connects.Inc()
	c.log.Debug("connected", zap.Int("requeued", len(c.pending)))

	for _, ent := range c.pending {
		eng.QueueTask(ent.Command, ent.Task)
	}
	c.pending = nil
	c.engine = eng

	go c.watch(eng)
	return eng, nil
}

// watch captures pending work once the engine's connection is severed, so
// the next getConnection transparently redelivers it.
func (c *Connection) watch(eng *protocol.Engine) {
	<-eng.Closed()
	c.connLost(eng)
}

func (c *Connection) connLost(eng *protocol.Engine) {
	_ = c.mu.lock(context.Background())
	defer c.mu.unlock()
	if c.engine != eng {
		return
	}
	c.pending = append(c.pending, eng.PendingWork()...)
	c.engine = nil
	c.log.Debug("connection lost",
		zap.Error(eng.Err()), zap.Int("pending", len(c.pending)))
}

// do runs the per-command retry loop: each attempt constructs a fresh task
// via factory, submits it (with queue priority on retries), and waits for
// completion bounded by the command timeout. The first success wins; after
// exhausting attempts the last error surfaces.
func (c *Connection) do(ctx context.Context, msg string, factory func() protocol.Task, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.retries.Inc()
		}
		c.log.Debug("attempt",
			zap.String("command", msg),
			zap.Int("n", attempt+1), zap.Int("of", attempts))

		task := factory()
		eng, err := c.getConnection(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		if attempt == 0 {
			eng.QueueTask(msg, task)
		} else {
			eng.QueueTaskImmediate(msg, task)
		}
		c.metrics.commands.Inc()

		timer := time.NewTimer(c.opts.CommandTimeout)
		select {
		case <-task.Done():
			timer.Stop()
			if err := task.Err(); err != nil {
				if errors.Is(err, protocol.ErrRejected) {
					c.metrics.rejections.Inc()
				}
				lastErr = err
				continue
			}
			return nil
		case <-timer.C:
			c.metrics.timeouts.Inc()
			// Release the in-flight slot so the retry (and commands
			// behind it) can transmit; a late reply for the abandoned
			// attempt routes to whichever task is current when it
			// arrives.
			eng.Abandon(task)
			lastErr = fmt.Errorf("%w: %s", ErrTimeout, msg)
		case <-ctx.Done():
			timer.Stop()
			eng.Abandon(task)
			return ctx.Err()
		}
	}
	return lastErr
}
