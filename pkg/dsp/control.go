package dsp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"symnet/pkg/converter"
)

// Device groups named controls bound to one connection. It is a convenience
// layer built entirely on the Connection's public operations.
type Device struct {
	conn *Connection

	mu       sync.Mutex
	controls map[string]Handle
}

// Handle is the type-erased view of a registered control.
type Handle interface {
	Name() string
	RCN() int
	// Refresh re-reads the device value into the control's cache.
	Refresh(ctx context.Context) error
}

// NewDevice wraps conn with a named-control registry.
func NewDevice(conn *Connection) *Device {
	return &Device{conn: conn, controls: make(map[string]Handle)}
}

// Connection exposes the underlying connection.
func (d *Device) Connection() *Connection { return d.conn }

// Control looks up a registered control by name.
func (d *Device) Control(name string) (Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.controls[name]
	return h, ok
}

// RefreshAll re-reads every registered control concurrently.
func (d *Device) RefreshAll(ctx context.Context) error {
	d.mu.Lock()
	handles := make([]Handle, 0, len(d.controls))
	for _, h := range d.controls {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error { return h.Refresh(ctx) })
	}
	return g.Wait()
}

// RemoveControl unregisters a control and drops its device subscription.
func (d *Device) RemoveControl(ctx context.Context, name string) error {
	d.mu.Lock()
	h, ok := d.controls[name]
	delete(d.controls, name)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return h.(interface {
		unsubscribe(ctx context.Context) error
	}).unsubscribe(ctx)
}

// AddControl registers a named control backed by rcn, viewed through conv,
// and subscribes to its value changes so the cache tracks the device.
func AddControl[T any](ctx context.Context, d *Device, name string, rcn int, conv converter.Converter[T]) (*Control[T], error) {
	if err := ValidateRCN(rcn); err != nil {
		return nil, err
	}

	ctl := &Control[T]{conn: d.conn, name: name, rcn: rcn, conv: conv}

	d.mu.Lock()
	if _, exists := d.controls[name]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("control %q already registered", name)
	}
	d.controls[name] = ctl
	d.mu.Unlock()

	sub, err := d.conn.Subscribe(ctx, ctl.onUpdate, rcn)
	if err != nil {
		d.mu.Lock()
		delete(d.controls, name)
		d.mu.Unlock()
		return nil, err
	}
	ctl.sub = sub
	return ctl, nil
}

// Control is a named device parameter viewed through a converter. Reads are
// served from a cache kept current by the subscription stream; writes can be
// debounced so rapid successive sets collapse into the latest value.
type Control[T any] struct {
	conn *Connection
	name string
	rcn  int
	conv converter.Converter[T]
	sub  *Subscription

	mu        sync.Mutex
	raw       int
	known     bool
	listeners []func(T)

	debounce   time.Duration
	timer      *time.Timer
	pendingRaw int
	hasPending bool
}

func (c *Control[T]) Name() string { return c.name }
func (c *Control[T]) RCN() int     { return c.rcn }

// SetDebounce enables write debouncing: Set returns immediately and the
// latest value is written once d has elapsed without another Set.
func (c *Control[T]) SetDebounce(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounce = d
}

// Raw returns the cached raw value and whether one is known.
func (c *Control[T]) Raw() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, c.known
}

// Value returns the control's value, reading from the device only when no
// cached value is known.
func (c *Control[T]) Value(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.known {
		v := c.conv.FromRCN(c.raw)
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		var zero T
		return zero, err
	}
	raw, _ := c.Raw()
	return c.conv.FromRCN(raw), nil
}

// Refresh re-reads the device value into the cache.
func (c *Control[T]) Refresh(ctx context.Context) error {
	raw, err := c.conn.GetParam(ctx, c.rcn)
	if err != nil {
		return err
	}
	c.store(raw)
	return nil
}

// Set writes the value through the converter. With debouncing enabled the
// write is deferred and coalesced; errors from deferred writes are logged.
func (c *Control[T]) Set(ctx context.Context, val T) error {
	raw := c.conv.ToRCN(val)

	c.mu.Lock()
	if c.debounce > 0 {
		c.pendingRaw = raw
		c.hasPending = true
		if c.timer == nil {
			c.timer = time.AfterFunc(c.debounce, c.flush)
		} else {
			c.timer.Reset(c.debounce)
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.write(ctx, raw)
}

// OnChange registers fn for converted value changes reported by the device.
// fn runs on the notification path and must not block.
func (c *Control[T]) OnChange(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Control[T]) flush() {
	c.mu.Lock()
	if !c.hasPending {
		c.mu.Unlock()
		return
	}
	raw := c.pendingRaw
	c.hasPending = false
	wait := c.conn.opts.CommandTimeout + time.Second
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := c.write(ctx, raw); err != nil {
		c.conn.log.Warn("debounced write failed",
			zap.String("control", c.name), zap.Int("rcn", c.rcn), zap.Error(err))
	}
}

func (c *Control[T]) write(ctx context.Context, raw int) error {
	if err := c.conn.SetParam(ctx, c.rcn, raw); err != nil {
		return err
	}
	c.store(raw)
	return nil
}

func (c *Control[T]) store(raw int) {
	c.mu.Lock()
	c.raw = raw
	c.known = true
	c.mu.Unlock()
}

// onUpdate is the control's subscription callback.
func (c *Control[T]) onUpdate(_, value int) {
	c.mu.Lock()
	c.raw = value
	c.known = true
	listeners := make([]func(T), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	v := c.conv.FromRCN(value)
	for _, fn := range listeners {
		fn(v)
	}
}

func (c *Control[T]) unsubscribe(ctx context.Context) error {
	return c.conn.Unsubscribe(ctx, c.sub)
}
