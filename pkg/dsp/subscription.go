package dsp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WildcardRCN is the reserved subscription-table key meaning "deliver every
// notification regardless of parameter". It is not a device parameter and
// never reaches the wire.
const WildcardRCN = 0

// Subscription is the handle returned by Subscribe and consumed by
// Unsubscribe. Go functions are not comparable, so the handle stands in for
// the callback identity.
type Subscription struct {
	id   int
	keys []int
}

// subscriptionTable maps parameter numbers (plus the wildcard key) to
// callback sets. Owned exclusively by the Connection; the engine reaches it
// only through the notification callback.
type subscriptionTable struct {
	mu    sync.Mutex
	next  int
	byRCN map[int]map[int]Callback
}

func (t *subscriptionTable) init() {
	t.byRCN = make(map[int]map[int]Callback)
}

func (t *subscriptionTable) add(keys []int, cb Callback) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	for _, k := range keys {
		set, ok := t.byRCN[k]
		if !ok {
			set = make(map[int]Callback)
			t.byRCN[k] = set
		}
		set[id] = cb
	}
	return &Subscription{id: id, keys: keys}
}

// remove drops the subscription and reports the device parameters whose
// callback set became empty.
func (t *subscriptionTable) remove(sub *Subscription) (emptied []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range sub.keys {
		set, ok := t.byRCN[k]
		if !ok {
			continue
		}
		delete(set, sub.id)
		if len(set) == 0 {
			delete(t.byRCN, k)
			if k != WildcardRCN {
				emptied = append(emptied, k)
			}
		}
	}
	return emptied
}

// deviceParams returns every subscribed parameter, wildcard excluded.
func (t *subscriptionTable) deviceParams() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	params := make([]int, 0, len(t.byRCN))
	for k := range t.byRCN {
		if k != WildcardRCN {
			params = append(params, k)
		}
	}
	return params
}

// callbacksFor snapshots the callbacks registered for rcn plus the wildcard.
func (t *subscriptionTable) callbacksFor(rcn int) []Callback {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cbs []Callback
	for _, cb := range t.byRCN[rcn] {
		cbs = append(cbs, cb)
	}
	if rcn != WildcardRCN {
		for _, cb := range t.byRCN[WildcardRCN] {
			cbs = append(cbs, cb)
		}
	}
	return cbs
}

// Subscribe registers cb for value changes of the given parameters. With no
// parameters the wildcard is substituted and cb receives every notification;
// explicitly passed parameters are validated against the device range first.
// The device-side subscription set is reconciled before Subscribe returns.
func (c *Connection) Subscribe(ctx context.Context, cb Callback, params ...int) (*Subscription, error) {
	keys, err := subscriptionKeys(params)
	if err != nil {
		return nil, err
	}
	sub := c.subs.add(keys, cb)
	if err := c.reconcile(ctx, nil); err != nil {
		return sub, err
	}
	return sub, nil
}

// Unsubscribe removes a subscription. Parameters left without any callback
// are unsubscribed on the device.
func (c *Connection) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	emptied := c.subs.remove(sub)
	return c.reconcile(ctx, emptied)
}

// subscriptionKeys substitutes the wildcard for an empty selector, then
// validates every explicit parameter.
func subscriptionKeys(params []int) ([]int, error) {
	if len(params) == 0 {
		return []int{WildcardRCN}, nil
	}
	keys := make([]int, 0, len(params))
	for _, p := range params {
		if err := ValidateRCN(p); err != nil {
			return nil, err
		}
		keys = append(keys, p)
	}
	return keys, nil
}

// reconcile aligns the device's subscription set with the local table: one
// unsubscribe per emptied parameter, then one range-subscribe per maximal
// consecutive run of the surviving parameters. All commands run concurrently
// and reconcile returns once every one has completed or failed.
//
// Removal and re-subscription are not atomic with respect to the device's
// notification stream; a transitional parameter may briefly be neither
// requested nor suppressed.
func (c *Connection) reconcile(ctx context.Context, removed []int) error {
	var g errgroup.Group

	for _, rcn := range removed {
		rcn := rcn
		g.Go(func() error {
			return c.doAck(ctx, fmt.Sprintf("PUD %d", rcn), c.opts.RetryLimit)
		})
	}
	for _, r := range coalesceRanges(c.subs.deviceParams()) {
		msg := fmt.Sprintf("PUE %d", r.start)
		if r.end != r.start {
			msg = fmt.Sprintf("PUE %d %d", r.start, r.end)
		}
		g.Go(func() error {
			return c.doAck(ctx, msg, c.opts.RetryLimit)
		})
	}
	return g.Wait()
}

// publish delivers an update to every callback registered for rcn plus the
// wildcard set. A panicking callback is logged and cannot break delivery to
// the others.
func (c *Connection) publish(rcn, value int) {
	c.metrics.notifications.Inc()
	for _, cb := range c.subs.callbacksFor(rcn) {
		c.invoke(cb, rcn, value)
	}
}

func (c *Connection) invoke(cb Callback, rcn, value int) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("subscriber callback panicked",
				zap.Int("rcn", rcn), zap.Any("panic", r))
		}
	}()
	cb(rcn, value)
}
