package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// NotificationSentinel prefixes unsolicited parameter-update lines.
const NotificationSentinel byte = '#'

// NotifyFunc receives unsolicited parameter updates in arrival order.
type NotifyFunc func(rcn, value int)

// Entry pairs a literal command string with its Task.
type Entry struct {
	Command string
	Task    Task
}

// Engine owns one live connection: it sends queued commands one at a time,
// reads the inbound line stream, and classifies each line as either the
// in-flight task's next reply line or an unsolicited update.
//
// The queue and the in-flight entry are owned exclusively by the engine;
// all access goes through its methods.
type Engine struct {
	mu      sync.Mutex
	conn    net.Conn
	framer  Framer
	queue   []Entry
	current *Entry

	notify NotifyFunc
	log    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewEngine wraps conn and starts its read loop. notify is invoked for every
// unsolicited update; it must not block for long, since it runs on the read
// path.
func NewEngine(conn net.Conn, notify NotifyFunc, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		conn:   conn,
		notify: notify,
		log:    log,
		closed: make(chan struct{}),
	}
	go e.readLoop()
	return e
}

// QueueTask appends the command to the tail of the queue and sends it
// immediately when nothing is in flight.
func (e *Engine) QueueTask(command string, task Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Debug("queued", zap.String("command", command))
	e.queue = append(e.queue, Entry{Command: command, Task: task})
	e.drainLocked()
}

// QueueTaskImmediate prepends the command to the head of the queue. Retries
// use this so they preempt ordinary traffic.
func (e *Engine) QueueTaskImmediate(command string, task Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Debug("queued immediate", zap.String("command", command))
	e.queue = append([]Entry{{Command: command, Task: task}}, e.queue...)
	e.drainLocked()
}

// Abandon removes task from the engine, whether still queued or in flight,
// freeing the in-flight slot for the next command. A late reply to an
// abandoned in-flight command routes to whichever task is current when the
// reply arrives.
func (e *Engine) Abandon(task Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.Task == task {
		e.log.Debug("abandoning in-flight command", zap.String("command", e.current.Command))
		e.current = nil
		e.drainLocked()
		return
	}
	for i, ent := range e.queue {
		if ent.Task == task {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// drainLocked sends the head of the queue when no task is in flight.
// Caller holds e.mu. Commands are single short lines, so the write under
// the lock is absorbed by the socket send buffer and cannot stall inbound
// classification for long.
func (e *Engine) drainLocked() {
	if e.current != nil || len(e.queue) == 0 {
		return
	}
	ent := e.queue[0]
	e.queue = e.queue[1:]
	e.current = &ent

	e.log.Debug("sending", zap.String("command", ent.Command))
	if _, err := e.conn.Write([]byte(ent.Command + "\r")); err != nil {
		// The entry stays current so PendingWork hands it to the
		// replacement connection.
		e.closeWithErr(err)
	}
}

// PendingWork returns every unresolved (command, task) pair, the unsettled
// in-flight entry first, and empties the engine. Used to hand work to a
// replacement connection.
func (e *Engine) PendingWork() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := make([]Entry, 0, len(e.queue)+1)
	if e.current != nil && !Settled(e.current.Task) {
		entries = append(entries, *e.current)
	}
	e.current = nil
	entries = append(entries, e.queue...)
	e.queue = nil
	return entries
}

// Closed is closed once the connection is severed, by error or by Close.
func (e *Engine) Closed() <-chan struct{} { return e.closed }

// Err returns the severing error, nil for a clean Close. Valid only after
// Closed fires.
func (e *Engine) Err() error { return e.closeErr }

// Close tears the connection down. Queued work remains extractable through
// PendingWork.
func (e *Engine) Close() error {
	e.closeWithErr(nil)
	return nil
}

func (e *Engine) closeWithErr(err error) {
	e.closeOnce.Do(func() {
		e.closeErr = err
		_ = e.conn.Close()
		close(e.closed)
	})
}

func (e *Engine) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			for _, line := range e.framer.Push(buf[:n]) {
				e.onLine(line)
			}
		}
		if err != nil {
			e.closeWithErr(err)
			return
		}
	}
}

// onLine classifies one inbound line. A line starting with the notification
// sentinel is an unsolicited update unless the in-flight task claims the
// update format; anything else belongs to the in-flight task, with NAK
// failing it outright.
func (e *Engine) onLine(line string) {
	if line == "" {
		return
	}
	e.log.Debug("processing line", zap.String("line", line))

	e.mu.Lock()
	var task Task
	if e.current != nil {
		task = e.current.Task
	}

	if (task == nil || !task.ExpectsUpdateFormat()) && line[0] == NotificationSentinel {
		e.mu.Unlock()
		rcn, val, err := parseUpdate(line)
		if err != nil {
			e.log.Debug("malformed update", zap.String("line", line), zap.Error(err))
			return
		}
		if val == NoValue {
			// Should never occur; the device does not report unset
			// values unsolicited.
			return
		}
		if e.notify != nil {
			e.notify(rcn, val)
		}
		return
	}

	if task == nil {
		e.mu.Unlock()
		e.log.Debug("dropping line with no task in flight", zap.String("line", line))
		return
	}

	if strings.EqualFold(line, "NAK") {
		task.Fail(ErrRejected)
	} else {
		task.HandleLine(line)
	}

	if Settled(task) {
		e.current = nil
		e.drainLocked()
	}
	e.mu.Unlock()
}

// parseUpdate parses "#<rcn>=<val>".
func parseUpdate(line string) (rcn, val int, err error) {
	body := line[1:]
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return 0, 0, fmt.Errorf("missing '=' in %q", line)
	}
	rcn, err = strconv.Atoi(body[:eq])
	if err != nil {
		return 0, 0, fmt.Errorf("bad parameter number in %q", line)
	}
	val, err = strconv.Atoi(body[eq+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("bad value in %q", line)
	}
	return rcn, val, nil
}
