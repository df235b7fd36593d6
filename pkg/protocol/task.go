package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// NoValue is the device's sentinel for "no value at this parameter".
const NoValue = -1

// EndOfReply terminates a multi-line reply.
const EndOfReply = ">"

// Task is the expected-reply contract of one issued command. A Task settles
// exactly once, to either a result or an error, and is never reused: a
// retried command gets a brand-new Task.
//
// Lines are routed to a Task only by the engine that owns the connection,
// so HandleLine needs no internal locking.
type Task interface {
	// HandleLine consumes the next reply line routed to this task.
	HandleLine(line string)

	// ExpectsUpdateFormat reports whether a reply beginning with the
	// notification sentinel is data for this task rather than an
	// unsolicited update. No shipped command sets this; it is a reserved
	// extension point.
	ExpectsUpdateFormat() bool

	// Fail settles the task with err unless it is already settled.
	Fail(err error)

	// Done is closed once the task settles.
	Done() <-chan struct{}

	// Err returns the settling error, or nil on success. Valid only
	// after Done is closed.
	Err() error
}

// completion is a single-assignment result cell: it settles exactly once
// and signals completion by closing done.
type completion struct {
	done chan struct{}
	err  error
}

func newCompletion() completion {
	return completion{done: make(chan struct{})}
}

func (c *completion) Done() <-chan struct{} { return c.done }

func (c *completion) Err() error { return c.err }

func (c *completion) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *completion) succeed() {
	if !c.settled() {
		close(c.done)
	}
}

func (c *completion) fail(err error) {
	if !c.settled() {
		c.err = err
		close(c.done)
	}
}

// taskBase carries the completion cell and the update-format flag shared by
// every task variant.
type taskBase struct {
	completion
	updateFormat bool
}

func (t *taskBase) ExpectsUpdateFormat() bool { return t.updateFormat }

func (t *taskBase) Fail(err error) { t.fail(err) }

// Settled reports whether t has reached a terminal state.
func Settled(t Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// AckTask expects a single ACK line and carries no result.
type AckTask struct {
	taskBase
}

func NewAckTask() *AckTask {
	return &AckTask{taskBase{completion: newCompletion()}}
}

func (t *AckTask) HandleLine(line string) {
	if line == "ACK" {
		t.succeed()
		return
	}
	t.fail(fmt.Errorf("%w: %q", ErrUnexpectedReply, line))
}

// StringTask expects a single free-text line.
type StringTask struct {
	taskBase
	value string
}

func NewStringTask() *StringTask {
	return &StringTask{taskBase: taskBase{completion: newCompletion()}}
}

func (t *StringTask) HandleLine(line string) {
	t.value = line
	t.succeed()
}

// Value returns the reply line. Valid only after Done.
func (t *StringTask) Value() string { return t.value }

// MultiStringTask accumulates lines until the end-of-reply marker.
type MultiStringTask struct {
	taskBase
	values []string
}

func NewMultiStringTask() *MultiStringTask {
	return &MultiStringTask{taskBase: taskBase{completion: newCompletion()}}
}

func (t *MultiStringTask) HandleLine(line string) {
	if line == EndOfReply {
		t.succeed()
		return
	}
	t.values = append(t.values, line)
}

// Values returns the accumulated lines. Valid only after Done.
func (t *MultiStringTask) Values() []string { return t.values }

// ValueTask expects a single decimal integer line.
type ValueTask struct {
	taskBase
	value int
}

func NewValueTask() *ValueTask {
	return &ValueTask{taskBase: taskBase{completion: newCompletion()}}
}

func (t *ValueTask) HandleLine(line string) {
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		t.fail(fmt.Errorf("%w: %q is not an integer", ErrUnexpectedReply, line))
		return
	}
	t.value = v
	t.succeed()
}

// Value returns the parsed integer. Valid only after Done.
func (t *ValueTask) Value() int { return t.value }

// MultiValueTask expects exactly count integer lines, assigning line i to
// parameter start+i. A NoValue line leaves that parameter out of the result
// but still advances the index; the task settles only after count lines.
type MultiValueTask struct {
	taskBase
	start  int
	count  int
	line   int
	values map[int]int
}

func NewMultiValueTask(start, count int) *MultiValueTask {
	return &MultiValueTask{
		taskBase: taskBase{completion: newCompletion()},
		start:    start,
		count:    count,
		values:   make(map[int]int, count),
	}
}

func (t *MultiValueTask) HandleLine(line string) {
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		t.fail(fmt.Errorf("%w: %q is not an integer", ErrUnexpectedReply, line))
		return
	}
	rcn := t.start + t.line
	t.line++
	if v != NoValue {
		t.values[rcn] = v
	}
	if t.line == t.count {
		t.succeed()
	}
}

// Values returns the parameter-to-value mapping. Valid only after Done.
func (t *MultiValueTask) Values() map[int]int { return t.values }
