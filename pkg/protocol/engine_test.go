package protocol

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// testDevice is the far side of a net.Pipe posing as the DSP.
type testDevice struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func newTestEngine(t *testing.T, notify NotifyFunc) (*Engine, *testDevice) {
	t.Helper()
	client, device := net.Pipe()
	e := NewEngine(client, notify, zaptest.NewLogger(t))
	t.Cleanup(func() {
		_ = e.Close()
		_ = device.Close()
	})
	return e, &testDevice{t: t, conn: device, br: bufio.NewReader(device)}
}

// expectCommand reads the next CR-terminated command from the engine.
func (d *testDevice) expectCommand(want string) {
	d.t.Helper()
	_ = d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := d.br.ReadString('\r')
	if err != nil {
		d.t.Fatalf("reading command: %v", err)
	}
	got := line[:len(line)-1]
	if got != want {
		d.t.Fatalf("command mismatch: got %q want %q", got, want)
	}
}

func (d *testDevice) send(raw string) {
	d.t.Helper()
	_ = d.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := d.conn.Write([]byte(raw)); err != nil {
		d.t.Fatalf("writing to engine: %v", err)
	}
}

func waitSettled(t *testing.T, task Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not settle in time")
	}
}

func TestEngineFIFOOrder(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	t1 := NewValueTask()
	t2 := NewValueTask()
	t3 := NewValueTask()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.QueueTask("GS 1", t1)
		e.QueueTask("GS 2", t2)
		e.QueueTask("GS 3", t3)
	}()

	dev.expectCommand("GS 1")
	if Settled(t1) || Settled(t2) {
		t.Fatalf("no task may settle before its reply")
	}
	dev.send("10\r")
	waitSettled(t, t1)

	dev.expectCommand("GS 2")
	dev.send("20\r")
	waitSettled(t, t2)

	dev.expectCommand("GS 3")
	dev.send("30\r")
	waitSettled(t, t3)

	<-done
	if t1.Value() != 10 || t2.Value() != 20 || t3.Value() != 30 {
		t.Fatalf("values mismatch: %d %d %d", t1.Value(), t2.Value(), t3.Value())
	}
}

func TestEngineImmediatePreemptsQueued(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	inflight := NewValueTask()
	queued := NewAckTask()
	retry := NewValueTask()

	go e.QueueTask("GS 1", inflight)
	dev.expectCommand("GS 1")

	// While GS 1 is unanswered, an ordinary and then a priority command
	// arrive. The priority command must be sent first.
	e.QueueTask("LP 2", queued)
	e.QueueTaskImmediate("GS 1", retry)

	dev.send("5\r")
	waitSettled(t, inflight)

	dev.expectCommand("GS 1")
	dev.send("5\r")
	waitSettled(t, retry)
	if Settled(queued) {
		t.Fatalf("queued task settled before priority task completed")
	}

	dev.expectCommand("LP 2")
	dev.send("ACK\r")
	waitSettled(t, queued)
}

func TestEngineNotificationWithNoTaskInFlight(t *testing.T) {
	type update struct{ rcn, val int }
	got := make(chan update, 1)
	_, dev := newTestEngine(t, func(rcn, val int) {
		got <- update{rcn, val}
	})

	dev.send("#55=200\r")

	select {
	case u := <-got:
		if u.rcn != 55 || u.val != 200 {
			t.Fatalf("update mismatch: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestEngineNotificationInterleavedWithReply(t *testing.T) {
	type update struct{ rcn, val int }
	got := make(chan update, 1)
	e, dev := newTestEngine(t, func(rcn, val int) {
		got <- update{rcn, val}
	})

	task := NewValueTask()
	go e.QueueTask("GS 7", task)
	dev.expectCommand("GS 7")

	// A push for another parameter lands before the reply; it must go to
	// the notification path, not the task.
	dev.send("#5=9\r42\r")

	waitSettled(t, task)
	if task.Value() != 42 {
		t.Fatalf("task consumed the wrong line: %d", task.Value())
	}
	select {
	case u := <-got:
		if u.rcn != 5 || u.val != 9 {
			t.Fatalf("update mismatch: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestEngineNoValueUpdateIsDropped(t *testing.T) {
	got := make(chan struct{}, 1)
	_, dev := newTestEngine(t, func(rcn, val int) {
		got <- struct{}{}
	})

	dev.send("#5=-1\r#6=1\r")

	// Only the second update may arrive.
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("valid update not delivered")
	}
	select {
	case <-got:
		t.Fatalf("sentinel-valued update must be a no-op")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineNAKFailsTask(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	task := NewAckTask()
	go e.QueueTask("CS 5 70000", task)
	dev.expectCommand("CS 5 70000")
	dev.send("nak\r")

	waitSettled(t, task)
	if !errors.Is(task.Err(), ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", task.Err())
	}
}

func TestEngineAbandonedTaskFreesQueue(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	stuck := NewValueTask()
	next := NewValueTask()

	go e.QueueTask("GS 1", stuck)
	dev.expectCommand("GS 1")
	e.QueueTask("GS 2", next)

	// The device never answers GS 1. Abandoning it must let GS 2 transmit,
	// and the reply that follows routes to GS 2's task.
	go e.Abandon(stuck)
	dev.expectCommand("GS 2")
	dev.send("7\r")

	waitSettled(t, next)
	if next.Value() != 7 {
		t.Fatalf("reply routed to the wrong task: %d", next.Value())
	}
	if Settled(stuck) {
		t.Fatalf("abandoned task must stay unsettled")
	}
}

func TestEngineAbandonRemovesQueuedTask(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	inflight := NewValueTask()
	queued := NewAckTask()

	go e.QueueTask("GS 1", inflight)
	dev.expectCommand("GS 1")
	e.QueueTask("LP 2", queued)

	e.Abandon(queued)

	if work := e.PendingWork(); len(work) != 1 || work[0].Command != "GS 1" {
		t.Fatalf("abandoned queued entry must be removed: %+v", work)
	}
}

func TestEnginePendingWorkOrder(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	inflight := NewValueTask()
	q1 := NewAckTask()
	q2 := NewAckTask()

	go e.QueueTask("GS 1", inflight)
	dev.expectCommand("GS 1")
	e.QueueTask("CSQ 2 1", q1)
	e.QueueTask("CSQ 3 1", q2)

	work := e.PendingWork()
	if len(work) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(work))
	}
	if work[0].Command != "GS 1" || work[1].Command != "CSQ 2 1" || work[2].Command != "CSQ 3 1" {
		t.Fatalf("pending order mismatch: %+v", work)
	}

	// A second extraction returns nothing.
	if again := e.PendingWork(); len(again) != 0 {
		t.Fatalf("expected drained engine, got %+v", again)
	}
}

func TestEnginePendingWorkSkipsSettledInflight(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	inflight := NewValueTask()
	go e.QueueTask("GS 1", inflight)
	dev.expectCommand("GS 1")
	dev.send("4\r")
	waitSettled(t, inflight)

	if work := e.PendingWork(); len(work) != 0 {
		t.Fatalf("settled task must not be redelivered: %+v", work)
	}
}

func TestEngineClosedOnPeerDisconnect(t *testing.T) {
	e, dev := newTestEngine(t, nil)

	_ = dev.conn.Close()

	select {
	case <-e.Closed():
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not observe connection loss")
	}
	if e.Err() == nil {
		t.Fatalf("expected a severing error")
	}
}
