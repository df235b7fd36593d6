package dsp

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"symnet/pkg/dspsim"
)

func TestSubscribeIssuesCoalescedRanges(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})

	_, err := conn.Subscribe(context.Background(), func(int, int) {}, 3, 4, 5, 9, 10, 12)
	require.NoError(t, err)

	got := sim.CommandsMatching("PUE")
	sort.Strings(got)
	assert.Equal(t, []string{"PUE 12", "PUE 3 5", "PUE 9 10"}, got)
	assert.Empty(t, sim.CommandsMatching("PUD"))
}

func TestUnsubscribeIssuesExactRemovals(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	sub, err := conn.Subscribe(ctx, func(int, int) {}, 3, 4)
	require.NoError(t, err)
	keep, err := conn.Subscribe(ctx, func(int, int) {}, 4)
	require.NoError(t, err)

	require.NoError(t, conn.Unsubscribe(ctx, sub))

	// 3 lost its last callback; 4 is still held by keep.
	assert.Equal(t, []string{"PUD 3"}, sim.CommandsMatching("PUD"))

	require.NoError(t, conn.Unsubscribe(ctx, keep))
	got := sim.CommandsMatching("PUD")
	sort.Strings(got)
	assert.Equal(t, []string{"PUD 3", "PUD 4"}, got)
}

func TestNotificationFanOut(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	specific := make(chan int, 1)
	wildcard := make(chan int, 1)

	_, err := conn.Subscribe(ctx, func(rcn, val int) { specific <- val }, 101)
	require.NoError(t, err)
	_, err = conn.Subscribe(ctx, func(rcn, val int) { wildcard <- val })
	require.NoError(t, err)

	// Round trip to make sure the simulator registered the client before
	// it pushes.
	require.NoError(t, conn.Ping(ctx))

	sim.SetParam(101, 200)

	for name, ch := range map[string]chan int{"specific": specific, "wildcard": wildcard} {
		select {
		case v := <-ch:
			assert.Equal(t, 200, v, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s callback not invoked", name)
		}
	}
}

func TestWildcardOnlySubscriptionTouchesNoParams(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})

	_, err := conn.Subscribe(context.Background(), func(int, int) {})
	require.NoError(t, err)

	assert.Empty(t, sim.CommandsMatching("PUE"), "the wildcard never reaches the wire")
}

func TestPublishSurvivesPanickingCallback(t *testing.T) {
	conn := New("127.0.0.1", Options{Logger: zaptest.NewLogger(t)})

	delivered := false
	conn.subs.add([]int{5}, func(int, int) { panic("boom") })
	conn.subs.add([]int{5}, func(int, int) { delivered = true })

	conn.publish(5, 9)
	assert.True(t, delivered, "one faulty subscriber cannot break delivery")
}

func TestPublishWildcardReceivesEverything(t *testing.T) {
	conn := New("127.0.0.1", Options{Logger: zaptest.NewLogger(t)})

	var got []int
	conn.subs.add([]int{WildcardRCN}, func(rcn, val int) { got = append(got, rcn) })

	conn.publish(1, 10)
	conn.publish(9999, 20)
	assert.Equal(t, []int{1, 9999}, got)
}
