package dsp

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symnet/pkg/converter"
	"symnet/pkg/dspsim"
)

func TestControlValueReadsThroughConverter(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	sim.SetParam(501, 65535)

	dev := NewDevice(conn)
	mute, err := AddControl(ctx, dev, "mute_b1", 501, converter.DefaultButton)
	require.NoError(t, err)

	v, err := mute.Value(ctx)
	require.NoError(t, err)
	assert.True(t, v)

	// Second read is served from cache.
	before := len(sim.CommandsMatching("GS 501"))
	_, err = mute.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, len(sim.CommandsMatching("GS 501")))
}

func TestControlSetWritesThroughConverter(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	dev := NewDevice(conn)
	fader, err := AddControl(ctx, dev, "lobby_fader", 120, converter.DefaultDecibel)
	require.NoError(t, err)

	require.NoError(t, fader.Set(ctx, math.Inf(-1)))

	v, ok := sim.Param(120)
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestControlCacheTracksNotifications(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	dev := NewDevice(conn)
	mute, err := AddControl(ctx, dev, "mute_b2", 502, converter.DefaultButton)
	require.NoError(t, err)

	changed := make(chan bool, 1)
	mute.OnChange(func(v bool) { changed <- v })

	require.NoError(t, conn.Ping(ctx))
	sim.SetParam(502, 65535)

	select {
	case v := <-changed:
		assert.True(t, v)
	case <-time.After(2 * time.Second):
		t.Fatalf("OnChange not invoked")
	}

	raw, known := mute.Raw()
	assert.True(t, known)
	assert.Equal(t, 65535, raw)
}

func TestControlDebouncedSetCoalesces(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	dev := NewDevice(conn)
	sel, err := AddControl(ctx, dev, "source", 130, converter.NewSelector(4))
	require.NoError(t, err)
	sel.SetDebounce(50 * time.Millisecond)

	require.NoError(t, sel.Set(ctx, 1))
	require.NoError(t, sel.Set(ctx, 2))
	require.NoError(t, sel.Set(ctx, 3))

	require.Eventually(t, func() bool {
		v, ok := sim.Param(130)
		return ok && v == 65535
	}, 2*time.Second, 10*time.Millisecond, "only the latest value is written")

	assert.Len(t, sim.CommandsMatching("CSQ 130"), 1)
}

func TestDeviceRegistryAndRemove(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	dev := NewDevice(conn)
	_, err := AddControl(ctx, dev, "mute", 501, converter.DefaultButton)
	require.NoError(t, err)

	_, err = AddControl(ctx, dev, "mute", 502, converter.DefaultButton)
	require.Error(t, err, "duplicate names are rejected")

	h, ok := dev.Control("mute")
	require.True(t, ok)
	assert.Equal(t, 501, h.RCN())

	require.NoError(t, dev.RemoveControl(ctx, "mute"))
	_, ok = dev.Control("mute")
	assert.False(t, ok)
	assert.Equal(t, []string{"PUD 501"}, sim.CommandsMatching("PUD"))
}

func TestDeviceRefreshAll(t *testing.T) {
	sim, conn := startSim(t, dspsim.Options{}, Options{})
	ctx := context.Background()

	sim.SetParam(601, 0)
	sim.SetParam(602, 65535)

	dev := NewDevice(conn)
	a, err := AddControl(ctx, dev, "a", 601, converter.DefaultButton)
	require.NoError(t, err)
	b, err := AddControl(ctx, dev, "b", 602, converter.DefaultButton)
	require.NoError(t, err)

	require.NoError(t, dev.RefreshAll(ctx))

	rawA, knownA := a.Raw()
	rawB, knownB := b.Raw()
	require.True(t, knownA)
	require.True(t, knownB)
	assert.Equal(t, 0, rawA)
	assert.Equal(t, 65535, rawB)
}
