package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerFiresOncePerKey(t *testing.T) {
	d := newDebouncer()
	var fired atomic.Int32

	d.arm("k", 10*time.Millisecond, func() { fired.Add(1) })
	require.True(t, d.pending("k"))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, d.pending("k"))
}

func TestDebouncerRearmReplacesPendingTimer(t *testing.T) {
	d := newDebouncer()
	var first, second atomic.Int32

	d.arm("k", 15*time.Millisecond, func() { first.Add(1) })
	d.arm("k", 15*time.Millisecond, func() { second.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "a replaced timer must not fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestDebouncerCancelDropsTimer(t *testing.T) {
	d := newDebouncer()
	var fired atomic.Int32

	d.arm("k", 10*time.Millisecond, func() { fired.Add(1) })
	d.cancel("k")

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, d.pending("k"))
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := newDebouncer()
	var a, b atomic.Int32

	d.arm("scene/a", 10*time.Millisecond, func() { a.Add(1) })
	d.arm("scene/b", 10*time.Millisecond, func() { b.Add(1) })
	d.cancel("scene/a")

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestDebouncerCancelAll(t *testing.T) {
	d := newDebouncer()
	var fired atomic.Int32

	for _, key := range []string{"a", "b", "c"} {
		d.arm(key, 10*time.Millisecond, func() { fired.Add(1) })
	}
	d.cancelAll()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
