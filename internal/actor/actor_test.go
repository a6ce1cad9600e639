package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LoadMissingKey(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", []byte(`{"a":1}`)))
	data, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)
}

func TestMemoryStore_LastWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", []byte("one")))
	require.NoError(t, store.Save(ctx, "k", []byte("two")))

	data, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", []byte("abc")))
	data, err := store.Load(ctx, "k")
	require.NoError(t, err)
	data[0] = 'x'

	again, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestTimerScheduler_Fires(t *testing.T) {
	sched := NewTimerScheduler(zerolog.Nop())
	defer sched.Stop()

	fired := make(chan struct{})
	sched.WakeAt("k", time.Now().Add(10*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not fire")
	}
}

func TestTimerScheduler_RegisterOverwrites(t *testing.T) {
	sched := NewTimerScheduler(zerolog.Nop())
	defer sched.Stop()

	var first, second atomic.Int32
	sched.WakeAt("k", time.Now().Add(20*time.Millisecond), func() { first.Add(1) })
	sched.WakeAt("k", time.Now().Add(30*time.Millisecond), func() { second.Add(1) })

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "overwritten wake must not fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestTimerScheduler_Cancel(t *testing.T) {
	sched := NewTimerScheduler(zerolog.Nop())
	defer sched.Stop()

	var fired atomic.Int32
	sched.WakeAt("k", time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })
	sched.Cancel("k")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTimerScheduler_StopRejectsNewWakes(t *testing.T) {
	sched := NewTimerScheduler(zerolog.Nop())
	sched.Stop()

	var fired atomic.Int32
	sched.WakeAt("k", time.Now().Add(5*time.Millisecond), func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
