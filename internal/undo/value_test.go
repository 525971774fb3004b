package undo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_LoadSet(t *testing.T) {
	v := NewValue(1)
	assert.Equal(t, 1, v.Load())
	v.Set(2)
	assert.Equal(t, 2, v.Load())
}

func TestValue_SubscribeGetsCurrentThenUpdates(t *testing.T) {
	v := NewValue("a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Subscribe(ctx)
	assert.Equal(t, "a", <-ch)

	v.Set("b")
	assert.Equal(t, "b", <-ch)
}

func TestValue_SlowReaderSeesLatest(t *testing.T) {
	v := NewValue(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Subscribe(ctx)
	for i := 1; i <= 10; i++ {
		v.Set(i)
	}
	assert.Equal(t, 10, <-ch)
}

func TestValue_CancelClosesChannel(t *testing.T) {
	v := NewValue(0)
	ctx, cancel := context.WithCancel(context.Background())

	ch := v.Subscribe(ctx)
	<-ch
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Set after unsubscribe must not panic on the closed channel.
	assert.NotPanics(t, func() { v.Set(1) })
}

func TestValue_Close(t *testing.T) {
	v := NewValue(0)
	ch := v.Subscribe(context.Background())
	<-ch

	v.Close()
	_, ok := <-ch
	assert.False(t, ok)

	v.Set(5)
	assert.Equal(t, 0, v.Load())

	late := v.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok)

	assert.NotPanics(t, v.Close)
}
