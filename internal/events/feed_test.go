package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedFanOut(t *testing.T) {
	f := NewFeed[int]()
	defer f.Close()

	a, cancelA := f.Subscribe()
	b, cancelB := f.Subscribe()
	defer cancelA()
	defer cancelB()

	f.Publish(7)
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
}

func TestFeedCancelStopsDelivery(t *testing.T) {
	f := NewFeed[int]()
	defer f.Close()

	ch, cancel := f.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	f.Publish(1) // must not panic on the removed listener
}

func TestFeedPublishNeverBlocks(t *testing.T) {
	f := NewFeed[int]()
	defer f.Close()

	ch, cancel := f.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		f.Publish(i)
	}

	// The buffer holds the first values; the overflow is dropped, not queued.
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
}

func TestFeedClose(t *testing.T) {
	f := NewFeed[int]()
	ch, cancel := f.Subscribe()

	f.Close()
	_, open := <-ch
	require.False(t, open)

	f.Publish(1) // no-op after close
	cancel()     // safe after close

	late, _ := f.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribe after close returns a closed channel")
}
