package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/types"
)

func event(seq int64) types.StepEvent {
	return types.StepEvent{Seq: seq, Stage: types.StageSynthesizing, Severity: types.SeverityInfo}
}

func TestSinceReturnsEventsInOrder(t *testing.T) {
	b := NewBus(10)
	for i := int64(1); i <= 5; i++ {
		b.Publish(event(i))
	}

	got := b.Since(2)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].Seq)
	assert.Equal(t, int64(5), got[2].Seq)
}

func TestBufferTrimsOldestEvents(t *testing.T) {
	b := NewBus(3)
	for i := int64(1); i <= 5; i++ {
		b.Publish(event(i))
	}

	got := b.Since(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].Seq)
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	b := NewBus(10)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(event(1))
	b.Publish(event(2))

	assert.Equal(t, int64(1), (<-ch).Seq)
	assert.Equal(t, int64(2), (<-ch).Seq)
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus(100)
	_, cancel := b.Subscribe(1)
	defer cancel()

	// The subscriber buffer holds one event; the rest are dropped from
	// the live feed but remain readable via Since.
	for i := int64(1); i <= 50; i++ {
		b.Publish(event(i))
	}
	assert.Len(t, b.Since(0), 50)
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus(10)
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(event(1))
	assert.Empty(t, b.Since(0))
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBus(10)
	_, cancel := b.Subscribe(1)
	cancel()
	cancel()
	b.Publish(event(1))
}
