package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	b.Publish(Event{ID: EventLiveDataUpdated, Payload: 42})

	ev1 := <-s1.Events
	ev2 := <-s2.Events
	assert.Equal(t, 42, ev1.Payload)
	assert.Equal(t, 42, ev2.Payload)
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	defer s.Close()

	b.Publish(Event{ID: EventFault})
	b.Publish(Event{ID: EventFault}) // queue already full, should drop

	assert.EqualValues(t, 1, s.Drops())
	<-s.Events // drain the one that made it
}

func TestCloseIsIdempotentAndRemovesSubscriber(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	require.Equal(t, 1, b.SubscriberCount())

	s.Close()
	s.Close() // second call must not panic or double-decrement anything

	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	slow := b.Subscribe(1)
	fast := b.Subscribe(4)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 4; i++ {
		b.Publish(Event{ID: EventLiveDataUpdated, Payload: i})
	}

	assert.Len(t, fast.Events, 4)
	assert.Greater(t, slow.Drops(), uint64(0))
}

func TestPublishedCounterIncrementsRegardlessOfSubscribers(t *testing.T) {
	b := New()
	b.Publish(Event{ID: EventBootComplete})
	b.Publish(Event{ID: EventBootComplete})
	assert.EqualValues(t, 2, b.Published())
}

func TestPublishWaitAcceptsWithinTimeoutThenReportsFalseOnceFull(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	defer s.Close()

	assert.True(t, b.PublishWait(Event{ID: EventFault}, 10*time.Millisecond))
	assert.False(t, b.PublishWait(Event{ID: EventFault}, 10*time.Millisecond))
	assert.EqualValues(t, 1, s.Drops())
}

func TestPublishWaitInvokesDisposeOnlyAfterEverySubscriberConsumes(t *testing.T) {
	b := New()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	var disposed int
	b.PublishWait(Event{ID: EventFault, Dispose: func() { disposed++ }}, 0)

	// neither subscriber has read its copy yet: must not fire early,
	// since the payload may still be a pooled/arena value in flight.
	assert.Equal(t, 0, disposed)

	ev1 := <-s1.Events
	ev1.Release()
	assert.Equal(t, 0, disposed) // s2 still holds its copy unconsumed

	ev2 := <-s2.Events
	ev2.Release()
	assert.Equal(t, 1, disposed)
}

func TestPublishWaitDisposesDroppedEventWithoutConsumption(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	defer s.Close()

	var disposed int
	require.True(t, b.PublishWait(Event{ID: EventFault, Dispose: func() { disposed++ }}, 0))
	assert.Equal(t, 0, disposed) // first copy still queued, unconsumed

	// queue is now full: this publish is dropped for s and should
	// dispose immediately since it will never be consumed.
	var disposed2 int
	require.False(t, b.PublishWait(Event{ID: EventFault, Dispose: func() { disposed2++ }}, 0))
	assert.Equal(t, 1, disposed2)
	assert.Equal(t, 0, disposed)

	<-s.Events // drain the one that made it, for symmetry with other tests
}

func TestPublishWaitDisposesImmediatelyWithNoSubscribers(t *testing.T) {
	b := New()
	var disposed int
	b.PublishWait(Event{ID: EventFault, Dispose: func() { disposed++ }}, 0)
	assert.Equal(t, 1, disposed)
}

func TestGetAllMetricsReportsNameCapacityBacklogAndDrops(t *testing.T) {
	b := New()
	s := b.SubscribeNamed("can-publish", 1)
	defer s.Close()

	b.Publish(Event{ID: EventFault})
	b.Publish(Event{ID: EventFault}) // dropped, queue already full

	metrics := b.GetAllMetrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, "can-publish", metrics[0].Name)
	assert.Equal(t, 1, metrics[0].QueueCapacity)
	assert.Equal(t, 1, metrics[0].MessagesWaiting)
	assert.EqualValues(t, 1, metrics[0].DroppedEvents)
}
