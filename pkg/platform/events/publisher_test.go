package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

func TestPublisher_SyncMode(t *testing.T) {
	sink := NewInMemorySink()
	pub := NewPublisher(sink)
	defer pub.Close()

	event := Event{
		Type:     TypeNewUser,
		Owner:    "alice",
		RecordID: id.NewRecordID(),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	published := sink.All()
	require.Len(t, published, 1)
	assert.Equal(t, TypeNewUser, published[0].Type)
	assert.Equal(t, id.Identity("alice"), published[0].Owner)
}

func TestPublisher_AsyncMode(t *testing.T) {
	sink := NewInMemorySink()
	pub := NewPublisher(sink, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{Type: TypeNodeUpdate, Owner: "alice"})
	require.NoError(t, err)

	// Wait for async processing.
	require.Eventually(t, func() bool {
		return len(sink.All()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	sink := NewInMemorySink()
	pub := NewPublisher(sink, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), Event{Type: TypeNodeUpdate, Owner: "alice"})
		require.NoError(t, err)
	}

	// Close should drain all buffered events.
	pub.Close()
	assert.Len(t, sink.All(), 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	sink := NewInMemorySink()
	pub := NewPublisher(sink)
	pub.Close()

	err := pub.Emit(context.Background(), Event{Type: TypeNewUser})
	assert.ErrorIs(t, err, sentinel.ErrClosed)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	sink := NewInMemorySink()
	pub := NewPublisher(sink, WithAsyncBuffer(1))
	defer pub.Close()

	// Fill the buffer with concurrent writes; some events may be dropped
	// but Emit never blocks or errors.
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), Event{Type: TypeNodeUpdate, Owner: "alice"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestInMemorySink_ByType(t *testing.T) {
	sink := NewInMemorySink()
	require.NoError(t, sink.Publish(context.Background(), Event{Type: TypeNewUser}))
	require.NoError(t, sink.Publish(context.Background(), Event{Type: TypeNodeUpdate}))
	require.NoError(t, sink.Publish(context.Background(), Event{Type: TypeNodeUpdate}))

	assert.Len(t, sink.ByType(TypeNewUser), 1)
	assert.Len(t, sink.ByType(TypeNodeUpdate), 2)
	assert.Empty(t, sink.ByType(TypeRegistryCreated))
}
