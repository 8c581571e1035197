package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
)

func queueOrder(id string) *domain.Order {
	o := domain.NewEntryOrder("sig-"+id, "Mint"+id, id, 0.1, 0.001, 300)
	o.ID = id
	return o
}

func TestQueueFIFO(t *testing.T) {
	q := NewPriorityQueue()

	require.True(t, q.Enqueue(queueOrder("a"), false))
	require.True(t, q.Enqueue(queueOrder("b"), false))
	require.True(t, q.Enqueue(queueOrder("c"), false))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.Dequeue().ID)
	assert.Equal(t, "b", q.Dequeue().ID)
	assert.Equal(t, "c", q.Dequeue().ID)
	assert.Nil(t, q.Dequeue())
}

func TestQueueEmergencyJumpsAhead(t *testing.T) {
	q := NewPriorityQueue()

	q.Enqueue(queueOrder("a"), false)
	q.Enqueue(queueOrder("b"), false)
	q.Enqueue(queueOrder("stop"), true)

	assert.Equal(t, "stop", q.Peek().ID)
	assert.Equal(t, "stop", q.Dequeue().ID)
	assert.Equal(t, "a", q.Dequeue().ID)
	assert.Equal(t, "b", q.Dequeue().ID)
}

func TestQueueEmergencyOrdersKeepArrivalOrder(t *testing.T) {
	q := NewPriorityQueue()

	q.Enqueue(queueOrder("a"), false)
	q.Enqueue(queueOrder("e1"), true)
	q.Enqueue(queueOrder("e2"), true)

	assert.Equal(t, "e1", q.Dequeue().ID)
	assert.Equal(t, "e2", q.Dequeue().ID)
	assert.Equal(t, "a", q.Dequeue().ID)
}

func TestQueueRejectsDuplicateIDs(t *testing.T) {
	q := NewPriorityQueue()

	require.True(t, q.Enqueue(queueOrder("a"), false))
	assert.False(t, q.Enqueue(queueOrder("a"), true))
	assert.Equal(t, 1, q.Len())

	// The ID frees up again once the order has been dequeued.
	q.Dequeue()
	assert.True(t, q.Enqueue(queueOrder("a"), false))
}

func TestQueueWakeSignal(t *testing.T) {
	q := NewPriorityQueue()

	select {
	case <-q.Wake():
		t.Fatal("wake channel must be empty before any enqueue")
	default:
	}

	q.Enqueue(queueOrder("a"), false)
	q.Enqueue(queueOrder("b"), false) // coalesces onto the buffered token

	select {
	case <-q.Wake():
	default:
		t.Fatal("enqueue must signal the wake channel")
	}
}
