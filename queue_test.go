package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAudioQueueRejectsAtCapacity(t *testing.T) {
	q := NewAudioQueue(2)

	assert.True(t, q.TryPush([]byte{1}))
	assert.True(t, q.TryPush([]byte{2}))
	assert.False(t, q.TryPush([]byte{3}), "full queue must reject, not overwrite")

	first, ok := q.Pop(0)
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, first, "oldest entry survives the rejected push")
}

func TestAudioQueueFIFO(t *testing.T) {
	q := NewAudioQueue(8)
	for i := byte(0); i < 5; i++ {
		assert.True(t, q.TryPush([]byte{i}))
	}
	for i := byte(0); i < 5; i++ {
		data, ok := q.Pop(0)
		assert.True(t, ok)
		assert.Equal(t, []byte{i}, data)
	}
	_, ok := q.Pop(0)
	assert.False(t, ok)
}

func TestAudioQueuePopTimeout(t *testing.T) {
	q := NewAudioQueue(2)

	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.TryPush([]byte{42})
	}()
	data, ok := q.Pop(time.Second)
	assert.True(t, ok)
	assert.Equal(t, []byte{42}, data)
}

func TestAudioQueueNearCapacity(t *testing.T) {
	q := NewAudioQueue(10)
	for i := 0; i < 8; i++ {
		q.TryPush([]byte{0})
	}
	assert.False(t, q.NearCapacity())
	q.TryPush([]byte{0})
	assert.True(t, q.NearCapacity())
}

func TestAudioQueueDrain(t *testing.T) {
	q := NewAudioQueue(4)
	for i := 0; i < 3; i++ {
		q.TryPush([]byte{0})
	}
	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Drain())
}
