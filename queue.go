package realtime

import "time"

// AudioQueue is a bounded FIFO of audio payloads. Once at capacity new entries
// are rejected, never overwritten, so loss is always explicit at the producer.
// Single producer (the receive loop), single consumer.
type AudioQueue struct {
	ch     chan []byte
	warnAt int
}

func NewAudioQueue(capacity int) *AudioQueue {
	if capacity <= 0 {
		capacity = 1
	}
	warnAt := capacity * 9 / 10
	if warnAt < 1 {
		warnAt = 1
	}
	return &AudioQueue{
		ch:     make(chan []byte, capacity),
		warnAt: warnAt,
	}
}

// TryPush appends a payload, reporting false when the queue is full.
func (q *AudioQueue) TryPush(data []byte) bool {
	select {
	case q.ch <- data:
		return true
	default:
		return false
	}
}

// Pop returns the oldest payload, waiting up to timeout when the queue is
// empty. A zero or negative timeout polls without waiting.
func (q *AudioQueue) Pop(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-q.ch:
		return data, true
	default:
	}
	if timeout <= 0 {
		return nil, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-q.ch:
		return data, true
	case <-timer.C:
		return nil, false
	}
}

func (q *AudioQueue) Len() int {
	return len(q.ch)
}

func (q *AudioQueue) Cap() int {
	return cap(q.ch)
}

// NearCapacity reports whether the queue has crossed its warning threshold.
func (q *AudioQueue) NearCapacity() bool {
	return len(q.ch) >= q.warnAt
}

// Drain discards all queued payloads and returns how many were dropped.
func (q *AudioQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
