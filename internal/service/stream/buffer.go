package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrIdleTimeout is returned by Pop when no frame arrived in time.
	ErrIdleTimeout = errors.New("no frame received before idle timeout")
	// ErrClosed is returned by Pop once the buffer has been closed.
	ErrClosed = errors.New("frame buffer closed")
)

// FrameBuffer is an unbounded FIFO of encoded frames with one producer and one consumer.
type FrameBuffer struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	notify chan struct{}
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{notify: make(chan struct{}, 1)}
}

// Push appends a frame. It reports false when the buffer is already closed.
func (b *FrameBuffer) Push(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.frames = append(b.frames, frame)

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop returns the oldest frame, waiting at most timeout for one to arrive.
func (b *FrameBuffer) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.frames) > 0 {
			frame := b.frames[0]
			b.frames[0] = nil
			b.frames = b.frames[1:]
			b.mu.Unlock()
			return frame, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return nil, ErrIdleTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len is the number of frames waiting.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Close drops pending frames and wakes a waiting consumer.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.frames = nil
	close(b.notify)
}
