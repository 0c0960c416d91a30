package protocol

import (
	"context"
	"sync/atomic"
)

// ChunkStream is the buffered conduit between a turn's processing context and
// the transport writing chunks to the client. Exactly one goroutine produces
// into the stream and owns Close; any consumer may drain it concurrently.
type ChunkStream struct {
	channel chan Chunk
	context context.Context
	closed  atomic.Int32
}

// NewChunkStream creates a stream bound to ctx with the given buffer size.
// The context bounds the lifetime of blocking Send and Receive calls.
func NewChunkStream(ctx context.Context, bufferSize int) *ChunkStream {
	return &ChunkStream{
		channel: make(chan Chunk, bufferSize),
		context: ctx,
	}
}

// Send delivers a chunk to the stream, blocking while the buffer is full.
// Returns the context error when either the call context or the stream
// context ends first. Send must not be called after Close.
func (s *ChunkStream) Send(ctx context.Context, chunk Chunk) error {
	select {
	case s.channel <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.context.Done():
		return s.context.Err()
	}
}

// Receive returns the next chunk, blocking until one is available. After
// Close, buffered chunks are still delivered; once drained, Receive reports
// false.
func (s *ChunkStream) Receive(ctx context.Context) (Chunk, bool, error) {
	select {
	case chunk, ok := <-s.channel:
		return chunk, ok, nil
	case <-ctx.Done():
		return Chunk{}, false, ctx.Err()
	case <-s.context.Done():
		return Chunk{}, false, s.context.Err()
	}
}

// TryReceive returns the next chunk without blocking.
func (s *ChunkStream) TryReceive() (Chunk, bool) {
	select {
	case chunk, ok := <-s.channel:
		return chunk, ok
	default:
		return Chunk{}, false
	}
}

// Chunks exposes the receive side for range consumption. The channel closes
// after the producer calls Close and the buffer drains.
func (s *ChunkStream) Chunks() <-chan Chunk {
	return s.channel
}

// Close marks the producing side finished. Safe to call more than once.
func (s *ChunkStream) Close() {
	if s.closed.CompareAndSwap(0, 1) {
		close(s.channel)
	}
}

// IsClosed reports whether Close has been called.
func (s *ChunkStream) IsClosed() bool {
	return s.closed.Load() == 1
}

// Len returns the number of buffered, undelivered chunks.
func (s *ChunkStream) Len() int {
	return len(s.channel)
}
