// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

// ChunkQueue accumulates inbound audio bytes and hands them back as
// fixed-size chunks. After draining with ExtractChunk the remainder is
// always shorter than one chunk, so the buffer cannot grow without bound.
//
// Not safe for concurrent use; the owning session serializes access.
type ChunkQueue struct {
	buf []byte
	// off is the consumed prefix of buf. Compacted once it outgrows the
	// pending remainder to keep appends amortized O(1) without re-slicing
	// the front on every extract.
	off int
}

// NewChunkQueue returns an empty queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{}
}

// Append adds data to the back of the queue.
func (q *ChunkQueue) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	q.buf = append(q.buf, data...)
}

// ExtractChunk removes and returns one chunk of exactly size bytes from the
// front of the queue, or nil if fewer than size bytes are pending. The
// returned slice is owned by the caller.
func (q *ChunkQueue) ExtractChunk(size int) []byte {
	if size <= 0 || q.Len() < size {
		return nil
	}

	chunk := make([]byte, size)
	copy(chunk, q.buf[q.off:q.off+size])
	q.off += size

	if q.off >= len(q.buf)-q.off {
		q.buf = append(q.buf[:0], q.buf[q.off:]...)
		q.off = 0
	}

	return chunk
}

// Len reports the number of pending bytes.
func (q *ChunkQueue) Len() int {
	return len(q.buf) - q.off
}

// Reset drops all pending bytes.
func (q *ChunkQueue) Reset() {
	q.buf = q.buf[:0]
	q.off = 0
}
