// ABOUTME: Splits an arbitrarily chunked byte stream into newline-delimited frames
// ABOUTME: Frames are yielded lazily; oversized lines are discarded and counted

package acp

import (
	"bytes"
	"iter"
	"sync"
)

// DefaultMaxFrameBytes bounds a single frame.
const DefaultMaxFrameBytes = 10 * 1024 * 1024 // 10MB

// FrameReader accumulates chunks and yields complete lines. The frames it
// yields do not depend on how the input was split into chunks.
type FrameReader struct {
	mu         sync.Mutex
	buf        []byte
	off        int
	max        int
	discarding bool
	dropped    int
}

// NewFrameReader returns a reader that drops frames longer than maxFrame
// bytes. A non-positive maxFrame uses DefaultMaxFrameBytes.
func NewFrameReader(maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &FrameReader{max: maxFrame}
}

// Feed appends a chunk of input.
func (r *FrameReader) Feed(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return
		}
		r.discarding = false
		chunk = chunk[i+1:]
	}

	if r.off > 0 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}
	r.buf = append(r.buf, chunk...)

	// An unterminated tail past the limit (plus one byte for a possible
	// '\r') can never become a valid frame.
	tail := bytes.LastIndexByte(r.buf, '\n') + 1
	if len(r.buf)-tail > r.max+1 {
		r.buf = r.buf[:tail]
		r.discarding = true
		r.dropped++
	}
}

// Frames yields every complete frame buffered so far, without the trailing
// newline or carriage return. Empty lines are skipped. The sequence may be
// ranged again after more input is fed.
func (r *FrameReader) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			frame, ok := r.next()
			if !ok || !yield(frame) {
				return
			}
		}
	}
}

func (r *FrameReader) next() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		rest := r.buf[r.off:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return nil, false
		}
		line := rest[:i]
		r.off += i + 1
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		if len(line) > r.max {
			r.dropped++
			continue
		}
		return bytes.Clone(line), true
	}
}

// Dropped returns how many oversized frames were discarded.
func (r *FrameReader) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Buffered returns the number of bytes held for an incomplete frame.
func (r *FrameReader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.off
}
