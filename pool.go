// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import "github.com/valyala/bytebufferpool"

// Pool is the context reuse manager of spec.md §4.8: a bounded pool
// of preallocated Stream and OutputBuffer objects, so steady-state
// request handling reuses them instead of allocating new ones. The
// per-request state a Stream carries (flow windows, header container,
// body pipe) is still allocated fresh on every checkout. A checkout is a
// move of ownership from the pool to the caller; a return zero-fills
// and reverses it (spec.md §9).
type Pool struct {
	streamFree chan *Stream
	obFree     chan *pooledOutputBuffer
	bb         bytebufferpool.Pool
	obSize     int
}

type pooledOutputBuffer struct {
	ob *OutputBuffer
	bb *bytebufferpool.ByteBuffer
}

// NewPool constructs a Pool whose free lists hold up to capacity
// objects of each kind, and whose OutputBuffers stage up to
// outputBufferSize bytes.
func NewPool(capacity, outputBufferSize int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		streamFree: make(chan *Stream, capacity),
		obFree:     make(chan *pooledOutputBuffer, capacity),
		obSize:     outputBufferSize,
	}
	for i := 0; i < capacity; i++ {
		p.streamFree <- &Stream{}
		p.ReturnOutputBuffer(p.CheckoutOutputBuffer())
	}
	return p
}

func (p *Pool) checkoutStream() *Stream {
	select {
	case st := <-p.streamFree:
		return st
	default:
		return &Stream{}
	}
}

func (p *Pool) returnStream(st *Stream) {
	st.resetForReuse()
	select {
	case p.streamFree <- st:
	default:
		// Pool at capacity; let the GC reclaim this one.
	}
}

// CheckoutOutputBuffer returns a ready-to-use OutputBuffer, reusing a
// pooled one (and its bytebufferpool-backed storage) when available.
func (p *Pool) CheckoutOutputBuffer() *OutputBuffer {
	select {
	case pb := <-p.obFree:
		pb.ob.Reset()
		return pb.ob
	default:
		bb := p.bb.Get()
		if cap(bb.B) < p.obSize {
			bb.B = make([]byte, p.obSize)
		} else {
			bb.B = bb.B[:p.obSize]
		}
		ob := &OutputBuffer{buf: bb.B}
		ob.pooled = &pooledOutputBuffer{ob: ob, bb: bb}
		return ob
	}
}

// ReturnOutputBuffer resets and pools ob. Buffers not originally
// checked out from this Pool (e.g. ones built with NewOutputBuffer in
// tests) are simply reset and dropped.
func (p *Pool) ReturnOutputBuffer(ob *OutputBuffer) {
	ob.Reset()
	if ob.pooled == nil {
		return
	}
	select {
	case p.obFree <- ob.pooled:
	default:
		p.bb.Put(ob.pooled.bb)
	}
}
