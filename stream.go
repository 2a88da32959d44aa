// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import "time"

// streamState is one of the states in spec.md §3's stream state
// machine. RESERVED is unused: this core never sends PUSH_PROMISE.
type streamState int32

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpen:
		return "open"
	case stateHalfClosedLocal:
		return "half-closed (local)"
	case stateHalfClosedRemote:
		return "half-closed (remote)"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is the per-stream context of spec.md §3/§4.5. It is owned by
// its Connection for the stream's lifetime and returned to the reuse
// pool on transition to CLOSED. Handler-facing code never touches a
// Stream; it reaches the connection only through streamSink and
// requestBody (dispatch.go), which use the connection's queued,
// thread-safe operations.
type Stream struct {
	id       uint32
	state    streamState
	flow     *flow // this endpoint's remaining send credit toward the peer
	recvFlow *flow // credit we've granted the peer to send us DATA

	reqHeader *Header
	body      *pipe // non-nil once a request body is expected

	bodyBytes     int64
	declBodyBytes int64 // -1 if undeclared (no content-length)

	idleTimer *time.Timer // non-nil while Config.StreamIdleTimeout guards this stream

	conn *Connection // non-owning back-reference
}

// stopIdleTimer cancels any pending idle-timeout RST_STREAM for this
// stream. Safe to call repeatedly or when no timer was ever started.
func (st *Stream) stopIdleTimer() {
	if st.idleTimer != nil {
		st.idleTimer.Stop()
		st.idleTimer = nil
	}
}

func (sc *Connection) newStream(id uint32) *Stream {
	st := sc.pool.checkoutStream()
	st.id = id
	st.state = stateOpen
	st.flow = newFlow(int32(sc.clientSettings.InitialWindowSize))
	st.recvFlow = newFlow(int32(sc.config.InitialWindowSize))
	st.reqHeader = newHeader()
	st.declBodyBytes = -1
	st.conn = sc
	return st
}

// resetForReuse zeroes a Stream's fields before it is pooled, so no
// data from a finished request leaks into the next checkout that
// reuses this allocation (spec.md §4.8/§9).
func (st *Stream) resetForReuse() {
	st.id = 0
	st.state = stateIdle
	st.flow = nil
	st.recvFlow = nil
	st.reqHeader = nil
	st.body = nil
	st.bodyBytes = 0
	st.declBodyBytes = 0
	st.stopIdleTimer()
	st.conn = nil
}

// transitionOnHeaders applies the IDLE->OPEN (or ->HALF_CLOSED_REMOTE)
// transition for a newly observed HEADERS frame whose END_STREAM flag
// is endStream.
func (st *Stream) transitionOnHeaders(endStream bool) {
	if endStream {
		st.state = stateHalfClosedRemote
	} else {
		st.state = stateOpen
	}
}

// transitionOnDataEnd applies OPEN->HALF_CLOSED_REMOTE on a DATA
// frame carrying END_STREAM.
func (st *Stream) transitionOnDataEnd() {
	if st.state == stateOpen {
		st.state = stateHalfClosedRemote
	}
}

// close finalizes the stream's state and unblocks any pending body
// pipe; the caller (Connection.removeStream) is responsible for
// returning it to the reuse pool afterward.
func (st *Stream) close() {
	st.stopIdleTimer()
	st.state = stateClosed
	if st.body != nil {
		st.body.Close(nil)
	}
}
