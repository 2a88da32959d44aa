// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"io"
)

// Request is the request object spec.md §6 says this core submits to
// a Handler. It carries exactly what a HEADERS(+CONTINUATION*) block
// decoded to, plus a Body reader for any DATA frames that follow.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    *Header
	Body      io.ReadCloser // always non-nil; reads io.EOF immediately if there is no body
	StreamID  uint32
}

// Handler is the dispatcher seam of spec.md §6: the one interface the
// core calls into. Implementations back ResponseSink with the
// stream's output assembly; the core does not know or care how
// ServeH2 schedules work (inline, goroutine-per-request, or a
// caller-supplied worker pool).
type Handler interface {
	ServeH2(sink ResponseSink, req *Request)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(sink ResponseSink, req *Request)

func (f HandlerFunc) ServeH2(sink ResponseSink, req *Request) { f(sink, req) }

// ResponseSink is the handler-facing write surface named in spec.md
// §6: "the object the handler uses to set status code, add headers,
// and write a body". One is created per stream.
type ResponseSink interface {
	// Header returns the header map the handler may populate before
	// the first call to WriteHeader or Write.
	Header() *Header
	// WriteHeader emits status and the headers set so far. Only the
	// first call has any effect, matching net/http's ResponseWriter.
	WriteHeader(status int)
	// Write emits a DATA frame (after an implicit 200 WriteHeader, if
	// none was sent yet). It blocks only as long as it takes to
	// append to the connection's pending-write queue, never on the
	// network.
	Write(p []byte) (int, error)
	// Close signals the handler is done; if WriteHeader was never
	// called, this sends an implicit 200-with-END_STREAM response.
	Close()
}

// streamSink is the default ResponseSink, backed by a Stream's output
// assembly. It is the generalization of the teacher's responseWriter,
// now working over this core's Header/Connection types instead of
// net/http's.
type streamSink struct {
	conn         *Connection
	streamID     uint32
	header       *Header
	wroteHeaders bool
	closed       bool
	body         *requestBody
}

func newStreamSink(conn *Connection, streamID uint32, body *requestBody) *streamSink {
	return &streamSink{conn: conn, streamID: streamID, header: newHeader(), body: body}
}

func (s *streamSink) Header() *Header { return s.header }

func (s *streamSink) WriteHeader(status int) {
	if s.wroteHeaders {
		return
	}
	s.wroteHeaders = true
	s.conn.writeHeader(headerWriteReq{
		streamID: s.streamID,
		status:   status,
		header:   s.header,
	})
}

func (s *streamSink) Write(p []byte) (int, error) {
	if !s.wroteHeaders {
		s.WriteHeader(200)
	}
	return s.conn.writeData(s.streamID, p)
}

// Close is idempotent: runHandler's deferred cleanup always calls
// Close once more after a handler that already called it itself, and
// that second call must not queue a second END_STREAM frame.
func (s *streamSink) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if !s.wroteHeaders {
		s.conn.writeHeader(headerWriteReq{
			streamID:  s.streamID,
			status:    200,
			header:    s.header,
			endStream: true,
		})
		return
	}
	s.conn.closeStream(s.streamID) // flush END_STREAM after any already-sent DATA
}

// requestBody is the Request.Body implementation: it reads from the
// stream's pipe and reports consumed bytes back to the connection as
// WINDOW_UPDATE credit, exactly as the teacher's requestBody does.
type requestBody struct {
	conn     *Connection
	streamID uint32
	pipe     *pipe // nil if the request declared no body
	closed   bool
}

func (b *requestBody) Read(p []byte) (int, error) {
	if b.pipe == nil {
		return 0, io.EOF
	}
	n, err := b.pipe.Read(p)
	if n > 0 {
		b.conn.sendWindowUpdate(b.streamID, n)
	}
	return n, err
}

func (b *requestBody) Close() error {
	if b.pipe != nil {
		b.pipe.Close(errClosedBody)
	}
	b.closed = true
	return nil
}

var errClosedBody = ioErrClosedBody{}

type ioErrClosedBody struct{}

func (ioErrClosedBody) Error() string { return "http2srv: request body closed by handler" }
