// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"errors"
	"io"
	"sync"
)

// pipe is a synchronous, in-memory hand-off between the connection
// thread (writer, as DATA frames arrive) and a handler goroutine
// (reader, via Request.Body). It is the "accumulated
// request body" buffer named in spec.md §3; the teacher's server.go
// sketches the same shape (a mutex-and-condvar buffer) without
// providing its body, so this is built fresh in that idiom.
type pipe struct {
	m       sync.Mutex
	c       sync.Cond
	buf     []byte
	err     error // set by Close; nil while open
	readErr error
}

func newPipe() *pipe {
	p := &pipe{}
	p.c.L = &p.m
	return p
}

// Write appends p to the pipe's buffer and wakes any blocked reader.
// It never blocks: the connection thread must not stall waiting on a
// slow handler, per spec.md §5's "operations never block indefinitely".
func (pp *pipe) Write(p []byte) (int, error) {
	pp.m.Lock()
	defer pp.m.Unlock()
	if pp.err != nil {
		return 0, errPipeClosed
	}
	pp.buf = append(pp.buf, p...)
	pp.c.Broadcast()
	return len(p), nil
}

var errPipeClosed = errors.New("http2srv: write to closed request body pipe")

// Read blocks until data is available, the pipe is closed, or an
// error was recorded via Close.
func (pp *pipe) Read(p []byte) (int, error) {
	pp.m.Lock()
	defer pp.m.Unlock()
	for len(pp.buf) == 0 && pp.err == nil {
		pp.c.Wait()
	}
	if len(pp.buf) > 0 {
		n := copy(p, pp.buf)
		pp.buf = pp.buf[n:]
		return n, nil
	}
	return 0, pp.err
}

// Close records the terminal error (io.EOF for a clean end) and wakes
// any blocked reader.
func (pp *pipe) Close(err error) {
	if err == nil {
		err = io.EOF
	}
	pp.m.Lock()
	defer pp.m.Unlock()
	if pp.err == nil {
		pp.err = err
	}
	pp.c.Broadcast()
}
