// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"log"
	"os"
	"time"
)

// stdLogger is used when a Config's ErrorLog is nil, matching the
// teacher's fallback to the standard library logger.
var stdLogger = log.New(os.Stderr, "http2srv: ", log.LstdFlags)

// Config is the fixed, server-side configuration for a Connection. It
// is read-mostly from the connection thread and is never shared with
// handlers (spec.md §5). Configuration loading from flags, files or
// the environment is an external collaborator (spec.md §1) — Config
// is always built and passed in by the embedder.
type Config struct {
	// MaxConcurrentStreams is advertised to the client and enforced
	// locally; a HEADERS frame that would exceed it is refused with
	// ErrCodeRefusedStream.
	MaxConcurrentStreams uint32
	// InitialWindowSize is this server's advertised flow-control
	// starting credit for every stream (spec.md §3).
	InitialWindowSize uint32
	// MaxFrameSize bounds the frames this server accepts.
	MaxFrameSize uint32
	// HeaderTableSize bounds the HPACK dynamic table this server
	// permits the client's encoder to use.
	HeaderTableSize uint32
	// MaxHeaderListSize bounds decoded header lists; 0 is unlimited.
	MaxHeaderListSize uint32

	// PoolCapacity bounds the context reuse manager's free lists
	// (spec.md §4.8).
	PoolCapacity int
	// OutputBufferSize is the fixed capacity of each pooled
	// OutputBuffer.
	OutputBufferSize int
	// InputBufferSize is the fixed capacity of a Connection's
	// InputBuffer.
	InputBufferSize int

	// StreamIdleTimeout, if non-zero, RST_STREAMs a stream that has
	// not completed within the given duration (spec.md §5).
	StreamIdleTimeout time.Duration

	// ErrorLog receives connection diagnostics; nil logs to os.Stderr
	// through a package logger prefixed "http2srv: ", matching the
	// teacher's http.Server.ErrorLog convention.
	ErrorLog *log.Logger
}

// DefaultConfig returns a Config with the RFC 9113 defaults and
// reasonably small pool sizing suitable for tests and examples.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 250,
		InitialWindowSize:    defaultInitialWindowSize,
		MaxFrameSize:         defaultMaxFrameSize,
		HeaderTableSize:      defaultHeaderTableSize,
		PoolCapacity:         64,
		OutputBufferSize:     16 * 1024,
		InputBufferSize:      64 * 1024,
	}
}

// VerboseLogs enables the teacher's vlogf diagnostics (GOAWAY frames
// received from the client, and write errors on an already-closed
// network connection, which are otherwise not logged). Off by default; a package
// level switch rather than per-Config so it can be toggled without
// touching every live Connection, matching the teacher's global.
var VerboseLogs = false
