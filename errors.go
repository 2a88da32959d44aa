// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCode is an HTTP/2 error code, carried in RST_STREAM and GOAWAY
// frames. See https://httpwg.org/specs/rfc9113.html#ErrorCodes.
type ErrCode uint32

const (
	ErrCodeNo                 ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

var errCodeName = map[ErrCode]string{
	ErrCodeNo:                 "NO_ERROR",
	ErrCodeProtocol:           "PROTOCOL_ERROR",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeFlowControl:        "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSize:          "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompression:        "COMPRESSION_ERROR",
	ErrCodeConnect:            "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (e ErrCode) String() string {
	if s, ok := errCodeName[e]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE(%d)", uint32(e))
}

// StreamError is an error that only affects one stream within an
// HTTP/2 connection. The connection stays open; the stream is reset.
type StreamError struct {
	StreamID uint32
	Code     ErrCode
	Cause    error
}

func (e StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error: stream ID %d; %v (%v)", e.StreamID, e.Code, e.Cause)
	}
	return fmt.Sprintf("stream error: stream ID %d; %v", e.StreamID, e.Code)
}

// ConnectionError is an error that invalidates the entire connection.
// A GOAWAY is sent and the TCP connection is closed.
type ConnectionError struct {
	Code  ErrCode
	Cause error
}

func (e ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error: %v (%v)", e.Code, e.Cause)
	}
	return fmt.Sprintf("connection error: %v", e.Code)
}

// FlowControlError is a connection or stream level flow-control
// violation. It is kept distinct from the generic *Error types so
// Connection.handleFrameError's type switch routes it by scope
// (stream or connection) in its own case rather than through the
// default case, per the teacher's "goAwayFlowError" TODO.
type FlowControlError struct {
	StreamID uint32 // 0 for the connection-level window
}

func (e FlowControlError) Error() string {
	if e.StreamID == 0 {
		return "connection-level flow control error"
	}
	return fmt.Sprintf("stream %d flow control error", e.StreamID)
}

// wrapIOErr annotates an I/O failure with causal context while keeping
// the original error visible to errors.Is/errors.As/errors.Cause.
func wrapIOErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
