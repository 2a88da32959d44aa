// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import "fmt"

// FrameType identifies the kind of an HTTP/2 frame (RFC 9113 §6).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME(0x%x)", uint8(t))
	}
}

// Flags is the 8-bit per-frame flag field. Its meaning is frame-type
// dependent; see the Flag* constants.
type Flags uint8

const (
	FlagEndStream  Flags = 0x1  // DATA, HEADERS
	FlagAck        Flags = 0x1  // SETTINGS, PING (same bit, different frame)
	FlagEndHeaders Flags = 0x4  // HEADERS, PUSH_PROMISE, CONTINUATION
	FlagPadded     Flags = 0x8  // DATA, HEADERS, PUSH_PROMISE
	FlagPriority   Flags = 0x20 // HEADERS
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

const (
	// FrameHeaderLen is the fixed size of the 9-byte frame header
	// shared by every frame type.
	FrameHeaderLen = 9

	defaultMaxFrameSizeLimit = 1<<24 - 1
)

// FrameHeader is the common 9-byte preamble of every HTTP/2 frame.
type FrameHeader struct {
	Length   uint32 // 24-bit payload length
	Type     FrameType
	Flags    Flags
	StreamID uint32 // 31-bit; reserved high bit is always clear here
}

// Frame is implemented by every concrete frame type. It is the
// product of Framer.ReadFrame and the input to Framer.Write*.
type Frame interface {
	Header() FrameHeader
}

// PriorityParam carries a PRIORITY frame's stream-dependency payload,
// also present on HEADERS frames with the PRIORITY flag set. It is
// parsed and validated but — per spec.md §1 — never consulted for
// scheduling.
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

type DataFrame struct {
	FrameHeader FrameHeader
	data        []byte // unpadded payload
}

func (f *DataFrame) Header() FrameHeader { return f.FrameHeader }
func (f *DataFrame) Data() []byte        { return f.data }

type HeadersFrame struct {
	FrameHeader         FrameHeader
	Priority            PriorityParam
	hasPriority         bool
	HeaderBlockFragment []byte
}

func (f *HeadersFrame) Header() FrameHeader { return f.FrameHeader }
func (f *HeadersFrame) HeadersEnded() bool  { return f.FrameHeader.Flags.Has(FlagEndHeaders) }
func (f *HeadersFrame) StreamEnded() bool   { return f.FrameHeader.Flags.Has(FlagEndStream) }
func (f *HeadersFrame) HasPriority() bool   { return f.hasPriority }

type PriorityFrame struct {
	FrameHeader FrameHeader
	PriorityParam
}

func (f *PriorityFrame) Header() FrameHeader { return f.FrameHeader }

type RSTStreamFrame struct {
	FrameHeader FrameHeader
	ErrCode     ErrCode
}

func (f *RSTStreamFrame) Header() FrameHeader { return f.FrameHeader }

type SettingsFrame struct {
	FrameHeader FrameHeader
	settings    []Setting
}

func (f *SettingsFrame) Header() FrameHeader { return f.FrameHeader }
func (f *SettingsFrame) IsAck() bool         { return f.FrameHeader.Flags.Has(FlagAck) }

// ForeachSetting calls fn once per parameter in wire order, stopping
// at the first error, matching the teacher's SettingsFrame API.
func (f *SettingsFrame) ForeachSetting(fn func(Setting) error) error {
	for _, s := range f.settings {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

type PushPromiseFrame struct {
	FrameHeader         FrameHeader
	PromisedStreamID    uint32
	HeaderBlockFragment []byte
}

func (f *PushPromiseFrame) Header() FrameHeader { return f.FrameHeader }
func (f *PushPromiseFrame) HeadersEnded() bool  { return f.FrameHeader.Flags.Has(FlagEndHeaders) }

type PingFrame struct {
	FrameHeader FrameHeader
	Data        [8]byte
}

func (f *PingFrame) Header() FrameHeader { return f.FrameHeader }
func (f *PingFrame) IsAck() bool         { return f.FrameHeader.Flags.Has(FlagAck) }

type GoAwayFrame struct {
	FrameHeader  FrameHeader
	LastStreamID uint32
	ErrCode      ErrCode
	DebugData    []byte
}

func (f *GoAwayFrame) Header() FrameHeader { return f.FrameHeader }

type WindowUpdateFrame struct {
	FrameHeader FrameHeader
	Increment   uint32
}

func (f *WindowUpdateFrame) Header() FrameHeader { return f.FrameHeader }

type ContinuationFrame struct {
	FrameHeader         FrameHeader
	HeaderBlockFragment []byte
}

func (f *ContinuationFrame) Header() FrameHeader { return f.FrameHeader }
func (f *ContinuationFrame) HeadersEnded() bool   { return f.FrameHeader.Flags.Has(FlagEndHeaders) }

// UnknownFrame preserves the header of a frame type this core does
// not recognize; spec.md §3 requires unknown types to be tolerated
// and skipped rather than rejected.
type UnknownFrame struct {
	FrameHeader FrameHeader
}

func (f *UnknownFrame) Header() FrameHeader { return f.FrameHeader }
