// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

// Package h2test builds raw HTTP/2 wire fixtures for this module's
// own tests, the way the teacher's server.go hand-builds its preface
// check rather than relying purely on a generated/fuzzed corpus.
package h2test

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/net/http2/hpack"
)

// Preface is the client connection preface byte sequence.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

const (
	FrameData         = 0x0
	FrameHeaders      = 0x1
	FramePriority     = 0x2
	FrameRSTStream    = 0x3
	FrameSettings     = 0x4
	FramePushPromise  = 0x5
	FramePing         = 0x6
	FrameGoAway       = 0x7
	FrameWindowUpdate = 0x8
	FrameContinuation = 0x9
)

const (
	FlagEndStream  = 0x1
	FlagAck        = 0x1
	FlagEndHeaders = 0x4
	FlagPadded     = 0x8
	FlagPriority   = 0x20
)

// Frame appends one frame (9-byte header plus payload) to buf.
func Frame(buf *bytes.Buffer, typ, flags byte, streamID uint32, payload []byte) {
	var lenBytes [3]byte
	lenBytes[0] = byte(len(payload) >> 16)
	lenBytes[1] = byte(len(payload) >> 8)
	lenBytes[2] = byte(len(payload))
	buf.Write(lenBytes[:])
	buf.WriteByte(typ)
	buf.WriteByte(flags)
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], streamID&^(1<<31))
	buf.Write(idBytes[:])
	buf.Write(payload)
}

// Settings encodes a SETTINGS frame body from id/value pairs.
func Settings(pairs ...uint32) []byte {
	var buf bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		var idb [2]byte
		binary.BigEndian.PutUint16(idb[:], uint16(pairs[i]))
		buf.Write(idb[:])
		var vb [4]byte
		binary.BigEndian.PutUint32(vb[:], pairs[i+1])
		buf.Write(vb[:])
	}
	return buf.Bytes()
}

// WindowUpdate encodes a WINDOW_UPDATE frame body.
func WindowUpdate(increment uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], increment&^(1<<31))
	return b[:]
}

// RSTStream encodes a RST_STREAM frame body.
func RSTStream(code uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], code)
	return b[:]
}

// GoAway encodes a GOAWAY frame body.
func GoAway(lastStreamID, code uint32, debug []byte) []byte {
	var buf bytes.Buffer
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], lastStreamID&^(1<<31))
	buf.Write(b[:])
	binary.BigEndian.PutUint32(b[:], code)
	buf.Write(b[:])
	buf.Write(debug)
	return buf.Bytes()
}

// HeaderField is a name/value pair to encode with HPACK.
type HeaderField struct{ Name, Value string }

// Request returns an HPACK-encoded request header block with the
// given pseudo-headers first, then any extra regular fields.
func Request(method, scheme, authority, path string, extra ...HeaderField) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	enc.WriteField(hpack.HeaderField{Name: ":method", Value: method})
	enc.WriteField(hpack.HeaderField{Name: ":scheme", Value: scheme})
	enc.WriteField(hpack.HeaderField{Name: ":authority", Value: authority})
	enc.WriteField(hpack.HeaderField{Name: ":path", Value: path})
	for _, f := range extra {
		enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value})
	}
	return buf.Bytes()
}
