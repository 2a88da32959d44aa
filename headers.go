// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"bytes"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// forbiddenHeaders is the set of header fields HTTP/2 never carries
// on the wire (RFC 9113 §8.2.2); connection-specific semantics are
// expressed by frame flags and settings instead.
var forbiddenHeaders = map[string]bool{
	"connection":        true,
	"proxy-connection":  true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// Header is this core's header container: spec.md's "two logical maps
// from lowercase name to value", one for the restricted pseudo-header
// set and one for regular fields.
type Header struct {
	// Request pseudo-headers.
	Method    string
	Scheme    string
	Authority string
	Path      string
	// Response pseudo-header.
	Status string

	Fields map[string][]string // lowercase name -> values in insertion order; order across names not preserved
}

func newHeader() *Header { return &Header{Fields: make(map[string][]string)} }

// Add appends a regular header field value under its lowercase name.
func (h *Header) Add(name, value string) {
	name = strings.ToLower(name)
	h.Fields[name] = append(h.Fields[name], value)
}

// Get returns the first value for name, or "".
func (h *Header) Get(name string) string {
	vv := h.Fields[strings.ToLower(name)]
	if len(vv) == 0 {
		return ""
	}
	return vv[0]
}

// decodeState accumulates one in-flight HEADERS(+CONTINUATION*) block.
type decodeState struct {
	streamID         uint32
	isRequest        bool
	target           *Header
	sawRegularHeader bool
	sawPseudoHeader  bool
	invalid          *StreamError
	listSize         uint32
}

// HeaderCodec wraps an HPACK encoder/decoder pair, enforcing the
// pseudo-header, casing and forbidden-field rules from spec.md §4.4.
//
// The decoder's dynamic table size and the accepted header-list size
// are OUR server's own fixed, advertised limits (from Config) and
// never change once the connection is open. The encoder's dynamic
// table size is bounded by whatever HEADER_TABLE_SIZE the *client*
// advertises in its SETTINGS, which can change over the connection's
// lifetime — that bound is what Reconfigure adjusts, per spec.md
// §4.4's "the codec is recreated whenever the effective
// HEADER_TABLE_SIZE ... change[s]".
type HeaderCodec struct {
	enc               *hpack.Encoder
	encBuf            bytes.Buffer
	dec               *hpack.Decoder
	maxHeaderListSize uint32 // our own accept limit; 0 == unlimited
	st                *decodeState
}

// NewHeaderCodec constructs a codec. decoderTableSize and
// maxHeaderListSize are this server's own fixed limits on what it
// accepts from the peer; the encoder's dynamic table starts at the
// HPACK default and is narrowed by Reconfigure once the peer's
// SETTINGS are known.
func NewHeaderCodec(decoderTableSize, maxHeaderListSize uint32) *HeaderCodec {
	c := &HeaderCodec{maxHeaderListSize: maxHeaderListSize}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(decoderTableSize, c.onHeaderField)
	return c
}

// Reconfigure narrows the encoder's dynamic table to the peer's
// current HEADER_TABLE_SIZE, called whenever a client SETTINGS frame
// changes that value.
func (c *HeaderCodec) Reconfigure(peerHeaderTableSize uint32) {
	c.enc.SetMaxDynamicTableSize(peerHeaderTableSize)
}

// BeginDecode starts decoding one logical header block for the given
// stream. isRequest selects the accepted pseudo-header set.
func (c *HeaderCodec) BeginDecode(streamID uint32, isRequest bool, target *Header) {
	c.st = &decodeState{streamID: streamID, isRequest: isRequest, target: target}
}

// WriteFragment feeds one HEADERS/CONTINUATION/PUSH_PROMISE fragment
// into the decoder. The field block is always decoded in full — even
// for a stream about to be reset — to keep the shared dynamic table
// synchronized (spec.md §4.3).
func (c *HeaderCodec) WriteFragment(frag []byte) error {
	if _, err := c.dec.Write(frag); err != nil {
		return ConnectionError{Code: ErrCodeCompression, Cause: err}
	}
	return nil
}

// EndDecode finishes the block. It returns the StreamError recorded
// during decoding (malformed pseudo-headers, forbidden fields, bad
// casing), if any.
func (c *HeaderCodec) EndDecode() error {
	if err := c.dec.Close(); err != nil {
		c.st = nil
		return ConnectionError{Code: ErrCodeCompression, Cause: err}
	}
	st := c.st
	c.st = nil
	if st.invalid != nil {
		return *st.invalid
	}
	return nil
}

func (c *HeaderCodec) fail(code ErrCode) {
	if c.st.invalid == nil {
		c.st.invalid = &StreamError{StreamID: c.st.streamID, Code: code}
	}
}

func (c *HeaderCodec) onHeaderField(f hpack.HeaderField) {
	st := c.st
	if st == nil {
		return // defensive; Close() path only
	}
	st.listSize += uint32(len(f.Name) + len(f.Value) + 32) // RFC 7541 §4.1 accounting
	if c.maxHeaderListSize != 0 && st.listSize > c.maxHeaderListSize {
		st.invalid = &StreamError{StreamID: st.streamID, Code: ErrCodeEnhanceYourCalm}
		return
	}
	if hasUpper(f.Name) {
		c.fail(ErrCodeProtocol)
		return
	}
	if strings.HasPrefix(f.Name, ":") {
		if st.sawRegularHeader {
			c.fail(ErrCodeProtocol)
			return
		}
		st.sawPseudoHeader = true
		if !c.applyPseudo(st, f.Name, f.Value) {
			c.fail(ErrCodeProtocol)
		}
		return
	}
	st.sawRegularHeader = true
	if forbiddenHeaders[f.Name] {
		c.fail(ErrCodeProtocol)
		return
	}
	if f.Name == "te" && f.Value != "trailers" {
		c.fail(ErrCodeProtocol)
		return
	}
	st.target.Add(f.Name, f.Value)
}

func (c *HeaderCodec) applyPseudo(st *decodeState, name, value string) bool {
	var dst *string
	if st.isRequest {
		switch name {
		case ":method":
			dst = &st.target.Method
		case ":scheme":
			dst = &st.target.Scheme
		case ":authority":
			dst = &st.target.Authority
		case ":path":
			dst = &st.target.Path
		default:
			return false
		}
	} else {
		if name != ":status" {
			return false
		}
		dst = &st.target.Status
	}
	if *dst != "" {
		return false // duplicate pseudo-header
	}
	*dst = value
	return true
}

func hasUpper(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// Encode writes h's pseudo-headers (first, per spec.md §4.4) and
// regular fields to the codec's internal buffer and returns the
// resulting header block bytes. isRequest selects which pseudo-header
// is emitted.
func (c *HeaderCodec) Encode(h *Header, isRequest bool) ([]byte, error) {
	c.encBuf.Reset()
	var err error
	write := func(name, value string) {
		if err != nil {
			return
		}
		err = c.enc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}
	if isRequest {
		write(":method", h.Method)
		write(":scheme", h.Scheme)
		write(":authority", h.Authority)
		write(":path", h.Path)
	} else {
		write(":status", h.Status)
	}
	for name, values := range h.Fields {
		for _, v := range values {
			write(name, v)
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}
