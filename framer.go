// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import "github.com/pkg/errors"

// ErrNeedMoreData is returned by Framer.ReadFrame when the InputBuffer
// does not yet hold a complete frame. It is not a protocol error: the
// caller (the connection state machine) simply waits for more bytes.
var ErrNeedMoreData = errors.New("http2srv: incomplete frame in buffer")

// Framer decodes and encodes HTTP/2 frames against this core's
// InputBuffer/OutputBuffer, per spec.md §4.3. One Framer exists per
// connection.
type Framer struct {
	// MaxFrameSize bounds frames we are willing to *receive*: our own
	// advertised SETTINGS_MAX_FRAME_SIZE, not the peer's.
	MaxFrameSize uint32
}

// NewFramer constructs a Framer that accepts frames up to maxFrameSize
// bytes of payload.
func NewFramer(maxFrameSize uint32) *Framer {
	return &Framer{MaxFrameSize: maxFrameSize}
}

// ReadFrame parses the next complete frame from ib. It returns
// ErrNeedMoreData (not a protocol violation) if ib does not yet
// contain a whole frame. All other returned errors are either
// StreamError or ConnectionError, already scoped per spec.md's table
// in §4.3/§4.6.
func (fr *Framer) ReadFrame(ib *InputBuffer) (Frame, error) {
	if !ib.Available(FrameHeaderLen) {
		return nil, ErrNeedMoreData
	}
	ib.Mark()
	length := ib.Peek24Bit()
	if !ib.Available(FrameHeaderLen + int(length)) {
		ib.ResetToMark()
		return nil, ErrNeedMoreData
	}

	fh := FrameHeader{}
	fh.Length = ib.Read24Bit()
	fh.Type = FrameType(ib.ReadByte())
	fh.Flags = Flags(ib.ReadByte())
	fh.StreamID = ib.Read31Bit()

	stateChanging := fh.StreamID == 0 || fh.Type == FrameHeaders ||
		fh.Type == FramePushPromise || fh.Type == FrameContinuation || fh.Type == FrameSettings
	if fh.Length > fr.MaxFrameSize {
		if stateChanging {
			return nil, ConnectionError{Code: ErrCodeFrameSize}
		}
		return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeFrameSize}
	}

	switch fh.Type {
	case FrameData:
		return parseDataFrame(fh, ib)
	case FrameHeaders:
		return parseHeadersFrame(fh, ib)
	case FramePriority:
		return parsePriorityFrame(fh, ib)
	case FrameRSTStream:
		return parseRSTStreamFrame(fh, ib)
	case FrameSettings:
		return parseSettingsFrame(fh, ib)
	case FramePushPromise:
		return parsePushPromiseFrame(fh, ib)
	case FramePing:
		return parsePingFrame(fh, ib)
	case FrameGoAway:
		return parseGoAwayFrame(fh, ib)
	case FrameWindowUpdate:
		return parseWindowUpdateFrame(fh, ib)
	case FrameContinuation:
		return parseContinuationFrame(fh, ib)
	default:
		// Unknown frame types are tolerated and skipped (spec.md §3).
		ib.Skip(int(fh.Length))
		return &UnknownFrame{FrameHeader: fh}, nil
	}
}

// readPadded consumes the PAD_LENGTH byte (if FlagPadded is set) and
// returns the padding length and the length of the real payload that
// follows. The trailing padding itself is left for the caller to skip.
func readPadded(fh FrameHeader, ib *InputBuffer) (padLen int, payloadLen int, err error) {
	total := int(fh.Length)
	if !fh.Flags.Has(FlagPadded) {
		return 0, total, nil
	}
	if total < 1 {
		return 0, 0, ConnectionError{Code: ErrCodeProtocol}
	}
	pad := int(ib.ReadByte())
	rest := total - 1
	if pad >= rest {
		// "the length of the padding is the length of the frame
		// payload minus the length of the padded data... a
		// padding length that makes the field larger than the
		// frame payload is a connection error" — spec.md's "PAD
		// length must be < payload length".
		return 0, 0, ConnectionError{Code: ErrCodeProtocol}
	}
	return pad, rest - pad, nil
}

func writeFrameHeader(ob *OutputBuffer, fh FrameHeader) error {
	if err := ob.Write24Bit(fh.Length); err != nil {
		return err
	}
	if err := ob.WriteByte(byte(fh.Type)); err != nil {
		return err
	}
	if err := ob.WriteByte(byte(fh.Flags)); err != nil {
		return err
	}
	return ob.Write32Bit(fh.StreamID &^ (1 << 31))
}

func parseDataFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	_, payloadLen, err := readPadded(fh, ib)
	if err != nil {
		return nil, err
	}
	data := ib.ReadCopy(payloadLen)
	// Skip trailing padding bytes.
	consumed := int(fh.Length) - payloadLen
	if fh.Flags.Has(FlagPadded) {
		consumed-- // PAD_LENGTH byte already consumed by readPadded
	}
	ib.Skip(consumed)
	return &DataFrame{FrameHeader: fh, data: data}, nil
}

// WriteData writes a DATA frame. Callers are responsible for ensuring
// len(data) respects both flow-control windows (spec.md §4.7).
func (fr *Framer) WriteData(ob *OutputBuffer, streamID uint32, data []byte, endStream bool) error {
	var flags Flags
	if endStream {
		flags |= FlagEndStream
	}
	if err := writeFrameHeader(ob, FrameHeader{Length: uint32(len(data)), Type: FrameData, Flags: flags, StreamID: streamID}); err != nil {
		return err
	}
	return ob.WriteBytes(data)
}

func parseHeadersFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	_, payloadLen, err := readPadded(fh, ib)
	if err != nil {
		return nil, err
	}
	hf := &HeadersFrame{FrameHeader: fh}
	if fh.Flags.Has(FlagPriority) {
		if payloadLen < 5 {
			return nil, ConnectionError{Code: ErrCodeProtocol}
		}
		raw := ib.Read32Bit()
		hf.Priority.Exclusive = raw&(1<<31) != 0
		hf.Priority.StreamDep = raw &^ (1 << 31)
		hf.Priority.Weight = ib.ReadByte()
		hf.hasPriority = true
		payloadLen -= 5
		if hf.Priority.StreamDep == fh.StreamID {
			return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeProtocol}
		}
	}
	hf.HeaderBlockFragment = ib.ReadCopy(payloadLen)
	consumed := int(fh.Length) - payloadLen
	if fh.Flags.Has(FlagPriority) {
		consumed -= 5
	}
	if fh.Flags.Has(FlagPadded) {
		consumed--
	}
	ib.Skip(consumed)
	return hf, nil
}

// HeadersFrameParam carries the arguments for WriteHeaders.
type HeadersFrameParam struct {
	StreamID      uint32
	BlockFragment []byte
	EndStream     bool
	EndHeaders    bool
}

func (fr *Framer) WriteHeaders(ob *OutputBuffer, p HeadersFrameParam) error {
	var flags Flags
	if p.EndStream {
		flags |= FlagEndStream
	}
	if p.EndHeaders {
		flags |= FlagEndHeaders
	}
	if err := writeFrameHeader(ob, FrameHeader{Length: uint32(len(p.BlockFragment)), Type: FrameHeaders, Flags: flags, StreamID: p.StreamID}); err != nil {
		return err
	}
	return ob.WriteBytes(p.BlockFragment)
}

func parsePriorityFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if fh.Length != 5 {
		return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeFrameSize}
	}
	raw := ib.Read32Bit()
	pf := &PriorityFrame{FrameHeader: fh}
	pf.Exclusive = raw&(1<<31) != 0
	pf.StreamDep = raw &^ (1 << 31)
	pf.Weight = ib.ReadByte()
	if pf.StreamDep == fh.StreamID {
		return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeProtocol}
	}
	return pf, nil
}

func parseRSTStreamFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if fh.Length != 4 {
		return nil, ConnectionError{Code: ErrCodeFrameSize}
	}
	code := ErrCode(ib.Read32Bit())
	return &RSTStreamFrame{FrameHeader: fh, ErrCode: code}, nil
}

func (fr *Framer) WriteRSTStream(ob *OutputBuffer, streamID uint32, code ErrCode) error {
	if err := writeFrameHeader(ob, FrameHeader{Length: 4, Type: FrameRSTStream, StreamID: streamID}); err != nil {
		return err
	}
	return ob.Write32Bit(uint32(code))
}

func parseSettingsFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID != 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if fh.Flags.Has(FlagAck) {
		if fh.Length != 0 {
			return nil, ConnectionError{Code: ErrCodeFrameSize}
		}
		return &SettingsFrame{FrameHeader: fh}, nil
	}
	if fh.Length%6 != 0 {
		return nil, ConnectionError{Code: ErrCodeFrameSize}
	}
	n := int(fh.Length) / 6
	settings := make([]Setting, n)
	for i := 0; i < n; i++ {
		settings[i] = Setting{ID: SettingID(ib.Read16Bit()), Val: ib.Read32Bit()}
	}
	return &SettingsFrame{FrameHeader: fh, settings: settings}, nil
}

// WriteSettings writes a non-ACK SETTINGS frame listing the given
// parameters.
func (fr *Framer) WriteSettings(ob *OutputBuffer, settings ...Setting) error {
	if err := writeFrameHeader(ob, FrameHeader{Length: uint32(len(settings)) * 6, Type: FrameSettings}); err != nil {
		return err
	}
	for _, s := range settings {
		if err := ob.Write16Bit(uint16(s.ID)); err != nil {
			return err
		}
		if err := ob.Write32Bit(s.Val); err != nil {
			return err
		}
	}
	return nil
}

// WriteSettingsAck writes an empty SETTINGS frame with the ACK flag.
func (fr *Framer) WriteSettingsAck(ob *OutputBuffer) error {
	return writeFrameHeader(ob, FrameHeader{Type: FrameSettings, Flags: FlagAck})
}

func parsePushPromiseFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	// Always rejected (spec.md §1/§4.3): a well-formed frame is
	// consumed in full and returned together with a PROTOCOL_ERROR
	// ConnectionError. Its header block is not passed to the HPACK
	// decoder, since the connection is closed on this error.
	_, payloadLen, err := readPadded(fh, ib)
	if err != nil {
		ib.Skip(int(fh.Length))
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if payloadLen < 4 {
		ib.Skip(payloadLen)
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	promised := ib.Read31Bit()
	frag := ib.ReadCopy(payloadLen - 4)
	consumed := int(fh.Length) - payloadLen
	if fh.Flags.Has(FlagPadded) {
		consumed--
	}
	ib.Skip(consumed)
	return &PushPromiseFrame{FrameHeader: fh, PromisedStreamID: promised, HeaderBlockFragment: frag}, ConnectionError{Code: ErrCodeProtocol}
}

func parsePingFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID != 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if fh.Length != 8 {
		return nil, ConnectionError{Code: ErrCodeFrameSize}
	}
	pf := &PingFrame{FrameHeader: fh}
	copy(pf.Data[:], ib.ReadCopy(8))
	return pf, nil
}

func (fr *Framer) WritePing(ob *OutputBuffer, ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags = FlagAck
	}
	if err := writeFrameHeader(ob, FrameHeader{Length: 8, Type: FramePing, Flags: flags}); err != nil {
		return err
	}
	return ob.WriteBytes(data[:])
}

func parseGoAwayFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID != 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	if fh.Length < 8 {
		return nil, ConnectionError{Code: ErrCodeFrameSize}
	}
	last := ib.Read31Bit()
	code := ErrCode(ib.Read32Bit())
	debug := ib.ReadCopy(int(fh.Length) - 8)
	return &GoAwayFrame{FrameHeader: fh, LastStreamID: last, ErrCode: code, DebugData: debug}, nil
}

func (fr *Framer) WriteGoAway(ob *OutputBuffer, lastStreamID uint32, code ErrCode, debugData []byte) error {
	if err := writeFrameHeader(ob, FrameHeader{Length: uint32(8 + len(debugData)), Type: FrameGoAway}); err != nil {
		return err
	}
	if err := ob.Write32Bit(lastStreamID &^ (1 << 31)); err != nil {
		return err
	}
	if err := ob.Write32Bit(uint32(code)); err != nil {
		return err
	}
	return ob.WriteBytes(debugData)
}

func parseWindowUpdateFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.Length != 4 {
		return nil, ConnectionError{Code: ErrCodeFrameSize}
	}
	inc := ib.Read31Bit()
	if inc == 0 {
		if fh.StreamID == 0 {
			return nil, ConnectionError{Code: ErrCodeProtocol}
		}
		return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeProtocol}
	}
	return &WindowUpdateFrame{FrameHeader: fh, Increment: inc}, nil
}

func (fr *Framer) WriteWindowUpdate(ob *OutputBuffer, streamID uint32, increment uint32) error {
	if err := writeFrameHeader(ob, FrameHeader{Length: 4, Type: FrameWindowUpdate, StreamID: streamID}); err != nil {
		return err
	}
	return ob.Write32Bit(increment &^ (1 << 31))
}

func parseContinuationFrame(fh FrameHeader, ib *InputBuffer) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError{Code: ErrCodeProtocol}
	}
	frag := ib.ReadCopy(int(fh.Length))
	return &ContinuationFrame{FrameHeader: fh, HeaderBlockFragment: frag}, nil
}

func (fr *Framer) WriteContinuation(ob *OutputBuffer, streamID uint32, endHeaders bool, frag []byte) error {
	var flags Flags
	if endHeaders {
		flags = FlagEndHeaders
	}
	if err := writeFrameHeader(ob, FrameHeader{Length: uint32(len(frag)), Type: FrameContinuation, Flags: flags, StreamID: streamID}); err != nil {
		return err
	}
	return ob.WriteBytes(frag)
}
