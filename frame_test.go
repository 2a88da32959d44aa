// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeFrame runs writeFn against a fresh OutputBuffer and feeds the
// resulting bytes through a fresh InputBuffer, so tests can exercise
// write/parse as a pair without a real socket.
func encodeFrame(t *testing.T, writeFn func(ob *OutputBuffer) error) *InputBuffer {
	t.Helper()
	ob := NewOutputBuffer(4096)
	require.NoError(t, writeFn(ob))
	ib := NewInputBuffer(4096)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	return ib
}

func TestFramerDataRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteData(ob, 1, []byte("payload"), true)
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	df, ok := f.(*DataFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(1), df.Header().StreamID)
	assert.True(t, df.Header().Flags.Has(FlagEndStream))
	assert.Equal(t, []byte("payload"), df.Data())
}

func TestFramerDataStreamZeroIsConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteData(ob, 0, []byte("x"), false)
	})
	_, err := fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestFramerDataPaddingEqualToPayloadIsConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	// Hand-build: PAD_LENGTH byte equal to the remaining payload length.
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 2, Type: FrameData, Flags: FlagPadded, StreamID: 1}))
	require.NoError(t, ob.WriteByte(1)) // pad length == remaining payload (1 byte)
	require.NoError(t, ob.WriteByte(0)) // the one "payload" byte, actually all padding
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestFramerHeadersRoundTripWithContinuation(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteHeaders(ob, HeadersFrameParam{StreamID: 3, BlockFragment: []byte("hdrs"), EndHeaders: false, EndStream: true})
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	hf, ok := f.(*HeadersFrame)
	require.True(t, ok)
	assert.False(t, hf.HeadersEnded())
	assert.True(t, hf.StreamEnded())
	assert.Equal(t, []byte("hdrs"), hf.HeaderBlockFragment)

	ib2 := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteContinuation(ob, 3, true, []byte("more"))
	})
	f2, err := fr.ReadFrame(ib2)
	require.NoError(t, err)
	cf, ok := f2.(*ContinuationFrame)
	require.True(t, ok)
	assert.True(t, cf.HeadersEnded())
	assert.Equal(t, []byte("more"), cf.HeaderBlockFragment)
}

func TestFramerHeadersStreamZeroIsConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteHeaders(ob, HeadersFrameParam{StreamID: 0, BlockFragment: []byte("x"), EndHeaders: true})
	})
	_, err := fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestParsePriorityFrame(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 5, Type: FramePriority, StreamID: 1}))
	require.NoError(t, ob.Write32Bit((1<<31)|7)) // exclusive dependency on stream 7
	require.NoError(t, ob.WriteByte(200))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)

	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	pf, ok := f.(*PriorityFrame)
	require.True(t, ok)
	assert.True(t, pf.Exclusive)
	assert.Equal(t, uint32(7), pf.StreamDep)
	assert.Equal(t, uint8(200), pf.Weight)
}

func TestParsePriorityFrameSelfDependencyIsStreamError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 5, Type: FramePriority, StreamID: 9}))
	require.NoError(t, ob.Write32Bit(9))
	require.NoError(t, ob.WriteByte(0))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)

	_, err = fr.ReadFrame(ib)
	assert.Equal(t, StreamError{StreamID: 9, Code: ErrCodeProtocol}, err)
}

func TestParsePriorityFrameWrongLengthIsFrameSizeStreamError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 3, Type: FramePriority, StreamID: 1}))
	require.NoError(t, ob.WriteBytes([]byte{1, 2, 3}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)

	_, err = fr.ReadFrame(ib)
	assert.Equal(t, StreamError{StreamID: 1, Code: ErrCodeFrameSize}, err)
}

func TestFramerRSTStreamRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteRSTStream(ob, 5, ErrCodeCancel)
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	rf, ok := f.(*RSTStreamFrame)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCancel, rf.ErrCode)
}

func TestFramerRSTStreamWrongLength(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 3, Type: FrameRSTStream, StreamID: 1}))
	require.NoError(t, ob.WriteBytes([]byte{1, 2, 3}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeFrameSize}, err)
}

func TestFramerSettingsRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteSettings(ob, Setting{ID: SettingInitialWindowSize, Val: 1000}, Setting{ID: SettingMaxFrameSize, Val: 20000})
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	sf, ok := f.(*SettingsFrame)
	require.True(t, ok)
	assert.False(t, sf.IsAck())
	var got []Setting
	require.NoError(t, sf.ForeachSetting(func(s Setting) error {
		got = append(got, s)
		return nil
	}))
	assert.Equal(t, []Setting{{SettingInitialWindowSize, 1000}, {SettingMaxFrameSize, 20000}}, got)
}

func TestFramerSettingsAckRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteSettingsAck(ob)
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	sf, ok := f.(*SettingsFrame)
	require.True(t, ok)
	assert.True(t, sf.IsAck())
}

func TestFramerSettingsNonMultipleOf6IsFrameSizeError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 5, Type: FrameSettings}))
	require.NoError(t, ob.WriteBytes([]byte{1, 2, 3, 4, 5}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeFrameSize}, err)
}

func TestFramerSettingsAckWithPayloadIsFrameSizeError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 6, Type: FrameSettings, Flags: FlagAck}))
	require.NoError(t, ob.WriteBytes([]byte{0, 1, 0, 0, 0, 1}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeFrameSize}, err)
}

func TestFramerSettingsOnNonZeroStreamIsConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 0, Type: FrameSettings, StreamID: 1}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestParsePushPromiseAlwaysConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 4, Type: FramePushPromise, StreamID: 1}))
	require.NoError(t, ob.Write32Bit(3))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestFramerPingRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	data := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WritePing(ob, false, data)
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	pf, ok := f.(*PingFrame)
	require.True(t, ok)
	assert.False(t, pf.IsAck())
	assert.Equal(t, data, pf.Data)
}

func TestFramerPingWrongLength(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 4, Type: FramePing}))
	require.NoError(t, ob.WriteBytes([]byte{1, 2, 3, 4}))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeFrameSize}, err)
}

func TestFramerPingNonZeroStreamIsConnectionError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 8, Type: FramePing, StreamID: 1}))
	require.NoError(t, ob.WriteBytes(make([]byte, 8)))
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)
}

func TestFramerGoAwayRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteGoAway(ob, 99, ErrCodeEnhanceYourCalm, []byte("slow down"))
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	gf, ok := f.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(99), gf.LastStreamID)
	assert.Equal(t, ErrCodeEnhanceYourCalm, gf.ErrCode)
	assert.Equal(t, []byte("slow down"), gf.DebugData)
}

func TestFramerWindowUpdateRoundTrip(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteWindowUpdate(ob, 7, 1000)
	})
	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	wf, ok := f.(*WindowUpdateFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(7), wf.Header().StreamID)
	assert.Equal(t, uint32(1000), wf.Increment)
}

func TestFramerWindowUpdateZeroIncrementIsProtocolError(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)

	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteWindowUpdate(ob, 0, 0)
	})
	_, err := fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, err)

	ib2 := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteWindowUpdate(ob, 3, 0)
	})
	_, err = fr.ReadFrame(ib2)
	assert.Equal(t, StreamError{StreamID: 3, Code: ErrCodeProtocol}, err)
}

func TestFramerUnknownFrameTypeIsSkipped(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ob := NewOutputBuffer(64)
	require.NoError(t, writeFrameHeader(ob, FrameHeader{Length: 3, Type: 0x7f, StreamID: 1}))
	require.NoError(t, ob.WriteBytes([]byte{1, 2, 3}))
	require.NoError(t, ob.WriteByte(9)) // start of a following, unrelated frame's bytes
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader(ob.Bytes()))
	require.NoError(t, err)

	f, err := fr.ReadFrame(ib)
	require.NoError(t, err)
	_, ok := f.(*UnknownFrame)
	assert.True(t, ok)
	assert.Equal(t, byte(9), ib.PeekByte())
}

func TestFramerOversizeStateChangingFrameIsConnectionError(t *testing.T) {
	fr := NewFramer(16) // tiny max frame size
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteHeaders(ob, HeadersFrameParam{StreamID: 1, BlockFragment: make([]byte, 32), EndHeaders: true})
	})
	_, err := fr.ReadFrame(ib)
	assert.Equal(t, ConnectionError{Code: ErrCodeFrameSize}, err)
}

func TestFramerOversizeNonStateChangingFrameIsStreamError(t *testing.T) {
	fr := NewFramer(16)
	ib := encodeFrame(t, func(ob *OutputBuffer) error {
		return fr.WriteData(ob, 1, make([]byte, 32), false)
	})
	_, err := fr.ReadFrame(ib)
	assert.Equal(t, StreamError{StreamID: 1, Code: ErrCodeFrameSize}, err)
}

func TestFramerReadFrameNeedsMoreData(t *testing.T) {
	fr := NewFramer(defaultMaxFrameSizeLimit)
	ib := NewInputBuffer(64)
	_, err := ib.AddData(bytes.NewReader([]byte{0, 0, 5, 0, 0, 0, 0, 0, 1})) // header claims 5 payload bytes, none present
	require.NoError(t, err)
	_, err = fr.ReadFrame(ib)
	assert.ErrorIs(t, err, ErrNeedMoreData)
	// The read position must be unchanged so a later call with more bytes can re-parse from scratch.
	assert.Equal(t, 0, ib.position)
}
