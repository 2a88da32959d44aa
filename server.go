// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ClientPreface is the literal byte sequence every HTTP/2 client sends
// before its first SETTINGS frame (RFC 9113 §3.4).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ConnResult is returned by Connection.HandleInput, telling the
// external I/O loop what to do next (spec.md §6).
type ConnResult int

const (
	AllDataHandled ConnResult = iota
	DataStillToHandle
	CloseConnection
)

type connState int32

const (
	connStart connState = iota
	connAwaitingPreface
	connAwaitingSettings
	connOpen
	connClosed
)

// maxFramesPerInputCall bounds how many frames one HandleInput call
// processes before yielding DataStillToHandle back to the caller, so
// a burst of buffered frames on one connection cannot starve the
// cross-thread write queues of other connections sharing the same
// I/O loop.
const maxFramesPerInputCall = 64

type headerWriteReq struct {
	streamID  uint32
	status    int
	header    *Header
	endStream bool
}

type dataWriteReq struct {
	streamID  uint32
	data      []byte
	endStream bool
}

type windowUpdateReq struct {
	streamID uint32
	n        uint32
}

// Connection is the per-TCP-connection HTTP/2 core of spec.md §3/§4.6.
// All parsing, state transitions and frame dispatch happen on one
// "connection thread" — the goroutine that calls HandleInput — except
// for SendOutput, which spec.md §5 calls out as the only operation
// safe to call from any thread. Handler goroutines reach the
// connection only through the queued, lock-protected operations
// writeHeader/writeData/sendWindowUpdate/requestReset below; none of
// them block.
type Connection struct {
	config  Config
	pool    *Pool
	handler Handler
	framer  *Framer

	conn    io.ReadWriteCloser
	onClose func()
	input   *InputBuffer

	writeMu sync.Mutex // serializes raw writes to conn (SendOutput)

	serveG goroutineLock

	// Connection-thread-owned state (no lock needed; see serveG).
	state                  connState
	streamsMu              sync.Mutex // streams/orphans are genuinely concurrent: touched by either thread
	streams                map[uint32]*Stream
	orphans                map[uint32]*Stream // RST_STREAM'd streams awaiting their in-flight handler (spec.md §9)
	highestStreamID        uint32
	lastSuccessfulStreamID uint32
	curHeaderStreamID      uint32
	curHeaderRefused       bool

	serverSettings Settings
	clientSettings Settings
	headerCodec    *HeaderCodec

	flow     *flow // our send credit toward the peer (connection-wide)
	recvFlow *flow // credit we've granted the peer to send us DATA

	sentGoAway bool

	// Cross-thread pending queues, drained only from the connection
	// thread at the top of HandleInput.
	pendingMu            sync.Mutex
	pendingHeaders       []headerWriteReq
	pendingData          []dataWriteReq
	pendingWindowUpdates []windowUpdateReq
	pendingResets        []StreamError
	pendingDone          []uint32 // streamIDs whose handler goroutine has returned
}

// NewConnection constructs a Connection bound to the given handler,
// configuration and context reuse manager. Call Reset before first
// use and after every TCP connection it has finished serving.
func NewConnection(config Config, handler Handler, pool *Pool) *Connection {
	sc := &Connection{
		config:  config,
		pool:    pool,
		handler: handler,
		serveG:  newGoroutineLock(),
	}
	sc.serverSettings = Settings{
		HeaderTableSize:   config.HeaderTableSize,
		InitialWindowSize: config.InitialWindowSize,
		MaxFrameSize:      config.MaxFrameSize,
		MaxHeaderListSize: config.MaxHeaderListSize,
	}
	if config.MaxConcurrentStreams != 0 {
		// Goes through the setter, not the struct literal above, so
		// hasMaxConcurrent is recorded and advertisedSettings actually
		// sends MAX_CONCURRENT_STREAMS (spec.md §8 scenario 1).
		_ = sc.serverSettings.SetMaxConcurrentStreams(config.MaxConcurrentStreams)
	}
	sc.framer = NewFramer(config.MaxFrameSize)
	sc.input = NewInputBuffer(config.InputBufferSize)
	return sc
}

// Reset prepares the Connection for a freshly accepted TCP connection
// (spec.md §6), inheriting channel and onClose from the caller. It
// emits the server's initial SETTINGS frame immediately, matching the
// teacher's serve() — at this point nothing else can be running
// concurrently against this Connection yet.
func (sc *Connection) Reset(conn io.ReadWriteCloser, onClose func()) error {
	sc.serveG.check()
	sc.conn = conn
	sc.onClose = onClose
	sc.input.Reset()
	sc.streams = make(map[uint32]*Stream)
	sc.orphans = make(map[uint32]*Stream)
	sc.highestStreamID = 0
	sc.lastSuccessfulStreamID = 0
	sc.curHeaderStreamID = 0
	sc.curHeaderRefused = false
	sc.clientSettings = DefaultSettings()
	sc.headerCodec = NewHeaderCodec(sc.config.HeaderTableSize, sc.config.MaxHeaderListSize)
	sc.flow = newFlow(defaultInitialWindowSize)
	sc.recvFlow = newFlow(int32(sc.config.InitialWindowSize))
	sc.sentGoAway = false
	sc.pendingHeaders = nil
	sc.pendingData = nil
	sc.pendingWindowUpdates = nil
	sc.pendingResets = nil
	sc.pendingDone = nil
	sc.state = connStart

	if err := sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WriteSettings(ob, sc.advertisedSettings()...)
	}); err != nil {
		return err
	}
	sc.state = connAwaitingPreface
	return nil
}

func (sc *Connection) advertisedSettings() []Setting {
	s := []Setting{
		{ID: SettingHeaderTableSize, Val: sc.serverSettings.HeaderTableSize},
		{ID: SettingEnablePush, Val: 0},
		{ID: SettingInitialWindowSize, Val: sc.serverSettings.InitialWindowSize},
		{ID: SettingMaxFrameSize, Val: sc.serverSettings.MaxFrameSize},
	}
	if sc.serverSettings.HasMaxConcurrentStreams() {
		s = append(s, Setting{ID: SettingMaxConcurrentStreams, Val: sc.serverSettings.MaxConcurrentStreams})
	}
	if sc.serverSettings.MaxHeaderListSize != 0 {
		s = append(s, Setting{ID: SettingMaxHeaderListSize, Val: sc.serverSettings.MaxHeaderListSize})
	}
	return s
}

// Input returns the Connection's InputBuffer, so the embedder's I/O
// loop can feed it fresh bytes (via AddData) before calling
// HandleInput. This core never reads the socket itself (spec.md §1).
func (sc *Connection) Input() *InputBuffer { return sc.input }

// HandleInput drives parsing until no complete frame remains in the
// input buffer or an unrecoverable error closes the connection
// (spec.md §6). The caller owns reading bytes off the socket into the
// InputBuffer (via AddData) and re-invoking HandleInput; this core
// never reads the socket itself.
func (sc *Connection) HandleInput() (ConnResult, error) {
	sc.serveG.check()
	if sc.state == connClosed {
		return CloseConnection, nil
	}
	sc.drainPending()

	processed := 0
	for processed < maxFramesPerInputCall {
		result, err := sc.step()
		switch result {
		case stepNeedMore:
			sc.drainPending()
			return AllDataHandled, nil
		case stepClosed:
			return CloseConnection, err
		}
		processed++
	}
	sc.drainPending()
	return DataStillToHandle, nil
}

type stepResult int

const (
	stepContinue stepResult = iota
	stepNeedMore
	stepClosed
)

// step processes exactly one unit of input: the preface, the
// mandatory first SETTINGS frame, or one ordinary frame, depending on
// connection state.
func (sc *Connection) step() (stepResult, error) {
	switch sc.state {
	case connAwaitingPreface:
		return sc.stepPreface()
	case connAwaitingSettings:
		return sc.stepAwaitingSettings()
	default:
		return sc.stepFrame()
	}
}

func (sc *Connection) stepPreface() (stepResult, error) {
	if !sc.input.Available(len(ClientPreface)) {
		return stepNeedMore, nil
	}
	got := sc.input.ReadString(len(ClientPreface))
	if got != ClientPreface {
		sc.logf("bogus client preface: %q", got)
		sc.goAway(ErrCodeProtocol)
		return stepClosed, ConnectionError{Code: ErrCodeProtocol}
	}
	sc.state = connAwaitingSettings
	return stepContinue, nil
}

func (sc *Connection) stepAwaitingSettings() (stepResult, error) {
	f, err := sc.framer.ReadFrame(sc.input)
	if err == ErrNeedMoreData {
		return stepNeedMore, nil
	}
	if err != nil {
		return sc.handleFrameError(err)
	}
	sf, ok := f.(*SettingsFrame)
	if !ok || sf.IsAck() {
		return sc.handleFrameError(ConnectionError{Code: ErrCodeProtocol})
	}
	if err := sc.mergeClientSettings(sf); err != nil {
		return sc.handleFrameError(err)
	}
	if err := sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WriteSettingsAck(ob)
	}); err != nil {
		sc.teardown()
		return stepClosed, err
	}
	sc.state = connOpen
	return stepContinue, nil
}

func (sc *Connection) stepFrame() (stepResult, error) {
	f, err := sc.framer.ReadFrame(sc.input)
	if err == ErrNeedMoreData {
		return stepNeedMore, nil
	}
	if err != nil {
		return sc.handleFrameError(err)
	}
	if err := sc.dispatchFrame(f); err != nil {
		return sc.handleFrameError(err)
	}
	return stepContinue, nil
}

// handleFrameError applies the taxonomy of spec.md §7: stream errors
// reset one stream and keep going; connection errors GOAWAY and
// close; flow-control errors route to whichever scope they name.
func (sc *Connection) handleFrameError(err error) (stepResult, error) {
	switch e := err.(type) {
	case StreamError:
		sc.resetStreamInLoop(e)
		return stepContinue, nil
	case ConnectionError:
		sc.condlogf(e, "closing connection: %v", e)
		sc.goAway(e.Code)
		return stepClosed, e
	case FlowControlError:
		if e.StreamID == 0 {
			sc.goAway(ErrCodeFlowControl)
			return stepClosed, e
		}
		sc.resetStreamInLoop(StreamError{StreamID: e.StreamID, Code: ErrCodeFlowControl})
		return stepContinue, nil
	default:
		sc.logf("closing connection on error: %v", err)
		sc.teardown()
		return stepClosed, err
	}
}

func (sc *Connection) dispatchFrame(f Frame) error {
	if sc.curHeaderStreamID != 0 {
		cf, ok := f.(*ContinuationFrame)
		if !ok || cf.FrameHeader.StreamID != sc.curHeaderStreamID {
			return ConnectionError{Code: ErrCodeProtocol}
		}
	}
	switch v := f.(type) {
	case *SettingsFrame:
		return sc.processSettingsFrame(v)
	case *HeadersFrame:
		return sc.processHeaders(v)
	case *ContinuationFrame:
		return sc.processContinuation(v)
	case *PriorityFrame:
		return nil // parsed/validated already; never influences scheduling (spec.md §1)
	case *RSTStreamFrame:
		return sc.processRSTStream(v)
	case *WindowUpdateFrame:
		return sc.processWindowUpdate(v)
	case *PingFrame:
		return sc.processPing(v)
	case *DataFrame:
		return sc.processData(v)
	case *GoAwayFrame:
		return sc.processGoAway(v)
	case *PushPromiseFrame:
		return ConnectionError{Code: ErrCodeProtocol}
	case *UnknownFrame:
		return nil
	default:
		return nil
	}
}

func (sc *Connection) processSettingsFrame(f *SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	return sc.mergeClientSettings(f)
}

func (sc *Connection) mergeClientSettings(f *SettingsFrame) error {
	old := sc.clientSettings
	next := sc.clientSettings
	if err := f.ForeachSetting(next.Apply); err != nil {
		return err
	}
	if next.InitialWindowSize != old.InitialWindowSize {
		growth := int32(next.InitialWindowSize) - int32(old.InitialWindowSize)
		for _, st := range sc.streams {
			if !st.flow.add(growth) {
				return FlowControlError{}
			}
		}
	}
	if next.HeaderTableSize != old.HeaderTableSize {
		sc.headerCodec.Reconfigure(next.HeaderTableSize)
	}
	sc.clientSettings = next
	return nil
}

func (sc *Connection) processPing(f *PingFrame) error {
	if f.IsAck() {
		return nil
	}
	return sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WritePing(ob, true, f.Data)
	})
}

func (sc *Connection) processWindowUpdate(f *WindowUpdateFrame) error {
	if f.FrameHeader.StreamID != 0 {
		st := sc.getStream(f.FrameHeader.StreamID)
		if st == nil {
			return nil // tolerated: stream may already be half-closed/closed (RFC 9113 §5.1)
		}
		if !st.flow.add(int32(f.Increment)) {
			return FlowControlError{StreamID: f.FrameHeader.StreamID}
		}
		return nil
	}
	if !sc.flow.add(int32(f.Increment)) {
		return FlowControlError{}
	}
	return nil
}

func (sc *Connection) processGoAway(f *GoAwayFrame) error {
	sc.vlogf("client sent GOAWAY: last_stream_id=%d code=%v", f.LastStreamID, f.ErrCode)
	return nil
}

func (sc *Connection) processData(f *DataFrame) error {
	id := f.FrameHeader.StreamID
	st := sc.getStream(id)
	if st == nil || (st.state != stateOpen && st.state != stateHalfClosedLocal) {
		return StreamError{StreamID: id, Code: ErrCodeStreamClosed}
	}
	if st.body == nil {
		return StreamError{StreamID: id, Code: ErrCodeStreamClosed}
	}
	data := f.Data()
	if len(data) > 0 {
		st.recvFlow.take(int32(len(data)))
		sc.recvFlow.take(int32(len(data)))
		if st.recvFlow.available() < 0 || sc.recvFlow.available() < 0 {
			return FlowControlError{StreamID: id}
		}
	}
	if st.declBodyBytes != -1 && st.bodyBytes+int64(len(data)) > st.declBodyBytes {
		st.body.Close(errBodyTooLong)
		return StreamError{StreamID: id, Code: ErrCodeStreamClosed}
	}
	if len(data) > 0 {
		if _, err := st.body.Write(data); err != nil {
			return StreamError{StreamID: id, Code: ErrCodeStreamClosed}
		}
		st.bodyBytes += int64(len(data))
	}
	if f.FrameHeader.Flags.Has(FlagEndStream) {
		if st.declBodyBytes != -1 && st.declBodyBytes != st.bodyBytes {
			st.body.Close(errBodyShort)
		} else {
			st.body.Close(nil)
		}
		st.transitionOnDataEnd()
		if st.state == stateClosed {
			sc.removeStream(id)
		}
	}
	return nil
}

var errBodyTooLong = wrapIOErr(io.ErrUnexpectedEOF, "declared content-length exceeded")
var errBodyShort = wrapIOErr(io.ErrUnexpectedEOF, "declared content-length not reached")

func (sc *Connection) processHeaders(f *HeadersFrame) error {
	id := f.FrameHeader.StreamID
	if sc.sentGoAway {
		return nil
	}
	if id%2 != 1 || id <= sc.highestStreamID || sc.curHeaderStreamID != 0 {
		return ConnectionError{Code: ErrCodeProtocol}
	}
	sc.highestStreamID = id

	refused := sc.config.MaxConcurrentStreams != 0 && uint32(len(sc.streams)) >= sc.config.MaxConcurrentStreams
	st := sc.newStream(id)
	st.transitionOnHeaders(f.StreamEnded())
	sc.streamsMu.Lock()
	sc.streams[id] = st
	sc.streamsMu.Unlock()
	sc.armIdleTimer(st)

	sc.curHeaderStreamID = id
	sc.curHeaderRefused = refused
	sc.headerCodec.BeginDecode(id, true, st.reqHeader)
	return sc.processHeaderBlockFragment(st, f.HeaderBlockFragment, f.HeadersEnded())
}

// armIdleTimer starts the configured per-stream idle timeout, if any.
// Firing sends an asynchronous RST_STREAM request with CANCEL through
// the same cross-thread queue a handler goroutine would use (spec.md
// §5's stream-level timeout).
func (sc *Connection) armIdleTimer(st *Stream) {
	if sc.config.StreamIdleTimeout <= 0 {
		return
	}
	id := st.id
	st.idleTimer = time.AfterFunc(sc.config.StreamIdleTimeout, func() {
		sc.requestReset(StreamError{StreamID: id, Code: ErrCodeCancel})
	})
}

func (sc *Connection) processContinuation(f *ContinuationFrame) error {
	st := sc.getStream(f.FrameHeader.StreamID)
	if st == nil || sc.curHeaderStreamID != st.id {
		return ConnectionError{Code: ErrCodeProtocol}
	}
	return sc.processHeaderBlockFragment(st, f.HeaderBlockFragment, f.HeadersEnded())
}

func (sc *Connection) processHeaderBlockFragment(st *Stream, frag []byte, end bool) error {
	if err := sc.headerCodec.WriteFragment(frag); err != nil {
		sc.curHeaderStreamID = 0
		return err
	}
	if !end {
		return nil
	}
	sc.curHeaderStreamID = 0
	err := sc.headerCodec.EndDecode()
	if _, isConnErr := err.(ConnectionError); isConnErr {
		return err
	}
	if err != nil { // malformed header StreamError
		sc.removeStream(st.id)
		return err
	}
	if sc.curHeaderRefused {
		sc.removeStream(st.id)
		return StreamError{StreamID: st.id, Code: ErrCodeRefusedStream}
	}
	return sc.dispatchRequest(st)
}

func (sc *Connection) dispatchRequest(st *Stream) error {
	h := st.reqHeader
	if h.Method == "" || h.Path == "" || (h.Scheme != "http" && h.Scheme != "https") {
		return StreamError{StreamID: st.id, Code: ErrCodeProtocol}
	}
	bodyOpen := st.state == stateOpen
	body := &requestBody{conn: sc, streamID: st.id}
	if bodyOpen {
		st.body = newPipe()
		body.pipe = st.body
		st.declBodyBytes = -1
		if cl := h.Get("content-length"); cl != "" {
			if v, err := strconv.ParseInt(cl, 10, 64); err == nil {
				st.declBodyBytes = v
			}
		}
	}
	req := &Request{
		Method:    h.Method,
		Scheme:    h.Scheme,
		Authority: h.Authority,
		Path:      h.Path,
		Header:    h,
		Body:      body,
		StreamID:  st.id,
	}
	sink := newStreamSink(sc, st.id, body)
	go sc.runHandler(sink, req)
	return nil
}

// runHandler executes the user handler on its own goroutine, per
// spec.md §5. It recovers panics per spec.md §7's handler-error
// policy: a 500 if no headers were sent yet, else RST_STREAM with
// INTERNAL_ERROR.
func (sc *Connection) runHandler(sink *streamSink, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			sc.logf("handler panic on stream %d: %v\n%s", req.StreamID, r, debug.Stack())
			if !sink.wroteHeaders {
				sink.WriteHeader(500)
				sink.Close()
			} else {
				sc.requestReset(StreamError{StreamID: req.StreamID, Code: ErrCodeInternal})
			}
		} else {
			sink.Close()
		}
		sc.requestHandlerDone(req.StreamID)
	}()
	sc.handler.ServeH2(sink, req)
}

func (sc *Connection) processRSTStream(f *RSTStreamFrame) error {
	id := f.FrameHeader.StreamID
	if st := sc.getStream(id); st != nil {
		// The stream's in-flight handler goroutine, if any, may still be
		// running arbitrary user code. Stop routing frames to/from this
		// stream immediately, but don't hand its Stream struct back to
		// the pool until that goroutine reports in via
		// requestHandlerDone — see the §9 decision in DESIGN.md.
		sc.abandonStream(id, st)
		return nil
	}
	if id > sc.highestStreamID {
		return ConnectionError{Code: ErrCodeProtocol} // stream was never opened
	}
	return nil // already closed; tolerated
}

// abandonStream removes st from routing and unblocks its body pipe,
// but defers returning it to the pool until finishHandlerInLoop
// confirms no handler goroutine is still using it.
func (sc *Connection) abandonStream(id uint32, st *Stream) {
	sc.streamsMu.Lock()
	delete(sc.streams, id)
	sc.orphans[id] = st
	sc.streamsMu.Unlock()
	st.close()
}

// goAway sends GOAWAY with code and tears the connection down.
func (sc *Connection) goAway(code ErrCode) {
	sc.sentGoAway = true
	last := sc.lastSuccessfulStreamID
	_ = sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WriteGoAway(ob, last, code, nil)
	})
	sc.teardown()
}

func (sc *Connection) resetStreamInLoop(se StreamError) {
	_ = sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WriteRSTStream(ob, se.StreamID, se.Code)
	})
	sc.removeStream(se.StreamID)
}

// --- cross-thread surface -------------------------------------------------

func (sc *Connection) writeHeader(req headerWriteReq) {
	sc.pendingMu.Lock()
	sc.pendingHeaders = append(sc.pendingHeaders, req)
	sc.pendingMu.Unlock()
}

func (sc *Connection) writeData(streamID uint32, p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	sc.pendingMu.Lock()
	sc.pendingData = append(sc.pendingData, dataWriteReq{streamID: streamID, data: cp})
	sc.pendingMu.Unlock()
	return len(p), nil
}

// closeStream enqueues the final, END_STREAM-bearing DATA frame for a
// stream whose headers are already sent (ResponseSink.Close after at
// least one Write or WriteHeader).
func (sc *Connection) closeStream(streamID uint32) {
	sc.pendingMu.Lock()
	sc.pendingData = append(sc.pendingData, dataWriteReq{streamID: streamID, endStream: true})
	sc.pendingMu.Unlock()
}

func (sc *Connection) sendWindowUpdate(streamID uint32, n int) {
	const maxIncrement = maxWindowSize
	sc.pendingMu.Lock()
	defer sc.pendingMu.Unlock()
	for n >= maxIncrement {
		sc.pendingWindowUpdates = append(sc.pendingWindowUpdates, windowUpdateReq{streamID, maxIncrement})
		n -= maxIncrement
	}
	if n > 0 {
		sc.pendingWindowUpdates = append(sc.pendingWindowUpdates, windowUpdateReq{streamID, uint32(n)})
	}
}

func (sc *Connection) requestReset(se StreamError) {
	sc.pendingMu.Lock()
	sc.pendingResets = append(sc.pendingResets, se)
	sc.pendingMu.Unlock()
}

// requestHandlerDone reports that the handler goroutine for streamID
// has returned. It is always called, whether or not that stream was
// ever RST_STREAM'd; finishHandlerInLoop is a no-op for streams that
// were never orphaned.
func (sc *Connection) requestHandlerDone(streamID uint32) {
	sc.pendingMu.Lock()
	sc.pendingDone = append(sc.pendingDone, streamID)
	sc.pendingMu.Unlock()
}

// SendOutput is the one Connection method spec.md §5 allows any
// thread to call: it serializes ob's bytes onto the wire and returns
// ob to the pool. The "enqueuing" spec.md describes is implemented
// here as an immediate, mutex-serialized write rather than a
// buffered async queue, since the underlying byte channel is already
// a plain io.Writer with no non-blocking write mode exposed to this
// core (see DESIGN.md).
func (sc *Connection) SendOutput(ob *OutputBuffer) error {
	err := sc.rawWrite(ob.Bytes())
	sc.pool.ReturnOutputBuffer(ob)
	return err
}

func (sc *Connection) rawWrite(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.conn == nil {
		return ErrClosedChannel
	}
	_, err := sc.conn.Write(p)
	if err != nil {
		return wrapIOErr(err, "writing to connection")
	}
	return nil
}

func (sc *Connection) checkoutOutput() *OutputBuffer {
	ob := sc.pool.CheckoutOutputBuffer()
	ob.OnFull = func(o *OutputBuffer) error { return sc.rawWrite(o.Bytes()) }
	return ob
}

func (sc *Connection) writeImmediate(fn func(ob *OutputBuffer) error) error {
	ob := sc.checkoutOutput()
	if err := fn(ob); err != nil {
		sc.pool.ReturnOutputBuffer(ob)
		return err
	}
	return sc.SendOutput(ob)
}

// drainPending flushes every queued cross-thread write. It must only
// ever run on the connection thread, since it touches the header
// codec and both flow-control windows.
func (sc *Connection) drainPending() {
	sc.pendingMu.Lock()
	headers := sc.pendingHeaders
	data := sc.pendingData
	wus := sc.pendingWindowUpdates
	resets := sc.pendingResets
	done := sc.pendingDone
	sc.pendingHeaders = nil
	sc.pendingData = nil
	sc.pendingWindowUpdates = nil
	sc.pendingResets = nil
	sc.pendingDone = nil
	sc.pendingMu.Unlock()

	for _, req := range headers {
		sc.writeHeaderInLoop(req)
	}
	for _, req := range wus {
		sc.sendWindowUpdateInLoop(req)
	}
	for _, se := range resets {
		sc.resetStreamInLoop(se)
	}
	for _, req := range data {
		sc.flushDataInLoop(req)
	}
	for _, id := range done {
		sc.finishHandlerInLoop(id)
	}
}

// finishHandlerInLoop releases an orphaned Stream (one abandoned by
// abandonStream while its handler was still running) back to the
// pool now that the handler has returned. No-op for a streamID that
// was never orphaned.
func (sc *Connection) finishHandlerInLoop(streamID uint32) {
	sc.streamsMu.Lock()
	st := sc.orphans[streamID]
	delete(sc.orphans, streamID)
	sc.streamsMu.Unlock()
	if st != nil {
		sc.pool.returnStream(st)
	}
}

func (sc *Connection) writeHeaderInLoop(req headerWriteReq) {
	st := sc.getStream(req.streamID)
	if st == nil {
		return // stream already gone (e.g. RST_STREAM raced the handler)
	}
	req.header.Status = strconv.Itoa(req.status)
	block, err := sc.headerCodec.Encode(req.header, false)
	if err != nil {
		sc.logf("error encoding response headers for stream %d: %v", req.streamID, err)
		sc.requestReset(StreamError{StreamID: req.streamID, Code: ErrCodeInternal})
		return
	}
	max := int(sc.clientSettings.MaxFrameSize)
	if max < minMaxFrameSize {
		max = minMaxFrameSize
	}
	first := block
	rest := []byte(nil)
	if len(first) > max {
		first, rest = block[:max], block[max:]
	}
	endHeaders := len(rest) == 0
	err = sc.writeImmediate(func(ob *OutputBuffer) error {
		return sc.framer.WriteHeaders(ob, HeadersFrameParam{
			StreamID:      req.streamID,
			BlockFragment: first,
			EndStream:     req.endStream && endHeaders,
			EndHeaders:    endHeaders,
		})
	})
	if err != nil {
		sc.condlogf(err, "error writing response headers: %v", err)
		return
	}
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > max {
			chunk = rest[:max]
		}
		rest = rest[len(chunk):]
		last := len(rest) == 0
		err = sc.writeImmediate(func(ob *OutputBuffer) error {
			return sc.framer.WriteContinuation(ob, req.streamID, last, chunk)
		})
		if err != nil {
			sc.condlogf(err, "error writing response header continuation: %v", err)
			return
		}
	}
	if req.endStream {
		sc.finishStreamLocal(st)
	}
}

func (sc *Connection) sendWindowUpdateInLoop(wu windowUpdateReq) {
	if st := sc.getStream(wu.streamID); st != nil {
		st.recvFlow.add(int32(wu.n))
	}
	sc.recvFlow.add(int32(wu.n))
	_ = sc.writeImmediate(func(ob *OutputBuffer) error {
		if err := sc.framer.WriteWindowUpdate(ob, 0, wu.n); err != nil {
			return err
		}
		return sc.framer.WriteWindowUpdate(ob, wu.streamID, wu.n)
	})
}

func (sc *Connection) flushDataInLoop(req dataWriteReq) {
	st := sc.getStream(req.streamID)
	if st == nil {
		return
	}
	data := req.data
	for {
		if len(data) == 0 {
			if !req.endStream {
				return
			}
			if err := sc.writeImmediate(func(ob *OutputBuffer) error {
				return sc.framer.WriteData(ob, req.streamID, nil, true)
			}); err != nil {
				sc.condlogf(err, "error writing end-of-stream DATA: %v", err)
				return
			}
			sc.finishStreamLocal(st)
			return
		}
		avail := st.flow.available()
		if c := sc.flow.available(); c < avail {
			avail = c
		}
		if avail <= 0 {
			sc.pendingMu.Lock()
			sc.pendingData = append(sc.pendingData, dataWriteReq{streamID: req.streamID, data: data, endStream: req.endStream})
			sc.pendingMu.Unlock()
			return
		}
		n := len(data)
		if int32(n) > avail {
			n = int(avail)
		}
		chunk := data[:n]
		data = data[n:]
		endHere := req.endStream && len(data) == 0
		if err := sc.writeImmediate(func(ob *OutputBuffer) error {
			return sc.framer.WriteData(ob, req.streamID, chunk, endHere)
		}); err != nil {
			sc.condlogf(err, "error writing DATA: %v", err)
			return
		}
		sc.flow.take(int32(n))
		st.flow.take(int32(n))
		if endHere {
			sc.finishStreamLocal(st)
			return
		}
	}
}

// finishStreamLocal closes out a stream the server itself completed
// (END_STREAM sent).
func (sc *Connection) finishStreamLocal(st *Stream) {
	st.stopIdleTimer() // our response is fully sent; nothing left to time out
	if st.id > sc.lastSuccessfulStreamID {
		sc.lastSuccessfulStreamID = st.id
	}
	switch st.state {
	case stateHalfClosedRemote:
		sc.removeStream(st.id)
	default:
		st.state = stateHalfClosedLocal
	}
}

func (sc *Connection) getStream(id uint32) *Stream {
	sc.streamsMu.Lock()
	defer sc.streamsMu.Unlock()
	return sc.streams[id]
}

func (sc *Connection) removeStream(id uint32) {
	sc.streamsMu.Lock()
	st := sc.streams[id]
	delete(sc.streams, id)
	sc.streamsMu.Unlock()
	if st == nil {
		return
	}
	st.close()
	sc.pool.returnStream(st)
}

// teardown closes every stream, then the socket, then notifies the
// caller-supplied onClose hook. Idempotent.
func (sc *Connection) teardown() {
	if sc.state == connClosed {
		return
	}
	sc.state = connClosed
	sc.streamsMu.Lock()
	remaining := sc.streams
	orphaned := sc.orphans
	sc.streams = make(map[uint32]*Stream)
	sc.orphans = make(map[uint32]*Stream)
	sc.streamsMu.Unlock()
	for _, st := range remaining {
		st.close()
		sc.pool.returnStream(st)
	}
	for _, st := range orphaned {
		sc.pool.returnStream(st) // already closed by abandonStream
	}
	if sc.conn != nil {
		sc.conn.Close()
	}
	if sc.onClose != nil {
		sc.onClose()
	}
}

// Close idempotently shuts the connection down without sending
// GOAWAY, matching spec.md §6's Connection::close().
func (sc *Connection) Close() { sc.teardown() }

func (sc *Connection) vlogf(format string, args ...interface{}) {
	if VerboseLogs {
		sc.logf(format, args...)
	}
}

func (sc *Connection) logf(format string, args ...interface{}) {
	if sc.config.ErrorLog != nil {
		sc.config.ErrorLog.Printf(format, args...)
		return
	}
	stdLogger.Printf(format, args...)
}

func (sc *Connection) condlogf(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		sc.vlogf(format, args...)
		return
	}
	sc.logf(format, args...)
}
