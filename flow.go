// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

// flow is a signed flow-control credit, one per connection and one
// per stream (spec.md §4.7). It tracks how many DATA bytes this
// endpoint may still send; WINDOW_UPDATE frames and SETTINGS changes
// to INITIAL_WINDOW_SIZE both call add with a signed delta.
type flow struct {
	n int32
}

func newFlow(initial int32) *flow { return &flow{n: initial} }

// available is the number of bytes this endpoint may currently send.
func (f *flow) available() int32 { return f.n }

// take debits n bytes after sending a DATA frame of that length.
func (f *flow) take(n int32) { f.n -= n }

// add credits a (possibly negative) delta, as from a WINDOW_UPDATE
// increment or an INITIAL_WINDOW_SIZE change. It returns false if the
// resulting window would exceed the protocol maximum of 2^31-1.
func (f *flow) add(delta int32) bool {
	sum := int64(f.n) + int64(delta)
	if sum > maxWindowSize {
		return false
	}
	f.n = int32(sum)
	return true
}
