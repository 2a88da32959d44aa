// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

// goroutineLock is a debug-only check that a set of methods is always
// called from the same goroutine — here, the single connection thread
// spec.md §5 requires for all parsing, state transitions and frame
// dispatch. It is a no-op today, matching the teacher's own
// goroutineLock type; a future debug build could track the calling
// goroutine ID and panic on a mismatch.
type goroutineLock uint64

func newGoroutineLock() goroutineLock { return 0 }

func (g goroutineLock) check() {}
