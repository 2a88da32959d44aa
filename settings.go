// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import "fmt"

// SettingID identifies one of the six HTTP/2 SETTINGS parameters.
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

func (s SettingID) String() string {
	switch s {
	case SettingHeaderTableSize:
		return "HEADER_TABLE_SIZE"
	case SettingEnablePush:
		return "ENABLE_PUSH"
	case SettingMaxConcurrentStreams:
		return "MAX_CONCURRENT_STREAMS"
	case SettingInitialWindowSize:
		return "INITIAL_WINDOW_SIZE"
	case SettingMaxFrameSize:
		return "MAX_FRAME_SIZE"
	case SettingMaxHeaderListSize:
		return "MAX_HEADER_LIST_SIZE"
	default:
		return fmt.Sprintf("UNKNOWN_SETTING(0x%x)", uint16(s))
	}
}

// Setting is a single id/value pair as carried in a SETTINGS frame.
type Setting struct {
	ID  SettingID
	Val uint32
}

func (s Setting) String() string { return fmt.Sprintf("[%v = %d]", s.ID, s.Val) }

// Defaults and bounds from RFC 9113 §6.5.2.
const (
	defaultHeaderTableSize   = 4096
	defaultInitialWindowSize = 65535
	defaultMaxFrameSize      = 16384
	minMaxFrameSize          = 1 << 14
	maxMaxFrameSize          = 1<<24 - 1
	maxWindowSize            = 1<<31 - 1
)

// Settings is a typed, validated record of one peer's six SETTINGS
// parameters. The zero value has every field zero; DefaultSettings
// returns the RFC defaults.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32 // 0 == unset/unbounded
	hasMaxConcurrent     bool
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // 0 == unset/unlimited
}

// DefaultSettings returns the RFC 9113 default parameter set.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:   defaultHeaderTableSize,
		EnablePush:        false,
		InitialWindowSize: defaultInitialWindowSize,
		MaxFrameSize:      defaultMaxFrameSize,
	}
}

// HasMaxConcurrentStreams reports whether a MAX_CONCURRENT_STREAMS
// value was ever set (the parameter otherwise has no server-imposed
// limit, per spec.md's "any" valid range).
func (s *Settings) HasMaxConcurrentStreams() bool { return s.hasMaxConcurrent }

// SetHeaderTableSize validates and stores HEADER_TABLE_SIZE. Any
// uint32 value is valid per RFC 9113.
func (s *Settings) SetHeaderTableSize(v uint32) error {
	s.HeaderTableSize = v
	return nil
}

// SetEnablePush validates and stores ENABLE_PUSH. Only 0 or 1 are
// valid; a server advertising anything but 0 is a protocol violation
// (push is rejected by design, see spec.md §1).
func (s *Settings) SetEnablePush(v uint32) error {
	if v > 1 {
		return ConnectionError{Code: ErrCodeProtocol}
	}
	s.EnablePush = v == 1
	return nil
}

// SetMaxConcurrentStreams validates and stores MAX_CONCURRENT_STREAMS.
func (s *Settings) SetMaxConcurrentStreams(v uint32) error {
	s.MaxConcurrentStreams = v
	s.hasMaxConcurrent = true
	return nil
}

// SetInitialWindowSize validates and stores INITIAL_WINDOW_SIZE.
func (s *Settings) SetInitialWindowSize(v uint32) error {
	if v > maxWindowSize {
		return FlowControlError{}
	}
	s.InitialWindowSize = v
	return nil
}

// SetMaxFrameSize validates and stores MAX_FRAME_SIZE.
func (s *Settings) SetMaxFrameSize(v uint32) error {
	if v < minMaxFrameSize || v > maxMaxFrameSize {
		return ConnectionError{Code: ErrCodeProtocol}
	}
	s.MaxFrameSize = v
	return nil
}

// SetMaxHeaderListSize validates and stores MAX_HEADER_LIST_SIZE.
func (s *Settings) SetMaxHeaderListSize(v uint32) error {
	s.MaxHeaderListSize = v
	return nil
}

// Apply sets a single, possibly-unknown parameter. Unknown parameter
// identifiers are ignored for forward compatibility (RFC 9113 §6.5.2).
func (s *Settings) Apply(set Setting) error {
	switch set.ID {
	case SettingHeaderTableSize:
		return s.SetHeaderTableSize(set.Val)
	case SettingEnablePush:
		return s.SetEnablePush(set.Val)
	case SettingMaxConcurrentStreams:
		return s.SetMaxConcurrentStreams(set.Val)
	case SettingInitialWindowSize:
		return s.SetInitialWindowSize(set.Val)
	case SettingMaxFrameSize:
		return s.SetMaxFrameSize(set.Val)
	case SettingMaxHeaderListSize:
		return s.SetMaxHeaderListSize(set.Val)
	default:
		return nil
	}
}
