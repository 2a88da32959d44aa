// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package http2srv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, uint32(defaultHeaderTableSize), s.HeaderTableSize)
	assert.False(t, s.EnablePush)
	assert.Equal(t, uint32(defaultInitialWindowSize), s.InitialWindowSize)
	assert.Equal(t, uint32(defaultMaxFrameSize), s.MaxFrameSize)
	assert.False(t, s.HasMaxConcurrentStreams())
}

func TestSettingsSetEnablePush(t *testing.T) {
	var s Settings
	require.NoError(t, s.SetEnablePush(0))
	assert.False(t, s.EnablePush)
	require.NoError(t, s.SetEnablePush(1))
	assert.True(t, s.EnablePush)
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, s.SetEnablePush(2))
}

func TestSettingsSetInitialWindowSizeBounds(t *testing.T) {
	var s Settings
	require.NoError(t, s.SetInitialWindowSize(maxWindowSize))
	assert.Equal(t, uint32(maxWindowSize), s.InitialWindowSize)
	assert.Equal(t, FlowControlError{}, s.SetInitialWindowSize(maxWindowSize+1))
}

func TestSettingsSetMaxFrameSizeBounds(t *testing.T) {
	var s Settings
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, s.SetMaxFrameSize(minMaxFrameSize-1))
	assert.Equal(t, ConnectionError{Code: ErrCodeProtocol}, s.SetMaxFrameSize(maxMaxFrameSize+1))
	require.NoError(t, s.SetMaxFrameSize(minMaxFrameSize))
	assert.Equal(t, uint32(minMaxFrameSize), s.MaxFrameSize)
	require.NoError(t, s.SetMaxFrameSize(maxMaxFrameSize))
	assert.Equal(t, uint32(maxMaxFrameSize), s.MaxFrameSize)
}

func TestSettingsSetMaxConcurrentStreamsTracksPresence(t *testing.T) {
	var s Settings
	assert.False(t, s.HasMaxConcurrentStreams())
	require.NoError(t, s.SetMaxConcurrentStreams(10))
	assert.True(t, s.HasMaxConcurrentStreams())
	assert.Equal(t, uint32(10), s.MaxConcurrentStreams)
}

func TestSettingsApplyUnknownParameterIsIgnored(t *testing.T) {
	var s Settings
	err := s.Apply(Setting{ID: SettingID(0xff), Val: 123})
	assert.NoError(t, err)
}

func TestSettingsApplyDispatchesToEachSetter(t *testing.T) {
	var s Settings
	require.NoError(t, s.Apply(Setting{ID: SettingHeaderTableSize, Val: 8192}))
	assert.Equal(t, uint32(8192), s.HeaderTableSize)

	require.NoError(t, s.Apply(Setting{ID: SettingMaxHeaderListSize, Val: 4096}))
	assert.Equal(t, uint32(4096), s.MaxHeaderListSize)

	err := s.Apply(Setting{ID: SettingInitialWindowSize, Val: maxWindowSize + 1})
	assert.Equal(t, FlowControlError{}, err)
}

func TestSettingIDString(t *testing.T) {
	assert.Equal(t, "MAX_FRAME_SIZE", SettingMaxFrameSize.String())
	assert.Contains(t, SettingID(0x99).String(), "UNKNOWN_SETTING")
}

func TestErrCodeString(t *testing.T) {
	assert.Equal(t, "FLOW_CONTROL_ERROR", ErrCodeFlowControl.String())
	assert.Contains(t, ErrCode(0x99).String(), "UNKNOWN_ERROR_CODE")
}
