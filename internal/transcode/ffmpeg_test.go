/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/config"
)

func TestCodecFor(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3", "libmp3lame"},
		{"opus", "libopus"},
		{"aac", "aac"},
		{"ogg", "libvorbis"},
		{"vorbis", "libvorbis"},
		{"unknown", "libmp3lame"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := CodecFor(tt.format); got != tt.want {
				t.Errorf("CodecFor(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}

func TestFormatName(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3", "mp3"},
		{"aac", "adts"},
		{"opus", "ogg"},
		{"ogg", "ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := formatName(tt.format); got != tt.want {
				t.Errorf("formatName(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}

func testStream() config.Stream {
	return config.Stream{Bitrate: 128, Format: "mp3", SampleRate: 44100, Channels: 2, Enabled: true}
}

func TestStartRejectsMissingLocalFile(t *testing.T) {
	enc := NewEncoder("ffmpeg", testStream(), zerolog.Nop())

	_, err := enc.Start(context.Background(), "/nonexistent/track.mp3")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Start() error = %v, want missing-file error", err)
	}
}

func TestCheckAvailableFailsForBogusBinary(t *testing.T) {
	enc := NewEncoder("/nonexistent/ffmpeg-binary", testStream(), zerolog.Nop())

	if err := enc.CheckAvailable(); err == nil {
		t.Error("CheckAvailable() succeeded for a nonexistent binary, want error")
	}
}
