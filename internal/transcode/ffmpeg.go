/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transcode drives FFmpeg subprocesses: one encoder invocation
// per track, stdout streamed into the broadcast buffer. The core links
// no audio codec; a process exit is a track boundary.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/config"
)

// Encoder builds FFmpeg invocations for one output stream.
type Encoder struct {
	ffmpegPath string
	stream     config.Stream
	logger     zerolog.Logger
}

// NewEncoder creates an encoder for the stream settings.
func NewEncoder(ffmpegPath string, stream config.Stream, logger zerolog.Logger) *Encoder {
	return &Encoder{ffmpegPath: ffmpegPath, stream: stream, logger: logger}
}

// CodecFor maps an output format to the FFmpeg codec name.
func CodecFor(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "aac":
		return "aac"
	case "ogg", "vorbis":
		return "libvorbis"
	default:
		return "libmp3lame"
	}
}

// CheckAvailable verifies the FFmpeg binary before any listener port is
// opened. A missing transcoder is fatal.
func (e *Encoder) CheckAvailable() error {
	out, err := exec.Command(e.ffmpegPath, "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg not available at %q: %w", e.ffmpegPath, err)
	}
	if line, _, found := strings.Cut(string(out), "\n"); found || line != "" {
		e.logger.Info().Str("version", strings.TrimSpace(line)).Msg("ffmpeg available")
	}
	return nil
}

// Start launches an FFmpeg process transcoding the given input (a local
// file path or an http(s) URL) into the stream's format on stdout.
func (e *Encoder) Start(ctx context.Context, input string) (*Process, error) {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		if _, err := os.Stat(input); err != nil {
			return nil, fmt.Errorf("input file does not exist: %s", input)
		}
	}

	// -re paces input reads at native speed. The broadcast buffer only
	// retains a few seconds, so the encoder must run in realtime rather
	// than racing through the file.
	args := []string{
		"-re",
		"-i", input,
		"-f", formatName(e.stream.Format),
		"-acodec", CodecFor(e.stream.Format),
		"-ab", fmt.Sprintf("%dk", e.stream.Bitrate),
		"-ar", fmt.Sprintf("%d", e.stream.SampleRate),
		"-ac", fmt.Sprintf("%d", e.stream.Channels),
		"-loglevel", "error",
		"-",
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdin = nil

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	e.logger.Debug().Str("input", input).Int("pid", cmd.Process.Pid).Msg("ffmpeg started")

	p := &Process{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// formatName maps the configured format to FFmpeg's muxer name.
func formatName(format string) string {
	switch strings.ToLower(format) {
	case "aac":
		return "adts"
	case "opus", "ogg":
		return "ogg"
	default:
		return "mp3"
	}
}

// Process is one running FFmpeg invocation.
type Process struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	done    chan struct{}
	waitErr error
}

// Stdout exposes the encoded output stream.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stop terminates the process: SIGINT first, SIGKILL after a grace
// period, then waits for exit.
func (p *Process) Stop() {
	select {
	case <-p.done:
		return
	default:
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}
}

// Wait blocks until the process exits and returns its error, decorated
// with any stderr output FFmpeg produced.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	case <-p.done:
	}

	if p.waitErr != nil {
		if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", p.waitErr, msg)
		}
		return p.waitErr
	}
	return nil
}
