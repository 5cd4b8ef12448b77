/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/events"
	"github.com/RouHim/funkstrom/internal/metadata"
	"github.com/RouHim/funkstrom/internal/playout"
	"github.com/RouHim/funkstrom/internal/ring"
	"github.com/RouHim/funkstrom/internal/telemetry"
)

// chunkSize matches the encoder read granularity: 8 KiB of encoded audio
// per ring buffer chunk.
const chunkSize = 8 * 1024

// healthFailureThreshold is the consecutive-failure count after which the
// driver emits a health event. The driver itself never terminates; the
// stream simply goes silent until a source plays again.
const healthFailureThreshold = 5

// Driver supervises the encoder for one output stream: it pulls items
// from its playout feed, runs FFmpeg per item, and publishes the encoded
// chunks into the stream's broadcast buffer.
type Driver struct {
	streamName string
	encoder    *Encoder
	feed       *playout.Feed
	buffer     *ring.Buffer
	meta       *metadata.Bus // non-nil only on the primary driver
	bus        *events.Bus
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// NewDriver wires a driver. meta must be non-nil only for the primary
// stream so the current track is published exactly once per item.
func NewDriver(streamName string, encoder *Encoder, feed *playout.Feed, buffer *ring.Buffer, meta *metadata.Bus, bus *events.Bus, metrics *telemetry.Metrics, logger zerolog.Logger) *Driver {
	return &Driver{
		streamName: streamName,
		encoder:    encoder,
		feed:       feed,
		buffer:     buffer,
		meta:       meta,
		bus:        bus,
		metrics:    metrics,
		logger:     logger.With().Str("component", "driver").Str("stream", streamName).Logger(),
	}
}

// Buffer exposes the driver's ring buffer for the HTTP surface.
func (d *Driver) Buffer() *ring.Buffer { return d.buffer }

// Run loops until the context is cancelled. Individual track failures are
// skipped; only cancellation ends the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info().Msg("transcoder driver started")

	failures := 0
	for {
		item, err := d.feed.Next(ctx)
		if err != nil {
			d.logger.Info().Msg("transcoder driver stopped")
			return err
		}

		d.publishTrack(item)

		switch err := d.playItem(ctx, item); {
		case err == nil:
			failures = 0
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			d.logger.Info().Msg("transcoder driver stopped")
			return err
		default:
			failures++
			d.logger.Error().Err(err).Str("input", item.URI).Int("consecutive_failures", failures).Msg("track failed, skipping")
			if d.metrics != nil {
				d.metrics.TranscoderFailures.WithLabelValues(d.streamName).Inc()
			}
			if failures == healthFailureThreshold && d.bus != nil {
				d.bus.Publish(events.EventDriverHealth, events.Payload{
					"stream":               d.streamName,
					"consecutive_failures": failures,
					"last_input":           item.URI,
				})
			}
			// Avoid a hot loop when every source fails in a row.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// playItem runs one FFmpeg invocation to completion, interruption, or
// failure. Output read after an interrupt is drained without pushing.
func (d *Driver) playItem(ctx context.Context, item playout.Item) error {
	proc, err := d.encoder.Start(ctx, item.URI)
	if err != nil {
		return err
	}

	d.logger.Info().Str("input", item.URI).Msg("processing track")

	type readResult struct {
		chunk []byte
		err   error
	}

	interrupted := false
	reads := make(chan readResult)

	go func() {
		defer close(reads)
		buf := make([]byte, chunkSize)
		for {
			n, err := proc.Stdout().Read(buf)
			var chunk []byte
			if n > 0 {
				chunk = make([]byte, n)
				copy(chunk, buf[:n])
			}
			reads <- readResult{chunk: chunk, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-item.Interrupt:
			if !interrupted {
				interrupted = true
				d.logger.Info().Str("input", item.URI).Msg("source switch, stopping transcoder")
				proc.Stop()
			}
			// Keep draining reads below so the reader goroutine exits.
			res, ok := <-reads
			if !ok || res.err != nil {
				_ = proc.Wait(ctx)
				return nil
			}
		case <-ctx.Done():
			proc.Stop()
			for range reads {
			}
			_ = proc.Wait(context.Background())
			return ctx.Err()
		case res, ok := <-reads:
			if !ok {
				return proc.Wait(ctx)
			}
			if len(res.chunk) > 0 && !interrupted {
				d.buffer.Push(res.chunk)
				if d.metrics != nil {
					d.metrics.ChunksPushed.WithLabelValues(d.streamName).Inc()
					d.metrics.BytesPushed.WithLabelValues(d.streamName).Add(float64(len(res.chunk)))
				}
			}
			if res.err != nil {
				if res.err == io.EOF {
					d.logger.Debug().Str("input", item.URI).Msg("track processing completed")
					return proc.Wait(ctx)
				}
				proc.Stop()
				return res.err
			}
		}
	}
}

// publishTrack announces the new item. Only the primary driver owns the
// metadata bus; every driver may still log.
func (d *Driver) publishTrack(item playout.Item) {
	if d.meta == nil {
		return
	}

	track := metadata.CurrentTrack{
		Title:     item.Title,
		Artist:    item.Artist,
		Album:     item.Album,
		FilePath:  item.URI,
		StartedAt: time.Now(),
	}
	d.meta.Publish(track)

	if d.bus != nil {
		d.bus.Publish(events.EventNowPlaying, events.Payload{
			"title":     track.Title,
			"artist":    track.Artist,
			"album":     track.Album,
			"file_path": track.FilePath,
		})
	}
}
