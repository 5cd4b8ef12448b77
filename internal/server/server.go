/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server is the listener-facing HTTP surface: ICY stream
// endpoints backed by the broadcast buffers, plus status, metadata, and
// documentation endpoints.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/RouHim/funkstrom/internal/config"
	"github.com/RouHim/funkstrom/internal/events"
	"github.com/RouHim/funkstrom/internal/metadata"
	"github.com/RouHim/funkstrom/internal/ring"
	"github.com/RouHim/funkstrom/internal/telemetry"
)

// Version is the advertised server version.
const Version = "funkstrom/1.0.0"

// StreamEndpoint binds one output stream to its broadcast buffer.
type StreamEndpoint struct {
	Name      string
	Stream    config.Stream
	Buffer    *ring.Buffer
	listeners atomic.Int64
}

// Listeners returns the current listener count.
func (s *StreamEndpoint) Listeners() int64 { return s.listeners.Load() }

// Server serves the broadcast HTTP surface.
type Server struct {
	station   config.Station
	streams   []*StreamEndpoint
	byName    map[string]*StreamEndpoint
	meta      *metadata.Bus
	bus       *events.Bus
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	startedAt time.Time
}

// New creates the server over the per-stream endpoints. Stream order
// determines the info page layout; the first entry is the primary stream.
func New(station config.Station, streams []*StreamEndpoint, meta *metadata.Bus, bus *events.Bus, metrics *telemetry.Metrics, logger zerolog.Logger) *Server {
	byName := make(map[string]*StreamEndpoint, len(streams))
	for _, s := range streams {
		byName[s.Name] = s
	}
	return &Server{
		station:   station,
		streams:   streams,
		byName:    byName,
		meta:      meta,
		bus:       bus,
		metrics:   metrics,
		logger:    logger.With().Str("component", "server").Logger(),
		startedAt: time.Now(),
	}
}

// Router builds the route table. Fixed paths are registered before the
// stream parameter route, so /status is never mistaken for a stream name.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleInfoPage)
	r.Get("/status", s.handleStatus)
	r.Get("/current", s.handleCurrent)
	r.Get("/events", s.handleEvents)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/swagger", s.handleSwagger)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Get("/{stream}", s.handleStream)

	return otelhttp.NewHandler(r, "funkstrom")
}

// handleStream attaches a listener to a broadcast buffer and streams
// until the client disconnects. Lagged listeners are skipped forward to
// the live position, never stalled or replayed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")
	endpoint, ok := s.byName[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	listenerID := uuid.NewString()
	logger := s.logger.With().
		Str("stream", name).
		Str("listener", listenerID).
		Str("remote", r.RemoteAddr).
		Logger()

	if ua := r.UserAgent(); ua != "" {
		logger.Info().Str("user_agent", ua).Msg("listener connected")
	} else {
		logger.Info().Msg("listener connected")
	}

	// Live streams are not seekable.
	if r.Header.Get("Range") != "" {
		logger.Warn().Msg("client sent Range header on live stream, ignoring")
	}

	s.writeStreamHeaders(w, endpoint)
	w.WriteHeader(http.StatusOK)

	flusher := newFlusher(w, logger)

	count := endpoint.listeners.Add(1)
	s.publishListenerStats(endpoint, count, "connect")
	if s.metrics != nil {
		s.metrics.Listeners.WithLabelValues(name).Inc()
	}
	defer func() {
		count := endpoint.listeners.Add(-1)
		s.publishListenerStats(endpoint, count, "disconnect")
		if s.metrics != nil {
			s.metrics.Listeners.WithLabelValues(name).Dec()
		}
		logger.Info().Msg("listener disconnected")
	}()

	cursor := endpoint.Buffer.Subscribe()
	ctx := r.Context()

	for {
		chunk, err := cursor.Next(ctx)
		if errors.Is(err, ring.ErrLagged) {
			// The listener fell behind the retained window; jump to live.
			cursor.Resync()
			if s.metrics != nil {
				s.metrics.ListenerResyncs.WithLabelValues(name).Inc()
			}
			logger.Debug().Msg("listener lagged, resynced to live position")
			continue
		}
		if err != nil {
			return
		}

		if _, err := w.Write(chunk); err != nil {
			logger.Debug().Err(err).Msg("listener write failed")
			return
		}
		flusher.Flush()
	}
}

func (s *Server) writeStreamHeaders(w http.ResponseWriter, endpoint *StreamEndpoint) {
	h := w.Header()
	h.Set("Content-Type", contentTypeFor(endpoint.Stream.Format))
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Accept-Ranges", "none")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Server", Version)

	h.Set("icy-name", s.station.StationName)
	h.Set("icy-description", s.station.Description)
	h.Set("icy-genre", s.station.Genre)
	h.Set("icy-url", s.station.URL)
	h.Set("icy-br", strconv.Itoa(endpoint.Stream.Bitrate))
	h.Set("icy-pub", "1")

	// Chunked transfer is implied by the absent Content-Length.
	h.Del("Content-Length")
}

// contentTypeFor maps an output format to its MIME type.
func contentTypeFor(format string) string {
	switch format {
	case "aac":
		return "audio/aac"
	case "ogg", "opus":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

func (s *Server) publishListenerStats(endpoint *StreamEndpoint, count int64, event string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventListenerStats, events.Payload{
		"stream":    endpoint.Name,
		"bitrate":   endpoint.Stream.Bitrate,
		"listeners": count,
		"event":     event,
	})
}

// flusher flushes after every chunk so audio leaves the socket promptly.
type flusher struct {
	f         http.Flusher
	rc        *http.ResponseController
	logger    zerolog.Logger
	errLogged bool
}

func newFlusher(w http.ResponseWriter, logger zerolog.Logger) *flusher {
	if f, ok := w.(http.Flusher); ok {
		return &flusher{f: f, logger: logger}
	}
	return &flusher{rc: http.NewResponseController(w), logger: logger}
}

func (f *flusher) Flush() {
	if f.f != nil {
		f.f.Flush()
		return
	}
	if err := f.rc.Flush(); err != nil && !f.errLogged {
		f.logger.Debug().Err(err).Msg("flush failed")
		f.errLogged = true
	}
}

// ListenAddr formats the bind address for the HTTP server.
func ListenAddr(cfg *config.Server) string {
	return fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
}
