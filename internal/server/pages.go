/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status       string         `json:"status"`
	Station      StationStatus  `json:"station"`
	Streams      []StreamStatus `json:"streams"`
	CurrentTrack CurrentTrack   `json:"current_track"`
	Uptime       string         `json:"uptime"`
}

// StationStatus describes the station in /status.
type StationStatus struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	URL         string `json:"url"`
}

// StreamStatus describes one stream in /status.
type StreamStatus struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	Bitrate      int    `json:"bitrate"`
	BufferChunks int    `json:"buffer_chunks"`
	BufferSize   int    `json:"buffer_size"`
	Listeners    int64  `json:"listeners"`
}

// CurrentTrack is the /current payload.
type CurrentTrack struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	FilePath string `json:"file_path"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	streams := make([]StreamStatus, 0, len(s.streams))
	for _, endpoint := range s.streams {
		chunks, bytes := endpoint.Buffer.Stats()
		streams = append(streams, StreamStatus{
			Name:         endpoint.Name,
			Status:       "online",
			Bitrate:      endpoint.Stream.Bitrate,
			BufferChunks: chunks,
			BufferSize:   bytes,
			Listeners:    endpoint.Listeners(),
		})
	}

	current := s.meta.Current()
	writeJSON(w, StatusResponse{
		Status: "online",
		Station: StationStatus{
			Name:        s.station.StationName,
			Description: s.station.Description,
			Genre:       s.station.Genre,
			URL:         s.station.URL,
		},
		Streams: streams,
		CurrentTrack: CurrentTrack{
			Title:    current.Title,
			Artist:   current.Artist,
			Album:    current.Album,
			FilePath: current.FilePath,
		},
		Uptime: time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	current := s.meta.Current()
	writeJSON(w, CurrentTrack{
		Title:    current.Title,
		Artist:   current.Artist,
		Album:    current.Album,
		FilePath: current.FilePath,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// sseKeepalive paces comment lines so proxies do not reap an idle
// event stream between tracks.
const sseKeepalive = 15 * time.Second

// handleEvents streams the station event firehose (track changes,
// listener stats, driver health, source switches, library rescans) as
// server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	sub, cancel := s.bus.Subscribe(32)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	flusher := newFlusher(w, s.logger)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var infoTemplate = template.Must(template.New("info").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.StationName}}</title>
<style>
body { font-family: sans-serif; max-width: 640px; margin: 40px auto; padding: 0 16px; background: #101418; color: #e8e8e8; }
h1 { color: #0891b2; }
.card { background: #1a2026; border-radius: 8px; padding: 16px 24px; margin: 16px 0; }
a { color: #22d3ee; }
audio { width: 100%; margin-top: 8px; }
.muted { color: #9aa4ad; }
</style>
</head>
<body>
<h1>{{.StationName}}</h1>
<p class="muted">{{.Description}} &mdash; {{.Genre}}</p>
<div class="card">
<strong>Now playing:</strong> {{.CurrentTrack}}<br>
<span class="muted">{{.Album}}</span>
<audio controls src="/{{.FirstStream}}"></audio>
</div>
<div class="card">
<strong>Streams</strong>
<ul>
{{range .Streams}}<li><a href="/{{.Name}}">{{.Name}}</a> ({{.Bitrate}} kbps)</li>
{{end}}</ul>
</div>
<p class="muted"><a href="/status">status</a> &middot; <a href="/current">current</a> &middot; <a href="/swagger">api docs</a></p>
</body>
</html>
`))

type infoStream struct {
	Name    string
	Bitrate int
}

type infoContext struct {
	StationName  string
	Description  string
	Genre        string
	CurrentTrack string
	Album        string
	FirstStream  string
	Streams      []infoStream
}

func (s *Server) handleInfoPage(w http.ResponseWriter, r *http.Request) {
	current := s.meta.Current()

	ctx := infoContext{
		StationName:  s.station.StationName,
		Description:  s.station.Description,
		Genre:        s.station.Genre,
		CurrentTrack: current.ICYString(),
		Album:        current.Album,
	}
	for _, endpoint := range s.streams {
		ctx.Streams = append(ctx.Streams, infoStream{Name: endpoint.Name, Bitrate: endpoint.Stream.Bitrate})
	}
	if len(s.streams) > 0 {
		ctx.FirstStream = s.streams[0].Name
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := infoTemplate.Execute(w, ctx); err != nil {
		s.logger.Error().Err(err).Msg("info page render failed")
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	paths := map[string]any{
		"/status": map[string]any{"get": map[string]any{
			"summary":   "Server and stream status",
			"responses": jsonResponse("Status report"),
		}},
		"/current": map[string]any{"get": map[string]any{
			"summary":   "Currently playing track",
			"responses": jsonResponse("Track metadata"),
		}},
		"/events": map[string]any{"get": map[string]any{
			"summary": "Station event stream (track changes, listener stats, driver health)",
			"responses": map[string]any{"200": map[string]any{
				"description": "Server-sent event stream",
				"content":     map[string]any{"text/event-stream": map[string]any{}},
			}},
		}},
	}
	for _, endpoint := range s.streams {
		paths["/"+endpoint.Name] = map[string]any{"get": map[string]any{
			"summary": fmt.Sprintf("Continuous %s audio stream at %d kbps", endpoint.Stream.Format, endpoint.Stream.Bitrate),
			"responses": map[string]any{"200": map[string]any{
				"description": "Icecast-compatible audio stream",
				"content":     map[string]any{contentTypeFor(endpoint.Stream.Format): map[string]any{}},
			}},
		}}
	}

	writeJSON(w, map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       s.station.StationName,
			"description": "Icecast-compatible internet radio server",
			"version":     Version,
		},
		"paths": paths,
	})
}

func jsonResponse(description string) map[string]any {
	return map[string]any{"200": map[string]any{
		"description": description,
		"content":     map[string]any{"application/json": map[string]any{}},
	}}
}

const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Funkstrom API Documentation</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/openapi.json",
    dom_id: "#swagger-ui",
    deepLinking: true,
    presets: [SwaggerUIBundle.presets.apis],
  });
};
</script>
</body>
</html>
`

func (s *Server) handleSwagger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerPage))
}
