/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/config"
	"github.com/RouHim/funkstrom/internal/events"
	"github.com/RouHim/funkstrom/internal/metadata"
	"github.com/RouHim/funkstrom/internal/ring"
)

func testServer(t *testing.T) (*Server, *StreamEndpoint) {
	t.Helper()

	endpoint := &StreamEndpoint{
		Name:   "main",
		Stream: config.Stream{Bitrate: 128, Format: "mp3", SampleRate: 44100, Channels: 2, Enabled: true},
		Buffer: ring.New(64, 1<<20),
	}

	station := config.Station{
		StationName: "Test Radio",
		Description: "Great music 24/7",
		Genre:       "Various",
		URL:         "http://radio.example",
	}

	meta := metadata.NewBus()
	meta.Publish(metadata.CurrentTrack{Title: "Song", Artist: "Band", Album: "Record", FilePath: "/music/song.mp3"})

	return New(station, []*StreamEndpoint{endpoint}, meta, nil, nil, zerolog.Nop()), endpoint
}

func TestStreamEndpointHeadersAndBody(t *testing.T) {
	srv, endpoint := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				endpoint.Buffer.Push([]byte("audio-bytes"))
			}
		}
	}()

	resp, err := http.Get(ts.URL + "/main")
	if err != nil {
		t.Fatalf("GET /main error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	headers := map[string]string{
		"icy-name":     "Test Radio",
		"icy-genre":    "Various",
		"icy-br":       "128",
		"icy-pub":      "1",
		"Content-Type": "audio/mpeg",
	}
	for key, want := range headers {
		if got := resp.Header.Get(key); got != want {
			t.Errorf("header %s = %q, want %q", key, got, want)
		}
	}
	if resp.Header.Get("Content-Length") != "" {
		t.Error("stream response must not carry Content-Length")
	}

	buf := make([]byte, 32)
	if _, err := io.ReadAtLeast(resp.Body, buf, len("audio-bytes")); err != nil {
		t.Fatalf("reading stream body: %v", err)
	}
	if !strings.Contains(string(buf), "audio") {
		t.Errorf("stream body = %q, want pushed audio bytes", buf)
	}
}

func TestUnknownStreamReturns404(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, endpoint := testServer(t)
	endpoint.Buffer.Push([]byte("123456"))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if got.Status != "online" {
		t.Errorf("status field = %q, want online", got.Status)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	stream := got.Streams[0]
	if stream.Name != "main" || stream.BufferChunks != 1 || stream.BufferSize != 6 {
		t.Errorf("stream status = %+v, want main with 1 chunk of 6 bytes", stream)
	}
	if got.CurrentTrack.Title != "Song" {
		t.Errorf("current_track.title = %q, want Song", got.CurrentTrack.Title)
	}
}

func TestCurrentEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/current", nil))

	var got CurrentTrack
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode /current: %v", err)
	}
	want := CurrentTrack{Title: "Song", Artist: "Band", Album: "Record", FilePath: "/music/song.mp3"}
	if got != want {
		t.Errorf("/current = %+v, want %+v", got, want)
	}
}

func TestInfoPage(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Test Radio", "Band - Song", "/main"} {
		if !strings.Contains(body, want) {
			t.Errorf("info page missing %q", want)
		}
	}
}

func TestOpenAPIDocumentListsStreams(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatal("openapi document has no paths object")
	}
	for _, want := range []string{"/status", "/current", "/main"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("openapi paths missing %q", want)
		}
	}
}

func TestListenerCountTracksConnections(t *testing.T) {
	srv, endpoint := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				endpoint.Buffer.Push([]byte("x"))
			}
		}
	}()

	resp, err := http.Get(ts.URL + "/main")
	if err != nil {
		t.Fatal(err)
	}

	// The counter increments once the handler runs.
	deadline := time.Now().Add(2 * time.Second)
	for endpoint.Listeners() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := endpoint.Listeners(); got != 1 {
		t.Errorf("Listeners() = %d while connected, want 1", got)
	}

	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for endpoint.Listeners() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := endpoint.Listeners(); got != 0 {
		t.Errorf("Listeners() = %d after disconnect, want 0", got)
	}
}

func TestEventsEndpointStreamsBusEvents(t *testing.T) {
	endpoint := &StreamEndpoint{
		Name:   "main",
		Stream: config.Stream{Bitrate: 128, Format: "mp3", SampleRate: 44100, Channels: 2, Enabled: true},
		Buffer: ring.New(64, 1<<20),
	}
	bus := events.NewBus()
	srv := New(config.Station{StationName: "Test Radio"}, []*StreamEndpoint{endpoint}, metadata.NewBus(), bus, nil, zerolog.Nop())

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// Publish once the subscriber is registered; the handler may still be
	// starting up, so retry until the event lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.EventNowPlaying, events.Payload{"title": "Song"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(5*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()

	var gotEvent, gotData bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: now_playing" {
			gotEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"title":"Song"`) {
			gotData = true
		}
		if gotEvent && gotData {
			break
		}
	}
	if !gotEvent || !gotData {
		t.Errorf("SSE stream missing event/data lines (event=%v data=%v)", gotEvent, gotData)
	}
}

func TestEventsEndpointWithoutBusUnavailable(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no bus is wired", rec.Code)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3", "audio/mpeg"},
		{"aac", "audio/aac"},
		{"ogg", "audio/ogg"},
		{"opus", "audio/ogg"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.format); got != tt.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}
