/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package liveset

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop())
	c.baseURL = srv.URL
	return c
}

func TestGenreSlug(t *testing.T) {
	tests := []struct {
		genre string
		want  string
	}{
		{"techno", "techno"},
		{"Tech House", "tech-house"},
		{"Drum And Bass", "drum-and-bass"},
		{"HOUSE", "house"},
	}
	for _, tt := range tests {
		t.Run(tt.genre, func(t *testing.T) {
			if got := GenreSlug(tt.genre); got != tt.want {
				t.Errorf("GenreSlug(%q) = %q, want %q", tt.genre, got, tt.want)
			}
		})
	}
}

func TestNextURLFromGenre(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/categories/techno/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"1","title":"Mix","genre":"Techno","stream_url":"http://cdn.example/mix.mp3","duration":"3600","user":{"username":"dj"}}]`))
	})

	url, err := client.NextURL(context.Background(), []string{"techno"})
	if err != nil {
		t.Fatalf("NextURL() error = %v", err)
	}
	if url != "http://cdn.example/mix.mp3" {
		t.Errorf("NextURL() = %q", url)
	}
}

func TestFallbackToFeedWhenGenresFail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed/":
			_, _ = w.Write([]byte(`[{"id":"2","title":"Feed Mix","stream_url":"http://cdn.example/feed.mp3","user":{"username":"dj"}}]`))
		default:
			// Genre categories return empty result sets.
			_, _ = w.Write([]byte(`[]`))
		}
	})

	url, err := client.NextURL(context.Background(), []string{"techno", "house"})
	if err != nil {
		t.Fatalf("NextURL() error = %v", err)
	}
	if url != "http://cdn.example/feed.mp3" {
		t.Errorf("NextURL() = %q, want feed fallback URL", url)
	}
}

func TestEmptyGenresUsesFeedDirectly(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"3","title":"Feed","stream_url":"http://cdn.example/f.mp3","user":{"username":"dj"}}]`))
	})

	if _, err := client.NextURL(context.Background(), nil); err != nil {
		t.Fatalf("NextURL() error = %v", err)
	}
	if len(paths) != 1 || paths[0] != "/feed/" {
		t.Errorf("requests = %v, want single feed request", paths)
	}
}

func TestEmptyFeedReturnsErrEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.NextURL(context.Background(), nil)
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("NextURL() error = %v, want ErrEmpty", err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, err := client.NextURL(context.Background(), nil); err == nil {
		t.Error("NextURL() succeeded against a failing API, want error")
	}
}
