/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package liveset fetches DJ mixes from the hearthis.at v2 API. No
// authentication is required; genre names are slugged (lowercase, spaces
// to hyphens) before being used as category paths.
package liveset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api-v2.hearthis.at"

// ErrEmpty is returned when neither the requested genres nor the general
// feed yield any playable track.
var ErrEmpty = errors.New("liveset: no tracks available")

// Track is one hearthis.at feed entry.
type Track struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Genre     string `json:"genre"`
	StreamURL string `json:"stream_url"`
	Duration  string `json:"duration"`
	User      User   `json:"user"`
}

// User is the uploading account.
type User struct {
	Username string `json:"username"`
}

// Client talks to the hearthis.at API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewClient creates a client with a 30 second request timeout.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		logger:     logger.With().Str("component", "liveset").Logger(),
	}
}

// NextURL returns the stream URL of a randomly selected liveset.
//
// Each genre is tried in order; a genre with no tracks falls through to
// the next. When every genre fails (or none are given) the general feed
// is used. ErrEmpty is returned only when the feed itself is empty; an
// unreachable or failing feed returns the request error instead.
func (c *Client) NextURL(ctx context.Context, genres []string) (string, error) {
	track, err := c.RandomLiveset(ctx, genres)
	if err != nil {
		return "", err
	}
	return track.StreamURL, nil
}

// RandomLiveset selects a random track for the genre set, falling back to
// the unfiltered feed.
func (c *Client) RandomLiveset(ctx context.Context, genres []string) (*Track, error) {
	for _, genre := range genres {
		track, err := c.fetchFromGenre(ctx, genre)
		if err != nil {
			c.logger.Warn().Err(err).Str("genre", genre).Msg("genre fetch failed, trying next")
			continue
		}
		c.logger.Info().
			Str("genre", genre).
			Str("title", track.Title).
			Str("dj", track.User.Username).
			Msg("selected liveset")
		return track, nil
	}

	if len(genres) > 0 {
		c.logger.Warn().Strs("genres", genres).Msg("all genres failed, falling back to general feed")
	}

	track, err := c.fetchFromFeed(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("title", track.Title).
		Str("dj", track.User.Username).
		Msg("selected liveset from feed")
	return track, nil
}

func (c *Client) fetchFromFeed(ctx context.Context) (*Track, error) {
	tracks, err := c.fetchTracks(ctx, fmt.Sprintf("%s/feed/?page=1&count=20", c.baseURL))
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, ErrEmpty
	}
	return pickRandom(tracks), nil
}

func (c *Client) fetchFromGenre(ctx context.Context, genre string) (*Track, error) {
	slug := GenreSlug(genre)
	tracks, err := c.fetchTracks(ctx, fmt.Sprintf("%s/categories/%s/?page=1&count=20", c.baseURL, slug))
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks found in genre %q", genre)
	}
	return pickRandom(tracks), nil
}

func (c *Client) fetchTracks(ctx context.Context, url string) ([]Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hearthis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hearthis HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tracks []Track
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("decode hearthis response: %w", err)
	}
	return tracks, nil
}

// GenreSlug converts a display genre to the API's category slug.
func GenreSlug(genre string) string {
	return strings.ReplaceAll(strings.ToLower(genre), " ", "-")
}

func pickRandom(tracks []Track) *Track {
	return &tracks[rand.IntN(len(tracks))]
}
