/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config loads and validates the funkstrom TOML configuration.
// Validation is strict: a config that would fail at request time is
// rejected at startup instead.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML configuration file.
type Config struct {
	Server   Server            `toml:"server"`
	Library  Library           `toml:"library"`
	Station  Station           `toml:"station"`
	Streams  map[string]Stream `toml:"stream"`
	Schedule *Schedule         `toml:"schedule"`
}

// Server covers process level settings.
type Server struct {
	Port        int    `toml:"port"`
	BindAddress string `toml:"bind_address"`
	FFmpegPath  string `toml:"ffmpeg_path"`
	Environment string `toml:"environment"`

	// Tracing configuration
	TracingEnabled    bool    `toml:"tracing_enabled"`
	OTLPEndpoint      string  `toml:"otlp_endpoint"`
	TracingSampleRate float64 `toml:"tracing_sample_rate"`
}

// Library selects the music directory and playout order.
type Library struct {
	MusicDirectory string `toml:"music_directory"`
	Shuffle        bool   `toml:"shuffle"`
	Repeat         bool   `toml:"repeat"`
}

// Station holds the metadata advertised in ICY headers and on the info page.
type Station struct {
	StationName string `toml:"station_name"`
	Description string `toml:"description"`
	Genre       string `toml:"genre"`
	URL         string `toml:"url"`
}

// Stream configures an individual audio output.
//
// Supported formats: mp3, aac, opus, ogg. Stream names must contain only
// alphanumeric characters, underscores, or hyphens.
type Stream struct {
	Bitrate    int    `toml:"bitrate"`
	Format     string `toml:"format"`
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	Enabled    bool   `toml:"enabled"`
}

// Schedule wraps the program list.
type Schedule struct {
	Programs []Program `toml:"programs"`
}

// ProgramType distinguishes playlist programs from livesets.
type ProgramType string

const (
	ProgramPlaylist ProgramType = "playlist"
	ProgramLiveset  ProgramType = "liveset"
)

// Program is one scheduled override of library playout.
//
// Genres is a pointer so a missing key is distinguishable from an
// explicitly empty list (empty means "all genres").
type Program struct {
	Name     string    `toml:"name"`
	Active   bool      `toml:"active"`
	Cron     string    `toml:"cron"`
	Duration string    `toml:"duration"`
	Type     string    `toml:"type"`
	Playlist string    `toml:"playlist"`
	Genres   *[]string `toml:"genres"`
}

// GetType returns the program type, defaulting to playlist.
func (p *Program) GetType() ProgramType {
	if p.Type == string(ProgramLiveset) {
		return ProgramLiveset
	}
	return ProgramPlaylist
}

// Validate checks program fields that do not require parsing.
func (p *Program) Validate() error {
	switch p.GetType() {
	case ProgramPlaylist:
		if p.Playlist == "" {
			return fmt.Errorf("playlist programs must specify a 'playlist' field")
		}
	case ProgramLiveset:
		if p.Genres == nil {
			return fmt.Errorf("liveset programs must specify a 'genres' field (use empty array [] for all genres)")
		}
	}
	return nil
}

// GenreList returns the configured genres, or an empty list when unset.
func (p *Program) GenreList() []string {
	if p.Genres == nil {
		return nil
	}
	return *p.Genres
}

// Load reads the config file, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8284
	}
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = "127.0.0.1"
	}
	if c.Server.FFmpegPath == "" {
		c.Server.FFmpegPath = "ffmpeg"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "production"
	}
	if c.Server.OTLPEndpoint == "" {
		c.Server.OTLPEndpoint = "localhost:4317"
	}
	if c.Server.TracingSampleRate == 0 {
		c.Server.TracingSampleRate = 1.0
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Library.MusicDirectory == "" {
		return fmt.Errorf("[library] music_directory must be provided")
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("no streams configured: at least one stream must be defined in a [stream.NAME] section")
	}

	for name, stream := range c.Streams {
		if name == "" {
			return fmt.Errorf("stream name cannot be empty")
		}
		if !validStreamName(name) {
			return fmt.Errorf("invalid stream name %q: stream names must contain only alphanumeric characters, underscores, or hyphens", name)
		}
		if err := stream.Validate(); err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
	}

	if len(c.EnabledStreamNames()) == 0 {
		return fmt.Errorf("at least one stream must be enabled")
	}

	return nil
}

// Validate checks an individual stream configuration.
func (s *Stream) Validate() error {
	switch strings.ToLower(s.Format) {
	case "mp3", "aac", "opus", "ogg":
	default:
		return fmt.Errorf("unsupported audio format %q: supported formats are mp3, aac, opus, ogg", s.Format)
	}

	if s.Bitrate < 32 || s.Bitrate > 320 {
		return fmt.Errorf("bitrate %d is out of range: valid range is 32-320 kbps", s.Bitrate)
	}

	switch s.SampleRate {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d: valid rates are 8000, 11025, 16000, 22050, 32000, 44100, 48000", s.SampleRate)
	}

	if s.Channels != 1 && s.Channels != 2 {
		return fmt.Errorf("invalid channel count %d: valid values are 1 (mono) or 2 (stereo)", s.Channels)
	}

	return nil
}

// EnabledStreamNames returns the names of all enabled streams in sorted
// order. The first entry is the primary stream (the one that publishes
// track metadata).
func (c *Config) EnabledStreamNames() []string {
	names := make([]string, 0, len(c.Streams))
	for name, stream := range c.Streams {
		if stream.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func validStreamName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return name != ""
}
