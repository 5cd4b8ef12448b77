/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist parses M3U and Extended M3U playlist files.
package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Parse reads an M3U playlist and returns the usable entries in file
// order. Comment lines (including #EXTM3U and #EXTINF metadata) and blank
// lines are skipped. Relative paths are resolved against the playlist's
// directory; http(s) URLs pass through untouched. Local entries that do
// not exist on disk are dropped with a warning.
func Parse(path string, logger zerolog.Logger) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("m3u playlist not found: %s", path)
		}
		return nil, fmt.Errorf("read playlist %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	var tracks []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			tracks = append(tracks, line)
			continue
		}

		trackPath := line
		if !filepath.IsAbs(trackPath) {
			trackPath = filepath.Join(dir, trackPath)
		}

		if _, err := os.Stat(trackPath); err != nil {
			logger.Warn().Str("playlist", path).Str("track", trackPath).Msg("track file not found, skipping")
			continue
		}
		tracks = append(tracks, trackPath)
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("no valid tracks found in m3u playlist: %s", path)
	}

	return tracks, nil
}

// Validate parses the playlist and returns the usable track count.
func Validate(path string, logger zerolog.Logger) (int, error) {
	tracks, err := Parse(path, logger)
	if err != nil {
		return 0, err
	}
	return len(tracks), nil
}
