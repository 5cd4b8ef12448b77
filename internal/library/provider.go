/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned when the track sequence has ended and repeat
// is disabled.
var ErrExhausted = errors.New("library: track sequence exhausted")

// Provider iterates the library index under the configured shuffle and
// repeat semantics. The shuffle order is deterministic for a stable
// library: the seed is a fingerprint of the sorted track paths, mixed
// with a round counter so consecutive repeat cycles differ.
type Provider struct {
	store   *Store
	shuffle bool
	repeat  bool
	logger  zerolog.Logger

	mu    sync.Mutex
	queue []Track
	pos   int
	round uint64
}

// NewProvider loads the initial snapshot. An empty index is an error:
// a broadcaster with nothing to play must fail at startup.
func NewProvider(store *Store, shuffle, repeat bool, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{
		store:   store,
		shuffle: shuffle,
		repeat:  repeat,
		logger:  logger.With().Str("component", "library").Logger(),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	p.logger.Info().Int("tracks", len(p.queue)).Msg("loaded tracks from database")
	return p, nil
}

// NextTrack returns the next track in the current sequence. When the
// sequence is exhausted it either regenerates (repeat) or returns
// ErrExhausted.
func (p *Provider) NextTrack() (Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos >= len(p.queue) {
		if !p.repeat {
			return Track{}, ErrExhausted
		}
		p.round++
		if err := p.reload(); err != nil {
			return Track{}, err
		}
		if len(p.queue) == 0 {
			return Track{}, ErrExhausted
		}
	}

	track := p.queue[p.pos]
	p.pos++
	return track, nil
}

// reload refreshes the snapshot from the store and reshuffles if
// configured. Caller must hold the lock (or be the constructor).
func (p *Provider) reload() error {
	tracks, err := p.store.AllTracks()
	if err != nil {
		return fmt.Errorf("load library tracks: %w", err)
	}
	if len(tracks) == 0 {
		return errors.New("no tracks found in library database")
	}

	if p.shuffle {
		shuffleTracks(tracks, p.round)
	}
	p.queue = tracks
	p.pos = 0
	return nil
}

// shuffleTracks orders tracks by a PRNG seeded from the library
// fingerprint, so a stable library plays in a stable order across
// restarts.
func shuffleTracks(tracks []Track, round uint64) {
	rng := rand.New(rand.NewPCG(fingerprint(tracks), round))
	rng.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
}

func fingerprint(tracks []Track) uint64 {
	paths := make([]string, len(tracks))
	for i, track := range tracks {
		paths[i] = track.FilePath
	}
	sort.Strings(paths)

	h := fnv.New64a()
	for _, path := range paths {
		_, _ = h.Write([]byte(path))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
