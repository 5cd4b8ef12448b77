/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout decides what plays next. The controller owns the
// current source (library, scheduled playlist, or liveset), applies
// switch commands from the schedule engine, and feeds every transcoder
// driver the same item sequence through per-driver feeds.
package playout

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/events"
	"github.com/RouHim/funkstrom/internal/library"
)

// TrackProvider yields the next library track.
type TrackProvider interface {
	NextTrack() (library.Track, error)
}

// LivesetProvider yields a remote liveset URL for a genre set.
type LivesetProvider interface {
	NextURL(ctx context.Context, genres []string) (string, error)
}

// MetadataLookup resolves an indexed track record for a local path.
type MetadataLookup interface {
	TrackByPath(path string) (*library.Track, error)
}

// Command is a source switch instruction from the schedule engine.
type Command interface{ isCommand() }

// SwitchToPlaylist replaces playout with a scheduled playlist program.
type SwitchToPlaylist struct {
	Name     string
	Tracks   []string
	Duration time.Duration
	Repeat   bool
}

// SwitchToLiveset replaces playout with a scheduled liveset program.
type SwitchToLiveset struct {
	Name     string
	Genres   []string
	Duration time.Duration
}

// ReturnToLibrary ends the current program.
type ReturnToLibrary struct{}

func (SwitchToPlaylist) isCommand() {}
func (SwitchToLiveset) isCommand()  {}
func (ReturnToLibrary) isCommand()  {}

// Item is one playable input for the transcoder.
type Item struct {
	URI    string
	Title  string
	Artist string
	Album  string

	// Generation identifies the source this item belongs to.
	Generation uint64

	// Interrupt is closed when a schedule-driven switch obsoletes this
	// item mid-play; the driver must stop the transcoder.
	Interrupt <-chan struct{}
}

type sourceKind int

const (
	sourceLibrary sourceKind = iota
	sourcePlaylist
	sourceLiveset
)

type source struct {
	kind   sourceKind
	name   string
	tracks []string
	pos    int
	endAt  time.Time
	repeat bool
	genres []string
}

// Controller owns the current source identity.
type Controller struct {
	libraryProv TrackProvider
	livesets    LivesetProvider
	lookup      MetadataLookup
	shuffle     bool
	bus         *events.Bus
	logger      zerolog.Logger
	cmds        chan Command

	mu         sync.Mutex
	gen        uint64
	src        source
	log        []Item // generated items of the current generation
	logBase    uint64 // absolute index of log[0]
	feeds      []*Feed
	generating bool
	notify     chan struct{} // closed whenever items may have become available
	interrupt  chan struct{} // closed on schedule-driven switches
	now        func() time.Time
}

// NewController creates a controller starting in library playout.
func NewController(lib TrackProvider, livesets LivesetProvider, lookup MetadataLookup, shuffle bool, bus *events.Bus, logger zerolog.Logger) *Controller {
	return &Controller{
		libraryProv: lib,
		livesets:    livesets,
		lookup:      lookup,
		shuffle:     shuffle,
		bus:         bus,
		logger:      logger.With().Str("component", "playout").Logger(),
		cmds:        make(chan Command, 8),
		src:         source{kind: sourceLibrary},
		notify:      make(chan struct{}),
		interrupt:   make(chan struct{}),
		now:         time.Now,
	}
}

// Commands returns the switch command channel consumed by Run.
func (c *Controller) Commands() chan<- Command { return c.cmds }

// Generation returns the current source generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Run consumes switch commands until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().Msg("playout controller started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("playout controller stopped")
			return ctx.Err()
		case cmd := <-c.cmds:
			c.apply(cmd)
		}
	}
}

func (c *Controller) apply(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sw := cmd.(type) {
	case SwitchToPlaylist:
		tracks := append([]string(nil), sw.Tracks...)
		if c.shuffle {
			rand.Shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
		}
		c.logger.Info().Str("program", sw.Name).Int("tracks", len(tracks)).Msg("switching to scheduled playlist")
		c.switchLocked(source{
			kind:   sourcePlaylist,
			name:   sw.Name,
			tracks: tracks,
			endAt:  c.now().Add(sw.Duration),
			repeat: sw.Repeat,
		}, true)
	case SwitchToLiveset:
		c.logger.Info().Str("program", sw.Name).Strs("genres", sw.Genres).Msg("switching to scheduled liveset")
		c.switchLocked(source{
			kind:   sourceLiveset,
			name:   sw.Name,
			genres: sw.Genres,
			endAt:  c.now().Add(sw.Duration),
		}, true)
	case ReturnToLibrary:
		c.logger.Info().Msg("returning to library playout")
		c.switchLocked(source{kind: sourceLibrary}, true)
	}
}

// switchLocked installs a new source, resets the item log, and bumps the
// generation. Schedule-driven switches additionally fire the interrupt so
// drivers abandon the track they are playing.
func (c *Controller) switchLocked(src source, interrupting bool) {
	c.src = src
	c.gen++
	c.log = nil
	c.logBase = 0
	for _, f := range c.feeds {
		f.gen = c.gen
		f.cursor = 0
	}

	if interrupting {
		close(c.interrupt)
		c.interrupt = make(chan struct{})
	}
	c.wakeLocked()

	if c.bus != nil {
		name := src.name
		if src.kind == sourceLibrary {
			name = "library"
		}
		c.bus.Publish(events.EventSourceSwitch, events.Payload{
			"source":     name,
			"generation": c.gen,
		})
	}
}

func (c *Controller) wakeLocked() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// Subscribe registers a driver feed. All feeds observe the same item
// sequence; a feed created mid-generation starts at the sequence head.
func (c *Controller) Subscribe() *Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &Feed{c: c, gen: c.gen, cursor: c.logBase + uint64(len(c.log))}
	c.feeds = append(c.feeds, f)
	return f
}

// Feed is one driver's cursor over the controller's item sequence.
type Feed struct {
	c      *Controller
	gen    uint64
	cursor uint64
}

// Next blocks until an item is available for this feed. All feeds on the
// same generation receive identical items in identical order, so every
// stream broadcasts the same logical source.
func (f *Feed) Next(ctx context.Context) (Item, error) {
	c := f.c
	c.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return Item{}, err
		}

		if f.gen != c.gen {
			// A new source starts at its oldest retained item.
			f.gen = c.gen
			f.cursor = c.logBase
		}

		if f.cursor < c.logBase {
			// The log was pruned past this cursor; jump to the oldest
			// retained item.
			f.cursor = c.logBase
		}

		if idx := f.cursor - c.logBase; idx < uint64(len(c.log)) {
			item := c.log[idx]
			f.cursor++
			c.pruneLocked()
			c.mu.Unlock()
			return item, nil
		}

		if !c.generating {
			c.generating = true
			genBefore := c.gen
			item, ok := c.generate(ctx)
			c.generating = false
			if ok {
				c.log = append(c.log, item)
				c.wakeLocked()
				continue
			}
			if c.gen != genBefore {
				// The source changed underneath us (natural transition or
				// a switch during a liveset fetch); retry against it.
				continue
			}
			if err := ctx.Err(); err != nil {
				c.mu.Unlock()
				return Item{}, err
			}
		}

		notify := c.notify
		c.mu.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
		c.mu.Lock()
	}
}

// pruneLocked drops log entries every feed has consumed.
func (c *Controller) pruneLocked() {
	if len(c.feeds) == 0 || len(c.log) == 0 {
		return
	}
	min := c.feeds[0].cursor
	for _, f := range c.feeds[1:] {
		if f.gen == c.feeds[0].gen && f.cursor < min {
			min = f.cursor
		}
	}
	if min <= c.logBase {
		return
	}
	drop := min - c.logBase
	if drop > uint64(len(c.log)) {
		drop = uint64(len(c.log))
	}
	c.log = append([]Item(nil), c.log[drop:]...)
	c.logBase += drop
}

// generate produces the next item for the current source. Called with the
// lock held; the lock is dropped around network fetches. Returns ok=false
// when the source has nothing to play right now (library exhausted, or a
// natural transition just happened and the caller should re-evaluate).
func (c *Controller) generate(ctx context.Context) (Item, bool) {
	switch c.src.kind {
	case sourceLibrary:
		return c.generateLibrary()
	case sourcePlaylist:
		return c.generatePlaylist()
	case sourceLiveset:
		return c.generateLiveset(ctx)
	}
	return Item{}, false
}

func (c *Controller) generateLibrary() (Item, bool) {
	track, err := c.libraryProv.NextTrack()
	if errors.Is(err, library.ErrExhausted) {
		c.logger.Info().Msg("end of library playlist reached")
		return Item{}, false
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load next library track")
		return Item{}, false
	}
	return Item{
		URI:        track.FilePath,
		Title:      track.Title,
		Artist:     track.Artist,
		Album:      track.Album,
		Generation: c.gen,
		Interrupt:  c.interrupt,
	}, true
}

func (c *Controller) generatePlaylist() (Item, bool) {
	if c.src.pos >= len(c.src.tracks) {
		if !c.src.repeat || !c.now().Before(c.src.endAt) {
			c.logger.Info().Str("program", c.src.name).Msg("scheduled playlist finished, returning to library")
			c.switchLocked(source{kind: sourceLibrary}, false)
			return Item{}, false
		}
		c.src.pos = 0
	}

	uri := c.src.tracks[c.src.pos]
	c.src.pos++

	item := Item{
		URI:        uri,
		Generation: c.gen,
		Interrupt:  c.interrupt,
	}
	item.Title, item.Artist, item.Album = c.resolveMetadata(uri)
	return item, true
}

func (c *Controller) generateLiveset(ctx context.Context) (Item, bool) {
	if !c.now().Before(c.src.endAt) {
		c.logger.Info().Str("program", c.src.name).Msg("liveset program window elapsed, returning to library")
		c.switchLocked(source{kind: sourceLibrary}, false)
		return Item{}, false
	}

	src := c.src
	gen := c.gen
	interrupt := c.interrupt

	// Network fetch happens outside the lock; c.generating keeps other
	// feeds from fetching concurrently.
	c.mu.Unlock()
	url, err := c.livesets.NextURL(ctx, src.genres)
	c.mu.Lock()

	if c.gen != gen {
		// A switch happened during the fetch; discard the result.
		return Item{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("program", src.name).Msg("liveset fetch failed, returning to library")
		c.switchLocked(source{kind: sourceLibrary}, false)
		return Item{}, false
	}

	return Item{
		URI:        url,
		Title:      src.name,
		Artist:     "hearthis.at",
		Album:      "Liveset",
		Generation: gen,
		Interrupt:  interrupt,
	}, true
}

// resolveMetadata looks up the index record for a local path; remote URLs
// and unindexed files fall back to the filename stem.
func (c *Controller) resolveMetadata(uri string) (title, artist, album string) {
	artist = "Unknown Artist"
	album = "Unknown Album"

	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri[strings.LastIndex(uri, "/")+1:], artist, album
	}

	if c.lookup != nil {
		if track, err := c.lookup.TrackByPath(uri); err == nil {
			return track.Title, track.Artist, track.Album
		}
	}
	return strings.TrimSuffix(filepath.Base(uri), filepath.Ext(uri)), artist, album
}
