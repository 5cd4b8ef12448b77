/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule evaluates cron-triggered programs and tells the
// playout controller when to switch sources. The engine is in-process
// and one-shot per firing: occurrences missed during clock jumps are not
// backfilled.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/config"
	"github.com/RouHim/funkstrom/internal/playlist"
	"github.com/RouHim/funkstrom/internal/playout"
)

// fireTolerance lets an occurrence that just slipped into the past still
// fire; anything older is skipped.
const fireTolerance = 2 * time.Second

// maxIdleSleep bounds how long the loop sleeps when nothing is imminent.
const maxIdleSleep = 30 * time.Second

// Program is a validated, ready-to-fire schedule entry.
type Program struct {
	Name         string
	Schedule     cron.Schedule
	Duration     time.Duration
	Type         config.ProgramType
	PlaylistPath string
	Genres       []string
}

// ParseDuration parses the program duration grammar: "<n>m" for minutes
// or "<n>h" for hours. Nothing else is accepted; "1h30m" is rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if v, ok := strings.CutSuffix(s, "m"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q (use '30m' or '2h')", s)
		}
		return time.Duration(n) * time.Minute, nil
	}

	if v, ok := strings.CutSuffix(s, "h"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q (use '30m' or '2h')", s)
		}
		return time.Duration(n) * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration format: %q (use '30m' or '2h')", s)
}

// cronParser accepts the standard 5-field minute/hour/dom/month/dow form.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateProgram converts one config entry, rejecting bad cron, bad
// duration, and unloadable playlists.
func ValidateProgram(p *config.Program, logger zerolog.Logger) (*Program, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sched, err := cronParser.Parse(p.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", p.Cron, err)
	}

	duration, err := ParseDuration(p.Duration)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("program duration must be positive, got %q", p.Duration)
	}

	validated := &Program{
		Name:     p.Name,
		Schedule: sched,
		Duration: duration,
		Type:     p.GetType(),
	}

	switch validated.Type {
	case config.ProgramPlaylist:
		if _, err := playlist.Validate(p.Playlist, logger); err != nil {
			return nil, err
		}
		validated.PlaylistPath = p.Playlist
	case config.ProgramLiveset:
		validated.Genres = p.GenreList()
	}

	return validated, nil
}

// ValidatePrograms filters to active, valid programs. Invalid entries are
// dropped with a warning so the rest of the schedule still runs.
func ValidatePrograms(programs []config.Program, logger zerolog.Logger) []Program {
	var validated []Program
	for i := range programs {
		p := &programs[i]
		if !p.Active {
			continue
		}
		v, err := ValidateProgram(p, logger)
		if err != nil {
			logger.Warn().Err(err).Str("program", p.Name).Msg("program skipped")
			continue
		}
		validated = append(validated, *v)
	}
	return validated
}

// scheduledRun tracks the active program window.
type scheduledRun struct {
	name  string
	endAt time.Time
}

// Engine drives program switches. It only exists when at least one
// active program validated; with none, library playout runs with no
// scheduling overhead at all.
type Engine struct {
	programs      []Program
	cmds          chan<- playout.Command
	libraryRepeat bool
	logger        zerolog.Logger

	now       func() time.Time
	current   *scheduledRun
	lastFired map[string]time.Time
}

// NewEngine creates an engine over validated programs. libraryRepeat is
// inherited by playlist programs.
func NewEngine(programs []Program, cmds chan<- playout.Command, libraryRepeat bool, logger zerolog.Logger) *Engine {
	return &Engine{
		programs:      programs,
		cmds:          cmds,
		libraryRepeat: libraryRepeat,
		logger:        logger.With().Str("component", "schedule").Logger(),
		now:           time.Now,
		lastFired:     make(map[string]time.Time),
	}
}

// Run evaluates the schedule until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Int("programs", len(e.programs)).Msg("schedule engine started")

	for {
		sleep := e.tick(e.now())
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("schedule engine stopped")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tick processes one evaluation at the given instant and returns how long
// to sleep until the next one.
func (e *Engine) tick(now time.Time) time.Duration {
	// End the current run when its window has elapsed.
	if e.current != nil && !now.Before(e.current.endAt) {
		e.logger.Info().Str("program", e.current.name).Msg("program ended, returning to library")
		e.cmds <- playout.ReturnToLibrary{}
		e.current = nil
	}

	prog, fireAt, ok := e.nextFire(now)
	if !ok {
		if e.current != nil {
			return clampSleep(e.current.endAt.Sub(now))
		}
		return maxIdleSleep
	}

	if !fireAt.After(now) {
		// Due now (or just slipped past within tolerance). A firing
		// program preempts any current run: most recently started wins,
		// and the preempted run never resumes.
		e.fire(prog, fireAt, now)
		return time.Second
	}

	sleep := fireAt.Sub(now)
	if e.current != nil {
		if untilEnd := e.current.endAt.Sub(now); untilEnd < sleep {
			sleep = untilEnd
		}
	}
	return clampSleep(sleep)
}

// nextFire returns the earliest unfired occurrence across all programs,
// looking back by the fire tolerance so an occurrence at this exact
// minute is included.
func (e *Engine) nextFire(now time.Time) (*Program, time.Time, bool) {
	var best *Program
	var bestAt time.Time

	for i := range e.programs {
		p := &e.programs[i]
		occ := p.Schedule.Next(now.Add(-fireTolerance))
		if occ.IsZero() {
			continue
		}
		if last, ok := e.lastFired[p.Name]; ok && !occ.After(last) {
			// Already fired this occurrence; look past it.
			occ = p.Schedule.Next(last)
			if occ.IsZero() {
				continue
			}
		}
		if best == nil || occ.Before(bestAt) {
			best = p
			bestAt = occ
		}
	}

	if best == nil {
		return nil, time.Time{}, false
	}
	return best, bestAt, true
}

func (e *Engine) fire(p *Program, fireAt, now time.Time) {
	e.lastFired[p.Name] = fireAt

	switch p.Type {
	case config.ProgramPlaylist:
		tracks, err := playlist.Parse(p.PlaylistPath, e.logger)
		if err != nil {
			e.logger.Error().Err(err).Str("program", p.Name).Msg("failed to load playlist, program skipped")
			return
		}
		e.logger.Info().
			Str("program", p.Name).
			Int("tracks", len(tracks)).
			Dur("duration", p.Duration).
			Msg("starting playlist program")
		e.cmds <- playout.SwitchToPlaylist{
			Name:     p.Name,
			Tracks:   tracks,
			Duration: p.Duration,
			Repeat:   e.libraryRepeat,
		}
	case config.ProgramLiveset:
		e.logger.Info().
			Str("program", p.Name).
			Strs("genres", p.Genres).
			Dur("duration", p.Duration).
			Msg("starting liveset program")
		e.cmds <- playout.SwitchToLiveset{
			Name:     p.Name,
			Genres:   p.Genres,
			Duration: p.Duration,
		}
	default:
		return
	}

	e.current = &scheduledRun{name: p.Name, endAt: now.Add(p.Duration)}
}

func clampSleep(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > maxIdleSleep {
		return maxIdleSleep
	}
	return d
}
