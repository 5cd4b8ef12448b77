/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/RouHim/funkstrom/internal/events"
)

const (
	metaLastFullScan        = "last_full_scan"
	metaLastIncrementalScan = "last_incremental_scan"

	// watchDebounce batches bursts of filesystem events (an rsync of a
	// new album fires hundreds) into one incremental scan.
	watchDebounce = 30 * time.Second
)

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".flac": {}, ".ogg": {}, ".oga": {}, ".opus": {},
	".m4a": {}, ".aac": {}, ".wav": {}, ".wma": {},
}

// ScanResult summarizes one scanner pass.
type ScanResult struct {
	Added   int
	Updated int
	Deleted int
	Errors  []error
}

// Scanner keeps the track index in sync with the music directory.
type Scanner struct {
	musicDir string
	store    *Store
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewScanner creates a scanner rooted at musicDir.
func NewScanner(musicDir string, store *Store, bus *events.Bus, logger zerolog.Logger) *Scanner {
	return &Scanner{
		musicDir: musicDir,
		store:    store,
		bus:      bus,
		logger:   logger.With().Str("component", "scanner").Logger(),
	}
}

// FullScan indexes every audio file under the music directory from
// scratch.
func (s *Scanner) FullScan() (*ScanResult, error) {
	result := &ScanResult{}

	files, err := s.collectFiles()
	if err != nil {
		return nil, err
	}

	var records []Track
	for path, info := range files {
		record, err := s.buildRecord(path, info)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		records = append(records, *record)
	}

	if err := s.store.InsertTracks(records); err != nil {
		return nil, fmt.Errorf("insert scanned tracks: %w", err)
	}
	result.Added = len(records)

	if err := s.store.SetMeta(metaLastFullScan, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record full scan time")
	}

	s.publishScanEvent("full", result)
	return result, nil
}

// IncrementalScan reconciles the index against the directory: new files
// are added, files with changed size or mtime are re-read, and records
// for vanished files are deleted.
func (s *Scanner) IncrementalScan() (*ScanResult, error) {
	result := &ScanResult{}

	files, err := s.collectFiles()
	if err != nil {
		return nil, err
	}

	existing, err := s.store.AllTracks()
	if err != nil {
		return nil, fmt.Errorf("load indexed tracks: %w", err)
	}
	indexed := make(map[string]Track, len(existing))
	for _, track := range existing {
		indexed[track.FilePath] = track
	}

	var added []Track
	var deleted []string

	for path, info := range files {
		prev, known := indexed[path]
		if known && prev.FileSize == info.Size() && prev.LastModified == info.ModTime().Unix() {
			continue
		}

		record, err := s.buildRecord(path, info)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		if known {
			if err := s.store.UpdateTrack(record); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("update %s: %w", path, err))
				continue
			}
			result.Updated++
		} else {
			added = append(added, *record)
		}
	}

	for path := range indexed {
		if _, onDisk := files[path]; !onDisk {
			deleted = append(deleted, path)
		}
	}

	if err := s.store.InsertTracks(added); err != nil {
		return nil, fmt.Errorf("insert new tracks: %w", err)
	}
	result.Added = len(added)

	if err := s.store.DeleteTracksByPath(deleted); err != nil {
		return nil, fmt.Errorf("delete vanished tracks: %w", err)
	}
	result.Deleted = len(deleted)

	if err := s.store.SetMeta(metaLastIncrementalScan, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record incremental scan time")
	}

	s.publishScanEvent("incremental", result)
	return result, nil
}

// EnsureIndexed runs a full scan on an empty index and an incremental
// scan otherwise, logging what the original startup banner logged.
func (s *Scanner) EnsureIndexed() error {
	count, err := s.store.TrackCount()
	if err != nil {
		return err
	}

	if count == 0 {
		s.logger.Info().Msg("empty library, performing initial full scan")
		result, err := s.FullScan()
		if err != nil {
			return err
		}
		s.logger.Info().Int("added", result.Added).Msg("initial scan complete")
		if len(result.Errors) > 0 {
			s.logger.Warn().Int("errors", len(result.Errors)).Msg("scan encountered errors")
		}
		return nil
	}

	s.logLastScanTimes()
	s.logger.Info().Msg("performing incremental library scan")
	result, err := s.IncrementalScan()
	if err != nil {
		return err
	}
	if result.Added > 0 || result.Updated > 0 || result.Deleted > 0 {
		s.logger.Info().
			Int("added", result.Added).
			Int("updated", result.Updated).
			Int("deleted", result.Deleted).
			Msg("library changes")
	}
	return nil
}

// RunNightly rescans at 03:00 local time until the context is cancelled.
func (s *Scanner) RunNightly(ctx context.Context) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		s.logger.Info().Time("at", next).Msg("next library scan scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		s.logger.Info().Msg("performing nightly library scan")
		result, err := s.IncrementalScan()
		if err != nil {
			s.logger.Error().Err(err).Msg("nightly scan failed")
			continue
		}
		if result.Added > 0 || result.Updated > 0 || result.Deleted > 0 {
			s.logger.Info().
				Int("added", result.Added).
				Int("updated", result.Updated).
				Int("deleted", result.Deleted).
				Msg("nightly scan complete")
		} else {
			s.logger.Info().Msg("nightly scan complete: no changes detected")
		}
	}
}

// Watch rescans incrementally after filesystem changes in the music
// directory, debounced so bulk copies trigger a single pass.
func (s *Scanner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(s.musicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch music directory: %w", err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories must be watched before their contents settle.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("watcher error")
		case <-timerC:
			timer = nil
			timerC = nil
			s.logger.Info().Msg("music directory changed, rescanning")
			if _, err := s.IncrementalScan(); err != nil {
				s.logger.Error().Err(err).Msg("rescan after change failed")
			}
		}
	}
}

func (s *Scanner) collectFiles() (map[string]os.FileInfo, error) {
	files := make(map[string]os.FileInfo)

	err := filepath.WalkDir(s.musicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := audioExtensions[ext]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan music directory %s: %w", s.musicDir, err)
	}
	return files, nil
}

func (s *Scanner) buildRecord(path string, info os.FileInfo) (*Track, error) {
	record := &Track{
		FilePath:      path,
		FileSize:      info.Size(),
		LastModified:  info.ModTime().Unix(),
		FileExtension: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	record.Title, record.Artist, record.Album = readTags(path, s.logger)
	return record, nil
}

// readTags extracts title/artist/album from embedded tags, falling back
// to the filename stem when the file has no readable tags.
func readTags(path string, logger zerolog.Logger) (title, artist, album string) {
	title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	artist = "Unknown Artist"
	album = "Unknown Album"

	f, err := os.Open(path)
	if err != nil {
		return title, artist, album
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		logger.Debug().Err(err).Str("file", path).Msg("no readable tags")
		return title, artist, album
	}

	if v := strings.TrimSpace(meta.Title()); v != "" {
		title = v
	}
	if v := strings.TrimSpace(meta.Artist()); v != "" {
		artist = v
	}
	if v := strings.TrimSpace(meta.Album()); v != "" {
		album = v
	}
	return title, artist, album
}

func (s *Scanner) publishScanEvent(kind string, result *ScanResult) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventLibraryScan, events.Payload{
		"kind":    kind,
		"added":   result.Added,
		"updated": result.Updated,
		"deleted": result.Deleted,
		"errors":  len(result.Errors),
	})
}

func (s *Scanner) logLastScanTimes() {
	for _, key := range []string{metaLastFullScan, metaLastIncrementalScan} {
		value, ok, err := s.store.GetMeta(key)
		if err != nil || !ok {
			continue
		}
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		s.logger.Info().Str("scan", key).Time("at", time.Unix(ts, 0)).Msg("last scan")
	}
}
