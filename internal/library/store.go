/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library owns the on-disk music index: a sqlite database of
// track records kept in sync with the music directory by the scanner,
// and the shuffle/repeat playout provider reading from it.
package library

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Track is one indexed audio file.
type Track struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	FilePath        string `gorm:"uniqueIndex;not null"`
	Title           string `gorm:"index;not null"`
	Artist          string `gorm:"index;not null"`
	Album           string `gorm:"index;not null"`
	DurationSeconds *int64
	FileSize        int64  `gorm:"not null"`
	LastModified    int64  `gorm:"index;not null"`
	FileExtension   string `gorm:"not null"`
	CreatedAt       int64  `gorm:"autoCreateTime;not null"`
	UpdatedAt       int64  `gorm:"autoUpdateTime;not null"`
}

// MetaEntry is a key/value row for scan bookkeeping
// (last_full_scan, last_incremental_scan).
type MetaEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt int64  `gorm:"autoUpdateTime;not null"`
}

// TableName keeps the original on-disk table name.
func (MetaEntry) TableName() string { return "library_metadata" }

// Store wraps the sqlite track index.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (or creates) the index database and migrates the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open library database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Track{}, &MetaEntry{}); err != nil {
		return nil, fmt.Errorf("migrate library schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("library database initialized")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AllTracks returns every indexed track ordered by path.
func (s *Store) AllTracks() ([]Track, error) {
	var tracks []Track
	if err := s.db.Order("file_path").Find(&tracks).Error; err != nil {
		return nil, err
	}
	return tracks, nil
}

// TrackCount returns the number of indexed tracks.
func (s *Store) TrackCount() (int64, error) {
	var count int64
	if err := s.db.Model(&Track{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// TrackByPath looks up a single track record.
func (s *Store) TrackByPath(path string) (*Track, error) {
	var track Track
	if err := s.db.First(&track, "file_path = ?", path).Error; err != nil {
		return nil, err
	}
	return &track, nil
}

// InsertTracks inserts records in one transaction.
func (s *Store) InsertTracks(tracks []Track) error {
	if len(tracks) == 0 {
		return nil
	}
	return s.db.CreateInBatches(tracks, 200).Error
}

// UpdateTrack rewrites the mutable columns of an existing record.
func (s *Store) UpdateTrack(track *Track) error {
	return s.db.Model(&Track{}).
		Where("file_path = ?", track.FilePath).
		Updates(map[string]any{
			"title":            track.Title,
			"artist":           track.Artist,
			"album":            track.Album,
			"duration_seconds": track.DurationSeconds,
			"file_size":        track.FileSize,
			"last_modified":    track.LastModified,
			"file_extension":   track.FileExtension,
		}).Error
}

// DeleteTracksByPath removes records for files no longer on disk.
func (s *Store) DeleteTracksByPath(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.db.Where("file_path IN ?", paths).Delete(&Track{}).Error
}

// GetMeta reads a bookkeeping value; ok is false when the key is absent.
func (s *Store) GetMeta(key string) (value string, ok bool, err error) {
	var entry MetaEntry
	err = s.db.First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// SetMeta upserts a bookkeeping value.
func (s *Store) SetMeta(key, value string) error {
	entry := MetaEntry{Key: key, Value: value, UpdatedAt: time.Now().Unix()}
	return s.db.Save(&entry).Error
}
