/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "library.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTracks(t *testing.T, store *Store, paths ...string) {
	t.Helper()
	tracks := make([]Track, 0, len(paths))
	for _, p := range paths {
		tracks = append(tracks, Track{
			FilePath:      p,
			Title:         filepath.Base(p),
			Artist:        "Artist",
			Album:         "Album",
			FileSize:      1,
			LastModified:  1,
			FileExtension: "mp3",
		})
	}
	if err := store.InsertTracks(tracks); err != nil {
		t.Fatalf("InsertTracks() error = %v", err)
	}
}

func TestProviderEmptyLibraryFails(t *testing.T) {
	store := newTestStore(t)
	if _, err := NewProvider(store, false, false, zerolog.Nop()); err == nil {
		t.Error("NewProvider() succeeded on empty library, want error")
	}
}

func TestProviderSequentialOrder(t *testing.T) {
	store := newTestStore(t)
	seedTracks(t, store, "/music/a.mp3", "/music/b.mp3", "/music/c.mp3")

	p, err := NewProvider(store, false, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	for _, want := range []string{"/music/a.mp3", "/music/b.mp3", "/music/c.mp3"} {
		track, err := p.NextTrack()
		if err != nil {
			t.Fatalf("NextTrack() error = %v", err)
		}
		if track.FilePath != want {
			t.Errorf("NextTrack() = %q, want %q", track.FilePath, want)
		}
	}

	if _, err := p.NextTrack(); !errors.Is(err, ErrExhausted) {
		t.Errorf("NextTrack() after exhaustion error = %v, want ErrExhausted", err)
	}
}

func TestProviderRepeatRegenerates(t *testing.T) {
	store := newTestStore(t)
	seedTracks(t, store, "/music/a.mp3", "/music/b.mp3")

	p, err := NewProvider(store, false, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	for i := 0; i < 6; i++ {
		if _, err := p.NextTrack(); err != nil {
			t.Fatalf("NextTrack() iteration %d error = %v (repeat should never exhaust)", i, err)
		}
	}
}

func TestShuffleDeterministicForStableLibrary(t *testing.T) {
	paths := []string{"/m/1.mp3", "/m/2.mp3", "/m/3.mp3", "/m/4.mp3", "/m/5.mp3"}

	order := func() []string {
		store := newTestStore(t)
		seedTracks(t, store, paths...)
		p, err := NewProvider(store, true, true, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewProvider() error = %v", err)
		}
		var got []string
		for range paths {
			track, err := p.NextTrack()
			if err != nil {
				t.Fatalf("NextTrack() error = %v", err)
			}
			got = append(got, track.FilePath)
		}
		return got
	}

	first := order()
	second := order()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("shuffle order not deterministic across restarts: %v vs %v", first, second)
		}
	}
}

func TestShuffleRoundsDiffer(t *testing.T) {
	tracks := make([]Track, 16)
	for i := range tracks {
		tracks[i] = Track{FilePath: filepath.Join("/m", string(rune('a'+i))+".mp3")}
	}

	roundA := append([]Track(nil), tracks...)
	shuffleTracks(roundA, 0)
	roundB := append([]Track(nil), tracks...)
	shuffleTracks(roundB, 1)

	same := true
	for i := range roundA {
		if roundA[i].FilePath != roundB[i].FilePath {
			same = false
			break
		}
	}
	if same {
		t.Error("consecutive shuffle rounds produced identical orders")
	}
}

func TestScannerIndexesAudioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.mp3", "two.flac", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := newTestStore(t)
	scanner := NewScanner(dir, store, nil, zerolog.Nop())

	result, err := scanner.FullScan()
	if err != nil {
		t.Fatalf("FullScan() error = %v", err)
	}
	if result.Added != 2 {
		t.Errorf("FullScan() added %d tracks, want 2 (txt skipped)", result.Added)
	}

	count, err := store.TrackCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("TrackCount() = %d, want 2", count)
	}
}

func TestIncrementalScanReconciles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.mp3")
	gone := filepath.Join(dir, "gone.mp3")
	for _, p := range []string{keep, gone} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := newTestStore(t)
	scanner := NewScanner(dir, store, nil, zerolog.Nop())
	if _, err := scanner.FullScan(); err != nil {
		t.Fatalf("FullScan() error = %v", err)
	}

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	added := filepath.Join(dir, "new.mp3")
	if err := os.WriteFile(added, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := scanner.IncrementalScan()
	if err != nil {
		t.Fatalf("IncrementalScan() error = %v", err)
	}
	if result.Added != 1 || result.Deleted != 1 {
		t.Errorf("IncrementalScan() = +%d -%d, want +1 -1", result.Added, result.Deleted)
	}

	if _, err := store.TrackByPath(gone); err == nil {
		t.Error("deleted file still present in index")
	}
}

func TestReadTagsFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "my song.mp3")
	if err := os.WriteFile(path, []byte("not a real mp3"), 0o644); err != nil {
		t.Fatal(err)
	}

	title, artist, album := readTags(path, zerolog.Nop())
	if title != "my song" {
		t.Errorf("title = %q, want filename stem", title)
	}
	if artist != "Unknown Artist" || album != "Unknown Album" {
		t.Errorf("artist/album = %q/%q, want unknowns", artist, album)
	}
}
