package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/google/renameio/v2"
)

var backupHeader = []string{"playlist_id", "track_id", "added_at"}

// BackupStore writes pre-mutation membership snapshots, one CSV file per
// backup, named so listings sort chronologically.
type BackupStore struct {
	dir string
}

// NewBackupStore creates a store writing under dir.
func NewBackupStore(dir string) *BackupStore {
	return &BackupStore{dir: dir}
}

// Dir returns the backup directory.
func (s *BackupStore) Dir() string { return s.dir }

// Write persists a playlist's current membership before a destructive
// mutation and returns the backup path.
func (s *BackupStore) Write(playlistName, playlistID string, at time.Time, rows []models.PlaylistTrack) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(backupHeader); err != nil {
		return "", fmt.Errorf("failed to write backup header: %w", err)
	}
	for _, row := range rows {
		record := []string{row.PlaylistID, row.TrackID, row.AddedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write backup row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.csv", at.UTC().Format("20060102T150405Z"), sanitizeName(playlistName), playlistID)
	path := filepath.Join(s.dir, name)
	if err := renameio.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}

// List returns every backup path, oldest first.
func (s *BackupStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads a backup's membership rows.
func (s *BackupStore) Read(path string) ([]models.PlaylistTrack, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", shared.ErrBackupNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: backup %s: %v", shared.ErrCacheCorrupt, path, err)
	}
	if len(records) == 0 || !slices.Equal(records[0], backupHeader) {
		return nil, fmt.Errorf("%w: backup %s has an unexpected header", shared.ErrCacheCorrupt, path)
	}

	rows := make([]models.PlaylistTrack, 0, len(records)-1)
	for _, record := range records[1:] {
		addedAt, err := time.Parse(time.RFC3339, record[2])
		if err != nil {
			return nil, fmt.Errorf("%w: backup %s column added_at: %v", shared.ErrCacheCorrupt, path, err)
		}
		rows = append(rows, models.PlaylistTrack{PlaylistID: record[0], TrackID: record[1], AddedAt: addedAt})
	}
	return rows, nil
}

// sanitizeName keeps backup filenames portable across filesystems.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if mapped == "" {
		return "playlist"
	}
	return mapped
}
