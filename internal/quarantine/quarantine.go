// Package quarantine owns the on-disk layout of the pipeline and the
// atomic move that claims a file for processing. The rename is the only
// locking mechanism: of two racing processors, exactly one wins the move
// and the loser sees the source missing.
package quarantine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/your-org/medflow/internal/media"
)

// ProcessingDirName is the quarantine directory under each media root.
// The dispatcher must never react to paths below it.
const ProcessingDirName = "_processing"

// Store maps media types to their directories under a single storage root
// and performs the quarantine move.
type Store struct {
	root string
}

// NewStore builds a Store rooted at root and ensures the per-type
// directories exist.
func NewStore(root string) (*Store, error) {
	s := &Store{root: root}
	for _, t := range []media.Type{media.TypeVideo, media.TypeDocument} {
		for _, dir := range []string{s.ProcessingDir(t), s.sensitiveDir(t), s.anonymizedDir(t)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}
	return s, nil
}

// Root returns the storage root the store was built with.
func (s *Store) Root() string {
	return s.root
}

// ProcessingDir returns the quarantine directory for a media type.
func (s *Store) ProcessingDir(t media.Type) string {
	return filepath.Join(s.root, string(t), ProcessingDirName)
}

func (s *Store) sensitiveDir(t media.Type) string {
	return filepath.Join(s.root, string(t), "sensitive")
}

func (s *Store) anonymizedDir(t media.Type) string {
	return filepath.Join(s.root, string(t), "anonymized")
}

// Quarantine atomically moves the file at sourcePath into the media type's
// _processing directory and returns the new path. When the source no
// longer exists the move was lost to a racing processor and
// media.ErrSourceVanished is returned; the caller must exit without side
// effects.
func (s *Store) Quarantine(sourcePath string, t media.Type) (string, error) {
	dest := filepath.Join(s.ProcessingDir(t), filepath.Base(sourcePath))

	if err := os.Rename(sourcePath, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", media.ErrSourceVanished
		}
		return "", fmt.Errorf("quarantine %s: %w", sourcePath, media.ClassifyStorageErr(err))
	}
	return dest, nil
}

// SensitivePath returns the final location of the original file once a
// record exists, keyed by content hash.
func (s *Store) SensitivePath(t media.Type, hash, ext string) string {
	return filepath.Join(s.sensitiveDir(t), hash+ext)
}

// AnonymizedPath returns the location of the anonymized artifact, keyed by
// content hash in parallel with SensitivePath.
func (s *Store) AnonymizedPath(t media.Type, hash, ext string) string {
	return filepath.Join(s.anonymizedDir(t), hash+ext)
}

// Promote moves a quarantined file to its sensitive location. The
// quarantine entry disappears, which is what makes a crash before this
// point recoverable by rescanning _processing.
func (s *Store) Promote(quarantinedPath string, t media.Type, hash string) (string, error) {
	dest := s.SensitivePath(t, hash, filepath.Ext(quarantinedPath))
	if err := os.Rename(quarantinedPath, dest); err != nil {
		return "", fmt.Errorf("promote %s: %w", quarantinedPath, media.ClassifyStorageErr(err))
	}
	return dest, nil
}

// InProcessingDir reports whether any segment of path is the quarantine
// directory. Used by the dispatcher to ignore the pipeline's own moves.
func InProcessingDir(path string) bool {
	for _, part := range splitPath(path) {
		if part == ProcessingDirName {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(filepath.Clean(path))
		if file != "" {
			parts = append(parts, file)
		}
		if dir == "" || dir == string(filepath.Separator) || dir == "." {
			break
		}
		path = filepath.Clean(dir)
	}
	return parts
}
