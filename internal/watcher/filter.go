package watcher

import (
	"path/filepath"
	"strings"

	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/quarantine"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true, ".m4v": true,
}

var documentExtensions = map[string]bool{
	".pdf": true,
}

// ShouldIgnore filters out the pipeline's own intermediate artifacts and
// writer noise: quarantine paths, lock files, hidden and temp files, and
// anything inside transcoding scratch space. The scratch markers are
// matched against the file name and its directory name, not the whole
// path, so an inbox that happens to live under a tmp-rooted mount is not
// filtered away.
func ShouldIgnore(path string) bool {
	name := filepath.Base(path)
	parent := filepath.Base(filepath.Dir(path))
	switch {
	case strings.HasPrefix(name, "."), strings.HasPrefix(name, "~"):
		return true
	case strings.HasSuffix(name, ".lock"):
		return true
	case quarantine.InProcessingDir(path):
		return true
	case isScratch(name), isScratch(parent):
		return true
	}
	return false
}

func isScratch(name string) bool {
	return strings.Contains(name, "tmp") || strings.Contains(name, "transcoding")
}

// extensionAllowed reports whether the filename extension matches the
// media type's accepted set.
func extensionAllowed(t media.Type, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch t {
	case media.TypeVideo:
		return videoExtensions[ext]
	case media.TypeDocument:
		return documentExtensions[ext]
	}
	return false
}
