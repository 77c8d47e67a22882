package media

import (
	"errors"
	"strings"
	"syscall"
)

// Classified failure kinds for the import pipeline. Callers match with
// errors.Is; Retryable drives the dispatcher's retry policy.
var (
	// ErrAlreadyProcessing marks a duplicate concurrent attempt on the
	// same path. A no-op for the caller, not a real failure.
	ErrAlreadyProcessing = errors.New("file is already being processed")

	// ErrInsufficientStorage marks a pre-flight or mid-flight disk-space
	// failure. The file must not be marked processed so a later event can
	// retry once space is freed.
	ErrInsufficientStorage = errors.New("insufficient storage")

	// ErrDuplicateContent marks content whose hash is already imported.
	// The importer resolves it to the existing record; it never reaches
	// the dispatcher.
	ErrDuplicateContent = errors.New("duplicate content hash")

	// ErrFileUnstable marks a file whose size kept changing past the
	// stabilization timeout.
	ErrFileUnstable = errors.New("file did not stabilize")

	// ErrSourceVanished marks a source file that disappeared mid-flight,
	// i.e. a racing processor claimed it first. Exiting without side
	// effects is the correct response.
	ErrSourceVanished = errors.New("source file vanished")

	// ErrImportFailed is the catch-all for extraction, anonymization and
	// persistence failures.
	ErrImportFailed = errors.New("import failed")

	// ErrResourceNotFound marks a status poll against an id with no
	// backing record. Terminal, never rate limited.
	ErrResourceNotFound = errors.New("resource not found")
)

// Retryable reports whether the dispatcher should allow another attempt
// for the path on a future filesystem event or rescan.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAlreadyProcessing),
		errors.Is(err, ErrSourceVanished),
		errors.Is(err, ErrResourceNotFound):
		return false
	default:
		return true
	}
}

// ClassifyStorageErr maps OS-level disk-full conditions onto
// ErrInsufficientStorage so the retry policy treats them uniformly.
func ClassifyStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) || strings.Contains(err.Error(), "no space left on device") {
		return errors.Join(ErrInsufficientStorage, err)
	}
	return err
}

// Kind returns a short stable name for an error, for log and metric tags.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyProcessing):
		return "already_processing"
	case errors.Is(err, ErrInsufficientStorage):
		return "insufficient_storage"
	case errors.Is(err, ErrDuplicateContent):
		return "duplicate_content"
	case errors.Is(err, ErrFileUnstable):
		return "file_unstable"
	case errors.Is(err, ErrSourceVanished):
		return "source_vanished"
	case errors.Is(err, ErrResourceNotFound):
		return "resource_not_found"
	default:
		return "import_failed"
	}
}
