// Package stability decides when a file has been completely written by
// watching its size settle. Uploads and network copies grow a file over
// seconds; reacting before the writer finishes would hash and quarantine a
// truncated file.
package stability

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/your-org/medflow/internal/media"
)

// Detector polls a file's size until it is unchanged across a number of
// consecutive checks.
type Detector struct {
	Interval       time.Duration
	RequiredChecks int
	Timeout        time.Duration

	// sleep is replaceable in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDetector builds a Detector with the given polling parameters. Zero
// values fall back to the defaults (1s interval, 3 checks, 30s timeout).
func NewDetector(interval time.Duration, requiredChecks int, timeout time.Duration) *Detector {
	if interval <= 0 {
		interval = time.Second
	}
	if requiredChecks <= 0 {
		requiredChecks = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Detector{
		Interval:       interval,
		RequiredChecks: requiredChecks,
		Timeout:        timeout,
		sleep:          sleepCtx,
	}
}

// WaitStable blocks until the file's size is identical across
// RequiredChecks consecutive polls. It returns media.ErrFileUnstable when
// the timeout elapses first, media.ErrSourceVanished when the file
// disappears (a racing watcher claimed it), and the context error on
// cancellation.
func (d *Detector) WaitStable(ctx context.Context, path string) error {
	deadline := time.Now().Add(d.Timeout)

	lastSize := int64(-1)
	stableChecks := 0

	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return media.ErrSourceVanished
			}
			// Transient stat failures count as instability.
			stableChecks = 0
			lastSize = -1
		} else if info.Size() == lastSize {
			stableChecks++
			if stableChecks >= d.RequiredChecks {
				return nil
			}
		} else {
			stableChecks = 0
			lastSize = info.Size()
		}

		if err := d.sleep(ctx, d.Interval); err != nil {
			return err
		}
	}

	return media.ErrFileUnstable
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
