// Package ocr declares the contracts of the black-box collaborators the
// pipeline consumes: OCR, NER, frame sampling, document text layers,
// segmentation and the storage capacity probe. Production adapters wrap
// the external binaries; tests use deterministic stubs.
package ocr

import (
	"context"

	"github.com/your-org/medflow/internal/media"
)

// Engine extracts text from one image. highQuality selects a slower,
// more accurate pass.
type Engine interface {
	ExtractText(ctx context.Context, imagePath string, highQuality bool) (text string, confidence float64, err error)
}

// NER extracts sensitive metadata from free text. Used by the document
// path as an alternative to pattern extraction; optional.
type NER interface {
	Extract(ctx context.Context, text string) (media.SensitiveMeta, error)
}

// FrameSampler renders a sampled sequence of frames from a video into
// destDir and returns the frame image paths in order.
type FrameSampler interface {
	SampleFrames(ctx context.Context, videoPath, destDir string, fps int) ([]string, error)
}

// DocumentTextExtractor pulls the embedded text layer out of a document.
// A short result signals a scanned document needing the OCR fallback.
type DocumentTextExtractor interface {
	TextLayer(ctx context.Context, path string) (string, error)
}

// PageRenderer rasterizes document pages for the OCR fallback.
type PageRenderer interface {
	RenderPages(ctx context.Context, path, destDir string) ([]string, error)
}

// Segmenter runs the downstream segmentation/classification model over an
// imported video record.
type Segmenter interface {
	RunPipeline(ctx context.Context, record *media.Record, modelName string) error
}

// CapacityProbe reports free bytes on the volume holding path.
type CapacityProbe interface {
	FreeBytes(path string) (int64, error)
}
