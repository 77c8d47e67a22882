// Package importer brings one file from "raw on disk" to "persisted,
// anonymized, metadata-populated", or reports a classified failure. One
// call is one attempt; the dispatcher decides whether to retry.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/medflow/internal/extract"
	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/ocr"
	"github.com/your-org/medflow/internal/persistence"
	"github.com/your-org/medflow/internal/quarantine"
)

// EventPublisher is the downstream handoff sink. The Kafka producer
// satisfies it in production.
type EventPublisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// ArtifactArchive stores the sensitive original and the anonymized
// artifact off the local volume. The object store client satisfies it.
type ArtifactArchive interface {
	PutFile(ctx context.Context, key, filePath string, metadata map[string]string) error
}

// Params collects the collaborators of a Service.
type Params struct {
	MediaType  media.Type
	Store      persistence.Store
	Quarantine *quarantine.Store
	Extractor  *extract.Extractor
	Engine     ocr.Engine
	NER        ocr.NER // optional, document path only
	Sampler    ocr.FrameSampler
	TextLayer  ocr.DocumentTextExtractor
	Renderer   ocr.PageRenderer
	Segmenter  ocr.Segmenter
	Probe      ocr.CapacityProbe
	Publisher  EventPublisher
	Archive    ArtifactArchive
	Logger     *zap.Logger

	MinFreeBytes      int64
	TextLayerMinChars int
	FrameSampleFPS    int
	SegmentationModel string
}

// Service imports and anonymizes files of one media type. Construct one
// per type; workers share the instance.
type Service struct {
	p      Params
	tracer trace.Tracer

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService constructs an import Service.
func NewService(p Params) *Service {
	if p.MinFreeBytes <= 0 {
		p.MinFreeBytes = 100 * 1024 * 1024
	}
	if p.TextLayerMinChars <= 0 {
		p.TextLayerMinChars = 50
	}
	if p.FrameSampleFPS <= 0 {
		p.FrameSampleFPS = 1
	}
	return &Service{
		p:        p,
		tracer:   otel.Tracer("medflow/importer"),
		inFlight: make(map[string]struct{}),
	}
}

// ImportAndAnonymize runs the full import flow for the file at path.
// Duplicate content resolves to the existing record. A vanished source
// (lost quarantine race) returns media.ErrSourceVanished and has no side
// effects. All other failures are classified per media.Kind.
func (s *Service) ImportAndAnonymize(ctx context.Context, path, centerID string, deleteSource bool) (*media.Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", media.ErrImportFailed, err)
	}

	if !s.claim(abs) {
		return nil, media.ErrAlreadyProcessing
	}
	defer s.release(abs)

	ctx, span := s.tracer.Start(ctx, "import_and_anonymize",
		trace.WithAttributes(
			attribute.String("media.type", string(s.p.MediaType)),
			attribute.String("media.source", filepath.Base(abs)),
		))
	defer span.End()

	record, err := s.run(ctx, abs, centerID, deleteSource)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return record, nil
}

func (s *Service) run(ctx context.Context, path, centerID string, deleteSource bool) (*media.Record, error) {
	log := s.p.Logger.With(
		zap.String("media_type", string(s.p.MediaType)),
		zap.String("path", path),
	)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, media.ErrSourceVanished
		}
		return nil, fmt.Errorf("%w: stat source: %w", media.ErrImportFailed, err)
	}

	if err := s.checkCapacity(info.Size()); err != nil {
		return nil, err
	}

	hash, err := media.HashFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, media.ErrSourceVanished
		}
		return nil, fmt.Errorf("%w: %w", media.ErrImportFailed, err)
	}
	log = log.With(zap.String("content_hash", hash))

	// Dedup before quarantine: repeated watcher triggers and reimport
	// scripts must be no-ops.
	if existing, err := s.p.Store.GetByHash(ctx, hash); err == nil {
		log.Info("content already imported, returning existing record",
			zap.String("record_id", existing.ID))
		return existing, nil
	} else if !errors.Is(err, media.ErrResourceNotFound) {
		return nil, fmt.Errorf("%w: dedup lookup: %w", media.ErrImportFailed, err)
	}

	quarantined, err := s.p.Quarantine.Quarantine(path, s.p.MediaType)
	if err != nil {
		return nil, err
	}

	record := &media.Record{
		ID:               uuid.NewString(),
		MediaType:        s.p.MediaType,
		CenterID:         centerID,
		ContentHash:      hash,
		OriginalFilename: filepath.Base(path),
		State:            media.StateProcessing,
		CreatedAt:        time.Now().UTC(),
	}

	stored, created, err := s.p.Store.CreateOrGetByHash(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: create record: %w", media.ErrImportFailed, err)
	}
	if !created {
		// Lost the dedup race to another process after our lookup. The
		// quarantined copy is byte-identical to imported content.
		log.Info("lost dedup race, dropping quarantined duplicate",
			zap.String("record_id", stored.ID))
		_ = os.Remove(quarantined)
		return stored, nil
	}

	texts, err := s.extractTexts(ctx, quarantined)
	if err != nil {
		return nil, err
	}

	frameSensitive := 0
	for _, text := range texts {
		frame := s.p.Extractor.ExtractFrame(text)
		if s.p.NER != nil && s.p.MediaType == media.TypeDocument && frame.Empty() {
			if nerMeta, nerErr := s.p.NER.Extract(ctx, text); nerErr == nil {
				frame = nerMeta
			}
		}
		if s.p.Extractor.IsSensitive(frame) {
			frameSensitive++
		}
		record.SensitiveMeta = s.p.Extractor.Merge(record.SensitiveMeta, frame)
	}
	log.Info("metadata extraction finished",
		zap.Int("frames", len(texts)),
		zap.Int("sensitive_frames", frameSensitive),
		zap.Bool("meta_populated", !record.SensitiveMeta.Empty()))

	artifact, err := s.anonymize(record, texts)
	if err != nil {
		return nil, err
	}
	record.AnonymizedPath = artifact

	sensitivePath, err := s.p.Quarantine.Promote(quarantined, s.p.MediaType, hash)
	if err != nil {
		return nil, err
	}
	record.SensitivePath = sensitivePath
	record.State = media.StateAnonymized

	if err := s.archive(ctx, record); err != nil {
		return nil, err
	}

	segmented := false
	if s.p.MediaType == media.TypeVideo && s.p.Segmenter != nil {
		if err := s.p.Segmenter.RunPipeline(ctx, record, s.p.SegmentationModel); err != nil {
			// Segmentation failure never invalidates the anonymized
			// artifact; the record stays importable.
			log.Error("segmentation pipeline failed", zap.Error(err))
		} else {
			segmented = true
		}
	}

	record.State = media.StateComplete
	if err := s.p.Store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: save record: %w", media.ErrImportFailed, err)
	}

	s.publishCompleted(ctx, record, segmented, log)

	if deleteSource {
		if err := os.Remove(record.SensitivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("delete source after archive failed", zap.Error(err))
		}
	}

	log.Info("import completed", zap.String("record_id", record.ID))
	return record, nil
}

func (s *Service) checkCapacity(fileSize int64) error {
	if s.p.Probe == nil {
		return nil
	}
	free, err := s.p.Probe.FreeBytes(s.p.Quarantine.Root())
	if err != nil {
		return fmt.Errorf("%w: capacity probe: %w", media.ErrImportFailed, err)
	}
	if free-fileSize < s.p.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free, need %d plus %d margin",
			media.ErrInsufficientStorage, free, fileSize, s.p.MinFreeBytes)
	}
	return nil
}

// extractTexts returns one text per document page or sampled video frame.
func (s *Service) extractTexts(ctx context.Context, path string) ([]string, error) {
	switch s.p.MediaType {
	case media.TypeDocument:
		return s.extractDocumentTexts(ctx, path)
	case media.TypeVideo:
		return s.extractVideoTexts(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unknown media type %q", media.ErrImportFailed, s.p.MediaType)
	}
}

func (s *Service) extractDocumentTexts(ctx context.Context, path string) ([]string, error) {
	if s.p.TextLayer != nil {
		text, err := s.p.TextLayer.TextLayer(ctx, path)
		if err == nil && len(strings.TrimSpace(text)) >= s.p.TextLayerMinChars {
			return splitPages(text), nil
		}
		if err != nil {
			s.p.Logger.Debug("text layer extraction failed, falling back to OCR", zap.Error(err))
		}
	}

	// Scanned document: rasterize pages and OCR each one.
	dir, err := os.MkdirTemp("", "medflow-pages-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrImportFailed, media.ClassifyStorageErr(err))
	}
	defer os.RemoveAll(dir)

	pages, err := s.p.Renderer.RenderPages(ctx, path, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: render pages: %w", media.ErrImportFailed, err)
	}
	return s.ocrImages(ctx, pages, true)
}

func (s *Service) extractVideoTexts(ctx context.Context, path string) ([]string, error) {
	dir, err := os.MkdirTemp("", "medflow-frames-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrImportFailed, media.ClassifyStorageErr(err))
	}
	defer os.RemoveAll(dir)

	frames, err := s.p.Sampler.SampleFrames(ctx, path, dir, s.p.FrameSampleFPS)
	if err != nil {
		return nil, fmt.Errorf("%w: sample frames: %w", media.ErrImportFailed, err)
	}
	return s.ocrImages(ctx, frames, false)
}

func (s *Service) ocrImages(ctx context.Context, images []string, highQuality bool) ([]string, error) {
	texts := make([]string, 0, len(images))
	for _, img := range images {
		text, _, err := s.p.Engine.ExtractText(ctx, img, highQuality)
		if err != nil {
			return nil, fmt.Errorf("%w: ocr %s: %w", media.ErrImportFailed, filepath.Base(img), err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (s *Service) archive(ctx context.Context, record *media.Record) error {
	if s.p.Archive == nil {
		return nil
	}
	meta := map[string]string{
		"record_id":  record.ID,
		"media_type": string(record.MediaType),
	}
	for key, local := range map[string]string{
		objectKey(record.MediaType, "sensitive", record.SensitivePath):   record.SensitivePath,
		objectKey(record.MediaType, "anonymized", record.AnonymizedPath): record.AnonymizedPath,
	} {
		if err := s.p.Archive.PutFile(ctx, key, local, meta); err != nil {
			return fmt.Errorf("%w: archive %s: %w", media.ErrImportFailed, key, err)
		}
	}
	return nil
}

func objectKey(t media.Type, class, localPath string) string {
	return fmt.Sprintf("%s/%s/%s", t, class, filepath.Base(localPath))
}

func (s *Service) publishCompleted(ctx context.Context, record *media.Record, segmented bool, log *zap.Logger) {
	if s.p.Publisher == nil {
		return
	}
	event := media.ImportCompleted{
		RecordID:         record.ID,
		MediaType:        record.MediaType,
		CenterID:         record.CenterID,
		ContentHash:      record.ContentHash,
		OriginalFilename: record.OriginalFilename,
		AnonymizedPath:   record.AnonymizedPath,
		Segmented:        segmented,
		CompletedAt:      time.Now().UTC(),
	}
	payload, err := marshalEvent(event)
	if err != nil {
		log.Error("marshal completion event", zap.Error(err))
		return
	}
	headers := map[string]string{
		"media_type": string(record.MediaType),
		"event_type": "import.completed",
	}
	if err := s.p.Publisher.Publish(ctx, []byte(record.ID), payload, headers); err != nil {
		// Handoff is at-least-once via reconciliation elsewhere; a publish
		// failure does not undo a finished import.
		log.Error("publish completion event", zap.Error(err))
	}
}

func (s *Service) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[path]; busy {
		return false
	}
	s.inFlight[path] = struct{}{}
	return true
}

func (s *Service) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, path)
}

// splitPages cuts an embedded text layer on form feeds, the page
// separator pdftotext emits.
func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	out := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
