package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/medflow/internal/extract"
	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/persistence"
	"github.com/your-org/medflow/internal/quarantine"
)

const overlayText = "Patient: Mustermann, Erika\n" +
	"Geb.: 12.03.1956\n" +
	"Fall-Nr: A2023-00123\n" +
	"Untersucher: Dr. Schmidt\n" +
	"findings findings findings findings findings findings\n"

type stubProbe struct{ free int64 }

func (p stubProbe) FreeBytes(string) (int64, error) { return p.free, nil }

type stubTextLayer struct{ text string }

func (s stubTextLayer) TextLayer(context.Context, string) (string, error) { return s.text, nil }

type stubRenderer struct{ pages int }

func (s stubRenderer) RenderPages(_ context.Context, _, destDir string) ([]string, error) {
	var paths []string
	for i := 0; i < s.pages; i++ {
		p := filepath.Join(destDir, fmt.Sprintf("page-%d.png", i))
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

type stubSampler struct{ frames int }

func (s stubSampler) SampleFrames(_ context.Context, _, destDir string, _ int) ([]string, error) {
	var paths []string
	for i := 0; i < s.frames; i++ {
		p := filepath.Join(destDir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := os.WriteFile(p, []byte("jpg"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// stubEngine returns one canned text per OCR call, in order.
type stubEngine struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (e *stubEngine) ExtractText(_ context.Context, _ string, _ bool) (string, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls >= len(e.texts) {
		return "", 0, nil
	}
	text := e.texts[e.calls]
	e.calls++
	return text, 0.9, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []media.ImportCompleted
}

func (p *stubPublisher) Publish(_ context.Context, _ []byte, value []byte, _ map[string]string) error {
	var event media.ImportCompleted
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type stubArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *stubArchive) PutFile(_ context.Context, key, filePath string, _ map[string]string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type stubSegmenter struct {
	mu     sync.Mutex
	fail   bool
	called int
}

func (s *stubSegmenter) RunPipeline(context.Context, *media.Record, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called++
	if s.fail {
		return fmt.Errorf("model crashed")
	}
	return nil
}

type fixture struct {
	store     *persistence.MemoryStore
	qstore    *quarantine.Store
	publisher *stubPublisher
	archive   *stubArchive
	params    Params
}

func newFixture(t *testing.T, mediaType media.Type) *fixture {
	t.Helper()

	qstore, err := quarantine.NewStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:     persistence.NewMemoryStore(),
		qstore:    qstore,
		publisher: &stubPublisher{},
		archive:   &stubArchive{},
	}
	f.params = Params{
		MediaType:  mediaType,
		Store:      f.store,
		Quarantine: qstore,
		Extractor:  extract.NewExtractor(),
		Probe:      stubProbe{free: 1 << 40},
		Publisher:  f.publisher,
		Archive:    f.archive,
		Logger:     zap.NewNop(),
	}
	return f
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportDocumentTextLayer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	svc := NewService(f.params)

	source := writeSource(t, "exam.pdf", "raw pdf bytes for the report")
	record, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, "Erika", record.SensitiveMeta.PatientFirstName)
	assert.Equal(t, "Mustermann", record.SensitiveMeta.PatientLastName)
	assert.Equal(t, "12.03.1956", record.SensitiveMeta.PatientDOB)
	assert.Equal(t, "Dr. Schmidt", record.SensitiveMeta.ExaminerName)
	assert.Equal(t, media.StateComplete, record.State)
	assert.Equal(t, "exam.pdf", record.OriginalFilename)

	// Source moved out of the inbox, original promoted to sensitive/.
	assert.NoFileExists(t, source)
	assert.FileExists(t, record.SensitivePath)

	// Anonymized artifact has the sensitive values masked.
	artifact, err := os.ReadFile(record.AnonymizedPath)
	require.NoError(t, err)
	assert.NotContains(t, string(artifact), "Mustermann")
	assert.NotContains(t, string(artifact), "12.03.1956")
	assert.Contains(t, string(artifact), "findings")

	assert.Len(t, f.archive.keys, 2)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, record.ID, f.publisher.events[0].RecordID)
}

func TestImportDocumentOCRFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: "too short"}
	f.params.Renderer = stubRenderer{pages: 2}
	f.params.Engine = &stubEngine{texts: []string{overlayText, "page two, no identifiers"}}
	svc := NewService(f.params)

	source := writeSource(t, "scan.pdf", "scanned pdf bytes")
	record, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	require.NoError(t, err)

	assert.Equal(t, "Mustermann", record.SensitiveMeta.PatientLastName)
	assert.Equal(t, "A2023-00123", record.SensitiveMeta.CaseNumber)
}

func TestImportDedupByContentHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	svc := NewService(f.params)

	first := writeSource(t, "exam.pdf", "identical bytes")
	record1, err := svc.ImportAndAnonymize(context.Background(), first, "center-1", false)
	require.NoError(t, err)

	// Same content under a different filename.
	second := writeSource(t, "renamed-copy.pdf", "identical bytes")
	record2, err := svc.ImportAndAnonymize(context.Background(), second, "center-1", false)
	require.NoError(t, err)

	assert.Equal(t, record1.ID, record2.ID)
	require.Len(t, f.publisher.events, 1, "second import must not publish again")

	// The duplicate source is untouched; only the first was quarantined.
	assert.FileExists(t, second)
}

func TestImportInsufficientStorage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	f.params.Probe = stubProbe{free: 1024}
	svc := NewService(f.params)

	source := writeSource(t, "exam.pdf", "pdf bytes")
	_, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	require.ErrorIs(t, err, media.ErrInsufficientStorage)
	assert.True(t, media.Retryable(err))

	// Nothing was moved or persisted; a later event can retry cleanly.
	assert.FileExists(t, source)
	_, err = f.store.GetByHash(context.Background(), mustHash(t, source))
	assert.ErrorIs(t, err, media.ErrResourceNotFound)
}

func TestImportVanishedSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	svc := NewService(f.params)

	_, err := svc.ImportAndAnonymize(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), "center-1", false)
	require.ErrorIs(t, err, media.ErrSourceVanished)
	assert.False(t, media.Retryable(err))
}

func TestImportAlreadyProcessingGuard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	svc := NewService(f.params)

	source := writeSource(t, "exam.pdf", "pdf bytes")
	abs, err := filepath.Abs(source)
	require.NoError(t, err)

	require.True(t, svc.claim(abs))
	_, err = svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	assert.ErrorIs(t, err, media.ErrAlreadyProcessing)

	svc.release(abs)
	_, err = svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	assert.NoError(t, err)
}

func TestImportVideoMaskingPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeVideo)
	segmenter := &stubSegmenter{}
	f.params.Sampler = stubSampler{frames: 3}
	f.params.Engine = &stubEngine{texts: []string{
		overlayText,
		"Untersucher: - n - T - y - o F A gi P x\n",
		"plain colon imagery, no overlay",
	}}
	f.params.Segmenter = segmenter
	f.params.SegmentationModel = "colo_seg_default"
	svc := NewService(f.params)

	source := writeSource(t, "exam.mp4", "video bytes")
	record, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	require.NoError(t, err)

	// Noisy examiner from frame 1 never made it past validation.
	assert.Equal(t, "Dr. Schmidt", record.SensitiveMeta.ExaminerName)
	assert.Equal(t, 1, segmenter.called)

	payload, err := os.ReadFile(record.AnonymizedPath)
	require.NoError(t, err)
	var plan []framePlan
	require.NoError(t, json.Unmarshal(payload, &plan))
	require.Len(t, plan, 3)
	assert.True(t, plan[0].Sensitive, "overlay frame carries patient identifiers")
	assert.False(t, plan[1].Sensitive)
	assert.False(t, plan[2].Sensitive)
	assert.NotContains(t, plan[0].RedactedText, "Mustermann")

	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.events[0].Segmented)
}

func TestImportVideoSegmentationFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeVideo)
	f.params.Sampler = stubSampler{frames: 1}
	f.params.Engine = &stubEngine{texts: []string{overlayText}}
	f.params.Segmenter = &stubSegmenter{fail: true}
	svc := NewService(f.params)

	source := writeSource(t, "exam.mp4", "video bytes")
	record, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
	require.NoError(t, err)

	assert.Equal(t, media.StateComplete, record.State)
	require.Len(t, f.publisher.events, 1)
	assert.False(t, f.publisher.events[0].Segmented)
}

func TestImportDeleteSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, media.TypeDocument)
	f.params.TextLayer = stubTextLayer{text: overlayText}
	svc := NewService(f.params)

	source := writeSource(t, "exam.pdf", "pdf bytes")
	record, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", true)
	require.NoError(t, err)

	// The archived copy is authoritative; the local sensitive file is gone.
	assert.NoFileExists(t, record.SensitivePath)
	assert.Len(t, f.archive.keys, 2)
}

// Two watchers racing on one source path: the quarantine move serializes
// them, exactly one import completes, the loser exits without side effects.
func TestRacingWatchersProduceOneRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	qstore, err := quarantine.NewStore(root)
	require.NoError(t, err)
	store := persistence.NewMemoryStore()

	newSvc := func() *Service {
		return NewService(Params{
			MediaType:  media.TypeDocument,
			Store:      store,
			Quarantine: qstore,
			Extractor:  extract.NewExtractor(),
			TextLayer:  stubTextLayer{text: overlayText},
			Probe:      stubProbe{free: 1 << 40},
			Logger:     zap.NewNop(),
		})
	}

	source := writeSource(t, "contested.pdf", "contested bytes")

	var wg sync.WaitGroup
	type outcome struct {
		record *media.Record
		err    error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		svc := newSvc()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.ImportAndAnonymize(context.Background(), source, "center-1", false)
			results <- outcome{r, err}
		}()
	}
	wg.Wait()
	close(results)

	var recordIDs []string
	for out := range results {
		if out.err != nil {
			assert.ErrorIs(t, out.err, media.ErrSourceVanished)
			continue
		}
		recordIDs = append(recordIDs, out.record.ID)
	}
	require.NotEmpty(t, recordIDs, "at least the winner must succeed")

	hash := mustHashBytes("contested bytes")
	stored, err := store.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	for _, id := range recordIDs {
		assert.Equal(t, stored.ID, id)
	}
}

func mustHash(t *testing.T, path string) string {
	t.Helper()
	h, err := media.HashFile(path)
	require.NoError(t, err)
	return h
}

func mustHashBytes(content string) string {
	h, _ := media.HashReader(strings.NewReader(content))
	return h
}
