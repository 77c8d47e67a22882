package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/your-org/medflow/internal/media"
)

// TesseractEngine shells out to the tesseract CLI, the same engine the
// anonymizer service runs.
type TesseractEngine struct {
	Binary   string
	Language string
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{Binary: "tesseract", Language: "deu+eng"}
}

func (t *TesseractEngine) ExtractText(ctx context.Context, imagePath string, highQuality bool) (string, float64, error) {
	args := []string{imagePath, "stdout", "-l", t.Language}
	if highQuality {
		args = append(args, "--oem", "1", "--psm", "3")
	} else {
		args = append(args, "--psm", "6")
	}

	out, err := exec.CommandContext(ctx, t.Binary, args...).Output()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract %s: %w", imagePath, err)
	}
	// The CLI does not report confidence per run; treat any output as
	// usable and let the validation gate filter garbage downstream.
	return string(out), 1.0, nil
}

// PdfToTextExtractor reads a document's embedded text layer via pdftotext.
type PdfToTextExtractor struct {
	Binary string
}

func NewPdfToTextExtractor() *PdfToTextExtractor {
	return &PdfToTextExtractor{Binary: "pdftotext"}
}

func (p *PdfToTextExtractor) TextLayer(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, p.Binary, "-layout", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext %s: %w", path, err)
	}
	return string(out), nil
}

// PdfPageRenderer rasterizes pages with pdftoppm for the OCR fallback.
type PdfPageRenderer struct {
	Binary string
	DPI    int
}

func NewPdfPageRenderer() *PdfPageRenderer {
	return &PdfPageRenderer{Binary: "pdftoppm", DPI: 300}
}

func (p *PdfPageRenderer) RenderPages(ctx context.Context, path, destDir string) ([]string, error) {
	prefix := filepath.Join(destDir, "page")
	cmd := exec.CommandContext(ctx, p.Binary, "-png", "-r", fmt.Sprint(p.DPI), path, prefix)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm %s: %w", path, err)
	}
	return collectImages(destDir, "page")
}

// FFmpegSampler extracts frames from a video at a fixed sample rate, the
// way the segmentation pre-processing does.
type FFmpegSampler struct {
	Binary string
}

func NewFFmpegSampler() *FFmpegSampler {
	return &FFmpegSampler{Binary: "ffmpeg"}
}

func (f *FFmpegSampler) SampleFrames(ctx context.Context, videoPath, destDir string, fps int) ([]string, error) {
	if fps <= 0 {
		fps = 1
	}
	pattern := filepath.Join(destDir, "frame_%06d.jpg")
	cmd := exec.CommandContext(ctx, f.Binary,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%d", fps),
		pattern,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg sample %s: %w", videoPath, err)
	}
	return collectImages(destDir, "frame_")
}

func collectImages(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// StatfsProbe reports free space via statfs on the volume holding path.
type StatfsProbe struct{}

func (StatfsProbe) FreeBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * st.Bsize, nil
}

// NopSegmenter is wired when no segmentation backend is configured.
type NopSegmenter struct{}

func (NopSegmenter) RunPipeline(ctx context.Context, record *media.Record, modelName string) error {
	return nil
}
