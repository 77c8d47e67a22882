package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/your-org/medflow/internal/media"
)

const redactionMask = "████████"

// framePlan is one entry of the video anonymization artifact: the
// downstream masker consumes it to decide which frames need cropping.
type framePlan struct {
	Index        int    `json:"index"`
	Sensitive    bool   `json:"sensitive"`
	RedactedText string `json:"redacted_text"`
}

// anonymize produces the anonymized artifact and returns its path.
// Documents become a redacted text rendition; videos become a per-frame
// masking plan keyed by the sampled frame index. Pixel-level masking is
// the downstream model's job; the plan is the contract it consumes.
func (s *Service) anonymize(record *media.Record, texts []string) (string, error) {
	switch record.MediaType {
	case media.TypeDocument:
		return s.anonymizeDocument(record, texts)
	case media.TypeVideo:
		return s.anonymizeVideo(record, texts)
	default:
		return "", fmt.Errorf("%w: unknown media type %q", media.ErrImportFailed, record.MediaType)
	}
}

func (s *Service) anonymizeDocument(record *media.Record, pages []string) (string, error) {
	redacted := make([]string, len(pages))
	for i, page := range pages {
		redacted[i] = redactText(page, record.SensitiveMeta)
	}

	path := s.p.Quarantine.AnonymizedPath(record.MediaType, record.ContentHash, ".txt")
	if err := os.WriteFile(path, []byte(strings.Join(redacted, "\f")), 0o644); err != nil {
		return "", fmt.Errorf("%w: write anonymized document: %w", media.ErrImportFailed, media.ClassifyStorageErr(err))
	}
	return path, nil
}

func (s *Service) anonymizeVideo(record *media.Record, frames []string) (string, error) {
	plan := make([]framePlan, len(frames))
	for i, text := range frames {
		frame := s.p.Extractor.ExtractFrame(text)
		plan[i] = framePlan{
			Index:        i,
			Sensitive:    s.p.Extractor.IsSensitive(frame),
			RedactedText: redactText(text, record.SensitiveMeta),
		}
	}

	payload, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal masking plan: %w", media.ErrImportFailed, err)
	}

	path := s.p.Quarantine.AnonymizedPath(record.MediaType, record.ContentHash, ".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("%w: write masking plan: %w", media.ErrImportFailed, media.ClassifyStorageErr(err))
	}
	return path, nil
}

// redactText replaces every populated sensitive value with a fixed mask so
// the artifact cannot leak length information either.
func redactText(text string, meta media.SensitiveMeta) string {
	for _, value := range []string{
		meta.PatientFirstName,
		meta.PatientLastName,
		meta.PatientDOB,
		meta.CaseNumber,
		meta.ExaminerName,
	} {
		if value != "" {
			text = strings.ReplaceAll(text, value, redactionMask)
		}
	}
	return text
}

func marshalEvent(event media.ImportCompleted) ([]byte, error) {
	return json.Marshal(event)
}
