// Package extract turns noisy OCR text from device overlays and report
// pages into structured sensitive metadata, and merges many partial
// per-frame results into one record.
package extract

import (
	"regexp"
	"strings"

	"github.com/your-org/medflow/internal/media"
)

// Field recognizers are label based: the value follows a known label on
// the same line. Labels cover the German report and overlay variants seen
// on endoscopy hardware alongside their English equivalents.
var (
	patientRe  = regexp.MustCompile(`(?im)^\s*(?:patient|pat\.?|name)\s*[:;]\s*(.+)$`)
	dobRe      = regexp.MustCompile(`(?i)(?:dob|geb(?:\.|urtsdatum)?\.?(?:\s*-?\s*dat\.?)?)\s*[:;]?\s*(\d{1,2}\.\d{1,2}\.\d{4}|\d{4}-\d{2}-\d{2})`)
	genderRe   = regexp.MustCompile(`(?im)^\s*(?:gender|geschlecht|sex)\s*[:;]\s*([mwfd])\w*\s*$`)
	caseRe     = regexp.MustCompile(`(?im)^\s*(?:case(?:\s*(?:no|nr|number))?\.?|fall(?:\s*-?\s*nr)?\.?)\s*[:;]?\s*([A-Za-z0-9][A-Za-z0-9/_-]{2,})\s*$`)
	examDateRe = regexp.MustCompile(`(?i)(?:exam(?:ination)?\s*date|datum|unt\.?\s*-?\s*datum)\s*[:;]?\s*(\d{1,2}\.\d{1,2}\.\d{4}|\d{4}-\d{2}-\d{2})`)
	examTimeRe = regexp.MustCompile(`(?i)(?:time|uhrzeit)\s*[:;]?\s*(\d{1,2}:\d{2}(?::\d{2})?)`)
	examinerRe = regexp.MustCompile(`(?im)^\s*(?:examiner|untersucher|arzt|physician)\s*[:;]\s*(.+)$`)

	wordCleanRe = regexp.MustCompile(`[.\-]`)
	alphaRe     = regexp.MustCompile(`^[\p{L}]+$`)
)

// maxSeparatorRatio is the highest tolerated share of '.' and '-'
// characters in a free-text candidate. OCR noise on overlays tends toward
// strings like "- n - T - y - o F A gi P x" whose separator share is well
// above real names ("Dr. M. Schmidt" sits just below).
const maxSeparatorRatio = 0.15

// Extractor applies the field recognizers and the merge policy.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractFrame runs every recognizer over the OCR text of one frame or
// page. Fields without a match stay empty.
func (e *Extractor) ExtractFrame(text string) media.SensitiveMeta {
	var m media.SensitiveMeta

	if match := patientRe.FindStringSubmatch(text); match != nil {
		first, last := splitName(match[1])
		m.PatientFirstName = first
		m.PatientLastName = last
	}
	if match := dobRe.FindStringSubmatch(text); match != nil {
		m.PatientDOB = match[1]
	}
	if match := genderRe.FindStringSubmatch(text); match != nil {
		m.PatientGender = strings.ToLower(match[1])
	}
	if match := caseRe.FindStringSubmatch(text); match != nil {
		m.CaseNumber = match[1]
	}
	if match := examDateRe.FindStringSubmatch(text); match != nil {
		m.ExaminationDate = match[1]
	}
	if match := examTimeRe.FindStringSubmatch(text); match != nil {
		m.ExaminationTime = match[1]
	}
	if match := examinerRe.FindStringSubmatch(text); match != nil {
		m.ExaminerName = strings.TrimSpace(match[1])
	}

	return m
}

// Merge folds one frame's partial result into the accumulated record.
// Policy: first validated value wins. A populated field is never replaced
// or cleared, so a later frame cannot override an earlier accepted value
// even at higher OCR confidence. Free-text fields pass the validity gate
// before adoption; pattern-shaped fields were already validated by their
// recognizer.
func (e *Extractor) Merge(acc, frame media.SensitiveMeta) media.SensitiveMeta {
	adoptText(&acc.PatientFirstName, frame.PatientFirstName)
	adoptText(&acc.PatientLastName, frame.PatientLastName)
	adopt(&acc.PatientDOB, frame.PatientDOB)
	adopt(&acc.PatientGender, frame.PatientGender)
	adopt(&acc.CaseNumber, frame.CaseNumber)
	adopt(&acc.ExaminationDate, frame.ExaminationDate)
	adopt(&acc.ExaminationTime, frame.ExaminationTime)
	adoptText(&acc.ExaminerName, frame.ExaminerName)
	return acc
}

// IsSensitive reports whether a single frame's own extraction identifies a
// person: any of patient first/last name, DOB or case number. This gates
// masking for that specific frame, independent of the accumulated record.
func (e *Extractor) IsSensitive(frame media.SensitiveMeta) bool {
	return frame.PatientFirstName != "" ||
		frame.PatientLastName != "" ||
		frame.PatientDOB != "" ||
		frame.CaseNumber != ""
}

func adopt(dst *string, candidate string) {
	if *dst == "" && candidate != "" {
		*dst = candidate
	}
}

func adoptText(dst *string, candidate string) {
	if *dst == "" && IsValidFreeText(candidate) {
		*dst = candidate
	}
}

// IsValidFreeText gates free-text candidates (examiner and patient names)
// against OCR garbage. A candidate is rejected when the share of '.' and
// '-' characters exceeds maxSeparatorRatio, or when it has no token of
// length >= 2 made of letters once hyphens and periods are stripped.
func IsValidFreeText(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}

	separators := 0
	for _, r := range candidate {
		if r == '.' || r == '-' {
			separators++
		}
	}
	if float64(separators)/float64(len([]rune(candidate))) > maxSeparatorRatio {
		return false
	}

	for _, word := range strings.Fields(candidate) {
		cleaned := wordCleanRe.ReplaceAllString(word, "")
		if len([]rune(cleaned)) >= 2 && alphaRe.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// splitName separates a raw patient value into first and last name.
// "Last, First" is the report convention; otherwise the final token is
// taken as the last name.
func splitName(raw string) (first, last string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if i := strings.Index(raw, ","); i >= 0 {
		return strings.TrimSpace(raw[i+1:]), strings.TrimSpace(raw[:i])
	}

	fields := strings.Fields(raw)
	if len(fields) == 1 {
		return "", fields[0]
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}
