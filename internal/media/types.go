package media

import "time"

// Type identifies the kind of media moving through the pipeline.
type Type string

const (
	TypeVideo    Type = "video"
	TypeDocument Type = "document"
)

// Valid reports whether t is a known media type.
func (t Type) Valid() bool {
	return t == TypeVideo || t == TypeDocument
}

// ParseType maps a path segment to a media Type.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	return t, t.Valid()
}

// ProcessingState tracks a record's position in the pipeline.
type ProcessingState string

const (
	StateProcessing ProcessingState = "processing"
	StateAnonymized ProcessingState = "anonymized"
	StateComplete   ProcessingState = "complete"
)

// SensitiveMeta holds identifying fields extracted from document pages or
// video frames. All fields are optional; empty means unknown. Populated
// fields are never cleared by the merge (see extract.Merge).
type SensitiveMeta struct {
	PatientFirstName string `json:"patient_first_name,omitempty"`
	PatientLastName  string `json:"patient_last_name,omitempty"`
	PatientDOB       string `json:"patient_dob,omitempty"`
	PatientGender    string `json:"patient_gender,omitempty"`
	CaseNumber       string `json:"case_number,omitempty"`
	ExaminationDate  string `json:"examination_date,omitempty"`
	ExaminationTime  string `json:"examination_time,omitempty"`
	ExaminerName     string `json:"examiner_name,omitempty"`
}

// Empty reports whether no field has been populated.
func (m SensitiveMeta) Empty() bool {
	return m == SensitiveMeta{}
}

// Record is the persisted result of one import. ContentHash is the unique
// key: a second import of byte-identical content resolves to the existing
// record instead of creating a duplicate.
type Record struct {
	ID               string          `json:"id"`
	MediaType        Type            `json:"media_type"`
	CenterID         string          `json:"center_id"`
	ContentHash      string          `json:"content_hash"`
	OriginalFilename string          `json:"original_filename"`
	SensitiveMeta    SensitiveMeta   `json:"sensitive_meta"`
	SensitivePath    string          `json:"sensitive_path,omitempty"`
	AnonymizedPath   string          `json:"anonymized_path,omitempty"`
	State            ProcessingState `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
}

// JobState tracks one file's journey through the dispatcher.
type JobState string

const (
	JobDiscovered   JobState = "discovered"
	JobStabilizing  JobState = "stabilizing"
	JobDispatched   JobState = "dispatched"
	JobSucceeded    JobState = "succeeded"
	JobRetryPending JobState = "retry-pending"
	JobFatal        JobState = "fatal"
)

// Job is the in-memory bookkeeping for one processing attempt. It is owned
// exclusively by the worker handling the file and dropped on terminal
// success or fatal failure; quarantine on disk makes a crash recoverable.
type Job struct {
	SourcePath   string
	MediaType    Type
	ContentHash  string
	State        JobState
	LastError    error
	AttemptCount int
}
