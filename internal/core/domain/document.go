package domain

import "time"

// Well-known file status values. Scored files carry the probability itself.
const (
	FileStatusUploaded     = "uploaded"
	FileStatusNoPrediction = "processed (no prediction)"
	fileStatusErrorPrefix  = "error: "
)

// ErrorStatus renders the status string persisted for a failed source file.
func ErrorStatus(reason string) string {
	return fileStatusErrorPrefix + reason
}

// StoredFile is the metadata row of a blob held by the document store.
type StoredFile struct {
	ID           string    `json:"id"`
	RepoID       string    `json:"repo_id"`
	Filename     string    `json:"filename"`
	StorageKey   string    `json:"storage_key"`
	Size         int64     `json:"size"`
	Status       string    `json:"status"`
	IsSource     bool      `json:"is_source"`
	SourceFileID string    `json:"source_file_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SourceFile is one uploaded file handed to an extraction oracle.
type SourceFile struct {
	Name string
	Ext  string
	MIME string
	Data []byte
}

type OutcomeResult string

const (
	OutcomeSuccess OutcomeResult = "success"
	OutcomeSkipped OutcomeResult = "skipped"
	OutcomeError   OutcomeResult = "error"
)

// Outcome reasons recorded by the text extraction stage.
const (
	ReasonUnknownType     = "unknown_type"
	ReasonUnsupportedType = "unsupported_type"
	ReasonEmptyContent    = "empty_content"
)

type FileOutcome struct {
	File   string        `json:"file"`
	Result OutcomeResult `json:"result"`
	Reason string        `json:"reason,omitempty"`
	Output string        `json:"output,omitempty"`
}

type StructuralLabel string

const (
	LabelStructured     StructuralLabel = "structured"
	LabelSemiStructured StructuralLabel = "semi-structured"
	LabelUnstructured   StructuralLabel = "unstructured"
)

func AllLabels() []StructuralLabel {
	return []StructuralLabel{LabelStructured, LabelSemiStructured, LabelUnstructured}
}

// BucketName is the on-disk directory name of a label bucket.
func (l StructuralLabel) BucketName() string {
	switch l {
	case LabelStructured:
		return "Structured_Data"
	case LabelSemiStructured:
		return "Semi-Structured_Data"
	default:
		return "Unstructured_Data"
	}
}
