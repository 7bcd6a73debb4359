package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// Extraction is one stored permit-request record.
//
// ExtractedValues is the view as extracted; UpdatedExtractedValues is the view
// later edited by reviewers. Both are serialized from the same document at creation.
type Extraction struct {
	ID                     uuid.UUID                  `json:"id"`
	ClusterID              string                     `json:"clusterId"`
	UserID                 string                     `json:"userId"`
	Status                 string                     `json:"status"`
	ProcessingStatus       constants.ProcessingStatus `json:"processingStatus"`
	FileName               string                     `json:"fileName"`
	OriginalS3File         string                     `json:"originalS3File"`
	OriginalFile           string                     `json:"originalFile"`
	MessageID              string                     `json:"messageId,omitempty"`
	Sender                 string                     `json:"sender,omitempty"`
	Subject                string                     `json:"subject,omitempty"`
	SchemaVersion          schema.Version             `json:"schemaVersion"`
	ExtractedValues        json.RawMessage            `json:"extractedValues"`
	UpdatedExtractedValues json.RawMessage            `json:"updatedExtractedValues"`
	ReviewFlags            json.RawMessage            `json:"reviewFlags,omitempty"`
	RawText                string                     `json:"rawText,omitempty"`
	ErrorCode              string                     `json:"errorCode,omitempty"`
	ErrorMessage           string                     `json:"errorMessage,omitempty"`
	// Credits is reserved for billing and always stored as null.
	Credits   *string   `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileRef locates the archival PDF of a message.
type FileRef struct {
	FileName string
	Key      string
	URL      string
}

// Meta carries the tenant and message identity of a record.
type Meta struct {
	ClusterID string
	UserID    string
	MessageID string
	Sender    string
	Subject   string
	// ReviewFlags is the serialized normalization report, if any.
	ReviewFlags json.RawMessage
}

// NewExtraction builds a completed record for doc with a fresh ID.
func NewExtraction(doc *schema.Document, version schema.Version, ref FileRef, text string, meta Meta) (*Extraction, error) {
	if doc == nil {
		return nil, fmt.Errorf("new extraction: nil document")
	}
	values, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("new extraction: marshal document: %w", err)
	}
	e := newRecord(ref, meta)
	e.ProcessingStatus = constants.ProcessingCompleted
	e.SchemaVersion = version
	e.ExtractedValues = values
	e.UpdatedExtractedValues = append(json.RawMessage(nil), values...)
	e.RawText = text
	return e, nil
}

// NewFailedExtraction records a message that cannot be extracted, so it is not retried forever.
func NewFailedExtraction(version schema.Version, ref FileRef, text string, meta Meta, code, message string) *Extraction {
	e := newRecord(ref, meta)
	e.ProcessingStatus = constants.ProcessingFailed
	e.SchemaVersion = version
	e.ExtractedValues = json.RawMessage("{}")
	e.UpdatedExtractedValues = json.RawMessage("{}")
	e.RawText = text
	e.ErrorCode = code
	e.ErrorMessage = message
	return e
}

func newRecord(ref FileRef, meta Meta) *Extraction {
	return &Extraction{
		ID:             uuid.New(),
		ClusterID:      meta.ClusterID,
		UserID:         meta.UserID,
		Status:         constants.RecordStatusActive,
		FileName:       ref.FileName,
		OriginalS3File: ref.Key,
		OriginalFile:   ref.URL,
		MessageID:      meta.MessageID,
		Sender:         meta.Sender,
		Subject:        meta.Subject,
		ReviewFlags:    meta.ReviewFlags,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Document decodes the extracted view.
func (e *Extraction) Document() (*schema.Document, error) {
	d := schema.NewDocument()
	if err := json.Unmarshal(e.ExtractedValues, d); err != nil {
		return nil, fmt.Errorf("decode extracted values: %w", err)
	}
	return d, nil
}
