package domain

import (
	"fmt"
	"time"
)

// SessionKey identifies the working set of one report.
type SessionKey struct {
	CustomerID    string `json:"customer_id"`
	OpportunityID string `json:"opportunity_id"`
	ReportType    string `json:"report_type"`
}

// String length-prefixes the ids so distinct keys never encode alike.
func (k SessionKey) String() string {
	return fmt.Sprintf("%d:%s|%d:%s|%s", len(k.CustomerID), k.CustomerID, len(k.OpportunityID), k.OpportunityID, k.ReportType)
}

type Transcript struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	FileName  string    `json:"file_name"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

type Evidence struct {
	TranscriptKey  string `json:"transcript_key"`
	TranscriptFile string `json:"transcript_file"`
	ChunkID        int    `json:"chunk_id"`
	Quote          string `json:"quote"`
	Anchor         string `json:"anchor"`
}

type Fact struct {
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	Confidence Confidence `json:"confidence"`
	Evidence   Evidence   `json:"evidence"`
}

const (
	SectionSourceDB        = "db"
	SectionSourceGenerated = "generated"
	SectionSourceRefined   = "refined"
)

// SectionRecord is the last known content of one section and the time it
// was written, used only for reconciliation.
type SectionRecord struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

type SessionState struct {
	Key         SessionKey
	Transcripts []Transcript
	Facts       []Fact
	Sections    map[string]SectionRecord
	// Stale lists titles where the database overrode a newer cached copy.
	Stale   []string
	BuiltAt time.Time
}

// OpportunityFile is one uploaded artifact indexed for an opportunity.
type OpportunityFile struct {
	ID            string
	OpportunityID string
	FileName      string
	FilePath      string
	MimeType      string
	Description   string
	CreatedAt     time.Time
}
