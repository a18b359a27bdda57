package entity

import "time"

// Item is one line item of a notice.
type Item struct {
	SequenceNumber int      `json:"sequence_number"`
	Description    string   `json:"description"`
	Quantity       *float64 `json:"quantity,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	UnitValue      *float64 `json:"unit_value,omitempty"`
	TotalValue     *float64 `json:"total_value,omitempty"`
}

// Attachment is a downloadable document published with a notice.
type Attachment struct {
	SequenceNumber int    `json:"sequence_number"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	FileExtension  string `json:"file_extension,omitempty"`
}

// HistoryEvent is one entry of a notice's status history.
type HistoryEvent struct {
	SequenceNumber int        `json:"sequence_number"`
	EventText      string     `json:"event_text"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
}

// Extraction methods recorded on CompleteRecord.
const (
	ExtractionRendered       = "rendered-page"
	ExtractionRenderedAndAPI = "rendered-page+api"
)

// CompleteRecord mirrors the `complete_records` table. Sub-collections are stored as JSONB.
type CompleteRecord struct {
	CandidateRecord

	Title              string
	IssuingBody        string
	BuyingUnit         string
	Location           string
	Modality           string
	LegalBasis         string
	NoticeType         string
	Status             string
	DisclosedOn        string
	ProposalStart      string
	ProposalEnd        string
	EstimatedValue     *float64
	EstimatedValueText string
	AwardedValue       *float64
	BudgetSource       string
	ObjectDescription  string

	Items         []Item
	Attachments   []Attachment
	HistoryEvents []HistoryEvent

	ExtractionMethod          string
	ExtractionDurationSeconds float64
	ExtractedAt               time.Time
}
