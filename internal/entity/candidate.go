package entity

import (
	"fmt"
	"time"
)

// Category is a procurement modality code used by the source listing API.
type Category struct {
	Code int
	Name string
}

// DefaultCategories is the fixed set of modalities enumerated on every discovery.
var DefaultCategories = []Category{
	{Code: 1, Name: "Concorrência"},
	{Code: 4, Name: "Concurso"},
	{Code: 5, Name: "Leilão"},
	{Code: 6, Name: "Pregão Presencial"},
	{Code: 7, Name: "Pregão Eletrônico"},
	{Code: 8, Name: "Dispensa"},
	{Code: 9, Name: "Inexigibilidade"},
}

// NoticeID identifies a notice on the source portal.
type NoticeID struct {
	OrgTaxID string
	Year     int
	Sequence int
}

// ExternalKey renders the id as "taxid-year-sequence", the uniqueness key used across the store.
func (n NoticeID) ExternalKey() string {
	return fmt.Sprintf("%s-%d-%d", n.OrgTaxID, n.Year, n.Sequence)
}

// CandidateRecord is a minimally identified notice found by discovery and pending detail extraction.
// It mirrors the `candidates` table; processing columns live in ProcessingStatus.
type CandidateRecord struct {
	ID            int64
	ExternalKey   string
	SourceURL     string
	Category      int
	CategoryName  string
	OrgTaxID      string
	OrgName       string
	Year          int
	Sequence      int
	PublishedAt   time.Time
	ReferenceDate time.Time
}

// NoticeID returns the source identifiers of the candidate.
func (c CandidateRecord) NoticeID() NoticeID {
	return NoticeID{OrgTaxID: c.OrgTaxID, Year: c.Year, Sequence: c.Sequence}
}

// DateWindow is an inclusive range of source-local calendar days.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// sourceDateLayout is the YYYYMMDD format the listing API expects.
const sourceDateLayout = "20060102"

func (w DateWindow) StartParam() string { return w.Start.Format(sourceDateLayout) }
func (w DateWindow) EndParam() string   { return w.End.Format(sourceDateLayout) }

func (w DateWindow) String() string {
	return w.StartParam() + "-" + w.EndParam()
}

// ListingQuery is one page request against the listing endpoint.
type ListingQuery struct {
	Window   DateWindow
	Category int
	Page     int
	PageSize int
}

// ListingItem is one row of a listing page, already flattened from the wire format.
type ListingItem struct {
	NoticeID
	ControlNumber  string
	OrgName        string
	CategoryName   string
	Object         string
	EstimatedValue *float64
	City           string
	State          string
	PublishedAt    time.Time
}

// ListingPage is one page of listing results.
type ListingPage struct {
	Items      []ListingItem
	TotalCount int
	TotalPages int
}
