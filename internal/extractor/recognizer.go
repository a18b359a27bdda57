package extractor

import (
	"errors"
	"time"

	"github.com/user/pncp-ingest/internal/entity"
)

// FieldRecognizer fills one group of fields on rec from the page. It reports whether it found
// anything; recognizers never fail, missing data just stays empty.
type FieldRecognizer interface {
	Name() string
	Recognize(p *Page, rec *entity.CompleteRecord) bool
}

type firstOf struct {
	name        string
	recognizers []FieldRecognizer
}

// FirstOf runs recognizers in order and stops at the first that finds something.
func FirstOf(name string, recognizers ...FieldRecognizer) FieldRecognizer {
	return &firstOf{name: name, recognizers: recognizers}
}

func (f *firstOf) Name() string { return f.name }

func (f *firstOf) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	for _, r := range f.recognizers {
		if r.Recognize(p, rec) {
			return true
		}
	}
	return false
}

// ErrNoIdentity is returned when the page URL does not carry the notice's tax id, year and sequence.
var ErrNoIdentity = errors.New("notice identity not found in url")

// Pipeline is an ordered list of recognizers.
type Pipeline struct {
	recognizers []FieldRecognizer
	loc         *time.Location
}

// NewPipeline builds a pipeline from recognizers, run in the given order.
func NewPipeline(recognizers ...FieldRecognizer) *Pipeline {
	return &Pipeline{recognizers: recognizers}
}

// WithLocation sets the timezone used for dates printed on the page.
func (pl *Pipeline) WithLocation(loc *time.Location) *Pipeline {
	pl.loc = loc
	return pl
}

// DefaultPipeline is the recognizer chain for PNCP detail pages.
func DefaultPipeline() *Pipeline {
	return NewPipeline(
		TitleRecognizer{},
		LabelRecognizer{},
		DescriptionRecognizer{},
		EstimateRecognizer{},
		AwardedRecognizer{},
		BudgetSourceRecognizer{},
		FirstOf("items", ItemsTableRecognizer{}, ItemsTextRecognizer{}),
		FirstOf("attachments", AttachmentsTableRecognizer{}, AttachmentsLinkRecognizer{}),
		FirstOf("history", HistoryTableRecognizer{}, HistoryTextRecognizer{}),
	)
}

// Result reports which recognizers found something.
type Result struct {
	Found map[string]bool
}

// Missing lists the recognizers that found nothing, in pipeline order.
func (r Result) Missing(order []string) []string {
	var out []string
	for _, name := range order {
		if !r.Found[name] {
			out = append(out, name)
		}
	}
	return out
}

// Names lists the recognizer names in order.
func (pl *Pipeline) Names() []string {
	names := make([]string, len(pl.recognizers))
	for i, r := range pl.recognizers {
		names[i] = r.Name()
	}
	return names
}

// Extract recovers identity from the page URL, then runs every recognizer over the page. Only a
// missing identity is an error.
func (pl *Pipeline) Extract(rendered *entity.RenderedPage, rec *entity.CompleteRecord) (Result, error) {
	id, err := ParseIdentity(rendered.URL)
	if err != nil {
		return Result{}, err
	}
	page, err := NewPage(rendered)
	if err != nil {
		return Result{}, err
	}
	page.Loc = pl.loc

	rec.OrgTaxID = id.OrgTaxID
	rec.Year = id.Year
	rec.Sequence = id.Sequence
	rec.ExternalKey = id.ExternalKey()
	if rec.SourceURL == "" {
		rec.SourceURL = rendered.URL
	}

	res := Result{Found: make(map[string]bool, len(pl.recognizers))}
	for _, r := range pl.recognizers {
		res.Found[r.Name()] = r.Recognize(page, rec)
	}
	return res, nil
}
