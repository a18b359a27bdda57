package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/pncp-ingest/internal/entity"
)

// TitleRecognizer reads the notice title from the first heading-like element.
type TitleRecognizer struct{}

func (TitleRecognizer) Name() string { return "title" }

func (TitleRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	var title string
	p.Doc.Find(`h1, h2, [class*="titulo"], [class*="edital"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = cleanText(s.Text())
		return title == ""
	})
	if title == "" {
		return false
	}
	rec.Title = title
	return true
}

// labelField binds a label substring (already normalized) to the record field it fills.
type labelField struct {
	label string
	set   func(rec *entity.CompleteRecord, value string)
	get   func(rec *entity.CompleteRecord) string
}

// labelFields is checked in order; the first label contained in a key wins.
var labelFields = []labelField{
	{"local", func(r *entity.CompleteRecord, v string) { r.Location = v }, func(r *entity.CompleteRecord) string { return r.Location }},
	{"orgao", func(r *entity.CompleteRecord, v string) { r.IssuingBody = v }, func(r *entity.CompleteRecord) string { return r.IssuingBody }},
	{"unidade compradora", func(r *entity.CompleteRecord, v string) { r.BuyingUnit = v }, func(r *entity.CompleteRecord) string { return r.BuyingUnit }},
	{"modalidade", func(r *entity.CompleteRecord, v string) { r.Modality = v }, func(r *entity.CompleteRecord) string { return r.Modality }},
	{"amparo legal", func(r *entity.CompleteRecord, v string) { r.LegalBasis = v }, func(r *entity.CompleteRecord) string { return r.LegalBasis }},
	{"tipo", func(r *entity.CompleteRecord, v string) { r.NoticeType = v }, func(r *entity.CompleteRecord) string { return r.NoticeType }},
	{"data de divulgacao", func(r *entity.CompleteRecord, v string) { r.DisclosedOn = v }, func(r *entity.CompleteRecord) string { return r.DisclosedOn }},
	{"situacao", func(r *entity.CompleteRecord, v string) { r.Status = v }, func(r *entity.CompleteRecord) string { return r.Status }},
	{"data de inicio", func(r *entity.CompleteRecord, v string) { r.ProposalStart = v }, func(r *entity.CompleteRecord) string { return r.ProposalStart }},
	{"data fim", func(r *entity.CompleteRecord, v string) { r.ProposalEnd = v }, func(r *entity.CompleteRecord) string { return r.ProposalEnd }},
	{"fonte orcamentaria", func(r *entity.CompleteRecord, v string) { r.BudgetSource = v }, func(r *entity.CompleteRecord) string { return r.BudgetSource }},
}

// maxLabelLength bounds the key part of "key: value" so running text with a colon is not taken
// for a label.
const maxLabelLength = 60

func matchLabel(key string) *labelField {
	key = strings.TrimSpace(strings.TrimSuffix(normalize(key), ":"))
	if key == "" || len(key) > maxLabelLength {
		return nil
	}
	for i := range labelFields {
		if strings.Contains(key, labelFields[i].label) {
			return &labelFields[i]
		}
	}
	return nil
}

// LabelRecognizer maps "label: value" text to record fields. It reads both the inline form
// ("Local: Blumenau/SC") and the split form where the label and value are sibling elements.
// A field keeps the first value found.
type LabelRecognizer struct{}

func (LabelRecognizer) Name() string { return "labels" }

func (LabelRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	found := false
	assign := func(f *labelField, value string) {
		value = strings.TrimSpace(value)
		if f == nil || value == "" || f.get(rec) != "" {
			return
		}
		f.set(rec, value)
		found = true
	}

	for _, text := range leafBlocks(p.Doc.Selection) {
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		assign(matchLabel(key), value)
	}

	p.Doc.Find("label, dt, strong, b, th, span").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := cleanText(s.Text())
		if strings.Contains(strings.TrimSuffix(text, ":"), ":") {
			return
		}
		f := matchLabel(text)
		if f == nil {
			return
		}
		assign(f, cleanText(s.Next().Text()))
	})

	return found
}
