package extractor

import (
	"regexp"

	"github.com/user/pncp-ingest/internal/entity"
)

const minDescriptionLength = 100

var (
	descriptionKeywords = []string{"contratacao", "aquisicao", "servicos", "fornecimento", "credenciamento"}
	objectPrefix        = regexp.MustCompile(`(?i)^\s*objeto\s*:\s*`)
)

// DescriptionRecognizer takes the longest text block that reads like a procurement object.
type DescriptionRecognizer struct{}

func (DescriptionRecognizer) Name() string { return "object_description" }

func (DescriptionRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	best := ""
	for _, text := range leafBlocks(p.Doc.Selection) {
		if len([]rune(text)) <= minDescriptionLength || len(text) <= len(best) {
			continue
		}
		if containsAny(normalize(text), descriptionKeywords) {
			best = text
		}
	}
	if best == "" {
		return false
	}
	rec.ObjectDescription = objectPrefix.ReplaceAllString(best, "")
	return true
}
