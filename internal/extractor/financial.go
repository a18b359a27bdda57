package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/pncp-ingest/internal/entity"
)

const (
	estimateAnchor = "VALOR TOTAL ESTIMADO DA COMPRA"
	awardedAnchor  = "VALOR TOTAL HOMOLOGADO"
	// fallbackThreshold drops small incidental amounts (fees, unit prices) from the maximum scan.
	fallbackThreshold = 1000.0
	maxBudgetLength   = 300
)

var (
	currencyPattern = regexp.MustCompile(`R\$\s*[\d.,]+`)
	nonMoneyChars   = regexp.MustCompile(`[^\d,]`)
	budgetKeywords  = []string{"ORÇAMENTO", "ORCAMENTO", "RECURSOS", "FONTE"}
)

// ParseMoney converts a Brazilian currency string such as "R$ 1.234,56" to 1234.56.
func ParseMoney(s string) (float64, bool) {
	digits := nonMoneyChars.ReplaceAllString(strings.TrimRight(strings.TrimSpace(s), ".,"), "")
	if i := strings.LastIndex(digits, ","); i >= 0 {
		digits = strings.ReplaceAll(digits[:i], ",", "") + "." + digits[i+1:]
	}
	if digits == "" || digits == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// currencyTokens returns the currency-shaped tokens of text, without trailing punctuation.
func currencyTokens(text string, n int) []string {
	matches := currencyPattern.FindAllString(text, n)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,")
	}
	return matches
}

func firstCurrency(text string) string {
	if m := currencyTokens(text, 1); len(m) > 0 {
		return m[0]
	}
	return ""
}

const anchorHolders = "div, span, p, h1, h2, h3, h4, strong, b, td, dt, label"

// valueAfterAnchor reads the currency token adjacent to anchor: after it inside the innermost
// element holding the phrase, or else in the element right after that one. A withheld value
// ("Sigiloso") yields not-found.
func valueAfterAnchor(doc *goquery.Document, anchor string) (string, bool) {
	holds := func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToUpper(cleanText(s.Text())), anchor)
	}

	var token string
	doc.Find(anchorHolders).FilterFunction(holds).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find(anchorHolders).FilterFunction(holds).Length() > 0 {
			return true
		}
		text := cleanText(s.Text())
		idx := strings.Index(strings.ToUpper(text), anchor)
		if idx < 0 || idx+len(anchor) > len(text) {
			return true
		}
		if m := firstCurrency(text[idx+len(anchor):]); m != "" {
			token = m
			return false
		}
		next := s.Next()
		if next.Length() == 0 {
			next = s.Parent().Next()
		}
		if m := firstCurrency(cleanText(next.Text())); m != "" {
			token = m
		}
		return false
	})
	return token, token != ""
}

// EstimateRecognizer reads the total estimated value next to its anchor phrase, falling back to
// the largest currency amount on the page above the noise threshold.
type EstimateRecognizer struct{}

func (EstimateRecognizer) Name() string { return "estimated_value" }

func (EstimateRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	if token, ok := valueAfterAnchor(p.Doc, estimateAnchor); ok {
		if v, ok := ParseMoney(token); ok {
			rec.EstimatedValueText = token
			rec.EstimatedValue = &v
			return true
		}
	}

	var (
		bestText  string
		bestValue float64
	)
	for _, text := range leafBlocks(p.Doc.Selection) {
		for _, m := range currencyTokens(text, -1) {
			v, ok := ParseMoney(m)
			if !ok || v <= fallbackThreshold || v <= bestValue {
				continue
			}
			bestText, bestValue = m, v
		}
	}
	if bestText == "" {
		return false
	}
	rec.EstimatedValueText = bestText
	rec.EstimatedValue = &bestValue
	return true
}

// AwardedRecognizer reads the homologated total, present only once the procurement is awarded.
type AwardedRecognizer struct{}

func (AwardedRecognizer) Name() string { return "awarded_value" }

func (AwardedRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	token, ok := valueAfterAnchor(p.Doc, awardedAnchor)
	if !ok {
		return false
	}
	v, ok := ParseMoney(token)
	if !ok {
		return false
	}
	rec.AwardedValue = &v
	return true
}

// BudgetSourceRecognizer keeps a budget source already read from its label, otherwise takes the
// first short block mentioning budget, resources or funding source.
type BudgetSourceRecognizer struct{}

func (BudgetSourceRecognizer) Name() string { return "budget_source" }

func (BudgetSourceRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	if rec.BudgetSource != "" {
		return true
	}
	for _, text := range leafBlocks(p.Doc.Selection) {
		if len(text) > maxBudgetLength {
			continue
		}
		upper := strings.ToUpper(text)
		for _, k := range budgetKeywords {
			if strings.Contains(upper, k) {
				rec.BudgetSource = text
				return true
			}
		}
	}
	return false
}
