// Package extractor recovers notice fields from rendered detail pages. The source DOM carries no
// stable ids or classes, so every recognizer works from visible text: label shapes, keywords and
// currency tokens.
package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/user/pncp-ingest/internal/entity"
)

// Page is a rendered detail page ready for recognition.
type Page struct {
	URL  *url.URL
	Doc  *goquery.Document
	Tabs map[string]*goquery.Document
	// Loc is the timezone of dates printed on the page.
	Loc *time.Location
}

// NewPage parses the main DOM and every captured tab DOM.
func NewPage(rendered *entity.RenderedPage) (*Page, error) {
	u, err := url.Parse(rendered.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := parseHTML(rendered.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	p := &Page{URL: u, Doc: doc, Tabs: make(map[string]*goquery.Document, len(rendered.Tabs))}
	for label, html := range rendered.Tabs {
		tab, err := parseHTML(html)
		if err != nil {
			return nil, fmt.Errorf("parse tab %q: %w", label, err)
		}
		p.Tabs[label] = tab
	}
	return p, nil
}

func (p *Page) location() *time.Location {
	if p.Loc == nil {
		return time.UTC
	}
	return p.Loc
}

// Tab returns the DOM captured after activating label, or nil when the tab was not found.
func (p *Page) Tab(label string) *goquery.Document {
	return p.Tabs[label]
}

func parseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript").Remove()
	return doc, nil
}

const (
	// textSelector lists the elements whose text may carry a field.
	textSelector = "div, p, span, li, td, dd, dt, label, strong, b, h1, h2, h3, h4, h5, h6"
	// blockSelector lists the elements that make a container too coarse to read as one field.
	blockSelector = "div, p, li, tr, table, ul, ol, section, article"
)

// leafBlocks returns the text of every element that holds no block-level children, in document
// order, skipping empty ones.
func leafBlocks(sel *goquery.Selection) []string {
	var out []string
	sel.Find(textSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// cleanText collapses all whitespace runs into single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize folds accents, lowercases and collapses whitespace, so "Situação" matches "situacao".
func normalize(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(cleanText(folded))
}

// containsAny reports whether the normalized text holds any of the normalized keywords.
func containsAny(normalized string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(normalized, k) {
			return true
		}
	}
	return false
}
