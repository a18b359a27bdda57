package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/pkg/utils"
)

// table is an HTML table with normalized header texts and its data rows.
type table struct {
	headers []string
	rows    []*goquery.Selection
}

func findTables(doc *goquery.Document) []table {
	var out []table
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		var tb table
		rows := t.Find("tr")
		headerRow := -1
		rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
			if ths := tr.Find("th"); ths.Length() > 0 {
				ths.Each(func(_ int, th *goquery.Selection) {
					tb.headers = append(tb.headers, normalize(th.Text()))
				})
				headerRow = i
				return false
			}
			return true
		})
		if headerRow < 0 && rows.Length() > 0 {
			headerRow = 0
			rows.First().Find("td").Each(func(_ int, td *goquery.Selection) {
				tb.headers = append(tb.headers, normalize(td.Text()))
			})
		}
		rows.Each(func(i int, tr *goquery.Selection) {
			if i != headerRow && tr.Find("td").Length() > 0 {
				tb.rows = append(tb.rows, tr)
			}
		})
		out = append(out, tb)
	})
	return out
}

// column returns the index of the first header containing any keyword, skipping taken columns.
func (t table) column(taken []int, keywords ...string) int {
	for i, h := range t.headers {
		if containsInt(taken, i) {
			continue
		}
		if containsAny(h, keywords) {
			return i
		}
	}
	return -1
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func cell(tr *goquery.Selection, idx int) string {
	if idx < 0 {
		return ""
	}
	return cleanText(tr.Find("td").Eq(idx).Text())
}

func parseOptionalNumber(s string) *float64 {
	if !strings.ContainsAny(s, "0123456789") {
		return nil
	}
	v, ok := ParseMoney(s)
	if !ok {
		return nil
	}
	return &v
}

var leadingInt = regexp.MustCompile(`\d+`)

func sequenceOr(s string, fallback int) int {
	if m := leadingInt.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return fallback
}

// ItemsTableRecognizer reads items from a table in the Itens tab whose headers name a description
// column plus a number, quantity or value column.
type ItemsTableRecognizer struct{}

func (ItemsTableRecognizer) Name() string { return "items_table" }

func (ItemsTableRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabItems)
	if doc == nil {
		return false
	}
	for _, t := range findTables(doc) {
		desc := t.column(nil, "descri")
		if desc < 0 {
			continue
		}
		taken := []int{desc}
		unitValue := t.column(taken, "unitario")
		taken = append(taken, unitValue)
		total := t.column(taken, "total")
		taken = append(taken, total)
		quantity := t.column(taken, "quantidade", "qtd", "qtde")
		taken = append(taken, quantity)
		number := t.column(taken, "numero", "item", "n°", "nº")
		taken = append(taken, number)
		unit := t.column(taken, "unidade")
		if number < 0 && quantity < 0 && unitValue < 0 && total < 0 {
			continue
		}

		var items []entity.Item
		for i, tr := range t.rows {
			description := cell(tr, desc)
			if description == "" {
				continue
			}
			items = append(items, entity.Item{
				SequenceNumber: sequenceOr(cell(tr, number), i+1),
				Description:    description,
				Quantity:       parseOptionalNumber(cell(tr, quantity)),
				Unit:           cell(tr, unit),
				UnitValue:      parseOptionalNumber(cell(tr, unitValue)),
				TotalValue:     parseOptionalNumber(cell(tr, total)),
			})
		}
		if len(items) > 0 {
			rec.Items = items
			return true
		}
	}
	return false
}

var (
	itemKeywords = []string{"contratacao", "aquisicao", "servicos", "fornecimento", "refeicao", "almoco", "jantar"}
	itemNoise    = []string{"portal nacional", "buscar no", "planos de", "tabelas de", "catalogo"}
	quantityText = regexp.MustCompile(`(?i)quantidade\s*:?\s*([\d.,]+)`)
)

const minItemLength = 50

// ItemsTextRecognizer is the loose-text fallback for items. Keyword-bearing blocks start a new item;
// quantity and currency tokens seen afterwards are attached to the most recent item. The
// association is positional and can misattribute values on irregular pages.
type ItemsTextRecognizer struct{}

func (ItemsTextRecognizer) Name() string { return "items_text" }

func (ItemsTextRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabItems)
	if doc == nil {
		return false
	}
	var (
		items []entity.Item
		seen  = map[string]bool{}
	)
	for _, text := range leafBlocks(doc.Selection) {
		norm := normalize(text)
		if len(text) > minItemLength && !containsAny(norm, itemNoise) && containsAny(norm, itemKeywords) {
			if seen[text] || text == rec.ObjectDescription || objectPrefix.ReplaceAllString(text, "") == rec.ObjectDescription {
				continue
			}
			seen[text] = true
			items = append(items, entity.Item{SequenceNumber: len(items) + 1, Description: text})
			continue
		}
		if len(items) == 0 {
			continue
		}
		last := &items[len(items)-1]
		if m := quantityText.FindStringSubmatch(text); m != nil && last.Quantity == nil {
			last.Quantity = parseOptionalNumber(m[1])
		}
		for _, token := range currencyTokens(text, -1) {
			v, ok := ParseMoney(token)
			if !ok {
				continue
			}
			switch {
			case last.UnitValue == nil:
				last.UnitValue = &v
			case last.TotalValue == nil:
				last.TotalValue = &v
			}
		}
	}
	if len(items) == 0 {
		return false
	}
	rec.Items = items
	return true
}

// AttachmentsTableRecognizer reads attachments from a table in the Arquivos tab with a name column.
type AttachmentsTableRecognizer struct{}

func (AttachmentsTableRecognizer) Name() string { return "attachments_table" }

func (AttachmentsTableRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabAttachments)
	if doc == nil {
		return false
	}
	for _, t := range findTables(doc) {
		name := t.column(nil, "nome", "arquivo", "documento", "titulo")
		if name < 0 {
			continue
		}
		var out []entity.Attachment
		for _, tr := range t.rows {
			n := cell(tr, name)
			link := p.absolute(tr.Find("a[href]").First().AttrOr("href", ""))
			if n == "" && link == "" {
				continue
			}
			if n == "" {
				n = cleanText(tr.Find("a[href]").First().Text())
			}
			out = append(out, entity.Attachment{
				SequenceNumber: len(out) + 1,
				Name:           n,
				URL:            link,
				FileExtension:  attachmentExtension(n, link),
			})
		}
		if len(out) > 0 {
			rec.Attachments = out
			return true
		}
	}
	return false
}

const minLinkLength = 10

// AttachmentsLinkRecognizer is the fallback for attachments: any link that looks like a download.
type AttachmentsLinkRecognizer struct{}

func (AttachmentsLinkRecognizer) Name() string { return "attachments_links" }

func (AttachmentsLinkRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabAttachments)
	if doc == nil {
		return false
	}
	var (
		out  []entity.Attachment
		seen = map[string]bool{}
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		lower := strings.ToLower(href)
		if !containsAny(lower, []string{"download", "arquivo", ".pdf", ".doc"}) {
			return
		}
		link := p.absolute(href)
		if len(link) <= minLinkLength || seen[link] {
			return
		}
		seen[link] = true
		name := cleanText(a.Text())
		if name == "" {
			name = a.AttrOr("title", "")
		}
		if name == "" {
			name = "Arquivo " + strconv.Itoa(len(out)+1)
		}
		out = append(out, entity.Attachment{
			SequenceNumber: len(out) + 1,
			Name:           name,
			URL:            link,
			FileExtension:  attachmentExtension(name, link),
		})
	})
	if len(out) == 0 {
		return false
	}
	rec.Attachments = out
	return true
}

func attachmentExtension(name, link string) string {
	if ext := utils.FileExtension(name); ext != "" && len(ext) <= 5 {
		return ext
	}
	return utils.FileExtension(link)
}

func (p *Page) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "javascript:") || href == "#" {
		return ""
	}
	abs, err := utils.ToAbsoluteURL(p.URL, href)
	if err != nil {
		return href
	}
	return abs
}

var eventDate = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})(?:\s*(?:-|às|as)?\s*(\d{2}):(\d{2})(?::(\d{2}))?)?`)

// parseEventDate reads a dd/mm/yyyy[ HH:MM[:SS]] date from text in loc.
func parseEventDate(text string, loc *time.Location) *time.Time {
	m := eventDate.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	day, month, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, atoi(m[4]), atoi(m[5]), atoi(m[6]), 0, loc)
	return &t
}

// HistoryTableRecognizer reads events from a table in the Histórico tab with an event and a date column.
type HistoryTableRecognizer struct{}

func (HistoryTableRecognizer) Name() string { return "history_table" }

func (HistoryTableRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabHistory)
	if doc == nil {
		return false
	}
	for _, t := range findTables(doc) {
		date := t.column(nil, "data")
		if date < 0 {
			continue
		}
		event := t.column([]int{date}, "evento", "descri", "acao", "ocorrencia", "tipo")
		if event < 0 {
			continue
		}
		detail := t.column([]int{date, event}, "justificativa", "motivo", "detalhe")

		var out []entity.HistoryEvent
		for _, tr := range t.rows {
			text := cell(tr, event)
			if d := cell(tr, detail); d != "" {
				text = text + ": " + d
			}
			if text == "" {
				continue
			}
			out = append(out, entity.HistoryEvent{
				SequenceNumber: len(out) + 1,
				EventText:      text,
				OccurredAt:     parseEventDate(cell(tr, date), p.location()),
			})
		}
		if len(out) > 0 {
			rec.HistoryEvents = out
			return true
		}
	}
	return false
}

var historyKeywords = []string{"inclusao", "retificacao", "alteracao", "exclusao", "publicacao", "cancelamento"}

const maxHistoryLength = 500

// HistoryTextRecognizer is the fallback for history: short blocks naming a lifecycle action next
// to a date.
type HistoryTextRecognizer struct{}

func (HistoryTextRecognizer) Name() string { return "history_text" }

func (HistoryTextRecognizer) Recognize(p *Page, rec *entity.CompleteRecord) bool {
	doc := p.Tab(entity.TabHistory)
	if doc == nil {
		return false
	}
	var (
		out  []entity.HistoryEvent
		seen = map[string]bool{}
	)
	for _, text := range leafBlocks(doc.Selection) {
		if len(text) > maxHistoryLength || seen[text] {
			continue
		}
		norm := normalize(text)
		if !containsAny(norm, historyKeywords) {
			continue
		}
		at := parseEventDate(text, p.location())
		if at == nil && !strings.Contains(norm, "data") {
			continue
		}
		seen[text] = true
		out = append(out, entity.HistoryEvent{SequenceNumber: len(out) + 1, EventText: text, OccurredAt: at})
	}
	if len(out) == 0 {
		return false
	}
	rec.HistoryEvents = out
	return true
}
