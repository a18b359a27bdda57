package entity

// RenderedPage is the DOM of a detail page after client-side rendering settled, plus the DOM
// captured after activating each requested tab. Tabs that could not be activated are absent.
type RenderedPage struct {
	URL  string
	HTML string
	Tabs map[string]string
}

// Tab labels shown on the detail page.
const (
	TabItems       = "Itens"
	TabAttachments = "Arquivos"
	TabHistory     = "Histórico"
)

// DetailTabs lists the tabs activated while rendering a detail page.
var DetailTabs = []string{TabItems, TabAttachments, TabHistory}
