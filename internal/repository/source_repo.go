package repository

import (
	"context"

	"github.com/user/pncp-ingest/internal/entity"
)

// ListingSource pages through the source's publication listing.
type ListingSource interface {
	// ListPublications returns one page of notices published in the query window for one category.
	// A page with no content is returned as an empty ListingPage, not an error.
	ListPublications(ctx context.Context, q entity.ListingQuery) (*entity.ListingPage, error)
}

// SubCollectionSource reads a notice's items, attachments and history from the source's
// integration API. Implementations return empty slices once their retries are exhausted.
type SubCollectionSource interface {
	FetchItems(ctx context.Context, id entity.NoticeID) ([]entity.Item, error)
	FetchAttachments(ctx context.Context, id entity.NoticeID) ([]entity.Attachment, error)
	FetchHistory(ctx context.Context, id entity.NoticeID) ([]entity.HistoryEvent, error)
}

// DetailRenderer loads a detail page in a headless browser and captures its DOM after rendering.
type DetailRenderer interface {
	// Render navigates to url, waits for the page to settle and captures the DOM. For every label in
	// tabs it tries to activate the tab and captures the DOM again.
	Render(ctx context.Context, url string, tabs []string) (*entity.RenderedPage, error)
	// Close releases the browser.
	Close()
}
