package repository

import "errors"

var (
	// ErrSourceUnavailable is returned when the listing or sub-collection API cannot be reached,
	// answers with a server error or keeps rate limiting after all retries.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRenderTimeout is returned when a detail page does not settle within the page load timeout.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrNavigationFailed is returned when the browser could not load the detail page at all.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrRenderEngineUnavailable is returned when the headless browser cannot be started.
	ErrRenderEngineUnavailable = errors.New("render engine unavailable")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence failure")
	ErrNotFound    = errors.New("not found")
)
