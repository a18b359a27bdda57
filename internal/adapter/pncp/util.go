package pncp

import (
	"strings"

	"github.com/user/pncp-ingest/pkg/utils"
)

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// fileExtension prefers the document title's extension and falls back to the link's.
func fileExtension(name, link string) string {
	if ext := utils.FileExtension(name); ext != "" {
		return ext
	}
	return utils.FileExtension(link)
}
