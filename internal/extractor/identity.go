package extractor

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/user/pncp-ingest/internal/entity"
)

var identityPattern = regexp.MustCompile(`editais/(\d+)/(\d+)/(\d+)`)

// ParseIdentity reads tax id, year and sequence from a detail URL such as
// https://pncp.gov.br/app/editais/83102277000152/2025/408.
func ParseIdentity(rawURL string) (entity.NoticeID, error) {
	m := identityPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return entity.NoticeID{}, fmt.Errorf("%w: %s", ErrNoIdentity, rawURL)
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return entity.NoticeID{}, fmt.Errorf("%w: year %q", ErrNoIdentity, m[2])
	}
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return entity.NoticeID{}, fmt.Errorf("%w: sequence %q", ErrNoIdentity, m[3])
	}
	return entity.NoticeID{OrgTaxID: m[1], Year: year, Sequence: seq}, nil
}

// DetailURL builds the detail page URL for a notice under base, e.g. https://pncp.gov.br/app.
func DetailURL(base string, id entity.NoticeID) string {
	return fmt.Sprintf("%s/editais/%s/%d/%d", base, id.OrgTaxID, id.Year, id.Sequence)
}
