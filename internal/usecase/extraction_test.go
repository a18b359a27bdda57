package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/extractor"
	"github.com/user/pncp-ingest/internal/repository"
)

const detailHTML = `<html><body>
<h1>Pregão Eletrônico nº 90012/2025</h1>
<div><span>Local:</span> <span>Curitiba/PR</span></div>
<p>Situação: Divulgada no PNCP</p>
</body></html>`

func testCandidate() entity.CandidateRecord {
	return entity.CandidateRecord{
		ID:          7,
		ExternalKey: "83102277000152-2025-408",
		SourceURL:   "https://pncp.gov.br/app/editais/83102277000152/2025/408",
		Category:    7,
		OrgTaxID:    "83102277000152",
		Year:        2025,
		Sequence:    408,
	}
}

func TestExtract_PageWithoutTabsYieldsEmptyCollections(t *testing.T) {
	renderer := &fakeRenderer{html: detailHTML}
	uc := NewDetailExtractor(renderer, extractor.DefaultPipeline(), nil, nil, zaptest.NewLogger(t))

	rec, err := uc.Extract(context.Background(), testCandidate())
	require.NoError(t, err)

	assert.Equal(t, "Pregão Eletrônico nº 90012/2025", rec.Title)
	assert.Equal(t, "Curitiba/PR", rec.Location)
	assert.Equal(t, "Divulgada no PNCP", rec.Status)
	assert.Empty(t, rec.Items)
	assert.Empty(t, rec.Attachments)
	assert.Empty(t, rec.HistoryEvents)
	assert.Equal(t, entity.ExtractionRendered, rec.ExtractionMethod)
	assert.Equal(t, "83102277000152-2025-408", rec.ExternalKey)
	assert.Equal(t, int64(7), rec.ID)
	assert.False(t, rec.ExtractedAt.IsZero())
	assert.Equal(t, []string{"https://pncp.gov.br/app/editais/83102277000152/2025/408"}, renderer.calls)
}

func TestExtract_FillsEmptyCollectionsFromAPI(t *testing.T) {
	renderer := &fakeRenderer{html: detailHTML}
	subs := &fakeSubs{
		items: []entity.Item{{SequenceNumber: 1, Description: "Papel A4"}},
		attachments: []entity.Attachment{
			{SequenceNumber: 1, Name: "Edital", URL: "https://pncp.gov.br/pncp-api/v1/arquivos/1", FileExtension: "pdf"},
		},
	}
	uc := NewDetailExtractor(renderer, extractor.DefaultPipeline(), subs, nil, zaptest.NewLogger(t))

	rec, err := uc.Extract(context.Background(), testCandidate())
	require.NoError(t, err)

	assert.Equal(t, entity.ExtractionRenderedAndAPI, rec.ExtractionMethod)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "Papel A4", rec.Items[0].Description)
	require.Len(t, rec.Attachments, 1)
	assert.Empty(t, rec.HistoryEvents)
}

func TestExtract_EmptyAPIKeepsRenderedMethod(t *testing.T) {
	uc := NewDetailExtractor(&fakeRenderer{html: detailHTML}, extractor.DefaultPipeline(), &fakeSubs{}, nil, zaptest.NewLogger(t))

	rec, err := uc.Extract(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, entity.ExtractionRendered, rec.ExtractionMethod)
}

func TestExtract_UnidentifiableURL(t *testing.T) {
	renderer := &fakeRenderer{html: detailHTML}
	uc := NewDetailExtractor(renderer, extractor.DefaultPipeline(), nil, nil, zaptest.NewLogger(t))

	c := testCandidate()
	c.SourceURL = "https://pncp.gov.br/app/editais"
	_, err := uc.Extract(context.Background(), c)

	require.ErrorIs(t, err, ErrIdentityUnrecoverable)
	assert.ErrorIs(t, err, extractor.ErrNoIdentity)
	assert.Empty(t, renderer.calls)
}

func TestExtract_RenderErrorsPropagate(t *testing.T) {
	for _, sentinel := range []error{repository.ErrRenderTimeout, repository.ErrRenderEngineUnavailable} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			renderer := &fakeRenderer{err: fmt.Errorf("%w: after 120s", sentinel)}
			uc := NewDetailExtractor(renderer, extractor.DefaultPipeline(), nil, nil, zaptest.NewLogger(t))

			_, err := uc.Extract(context.Background(), testCandidate())
			assert.ErrorIs(t, err, sentinel)
		})
	}
}

func TestExtract_CancelledWhileFillingCollections(t *testing.T) {
	subs := &fakeSubs{err: context.Canceled}
	uc := NewDetailExtractor(&fakeRenderer{html: detailHTML}, extractor.DefaultPipeline(), subs, nil, zaptest.NewLogger(t))

	_, err := uc.Extract(context.Background(), testCandidate())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "timeout", errorType(fmt.Errorf("x: %w", repository.ErrRenderTimeout)))
	assert.Equal(t, "render_engine", errorType(repository.ErrRenderEngineUnavailable))
	assert.Equal(t, "navigation", errorType(repository.ErrNavigationFailed))
	assert.Equal(t, "identity", errorType(ErrIdentityUnrecoverable))
	assert.Equal(t, "unknown", errorType(fmt.Errorf("boom")))
}
