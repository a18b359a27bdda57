package pncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/pkg/retry"
)

// Options configures a Client.
type Options struct {
	ConsultaURL   string
	IntegracaoURL string
	Timeout       time.Duration
	// RequestsPerSecond caps the request rate across both APIs. Zero disables pacing.
	RequestsPerSecond float64
	Retry             retry.Policy
	Location          *time.Location
	UserAgent         string
}

// Client talks to the PNCP listing (consulta) and integration APIs.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *zap.Logger
}

var (
	_ repository.ListingSource       = (*Client)(nil)
	_ repository.SubCollectionSource = (*Client)(nil)
)

// NewClient creates a new instance of Client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pncp-ingest/1.0"
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		logger:  logger,
	}
}

type listingResponse struct {
	Data []struct {
		OrgaoEntidade struct {
			CNPJ        string `json:"cnpj"`
			RazaoSocial string `json:"razaoSocial"`
		} `json:"orgaoEntidade"`
		AnoCompra          int      `json:"anoCompra"`
		SequencialCompra   int      `json:"sequencialCompra"`
		NumeroControlePNCP string   `json:"numeroControlePNCP"`
		ModalidadeNome     string   `json:"modalidadeNome"`
		DataPublicacaoPncp string   `json:"dataPublicacaoPncp"`
		ObjetoCompra       string   `json:"objetoCompra"`
		ValorTotalEstimado *float64 `json:"valorTotalEstimado"`
		UnidadeOrgao       struct {
			MunicipioNome string `json:"municipioNome"`
			UfSigla       string `json:"ufSigla"`
		} `json:"unidadeOrgao"`
	} `json:"data"`
	TotalRegistros int `json:"totalRegistros"`
	TotalPaginas   int `json:"totalPaginas"`
}

// ListPublications fetches one listing page. Failures after all retries wrap ErrSourceUnavailable.
func (c *Client) ListPublications(ctx context.Context, q entity.ListingQuery) (*entity.ListingPage, error) {
	params := url.Values{}
	params.Set("dataInicial", q.Window.StartParam())
	params.Set("dataFinal", q.Window.EndParam())
	params.Set("codigoModalidadeContratacao", strconv.Itoa(q.Category))
	params.Set("pagina", strconv.Itoa(q.Page))
	params.Set("tamanhoPagina", strconv.Itoa(q.PageSize))
	endpoint := c.opts.ConsultaURL + "/v1/contratacoes/publicacao?" + params.Encode()

	var resp listingResponse
	found, err := c.getJSON(ctx, endpoint, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: list category %d page %d: %w", repository.ErrSourceUnavailable, q.Category, q.Page, err)
	}
	page := &entity.ListingPage{Items: []entity.ListingItem{}}
	if !found {
		return page, nil
	}

	page.TotalCount = resp.TotalRegistros
	page.TotalPages = resp.TotalPaginas
	for _, d := range resp.Data {
		page.Items = append(page.Items, entity.ListingItem{
			NoticeID: entity.NoticeID{
				OrgTaxID: d.OrgaoEntidade.CNPJ,
				Year:     d.AnoCompra,
				Sequence: d.SequencialCompra,
			},
			ControlNumber:  d.NumeroControlePNCP,
			OrgName:        d.OrgaoEntidade.RazaoSocial,
			CategoryName:   d.ModalidadeNome,
			Object:         d.ObjetoCompra,
			EstimatedValue: d.ValorTotalEstimado,
			City:           d.UnidadeOrgao.MunicipioNome,
			State:          d.UnidadeOrgao.UfSigla,
			PublishedAt:    c.parseTime(d.DataPublicacaoPncp),
		})
	}
	return page, nil
}

type itemResponse struct {
	NumeroItem            int      `json:"numeroItem"`
	Descricao             string   `json:"descricao"`
	Quantidade            *float64 `json:"quantidade"`
	UnidadeMedida         string   `json:"unidadeMedida"`
	ValorUnitarioEstimado *float64 `json:"valorUnitarioEstimado"`
	ValorTotal            *float64 `json:"valorTotal"`
}

type attachmentResponse struct {
	SequencialDocumento int    `json:"sequencialDocumento"`
	Titulo              string `json:"titulo"`
	URL                 string `json:"url"`
	URI                 string `json:"uri"`
}

type historyResponse struct {
	TipoLogManutencaoNome      string `json:"tipoLogManutencaoNome"`
	CategoriaLogManutencaoNome string `json:"categoriaLogManutencaoNome"`
	Justificativa              string `json:"justificativa"`
	LogManutencaoDataInclusao  string `json:"logManutencaoDataInclusao"`
}

// FetchItems returns the notice's items, or an empty slice once retries are exhausted.
func (c *Client) FetchItems(ctx context.Context, id entity.NoticeID) ([]entity.Item, error) {
	var raw []itemResponse
	if err := c.fetchCollection(ctx, id, "itens", &raw); err != nil {
		return nil, err
	}
	items := make([]entity.Item, 0, len(raw))
	for i, r := range raw {
		seq := r.NumeroItem
		if seq == 0 {
			seq = i + 1
		}
		items = append(items, entity.Item{
			SequenceNumber: seq,
			Description:    r.Descricao,
			Quantity:       r.Quantidade,
			Unit:           r.UnidadeMedida,
			UnitValue:      r.ValorUnitarioEstimado,
			TotalValue:     r.ValorTotal,
		})
	}
	return items, nil
}

// FetchAttachments returns the notice's documents, or an empty slice once retries are exhausted.
func (c *Client) FetchAttachments(ctx context.Context, id entity.NoticeID) ([]entity.Attachment, error) {
	var raw []attachmentResponse
	if err := c.fetchCollection(ctx, id, "arquivos", &raw); err != nil {
		return nil, err
	}
	out := make([]entity.Attachment, 0, len(raw))
	for i, r := range raw {
		seq := r.SequencialDocumento
		if seq == 0 {
			seq = i + 1
		}
		link := r.URL
		if link == "" {
			link = r.URI
		}
		out = append(out, entity.Attachment{
			SequenceNumber: seq,
			Name:           r.Titulo,
			URL:            link,
			FileExtension:  fileExtension(r.Titulo, link),
		})
	}
	return out, nil
}

// FetchHistory returns the notice's event log, or an empty slice once retries are exhausted.
func (c *Client) FetchHistory(ctx context.Context, id entity.NoticeID) ([]entity.HistoryEvent, error) {
	var raw []historyResponse
	if err := c.fetchCollection(ctx, id, "historico", &raw); err != nil {
		return nil, err
	}
	out := make([]entity.HistoryEvent, 0, len(raw))
	for i, r := range raw {
		text := r.TipoLogManutencaoNome
		if r.CategoriaLogManutencaoNome != "" {
			text = joinNonEmpty(" - ", text, r.CategoriaLogManutencaoNome)
		}
		text = joinNonEmpty(": ", text, r.Justificativa)
		ev := entity.HistoryEvent{SequenceNumber: i + 1, EventText: text}
		if at := c.parseTime(r.LogManutencaoDataInclusao); !at.IsZero() {
			ev.OccurredAt = &at
		}
		out = append(out, ev)
	}
	return out, nil
}

// fetchCollection decodes one sub-collection into dst. Exhausted retries leave dst empty and return nil;
// only a cancelled context is reported.
func (c *Client) fetchCollection(ctx context.Context, id entity.NoticeID, collection string, dst any) error {
	endpoint := fmt.Sprintf("%s/v1/orgaos/%s/compras/%d/%d/%s",
		c.opts.IntegracaoURL, url.PathEscape(id.OrgTaxID), id.Year, id.Sequence, collection)

	if _, err := c.getJSON(ctx, endpoint, dst); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("sub-collection unavailable, using empty result",
			zap.String("external_key", id.ExternalKey()),
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
	return nil
}

// getJSON performs a paced, retried GET. It returns found=false for 204 No Content.
func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) (found bool, err error) {
	attempt := 0
	err = retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		var callErr error
		found, callErr = c.doGet(ctx, endpoint, dst)
		if callErr != nil {
			c.logger.Debug("source request failed",
				zap.String("url", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(callErr),
			)
		}
		return callErr
	})
	return found, err
}

func (c *Client) doGet(ctx context.Context, endpoint string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, &retry.StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, retry.Permanent(&retry.StatusError{StatusCode: resp.StatusCode, URL: endpoint})
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, retry.Permanent(fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return true, nil
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	"2006-01-02",
}

func (c *Client) parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, c.opts.Location); err == nil {
			return t
		}
	}
	return time.Time{}
}
