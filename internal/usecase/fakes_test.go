package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

// fakeListing serves canned pages per category. pages[category][i] is page i+1.
type fakeListing struct {
	mu    sync.Mutex
	pages map[int][][]entity.ListingItem
	errs  map[int]error
	calls []entity.ListingQuery
}

func (f *fakeListing) ListPublications(_ context.Context, q entity.ListingQuery) (*entity.ListingPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	if err := f.errs[q.Category]; err != nil {
		return nil, err
	}
	pages := f.pages[q.Category]
	if q.Page > len(pages) {
		return &entity.ListingPage{}, nil
	}
	items := pages[q.Page-1]
	return &entity.ListingPage{Items: items, TotalCount: len(items)}, nil
}

func (f *fakeListing) callsFor(category int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Category == category {
			n++
		}
	}
	return n
}

func listingItems(from, n int) []entity.ListingItem {
	items := make([]entity.ListingItem, n)
	for i := range items {
		items[i] = entity.ListingItem{
			NoticeID: entity.NoticeID{OrgTaxID: "83102277000152", Year: 2025, Sequence: from + i},
			OrgName:  "Prefeitura Municipal",
		}
	}
	return items
}

// fakeCandidates is an in-memory CandidateRepository. Ids are assigned in insertion order, which
// stands in for created_at.
type fakeCandidates struct {
	mu          sync.Mutex
	nextID      int64
	records     map[int64]entity.CandidateRecord
	statuses    map[int64]entity.ProcessingStatus
	byKey       map[string]int64
	existingAsk [][]string
	existingErr error
	updateErr   error
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{
		records:  make(map[int64]entity.CandidateRecord),
		statuses: make(map[int64]entity.ProcessingStatus),
		byKey:    make(map[string]int64),
	}
}

// seed stores a candidate in the given state and returns its id.
func (f *fakeCandidates) seed(key string, state entity.ProcessingState, attempts int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.records[id] = entity.CandidateRecord{
		ID:          id,
		ExternalKey: key,
		SourceURL:   "https://pncp.gov.br/app/editais/83102277000152/2025/" + fmt.Sprint(id),
		OrgTaxID:    "83102277000152",
		Year:        2025,
		Sequence:    int(id),
	}
	f.statuses[id] = entity.ProcessingStatus{RecordID: id, ExternalKey: key, State: state, AttemptCount: attempts}
	f.byKey[key] = id
	return id
}

func (f *fakeCandidates) status(id int64) entity.ProcessingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func (f *fakeCandidates) UpsertCandidates(_ context.Context, candidates []entity.CandidateRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, c := range candidates {
		if _, ok := f.byKey[c.ExternalKey]; ok {
			continue
		}
		f.nextID++
		c.ID = f.nextID
		f.records[c.ID] = c
		f.statuses[c.ID] = entity.ProcessingStatus{RecordID: c.ID, ExternalKey: c.ExternalKey, State: entity.StatePending}
		f.byKey[c.ExternalKey] = c.ID
		inserted++
	}
	return inserted, nil
}

func (f *fakeCandidates) FindExistingKeys(_ context.Context, keys []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existingAsk = append(f.existingAsk, keys)
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	out := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := f.byKey[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeCandidates) sortedIDs() []int64 {
	ids := make([]int64, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeCandidates) SelectPending(_ context.Context, limit int) ([]entity.CandidateRecord, []entity.ProcessingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		recs     []entity.CandidateRecord
		statuses []entity.ProcessingStatus
	)
	for _, id := range f.sortedIDs() {
		if len(recs) == limit {
			break
		}
		st := f.statuses[id]
		if !st.Selectable() {
			continue
		}
		recs = append(recs, f.records[id])
		statuses = append(statuses, st)
	}
	return recs, statuses, nil
}

func (f *fakeCandidates) SelectByState(_ context.Context, state entity.ProcessingState) ([]entity.ProcessingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.ProcessingStatus
	for _, id := range f.sortedIDs() {
		if st := f.statuses[id]; st.State == state {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeCandidates) GetProcessingStatus(_ context.Context, id int64) (*entity.ProcessingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (f *fakeCandidates) UpdateProcessingStatus(_ context.Context, id int64, patch entity.ProcessingStatusPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	st, ok := f.statuses[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.statuses[id] = patch.Apply(st)
	return nil
}

func (f *fakeCandidates) CountByState(context.Context) (map[entity.ProcessingState]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[entity.ProcessingState]int)
	for _, st := range f.statuses {
		out[st.State]++
	}
	return out, nil
}

type fakeKnown struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	err    error
	marked []string
}

func newFakeKnown(keys ...string) *fakeKnown {
	f := &fakeKnown{keys: make(map[string]struct{})}
	for _, k := range keys {
		f.keys[k] = struct{}{}
	}
	return f
}

func (f *fakeKnown) FilterKnown(_ context.Context, keys []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeKnown) MarkKnown(_ context.Context, keys []string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		f.keys[k] = struct{}{}
	}
	f.marked = append(f.marked, keys...)
	return nil
}

func (f *fakeKnown) Ping(context.Context) error { return f.err }

type fakeRenderer struct {
	mu    sync.Mutex
	html  string
	err   error
	calls []string
}

func (f *fakeRenderer) Render(_ context.Context, url string, tabs []string) (*entity.RenderedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &entity.RenderedPage{URL: url, HTML: f.html, Tabs: map[string]string{}}, nil
}

func (f *fakeRenderer) Close() {}

type fakeSubs struct {
	items       []entity.Item
	attachments []entity.Attachment
	history     []entity.HistoryEvent
	err         error
}

func (f *fakeSubs) FetchItems(context.Context, entity.NoticeID) ([]entity.Item, error) {
	return f.items, f.err
}

func (f *fakeSubs) FetchAttachments(context.Context, entity.NoticeID) ([]entity.Attachment, error) {
	return f.attachments, f.err
}

func (f *fakeSubs) FetchHistory(context.Context, entity.NoticeID) ([]entity.HistoryEvent, error) {
	return f.history, f.err
}

type fakeRecords struct {
	mu        sync.Mutex
	byKey     map[string]*entity.CompleteRecord
	upsertErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byKey: make(map[string]*entity.CompleteRecord)}
}

func (f *fakeRecords) UpsertCompleteRecord(_ context.Context, rec *entity.CompleteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.byKey[rec.ExternalKey] = rec
	return nil
}

func (f *fakeRecords) FindByExternalKey(_ context.Context, key string) (*entity.CompleteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

type fakeExecutions struct {
	mu      sync.Mutex
	entries []entity.ExecutionAuditEntry
}

func (f *fakeExecutions) Insert(_ context.Context, e *entity.ExecutionAuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeExecutions) Update(_ context.Context, id string, p entity.ExecutionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID != id {
			continue
		}
		e := &f.entries[i]
		finished := p.FinishedAt
		e.FinishedAt = &finished
		e.Status = p.Status
		e.CandidatesFound = p.CandidatesFound
		e.RecordsIngested = p.RecordsIngested
		e.ErrorCount = p.ErrorCount
		e.DurationSeconds = p.DurationSeconds
		e.Message = p.Message
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeExecutions) List(_ context.Context, limit int) ([]entity.ExecutionAuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.ExecutionAuditEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeExecutions) all() []entity.ExecutionAuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.ExecutionAuditEntry(nil), f.entries...)
}

type fakeConfigs struct {
	mu  sync.Mutex
	cfg *entity.SchedulerConfig
}

func (f *fakeConfigs) Read(context.Context) (*entity.SchedulerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg == nil {
		return nil, repository.ErrNotFound
	}
	c := *f.cfg
	return &c, nil
}

func (f *fakeConfigs) Write(_ context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base entity.SchedulerConfig
	if f.cfg != nil {
		base = *f.cfg
	} else if !patch.Complete() {
		return nil, fmt.Errorf("create scheduler config: %w", repository.ErrNotFound)
	}
	c := patch.Apply(base)
	f.cfg = &c
	out := c
	return &out, nil
}

type extractFunc func(ctx context.Context, c entity.CandidateRecord) (*entity.CompleteRecord, error)

func (f extractFunc) Extract(ctx context.Context, c entity.CandidateRecord) (*entity.CompleteRecord, error) {
	return f(ctx, c)
}

func noSleep(context.Context, time.Duration) error { return nil }
