package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legisync/backend/internal/analysis"
	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/internal/storage/sqlite"
)

// stubSource serves canned provider data and counts bill fetches.
type stubSource struct {
	sessions    map[string][]legis.Session
	manifests   map[string]map[string]string
	bills       map[string]*legis.BillRecord
	billErrs    map[string]error
	sessionErr  error
	manifestErr map[string]error

	billCalls int
}

func (s *stubSource) ListSessions(ctx context.Context, jurisdiction string) ([]legis.Session, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.sessions[jurisdiction], nil
}

func (s *stubSource) GetManifest(ctx context.Context, sessionID string) (map[string]string, error) {
	if err := s.manifestErr[sessionID]; err != nil {
		return nil, err
	}
	return s.manifests[sessionID], nil
}

func (s *stubSource) GetBill(ctx context.Context, billID string) (*legis.BillRecord, error) {
	s.billCalls++
	if err := s.billErrs[billID]; err != nil {
		return nil, err
	}
	record, ok := s.bills[billID]
	if !ok {
		return nil, legis.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// stubStore is an in-memory stand-in for the sqlite client, covering both
// the sync store surface and the analysis store surface.
type stubStore struct {
	nextID    int64
	bills     map[string]*models.Bill
	billsByID map[int64]*models.Bill
	texts     map[int64][]models.TextVersion
	sponsors  map[int64][]models.Sponsor
	analyses  map[int64][]models.Analysis
	ratings   map[int64][]models.ImpactRating
	upserted  map[int64][]models.Amendment
	raw       map[int64]string

	runs       map[string]*models.SyncRun
	syncErrors []models.SyncError

	healthyErr   error
	upsertErrFor map[string]error
}

func newStubStore() *stubStore {
	return &stubStore{
		bills:        make(map[string]*models.Bill),
		billsByID:    make(map[int64]*models.Bill),
		texts:        make(map[int64][]models.TextVersion),
		sponsors:     make(map[int64][]models.Sponsor),
		analyses:     make(map[int64][]models.Analysis),
		ratings:      make(map[int64][]models.ImpactRating),
		upserted:     make(map[int64][]models.Amendment),
		raw:          make(map[int64]string),
		runs:         make(map[string]*models.SyncRun),
		upsertErrFor: make(map[string]error),
	}
}

func billKey(source, sessionKey, billNumber string) string {
	return source + "|" + sessionKey + "|" + billNumber
}

func (s *stubStore) Healthy(ctx context.Context) error { return s.healthyErr }

func (s *stubStore) StoredHashes(ctx context.Context, source, sessionKey string) (map[string]string, error) {
	hashes := make(map[string]string)
	for _, b := range s.bills {
		if b.Source == source && b.SessionKey == sessionKey {
			hashes[b.BillNumber] = b.ChangeHash
		}
	}
	return hashes, nil
}

func (s *stubStore) UpsertBill(ctx context.Context, bill *models.Bill) (*models.Bill, bool, error) {
	if err := s.upsertErrFor[bill.BillNumber]; err != nil {
		return nil, false, err
	}

	key := billKey(bill.Source, bill.SessionKey, bill.BillNumber)
	existing, ok := s.bills[key]
	if ok {
		existing.Title = bill.Title
		existing.Description = bill.Description
		existing.Status = bill.Status
		existing.ChangeHash = bill.ChangeHash
		existing.RawPayload = bill.RawPayload
		existing.UpdatedAt = time.Now()
		copied := *existing
		return &copied, false, nil
	}

	s.nextID++
	now := time.Now()
	stored := *bill
	stored.ID = s.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.bills[key] = &stored
	s.billsByID[stored.ID] = &stored
	s.raw[stored.ID] = bill.RawPayload
	copied := stored
	return &copied, true, nil
}

func (s *stubStore) BillsNeedingAnalysis(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, b := range s.billsByID {
		chain := s.analyses[id]
		if len(chain) == 0 || chain[len(chain)-1].CreatedAt.Before(b.UpdatedAt) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *stubStore) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	b, ok := s.billsByID[id]
	if !ok {
		return nil, fmt.Errorf("bill %d not found", id)
	}
	copied := *b
	return &copied, nil
}

func (s *stubStore) AppendOrUpdateText(ctx context.Context, billID int64, note, url string, content []byte) (*models.TextVersion, error) {
	versions := s.texts[billID]
	if n := len(versions); n > 0 && bytes.Equal(versions[n-1].Content, content) {
		versions[n-1].Note = note
		versions[n-1].URL = url
		copied := versions[n-1]
		return &copied, nil
	}

	v := models.TextVersion{
		BillID:     billID,
		VersionNum: len(versions) + 1,
		Note:       note,
		URL:        url,
		Content:    content,
		ByteLen:    len(content),
	}
	s.texts[billID] = append(versions, v)
	return &v, nil
}

func (s *stubStore) GetLatestText(ctx context.Context, billID int64) (*models.TextVersion, error) {
	versions := s.texts[billID]
	if len(versions) == 0 {
		return nil, nil
	}
	copied := versions[len(versions)-1]
	return &copied, nil
}

func (s *stubStore) ReplaceSponsors(ctx context.Context, billID int64, sponsors []models.Sponsor) error {
	s.sponsors[billID] = sponsors
	return nil
}

func (s *stubStore) AppendAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	chain := s.analyses[a.BillID]
	if n := len(chain); n > 0 {
		prevID := chain[n-1].ID
		a.AnalysisVersion = chain[n-1].AnalysisVersion + 1
		a.PreviousVersionID = &prevID
	} else {
		a.AnalysisVersion = 1
		a.PreviousVersionID = nil
	}
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Now()
	s.analyses[a.BillID] = append(chain, *a)
	copied := *a
	return &copied, nil
}

func (s *stubStore) ReplaceImpactRatings(ctx context.Context, billID int64, ratings []models.ImpactRating) error {
	s.ratings[billID] = ratings
	return nil
}

func (s *stubStore) UpsertAmendment(ctx context.Context, am *models.Amendment) error {
	s.upserted[am.BillID] = append(s.upserted[am.BillID], *am)
	return nil
}

func (s *stubStore) GetBillRawPayload(ctx context.Context, billID int64) (string, error) {
	return s.raw[billID], nil
}

func (s *stubStore) UpdateBillRawPayload(ctx context.Context, billID int64, rawPayload string) error {
	s.raw[billID] = rawPayload
	return nil
}

func (s *stubStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *stubStore) FinalizeSyncRun(ctx context.Context, run *models.SyncRun) error {
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *stubStore) InsertSyncError(ctx context.Context, e *models.SyncError) error {
	s.syncErrors = append(s.syncErrors, *e)
	return nil
}

type stubAnalyzer struct {
	doc   *analysis.Document
	err   error
	calls int
}

func (a *stubAnalyzer) Analyze(ctx context.Context, title, billText string) (*analysis.Document, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	copied := *a.doc
	return &copied, nil
}

func analysisDoc() *analysis.Document {
	return &analysis.Document{
		Summary: "Requires annual water quality reporting.",
		Impacts: map[string]analysis.ImpactDetail{
			"public_health": {Level: "high", Description: "new testing mandate"},
		},
		OverallImpact: &analysis.OverallImpact{
			Category: "public_health", Level: "high", Description: "statewide mandate",
		},
		ImpactCategory: "public_health",
		ImpactLevel:    "high",
	}
}

func activeSession(id string) legis.Session {
	return legis.Session{ID: id, Name: id, YearEnd: time.Now().Year(), Concluded: false}
}

func billRecord(session, number string, hash string) *legis.BillRecord {
	return &legis.BillRecord{
		SourceID:    number,
		Source:      "openstates",
		SessionKey:  session,
		BillNumber:  number,
		Title:       "Bill " + number,
		Description: "Concerning " + number,
		Status:      "introduced",
		ChangeHash:  hash,
		Sponsors:    []legis.Sponsor{{Name: "Rivera", Primary: true}},
		Texts:       []legis.TextDocument{{Note: "Introduced", URL: "http://example/" + number, Content: []byte("text of " + number)}},
		Raw:         []byte(`{"id":"` + number + `"}`),
	}
}

func newTestOrchestrator(src *stubSource, store *stubStore) *Orchestrator {
	analyzer := analysis.NewOrchestrator(store, &stubAnalyzer{doc: analysisDoc()}, nil)
	tracker := NewAmendmentTracker(store, store)
	return NewOrchestrator(src, "openstates", store, tracker, analyzer, []string{"ca"})
}

func TestRun_SyncsNewBills(t *testing.T) {
	b1 := billRecord("s1", "b1", "h1")
	b2 := billRecord("s1", "b2", "h2")
	b2.Amendments = []legis.Amendment{{AmendmentID: "a1", Adopted: true}}

	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1", "b2": "h2"}},
		bills:     map[string]*legis.BillRecord{"b1": b1, "b2": b2},
	}
	store := newStubStore()

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.NewBills)
	assert.Equal(t, 0, run.BillsUpdated)
	assert.Equal(t, 2, run.BillsAnalyzed)
	assert.Equal(t, 1, run.AmendmentsTracked)
	assert.Equal(t, 0, run.ErrorCount)

	stored := store.bills[billKey("openstates", "s1", "b1")]
	require.NotNil(t, stored)
	assert.Equal(t, "Bill b1", stored.Title)
	assert.Equal(t, models.BillStatusIntroduced, stored.Status)
	assert.Len(t, store.texts[stored.ID], 1)
	assert.Len(t, store.sponsors[stored.ID], 1)
	assert.Len(t, store.analyses[stored.ID], 1)
	// One per-category rating plus the primary overall rating.
	assert.Len(t, store.ratings[stored.ID], 2)

	// Finalized run record persisted.
	persisted := store.runs[run.ID]
	require.NotNil(t, persisted)
	assert.Equal(t, models.RunStatusCompleted, persisted.Status)
}

func TestRun_SecondRunWithSameHashesDoesNothing(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1"}},
		bills:     map[string]*legis.BillRecord{"b1": billRecord("s1", "b1", "h1")},
	}
	store := newStubStore()
	orch := newTestOrchestrator(src, store)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)
	fetchesAfterFirst := src.billCalls

	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.NewBills)
	assert.Equal(t, 0, run.BillsUpdated)
	assert.Equal(t, 0, run.BillsAnalyzed)
	assert.Equal(t, fetchesAfterFirst, src.billCalls)
}

func TestRun_ChangedHashResyncsAsUpdate(t *testing.T) {
	record := billRecord("s1", "b1", "h1")
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1"}},
		bills:     map[string]*legis.BillRecord{"b1": record},
	}
	store := newStubStore()
	orch := newTestOrchestrator(src, store)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	record.ChangeHash = "h2"
	record.Title = "Bill b1 (amended)"
	record.Texts = []legis.TextDocument{{Note: "Amended", Content: []byte("amended text")}}
	src.manifests["s1"]["b1"] = "h2"

	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, run.NewBills)
	assert.Equal(t, 1, run.BillsUpdated)
	assert.Equal(t, 1, run.BillsAnalyzed)

	stored := store.bills[billKey("openstates", "s1", "b1")]
	assert.Equal(t, "Bill b1 (amended)", stored.Title)
	assert.Equal(t, "h2", stored.ChangeHash)
	// A second text version was appended; the first stays committed.
	require.Len(t, store.texts[stored.ID], 2)
	assert.Equal(t, 1, store.texts[stored.ID][0].VersionNum)
	assert.Equal(t, 2, store.texts[stored.ID][1].VersionNum)
	// Analysis chain grew to version 2 with a link back.
	chain := store.analyses[stored.ID]
	require.Len(t, chain, 2)
	assert.Nil(t, chain[0].PreviousVersionID)
	require.NotNil(t, chain[1].PreviousVersionID)
	assert.Equal(t, chain[0].ID, *chain[1].PreviousVersionID)
}

func TestRun_PerBillFailureIsIsolated(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {}},
		bills:     map[string]*legis.BillRecord{},
		billErrs:  map[string]error{"b05": errors.New("upstream 500")},
	}
	for i := 1; i <= 10; i++ {
		number := fmt.Sprintf("b%02d", i)
		src.manifests["s1"][number] = "h" + number
		src.bills[number] = billRecord("s1", number, "h"+number)
	}
	store := newStubStore()

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 9, run.NewBills)
	assert.Equal(t, 9, run.BillsAnalyzed)
	assert.Equal(t, 1, run.ErrorCount)
	require.Len(t, store.syncErrors, 1)
	assert.Equal(t, models.ErrCategoryBillFetch, store.syncErrors[0].Category)
	assert.Contains(t, store.syncErrors[0].Message, "b05")
}

func TestRun_InactiveSessionsSkipped(t *testing.T) {
	src := &stubSource{
		sessions: map[string][]legis.Session{"ca": {
			{ID: "s-old", YearEnd: 2019, Concluded: true},
		}},
		manifests: map[string]map[string]string{"s-old": {"b1": "h1"}},
		bills:     map[string]*legis.BillRecord{"b1": billRecord("s-old", "b1", "h1")},
	}
	store := newStubStore()

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.NewBills)
	assert.Zero(t, src.billCalls)
}

func TestRun_SessionListFailureRecorded(t *testing.T) {
	src := &stubSource{sessionErr: errors.New("provider down")}
	store := newStubStore()

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.ErrorCount)
	require.Len(t, store.syncErrors, 1)
	assert.Equal(t, models.ErrCategorySession, store.syncErrors[0].Category)
}

func TestRun_ManifestFailureSkipsSessionOnly(t *testing.T) {
	src := &stubSource{
		sessions: map[string][]legis.Session{"ca": {activeSession("s1"), activeSession("s2")}},
		manifests: map[string]map[string]string{
			"s2": {"b1": "h1"},
		},
		manifestErr: map[string]error{"s1": errors.New("manifest 503")},
		bills:       map[string]*legis.BillRecord{"b1": billRecord("s2", "b1", "h1")},
	}
	store := newStubStore()

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.NewBills)
	assert.Equal(t, 1, run.ErrorCount)
	require.Len(t, store.syncErrors, 1)
	assert.Equal(t, models.ErrCategoryManifest, store.syncErrors[0].Category)
}

func TestRun_StorageConnectionLossAbortsRun(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1", "b2": "h2"}},
		bills: map[string]*legis.BillRecord{
			"b1": billRecord("s1", "b1", "h1"),
			"b2": billRecord("s1", "b2", "h2"),
		},
	}
	store := newStubStore()
	store.upsertErrFor["b1"] = fmt.Errorf("write failed: %w", sqlite.ErrConnLost)
	store.healthyErr = sqlite.ErrConnLost

	run, err := newTestOrchestrator(src, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.ErrorCount)
	// The abort also skips the analysis batch.
	assert.Equal(t, 0, run.BillsAnalyzed)
}

func TestRun_CanceledContextFinalizesPartial(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1"}},
		bills:     map[string]*legis.BillRecord{"b1": billRecord("s1", "b1", "h1")},
	}
	store := newStubStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newTestOrchestrator(src, store).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 0, run.NewBills)
	require.NotNil(t, run.CompletedAt)
}

// cancelingAnalyzer succeeds, then cancels the run context, simulating a
// shutdown signal landing while the analysis batch is in flight.
type cancelingAnalyzer struct {
	doc    *analysis.Document
	cancel context.CancelFunc
	calls  int
}

func (a *cancelingAnalyzer) Analyze(ctx context.Context, title, billText string) (*analysis.Document, error) {
	a.calls++
	a.cancel()
	copied := *a.doc
	return &copied, nil
}

func TestRun_CancellationDuringAnalysisFinalizesPartial(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1", "b2": "h2"}},
		bills: map[string]*legis.BillRecord{
			"b1": billRecord("s1", "b1", "h1"),
			"b2": billRecord("s1", "b2", "h2"),
		},
	}
	store := newStubStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &cancelingAnalyzer{doc: analysisDoc(), cancel: cancel}
	analyzer := analysis.NewOrchestrator(store, stub, nil)
	tracker := NewAmendmentTracker(store, store)
	orch := NewOrchestrator(src, "openstates", store, tracker, analyzer, []string{"ca"})

	run, err := orch.Run(ctx)
	require.NoError(t, err)

	// The first bill finished; the second was left unanalyzed, so the run
	// must not report itself completed.
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 1, run.BillsAnalyzed)
	assert.Equal(t, 0, run.ErrorCount)
	assert.Equal(t, models.RunStatusPartial, run.Status)
}

func TestRun_FailedAnalysisRetriedOnNextRun(t *testing.T) {
	src := &stubSource{
		sessions:  map[string][]legis.Session{"ca": {activeSession("s1")}},
		manifests: map[string]map[string]string{"s1": {"b1": "h1"}},
		bills:     map[string]*legis.BillRecord{"b1": billRecord("s1", "b1", "h1")},
	}
	store := newStubStore()

	stub := &stubAnalyzer{doc: analysisDoc(), err: errors.New("model unavailable")}
	analyzer := analysis.NewOrchestrator(store, stub, nil)
	tracker := NewAmendmentTracker(store, store)
	orch := NewOrchestrator(src, "openstates", store, tracker, analyzer, []string{"ca"})

	run, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 0, run.BillsAnalyzed)
	assert.Equal(t, 1, run.ErrorCount)

	// The sync committed the bill's hash, so change detection alone would
	// never revisit it; the missing analysis must keep it on the worklist.
	stub.err = nil
	run, err = orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.NewBills)
	assert.Equal(t, 0, run.BillsUpdated)
	assert.Equal(t, 1, run.BillsAnalyzed)

	stored := store.bills[billKey("openstates", "s1", "b1")]
	require.NotNil(t, stored)
	assert.Len(t, store.analyses[stored.ID], 1)
}

func TestReanalyzeBill_AppendsNewVersionAndReplacesRatings(t *testing.T) {
	store := newStubStore()
	stored, _, err := store.UpsertBill(context.Background(), &models.Bill{
		Source: "openstates", SessionKey: "s1", BillNumber: "b1",
		Title: "Bill b1", Description: "Concerning water quality", ChangeHash: "h1",
	})
	require.NoError(t, err)

	src := &stubSource{}
	orch := newTestOrchestrator(src, store)

	require.NoError(t, orch.ReanalyzeBill(context.Background(), stored.ID))
	require.NoError(t, orch.ReanalyzeBill(context.Background(), stored.ID))

	chain := store.analyses[stored.ID]
	require.Len(t, chain, 2)
	assert.Equal(t, 1, chain[0].AnalysisVersion)
	assert.Equal(t, 2, chain[1].AnalysisVersion)
	require.NotNil(t, chain[1].PreviousVersionID)
	assert.Equal(t, chain[0].ID, *chain[1].PreviousVersionID)
	// Ratings remain a snapshot, not accumulated history.
	assert.Len(t, store.ratings[stored.ID], 2)
}
