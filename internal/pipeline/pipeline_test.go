package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TobiSchelling/cityresearch/internal/config"
	"github.com/TobiSchelling/cityresearch/internal/database"
	"github.com/TobiSchelling/cityresearch/internal/element"
	"github.com/TobiSchelling/cityresearch/internal/llm"
	"github.com/TobiSchelling/cityresearch/internal/logger"
	"github.com/TobiSchelling/cityresearch/internal/research"
)

func TestMain(m *testing.M) {
	// genai's transitive opencensus import starts a stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// --- fakes ---

type fakeResearcher struct {
	name       string
	configured bool
	answers    map[string]string // substring of query -> answer
	fallback   string
	err        error

	mu      sync.Mutex
	queries []string
}

func (f *fakeResearcher) Name() string       { return f.name }
func (f *fakeResearcher) IsConfigured() bool { return f.configured }
func (f *fakeResearcher) Search(_ context.Context, query string, _ research.SearchOptions) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for sub, answer := range f.answers {
		if strings.Contains(query, sub) {
			return answer, nil
		}
	}
	return f.fallback, nil
}

func (f *fakeResearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeSynth struct {
	name       string
	configured bool
	text       string
	err        error
	prompts    []string
}

func (f *fakeSynth) Name() string       { return f.name }
func (f *fakeSynth) IsConfigured() bool { return f.configured }
func (f *fakeSynth) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

type fakeJSONSynth struct {
	fakeSynth
}

func (f *fakeJSONSynth) GenerateJSON(_ context.Context, prompt string, _ llm.Options, v any) error {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return f.err
	}
	return llm.DecodeJSON(f.name, f.text, v)
}

// recordingStore wraps a real store and records or injects failures.
type recordingStore struct {
	*database.DB
	statuses     []database.CityStatus
	failKeys     map[string]bool
	readErr      error
	analyticsErr error
}

func (s *recordingStore) SetCityStatus(ctx context.Context, id string, st database.CityStatus) error {
	s.statuses = append(s.statuses, st)
	return s.DB.SetCityStatus(ctx, id, st)
}

func (s *recordingStore) UpsertElement(ctx context.Context, cityID string, typ element.Type, key string, v element.Value, st element.Status, notes string) error {
	if s.failKeys[key] {
		return errors.New("disk full")
	}
	return s.DB.UpsertElement(ctx, cityID, typ, key, v, st, notes)
}

func (s *recordingStore) GetCityElements(ctx context.Context, cityID string) ([]element.Element, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.DB.GetCityElements(ctx, cityID)
}

func (s *recordingStore) RecordAnalytics(ctx context.Context, ev database.AnalyticsEvent) error {
	if s.analyticsErr != nil {
		return s.analyticsErr
	}
	return s.DB.RecordAnalytics(ctx, ev)
}

// --- helpers ---

const detroitSynthesis = `{
  "elements": [
    {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D", "meaning": "Detroit"}, "status": "approved", "notes": "common"},
    {"element_type": "sport", "element_key": "pistons", "element_value": {"team": "Pistons", "league": "NBA"}, "status": "pending", "notes": "major franchise"}
  ],
  "summary": "Detroit is the Motor City.",
  "confidence_scores": {"slang": 0.9, "sport": 0.8}
}`

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store *recordingStore
	city  *database.City
	logs  *observer.ObservedLogs
	log   *logger.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(database.SQLite, filepath.Join(t.TempDir(), "city.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	city, err := db.InsertCity(context.Background(), "Detroit")
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	return &harness{
		store: &recordingStore{DB: db},
		city:  city,
		logs:  logs,
		log:   logger.FromZap(zap.New(core)),
	}
}

func (h *harness) pipeline(researchers []research.Provider, synths []llm.Provider) *Pipeline {
	return NewWithProviders(h.store, researchers, synths, Options{Now: func() time.Time { return fixedNow }}, h.log)
}

func (h *harness) request(categories ...string) Request {
	return Request{CityID: h.city.ID, CityName: h.city.Name, Categories: categories}
}

func (h *harness) cityStatus(t *testing.T) database.CityStatus {
	t.Helper()
	c, err := h.store.GetCity(context.Background(), h.city.ID)
	require.NoError(t, err)
	return c.Status
}

func detroitResearcher() *fakeResearcher {
	return &fakeResearcher{
		name:       "perplexity",
		configured: true,
		answers: map[string]string{
			"slang":  "Locals call the city the D.",
			"sports": "The Pistons play in the NBA.",
		},
	}
}

func jsonSynth(text string) *fakeJSONSynth {
	return &fakeJSONSynth{fakeSynth{name: "openai", configured: true, text: text}}
}

// --- tests ---

func TestDetroitScenario(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Len(t, res.Elements, 2)
	assert.Equal(t, "Detroit is the Motor City.", res.Synthesis)
	assert.Contains(t, res.RawResearch, "the D")
	assert.Contains(t, res.RawResearch, "Pistons")
	assert.Equal(t, "2026-05-01T12:00:00Z", res.Timestamp)
	assert.Equal(t, map[string]float64{"slang": 0.9, "sport": 0.8}, res.ConfidenceScores)
	assert.Equal(t, "openai", res.SynthesisBy)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 0, res.Failed)

	stored, err := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	// ordered by type then key
	assert.Equal(t, element.Slang, stored[0].Type)
	assert.Equal(t, "the_d", stored[0].Key)
	assert.Equal(t, element.Approved, stored[0].Status)
	assert.Equal(t, element.Sport, stored[1].Type)
	assert.Equal(t, "pistons", stored[1].Key)
	assert.Equal(t, element.Pending, stored[1].Status)
	assert.Equal(t, "major franchise", stored[1].Notes)

	assert.Equal(t, []database.CityStatus{database.CityActive, database.CityActive}, h.store.statuses)
	assert.Equal(t, database.CityActive, h.cityStatus(t))

	events, err := h.store.ListAnalytics(context.Background(), h.city.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, database.MetricResearchCompleted, events[0].MetricType)
	assert.Equal(t, 2, events[0].MetricValue)
	assert.Equal(t, "2026-05-01", events[0].Date)
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})
	_, err := first.RunCityResearch(ctx, h.request("slang", "sport"))
	require.NoError(t, err)

	second := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D", "meaning": "Detroit, MI"}, "status": "approved", "notes": "rerun"},
	    {"element_type": "sport", "element_key": "pistons", "element_value": {"team": "Pistons", "league": "NBA", "venue": "Little Caesars Arena"}, "status": "approved", "notes": "rerun"}
	  ],
	  "summary": "again"
	}`)})
	_, err = second.RunCityResearch(ctx, h.request("slang", "sport"))
	require.NoError(t, err)

	stored, err := h.store.DB.GetCityElements(ctx, h.city.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, e := range stored {
		assert.Equal(t, "rerun", e.Notes)
		assert.Equal(t, element.Approved, e.Status)
	}
	assert.Equal(t, "Detroit, MI", stored[0].Value.(*element.SlangValue).Meaning)
	assert.Equal(t, "Little Caesars Arena", stored[1].Value.(*element.SportValue).Venue)
}

func TestResearchFallback(t *testing.T) {
	h := newHarness(t)
	primary := &fakeResearcher{name: "perplexity"}
	fallback := &fakeResearcher{name: "gemini", configured: true, fallback: "The D and the Pistons."}
	p := h.pipeline([]research.Provider{primary, fallback}, []llm.Provider{jsonSynth(detroitSynthesis)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RawResearch)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 0, primary.calls())
	require.Len(t, res.Queries, 2)
	for _, q := range res.Queries {
		assert.Equal(t, "gemini", q.Provider)
	}
}

func TestResearchProviderErrorFallsThrough(t *testing.T) {
	h := newHarness(t)
	primary := &fakeResearcher{name: "perplexity", configured: true, err: errors.New("503")}
	fallback := &fakeResearcher{name: "gemini", configured: true, fallback: "The D."}
	p := h.pipeline([]research.Provider{primary, fallback}, []llm.Provider{jsonSynth(detroitSynthesis)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, "gemini", res.Queries[0].Provider)
}

func TestNoResearchProviderConfigured(t *testing.T) {
	h := newHarness(t)
	synth := jsonSynth(detroitSynthesis)
	p := h.pipeline(
		[]research.Provider{&fakeResearcher{name: "perplexity"}, &fakeResearcher{name: "gemini"}},
		[]llm.Provider{synth},
	)

	_, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.ErrorIs(t, err, ErrNoResearchProvider)
	assert.Equal(t, database.CityDraft, h.cityStatus(t))
	assert.Empty(t, synth.prompts)
}

func TestNoSynthesisProviderConfigured(t *testing.T) {
	h := newHarness(t)
	researcher := detroitResearcher()
	p := h.pipeline(
		[]research.Provider{researcher},
		[]llm.Provider{&fakeJSONSynth{fakeSynth{name: "openai"}}, &fakeSynth{name: "gemini"}},
	)

	_, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.ErrorIs(t, err, ErrNoSynthesisProvider)
	assert.Equal(t, database.CityDraft, h.cityStatus(t))
	assert.Equal(t, 0, researcher.calls(), "configuration is checked before any research call")
}

func TestStatusDowngrade(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "landmark", "element_key": "empty_approved", "element_value": {}, "status": "approved"},
	    {"element_type": "landmark", "element_key": "null_approved", "element_value": null, "status": "APPROVED"},
	    {"element_type": "landmark", "element_key": "ren_cen", "element_value": {"name": "Renaissance Center"}, "status": "approved"},
	    {"element_type": "landmark", "element_key": "fox_theatre", "element_value": {"name": "Fox Theatre"}, "status": "rejected"}
	  ],
	  "summary": "s"
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request("landmark"))
	require.NoError(t, err)

	want := map[string]element.Status{
		"empty_approved": element.Pending,
		"null_approved":  element.Pending,
		"ren_cen":        element.Approved,
		"fox_theatre":    element.Pending,
	}
	for _, e := range res.Elements {
		assert.Equal(t, want[e.Key], e.Status, e.Key)
	}

	stored, err := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for _, e := range stored {
		assert.Equal(t, want[e.Key], e.Status, e.Key)
		if e.Status == element.Approved {
			assert.False(t, e.Value.IsEmpty(), "approved elements carry a value")
		}
	}
}

func TestKeyNormalization(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "slang", "element_key": "The D!", "element_value": {"term": "The D"}, "status": "pending"},
	    {"element_type": "slang", "element_key": "the-d", "element_value": {"term": "The D"}, "status": "pending"},
	    {"element_type": "cultural", "element_key": "", "element_value": {"name": "Café Motown"}, "status": "pending"},
	    {"element_type": "Sport", "element_key": "Red Wings", "element_value": {"team": "Red Wings"}, "status": "pending"},
	    {"element_type": "slang", "element_key": "???", "element_value": {}, "status": "pending"},
	    {"element_type": "cuisine", "element_key": "coney", "element_value": {"name": "Coney dog"}, "status": "pending"}
	  ],
	  "summary": "s"
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request())
	require.NoError(t, err)
	assert.Len(t, res.Elements, 5, "both spellings of the_d collapse into one element")
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 2, res.Failed, "unusable key and unknown type")

	stored, err := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, e := range stored {
		assert.Regexp(t, `^[a-z0-9_]+$`, e.Key)
		id := string(e.Type) + "/" + e.Key
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Equal(t, map[string]bool{
		"slang/the_d":          true,
		"cultural/cafe_motown": true,
		"sport/red_wings":      true,
	}, seen)
}

func TestValidationShortfallIsNonFatal(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D"}, "status": "approved"},
	    {"element_type": "slang", "element_key": "deadass", "element_value": {"term": "deadass"}, "status": "approved"}
	  ],
	  "summary": "Only a little slang."
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, "Only a little slang.", res.Synthesis)
	assert.Len(t, res.Elements, 2)
	assert.False(t, res.Counts.IsValid)
	assert.Equal(t, 2, res.Counts.Slang)
	assert.False(t, res.Persisted.IsValid)

	warnings := h.logs.FilterMessage("synthesized elements below coverage minimums")
	require.Equal(t, 1, warnings.Len())
	assert.Equal(t, zapcore.WarnLevel, warnings.All()[0].Level)
	assert.Equal(t, 1, h.logs.FilterMessage("stored elements below coverage minimums").Len())
}

func TestParseErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	fallback := &fakeSynth{name: "gemini", configured: true, text: detroitSynthesis}
	p := h.pipeline([]research.Provider{detroitResearcher()},
		[]llm.Provider{jsonSynth(`{"elements": [`), fallback})

	res, err := p.RunCityResearch(context.Background(), h.request("slang"))
	assert.Nil(t, res)
	var perr *llm.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "openai", perr.Provider)
	assert.Empty(t, fallback.prompts, "a parse error does not fall back")
	assert.Equal(t, database.CityDraft, h.cityStatus(t))

	stored, _ := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	assert.Empty(t, stored)
}

func TestSynthesisFallbackExtractsJSON(t *testing.T) {
	h := newHarness(t)
	primary := &fakeJSONSynth{fakeSynth{name: "openai"}}
	fallback := &fakeSynth{name: "gemini", configured: true,
		text: "Here is what I found:\n```\n" + detroitSynthesis + "\n```\nHope this helps."}
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{primary, fallback})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", res.SynthesisBy)
	assert.Len(t, res.Elements, 2)
	require.Len(t, fallback.prompts, 1)
	assert.Contains(t, fallback.prompts[0], "Locals call the city the D.")
}

func TestSynthesisFallbackWithoutJSONIsFatal(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{
		&fakeJSONSynth{fakeSynth{name: "openai"}},
		&fakeSynth{name: "gemini", configured: true, text: "Sorry, I can't help with that."},
	})

	_, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.ErrorIs(t, err, llm.ErrNoJSONObject)
	assert.Equal(t, database.CityDraft, h.cityStatus(t))
}

func TestPartialUpsertFailure(t *testing.T) {
	h := newHarness(t)
	h.store.failKeys = map[string]bool{"pistons": true}
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.Len(t, res.Elements, 2, "result keeps every synthesized element")
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Persisted.Slang)
	assert.Equal(t, 0, res.Persisted.Sport)
	assert.Equal(t, 1, h.logs.FilterMessage("failed to store element").Len())
}

func TestReadBackFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.store.readErr = errors.New("connection reset")
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})

	_, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, database.CityDraft, h.cityStatus(t))
}

func TestBestEffortFailuresDoNotFailRun(t *testing.T) {
	h := newHarness(t)
	h.store.analyticsErr = errors.New("analytics down")
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})

	_, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.logs.FilterMessage("best-effort step failed").FilterField(zap.String("step", "record analytics")).Len())
}

func TestStatusWriteFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	store := &statusFailStore{recordingStore: h.store}
	p := NewWithProviders(store, []research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)}, Options{}, h.log)

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 2, h.logs.FilterMessage("best-effort step failed").FilterField(zap.String("step", "set city status")).Len())
}

type statusFailStore struct {
	*recordingStore
}

func (s *statusFailStore) SetCityStatus(context.Context, string, database.CityStatus) error {
	return database.ErrCityNotFound
}

func TestUnknownCategories(t *testing.T) {
	h := newHarness(t)
	researcher := detroitResearcher()
	p := h.pipeline([]research.Provider{researcher}, []llm.Provider{jsonSynth(detroitSynthesis)})

	_, err := p.RunCityResearch(context.Background(), h.request("nightlife", "slang"))
	require.NoError(t, err)
	assert.Equal(t, 1, researcher.calls())
	assert.Equal(t, 1, h.logs.FilterMessage("skipping unknown category").Len())

	h.store.statuses = nil
	_, err = p.RunCityResearch(context.Background(), h.request("nightlife"))
	require.ErrorIs(t, err, ErrNoCategories)
	assert.Empty(t, h.store.statuses, "no state change before the category check")
}

func TestEmptyResearchStillSynthesizes(t *testing.T) {
	h := newHarness(t)
	synth := jsonSynth(detroitSynthesis)
	p := h.pipeline([]research.Provider{&fakeResearcher{name: "perplexity", configured: true}}, []llm.Provider{synth})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	assert.Empty(t, res.RawResearch)
	require.Len(t, res.Queries, 2)
	for _, q := range res.Queries {
		assert.NotEmpty(t, q.QueryText)
		assert.Empty(t, q.ResponseText)
	}
	require.Len(t, synth.prompts, 1)
	assert.Contains(t, synth.prompts[0], noResearch)
}

func TestConcurrentResearchKeepsOrder(t *testing.T) {
	h := newHarness(t)
	researcher := &fakeResearcher{name: "perplexity", configured: true, answers: map[string]string{
		"slang":     "slang text",
		"landmarks": "landmark text",
		"sports":    "sport text",
		"culture":   "cultural text",
	}}
	p := NewWithProviders(h.store, []research.Provider{researcher}, []llm.Provider{jsonSynth(detroitSynthesis)},
		Options{Concurrency: 4}, h.log)

	res, err := p.RunCityResearch(context.Background(), h.request())
	require.NoError(t, err)
	require.Len(t, res.Queries, 4)
	for i, want := range element.Types {
		assert.Equal(t, want, res.Queries[i].Category)
	}
	assert.Less(t, strings.Index(res.RawResearch, "slang text"), strings.Index(res.RawResearch, "cultural text"))
}

func TestCustomPrompt(t *testing.T) {
	h := newHarness(t)
	researcher := detroitResearcher()
	researcher.fallback = "The Pistons and the Red Wings."
	p := h.pipeline([]research.Provider{researcher}, []llm.Provider{jsonSynth(detroitSynthesis)})

	req := h.request("sport")
	req.CustomPrompt = "Tell me about {category} in {city}"
	res, err := p.RunCityResearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Queries, 1)
	assert.Equal(t, "Tell me about Sports Teams & Affiliations in Detroit", res.Queries[0].QueryText)
	assert.Equal(t, "The Pistons and the Red Wings.", res.Queries[0].ResponseText)
	assert.Contains(t, res.RawResearch, "Red Wings")
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(detroitSynthesis)})

	_, err := p.RunCityResearch(ctx, h.request("slang"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFromConfigWithoutCredentials(t *testing.T) {
	for _, env := range []string{"PERPLEXITY_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "NEWSAPI_KEY"} {
		t.Setenv(env, "")
	}
	h := newHarness(t)

	p, err := New(config.Default(), h.store, h.log)
	require.NoError(t, err)
	assert.Empty(t, p.researcher.Configured())
	assert.Empty(t, p.synth.Configured())

	_, err = p.RunCityResearch(context.Background(), h.request())
	require.ErrorIs(t, err, ErrNoResearchProvider)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Research.Providers = []string{"perplexity", "bing"}
	_, err := New(cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bing")
}

func TestProvidersFollowConfiguredOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Research.Providers = []string{"gemini", "perplexity", "newsapi", "feeds"}
	cfg.Research.NewsAPI.Enabled = true
	cfg.Synthesis.Providers = []string{"gemini", "openai", "ollama"}

	rs, err := ResearchProviders(cfg)
	require.NoError(t, err)
	var names []string
	for _, r := range rs {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"gemini", "perplexity", "newsapi", "feeds"}, names)

	ss, err := SynthesisProviders(cfg)
	require.NoError(t, err)
	names = nil
	for _, s := range ss {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"gemini", "openai"}, names, "disabled ollama is left out")
}

func TestQueriesKeepCategoriesWithoutText(t *testing.T) {
	h := newHarness(t)
	synth := jsonSynth(detroitSynthesis)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{synth})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "landmark"))
	require.NoError(t, err)
	require.Len(t, res.Queries, 2)
	assert.Equal(t, element.Slang, res.Queries[0].Category)
	assert.Equal(t, "perplexity", res.Queries[0].Provider)
	assert.Equal(t, element.Landmark, res.Queries[1].Category)
	assert.Empty(t, res.Queries[1].ResponseText)

	assert.NotContains(t, res.RawResearch, "Landmarks & Places")
	require.Len(t, synth.prompts, 1)
	assert.NotContains(t, synth.prompts[0], "### Landmarks & Places")
	assert.Contains(t, synth.prompts[0], "### Local Slang & Expressions")
}

func TestNonStringScalarsInElementsAreCoerced(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D"}, "status": "pending", "notes": "common"},
	    {"element_type": "landmark", "element_key": 1928, "element_value": {"name": "Fox Theatre"}, "status": "pending", "notes": 1928}
	  ],
	  "summary": "s"
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "landmark"))
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 0, res.Failed)

	stored, err := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "1928", stored[0].Key)
	assert.Equal(t, "1928", stored[0].Notes)
	assert.Equal(t, database.CityActive, h.cityStatus(t))
}

func TestUndecodableElementIsCountedAsFailed(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    "the_d",
	    {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D"}, "status": "pending"},
	    [1, 2]
	  ],
	  "summary": "s"
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang"))
	require.NoError(t, err)
	assert.Len(t, res.Elements, 1)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, h.logs.FilterMessage("skipping undecodable element").Len())
}

func TestDuplicateElementsKeepTheFilledPayload(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline([]research.Provider{detroitResearcher()}, []llm.Provider{jsonSynth(`{
	  "elements": [
	    {"element_type": "slang", "element_key": "The D", "element_value": {"term": "The D", "meaning": "Detroit"}, "status": "approved", "notes": "common"},
	    {"element_type": "slang", "element_key": "the_d", "element_value": {}, "status": "approved"},
	    {"element_type": "sport", "element_key": "pistons", "element_value": {}, "status": "pending"},
	    {"element_type": "sport", "element_key": "Pistons", "element_value": {"team": "Pistons"}, "status": "approved", "notes": "NBA"}
	  ],
	  "summary": "s"
	}`)})

	res, err := p.RunCityResearch(context.Background(), h.request("slang", "sport"))
	require.NoError(t, err)
	require.Len(t, res.Elements, 2)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 1, res.Counts.Slang)
	assert.Equal(t, 1, res.Counts.Sport)
	assert.Equal(t, 2, h.logs.FilterMessage("dropping duplicate element").Len())

	stored, err := h.store.DB.GetCityElements(context.Background(), h.city.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	slang := stored[0]
	assert.Equal(t, "the_d", slang.Key)
	assert.Equal(t, element.Approved, slang.Status)
	assert.Equal(t, "Detroit", slang.Value.(*element.SlangValue).Meaning)
	assert.Equal(t, "common", slang.Notes)

	sport := stored[1]
	assert.Equal(t, "pistons", sport.Key)
	assert.Equal(t, element.Approved, sport.Status)
	assert.Equal(t, "Pistons", sport.Value.(*element.SportValue).Team)
}
