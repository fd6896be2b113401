// Package pipeline runs city research: it gathers prose per category,
// synthesizes structured elements from it, validates coverage and persists
// the elements.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/cityresearch/internal/catalog"
	"github.com/TobiSchelling/cityresearch/internal/database"
	"github.com/TobiSchelling/cityresearch/internal/element"
	"github.com/TobiSchelling/cityresearch/internal/llm"
	"github.com/TobiSchelling/cityresearch/internal/logger"
	"github.com/TobiSchelling/cityresearch/internal/research"
)

var (
	// ErrNoResearchProvider means no research provider has credentials.
	ErrNoResearchProvider = errors.New("no research provider configured")
	// ErrNoSynthesisProvider means no synthesis provider has credentials.
	ErrNoSynthesisProvider = errors.New("no synthesis provider configured")
	// ErrNoCategories means none of the requested categories is known.
	ErrNoCategories = errors.New("no known category requested")
)

// Store is the persistence the pipeline drives.
type Store interface {
	UpsertElement(ctx context.Context, cityID string, typ element.Type, key string, value element.Value, status element.Status, notes string) error
	SetCityStatus(ctx context.Context, cityID string, status database.CityStatus) error
	RecordAnalytics(ctx context.Context, ev database.AnalyticsEvent) error
	GetCityElements(ctx context.Context, cityID string) ([]element.Element, error)
}

// Options tune a pipeline built from explicit providers.
type Options struct {
	Research    research.SearchOptions
	Synthesis   llm.Options
	Thresholds  element.Thresholds
	Concurrency int
	Now         func() time.Time
}

// Pipeline orchestrates one city research run at a time. A Pipeline holds
// no per-run state and may serve concurrent runs for different cities.
type Pipeline struct {
	store      Store
	researcher *research.Chain
	synth      *llm.Chain
	opts       Options
	log        *logger.Logger
}

// NewWithProviders creates a pipeline from ordered provider lists. The first
// synthesis provider is the structured-mode primary.
func NewWithProviders(store Store, researchers []research.Provider, synths []llm.Provider, opts Options, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Thresholds == (element.Thresholds{}) {
		opts.Thresholds = element.DefaultThresholds
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		store:      store,
		researcher: research.NewChain(log, researchers...),
		synth:      llm.NewChain(log, synths...),
		opts:       opts,
		log:        log,
	}
}

// Providers reports the names of the research and synthesis providers that
// have credentials, in fallback order.
func (p *Pipeline) Providers() (researchers, synthesizers []string) {
	return p.researcher.Configured(), p.synth.Configured()
}

// Request asks for research on one city.
type Request struct {
	CityID   string
	CityName string
	// Categories defaults to every known category when empty.
	Categories []string
	// CustomPrompt replaces the built-in query; see catalog.Category.Render.
	CustomPrompt string
}

// Query is one category's research exchange.
type Query struct {
	Category     element.Type `json:"category"`
	QueryText    string       `json:"query_text"`
	ResponseText string       `json:"response_text"`
	Provider     string       `json:"provider,omitempty"`
}

// StepResult summarizes one pipeline stage.
type StepResult struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Result is what a run returns. Elements holds everything synthesized, not
// only what was stored; Stored counts the rows actually written.
type Result struct {
	CityID           string             `json:"cityId"`
	CityName         string             `json:"cityName"`
	Elements         []element.Element  `json:"elements"`
	RawResearch      string             `json:"raw_research"`
	Synthesis        string             `json:"synthesis"`
	Timestamp        string             `json:"timestamp"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	Queries          []Query            `json:"queries"`
	SynthesisBy      string             `json:"synthesis_provider,omitempty"`
	Stored           int                `json:"stored"`
	Failed           int                `json:"failed"`
	Counts           element.Counts     `json:"counts"`
	Persisted        element.Counts     `json:"persisted"`
	State            State              `json:"state"`
	Steps            []StepResult       `json:"steps"`
}

// run carries the state of one invocation.
type run struct {
	req    Request
	state  State
	result *Result
	log    *logger.Logger
}

func (r *run) step(name, format string, args ...any) {
	s := StepResult{Name: name, Summary: fmt.Sprintf(format, args...)}
	r.result.Steps = append(r.result.Steps, s)
	r.log.Info(s.Summary, "step", name)
}

// RunCityResearch researches, synthesizes and stores elements for a city.
// It returns an error for configuration problems, an unparseable synthesis
// response, or a failed read-back; in those cases the city is set to draft.
// Validation shortfalls and per-element write failures are logged and
// reflected in the result.
func (p *Pipeline) RunCityResearch(ctx context.Context, req Request) (*Result, error) {
	cats, unknown := catalog.Resolve(req.Categories)
	for _, u := range unknown {
		p.log.Warn("skipping unknown category", "category", u, "city", req.CityName)
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCategories, strings.Join(unknown, ", "))
	}

	r := &run{
		req:   req,
		state: NotStarted,
		log:   p.log.With("city_id", req.CityID, "city", req.CityName),
		result: &Result{
			CityID:   req.CityID,
			CityName: req.CityName,
		},
	}

	r.state = Researching
	p.setCityStatus(ctx, r, database.CityActive)

	if len(p.researcher.Configured()) == 0 {
		return nil, p.fail(ctx, r, ErrNoResearchProvider)
	}
	if len(p.synth.Configured()) == 0 {
		return nil, p.fail(ctx, r, ErrNoSynthesisProvider)
	}

	if err := p.research(ctx, r, cats); err != nil {
		return nil, p.fail(ctx, r, err)
	}

	r.state = Synthesizing
	synth, err := p.synthesize(ctx, r, cats)
	if err != nil {
		return nil, p.fail(ctx, r, err)
	}

	r.state = Persisting
	if err := p.persist(ctx, r, synth.Elements); err != nil {
		return nil, p.fail(ctx, r, err)
	}

	p.setCityStatus(ctx, r, database.CityActive)
	r.state = Completed
	r.result.State = Completed
	r.result.Timestamp = p.opts.Now().UTC().Format(time.RFC3339)

	p.recordAnalytics(ctx, r, cats)
	return r.result, nil
}

// research fills r.result.Queries and RawResearch. Every category keeps its
// Query; one with no text from any provider is left out of RawResearch.
func (p *Pipeline) research(ctx context.Context, r *run, cats []catalog.Category) error {
	queries := make([]Query, len(cats))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, c := range cats {
		g.Go(func() error {
			q := Query{Category: c.ID, QueryText: c.Query(r.req.CityName)}
			if r.req.CustomPrompt != "" {
				q.QueryText = c.Render(r.req.CustomPrompt, r.req.CityName)
			}

			opts := p.opts.Research
			opts.Subject = r.req.CityName
			opts.Keywords = c.Keywords

			text, provider, err := p.researcher.Search(ctx, q.QueryText, opts)
			if err != nil {
				r.log.Warn("no research text for category", "category", c.ID, "error", err)
			}
			q.ResponseText = text
			q.Provider = provider
			queries[i] = q
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	r.result.Queries = queries
	var sections []string
	answered := 0
	for i, q := range queries {
		if q.ResponseText == "" {
			continue
		}
		answered++
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", cats[i].Name, q.ResponseText))
	}
	r.result.RawResearch = strings.Join(sections, "\n\n")

	if answered == 0 {
		r.log.Warn("research returned no text for any category; synthesizing from prior knowledge")
	}
	r.step("Research", "Researched %d/%d categories", answered, len(cats))
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, r *run, cats []catalog.Category) (*synthesis, error) {
	prompt := buildSynthesisPrompt(r.req.CityName, cats, r.result.Queries, p.opts.Thresholds)

	var payload synthesisPayload
	provider, err := p.synth.GenerateJSON(ctx, prompt, p.opts.Synthesis, &payload)
	if errors.Is(err, llm.ErrNoProvider) {
		return nil, ErrNoSynthesisProvider
	}
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	s := payload.normalize(r.req.CityID, r.log)
	r.result.Failed += s.Undecodable
	r.result.Elements = s.Elements
	r.result.Synthesis = s.Summary
	r.result.ConfidenceScores = s.ConfidenceScores
	r.result.SynthesisBy = provider

	r.result.Counts = p.opts.Thresholds.CountAndValidate(s.Elements)
	if !r.result.Counts.IsValid {
		r.log.Warn("synthesized elements below coverage minimums",
			"shortfalls", r.result.Counts.Shortfalls())
	}
	r.step("Synthesize", "Synthesized %d elements via %s", len(s.Elements), provider)
	return s, nil
}

// persist upserts each element, then reads the city back for the
// authoritative count. Single-element failures are counted, not returned.
func (p *Pipeline) persist(ctx context.Context, r *run, elems []element.Element) error {
	for _, e := range elems {
		if err := p.storeElement(ctx, r.req.CityID, e); err != nil {
			r.result.Failed++
			r.log.Warn("failed to store element", "type", e.Type, "key", e.Key, "error", err)
			continue
		}
		r.result.Stored++
	}

	stored, err := p.store.GetCityElements(ctx, r.req.CityID)
	if err != nil {
		return fmt.Errorf("reading back elements: %w", err)
	}
	r.result.Persisted = p.opts.Thresholds.CountAndValidate(stored)
	if !r.result.Persisted.IsValid {
		r.log.Warn("stored elements below coverage minimums",
			"shortfalls", r.result.Persisted.Shortfalls(), "stored", len(stored))
	}
	r.step("Persist", "Stored %d elements, %d failed (%d on record)", r.result.Stored, r.result.Failed, len(stored))
	return nil
}

func (p *Pipeline) storeElement(ctx context.Context, cityID string, e element.Element) error {
	if _, ok := element.ParseType(string(e.Type)); !ok {
		return fmt.Errorf("unknown element type %q", e.Type)
	}
	if e.Key == "" {
		return fmt.Errorf("element has no usable key")
	}
	return p.store.UpsertElement(ctx, cityID, e.Type, e.Key, e.Value, e.Status, e.Notes)
}

// fail marks the run failed and the city draft, and returns err.
func (p *Pipeline) fail(ctx context.Context, r *run, err error) error {
	r.log.Error("city research failed", "state", r.state, "error", err)
	r.state = Failed
	p.setCityStatus(context.WithoutCancel(ctx), r, database.CityDraft)
	return err
}

func (p *Pipeline) setCityStatus(ctx context.Context, r *run, status database.CityStatus) {
	bestEffort(r.log, "set city status", func() error {
		return p.store.SetCityStatus(ctx, r.req.CityID, status)
	})
}

func (p *Pipeline) recordAnalytics(ctx context.Context, r *run, cats []catalog.Category) {
	ids := make([]string, len(cats))
	for i, c := range cats {
		ids[i] = string(c.ID)
	}
	var providers []string
	for _, q := range r.result.Queries {
		if q.Provider != "" {
			providers = append(providers, q.Provider)
		}
	}

	bestEffort(r.log, "record analytics", func() error {
		return p.store.RecordAnalytics(ctx, database.AnalyticsEvent{
			Date:        p.opts.Now().UTC().Format("2006-01-02"),
			MetricType:  database.MetricResearchCompleted,
			MetricValue: r.result.Stored,
			CityID:      r.req.CityID,
			Metadata: map[string]any{
				"categories":         ids,
				"timestamp":          r.result.Timestamp,
				"research_providers": providers,
				"synthesis_provider": r.result.SynthesisBy,
				"failed":             r.result.Failed,
				"synthesized":        len(r.result.Elements),
				"persisted_coverage": r.result.Persisted.IsValid,
			},
		})
	})
}

// bestEffort runs a bookkeeping side effect. Its error is logged and
// dropped here; callers never see it.
func bestEffort(log *logger.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("best-effort step failed", "step", what, "error", err)
	}
}
