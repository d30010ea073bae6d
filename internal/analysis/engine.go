// Package analysis runs the full playbook pipeline over a dataset: schema
// enrichment, playbook selection, planning, derivation, guardrails, execution,
// narrative and the final hallucination scan.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playbook-engine/internal/formula"
	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
	"playbook-engine/internal/service"
)

// ErrNoRows is returned when an analysis is requested over an empty dataset.
var ErrNoRows = errors.New("dataset has no rows")

// NarrativeRewriter rephrases the executive summary. Its output is scanned by the
// hallucination detector like any other narrative text.
type NarrativeRewriter interface {
	Rewrite(ctx context.Context, summary string, facts []string) (string, error)
}

// Options configures an Engine.
type Options struct {
	Registry       *playbook.Registry
	Dictionary     *service.DictionaryStore
	DefaultMinRows int
	Rewriter       NarrativeRewriter
	Logger         *zap.Logger
}

// Engine wires every pipeline stage together. It is safe for concurrent use.
type Engine struct {
	registry   *playbook.Registry
	dictionary *service.DictionaryStore
	deriver    *formula.DeriveEngine
	guardrails *service.GuardrailsEngine
	executor   *Executor
	narrator   *service.NarrativeAdapter
	detector   *service.HallucinationDetector
	fallback   *service.FallbackAnalyzer
	rewriter   NarrativeRewriter
	logger     *zap.Logger
}

// Request is one question over one dataset. Columns may be nil, in which case
// they are taken from the rows.
type Request struct {
	Columns    []models.Column
	Rows       []models.Row
	Question   string
	PlaybookID string
}

// NewEngine creates an engine. A nil registry serves the embedded playbooks and a
// nil dictionary store the embedded synonyms.
func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		cat, err := playbook.LoadCatalog("")
		if err != nil {
			return nil, fmt.Errorf("load embedded playbooks: %w", err)
		}
		registry = playbook.NewStaticRegistry(cat)
	}
	dict := opts.Dictionary
	if dict == nil {
		dict = service.NewDictionaryStore("", 0, 0, logger)
	}
	return &Engine{
		registry:   registry,
		dictionary: dict,
		deriver:    formula.NewDeriveEngine(logger),
		guardrails: service.NewGuardrailsEngine(opts.DefaultMinRows, logger),
		executor:   NewExecutor(logger),
		narrator:   service.NewNarrativeAdapter(logger),
		detector:   service.NewHallucinationDetector(logger),
		fallback:   service.NewFallbackAnalyzer(logger),
		rewriter:   opts.Rewriter,
		logger:     logger,
	}, nil
}

// Registry returns the playbook registry the engine reads from.
func (e *Engine) Registry() *playbook.Registry { return e.registry }

// Dictionary returns the synonym dictionary store.
func (e *Engine) Dictionary() *service.DictionaryStore { return e.dictionary }

func (e *Engine) validator(ctx context.Context) (*service.SchemaValidator, *service.Dictionary, error) {
	dict, err := e.dictionary.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("synonym dictionary: %w", err)
	}
	return service.NewSchemaValidator(dict, e.logger), dict, nil
}

// EnrichSchema detects types and canonical names for the dataset's columns.
func (e *Engine) EnrichSchema(ctx context.Context, columns []models.Column, rows []models.Row) (models.Schema, error) {
	v, _, err := e.validator(ctx)
	if err != nil {
		return nil, err
	}
	return v.Enrich(columns, rows), nil
}

// ValidateSchema enriches the schema and scores it against every playbook.
func (e *Engine) ValidateSchema(ctx context.Context, columns []models.Column, rows []models.Row) (*models.SchemaValidationResponse, error) {
	v, _, err := e.validator(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := e.registry.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	schema := v.Enrich(columns, rows)
	results, _ := v.ScoreAll(schema, cat.All())
	return &models.SchemaValidationResponse{Schema: schema, Compatibility: results}, nil
}

// Analyze answers one question. Rejected playbooks, row errors and blocked
// narratives are reported in the response; errors are configuration problems.
func (e *Engine) Analyze(ctx context.Context, req Request) (*models.AnalysisResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Rows) == 0 {
		return nil, ErrNoRows
	}
	v, dict, err := e.validator(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := e.registry.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("playbook registry: %w", err)
	}

	schema := v.Enrich(req.Columns, req.Rows)
	resp := &models.AnalysisResponse{
		AnalysisID: uuid.NewString(),
		Question:   req.Question,
		Schema:     schema,
		Candidates: []models.CompatibilityResult{},
	}

	pool := cat.All()
	if req.PlaybookID != "" {
		p, err := cat.Get(req.PlaybookID)
		if err != nil {
			return nil, err
		}
		pool = []*playbook.Playbook{p}
	}
	results, scores := v.ScoreAll(schema, pool)
	byID := make(map[string]models.CompatibilityResult, len(results))
	for _, r := range results {
		byID[r.PlaybookID] = r
	}

	candidates := cat.FindCompatible(scores, playbook.CandidateMinScore)
	orderCandidates(candidates, scores, req.Question)
	var chosen *playbook.Playbook
	for _, p := range candidates {
		r := byID[p.ID]
		resp.Candidates = append(resp.Candidates, r)
		if chosen != nil {
			continue
		}
		if service.IsCompatible(r.Score, r.MissingRequired) {
			chosen = p
			continue
		}
		e.logger.Debug("playbook rejected",
			zap.String("playbook", p.ID),
			zap.Int("score", r.Score),
			zap.Strings("missing_required", r.MissingRequired))
	}

	if chosen == nil {
		e.logger.Info("no playbook accepted, using exploratory fallback",
			zap.String("analysis_id", resp.AnalysisID), zap.Int("candidates", len(candidates)))
		resp.Status = models.StatusFallback
		resp.Fallback = e.fallback.Analyze(schema, req.Rows)
		return resp, nil
	}

	compat := byID[chosen.ID]
	resp.Playbook = chosen.Summary()
	resp.Compatibility = &compat
	if err := e.run(ctx, chosen, dict, schema, req.Rows, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// orderCandidates keeps score order and breaks ties by relevance to the question.
func orderCandidates(candidates []*playbook.Playbook, scores map[string]int, question string) {
	relevance := make(map[string]int, len(candidates))
	for _, p := range candidates {
		relevance[p.ID] = p.Relevance(question)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if scores[a.ID] != scores[b.ID] {
			return scores[a.ID] > scores[b.ID]
		}
		return relevance[a.ID] > relevance[b.ID]
	})
}

func (e *Engine) run(ctx context.Context, p *playbook.Playbook, dict *service.Dictionary, schema models.Schema, rows []models.Row, resp *models.AnalysisResponse) error {
	plan, err := service.NewSemanticPlanner(dict, e.logger).Plan(p, schema, len(rows))
	if err != nil {
		return err
	}
	resp.Plan = plan

	derived, rowErrors, err := e.deriver.Apply(rows, plan.Derivations)
	if err != nil {
		return fmt.Errorf("derive %s: %w", p.ID, err)
	}

	gr := e.guardrails.Evaluate(p, schema, len(rows), plan)
	resp.Guardrails = gr
	active, disabled := service.MergeSections(plan, gr)

	result := e.executor.Execute(ExecutionInput{
		AnalysisID:       resp.AnalysisID,
		Playbook:         p,
		Plan:             plan,
		Schema:           schema,
		Rows:             derived,
		ActiveSections:   active,
		DerivationErrors: rowErrors,
	})
	resp.Result = result

	nar := e.narrator.Build(service.NarrativeInput{
		Playbook:         p,
		Schema:           schema,
		Plan:             plan,
		ActiveSections:   active,
		DisabledSections: disabled,
		ForbiddenTerms:   gr.ForbiddenTerms,
		QualityScore:     gr.QualityScore,
		Result:           result,
	})
	if e.rewriter != nil {
		e.rewrite(ctx, nar)
	}

	report := e.detector.Check(service.NarrativeText(nar), service.DetectionContext{
		Schema:             schema,
		ForbiddenTerms:     gr.ForbiddenTerms,
		KnownIdentifiers:   knownIdentifiers(p, plan, active, result),
		UnavailableMetrics: plan.UnavailableMetrics,
		AbsenceStatements:  service.AbsenceStatements(disabled),
	})
	resp.Hallucination = report
	resp.Confidence = plan.Confidence - report.ConfidencePenalty
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}

	if report.ShouldBlock {
		blocked := report.CriticalViolations
		if len(blocked) == 0 {
			blocked = report.Violations
		}
		resp.Status = models.StatusBlocked
		resp.Blocked = &models.BlockedResult{
			Message:            service.BlockedMessage(report),
			CriticalViolations: blocked,
			Violations:         report.Violations,
		}
		e.logger.Warn("analysis blocked",
			zap.String("analysis_id", resp.AnalysisID),
			zap.String("playbook", p.ID),
			zap.Int("violations", report.TotalViolations),
			zap.Any("critical", report.CriticalViolations))
		return nil
	}
	resp.Status = models.StatusOK
	resp.Narrative = nar
	return nil
}

// rewrite replaces the executive summary with the rewriter's version, keeping
// the deterministic one on failure.
func (e *Engine) rewrite(ctx context.Context, nar *models.Narrative) {
	facts := make([]string, len(nar.KeyFindings))
	for i, f := range nar.KeyFindings {
		facts[i] = f.Text
	}
	text, err := e.rewriter.Rewrite(ctx, nar.ExecutiveSummary, facts)
	if err != nil {
		e.logger.Warn("narrative rewrite failed, keeping deterministic summary", zap.Error(err))
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		nar.ExecutiveSummary = text
	}
}

// CheckNarrative scans free text against a schema and the forbidden vocabulary.
// When playbookID is set the playbook is planned against the schema, so only
// names the plan can back are accepted and unmet metrics are flagged.
func (e *Engine) CheckNarrative(ctx context.Context, text string, schema models.Schema, rowCount int, forbidden []string, playbookID string) (*models.HallucinationReport, error) {
	dc := service.DetectionContext{Schema: schema, ForbiddenTerms: forbidden}
	if playbookID != "" {
		p, err := e.registry.Get(ctx, playbookID)
		if err != nil {
			return nil, err
		}
		_, dict, err := e.validator(ctx)
		if err != nil {
			return nil, err
		}
		plan, err := service.NewSemanticPlanner(dict, e.logger).Plan(p, schema, rowCount)
		if err != nil {
			return nil, err
		}
		gr := e.guardrails.Evaluate(p, schema, rowCount, plan)
		active, disabled := service.MergeSections(plan, gr)
		dc.ForbiddenTerms = append(dc.ForbiddenTerms, gr.ForbiddenTerms...)
		dc.KnownIdentifiers = knownIdentifiers(p, plan, active, nil)
		dc.UnavailableMetrics = plan.UnavailableMetrics
		dc.AbsenceStatements = service.AbsenceStatements(disabled)
	}
	return e.detector.Check(text, dc), nil
}

// knownIdentifiers are the engine's own names that the plan can back: section
// names, mapped columns, derived metrics and the aliases of active sections.
func knownIdentifiers(p *playbook.Playbook, plan *models.SemanticPlan, active []string, result *models.StructuredResult) []string {
	ids := []string{p.ID, p.Domain}
	ids = append(ids, p.SectionNames()...)
	for logical := range plan.RequiredColumns {
		ids = append(ids, logical)
	}
	for logical := range plan.OptionalColumns {
		ids = append(ids, logical)
	}
	for _, d := range plan.Derivations {
		ids = append(ids, d.Name)
	}
	for _, section := range active {
		for _, q := range p.Queries(section) {
			ids = append(ids, q.Key())
		}
	}
	if result != nil {
		for _, sec := range result.Sections {
			for _, agg := range sec.Aggregations {
				for _, g := range agg.Groups {
					ids = append(ids, g.Key)
				}
			}
		}
	}
	return ids
}
