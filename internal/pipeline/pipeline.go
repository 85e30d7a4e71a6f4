package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clinical-timeline/internal/config"
	"github.com/sells-group/clinical-timeline/internal/dedup"
	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/merge"
	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/sells-group/clinical-timeline/internal/temporal"
	"github.com/sells-group/clinical-timeline/internal/timeline"
)

// Result is the outcome of one document run.
type Result struct {
	DocumentID string `json:"document_id"`
	model.RunResult
}

// Pipeline turns the candidate mentions of both extraction paths into one
// merged field set and a chronological timeline.
type Pipeline struct {
	cfg       *config.Config
	resolver  *temporal.Resolver
	clusterer *dedup.Clusterer
	merger    *merge.Merger
	assembler *timeline.Assembler
	pattern   MentionSource
	llm       MentionSource
}

// New creates a Pipeline. Nil sources read the mentions attached to each
// document.
func New(cfg *config.Config, lex *lexicon.Lexicon, pattern, llm MentionSource) *Pipeline {
	if lex == nil {
		lex = lexicon.Default()
	}
	if pattern == nil {
		pattern = NewStaticSource(model.OriginPattern)
	}
	if llm == nil {
		llm = NewStaticSource(model.OriginLLM)
	}
	clusterer := dedup.NewClusterer(cfg.Dedup.Config, lex)
	return &Pipeline{
		cfg:       cfg,
		resolver:  temporal.NewResolver(cfg.Temporal, lex),
		clusterer: clusterer,
		merger:    merge.NewMerger(cfg.Merge, clusterer),
		assembler: timeline.NewAssembler(cfg.Timeline),
		pattern:   pattern,
		llm:       llm,
	}
}

// Run processes one document. Malformed input never fails the run: source
// errors and reference date problems become warnings on the result. Only
// context cancellation returns an error.
func (p *Pipeline) Run(ctx context.Context, doc Document) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: run %s", doc.ID)
	}

	log := zap.L().With(zap.String("document", doc.ID))
	start := time.Now()

	result := &Result{DocumentID: doc.ID}
	for _, w := range doc.ReferenceDates.Validate() {
		log.Warn("pipeline: reference date warning", zap.String("warning", w))
		result.Warnings = append(result.Warnings, w)
	}

	// Both sources are collected in parallel; a failed source counts as empty.
	var patternMentions, llmMentions []model.CandidateMention
	var patternErr, llmErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		patternMentions, patternErr = p.pattern.Mentions(gctx, doc)
		return nil
	})
	g.Go(func() error {
		llmMentions, llmErr = p.llm.Mentions(gctx, doc)
		return nil
	})
	_ = g.Wait()

	for _, se := range []struct {
		origin model.OriginSource
		err    error
	}{{p.pattern.Origin(), patternErr}, {p.llm.Origin(), llmErr}} {
		if se.err == nil {
			continue
		}
		log.Warn("pipeline: mention source failed",
			zap.String("origin", string(se.origin)),
			zap.Error(se.err),
		)
		result.Warnings = append(result.Warnings, string(se.origin)+" source failed: "+se.err.Error())
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: run %s", doc.ID)
	}

	patternRes := p.Extract(model.OriginPattern, patternMentions, doc)
	llmRes := p.Extract(model.OriginLLM, llmMentions, doc)

	fields, records := p.merger.Merge(patternRes, llmRes)
	result.Fields = fields
	result.MergeRecords = records

	result.Timeline = p.assembler.Assemble(eventsOf(fields), doc.ReferenceDates)

	log.Info("pipeline: document complete",
		zap.Int("pattern_mentions", len(patternMentions)),
		zap.Int("llm_mentions", len(llmMentions)),
		zap.Int("timeline_events", result.Timeline.Metadata.TotalEvents),
		zap.Float64("completeness", result.Timeline.Metadata.Completeness.Score),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}

// RunRefined runs the document through Refine with the configured bounds.
func (p *Pipeline) RunRefined(ctx context.Context, doc Document) (*Result, error) {
	res, _, err := Refine(ctx, p.refineConfig(), func(ctx context.Context, _ int) (*Result, error) {
		return p.Run(ctx, doc)
	})
	return res, err
}

// refineConfig returns the refinement bounds. Static sources return the
// same mentions on every call, so with both static one attempt is enough.
func (p *Pipeline) refineConfig() config.RefineConfig {
	cfg := p.cfg.Refine
	_, patternStatic := p.pattern.(*StaticSource)
	_, llmStatic := p.llm.(*StaticSource)
	if patternStatic && llmStatic {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// Extract resolves and clusters one source's mentions into an extraction
// result. Every extracted entity type gets an event field, empty when the
// source found nothing; fields the source attached to the document are
// kept unless an event field of the same name exists.
func (p *Pipeline) Extract(origin model.OriginSource, mentions []model.CandidateMention, doc Document) model.ExtractionResult {
	annotated := p.resolver.Annotate(mentions, doc.Text, doc.ReferenceDates)
	clustered := p.clusterer.Cluster(annotated)

	byType := make(map[model.EntityType][]model.ResolvedEvent)
	for _, t := range model.ExtractedEntityTypes {
		byType[t] = []model.ResolvedEvent{}
	}
	for _, e := range clustered.All() {
		byType[e.EntityType] = append(byType[e.EntityType], e)
	}

	fields := make(map[string]model.FieldValue, len(byType))
	for t, events := range byType {
		fields[model.EventField(t)] = eventField(events)
	}
	for k, fv := range doc.Block(origin).Fields {
		if _, ok := fields[k]; !ok {
			fields[k] = fv
		}
	}

	zap.L().Debug("pipeline: source extracted",
		zap.String("document", doc.ID),
		zap.String("origin", string(origin)),
		zap.Int("mentions", len(mentions)),
		zap.Int("events", len(clustered.Events)),
		zap.Int("unlinked", len(clustered.Unlinked)),
	)
	return model.ExtractionResult{Source: origin, Fields: fields}
}

// eventField wraps events as a field whose confidence is the mean event
// confidence.
func eventField(events []model.ResolvedEvent) model.FieldValue {
	fv := model.FieldValue{Value: events}
	if len(events) == 0 {
		return fv
	}
	var sum float64
	for _, e := range events {
		sum += e.Confidence
	}
	fv.Confidence = sum / float64(len(events))
	return fv
}

// eventsOf collects the events of every event-valued field in field name
// order.
func eventsOf(fields map[string]model.FieldValue) []model.ResolvedEvent {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []model.ResolvedEvent
	for _, k := range keys {
		if events, ok := fields[k].Value.([]model.ResolvedEvent); ok {
			out = append(out, events...)
		}
	}
	return out
}
