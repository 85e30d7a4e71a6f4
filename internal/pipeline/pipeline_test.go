package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sells-group/clinical-timeline/internal/config"
	"github.com/sells-group/clinical-timeline/internal/dedup"
	"github.com/sells-group/clinical-timeline/internal/merge"
	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/sells-group/clinical-timeline/internal/temporal"
	"github.com/sells-group/clinical-timeline/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const coilingNote = "Pt admitted with SAH from ruptured aneurysm. " +
	"Underwent coiling of PCOM aneurysm on 10/01/2024. " +
	"Tolerated the procedure without issue, extubated in the evening. " +
	"S/P coiling, POD#1, afebrile overnight. " +
	"Neuro exam stable with no new deficits noted by the team. " +
	"Post-coiling day 2 patient doing well."

func testConfig() *config.Config {
	return &config.Config{
		Temporal: temporal.DefaultConfig(),
		Dedup:    config.DedupConfig{Config: dedup.DefaultConfig()},
		Merge:    merge.DefaultConfig(),
		Timeline: timeline.DefaultConfig(),
		Refine:   config.RefineConfig{MaxAttempts: 3, QualityThreshold: 60},
	}
}

func oct(d int) *time.Time {
	t := model.Day(2024, time.October, d)
	return &t
}

func mentionIn(t *testing.T, text, id, raw string, et model.EntityType, conf float64) model.CandidateMention {
	t.Helper()
	idx := strings.Index(text, raw)
	require.GreaterOrEqual(t, idx, 0, "mention %q not in text", raw)
	return model.CandidateMention{
		ID:            id,
		EntityType:    et,
		RawName:       raw,
		SourceOffset:  idx,
		RawConfidence: conf,
	}
}

func coilingDocument(t *testing.T) Document {
	return Document{
		ID:   "doc-1",
		Text: coilingNote,
		Pattern: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, coilingNote, "m1", "coiling of PCOM aneurysm", model.EntityProcedure, 0.9),
			mentionIn(t, coilingNote, "m2", "S/P coiling", model.EntityProcedure, 0.7),
			mentionIn(t, coilingNote, "m3", "Post-coiling day 2", model.EntityProcedure, 0.7),
		}},
	}
}

func TestRun_ReferencesCollapseIntoOneEvent(t *testing.T) {
	p := New(testConfig(), nil, nil, nil)

	res, err := p.Run(context.Background(), coilingDocument(t))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Empty(t, res.Warnings)

	procs, ok := res.Fields[model.FieldProcedures].Value.([]model.ResolvedEvent)
	require.True(t, ok)
	require.Len(t, procs, 1)
	e := procs[0]
	assert.Equal(t, "coiling of PCOM aneurysm", e.CanonicalName)
	assert.Equal(t, oct(1), e.Date)
	assert.Equal(t, model.DateExplicit, e.DateSource)
	assert.Equal(t, 2, e.ReferenceCount)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, e.MemberMentionIDs)

	require.Len(t, res.MergeRecords, 3)
	assert.Equal(t, model.FieldComplications, res.MergeRecords[0].FieldName)
	assert.Equal(t, model.ChosenNone, res.MergeRecords[0].ChosenSource)
	assert.Equal(t, model.FieldProcedures, res.MergeRecords[2].FieldName)
	assert.Equal(t, string(model.OriginPattern), res.MergeRecords[2].ChosenSource)
	assert.Equal(t, merge.ReasonOtherEmpty, res.MergeRecords[2].Reason)

	require.Len(t, res.Timeline.Events, 1)
	assert.Equal(t, "coiling of PCOM aneurysm", res.Timeline.Events[0].CanonicalName)
	assert.InDelta(t, 100.0, res.Timeline.Metadata.Completeness.Score, 0.001)
}

func TestRun_RawNamesWithCueWordsCollapseIntoOneEvent(t *testing.T) {
	doc := Document{
		ID:   "doc-raw",
		Text: coilingNote,
		Pattern: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, coilingNote, "m1", "Underwent coiling of PCOM aneurysm", model.EntityProcedure, 0.9),
			mentionIn(t, coilingNote, "m2", "S/P coiling", model.EntityProcedure, 0.7),
			mentionIn(t, coilingNote, "m3", "Post-coiling day 2", model.EntityProcedure, 0.7),
		}},
	}
	p := New(testConfig(), nil, nil, nil)

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	procs, ok := res.Fields[model.FieldProcedures].Value.([]model.ResolvedEvent)
	require.True(t, ok)
	require.Len(t, procs, 1)
	e := procs[0]
	assert.Equal(t, "coiling of PCOM aneurysm", e.CanonicalName)
	assert.Equal(t, oct(1), e.Date)
	assert.Equal(t, model.DateExplicit, e.DateSource)
	assert.Equal(t, 2, e.ReferenceCount)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, e.MemberMentionIDs)
}

func TestRun_PatternEmptyUsesLLMArray(t *testing.T) {
	text := "Developed vasospasm on 10/06/2024."
	doc := Document{
		ID:   "doc-2",
		Text: text,
		LLM: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, text, "l1", "vasospasm", model.EntityComplication, 0.9),
		}},
	}
	p := New(testConfig(), nil, nil, nil)

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	var rec model.FieldMergeRecord
	for _, r := range res.MergeRecords {
		if r.FieldName == model.FieldComplications {
			rec = r
		}
	}
	assert.Equal(t, string(model.OriginLLM), rec.ChosenSource)
	assert.Equal(t, merge.ReasonOtherEmpty, rec.Reason)

	comps, ok := res.Fields[model.FieldComplications].Value.([]model.ResolvedEvent)
	require.True(t, ok)
	require.Len(t, comps, 1)
	assert.Equal(t, "vasospasm", comps[0].CanonicalName)
	assert.Equal(t, oct(6), comps[0].Date)
	assert.InDelta(t, 0.9, res.Fields[model.FieldComplications].Confidence, 0.001)
}

func TestRun_ProcedureDateInferredFromStay(t *testing.T) {
	text := "Aneurysm clipping performed without complication."
	doc := Document{
		ID:             "doc-3",
		Text:           text,
		ReferenceDates: model.ReferenceDateSet{Admission: oct(1), Discharge: oct(15)},
		Pattern: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, text, "p1", "clipping", model.EntityProcedure, 0.8),
		}},
	}
	cfg := testConfig()
	cfg.Timeline.IncludeMilestones = false
	p := New(cfg, nil, nil, nil)

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, res.Timeline.Events, 1)
	assert.Equal(t, oct(8), res.Timeline.Events[0].Date)
	assert.True(t, res.Timeline.Events[0].Inferred)
}

func TestRun_ReferenceDateWarnings(t *testing.T) {
	doc := Document{
		ID:             "doc-4",
		ReferenceDates: model.ReferenceDateSet{Admission: oct(10), Discharge: oct(2)},
	}
	p := New(testConfig(), nil, nil, nil)

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "discharge 2024-10-02 is before admission 2024-10-10")
}

func TestRun_SourceErrorBecomesWarning(t *testing.T) {
	failing := new(mockMentionSource)
	failing.On("Origin").Return(model.OriginLLM)
	failing.On("Mentions", mock.Anything, mock.Anything).Return(nil, errors.New("llm unavailable"))

	p := New(testConfig(), nil, nil, failing)

	res, err := p.Run(context.Background(), coilingDocument(t))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "llm source failed: llm unavailable", res.Warnings[0])

	procs := res.Fields[model.FieldProcedures].Value.([]model.ResolvedEvent)
	assert.Len(t, procs, 1)
	failing.AssertExpectations(t)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(), nil, nil, nil).Run(ctx, coilingDocument(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_MergesBothSources(t *testing.T) {
	text := "Underwent endovascular coiling on 10/01/2024. Coil embolization of the aneurysm was uncomplicated."
	doc := Document{
		ID:   "doc-5",
		Text: text,
		Pattern: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, text, "p1", "endovascular coiling", model.EntityProcedure, 0.6),
		}},
		LLM: SourceBlock{Mentions: []model.CandidateMention{
			mentionIn(t, text, "l1", "Coil embolization", model.EntityProcedure, 0.5),
		}},
	}
	p := New(testConfig(), nil, nil, nil)

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	procs := res.Fields[model.FieldProcedures].Value.([]model.ResolvedEvent)
	require.Len(t, procs, 1)
	assert.ElementsMatch(t, []string{"p1", "l1"}, procs[0].MemberMentionIDs)

	for _, r := range res.MergeRecords {
		if r.FieldName == model.FieldProcedures {
			assert.Equal(t, merge.ReasonCombined, r.Reason)
			assert.Equal(t, model.ChosenCombined, r.ChosenSource)
		}
	}
}

func TestExtract_AlwaysHasEventFields(t *testing.T) {
	p := New(testConfig(), nil, nil, nil)
	doc := Document{
		ID: "doc-6",
		Pattern: SourceBlock{Fields: map[string]model.FieldValue{
			"aneurysm_location": {Value: "PCOM", Confidence: 0.8},
			model.FieldProcedures: {Value: []any{"ignored"}, Confidence: 1},
		}},
	}

	res := p.Extract(model.OriginPattern, nil, doc)
	assert.Equal(t, model.OriginPattern, res.Source)
	for _, t2 := range model.ExtractedEntityTypes {
		fv, ok := res.Fields[model.EventField(t2)]
		require.True(t, ok, t2)
		assert.Empty(t, fv.Value)
		assert.Equal(t, 0.0, fv.Confidence)
	}
	assert.Equal(t, "PCOM", res.Fields["aneurysm_location"].Value)
	assert.IsType(t, []model.ResolvedEvent{}, res.Fields[model.FieldProcedures].Value)
}

func TestRun_Deterministic(t *testing.T) {
	p := New(testConfig(), nil, nil, nil)
	doc := coilingDocument(t)

	first, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
