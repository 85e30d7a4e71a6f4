// Package merge combines the pattern-path and LLM-path extraction results of
// one document field by field, recording an auditable decision per field.
package merge

import (
	"fmt"
	"reflect"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/dedup"
	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/model"
)

// Merge reasons recorded on FieldMergeRecord.
const (
	ReasonBothEmpty    = "both sources empty"
	ReasonOtherEmpty   = "other source empty"
	ReasonLLMAbove     = "llm confidence above threshold"
	ReasonCombined     = "combined and deduplicated"
	ReasonHigherConf   = "higher confidence"
	ReasonTiePattern   = "equal confidence, pattern preferred"
	ReasonLongerArray  = "equal confidence, longer array"
	ReasonKeyByKey     = "merged key-by-key"
	ReasonIncompatible = "incompatible arrays, higher confidence"
)

// Config controls the merge policy.
type Config struct {
	// LLMThreshold is the LLM confidence at or above which its value is
	// preferred outright. Default: 0.75.
	LLMThreshold float64 `yaml:"llm_threshold" mapstructure:"llm_threshold"`
	// ContradictionThreshold is the confidence both sides need for a
	// disagreement to be logged. Default: 0.5.
	ContradictionThreshold float64 `yaml:"contradiction_threshold" mapstructure:"contradiction_threshold"`
}

// DefaultConfig returns the default merge configuration.
func DefaultConfig() Config {
	return Config{LLMThreshold: 0.75, ContradictionThreshold: 0.5}
}

// Merger merges two extraction results. It is stateless and safe for
// concurrent use.
type Merger struct {
	cfg       Config
	clusterer *dedup.Clusterer
}

// NewMerger creates a Merger that deduplicates combined event arrays with
// clusterer. A nil clusterer uses the default clustering configuration.
func NewMerger(cfg Config, clusterer *dedup.Clusterer) *Merger {
	if clusterer == nil {
		clusterer = dedup.NewClusterer(dedup.DefaultConfig(), nil)
	}
	return &Merger{cfg: cfg, clusterer: clusterer}
}

// Merge merges every field present in either result. Records are returned
// sorted by field name.
func (m *Merger) Merge(pattern, llm model.ExtractionResult) (map[string]model.FieldValue, []model.FieldMergeRecord) {
	names := make(map[string]bool, len(pattern.Fields)+len(llm.Fields))
	for k := range pattern.Fields {
		names[k] = true
	}
	for k := range llm.Fields {
		names[k] = true
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]model.FieldValue, len(keys))
	records := make([]model.FieldMergeRecord, 0, len(keys))
	for _, k := range keys {
		fv, rec := m.MergeField(k, pattern.Field(k), llm.Field(k))
		merged[k] = fv
		records = append(records, rec)
	}
	return merged, records
}

// MergeField decides one field. It is a pure function of its inputs: the
// same arguments always give the same value and record.
func (m *Merger) MergeField(name string, pattern, llm *model.FieldValue) (model.FieldValue, model.FieldMergeRecord) {
	rec := model.FieldMergeRecord{FieldName: name}

	pEmpty, lEmpty := isEmpty(pattern), isEmpty(llm)
	switch {
	case pEmpty && lEmpty:
		fv := model.FieldValue{}
		if pattern != nil {
			fv.Value = pattern.Value
		} else if llm != nil {
			fv.Value = llm.Value
		}
		rec.ChosenSource = model.ChosenNone
		rec.ChosenValue = fv.Value
		rec.Reason = ReasonBothEmpty
		return fv, rec
	case pEmpty:
		return m.choose(rec, model.OriginLLM, *llm, pattern, ReasonOtherEmpty)
	case lEmpty:
		return m.choose(rec, model.OriginPattern, *pattern, llm, ReasonOtherEmpty)
	}

	if isSlice(pattern.Value) || isSlice(llm.Value) {
		return m.mergeArray(rec, *pattern, *llm)
	}
	if pm, ok := pattern.Value.(map[string]any); ok {
		if lm, ok := llm.Value.(map[string]any); ok {
			return m.mergeObject(rec, pm, pattern.Confidence, lm, llm.Confidence)
		}
	}
	return m.mergeScalar(rec, *pattern, *llm)
}

func (m *Merger) choose(rec model.FieldMergeRecord, source model.OriginSource, chosen model.FieldValue, other *model.FieldValue, reason string) (model.FieldValue, model.FieldMergeRecord) {
	rec.ChosenSource = string(source)
	rec.ChosenValue = chosen.Value
	if other != nil {
		rec.AlternativeValue = other.Value
	}
	rec.Confidence = chosen.Confidence
	rec.Reason = reason
	return chosen, rec
}

func (m *Merger) mergeArray(rec model.FieldMergeRecord, pattern, llm model.FieldValue) (model.FieldValue, model.FieldMergeRecord) {
	if llm.Confidence >= m.cfg.LLMThreshold {
		return m.choose(rec, model.OriginLLM, llm, &pattern, ReasonLLMAbove)
	}

	if combined, ok := m.union(pattern.Value, llm.Value); ok {
		fv := model.FieldValue{Value: combined, Confidence: max(pattern.Confidence, llm.Confidence)}
		rec.ChosenSource = model.ChosenCombined
		rec.ChosenValue = combined
		rec.Confidence = fv.Confidence
		rec.Reason = ReasonCombined
		return fv, rec
	}

	switch {
	case pattern.Confidence > llm.Confidence:
		return m.choose(rec, model.OriginPattern, pattern, &llm, ReasonIncompatible)
	case llm.Confidence > pattern.Confidence:
		return m.choose(rec, model.OriginLLM, llm, &pattern, ReasonIncompatible)
	case sliceLen(llm.Value) > sliceLen(pattern.Value):
		return m.choose(rec, model.OriginLLM, llm, &pattern, ReasonLongerArray)
	default:
		return m.choose(rec, model.OriginPattern, pattern, &llm, ReasonLongerArray)
	}
}

// union concatenates two arrays of the same element kind and removes
// duplicates. Event arrays go back through the clusterer.
func (m *Merger) union(a, b any) (any, bool) {
	switch av := a.(type) {
	case []model.ResolvedEvent:
		bv, ok := b.([]model.ResolvedEvent)
		if !ok {
			return nil, false
		}
		all := make([]model.ResolvedEvent, 0, len(av)+len(bv))
		all = append(all, av...)
		all = append(all, bv...)
		return m.clusterer.Recluster(all).All(), true

	case []string:
		bv, ok := b.([]string)
		if !ok {
			return nil, false
		}
		seen := make(map[string]bool, len(av)+len(bv))
		var out []string
		for _, s := range slices.Concat(av, bv) {
			key := lexicon.Normalize(s)
			if key == "" {
				key = s
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
		return out, true

	case []any:
		bv, ok := b.([]any)
		if !ok {
			return nil, false
		}
		seen := make(map[string]bool, len(av)+len(bv))
		var out []any
		for _, v := range slices.Concat(av, bv) {
			key := valueKey(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
		return out, true
	}
	return nil, false
}

func (m *Merger) mergeObject(rec model.FieldMergeRecord, pattern map[string]any, pConf float64, llm map[string]any, lConf float64) (model.FieldValue, model.FieldMergeRecord) {
	keys := make([]string, 0, len(pattern)+len(llm))
	for k := range pattern {
		keys = append(keys, k)
	}
	for k := range llm {
		if _, ok := pattern[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	fromPattern, fromLLM := false, false
	for _, k := range keys {
		pv, lv := pattern[k], llm[k]
		pHas, lHas := !isEmptyValue(pv), !isEmptyValue(lv)
		if pHas && lHas {
			m.checkContradiction(rec.FieldName+"."+k, pv, pConf, lv, lConf)
		}
		switch {
		case lHas && lConf >= m.cfg.LLMThreshold:
			out[k] = lv
			fromLLM = true
		case pHas:
			out[k] = pv
			fromPattern = true
		case lHas:
			out[k] = lv
			fromLLM = true
		default:
			out[k] = pv
		}
	}

	fv := model.FieldValue{Value: out}
	switch {
	case fromPattern && fromLLM:
		rec.ChosenSource = model.ChosenCombined
		fv.Confidence = max(pConf, lConf)
	case fromLLM:
		rec.ChosenSource = string(model.OriginLLM)
		rec.AlternativeValue = pattern
		fv.Confidence = lConf
	default:
		rec.ChosenSource = string(model.OriginPattern)
		rec.AlternativeValue = llm
		fv.Confidence = pConf
	}
	rec.ChosenValue = out
	rec.Confidence = fv.Confidence
	rec.Reason = ReasonKeyByKey
	return fv, rec
}

func (m *Merger) mergeScalar(rec model.FieldMergeRecord, pattern, llm model.FieldValue) (model.FieldValue, model.FieldMergeRecord) {
	m.checkContradiction(rec.FieldName, pattern.Value, pattern.Confidence, llm.Value, llm.Confidence)

	switch {
	case llm.Confidence >= m.cfg.LLMThreshold:
		return m.choose(rec, model.OriginLLM, llm, &pattern, ReasonLLMAbove)
	case llm.Confidence > pattern.Confidence:
		return m.choose(rec, model.OriginLLM, llm, &pattern, ReasonHigherConf)
	case pattern.Confidence > llm.Confidence:
		return m.choose(rec, model.OriginPattern, pattern, &llm, ReasonHigherConf)
	default:
		return m.choose(rec, model.OriginPattern, pattern, &llm, ReasonTiePattern)
	}
}

// checkContradiction logs when both sources are reasonably confident in
// different values.
func (m *Merger) checkContradiction(field string, pv any, pConf float64, lv any, lConf float64) {
	if pConf < m.cfg.ContradictionThreshold || lConf < m.cfg.ContradictionThreshold {
		return
	}
	if valueKey(pv) == valueKey(lv) {
		return
	}
	zap.L().Warn("merge: source contradiction detected",
		zap.String("field", field),
		zap.Any("pattern_value", pv),
		zap.Float64("pattern_conf", pConf),
		zap.Any("llm_value", lv),
		zap.Float64("llm_conf", lConf),
	)
}

func isEmpty(fv *model.FieldValue) bool {
	return fv == nil || isEmptyValue(fv.Value)
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func isSlice(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Slice
}

func sliceLen(v any) int {
	if !isSlice(v) {
		return 0
	}
	return reflect.ValueOf(v).Len()
}

// valueKey renders a value for equality checks. Strings compare by their
// normalized form.
func valueKey(v any) string {
	if s, ok := v.(string); ok {
		if n := lexicon.Normalize(s); n != "" {
			return n
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}
