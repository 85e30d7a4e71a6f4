package model

// Top-level field names shared by both extraction paths.
const (
	FieldProcedures    = "procedures"
	FieldComplications = "complications"
	FieldMedications   = "medications"
)

// EventField maps an extracted entity type to its result field name.
func EventField(t EntityType) string {
	switch t {
	case EntityProcedure:
		return FieldProcedures
	case EntityComplication:
		return FieldComplications
	case EntityMedication:
		return FieldMedications
	default:
		return string(t)
	}
}

// FieldValue is one field of an extraction result with the producer's
// confidence in it.
type FieldValue struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is the structured output of one extraction path.
type ExtractionResult struct {
	Source OriginSource          `json:"source"`
	Fields map[string]FieldValue `json:"fields"`
}

// Field returns the named field, or nil if absent.
func (r ExtractionResult) Field(name string) *FieldValue {
	fv, ok := r.Fields[name]
	if !ok {
		return nil
	}
	return &fv
}

// Chosen sources recorded on a FieldMergeRecord beyond the two origins.
const (
	ChosenCombined = "combined"
	ChosenNone     = "none"
)

// FieldMergeRecord is the audit trail of one cross-source field decision.
type FieldMergeRecord struct {
	FieldName        string  `json:"field_name"`
	ChosenSource     string  `json:"chosen_source"`
	ChosenValue      any     `json:"chosen_value"`
	AlternativeValue any     `json:"alternative_value"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
}
