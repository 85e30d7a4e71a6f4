package model

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType is the kind of clinical event a mention describes.
type EntityType string

const (
	EntityProcedure    EntityType = "procedure"
	EntityComplication EntityType = "complication"
	EntityMedication   EntityType = "medication"
	EntityImaging      EntityType = "imaging"

	// Milestones are derived from the reference date set, never extracted.
	EntityOnset     EntityType = "onset"
	EntityAdmission EntityType = "admission"
	EntityDischarge EntityType = "discharge"
)

// ExtractedEntityTypes lists the entity types produced by upstream extractors,
// in the order the pipeline processes them.
var ExtractedEntityTypes = []EntityType{EntityProcedure, EntityComplication, EntityMedication}

var typeRank = map[EntityType]int{
	EntityOnset:        0,
	EntityAdmission:    1,
	EntityProcedure:    2,
	EntityComplication: 3,
	EntityMedication:   4,
	EntityImaging:      5,
	EntityDischarge:    6,
}

// Rank orders entity types on the same day: onset and admission first,
// discharge last. Unknown types rank after all known ones.
func (t EntityType) Rank() int {
	if r, ok := typeRank[t]; ok {
		return r
	}
	return len(typeRank)
}

// LessType orders entity types by rank, then by name.
func LessType(a, b EntityType) bool {
	if a.Rank() != b.Rank() {
		return a.Rank() < b.Rank()
	}
	return a < b
}

// OriginSource identifies which extractor produced a mention or result.
type OriginSource string

const (
	OriginPattern OriginSource = "pattern"
	OriginLLM     OriginSource = "llm"
)

// MarkerKind is a relative-day marker type.
type MarkerKind string

const (
	MarkerPOD MarkerKind = "POD" // post-operative day
	MarkerHD  MarkerKind = "HD"  // hospital day
)

// TemporalMarker is a relative day marker such as POD#2 or HD#5.
type TemporalMarker struct {
	Kind MarkerKind `json:"kind"`
	N    int        `json:"n"`
}

// CandidateMention is one raw hit from an upstream extractor.
type CandidateMention struct {
	ID               string          `json:"id"`
	EntityType       EntityType      `json:"entity_type"`
	RawName          string          `json:"raw_name"`
	SourceOffset     int             `json:"source_offset"`
	ExplicitDateText string          `json:"explicit_date_text,omitempty"`
	TemporalMarker   *TemporalMarker `json:"temporal_marker,omitempty"`
	RawConfidence    float64         `json:"raw_confidence"`
	OriginSource     OriginSource    `json:"origin_source"`
}

// mentionNamespace scopes derived mention IDs.
var mentionNamespace = uuid.MustParse("7f1c2b1e-3d0a-4b8e-9a51-2f6a0c8d4e17")

// WithID returns a copy of m carrying a stable ID. Mentions that already
// have one are returned unchanged; otherwise the ID is a name-based UUID of
// the origin, entity type, offset and raw name, so repeated runs agree.
func (m CandidateMention) WithID() CandidateMention {
	if m.ID != "" {
		return m
	}
	key := fmt.Sprintf("%s|%s|%d|%s", m.OriginSource, m.EntityType, m.SourceOffset, m.RawName)
	m.ID = uuid.NewSHA1(mentionNamespace, []byte(key)).String()
	return m
}

// ClampedConfidence returns RawConfidence limited to [0, 1].
func (m CandidateMention) ClampedConfidence() float64 {
	switch {
	case m.RawConfidence < 0:
		return 0
	case m.RawConfidence > 1:
		return 1
	default:
		return m.RawConfidence
	}
}

// AnnotatedMention pairs a mention with its resolved temporal context.
//
// Resolved marks an already-resolved event fed back through the clusterer
// as a single mention. Members, UnlinkedMembers, Unlinked and
// PriorReferences then carry the event's existing membership forward in
// place of the mention's own ID, which is never generated for it.
type AnnotatedMention struct {
	Mention         CandidateMention `json:"mention"`
	Context         TemporalContext  `json:"context"`
	Resolved        bool             `json:"resolved,omitempty"`
	Members         []string         `json:"members,omitempty"`
	UnlinkedMembers []string         `json:"unlinked_members,omitempty"`
	Unlinked        bool             `json:"unlinked,omitempty"`
	PriorReferences int              `json:"prior_references,omitempty"`
}

// MemberIDs returns the mention IDs this annotated mention stands for.
func (a AnnotatedMention) MemberIDs() []string {
	if a.Resolved || len(a.Members) > 0 || len(a.UnlinkedMembers) > 0 {
		return a.Members
	}
	if a.Mention.ID == "" {
		return nil
	}
	return []string{a.Mention.ID}
}
