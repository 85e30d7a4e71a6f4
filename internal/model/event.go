package model

import (
	"slices"
	"time"
)

// DateSource records how an event date was obtained.
type DateSource string

const (
	DateExplicit    DateSource = "explicit"
	DatePODResolved DateSource = "pod_resolved"
	DateHDResolved  DateSource = "hd_resolved"
	DateInferred    DateSource = "inferred"
	DateUnresolved  DateSource = "unresolved"
)

// TemporalContext is the resolved annotation attached to a mention.
type TemporalContext struct {
	IsReference  bool       `json:"is_reference"`
	POD          *int       `json:"pod,omitempty"`
	HD           *int       `json:"hd,omitempty"`
	ResolvedDate *time.Time `json:"resolved_date,omitempty"`
	AnchorDate   *time.Time `json:"anchor_date,omitempty"`
	DateSource   DateSource `json:"date_source"`
}

// ResolvedEvent is a canonical, deduplicated clinical event.
//
// Every input mention ends up in exactly one event: in MemberMentionIDs for
// clustered new events and linked references, or in UnlinkedMentionIDs for
// standalone events built from references that matched nothing.
type ResolvedEvent struct {
	EntityType         EntityType `json:"entity_type"`
	CanonicalName      string     `json:"canonical_name"`
	Date               *time.Time `json:"date,omitempty"`
	DateSource         DateSource `json:"date_source"`
	Confidence         float64    `json:"confidence"`
	MemberMentionIDs   []string   `json:"member_mention_ids"`
	UnlinkedMentionIDs []string   `json:"unlinked_mention_ids,omitempty"`
	ReferenceCount     int        `json:"reference_count"`
	Unlinked           bool       `json:"unlinked,omitempty"`
}

// Clone returns a deep copy of e.
func (e ResolvedEvent) Clone() ResolvedEvent {
	out := e
	if e.Date != nil {
		d := *e.Date
		out.Date = &d
	}
	out.MemberMentionIDs = slices.Clone(e.MemberMentionIDs)
	out.UnlinkedMentionIDs = slices.Clone(e.UnlinkedMentionIDs)
	return out
}

// AllMentionIDs returns member and unlinked mention IDs together.
func (e ResolvedEvent) AllMentionIDs() []string {
	ids := make([]string, 0, len(e.MemberMentionIDs)+len(e.UnlinkedMentionIDs))
	ids = append(ids, e.MemberMentionIDs...)
	return append(ids, e.UnlinkedMentionIDs...)
}

// Key returns the composite identity used to drop exact duplicates.
func (e ResolvedEvent) Key() string {
	return string(e.EntityType) + "|" + e.CanonicalName + "|" + FormatDate(e.Date)
}
