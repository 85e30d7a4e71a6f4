package model

import "time"

// Relation buckets for the gap between consecutive dated timeline entries.
const (
	RelationSameDay      = "same day"
	RelationNextDay      = "next day"
	RelationShortlyAfter = "shortly after"
	RelationDaysLater    = "days later"
	RelationWeeksLater   = "weeks later"
)

// TimelineEntry is an annotated copy of a resolved event placed on the
// timeline.
type TimelineEntry struct {
	ResolvedEvent
	Inferred          bool   `json:"inferred,omitempty"`
	Milestone         bool   `json:"milestone,omitempty"`
	DaysSincePrevious *int   `json:"days_since_previous,omitempty"`
	Relation          string `json:"relation,omitempty"`
}

// DateRange spans the dated entries of a timeline.
type DateRange struct {
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	DurationDays int        `json:"duration_days"`
}

// Completeness measures how many timeline entries carry a date.
type Completeness struct {
	Score     float64 `json:"score"`
	WithDates int     `json:"with_dates"`
	Total     int     `json:"total"`
}

// TimelineMetadata summarizes a timeline.
type TimelineMetadata struct {
	TotalEvents  int          `json:"total_events"`
	DateRange    DateRange    `json:"date_range"`
	Completeness Completeness `json:"completeness"`
}

// Timeline is the ordered event sequence for one document.
type Timeline struct {
	Events         []TimelineEntry  `json:"events"`
	ReferenceDates ReferenceDateSet `json:"reference_dates"`
	Metadata       TimelineMetadata `json:"metadata"`
}
