package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-timeline/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	DocumentID string `json:"document_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// EventRecord is one timeline entry of a stored run, flattened for
// querying.
type EventRecord struct {
	RunID         string           `json:"run_id"`
	Position      int              `json:"position"`
	EntityType    model.EntityType `json:"entity_type"`
	CanonicalName string           `json:"canonical_name"`
	Date          *time.Time       `json:"date,omitempty"`
	DateSource    model.DateSource `json:"date_source"`
	Confidence    float64          `json:"confidence"`
	Inferred      bool             `json:"inferred"`
	Relation      string           `json:"relation,omitempty"`
}

// Store persists pipeline runs and their timelines.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, documentID string, result *model.RunResult) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Timeline events
	ListEvents(ctx context.Context, runID string) ([]EventRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store for driver ("sqlite" or "postgres"). pool tunes the
// Postgres connection pool and may be nil.
func New(ctx context.Context, driver, dsn string, pool *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func eventRecords(runID string, tl model.Timeline) []EventRecord {
	out := make([]EventRecord, len(tl.Events))
	for i, e := range tl.Events {
		out[i] = EventRecord{
			RunID:         runID,
			Position:      i,
			EntityType:    e.EntityType,
			CanonicalName: e.CanonicalName,
			Date:          e.Date,
			DateSource:    e.DateSource,
			Confidence:    e.Confidence,
			Inferred:      e.Inferred,
			Relation:      e.Relation,
		}
	}
	return out
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
