package pipeline

import (
	"context"

	"github.com/sells-group/clinical-timeline/internal/model"
)

// MentionSource produces candidate mentions for a document. Pattern
// matchers and LLM extractors are both sources; the core only relies on
// the CandidateMention record shape.
type MentionSource interface {
	Origin() model.OriginSource
	Mentions(ctx context.Context, doc Document) ([]model.CandidateMention, error)
}

// StaticSource serves the mentions already attached to a document for one
// origin.
type StaticSource struct {
	origin model.OriginSource
}

// NewStaticSource creates a source reading the document's block for origin.
func NewStaticSource(origin model.OriginSource) *StaticSource {
	return &StaticSource{origin: origin}
}

// Origin implements MentionSource.
func (s *StaticSource) Origin() model.OriginSource {
	return s.origin
}

// Mentions implements MentionSource. Mentions without an origin are
// stamped with the source's origin.
func (s *StaticSource) Mentions(_ context.Context, doc Document) ([]model.CandidateMention, error) {
	block := doc.Block(s.origin)
	out := make([]model.CandidateMention, len(block.Mentions))
	for i, m := range block.Mentions {
		if m.OriginSource == "" {
			m.OriginSource = s.origin
		}
		out[i] = m
	}
	return out, nil
}
