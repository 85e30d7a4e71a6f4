package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/clinical-timeline/internal/model"
)

// --- MentionSource Mock ---

type mockMentionSource struct {
	mock.Mock
}

func (m *mockMentionSource) Origin() model.OriginSource {
	args := m.Called()
	return args.Get(0).(model.OriginSource)
}

func (m *mockMentionSource) Mentions(ctx context.Context, doc Document) ([]model.CandidateMention, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateMention), args.Error(1)
}
