package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

// --- Scorer Mock ---

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) BulkScore(ctx context.Context, filename string, payload []byte) (*mlscorer.BulkResponse, error) {
	args := m.Called(ctx, filename, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mlscorer.BulkResponse), args.Error(1)
}

func (m *mockScorer) Score(ctx context.Context, in model.ScoreInput) (*model.Prediction, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prediction), args.Error(1)
}

func (m *mockScorer) Health(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// bulk decodes a scorer response body the way the client would.
func bulk(t *testing.T, body string) *mlscorer.BulkResponse {
	t.Helper()
	var r mlscorer.BulkResponse
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return &r
}
