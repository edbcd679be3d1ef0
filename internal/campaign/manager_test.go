package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscore/internal/events"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *recordingPublisher) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	pub := &recordingPublisher{}
	return NewManager(st, pub), pub
}

func lead(i int) model.Lead {
	return model.Lead{RowIndex: i, Probability: 0.2, PredictionLabel: "no", RiskLevel: model.RiskLow}
}

func TestManager_StartThenComplete(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()

	c, err := m.Start(ctx, model.NewCampaign{Name: "Spring", SourceFilename: "a.csv", TotalRows: 2, CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusProcessing, c.Status)
	assert.Zero(t, c.ProcessedRows)
	assert.Nil(t, c.AvgProbability)

	avg := 0.2
	done, err := m.Complete(ctx, c.ID, model.ScoreSummary{ProcessedRows: 2, AvgProbability: &avg, ConversionLow: 2}, []model.Lead{lead(0), lead(1)})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, done.Status)
	assert.Equal(t, done.TotalRows, done.ProcessedRows+done.DroppedRows)
	assert.Equal(t, 2, done.ConversionLow)

	assert.Equal(t, []events.Type{events.CampaignCreated, events.CampaignCompleted}, pub.types())
}

func TestManager_CompleteRejectsCountMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	c, err := m.Start(ctx, model.NewCampaign{Name: "n", SourceFilename: "a.csv", TotalRows: 3, CreatedBy: "u1"})
	require.NoError(t, err)

	_, err = m.Complete(ctx, c.ID, model.ScoreSummary{ProcessedRows: 3}, []model.Lead{lead(0)})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindReconciliation))

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusProcessing, got.Status)
}

func TestManager_FailIsTerminal(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()

	c, err := m.Start(ctx, model.NewCampaign{Name: "n", SourceFilename: "a.csv", TotalRows: 1, CreatedBy: "u1"})
	require.NoError(t, err)

	failed, err := m.Fail(ctx, c.ID, "ML service unreachable")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusFailed, failed.Status)

	_, err = m.Complete(ctx, c.ID, model.ScoreSummary{ProcessedRows: 1}, []model.Lead{lead(0)})
	assert.True(t, failure.Is(err, failure.KindConflict))

	_, err = m.Fail(ctx, c.ID, "second")
	assert.True(t, failure.Is(err, failure.KindConflict))

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ML service unreachable", *got.ErrorMessage)
	assert.Equal(t, []events.Type{events.CampaignCreated, events.CampaignFailed}, pub.types())
}

func TestManager_GetAndDeleteMissing(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.True(t, failure.Is(err, failure.KindNotFound))

	err = m.Delete(ctx, "missing", "u1")
	assert.True(t, failure.Is(err, failure.KindNotFound))
}

func TestManager_DeleteAndList(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()

	a, err := m.Start(ctx, model.NewCampaign{Name: "a", SourceFilename: "a.csv", TotalRows: 1, CreatedBy: "u1"})
	require.NoError(t, err)
	_, err = m.Start(ctx, model.NewCampaign{Name: "b", SourceFilename: "b.csv", TotalRows: 1, CreatedBy: "u2"})
	require.NoError(t, err)

	list, err := m.List(ctx, store.CampaignFilter{CreatedBy: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.Delete(ctx, a.ID, "u1"))
	list, err = m.List(ctx, store.CampaignFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Contains(t, pub.types(), events.CampaignDeleted)
}

func TestManager_PublishFailureDoesNotFailTransition(t *testing.T) {
	m, pub := newTestManager(t)
	pub.err = errors.New("broker down")

	c, err := m.Start(context.Background(), model.NewCampaign{Name: "n", SourceFilename: "a.csv", TotalRows: 1, CreatedBy: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
}

func TestNewManager_NilPublisher(t *testing.T) {
	m := NewManager(nil, nil)
	_, ok := m.publisher.(events.Nop)
	assert.True(t, ok)
}
