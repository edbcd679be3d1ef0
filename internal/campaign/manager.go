// Package campaign owns the campaign state machine: a campaign opens in
// processing and ends in exactly one of completed or failed.
package campaign

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/events"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/store"
)

// Manager drives campaign transitions through the store and announces them
// on the event publisher.
type Manager struct {
	store     store.Store
	publisher events.Publisher
}

// NewManager creates a Manager. A nil publisher disables events.
func NewManager(st store.Store, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{store: st, publisher: pub}
}

// Start opens a campaign in processing with no aggregates.
func (m *Manager) Start(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error) {
	c, err := m.store.CreateCampaign(ctx, nc)
	if err != nil {
		return nil, err
	}

	zap.L().Info("campaign: started",
		zap.String("campaign_id", c.ID),
		zap.String("name", c.Name),
		zap.Int("total_rows", c.TotalRows),
		zap.String("created_by", c.CreatedBy),
	)
	m.publish(ctx, events.New(events.CampaignCreated, c.ID, c, nc.CreatedBy))
	return c, nil
}

// Complete persists leads and copies the scorer's summary onto the campaign
// verbatim. The lead count must match the summary's processed rows.
func (m *Manager) Complete(ctx context.Context, id string, summary model.ScoreSummary, leads []model.Lead) (*model.Campaign, error) {
	if len(leads) != summary.ProcessedRows {
		return nil, failure.Reconciliation(fmt.Sprintf(
			"Scorer reported %d processed rows but %d predictions were reconciled", summary.ProcessedRows, len(leads)))
	}

	c, err := m.store.CompleteCampaign(ctx, id, summary, leads)
	if err != nil {
		return nil, err
	}

	zap.L().Info("campaign: completed",
		zap.String("campaign_id", id),
		zap.Int("processed_rows", c.ProcessedRows),
		zap.Int("dropped_rows", c.DroppedRows),
	)
	m.publish(ctx, events.New(events.CampaignCompleted, id, c, c.CreatedBy))
	return c, nil
}

// Fail moves a processing campaign to failed with a human-readable reason.
func (m *Manager) Fail(ctx context.Context, id string, reason string) (*model.Campaign, error) {
	c, err := m.store.FailCampaign(ctx, id, reason)
	if err != nil {
		zap.L().Error("campaign: mark failed",
			zap.String("campaign_id", id),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}

	zap.L().Warn("campaign: failed",
		zap.String("campaign_id", id),
		zap.String("reason", reason),
	)
	m.publish(ctx, events.New(events.CampaignFailed, id, c, c.CreatedBy))
	return c, nil
}

// Get returns a campaign or a not-found failure.
func (m *Manager) Get(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, failure.NotFound("Campaign not found")
	}
	return c, nil
}

// List returns campaigns newest first.
func (m *Manager) List(ctx context.Context, filter store.CampaignFilter) ([]model.Campaign, error) {
	return m.store.ListCampaigns(ctx, filter)
}

// Delete removes a campaign and, by cascade, its leads.
func (m *Manager) Delete(ctx context.Context, id string, actor string) error {
	ok, err := m.store.DeleteCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return failure.NotFound("Campaign not found")
	}

	zap.L().Info("campaign: deleted", zap.String("campaign_id", id), zap.String("actor", actor))
	m.publish(ctx, events.New(events.CampaignDeleted, id, nil, actor))
	return nil
}

// publish never fails the caller; the store is the source of truth.
func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if err := m.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		zap.L().Warn("campaign: publish event",
			zap.String("type", string(ev.Type)),
			zap.String("campaign_id", ev.CampaignID),
			zap.Error(err),
		)
	}
}
