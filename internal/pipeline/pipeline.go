// Package pipeline scores an uploaded table end to end: it gates the upload,
// opens a campaign, sends the rows to the scorer, joins predictions back to
// their rows and completes or fails the campaign.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/campaign"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/tabular"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

const (
	defaultTimeout = 120 * time.Second
	failTimeout    = 30 * time.Second
)

// Result is a completed ingestion.
type Result struct {
	Campaign    *model.Campaign    `json:"campaign" yaml:"campaign"`
	Summary     model.ScoreSummary `json:"summary" yaml:"summary"`
	InvalidRows []json.RawMessage  `json:"invalid_rows" yaml:"-"`
}

// CampaignError reports a campaign that was opened and then failed. The
// wrapped error carries the failure kind.
type CampaignError struct {
	CampaignID string
	Err        error
}

func (e *CampaignError) Error() string {
	return fmt.Sprintf("campaign %s failed: %s", e.CampaignID, failure.Message(e.Err))
}

func (e *CampaignError) Unwrap() error {
	return e.Err
}

// Pipeline runs ingestions. It is safe for concurrent use; independent
// uploads share nothing but the store.
type Pipeline struct {
	validator *ingest.Validator
	scorer    mlscorer.Client
	campaigns *campaign.Manager
	timeout   time.Duration
}

// New creates a Pipeline. timeout bounds scoring plus persistence; zero
// selects the default.
func New(v *ingest.Validator, scorer mlscorer.Client, mgr *campaign.Manager, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pipeline{validator: v, scorer: scorer, campaigns: mgr, timeout: timeout}
}

// Ingest validates u, opens a campaign for it and scores it. Validation
// failures return before any campaign exists. Every later failure leaves
// the campaign failed and is returned as a *CampaignError.
//
// Once the campaign is open the work runs detached from ctx's
// cancellation, bounded by the pipeline timeout, so a disconnected caller
// cannot strand it in processing.
func (p *Pipeline) Ingest(ctx context.Context, u *ingest.Upload, createdBy string) (*Result, error) {
	tbl, err := p.validator.Prepare(u)
	if err != nil {
		return nil, err
	}

	c, err := p.campaigns.Start(ctx, model.NewCampaign{
		Name:           strings.TrimSpace(u.CampaignName),
		SourceFilename: u.Filename,
		TotalRows:      tbl.Len(),
		CreatedBy:      createdBy,
	})
	if err != nil {
		return nil, err
	}

	base := context.WithoutCancel(ctx)
	sctx, cancel := context.WithTimeout(base, p.timeout)
	defer cancel()

	log := zap.L().With(zap.String("campaign_id", c.ID), zap.String("filename", u.Filename))
	start := time.Now()

	res, err := p.score(sctx, c, tbl, u.Filename)
	if err != nil {
		log.Error("pipeline: scoring failed",
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		fctx, fcancel := context.WithTimeout(base, failTimeout)
		defer fcancel()
		if _, ferr := p.campaigns.Fail(fctx, c.ID, failure.Message(err)); ferr != nil {
			log.Error("pipeline: could not mark campaign failed", zap.Error(ferr))
		}
		return nil, &CampaignError{CampaignID: c.ID, Err: err}
	}

	log.Info("pipeline: campaign scored",
		zap.Int("total_rows", c.TotalRows),
		zap.Int("processed_rows", res.Summary.ProcessedRows),
		zap.Int("dropped_rows", res.Summary.DroppedRows),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (p *Pipeline) score(ctx context.Context, c *model.Campaign, tbl *tabular.Table, filename string) (*Result, error) {
	resp, err := p.scorer.BulkScore(ctx, filename, tbl.WireCSV())
	if err != nil {
		return nil, err
	}

	summary, err := interpret(resp, tbl.Len())
	if err != nil {
		return nil, err
	}

	leads, err := Reconcile(tbl, resp.Predictions)
	if err != nil {
		return nil, err
	}

	done, err := p.campaigns.Complete(ctx, c.ID, summary, leads)
	if err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			return nil, failure.Persistence(err, "Failed to save scored leads")
		}
		return nil, err
	}

	invalid := resp.InvalidRows
	if invalid == nil {
		invalid = []json.RawMessage{}
	}
	return &Result{Campaign: done, Summary: summary, InvalidRows: invalid}, nil
}

// interpret checks the bulk response against the scorer contract and
// returns its summary.
func interpret(resp *mlscorer.BulkResponse, totalRows int) (model.ScoreSummary, error) {
	if !resp.Succeeded() {
		return model.ScoreSummary{}, failure.ScoringContract("ML inference failed")
	}
	if err := resp.Summary.Check(); err != nil {
		return model.ScoreSummary{}, failure.ScoringContract("Malformed response from ML service: " + err.Error())
	}

	summary := resp.Summary.Model()
	if summary.ProcessedRows+summary.DroppedRows != totalRows {
		return model.ScoreSummary{}, failure.ScoringContract(fmt.Sprintf(
			"ML service accounted for %d processed and %d dropped rows, but the file has %d",
			summary.ProcessedRows, summary.DroppedRows, totalRows))
	}
	if len(resp.Predictions) != summary.ProcessedRows {
		return model.ScoreSummary{}, failure.ScoringContract(fmt.Sprintf(
			"ML service returned %d predictions for %d processed rows",
			len(resp.Predictions), summary.ProcessedRows))
	}
	for i := range resp.Predictions {
		if err := resp.Predictions[i].Check(true); err != nil {
			return model.ScoreSummary{}, failure.ScoringContract(fmt.Sprintf("Invalid prediction %d from ML service: %s", i, err.Error()))
		}
	}
	return summary, nil
}
