package store

import (
	"context"

	"github.com/sells-group/leadscore/internal/model"
)

// CampaignFilter specifies criteria for listing campaigns.
type CampaignFilter struct {
	CreatedBy string `json:"created_by,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// LeadFilter narrows a campaign's leads. Zero fields do not filter; all
// set fields must match.
type LeadFilter struct {
	RiskLevel      model.RiskLevel `json:"risk_level,omitempty"`
	MinProbability *float64        `json:"min_probability,omitempty"`
	MaxProbability *float64        `json:"max_probability,omitempty"`
	Job            string          `json:"job,omitempty"`
	Education      string          `json:"education,omitempty"`
	Marital        string          `json:"marital,omitempty"`
	Contact        string          `json:"contact,omitempty"`
}

// SortField names a sortable lead column.
type SortField string

const (
	SortProbability SortField = "probability"
	SortAge         SortField = "age"
	SortBalance     SortField = "balance"
	SortCreatedAt   SortField = "created_at"
)

// sortColumns maps sort fields to trusted column names. Only these are ever
// interpolated into ORDER BY.
var sortColumns = map[SortField]string{
	SortProbability: "probability",
	SortAge:         "age",
	SortBalance:     "balance",
	SortCreatedAt:   "created_at",
}

// ParseSortField returns the SortField named by s.
func ParseSortField(s string) (SortField, bool) {
	f := SortField(s)
	_, ok := sortColumns[f]
	return f, ok
}

// LeadQuery is one page request over a campaign's leads.
type LeadQuery struct {
	Filter LeadFilter
	Sort   SortField
	Desc   bool
	Limit  int
	Offset int
}

// Store persists campaigns and their scored leads.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error)
	// CompleteCampaign inserts leads and moves the campaign from processing
	// to completed in one transaction. Nothing is written when either step
	// fails.
	CompleteCampaign(ctx context.Context, id string, summary model.ScoreSummary, leads []model.Lead) (*model.Campaign, error)
	FailCampaign(ctx context.Context, id string, message string) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error)
	DeleteCampaign(ctx context.Context, id string) (bool, error)

	// Leads
	QueryLeads(ctx context.Context, campaignID string, q LeadQuery) ([]model.Lead, int, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const campaignColumns = `id, name, source_filename, total_rows, processed_rows, dropped_rows,
	avg_probability, conversion_high, conversion_medium, conversion_low,
	status, error_message, created_by, created_at, updated_at`

const leadColumns = `id, campaign_run_id, row_index,
	age, job, marital, education, default_credit, balance, housing, loan, contact,
	day, month, campaign, pdays, previous, poutcome,
	probability, prediction, prediction_label, risk_level, reason_codes, created_at`

// leadCopyColumns is leadColumns as a slice, in the same order, for COPY.
var leadCopyColumns = []string{
	"id", "campaign_run_id", "row_index",
	"age", "job", "marital", "education", "default_credit", "balance", "housing", "loan", "contact",
	"day", "month", "campaign", "pdays", "previous", "poutcome",
	"probability", "prediction", "prediction_label", "risk_level", "reason_codes", "created_at",
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var status string
	err := row.Scan(
		&c.ID, &c.Name, &c.SourceFilename, &c.TotalRows, &c.ProcessedRows, &c.DroppedRows,
		&c.AvgProbability, &c.ConversionHigh, &c.ConversionMedium, &c.ConversionLow,
		&status, &c.ErrorMessage, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

// leadDest returns scan destinations for leadColumns. The reason codes are
// scanned into raw and decoded by the caller.
func leadDest(l *model.Lead, riskLevel *string, raw *[]byte) []any {
	return []any{
		&l.ID, &l.CampaignID, &l.RowIndex,
		&l.Age, &l.Job, &l.Marital, &l.Education, &l.DefaultCredit, &l.Balance, &l.Housing, &l.Loan, &l.Contact,
		&l.Day, &l.Month, &l.Campaign, &l.Pdays, &l.Previous, &l.Poutcome,
		&l.Probability, &l.Prediction, &l.PredictionLabel, riskLevel, raw, &l.CreatedAt,
	}
}
