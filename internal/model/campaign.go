package model

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// Valid reports whether s is one of the three known states.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusProcessing, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// Campaign is one ingestion batch with its lifecycle state and aggregates.
type Campaign struct {
	ID               string         `json:"id" yaml:"id"`
	Name             string         `json:"name" yaml:"name"`
	SourceFilename   string         `json:"source_filename" yaml:"source_filename"`
	TotalRows        int            `json:"total_rows" yaml:"total_rows"`
	ProcessedRows    int            `json:"processed_rows" yaml:"processed_rows"`
	DroppedRows      int            `json:"dropped_rows" yaml:"dropped_rows"`
	AvgProbability   *float64       `json:"avg_probability" yaml:"avg_probability"`
	ConversionHigh   int            `json:"conversion_high" yaml:"conversion_high"`
	ConversionMedium int            `json:"conversion_medium" yaml:"conversion_medium"`
	ConversionLow    int            `json:"conversion_low" yaml:"conversion_low"`
	Status           CampaignStatus `json:"status" yaml:"status"`
	ErrorMessage     *string        `json:"error_message" yaml:"error_message"`
	CreatedBy        string         `json:"created_by" yaml:"created_by"`
	CreatedAt        time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"updated_at"`
}

// NewCampaign holds the fields supplied when a campaign is opened.
type NewCampaign struct {
	Name           string
	SourceFilename string
	TotalRows      int
	CreatedBy      string
}

// ScoreSummary is the scorer's aggregate view of a bulk run. It is copied
// onto the campaign verbatim when the campaign completes.
type ScoreSummary struct {
	ProcessedRows    int      `json:"processed_rows" yaml:"processed_rows"`
	DroppedRows      int      `json:"dropped_rows" yaml:"dropped_rows"`
	AvgProbability   *float64 `json:"avg_probability" yaml:"avg_probability"`
	ConversionHigh   int      `json:"conversion_high" yaml:"conversion_high"`
	ConversionMedium int      `json:"conversion_medium" yaml:"conversion_medium"`
	ConversionLow    int      `json:"conversion_low" yaml:"conversion_low"`
}
