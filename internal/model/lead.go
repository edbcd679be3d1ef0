package model

import "time"

// RiskLevel is the scorer's coarse bucketing of a probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ParseRiskLevel returns the RiskLevel named by s (case-sensitive).
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	}
	return "", false
}

// ReasonCode is one feature's signed contribution to a prediction.
type ReasonCode struct {
	Feature   string  `json:"feature" yaml:"feature"`
	Direction string  `json:"direction" yaml:"direction"`
	ShapValue float64 `json:"shap_value" yaml:"shap_value"`
}

// Prediction is a single scored row as returned by the scorer.
type Prediction struct {
	RowIndex        int          `json:"row_index" yaml:"row_index"`
	Probability     float64      `json:"probability" yaml:"probability"`
	Prediction      int          `json:"prediction" yaml:"prediction"`
	PredictionLabel string       `json:"prediction_label" yaml:"prediction_label"`
	RiskLevel       RiskLevel    `json:"risk_level" yaml:"risk_level"`
	ReasonCodes     []ReasonCode `json:"reason_codes" yaml:"reason_codes"`
}

// Customer holds the typed customer features of a lead.
type Customer struct {
	Age           int     `json:"age" yaml:"age"`
	Job           string  `json:"job" yaml:"job"`
	Marital       string  `json:"marital" yaml:"marital"`
	Education     string  `json:"education" yaml:"education"`
	DefaultCredit string  `json:"default_credit" yaml:"default_credit"`
	Balance       float64 `json:"balance" yaml:"balance"`
	Housing       string  `json:"housing" yaml:"housing"`
	Loan          string  `json:"loan" yaml:"loan"`
	Contact       string  `json:"contact" yaml:"contact"`
	Day           int     `json:"day" yaml:"day"`
	Month         string  `json:"month" yaml:"month"`
	Campaign      int     `json:"campaign" yaml:"campaign"`
	Pdays         int     `json:"pdays" yaml:"pdays"`
	Previous      int     `json:"previous" yaml:"previous"`
	Poutcome      string  `json:"poutcome" yaml:"poutcome"`
}

// Lead is a persisted scored record: the customer's features joined with
// the prediction for its row.
type Lead struct {
	ID         string `json:"id" yaml:"id"`
	CampaignID string `json:"campaign_run_id" yaml:"campaign_run_id"`
	RowIndex   int    `json:"row_index" yaml:"row_index"`
	Customer   `yaml:",inline"`

	Probability     float64      `json:"probability" yaml:"probability"`
	Prediction      int          `json:"prediction" yaml:"prediction"`
	PredictionLabel string       `json:"prediction_label" yaml:"prediction_label"`
	RiskLevel       RiskLevel    `json:"risk_level" yaml:"risk_level"`
	ReasonCodes     []ReasonCode `json:"reason_codes" yaml:"reason_codes"`
	CreatedAt       time.Time    `json:"created_at" yaml:"created_at"`
}

// ScoreInput is a single customer in the shape the scorer's single-record
// endpoint accepts. It converts directly to and from Customer.
type ScoreInput struct {
	Age           int     `json:"age" yaml:"age"`
	Job           string  `json:"job" yaml:"job"`
	Marital       string  `json:"marital" yaml:"marital"`
	Education     string  `json:"education" yaml:"education"`
	DefaultCredit string  `json:"default" yaml:"default"`
	Balance       float64 `json:"balance" yaml:"balance"`
	Housing       string  `json:"housing" yaml:"housing"`
	Loan          string  `json:"loan" yaml:"loan"`
	Contact       string  `json:"contact" yaml:"contact"`
	Day           int     `json:"day" yaml:"day"`
	Month         string  `json:"month" yaml:"month"`
	Campaign      int     `json:"campaign" yaml:"campaign"`
	Pdays         int     `json:"pdays" yaml:"pdays"`
	Previous      int     `json:"previous" yaml:"previous"`
	Poutcome      string  `json:"poutcome" yaml:"poutcome"`
}
