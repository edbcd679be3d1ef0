package mlscorer

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscore/internal/model"
)

// BulkResponse is the body of POST /bulk-score. Fields the contract
// requires are pointers so that their absence can be told apart from a
// zero value.
type BulkResponse struct {
	Success     *bool             `json:"success"`
	Predictions []Prediction      `json:"predictions"`
	Summary     *Summary          `json:"summary"`
	InvalidRows []json.RawMessage `json:"invalid_rows,omitempty"`
	Detail      string            `json:"detail,omitempty"`
}

// Succeeded reports whether the scorer explicitly returned success: true.
func (r *BulkResponse) Succeeded() bool {
	return r != nil && r.Success != nil && *r.Success
}

// Summary is the scorer's aggregate view of a bulk run.
type Summary struct {
	ProcessedRows    *int     `json:"processed_rows"`
	DroppedRows      *int     `json:"dropped_rows"`
	AvgProbability   *float64 `json:"avg_probability"`
	ConversionHigh   int      `json:"conversion_high"`
	ConversionMedium int      `json:"conversion_medium"`
	ConversionLow    int      `json:"conversion_low"`
}

// Check verifies the summary carries row counts.
func (s *Summary) Check() error {
	if s == nil {
		return eris.New("missing summary")
	}
	if s.ProcessedRows == nil || s.DroppedRows == nil {
		return eris.New("summary is missing processed_rows or dropped_rows")
	}
	if *s.ProcessedRows < 0 || *s.DroppedRows < 0 {
		return eris.New("summary row counts must not be negative")
	}
	if s.AvgProbability != nil && (*s.AvgProbability < 0 || *s.AvgProbability > 1) {
		return eris.Errorf("summary avg_probability %v outside [0,1]", *s.AvgProbability)
	}
	return nil
}

// Model converts the summary for persistence. Check must have passed.
func (s *Summary) Model() model.ScoreSummary {
	return model.ScoreSummary{
		ProcessedRows:    *s.ProcessedRows,
		DroppedRows:      *s.DroppedRows,
		AvgProbability:   s.AvgProbability,
		ConversionHigh:   s.ConversionHigh,
		ConversionMedium: s.ConversionMedium,
		ConversionLow:    s.ConversionLow,
	}
}

// Prediction is one scored row as it appears on the wire. RowIndex is
// absent on single-record responses.
type Prediction struct {
	RowIndex        *int               `json:"row_index,omitempty"`
	Probability     *float64           `json:"probability"`
	Prediction      *int               `json:"prediction"`
	PredictionLabel string             `json:"prediction_label"`
	RiskLevel       string             `json:"risk_level"`
	ReasonCodes     []model.ReasonCode `json:"reason_codes"`
}

// Check verifies the prediction against the scorer contract. When
// indexed is set the row_index field is required.
func (p *Prediction) Check(indexed bool) error {
	if indexed && p.RowIndex == nil {
		return eris.New("prediction is missing row_index")
	}
	if p.Probability == nil {
		return eris.New("prediction is missing probability")
	}
	if *p.Probability < 0 || *p.Probability > 1 {
		return eris.Errorf("probability %v outside [0,1]", *p.Probability)
	}
	if p.Prediction == nil || (*p.Prediction != 0 && *p.Prediction != 1) {
		return eris.New("prediction must be 0 or 1")
	}
	if p.PredictionLabel != "yes" && p.PredictionLabel != "no" {
		return eris.Errorf("prediction_label %q is not yes or no", p.PredictionLabel)
	}
	if _, ok := model.ParseRiskLevel(p.RiskLevel); !ok {
		return eris.Errorf("risk_level %q is not Low, Medium or High", p.RiskLevel)
	}
	for _, rc := range p.ReasonCodes {
		if rc.Direction != "positive" && rc.Direction != "negative" {
			return eris.Errorf("reason code %q has direction %q", rc.Feature, rc.Direction)
		}
	}
	return nil
}

// Model converts a checked prediction.
func (p *Prediction) Model() model.Prediction {
	out := model.Prediction{
		Probability:     *p.Probability,
		Prediction:      *p.Prediction,
		PredictionLabel: p.PredictionLabel,
		RiskLevel:       model.RiskLevel(p.RiskLevel),
		ReasonCodes:     p.ReasonCodes,
	}
	if p.RowIndex != nil {
		out.RowIndex = *p.RowIndex
	}
	if out.ReasonCodes == nil {
		out.ReasonCodes = []model.ReasonCode{}
	}
	return out
}
