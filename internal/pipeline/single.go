package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

// SingleResult is an ad hoc score. Nothing about it is persisted.
type SingleResult struct {
	Input      model.ScoreInput `json:"input" yaml:"input"`
	Prediction model.Prediction `json:"prediction" yaml:"prediction"`
}

// FieldIssue is one rejected field of a single-record request.
type FieldIssue struct {
	Field   string `json:"path"`
	Message string `json:"message"`
}

// ParseScoreInput decodes and validates one customer record. Every
// required column must be present; integer columns must hold whole
// numbers, balance any number, and the rest non-empty strings.
func ParseScoreInput(body []byte) (model.ScoreInput, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return model.ScoreInput{}, failure.Validation("Invalid input data", []FieldIssue{{Field: "", Message: "Expected a JSON object"}})
	}

	var issues []FieldIssue
	nums := map[string]float64{}
	strs := map[string]string{}

	for _, col := range model.RequiredColumns {
		v, ok := raw[col]
		if !ok || string(v) == "null" {
			issues = append(issues, FieldIssue{Field: col, Message: "Required"})
			continue
		}

		switch {
		case model.IntegerColumns[col], model.FloatColumns[col]:
			var n json.Number
			if bytes.HasPrefix(v, []byte(`"`)) || json.Unmarshal(v, &n) != nil {
				issues = append(issues, FieldIssue{Field: col, Message: "Expected number"})
				continue
			}
			f, err := n.Float64()
			if err != nil || math.IsInf(f, 0) {
				issues = append(issues, FieldIssue{Field: col, Message: "Expected number"})
				continue
			}
			if model.IntegerColumns[col] && f != math.Trunc(f) {
				issues = append(issues, FieldIssue{Field: col, Message: "Expected integer, received float"})
				continue
			}
			nums[col] = f
		default:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				issues = append(issues, FieldIssue{Field: col, Message: "Expected string"})
				continue
			}
			if strings.TrimSpace(s) == "" {
				issues = append(issues, FieldIssue{Field: col, Message: fmt.Sprintf("%s is required", col)})
				continue
			}
			strs[col] = strings.TrimSpace(s)
		}
	}
	if len(issues) > 0 {
		return model.ScoreInput{}, failure.Validation("Invalid input data", issues)
	}

	return model.ScoreInput{
		Age:           int(nums["age"]),
		Job:           strs["job"],
		Marital:       strs["marital"],
		Education:     strs["education"],
		DefaultCredit: strs["default"],
		Balance:       nums["balance"],
		Housing:       strs["housing"],
		Loan:          strs["loan"],
		Contact:       strs["contact"],
		Day:           int(nums["day"]),
		Month:         strs["month"],
		Campaign:      int(nums["campaign"]),
		Pdays:         int(nums["pdays"]),
		Previous:      int(nums["previous"]),
		Poutcome:      strs["poutcome"],
	}, nil
}

// ScoreOne validates body and scores it with the single-record endpoint.
func (p *Pipeline) ScoreOne(ctx context.Context, body []byte) (*SingleResult, error) {
	in, err := ParseScoreInput(body)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pred, err := p.scorer.Score(sctx, in)
	if err != nil {
		return nil, err
	}
	return &SingleResult{Input: in, Prediction: *pred}, nil
}

// Health reports the scorer's state as ok, unavailable (it answered with
// a non-2xx status) or unreachable.
func (p *Pipeline) Health(ctx context.Context) HealthReport {
	h, err := p.scorer.Health(ctx)
	switch {
	case err == nil:
		return HealthReport{API: "ok", MLService: "ok", MLDetails: h}
	case mlscorer.StatusCode(err) != 0:
		return HealthReport{API: "ok", MLService: "unavailable", MLError: fmt.Sprintf("ML service returned %d", mlscorer.StatusCode(err))}
	default:
		return HealthReport{API: "ok", MLService: "unreachable", MLError: failure.Message(err)}
	}
}

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	API       string         `json:"api" yaml:"api"`
	MLService string         `json:"ml_service" yaml:"ml_service"`
	MLDetails map[string]any `json:"ml_details,omitempty" yaml:"ml_details,omitempty"`
	MLError   string         `json:"ml_error,omitempty" yaml:"ml_error,omitempty"`
}

// Healthy reports whether the scorer answered with success.
func (h HealthReport) Healthy() bool {
	return h.MLService == "ok"
}
