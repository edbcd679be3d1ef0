package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/tabular"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

// Reconcile joins each checked prediction to the row it names and builds
// the lead to persist. An index outside the table, a repeated index or a
// numeric field that cannot be read is a reconciliation failure.
func Reconcile(tbl *tabular.Table, preds []mlscorer.Prediction) ([]model.Lead, error) {
	leads := make([]model.Lead, 0, len(preds))
	seen := make(map[int]bool, len(preds))

	for i := range preds {
		pred := preds[i].Model()
		idx := pred.RowIndex

		row, ok := tbl.Row(idx)
		if !ok {
			return nil, failure.Reconciliation(fmt.Sprintf(
				"Prediction references row %d, but the file has %d data rows", idx, tbl.Len()))
		}
		if seen[idx] {
			return nil, failure.Reconciliation(fmt.Sprintf("ML service returned row %d more than once", idx))
		}
		seen[idx] = true

		cust, err := customer(row.Index, tbl.Record(row))
		if err != nil {
			return nil, err
		}

		leads = append(leads, model.Lead{
			RowIndex:        idx,
			Customer:        cust,
			Probability:     pred.Probability,
			Prediction:      pred.Prediction,
			PredictionLabel: pred.PredictionLabel,
			RiskLevel:       pred.RiskLevel,
			ReasonCodes:     pred.ReasonCodes,
		})
	}
	return leads, nil
}

// customer reads the typed features of the normalized record of data row
// rowIndex.
func customer(rowIndex int, rec model.NormalizedRecord) (model.Customer, error) {
	r := fieldReader{rec: rec, rowIndex: rowIndex}
	c := model.Customer{
		Age:           r.int("age"),
		Job:           r.str("job"),
		Marital:       r.str("marital"),
		Education:     r.str("education"),
		DefaultCredit: r.str("default"),
		Balance:       r.float("balance"),
		Housing:       r.str("housing"),
		Loan:          r.str("loan"),
		Contact:       r.str("contact"),
		Day:           r.int("day"),
		Month:         r.str("month"),
		Campaign:      r.int("campaign"),
		Pdays:         r.int("pdays"),
		Previous:      r.int("previous"),
		Poutcome:      r.str("poutcome"),
	}
	return c, r.err
}

type fieldReader struct {
	rec      model.NormalizedRecord
	rowIndex int
	err      error
}

func (r *fieldReader) str(col string) string {
	return r.rec[col]
}

func (r *fieldReader) int(col string) int {
	raw := r.str(col)
	n, ok := LenientInt(raw)
	if !ok && r.err == nil {
		r.err = failure.Reconciliation(fmt.Sprintf("Row %d: %s value %q is not an integer", r.rowIndex, col, raw))
	}
	return n
}

func (r *fieldReader) float(col string) float64 {
	raw := r.str(col)
	f, ok := LenientFloat(raw)
	if !ok && r.err == nil {
		r.err = failure.Reconciliation(fmt.Sprintf("Row %d: %s value %q is not a number", r.rowIndex, col, raw))
	}
	return f
}

var (
	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
	leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// LenientInt reads the leading integer of s, so "35", "35.0" and "35 yrs"
// all give 35.
func LenientInt(s string) (int, bool) {
	m := leadingInt.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// LenientFloat reads the leading decimal number of s.
func LenientFloat(s string) (float64, bool) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}
