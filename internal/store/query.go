package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
)

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func dollar(n int) string   { return fmt.Sprintf("$%d", n) }
func question(_ int) string { return "?" }

// leadWhere renders the conjunctive WHERE clause for a campaign's leads.
func leadWhere(campaignID string, f LeadFilter, ph placeholder) (string, []any) {
	args := []any{campaignID}
	var b strings.Builder
	b.WriteString(" WHERE campaign_run_id = " + ph(1))

	add := func(cond string, v any) {
		args = append(args, v)
		b.WriteString(" AND " + cond + " " + ph(len(args)))
	}
	if f.RiskLevel != "" {
		add("risk_level =", string(f.RiskLevel))
	}
	if f.MinProbability != nil {
		add("probability >=", *f.MinProbability)
	}
	if f.MaxProbability != nil {
		add("probability <=", *f.MaxProbability)
	}
	if f.Job != "" {
		add("job =", f.Job)
	}
	if f.Education != "" {
		add("education =", f.Education)
	}
	if f.Marital != "" {
		add("marital =", f.Marital)
	}
	if f.Contact != "" {
		add("contact =", f.Contact)
	}
	return b.String(), args
}

// leadOrder renders ORDER BY for q. Unknown fields fall back to
// probability; the query layer rejects them before they get here.
func leadOrder(q LeadQuery) string {
	col, ok := sortColumns[q.Sort]
	if !ok {
		col = sortColumns[SortProbability]
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	return " ORDER BY " + col + " " + dir
}

// leadRows validates leads and renders them as insert rows in
// leadCopyColumns order. Missing IDs are generated.
func leadRows(campaignID string, leads []model.Lead, now time.Time, jsonAsText bool) ([][]any, error) {
	seen := make(map[int]bool, len(leads))
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		if seen[l.RowIndex] {
			return nil, failure.Persistence(eris.Errorf("duplicate row_index %d", l.RowIndex), "Failed to save leads")
		}
		seen[l.RowIndex] = true

		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.CampaignID = campaignID
		l.CreatedAt = now

		codes := l.ReasonCodes
		if codes == nil {
			codes = []model.ReasonCode{}
		}
		raw, err := json.Marshal(codes)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal reason codes for row %d", l.RowIndex)
		}
		var codesVal any = raw
		if jsonAsText {
			codesVal = string(raw)
		}

		rows = append(rows, []any{
			l.ID, campaignID, l.RowIndex,
			l.Age, l.Job, l.Marital, l.Education, l.DefaultCredit, l.Balance, l.Housing, l.Loan, l.Contact,
			l.Day, l.Month, l.Campaign, l.Pdays, l.Previous, l.Poutcome,
			l.Probability, l.Prediction, l.PredictionLabel, string(l.RiskLevel), codesVal, now,
		})
	}
	return rows, nil
}

func decodeLead(l *model.Lead, riskLevel string, raw []byte) error {
	l.RiskLevel = model.RiskLevel(riskLevel)
	l.ReasonCodes = []model.ReasonCode{}
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(raw, &l.ReasonCodes), "store: unmarshal reason codes")
}

// transitionConflict explains why a conditional status update touched no
// row: the campaign is missing or already terminal.
func transitionConflict(id string, status *model.CampaignStatus) error {
	if status == nil {
		return failure.NotFound("Campaign not found")
	}
	return failure.Conflict(fmt.Sprintf("campaign %s is already %s", id, *status))
}
