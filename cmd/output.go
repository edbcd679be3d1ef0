package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/pipeline"
	"github.com/sells-group/leadscore/internal/query"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v as JSON or YAML, or calls table for the table format.
func render(out io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		table(out)
		return nil
	}
}

// formatCampaignsList writes a tabular list of campaigns to w.
func formatCampaignsList(out io.Writer, campaigns []model.Campaign) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tROWS\tPROCESSED\tDROPPED\tAVG_PROB\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t---------\t-------\t--------\t-------")

	for _, c := range campaigns {
		name := c.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(c.ID),
			name,
			c.Status,
			c.TotalRows,
			c.ProcessedRows,
			c.DroppedRows,
			formatProbability(c.AvgProbability),
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatCampaign writes one campaign's detail to w.
func formatCampaign(out io.Writer, c *model.Campaign) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", c.Name)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", c.SourceFilename)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", c.Status)
	_, _ = fmt.Fprintf(w, "Rows:\t%d total, %d processed, %d dropped\n", c.TotalRows, c.ProcessedRows, c.DroppedRows)
	_, _ = fmt.Fprintf(w, "Avg probability:\t%s\n", formatProbability(c.AvgProbability))
	_, _ = fmt.Fprintf(w, "Risk:\t%d high, %d medium, %d low\n", c.ConversionHigh, c.ConversionMedium, c.ConversionLow)
	if c.ErrorMessage != nil {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", *c.ErrorMessage)
	}
	_, _ = fmt.Fprintf(w, "Created by:\t%s\n", c.CreatedBy)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	_ = w.Flush()
}

// formatLeadPage writes one page of leads followed by its position.
func formatLeadPage(out io.Writer, page *query.LeadPage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tPROB\tRISK\tLABEL\tAGE\tJOB\tBALANCE\tTOP_REASON")
	_, _ = fmt.Fprintln(w, "---\t----\t----\t-----\t---\t---\t-------\t----------")
	for _, l := range page.Leads {
		reason := ""
		if len(l.ReasonCodes) > 0 {
			reason = fmt.Sprintf("%s (%s)", l.ReasonCodes[0].Feature, l.ReasonCodes[0].Direction)
		}
		_, _ = fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%d\t%s\t%.2f\t%s\n",
			l.RowIndex, l.Probability, l.RiskLevel, l.PredictionLabel, l.Age, l.Job, l.Balance, reason)
	}
	_ = w.Flush()

	p := page.Pagination
	_, _ = fmt.Fprintf(out, "\nPage %d of %d (%d leads)\n", p.Page, p.TotalPages, p.TotalCount)
}

// formatPrediction writes a single-record prediction to w.
func formatPrediction(out io.Writer, res *pipeline.SingleResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	p := res.Prediction
	_, _ = fmt.Fprintf(w, "Probability:\t%.4f\n", p.Probability)
	_, _ = fmt.Fprintf(w, "Prediction:\t%s (%d)\n", p.PredictionLabel, p.Prediction)
	_, _ = fmt.Fprintf(w, "Risk level:\t%s\n", p.RiskLevel)
	for _, rc := range p.ReasonCodes {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%+.4f\n", rc.Feature, rc.Direction, rc.ShapValue)
	}
	_ = w.Flush()
}

func formatProbability(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *p)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
