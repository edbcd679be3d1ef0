package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync/atomic"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/pipeline"
)

var (
	ingestFiles       []string
	ingestName        string
	ingestConcurrency int
)

// ingestOutcome is the result of ingesting one file.
type ingestOutcome struct {
	File       string           `json:"file" yaml:"file"`
	CampaignID string           `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Kind       failure.Kind     `json:"kind,omitempty" yaml:"kind,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Score one or more files as campaigns",
	Long: `Validates each file, opens a campaign for it and scores it with the ML service.
Files are independent: each becomes its own campaign and a failure in one does
not stop the others.

Examples:
  leadscore ingest --file leads.csv --name "Q3 outreach"
  leadscore ingest --file a.csv --file b.xlsx --name Spring --concurrency 2 -o json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes := runIngest(ctx, env.Pipeline, ingestFiles, ingestName, cfg.CLI.UserID, ingestConcurrency)

		if err := render(cmd.OutOrStdout(), outputFormat, outcomes, func(w io.Writer) {
			formatIngestOutcomes(w, outcomes)
		}); err != nil {
			return err
		}

		for _, o := range outcomes {
			if o.Error != "" {
				return eris.New("ingest: one or more files failed")
			}
		}
		return nil
	},
}

// runIngest ingests every file, at most concurrency at a time. name is used
// for a single file; with several files each campaign is named
// "<name> (<file base name>)".
func runIngest(ctx context.Context, p *pipeline.Pipeline, files []string, name, user string, concurrency int) []ingestOutcome {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]ingestOutcome, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var failed atomic.Int64
	for i, path := range files {
		g.Go(func() error {
			outcomes[i] = ingestFile(gCtx, p, path, campaignName(name, path, len(files)), user)
			if outcomes[i].Error != "" {
				failed.Add(1)
			}
			return nil // one file failing does not cancel the others
		})
	}
	_ = g.Wait()

	zap.L().Info("ingest: batch complete",
		zap.Int("files", len(files)),
		zap.Int64("failed", failed.Load()),
	)
	return outcomes
}

func ingestFile(ctx context.Context, p *pipeline.Pipeline, path, name, user string) ingestOutcome {
	out := ingestOutcome{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		out.Error = eris.Wrap(err, "read file").Error()
		return out
	}

	res, err := p.Ingest(ctx, &ingest.Upload{
		Filename:     filepath.Base(path),
		ContentType:  mime.TypeByExtension(filepath.Ext(path)),
		Size:         int64(len(data)),
		Data:         data,
		CampaignName: name,
	}, user)
	if err != nil {
		var ce *pipeline.CampaignError
		if errors.As(err, &ce) {
			out.CampaignID = ce.CampaignID
		}
		out.Error = failure.Message(err)
		out.Kind = failure.KindOf(err)
		zap.L().Error("ingest: file failed", zap.String("file", path), zap.Error(err))
		return out
	}

	out.CampaignID = res.Campaign.ID
	out.Result = res
	return out
}

func campaignName(name, path string, files int) string {
	if name == "" {
		return filepath.Base(path)
	}
	if files > 1 {
		return name + " (" + filepath.Base(path) + ")"
	}
	return name
}

func formatIngestOutcomes(out io.Writer, outcomes []ingestOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tCAMPAIGN\tSTATUS\tPROCESSED\tDROPPED\tAVG_PROB\tERROR")
	_, _ = fmt.Fprintln(w, "----\t--------\t------\t---------\t-------\t--------\t-----")
	for _, o := range outcomes {
		if o.Result == nil {
			status := "rejected"
			if o.CampaignID != "" {
				status = "failed"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\t\t\t%s\n", o.File, truncateID(o.CampaignID), status, o.Error)
			continue
		}
		c := o.Result.Campaign
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t\n",
			o.File, truncateID(c.ID), c.Status, c.ProcessedRows, c.DroppedRows, formatProbability(c.AvgProbability))
	}
	_ = w.Flush()
}

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestFiles, "file", nil, "file to ingest (repeatable)")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "campaign name (default: file name)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 1, "files ingested in parallel")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
