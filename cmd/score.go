package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/config"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/pipeline"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single customer record",
	Long: `Scores one customer record with the ML service's single-record endpoint.
Nothing is stored.

The record is a JSON object with the 15 required fields. Pass it inline with
--json, or with --json @path to read it from a file (--json @- reads stdin).

Examples:
  leadscore score --json '{"age": 41, "job": "technician", ...}'
  leadscore score --json @record.json -o json`,
	RunE: runScore,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the ML service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := scoringPipeline(cfg.Scorer)
		report := p.Health(cmd.Context())
		if err := render(cmd.OutOrStdout(), outputFormat, report, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "api: %s\nml_service: %s\n", report.API, report.MLService)
			if report.MLError != "" {
				_, _ = fmt.Fprintf(w, "ml_error: %s\n", report.MLError)
			}
		}); err != nil {
			return err
		}
		if !report.Healthy() {
			return eris.Errorf("ML service is %s", report.MLService)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("json", "", "record as JSON, or @file")
	_ = scoreCmd.MarkFlagRequired("json")

	rootCmd.AddCommand(scoreCmd, healthCmd)
}

// scoringPipeline builds a pipeline that can only score single records and
// probe health; it has no store behind it.
func scoringPipeline(c config.ScorerConfig) *pipeline.Pipeline {
	return pipeline.New(ingest.NewValidator(ingest.Limits{}), newScorer(c), nil, time.Duration(c.TimeoutSecs)*time.Second)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	raw, _ := cmd.Flags().GetString("json")
	body, err := readRecord(raw, cmd.InOrStdin())
	if err != nil {
		return err
	}

	res, err := scoringPipeline(cfg.Scorer).ScoreOne(ctx, body)
	if err != nil {
		zap.L().Error("score: failed", zap.Error(err))
		return err
	}

	return render(cmd.OutOrStdout(), outputFormat, res, func(w io.Writer) {
		formatPrediction(w, res)
	})
}

// readRecord resolves --json: inline JSON, @path, or @- for stdin.
func readRecord(raw string, stdin io.Reader) ([]byte, error) {
	name, ok := strings.CutPrefix(raw, "@")
	if !ok {
		return []byte(raw), nil
	}
	if name == "-" {
		b, err := io.ReadAll(stdin)
		return b, eris.Wrap(err, "score: read stdin")
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, eris.Wrap(err, "score: read record file")
	}
	return b, nil
}
