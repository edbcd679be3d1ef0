package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscore/internal/config"
	"github.com/sells-group/leadscore/internal/events"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/pipeline"
	"github.com/sells-group/leadscore/internal/store"
)

const csvHeader = "age,job,marital,education,default,balance,housing,loan,contact,day,month,campaign,pdays,previous,poutcome"

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString(csvHeader + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,admin.,single,secondary,no,%d,yes,no,cellular,5,may,1,-1,0,unknown\n", 25+i, 100*i)
	}
	return b.String()
}

// fakeScorer answers /bulk-score with one Low prediction per data row and
// fails with 503 when the uploaded file is named fail.csv.
func fakeScorer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/bulk-score" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if hdr.Filename == "fail.csv" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail": "model not loaded"}`))
			return
		}
		data, _ := io.ReadAll(f)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		rows := len(lines) - 1

		preds := make([]map[string]any, rows)
		for i := range preds {
			preds[i] = map[string]any{
				"row_index": i, "probability": 0.1, "prediction": 0,
				"prediction_label": "no", "risk_level": "Low", "reason_codes": []any{},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"predictions": preds,
			"summary": map[string]any{
				"processed_rows": rows, "dropped_rows": 0, "avg_probability": 0.1,
				"conversion_high": 0, "conversion_medium": 0, "conversion_low": rows,
			},
			"invalid_rows": []any{},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(scorerURL string) *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite"},
		Scorer: config.ScorerConfig{BaseURL: scorerURL, TimeoutSecs: 5, HealthTimeoutSecs: 1, BreakerThreshold: 10, BreakerResetSecs: 1},
		Ingest: config.IngestConfig{MaxFileBytes: 1 << 20, MaxRows: 1000},
		Query:  config.QueryConfig{DefaultPageSize: 20, MaxPageSize: 100, CampaignListLimit: 50, CampaignListMax: 100},
		CLI:    config.CLIConfig{UserID: "cli"},
	}
}

func newTestEnv(t *testing.T, scorerURL string) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	c := testConfig(scorerURL)
	env := buildEnv(st, newScorer(c.Scorer), events.Nop{}, c)
	t.Cleanup(env.Close)
	return env
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestRunIngest_IndependentFiles(t *testing.T) {
	var calls atomic.Int64
	srv := fakeScorer(t, &calls)
	env := newTestEnv(t, srv.URL)

	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "a.csv", csvRows(3)),
		writeFile(t, dir, "b.csv", strings.ReplaceAll(csvRows(5), ",", ";")),
		writeFile(t, dir, "fail.csv", csvRows(2)),
		writeFile(t, dir, "bad.csv", "age,job\n1,x\n"),
		filepath.Join(dir, "missing.csv"),
	}

	outcomes := runIngest(context.Background(), env.Pipeline, files, "Spring", "cli", 3)
	require.Len(t, outcomes, len(files))

	a, b, fail, bad, missing := outcomes[0], outcomes[1], outcomes[2], outcomes[3], outcomes[4]

	require.Empty(t, a.Error)
	assert.Equal(t, "Spring (a.csv)", a.Result.Campaign.Name)
	assert.Equal(t, 3, a.Result.Campaign.ProcessedRows)
	assert.Equal(t, "cli", a.Result.Campaign.CreatedBy)

	require.Empty(t, b.Error)
	assert.Equal(t, 5, b.Result.Campaign.ProcessedRows)

	assert.NotEmpty(t, fail.CampaignID)
	assert.Equal(t, failure.KindScoringTransport, fail.Kind)
	c, err := env.Store.GetCampaign(context.Background(), fail.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusFailed, c.Status)

	assert.Empty(t, bad.CampaignID)
	assert.Equal(t, failure.KindValidation, bad.Kind)
	assert.Contains(t, bad.Error, "Missing required columns")

	assert.Contains(t, missing.Error, "read file")

	assert.Equal(t, int64(3), calls.Load(), "rejected and unreadable files never reach the scorer")

	list, err := env.Campaigns.List(context.Background(), store.CampaignFilter{CreatedBy: "cli"})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRunIngest_SingleFileKeepsName(t *testing.T) {
	var calls atomic.Int64
	srv := fakeScorer(t, &calls)
	env := newTestEnv(t, srv.URL)

	path := writeFile(t, t.TempDir(), "leads.csv", csvRows(1))
	outcomes := runIngest(context.Background(), env.Pipeline, []string{path}, "Q3", "cli", 0)
	require.Len(t, outcomes, 1)
	require.Empty(t, outcomes[0].Error)
	assert.Equal(t, "Q3", outcomes[0].Result.Campaign.Name)
}

func TestCampaignName(t *testing.T) {
	assert.Equal(t, "leads.csv", campaignName("", "/tmp/leads.csv", 1))
	assert.Equal(t, "Q3", campaignName("Q3", "/tmp/leads.csv", 1))
	assert.Equal(t, "Q3 (leads.csv)", campaignName("Q3", "/tmp/leads.csv", 2))
}

func TestFormatIngestOutcomes(t *testing.T) {
	avg := 0.25
	var buf strings.Builder
	formatIngestOutcomes(&buf, []ingestOutcome{
		{File: "a.csv", Result: &pipeline.Result{Campaign: &model.Campaign{
			ID: "abcdef12-0000", Status: model.CampaignStatusCompleted, ProcessedRows: 4, AvgProbability: &avg,
		}}},
		{File: "b.csv", CampaignID: "12345678-aaaa", Error: "ML service unreachable"},
		{File: "c.csv", Error: "File is empty"},
	})

	out := buf.String()
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "0.2500")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "File is empty")
}
