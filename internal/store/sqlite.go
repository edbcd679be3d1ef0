package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and foreign keys. A single connection is used so that per-connection
// pragmas always apply and writers never contend for the file lock.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaign_runs (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	source_filename   TEXT NOT NULL,
	total_rows        INTEGER NOT NULL CHECK (total_rows >= 0),
	processed_rows    INTEGER NOT NULL DEFAULT 0,
	dropped_rows      INTEGER NOT NULL DEFAULT 0,
	avg_probability   REAL,
	conversion_high   INTEGER NOT NULL DEFAULT 0,
	conversion_medium INTEGER NOT NULL DEFAULT 0,
	conversion_low    INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'processing'
	                  CHECK (status IN ('processing', 'completed', 'failed')),
	error_message     TEXT,
	created_by        TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_campaign_runs_created_by ON campaign_runs(created_by, created_at);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	campaign_run_id  TEXT NOT NULL REFERENCES campaign_runs(id) ON DELETE CASCADE,
	row_index        INTEGER NOT NULL CHECK (row_index >= 0),
	age              INTEGER NOT NULL,
	job              TEXT NOT NULL,
	marital          TEXT NOT NULL,
	education        TEXT NOT NULL,
	default_credit   TEXT NOT NULL,
	balance          REAL NOT NULL,
	housing          TEXT NOT NULL,
	loan             TEXT NOT NULL,
	contact          TEXT NOT NULL,
	day              INTEGER NOT NULL,
	month            TEXT NOT NULL,
	campaign         INTEGER NOT NULL,
	pdays            INTEGER NOT NULL,
	previous         INTEGER NOT NULL,
	poutcome         TEXT NOT NULL,
	probability      REAL NOT NULL CHECK (probability >= 0 AND probability <= 1),
	prediction       INTEGER NOT NULL CHECK (prediction IN (0, 1)),
	prediction_label TEXT NOT NULL,
	risk_level       TEXT NOT NULL CHECK (risk_level IN ('Low', 'Medium', 'High')),
	reason_codes     TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (campaign_run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_probability ON leads(campaign_run_id, probability);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_risk ON leads(campaign_run_id, risk_level);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_runs (id, name, source_filename, total_rows, status, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nc.Name, nc.SourceFilename, nc.TotalRows, string(model.CampaignStatusProcessing), nc.CreatedBy, now, now,
	)
	if err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "sqlite: insert campaign"), "Failed to create campaign")
	}

	return &model.Campaign{
		ID:             id,
		Name:           nc.Name,
		SourceFilename: nc.SourceFilename,
		TotalRows:      nc.TotalRows,
		Status:         model.CampaignStatusProcessing,
		CreatedBy:      nc.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

const sqliteInsertLead = `INSERT INTO leads (` + leadColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) CompleteCampaign(ctx context.Context, id string, summary model.ScoreSummary, leads []model.Lead) (*model.Campaign, error) {
	now := time.Now().UTC()
	rows, err := leadRows(id, leads, now, true)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "sqlite: begin tx"), "Failed to save scored leads")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE campaign_runs SET
			status = ?, processed_rows = ?, dropped_rows = ?, avg_probability = ?,
			conversion_high = ?, conversion_medium = ?, conversion_low = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.CampaignStatusCompleted), summary.ProcessedRows, summary.DroppedRows, summary.AvgProbability,
		summary.ConversionHigh, summary.ConversionMedium, summary.ConversionLow, now,
		id, string(model.CampaignStatusProcessing),
	)
	if err != nil {
		return nil, failure.Persistence(eris.Wrapf(err, "sqlite: complete campaign %s", id), "Failed to save scored leads")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.conflict(ctx, tx, id)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, sqliteInsertLead)
		if err != nil {
			return nil, failure.Persistence(eris.Wrap(err, "sqlite: prepare lead insert"), "Failed to save scored leads")
		}
		defer stmt.Close() //nolint:errcheck
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r...); err != nil {
				return nil, failure.Persistence(eris.Wrapf(err, "sqlite: insert lead row %v", r[2]), "Failed to save scored leads")
			}
		}
	}

	c, err := scanCampaign(tx.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaign_runs WHERE id = ?`, id))
	if err != nil {
		return nil, failure.Persistence(eris.Wrapf(err, "sqlite: reload campaign %s", id), "Failed to save scored leads")
	}
	if err := tx.Commit(); err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "sqlite: commit"), "Failed to save scored leads")
	}

	zap.L().Info("sqlite: campaign completed",
		zap.String("campaign_id", id),
		zap.Int("leads", len(rows)),
	)
	return c, nil
}

func (s *SQLiteStore) FailCampaign(ctx context.Context, id string, message string) (*model.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "sqlite: begin tx"), "Failed to update campaign")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE campaign_runs SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.CampaignStatusFailed), message, time.Now().UTC(),
		id, string(model.CampaignStatusProcessing),
	)
	if err != nil {
		return nil, failure.Persistence(eris.Wrapf(err, "sqlite: fail campaign %s", id), "Failed to update campaign")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.conflict(ctx, tx, id)
	}

	c, err := scanCampaign(tx.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaign_runs WHERE id = ?`, id))
	if err != nil {
		return nil, failure.Persistence(eris.Wrapf(err, "sqlite: reload campaign %s", id), "Failed to update campaign")
	}
	if err := tx.Commit(); err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "sqlite: commit"), "Failed to update campaign")
	}
	return c, nil
}

func (s *SQLiteStore) conflict(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM campaign_runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return transitionConflict(id, nil)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read campaign status %s", id)
	}
	st := model.CampaignStatus(status)
	return transitionConflict(id, &st)
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaign_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaign_runs WHERE 1=1`
	var args []any

	if filter.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, filter.CreatedBy)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close() //nolint:errcheck

	campaigns := []model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

// DeleteCampaign removes the campaign and its leads. Leads are deleted
// explicitly so the cascade does not depend on the foreign_keys pragma.
func (s *SQLiteStore) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE campaign_run_id = ?`, id); err != nil {
		return false, eris.Wrapf(err, "sqlite: delete leads of %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM campaign_runs WHERE id = ?`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete campaign %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit")
	}
	return n > 0, nil
}

func (s *SQLiteStore) QueryLeads(ctx context.Context, campaignID string, q LeadQuery) ([]model.Lead, int, error) {
	where, args := leadWhere(campaignID, q.Filter, question)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count leads")
	}

	query := `SELECT ` + leadColumns + ` FROM leads` + where + leadOrder(q) + ` LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: query leads")
	}
	defer rows.Close() //nolint:errcheck

	leads := []model.Lead{}
	for rows.Next() {
		var l model.Lead
		var risk string
		var raw []byte
		if err := rows.Scan(leadDest(&l, &risk, &raw)...); err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan lead")
		}
		if err := decodeLead(&l, risk, raw); err != nil {
			return nil, 0, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: query leads iterate")
	}
	return leads, total, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	var risk string
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id).Scan(leadDest(&l, &risk, &raw)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	if err := decodeLead(&l, risk, raw); err != nil {
		return nil, err
	}
	return &l, nil
}
