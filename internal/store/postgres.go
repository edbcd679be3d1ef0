package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/db"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pc := db.PoolConfig{URL: connString, MaxConns: 10, MinConns: 2}
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pc.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pc.MinConns = poolCfg.MinConns
		}
	}
	pool, err := db.NewPool(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaign_runs (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	source_filename   TEXT NOT NULL,
	total_rows        INTEGER NOT NULL CHECK (total_rows >= 0),
	processed_rows    INTEGER NOT NULL DEFAULT 0,
	dropped_rows      INTEGER NOT NULL DEFAULT 0,
	avg_probability   DOUBLE PRECISION,
	conversion_high   INTEGER NOT NULL DEFAULT 0,
	conversion_medium INTEGER NOT NULL DEFAULT 0,
	conversion_low    INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'processing'
	                  CHECK (status IN ('processing', 'completed', 'failed')),
	error_message     TEXT,
	created_by        TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_campaign_runs_created_by ON campaign_runs(created_by, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_campaign_runs_created_at ON campaign_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	campaign_run_id  TEXT NOT NULL REFERENCES campaign_runs(id) ON DELETE CASCADE,
	row_index        INTEGER NOT NULL CHECK (row_index >= 0),
	age              INTEGER NOT NULL,
	job              TEXT NOT NULL,
	marital          TEXT NOT NULL,
	education        TEXT NOT NULL,
	default_credit   TEXT NOT NULL,
	balance          DOUBLE PRECISION NOT NULL,
	housing          TEXT NOT NULL,
	loan             TEXT NOT NULL,
	contact          TEXT NOT NULL,
	day              INTEGER NOT NULL,
	month            TEXT NOT NULL,
	campaign         INTEGER NOT NULL,
	pdays            INTEGER NOT NULL,
	previous         INTEGER NOT NULL,
	poutcome         TEXT NOT NULL,
	probability      DOUBLE PRECISION NOT NULL CHECK (probability >= 0 AND probability <= 1),
	prediction       INTEGER NOT NULL CHECK (prediction IN (0, 1)),
	prediction_label TEXT NOT NULL,
	risk_level       TEXT NOT NULL CHECK (risk_level IN ('Low', 'Medium', 'High')),
	reason_codes     JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_probability ON leads(campaign_run_id, probability DESC);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_risk ON leads(campaign_run_id, risk_level);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaign_runs (id, name, source_filename, total_rows, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, nc.Name, nc.SourceFilename, nc.TotalRows, string(model.CampaignStatusProcessing), nc.CreatedBy, now, now,
	)
	if err != nil {
		return nil, failure.Persistence(eris.Wrap(err, "postgres: insert campaign"), "Failed to create campaign")
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

func (s *PostgresStore) CompleteCampaign(ctx context.Context, id string, summary model.ScoreSummary, leads []model.Lead) (*model.Campaign, error) {
	now := time.Now().UTC()
	rows, err := leadRows(id, leads, now, false)
	if err != nil {
		return nil, err
	}

	var out *model.Campaign
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := scanCampaign(tx.QueryRow(ctx,
			`UPDATE campaign_runs SET
				status = $1, processed_rows = $2, dropped_rows = $3, avg_probability = $4,
				conversion_high = $5, conversion_medium = $6, conversion_low = $7, updated_at = $8
			 WHERE id = $9 AND status = $10
			 RETURNING `+campaignColumns,
			string(model.CampaignStatusCompleted), summary.ProcessedRows, summary.DroppedRows, summary.AvgProbability,
			summary.ConversionHigh, summary.ConversionMedium, summary.ConversionLow, now,
			id, string(model.CampaignStatusProcessing),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return s.conflict(ctx, tx, id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: complete campaign %s", id)
		}

		if _, err := db.CopyFrom(ctx, tx, "leads", leadCopyColumns, rows); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			return nil, failure.Persistence(err, "Failed to save scored leads")
		}
		return nil, err
	}

	zap.L().Info("postgres: campaign completed",
		zap.String("campaign_id", id),
		zap.Int("leads", len(rows)),
	)
	return out, nil
}

func (s *PostgresStore) FailCampaign(ctx context.Context, id string, message string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`UPDATE campaign_runs SET status = $1, error_message = $2, updated_at = $3
		 WHERE id = $4 AND status = $5
		 RETURNING `+campaignColumns,
		string(model.CampaignStatusFailed), message, time.Now().UTC(),
		id, string(model.CampaignStatusProcessing),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conflict(ctx, s.pool, id)
	}
	if err != nil {
		return nil, failure.Persistence(eris.Wrapf(err, "postgres: fail campaign %s", id), "Failed to update campaign")
	}
	return c, nil
}

// conflict reports why a conditional transition matched no row.
func (s *PostgresStore) conflict(ctx context.Context, q db.Querier, id string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM campaign_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return transitionConflict(id, nil)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read campaign status %s", id)
	}
	st := model.CampaignStatus(status)
	return transitionConflict(id, &st)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaign_runs WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaign_runs WHERE true`
	args := []any{}

	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		query += ` AND created_by = ` + dollar(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT ` + dollar(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	campaigns := []model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM campaign_runs WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete campaign %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) QueryLeads(ctx context.Context, campaignID string, q LeadQuery) ([]model.Lead, int, error) {
	where, args := leadWhere(campaignID, q.Filter, dollar)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count leads")
	}

	query := `SELECT ` + leadColumns + ` FROM leads` + where + leadOrder(q)
	args = append(args, q.Limit)
	query += ` LIMIT ` + dollar(len(args))
	args = append(args, q.Offset)
	query += ` OFFSET ` + dollar(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: query leads")
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		var l model.Lead
		var risk string
		var raw []byte
		if err := rows.Scan(leadDest(&l, &risk, &raw)...); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan lead")
		}
		if err := decodeLead(&l, risk, raw); err != nil {
			return nil, 0, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: query leads iterate")
	}
	return leads, total, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	var risk string
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).Scan(leadDest(&l, &risk, &raw)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	if err := decodeLead(&l, risk, raw); err != nil {
		return nil, err
	}
	return &l, nil
}
