package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/campaign"
	"github.com/sells-group/leadscore/internal/config"
	"github.com/sells-group/leadscore/internal/events"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/pipeline"
	"github.com/sells-group/leadscore/internal/query"
	"github.com/sells-group/leadscore/internal/resilience"
	"github.com/sells-group/leadscore/internal/store"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

// appEnv holds the store, publisher and services the commands share.
type appEnv struct {
	Store     store.Store
	Publisher events.Publisher
	Scorer    mlscorer.Client
	Campaigns *campaign.Manager
	Queries   *query.Engine
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadscore.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func newScorer(c config.ScorerConfig) mlscorer.Client {
	breaker := resilience.NewBreaker(resilience.FromScorerConfig(c))
	return mlscorer.NewClient(
		mlscorer.WithBaseURL(c.BaseURL),
		mlscorer.WithToken(c.Token),
		mlscorer.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second),
		mlscorer.WithHealthTimeout(time.Duration(c.HealthTimeoutSecs)*time.Second),
		mlscorer.WithRateLimit(c.RequestsPerSecond, c.Burst),
		mlscorer.WithBreaker(breaker),
	)
}

// initEnv validates cfg for mode, opens and migrates the store and builds
// the services. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return buildEnv(st, newScorer(c.Scorer), events.FromBrokers(c.Events.Brokers, c.Events.Topic), c), nil
}

func buildEnv(st store.Store, scorer mlscorer.Client, pub events.Publisher, c *config.Config) *appEnv {
	mgr := campaign.NewManager(st, pub)
	v := ingest.NewValidator(ingest.Limits{MaxFileBytes: c.Ingest.MaxFileBytes, MaxRows: c.Ingest.MaxRows})
	lim := query.Limits{
		DefaultPageSize:   c.Query.DefaultPageSize,
		MaxPageSize:       c.Query.MaxPageSize,
		CampaignListLimit: c.Query.CampaignListLimit,
		CampaignListMax:   c.Query.CampaignListMax,
	}

	if len(c.Events.Brokers) > 0 {
		zap.L().Info("campaign events enabled", zap.Strings("brokers", c.Events.Brokers), zap.String("topic", c.Events.Topic))
	}

	return &appEnv{
		Store:     st,
		Publisher: pub,
		Scorer:    scorer,
		Campaigns: mgr,
		Queries:   query.NewEngine(st, lim),
		Pipeline:  pipeline.New(v, scorer, mgr, time.Duration(c.Scorer.TimeoutSecs)*time.Second),
	}
}
