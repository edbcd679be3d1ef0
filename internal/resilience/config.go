package resilience

import (
	"time"

	"github.com/sells-group/leadscore/internal/config"
)

// FromScorerConfig builds the scorer breaker config from application
// config. Zero values keep the defaults.
func FromScorerConfig(cfg config.ScorerConfig) BreakerConfig {
	bc := DefaultBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		bc.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSecs > 0 {
		bc.ResetTimeout = time.Duration(cfg.BreakerResetSecs) * time.Second
	}
	return bc
}
