package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/sells-group/leadscore/internal/config"
)

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid payload"), false},
		{"status_503", NewStatusError(errors.New("unavailable"), 503), true},
		{"status_429", NewStatusError(errors.New("slow down"), 429), true},
		{"status_400", NewStatusError(errors.New("bad request"), 400), false},
		{"wrapped_status", fmt.Errorf("bulk: %w", NewStatusError(errors.New("x"), 504)), true},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"dns_timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"no_such_host", errors.New("dial tcp: lookup scorer: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromScorerConfig(t *testing.T) {
	bc := FromScorerConfig(config.ScorerConfig{BreakerThreshold: 7, BreakerResetSecs: 12})
	if bc.Threshold != 7 {
		t.Errorf("threshold = %d, want 7", bc.Threshold)
	}
	if bc.ResetTimeout.Seconds() != 12 {
		t.Errorf("reset = %s, want 12s", bc.ResetTimeout)
	}

	def := FromScorerConfig(config.ScorerConfig{})
	if def.Threshold != 5 || def.ResetTimeout.Seconds() != 30 {
		t.Errorf("zero config should keep defaults, got %+v", def)
	}
}
