package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"validation", Validation("empty dataset", nil), KindValidation},
		{"transport", ScoringTransport(errors.New("dial tcp"), "scorer unreachable"), KindScoringTransport},
		{"contract", ScoringContract("ML inference failed"), KindScoringContract},
		{"reconciliation", Reconciliation("row 9 out of range"), KindReconciliation},
		{"persistence", Persistence(errors.New("disk full"), "insert leads"), KindPersistence},
		{"wrapped_by_eris", eris.Wrap(NotFound("campaign not found"), "api: get campaign"), KindNotFound},
		{"wrapped_by_fmt", fmt.Errorf("outer: %w", Conflict("already completed")), KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(KindPersistence, nil, "noop"))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := ScoringTransport(errors.New("connection refused"), "scorer unreachable")
	assert.Contains(t, err.Error(), "scorer unreachable")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "scorer unreachable", Message(err))
}

func TestDetailsOf(t *testing.T) {
	details := map[string]any{"missingColumns": []string{"poutcome"}}
	err := eris.Wrap(Validation("Missing required columns: poutcome", details), "ingest")

	assert.Equal(t, details, DetailsOf(err))
	assert.Nil(t, DetailsOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("bad", nil)))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Unauthorized("Authentication required")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("missing")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("terminal")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ScoringContract("bad")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestScoring(t *testing.T) {
	assert.True(t, Scoring(ScoringContract("x")))
	assert.True(t, Scoring(Reconciliation("x")))
	assert.True(t, Scoring(Persistence(errors.New("x"), "y")))
	assert.True(t, Scoring(ScoringTransport(errors.New("x"), "y")))
	assert.False(t, Scoring(Validation("x", nil)))
	assert.False(t, Scoring(errors.New("x")))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Validation("empty dataset", nil))
	require.True(t, Is(err, KindValidation))
	assert.False(t, Is(err, KindConflict))
	assert.False(t, Is(nil, KindValidation))
}
