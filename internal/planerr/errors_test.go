package planerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindConfig:          http.StatusInternalServerError,
		KindTransient:       http.StatusServiceUnavailable,
		KindPermanent:       http.StatusInternalServerError,
		KindConflict:        http.StatusConflict,
		KindPersistence:     http.StatusInternalServerError,
		KindUnauthenticated: http.StatusUnauthorized,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestWithStage(t *testing.T) {
	err := WithStage(Parse("schema mismatch", "weeks[0].days"), StageParse)
	pe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, StageParse, pe.Stage)
	assert.Equal(t, "parse_validate: schema mismatch at weeks[0].days", err.Error())

	// An existing stage is preserved.
	again := WithStage(err, StagePersist)
	pe, _ = As(again)
	assert.Equal(t, StageParse, pe.Stage)

	raw := WithStage(fmt.Errorf("boom: %w", context.DeadlineExceeded), StageGenerate)
	assert.Equal(t, KindTransient, KindOf(raw))
	assert.True(t, errors.Is(raw, context.DeadlineExceeded))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", Conflict("p1"))))
	assert.True(t, Is(Validation("missing", "biometrics"), KindValidation))
	assert.False(t, Is(nil, KindInternal))
}
