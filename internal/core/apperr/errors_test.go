package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Retrieval("retrieve", cause)

	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrGeneration)
	assert.Equal(t, "retrieve: retrieval error: boom", err.Error())
}

func TestKindOfReturnsOutermostKind(t *testing.T) {
	inner := IndexLoad("load index", errors.New("missing"))
	outer := fmt.Errorf("wrapped: %w", Retrieval("retrieve", inner))

	assert.Equal(t, ErrRetrieval, KindOf(outer))
	assert.ErrorIs(t, outer, ErrIndexLoad)
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestConfigFormatsMessage(t *testing.T) {
	err := Config("chunk", "overlap %d must be smaller than size %d", 10, 5)

	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "overlap 10 must be smaller than size 5")
}
