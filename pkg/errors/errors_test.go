package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesTemplate(t *testing.T) {
	err := Clone(ErrNotFound, "ledger not found")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "ledger not found", err.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	raw := fmt.Errorf("boom")
	appErr := FromError(raw)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.True(t, errors.Is(appErr, raw))

	wrapped := fmt.Errorf("context: %w", Clone(ErrConflict, "stale version"))
	assert.Equal(t, ErrConflict.Code, FromError(wrapped).Code)
	assert.True(t, IsDomain(wrapped))
	assert.False(t, IsDomain(raw))
}

func TestBecauseAndWithField(t *testing.T) {
	cause := errors.New("duplicate key")
	err := ErrConflict.Because(cause, "ledger already exists").WithField("mappingId", "unique")

	assert.Equal(t, ErrConflict.Code, err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, map[string]string{"mappingId": "unique"}, err.Fields)
	assert.Nil(t, ErrConflict.Fields)

	assert.Equal(t, `unknown step "peer"`, Clonef(ErrValidation, "unknown step %q", "peer").Message)
}
