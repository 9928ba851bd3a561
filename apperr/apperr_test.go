package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(NotCancellable, "order %s is ready", "o-1")
	wrapped := fmt.Errorf("cancel: %w", base)

	assert.Equal(t, NotCancellable, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, NotCancellable))
	assert.True(t, errors.Is(wrapped, New(NotCancellable, "")))
	assert.False(t, errors.Is(wrapped, New(NotFound, "")))
	assert.Equal(t, "order o-1 is ready", Message(wrapped))
}

func TestForeignErrorsAreInternal(t *testing.T) {
	err := errors.New("socket closed")
	assert.Equal(t, Internal, KindOf(err))
	assert.Equal(t, "internal server error", Message(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindOf(err)))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Unauthorized))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(InvalidTransition))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput))
}
