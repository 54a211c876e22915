package apperr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := NotFound("user with ID %s not found", "u1")
	wrapped := errors.Wrap(base, "create ticket")

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
	assert.Equal(t, "user with ID u1 not found", Public(wrapped))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Unauthenticated("no identity"), http.StatusUnauthorized},
		{Forbidden(), http.StatusForbidden},
		{Invalid("prompt", "prompt must not be empty"), http.StatusBadRequest},
		{Misconfigured("no models configured"), http.StatusFailedDependency},
		{Unavailable(nil, "queue full"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), c.err.Error())
	}
}

func TestForbiddenHidesDetail(t *testing.T) {
	assert.Equal(t, "not authorized", Forbidden().Error())
	assert.Equal(t, "internal error", Public(errors.New("pebble: closed")))
	assert.Equal(t, "prompt", FieldOf(Invalid("prompt", "empty")))
}
