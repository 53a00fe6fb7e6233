package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEWrapsKind(t *testing.T) {
	err := E(ErrInsufficientStock, "Not enough inventory. Current: %s, Attempting to remove: %s", "100", "150")

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "Not enough inventory. Current: 100, Attempting to remove: 150", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(E(ErrNotFound, "Product not found")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(E(ErrInvalidAttestation, "bad cid")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(E(ErrInsufficientStock, "short")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(E(ErrValidation, "bad field")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(E(ErrCommitmentFailed, "chain down")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(E(ErrStoreUnavailable, "db down")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("unclassified")))
}
