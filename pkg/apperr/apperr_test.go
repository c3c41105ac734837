package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("order %s not found", "x")))
	assert.True(t, IsValidation(Validation("bad input")))
	assert.True(t, IsMisconfigured(Misconfigured("no api key")))
	assert.True(t, IsGatewayFault(GatewayFault(errors.New("boom"))))

	assert.False(t, IsNotFound(Validation("bad input")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("gone"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusOf(Validation("x")))
	assert.Equal(t, http.StatusBadGateway, StatusOf(GatewayFault(errors.New("x"))))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("unknown")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(Validation("x")))
	assert.Equal(t, "", CodeOf(errors.New("unknown")))
}
