package handlers

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidepay/internal/services/deposit"
)

func respondWith(t *testing.T, err error) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get("/t", func(c *fiber.Ctx) error {
		return respondServiceError(c, err)
	})

	resp, testErr := app.Test(httptest.NewRequest("GET", "/t", nil))
	require.NoError(t, testErr)
	defer resp.Body.Close()
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)
	return resp.StatusCode, string(body)
}

func TestRespondServiceErrorMapsKnownErrors(t *testing.T) {
	status, body := respondWith(t, deposit.ErrPolicyViolation)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Contains(t, body, deposit.ErrPolicyViolation.Error())

	status, _ = respondWith(t, deposit.ErrDepositNotFound)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = respondWith(t, deposit.ErrAlreadyFinalized)
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestRespondServiceErrorMasksInternalDetails(t *testing.T) {
	status, body := respondWith(t, errors.New("pq: connection reset by peer at 10.0.0.3"))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, body, "internal error")

	// Driver and storage internals never reach the client.
	assert.NotContains(t, body, "pq:")
	assert.NotContains(t, body, "10.0.0.3")
}
