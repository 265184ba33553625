package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tidepay/internal/services/webhook"
	"tidepay/internal/utils"
)

// WebhookHandler receives gateway callbacks. The endpoint is public; every
// provider authenticates through its signature scheme instead.
type WebhookHandler struct {
	webhooks webhook.Service
}

func NewWebhookHandler(webhooks webhook.Service) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	provider := c.Params("provider")

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	ack, err := h.webhooks.Process(c.Context(), provider, c.Body(), headers)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, ack)
}
