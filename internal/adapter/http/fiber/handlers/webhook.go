package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/service/callflow"
)

// CallEventHandler applies one call-control delivery.
type CallEventHandler interface {
	Handle(ctx context.Context, event domain.WebhookEnvelope) (callflow.Outcome, error)
}

type WebhookHandler struct {
	machine CallEventHandler
	log     *zap.Logger
}

func NewWebhookHandler(machine CallEventHandler, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		machine: machine,
		log:     log,
	}
}

type WebhookResponse struct {
	Message string   `json:"message"`
	Actions []string `json:"actions,omitempty"`
}

func (h *WebhookHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/webhooks/telnyx", h.Receive)
}

// Receive acknowledges every delivery with 200 unless the machine reports
// a failure the provider must see.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	var event domain.WebhookEnvelope
	// Not BodyParser: deliveries are decoded as JSON whatever their Content-Type.
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		h.log.Warn("Malformed webhook body", zap.Error(err), zap.Int("size", len(c.Body())))
		return c.Status(fiber.StatusOK).JSON(WebhookResponse{Message: "Malformed event ignored"})
	}

	out, err := h.machine.Handle(c.UserContext(), event)
	if err != nil {
		h.log.Error("Failed to handle call event",
			zap.String("event_type", string(event.Data.EventType)),
			zap.String("call_control_id", event.Data.Payload.CallControlID),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(WebhookResponse{
		Message: out.Message,
		Actions: out.Actions,
	})
}
