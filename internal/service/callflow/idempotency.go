package callflow

import (
	"github.com/seu-repo/voxdesk/internal/domain"
)

// ShouldProcess reports whether a delivery is the first attempt of an event.
// The provider resets meta.attempt to 1 for new events and increments it only
// when redelivering, so anything above 1 is acknowledged without side effects.
// Distinct deliveries are not deduplicated by event id.
func ShouldProcess(event domain.WebhookEnvelope) bool {
	return event.Attempt() <= 1
}
