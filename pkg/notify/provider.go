package notify

import (
	"context"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// requestTimeout bounds every outbound provider request.
const requestTimeout = 10 * time.Second

// Provider delivers a payload to one configured channel.
type Provider interface {
	Send(ctx context.Context, channel *models.NotificationChannel, payload *Payload) DeliveryResult
}

func failure(attempt int, err error) DeliveryResult {
	return DeliveryResult{Success: false, Attempt: attempt, Error: err.Error()}
}
