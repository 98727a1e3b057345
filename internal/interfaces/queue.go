package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// DeleteFunc removes a received message permanently. Call it only after the
// task has been committed to a terminal state; dropping it lets the message
// become visible again after the visibility timeout.
type DeleteFunc func() error

// Queue is an at-least-once message queue with visibility timeouts.
type Queue interface {
	Enqueue(ctx context.Context, msg *models.QueueMessage) error

	// Receive returns the next visible message or models.ErrNoMessage. The
	// message stays invisible for the configured visibility timeout.
	Receive(ctx context.Context) (*models.QueueMessage, DeleteFunc, error)

	// ReceiveWait blocks up to wait for a message, polling at the configured
	// interval.
	ReceiveWait(ctx context.Context, wait time.Duration) (*models.QueueMessage, DeleteFunc, error)

	Length(ctx context.Context) (int, error)
	Close() error
}
