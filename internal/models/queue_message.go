package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoMessage is returned by queue receives when nothing is visible.
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the wire payload of a crawl work item. Unknown fields in
// the JSON are ignored so producers may evolve the payload.
type QueueMessage struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
}

// Validate rejects payloads missing either identity field.
func (m *QueueMessage) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("queue message missing task_id")
	}
	if m.UserID == "" {
		return fmt.Errorf("queue message missing user_id")
	}
	return nil
}

// Marshal encodes the message payload.
func (m *QueueMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return data, nil
}

// UnmarshalQueueMessage decodes and validates a payload received from the
// queue.
func UnmarshalQueueMessage(data []byte) (*QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
