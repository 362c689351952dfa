package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"spendwise/internal/core"
)

// Routing keys on the direct exchange. Classify requests use the queue
// name; import events go to their own key for external subscribers.
const RoutingImportCompleted = "import_completed"

// ClassifyRequestMessage asks a worker to run one classification batch.
// A zero Limit means the configured default.
type ClassifyRequestMessage struct {
	RequestID string    `json:"request_id"`
	Limit     int       `json:"limit,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClassifyRequestMessage(reason string, limit int) *ClassifyRequestMessage {
	return &ClassifyRequestMessage{
		RequestID: uuid.NewString(),
		Limit:     limit,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// LimitPtr maps the wire value to the batch limit argument.
func (m *ClassifyRequestMessage) LimitPtr() *int {
	if m.Limit == 0 {
		return nil
	}
	limit := m.Limit
	return &limit
}

func (m *ClassifyRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ClassifyRequestMessageFromJSON(data []byte) (*ClassifyRequestMessage, error) {
	var msg ClassifyRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ImportCompletedMessage announces a finished import batch.
type ImportCompletedMessage struct {
	BatchID   int64     `json:"batch_id"`
	Channel   string    `json:"channel"`
	Imported  int       `json:"imported"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func NewImportCompletedMessage(b core.ImportBatch) *ImportCompletedMessage {
	return &ImportCompletedMessage{
		BatchID:   b.ID,
		Channel:   string(b.SourceChannel),
		Imported:  b.RecordsImported,
		Status:    string(b.Status),
		Timestamp: time.Now(),
	}
}

func (m *ImportCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ImportCompletedMessageFromJSON(data []byte) (*ImportCompletedMessage, error) {
	var msg ImportCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
