package amqp

import (
	"encoding/json"
	"time"

	"spese/internal/core"
)

// ExpenseDeleteMessage announces that an expense deletion became permanent:
// its undo window elapsed. Consumers may purge the row.
type ExpenseDeleteMessage struct {
	ID          int64     `json:"id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Primary     string    `json:"primary"`
	Secondary   string    `json:"secondary"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExpenseDeleteMessage builds a delete message from the finalized expense.
func NewExpenseDeleteMessage(e core.Expense) *ExpenseDeleteMessage {
	return &ExpenseDeleteMessage{
		ID:          e.ID,
		Date:        e.Date.String(),
		Description: e.Description,
		AmountCents: e.Amount.Cents,
		Primary:     e.Primary,
		Secondary:   e.Secondary,
		Timestamp:   time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseDeleteMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseDeleteMessageFromJSON decodes a delete message.
func ExpenseDeleteMessageFromJSON(data []byte) (*ExpenseDeleteMessage, error) {
	var msg ExpenseDeleteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
