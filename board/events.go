package board

import (
	"encoding/json"
	"fmt"
)

// Event types carried on the board websocket channel.
const (
	EventUserJoined    = "user.joined"
	EventUserLeft      = "user.left"
	EventIssueMoved    = "issue.moved"
	EventIssueCreated  = "issue.created"
	EventIssueUpdated  = "issue.updated"
	EventIssueDeleted  = "issue.deleted"
	EventColumnCreated = "column.created"
	EventColumnUpdated = "column.updated"
	EventColumnDeleted = "column.deleted"
)

// Envelope is the standard message format for the board channel. Every frame
// carries a dot-namespaced type discriminator and an event-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope wraps a payload in an envelope for the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Data: data}, nil
}

// PresencePayload is the data shape of user.joined and user.left events.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// IssueMovedPayload is the data shape of issue.moved events. Issue is the
// full post-move object; FromStatus/ToStatus are workflow status ids.
type IssueMovedPayload struct {
	Issue      Issue   `json:"issue"`
	FromStatus string  `json:"from_status"`
	ToStatus   string  `json:"to_status"`
	User       UserRef `json:"user"`
}

// IssueChangedPayload is the data shape of issue.created and issue.updated
// events.
type IssueChangedPayload struct {
	Issue Issue   `json:"issue"`
	User  UserRef `json:"user"`
}

// IssueDeletedPayload is the data shape of issue.deleted events.
type IssueDeletedPayload struct {
	IssueID  string  `json:"issue_id"`
	IssueKey string  `json:"issue_key"`
	User     UserRef `json:"user"`
}

// ColumnChangedPayload is the data shape of column.created and
// column.updated events.
type ColumnChangedPayload struct {
	Column Column  `json:"column"`
	User   UserRef `json:"user"`
}

// ColumnDeletedPayload is the data shape of column.deleted events.
type ColumnDeletedPayload struct {
	ColumnID string  `json:"column_id"`
	User     UserRef `json:"user"`
}
