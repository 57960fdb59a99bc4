package domain

import (
	"time"
)

type CallDirection string

const (
	CallDirectionIncoming CallDirection = "incoming"
	CallDirectionOutgoing CallDirection = "outgoing"
)

// CallLog is written once per finished call.
type CallLog struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	BusinessID      string        `json:"business_id" gorm:"index"`
	CallControlID   string        `json:"call_control_id" gorm:"index"`
	CallSessionID   string        `json:"call_session_id"`
	From            string        `json:"from" gorm:"column:from_number"`
	To              string        `json:"to" gorm:"column:to_number"`
	Direction       CallDirection `json:"direction"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	HangupCause     string        `json:"hangup_cause,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// CallCompleted is published on the message queue after a hangup.
type CallCompleted struct {
	EventID         string    `json:"event_id"`
	BusinessID      string    `json:"business_id,omitempty"`
	CallControlID   string    `json:"call_control_id"`
	DurationSeconds int       `json:"duration_seconds"`
	HangupCause     string    `json:"hangup_cause,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
