package domain

import (
	"encoding/json"
)

type EventType string

const (
	EventCallInitiated         EventType = "call.initiated"
	EventCallAnswered          EventType = "call.answered"
	EventCallSpeakStarted      EventType = "call.speak.started"
	EventCallSpeakEnded        EventType = "call.speak.ended"
	EventCallGatherEnded       EventType = "call.gather.ended"
	EventCallAIGathered        EventType = "call.ai.gathered"
	EventCallAIGatherEnded     EventType = "call.ai_gather.ended"
	EventCallAIUserSpeech      EventType = "call.ai.user_speech"
	EventCallHangup            EventType = "call.hangup"
	EventCallConversationEnded EventType = "call.conversation.ended"
	EventCallPlaybackStarted   EventType = "call.playback.started"
	EventCallPlaybackEnded     EventType = "call.playback.ended"
)

// Known reports whether the event type is part of the call-control vocabulary.
func (t EventType) Known() bool {
	switch t {
	case EventCallInitiated, EventCallAnswered, EventCallSpeakStarted, EventCallSpeakEnded,
		EventCallGatherEnded, EventCallAIGathered, EventCallAIGatherEnded, EventCallAIUserSpeech,
		EventCallHangup, EventCallConversationEnded, EventCallPlaybackStarted, EventCallPlaybackEnded:
		return true
	}
	return false
}

// WebhookEnvelope is the body of a call-control webhook delivery.
type WebhookEnvelope struct {
	Data WebhookData  `json:"data"`
	Meta *WebhookMeta `json:"meta,omitempty"`
}

type WebhookData struct {
	ID         string       `json:"id"`
	EventType  EventType    `json:"event_type"`
	OccurredAt string       `json:"occurred_at,omitempty"`
	Payload    EventPayload `json:"payload"`
}

type WebhookMeta struct {
	Attempt   int    `json:"attempt"`
	Delivered string `json:"delivered_to,omitempty"`
}

// EventPayload keeps result and parameters raw because their shape differs
// between event variants.
type EventPayload struct {
	CallControlID string          `json:"call_control_id"`
	CallLegID     string          `json:"call_leg_id"`
	CallSessionID string          `json:"call_session_id"`
	ConnectionID  string          `json:"connection_id"`
	Direction     CallDirection   `json:"direction"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	State         string          `json:"state,omitempty"`
	StartTime     string          `json:"start_time,omitempty"`
	EndTime       string          `json:"end_time,omitempty"`
	ClientState   string          `json:"client_state,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	Status        string          `json:"status,omitempty"`
	Transcript    string          `json:"transcript,omitempty"`
	SpeechText    string          `json:"speech_text,omitempty"`
	HangupCause   string          `json:"hangup_cause,omitempty"`
	HangupSource  string          `json:"hangup_source,omitempty"`
}

// Attempt returns the delivery attempt counter, 1 when the provider omits it.
func (e WebhookEnvelope) Attempt() int {
	if e.Meta == nil || e.Meta.Attempt < 1 {
		return 1
	}
	return e.Meta.Attempt
}
