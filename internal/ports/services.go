package ports

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/seu-repo/voxdesk/internal/domain"
)

// ErrCallEnded matches provider errors raised because the caller already hung
// up. Adapters make their errors satisfy errors.Is(err, ErrCallEnded).
var ErrCallEnded = errors.New("call has already ended")

// InterruptionSettings controls whether caller audio may cut a prompt short.
type InterruptionSettings struct {
	Enabled bool `json:"enabled"`
}

type AnswerRequest struct {
	ClientState string `json:"client_state,omitempty"`
}

type SpeakRequest struct {
	Payload              string               `json:"payload"`
	Voice                string               `json:"voice"`
	Language             string               `json:"language,omitempty"`
	ClientState          string               `json:"client_state,omitempty"`
	InterruptionSettings InterruptionSettings `json:"interruption_settings"`
}

type GatherRequest struct {
	Instructions         string               `json:"instructions"`
	Parameters           json.RawMessage      `json:"parameters"`
	Voice                string               `json:"voice"`
	ClientState          string               `json:"client_state,omitempty"`
	TimeoutMillis        int                  `json:"timeout_ms,omitempty"`
	InterruptionSettings InterruptionSettings `json:"interruption_settings"`
}

// CallControl issues commands against a live call leg at the telephony provider.
type CallControl interface {
	Answer(ctx context.Context, callControlID string, req AnswerRequest) error
	Speak(ctx context.Context, callControlID string, req SpeakRequest) error
	GatherUsingAI(ctx context.Context, callControlID string, req GatherRequest) error
}

type GenerateRequest struct {
	CallControlID string                   `json:"call_control_id"`
	SpeechText    string                   `json:"speech_text"`
	ClientState   domain.ContinuationState `json:"client_state"`
}

type GenerateResponse struct {
	Response            string               `json:"response"`
	ConversationHistory []domain.ChatMessage `json:"conversation_history,omitempty"`
	RememberedInfo      map[string]any       `json:"remembered_info,omitempty"`
}

// ResponseGenerator produces the assistant's next line for a caller utterance.
type ResponseGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// BusinessDirectory resolves tenants. Lookups return nil, nil when nothing matches.
type BusinessDirectory interface {
	FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error)
	FindByID(ctx context.Context, id string) (*domain.Business, error)
}

// CallRecorder stores and announces finished calls.
type CallRecorder interface {
	RecordCompleted(ctx context.Context, log *domain.CallLog) error
}
