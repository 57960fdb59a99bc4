package domain

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ContinuationState is the whole conversation memory of a call. It is never
// stored server side: it travels inside the provider's client_state field.
type ContinuationState struct {
	BusinessID          string         `json:"business_id,omitempty"`
	CallControlID       string         `json:"call_control_id,omitempty"`
	ConversationTurn    int            `json:"conversation_turn"`
	WaitingForSpeakEnd  bool           `json:"waiting_for_speak_end"`
	ConversationHistory []ChatMessage  `json:"conversation_history"`
	RememberedInfo      map[string]any `json:"remembered_info"`
	Voice               string         `json:"voice,omitempty"`
	Language            string         `json:"language,omitempty"`
}

// NewContinuationState returns the state a call starts its conversation with.
func NewContinuationState(businessID, callControlID, voice string) ContinuationState {
	return ContinuationState{
		BusinessID:          businessID,
		CallControlID:       callControlID,
		ConversationTurn:    1,
		ConversationHistory: []ChatMessage{},
		RememberedInfo:      map[string]any{},
		Voice:               voice,
	}
}

// Clone returns a deep copy so transitions never alias the caller's slices or maps.
func (s ContinuationState) Clone() ContinuationState {
	out := s
	out.ConversationHistory = make([]ChatMessage, len(s.ConversationHistory))
	copy(out.ConversationHistory, s.ConversationHistory)
	out.RememberedInfo = make(map[string]any, len(s.RememberedInfo))
	for k, v := range s.RememberedInfo {
		out.RememberedInfo[k] = v
	}
	return out
}
