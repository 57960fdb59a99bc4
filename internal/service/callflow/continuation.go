package callflow

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/seu-repo/voxdesk/internal/domain"
)

var (
	ErrEmptyToken   = errors.New("continuation token is empty")
	ErrInvalidToken = errors.New("continuation token is invalid")
)

// EncodeState serializes the state into the opaque client_state token.
func EncodeState(state domain.ContinuationState) (string, error) {
	data, err := json.Marshal(normalizeState(state))
	if err != nil {
		return "", fmt.Errorf("failed to marshal continuation state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeState always returns a usable state. When the token is absent or
// malformed it returns the fresh default state together with ErrEmptyToken or
// ErrInvalidToken, and callers must not act on the returned flags.
func DecodeState(token string) (domain.ContinuationState, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return defaultState(), ErrEmptyToken
	}

	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return defaultState(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var state domain.ContinuationState
	if err := decodeJSON(data, &state); err != nil {
		return defaultState(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return normalizeState(state), nil
}

// decodeJSON keeps numbers in remembered_info as json.Number so integers are
// written back into the next token exactly as they arrived.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after continuation state")
	}
	return nil
}

func defaultState() domain.ContinuationState {
	return domain.NewContinuationState("", "", "")
}

func normalizeState(state domain.ContinuationState) domain.ContinuationState {
	if state.ConversationTurn < 1 {
		state.ConversationTurn = 1
	}
	if state.ConversationHistory == nil {
		state.ConversationHistory = []domain.ChatMessage{}
	}
	if state.RememberedInfo == nil {
		state.RememberedInfo = map[string]any{}
	}
	return state
}
