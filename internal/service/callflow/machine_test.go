package callflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/mocks"
	"github.com/seu-repo/voxdesk/internal/ports"
)

const testCCID = "v3:ccid-123"

var acme = &domain.Business{
	ID:          "biz-1",
	Name:        "Acme Dental",
	PhoneNumber: "+15550100",
	Voice:       "female",
	Language:    "en-US",
	Active:      true,
}

type fixture struct {
	machine   *Machine
	calls     *mocks.MockCallControl
	responder *mocks.MockResponseGenerator
	directory *mocks.MockBusinessDirectory
	recorder  *mocks.MockCallRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		calls:     &mocks.MockCallControl{},
		responder: &mocks.MockResponseGenerator{},
		directory: &mocks.MockBusinessDirectory{
			FindByPhoneNumberFunc: func(ctx context.Context, phoneNumber string) (*domain.Business, error) {
				if phoneNumber == acme.PhoneNumber {
					return acme, nil
				}
				return nil, nil
			},
			FindByIDFunc: func(ctx context.Context, id string) (*domain.Business, error) {
				if id == acme.ID {
					return acme, nil
				}
				return nil, nil
			},
		},
		recorder: &mocks.MockCallRecorder{},
	}

	m, err := NewMachine(f.directory, f.calls, f.responder, f.recorder, Settings{DefaultVoice: "neutral"}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}
	f.machine = m
	return f
}

func (f *fixture) handle(t *testing.T, event domain.WebhookEnvelope) (Outcome, error) {
	t.Helper()
	out, err := f.machine.Handle(context.Background(), event)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if drainErr := f.machine.wait(ctx); drainErr != nil {
		t.Fatalf("background work did not finish: %v", drainErr)
	}
	return out, err
}

func envelope(eventType domain.EventType, payload domain.EventPayload, attempt int) domain.WebhookEnvelope {
	if payload.CallControlID == "" {
		payload.CallControlID = testCCID
	}
	return domain.WebhookEnvelope{
		Data: domain.WebhookData{ID: "evt-1", EventType: eventType, Payload: payload},
		Meta: &domain.WebhookMeta{Attempt: attempt},
	}
}

func tokenFor(t *testing.T, state domain.ContinuationState) string {
	t.Helper()
	token, err := EncodeState(state)
	if err != nil {
		t.Fatalf("failed to encode state: %v", err)
	}
	return token
}

func decodeToken(t *testing.T, token string) domain.ContinuationState {
	t.Helper()
	state, err := DecodeState(token)
	if err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	return state
}

func conversationState(turn int, waiting bool) domain.ContinuationState {
	state := domain.NewContinuationState(acme.ID, testCCID, "female")
	state.ConversationTurn = turn
	state.WaitingForSpeakEnd = waiting
	return state
}

func TestHandle_InitiatedUnknownNumber(t *testing.T) {
	// Arrange
	f := newFixture(t)
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		From:      "+15559999",
		To:        "+15550000",
	}, 1)

	// Act
	out, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Message != "Business not found, call not answered" {
		t.Errorf("expected not-found message, got '%s'", out.Message)
	}
	if f.calls.ActionCount() != 0 {
		t.Errorf("expected no provider actions, got %d", f.calls.ActionCount())
	}
}

func TestHandle_InitiatedAnswersWithTenantToken(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		To:        acme.PhoneNumber,
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.calls.Answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(f.calls.Answers))
	}
	state := decodeToken(t, f.calls.Answers[0].ClientState)
	if state.BusinessID != acme.ID || state.CallControlID != testCCID {
		t.Errorf("expected token to carry tenant and call ids, got %+v", state)
	}
	if len(out.Actions) != 1 || out.Actions[0] != ActionAnswer {
		t.Errorf("expected answer action, got %v", out.Actions)
	}
}

func TestHandle_InitiatedOutboundIgnored(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionOutgoing,
		To:        acme.PhoneNumber,
	}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.calls.ActionCount() != 0 {
		t.Errorf("expected no actions for outbound leg, got %d", f.calls.ActionCount())
	}
}

func TestHandle_InitiatedAnswerFailure(t *testing.T) {
	f := newFixture(t)
	f.calls.AnswerFunc = func(ctx context.Context, id string, req ports.AnswerRequest) error {
		return errors.New("provider unavailable")
	}
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		To:        acme.PhoneNumber,
	}, 1)

	_, err := f.handle(t, event)

	if !errors.Is(err, ErrAnswerFailed) {
		t.Errorf("expected ErrAnswerFailed, got %v", err)
	}
}

func TestHandle_InitiatedCallAlreadyEndedIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.calls.AnswerFunc = func(ctx context.Context, id string, req ports.AnswerRequest) error {
		return fmt.Errorf("telnyx: %w", ports.ErrCallEnded)
	}
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		To:        acme.PhoneNumber,
	}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Errorf("expected call-ended error to be benign, got %v", err)
	}
}

func TestHandle_InitiatedLookupError(t *testing.T) {
	f := newFixture(t)
	f.directory.FindByPhoneNumberFunc = func(ctx context.Context, phoneNumber string) (*domain.Business, error) {
		return nil, errors.New("connection refused")
	}
	event := envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		To:        acme.PhoneNumber,
	}, 1)

	_, err := f.handle(t, event)

	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("expected ErrLookupFailed, got %v", err)
	}
	if f.calls.ActionCount() != 0 {
		t.Errorf("expected no actions, got %d", f.calls.ActionCount())
	}
}

func TestHandle_AnsweredSpeaksGreetingAndWaits(t *testing.T) {
	// Arrange
	f := newFixture(t)
	answerToken := tokenFor(t, domain.NewContinuationState(acme.ID, testCCID, ""))
	event := envelope(domain.EventCallAnswered, domain.EventPayload{
		To:          acme.PhoneNumber,
		ClientState: answerToken,
	}, 1)

	// Act
	out, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	speaks := f.calls.SpeakCalls()
	if len(speaks) != 1 {
		t.Fatalf("expected one speak, got %d", len(speaks))
	}
	if speaks[0].Payload != "Thank you for calling Acme Dental. How can I help you today?" {
		t.Errorf("unexpected greeting '%s'", speaks[0].Payload)
	}
	if speaks[0].Voice != "female" {
		t.Errorf("expected tenant voice 'female', got '%s'", speaks[0].Voice)
	}
	if len(f.calls.Gathers) != 0 {
		t.Error("expected listening to wait for speak end")
	}
	state := decodeToken(t, speaks[0].ClientState)
	if !state.WaitingForSpeakEnd {
		t.Error("expected waiting_for_speak_end to be true")
	}
	if state.ConversationTurn != 1 {
		t.Errorf("expected turn 1, got %d", state.ConversationTurn)
	}
	if out.State == nil || out.State.BusinessID != acme.ID {
		t.Errorf("expected outcome state for tenant, got %+v", out.State)
	}
}

func TestHandle_AnsweredWithoutTokenFallsBackToDialedNumber(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallAnswered, domain.EventPayload{To: acme.PhoneNumber}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.calls.SpeakCalls()) != 1 {
		t.Errorf("expected greeting to be spoken, got %d speaks", len(f.calls.SpeakCalls()))
	}
}

func TestHandle_SpeakEndedStartsListening(t *testing.T) {
	// Arrange
	f := newFixture(t)
	event := envelope(domain.EventCallSpeakEnded, domain.EventPayload{
		ClientState: tokenFor(t, conversationState(2, true)),
	}, 1)

	// Act
	out, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.calls.Gathers) != 1 {
		t.Fatalf("expected one gather, got %d", len(f.calls.Gathers))
	}
	gather := f.calls.Gathers[0]
	state := decodeToken(t, gather.ClientState)
	if state.WaitingForSpeakEnd {
		t.Error("expected waiting_for_speak_end to be cleared")
	}
	if state.ConversationTurn != 2 {
		t.Errorf("expected turn to stay 2, got %d", state.ConversationTurn)
	}
	if gather.InterruptionSettings.Enabled {
		t.Error("expected interruptions to be disabled")
	}
	if !json.Valid(gather.Parameters) {
		t.Error("expected gather parameters to be a json schema")
	}
	if len(out.Actions) != 1 || out.Actions[0] != ActionGather {
		t.Errorf("expected gather action, got %v", out.Actions)
	}
}

func TestHandle_SpeakEndedIgnoredWhenNotWaiting(t *testing.T) {
	cases := map[string]string{
		"flag cleared":  tokenFor(t, conversationState(2, false)),
		"filler speak":  "",
		"corrupt token": "@@@",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			event := envelope(domain.EventCallSpeakEnded, domain.EventPayload{ClientState: token}, 1)

			if _, err := f.handle(t, event); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if f.calls.ActionCount() != 0 {
				t.Errorf("expected no actions, got %d", f.calls.ActionCount())
			}
		})
	}
}

func TestHandle_SpeechGeneratesResponse(t *testing.T) {
	// Arrange
	f := newFixture(t)
	var received ports.GenerateRequest
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		received = req
		return &ports.GenerateResponse{
			Response:       "We have an opening at 3pm.",
			RememberedInfo: map[string]any{"intent": "booking"},
		}, nil
	}
	start := conversationState(1, false)
	start.RememberedInfo["name"] = "Dana"
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		Status:      "valid",
		Result:      json.RawMessage(`{"speech_text":"I need an appointment"}`),
	}, 1)

	// Act
	out, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if received.SpeechText != "I need an appointment" {
		t.Errorf("expected transcript to reach the generator, got '%s'", received.SpeechText)
	}
	if received.ClientState.ConversationTurn != 1 {
		t.Errorf("expected generator to see the current state, got turn %d", received.ClientState.ConversationTurn)
	}

	var filler, reply *ports.SpeakRequest
	for _, s := range f.calls.SpeakCalls() {
		if s.ClientState == "" {
			filler = &s
		} else {
			reply = &s
		}
	}
	if filler == nil || filler.Payload != "One moment." {
		t.Errorf("expected filler speak without state, got %+v", filler)
	}
	if reply == nil {
		t.Fatal("expected reply speak")
	}
	if reply.Payload != "We have an opening at 3pm." {
		t.Errorf("unexpected reply '%s'", reply.Payload)
	}

	state := decodeToken(t, reply.ClientState)
	if state.ConversationTurn != 2 {
		t.Errorf("expected turn 2, got %d", state.ConversationTurn)
	}
	if !state.WaitingForSpeakEnd {
		t.Error("expected waiting_for_speak_end to be true")
	}
	if len(state.ConversationHistory) != 2 {
		t.Fatalf("expected two history entries, got %d", len(state.ConversationHistory))
	}
	if state.ConversationHistory[0].Role != domain.ChatRoleUser || state.ConversationHistory[1].Role != domain.ChatRoleAssistant {
		t.Errorf("expected user then assistant, got %+v", state.ConversationHistory)
	}
	if state.RememberedInfo["name"] != "Dana" || state.RememberedInfo["intent"] != "booking" {
		t.Errorf("expected remembered info to merge, got %v", state.RememberedInfo)
	}
	if out.State == nil || out.State.ConversationTurn != 2 {
		t.Errorf("expected outcome state turn 2, got %+v", out.State)
	}
}

func TestHandle_SpeechCarriesIntegerFactsExactly(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		return &ports.GenerateResponse{
			Response:       "Thanks, I have your account.",
			RememberedInfo: map[string]any{"account": json.Number("9007199254740993")},
		}, nil
	}
	start := conversationState(1, false)
	start.RememberedInfo["party_size"] = json.Number("4")
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		SpeechText:  "my account is 9007199254740993",
	}, 1)

	// Act
	out, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var reply *ports.SpeakRequest
	for _, s := range f.calls.SpeakCalls() {
		if s.ClientState != "" {
			reply = &s
		}
	}
	if reply == nil {
		t.Fatal("expected reply speak")
	}
	for _, remembered := range []map[string]any{out.State.RememberedInfo, decodeToken(t, reply.ClientState).RememberedInfo} {
		if remembered["account"] != json.Number("9007199254740993") {
			t.Errorf("expected account 9007199254740993, got %#v", remembered["account"])
		}
		if remembered["party_size"] != json.Number("4") {
			t.Errorf("expected party_size 4, got %#v", remembered["party_size"])
		}
	}
}

func TestHandle_SpeechAfterDrainSkipsFiller(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.machine.Drain(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, conversationState(1, false)),
		SpeechText:  "book a cleaning",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	speaks := f.calls.SpeakCalls()
	if len(speaks) != 1 || speaks[0].ClientState == "" {
		t.Errorf("expected only the reply speak, got %+v", speaks)
	}
	if out.State == nil || out.State.ConversationTurn != 2 {
		t.Errorf("expected the turn to advance, got %+v", out.State)
	}
}

func TestHandle_ConcurrentDrainAndSpeech(t *testing.T) {
	f := newFixture(t)
	token := tokenFor(t, conversationState(1, false))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.machine.Handle(context.Background(), envelope(domain.EventCallAIGathered, domain.EventPayload{
				ClientState: token,
				SpeechText:  "book a cleaning",
			}, 1))
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.machine.Drain(ctx); err != nil {
		t.Errorf("expected drain to finish, got %v", err)
	}
	wg.Wait()
	if err := f.machine.wait(ctx); err != nil {
		t.Errorf("expected no filler left running, got %v", err)
	}
}

func TestHandle_SpeechAliases(t *testing.T) {
	for _, eventType := range []domain.EventType{
		domain.EventCallAIGathered,
		domain.EventCallAIGatherEnded,
		domain.EventCallAIUserSpeech,
	} {
		t.Run(string(eventType), func(t *testing.T) {
			f := newFixture(t)
			event := envelope(eventType, domain.EventPayload{
				ClientState: tokenFor(t, conversationState(1, false)),
				SpeechText:  "what time do you close",
			}, 1)

			if _, err := f.handle(t, event); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(f.calls.SpeakCalls()) != 2 {
				t.Errorf("expected filler and reply, got %d speaks", len(f.calls.SpeakCalls()))
			}
		})
	}
}

func TestHandle_SpeechKeepsVoice(t *testing.T) {
	f := newFixture(t)
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		return &ports.GenerateResponse{Response: "Sure."}, nil
	}
	start := conversationState(4, false)
	start.Voice = "male"
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		SpeechText:  "thanks",
	}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, s := range f.calls.SpeakCalls() {
		if s.Voice != "male" {
			t.Errorf("expected voice 'male' on every speak, got '%s'", s.Voice)
		}
		if s.ClientState != "" {
			if state := decodeToken(t, s.ClientState); state.Voice != "male" {
				t.Errorf("expected voice to carry forward, got '%s'", state.Voice)
			}
		}
	}
}

func TestHandle_SpeechUsesDefaultVoiceWithoutStoringIt(t *testing.T) {
	f := newFixture(t)
	start := conversationState(1, false)
	start.Voice = ""
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		SpeechText:  "hi, I want to order",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, s := range f.calls.SpeakCalls() {
		if s.Voice != "neutral" {
			t.Errorf("expected default voice 'neutral', got '%s'", s.Voice)
		}
	}
	if out.State == nil || out.State.Voice != "" {
		t.Errorf("expected state voice to stay empty, got %+v", out.State)
	}
}

func TestHandle_SpeechHistoryFromGenerator(t *testing.T) {
	f := newFixture(t)
	start := conversationState(2, false)
	start.ConversationHistory = []domain.ChatMessage{
		{Role: domain.ChatRoleUser, Content: "hours?"},
		{Role: domain.ChatRoleAssistant, Content: "9 to 5."},
	}
	extended := append(append([]domain.ChatMessage{}, start.ConversationHistory...),
		domain.ChatMessage{Role: domain.ChatRoleUser, Content: "and saturday?"},
		domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: "Closed on Saturday."},
	)
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		return &ports.GenerateResponse{Response: "Closed on Saturday.", ConversationHistory: extended}, nil
	}
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		SpeechText:  "and saturday?",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.State.ConversationHistory) != 4 {
		t.Fatalf("expected four history entries, got %d", len(out.State.ConversationHistory))
	}
	if out.State.ConversationHistory[3].Content != "Closed on Saturday." {
		t.Errorf("unexpected last entry %+v", out.State.ConversationHistory[3])
	}
}

func TestHandle_SpeechIgnoresShrunkGeneratorHistory(t *testing.T) {
	f := newFixture(t)
	start := conversationState(2, false)
	start.ConversationHistory = []domain.ChatMessage{
		{Role: domain.ChatRoleUser, Content: "hours?"},
		{Role: domain.ChatRoleAssistant, Content: "9 to 5."},
	}
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		return &ports.GenerateResponse{
			Response:            "Yes.",
			ConversationHistory: []domain.ChatMessage{{Role: domain.ChatRoleAssistant, Content: "Yes."}},
		}, nil
	}
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, start),
		SpeechText:  "open today?",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	history := out.State.ConversationHistory
	if len(history) != 4 {
		t.Fatalf("expected history to grow to four entries, got %d", len(history))
	}
	if history[0].Content != "hours?" || history[2].Content != "open today?" || history[3].Content != "Yes." {
		t.Errorf("expected local history plus new turns, got %+v", history)
	}
}

func TestHandle_PresenceRecovery(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.responder.GenerateFunc = func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
		t.Error("generator should not be called for unusable speech")
		return nil, nil
	}
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, conversationState(3, false)),
		Status:      "invalid",
		SpeechText:  "hello",
	}, 1)

	// Act
	_, err := f.handle(t, event)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	speaks := f.calls.SpeakCalls()
	if len(speaks) != 1 {
		t.Fatalf("expected one speak, got %d", len(speaks))
	}
	if speaks[0].Payload != PresenceRecoveryMessage {
		t.Errorf("expected presence message, got '%s'", speaks[0].Payload)
	}
	state := decodeToken(t, speaks[0].ClientState)
	if state.ConversationTurn != 4 || !state.WaitingForSpeakEnd {
		t.Errorf("expected turn 4 and waiting, got %+v", state)
	}
}

func TestHandle_EmptySpeechReprompts(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, conversationState(1, false)),
		Result:      json.RawMessage(`{"speech_text":""}`),
	}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	speaks := f.calls.SpeakCalls()
	if len(speaks) != 1 || speaks[0].Payload != DefaultRepromptMessage {
		t.Errorf("expected a single re-prompt, got %+v", speaks)
	}
}

func TestHandle_GeneratorFailure(t *testing.T) {
	cases := map[string]func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error){
		"error": func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
			return nil, errors.New("upstream timeout")
		},
		"empty response": func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
			return &ports.GenerateResponse{Response: "  "}, nil
		},
	}

	for name, generate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.responder.GenerateFunc = generate
			event := envelope(domain.EventCallAIGathered, domain.EventPayload{
				ClientState: tokenFor(t, conversationState(1, false)),
				SpeechText:  "book a cleaning",
			}, 1)

			_, err := f.handle(t, event)

			if !errors.Is(err, ErrResponseFailed) {
				t.Errorf("expected ErrResponseFailed, got %v", err)
			}
			for _, s := range f.calls.SpeakCalls() {
				if s.ClientState != "" {
					t.Errorf("expected only the filler to be spoken, got %+v", s)
				}
			}
		})
	}
}

func TestHandle_SpeakFailureIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.calls.SpeakFunc = func(ctx context.Context, id string, req ports.SpeakRequest) error {
		return errors.New("422 unprocessable")
	}
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: tokenFor(t, conversationState(1, false)),
		SpeechText:  "book a cleaning",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Errorf("expected speak failure to be acknowledged, got %v", err)
	}
	if out.State == nil || out.State.ConversationTurn != 2 || !out.State.WaitingForSpeakEnd {
		t.Errorf("expected the computed state to be reported, got %+v", out.State)
	}
	if len(out.Actions) != 1 || out.Actions[0] != ActionFiller {
		t.Errorf("expected only the filler action, got %v", out.Actions)
	}
}

func TestHandle_SpeechWithoutStateIgnored(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallAIGathered, domain.EventPayload{SpeechText: "hello"}, 1)

	if _, err := f.handle(t, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.calls.ActionCount() != 0 {
		t.Errorf("expected no actions, got %d", f.calls.ActionCount())
	}
}

func TestHandle_RedeliveryHasNoSideEffects(t *testing.T) {
	events := []domain.WebhookEnvelope{
		envelope(domain.EventCallInitiated, domain.EventPayload{Direction: domain.CallDirectionIncoming, To: acme.PhoneNumber}, 2),
		envelope(domain.EventCallAnswered, domain.EventPayload{To: acme.PhoneNumber}, 3),
		envelope(domain.EventCallSpeakEnded, domain.EventPayload{ClientState: tokenFor(t, conversationState(1, true))}, 2),
		envelope(domain.EventCallAIGathered, domain.EventPayload{ClientState: tokenFor(t, conversationState(1, false)), SpeechText: "hi"}, 2),
		envelope(domain.EventCallHangup, domain.EventPayload{}, 2),
	}

	for _, event := range events {
		t.Run(string(event.Data.EventType), func(t *testing.T) {
			f := newFixture(t)

			out, err := f.handle(t, event)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Message != MessageDuplicate {
				t.Errorf("expected duplicate message, got '%s'", out.Message)
			}
			if f.calls.ActionCount() != 0 {
				t.Errorf("expected no actions, got %d", f.calls.ActionCount())
			}
			if len(f.recorder.Recorded) != 0 {
				t.Error("expected nothing to be recorded")
			}
		})
	}
}

func TestHandle_HangupRecordsCall(t *testing.T) {
	f := newFixture(t)
	event := envelope(domain.EventCallHangup, domain.EventPayload{
		ClientState:   tokenFor(t, conversationState(3, false)),
		CallSessionID: "session-1",
		From:          "+15559999",
		To:            acme.PhoneNumber,
		Direction:     domain.CallDirectionIncoming,
		StartTime:     "2026-03-01T10:00:00Z",
		EndTime:       "2026-03-01T10:01:05Z",
		HangupCause:   "normal_clearing",
	}, 1)

	out, err := f.handle(t, event)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.recorder.Recorded) != 1 {
		t.Fatalf("expected one recorded call, got %d", len(f.recorder.Recorded))
	}
	record := f.recorder.Recorded[0]
	if record.DurationSeconds != 65 {
		t.Errorf("expected duration 65, got %d", record.DurationSeconds)
	}
	if record.BusinessID != acme.ID {
		t.Errorf("expected business id from state, got '%s'", record.BusinessID)
	}
	if out.Message != "Call ended after 65 seconds" {
		t.Errorf("unexpected message '%s'", out.Message)
	}
	if f.calls.ActionCount() != 0 {
		t.Errorf("expected no provider actions, got %d", f.calls.ActionCount())
	}
}

func TestHandle_HangupRecorderFailureIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.recorder.RecordCompletedFunc = func(ctx context.Context, log *domain.CallLog) error {
		return errors.New("database down")
	}

	if _, err := f.handle(t, envelope(domain.EventCallHangup, domain.EventPayload{}, 1)); err != nil {
		t.Errorf("expected recorder failure to be swallowed, got %v", err)
	}
}

func TestHandle_AcknowledgedEvents(t *testing.T) {
	for _, eventType := range []domain.EventType{
		domain.EventCallSpeakStarted,
		domain.EventCallGatherEnded,
		domain.EventCallConversationEnded,
		domain.EventCallPlaybackStarted,
		domain.EventCallPlaybackEnded,
		domain.EventType("call.something.new"),
	} {
		t.Run(string(eventType), func(t *testing.T) {
			f := newFixture(t)
			event := envelope(eventType, domain.EventPayload{
				ClientState: tokenFor(t, conversationState(1, true)),
			}, 1)

			if _, err := f.handle(t, event); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if f.calls.ActionCount() != 0 {
				t.Errorf("expected no actions, got %d", f.calls.ActionCount())
			}
		})
	}
}

func TestHandle_FullConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// initiated -> answer
	if _, err := f.machine.Handle(ctx, envelope(domain.EventCallInitiated, domain.EventPayload{
		Direction: domain.CallDirectionIncoming,
		To:        acme.PhoneNumber,
	}, 1)); err != nil {
		t.Fatalf("initiated: %v", err)
	}

	// answered -> greeting
	out, err := f.handle(t, envelope(domain.EventCallAnswered, domain.EventPayload{
		To:          acme.PhoneNumber,
		ClientState: f.calls.Answers[0].ClientState,
	}, 1))
	if err != nil {
		t.Fatalf("answered: %v", err)
	}
	greetingToken := tokenFor(t, *out.State)

	// speak.ended -> gather
	if _, err := f.handle(t, envelope(domain.EventCallSpeakEnded, domain.EventPayload{ClientState: greetingToken}, 1)); err != nil {
		t.Fatalf("speak ended: %v", err)
	}
	gatherToken := f.calls.Gathers[0].ClientState

	// speech -> reply
	out, err = f.handle(t, envelope(domain.EventCallAIGathered, domain.EventPayload{
		ClientState: gatherToken,
		SpeechText:  "Can I book for Friday?",
	}, 1))
	if err != nil {
		t.Fatalf("speech: %v", err)
	}

	if out.State.ConversationTurn != 2 {
		t.Errorf("expected turn 2 after first reply, got %d", out.State.ConversationTurn)
	}
	if out.State.BusinessID != acme.ID {
		t.Errorf("expected tenant to carry through, got '%s'", out.State.BusinessID)
	}
	if out.State.Voice != acme.Voice {
		t.Errorf("expected voice '%s' to carry through, got '%s'", acme.Voice, out.State.Voice)
	}
}
