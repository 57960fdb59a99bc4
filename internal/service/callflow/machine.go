package callflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/observability/telemetry"
	"github.com/seu-repo/voxdesk/internal/ports"
)

var (
	ErrAnswerFailed   = errors.New("failed to answer call")
	ErrLookupFailed   = errors.New("failed to resolve business")
	ErrResponseFailed = errors.New("failed to generate response")
)

// Provider actions as reported in Outcome.Actions.
const (
	ActionAnswer = "answer"
	ActionSpeak  = "speak"
	ActionGather = "gather"
	ActionFiller = "filler"
)

const (
	MessageBusinessNotFound = "Business not found, call not answered"
	MessageDuplicate        = "Duplicate delivery ignored"
)

// Settings tune the conversation. Zero values fall back to defaults.
type Settings struct {
	DefaultVoice       string
	DefaultLanguage    string
	FillerText         string
	GatherInstructions string
	GatherTimeout      time.Duration
	FillerTimeout      time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.DefaultVoice == "" {
		s.DefaultVoice = "female"
	}
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = "en-US"
	}
	if s.FillerText == "" {
		s.FillerText = "One moment."
	}
	if s.GatherInstructions == "" {
		s.GatherInstructions = "Listen to the caller and transcribe exactly what they say into speech_text."
	}
	if s.GatherTimeout <= 0 {
		s.GatherTimeout = 30 * time.Second
	}
	if s.FillerTimeout <= 0 {
		s.FillerTimeout = 5 * time.Second
	}
	return s
}

// Outcome describes what the machine did with one delivery. State is the
// continuation state the transition computed, set even when the action meant
// to carry it failed; nil when the event does not advance the conversation.
type Outcome struct {
	Message string
	Actions []string
	State   *domain.ContinuationState
}

func acknowledge(message string) Outcome {
	return Outcome{Message: message}
}

// Machine drives one call through its lifecycle. It keeps no per-call memory:
// every transition is computed from the incoming event and its decoded token.
type Machine struct {
	directory    ports.BusinessDirectory
	calls        ports.CallControl
	responder    ports.ResponseGenerator
	recorder     ports.CallRecorder
	settings     Settings
	gatherParams json.RawMessage
	tracer       trace.Tracer
	log          *zap.Logger

	mu         sync.Mutex
	draining   bool
	background sync.WaitGroup
}

func NewMachine(
	directory ports.BusinessDirectory,
	calls ports.CallControl,
	responder ports.ResponseGenerator,
	recorder ports.CallRecorder,
	settings Settings,
	log *zap.Logger,
) (*Machine, error) {
	params, err := GatherParameters()
	if err != nil {
		return nil, err
	}

	return &Machine{
		directory:    directory,
		calls:        calls,
		responder:    responder,
		recorder:     recorder,
		settings:     settings.withDefaults(),
		gatherParams: params,
		tracer:       otel.Tracer("github.com/seu-repo/voxdesk/callflow"),
		log:          log,
	}, nil
}

// Handle applies one webhook delivery. A non-nil error means the delivery
// must be answered with a server error; everything else is acknowledged.
func (m *Machine) Handle(ctx context.Context, event domain.WebhookEnvelope) (Outcome, error) {
	eventType := event.Data.EventType
	payload := event.Data.Payload

	ctx, span := m.tracer.Start(ctx, "callflow.Handle", trace.WithAttributes(
		attribute.String("event.type", string(eventType)),
		attribute.String("event.id", event.Data.ID),
		attribute.String("call.control_id", payload.CallControlID),
		attribute.Int("event.attempt", event.Attempt()),
	))
	defer span.End()

	if !ShouldProcess(event) {
		telemetry.DuplicateDeliveriesTotal.Inc()
		m.log.Info("Ignoring webhook redelivery",
			zap.String("event_type", string(eventType)),
			zap.String("call_control_id", payload.CallControlID),
			zap.Int("attempt", event.Attempt()),
		)
		return m.finish(span, eventType, acknowledge(MessageDuplicate), nil)
	}

	var (
		out Outcome
		err error
	)

	switch eventType {
	case domain.EventCallInitiated:
		out, err = m.onInitiated(ctx, payload)
	case domain.EventCallAnswered:
		out, err = m.onAnswered(ctx, payload)
	case domain.EventCallSpeakEnded:
		out, err = m.onSpeakEnded(ctx, payload)
	case domain.EventCallAIGathered, domain.EventCallAIGatherEnded, domain.EventCallAIUserSpeech:
		out, err = m.onSpeech(ctx, payload)
	case domain.EventCallHangup:
		out, err = m.onHangup(ctx, payload)
	case domain.EventCallGatherEnded:
		// Superseded by the speech-recognized event.
		out = acknowledge("Gather ended")
	case domain.EventCallConversationEnded:
		out = acknowledge("Conversation ended")
	case domain.EventCallSpeakStarted, domain.EventCallPlaybackStarted, domain.EventCallPlaybackEnded:
		out = acknowledge("Event acknowledged")
	default:
		m.log.Debug("Unrecognized event type", zap.String("event_type", string(eventType)))
		out = acknowledge("Event type not handled")
	}

	return m.finish(span, eventType, out, err)
}

// Drain waits for detached filler speaks to finish or for ctx to expire.
// Once called, later filler speaks are skipped.
func (m *Machine) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	return m.wait(ctx)
}

func (m *Machine) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) finish(span trace.Span, eventType domain.EventType, out Outcome, err error) (Outcome, error) {
	label := string(eventType)
	if !eventType.Known() {
		label = "unrecognized"
	}

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.WebhookEventsTotal.WithLabelValues(label, result).Inc()

	return out, err
}

func (m *Machine) onInitiated(ctx context.Context, p domain.EventPayload) (Outcome, error) {
	if p.Direction != domain.CallDirectionIncoming {
		return acknowledge("Outbound call leg, nothing to answer"), nil
	}

	business, err := m.directory.FindByPhoneNumber(ctx, p.To)
	if err != nil {
		m.log.Error("Failed to resolve business for dialed number",
			zap.String("to", p.To),
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return Outcome{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if business == nil || !business.Active {
		m.log.Warn("Business not found, call not answered",
			zap.String("to", p.To),
			zap.String("call_control_id", p.CallControlID),
		)
		return acknowledge(MessageBusinessNotFound), nil
	}

	// The answer token only tells call.answered which tenant owns the call.
	token, err := EncodeState(domain.NewContinuationState(business.ID, p.CallControlID, ""))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}

	err = m.perform(ctx, ActionAnswer, p.CallControlID, func(ctx context.Context) error {
		return m.calls.Answer(ctx, p.CallControlID, ports.AnswerRequest{ClientState: token})
	})
	if err != nil {
		m.log.Error("Failed to answer call",
			zap.String("call_control_id", p.CallControlID),
			zap.String("business_id", business.ID),
			zap.Error(err),
		)
		return Outcome{}, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}

	m.log.Info("Call answered",
		zap.String("call_control_id", p.CallControlID),
		zap.String("business_id", business.ID),
		zap.String("from", p.From),
	)
	return Outcome{Message: "Call answered", Actions: []string{ActionAnswer}}, nil
}

func (m *Machine) onAnswered(ctx context.Context, p domain.EventPayload) (Outcome, error) {
	business, err := m.resolveBusiness(ctx, p)
	if err != nil {
		m.log.Error("Failed to resolve business for answered call",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return acknowledge("Business lookup failed, greeting skipped"), nil
	}
	if business == nil {
		m.log.Warn("Answered call has no business", zap.String("call_control_id", p.CallControlID))
		return acknowledge("Business not found, greeting skipped"), nil
	}

	next := domain.NewContinuationState(business.ID, p.CallControlID, firstNonEmpty(business.Voice, m.settings.DefaultVoice))
	next.Language = firstNonEmpty(business.Language, m.settings.DefaultLanguage)
	next.WaitingForSpeakEnd = true

	// Listening starts only on call.speak.ended so recognition never overlaps the greeting.
	if err := m.speak(ctx, p.CallControlID, greetingFor(business), next); err != nil {
		m.log.Error("Failed to speak greeting",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return Outcome{Message: "Greeting could not be spoken", State: &next}, nil
	}

	return Outcome{Message: "Greeting sent", Actions: []string{ActionSpeak}, State: &next}, nil
}

func (m *Machine) onSpeakEnded(ctx context.Context, p domain.EventPayload) (Outcome, error) {
	state, err := DecodeState(p.ClientState)
	if err != nil {
		m.log.Debug("Speak ended without conversation state",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return acknowledge("No conversation state, nothing to do"), nil
	}
	if !state.WaitingForSpeakEnd {
		return acknowledge("Not waiting for speak end"), nil
	}

	next := state.Clone()
	next.WaitingForSpeakEnd = false

	err = m.perform(ctx, ActionGather, p.CallControlID, func(ctx context.Context) error {
		token, err := EncodeState(next)
		if err != nil {
			return err
		}
		return m.calls.GatherUsingAI(ctx, p.CallControlID, ports.GatherRequest{
			Instructions:         m.settings.GatherInstructions,
			Parameters:           m.gatherParams,
			Voice:                m.voiceFor(next),
			ClientState:          token,
			TimeoutMillis:        int(m.settings.GatherTimeout / time.Millisecond),
			InterruptionSettings: ports.InterruptionSettings{Enabled: false},
		})
	})
	if err != nil {
		m.log.Error("Failed to start listening",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return Outcome{Message: "Listening could not be started", State: &next}, nil
	}

	return Outcome{Message: "Listening for caller speech", Actions: []string{ActionGather}, State: &next}, nil
}

func (m *Machine) onSpeech(ctx context.Context, p domain.EventPayload) (Outcome, error) {
	state, err := DecodeState(p.ClientState)
	if err != nil {
		m.log.Warn("Speech event without conversation state",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return acknowledge("No conversation state, speech ignored"), nil
	}

	speech := ExtractSpeech(p)
	if !speech.Usable() {
		return m.recoverTurn(ctx, p.CallControlID, state, speech)
	}

	m.sendFiller(ctx, p.CallControlID, state)

	started := time.Now()
	resp, err := m.responder.Generate(ctx, ports.GenerateRequest{
		CallControlID: p.CallControlID,
		SpeechText:    speech.Text,
		ClientState:   state,
	})
	telemetry.ResponseLatency.Observe(time.Since(started).Seconds())
	if err == nil && strings.TrimSpace(resp.Response) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		m.log.Error("Failed to generate response",
			zap.String("call_control_id", p.CallControlID),
			zap.Int("turn", state.ConversationTurn),
			zap.Error(err),
		)
		return Outcome{Actions: []string{ActionFiller}}, fmt.Errorf("%w: %v", ErrResponseFailed, err)
	}

	next := state.Clone()
	next.ConversationTurn++
	next.ConversationHistory = mergeHistory(state.ConversationHistory, resp.ConversationHistory, speech.Text, resp.Response)
	for key, value := range resp.RememberedInfo {
		next.RememberedInfo[key] = value
	}
	next.WaitingForSpeakEnd = true

	if err := m.speak(ctx, p.CallControlID, resp.Response, next); err != nil {
		m.log.Error("Failed to speak response",
			zap.String("call_control_id", p.CallControlID),
			zap.Error(err),
		)
		return Outcome{Message: "Response could not be spoken", Actions: []string{ActionFiller}, State: &next}, nil
	}

	return Outcome{Message: "Response sent", Actions: []string{ActionFiller, ActionSpeak}, State: &next}, nil
}

func (m *Machine) recoverTurn(ctx context.Context, callControlID string, state domain.ContinuationState, speech Speech) (Outcome, error) {
	message := RecoveryMessage(speech.Text)
	kind := "reprompt"
	if message == PresenceRecoveryMessage {
		kind = "presence"
	}
	telemetry.RecoveryPromptsTotal.WithLabelValues(kind).Inc()

	next := state.Clone()
	next.ConversationTurn++
	next.WaitingForSpeakEnd = true

	if err := m.speak(ctx, callControlID, message, next); err != nil {
		m.log.Error("Failed to speak recovery prompt",
			zap.String("call_control_id", callControlID),
			zap.Error(err),
		)
		return Outcome{Message: "Recovery prompt could not be spoken", State: &next}, nil
	}

	m.log.Info("Recovery prompt sent",
		zap.String("call_control_id", callControlID),
		zap.String("kind", kind),
		zap.Bool("valid", speech.Valid),
	)
	return Outcome{Message: "Recovery prompt sent", Actions: []string{ActionSpeak}, State: &next}, nil
}

func (m *Machine) onHangup(ctx context.Context, p domain.EventPayload) (Outcome, error) {
	record := &domain.CallLog{
		CallControlID: p.CallControlID,
		CallSessionID: p.CallSessionID,
		From:          p.From,
		To:            p.To,
		Direction:     p.Direction,
		HangupCause:   p.HangupCause,
	}
	if state, err := DecodeState(p.ClientState); err == nil {
		record.BusinessID = state.BusinessID
	}

	start, hasStart := parseTimestamp(p.StartTime)
	end, hasEnd := parseTimestamp(p.EndTime)
	if hasStart {
		record.StartedAt = &start
	}
	if hasEnd {
		record.EndedAt = &end
	}
	if hasStart && hasEnd && !end.Before(start) {
		duration := end.Sub(start)
		record.DurationSeconds = int(duration.Round(time.Second) / time.Second)
		telemetry.CallDuration.Observe(duration.Seconds())
	}

	if m.recorder != nil {
		if err := m.recorder.RecordCompleted(ctx, record); err != nil {
			m.log.Warn("Failed to record completed call",
				zap.String("call_control_id", p.CallControlID),
				zap.Error(err),
			)
		}
	}

	m.log.Info("Call ended",
		zap.String("call_control_id", p.CallControlID),
		zap.Int("duration_seconds", record.DurationSeconds),
		zap.String("hangup_cause", p.HangupCause),
	)
	return acknowledge(fmt.Sprintf("Call ended after %d seconds", record.DurationSeconds)), nil
}

// sendFiller masks response-generation latency. It runs detached from the
// transition: its result is discarded and it carries no client_state, so its
// own speak.ended is ignored.
func (m *Machine) sendFiller(ctx context.Context, callControlID string, state domain.ContinuationState) {
	req := ports.SpeakRequest{
		Payload:              m.settings.FillerText,
		Voice:                m.voiceFor(state),
		Language:             m.languageFor(state),
		InterruptionSettings: ports.InterruptionSettings{Enabled: false},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		m.log.Debug("Draining, filler speak skipped", zap.String("call_control_id", callControlID))
		return
	}

	fillerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settings.FillerTimeout)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer cancel()

		err := m.perform(fillerCtx, ActionFiller, callControlID, func(ctx context.Context) error {
			return m.calls.Speak(ctx, callControlID, req)
		})
		if err != nil {
			m.log.Debug("Filler speak failed", zap.String("call_control_id", callControlID), zap.Error(err))
		}
	}()
}

func (m *Machine) speak(ctx context.Context, callControlID, text string, next domain.ContinuationState) error {
	token, err := EncodeState(next)
	if err != nil {
		return err
	}

	return m.perform(ctx, ActionSpeak, callControlID, func(ctx context.Context) error {
		return m.calls.Speak(ctx, callControlID, ports.SpeakRequest{
			Payload:              text,
			Voice:                m.voiceFor(next),
			Language:             m.languageFor(next),
			ClientState:          token,
			InterruptionSettings: ports.InterruptionSettings{Enabled: false},
		})
	})
}

// perform runs one provider action. A call that already ended is not a failure.
func (m *Machine) perform(ctx context.Context, action, callControlID string, fn func(context.Context) error) error {
	err := fn(ctx)
	switch {
	case err == nil:
		telemetry.ProviderActionsTotal.WithLabelValues(action, "ok").Inc()
		return nil
	case errors.Is(err, ports.ErrCallEnded):
		telemetry.ProviderActionsTotal.WithLabelValues(action, "call_ended").Inc()
		m.log.Info("Call already ended, action skipped",
			zap.String("action", action),
			zap.String("call_control_id", callControlID),
		)
		return nil
	default:
		telemetry.ProviderActionsTotal.WithLabelValues(action, "error").Inc()
		return err
	}
}

// resolveBusiness prefers the tenant named by the answer token and falls back
// to the dialed number.
func (m *Machine) resolveBusiness(ctx context.Context, p domain.EventPayload) (*domain.Business, error) {
	if state, err := DecodeState(p.ClientState); err == nil && state.BusinessID != "" {
		business, err := m.directory.FindByID(ctx, state.BusinessID)
		if err != nil || business != nil {
			return business, err
		}
	}
	return m.directory.FindByPhoneNumber(ctx, p.To)
}

// voiceFor never writes the default back into the state.
func (m *Machine) voiceFor(state domain.ContinuationState) string {
	return firstNonEmpty(state.Voice, m.settings.DefaultVoice)
}

func (m *Machine) languageFor(state domain.ContinuationState) string {
	return firstNonEmpty(state.Language, m.settings.DefaultLanguage)
}

// mergeHistory takes the generator's history only when it extends the local
// one; otherwise the new turns are appended locally. History never shrinks or
// reorders.
func mergeHistory(local, returned []domain.ChatMessage, userText, reply string) []domain.ChatMessage {
	if len(returned) > len(local) && hasPrefix(returned, local) {
		out := make([]domain.ChatMessage, len(returned))
		copy(out, returned)
		return out
	}

	out := make([]domain.ChatMessage, 0, len(local)+2)
	out = append(out, local...)
	return append(out,
		domain.ChatMessage{Role: domain.ChatRoleUser, Content: userText},
		domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: reply},
	)
}

func hasPrefix(history, prefix []domain.ChatMessage) bool {
	if len(prefix) > len(history) {
		return false
	}
	for i := range prefix {
		if history[i] != prefix[i] {
			return false
		}
	}
	return true
}

func greetingFor(business *domain.Business) string {
	if greeting := strings.TrimSpace(business.Greeting); greeting != "" {
		return greeting
	}
	return fmt.Sprintf("Thank you for calling %s. How can I help you today?", business.Name)
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
