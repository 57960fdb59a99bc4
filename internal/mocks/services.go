package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/ports"
)

// MockCallControl is a mock implementation of CallControl. Every request is
// recorded, including those answered by a Func override.
type MockCallControl struct {
	mu                sync.Mutex
	AnswerFunc        func(ctx context.Context, callControlID string, req ports.AnswerRequest) error
	SpeakFunc         func(ctx context.Context, callControlID string, req ports.SpeakRequest) error
	GatherUsingAIFunc func(ctx context.Context, callControlID string, req ports.GatherRequest) error

	Answers []ports.AnswerRequest
	Speaks  []ports.SpeakRequest
	Gathers []ports.GatherRequest
}

func (m *MockCallControl) Answer(ctx context.Context, callControlID string, req ports.AnswerRequest) error {
	m.mu.Lock()
	m.Answers = append(m.Answers, req)
	m.mu.Unlock()
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, callControlID, req)
	}
	return nil
}

func (m *MockCallControl) Speak(ctx context.Context, callControlID string, req ports.SpeakRequest) error {
	m.mu.Lock()
	m.Speaks = append(m.Speaks, req)
	m.mu.Unlock()
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, callControlID, req)
	}
	return nil
}

func (m *MockCallControl) GatherUsingAI(ctx context.Context, callControlID string, req ports.GatherRequest) error {
	m.mu.Lock()
	m.Gathers = append(m.Gathers, req)
	m.mu.Unlock()
	if m.GatherUsingAIFunc != nil {
		return m.GatherUsingAIFunc(ctx, callControlID, req)
	}
	return nil
}

// SpeakCalls returns a snapshot of the recorded speak requests.
func (m *MockCallControl) SpeakCalls() []ports.SpeakRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.SpeakRequest(nil), m.Speaks...)
}

// ActionCount returns how many provider actions of any kind were issued.
func (m *MockCallControl) ActionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Answers) + len(m.Speaks) + len(m.Gathers)
}

// MockResponseGenerator is a mock implementation of ResponseGenerator
type MockResponseGenerator struct {
	GenerateFunc func(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error)
}

func (m *MockResponseGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.GenerateResponse, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &ports.GenerateResponse{Response: "How can I help?"}, nil
}

// MockBusinessDirectory is a mock implementation of BusinessDirectory
type MockBusinessDirectory struct {
	FindByPhoneNumberFunc func(ctx context.Context, phoneNumber string) (*domain.Business, error)
	FindByIDFunc          func(ctx context.Context, id string) (*domain.Business, error)
}

func (m *MockBusinessDirectory) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error) {
	if m.FindByPhoneNumberFunc != nil {
		return m.FindByPhoneNumberFunc(ctx, phoneNumber)
	}
	return nil, nil
}

func (m *MockBusinessDirectory) FindByID(ctx context.Context, id string) (*domain.Business, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

// MockCallRecorder is a mock implementation of CallRecorder
type MockCallRecorder struct {
	RecordCompletedFunc func(ctx context.Context, log *domain.CallLog) error
	Recorded            []*domain.CallLog
}

func (m *MockCallRecorder) RecordCompleted(ctx context.Context, log *domain.CallLog) error {
	m.Recorded = append(m.Recorded, log)
	if m.RecordCompletedFunc != nil {
		return m.RecordCompletedFunc(ctx, log)
	}
	return nil
}
