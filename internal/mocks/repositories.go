package mocks

import (
	"context"

	"github.com/seu-repo/voxdesk/internal/domain"
)

// MockBusinessRepository is a mock implementation of BusinessRepository
type MockBusinessRepository struct {
	FindByIDFunc          func(ctx context.Context, id string) (*domain.Business, error)
	FindByPhoneNumberFunc func(ctx context.Context, phoneNumber string) (*domain.Business, error)
}

func (m *MockBusinessRepository) FindByID(ctx context.Context, id string) (*domain.Business, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockBusinessRepository) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error) {
	if m.FindByPhoneNumberFunc != nil {
		return m.FindByPhoneNumberFunc(ctx, phoneNumber)
	}
	return nil, nil
}

// MockCallLogRepository is a mock implementation of CallLogRepository
type MockCallLogRepository struct {
	SaveFunc                func(ctx context.Context, log *domain.CallLog) error
	FindByCallControlIDFunc func(ctx context.Context, callControlID string) (*domain.CallLog, error)
	Saved                   []*domain.CallLog
}

func (m *MockCallLogRepository) Save(ctx context.Context, log *domain.CallLog) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, log)
	}
	m.Saved = append(m.Saved, log)
	return nil
}

func (m *MockCallLogRepository) FindByCallControlID(ctx context.Context, callControlID string) (*domain.CallLog, error) {
	if m.FindByCallControlIDFunc != nil {
		return m.FindByCallControlIDFunc(ctx, callControlID)
	}
	for _, l := range m.Saved {
		if l.CallControlID == callControlID {
			return l, nil
		}
	}
	return nil, nil
}
