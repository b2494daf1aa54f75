package testutil

import (
	"context"

	"github.com/dgellow/ebo-bff/internal/authgenie"
	"github.com/dgellow/ebo-bff/internal/storage"
	"github.com/stretchr/testify/mock"
)

// MockBroker mocks the identity broker client.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) ExchangeIDToken(ctx context.Context, idToken, metadataJSON string) (*authgenie.TokenResponse, error) {
	args := m.Called(ctx, idToken, metadataJSON)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authgenie.TokenResponse), args.Error(1)
}

func (m *MockBroker) Refresh(ctx context.Context, refreshToken string) (*authgenie.TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authgenie.TokenResponse), args.Error(1)
}

// MockSessionStore mocks storage.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

var _ storage.SessionStore = (*MockSessionStore)(nil)

func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Session), args.Error(1)
}

func (m *MockSessionStore) PutSession(ctx context.Context, id string, s *storage.Session) error {
	args := m.Called(ctx, id, s)
	return args.Error(0)
}

func (m *MockSessionStore) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionStore) CleanupExpiredSessions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
