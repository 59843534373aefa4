package mocks

import (
	"context"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/stretchr/testify/mock"
)

type MockAuthAPI struct {
	mock.Mock
}

var _ ports.AuthAPI = (*MockAuthAPI)(nil)

func NewMockAuthAPI(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAuthAPI {
	m := &MockAuthAPI{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAuthAPI) Login(ctx context.Context, creds domain.LoginRequest) (domain.LoginResponse, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(domain.LoginResponse), args.Error(1)
}

func (m *MockAuthAPI) Register(ctx context.Context, user domain.RegisterRequest) (domain.RegisterResponse, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(domain.RegisterResponse), args.Error(1)
}

func (m *MockAuthAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAuthAPI) Verify(ctx context.Context) (domain.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *MockAuthAPI) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	args := m.Called(ctx, update)
	return args.Get(0).(domain.User), args.Error(1)
}
