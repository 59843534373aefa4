package mocks

import (
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/stretchr/testify/mock"
)

type MockNavigator struct {
	mock.Mock
}

var _ ports.Navigator = (*MockNavigator)(nil)

func NewMockNavigator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockNavigator {
	m := &MockNavigator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNavigator) RedirectToLogin(reason string) {
	m.Called(reason)
}
