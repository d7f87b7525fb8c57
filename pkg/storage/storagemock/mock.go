package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// MockDatabase is a testify mock of storage.Database.
type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) CreateRegistration(ctx context.Context, reg types.Registration) error {
	args := m.Called(ctx, reg)
	return args.Error(0)
}

func (m *MockDatabase) GetRegistration(ctx context.Context, id string) (types.Registration, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Registration), args.Error(1)
}

func (m *MockDatabase) FindRegistrationsByDevice(ctx context.Context, deviceID string) ([]types.Registration, error) {
	args := m.Called(ctx, deviceID)
	regs, _ := args.Get(0).([]types.Registration)
	return regs, args.Error(1)
}

func (m *MockDatabase) ListRegistrations(ctx context.Context, status types.RegistrationStatus) ([]types.Registration, error) {
	args := m.Called(ctx, status)
	regs, _ := args.Get(0).([]types.Registration)
	return regs, args.Error(1)
}

func (m *MockDatabase) UpdateRegistration(ctx context.Context, reg types.Registration) error {
	args := m.Called(ctx, reg)
	return args.Error(0)
}

func (m *MockDatabase) TransitionRegistration(ctx context.Context, id string, from types.RegistrationStatus, update func(*types.Registration)) (types.Registration, error) {
	args := m.Called(ctx, id, from, update)
	reg, _ := args.Get(0).(types.Registration)
	return reg, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
