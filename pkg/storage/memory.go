package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// Memory keeps registrations in process. It is meant for local development
// and loses everything on restart.
type Memory struct {
	mu   sync.Mutex
	regs map[string]types.Registration
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{regs: make(map[string]types.Registration)}
}

// CreateRegistration implements Database.
func (m *Memory) CreateRegistration(ctx context.Context, reg types.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[reg.ID]; ok {
		return fmt.Errorf("registration %s already exists", reg.ID)
	}
	for _, existing := range m.regs {
		if existing.DeviceID == reg.DeviceID && existing.Active() {
			return fmt.Errorf("%w: %s", ErrDeviceRegistered, reg.DeviceID)
		}
	}
	m.regs[reg.ID] = reg
	return nil
}

// GetRegistration implements Database.
func (m *Memory) GetRegistration(ctx context.Context, id string) (types.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return types.Registration{}, fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
	}
	return reg, nil
}

// FindRegistrationsByDevice implements Database.
func (m *Memory) FindRegistrationsByDevice(ctx context.Context, deviceID string) ([]types.Registration, error) {
	regs := m.filter(func(r types.Registration) bool { return r.DeviceID == deviceID })
	sortRegistrations(regs, true)
	return regs, nil
}

// ListRegistrations implements Database.
func (m *Memory) ListRegistrations(ctx context.Context, status types.RegistrationStatus) ([]types.Registration, error) {
	regs := m.filter(func(r types.Registration) bool { return status == "" || r.Status == status })
	sortRegistrations(regs, false)
	return regs, nil
}

// UpdateRegistration implements Database.
func (m *Memory) UpdateRegistration(ctx context.Context, reg types.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[reg.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRegistrationNotFound, reg.ID)
	}
	m.regs[reg.ID] = reg
	return nil
}

// TransitionRegistration implements Database.
func (m *Memory) TransitionRegistration(ctx context.Context, id string, from types.RegistrationStatus, update func(*types.Registration)) (types.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return types.Registration{}, fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
	}
	if reg.Status != from {
		return reg, fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, reg.Status)
	}
	update(&reg)
	m.regs[id] = reg
	return reg, nil
}

// Close implements Database.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) filter(keep func(types.Registration) bool) []types.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.Registration{}
	for _, r := range m.regs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func sortRegistrations(regs []types.Registration, oldestFirst bool) {
	sort.SliceStable(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		if !oldestFirst {
			a, b = b, a
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
