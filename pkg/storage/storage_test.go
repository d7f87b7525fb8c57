package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// testDatabase exercises the behavior every provider must share.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	// unique per run so a reused emulator does not leak state
	device := fmt.Sprintf("TS%09d", time.Now().UnixNano()%1e9)
	created := time.Now().Truncate(time.Millisecond).UTC()

	first := types.Registration{
		ID:        uuid.NewString(),
		DeviceID:  device,
		Name:      "Rooftop",
		Contact:   "owner@example.com",
		Status:    types.RegistrationPending,
		CreatedAt: created,
		UpdatedAt: created,
	}

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, db.CreateRegistration(ctx, first))

		got, err := db.GetRegistration(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.DeviceID, got.DeviceID)
		assert.Equal(t, first.Contact, got.Contact)
		assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("Duplicate Device", func(t *testing.T) {
		dup := first
		dup.ID = uuid.NewString()
		err := db.CreateRegistration(ctx, dup)
		assert.ErrorIs(t, err, ErrDeviceRegistered)
	})

	t.Run("Not Found", func(t *testing.T) {
		_, err := db.GetRegistration(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrRegistrationNotFound)

		err = db.UpdateRegistration(ctx, types.Registration{ID: uuid.NewString(), DeviceID: device})
		assert.ErrorIs(t, err, ErrRegistrationNotFound)
	})

	t.Run("Update Frees Device", func(t *testing.T) {
		rejected := first
		rejected.Status = types.RegistrationRejected
		rejected.Reason = "unknown device"
		require.NoError(t, db.UpdateRegistration(ctx, rejected))

		got, err := db.GetRegistration(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RegistrationRejected, got.Status)
		assert.Equal(t, "unknown device", got.Reason)

		second := first
		second.ID = uuid.NewString()
		second.CreatedAt = created.Add(time.Minute)
		require.NoError(t, db.CreateRegistration(ctx, second))

		regs, err := db.FindRegistrationsByDevice(ctx, device)
		require.NoError(t, err)
		require.Len(t, regs, 2)
		assert.Equal(t, first.ID, regs[0].ID)
		assert.Equal(t, second.ID, regs[1].ID)
	})

	t.Run("List", func(t *testing.T) {
		pending, err := db.ListRegistrations(ctx, types.RegistrationPending)
		require.NoError(t, err)
		for _, r := range pending {
			assert.Equal(t, types.RegistrationPending, r.Status)
		}
		assert.True(t, containsDevice(pending, device))

		all, err := db.ListRegistrations(ctx, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 2)
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "newest first")
		}
	})

	t.Run("Transition", func(t *testing.T) {
		reg := first
		reg.ID = uuid.NewString()
		reg.DeviceID = device + "T"
		require.NoError(t, db.CreateRegistration(ctx, reg))

		got, err := db.TransitionRegistration(ctx, reg.ID, types.RegistrationPending, func(r *types.Registration) {
			r.Status = types.RegistrationApproving
		})
		require.NoError(t, err)
		assert.Equal(t, types.RegistrationApproving, got.Status)

		// the device stays held while approving
		dup := reg
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, db.CreateRegistration(ctx, dup), ErrDeviceRegistered)

		called := false
		got, err = db.TransitionRegistration(ctx, reg.ID, types.RegistrationPending, func(r *types.Registration) {
			called = true
		})
		assert.ErrorIs(t, err, ErrStatusConflict)
		assert.Equal(t, types.RegistrationApproving, got.Status)
		assert.False(t, called)

		got, err = db.TransitionRegistration(ctx, reg.ID, types.RegistrationApproving, func(r *types.Registration) {
			r.Status = types.RegistrationApproved
			r.EntryID = "entry-1"
		})
		require.NoError(t, err)
		stored, err := db.GetRegistration(ctx, reg.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RegistrationApproved, stored.Status)
		assert.Equal(t, "entry-1", stored.EntryID)
		assert.Equal(t, got.EntryID, stored.EntryID)

		_, err = db.TransitionRegistration(ctx, uuid.NewString(), types.RegistrationPending, func(*types.Registration) {})
		assert.ErrorIs(t, err, ErrRegistrationNotFound)
	})
}

func containsDevice(regs []types.Registration, device string) bool {
	for _, r := range regs {
		if r.DeviceID == device {
			return true
		}
	}
	return false
}

func TestMemory(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDatabase(t, db)
}

func TestMemoryConcurrentCreate(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.CreateRegistration(ctx, types.Registration{
				ID:       uuid.NewString(),
				DeviceID: "AB123456789",
				Status:   types.RegistrationPending,
			})
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, okCount)
}

func TestMemoryConcurrentTransition(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()
	reg := types.Registration{
		ID:       uuid.NewString(),
		DeviceID: "AB123456789",
		Status:   types.RegistrationPending,
	}
	require.NoError(t, db.CreateRegistration(ctx, reg))

	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.TransitionRegistration(ctx, reg.ID, types.RegistrationPending, func(r *types.Registration) {
				r.Status = types.RegistrationApproving
			})
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, okCount)
}
