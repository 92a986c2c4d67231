// Package ledger holds the state-transition rules for the machine registry
// and its reward accounting.
//
// Every operation works on records the host has already loaded and hands
// back the mutated records for the host to persist. Preconditions are
// checked before the first write, so a returned error means the records are
// exactly as they were passed in. The package never locks, blocks or retries:
// serialising invocations that touch the same records is the host's job.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devghori1264/agrox/internal/models"
)

// Env is the per-invocation context supplied by the host: who is calling
// and what time it is.
type Env struct {
	Caller models.Identity
	Now    time.Time
}

var errRecordIDRequired = errors.New("record id required")

// Initialize creates the registry with zeroed counters and an empty index.
func Initialize(env Env, authority models.Identity) (*models.Registry, error) {
	if authority == "" {
		return nil, ErrInvalidAuthority
	}
	return &models.Registry{
		Authority: authority,
		Machines:  make(map[string]string),
	}, nil
}

// RegisterMachine creates an inactive MachineRecord owned by the caller and
// indexes it under machineID.
func RegisterMachine(env Env, reg *models.Registry, recordID, machineID string) (*models.MachineRecord, error) {
	if err := ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	if recordID == "" {
		return nil, errRecordIDRequired
	}
	if env.Caller == "" {
		return nil, fmt.Errorf("%w: no caller identity", ErrUnauthorized)
	}
	if _, exists := reg.Lookup(machineID); exists {
		return nil, fmt.Errorf("%w: %q", ErrMachineIDAlreadyExists, machineID)
	}

	m := &models.MachineRecord{
		ID:        recordID,
		Owner:     env.Caller,
		MachineID: machineID,
	}
	if reg.Machines == nil {
		reg.Machines = make(map[string]string)
	}
	reg.Machines[machineID] = recordID
	reg.MachineCount++
	return m, nil
}

// StartMachine marks the machine active. Starting an active machine is a no-op.
func StartMachine(env Env, m *models.MachineRecord) error {
	return setActive(env, m, true)
}

// StopMachine marks the machine inactive. Stopping an inactive machine is a no-op.
func StopMachine(env Env, m *models.MachineRecord) error {
	return setActive(env, m, false)
}

func setActive(env Env, m *models.MachineRecord, active bool) error {
	if err := requireOwner(env.Caller, m); err != nil {
		return err
	}
	m.IsActive = active
	return nil
}

// UploadData records a reading for an active machine and credits the
// upload reward, plus the image bonus when imageURL is set. Any caller may
// report on behalf of an active machine.
func UploadData(env Env, reg *models.Registry, m *models.MachineRecord, recordID string, temperature, humidity float64, imageURL *string) (*models.ReadingRecord, error) {
	if err := ValidateImageURL(imageURL); err != nil {
		return nil, err
	}
	if recordID == "" {
		return nil, errRecordIDRequired
	}
	if !m.IsActive {
		return nil, fmt.Errorf("%w: %q", ErrMachineNotActive, m.MachineID)
	}
	withImage := imageURL != nil
	rewards, err := accrue(m.RewardsEarned, UploadRewardFor(withImage))
	if err != nil {
		return nil, err
	}

	r := &models.ReadingRecord{
		ID:          recordID,
		Machine:     m.ID,
		Timestamp:   env.Now,
		Temperature: temperature,
		Humidity:    humidity,
	}
	if withImage {
		u := *imageURL
		r.ImageURL = &u
	}

	m.DataCount++
	m.LastDataTimestamp = latest(m.LastDataTimestamp, env.Now)
	if withImage {
		m.ImageCount++
		m.LastImageTimestamp = latest(m.LastImageTimestamp, env.Now)
	}
	m.RewardsEarned = rewards
	reg.TotalDataUploads++
	return r, nil
}

// latest keeps last-seen timestamps from moving backwards when the host
// clock steps back.
func latest(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev
}

// UseData records one consumption of a reading and credits the usage reward
// to the machine that produced it. The host must pass the machine the
// reading points back to.
func UseData(env Env, reg *models.Registry, r *models.ReadingRecord, m *models.MachineRecord) error {
	rewards, err := accrue(m.RewardsEarned, UsageReward)
	if err != nil {
		return err
	}
	r.UsedCount++
	m.DataUsedCount++
	reg.DataRequestCount++
	m.RewardsEarned = rewards
	return nil
}

// ClaimRewards zeroes the owner's balance and hands the amount to t. If the
// transfer fails the balance is put back and the error is returned.
func ClaimRewards(ctx context.Context, env Env, m *models.MachineRecord, t Transferer) (uint64, error) {
	if err := requireOwner(env.Caller, m); err != nil {
		return 0, err
	}
	if m.RewardsEarned == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoRewardsAvailable, m.MachineID)
	}

	rewards := m.RewardsEarned
	m.RewardsEarned = 0
	if t == nil {
		return rewards, nil
	}
	if err := t.TransferTokens(ctx, env.Caller, rewards); err != nil {
		m.RewardsEarned = rewards
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return rewards, nil
}
