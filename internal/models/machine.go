package models

import "time"

// Identity is a verified caller identity handed to the ledger by the host.
type Identity string

// MaxMachineIDLen bounds MachineRecord.MachineID, counted in characters.
const MaxMachineIDLen = 32

// MachineState is the lifecycle position of a MachineRecord.
type MachineState string

const (
	StateUnregistered MachineState = "unregistered"
	StateInactive     MachineState = "inactive"
	StateActive       MachineState = "active"
)

// MachineRecord is the per-device record tracking activity, usage counters
// and the owner's unclaimed reward balance.
// Shared between the ledger, server and storage layers.
type MachineRecord struct {
	ID                 string    `json:"id"`
	Owner              Identity  `json:"owner"`
	MachineID          string    `json:"machine_id"`
	IsActive           bool      `json:"is_active"`
	DataCount          uint64    `json:"data_count"`
	ImageCount         uint64    `json:"image_count"`
	DataUsedCount      uint64    `json:"data_used_count"`
	RewardsEarned      uint64    `json:"rewards_earned"`
	LastDataTimestamp  time.Time `json:"last_data_timestamp"`
	LastImageTimestamp time.Time `json:"last_image_timestamp"`
}

// State reports where the record sits in the register/start/stop lifecycle.
func (m *MachineRecord) State() MachineState {
	switch {
	case m == nil || m.ID == "":
		return StateUnregistered
	case m.IsActive:
		return StateActive
	default:
		return StateInactive
	}
}

// Clone returns a copy that can be mutated without touching m.
func (m *MachineRecord) Clone() *MachineRecord {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}
