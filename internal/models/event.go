package models

import "time"

// Event types published after a mutation commits.
const (
	EventMachineRegistered = "machine.registered"
	EventMachineStarted    = "machine.started"
	EventMachineStopped    = "machine.stopped"
	EventDataUploaded      = "data.uploaded"
	EventDataUsed          = "data.used"
	EventRewardsClaimed    = "rewards.claimed"
)

// Event describes one committed ledger mutation.
type Event struct {
	Type      string    `json:"event"`
	Caller    Identity  `json:"caller"`
	Machine   string    `json:"machine"`
	MachineID string    `json:"machine_id"`
	Reading   string    `json:"reading,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Time      time.Time `json:"time"`
}
