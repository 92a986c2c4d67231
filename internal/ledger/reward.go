package ledger

import "math"

// Reward amounts credited to a machine's balance per event.
const (
	UploadReward     uint64 = 1
	ImageBonusReward uint64 = 10
	UsageReward      uint64 = 2
)

// UploadRewardFor returns the credit for a single upload.
func UploadRewardFor(withImage bool) uint64 {
	if withImage {
		return UploadReward + ImageBonusReward
	}
	return UploadReward
}

// accrue adds delta to balance, refusing to wrap.
func accrue(balance, delta uint64) (uint64, error) {
	if balance > math.MaxUint64-delta {
		return balance, ErrRewardOverflow
	}
	return balance + delta, nil
}
