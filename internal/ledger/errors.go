package ledger

import "errors"

var (
	ErrMachineIDAlreadyExists = errors.New("machine id already exists")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrMachineNotActive       = errors.New("machine not active")
	ErrNoRewardsAvailable     = errors.New("no rewards available")

	ErrInvalidMachineID = errors.New("machine id required")
	ErrMachineIDTooLong = errors.New("machine id too long")
	ErrImageURLTooLong  = errors.New("image url too long")
	ErrInvalidAuthority = errors.New("authority required")
	ErrRewardOverflow   = errors.New("reward balance overflow")
	ErrTransferFailed   = errors.New("reward transfer failed")
)

// IsValidation reports whether err was caused by malformed input rather
// than by record state.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidMachineID) ||
		errors.Is(err, ErrMachineIDTooLong) ||
		errors.Is(err, ErrImageURLTooLong) ||
		errors.Is(err, ErrInvalidAuthority)
}
