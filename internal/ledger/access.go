package ledger

import (
	"fmt"
	"unicode/utf8"

	"github.com/devghori1264/agrox/internal/models"
)

func requireOwner(caller models.Identity, m *models.MachineRecord) error {
	if caller == "" || caller != m.Owner {
		return fmt.Errorf("%w: caller is not the owner of %q", ErrUnauthorized, m.MachineID)
	}
	return nil
}

// ValidateMachineID checks the bound on machine IDs.
func ValidateMachineID(machineID string) error {
	if machineID == "" {
		return ErrInvalidMachineID
	}
	if n := utf8.RuneCountInString(machineID); n > models.MaxMachineIDLen {
		return fmt.Errorf("%w: %d characters, max %d", ErrMachineIDTooLong, n, models.MaxMachineIDLen)
	}
	return nil
}

// ValidateImageURL checks the bound on image URLs. A nil URL is always valid.
func ValidateImageURL(imageURL *string) error {
	if imageURL == nil {
		return nil
	}
	if n := len(*imageURL); n > models.MaxImageURLLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrImageURLTooLong, n, models.MaxImageURLLen)
	}
	return nil
}
