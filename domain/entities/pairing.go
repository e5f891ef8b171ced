package entities

import (
	"errors"
	"strings"
)

// Role represents which side of a pairing a device plays
type Role string

const (
	RoleCaregiver Role = "caregiver"
	RoleFamily    Role = "family"
)

// PairingState represents the state of the pairing state machine
type PairingState string

const (
	PairingStateUnselected           PairingState = "unselected"
	PairingStateRoleChosen           PairingState = "role_chosen"
	PairingStateAwaitingConfirmation PairingState = "awaiting_confirmation"
	PairingStatePaired               PairingState = "paired"
)

// PairingCodeLength is the fixed width of a pairing code
const PairingCodeLength = 6

var (
	ErrInvalidPairingCode = errors.New("pairing code must be exactly 6 digits")
	ErrPhoneRequired      = errors.New("caregiver phone number is required")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidTransition  = errors.New("invalid pairing state transition")
	ErrNotPaired          = errors.New("device is not paired")
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleCaregiver || r == RoleFamily
}

// PairingSession is the device-local identity established by pairing.
// Only PairingCode ever leaves the device, and only out-of-band.
type PairingSession struct {
	Role           Role   `json:"role"`
	PairingCode    string `json:"pairing_code"`
	Confirmed      bool   `json:"confirmed"`
	CaregiverPhone string `json:"caregiver_phone,omitempty"`
}

// Validate validates the session data
func (s *PairingSession) Validate() error {
	if !s.Role.Valid() {
		return ErrInvalidRole
	}
	if err := ValidatePairingCode(s.PairingCode); err != nil {
		return err
	}
	return nil
}

// ValidatePairingCode checks that code is exactly six ASCII digits
func ValidatePairingCode(code string) error {
	if len(code) != PairingCodeLength {
		return ErrInvalidPairingCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidPairingCode
		}
	}
	return nil
}

// NormalizePhone trims the number and rejects an empty result
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrPhoneRequired
	}
	return phone, nil
}
