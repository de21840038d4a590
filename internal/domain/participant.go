// Package domain contains entity without logic, just meta-data
package domain

import "errors"

var ErrUnknownRole = errors.New("unknown role")

type UserID string

// Role is the platform role a call participant carries. Doctor and
// patient are the two consultation participant kinds; admin is the
// administrative role that may inspect any consultation.
type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
	RoleAdmin   Role = "ADMIN"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDoctor, RolePatient, RoleAdmin:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// Administrative reports whether the role bypasses the participant check.
func (r Role) Administrative() bool { return r == RoleAdmin }

// Initiates reports whether this role opens the peer negotiation.
// Exactly one side of a consultation initiates: the provider.
func (r Role) Initiates() bool { return r == RoleDoctor || r == RoleAdmin }

// Identity is what the excluded auth subsystem hands us about the
// already-authenticated caller. Consumed, never minted, here.
type Identity struct {
	UserID UserID `json:"user_id"`
	Role   Role   `json:"role"`
}
