package household

import "errors"

var (
	// ErrNotFound is returned when a household does not exist.
	ErrNotFound = errors.New("household not found")

	// ErrMemberExists is returned when adding a user who is already a member.
	ErrMemberExists = errors.New("user is already a member of this household")

	// ErrMemberNotFound is returned when removing a user who is not a member.
	ErrMemberNotFound = errors.New("user is not a member of this household")

	// ErrInviteExists is returned when an invitation for the same email is
	// already pending on the household.
	ErrInviteExists = errors.New("an invitation for this email is already pending")

	// ErrInviteNotFound is returned for unknown or already-used invitation tokens.
	ErrInviteNotFound = errors.New("invitation not found")

	// ErrInviteExpired is returned when an invitation token is past its expiry.
	ErrInviteExpired = errors.New("invitation has expired")
)
