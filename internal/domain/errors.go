package domain

import "errors"

var (
	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrEventNotFound is returned when no event matches the lookup.
	ErrEventNotFound = errors.New("event not found")
	// ErrCrewNotFound is returned when the crew has no members or the user has
	// no active membership.
	ErrCrewNotFound = errors.New("crew not found")
	// ErrProblemNotFound is returned when the problem does not exist.
	ErrProblemNotFound = errors.New("problem not found")
	// ErrUnreachableParticipants is returned when neither the sender nor the
	// reporter belongs to the crew and they are different users, leaving a
	// message nobody involved would see.
	ErrUnreachableParticipants = errors.New("neither sender nor reporter is in the crew")
	// ErrPartialFanout is returned when the receipt batch stored fewer rows
	// than the dispatch computed recipients.
	ErrPartialFanout = errors.New("receipt fan-out incomplete")
	// ErrNoMobile is recorded for an SMS recipient without a contact number.
	ErrNoMobile = errors.New("recipient has no mobile number")
)
