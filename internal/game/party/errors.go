package party

import "errors"

var (
	ErrPartyNotFound  = errors.New("party not found")
	ErrAlreadyInParty = errors.New("player already in a party")
	ErrNotInParty     = errors.New("player not in party")
	ErrPartyFull      = errors.New("party is full")
	ErrNotLeader      = errors.New("player is not the party leader")
)
