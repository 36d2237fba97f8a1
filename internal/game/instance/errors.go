package instance

import "errors"

// Sentinel errors for the instance system.
var (
	ErrInvalidMapID           = errors.New("invalid map ID")
	ErrInvalidDifficulty      = errors.New("invalid difficulty")
	ErrEmptyTemplateName      = errors.New("empty template name")
	ErrInvalidMaxPlayers      = errors.New("invalid max players")
	ErrInvalidEncounters      = errors.New("invalid encounter count")
	ErrTemplateNotFound       = errors.New("instance template not found")
	ErrInstanceCreationFailed = errors.New("instance creation failed")
	ErrInstanceLimit          = errors.New("instance limit reached")
	ErrInstanceRetired        = errors.New("instance id retired by reset")
	ErrDifficultyMismatch     = errors.New("instance exists with another difficulty")
	ErrInstanceNotFound       = errors.New("instance not found")
	ErrInstanceFull           = errors.New("instance is full")
	ErrAlreadyInInstance      = errors.New("player already in instance")
	ErrNotInInstance          = errors.New("player not in instance")
	ErrInstanceDestroyed      = errors.New("instance is destroyed")
	ErrInvalidEncounter       = errors.New("invalid encounter index")
	ErrEncounterAlreadyDone   = errors.New("encounter already completed")
	ErrResetAborted           = errors.New("reset aborted by commit check")
	ErrUnknownResetMethod     = errors.New("unknown reset method")
)
