package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown requests and unknown stage tokens.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the access gate denies an actor.
	ErrForbidden = errors.New("forbidden")
	// ErrStageAlreadyDecided is returned when the target stage is no longer pending.
	ErrStageAlreadyDecided = errors.New("stage already decided")
	// ErrPriorStagesIncomplete is returned when an earlier stage is not approved.
	ErrPriorStagesIncomplete = errors.New("prior stages incomplete")
	// ErrCommentRequired is returned by reject and modify without a comment.
	ErrCommentRequired = errors.New("comment required")
	// ErrRequestClosed is returned when the request is already rejected or completed.
	ErrRequestClosed = errors.New("request is closed")
	// ErrInvalidMovementType is returned for tokens outside the movement type set.
	ErrInvalidMovementType = errors.New("invalid movement type")
	// ErrInvalidStageToken wraps ErrNotFound so unknown stages surface as 404.
	ErrInvalidStageToken = fmt.Errorf("%w: invalid stage token", ErrNotFound)
)

// IsPrecondition reports whether err is a recoverable transition failure that
// the caller should show as a warning.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrStageAlreadyDecided) ||
		errors.Is(err, ErrPriorStagesIncomplete) ||
		errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrRequestClosed)
}
