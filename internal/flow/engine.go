package flow

import (
	"fmt"
	"strings"
	"time"
)

// Transition describes a state change applied to a record. Services use it
// for audit rows, metrics and post-commit notifications.
type Transition struct {
	Stage      Stage
	Action     Action
	Actor      string
	Comment    string
	At         time.Time
	FromStatus RequestStatus
	ToStatus   RequestStatus
}

// NextStage returns the stage after t.Stage, if any.
func (t Transition) NextStage() (Stage, bool) {
	return t.Stage.Next()
}

// Approve marks stage s as approved by actor. The stage must be pending and
// every earlier stage approved. Approving the first stage of a NEW request
// moves the request to IN_PROGRESS.
func (r *Record) Approve(s Stage, actor string, at time.Time, comment string) (Transition, error) {
	if err := r.checkDecidable(s); err != nil {
		return Transition{}, err
	}

	t := r.apply(s, ActionApprove, StatusApproved, actor, at, comment)
	if s.IsFirst() && r.RequestStatus == RequestNew {
		r.RequestStatus = RequestInProgress
	}
	t.ToStatus = r.RequestStatus
	return t, nil
}

// Reject marks stage s as rejected and terminates the request workflow.
// A non-blank comment is mandatory.
func (r *Record) Reject(s Stage, actor string, at time.Time, comment string) (Transition, error) {
	if blank(comment) {
		return Transition{}, ErrCommentRequired
	}
	if err := r.checkDecidable(s); err != nil {
		return Transition{}, err
	}

	t := r.apply(s, ActionReject, StatusRejected, actor, at, comment)
	r.RequestStatus = RequestRejected
	t.ToStatus = r.RequestStatus
	return t, nil
}

// SendToModification returns the request to its owner for changes. Only the
// comment is required; the stage does not need to be pending or reachable.
// A rejected or completed request cannot be reopened.
func (r *Record) SendToModification(s Stage, actor string, at time.Time, comment string) (Transition, error) {
	if blank(comment) {
		return Transition{}, ErrCommentRequired
	}
	if !s.Valid() {
		return Transition{}, fmt.Errorf("%w: %d", ErrInvalidStageToken, int(s))
	}
	if r.RequestStatus.Closed() {
		return Transition{}, fmt.Errorf("%w: %s", ErrRequestClosed, r.RequestStatus)
	}

	t := r.apply(s, ActionModify, StatusModify, actor, at, comment)
	r.RequestStatus = RequestPendingModification
	t.ToStatus = r.RequestStatus
	return t, nil
}

func (r *Record) checkDecidable(s Stage) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStageToken, int(s))
	}
	if !r.IsPending(s) {
		return fmt.Errorf("%w: %s is %s", ErrStageAlreadyDecided, s, r.Decision(s).Status)
	}
	if !r.PrevApproved(s) {
		return fmt.Errorf("%w: %s", ErrPriorStagesIncomplete, s)
	}
	return nil
}

func (r *Record) apply(s Stage, action Action, status Status, actor string, at time.Time, comment string) Transition {
	decidedAt := at
	comment = strings.TrimSpace(comment)
	r.set(s, Decision{
		Responsible: actor,
		Status:      status,
		DecidedAt:   &decidedAt,
		Comment:     comment,
	})
	return Transition{
		Stage:      s,
		Action:     action,
		Actor:      actor,
		Comment:    comment,
		At:         at,
		FromStatus: r.RequestStatus,
	}
}
