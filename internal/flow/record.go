package flow

import (
	"strings"
	"time"
)

// Decision is the tracked outcome of a single stage.
type Decision struct {
	Responsible string     `json:"responsible,omitempty"`
	Status      Status     `json:"status,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// IsPending reports whether the stage is still open. An unset status counts
// as pending.
func (d Decision) IsPending() bool {
	return d.Status == "" || d.Status == StatusPending
}

// IsApproved reports whether the stage carries exactly StatusApproved.
func (d Decision) IsApproved() bool {
	return d.Status == StatusApproved
}

// Record is the approval record of one request together with the request
// lifecycle status it drives. Decisions is indexed by Stage.
type Record struct {
	RequestStatus RequestStatus
	Decisions     [StageCount]Decision
}

// Decision returns the decision tracked for stage s.
func (r *Record) Decision(s Stage) Decision {
	if !s.Valid() {
		return Decision{}
	}
	return r.Decisions[s]
}

func (r *Record) set(s Stage, d Decision) {
	r.Decisions[s] = d
}

// IsPending reports whether stage s is unset or PENDING.
func (r *Record) IsPending(s Stage) bool {
	return r.Decision(s).IsPending()
}

// IsApproved reports whether stage s is exactly APPROVED.
func (r *Record) IsApproved(s Stage) bool {
	return r.Decision(s).IsApproved()
}

// PrevApproved reports whether every stage before s is APPROVED. The first
// stage always passes.
func (r *Record) PrevApproved(s Stage) bool {
	if !s.Valid() {
		return false
	}
	for _, prev := range Stages[:s] {
		if !r.IsApproved(prev) {
			return false
		}
	}
	return true
}

// IsFullyApproved reports whether all eight stages are APPROVED, whether by a
// person or by automatic seeding.
func (r *Record) IsFullyApproved() bool {
	for _, s := range Stages {
		if !r.IsApproved(s) {
			return false
		}
	}
	return true
}

// IsQueued reports whether s should appear in the stage's work queue: it is
// pending and either first or directly preceded by an approved stage.
func (r *Record) IsQueued(s Stage) bool {
	if !s.Valid() || !r.IsPending(s) {
		return false
	}
	prev, ok := s.Prev()
	if !ok {
		return true
	}
	return r.IsApproved(prev)
}

// CurrentStage returns the first stage that is not approved.
func (r *Record) CurrentStage() (Stage, bool) {
	for _, s := range Stages {
		if !r.IsApproved(s) {
			return s, true
		}
	}
	return 0, false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
