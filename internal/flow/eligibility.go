package flow

import (
	"fmt"
	"strings"
	"time"
)

// SystemActor is recorded as responsible for stages skipped by eligibility.
const SystemActor = "SYSTEM"

// mcClasses are the source class codes that require the MC stage.
var mcClasses = map[string]struct{}{
	"112": {}, "122": {}, "211": {}, "221": {}, "221KT": {}, "221ST": {},
	"311": {}, "312": {}, "321": {}, "322": {}, "511": {}, "812": {}, "822": {},
}

// RequiresMC reports whether any source class belongs to the MC class set.
// Codes are compared trimmed and case-insensitively.
func RequiresMC(sourceClasses []string) bool {
	for _, c := range sourceClasses {
		if _, ok := mcClasses[strings.ToUpper(strings.TrimSpace(c))]; ok {
			return true
		}
	}
	return false
}

// Subject is the request content eligibility is evaluated against.
type Subject struct {
	SourceClasses []string
	MovementTypes []MovementType
}

// Eligibility says which conditional stages a request needs.
type Eligibility struct {
	MC  bool
	FIN bool
}

// Required reports whether stage s must be decided by a person.
func (e Eligibility) Required(s Stage) bool {
	switch {
	case s == StageMC:
		return e.MC
	case s.IsFinance():
		return e.FIN
	default:
		return true
	}
}

// Policy decides which conditional stages apply to a request.
type Policy interface {
	Evaluate(subject Subject) Eligibility
}

// MovementTypePolicy requires FIN when an FDO, PDO or WDO movement is selected.
type MovementTypePolicy struct{}

func (MovementTypePolicy) Evaluate(subject Subject) Eligibility {
	return Eligibility{
		MC:  RequiresMC(subject.SourceClasses),
		FIN: containsAny(subject.MovementTypes, MovementFDO, MovementPDO, MovementWDO),
	}
}

// ExclusionPolicy skips FIN when an MLO or ESTATUS movement is selected and
// requires it otherwise.
type ExclusionPolicy struct{}

func (ExclusionPolicy) Evaluate(subject Subject) Eligibility {
	return Eligibility{
		MC:  RequiresMC(subject.SourceClasses),
		FIN: !containsAny(subject.MovementTypes, MovementMLO, MovementESTATUS),
	}
}

const (
	PolicyMovement  = "movement"
	PolicyExclusion = "exclusion"
)

// PolicyByName resolves the configured FIN rule.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyMovement:
		return MovementTypePolicy{}, nil
	case PolicyExclusion:
		return ExclusionPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown eligibility policy %q", name)
	}
}

// NewRecord returns a freshly seeded record for a NEW request.
func NewRecord(e Eligibility, at time.Time) *Record {
	r := &Record{RequestStatus: RequestNew}
	r.Seed(e, at)
	return r
}

// Seed wipes every decision and initializes each stage: required stages
// become PENDING, skipped ones APPROVED by SystemActor at the given time.
func (r *Record) Seed(e Eligibility, at time.Time) {
	for _, s := range Stages {
		if e.Required(s) {
			r.set(s, Decision{Status: StatusPending})
			continue
		}
		decidedAt := at
		r.set(s, Decision{
			Responsible: SystemActor,
			Status:      StatusApproved,
			DecidedAt:   &decidedAt,
		})
	}
}

// Reset replays the creation seeding after the owner resubmits an edited
// request and moves it back to NEW.
func (r *Record) Reset(e Eligibility, at time.Time) {
	r.Seed(e, at)
	r.RequestStatus = RequestNew
}
