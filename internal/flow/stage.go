// Package flow implements the movement request approval state machine:
// the fixed stage order, the gating rule between stages, the per-stage
// transitions and the eligibility rules that decide which stages are
// skipped for a given request.
//
// The package has no storage or transport dependencies. Callers load a
// Record, apply a transition and persist the result inside their own
// transaction.
package flow

import (
	"fmt"
	"strings"
)

// Stage identifies one step of the approval sequence. Its numeric value is
// its position in the sequence and is the only source of precedence.
type Stage int

const (
	StageMNG Stage = iota
	StageJPN
	StageMC
	StagePL
	StagePCMNG
	StagePCJPN
	StageFINMNG
	StageFINJPN
)

// StageCount is the number of stages every approval record tracks.
const StageCount = 8

// Stages lists every stage in approval order.
var Stages = [StageCount]Stage{
	StageMNG, StageJPN, StageMC, StagePL,
	StagePCMNG, StagePCJPN, StageFINMNG, StageFINJPN,
}

var stageTokens = [StageCount]string{
	"MNG", "JPN", "MC", "PL", "PCMNG", "PCJPN", "FINMNG", "FINJPN",
}

// String returns the upper-case token used by the API and the database.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageTokens[s]
}

// Valid reports whether s is one of the eight known stages.
func (s Stage) Valid() bool {
	return s >= StageMNG && s <= StageFINJPN
}

// IsFirst reports whether s opens the sequence.
func (s Stage) IsFirst() bool {
	return s == StageMNG
}

// Prev returns the stage immediately before s.
func (s Stage) Prev() (Stage, bool) {
	if !s.Valid() || s.IsFirst() {
		return 0, false
	}
	return s - 1, true
}

// Next returns the stage immediately after s.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == StageFINJPN {
		return 0, false
	}
	return s + 1, true
}

// IsFinance reports whether s belongs to the FIN pair.
func (s Stage) IsFinance() bool {
	return s == StageFINMNG || s == StageFINJPN
}

// ParseStage normalizes a stage token (trim, upper-case) and resolves it.
func ParseStage(token string) (Stage, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	for i, name := range stageTokens {
		if name == t {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStageToken, token)
}

// MarshalText implements encoding.TextMarshaler so stages serialize as tokens.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStageToken, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
