package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func allRequired() *Record {
	return NewRecord(Eligibility{MC: true, FIN: true}, t0)
}

func approveThrough(t *testing.T, r *Record, last Stage) {
	t.Helper()
	for _, s := range Stages[:last+1] {
		if r.IsApproved(s) {
			continue
		}
		_, err := r.Approve(s, "approver."+s.String(), t0, "")
		require.NoError(t, err, "approve %s", s)
	}
}

func TestApprove_RequiresPriorStages(t *testing.T) {
	for _, s := range Stages[1:] {
		t.Run(s.String(), func(t *testing.T) {
			r := allRequired()
			if prev, ok := s.Prev(); ok && prev > StageMNG {
				approveThrough(t, r, prev-1)
			}

			_, err := r.Approve(s, "someone", t0, "")
			assert.ErrorIs(t, err, ErrPriorStagesIncomplete)
			assert.True(t, r.IsPending(s))
		})
	}
}

func TestApprove_FirstStageAdvancesRequest(t *testing.T) {
	r := allRequired()

	tr, err := r.Approve(StageMNG, "Ana Ruiz", t0, "  ok  ")
	require.NoError(t, err)

	assert.Equal(t, RequestInProgress, r.RequestStatus)
	assert.Equal(t, RequestNew, tr.FromStatus)
	assert.Equal(t, RequestInProgress, tr.ToStatus)
	assert.Equal(t, ActionApprove, tr.Action)

	d := r.Decision(StageMNG)
	assert.Equal(t, "Ana Ruiz", d.Responsible)
	assert.Equal(t, StatusApproved, d.Status)
	assert.Equal(t, "ok", d.Comment)
	require.NotNil(t, d.DecidedAt)
	assert.True(t, d.DecidedAt.Equal(t0))

	next, ok := tr.NextStage()
	assert.True(t, ok)
	assert.Equal(t, StageJPN, next)
}

func TestApprove_TwiceFails(t *testing.T) {
	r := allRequired()
	_, err := r.Approve(StageMNG, "first", t0, "")
	require.NoError(t, err)
	before := *r

	_, err = r.Approve(StageMNG, "second", t0.Add(time.Hour), "")
	assert.ErrorIs(t, err, ErrStageAlreadyDecided)
	assert.Equal(t, before, *r)
}

func TestApprove_LaterStageKeepsRequestStatus(t *testing.T) {
	r := allRequired()
	approveThrough(t, r, StageJPN)
	assert.Equal(t, RequestInProgress, r.RequestStatus)
}

func TestReject_And_Modify_RequireComment(t *testing.T) {
	ops := map[string]func(*Record, Stage, string, time.Time, string) (Transition, error){
		"reject": (*Record).Reject,
		"modify": (*Record).SendToModification,
	}
	comments := []string{"", "   ", "\t\n"}

	for name, op := range ops {
		for _, c := range comments {
			for _, s := range Stages {
				r := allRequired()
				before := *r
				_, err := op(r, s, "actor", t0, c)
				assert.ErrorIs(t, err, ErrCommentRequired, "%s %s %q", name, s, c)
				assert.Equal(t, before, *r)
			}
		}
	}
}

func TestReject_TerminatesRequest(t *testing.T) {
	r := allRequired()
	approveThrough(t, r, StageMNG)

	tr, err := r.Reject(StageJPN, "Ken Sato", t0, "wrong location")
	require.NoError(t, err)

	assert.Equal(t, RequestRejected, r.RequestStatus)
	assert.Equal(t, StatusRejected, r.Decision(StageJPN).Status)
	assert.Equal(t, "wrong location", tr.Comment)

	_, err = r.Approve(StageMC, "x", t0, "")
	assert.ErrorIs(t, err, ErrPriorStagesIncomplete)
}

func TestReject_Preconditions(t *testing.T) {
	r := allRequired()
	_, err := r.Reject(StageJPN, "x", t0, "no")
	assert.ErrorIs(t, err, ErrPriorStagesIncomplete)

	_, err = r.Approve(StageMNG, "x", t0, "")
	require.NoError(t, err)
	_, err = r.Reject(StageMNG, "x", t0, "no")
	assert.ErrorIs(t, err, ErrStageAlreadyDecided)
}

func TestSendToModification_NoGating(t *testing.T) {
	r := allRequired()

	// PCJPN is far from reachable but may still be sent back.
	tr, err := r.SendToModification(StagePCJPN, "Lu", t0, "fix quantities")
	require.NoError(t, err)
	assert.Equal(t, RequestPendingModification, r.RequestStatus)
	assert.Equal(t, StatusModify, r.Decision(StagePCJPN).Status)
	assert.Equal(t, ActionModify, tr.Action)

	// Already decided stages too.
	r2 := allRequired()
	approveThrough(t, r2, StageMNG)
	_, err = r2.SendToModification(StageMNG, "Lu", t0, "again")
	require.NoError(t, err)
	assert.Equal(t, StatusModify, r2.Decision(StageMNG).Status)
}

func TestSendToModification_ClosedRequest(t *testing.T) {
	completed := allRequired()
	approveThrough(t, completed, StageFINJPN)
	completed.RequestStatus = RequestCompleted

	_, err := completed.SendToModification(StageMNG, "Lu", t0, "reopen")
	assert.ErrorIs(t, err, ErrRequestClosed)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, RequestCompleted, completed.RequestStatus)
	assert.True(t, completed.IsFullyApproved())

	rejected := allRequired()
	approveThrough(t, rejected, StageMNG)
	_, err = rejected.Reject(StageJPN, "Ken", t0, "no")
	require.NoError(t, err)

	_, err = rejected.SendToModification(StageJPN, "Ken", t0, "reopen")
	assert.ErrorIs(t, err, ErrRequestClosed)
	assert.Equal(t, RequestRejected, rejected.RequestStatus)
	assert.Equal(t, StatusRejected, rejected.Decision(StageJPN).Status)
}

func TestIsFullyApproved(t *testing.T) {
	r := allRequired()
	assert.False(t, r.IsFullyApproved())

	approveThrough(t, r, StageFINJPN)
	require.True(t, r.IsFullyApproved())

	for _, s := range Stages {
		for _, st := range []Status{"", StatusPending, StatusRejected, StatusModify} {
			c := *r
			c.Decisions[s].Status = st
			assert.False(t, c.IsFullyApproved(), "%s=%q", s, st)
		}
	}
}

func TestIsQueued(t *testing.T) {
	r := allRequired()
	assert.True(t, r.IsQueued(StageMNG))
	assert.False(t, r.IsQueued(StageJPN))

	approveThrough(t, r, StageMNG)
	assert.False(t, r.IsQueued(StageMNG))
	assert.True(t, r.IsQueued(StageJPN))
	assert.False(t, r.IsQueued(StageMC))

	cur, ok := r.CurrentStage()
	assert.True(t, ok)
	assert.Equal(t, StageJPN, cur)
}

func TestUnsetStatusCountsAsPending(t *testing.T) {
	r := &Record{RequestStatus: RequestNew}
	assert.True(t, r.IsPending(StageMNG))
	assert.False(t, r.IsApproved(StageMNG))

	_, err := r.Approve(StageMNG, "x", t0, "")
	require.NoError(t, err)
}

func TestScenario_FullFlow(t *testing.T) {
	policy := MovementTypePolicy{}
	e := policy.Evaluate(Subject{
		SourceClasses: []string{"112"},
		MovementTypes: []MovementType{MovementFDO},
	})
	r := NewRecord(e, t0)
	for _, s := range Stages {
		assert.Equal(t, StatusPending, r.Decision(s).Status, s.String())
	}

	_, err := r.Approve(StageMNG, "mng", t0, "")
	require.NoError(t, err)
	assert.True(t, r.PrevApproved(StageJPN))

	_, err = r.Approve(StageMC, "mc", t0, "")
	assert.ErrorIs(t, err, ErrPriorStagesIncomplete)
}

func TestScenario_SkippedStages(t *testing.T) {
	policy := MovementTypePolicy{}
	e := policy.Evaluate(Subject{
		SourceClasses: []string{"999"},
		MovementTypes: []MovementType{MovementESTATUS},
	})
	r := NewRecord(e, t0)

	for _, s := range []Stage{StageMC, StageFINMNG, StageFINJPN} {
		d := r.Decision(s)
		assert.Equal(t, StatusApproved, d.Status, s.String())
		assert.Equal(t, SystemActor, d.Responsible)
	}

	for _, s := range []Stage{StageMNG, StageJPN, StagePL, StagePCMNG, StagePCJPN} {
		_, err := r.Approve(s, "person", t0, "")
		require.NoError(t, err, s.String())
	}
	assert.True(t, r.IsFullyApproved())
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"MNG", StageMNG, false},
		{" pcjpn ", StagePCJPN, false},
		{"FinMng", StageFINMNG, false},
		{"FIN", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStage(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidStageToken)
			assert.ErrorIs(t, err, ErrNotFound)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStageNavigation(t *testing.T) {
	_, ok := StageMNG.Prev()
	assert.False(t, ok)
	_, ok = StageFINJPN.Next()
	assert.False(t, ok)

	n, ok := StagePL.Next()
	assert.True(t, ok)
	assert.Equal(t, StagePCMNG, n)

	text, err := StageFINJPN.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "FINJPN", string(text))
}
