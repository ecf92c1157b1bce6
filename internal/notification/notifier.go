package notification

import (
	"context"
	"strings"

	"movementflow/internal/flow"

	"go.uber.org/zap"
)

// Enqueuer accepts messages for asynchronous delivery.
type Enqueuer interface {
	Enqueue(msgs ...Message)
}

// Notifier builds the messages that follow a committed transition.
type Notifier struct {
	composer *Composer
	resolver *Resolver
	out      Enqueuer
	stageTo  map[flow.Stage]string
	log      *zap.Logger
}

// NewNotifier builds a notifier. stageRecipients maps stage tokens to the
// address notified when a request becomes ready for that stage; unknown
// tokens are ignored.
func NewNotifier(composer *Composer, resolver *Resolver, out Enqueuer, stageRecipients map[string]string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	stageTo := make(map[flow.Stage]string, len(stageRecipients))
	for token, addr := range stageRecipients {
		s, err := flow.ParseStage(token)
		if err != nil || strings.TrimSpace(addr) == "" {
			continue
		}
		stageTo[s] = strings.TrimSpace(addr)
	}
	return &Notifier{composer: composer, resolver: resolver, out: out, stageTo: stageTo, log: log}
}

// Transitioned notifies the requester about t and, after an approval, the
// configured recipient of the next stage. Call it only after commit.
func (n *Notifier) Transitioned(ctx context.Context, s Subject, t flow.Transition) {
	var msgs []Message
	add := func(m Message, err error) {
		if err != nil {
			n.log.Error("Failed to compose notification", zap.Error(err))
			return
		}
		msgs = append(msgs, m)
	}

	if to := n.resolver.Resolve(ctx, s.Requester); to != "" {
		switch t.Action {
		case flow.ActionApprove:
			add(n.composer.Approved(to, s, t.Stage, t.Comment))
		case flow.ActionReject:
			add(n.composer.Rejected(to, s, t.Stage, t.Comment, t.At))
		case flow.ActionModify:
			add(n.composer.Modification(to, s, t.Stage, t.Comment))
		}
	}

	if t.Action == flow.ActionApprove {
		if next, ok := t.NextStage(); ok {
			if to := n.stageTo[next]; to != "" {
				add(n.composer.ReadyForStage(to, s, next))
			}
		}
	}

	if len(msgs) > 0 {
		n.out.Enqueue(msgs...)
	}
}

// Submitted tells the first stage that a request entered its queue.
func (n *Notifier) Submitted(s Subject) {
	first := flow.Stages[0]
	to := n.stageTo[first]
	if to == "" {
		return
	}
	m, err := n.composer.ReadyForStage(to, s, first)
	if err != nil {
		n.log.Error("Failed to compose notification", zap.Error(err))
		return
	}
	n.out.Enqueue(m)
}
