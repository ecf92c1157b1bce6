package notification

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"movementflow/internal/config"
	"movementflow/internal/flow"
	"movementflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
	hook func(Message)
}

func (s *recordingSender) Send(_ context.Context, to []string, subject, html string) error {
	m := Message{Kind: subject, To: to, Subject: subject, HTML: html}
	if s.hook != nil {
		s.hook(m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return s.err
}

func (s *recordingSender) sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func msg(kind string) Message {
	return Message{Kind: kind, To: []string{"x@y"}, Subject: kind}
}

type collectingQueue struct {
	msgs []Message
}

func (q *collectingQueue) Enqueue(msgs ...Message) { q.msgs = append(q.msgs, msgs...) }

type fakeUsers map[string]*model.DirectoryUser

func (f fakeUsers) FindByIdentity(_ context.Context, identity string) (*model.DirectoryUser, error) {
	if u, ok := f[strings.ToLower(identity)]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func TestOutbox_DeliversAndDrainsOnClose(t *testing.T) {
	sender := &recordingSender{}
	o := NewOutbox(sender, 10, zaptest.NewLogger(t))

	o.Enqueue(msg("a"), msg("b"))
	o.Close()

	msgs := sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Kind)
	assert.Equal(t, "b", msgs[1].Kind)

	o.Enqueue(msg("late"))
	o.Close()
	assert.Len(t, sender.sent(), 2)
}

func TestOutbox_FailuresAndPanicsAreSwallowed(t *testing.T) {
	calls := 0
	sender := &recordingSender{err: errors.New("relay down"), hook: func(m Message) {
		calls++
		if m.Kind == "boom" {
			panic("sender bug")
		}
	}}
	o := NewOutbox(sender, 10, zaptest.NewLogger(t))
	o.Enqueue(msg("boom"), msg("fails"))
	o.Close()

	assert.Equal(t, 2, calls)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sender := &recordingSender{hook: func(Message) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}}
	o := NewOutbox(sender, 1, zaptest.NewLogger(t))

	o.Enqueue(msg("first"))
	<-started
	o.Enqueue(msg("queued"), msg("dropped"))
	close(release)
	o.Close()

	var kinds []string
	for _, m := range sender.sent() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []string{"first", "queued"}, kinds)
}

func TestComposer(t *testing.T) {
	c := NewComposer("https://flow.example.com/")
	s := Subject{Ref: "42", Requester: "Ana Lopez"}

	m, err := c.Approved("ana@example.com", s, flow.StageJPN, "<b>ok</b>")
	require.NoError(t, err)
	assert.Equal(t, KindApproved, m.Kind)
	assert.Equal(t, "Request #42 approved at JPN", m.Subject)
	assert.Equal(t, []string{"ana@example.com"}, m.To)
	assert.Contains(t, m.HTML, "&lt;b&gt;ok&lt;/b&gt;")
	assert.NotContains(t, m.HTML, "<b>ok</b>")
	assert.Contains(t, m.HTML, `href="https://flow.example.com/requests/42"`)

	m, err = c.Approved("ana@example.com", s, flow.StageMNG, "")
	require.NoError(t, err)
	assert.NotContains(t, m.HTML, "Comment:")

	at := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	m, err = c.Rejected("ana@example.com", s, flow.StageMC, "wrong part", at)
	require.NoError(t, err)
	assert.Equal(t, "Request #42 rejected at MC", m.Subject)
	assert.Contains(t, m.HTML, "2025-03-04 10:30")
	assert.Contains(t, m.HTML, "wrong part")

	m, err = c.Modification("ana@example.com", s, flow.StagePL, "fix qty")
	require.NoError(t, err)
	assert.Equal(t, KindModification, m.Kind)
	assert.Contains(t, m.HTML, "fix qty")

	m, err = c.ReadyForStage("pl@example.com", s, flow.StagePL)
	require.NoError(t, err)
	assert.Equal(t, "Request #42 ready for PL", m.Subject)
}

func TestResolver(t *testing.T) {
	users := fakeUsers{
		"maria garcia": {DisplayName: "Maria Garcia", Email: "mgarcia@corp.example"},
		"no mail":      {DisplayName: "No Mail"},
	}
	r := NewResolver(users, "@corp.example", zaptest.NewLogger(t))

	assert.Equal(t, "direct@x.example", r.Resolve(context.Background(), " direct@x.example "))
	assert.Equal(t, "mgarcia@corp.example", r.Resolve(context.Background(), "Maria Garcia"))
	assert.Equal(t, "no.mail@corp.example", r.Resolve(context.Background(), "No Mail"))
	assert.Equal(t, "juan.perez@corp.example", r.Resolve(context.Background(), "Juan  Perez"))
	assert.Equal(t, "", r.Resolve(context.Background(), "  "))

	noFallback := NewResolver(nil, "", nil)
	assert.Equal(t, "", noFallback.Resolve(context.Background(), "Juan Perez"))
}

func TestNotifier_Transitioned(t *testing.T) {
	q := &collectingQueue{}
	n := NewNotifier(NewComposer(""), NewResolver(nil, "corp.example", nil), q,
		map[string]string{"jpn": "jpn-team@corp.example", "bogus": "x@y"}, zaptest.NewLogger(t))
	s := Subject{Ref: "7", Requester: "Ana Lopez"}

	n.Transitioned(context.Background(), s, flow.Transition{Stage: flow.StageMNG, Action: flow.ActionApprove})
	require.Len(t, q.msgs, 2)
	assert.Equal(t, KindApproved, q.msgs[0].Kind)
	assert.Equal(t, []string{"ana.lopez@corp.example"}, q.msgs[0].To)
	assert.Equal(t, KindReadyForStage, q.msgs[1].Kind)
	assert.Equal(t, []string{"jpn-team@corp.example"}, q.msgs[1].To)

	q.msgs = nil
	n.Transitioned(context.Background(), s, flow.Transition{Stage: flow.StageFINJPN, Action: flow.ActionApprove})
	require.Len(t, q.msgs, 1)

	q.msgs = nil
	n.Transitioned(context.Background(), s, flow.Transition{Stage: flow.StageMNG, Action: flow.ActionReject, Comment: "no"})
	require.Len(t, q.msgs, 1)
	assert.Equal(t, KindRejected, q.msgs[0].Kind)

	q.msgs = nil
	n.Transitioned(context.Background(), s, flow.Transition{Stage: flow.StageMNG, Action: flow.ActionModify, Comment: "edit"})
	require.Len(t, q.msgs, 1)
	assert.Equal(t, KindModification, q.msgs[0].Kind)

	q.msgs = nil
	n.Submitted(s)
	assert.Empty(t, q.msgs, "no MNG recipient configured")
}

func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		var transcript strings.Builder
		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				transcript.WriteString(line + "\n")
				_ = tp.PrintfLine("250 OK")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				transcript.WriteString(strings.Join(body, "\n"))
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				got <- transcript.String()
				return
			default:
				_ = tp.PrintfLine("250 OK")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, got
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, got := fakeSMTP(t)
	s := NewSMTPSender(config.SMTPConfig{Host: host, Port: port, From: "noreply@corp.example"})

	err := s.Send(context.Background(),
		[]string{"ana@corp.example", " ANA@corp.example ", ""},
		"Solicitud aprobada en MNG ✓",
		"<p>hi</p>")
	require.NoError(t, err)

	select {
	case transcript := <-got:
		assert.Contains(t, transcript, "MAIL FROM:<noreply@corp.example>")
		assert.Equal(t, 1, strings.Count(transcript, "RCPT TO:"))
		assert.Contains(t, transcript, "Content-Type: text/html; charset=UTF-8")
		assert.Contains(t, transcript, "Subject: =?UTF-8?q?")
		assert.Contains(t, transcript, "<p>hi</p>")
	case <-time.After(5 * time.Second):
		t.Fatal("smtp server did not receive the message")
	}
}

func TestSMTPSender_NoRecipients(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{Host: "127.0.0.1", Port: 1})
	assert.ErrorIs(t, s.Send(context.Background(), []string{" "}, "s", "b"), errNoRecipients)
}

func TestNewSender(t *testing.T) {
	assert.IsType(t, &LogSender{}, NewSender(config.NotificationConfig{Driver: "log"}, nil))
	assert.IsType(t, &SMTPSender{}, NewSender(config.NotificationConfig{Driver: "smtp"}, nil))
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), []string{"a@b"}, "x", ""))
}
