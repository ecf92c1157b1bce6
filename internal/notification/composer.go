package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"movementflow/internal/flow"
)

// Message kinds.
const (
	KindApproved      = "approved"
	KindRejected      = "rejected"
	KindModification  = "modification"
	KindReadyForStage = "ready_for_stage"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "approved"}}<p>Hello {{.Requester}},</p>
<p>Your request <strong>#{{.Ref}}</strong> was <strong>approved</strong> at stage <strong>{{.Stage}}</strong>.</p>
{{if .Comment}}<p><em>Comment:</em> {{.Comment}}</p>{{end}}{{template "link" .}}{{end}}

{{define "rejected"}}<p>Hello {{.Requester}},</p>
<p>Your request <strong>#{{.Ref}}</strong> was <strong>rejected</strong> at stage <strong>{{.Stage}}</strong> on {{.Date}}.</p>
<p><em>Reason:</em> {{.Comment}}</p>{{template "link" .}}{{end}}

{{define "modification"}}<p>Hello {{.Requester}},</p>
<p>Your request <strong>#{{.Ref}}</strong> was <strong>returned for changes</strong> at stage <strong>{{.Stage}}</strong>.</p>
<p><em>Requested changes:</em> {{.Comment}}</p>
<p>Edit the request and submit it again to restart the approval.</p>{{template "link" .}}{{end}}

{{define "ready"}}<p>A request is ready for your stage <strong>{{.Stage}}</strong>.</p>
<p><strong>ID:</strong> {{.Ref}}</p>
<p><strong>Requester:</strong> {{.Requester}}</p>{{template "link" .}}{{end}}

{{define "link"}}{{if .URL}}
<p><a href="{{.URL}}">Open request</a></p>{{end}}{{end}}
`))

// Composer renders notification subjects and bodies. Comments are escaped.
type Composer struct {
	appURL string
}

// NewComposer builds a composer. appURL, when set, is used to link to the
// request detail page.
func NewComposer(appURL string) *Composer {
	return &Composer{appURL: strings.TrimRight(appURL, "/")}
}

// Subject identifies the request a message is about.
type Subject struct {
	Ref       string
	Requester string
}

type view struct {
	Ref       string
	Requester string
	Stage     string
	Comment   string
	Date      string
	URL       string
}

func (c *Composer) view(s Subject, stage flow.Stage, comment string) view {
	v := view{Ref: s.Ref, Requester: s.Requester, Stage: stage.String(), Comment: strings.TrimSpace(comment)}
	if c.appURL != "" {
		v.URL = c.appURL + "/requests/" + s.Ref
	}
	return v
}

func (c *Composer) render(kind, name, subject string, to []string, v view) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{Kind: kind, To: to, Subject: subject, HTML: strings.TrimSpace(buf.String())}, nil
}

func (c *Composer) Approved(to string, s Subject, stage flow.Stage, comment string) (Message, error) {
	return c.render(KindApproved, "approved",
		fmt.Sprintf("Request #%s approved at %s", s.Ref, stage), []string{to}, c.view(s, stage, comment))
}

func (c *Composer) Rejected(to string, s Subject, stage flow.Stage, comment string, at time.Time) (Message, error) {
	v := c.view(s, stage, comment)
	v.Date = at.Format("2006-01-02 15:04")
	return c.render(KindRejected, "rejected",
		fmt.Sprintf("Request #%s rejected at %s", s.Ref, stage), []string{to}, v)
}

func (c *Composer) Modification(to string, s Subject, stage flow.Stage, comment string) (Message, error) {
	return c.render(KindModification, "modification",
		fmt.Sprintf("Request #%s returned for modification at %s", s.Ref, stage), []string{to}, c.view(s, stage, comment))
}

func (c *Composer) ReadyForStage(to string, s Subject, stage flow.Stage) (Message, error) {
	return c.render(KindReadyForStage, "ready",
		fmt.Sprintf("Request #%s ready for %s", s.Ref, stage), []string{to}, c.view(s, stage, ""))
}
