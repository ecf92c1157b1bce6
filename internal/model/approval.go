package model

import (
	"time"

	"movementflow/internal/flow"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StageColumns is the column group persisted for one approval stage.
type StageColumns struct {
	Responsible string      `gorm:"type:varchar(150)" json:"responsible,omitempty"`
	Status      flow.Status `gorm:"type:varchar(10)" json:"status,omitempty"`
	DecidedAt   *time.Time  `json:"decided_at,omitempty"`
	Comment     string      `gorm:"type:text" json:"comment,omitempty"`
}

// ApprovalRecord stores the eight stage outcomes of one request as flat
// column groups. Version is bumped on every write and guards concurrent
// transitions.
type ApprovalRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"request_id"`

	Mng    StageColumns `gorm:"embedded;embeddedPrefix:mng_" json:"mng"`
	Jpn    StageColumns `gorm:"embedded;embeddedPrefix:jpn_" json:"jpn"`
	Mc     StageColumns `gorm:"embedded;embeddedPrefix:mc_" json:"mc"`
	Pl     StageColumns `gorm:"embedded;embeddedPrefix:pl_" json:"pl"`
	PcMng  StageColumns `gorm:"embedded;embeddedPrefix:pcmng_" json:"pcmng"`
	PcJpn  StageColumns `gorm:"embedded;embeddedPrefix:pcjpn_" json:"pcjpn"`
	FinMng StageColumns `gorm:"embedded;embeddedPrefix:finmng_" json:"finmng"`
	FinJpn StageColumns `gorm:"embedded;embeddedPrefix:finjpn_" json:"finjpn"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *ApprovalRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}

var stagePrefixes = [flow.StageCount]string{
	"mng_", "jpn_", "mc_", "pl_", "pcmng_", "pcjpn_", "finmng_", "finjpn_",
}

// StageColumn returns the column name of field ("status", "responsible",
// "decided_at" or "comment") for stage s.
func StageColumn(s flow.Stage, field string) string {
	return stagePrefixes[s] + field
}

// groups is the only place that ties a stage to its column group.
func (a *ApprovalRecord) groups() [flow.StageCount]*StageColumns {
	return [flow.StageCount]*StageColumns{
		&a.Mng, &a.Jpn, &a.Mc, &a.Pl, &a.PcMng, &a.PcJpn, &a.FinMng, &a.FinJpn,
	}
}

// ToRecord converts the persisted columns into the engine representation.
func (a *ApprovalRecord) ToRecord(status flow.RequestStatus) *flow.Record {
	rec := &flow.Record{RequestStatus: status}
	for i, g := range a.groups() {
		rec.Decisions[i] = flow.Decision{
			Responsible: g.Responsible,
			Status:      g.Status,
			DecidedAt:   g.DecidedAt,
			Comment:     g.Comment,
		}
	}
	return rec
}

// Apply copies the engine decisions back onto the column groups.
func (a *ApprovalRecord) Apply(rec *flow.Record) {
	for i, g := range a.groups() {
		d := rec.Decisions[i]
		*g = StageColumns{
			Responsible: d.Responsible,
			Status:      d.Status,
			DecidedAt:   d.DecidedAt,
			Comment:     d.Comment,
		}
	}
}

// Columns returns the column/value map for an update of every stage group.
func (a *ApprovalRecord) Columns() map[string]interface{} {
	cols := make(map[string]interface{}, flow.StageCount*4)
	for i, g := range a.groups() {
		s := flow.Stage(i)
		cols[StageColumn(s, "responsible")] = g.Responsible
		cols[StageColumn(s, "status")] = g.Status
		cols[StageColumn(s, "decided_at")] = g.DecidedAt
		cols[StageColumn(s, "comment")] = g.Comment
	}
	return cols
}
