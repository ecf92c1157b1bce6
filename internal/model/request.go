package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"movementflow/internal/flow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Urgency enum constants
const (
	UrgencyLow    = "LOW"
	UrgencyMedium = "MEDIUM"
	UrgencyHigh   = "HIGH"
)

// Item status and currency codes
var (
	ItemStatusCodes = []string{"Y", "H", "N"}
	Currencies      = []string{"MXN", "USD", "JPY"}
)

var ErrInvalidItem = errors.New("invalid item")

// Request is a movement request header. It owns its items, evidence and
// exactly one approval record.
type Request struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Requester     string                      `gorm:"type:varchar(150);not null;index" json:"requester"` // display name from the auth context
	Department    string                      `gorm:"type:varchar(100);not null" json:"department"`
	Line          string                      `gorm:"type:varchar(50);not null" json:"line"`
	Comment       string                      `gorm:"type:text" json:"comment"`
	Urgency       string                      `gorm:"type:varchar(10);not null;default:'MEDIUM'" json:"urgency"`
	Status        flow.RequestStatus          `gorm:"type:varchar(30);not null;default:'NEW';index" json:"status"`
	MovementTypes datatypes.JSONSlice[string] `json:"movement_types"`

	// Finalization
	Folio             string     `gorm:"type:varchar(50)" json:"folio,omitempty"`
	FinalMovementType string     `gorm:"type:varchar(20)" json:"final_movement_type,omitempty"`
	FinalizedBy       string     `gorm:"type:varchar(150)" json:"finalized_by,omitempty"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
	DocumentPath      string     `gorm:"type:varchar(500)" json:"document_path,omitempty"`

	Items    []Item          `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	Evidence []Evidence      `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"evidence,omitempty"`
	Approval *ApprovalRecord `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"approval,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Movements returns the selected movement types in canonical form.
func (r *Request) Movements() []flow.MovementType {
	return flow.ParseMovementTypes(r.MovementTypes)
}

// SourceClasses collects the source class code of every item.
func (r *Request) SourceClasses() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.SourceClass)
	}
	return out
}

// Subject is the eligibility input derived from the request content.
func (r *Request) Subject() flow.Subject {
	return flow.Subject{
		SourceClasses: r.SourceClasses(),
		MovementTypes: r.Movements(),
	}
}

// Item is one line of a movement request.
type Item struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_item_request_seq" json:"request_id"`
	Sequence     int       `gorm:"not null;uniqueIndex:idx_item_request_seq" json:"sequence"`
	PartNumber   string    `gorm:"type:varchar(50);not null" json:"part_number"`
	Description  string    `gorm:"type:varchar(100);not null" json:"description"`
	CaseRef      string    `gorm:"type:varchar(50)" json:"case_ref,omitempty"`
	MovementCode string    `gorm:"type:varchar(50)" json:"movement_code,omitempty"`

	SourceStatus   string              `gorm:"type:varchar(1)" json:"source_status,omitempty"`
	SourceLocation string              `gorm:"type:varchar(50)" json:"source_location,omitempty"`
	SourceClass    string              `gorm:"type:varchar(50)" json:"source_class,omitempty"`
	SourceQty      decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"source_qty"`

	DestinationStatus   string              `gorm:"type:varchar(1)" json:"destination_status,omitempty"`
	DestinationLocation string              `gorm:"type:varchar(50)" json:"destination_location,omitempty"`
	DestinationClass    string              `gorm:"type:varchar(50)" json:"destination_class,omitempty"`
	DestinationQty      decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"destination_qty"`

	Difference decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"difference"` // positive = decrease
	Currency   string              `gorm:"type:varchar(3)" json:"currency,omitempty"`
	UnitCost   decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"unit_cost"`
	Total      decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"total"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Normalize fills the computed fields of the item at position index.
// A missing difference is inferred from the destination quantity (which
// defaults to the source quantity); the destination is then recomputed so
// that destination = source - difference always holds.
func (i *Item) Normalize(index int) {
	if i.Sequence <= 0 {
		i.Sequence = index + 1
	}

	src := decimal.Zero
	if i.SourceQty.Valid {
		src = i.SourceQty.Decimal
	}
	cost := decimal.Zero
	if i.UnitCost.Valid {
		cost = i.UnitCost.Decimal
	}

	var diff decimal.Decimal
	switch {
	case i.Difference.Valid:
		diff = i.Difference.Decimal
	case i.DestinationQty.Valid:
		diff = src.Sub(i.DestinationQty.Decimal)
	default:
		diff = decimal.Zero
	}

	i.Difference = decimal.NewNullDecimal(diff)
	i.DestinationQty = decimal.NewNullDecimal(src.Sub(diff))
	// decimal.Round rounds half away from zero.
	i.Total = decimal.NewNullDecimal(diff.Abs().Mul(cost).Round(2))

	i.SourceStatus = strings.ToUpper(strings.TrimSpace(i.SourceStatus))
	i.DestinationStatus = strings.ToUpper(strings.TrimSpace(i.DestinationStatus))
	i.Currency = strings.ToUpper(strings.TrimSpace(i.Currency))
}

// Validate checks the constrained fields of the item.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.PartNumber) == "" {
		return fmt.Errorf("%w: item %d: part number is required", ErrInvalidItem, i.Sequence)
	}
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: item %d: description is required", ErrInvalidItem, i.Sequence)
	}
	if i.SourceStatus != "" && !oneOf(i.SourceStatus, ItemStatusCodes) {
		return fmt.Errorf("%w: item %d: source status must be Y, H or N", ErrInvalidItem, i.Sequence)
	}
	if i.DestinationStatus != "" && !oneOf(i.DestinationStatus, ItemStatusCodes) {
		return fmt.Errorf("%w: item %d: destination status must be Y, H or N", ErrInvalidItem, i.Sequence)
	}
	if i.Currency != "" && !oneOf(i.Currency, Currencies) {
		return fmt.Errorf("%w: item %d: currency must be MXN, USD or JPY", ErrInvalidItem, i.Sequence)
	}
	return nil
}

// NormalizeItems normalizes and validates every item and rejects repeated
// sequence numbers.
func NormalizeItems(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidItem)
	}
	seen := make(map[int]bool, len(items))
	for idx := range items {
		it := &items[idx]
		it.Normalize(idx)
		if err := it.Validate(); err != nil {
			return err
		}
		if seen[it.Sequence] {
			return fmt.Errorf("%w: duplicate item number %d", ErrInvalidItem, it.Sequence)
		}
		seen[it.Sequence] = true
	}
	return nil
}

// Evidence is a file uploaded by the requester to support a request.
type Evidence struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID    uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	OriginalName string    `gorm:"type:varchar(255);not null" json:"original_name"`
	StoredPath   string    `gorm:"type:varchar(500);not null" json:"stored_path"`
	ContentType  string    `gorm:"type:varchar(100)" json:"content_type"`
	Size         int64     `json:"size"`
	UploadedBy   string    `gorm:"type:varchar(150)" json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
}

func (e *Evidence) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
