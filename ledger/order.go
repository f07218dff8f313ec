/*
order.go - Service order aggregate and its lifecycle

STATUS MACHINE:

	         complete (settles)
	  open ─────────────────────▶ completed
	    │
	    │ cancel (no money moves)
	    ▼
	  cancelled

  - complete and cancel are only allowed from open.
  - nothing leaves cancelled.
  - completed is only undone through Edit (reverse + re-settle) or Delete
    (reverse + remove), never by a plain transition back to open.
  - delete is allowed from any status.

PARTS:
  Part lines are snapshots taken from the catalog when added: changing the
  catalog later never changes an order. Lines are added and removed while the
  order is open; on a completed order they can only be replaced through Edit.

VALIDATION:
  Input is checked here, at the edit boundary, so bad values never reach the
  settlement engine.
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// PART LINE
// =============================================================================

type PartLine struct {
	PartID      string
	Description string
	Barcode     string
	UnitPrice   Amount
	Quantity    int
}

func (p PartLine) Total() Amount {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

func (p PartLine) validate() error {
	if strings.TrimSpace(p.PartID) == "" {
		return &ValidationError{Field: "part_id", Message: "part reference is required"}
	}
	if strings.TrimSpace(p.Description) == "" {
		return &ValidationError{Field: "description", Message: "part description is required"}
	}
	if p.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "quantity must be a positive integer"}
	}
	if p.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Message: "unit price must not be negative"}
	}
	if !p.UnitPrice.HasCurrencyPrecision() {
		return &ValidationError{Field: "unit_price", Message: "unit price must have at most two decimal places"}
	}
	return nil
}

// =============================================================================
// ORDER
// =============================================================================

type Order struct {
	ID              OrderID
	ClientName      string
	ClientPhone     string
	Description     string
	MechanicID      *MechanicID
	LaborPrice      Amount
	MechanicPercent int
	CreatedAt       time.Time
	Status          OrderStatus
	Parts           []PartLine

	// Settlements counts how many times the order has been settled. It
	// namespaces idempotency keys so a re-settlement after an edit gets
	// fresh keys while a repeated completion collides with the old ones.
	Settlements int
}

// PartsValue is the sum of all part line totals.
func (o *Order) PartsValue() Amount {
	total := Zero()
	for _, p := range o.Parts {
		total = total.Add(p.Total())
	}
	return total
}

// Split computes the order's current split.
func (o *Order) Split() (Split, error) {
	return ComputeSplit(o.LaborPrice, o.MechanicPercent, o.PartsValue())
}

// upsertPart replaces the line with the same part id or appends a new one.
func (o *Order) upsertPart(line PartLine) {
	for i, p := range o.Parts {
		if p.PartID == line.PartID {
			o.Parts[i] = line
			return
		}
	}
	o.Parts = append(o.Parts, line)
}

func (o *Order) removePart(partID string) bool {
	for i, p := range o.Parts {
		if p.PartID == partID {
			o.Parts = append(o.Parts[:i], o.Parts[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Order) clone() Order {
	c := *o
	c.Parts = append([]PartLine(nil), o.Parts...)
	if o.MechanicID != nil {
		id := *o.MechanicID
		c.MechanicID = &id
	}
	return c
}

// =============================================================================
// INPUT / EDIT
// =============================================================================

// OrderInput carries the fields of a new order.
type OrderInput struct {
	ClientName      string
	ClientPhone     string
	Description     string
	MechanicID      *MechanicID
	LaborPrice      Amount
	MechanicPercent int
}

func (in OrderInput) validate() error {
	if strings.TrimSpace(in.ClientName) == "" {
		return &ValidationError{Field: "client_name", Message: "client name is required"}
	}
	if err := validatePhone(in.ClientPhone); err != nil {
		return err
	}
	return validateTerms(in.LaborPrice, in.MechanicPercent)
}

// OrderEdit lists the fields to change; nil means unchanged. Parts, when
// set, replaces the whole list.
type OrderEdit struct {
	ClientName      *string
	ClientPhone     *string
	Description     *string
	MechanicID      *MechanicID
	LaborPrice      *Amount
	MechanicPercent *int
	Parts           *[]PartLine
}

// sameTerms reports whether a and b settle identically: same mechanic, labor,
// percentage and priced part lines. Line order and descriptions don't count.
func sameTerms(a, b *Order) bool {
	if (a.MechanicID == nil) != (b.MechanicID == nil) {
		return false
	}
	if a.MechanicID != nil && *a.MechanicID != *b.MechanicID {
		return false
	}
	if !a.LaborPrice.Equal(b.LaborPrice) || a.MechanicPercent != b.MechanicPercent {
		return false
	}
	if len(a.Parts) != len(b.Parts) {
		return false
	}
	lines := make(map[string]PartLine, len(a.Parts))
	for _, p := range a.Parts {
		lines[p.PartID] = p
	}
	for _, q := range b.Parts {
		p, ok := lines[q.PartID]
		if !ok || p.Quantity != q.Quantity || !p.UnitPrice.Equal(q.UnitPrice) {
			return false
		}
	}
	return true
}

// apply validates the edit and writes it into o.
func (e OrderEdit) apply(o *Order) error {
	next := o.clone()
	if e.ClientName != nil {
		if strings.TrimSpace(*e.ClientName) == "" {
			return &ValidationError{Field: "client_name", Message: "client name is required"}
		}
		next.ClientName = *e.ClientName
	}
	if e.ClientPhone != nil {
		if err := validatePhone(*e.ClientPhone); err != nil {
			return err
		}
		next.ClientPhone = *e.ClientPhone
	}
	if e.Description != nil {
		next.Description = *e.Description
	}
	if e.MechanicID != nil {
		id := *e.MechanicID
		next.MechanicID = &id
	}
	if e.LaborPrice != nil {
		next.LaborPrice = *e.LaborPrice
	}
	if e.MechanicPercent != nil {
		next.MechanicPercent = *e.MechanicPercent
	}
	if err := validateTerms(next.LaborPrice, next.MechanicPercent); err != nil {
		return err
	}
	if e.Parts != nil {
		next.Parts = next.Parts[:0:0]
		for _, p := range *e.Parts {
			if err := p.validate(); err != nil {
				return err
			}
			next.upsertPart(p)
		}
	}
	*o = next
	return nil
}

func validateTerms(labor Amount, percent int) error {
	if err := validateLabor(labor); err != nil {
		return err
	}
	if !labor.HasCurrencyPrecision() {
		return &ValidationError{Field: "labor_price", Message: "labor price must have at most two decimal places"}
	}
	return validatePercent(percent)
}

// validatePhone accepts an empty phone or 10-11 digits (area code + number)
// once spaces, dashes and parentheses are stripped.
func validatePhone(phone string) error {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, phone)
	if digits == "" {
		return nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return &ValidationError{Field: "client_phone", Message: "phone must contain only digits"}
		}
	}
	if len(digits) < 10 || len(digits) > 11 {
		return &ValidationError{Field: "client_phone", Message: "phone must have 10 or 11 digits including area code"}
	}
	return nil
}

// =============================================================================
// LISTING
// =============================================================================

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	Status     OrderStatus
	Client     string // case-insensitive substring of the client name
	MechanicID *MechanicID
	From       time.Time // created at or after
	To         time.Time // created at or before
}

// Match applies the filter in memory.
func (f OrderFilter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Client != "" && !strings.Contains(strings.ToLower(o.ClientName), strings.ToLower(f.Client)) {
		return false
	}
	if f.MechanicID != nil && (o.MechanicID == nil || *o.MechanicID != *f.MechanicID) {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.CreatedAt.After(f.To) {
		return false
	}
	return true
}
