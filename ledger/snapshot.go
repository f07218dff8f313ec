package ledger

import (
	"context"
	"time"
)

// OrderSnapshot is a self-contained copy of an order and its split, handed to
// renderers so they never have to recompute anything.
type OrderSnapshot struct {
	ID              OrderID
	ClientName      string
	ClientPhone     string
	Description     string
	MechanicID      *MechanicID
	MechanicName    string
	LaborPrice      Amount
	MechanicPercent int
	Status          OrderStatus
	CreatedAt       time.Time
	Parts           []PartLine

	PartsValue Amount
	Split
}

// Snapshot copies the order and computes its split. mechanicName may be empty.
func Snapshot(o *Order, mechanicName string) (OrderSnapshot, error) {
	split, err := o.Split()
	if err != nil {
		return OrderSnapshot{}, err
	}
	c := o.clone()
	return OrderSnapshot{
		ID:              c.ID,
		ClientName:      c.ClientName,
		ClientPhone:     c.ClientPhone,
		Description:     c.Description,
		MechanicID:      c.MechanicID,
		MechanicName:    mechanicName,
		LaborPrice:      c.LaborPrice,
		MechanicPercent: c.MechanicPercent,
		Status:          c.Status,
		CreatedAt:       c.CreatedAt,
		Parts:           c.Parts,
		PartsValue:      c.PartsValue().Round(),
		Split:           split,
	}, nil
}

// Snapshot loads the order and its mechanic's name and returns a snapshot.
func (e *Engine) Snapshot(ctx context.Context, id OrderID) (OrderSnapshot, error) {
	o, err := e.Store.GetOrder(ctx, id)
	if err != nil {
		return OrderSnapshot{}, err
	}
	var name string
	if o.MechanicID != nil {
		if m, err := e.Store.GetMechanic(ctx, *o.MechanicID); err == nil {
			name = m.Name
		}
	}
	return Snapshot(o, name)
}
