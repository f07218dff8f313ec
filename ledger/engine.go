/*
engine.go - Settlement engine: order lifecycle with wallet bookkeeping

PURPOSE:
  Every operation that changes an order's status or financial terms runs here,
  inside one TxStore.WithTx unit, so the order row, the movements and the
  wallet balances always move together.

SETTLEMENT (Complete):
  1. Load the order inside the transaction; only open orders settle.
     A completed order returns ErrAlreadySettled and posts nothing.
  2. Compute the split (split.go).
  3. Resolve the shop wallet and the mechanic wallet, creating them on
     first use.
  4. Post +MechanicShare to the mechanic (skipped when zero) and one combined
     +ShopTotalShare (remaining labor plus parts) to the shop (skipped when
     zero).
  5. Mark the order completed.

  Movement idempotency keys are "order-<id>/settlement-<n>/<party>", where n
  is the order's settlement count. A second completion racing the first
  collides on the key and the whole transaction rolls back.

REVERSAL (Edit on completed, Delete of completed):
  Each live settlement movement of the order gets an equal and opposite
  reversal movement (key "reversal-<movement id>"). Amounts are read from
  the stored movements, never recomputed from the order's current fields,
  so an edit can't make the engine reverse the wrong amount.

PAIRED WRITES:
  post() is the only place a movement is inserted and the only place a
  balance is adjusted. It refuses zero amounts.

ERRORS:
  Nothing is swallowed. Any failure aborts the transaction and is returned
  to the caller wrapped with the order id.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engine runs order operations against a TxStore.
type Engine struct {
	Store  TxStore
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() MovementID
}

// NewEngine creates an engine with the default clock and uuid movement ids.
func NewEngine(store TxStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:  store,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  func() MovementID { return MovementID(uuid.NewString()) },
	}
}

// Settlement is the outcome of settling one order.
type Settlement struct {
	Order     Order
	Split     Split
	Movements []Movement
}

// =============================================================================
// MECHANICS
// =============================================================================

func (e *Engine) CreateMechanic(ctx context.Context, name, phone string) (*Mechanic, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Message: "mechanic name is required"}
	}
	m := &Mechanic{Name: strings.TrimSpace(name), Phone: phone, Active: true, CreatedAt: e.Now()}
	if err := e.Store.CreateMechanic(ctx, m); err != nil {
		return nil, fmt.Errorf("create mechanic: %w", err)
	}
	e.Logger.Info("mechanic created", "mechanic_id", m.ID, "name", m.Name)
	return m, nil
}

func (e *Engine) UpdateMechanic(ctx context.Context, id MechanicID, name, phone string) (*Mechanic, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Message: "mechanic name is required"}
	}
	m, err := e.Store.GetMechanic(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Name = strings.TrimSpace(name)
	m.Phone = phone
	if err := e.Store.UpdateMechanic(ctx, m); err != nil {
		return nil, fmt.Errorf("update mechanic %d: %w", id, err)
	}
	return m, nil
}

// SetMechanicActive activates or deactivates a mechanic. Wallets are untouched.
func (e *Engine) SetMechanicActive(ctx context.Context, id MechanicID, active bool) (*Mechanic, error) {
	m, err := e.Store.GetMechanic(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Active == active {
		return m, nil
	}
	m.Active = active
	if err := e.Store.UpdateMechanic(ctx, m); err != nil {
		return nil, fmt.Errorf("update mechanic %d: %w", id, err)
	}
	e.Logger.Info("mechanic status changed", "mechanic_id", id, "active", active)
	return m, nil
}

func (e *Engine) GetMechanic(ctx context.Context, id MechanicID) (*Mechanic, error) {
	return e.Store.GetMechanic(ctx, id)
}

func (e *Engine) ListMechanics(ctx context.Context, includeInactive bool) ([]Mechanic, error) {
	return e.Store.ListMechanics(ctx, includeInactive)
}

// =============================================================================
// ORDERS - creation and parts (open orders)
// =============================================================================

// CreateOrder validates the input and stores a new open order without parts.
func (e *Engine) CreateOrder(ctx context.Context, in OrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	o := &Order{
		ClientName:      strings.TrimSpace(in.ClientName),
		ClientPhone:     in.ClientPhone,
		Description:     in.Description,
		MechanicID:      in.MechanicID,
		LaborPrice:      in.LaborPrice,
		MechanicPercent: in.MechanicPercent,
		CreatedAt:       e.Now(),
		Status:          StatusOpen,
	}
	err := e.Store.WithTx(ctx, func(s Store) error {
		if o.MechanicID != nil {
			if _, err := s.GetMechanic(ctx, *o.MechanicID); err != nil {
				return err
			}
		}
		return s.CreateOrder(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	e.Logger.Info("order created", "order_id", o.ID, "client", o.ClientName)
	return o, nil
}

func (e *Engine) GetOrder(ctx context.Context, id OrderID) (*Order, error) {
	return e.Store.GetOrder(ctx, id)
}

func (e *Engine) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return e.Store.ListOrders(ctx, filter)
}

// AddPart adds a part line to an open order, replacing any line with the
// same part id.
func (e *Engine) AddPart(ctx context.Context, id OrderID, line PartLine) (*Order, error) {
	if err := line.validate(); err != nil {
		return nil, err
	}
	return e.mutateOpen(ctx, id, "change parts", func(o *Order) error {
		o.upsertPart(line)
		return nil
	})
}

// RemovePart removes a part line from an open order.
func (e *Engine) RemovePart(ctx context.Context, id OrderID, partID string) (*Order, error) {
	return e.mutateOpen(ctx, id, "change parts", func(o *Order) error {
		if !o.removePart(partID) {
			return fmt.Errorf("order %d part %q: %w", id, partID, ErrPartNotFound)
		}
		return nil
	})
}

func (e *Engine) mutateOpen(ctx context.Context, id OrderID, action string, fn func(*Order) error) (*Order, error) {
	var result *Order
	err := e.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusOpen {
			return &TransitionError{OrderID: id, From: o.Status, Action: action}
		}
		if err := fn(o); err != nil {
			return err
		}
		if err := s.UpdateOrder(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// ORDERS - status transitions
// =============================================================================

// Complete settles an open order and marks it completed, atomically.
func (e *Engine) Complete(ctx context.Context, id OrderID) (*Settlement, error) {
	var result Settlement
	err := e.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		switch o.Status {
		case StatusCompleted:
			return fmt.Errorf("order %d: %w", id, ErrAlreadySettled)
		case StatusCancelled:
			return &TransitionError{OrderID: id, From: o.Status, Action: "complete"}
		}

		st, err := e.settle(ctx, s, o)
		if err != nil {
			return err
		}
		o.Status = StatusCompleted
		if err := s.UpdateOrder(ctx, o); err != nil {
			return err
		}
		st.Order = *o
		result = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("order settled",
		"order_id", id,
		"mechanic_share", result.Split.MechanicShare.String(),
		"shop_share", result.Split.ShopTotalShare.String(),
		"movements", len(result.Movements),
	)
	return &result, nil
}

// Cancel closes an open order without any financial effect. Part lines are
// kept for the record.
func (e *Engine) Cancel(ctx context.Context, id OrderID) (*Order, error) {
	o, err := e.mutateOpen(ctx, id, "cancel", func(o *Order) error {
		o.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("order cancelled", "order_id", id)
	return o, nil
}

// Delete removes an order in any status. A completed order's settlement is
// reversed first, in the same transaction.
func (e *Engine) Delete(ctx context.Context, id OrderID) error {
	var reversed []Movement
	err := e.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == StatusCompleted {
			reversed, err = e.reverse(ctx, s, o)
			if err != nil {
				return err
			}
		}
		return s.DeleteOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	e.Logger.Info("order deleted", "order_id", id, "reversed_movements", len(reversed))
	return nil
}

// Edit changes an order. Open orders are updated in place. On a completed
// order, an edit that changes the mechanic, labor, percentage or priced parts
// reverses the old settlement and settles again; an edit that leaves them as
// they were (even if it re-sends them) only updates the other fields.
// Cancelled orders can't be edited.
func (e *Engine) Edit(ctx context.Context, id OrderID, edit OrderEdit) (*Order, error) {
	var (
		result   *Order
		resettle bool
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			return fmt.Errorf("order %d: %w", id, ErrOrderClosed)
		}
		if edit.MechanicID != nil {
			if _, err := s.GetMechanic(ctx, *edit.MechanicID); err != nil {
				return err
			}
		}
		before := o.clone()
		if err := edit.apply(o); err != nil {
			return err
		}

		if o.Status == StatusCompleted && !sameTerms(&before, o) {
			resettle = true
			if _, err := e.reverse(ctx, s, o); err != nil {
				return err
			}
			if _, err := e.settle(ctx, s, o); err != nil {
				return err
			}
		}
		if err := s.UpdateOrder(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("order edited", "order_id", id, "resettled", resettle)
	return result, nil
}

// =============================================================================
// SETTLE / REVERSE
// =============================================================================

func (e *Engine) settle(ctx context.Context, s Store, o *Order) (Settlement, error) {
	if o.MechanicID == nil {
		return Settlement{}, &ValidationError{Field: "mechanic_id", Message: "an order needs an assigned mechanic to be completed"}
	}
	if _, err := s.GetMechanic(ctx, *o.MechanicID); err != nil {
		return Settlement{}, fmt.Errorf("settle order %d: %w", o.ID, err)
	}

	split, err := o.Split()
	if err != nil {
		return Settlement{}, err
	}

	shopWallet, err := e.resolveWallet(ctx, s, ShopOwner())
	if err != nil {
		return Settlement{}, fmt.Errorf("settle order %d: %w", o.ID, err)
	}
	mechanicWallet, err := e.resolveWallet(ctx, s, MechanicOwner(*o.MechanicID))
	if err != nil {
		return Settlement{}, fmt.Errorf("settle order %d: %w", o.ID, err)
	}

	o.Settlements++
	prefix := fmt.Sprintf("order-%d/settlement-%d", o.ID, o.Settlements)
	orderID := o.ID

	var posted []Movement
	if split.MechanicShare.IsPositive() {
		m, err := e.post(ctx, s, Movement{
			WalletID:       mechanicWallet.ID,
			Amount:         split.MechanicShare,
			Kind:           MovementMechanicShare,
			Reason:         fmt.Sprintf("Order #%d - %d%% of labor", o.ID, o.MechanicPercent),
			OrderID:        &orderID,
			IdempotencyKey: prefix + "/mechanic",
		})
		if err != nil {
			return Settlement{}, fmt.Errorf("settle order %d: %w", o.ID, err)
		}
		posted = append(posted, m)
	}
	if split.ShopTotalShare.IsPositive() {
		m, err := e.post(ctx, s, Movement{
			WalletID:       shopWallet.ID,
			Amount:         split.ShopTotalShare,
			Kind:           MovementShopShare,
			Reason:         fmt.Sprintf("Order #%d - %d%% of labor + parts", o.ID, 100-o.MechanicPercent),
			OrderID:        &orderID,
			IdempotencyKey: prefix + "/shop",
		})
		if err != nil {
			return Settlement{}, fmt.Errorf("settle order %d: %w", o.ID, err)
		}
		posted = append(posted, m)
	}
	return Settlement{Split: split, Movements: posted}, nil
}

// reverse offsets every live settlement movement of the order.
func (e *Engine) reverse(ctx context.Context, s Store, o *Order) ([]Movement, error) {
	movements, err := s.MovementsByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("reverse order %d: %w", o.ID, err)
	}

	orderID := o.ID
	var posted []Movement
	for _, m := range LiveMovements(movements) {
		r, err := e.post(ctx, s, Movement{
			WalletID:       m.WalletID,
			Amount:         m.Amount.Neg(),
			Kind:           MovementReversal,
			Reason:         fmt.Sprintf("Reversal of order #%d: %s", o.ID, m.Reason),
			OrderID:        &orderID,
			ReversesID:     m.ID,
			IdempotencyKey: "reversal-" + string(m.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("reverse order %d: %w", o.ID, err)
		}
		posted = append(posted, r)
	}
	return posted, nil
}

// LiveMovements drops reversal movements and the movements they offset.
func LiveMovements(movements []Movement) []Movement {
	reversed := make(map[MovementID]bool)
	for _, m := range movements {
		if m.Kind == MovementReversal {
			reversed[m.ReversesID] = true
		}
	}
	var live []Movement
	for _, m := range movements {
		if m.Kind == MovementReversal || reversed[m.ID] {
			continue
		}
		live = append(live, m)
	}
	return live
}

// post inserts the movement and adjusts its wallet balance by the same amount.
func (e *Engine) post(ctx context.Context, s Store, m Movement) (Movement, error) {
	if m.Amount.IsZero() {
		return Movement{}, ErrZeroAmount
	}
	m.ID = e.NewID()
	m.OccurredAt = e.Now()
	if err := s.InsertMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	if err := s.AdjustBalance(ctx, m.WalletID, m.Amount); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// resolveWallet returns the owner's wallet, creating it on first use.
func (e *Engine) resolveWallet(ctx context.Context, s Store, owner Owner) (*Wallet, error) {
	w, err := s.GetWallet(ctx, owner)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	if owner.Kind == OwnerMechanic {
		if _, err := s.GetMechanic(ctx, owner.MechanicID); err != nil {
			return nil, err
		}
	}
	w = &Wallet{Owner: owner, Balance: Zero(), CreatedAt: e.Now()}
	if err := s.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}
