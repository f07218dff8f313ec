/*
backup.go - Full export and import of the ledger

PURPOSE:
  Export copies every mechanic, order (with its part lines), wallet and
  movement into a Dump that encodes to JSON. Import replaces the whole
  store with a Dump.

IMPORT:
  Runs in one WithTx:
  1. Reset the store
  2. Restore mechanics, then wallets with their stored balances, then
     orders
  3. Insert the movements in time order
  4. Check every wallet balance against the sum of its movements

  Any failure, a balance mismatch included, rolls the whole import back
  and leaves the previous data in place.

FORMAT:
  Amounts are decimal strings, times are RFC 3339. Version is bumped when
  a field changes meaning.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DumpVersion is written by Export and required by Import.
const DumpVersion = 1

// =============================================================================
// DUMP
// =============================================================================

type Dump struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Mechanics  []MechanicRecord `json:"mechanics"`
	Orders     []OrderRecord    `json:"orders"`
	Wallets    []WalletRecord   `json:"wallets"`
	Movements  []MovementRecord `json:"movements"`
}

type MechanicRecord struct {
	ID        MechanicID `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
}

type OrderRecord struct {
	ID              OrderID      `json:"id"`
	ClientName      string       `json:"client_name"`
	ClientPhone     string       `json:"client_phone,omitempty"`
	Description     string       `json:"description,omitempty"`
	MechanicID      *MechanicID  `json:"mechanic_id,omitempty"`
	LaborPrice      Amount       `json:"labor_price"`
	MechanicPercent int          `json:"mechanic_percent"`
	Status          OrderStatus  `json:"status"`
	Settlements     int          `json:"settlements"`
	CreatedAt       time.Time    `json:"created_at"`
	Parts           []PartRecord `json:"parts,omitempty"`
}

type PartRecord struct {
	PartID      string `json:"part_id"`
	Description string `json:"description"`
	Barcode     string `json:"barcode,omitempty"`
	UnitPrice   Amount `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

type WalletRecord struct {
	ID         WalletID    `json:"id"`
	Kind       OwnerKind   `json:"kind"`
	MechanicID *MechanicID `json:"mechanic_id,omitempty"`
	Balance    Amount      `json:"balance"`
	CreatedAt  time.Time   `json:"created_at"`
}

type MovementRecord struct {
	ID             MovementID   `json:"id"`
	WalletID       WalletID     `json:"wallet_id"`
	Amount         Amount       `json:"amount"`
	Kind           MovementKind `json:"kind"`
	Reason         string       `json:"reason,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
	OrderID        *OrderID     `json:"order_id,omitempty"`
	ReversesID     MovementID   `json:"reverses_id,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

func (w WalletRecord) owner() (Owner, error) {
	switch w.Kind {
	case OwnerShop:
		return ShopOwner(), nil
	case OwnerMechanic:
		if w.MechanicID == nil {
			return Owner{}, &ValidationError{Field: "wallets", Message: fmt.Sprintf("wallet %d has no mechanic", w.ID)}
		}
		return MechanicOwner(*w.MechanicID), nil
	}
	return Owner{}, &ValidationError{Field: "wallets", Message: fmt.Sprintf("wallet %d has unknown kind %q", w.ID, w.Kind)}
}

// =============================================================================
// EXPORT
// =============================================================================

// Export reads the whole ledger inside one transaction.
func (e *Engine) Export(ctx context.Context) (*Dump, error) {
	d := &Dump{Version: DumpVersion, ExportedAt: e.Now()}
	err := e.Store.WithTx(ctx, func(s Store) error {
		mechanics, err := s.ListMechanics(ctx, true)
		if err != nil {
			return err
		}
		for _, m := range mechanics {
			d.Mechanics = append(d.Mechanics, MechanicRecord{
				ID: m.ID, Name: m.Name, Phone: m.Phone, Active: m.Active, CreatedAt: m.CreatedAt,
			})
		}

		orders, err := s.ListOrders(ctx, OrderFilter{})
		if err != nil {
			return err
		}
		for _, o := range orders {
			d.Orders = append(d.Orders, orderRecord(o))
		}

		wallets, err := s.ListWallets(ctx)
		if err != nil {
			return err
		}
		for _, w := range wallets {
			rec := WalletRecord{ID: w.ID, Kind: w.Owner.Kind, Balance: w.Balance, CreatedAt: w.CreatedAt}
			if w.Owner.Kind == OwnerMechanic {
				id := w.Owner.MechanicID
				rec.MechanicID = &id
			}
			d.Wallets = append(d.Wallets, rec)

			movements, err := s.Movements(ctx, w.ID, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			for _, m := range movements {
				d.Movements = append(d.Movements, MovementRecord{
					ID: m.ID, WalletID: m.WalletID, Amount: m.Amount, Kind: m.Kind, Reason: m.Reason,
					OccurredAt: m.OccurredAt, OrderID: m.OrderID, ReversesID: m.ReversesID,
					IdempotencyKey: m.IdempotencyKey,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export ledger: %w", err)
	}
	sort.SliceStable(d.Orders, func(i, j int) bool { return d.Orders[i].ID < d.Orders[j].ID })
	return d, nil
}

func orderRecord(o Order) OrderRecord {
	rec := OrderRecord{
		ID: o.ID, ClientName: o.ClientName, ClientPhone: o.ClientPhone, Description: o.Description,
		MechanicID: o.MechanicID, LaborPrice: o.LaborPrice, MechanicPercent: o.MechanicPercent,
		Status: o.Status, Settlements: o.Settlements, CreatedAt: o.CreatedAt,
	}
	for _, p := range o.Parts {
		rec.Parts = append(rec.Parts, PartRecord{
			PartID: p.PartID, Description: p.Description, Barcode: p.Barcode,
			UnitPrice: p.UnitPrice, Quantity: p.Quantity,
		})
	}
	return rec
}

// =============================================================================
// IMPORT
// =============================================================================

// Import replaces everything in the store with d. Nothing changes unless
// every row restores and every wallet balance matches its movements.
func (e *Engine) Import(ctx context.Context, d *Dump) error {
	if d.Version != DumpVersion {
		return &ValidationError{Field: "version", Message: fmt.Sprintf("unsupported backup version %d", d.Version)}
	}

	movements := make([]MovementRecord, len(d.Movements))
	copy(movements, d.Movements)
	sort.SliceStable(movements, func(i, j int) bool { return movements[i].OccurredAt.Before(movements[j].OccurredAt) })

	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.Reset(ctx); err != nil {
			return err
		}

		mechanics := make(map[MechanicID]bool, len(d.Mechanics))
		for _, m := range d.Mechanics {
			if err := s.RestoreMechanic(ctx, Mechanic{
				ID: m.ID, Name: m.Name, Phone: m.Phone, Active: m.Active, CreatedAt: m.CreatedAt,
			}); err != nil {
				return err
			}
			mechanics[m.ID] = true
		}

		wallets := make([]Wallet, 0, len(d.Wallets))
		for _, rec := range d.Wallets {
			owner, err := rec.owner()
			if err != nil {
				return err
			}
			if owner.Kind == OwnerMechanic && !mechanics[owner.MechanicID] {
				return fmt.Errorf("wallet %s: %w", owner, ErrMechanicNotFound)
			}
			w := Wallet{ID: rec.ID, Owner: owner, Balance: rec.Balance, CreatedAt: rec.CreatedAt}
			if err := s.RestoreWallet(ctx, w); err != nil {
				return err
			}
			wallets = append(wallets, w)
		}

		for _, rec := range d.Orders {
			if rec.MechanicID != nil && !mechanics[*rec.MechanicID] {
				return fmt.Errorf("order %d mechanic %d: %w", rec.ID, *rec.MechanicID, ErrMechanicNotFound)
			}
			o := Order{
				ID: rec.ID, ClientName: rec.ClientName, ClientPhone: rec.ClientPhone, Description: rec.Description,
				MechanicID: rec.MechanicID, LaborPrice: rec.LaborPrice, MechanicPercent: rec.MechanicPercent,
				Status: rec.Status, Settlements: rec.Settlements, CreatedAt: rec.CreatedAt,
			}
			for _, p := range rec.Parts {
				o.Parts = append(o.Parts, PartLine{
					PartID: p.PartID, Description: p.Description, Barcode: p.Barcode,
					UnitPrice: p.UnitPrice, Quantity: p.Quantity,
				})
			}
			if err := s.RestoreOrder(ctx, o); err != nil {
				return err
			}
		}

		for _, m := range movements {
			if m.Amount.IsZero() {
				return &ValidationError{Field: "movements", Message: fmt.Sprintf("movement %s has a zero amount", m.ID)}
			}
			if err := s.InsertMovement(ctx, Movement{
				ID: m.ID, WalletID: m.WalletID, Amount: m.Amount, Kind: m.Kind, Reason: m.Reason,
				OccurredAt: m.OccurredAt, OrderID: m.OrderID, ReversesID: m.ReversesID,
				IdempotencyKey: m.IdempotencyKey,
			}); err != nil {
				return fmt.Errorf("movement %s: %w", m.ID, err)
			}
		}

		for i := range wallets {
			if _, err := verifyWallet(ctx, s, &wallets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import backup: %w", err)
	}

	e.Logger.Info("backup imported",
		"mechanics", len(d.Mechanics),
		"orders", len(d.Orders),
		"wallets", len(d.Wallets),
		"movements", len(d.Movements),
	)
	return nil
}
