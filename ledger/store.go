/*
store.go - Persistence interface for orders, mechanics, wallets and movements

KEY INTERFACES:
  Store:   every read and write the engine needs
  TxStore: Store plus WithTx, the atomic unit every settlement runs in

ATOMICITY:
  Settlement touches three tables at once: the movement rows, the wallet
  balances and the order status. The engine always does this inside
  WithTx, so either all of it is committed or none of it is. Reads made
  outside WithTx only ever see committed state.

PAIRED WRITES:
  InsertMovement and AdjustBalance are separate methods, but the engine only
  ever calls them together through post() (engine.go). Nothing else in the
  repo writes a balance.

IDEMPOTENCY:
  InsertMovement rejects a non-empty idempotency key that already exists
  with ErrDuplicateIdempotencyKey.

BACKUP:
  Export reads through the Store; Import clears it with Reset and writes
  rows back with the Restore methods and InsertMovement. Balances are
  restored as stored and then checked against the restored movements.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - ledger/store: in-memory, for tests and development
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Mechanics
	CreateMechanic(ctx context.Context, m *Mechanic) error // assigns ID
	GetMechanic(ctx context.Context, id MechanicID) (*Mechanic, error)
	UpdateMechanic(ctx context.Context, m *Mechanic) error
	ListMechanics(ctx context.Context, includeInactive bool) ([]Mechanic, error)

	// Orders. GetOrder and ListOrders load part lines.
	CreateOrder(ctx context.Context, o *Order) error // assigns ID
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error // fields, status and part lines
	DeleteOrder(ctx context.Context, id OrderID) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// Wallets
	GetWallet(ctx context.Context, owner Owner) (*Wallet, error) // ErrWalletNotFound
	CreateWallet(ctx context.Context, w *Wallet) error // assigns ID; balance starts at zero
	ListWallets(ctx context.Context) ([]Wallet, error)
	AdjustBalance(ctx context.Context, id WalletID, delta Amount) error

	// Movements
	InsertMovement(ctx context.Context, m Movement) error
	MovementsByOrder(ctx context.Context, id OrderID) ([]Movement, error)
	// Movements returns a wallet's movements in [from, to] ordered by time.
	// Zero bounds are open.
	Movements(ctx context.Context, id WalletID, from, to time.Time) ([]Movement, error)

	// Restore. Reset empties every table; the Restore methods insert rows
	// with their ids and stored values as they are. Only Import uses them,
	// inside one transaction.
	Reset(ctx context.Context) error
	RestoreMechanic(ctx context.Context, m Mechanic) error
	RestoreOrder(ctx context.Context, o Order) error
	RestoreWallet(ctx context.Context, w Wallet) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
