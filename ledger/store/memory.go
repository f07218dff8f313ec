// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/monark/workshop/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// data holds the whole state. Its methods don't lock; Memory and the
// transaction view decide when to.
type data struct {
	mechanics map[ledger.MechanicID]ledger.Mechanic
	orders    map[ledger.OrderID]ledger.Order
	wallets   map[ledger.WalletID]ledger.Wallet
	movements []ledger.Movement // append-only, insertion order

	idempotency map[string]bool

	nextMechanic ledger.MechanicID
	nextOrder    ledger.OrderID
	nextWallet   ledger.WalletID
}

type Memory struct {
	mu sync.RWMutex
	d  *data
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func newData() *data {
	return &data{
		mechanics:   make(map[ledger.MechanicID]ledger.Mechanic),
		orders:      make(map[ledger.OrderID]ledger.Order),
		wallets:     make(map[ledger.WalletID]ledger.Wallet),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) read(fn func(*data) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.d)
}

func (m *Memory) write(fn func(*data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.d)
}

// view returns a Store over d that takes no locks.
func (m *Memory) view() *txMemoryView { return &txMemoryView{d: m.d} }

func (m *Memory) CreateMechanic(ctx context.Context, mech *ledger.Mechanic) error {
	return m.write(func(*data) error { return m.view().CreateMechanic(ctx, mech) })
}

func (m *Memory) GetMechanic(ctx context.Context, id ledger.MechanicID) (mech *ledger.Mechanic, err error) {
	err = m.read(func(*data) error { mech, err = m.view().GetMechanic(ctx, id); return err })
	return mech, err
}

func (m *Memory) UpdateMechanic(ctx context.Context, mech *ledger.Mechanic) error {
	return m.write(func(*data) error { return m.view().UpdateMechanic(ctx, mech) })
}

func (m *Memory) ListMechanics(ctx context.Context, includeInactive bool) (out []ledger.Mechanic, err error) {
	err = m.read(func(*data) error { out, err = m.view().ListMechanics(ctx, includeInactive); return err })
	return out, err
}

func (m *Memory) CreateOrder(ctx context.Context, o *ledger.Order) error {
	return m.write(func(*data) error { return m.view().CreateOrder(ctx, o) })
}

func (m *Memory) GetOrder(ctx context.Context, id ledger.OrderID) (o *ledger.Order, err error) {
	err = m.read(func(*data) error { o, err = m.view().GetOrder(ctx, id); return err })
	return o, err
}

func (m *Memory) UpdateOrder(ctx context.Context, o *ledger.Order) error {
	return m.write(func(*data) error { return m.view().UpdateOrder(ctx, o) })
}

func (m *Memory) DeleteOrder(ctx context.Context, id ledger.OrderID) error {
	return m.write(func(*data) error { return m.view().DeleteOrder(ctx, id) })
}

func (m *Memory) ListOrders(ctx context.Context, f ledger.OrderFilter) (out []ledger.Order, err error) {
	err = m.read(func(*data) error { out, err = m.view().ListOrders(ctx, f); return err })
	return out, err
}

func (m *Memory) GetWallet(ctx context.Context, owner ledger.Owner) (w *ledger.Wallet, err error) {
	err = m.read(func(*data) error { w, err = m.view().GetWallet(ctx, owner); return err })
	return w, err
}

func (m *Memory) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	return m.write(func(*data) error { return m.view().CreateWallet(ctx, w) })
}

func (m *Memory) ListWallets(ctx context.Context) (out []ledger.Wallet, err error) {
	err = m.read(func(*data) error { out, err = m.view().ListWallets(ctx); return err })
	return out, err
}

func (m *Memory) AdjustBalance(ctx context.Context, id ledger.WalletID, delta ledger.Amount) error {
	return m.write(func(*data) error { return m.view().AdjustBalance(ctx, id, delta) })
}

func (m *Memory) InsertMovement(ctx context.Context, mv ledger.Movement) error {
	return m.write(func(*data) error { return m.view().InsertMovement(ctx, mv) })
}

func (m *Memory) MovementsByOrder(ctx context.Context, id ledger.OrderID) (out []ledger.Movement, err error) {
	err = m.read(func(*data) error { out, err = m.view().MovementsByOrder(ctx, id); return err })
	return out, err
}

func (m *Memory) Movements(ctx context.Context, id ledger.WalletID, from, to time.Time) (out []ledger.Movement, err error) {
	err = m.read(func(*data) error { out, err = m.view().Movements(ctx, id, from, to); return err })
	return out, err
}

func (m *Memory) Reset(ctx context.Context) error {
	return m.write(func(*data) error { return m.view().Reset(ctx) })
}

func (m *Memory) RestoreMechanic(ctx context.Context, mech ledger.Mechanic) error {
	return m.write(func(*data) error { return m.view().RestoreMechanic(ctx, mech) })
}

func (m *Memory) RestoreOrder(ctx context.Context, o ledger.Order) error {
	return m.write(func(*data) error { return m.view().RestoreOrder(ctx, o) })
}

func (m *Memory) RestoreWallet(ctx context.Context, w ledger.Wallet) error {
	return m.write(func(*data) error { return m.view().RestoreWallet(ctx, w) })
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the write lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.d.clone()

	if err := fn(tm.view()); err != nil {
		tm.d = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := &data{
		mechanics:    make(map[ledger.MechanicID]ledger.Mechanic, len(d.mechanics)),
		orders:       make(map[ledger.OrderID]ledger.Order, len(d.orders)),
		wallets:      make(map[ledger.WalletID]ledger.Wallet, len(d.wallets)),
		movements:    append([]ledger.Movement(nil), d.movements...),
		idempotency:  make(map[string]bool, len(d.idempotency)),
		nextMechanic: d.nextMechanic,
		nextOrder:    d.nextOrder,
		nextWallet:   d.nextWallet,
	}
	for k, v := range d.mechanics {
		c.mechanics[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func copyOrder(o ledger.Order) ledger.Order {
	o.Parts = append([]ledger.PartLine(nil), o.Parts...)
	if o.MechanicID != nil {
		id := *o.MechanicID
		o.MechanicID = &id
	}
	return o
}

// =============================================================================
// VIEW - lock-free Store over the state
// =============================================================================

type txMemoryView struct {
	d *data
}

func (tv *txMemoryView) CreateMechanic(_ context.Context, m *ledger.Mechanic) error {
	tv.d.nextMechanic++
	m.ID = tv.d.nextMechanic
	tv.d.mechanics[m.ID] = *m
	return nil
}

func (tv *txMemoryView) GetMechanic(_ context.Context, id ledger.MechanicID) (*ledger.Mechanic, error) {
	m, ok := tv.d.mechanics[id]
	if !ok {
		return nil, fmt.Errorf("mechanic %d: %w", id, ledger.ErrMechanicNotFound)
	}
	return &m, nil
}

func (tv *txMemoryView) UpdateMechanic(_ context.Context, m *ledger.Mechanic) error {
	if _, ok := tv.d.mechanics[m.ID]; !ok {
		return fmt.Errorf("mechanic %d: %w", m.ID, ledger.ErrMechanicNotFound)
	}
	tv.d.mechanics[m.ID] = *m
	return nil
}

func (tv *txMemoryView) ListMechanics(_ context.Context, includeInactive bool) ([]ledger.Mechanic, error) {
	out := make([]ledger.Mechanic, 0, len(tv.d.mechanics))
	for _, m := range tv.d.mechanics {
		if m.Active || includeInactive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (tv *txMemoryView) CreateOrder(_ context.Context, o *ledger.Order) error {
	tv.d.nextOrder++
	o.ID = tv.d.nextOrder
	tv.d.orders[o.ID] = copyOrder(*o)
	return nil
}

func (tv *txMemoryView) GetOrder(_ context.Context, id ledger.OrderID) (*ledger.Order, error) {
	o, ok := tv.d.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ledger.ErrOrderNotFound)
	}
	c := copyOrder(o)
	return &c, nil
}

func (tv *txMemoryView) UpdateOrder(_ context.Context, o *ledger.Order) error {
	if _, ok := tv.d.orders[o.ID]; !ok {
		return fmt.Errorf("order %d: %w", o.ID, ledger.ErrOrderNotFound)
	}
	tv.d.orders[o.ID] = copyOrder(*o)
	return nil
}

// DeleteOrder removes the order and unlinks its movements, the way the
// SQLite foreign key does with ON DELETE SET NULL.
func (tv *txMemoryView) DeleteOrder(_ context.Context, id ledger.OrderID) error {
	if _, ok := tv.d.orders[id]; !ok {
		return fmt.Errorf("order %d: %w", id, ledger.ErrOrderNotFound)
	}
	delete(tv.d.orders, id)
	for i, m := range tv.d.movements {
		if m.OrderID != nil && *m.OrderID == id {
			tv.d.movements[i].OrderID = nil
		}
	}
	return nil
}

func (tv *txMemoryView) ListOrders(_ context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	out := make([]ledger.Order, 0)
	for _, o := range tv.d.orders {
		if f.Match(&o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (tv *txMemoryView) GetWallet(_ context.Context, owner ledger.Owner) (*ledger.Wallet, error) {
	for _, w := range tv.d.wallets {
		if w.Owner == owner {
			return &w, nil
		}
	}
	return nil, fmt.Errorf("wallet %s: %w", owner, ledger.ErrWalletNotFound)
}

func (tv *txMemoryView) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	if _, err := tv.GetWallet(ctx, w.Owner); err == nil {
		return fmt.Errorf("wallet %s already exists", w.Owner)
	}
	tv.d.nextWallet++
	w.ID = tv.d.nextWallet
	w.Balance = ledger.Zero()
	tv.d.wallets[w.ID] = *w
	return nil
}

func (tv *txMemoryView) ListWallets(_ context.Context) ([]ledger.Wallet, error) {
	out := make([]ledger.Wallet, 0, len(tv.d.wallets))
	for _, w := range tv.d.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txMemoryView) AdjustBalance(_ context.Context, id ledger.WalletID, delta ledger.Amount) error {
	w, ok := tv.d.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %d: %w", id, ledger.ErrWalletNotFound)
	}
	w.Balance = w.Balance.Add(delta)
	tv.d.wallets[id] = w
	return nil
}

func (tv *txMemoryView) InsertMovement(_ context.Context, m ledger.Movement) error {
	if _, ok := tv.d.wallets[m.WalletID]; !ok {
		return fmt.Errorf("wallet %d: %w", m.WalletID, ledger.ErrWalletNotFound)
	}
	if m.IdempotencyKey != "" && tv.d.idempotency[m.IdempotencyKey] {
		return fmt.Errorf("movement %q: %w", m.IdempotencyKey, ledger.ErrDuplicateIdempotencyKey)
	}
	if m.OrderID != nil {
		id := *m.OrderID
		m.OrderID = &id
	}
	tv.d.movements = append(tv.d.movements, m)
	if m.IdempotencyKey != "" {
		tv.d.idempotency[m.IdempotencyKey] = true
	}
	return nil
}

func (tv *txMemoryView) MovementsByOrder(_ context.Context, id ledger.OrderID) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range tv.d.movements {
		if m.OrderID != nil && *m.OrderID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tv *txMemoryView) Movements(_ context.Context, id ledger.WalletID, from, to time.Time) ([]ledger.Movement, error) {
	out := make([]ledger.Movement, 0)
	for _, m := range tv.d.movements {
		if m.WalletID != id {
			continue
		}
		if !from.IsZero() && m.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && m.OccurredAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// =============================================================================
// RESTORE
// =============================================================================

func (tv *txMemoryView) Reset(_ context.Context) error {
	*tv.d = *newData()
	return nil
}

func (tv *txMemoryView) RestoreMechanic(_ context.Context, m ledger.Mechanic) error {
	if _, ok := tv.d.mechanics[m.ID]; ok {
		return fmt.Errorf("mechanic %d already exists", m.ID)
	}
	tv.d.mechanics[m.ID] = m
	if m.ID > tv.d.nextMechanic {
		tv.d.nextMechanic = m.ID
	}
	return nil
}

func (tv *txMemoryView) RestoreOrder(_ context.Context, o ledger.Order) error {
	if _, ok := tv.d.orders[o.ID]; ok {
		return fmt.Errorf("order %d already exists", o.ID)
	}
	if o.MechanicID != nil {
		if _, ok := tv.d.mechanics[*o.MechanicID]; !ok {
			return fmt.Errorf("order %d mechanic %d: %w", o.ID, *o.MechanicID, ledger.ErrMechanicNotFound)
		}
	}
	tv.d.orders[o.ID] = copyOrder(o)
	if o.ID > tv.d.nextOrder {
		tv.d.nextOrder = o.ID
	}
	return nil
}

func (tv *txMemoryView) RestoreWallet(ctx context.Context, w ledger.Wallet) error {
	if _, ok := tv.d.wallets[w.ID]; ok {
		return fmt.Errorf("wallet %d already exists", w.ID)
	}
	if _, err := tv.GetWallet(ctx, w.Owner); err == nil {
		return fmt.Errorf("wallet %s already exists", w.Owner)
	}
	tv.d.wallets[w.ID] = w
	if w.ID > tv.d.nextWallet {
		tv.d.nextWallet = w.ID
	}
	return nil
}
