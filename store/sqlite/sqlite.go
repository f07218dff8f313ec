/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Production persistence for the workshop: mechanics, service orders with
  their part lines, wallets and the movement history.

KEY TABLES:
  mechanics:    people orders are assigned to (never deleted, only deactivated)
  orders:       service orders; status, terms and settlement counter
  order_parts:  part line snapshots, removed with their order
  wallets:      one row per owner, with the cached balance
  movements:    every balance change; never updated except for unlinking the
                order when it is deleted

CONSTRAINTS THE ENGINE RELIES ON:
  - movements.idempotency_key is UNIQUE: a second settlement of the same order
    fails inside the transaction and everything rolls back.
  - wallets.owner is UNIQUE: one wallet per owner.
  - movements.order_id is ON DELETE SET NULL: history outlives the order.
  - order_parts.order_id is ON DELETE CASCADE.

MONEY AND TIME:
  Amounts are stored as decimal TEXT to avoid float rounding. Times are
  stored as fixed-width UTC TEXT so they sort lexically.

CONCURRENCY:
  The pool is capped at one connection. SQLite allows one writer anyway, and
  a single connection keeps ":memory:" databases shared across calls. All
  reads made inside WithTx run on the transaction.

USAGE:
  store, err := sqlite.New("./data/workshop.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/monark/workshop/ledger"
)

// timeLayout is fixed-width so stored times compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex // serializes transactions
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{conn: conn{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mechanics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_name TEXT NOT NULL,
		client_phone TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		mechanic_id INTEGER REFERENCES mechanics(id),
		labor_price TEXT NOT NULL,
		mechanic_percent INTEGER NOT NULL CHECK (mechanic_percent BETWEEN 0 AND 100),
		status TEXT NOT NULL CHECK (status IN ('open', 'completed', 'cancelled')),
		settlements INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_mechanic ON orders(mechanic_id);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC);

	CREATE TABLE IF NOT EXISTS order_parts (
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		part_id TEXT NOT NULL,
		description TEXT NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (order_id, part_id)
	);

	CREATE TABLE IF NOT EXISTS wallets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL UNIQUE,
		mechanic_id INTEGER REFERENCES mechanics(id),
		balance TEXT NOT NULL DEFAULT '0.00',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		order_id INTEGER REFERENCES orders(id) ON DELETE SET NULL,
		reverses_id TEXT REFERENCES movements(id),
		idempotency_key TEXT UNIQUE,
		occurred_at TEXT NOT NULL
	);

	-- Statement queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_movements_wallet_time
		ON movements(wallet_id, occurred_at);
	-- Reversal lookups
	CREATE INDEX IF NOT EXISTS idx_movements_order
		ON movements(order_id) WHERE order_id IS NOT NULL;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Every Store call fn
// makes runs on that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&conn{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier.
type conn struct {
	q querier
}

// =============================================================================
// MECHANICS
// =============================================================================

func (c *conn) CreateMechanic(ctx context.Context, m *ledger.Mechanic) error {
	res, err := c.q.ExecContext(ctx,
		`INSERT INTO mechanics (name, phone, active, created_at) VALUES (?, ?, ?, ?)`,
		m.Name, m.Phone, m.Active, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mechanic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = ledger.MechanicID(id)
	return nil
}

func (c *conn) GetMechanic(ctx context.Context, id ledger.MechanicID) (*ledger.Mechanic, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT id, name, phone, active, created_at FROM mechanics WHERE id = ?`, id)
	m, err := scanMechanic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mechanic %d: %w", id, ledger.ErrMechanicNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *conn) UpdateMechanic(ctx context.Context, m *ledger.Mechanic) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE mechanics SET name = ?, phone = ?, active = ? WHERE id = ?`,
		m.Name, m.Phone, m.Active, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mechanic: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("mechanic %d: %w", m.ID, ledger.ErrMechanicNotFound))
}

func (c *conn) ListMechanics(ctx context.Context, includeInactive bool) ([]ledger.Mechanic, error) {
	query := `SELECT id, name, phone, active, created_at FROM mechanics`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name, id`

	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query mechanics: %w", err)
	}
	defer rows.Close()

	mechanics := []ledger.Mechanic{}
	for rows.Next() {
		m, err := scanMechanic(rows)
		if err != nil {
			return nil, err
		}
		mechanics = append(mechanics, m)
	}
	return mechanics, rows.Err()
}

// =============================================================================
// ORDERS
// =============================================================================

const orderColumns = `id, client_name, client_phone, description, mechanic_id,
	labor_price, mechanic_percent, status, settlements, created_at`

func (c *conn) CreateOrder(ctx context.Context, o *ledger.Order) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO orders (client_name, client_phone, description, mechanic_id,
			labor_price, mechanic_percent, status, settlements, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientName, o.ClientPhone, o.Description, nullMechanic(o.MechanicID),
		o.LaborPrice.String(), o.MechanicPercent, o.Status, o.Settlements, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = ledger.OrderID(id)
	return c.insertParts(ctx, o.ID, o.Parts)
}

func (c *conn) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ledger.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	if o.Parts, err = c.loadParts(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *conn) UpdateOrder(ctx context.Context, o *ledger.Order) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE orders SET client_name = ?, client_phone = ?, description = ?, mechanic_id = ?,
			labor_price = ?, mechanic_percent = ?, status = ?, settlements = ?
		WHERE id = ?`,
		o.ClientName, o.ClientPhone, o.Description, nullMechanic(o.MechanicID),
		o.LaborPrice.String(), o.MechanicPercent, o.Status, o.Settlements, o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if err := expectOneRow(res, fmt.Errorf("order %d: %w", o.ID, ledger.ErrOrderNotFound)); err != nil {
		return err
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM order_parts WHERE order_id = ?`, o.ID); err != nil {
		return fmt.Errorf("failed to clear order parts: %w", err)
	}
	return c.insertParts(ctx, o.ID, o.Parts)
}

func (c *conn) DeleteOrder(ctx context.Context, id ledger.OrderID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("order %d: %w", id, ledger.ErrOrderNotFound))
}

// ListOrders returns matching orders, newest first, with their part lines.
func (c *conn) ListOrders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Client != "" {
		where = append(where, `LOWER(client_name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(f.Client))+"%")
	}
	if f.MechanicID != nil {
		where = append(where, "mechanic_id = ?")
		args = append(args, *f.MechanicID)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	orders := []ledger.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Parts are loaded after the cursor is closed: the pool has one connection.
	for i := range orders {
		if orders[i].Parts, err = c.loadParts(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (c *conn) insertParts(ctx context.Context, id ledger.OrderID, parts []ledger.PartLine) error {
	for i, p := range parts {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO order_parts (order_id, position, part_id, description, barcode, unit_price, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i, p.PartID, p.Description, p.Barcode, p.UnitPrice.String(), p.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order part %q: %w", p.PartID, err)
		}
	}
	return nil
}

func (c *conn) loadParts(ctx context.Context, id ledger.OrderID) ([]ledger.PartLine, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT part_id, description, barcode, unit_price, quantity
		FROM order_parts WHERE order_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order parts: %w", err)
	}
	defer rows.Close()

	var parts []ledger.PartLine
	for rows.Next() {
		var (
			p     ledger.PartLine
			price string
		)
		if err := rows.Scan(&p.PartID, &p.Description, &p.Barcode, &price, &p.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order part: %w", err)
		}
		if p.UnitPrice, err = ledger.ParseAmount(price); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// =============================================================================
// WALLETS
// =============================================================================

func (c *conn) GetWallet(ctx context.Context, owner ledger.Owner) (*ledger.Wallet, error) {
	var (
		w         ledger.Wallet
		balance   string
		createdAt string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, balance, created_at FROM wallets WHERE owner = ?`, owner.String(),
	).Scan(&w.ID, &balance, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", owner, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}
	w.Owner = owner
	if w.Balance, err = ledger.ParseAmount(balance); err != nil {
		return nil, err
	}
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

func (c *conn) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	res, err := c.q.ExecContext(ctx,
		`INSERT INTO wallets (owner, mechanic_id, balance, created_at) VALUES (?, ?, ?, ?)`,
		w.Owner.String(), walletMechanic(w.Owner), ledger.Zero().String(), formatTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet %s: %w", w.Owner, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = ledger.WalletID(id)
	w.Balance = ledger.Zero()
	return nil
}

func (c *conn) ListWallets(ctx context.Context) ([]ledger.Wallet, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, owner, balance, created_at FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	wallets := []ledger.Wallet{}
	for rows.Next() {
		var (
			w                         ledger.Wallet
			owner, balance, createdAt string
		)
		if err := rows.Scan(&w.ID, &owner, &balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		if w.Owner, err = parseOwner(owner); err != nil {
			return nil, err
		}
		if w.Balance, err = ledger.ParseAmount(balance); err != nil {
			return nil, err
		}
		w.CreatedAt = parseTime(createdAt)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// AdjustBalance adds delta to the cached balance. Callers run it in the same
// transaction as the matching InsertMovement.
func (c *conn) AdjustBalance(ctx context.Context, id ledger.WalletID, delta ledger.Amount) error {
	var current string
	err := c.q.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("wallet %d: %w", id, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	balance, err := ledger.ParseAmount(current)
	if err != nil {
		return err
	}

	_, err = c.q.ExecContext(ctx, `UPDATE wallets SET balance = ? WHERE id = ?`,
		balance.Add(delta).String(), id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

const movementColumns = `id, wallet_id, amount, kind, reason, order_id, reverses_id, idempotency_key, occurred_at`

func (c *conn) InsertMovement(ctx context.Context, m ledger.Movement) error {
	var orderID any
	if m.OrderID != nil {
		orderID = *m.OrderID
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.WalletID, m.Amount.String(), m.Kind, m.Reason, orderID,
		nullString(string(m.ReversesID)), nullString(m.IdempotencyKey), formatTime(m.OccurredAt),
	)
	if err != nil {
		if isUniqueViolation(err, "movements.idempotency_key") {
			return fmt.Errorf("movement %q: %w", m.IdempotencyKey, ledger.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

func (c *conn) MovementsByOrder(ctx context.Context, id ledger.OrderID) ([]ledger.Movement, error) {
	return c.queryMovements(ctx, `
		SELECT `+movementColumns+` FROM movements
		WHERE order_id = ?
		ORDER BY occurred_at, rowid`, id)
}

func (c *conn) Movements(ctx context.Context, id ledger.WalletID, from, to time.Time) ([]ledger.Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements WHERE wallet_id = ?`
	args := []any{id}
	if !from.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		query += ` AND occurred_at <= ?`
		args = append(args, formatTime(to))
	}
	query += ` ORDER BY occurred_at, rowid`
	return c.queryMovements(ctx, query, args...)
}

func (c *conn) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	movements := []ledger.Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// =============================================================================
// RESTORE
// =============================================================================

// Reset deletes every row, children first.
func (c *conn) Reset(ctx context.Context) error {
	for _, table := range []string{"movements", "order_parts", "orders", "wallets", "mechanics", "sqlite_sequence"} {
		if _, err := c.q.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func (c *conn) RestoreMechanic(ctx context.Context, m ledger.Mechanic) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO mechanics (id, name, phone, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Phone, m.Active, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to restore mechanic %d: %w", m.ID, err)
	}
	return nil
}

func (c *conn) RestoreOrder(ctx context.Context, o ledger.Order) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO orders (id, client_name, client_phone, description, mechanic_id,
			labor_price, mechanic_percent, status, settlements, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientName, o.ClientPhone, o.Description, nullMechanic(o.MechanicID),
		o.LaborPrice.String(), o.MechanicPercent, o.Status, o.Settlements, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to restore order %d: %w", o.ID, err)
	}
	return c.insertParts(ctx, o.ID, o.Parts)
}

func (c *conn) RestoreWallet(ctx context.Context, w ledger.Wallet) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO wallets (id, owner, mechanic_id, balance, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Owner.String(), walletMechanic(w.Owner), w.Balance.String(), formatTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to restore wallet %s: %w", w.Owner, err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanMechanic(row scanner) (ledger.Mechanic, error) {
	var (
		m         ledger.Mechanic
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Phone, &m.Active, &createdAt); err != nil {
		return m, err
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func scanOrder(row scanner) (ledger.Order, error) {
	var (
		o          ledger.Order
		mechanicID sql.NullInt64
		labor      string
		createdAt  string
	)
	err := row.Scan(&o.ID, &o.ClientName, &o.ClientPhone, &o.Description, &mechanicID,
		&labor, &o.MechanicPercent, &o.Status, &o.Settlements, &createdAt)
	if err != nil {
		return o, err
	}
	if mechanicID.Valid {
		id := ledger.MechanicID(mechanicID.Int64)
		o.MechanicID = &id
	}
	if o.LaborPrice, err = ledger.ParseAmount(labor); err != nil {
		return o, err
	}
	o.CreatedAt = parseTime(createdAt)
	return o, nil
}

func scanMovement(row scanner) (ledger.Movement, error) {
	var (
		m              ledger.Movement
		amount         string
		orderID        sql.NullInt64
		reversesID     sql.NullString
		idempotencyKey sql.NullString
		occurredAt     string
	)
	err := row.Scan(&m.ID, &m.WalletID, &amount, &m.Kind, &m.Reason,
		&orderID, &reversesID, &idempotencyKey, &occurredAt)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}
	if m.Amount, err = ledger.ParseAmount(amount); err != nil {
		return m, err
	}
	if orderID.Valid {
		id := ledger.OrderID(orderID.Int64)
		m.OrderID = &id
	}
	m.ReversesID = ledger.MovementID(reversesID.String)
	m.IdempotencyKey = idempotencyKey.String
	m.OccurredAt = parseTime(occurredAt)
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseOwner(s string) (ledger.Owner, error) {
	if s == "shop" {
		return ledger.ShopOwner(), nil
	}
	return ledger.ParseOwner(strings.TrimPrefix(s, "mechanic-"))
}

// escapeLike makes %, _ and \ in s match literally under ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func walletMechanic(owner ledger.Owner) any {
	if owner.Kind == ledger.OwnerMechanic {
		return owner.MechanicID
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullMechanic(id *ledger.MechanicID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error, column string) bool {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return strings.Contains(se.Error(), column)
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}
