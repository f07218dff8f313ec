package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monark/workshop/ledger"
	"github.com/monark/workshop/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*ledger.Engine, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	e := ledger.NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2025, time.May, 5, 8, 0, 0, 0, time.UTC)
	e.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return e, store
}

func amt(s string) ledger.Amount { return ledger.MustParseAmount(s) }

func completedOrder(t *testing.T, e *ledger.Engine, labor string, percent int, parts string) (ledger.OrderID, ledger.MechanicID) {
	t.Helper()
	ctx := context.Background()
	m, err := e.CreateMechanic(ctx, "Bruno", "11987654321")
	require.NoError(t, err)
	o, err := e.CreateOrder(ctx, ledger.OrderInput{
		ClientName: "Carlos", MechanicID: &m.ID, LaborPrice: amt(labor), MechanicPercent: percent,
	})
	require.NoError(t, err)
	_, err = e.AddPart(ctx, o.ID, ledger.PartLine{PartID: "10", Description: "Chain", Barcode: "7891234567890", UnitPrice: amt(parts), Quantity: 1})
	require.NoError(t, err)
	_, err = e.Complete(ctx, o.ID)
	require.NoError(t, err)
	return o.ID, m.ID
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_OrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := &ledger.Mechanic{Name: "Bruno", Active: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateMechanic(ctx, m))

	o := &ledger.Order{
		ClientName:      "Carlos",
		ClientPhone:     "11987654321",
		Description:     "Tune-up",
		MechanicID:      &m.ID,
		LaborPrice:      amt("120.50"),
		MechanicPercent: 70,
		Status:          ledger.StatusOpen,
		CreatedAt:       time.Date(2025, time.May, 5, 10, 30, 0, 123, time.UTC),
		Parts: []ledger.PartLine{
			{PartID: "2", Description: "Cable", UnitPrice: amt("9.90"), Quantity: 2},
			{PartID: "1", Description: "Tube", Barcode: "789", UnitPrice: amt("25.00"), Quantity: 1},
		},
	}
	require.NoError(t, store.CreateOrder(ctx, o))
	require.NotZero(t, o.ID)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carlos", got.ClientName)
	assert.Equal(t, m.ID, *got.MechanicID)
	assert.Equal(t, "120.50", got.LaborPrice.String())
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Parts, 2)
	assert.Equal(t, "2", got.Parts[0].PartID, "part order is preserved")
	assert.Equal(t, "44.80", got.PartsValue().String())

	got.Parts = got.Parts[1:]
	got.Status = ledger.StatusCancelled
	require.NoError(t, store.UpdateOrder(ctx, got))

	again, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, again.Status)
	assert.Len(t, again.Parts, 1)

	_, err = store.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

func TestStore_IdempotencyKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := &ledger.Wallet{Owner: ledger.ShopOwner(), CreatedAt: time.Now()}
	require.NoError(t, store.CreateWallet(ctx, w))
	require.NotZero(t, w.ID)

	m := ledger.Movement{
		ID: "m-1", WalletID: w.ID, Amount: amt("10"), Kind: ledger.MovementManual,
		OccurredAt: time.Now(), IdempotencyKey: "order-1/settlement-1/shop",
	}
	require.NoError(t, store.InsertMovement(ctx, m))

	m.ID = "m-2"
	err := store.InsertMovement(ctx, m)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// Movements without a key never collide.
	for _, id := range []ledger.MovementID{"m-3", "m-4"} {
		require.NoError(t, store.InsertMovement(ctx, ledger.Movement{
			ID: id, WalletID: w.ID, Amount: amt("1"), Kind: ledger.MovementManual, OccurredAt: time.Now(),
		}))
	}
}

func TestStore_OneWalletPerOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	createdAt := time.Date(2025, time.April, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateWallet(ctx, &ledger.Wallet{Owner: ledger.ShopOwner(), CreatedAt: createdAt}))
	assert.Error(t, store.CreateWallet(ctx, &ledger.Wallet{Owner: ledger.ShopOwner(), CreatedAt: time.Now()}))

	wallets, err := store.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, ledger.ShopOwner(), wallets[0].Owner)
	assert.True(t, createdAt.Equal(wallets[0].CreatedAt), "the caller's creation time is stored")
	assert.True(t, wallets[0].Balance.IsZero())
}

func TestStore_ListOrders_ClientFilterMatchesWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, name := range []string{"Ana_Maria", "Ana Maria", "Anamaria", "50% Bikes", "500 Bikes"} {
		require.NoError(t, store.CreateOrder(ctx, &ledger.Order{
			ClientName: name, LaborPrice: ledger.Zero(), Status: ledger.StatusOpen, CreatedAt: time.Now(),
		}))
	}

	tests := []struct {
		filter string
		want   []string
	}{
		{"a_m", []string{"Ana_Maria"}},
		{"0%", []string{"50% Bikes"}},
		{"ana", []string{"Ana_Maria", "Ana Maria", "Anamaria"}},
		{`\`, nil},
	}
	for _, tt := range tests {
		orders, err := store.ListOrders(ctx, ledger.OrderFilter{Client: tt.filter})
		require.NoError(t, err)
		var got []string
		for _, o := range orders {
			got = append(got, o.ClientName)
		}
		assert.ElementsMatch(t, tt.want, got, "filter %q", tt.filter)
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_CompleteAndEdit_OnSQLite(t *testing.T) {
	// GIVEN: a completed order (labor 100.00 at 80%, parts 50.00)
	// WHEN: the percentage is edited to 50%
	// THEN: balances follow and the stored balance matches the movements

	ctx := context.Background()
	e, _ := newTestEngine(t)
	id, mech := completedOrder(t, e, "100.00", 80, "50.00")

	bal, err := e.Balance(ctx, ledger.MechanicOwner(mech))
	require.NoError(t, err)
	assert.Equal(t, "80.00", bal.String())

	_, err = e.Complete(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrAlreadySettled)

	fifty := 50
	_, err = e.Edit(ctx, id, ledger.OrderEdit{MechanicPercent: &fifty})
	require.NoError(t, err)

	mechBal, err := e.Verify(ctx, ledger.MechanicOwner(mech))
	require.NoError(t, err)
	assert.Equal(t, "50.00", mechBal.String())

	shopBal, err := e.Verify(ctx, ledger.ShopOwner())
	require.NoError(t, err)
	assert.Equal(t, "100.00", shopBal.String())

	ms, err := e.Statement(ctx, ledger.MechanicOwner(mech), ledger.StatementQuery{})
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, ms[0].ID, ms[1].ReversesID)
}

func TestEngine_Delete_UnlinksMovements(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	id, mech := completedOrder(t, e, "100.00", 80, "50.00")

	require.NoError(t, e.Delete(ctx, id))

	_, err := store.GetOrder(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)

	ms, err := e.Statement(ctx, ledger.MechanicOwner(mech), ledger.StatementQuery{})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	for _, m := range ms {
		assert.Nil(t, m.OrderID)
	}

	bal, err := e.Verify(ctx, ledger.MechanicOwner(mech))
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestEngine_WalletCreatedAt_OnSQLite(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id, mech := completedOrder(t, e, "10.00", 50, "5.00")

	o, err := e.GetOrder(ctx, id)
	require.NoError(t, err)
	w, err := e.Wallet(ctx, ledger.MechanicOwner(mech))
	require.NoError(t, err)

	// The engine clock ticks one second per call, so the wallet is stamped
	// after the order and within the same minute.
	assert.True(t, w.CreatedAt.After(o.CreatedAt))
	assert.Equal(t, 2025, w.CreatedAt.Year())
	assert.WithinDuration(t, o.CreatedAt, w.CreatedAt, time.Minute)
}

func TestEngine_ExportImport_OnSQLite(t *testing.T) {
	// GIVEN: a re-settled order and a manual deposit in one database
	// WHEN: the export is imported into a second database
	// THEN: balances and history match and the second database keeps working

	ctx := context.Background()
	src, _ := newTestEngine(t)
	id, mech := completedOrder(t, src, "100.00", 80, "50.00")
	fifty := 50
	_, err := src.Edit(ctx, id, ledger.OrderEdit{MechanicPercent: &fifty})
	require.NoError(t, err)
	_, err = src.PostManual(ctx, ledger.ShopOwner(), amt("25.00"), "")
	require.NoError(t, err)

	dump, err := src.Export(ctx)
	require.NoError(t, err)

	dst, _ := newTestEngine(t)
	_, err = dst.CreateMechanic(ctx, "Leftover", "")
	require.NoError(t, err)
	require.NoError(t, dst.Import(ctx, dump))

	for _, owner := range []ledger.Owner{ledger.MechanicOwner(mech), ledger.ShopOwner()} {
		want, err := src.Verify(ctx, owner)
		require.NoError(t, err)
		got, err := dst.Verify(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, want.String(), got.String(), "wallet %s", owner)
	}

	mechanics, err := dst.ListMechanics(ctx, true)
	require.NoError(t, err)
	require.Len(t, mechanics, 1)
	assert.Equal(t, "Bruno", mechanics[0].Name)

	ms, err := dst.Statement(ctx, ledger.MechanicOwner(mech), ledger.StatementQuery{})
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, ms[0].ID, ms[1].ReversesID)

	// Another edit reverses the restored movements.
	ten := 10
	_, err = dst.Edit(ctx, id, ledger.OrderEdit{MechanicPercent: &ten})
	require.NoError(t, err)
	bal, err := dst.Verify(ctx, ledger.MechanicOwner(mech))
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.String())
}

func TestEngine_Import_MismatchKeepsDatabase_OnSQLite(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestEngine(t)
	completedOrder(t, src, "100.00", 80, "0")

	dump, err := src.Export(ctx)
	require.NoError(t, err)
	for i := range dump.Wallets {
		if dump.Wallets[i].Kind == ledger.OwnerMechanic {
			dump.Wallets[i].Balance = amt("1.00")
		}
	}

	dst, _ := newTestEngine(t)
	_, err = dst.CreateMechanic(ctx, "Leftover", "")
	require.NoError(t, err)

	err = dst.Import(ctx, dump)
	assert.ErrorIs(t, err, ledger.ErrBalanceMismatch)

	mechanics, err := dst.ListMechanics(ctx, true)
	require.NoError(t, err)
	require.Len(t, mechanics, 1)
	assert.Equal(t, "Leftover", mechanics[0].Name)

	wallets, err := dst.ListWallets(ctx)
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestEngine_ListOrders_OnSQLite(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id, mech := completedOrder(t, e, "10.00", 50, "5.00")

	_, err := e.CreateOrder(ctx, ledger.OrderInput{ClientName: "Marta"})
	require.NoError(t, err)

	orders, err := e.ListOrders(ctx, ledger.OrderFilter{MechanicID: &mech, Status: ledger.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].ID)
	assert.Len(t, orders[0].Parts, 1)

	byClient, err := e.ListOrders(ctx, ledger.OrderFilter{Client: "MAR"})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, "Marta", byClient[0].ClientName)
}

// =============================================================================
// TRANSACTION HANDLING (sqlmock)
// =============================================================================

func TestWithTx_FailedWrite_RollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO movements").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.WithTx(context.Background(), func(s ledger.Store) error {
		return s.InsertMovement(context.Background(), ledger.Movement{
			ID: "m-1", WalletID: 1, Amount: amt("10.00"), Kind: ledger.MovementManual, OccurredAt: time.Now(),
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_Success_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM wallets").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10.00"))
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs("15.50", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.WithTx(context.Background(), func(s ledger.Store) error {
		return s.AdjustBalance(context.Background(), 1, amt("5.50"))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure_Reported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = store.WithTx(context.Background(), func(ledger.Store) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWallet_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db)
	mock.ExpectQuery("SELECT id, balance, created_at FROM wallets").
		WithArgs("mechanic-4").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "created_at"}))

	_, err = store.GetWallet(context.Background(), ledger.MechanicOwner(4))
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
