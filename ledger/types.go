/*
Package ledger is the core of the workshop: service orders, the wallets of the
shop and its mechanics, and the settlement that moves money between them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a currency value backed by decimal.Decimal
  - Owner/Wallet: a running balance for the shop or for one mechanic
  - Movement: one signed change to one wallet, optionally linked to an order
  - Mechanic: the person an order is assigned to

BALANCE IS A CACHE:
  Wallet.Balance is stored, not derived. It must always equal the sum of the
  wallet's movements. Every write to a balance happens next to exactly one
  movement write, inside the same store transaction (see engine.go).

SEE ALSO:
  - order.go: Order, PartLine and the status machine
  - split.go: how an order's value is divided
  - engine.go: settlement and reversal
  - statement.go: read-only projections over movements
*/
package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Currency value
// =============================================================================

// CurrencyPlaces is the number of decimal places kept for stored amounts.
const CurrencyPlaces = 2

type Amount struct {
	Value decimal.Decimal
}

// ParseAmount parses a decimal string such as "120.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func Zero() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }

// Round rounds half away from zero to CurrencyPlaces.
func (a Amount) Round() Amount { return Amount{Value: a.Value.Round(CurrencyPlaces)} }

// HasCurrencyPrecision reports whether a has at most CurrencyPlaces decimals.
func (a Amount) HasCurrencyPrecision() bool { return a.Value.Equal(a.Value.Round(CurrencyPlaces)) }

// String renders the amount with exactly CurrencyPlaces decimals.
func (a Amount) String() string { return a.Value.StringFixed(CurrencyPlaces) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Value.UnmarshalJSON(data)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	MechanicID int64
	OrderID    int64
	WalletID   int64
	MovementID string
)

// =============================================================================
// MECHANIC
// =============================================================================

type Mechanic struct {
	ID        MechanicID
	Name      string
	Phone     string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// OWNER / WALLET
// =============================================================================

type OwnerKind string

const (
	OwnerShop     OwnerKind = "shop"
	OwnerMechanic OwnerKind = "mechanic"
)

// Owner identifies whose wallet it is. The shop owns exactly one wallet;
// each mechanic owns at most one.
type Owner struct {
	Kind       OwnerKind
	MechanicID MechanicID
}

func ShopOwner() Owner { return Owner{Kind: OwnerShop} }

func MechanicOwner(id MechanicID) Owner { return Owner{Kind: OwnerMechanic, MechanicID: id} }

func (o Owner) String() string {
	if o.Kind == OwnerShop {
		return "shop"
	}
	return fmt.Sprintf("mechanic-%d", o.MechanicID)
}

// ParseOwner accepts "shop" or a mechanic id.
func ParseOwner(s string) (Owner, error) {
	if s == "shop" {
		return ShopOwner(), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return Owner{}, &ValidationError{Field: "owner", Message: fmt.Sprintf("unknown wallet owner %q", s)}
	}
	return MechanicOwner(MechanicID(id)), nil
}

type Wallet struct {
	ID        WalletID
	Owner     Owner
	Balance   Amount
	CreatedAt time.Time
}

// =============================================================================
// MOVEMENT - One signed change to one wallet
// =============================================================================

type MovementKind string

const (
	MovementMechanicShare MovementKind = "mechanic_share" // Mechanic's part of the labor
	MovementShopShare     MovementKind = "shop_share"     // Remaining labor plus all parts
	MovementReversal      MovementKind = "reversal"       // Offsets an earlier movement
	MovementManual        MovementKind = "manual"         // Deposit or withdrawal
)

type Movement struct {
	ID         MovementID
	WalletID   WalletID
	Amount     Amount // positive = credit, negative = debit; never zero
	Kind       MovementKind
	Reason     string
	OccurredAt time.Time

	// OrderID links settlement movements (and their reversals) to the order.
	// Nil for manual movements and after the order has been deleted.
	OrderID *OrderID

	// ReversesID is set on reversal movements.
	ReversesID MovementID

	IdempotencyKey string
}

func (m Movement) IsCredit() bool { return m.Amount.IsPositive() }
func (m Movement) IsDebit() bool  { return m.Amount.IsNegative() }
