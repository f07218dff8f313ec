/*
statement.go - Read side of the wallets, plus manual movements

PURPOSE:
  Balances, statements and summaries are projections over stored movements.
  None of them write anything, so they run outside WithTx and always see
  committed state.

  A wallet that has never received a movement doesn't exist yet. Reads treat
  it as an empty wallet with a zero balance instead of failing.

MANUAL MOVEMENTS:
  Deposits (positive) and withdrawals (negative) go through the same post()
  helper as settlements. A withdrawal must say why.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sign filters a statement by direction.
type Sign string

const (
	SignAll     Sign = "all"
	SignCredits Sign = "credits"
	SignDebits  Sign = "debits"
)

// ParseSign accepts "", "all", "credits" and "debits".
func ParseSign(s string) (Sign, error) {
	switch Sign(s) {
	case "", SignAll:
		return SignAll, nil
	case SignCredits, SignDebits:
		return Sign(s), nil
	}
	return "", &ValidationError{Field: "sign", Message: fmt.Sprintf("unknown sign %q", s)}
}

func (s Sign) match(m Movement) bool {
	switch s {
	case SignCredits:
		return m.IsCredit()
	case SignDebits:
		return m.IsDebit()
	}
	return true
}

// StatementQuery selects a wallet's movements. Zero times are open bounds.
type StatementQuery struct {
	From time.Time
	To   time.Time
	Sign Sign
}

// Summary aggregates a set of movements. Debits is reported as a positive
// magnitude; Net = Credits - Debits.
type Summary struct {
	Credits Amount
	Debits  Amount
	Net     Amount
	Count   int
}

// Summarize totals movements.
func Summarize(movements []Movement) Summary {
	s := Summary{Credits: Zero(), Debits: Zero(), Net: Zero()}
	for _, m := range movements {
		if m.IsCredit() {
			s.Credits = s.Credits.Add(m.Amount)
		} else {
			s.Debits = s.Debits.Add(m.Amount.Abs())
		}
		s.Count++
	}
	s.Net = s.Credits.Sub(s.Debits)
	return s
}

// =============================================================================
// QUERIES
// =============================================================================

// Wallet returns the owner's wallet, or an unsaved empty wallet when none
// exists yet.
func (e *Engine) Wallet(ctx context.Context, owner Owner) (*Wallet, error) {
	w, err := e.Store.GetWallet(ctx, owner)
	if errors.Is(err, ErrWalletNotFound) {
		return &Wallet{Owner: owner, Balance: Zero()}, nil
	}
	return w, err
}

func (e *Engine) Balance(ctx context.Context, owner Owner) (Amount, error) {
	w, err := e.Wallet(ctx, owner)
	if err != nil {
		return Amount{}, err
	}
	return w.Balance, nil
}

func (e *Engine) ListWallets(ctx context.Context) ([]Wallet, error) {
	return e.Store.ListWallets(ctx)
}

// Statement lists the owner's movements in time order.
func (e *Engine) Statement(ctx context.Context, owner Owner, q StatementQuery) ([]Movement, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, &ValidationError{Field: "to", Message: "end of period is before its start"}
	}
	w, err := e.Store.GetWallet(ctx, owner)
	if errors.Is(err, ErrWalletNotFound) {
		return []Movement{}, nil
	}
	if err != nil {
		return nil, err
	}

	all, err := e.Store.Movements(ctx, w.ID, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("statement for %s: %w", owner, err)
	}
	out := make([]Movement, 0, len(all))
	for _, m := range all {
		if q.Sign.match(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *Engine) Summary(ctx context.Context, owner Owner, from, to time.Time) (Summary, error) {
	movements, err := e.Statement(ctx, owner, StatementQuery{From: from, To: to})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(movements), nil
}

// Verify recomputes the owner's balance from its movements and compares it
// with the stored balance. It returns the recomputed sum either way.
func (e *Engine) Verify(ctx context.Context, owner Owner) (Amount, error) {
	w, err := e.Wallet(ctx, owner)
	if err != nil {
		return Amount{}, err
	}
	if w.ID == 0 {
		return Zero(), nil
	}
	return verifyWallet(ctx, e.Store, w)
}

func verifyWallet(ctx context.Context, s Store, w *Wallet) (Amount, error) {
	movements, err := s.Movements(ctx, w.ID, time.Time{}, time.Time{})
	if err != nil {
		return Amount{}, err
	}
	sum := Zero()
	for _, m := range movements {
		sum = sum.Add(m.Amount)
	}
	if !sum.Equal(w.Balance) {
		return sum, fmt.Errorf("wallet %s: stored balance %s, movements sum to %s: %w", w.Owner, w.Balance, sum, ErrBalanceMismatch)
	}
	return sum, nil
}

// =============================================================================
// MANUAL MOVEMENTS
// =============================================================================

// PostManual records a deposit (positive) or withdrawal (negative) on the
// owner's wallet, creating the wallet if needed.
func (e *Engine) PostManual(ctx context.Context, owner Owner, amount Amount, reason string) (*Movement, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if !amount.HasCurrencyPrecision() {
		return nil, &ValidationError{Field: "amount", Message: "amount must have at most two decimal places"}
	}
	reason = strings.TrimSpace(reason)
	if amount.IsNegative() && reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "a withdrawal needs a reason"}
	}
	if reason == "" {
		reason = "Deposit"
	}

	var posted Movement
	err := e.Store.WithTx(ctx, func(s Store) error {
		w, err := e.resolveWallet(ctx, s, owner)
		if err != nil {
			return err
		}
		posted, err = e.post(ctx, s, Movement{
			WalletID: w.ID,
			Amount:   amount,
			Kind:     MovementManual,
			Reason:   reason,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("manual movement on %s: %w", owner, err)
	}
	e.Logger.Info("manual movement posted", "owner", owner.String(), "amount", amount.String(), "reason", reason)
	return &posted, nil
}
