package credit

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact currency amount
// =============================================================================

// Money is an exact currency amount backed by decimal arithmetic. Installment
// math splits payments across installments constantly; binary floats would
// accumulate drift after a few hundred partial applications, so equality and
// zero checks here are exact rather than epsilon-based.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(v int64) Money {
	return Money{Value: decimal.NewFromInt(v)}
}

func NewMoneyFromFloat(v float64) Money {
	return Money{Value: decimal.NewFromFloat(v)}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money          { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money          { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool   { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool      { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool         { return m.Value.Equal(b.Value) }
func (m Money) Min(b Money) Money          { if m.LessThan(b) { return m }; return b }

// ClampZero floors a balance at zero. Outstanding amounts are never negative:
// an overpayment closes the installment, it does not create a credit note.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

func (m Money) String() string { return m.Value.String() }

func (m Money) MarshalJSON() ([]byte, error) {
	return m.Value.MarshalJSON()
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Value.UnmarshalJSON(b)
}
