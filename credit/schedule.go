/*
schedule.go - Schedule generation and credit origination

PURPOSE:
  Derives a credit's fixed installment sequence from its cadence and start
  date. The schedule is generated exactly once, at origination, together
  with the credit record. Installment dates are write-once after that:
  every later date change is a Deferral overlay, never a schedule edit.

CADENCE TABLE:
  daily     60 installments, one per day
  weekly    10 installments, one per 7 days
  biweekly   5 installments, one per 15 days
  monthly    3 installments, one per calendar month
*/
package credit

import (
	"fmt"
	"time"
)

// BuildSchedule generates the full installment sequence for a cadence.
// The first installment falls one step after the start date: money handed
// over today is first collected tomorrow (daily) or next week (weekly).
func BuildSchedule(start Date, cadence Cadence) []Installment {
	count := cadence.InstallmentCount()
	if count == 0 {
		return nil
	}

	schedule := make([]Installment, count)
	for i := 0; i < count; i++ {
		schedule[i] = Installment{
			Number:        i + 1,
			ScheduledDate: installmentDate(start, cadence, i+1),
		}
	}
	return schedule
}

func installmentDate(start Date, cadence Cadence, number int) Date {
	switch cadence {
	case CadenceDaily:
		return start.AddDays(number)
	case CadenceWeekly:
		return start.AddDays(number * 7)
	case CadenceBiweekly:
		return start.AddDays(number * 15)
	case CadenceMonthly:
		return start.AddMonths(number)
	default:
		return Date{}
	}
}

// NewCredit originates a credit with its full installment set. The two are
// created atomically: a credit without exactly InstallmentCount installments
// is malformed everywhere downstream.
func NewCredit(id CreditID, clientID ClientID, principal, installmentValue Money, cadence Cadence, start Date) (*Credit, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	if clientID == "" {
		return nil, &ValidationError{Field: "clientId", Reason: "required"}
	}
	if !cadence.Valid() {
		return nil, &ValidationError{Field: "cadence", Reason: fmt.Sprintf("unknown cadence %q", cadence)}
	}
	if !principal.IsPositive() {
		return nil, &ValidationError{Field: "principal", Reason: "must be positive"}
	}
	if !installmentValue.IsPositive() {
		return nil, &ValidationError{Field: "installmentValue", Reason: "must be positive"}
	}
	if start.IsZero() {
		return nil, &ValidationError{Field: "startDate", Reason: "required"}
	}

	return &Credit{
		ID:               id,
		ClientID:         clientID,
		Principal:        principal,
		InstallmentValue: installmentValue,
		Cadence:          cadence,
		StartDate:        start,
		InstallmentCount: cadence.InstallmentCount(),
		Installments:     BuildSchedule(start, cadence),
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// ValidateSchedule checks that a credit's installment set is well-formed:
// the declared count, contiguous numbering from 1, and non-zero dates.
// Aggregations call this before trusting a fetched credit.
func ValidateSchedule(c *Credit) error {
	if c == nil {
		return &ValidationError{Field: "credit", Reason: "nil"}
	}
	if len(c.Installments) == 0 {
		return &ValidationError{Field: "installments", Reason: "empty schedule"}
	}
	if len(c.Installments) != c.InstallmentCount {
		return &ValidationError{
			Field:  "installments",
			Reason: fmt.Sprintf("schedule length %d does not match installment count %d", len(c.Installments), c.InstallmentCount),
		}
	}
	for i, inst := range c.Installments {
		if inst.Number != i+1 {
			return &ValidationError{Field: "installments", Reason: fmt.Sprintf("installment at index %d has number %d", i, inst.Number)}
		}
		if inst.ScheduledDate.IsZero() {
			return &ValidationError{Field: "installments", Reason: fmt.Sprintf("installment %d has no scheduled date", inst.Number)}
		}
	}
	return nil
}
