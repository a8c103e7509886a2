/*
status.go - Credit-level state derivation

PURPOSE:
  Derives a credit's state from allocation output. States are pure
  re-derivations, never stored: the same ledger snapshot always classifies
  the same way, and the only route back from closed is a ledger edit or
  delete followed by recomputation.

STATES:
  closed   every installment owes nothing (allocated or manually settled)
  overdue  some unpaid installment's effective due date has passed and it
           still owes capital or a related fine
  current  everything else
*/
package credit

// ClassifyStatus derives the credit-level state for a real calendar date.
// fineOutstanding is keyed by related installment number (see
// FineOutstandingByInstallment); overdue considers both capital and fines
// hanging off a past-due installment.
func ClassifyStatus(c *Credit, balances []InstallmentBalance, fineOutstanding map[int]Money, deferrals *DeferralSet, today Date) Status {
	closed := true
	for _, b := range balances {
		if b.Outstanding.IsPositive() {
			closed = false
			break
		}
	}
	if closed {
		return StatusClosed
	}

	for _, b := range balances {
		due := deferrals.EffectiveDueDate(c.ID, b.Number, b.ScheduledDate)
		if !due.Before(today) {
			continue
		}
		if b.Outstanding.IsPositive() {
			return StatusOverdue
		}
		if fo, ok := fineOutstanding[b.Number]; ok && fo.IsPositive() {
			return StatusOverdue
		}
	}
	return StatusCurrent
}

// OverdueInstallments returns the numbers of installments past their
// effective due date with capital still owed, plus the earliest such date.
func OverdueInstallments(c *Credit, balances []InstallmentBalance, deferrals *DeferralSet, today Date) (numbers []int, earliest *Date) {
	for _, b := range balances {
		if !b.Outstanding.IsPositive() {
			continue
		}
		due := deferrals.EffectiveDueDate(c.ID, b.Number, b.ScheduledDate)
		if !due.Before(today) {
			continue
		}
		numbers = append(numbers, b.Number)
		if earliest == nil || due.Before(*earliest) {
			d := due
			earliest = &d
		}
	}
	return numbers, earliest
}
