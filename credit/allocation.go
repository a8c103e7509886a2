/*
allocation.go - Payment-to-installment allocation

PURPOSE:
  The central calculation of the system: given a credit's schedule and its
  full payment history, how much has been applied to each installment and
  how much is still owed?

  Allocate is pure and total. It is recomputed from the full history on every
  read; there is no persisted running balance that can drift out of sync with
  the ledger. An edited or deleted payment needs no compensation logic - the
  next read simply allocates the new history.

ALGORITHM:
  1. Drop fine-targeted payments (they live in the fine ledger, see CoverFines)
     and order the rest by date, then insertion order.
  2. Targeted payments apply fully to their installment first, in date order.
     A target that no longer exists (deleted installment reference, out of
     range) degrades the payment to general.
  3. General payments sweep left-to-right across installments in ascending
     number: the earliest unconsumed payment fills the current installment's
     remaining balance, splits across two installments when it overfills one,
     and carries leftover forward to the next unpaid installment.
  4. applied = targeted + swept; outstanding = max(0, value - applied).
  5. Manually settled installments take no allocation and owe nothing.

  Fine coverage is an independent pass over the fine ledger: FinePayments
  reduce only their own fine, clamped at the fine's value.
*/
package credit

import "sort"

// =============================================================================
// ALLOCATION OUTPUT
// =============================================================================

// InstallmentBalance is the allocation result for one installment.
type InstallmentBalance struct {
	Number        int
	ScheduledDate Date
	Value         Money
	Applied       Money
	Outstanding   Money
	PaidManually  bool
	State         InstallmentState
}

// FineBalance is the coverage result for one fine.
type FineBalance struct {
	FineID             FineID
	RelatedInstallment *int
	Date               Date
	Motive             string
	Value              Money
	Covered            Money
	Outstanding        Money
}

// =============================================================================
// ALLOCATE - Pure allocation over the capital ledger
// =============================================================================

// Allocate computes per-installment applied and outstanding amounts.
// It assumes validated input: non-positive payment values are rejected at
// ingestion, not here.
func Allocate(schedule []Installment, installmentValue Money, payments []Payment) []InstallmentBalance {
	balances := make([]InstallmentBalance, len(schedule))
	for i, inst := range schedule {
		balances[i] = InstallmentBalance{
			Number:        inst.Number,
			ScheduledDate: inst.ScheduledDate,
			Value:         installmentValue,
			Applied:       ZeroMoney(),
			Outstanding:   installmentValue,
			PaidManually:  inst.PaidManually,
		}
		if inst.PaidManually {
			// Settled outside the ledger: owes nothing, absorbs nothing.
			balances[i].Outstanding = ZeroMoney()
		}
	}

	byNumber := make(map[int]int, len(balances))
	for i, b := range balances {
		byNumber[b.Number] = i
	}

	targeted, general := partitionPayments(payments, byNumber)

	// Pass 1: targeted payments apply fully to their installment.
	for _, p := range targeted {
		i := byNumber[*p.TargetInstallment]
		if balances[i].PaidManually {
			continue
		}
		balances[i].Applied = balances[i].Applied.Add(p.Value)
	}
	for i := range balances {
		if !balances[i].PaidManually {
			balances[i].Outstanding = balances[i].Value.Sub(balances[i].Applied).ClampZero()
		}
	}

	// Pass 2: general payments sweep ascending installments, splitting and
	// carrying leftovers forward.
	queue := make([]Money, len(general))
	for i, p := range general {
		queue[i] = p.Value
	}
	next := 0
	for i := range balances {
		if balances[i].PaidManually {
			continue
		}
		for balances[i].Outstanding.IsPositive() && next < len(queue) {
			if queue[next].IsZero() {
				next++
				continue
			}
			draw := queue[next].Min(balances[i].Outstanding)
			balances[i].Applied = balances[i].Applied.Add(draw)
			balances[i].Outstanding = balances[i].Outstanding.Sub(draw)
			queue[next] = queue[next].Sub(draw)
		}
	}

	for i := range balances {
		balances[i].State = installmentState(balances[i])
	}
	return balances
}

// partitionPayments splits capital payments into targeted and general, both
// ordered by date then insertion order. Fine-targeted payments are excluded
// entirely; a dangling installment target is treated as general.
func partitionPayments(payments []Payment, byNumber map[int]int) (targeted, general []Payment) {
	capital := make([]Payment, 0, len(payments))
	for _, p := range payments {
		if p.TargetFineID != nil {
			continue
		}
		capital = append(capital, p)
	}
	sort.SliceStable(capital, func(i, j int) bool {
		if !capital[i].Date.Equal(capital[j].Date) {
			return capital[i].Date.Before(capital[j].Date)
		}
		return capital[i].CreatedAt.Before(capital[j].CreatedAt)
	})

	for _, p := range capital {
		if p.TargetInstallment != nil {
			if _, ok := byNumber[*p.TargetInstallment]; ok {
				targeted = append(targeted, p)
				continue
			}
		}
		general = append(general, p)
	}
	return targeted, general
}

func installmentState(b InstallmentBalance) InstallmentState {
	switch {
	case b.PaidManually:
		return InstallmentPaid
	case b.Outstanding.IsZero() && b.Applied.IsPositive():
		return InstallmentPaid
	case b.Applied.IsPositive():
		return InstallmentPartial
	default:
		return InstallmentPending
	}
}

// =============================================================================
// FINE COVERAGE - Independent of capital allocation
// =============================================================================

// CoverFines computes each fine's covered and outstanding balance from its
// own payments. Coverage is clamped at the fine's value; fine ledgers never
// spill into installment capital.
func CoverFines(fines []Fine, finePayments []FinePayment) []FineBalance {
	paid := make(map[FineID]Money, len(fines))
	for _, fp := range finePayments {
		cur, ok := paid[fp.FineID]
		if !ok {
			cur = ZeroMoney()
		}
		paid[fp.FineID] = cur.Add(fp.Value)
	}

	balances := make([]FineBalance, len(fines))
	for i, f := range fines {
		covered := ZeroMoney()
		if p, ok := paid[f.ID]; ok {
			covered = p.Min(f.Value)
		}
		balances[i] = FineBalance{
			FineID:             f.ID,
			RelatedInstallment: f.RelatedInstallment,
			Date:               f.Date,
			Motive:             f.Motive,
			Value:              f.Value,
			Covered:            covered,
			Outstanding:        f.Value.Sub(covered).ClampZero(),
		}
	}
	return balances
}

// FineOutstandingByInstallment sums uncovered fine balances per related
// installment. Fines without an installment link are keyed at 0.
func FineOutstandingByInstallment(balances []FineBalance) map[int]Money {
	out := make(map[int]Money)
	for _, b := range balances {
		key := 0
		if b.RelatedInstallment != nil {
			key = *b.RelatedInstallment
		}
		cur, ok := out[key]
		if !ok {
			cur = ZeroMoney()
		}
		out[key] = cur.Add(b.Outstanding)
	}
	return out
}

// =============================================================================
// TOTALS
// =============================================================================

// TotalOutstanding sums capital outstanding across a credit's balances.
func TotalOutstanding(balances []InstallmentBalance) Money {
	total := ZeroMoney()
	for _, b := range balances {
		total = total.Add(b.Outstanding)
	}
	return total
}

// TotalFineOutstanding sums uncovered fine balances.
func TotalFineOutstanding(balances []FineBalance) Money {
	total := ZeroMoney()
	for _, b := range balances {
		total = total.Add(b.Outstanding)
	}
	return total
}
